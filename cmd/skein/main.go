// Package main provides the skein CLI.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/skeinworks/skein"
	"github.com/skeinworks/skein/config"
	"github.com/skeinworks/skein/mcp"
	"github.com/skeinworks/skein/memory"
)

var version = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "run":
		runCmd(args)
	case "validate":
		validateCmd(args)
	case "tools":
		toolsCmd(args)
	case "version":
		fmt.Printf("skein %s\n", version)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`Skein - declarative agent workflows

Usage:
  skein <command> [options]

Commands:
  run       Run a workflow from a YAML file
  validate  Validate a workflow file
  tools     Start the file's tool providers and list discovered tools
  version   Print version information
  help      Show this help message

Examples:
  skein run pipeline.yaml
  skein validate pipeline.yaml
  skein tools pipeline.yaml

Run 'skein <command> --help' for more information on a command.`)
}

func setupLogging(verbose bool) {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

// runCmd executes a workflow file.
func runCmd(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	memPath := fs.String("memory", "", "Path to the memory database (default: in-memory)")
	timeout := fs.Duration("timeout", 30*time.Minute, "Maximum execution time")
	output := fs.String("output", "text", "Output format: json or text")
	verbose := fs.Bool("verbose", false, "Enable verbose output")

	fs.Usage = func() {
		fmt.Println(`Usage: skein run <file.yaml> [options]

Run a workflow from a YAML file.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Error: no workflow file specified")
		fs.Usage()
		os.Exit(1)
	}
	setupLogging(*verbose)

	spec, err := config.Load(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing %s: %v\n", fs.Arg(0), err)
		os.Exit(1)
	}

	path := *memPath
	if path == "" {
		path = ":memory:"
	}
	store, err := memory.Open(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening memory store: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	runner := skein.NewRunner(skein.WithMemory(store))
	result, err := runner.Run(ctx, spec)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error running workflow: %v\n", err)
		os.Exit(1)
	}

	if *output == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		enc.Encode(result)
		return
	}

	fmt.Printf("Run %s complete\n", result.RunID)
	for _, id := range result.Order {
		fmt.Printf("\n=== %s ===\n%s\n", id, result.Outputs[id])
	}
}

// validateCmd parses a workflow file and reports problems.
func validateCmd(args []string) {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Error: no workflow file specified")
		os.Exit(1)
	}

	spec, err := config.Load(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Valid: %d agents, %s workflow, %d tool providers\n",
		len(spec.Agents), spec.Workflow.Type, len(spec.Providers))
	for _, a := range spec.Agents {
		fmt.Printf("  agent %s (%s, model %s)\n", a.ID, a.Role, a.Model)
	}
}

// toolsCmd starts the file's providers and lists every discovered tool.
func toolsCmd(args []string) {
	fs := flag.NewFlagSet("tools", flag.ExitOnError)
	verbose := fs.Bool("verbose", false, "Enable verbose output")
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Error: no workflow file specified")
		os.Exit(1)
	}
	setupLogging(*verbose)

	spec, err := config.Load(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing %s: %v\n", fs.Arg(0), err)
		os.Exit(1)
	}
	if len(spec.Providers) == 0 {
		fmt.Println("No tool providers configured")
		return
	}

	manager := mcp.NewManager()
	defer manager.Shutdown()

	summary, err := manager.Initialize(context.Background(), spec.Providers)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("%d provider(s) ready, %d failed\n", summary.Ready, len(summary.Failed))
	for name, ferr := range summary.Failed {
		fmt.Printf("  FAILED %s: %v\n", name, ferr)
	}
	for _, tool := range manager.DescribeAll() {
		fmt.Printf("  %s: %s\n", tool.Qualified(), tool.Description)
	}
}
