package mcp

import (
	"os"
)

// CatalogEntry describes a well-known provider that configs can reference
// by name without spelling out the command line.
type CatalogEntry struct {
	// Name is the short name used in workflow configs (e.g. "filesystem").
	Name string

	// Description briefly explains what the provider exposes.
	Description string

	// Command is the executable to run.
	Command string

	// Args are default command-line arguments.
	Args []string

	// RequiredEnv lists environment variables the provider needs.
	RequiredEnv []string
}

// Catalog contains well-known tool providers.
var Catalog = map[string]CatalogEntry{
	"filesystem": {
		Name:        "filesystem",
		Description: "File system access (read, write, search, list)",
		Command:     "npx",
		Args:        []string{"-y", "@modelcontextprotocol/server-filesystem"},
	},
	"memory": {
		Name:        "memory",
		Description: "Persistent knowledge graph memory",
		Command:     "npx",
		Args:        []string{"-y", "@modelcontextprotocol/server-memory"},
	},
	"github": {
		Name:        "github",
		Description: "GitHub API access (repos, issues, PRs, files)",
		Command:     "npx",
		Args:        []string{"-y", "@modelcontextprotocol/server-github"},
		RequiredEnv: []string{"GITHUB_PERSONAL_ACCESS_TOKEN"},
	},
	"fetch": {
		Name:        "fetch",
		Description: "HTTP fetch for web content retrieval",
		Command:     "npx",
		Args:        []string{"-y", "@modelcontextprotocol/server-fetch"},
	},
	"brave-search": {
		Name:        "brave-search",
		Description: "Web search via Brave Search API",
		Command:     "npx",
		Args:        []string{"-y", "@modelcontextprotocol/server-brave-search"},
		RequiredEnv: []string{"BRAVE_API_KEY"},
	},
	"sqlite": {
		Name:        "sqlite",
		Description: "SQLite database access",
		Command:     "npx",
		Args:        []string{"-y", "@modelcontextprotocol/server-sqlite"},
	},
}

// LookupCatalog finds a catalog entry by name.
func LookupCatalog(name string) (CatalogEntry, bool) {
	entry, ok := Catalog[name]
	return entry, ok
}

// ToProviderConfig converts a catalog entry to a ProviderConfig, pulling
// required env vars from the environment and applying caller overrides on
// top.
func (e CatalogEntry) ToProviderConfig(overrideEnv map[string]string) ProviderConfig {
	cfg := ProviderConfig{
		Name:    e.Name,
		Command: e.Command,
		Args:    append([]string{}, e.Args...),
		Env:     make(map[string]string),
	}

	for _, key := range e.RequiredEnv {
		if val := os.Getenv(key); val != "" {
			cfg.Env[key] = val
		}
	}
	for k, v := range overrideEnv {
		cfg.Env[k] = v
	}

	return cfg
}
