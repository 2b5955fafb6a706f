// Package skein runs declarative agent workflows.
//
// A workflow is described in YAML (package config): a set of agents, the
// models they use, a sequential or parallel execution shape, and the tool
// providers available to them. The Runner executes the workflow: it starts
// the tool providers as subprocesses (package mcp), builds each agent's
// prompt, generates through the configured model backend (package llm),
// executes any tool calls the model requests, and records every exchange in
// a vector memory store (package memory) so later steps can retrieve
// relevant context.
//
// Minimal usage:
//
//	spec, err := config.Load("pipeline.yaml")
//	if err != nil {
//		log.Fatal(err)
//	}
//	runner := skein.NewRunner()
//	result, err := runner.Run(ctx, spec)
package skein
