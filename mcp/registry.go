package mcp

import (
	"fmt"
	"strings"
	"sync"
)

// Registry merges per-provider tool schemas into one qualified namespace.
// Writes happen only during Manager.Initialize, before any call is routed;
// steady-state access is read-only.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]ToolSchema
	order []string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]ToolSchema)}
}

// Register inserts a provider's schemas under "provider.tool" keys. A
// collision within the same provider is ErrDuplicateTool; the same tool name
// under two providers is fine because the qualifier keeps them distinct.
// Registration is all-or-nothing: on error the registry is unchanged, so a
// rejected provider never leaves stray entries behind.
func (r *Registry) Register(provider string, schemas []ToolSchema) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, len(schemas))
	batch := make(map[string]bool, len(schemas))
	for i, schema := range schemas {
		schema.Provider = provider
		name := schema.Qualified()
		if batch[name] {
			return fmt.Errorf("%w: %s", ErrDuplicateTool, name)
		}
		if _, exists := r.tools[name]; exists {
			return fmt.Errorf("%w: %s", ErrDuplicateTool, name)
		}
		batch[name] = true
		names[i] = name
	}

	for i, schema := range schemas {
		schema.Provider = provider
		r.tools[names[i]] = schema
		r.order = append(r.order, names[i])
	}
	return nil
}

// Resolve looks up a qualified tool name.
func (r *Registry) Resolve(qualified string) (ToolSchema, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	schema, ok := r.tools[qualified]
	if !ok {
		return ToolSchema{}, fmt.Errorf("%w: %s", ErrUnknownTool, qualified)
	}
	return schema, nil
}

// DescribeAll returns every registered schema in registration order. The
// ordering is stable across calls so upstream prompt construction can cache
// on it.
func (r *Registry) DescribeAll() []ToolSchema {
	r.mu.RLock()
	defer r.mu.RUnlock()

	schemas := make([]ToolSchema, 0, len(r.order))
	for _, name := range r.order {
		schemas = append(schemas, r.tools[name])
	}
	return schemas
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// SplitQualified splits "provider.tool" at the first dot. Provider names
// never contain dots; tool names may.
func SplitQualified(qualified string) (provider, tool string, err error) {
	provider, tool, ok := strings.Cut(qualified, ".")
	if !ok || provider == "" || tool == "" {
		return "", "", fmt.Errorf("%w: %q is not a provider-qualified name", ErrUnknownTool, qualified)
	}
	return provider, tool, nil
}
