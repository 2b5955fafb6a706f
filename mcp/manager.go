package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Manager is the orchestration root: it owns the provider set for a
// workflow's lifetime, populates the registry from discovery, and routes
// qualified tool calls to the owning client. Construct one per workflow;
// there is no shared global state.
type Manager struct {
	clients  map[string]*Client
	registry *Registry

	grace       time.Duration
	callTimeout time.Duration

	closed       atomic.Bool
	shutdownOnce sync.Once
}

// InitSummary reports the result of Initialize. Individual provider
// failures land here rather than aborting initialization.
type InitSummary struct {
	Ready  int
	Failed map[string]error
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithShutdownGrace sets the per-process grace period used by Shutdown.
func WithShutdownGrace(d time.Duration) ManagerOption {
	return func(m *Manager) {
		m.grace = d
	}
}

// WithCallTimeout sets the default per-call timeout.
func WithCallTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) {
		m.callTimeout = d
	}
}

// NewManager creates a manager with an empty registry.
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		clients:  make(map[string]*Client),
		registry: NewRegistry(),
		grace:    DefaultShutdownGrace,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Initialize starts every configured provider concurrently and waits for
// each to reach Ready or Failed. A provider that cannot start, shake hands,
// or discover cleanly is reported in the summary and its tools stay out of
// the registry; the rest of the providers are unaffected. Only structural
// configuration errors — duplicate provider names, invalid names — fail
// Initialize itself.
func (m *Manager) Initialize(ctx context.Context, configs []ProviderConfig) (*InitSummary, error) {
	seen := make(map[string]bool, len(configs))
	for _, cfg := range configs {
		if seen[cfg.Name] {
			return nil, fmt.Errorf("duplicate provider name %q", cfg.Name)
		}
		seen[cfg.Name] = true
	}

	// Validate every config before spawning anything: a structural error
	// must fail Initialize with zero child processes started, otherwise
	// Shutdown could never reach them.
	clients := make([]*Client, len(configs))
	for i, cfg := range configs {
		if m.callTimeout > 0 && cfg.CallTimeout == 0 {
			cfg.CallTimeout = m.callTimeout
		}
		client, err := NewClient(cfg)
		if err != nil {
			return nil, fmt.Errorf("provider %q: %w", cfg.Name, err)
		}
		clients[i] = client
	}

	summary := &InitSummary{Failed: make(map[string]error)}

	type started struct {
		name   string
		client *Client
		err    error
	}
	results := make([]started, len(configs))

	var wg sync.WaitGroup
	for i, client := range clients {
		wg.Add(1)
		go func(i int, name string, c *Client) {
			defer wg.Done()
			slog.Info("mcp: starting provider", "provider", name)
			results[i] = started{name: name, client: c, err: c.Start(ctx)}
		}(i, configs[i].Name, client)
	}
	wg.Wait()

	// Register in config order so DescribeAll is deterministic for a given
	// configuration, not dependent on startup timing.
	for _, r := range results {
		if r.err != nil {
			slog.Warn("mcp: provider failed", "provider", r.name, "error", r.err)
			summary.Failed[r.name] = r.err
			r.client.Close(m.grace)
			continue
		}
		if err := m.registry.Register(r.name, r.client.Tools()); err != nil {
			slog.Warn("mcp: provider registration failed", "provider", r.name, "error", err)
			summary.Failed[r.name] = err
			r.client.Close(m.grace)
			continue
		}
		m.clients[r.name] = r.client
		summary.Ready++
	}

	slog.Info("mcp: initialized", "ready", summary.Ready, "failed", len(summary.Failed), "tools", m.registry.Len())
	return summary, nil
}

// Call routes a qualified tool call to its provider. This is the only
// entry point agents use. It never routes to a provider that is not Ready
// and never blocks past the call timeout.
func (m *Manager) Call(ctx context.Context, qualified string, args map[string]any) (string, error) {
	if m.closed.Load() {
		return "", ErrShutdown
	}

	schema, err := m.registry.Resolve(qualified)
	if err != nil {
		return "", err
	}

	client, ok := m.clients[schema.Provider]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownTool, qualified)
	}

	slog.Debug("mcp: dispatching tool call", "tool", qualified)
	return client.Call(ctx, schema.Name, args, 0)
}

// DescribeAll returns every available tool schema in stable order, for
// injection into agent prompts.
func (m *Manager) DescribeAll() []ToolSchema {
	return m.registry.DescribeAll()
}

// Resolve looks up one qualified tool.
func (m *Manager) Resolve(qualified string) (ToolSchema, error) {
	return m.registry.Resolve(qualified)
}

// ProviderState reports the lifecycle state of one provider.
func (m *Manager) ProviderState(name string) (State, bool) {
	client, ok := m.clients[name]
	if !ok {
		return StateFailed, false
	}
	return client.State(), true
}

// Shutdown terminates every provider process, waiting up to the grace
// period for each. It is idempotent, safe to run concurrently with
// in-flight calls (they resolve with ErrShutdown), and always returns.
func (m *Manager) Shutdown() {
	m.shutdownOnce.Do(func() {
		m.closed.Store(true)
		slog.Info("mcp: shutting down providers", "count", len(m.clients))

		var wg sync.WaitGroup
		for _, client := range m.clients {
			wg.Add(1)
			go func(c *Client) {
				defer wg.Done()
				c.Close(m.grace)
			}(client)
		}
		wg.Wait()
	})
}
