package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// State is the protocol client lifecycle state.
type State int32

const (
	StateStarting State = iota
	StateHandshaking
	StateDiscovering
	StateReady
	StateFailed
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateHandshaking:
		return "handshaking"
	case StateDiscovering:
		return "discovering"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Client is the request/response state machine for one provider process.
// It owns the process exclusively: a single background reader drains the
// provider's stdout and resolves pending calls by correlation id.
type Client struct {
	config ProviderConfig
	proc   *process

	state  atomic.Int32
	nextID atomic.Int64

	mu      sync.Mutex // guards pending
	pending map[int64]chan outcome

	writeMu sync.Mutex

	tools      []ToolSchema
	serverInfo ServerInfo

	closeOnce sync.Once
}

// outcome resolves one pending call. Exactly one of resp or err is set;
// the sender removes the pending entry before sending, so a call can never
// resolve twice.
type outcome struct {
	resp *response
	err  error
}

// NewClient validates the config and returns an unstarted client.
func NewClient(config ProviderConfig) (*Client, error) {
	if config.Name == "" {
		return nil, fmt.Errorf("provider name is required")
	}
	if strings.Contains(config.Name, ".") {
		return nil, fmt.Errorf("provider name %q must not contain a dot", config.Name)
	}
	if config.Command == "" {
		return nil, fmt.Errorf("command is required for provider %q", config.Name)
	}

	if config.HandshakeTimeout == 0 {
		config.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if config.CallTimeout == 0 {
		config.CallTimeout = DefaultCallTimeout
	}

	return &Client{
		config:  config,
		pending: make(map[int64]chan outcome),
	}, nil
}

// Start spawns the provider process, performs the initialize handshake and
// tool discovery, and leaves the client Ready. On any failure the client
// ends up Failed with its process terminated, and the error is returned for
// the Manager's summary; other providers are unaffected.
func (c *Client) Start(ctx context.Context) error {
	proc, err := startProcess(c.config)
	if err != nil {
		c.setState(StateFailed)
		return &ProviderError{Provider: c.config.Name, Err: err}
	}
	c.proc = proc

	go c.readLoop()
	go c.watchExit()

	if err := c.handshake(ctx); err != nil {
		return c.fail(fmt.Errorf("%w: %v", ErrHandshake, err))
	}

	if err := c.discoverTools(ctx); err != nil {
		return c.fail(err)
	}

	c.setState(StateReady)
	slog.Info("mcp: provider ready",
		"provider", c.config.Name,
		"server", c.serverInfo.Name,
		"tools", len(c.tools))
	return nil
}

// handshake sends initialize, awaits the acknowledgement within the
// handshake timeout, then sends the initialized notification.
func (c *Client) handshake(ctx context.Context) error {
	c.setState(StateHandshaking)

	params := initializeParams{
		ProtocolVersion: ProtocolVersion,
		ClientInfo:      clientInfo{Name: "skein", Version: "1.0.0"},
	}

	raw, err := c.roundTrip(ctx, "initialize", params, c.config.HandshakeTimeout)
	if err != nil {
		return err
	}

	var result initializeResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return fmt.Errorf("malformed initialize ack: %v", err)
	}
	c.serverInfo = result.ServerInfo

	// Fire-and-forget; some servers don't require it.
	c.writeNotification("notifications/initialized")

	return nil
}

// discoverTools lists the provider's tools and rejects duplicates within
// this provider. Cross-provider reuse is fine; the qualifier disambiguates.
func (c *Client) discoverTools(ctx context.Context) error {
	c.setState(StateDiscovering)

	raw, err := c.roundTrip(ctx, "tools/list", nil, c.config.CallTimeout)
	if err != nil {
		return fmt.Errorf("tools/list: %w", err)
	}

	var result toolsListResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return fmt.Errorf("parse tools list: %v", err)
	}

	seen := make(map[string]bool, len(result.Tools))
	tools := make([]ToolSchema, 0, len(result.Tools))
	for _, tool := range result.Tools {
		if seen[tool.Name] {
			return fmt.Errorf("%w: %s declares %q twice", ErrDuplicateTool, c.config.Name, tool.Name)
		}
		seen[tool.Name] = true
		tool.Provider = c.config.Name
		tools = append(tools, tool)
	}
	c.tools = tools

	return nil
}

// Call executes one tool on the provider. The calling goroutine suspends
// until the matching response arrives, the timeout elapses, or the process
// terminates; a timeout leaves the provider Ready and a late response for
// the same id is dropped by the reader. timeout == 0 uses the config
// default.
func (c *Client) Call(ctx context.Context, tool string, args map[string]any, timeout time.Duration) (string, error) {
	if s := c.State(); s != StateReady {
		if s == StateTerminated {
			return "", &ProviderError{Provider: c.config.Name, Err: ErrShutdown}
		}
		return "", &ProviderError{Provider: c.config.Name, Err: ErrNotReady}
	}

	if timeout == 0 {
		timeout = c.config.CallTimeout
	}

	raw, err := c.roundTrip(ctx, "tools/call", toolCallParams{Name: tool, Arguments: args}, timeout)
	if err != nil {
		return "", &ProviderError{Provider: c.config.Name, Err: err}
	}

	var result toolCallResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return "", &ProviderError{Provider: c.config.Name, Err: fmt.Errorf("parse tool result: %v", err)}
	}

	var parts []string
	for _, block := range result.Content {
		switch block.Type {
		case "text":
			parts = append(parts, block.Text)
		case "image":
			parts = append(parts, fmt.Sprintf("[image: %s]", block.MimeType))
		}
	}
	text := strings.Join(parts, "\n")

	if result.IsError {
		return "", &ProviderError{Provider: c.config.Name, Err: fmt.Errorf("tool %s: %s", tool, text)}
	}
	return text, nil
}

// roundTrip allocates a fresh correlation id, registers the pending call,
// writes the framed request, and waits for resolution.
func (c *Client) roundTrip(ctx context.Context, method string, params any, timeout time.Duration) (json.RawMessage, error) {
	id := c.nextID.Add(1)
	ch := make(chan outcome, 1)

	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()

	frame, err := encodeFrame(request{JSONRPC: "2.0", ID: id, Method: method, Params: params})
	if err != nil {
		c.discard(id)
		return nil, err
	}

	c.writeMu.Lock()
	writeErr := c.proc.write(frame)
	c.writeMu.Unlock()
	if writeErr != nil {
		c.discard(id)
		return nil, fmt.Errorf("%w: write: %v", ErrProviderCrashed, writeErr)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case out := <-ch:
		if out.err != nil {
			return nil, out.err
		}
		if out.resp.Error != nil {
			return nil, out.resp.Error
		}
		return out.resp.Result, nil
	case <-timer.C:
		c.discard(id)
		return nil, fmt.Errorf("%w after %s (method %s)", ErrCallTimeout, timeout, method)
	case <-ctx.Done():
		c.discard(id)
		return nil, ctx.Err()
	}
}

// writeNotification sends a fire-and-forget message with no correlation id.
func (c *Client) writeNotification(method string) {
	frame, err := encodeFrame(notification{JSONRPC: "2.0", Method: method})
	if err != nil {
		return
	}
	c.writeMu.Lock()
	c.proc.write(frame)
	c.writeMu.Unlock()
}

// readLoop is the single background reader: it drains the provider's stdout,
// reassembles frames from partial reads, and resolves pending calls by id.
// Malformed frames and unmatched ids are logged and dropped, never fatal.
func (c *Client) readLoop() {
	var buf []byte
	chunk := make([]byte, 4096)

	for {
		n, err := c.proc.stdout.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			for {
				frame, rest, ok := decodeFrame(buf)
				buf = rest
				if !ok {
					break
				}
				c.dispatch(frame)
			}
		}
		if err != nil {
			// EOF: the process exited; watchExit handles state.
			return
		}
	}
}

// dispatch routes one decoded frame to its pending call.
func (c *Client) dispatch(frame []byte) {
	var msg struct {
		ID     *int64          `json:"id"`
		Method string          `json:"method"`
		Result json.RawMessage `json:"result"`
		Error  *rpcError       `json:"error"`
	}
	if err := json.Unmarshal(frame, &msg); err != nil {
		slog.Warn("mcp: dropping malformed frame", "provider", c.config.Name, "error", err)
		return
	}

	// Server-initiated notifications carry a method and no id.
	if msg.ID == nil {
		slog.Debug("mcp: ignoring notification", "provider", c.config.Name, "method", msg.Method)
		return
	}

	c.mu.Lock()
	ch, ok := c.pending[*msg.ID]
	if ok {
		delete(c.pending, *msg.ID)
	}
	c.mu.Unlock()

	if !ok {
		// Late answer for a timed-out call, or an id we never issued.
		slog.Debug("mcp: dropping unmatched response", "provider", c.config.Name, "id", *msg.ID)
		return
	}

	ch <- outcome{resp: &response{ID: *msg.ID, Result: msg.Result, Error: msg.Error}}
}

// watchExit fails the client when the process dies unexpectedly, resolving
// every in-flight call with ErrProviderCrashed instead of letting it hang.
func (c *Client) watchExit() {
	<-c.proc.done

	if c.State() == StateTerminated {
		return
	}
	c.setState(StateFailed)
	c.failAllPending(ErrProviderCrashed)

	if tail := c.proc.stderrTail(); tail != "" {
		slog.Warn("mcp: provider exited", "provider", c.config.Name, "stderr", tail)
	} else {
		slog.Warn("mcp: provider exited", "provider", c.config.Name)
	}
}

// fail marks the client Failed and tears its process down.
func (c *Client) fail(err error) error {
	c.setState(StateFailed)
	c.failAllPending(err)
	if c.proc != nil {
		c.proc.terminate(DefaultShutdownGrace)
	}
	return &ProviderError{Provider: c.config.Name, Err: err}
}

// Close terminates the provider process and resolves any pending calls with
// ErrShutdown. Safe to call multiple times and concurrently with Call.
func (c *Client) Close(grace time.Duration) {
	c.closeOnce.Do(func() {
		c.setState(StateTerminated)
		c.failAllPending(ErrShutdown)
		if c.proc != nil {
			c.proc.terminate(grace)
		}
	})
}

// discard drops a pending call without resolving it (timeout or write
// failure path). A response arriving later is simply unmatched.
func (c *Client) discard(id int64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *Client) failAllPending(err error) {
	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[int64]chan outcome)
	c.mu.Unlock()

	for _, ch := range pending {
		ch <- outcome{err: err}
	}
}

func (c *Client) setState(s State) {
	c.state.Store(int32(s))
}

// State returns the current lifecycle state.
func (c *Client) State() State {
	return State(c.state.Load())
}

// Name returns the provider name.
func (c *Client) Name() string {
	return c.config.Name
}

// Tools returns the schemas discovered from this provider.
func (c *Client) Tools() []ToolSchema {
	return c.tools
}

// ServerInfo returns the identity the provider reported at handshake.
func (c *Client) ServerInfo() ServerInfo {
	return c.serverInfo
}
