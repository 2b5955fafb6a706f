// Package mcp launches and manages external tool provider processes that
// speak the Model Context Protocol over stdin/stdout. Each provider is an
// owned child process; the Manager starts one protocol client per configured
// provider, merges the tools they expose into a single qualified namespace,
// and routes agent calls to the owning provider.
package mcp

import (
	"encoding/json"
	"time"
)

// ProviderConfig configures one tool provider process.
type ProviderConfig struct {
	// Name identifies the provider. It qualifies tool names as
	// "name.tool" and must not contain a dot.
	Name string

	// Command is the executable to run.
	Command string

	// Args are command-line arguments.
	Args []string

	// Env entries are merged over the inherited environment. Explicit
	// entries always win.
	Env map[string]string

	// HandshakeTimeout bounds the initialize exchange (default: 10s).
	HandshakeTimeout time.Duration

	// CallTimeout is the per-call default timeout (default: 30s).
	CallTimeout time.Duration
}

// Default timeouts for provider operations.
const (
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultCallTimeout      = 30 * time.Second
	DefaultShutdownGrace    = 2 * time.Second
)

// ToolSchema describes one tool a provider exposes.
type ToolSchema struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`

	// Provider is the owning provider name, set during discovery.
	Provider string `json:"-"`
}

// Qualified returns the provider-qualified tool name agents use.
func (s ToolSchema) Qualified() string {
	return s.Provider + "." + s.Name
}

// JSON-RPC 2.0 wire types.

type request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *rpcError) Error() string {
	return e.Message
}

type notification struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// MCP protocol types.

type initializeParams struct {
	ProtocolVersion string             `json:"protocolVersion"`
	ClientInfo      clientInfo         `json:"clientInfo"`
	Capabilities    clientCapabilities `json:"capabilities"`
}

type clientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type clientCapabilities struct{}

type initializeResult struct {
	ProtocolVersion string     `json:"protocolVersion"`
	ServerInfo      ServerInfo `json:"serverInfo"`
}

// ServerInfo identifies the provider process, as reported in its
// initialize acknowledgement.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type toolsListResult struct {
	Tools []ToolSchema `json:"tools"`
}

type toolCallParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

type toolCallResult struct {
	Content []contentBlock `json:"content"`
	IsError bool           `json:"isError,omitempty"`
}

type contentBlock struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}

// ProtocolVersion is the MCP revision this client speaks.
const ProtocolVersion = "2024-11-05"
