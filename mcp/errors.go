package mcp

import "errors"

// Sentinel errors for provider and call failures. Per-provider failures are
// isolated: they fail that provider's registration or call, never the Manager.
var (
	// ErrSpawn means the provider process could not start.
	ErrSpawn = errors.New("provider process failed to start")

	// ErrHandshake means the initialize exchange timed out or returned a
	// malformed acknowledgement.
	ErrHandshake = errors.New("provider handshake failed")

	// ErrDuplicateTool means a provider declared the same tool name twice,
	// or registration collided within one provider.
	ErrDuplicateTool = errors.New("duplicate tool name")

	// ErrUnknownTool means no registered tool matches the qualified name.
	ErrUnknownTool = errors.New("unknown tool")

	// ErrCallTimeout means no response arrived within the call timeout.
	// The provider stays usable; a late response is dropped.
	ErrCallTimeout = errors.New("tool call timed out")

	// ErrProviderCrashed means the provider process exited while calls
	// were pending.
	ErrProviderCrashed = errors.New("provider process exited")

	// ErrNotReady means the provider is not in the Ready state.
	ErrNotReady = errors.New("provider not ready")

	// ErrShutdown means the manager has been shut down.
	ErrShutdown = errors.New("manager is shut down")
)

// ProviderError tags an error with the provider it came from.
type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	return "provider " + e.Provider + ": " + e.Err.Error()
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}
