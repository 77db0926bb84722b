// Package backend defines the connection capability set that every backend
// transport (http, stdio) implements, plus the shared types the registry
// indexes against: backend state, tool info, and a status summary.
package backend

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
)

// State is a backend connection's lifecycle position.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateError
)

// String makes State satisfy fmt.Stringer, and is also the value surfaced
// in discover/health admin-tool output.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// ToolInfo is one tool a backend exposes, carrying both the name the
// backend knows it by and the namespaced name the gateway advertises.
type ToolInfo struct {
	OriginalName   string
	NamespacedName string
	BackendID      string
	Tool           mcp.Tool
}

// HealthResult is the outcome of a health_check call. It never carries an
// error return from Connection.HealthCheck itself; failures are folded
// into Ok/Error so callers (the admin "health" tool) always get a result.
type HealthResult struct {
	Ok        bool
	LatencyMS int64
	Error     string
	Extra     map[string]any
}

// Connection is the capability set every backend transport implements.
// Implementations never panic; every method returns an error (or, for
// CallTool, an in-band isError result) instead.
type Connection interface {
	// ID is the backend's configured identifier.
	ID() string
	// Prefix is the namespace prefix this backend's tools are exposed under.
	Prefix() string
	// State returns the current lifecycle state.
	State() State
	// ErrorMessage returns the failure recorded when the backend last
	// entered StateError, or "" if the last connect succeeded.
	ErrorMessage() string

	// Connect performs the transport-specific handshake. On failure the
	// backend transitions to StateError and the error is returned.
	Connect(ctx context.Context) error
	// Disconnect releases transport resources and transitions to
	// StateDisconnected. It is safe to call on an already-disconnected
	// backend.
	Disconnect(ctx context.Context) error
	// ListTools returns the backend's tools, namespaced, honoring the
	// configured TTL cache. StdioBackend returns an error if it is not
	// connected; HttpBackend holds no session and queries the upstream
	// whatever its state.
	ListTools(ctx context.Context) ([]ToolInfo, error)
	// CallTool invokes originalName with arguments. Upstream/transport
	// failures, including a backend that is not connected, are translated
	// into an in-band mcp.CallToolResult with IsError true rather than a
	// Go error. The registry folds any non-nil error return into its own
	// in-band error; the http and stdio backends always return a nil error.
	CallTool(ctx context.Context, originalName string, arguments map[string]any) (*mcp.CallToolResult, error)
	// HealthCheck probes liveness without ever returning a Go error.
	HealthCheck(ctx context.Context) HealthResult
}
