package backend

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"golang.org/x/sync/singleflight"

	"onegateway/internal/metrics"
	"onegateway/pkg/logging"
)

// stdioInitTimeout bounds the subprocess spawn plus MCP handshake when the
// caller's context carries no deadline of its own.
const stdioInitTimeout = 10 * time.Second

// clientName/clientVersion identify this gateway to every backend it
// connects to during the MCP initialize handshake.
const (
	clientName    = "0ne-gateway"
	clientVersion = "1.0.0"
)

// StdioDefinition is the subset of config.BackendConfig a StdioBackend
// needs to spawn and namespace its subprocess.
type StdioDefinition struct {
	ID           string
	Prefix       string
	Description  string
	Command      string
	Args         []string
	Env          map[string]string
	Timeout      time.Duration
	Separator    string
	ToolCacheTTL time.Duration
	Metrics      *metrics.Collector
}

// StdioBackend connects to an MCP server spawned as a local subprocess,
// communicating over stdin/stdout via mark3labs/mcp-go's client package.
type StdioBackend struct {
	def StdioDefinition

	mu     sync.RWMutex
	state  State
	errMsg string
	client client.MCPClient
	guard  *resourceGuard

	toolsMu    sync.Mutex
	tools      []ToolInfo
	toolsAt    time.Time
	toolsGroup singleflight.Group
}

// NewStdioBackend constructs a StdioBackend in StateDisconnected.
func NewStdioBackend(def StdioDefinition) *StdioBackend {
	return &StdioBackend{def: def, state: StateDisconnected}
}

func (b *StdioBackend) ID() string     { return b.def.ID }
func (b *StdioBackend) Prefix() string { return b.def.Prefix }

func (b *StdioBackend) State() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

func (b *StdioBackend) ErrorMessage() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.errMsg
}

func (b *StdioBackend) setState(s State) {
	b.mu.Lock()
	b.state = s
	if s != StateError {
		b.errMsg = ""
	}
	b.mu.Unlock()
}

func (b *StdioBackend) setError(err error) {
	b.mu.Lock()
	b.state = StateError
	b.errMsg = err.Error()
	b.mu.Unlock()
}

// opContext bounds one upstream operation by the configured timeout when
// the caller's context has no deadline of its own.
func (b *StdioBackend) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, hasDeadline := ctx.Deadline(); hasDeadline || b.def.Timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, b.def.Timeout)
}

// Connect spawns the subprocess and performs the MCP initialize handshake.
func (b *StdioBackend) Connect(ctx context.Context) error {
	b.mu.Lock()
	if b.state == StateConnected {
		b.mu.Unlock()
		return nil
	}
	stale := b.guard
	b.client = nil
	b.guard = nil
	b.state = StateConnecting
	b.mu.Unlock()

	// A reconnect out of StateError may still hold the wedged subprocess
	// from the previous session; release it before spawning a new one.
	if stale != nil {
		if err := stale.Close(); err != nil {
			logging.Warn("backend.stdio", "closing stale client for %s: %v", b.def.ID, err)
		}
	}

	logging.Debug("backend.stdio", "connecting %s: %s %v", b.def.ID, b.def.Command, b.def.Args)

	var envStrings []string
	for k, v := range b.def.Env {
		envStrings = append(envStrings, fmt.Sprintf("%s=%s", k, v))
	}

	mcpClient, err := client.NewStdioMCPClient(b.def.Command, envStrings, b.def.Args...)
	if err != nil {
		b.setError(err)
		return fmt.Errorf("backend %s: failed to spawn %s: %w", b.def.ID, b.def.Command, err)
	}

	// The guard owns the subprocess from this point on: the handshake
	// failure path below and Disconnect both release it through the same
	// close-once teardown.
	guard := newResourceGuard(mcpClient)

	initCtx := ctx
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		initCtx, cancel = context.WithTimeout(ctx, stdioInitTimeout)
		defer cancel()
	}

	_, err = mcpClient.Initialize(initCtx, mcp.InitializeRequest{
		Params: struct {
			ProtocolVersion string                 `json:"protocolVersion"`
			Capabilities    mcp.ClientCapabilities `json:"capabilities"`
			ClientInfo      mcp.Implementation     `json:"clientInfo"`
		}{
			ProtocolVersion: "2024-11-05",
			ClientInfo: mcp.Implementation{
				Name:    clientName,
				Version: clientVersion,
			},
			Capabilities: mcp.ClientCapabilities{},
		},
	})
	if err != nil {
		logging.Error("backend.stdio", err, "initialize failed for %s", b.def.ID)
		if closeErr := guard.Close(); closeErr != nil {
			logging.Debug("backend.stdio", "error closing failed client for %s: %v", b.def.ID, closeErr)
		}
		b.setError(err)
		return fmt.Errorf("backend %s: initialize failed: %w", b.def.ID, err)
	}

	b.mu.Lock()
	b.client = mcpClient
	b.guard = guard
	b.state = StateConnected
	b.errMsg = ""
	b.mu.Unlock()

	b.toolsMu.Lock()
	b.tools = nil
	b.toolsAt = time.Time{}
	b.toolsMu.Unlock()

	return nil
}

// Disconnect tears down the subprocess via the resource guard.
func (b *StdioBackend) Disconnect(ctx context.Context) error {
	b.mu.Lock()
	guard := b.guard
	b.client = nil
	b.guard = nil
	b.state = StateDisconnected
	b.mu.Unlock()

	b.toolsMu.Lock()
	b.tools = nil
	b.toolsAt = time.Time{}
	b.toolsMu.Unlock()

	if guard == nil {
		return nil
	}
	return guard.Close()
}

// ListTools returns the TTL-cached, namespaced tool list, refreshing from
// the subprocess when the cache is absent or stale. Unlike CallTool it
// fails explicitly (no silent empty result) when the backend isn't
// connected.
func (b *StdioBackend) ListTools(ctx context.Context) ([]ToolInfo, error) {
	b.mu.RLock()
	cli := b.client
	connected := b.state == StateConnected
	b.mu.RUnlock()

	if !connected || cli == nil {
		return nil, fmt.Errorf("backend %s: not connected", b.def.ID)
	}

	b.toolsMu.Lock()
	if b.tools != nil && time.Since(b.toolsAt) < b.def.ToolCacheTTL {
		cached := b.tools
		b.toolsMu.Unlock()
		if b.def.Metrics != nil {
			b.def.Metrics.CacheHit(b.def.ID)
		}
		return cached, nil
	}
	b.toolsMu.Unlock()

	if b.def.Metrics != nil {
		b.def.Metrics.CacheMiss(b.def.ID)
	}

	result, err, _ := b.toolsGroup.Do("list", func() (interface{}, error) {
		opCtx, cancel := b.opContext(ctx)
		defer cancel()

		res, err := cli.ListTools(opCtx, mcp.ListToolsRequest{})
		if err != nil {
			b.setError(err)
			return nil, fmt.Errorf("backend %s: list_tools failed: %w", b.def.ID, err)
		}

		infos := make([]ToolInfo, 0, len(res.Tools))
		for _, t := range res.Tools {
			infos = append(infos, ToolInfo{
				OriginalName:   t.Name,
				NamespacedName: b.def.Prefix + b.def.Separator + t.Name,
				BackendID:      b.def.ID,
				Tool:           t,
			})
		}

		b.toolsMu.Lock()
		b.tools = infos
		b.toolsAt = time.Now()
		b.toolsMu.Unlock()

		return infos, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]ToolInfo), nil
}

// CallTool invokes originalName on the subprocess. If the backend isn't
// connected it returns an in-band error result rather than a Go error.
func (b *StdioBackend) CallTool(ctx context.Context, originalName string, arguments map[string]any) (*mcp.CallToolResult, error) {
	b.mu.RLock()
	cli := b.client
	connected := b.state == StateConnected
	b.mu.RUnlock()

	if !connected || cli == nil {
		return &mcp.CallToolResult{
			IsError: true,
			Content: []mcp.Content{mcp.NewTextContent(fmt.Sprintf("backend %s: not connected", b.def.ID))},
		}, nil
	}

	opCtx, cancel := b.opContext(ctx)
	defer cancel()

	result, err := cli.CallTool(opCtx, mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      originalName,
			Arguments: arguments,
		},
	})
	if err != nil {
		return &mcp.CallToolResult{
			IsError: true,
			Content: []mcp.Content{mcp.NewTextContent(fmt.Sprintf("backend %s: call failed: %v", b.def.ID, err))},
		}, nil
	}
	return result, nil
}

// HealthCheck uses a list_tools call as a liveness probe, never returning
// a Go error; any failure is folded into the HealthResult.
func (b *StdioBackend) HealthCheck(ctx context.Context) HealthResult {
	b.mu.RLock()
	cli := b.client
	connected := b.state == StateConnected
	b.mu.RUnlock()

	if !connected || cli == nil {
		return HealthResult{Ok: false, Error: "not connected"}
	}

	hctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	start := time.Now()
	_, err := cli.ListTools(hctx, mcp.ListToolsRequest{})
	latency := time.Since(start).Milliseconds()
	if err != nil {
		return HealthResult{Ok: false, LatencyMS: latency, Error: err.Error()}
	}
	return HealthResult{Ok: true, LatencyMS: latency}
}
