package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"golang.org/x/sync/singleflight"

	"onegateway/internal/metrics"
	"onegateway/pkg/logging"
)

// connError marks a failure that occurred while dialing/sending the HTTP
// request itself, as distinct from a non-2xx status, a malformed body, or
// an in-band JSON-RPC error. Callers use it to decide between an
// "unreachable" result and a generic error result.
type connError struct{ err error }

func (e *connError) Error() string { return e.err.Error() }
func (e *connError) Unwrap() error { return e.err }

// healthCheckTimeout is the fixed timeout used for every health_check call,
// independent of the backend's configured request timeout.
const healthCheckTimeout = 5 * time.Second

// HttpDefinition is the subset of config.BackendConfig an HttpBackend needs.
type HttpDefinition struct {
	ID           string
	Prefix       string
	Description  string
	URL          string
	HealthURL    string
	Timeout      time.Duration
	Separator    string
	ToolCacheTTL time.Duration
	Metrics      *metrics.Collector
}

// jsonrpcRequest/jsonrpcResponse are the minimal envelope this backend
// speaks; it never keeps a session, opening a fresh *http.Client per call.
type jsonrpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      string          `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type jsonrpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      string          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *jsonrpcError   `json:"error,omitempty"`
}

type jsonrpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// HttpBackend connects to a remote MCP server over HTTP, sending one
// JSON-RPC 2.0 POST per operation with no persistent session.
type HttpBackend struct {
	def HttpDefinition

	mu     sync.RWMutex
	state  State
	errMsg string

	toolsMu    sync.Mutex
	tools      []ToolInfo
	toolsAt    time.Time
	toolsGroup singleflight.Group
}

// NewHttpBackend constructs an HttpBackend in StateDisconnected.
func NewHttpBackend(def HttpDefinition) *HttpBackend {
	return &HttpBackend{def: def, state: StateDisconnected}
}

func (b *HttpBackend) ID() string     { return b.def.ID }
func (b *HttpBackend) Prefix() string { return b.def.Prefix }

func (b *HttpBackend) State() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

func (b *HttpBackend) ErrorMessage() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.errMsg
}

func (b *HttpBackend) setState(s State) {
	b.mu.Lock()
	b.state = s
	if s != StateError {
		b.errMsg = ""
	}
	b.mu.Unlock()
}

func (b *HttpBackend) setError(err error) {
	b.mu.Lock()
	b.state = StateError
	b.errMsg = err.Error()
	b.mu.Unlock()
}

func (b *HttpBackend) client(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout}
}

func (b *HttpBackend) post(ctx context.Context, cli *http.Client, id, method string, params any) (*jsonrpcResponse, error) {
	var rawParams json.RawMessage
	if params != nil {
		encoded, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("encode params: %w", err)
		}
		rawParams = encoded
	}

	body, err := json.Marshal(jsonrpcRequest{
		JSONRPC: "2.0",
		ID:      id,
		Method:  method,
		Params:  rawParams,
	})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.def.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := cli.Do(req)
	if err != nil {
		return nil, &connError{err}
	}
	defer resp.Body.Close()

	// Anything outside 2xx is a failure; the client has already followed
	// redirects by the time we see the response, so a surviving 3xx is as
	// unexpected as a 5xx.
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, b.def.URL)
	}

	var decoded jsonrpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if decoded.Error != nil {
		return nil, fmt.Errorf("%s", decoded.Error.Message)
	}
	return &decoded, nil
}

// Connect performs an "initialize" JSON-RPC call over a fresh client.
// Calling Connect on an already-connected backend is a no-op success.
func (b *HttpBackend) Connect(ctx context.Context) error {
	b.mu.Lock()
	if b.state == StateConnected {
		b.mu.Unlock()
		return nil
	}
	b.state = StateConnecting
	b.mu.Unlock()

	cli := b.client(b.def.Timeout)
	_, err := b.post(ctx, cli, "init", "initialize", struct {
		ProtocolVersion string                 `json:"protocolVersion"`
		Capabilities    mcp.ClientCapabilities `json:"capabilities"`
		ClientInfo      mcp.Implementation     `json:"clientInfo"`
	}{
		ProtocolVersion: "2024-11-05",
		ClientInfo:      mcp.Implementation{Name: clientName, Version: clientVersion},
		Capabilities:    mcp.ClientCapabilities{},
	})
	if err != nil {
		b.setError(err)
		logging.Error("backend.http", err, "failed to connect %s at %s", b.def.ID, b.def.URL)
		return fmt.Errorf("backend %s: connect failed: %w", b.def.ID, err)
	}

	b.setState(StateConnected)
	logging.Info("backend.http", "connected %s at %s", b.def.ID, b.def.URL)
	return nil
}

// Disconnect is a no-op beyond resetting local state: HttpBackend holds no
// persistent connection to tear down.
func (b *HttpBackend) Disconnect(ctx context.Context) error {
	b.setState(StateDisconnected)
	b.toolsMu.Lock()
	b.tools = nil
	b.toolsAt = time.Time{}
	b.toolsMu.Unlock()
	return nil
}

// ListTools fetches tools/list, honoring the TTL cache and collapsing
// concurrent refreshes via singleflight.
func (b *HttpBackend) ListTools(ctx context.Context) ([]ToolInfo, error) {
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
		cli := b.client(b.def.Timeout)
		resp, err := b.post(ctx, cli, "list-tools", "tools/list", map[string]any{})
		if err != nil {
			b.setError(err)
			return nil, fmt.Errorf("backend %s: list_tools failed: %w", b.def.ID, err)
		}

		var listResult mcp.ListToolsResult
		if len(resp.Result) > 0 {
			if err := json.Unmarshal(resp.Result, &listResult); err != nil {
				return nil, fmt.Errorf("backend %s: malformed tools/list result: %w", b.def.ID, err)
			}
		}

		infos := make([]ToolInfo, 0, len(listResult.Tools))
		for _, t := range listResult.Tools {
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

// CallTool invokes tools/call. Connection failures and in-band JSON-RPC
// errors alike are folded into an IsError result rather than a Go error.
func (b *HttpBackend) CallTool(ctx context.Context, originalName string, arguments map[string]any) (*mcp.CallToolResult, error) {
	cli := b.client(b.def.Timeout)
	resp, err := b.post(ctx, cli, "call-"+originalName, "tools/call", mcp.CallToolParams{
		Name:      originalName,
		Arguments: arguments,
	})
	if err != nil {
		if isConnErr(err) {
			b.setError(err)
			return &mcp.CallToolResult{
				IsError: true,
				Content: []mcp.Content{mcp.NewTextContent(fmt.Sprintf("backend '%s' unreachable at %s", b.def.ID, b.def.URL))},
			}, nil
		}
		return &mcp.CallToolResult{
			IsError: true,
			Content: []mcp.Content{mcp.NewTextContent(fmt.Sprintf("backend '%s' error: %v", b.def.ID, err))},
		}, nil
	}

	if len(resp.Result) == 0 {
		return &mcp.CallToolResult{Content: []mcp.Content{}, IsError: false}, nil
	}

	var result mcp.CallToolResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return &mcp.CallToolResult{
			IsError: true,
			Content: []mcp.Content{mcp.NewTextContent(fmt.Sprintf("backend '%s' returned malformed result: %v", b.def.ID, err))},
		}, nil
	}
	return &result, nil
}

// HealthCheck probes health_url if configured, else falls back to
// tools/list as a liveness probe. It never returns a Go error.
func (b *HttpBackend) HealthCheck(ctx context.Context) HealthResult {
	start := time.Now()
	cli := b.client(healthCheckTimeout)

	if b.def.HealthURL != "" {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.def.HealthURL, nil)
		if err != nil {
			return HealthResult{Ok: false, Error: err.Error()}
		}
		resp, err := cli.Do(req)
		if err != nil {
			return HealthResult{Ok: false, LatencyMS: time.Since(start).Milliseconds(), Error: err.Error()}
		}
		defer resp.Body.Close()

		latency := time.Since(start).Milliseconds()
		if resp.StatusCode >= 400 {
			return HealthResult{Ok: false, LatencyMS: latency, Error: fmt.Sprintf("status %d", resp.StatusCode)}
		}

		var extra map[string]any
		_ = json.NewDecoder(resp.Body).Decode(&extra)
		return HealthResult{Ok: true, LatencyMS: latency, Extra: extra}
	}

	_, err := b.post(ctx, cli, "health", "tools/list", map[string]any{})
	latency := time.Since(start).Milliseconds()
	if err != nil {
		return HealthResult{Ok: false, LatencyMS: latency, Error: err.Error()}
	}
	return HealthResult{Ok: true, LatencyMS: latency}
}

// isConnErr reports whether err is a transport-level connection failure,
// as opposed to an in-band JSON-RPC error or a non-2xx status.
func isConnErr(err error) bool {
	var ce *connError
	return errors.As(err, &ce)
}
