package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type rpcEnvelope struct {
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Result json.RawMessage `json:"result,omitempty"`
}

func newTestHttpBackend(t *testing.T, handler http.HandlerFunc) (*HttpBackend, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	b := NewHttpBackend(HttpDefinition{
		ID:           "svc-a",
		Prefix:       "a",
		URL:          srv.URL,
		Timeout:      2 * time.Second,
		Separator:    "__",
		ToolCacheTTL: 50 * time.Millisecond,
	})
	return b, srv
}

func TestHttpBackend_ConnectSuccess(t *testing.T) {
	b, _ := newTestHttpBackend(t, func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "initialize", req["method"])
		json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0",
			"id":      "init",
			"result":  map[string]any{"protocolVersion": "2024-11-05"},
		})
	})

	err := b.Connect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateConnected, b.State())
}

func TestHttpBackend_ConnectErrorSetsErrorState(t *testing.T) {
	b, _ := newTestHttpBackend(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0",
			"id":      "init",
			"error":   map[string]any{"code": -32000, "message": "boom"},
		})
	})

	err := b.Connect(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateError, b.State())
}

func TestHttpBackend_ListToolsNamespacesAndCaches(t *testing.T) {
	calls := 0
	b, _ := newTestHttpBackend(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0",
			"id":      "list-tools",
			"result": map[string]any{
				"tools": []map[string]any{
					{"name": "echo", "description": "echoes input", "inputSchema": map[string]any{"type": "object"}},
				},
			},
		})
	})

	tools, err := b.ListTools(context.Background())
	require.NoError(t, err)
	require.Len(t, tools, 1)
	assert.Equal(t, "a__echo", tools[0].NamespacedName)
	assert.Equal(t, "echo", tools[0].OriginalName)

	_, err = b.ListTools(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, calls, "second call within TTL should hit cache, not upstream")

	time.Sleep(60 * time.Millisecond)
	_, err = b.ListTools(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, calls, "call after TTL expiry should refresh from upstream")
}

func TestHttpBackend_CallToolUnreachableIsInBandError(t *testing.T) {
	b := NewHttpBackend(HttpDefinition{
		ID:        "svc-a",
		Prefix:    "a",
		URL:       "http://127.0.0.1:1", // nothing listens here
		Timeout:   200 * time.Millisecond,
		Separator: "__",
	})

	result, err := b.CallTool(context.Background(), "echo", map[string]any{})
	require.NoError(t, err, "transport failures are in-band, not Go errors")
	require.NotNil(t, result)
	assert.True(t, result.IsError)
}

func TestHttpBackend_HealthCheckFallsBackToListTools(t *testing.T) {
	b, _ := newTestHttpBackend(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0",
			"id":      "health",
			"result":  map[string]any{"tools": []map[string]any{}},
		})
	})

	result := b.HealthCheck(context.Background())
	assert.True(t, result.Ok)
	assert.GreaterOrEqual(t, result.LatencyMS, int64(0))
}
