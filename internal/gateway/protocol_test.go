package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"onegateway/internal/config"
	"onegateway/internal/registry"
)

func newTestHandler(t *testing.T) *Handler {
	t.Helper()
	path := filepath.Join(t.TempDir(), "backends.json")
	return NewHandler(registry.New(config.NewStore(path), nil))
}

func TestHandler_MissingJSONRPCVersionIsInvalidRequest(t *testing.T) {
	h := newTestHandler(t)
	resp, _ := h.Handle(context.Background(), "", []byte(`{"method":"initialize"}`))
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeInvalidRequest, resp.Error.Code)
}

func TestHandler_UnknownMethodIsMethodNotFound(t *testing.T) {
	h := newTestHandler(t)
	resp, _ := h.Handle(context.Background(), "", []byte(`{"jsonrpc":"2.0","id":1,"method":"bogus"}`))
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeMethodNotFound, resp.Error.Code)
}

func TestHandler_Initialize(t *testing.T) {
	h := newTestHandler(t)
	resp, sessionID := h.Handle(context.Background(), "", []byte(`{"jsonrpc":"2.0","id":1,"method":"initialize"}`))
	require.Nil(t, resp.Error)
	require.NotEmpty(t, sessionID)

	var result map[string]any
	require.NoError(t, json.Unmarshal(resp.Result, &result))
	assert.Equal(t, protocolVersion, result["protocolVersion"])
}

func TestHandler_SessionAutoInitializesOnUnknownID(t *testing.T) {
	h := newTestHandler(t)
	_, sessionID := h.Handle(context.Background(), "some-unknown-id", []byte(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`))
	assert.Equal(t, "some-unknown-id", sessionID)
}

func TestHandler_ToolsList_IncludesAdminToolsAndBackendTools(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Method string `json:"method"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		result := map[string]any{}
		if req.Method == "tools/list" {
			result["tools"] = []map[string]any{{"name": "ping", "inputSchema": map[string]any{"type": "object"}}}
		}
		json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "result": result})
	}))
	t.Cleanup(upstream.Close)

	h := newTestHandler(t)
	_, err := h.reg.AddBackend(context.Background(), "a", config.BackendConfig{
		Type: "http", Prefix: "a", Enabled: true, URL: upstream.URL,
	}, true)
	require.NoError(t, err)

	resp, _ := h.Handle(context.Background(), "", []byte(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`))
	require.Nil(t, resp.Error)

	var result struct {
		Tools []struct {
			Name string `json:"name"`
		} `json:"tools"`
	}
	require.NoError(t, json.Unmarshal(resp.Result, &result))

	names := make(map[string]bool)
	for _, tool := range result.Tools {
		names[tool.Name] = true
	}
	assert.True(t, names["0ne__discover"])
	assert.True(t, names["0ne__refresh"])
	assert.True(t, names["a__ping"])
}

func TestHandler_ToolsCall_MissingNameIsInvalidParams(t *testing.T) {
	h := newTestHandler(t)
	resp, _ := h.Handle(context.Background(), "", []byte(`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{}}`))
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeInvalidParams, resp.Error.Code)
}

func TestHandler_ToolsCall_UnknownToolIsInBandSuccess(t *testing.T) {
	h := newTestHandler(t)
	resp, _ := h.Handle(context.Background(), "", []byte(`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"z__nope"}}`))
	require.Nil(t, resp.Error, "unknown tool is a JSON-RPC success whose payload carries isError")

	var result struct {
		IsError bool `json:"isError"`
		Content []struct {
			Text string `json:"text"`
		} `json:"content"`
	}
	require.NoError(t, json.Unmarshal(resp.Result, &result))
	assert.True(t, result.IsError)
	require.Len(t, result.Content, 1)
	assert.Equal(t, "Unknown tool: z__nope", result.Content[0].Text)
}

func TestHandler_ToolsCall_RoutesAdminPrefixToAdminDispatch(t *testing.T) {
	h := newTestHandler(t)
	resp, _ := h.Handle(context.Background(), "", []byte(`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"0ne__discover","arguments":{}}}`))
	require.Nil(t, resp.Error)

	var result struct {
		IsError bool `json:"isError"`
	}
	require.NoError(t, json.Unmarshal(resp.Result, &result))
	assert.False(t, result.IsError)
}
