package gateway

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"

	"onegateway/internal/admin"
	"onegateway/internal/registry"
	"onegateway/pkg/logging"
)

const protocolVersion = "2024-11-05"

// Standard JSON-RPC 2.0 error codes this handler emits.
const (
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
)

// Request is the minimal JSON-RPC 2.0 envelope this handler accepts.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response is the JSON-RPC 2.0 envelope this handler always returns.
// Exactly one of Result/Error is set, never both.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is a JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// session is a logical client interaction context keyed by an opaque id.
type session struct {
	id          string
	initialized bool
}

// Handler is the stateful JSON-RPC 2.0 front-end. One Handler serves every
// session for a single gateway process; the Registry and admin Toolset it
// wraps are the actual owners of mutable state.
type Handler struct {
	reg   *registry.Registry
	admin *admin.Toolset

	mu       sync.Mutex
	sessions map[string]*session
}

// NewHandler constructs a Handler over reg, building its own admin
// Toolset bound to the same registry.
func NewHandler(reg *registry.Registry) *Handler {
	return &Handler{
		reg:      reg,
		admin:    admin.New(reg),
		sessions: make(map[string]*session),
	}
}

// getOrCreateSession returns the session for id, auto-initializing one on
// demand if id is unknown or empty. This tolerates stateless clients
// that skip the initialize handshake. The (possibly newly generated)
// session id is carried in the returned session's id field.
func (h *Handler) getOrCreateSession(id string) *session {
	h.mu.Lock()
	defer h.mu.Unlock()

	if id != "" {
		if s, ok := h.sessions[id]; ok {
			return s
		}
	}
	if id == "" {
		id = uuid.New().String()
	}
	s := &session{id: id, initialized: true}
	h.sessions[id] = s
	return s
}

// Handle processes one JSON-RPC request for the given (possibly empty)
// transport session id, returning the response envelope and the session
// id the caller should thread back to the client.
func (h *Handler) Handle(ctx context.Context, sessionID string, body []byte) (*Response, string) {
	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		return errorResponse(nil, CodeInvalidRequest, "malformed JSON-RPC request: "+err.Error()), sessionID
	}
	if req.JSONRPC != "2.0" {
		return errorResponse(req.ID, CodeInvalidRequest, `missing or invalid "jsonrpc": "2.0"`), sessionID
	}

	sess := h.getOrCreateSession(sessionID)

	switch req.Method {
	case "initialize":
		return h.handleInitialize(req), sess.id
	case "tools/list":
		return h.handleToolsList(req), sess.id
	case "tools/call":
		return h.handleToolsCall(ctx, req), sess.id
	default:
		return errorResponse(req.ID, CodeMethodNotFound, "unknown method: "+req.Method), sess.id
	}
}

func (h *Handler) handleInitialize(req Request) *Response {
	result := map[string]any{
		"protocolVersion": protocolVersion,
		"capabilities": map[string]any{
			"tools": map[string]any{"listChanged": false},
		},
		"serverInfo": map[string]any{
			"name":    "0ne-gateway",
			"version": "1.0.0",
		},
	}
	return resultResponse(req.ID, result)
}

func (h *Handler) handleToolsList(req Request) *Response {
	tools := make([]mcp.Tool, 0, len(h.admin.Tools()))
	tools = append(tools, h.admin.Tools()...)

	for _, ti := range h.reg.ListAllTools() {
		tool := ti.Tool
		tool.Name = ti.NamespacedName
		tools = append(tools, tool)
	}

	return resultResponse(req.ID, map[string]any{"tools": tools})
}

type toolsCallParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

func (h *Handler) handleToolsCall(ctx context.Context, req Request) *Response {
	var params toolsCallParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return errorResponse(req.ID, CodeInvalidParams, "malformed params: "+err.Error())
		}
	}
	if params.Name == "" {
		return errorResponse(req.ID, CodeInvalidParams, `"name" is required`)
	}

	var result *mcp.CallToolResult
	if h.admin.IsAdminTool(params.Name) {
		result = h.admin.Dispatch(ctx, params.Name, params.Arguments)
	} else {
		result = h.reg.CallTool(ctx, params.Name, params.Arguments)
	}

	return resultResponse(req.ID, result)
}

func resultResponse(id json.RawMessage, value any) *Response {
	body, err := json.Marshal(value)
	if err != nil {
		logging.Error("gateway", err, "failed to encode result")
		return errorResponse(id, CodeInvalidParams, "failed to encode result: "+err.Error())
	}
	return &Response{JSONRPC: "2.0", ID: id, Result: body}
}

func errorResponse(id json.RawMessage, code int, message string) *Response {
	return &Response{JSONRPC: "2.0", ID: id, Error: &RPCError{Code: code, Message: message}}
}
