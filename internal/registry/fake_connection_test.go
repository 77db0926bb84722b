package registry

import (
	"context"
	"fmt"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"

	"onegateway/internal/backend"
)

// fakeConn is a hand-rolled backend.Connection for deterministic,
// non-networked registry tests.
type fakeConn struct {
	mu sync.Mutex

	id     string
	prefix string
	state  backend.State

	connectErr error
	tools      []backend.ToolInfo
	listErr    error

	connectCalls int
}

func newFakeConn(id, prefix string, tools []backend.ToolInfo) *fakeConn {
	return &fakeConn{id: id, prefix: prefix, state: backend.StateDisconnected, tools: tools}
}

func (f *fakeConn) ID() string     { return f.id }
func (f *fakeConn) Prefix() string { return f.prefix }

func (f *fakeConn) State() backend.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeConn) ErrorMessage() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == backend.StateError && f.connectErr != nil {
		return f.connectErr.Error()
	}
	return ""
}

func (f *fakeConn) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connectCalls++
	if f.connectErr != nil {
		f.state = backend.StateError
		return f.connectErr
	}
	f.state = backend.StateConnected
	return nil
}

func (f *fakeConn) Disconnect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = backend.StateDisconnected
	return nil
}

func (f *fakeConn) ListTools(ctx context.Context) ([]backend.ToolInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.tools, nil
}

func (f *fakeConn) CallTool(ctx context.Context, originalName string, arguments map[string]any) (*mcp.CallToolResult, error) {
	return &mcp.CallToolResult{Content: []mcp.Content{mcp.NewTextContent(fmt.Sprintf("called %s", originalName))}}, nil
}

func (f *fakeConn) HealthCheck(ctx context.Context) backend.HealthResult {
	return backend.HealthResult{Ok: f.State() == backend.StateConnected}
}

func toolInfo(backendID, prefix, name string) backend.ToolInfo {
	return backend.ToolInfo{
		OriginalName:   name,
		NamespacedName: prefix + "__" + name,
		BackendID:      backendID,
		Tool:           mcp.Tool{Name: name},
	}
}
