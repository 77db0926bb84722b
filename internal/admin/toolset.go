package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"onegateway/internal/config"
	"onegateway/internal/registry"
)

// ReservedName is the admin namespace segment; combined with the
// gateway's configured separator it forms the prefix every admin tool
// name begins with (default "0ne__").
const ReservedName = "0ne"

// Toolset dispatches the seven admin tools against a Registry. It is
// constructed once per gateway and is safe for concurrent use; all
// actual mutation is serialized inside the Registry itself.
type Toolset struct {
	reg *registry.Registry
}

// New constructs a Toolset bound to reg.
func New(reg *registry.Registry) *Toolset {
	return &Toolset{reg: reg}
}

// Prefix returns the full reserved prefix (e.g. "0ne__"), reflecting the
// registry's currently configured separator.
func (t *Toolset) Prefix() string {
	return ReservedName + t.reg.Settings().Separator
}

// IsAdminTool reports whether name begins with the reserved prefix. The
// gateway protocol routes any such name here and never to a backend, even
// if a backend somehow reuses the prefix: defense in depth on top of the
// prefix-uniqueness validation in AddBackend.
func (t *Toolset) IsAdminTool(name string) bool {
	return strings.HasPrefix(name, ReservedName+t.reg.Settings().Separator)
}

// action strips the reserved prefix, returning the trailing action name
// ("discover", "health", "add", ...).
func (t *Toolset) action(name string) string {
	return strings.TrimPrefix(name, t.Prefix())
}

// Tools returns the seven admin tool descriptors, namespaced under the
// current prefix, for inclusion in tools/list.
func (t *Toolset) Tools() []mcp.Tool {
	prefix := t.Prefix()
	return []mcp.Tool{
		{
			Name:        prefix + "discover",
			Description: "List every registered backend and its current state.",
			InputSchema: mcp.ToolInputSchema{Type: "object", Properties: map[string]any{}},
		},
		{
			Name:        prefix + "health",
			Description: "Probe liveness of one backend, or every backend if id is omitted.",
			InputSchema: mcp.ToolInputSchema{
				Type:       "object",
				Properties: map[string]any{"id": map[string]any{"type": "string"}},
			},
		},
		{
			Name:        prefix + "add",
			Description: "Register a new backend and persist it to the config file.",
			InputSchema: mcp.ToolInputSchema{
				Type: "object",
				Properties: map[string]any{
					"id":             map[string]any{"type": "string"},
					"type":           map[string]any{"type": "string", "enum": []string{"http", "stdio"}},
					"prefix":         map[string]any{"type": "string"},
					"enabled":        map[string]any{"type": "boolean"},
					"description":    map[string]any{"type": "string"},
					"timeout":        map[string]any{"type": "number"},
					"tool_cache_ttl": map[string]any{"type": "number"},
					"url":            map[string]any{"type": "string"},
					"health_url":     map[string]any{"type": "string"},
					"command":        map[string]any{"type": "string"},
					"args":           map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
					"env":            map[string]any{"type": "object"},
				},
				Required: []string{"id", "type", "prefix"},
			},
		},
		{
			Name:        prefix + "remove",
			Description: "Disconnect and remove a backend, persisting the change.",
			InputSchema: mcp.ToolInputSchema{
				Type:       "object",
				Properties: map[string]any{"id": map[string]any{"type": "string"}},
				Required:   []string{"id"},
			},
		},
		{
			Name:        prefix + "enable",
			Description: "Enable a disabled backend: connects it and indexes its tools.",
			InputSchema: mcp.ToolInputSchema{
				Type:       "object",
				Properties: map[string]any{"id": map[string]any{"type": "string"}},
				Required:   []string{"id"},
			},
		},
		{
			Name:        prefix + "disable",
			Description: "Disable a backend: disconnects it and removes its tools from the catalog.",
			InputSchema: mcp.ToolInputSchema{
				Type:       "object",
				Properties: map[string]any{"id": map[string]any{"type": "string"}},
				Required:   []string{"id"},
			},
		},
		{
			Name:        prefix + "refresh",
			Description: "Reconnect and re-enumerate one backend, or every backend if id is omitted.",
			InputSchema: mcp.ToolInputSchema{
				Type:       "object",
				Properties: map[string]any{"id": map[string]any{"type": "string"}},
			},
		},
	}
}

// Dispatch routes name (already confirmed to carry the reserved prefix)
// to its handler. It never returns a Go error: every outcome, success or
// failure, becomes a standard {content, isError} result.
func (t *Toolset) Dispatch(ctx context.Context, name string, arguments map[string]any) *mcp.CallToolResult {
	switch t.action(name) {
	case "discover":
		return t.discover()
	case "health":
		return t.health(ctx, arguments)
	case "add":
		return t.add(ctx, arguments)
	case "remove":
		return t.remove(ctx, arguments)
	case "enable":
		return t.enable(ctx, arguments)
	case "disable":
		return t.disable(ctx, arguments)
	case "refresh":
		return t.refresh(ctx, arguments)
	default:
		return errorResult(fmt.Errorf("unknown admin action: %s", name))
	}
}

func (t *Toolset) discover() *mcp.CallToolResult {
	return jsonResult(t.reg.ListBackends(), nil)
}

func (t *Toolset) health(ctx context.Context, arguments map[string]any) *mcp.CallToolResult {
	id := optionalString(arguments, "id")
	result, err := t.reg.HealthCheck(ctx, id)
	return jsonResult(result, err)
}

func (t *Toolset) add(ctx context.Context, arguments map[string]any) *mcp.CallToolResult {
	id, ok := arguments["id"].(string)
	if !ok || id == "" {
		return errorResult(fmt.Errorf("'id' is required"))
	}

	cfg := config.BackendConfig{
		Type:         stringArg(arguments, "type"),
		Prefix:       stringArg(arguments, "prefix"),
		Enabled:      boolArgDefault(arguments, "enabled", true),
		Description:  stringArg(arguments, "description"),
		Timeout:      intArg(arguments, "timeout"),
		ToolCacheTTL: intArg(arguments, "tool_cache_ttl"),
		URL:          stringArg(arguments, "url"),
		HealthURL:    stringArg(arguments, "health_url"),
		Command:      stringArg(arguments, "command"),
		Args:         stringSliceArg(arguments, "args"),
		Env:          stringMapArg(arguments, "env"),
	}
	if cfg.Type == "" || cfg.Prefix == "" {
		return errorResult(fmt.Errorf("'type' and 'prefix' are required"))
	}

	status, err := t.reg.AddBackend(ctx, id, cfg, true)
	return jsonResult(status, err)
}

func (t *Toolset) remove(ctx context.Context, arguments map[string]any) *mcp.CallToolResult {
	id, ok := arguments["id"].(string)
	if !ok || id == "" {
		return errorResult(fmt.Errorf("'id' is required"))
	}
	err := t.reg.RemoveBackend(ctx, id)
	return jsonResult(map[string]string{"id": id, "status": "removed"}, err)
}

func (t *Toolset) enable(ctx context.Context, arguments map[string]any) *mcp.CallToolResult {
	id, ok := arguments["id"].(string)
	if !ok || id == "" {
		return errorResult(fmt.Errorf("'id' is required"))
	}
	status, err := t.reg.EnableBackend(ctx, id)
	return jsonResult(status, err)
}

func (t *Toolset) disable(ctx context.Context, arguments map[string]any) *mcp.CallToolResult {
	id, ok := arguments["id"].(string)
	if !ok || id == "" {
		return errorResult(fmt.Errorf("'id' is required"))
	}
	status, err := t.reg.DisableBackend(ctx, id)
	return jsonResult(status, err)
}

func (t *Toolset) refresh(ctx context.Context, arguments map[string]any) *mcp.CallToolResult {
	id := optionalString(arguments, "id")
	result, err := t.reg.Refresh(ctx, id)
	return jsonResult(result, err)
}

// jsonResult pretty-prints value as the sole text content block. A
// non-nil err produces an isError result whose text is the error message
// instead, per the admin-handler error-handling rule.
func jsonResult(value any, err error) *mcp.CallToolResult {
	if err != nil {
		return errorResult(err)
	}
	body, marshalErr := json.MarshalIndent(value, "", "  ")
	if marshalErr != nil {
		return errorResult(marshalErr)
	}
	return &mcp.CallToolResult{Content: []mcp.Content{mcp.NewTextContent(string(body))}}
}

func errorResult(err error) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{mcp.NewTextContent(err.Error())},
	}
}

func stringArg(arguments map[string]any, key string) string {
	s, _ := arguments[key].(string)
	return s
}

func optionalString(arguments map[string]any, key string) *string {
	s, ok := arguments[key].(string)
	if !ok || s == "" {
		return nil
	}
	return &s
}

func boolArgDefault(arguments map[string]any, key string, def bool) bool {
	if v, ok := arguments[key].(bool); ok {
		return v
	}
	return def
}

func intArg(arguments map[string]any, key string) int {
	switch v := arguments[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case string:
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return 0
}

func stringSliceArg(arguments map[string]any, key string) []string {
	raw, ok := arguments[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func stringMapArg(arguments map[string]any, key string) map[string]string {
	raw, ok := arguments[key].(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}
