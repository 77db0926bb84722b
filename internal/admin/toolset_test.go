package admin

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"onegateway/internal/config"
	"onegateway/internal/registry"
)

func newTestToolset(t *testing.T) *Toolset {
	t.Helper()
	path := filepath.Join(t.TempDir(), "backends.json")
	reg := registry.New(config.NewStore(path), nil)
	return New(reg)
}

func TestToolset_PrefixAndIsAdminTool(t *testing.T) {
	ts := newTestToolset(t)
	assert.Equal(t, "0ne__", ts.Prefix())
	assert.True(t, ts.IsAdminTool("0ne__discover"))
	assert.False(t, ts.IsAdminTool("a__ping"))
}

func TestToolset_ToolsAreNamespacedAndComplete(t *testing.T) {
	ts := newTestToolset(t)
	names := make(map[string]bool)
	for _, tool := range ts.Tools() {
		names[tool.Name] = true
	}
	for _, action := range []string{"discover", "health", "add", "remove", "enable", "disable", "refresh"} {
		assert.True(t, names["0ne__"+action], "missing admin tool for action %s", action)
	}
}

func TestToolset_AddThenDiscoverThenPrefixOccupied(t *testing.T) {
	ts := newTestToolset(t)
	ctx := context.Background()

	result := ts.Dispatch(ctx, "0ne__add", map[string]any{
		"id":     "b",
		"type":   "http",
		"prefix": "b",
		"url":    "http://u/b",
	})
	require.False(t, result.IsError)

	discovered := ts.Dispatch(ctx, "0ne__discover", map[string]any{})
	require.False(t, discovered.IsError)

	dup := ts.Dispatch(ctx, "0ne__add", map[string]any{
		"id":     "c",
		"type":   "http",
		"prefix": "b",
		"url":    "http://u/c",
	})
	assert.True(t, dup.IsError)
}

func TestToolset_Remove_MissingIDIsError(t *testing.T) {
	ts := newTestToolset(t)
	result := ts.Dispatch(context.Background(), "0ne__remove", map[string]any{"id": "ghost"})
	assert.True(t, result.IsError)
}

func TestToolset_Add_MissingRequiredFieldsIsError(t *testing.T) {
	ts := newTestToolset(t)
	result := ts.Dispatch(context.Background(), "0ne__add", map[string]any{"id": "x"})
	assert.True(t, result.IsError)
}

func TestToolset_UnknownAdminActionIsError(t *testing.T) {
	ts := newTestToolset(t)
	result := ts.Dispatch(context.Background(), "0ne__bogus", map[string]any{})
	assert.True(t, result.IsError)
}
