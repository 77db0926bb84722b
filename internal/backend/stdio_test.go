package backend

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStdioBackend() *StdioBackend {
	return NewStdioBackend(StdioDefinition{
		ID:           "svc-b",
		Prefix:       "b",
		Command:      "does-not-matter",
		Separator:    "__",
		ToolCacheTTL: time.Minute,
	})
}

func TestStdioBackend_InitialStateIsDisconnected(t *testing.T) {
	b := newTestStdioBackend()
	assert.Equal(t, StateDisconnected, b.State())
}

func TestStdioBackend_ListToolsFailsExplicitlyWhenNotConnected(t *testing.T) {
	b := newTestStdioBackend()
	_, err := b.ListTools(context.Background())
	require.Error(t, err)
}

func TestStdioBackend_CallToolReturnsInBandErrorWhenNotConnected(t *testing.T) {
	b := newTestStdioBackend()
	result, err := b.CallTool(context.Background(), "echo", map[string]any{})
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.True(t, result.IsError)
}

func TestStdioBackend_HealthCheckReturnsNotConnected(t *testing.T) {
	b := newTestStdioBackend()
	result := b.HealthCheck(context.Background())
	assert.False(t, result.Ok)
	assert.Equal(t, "not connected", result.Error)
}

func TestStdioBackend_DisconnectWithoutConnectIsNoop(t *testing.T) {
	b := newTestStdioBackend()
	require.NoError(t, b.Disconnect(context.Background()))
	assert.Equal(t, StateDisconnected, b.State())
}
