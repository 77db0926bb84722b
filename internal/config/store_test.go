package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "does-not-exist.json"))
	f := store.Load()

	assert.Empty(t, f.Backends)
	assert.Equal(t, DefaultSettings(), f.Settings)
}

func TestLoad_MalformedFileReturnsDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "backends.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	store := NewStore(path)
	f := store.Load()

	assert.Empty(t, f.Backends)
	assert.Equal(t, DefaultSettings(), f.Settings)
}

func TestLoad_MergesMissingSettings(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "backends.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"backends": {}, "settings": {"log_level": "debug"}}`), 0o644))

	store := NewStore(path)
	f := store.Load()

	assert.Equal(t, "debug", f.Settings.LogLevel)
	assert.Equal(t, DefaultSeparator, f.Settings.Separator)
	assert.Equal(t, DefaultToolCacheTTL, f.Settings.ToolCacheTTL)
	assert.Equal(t, DefaultLazyConnect, f.Settings.LazyConnect, "omitted lazy_connect must keep the documented default, not Go's bool zero value")
}

func TestLoad_NoSettingsBlockKeepsAllDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "backends.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"backends": {}}`), 0o644))

	store := NewStore(path)
	f := store.Load()

	assert.Equal(t, DefaultSettings().Separator, f.Settings.Separator)
	assert.Equal(t, DefaultSettings().LazyConnect, f.Settings.LazyConnect)
	assert.Equal(t, DefaultSettings().ToolCacheTTL, f.Settings.ToolCacheTTL)
	assert.Equal(t, DefaultSettings().LogLevel, f.Settings.LogLevel)
}

func TestLoad_ExplicitLazyConnectFalseIsHonored(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "backends.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"backends": {}, "settings": {"lazy_connect": false}}`), 0o644))

	store := NewStore(path)
	f := store.Load()

	assert.False(t, f.Settings.LazyConnect, "an explicit false must still override the default")
}

func TestLoad_OmittedEnabledDefaultsToTrue(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "backends.json")
	raw := `{"backends": {"svc-a": {"type": "http", "prefix": "a", "url": "http://x"}}}`
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o644))

	f := NewStore(path).Load()
	require.Contains(t, f.Backends, "svc-a")
	assert.True(t, f.Backends["svc-a"].Enabled, "a backend without an explicit enabled flag is enabled")
}

func TestSaveThenLoad_RoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "backends.json")
	store := NewStore(path)

	f := File{
		Backends: map[string]BackendConfig{
			"svc-a": {Type: "http", Prefix: "a", Enabled: true, URL: "http://localhost:9000"},
		},
		Settings: DefaultSettings(),
	}

	require.NoError(t, store.Save(f))

	reloaded := NewStore(path).Load()
	assert.Equal(t, f.Backends["svc-a"].URL, reloaded.Backends["svc-a"].URL)
	assert.Equal(t, f.Backends["svc-a"].Prefix, reloaded.Backends["svc-a"].Prefix)
	assert.True(t, reloaded.Backends["svc-a"].Enabled)
}

func TestRoundTrip_PreservesUnknownKeys(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "backends.json")
	raw := `{
		"backends": {
			"svc-a": {"type": "http", "prefix": "a", "enabled": true, "url": "http://x", "future_field": "kept"}
		},
		"settings": {"separator": "__", "lazy_connect": true, "tool_cache_ttl": 60, "log_level": "info", "future_setting": 42},
		"future_top_level": "also-kept"
	}`
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o644))

	store := NewStore(path)
	f := store.Load()
	require.NoError(t, store.Save(f))

	out, err := os.ReadFile(path)
	require.NoError(t, err)

	var roundTripped map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(out, &roundTripped))
	assert.Contains(t, string(roundTripped["future_top_level"]), "also-kept")

	var settings map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(roundTripped["settings"], &settings))
	assert.Contains(t, string(settings["future_setting"]), "42")

	var backends map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(roundTripped["backends"], &backends))
	var svcA map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(backends["svc-a"], &svcA))
	assert.Contains(t, string(svcA["future_field"]), "kept")
}
