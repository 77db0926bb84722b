package registry

import (
	"onegateway/internal/backend"
	"onegateway/internal/config"
)

// indexEntry is the registry's tool-map value: which backend a namespaced
// tool name resolves to, and the original name to call it by there.
type indexEntry struct {
	BackendID    string
	OriginalName string
}

// entry is one registered backend: its connection (the live capability
// set) alongside the config that produced it, so persistence never needs
// to reverse-engineer a BackendConfig out of a Connection.
type entry struct {
	id    string
	cfg   config.BackendConfig
	conn  backend.Connection
	tools []backend.ToolInfo
}

// Status summarizes one backend's outcome after a registry operation that
// touched it (load/add/enable/disable/refresh), for admin-tool reporting.
type Status struct {
	ID        string `json:"id"`
	State     string `json:"state"`
	Error     string `json:"error,omitempty"`
	ToolCount int    `json:"tool_count"`
}

// BackendSummary is the introspection view returned by ListBackends and
// GetBackend: the persisted config plus the live connection state.
type BackendSummary struct {
	ID           string `json:"id"`
	Type         string `json:"type"`
	Prefix       string `json:"prefix"`
	Enabled      bool   `json:"enabled"`
	State        string `json:"state"`
	Error        string `json:"error,omitempty"`
	Description  string `json:"description,omitempty"`
	ToolCount    int    `json:"tool_count"`
	URL          string `json:"url,omitempty"`
	HealthURL    string `json:"health_url,omitempty"`
	Command      string `json:"command,omitempty"`
	TimeoutSecs  int    `json:"timeout_seconds,omitempty"`
	ToolCacheTTL int    `json:"tool_cache_ttl_seconds,omitempty"`
}
