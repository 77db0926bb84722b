package backend

import (
	"fmt"
	"time"

	"onegateway/internal/config"
	"onegateway/internal/metrics"
)

// Default request timeouts when the backend definition doesn't set one.
// Subprocess-backed servers get a longer budget than HTTP ones.
const (
	defaultHTTPTimeout  = 30 * time.Second
	defaultStdioTimeout = 60 * time.Second
)

// New dispatches on cfg.Type to build the right Connection. m may be nil,
// in which case the resulting backend simply skips cache-hit/miss
// instrumentation.
func New(id string, cfg config.BackendConfig, separator string, defaultTTL time.Duration, m *metrics.Collector) (Connection, error) {
	ttl := defaultTTL
	if cfg.ToolCacheTTL > 0 {
		ttl = time.Duration(cfg.ToolCacheTTL) * time.Second
	}

	switch cfg.Type {
	case "http":
		if cfg.URL == "" {
			return nil, fmt.Errorf("backend %s: 'url' is required for type http", id)
		}
		timeout := defaultHTTPTimeout
		if cfg.Timeout > 0 {
			timeout = time.Duration(cfg.Timeout) * time.Second
		}
		return NewHttpBackend(HttpDefinition{
			ID:           id,
			Prefix:       cfg.Prefix,
			Description:  cfg.Description,
			URL:          cfg.URL,
			HealthURL:    cfg.HealthURL,
			Timeout:      timeout,
			Separator:    separator,
			ToolCacheTTL: ttl,
			Metrics:      m,
		}), nil
	case "stdio":
		if cfg.Command == "" {
			return nil, fmt.Errorf("backend %s: 'command' is required for type stdio", id)
		}
		timeout := defaultStdioTimeout
		if cfg.Timeout > 0 {
			timeout = time.Duration(cfg.Timeout) * time.Second
		}
		return NewStdioBackend(StdioDefinition{
			ID:           id,
			Prefix:       cfg.Prefix,
			Description:  cfg.Description,
			Command:      cfg.Command,
			Args:         cfg.Args,
			Env:          cfg.Env,
			Timeout:      timeout,
			Separator:    separator,
			ToolCacheTTL: ttl,
			Metrics:      m,
		}), nil
	default:
		return nil, fmt.Errorf("unknown backend type %q", cfg.Type)
	}
}
