package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"onegateway/pkg/logging"
)

// Store owns the on-disk config file and serializes load/save against
// concurrent registry operations that persist on every mutation.
type Store struct {
	mu   sync.Mutex
	path string
}

// NewStore returns a Store rooted at path. path is not required to exist
// yet; Load returns Default() when it doesn't.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the config file path this Store reads and writes.
func (s *Store) Path() string {
	return s.path
}

// Load reads and parses the config file, returning Default() if the file
// is absent, and merging DefaultSettings() under whatever settings were
// present. A malformed file is treated the same as an absent one: logged
// and replaced with defaults, never surfaced as an error the caller must
// handle.
func (s *Store) Load() File {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			logging.Warn("config", "failed to read config at %s: %v, using defaults", s.path, err)
		} else {
			logging.Info("config", "config not found at %s, using defaults", s.path)
		}
		return Default()
	}

	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		logging.Error("config", err, "failed to parse config at %s, using defaults", s.path)
		return Default()
	}

	if f.Backends == nil {
		f.Backends = map[string]BackendConfig{}
	}
	f.Settings = mergeSettingsDefaults(f.Settings)
	return f
}

// mergeSettingsDefaults fills in any setting key absent from loaded with
// its DefaultSettings() value: only keys actually present in the source
// JSON override the default, so an omitted "lazy_connect" (or a wholly
// absent "settings" block) leaves the documented default true in place
// rather than being clobbered by Go's bool zero value.
func mergeSettingsDefaults(loaded Settings) Settings {
	merged := DefaultSettings()
	if loaded.present["separator"] {
		merged.Separator = loaded.Separator
	}
	if loaded.present["lazy_connect"] {
		merged.LazyConnect = loaded.LazyConnect
	}
	if loaded.present["tool_cache_ttl"] {
		merged.ToolCacheTTL = loaded.ToolCacheTTL
	}
	if loaded.present["log_level"] {
		merged.LogLevel = loaded.LogLevel
	}
	merged.Extra = loaded.Extra
	return merged
}

// Save writes f to the config file as indented JSON with a trailing
// newline, creating parent directories as needed.
func (s *Store) Save(f File) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create config directory %s: %w", dir, err)
		}
	}

	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	data = append(data, '\n')

	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config to %s: %w", s.path, err)
	}

	logging.Info("config", "config saved to %s", s.path)
	return nil
}
