package config

import "encoding/json"

// Built-in defaults for every gateway setting; each applies only when the
// config file omits the corresponding key.
const (
	DefaultSeparator    = "__"
	DefaultLazyConnect  = true
	DefaultToolCacheTTL = 60
	DefaultLogLevel     = "info"
)

// Settings holds the gateway-wide tunables stored under the "settings" key
// of the config file.
type Settings struct {
	Separator    string `json:"separator"`
	LazyConnect  bool   `json:"lazy_connect"`
	ToolCacheTTL int    `json:"tool_cache_ttl"`
	LogLevel     string `json:"log_level"`

	// Extra preserves any settings keys this gateway doesn't recognize yet,
	// so a load-then-save round trip never silently drops them.
	Extra map[string]json.RawMessage `json:"-"`

	// present records which known keys actually appeared in the JSON this
	// value was unmarshaled from, so mergeSettingsDefaults can distinguish
	// an explicit "lazy_connect: false" from the key being absent; a
	// zero-value comparison can't tell those apart for bool/int fields.
	present map[string]bool
}

// DefaultSettings returns a Settings populated with the built-in defaults.
func DefaultSettings() Settings {
	return Settings{
		Separator:    DefaultSeparator,
		LazyConnect:  DefaultLazyConnect,
		ToolCacheTTL: DefaultToolCacheTTL,
		LogLevel:     DefaultLogLevel,
	}
}

// BackendConfig is one entry of the "backends" map. Its shape tracks the
// admin "add" tool's input schema: type-specific fields (url/health_url for
// http, command/args/env for stdio) simply go unused by the other type.
type BackendConfig struct {
	Type         string `json:"type"`
	Prefix       string `json:"prefix"`
	Enabled      bool   `json:"enabled"`
	Description  string `json:"description,omitempty"`
	Timeout      int    `json:"timeout,omitempty"`
	ToolCacheTTL int    `json:"tool_cache_ttl,omitempty"`

	// http
	URL       string `json:"url,omitempty"`
	HealthURL string `json:"health_url,omitempty"`

	// stdio
	Command string            `json:"command,omitempty"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`

	// Extra preserves unrecognized per-backend keys across a round trip.
	Extra map[string]json.RawMessage `json:"-"`
}

// File is the full persisted shape of the config file: a map of backend id
// to BackendConfig, plus the settings block.
type File struct {
	Backends map[string]BackendConfig `json:"backends"`
	Settings Settings                 `json:"settings"`

	// Extra preserves unrecognized top-level keys across a round trip.
	Extra map[string]json.RawMessage `json:"-"`
}

// Default returns the empty-backends, default-settings File used when no
// config file exists yet.
func Default() File {
	return File{
		Backends: map[string]BackendConfig{},
		Settings: DefaultSettings(),
	}
}

// Each *KnownKeys list names the json-tagged fields of its type, to
// subtract out of a raw object so whatever remains becomes that type's
// Extra side-channel.
var (
	settingsKnownKeys = []string{"separator", "lazy_connect", "tool_cache_ttl", "log_level"}
	backendKnownKeys  = []string{
		"type", "prefix", "enabled", "description", "timeout", "tool_cache_ttl",
		"url", "health_url", "command", "args", "env",
	}
	fileKnownKeys = []string{"backends", "settings"}
)

// presentKeys reports, for each of known, whether raw actually carried
// that key, used to distinguish an explicit zero value from an absent
// key when merging in defaults.
func presentKeys(raw map[string]json.RawMessage, known []string) map[string]bool {
	present := make(map[string]bool, len(known))
	for _, k := range known {
		if _, ok := raw[k]; ok {
			present[k] = true
		}
	}
	return present
}

func extractExtra(raw map[string]json.RawMessage, known []string) map[string]json.RawMessage {
	extra := make(map[string]json.RawMessage, len(raw))
	for k, v := range raw {
		extra[k] = v
	}
	for _, k := range known {
		delete(extra, k)
	}
	if len(extra) == 0 {
		return nil
	}
	return extra
}

// UnmarshalJSON decodes Settings, routing unrecognized keys into Extra.
func (s *Settings) UnmarshalJSON(data []byte) error {
	type alias Settings
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*s = Settings(a)
	s.Extra = extractExtra(raw, settingsKnownKeys)
	s.present = presentKeys(raw, settingsKnownKeys)
	return nil
}

// MarshalJSON encodes Settings with Extra's keys merged back in.
func (s Settings) MarshalJSON() ([]byte, error) {
	type alias Settings
	base, err := json.Marshal(alias(s))
	if err != nil {
		return nil, err
	}
	return mergeExtra(base, s.Extra)
}

// UnmarshalJSON decodes BackendConfig, routing unrecognized keys into
// Extra. An absent "enabled" key means enabled, not Go's bool zero value.
func (b *BackendConfig) UnmarshalJSON(data []byte) error {
	type alias BackendConfig
	a := alias{Enabled: true}
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*b = BackendConfig(a)
	b.Extra = extractExtra(raw, backendKnownKeys)
	return nil
}

// MarshalJSON encodes BackendConfig with Extra's keys merged back in.
func (b BackendConfig) MarshalJSON() ([]byte, error) {
	type alias BackendConfig
	base, err := json.Marshal(alias(b))
	if err != nil {
		return nil, err
	}
	return mergeExtra(base, b.Extra)
}

// UnmarshalJSON decodes File, routing unrecognized top-level keys into Extra.
func (f *File) UnmarshalJSON(data []byte) error {
	type alias File
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*f = File(a)
	f.Extra = extractExtra(raw, fileKnownKeys)
	return nil
}

// MarshalJSON encodes File with Extra's keys merged back in.
func (f File) MarshalJSON() ([]byte, error) {
	type alias File
	base, err := json.Marshal(alias(f))
	if err != nil {
		return nil, err
	}
	return mergeExtra(base, f.Extra)
}

// mergeExtra merges extra's keys into a marshaled JSON object without
// overwriting keys base already set.
func mergeExtra(base []byte, extra map[string]json.RawMessage) ([]byte, error) {
	if len(extra) == 0 {
		return base, nil
	}
	var merged map[string]json.RawMessage
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, err
	}
	for k, v := range extra {
		if _, exists := merged[k]; !exists {
			merged[k] = v
		}
	}
	return json.Marshal(merged)
}
