package registry

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"onegateway/internal/backend"
	"onegateway/internal/config"
	"onegateway/internal/metrics"
	"onegateway/pkg/logging"
)

// Registry is the single owner of every backend connection and of the
// merged namespaced-tool-name -> (backend, original-name) index. All
// mutating operations are serialized by mu; readers take the same lock in
// RLock mode and copy out what they need before releasing it, so no
// upstream I/O ever runs while the lock is held.
type Registry struct {
	mu       sync.RWMutex
	store    *config.Store
	settings config.Settings
	metrics  *metrics.Collector

	backends map[string]*entry
	index    map[string]indexEntry
}

// New constructs an empty Registry backed by store. metrics may be nil,
// in which case observability is skipped (tests construct Registry
// without a Collector to keep fakes light).
func New(store *config.Store, m *metrics.Collector) *Registry {
	return &Registry{
		store:    store,
		settings: config.DefaultSettings(),
		metrics:  m,
		backends: make(map[string]*entry),
		index:    make(map[string]indexEntry),
	}
}

func (r *Registry) recordConnectAttempt(id string) {
	if r.metrics != nil {
		r.metrics.ConnectAttempt(id)
	}
}

func (r *Registry) recordConnectFailure(id string) {
	if r.metrics != nil {
		r.metrics.ConnectFailure(id)
	}
}

func (r *Registry) recordLazyConnect(id string) {
	if r.metrics != nil {
		r.metrics.LazyConnect(id)
	}
}

func (r *Registry) recordToolCall(tool string, isError bool, seconds float64) {
	if r.metrics != nil {
		r.metrics.ToolCall(tool, isError, seconds)
	}
}

func (r *Registry) refreshGauges() {
	if r.metrics == nil {
		return
	}
	r.metrics.SetBackendCount(len(r.backends))
	r.metrics.SetCatalogSize(len(r.index))
}

// LoadFromConfig reads the persisted config, constructs a connection per
// backend definition, and, unless lazy_connect is set, eagerly connects
// and indexes every enabled one. A backend that fails to connect is still
// registered, in state ERROR; it does not abort the load of the others.
// The returned map reports the outcome per backend id.
func (r *Registry) LoadFromConfig(ctx context.Context) (map[string]Status, error) {
	file := r.store.Load()

	r.mu.Lock()
	r.settings = file.Settings
	r.mu.Unlock()

	report := make(map[string]Status, len(file.Backends))

	ids := make([]string, 0, len(file.Backends))
	for id := range file.Backends {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		cfg := file.Backends[id]
		conn, err := backend.New(id, cfg, r.settings.Separator, time.Duration(r.settings.ToolCacheTTL)*time.Second, r.metrics)
		if err != nil {
			logging.Error("registry", err, "failed to construct backend %s", id)
			report[id] = Status{ID: id, State: backend.StateError.String(), Error: err.Error()}
			continue
		}

		r.mu.Lock()
		r.backends[id] = &entry{id: id, cfg: cfg, conn: conn}
		r.mu.Unlock()

		if r.settings.LazyConnect || !cfg.Enabled {
			report[id] = Status{ID: id, State: conn.State().String(), ToolCount: 0}
			continue
		}

		report[id] = r.connectAndIndex(ctx, conn)
	}

	r.refreshGauges()
	logging.Info("registry", "loaded %d backend(s) from %s", len(file.Backends), r.store.Path())
	return report, nil
}

// SyncFromConfig reconciles the registered backend set against what the
// config file now contains: backends missing from the file are removed,
// new ones are constructed, and a backend whose persisted definition
// changed is torn down and rebuilt, treating the update as
// disable+enable. The config file watcher invokes this on every
// debounced on-disk change. An unchanged file is a no-op and the method
// never writes the file back, so the registry's own saves cannot
// re-trigger a reload cycle.
func (r *Registry) SyncFromConfig(ctx context.Context) map[string]Status {
	file := r.store.Load()

	r.mu.Lock()
	r.settings = file.Settings
	separator := file.Settings.Separator
	ttl := time.Duration(file.Settings.ToolCacheTTL) * time.Second
	lazy := file.Settings.LazyConnect
	current := make(map[string]config.BackendConfig, len(r.backends))
	for id, e := range r.backends {
		current[id] = e.cfg
	}
	r.mu.Unlock()

	report := make(map[string]Status)

	// Prefixes held by backends that survive unchanged; additions below
	// must not collide with them or with each other.
	prefixOwner := make(map[string]string)
	for id, cfg := range current {
		if fileCfg, ok := file.Backends[id]; ok && reflect.DeepEqual(cfg, fileCfg) {
			prefixOwner[cfg.Prefix] = id
		}
	}

	removed := make([]string, 0)
	for id := range current {
		if _, ok := file.Backends[id]; !ok {
			removed = append(removed, id)
		}
	}
	sort.Strings(removed)
	for _, id := range removed {
		r.detach(ctx, id)
		report[id] = Status{ID: id, State: backend.StateDisconnected.String()}
		logging.Info("registry", "config sync removed backend %s", id)
	}

	ids := make([]string, 0, len(file.Backends))
	for id := range file.Backends {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		cfg := file.Backends[id]
		cur, registered := current[id]
		if registered && reflect.DeepEqual(cur, cfg) {
			continue
		}
		if owner, taken := prefixOwner[cfg.Prefix]; taken && owner != id {
			report[id] = Status{ID: id, State: backend.StateError.String(),
				Error: errDuplicatePrefix(cfg.Prefix, owner).Error()}
			continue
		}

		if registered {
			r.detach(ctx, id)
			logging.Info("registry", "config sync rebuilding backend %s", id)
		}

		conn, err := backend.New(id, cfg, separator, ttl, r.metrics)
		if err != nil {
			logging.Error("registry", err, "config sync failed to construct backend %s", id)
			report[id] = Status{ID: id, State: backend.StateError.String(), Error: err.Error()}
			continue
		}
		prefixOwner[cfg.Prefix] = id

		r.mu.Lock()
		r.backends[id] = &entry{id: id, cfg: cfg, conn: conn}
		r.mu.Unlock()

		if lazy || !cfg.Enabled {
			report[id] = Status{ID: id, State: conn.State().String()}
			continue
		}
		report[id] = r.connectAndIndex(ctx, conn)
	}

	r.refreshGauges()
	return report
}

// detach removes id from the backend table, disconnects it, and evicts
// its tool-map entries, without persisting. Callers that mutate durable
// state persist themselves; SyncFromConfig deliberately never does.
func (r *Registry) detach(ctx context.Context, id string) {
	r.mu.Lock()
	e, exists := r.backends[id]
	if !exists {
		r.mu.Unlock()
		return
	}
	delete(r.backends, id)
	r.mu.Unlock()

	if err := e.conn.Disconnect(ctx); err != nil {
		logging.Warn("registry", "disconnect during sync failed for %s: %v", id, err)
	}
	r.unindex(id)
}

// connectAndIndex connects conn, and on success enumerates and indexes its
// tools. It never returns a Go error; the outcome is folded into Status,
// matching the load/refresh/enable per-backend failure-isolation rule.
func (r *Registry) connectAndIndex(ctx context.Context, conn backend.Connection) Status {
	r.recordConnectAttempt(conn.ID())

	if err := conn.Connect(ctx); err != nil {
		r.recordConnectFailure(conn.ID())
		logging.Warn("registry", "connect failed for %s: %v", conn.ID(), err)
		return Status{ID: conn.ID(), State: conn.State().String(), Error: err.Error()}
	}

	tools, err := conn.ListTools(ctx)
	if err != nil {
		logging.Warn("registry", "list_tools failed for %s: %v", conn.ID(), err)
		return Status{ID: conn.ID(), State: conn.State().String(), Error: err.Error()}
	}

	r.indexTools(conn.ID(), tools)
	return Status{ID: conn.ID(), State: conn.State().String(), ToolCount: len(tools)}
}

// indexTools applies the indexing algorithm: evict every entry currently
// mapped to backendID, then insert the fresh set. This guarantees stale
// entries never survive a refresh/reconnect and that the index never
// leaks across backends. The entry's own tool snapshot is replaced at the
// same time, so ListAllTools never needs to touch the backend again.
func (r *Registry) indexTools(backendID string, tools []backend.ToolInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for name, e := range r.index {
		if e.BackendID == backendID {
			delete(r.index, name)
		}
	}
	for _, t := range tools {
		r.index[t.NamespacedName] = indexEntry{BackendID: backendID, OriginalName: t.OriginalName}
	}
	if e, ok := r.backends[backendID]; ok {
		e.tools = tools
	}
}

func (r *Registry) unindex(backendID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, e := range r.index {
		if e.BackendID == backendID {
			delete(r.index, name)
		}
	}
	if e, ok := r.backends[backendID]; ok {
		e.tools = nil
	}
}

// AddBackend validates id/prefix uniqueness before any side effect,
// constructs the backend, optionally connects and enumerates it, and
// persists the config unconditionally on success, including when the
// immediate connect attempt failed, in which case the backend stays
// registered in state ERROR and the returned Status carries the failure.
func (r *Registry) AddBackend(ctx context.Context, id string, cfg config.BackendConfig, connect bool) (Status, error) {
	r.mu.Lock()
	if _, exists := r.backends[id]; exists {
		r.mu.Unlock()
		return Status{}, errDuplicateID(id)
	}
	for otherID, e := range r.backends {
		if e.cfg.Prefix == cfg.Prefix {
			r.mu.Unlock()
			return Status{}, errDuplicatePrefix(cfg.Prefix, otherID)
		}
	}
	separator := r.settings.Separator
	ttl := time.Duration(r.settings.ToolCacheTTL) * time.Second
	r.mu.Unlock()

	conn, err := backend.New(id, cfg, separator, ttl, r.metrics)
	if err != nil {
		return Status{}, &ValidationError{Message: err.Error()}
	}

	r.mu.Lock()
	// Re-check under the write lock: another add could have raced between
	// the validation read above and this insert.
	if _, exists := r.backends[id]; exists {
		r.mu.Unlock()
		return Status{}, errDuplicateID(id)
	}
	for otherID, e := range r.backends {
		if e.cfg.Prefix == cfg.Prefix {
			r.mu.Unlock()
			return Status{}, errDuplicatePrefix(cfg.Prefix, otherID)
		}
	}
	r.backends[id] = &entry{id: id, cfg: cfg, conn: conn}
	r.mu.Unlock()

	status := Status{ID: id, State: conn.State().String()}
	if connect && cfg.Enabled {
		status = r.connectAndIndex(ctx, conn)
	}

	r.refreshGauges()
	if err := r.persist(); err != nil {
		logging.Error("registry", err, "failed to persist after adding %s", id)
	}
	logging.Audit(logging.AuditEvent{Action: "add_backend", Outcome: "success", Target: id})
	return status, nil
}

// RemoveBackend disconnects (if connected), evicts every tool-map entry it
// owns, removes it from the backend table, and persists. A missing id is
// a not-found error and leaves the registry untouched.
func (r *Registry) RemoveBackend(ctx context.Context, id string) error {
	r.mu.Lock()
	e, exists := r.backends[id]
	if !exists {
		r.mu.Unlock()
		return &NotFoundError{ID: id}
	}
	delete(r.backends, id)
	r.mu.Unlock()

	if err := e.conn.Disconnect(ctx); err != nil {
		logging.Warn("registry", "disconnect during remove failed for %s: %v", id, err)
	}
	r.unindex(id)
	r.refreshGauges()

	if err := r.persist(); err != nil {
		logging.Error("registry", err, "failed to persist after removing %s", id)
	}
	logging.Audit(logging.AuditEvent{Action: "remove_backend", Outcome: "success", Target: id})
	return nil
}

// EnableBackend flips the enabled flag on, connects, and re-indexes.
func (r *Registry) EnableBackend(ctx context.Context, id string) (Status, error) {
	r.mu.Lock()
	e, exists := r.backends[id]
	if !exists {
		r.mu.Unlock()
		return Status{}, &NotFoundError{ID: id}
	}
	e.cfg.Enabled = true
	r.mu.Unlock()

	status := r.connectAndIndex(ctx, e.conn)
	r.refreshGauges()
	if err := r.persist(); err != nil {
		logging.Error("registry", err, "failed to persist after enabling %s", id)
	}
	return status, nil
}

// DisableBackend flips the enabled flag off, disconnects, and un-indexes.
func (r *Registry) DisableBackend(ctx context.Context, id string) (Status, error) {
	r.mu.Lock()
	e, exists := r.backends[id]
	if !exists {
		r.mu.Unlock()
		return Status{}, &NotFoundError{ID: id}
	}
	e.cfg.Enabled = false
	r.mu.Unlock()

	if err := e.conn.Disconnect(ctx); err != nil {
		logging.Warn("registry", "disconnect during disable failed for %s: %v", id, err)
	}
	r.unindex(id)
	r.refreshGauges()

	if err := r.persist(); err != nil {
		logging.Error("registry", err, "failed to persist after disabling %s", id)
	}
	return Status{ID: id, State: e.conn.State().String()}, nil
}

// Refresh reconnects and re-enumerates one backend (id != nil) or every
// backend, sequentially, so one stalled backend cannot delay the others
// beyond its own timeout. Per-backend failures are collected, not
// propagated.
func (r *Registry) Refresh(ctx context.Context, id *string) (map[string]Status, error) {
	// The enabled flag is copied out under the read lock alongside the
	// connection: entry.cfg is mutated by Enable/DisableBackend under the
	// write lock, so it must not be read after the lock is released.
	type target struct {
		id      string
		conn    backend.Connection
		enabled bool
	}

	r.mu.RLock()
	var targets []target
	if id != nil {
		e, exists := r.backends[*id]
		if !exists {
			r.mu.RUnlock()
			return nil, &NotFoundError{ID: *id}
		}
		targets = []target{{id: e.id, conn: e.conn, enabled: e.cfg.Enabled}}
	} else {
		ids := make([]string, 0, len(r.backends))
		for bid := range r.backends {
			ids = append(ids, bid)
		}
		sort.Strings(ids)
		targets = make([]target, 0, len(ids))
		for _, bid := range ids {
			e := r.backends[bid]
			targets = append(targets, target{id: e.id, conn: e.conn, enabled: e.cfg.Enabled})
		}
	}
	r.mu.RUnlock()

	report := make(map[string]Status, len(targets))
	for _, t := range targets {
		if !t.enabled {
			report[t.id] = Status{ID: t.id, State: t.conn.State().String()}
			continue
		}
		// Reconnect, not merely re-list: disconnecting first drops the
		// transport and its tool cache, so the enumeration below always
		// hits the upstream.
		if err := t.conn.Disconnect(ctx); err != nil {
			logging.Warn("registry", "disconnect during refresh failed for %s: %v", t.id, err)
		}
		report[t.id] = r.connectAndIndex(ctx, t.conn)
	}

	r.refreshGauges()
	return report, nil
}

// CallTool resolves namespacedName via the tool map under the read lock,
// releases the lock, then forwards to the resolved backend, so a
// long-running upstream call never blocks catalog mutation. Resolution
// failure and lazy-reconnect failure are both folded into an in-band
// isError result rather than a Go error.
func (r *Registry) CallTool(ctx context.Context, namespacedName string, arguments map[string]any) *mcp.CallToolResult {
	start := time.Now()

	r.mu.RLock()
	target, found := r.index[namespacedName]
	var conn backend.Connection
	if found {
		if e, ok := r.backends[target.BackendID]; ok {
			conn = e.conn
		} else {
			found = false
		}
	}
	r.mu.RUnlock()

	if !found {
		r.recordToolCall(namespacedName, true, time.Since(start).Seconds())
		return &mcp.CallToolResult{
			IsError: true,
			Content: []mcp.Content{mcp.NewTextContent(fmt.Sprintf("Unknown tool: %s", namespacedName))},
		}
	}

	if conn.State() != backend.StateConnected {
		r.recordLazyConnect(conn.ID())
		status := r.connectAndIndex(ctx, conn)
		if status.Error != "" {
			r.recordToolCall(namespacedName, true, time.Since(start).Seconds())
			return &mcp.CallToolResult{
				IsError: true,
				Content: []mcp.Content{mcp.NewTextContent(fmt.Sprintf("backend '%s' unavailable: %s", conn.ID(), status.Error))},
			}
		}
	}

	result, err := conn.CallTool(ctx, target.OriginalName, arguments)
	if err != nil {
		r.recordToolCall(namespacedName, true, time.Since(start).Seconds())
		return &mcp.CallToolResult{
			IsError: true,
			Content: []mcp.Content{mcp.NewTextContent(fmt.Sprintf("backend '%s' error: %v", conn.ID(), err))},
		}
	}

	r.recordToolCall(namespacedName, result.IsError, time.Since(start).Seconds())
	return result
}

// ListAllTools is a pure snapshot of tool descriptors for every backend
// currently CONNECTED and enabled: no hidden mutation, no upstream I/O.
func (r *Registry) ListAllTools() []backend.ToolInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []backend.ToolInfo
	ids := make([]string, 0, len(r.backends))
	for id := range r.backends {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		e := r.backends[id]
		if !e.cfg.Enabled || e.conn.State() != backend.StateConnected {
			continue
		}
		out = append(out, e.tools...)
	}
	return out
}

// ListBackends returns an introspection summary of every registered
// backend, sorted by id for deterministic output.
func (r *Registry) ListBackends() []BackendSummary {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.backends))
	for id := range r.backends {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]BackendSummary, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.summaryLocked(id))
	}
	return out
}

// GetBackend returns the introspection summary for a single backend id.
func (r *Registry) GetBackend(id string) (BackendSummary, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, exists := r.backends[id]; !exists {
		return BackendSummary{}, false
	}
	return r.summaryLocked(id), true
}

// summaryLocked must be called with mu held (read or write).
func (r *Registry) summaryLocked(id string) BackendSummary {
	e := r.backends[id]
	return BackendSummary{
		ID:           id,
		Type:         e.cfg.Type,
		Prefix:       e.cfg.Prefix,
		Enabled:      e.cfg.Enabled,
		State:        e.conn.State().String(),
		Error:        e.conn.ErrorMessage(),
		Description:  e.cfg.Description,
		ToolCount:    len(e.tools),
		URL:          e.cfg.URL,
		HealthURL:    e.cfg.HealthURL,
		Command:      e.cfg.Command,
		TimeoutSecs:  e.cfg.Timeout,
		ToolCacheTTL: e.cfg.ToolCacheTTL,
	}
}

// Settings returns the gateway-wide settings currently in effect.
func (r *Registry) Settings() config.Settings {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.settings
}

// HealthCheck probes one backend (id != nil) or every backend,
// sequentially, returning each HealthResult keyed by backend id. Like
// Refresh, a single backend's probe failure never aborts the others.
func (r *Registry) HealthCheck(ctx context.Context, id *string) (map[string]backend.HealthResult, error) {
	r.mu.RLock()
	var conns []backend.Connection
	if id != nil {
		e, exists := r.backends[*id]
		if !exists {
			r.mu.RUnlock()
			return nil, &NotFoundError{ID: *id}
		}
		conns = []backend.Connection{e.conn}
	} else {
		ids := make([]string, 0, len(r.backends))
		for bid := range r.backends {
			ids = append(ids, bid)
		}
		sort.Strings(ids)
		conns = make([]backend.Connection, 0, len(ids))
		for _, bid := range ids {
			conns = append(conns, r.backends[bid].conn)
		}
	}
	r.mu.RUnlock()

	report := make(map[string]backend.HealthResult, len(conns))
	for _, conn := range conns {
		report[conn.ID()] = conn.HealthCheck(ctx)
	}
	return report, nil
}

// Shutdown disconnects every backend, logging (not propagating) errors.
func (r *Registry) Shutdown(ctx context.Context) {
	r.mu.RLock()
	conns := make([]backend.Connection, 0, len(r.backends))
	for _, e := range r.backends {
		conns = append(conns, e.conn)
	}
	r.mu.RUnlock()

	for _, conn := range conns {
		if err := conn.Disconnect(ctx); err != nil {
			logging.Warn("registry", "shutdown disconnect failed for %s: %v", conn.ID(), err)
		}
	}
}

// persist serializes the current backend set to the durable store.
// Runtime-only fields never enter config.BackendConfig, so there is
// nothing to strip here; the entry's cfg is already config-shaped.
func (r *Registry) persist() error {
	r.mu.RLock()
	file := config.File{
		Backends: make(map[string]config.BackendConfig, len(r.backends)),
		Settings: r.settings,
	}
	for id, e := range r.backends {
		file.Backends[id] = e.cfg
	}
	r.mu.RUnlock()

	return r.store.Save(file)
}
