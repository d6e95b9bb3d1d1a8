// Package contextmanager owns execution-context lifecycle: creation,
// variable storage, history, expiry, and the persistence round-trip.
package contextmanager

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/voyagent/voyagent/pkg/models"
	"github.com/voyagent/voyagent/pkg/persistence"
)

const (
	DefaultTTL        = 30 * time.Minute
	DefaultHistoryCap = 100
	DefaultStorageKey = "voyagent:contexts"

	defaultSweepSchedule = "@every 5m"
)

// Config controls context lifetimes and durability.
type Config struct {
	TTL           time.Duration
	HistoryCap    int
	StorageKey    string
	SweepSchedule string // cron spec, e.g. "@every 5m"
}

func (c *Config) applyDefaults() {
	if c.TTL <= 0 {
		c.TTL = DefaultTTL
	}

	if c.HistoryCap <= 0 {
		c.HistoryCap = DefaultHistoryCap
	}

	if c.StorageKey == "" {
		c.StorageKey = DefaultStorageKey
	}

	if c.SweepSchedule == "" {
		c.SweepSchedule = defaultSweepSchedule
	}
}

// snapshot is the durable representation of the manager's state.
type snapshot struct {
	Contexts        map[string]*models.ExecutionContext `json:"contexts"`
	GlobalVariables map[string]any                      `json:"global_variables,omitempty"`
	GlobalHistory   []models.HistoryEntry               `json:"global_history,omitempty"`
}

// Manager tracks live execution contexts in memory and mirrors them to the
// durable store on every mutation. It stays usable in memory even when the
// store is unreachable.
type Manager struct {
	cfg    Config
	store  persistence.Store
	logger *slog.Logger
	cron   *cron.Cron

	mu            sync.Mutex
	contexts      map[string]*models.ExecutionContext
	globalVars    map[string]any
	globalHistory []models.HistoryEntry
}

// NewManager creates a manager and restores previously persisted state,
// skipping any context whose TTL has already elapsed.
func NewManager(ctx context.Context, store persistence.Store, logger *slog.Logger, cfg Config) *Manager {
	cfg.applyDefaults()

	m := &Manager{
		cfg:        cfg,
		store:      store,
		logger:     logger.With("module", "contextmanager"),
		contexts:   make(map[string]*models.ExecutionContext),
		globalVars: make(map[string]any),
	}

	m.restore(ctx)

	return m
}

// StartSweeper schedules the periodic eviction of expired contexts.
func (m *Manager) StartSweeper() error {
	if m.cron != nil {
		return nil
	}

	c := cron.New()

	_, err := c.AddFunc(m.cfg.SweepSchedule, func() {
		m.Sweep(context.Background())
	})
	if err != nil {
		return err
	}

	c.Start()
	m.cron = c

	return nil
}

// Stop halts the sweeper.
func (m *Manager) Stop() {
	if m.cron != nil {
		m.cron.Stop()
		m.cron = nil
	}
}

// CreateOptions carries the optional fields of a new context.
type CreateOptions struct {
	SurfaceRef string
	CurrentURL string
}

// CreateContext allocates a new context with empty variables and history and
// persists it.
func (m *Manager) CreateContext(ctx context.Context, userID string, opts CreateOptions) *models.ExecutionContext {
	now := time.Now().UTC()

	ectx := &models.ExecutionContext{
		ID:         "ctx-" + uuid.New().String(),
		UserID:     userID,
		SurfaceRef: opts.SurfaceRef,
		CurrentURL: opts.CurrentURL,
		Status:     models.ContextStatusPending,
		Variables:  make(map[string]any),
		CreatedAt:  now,
		ExpiresAt:  now.Add(m.cfg.TTL),
	}

	m.mu.Lock()
	m.contexts[ectx.ID] = ectx
	m.persistLocked(ctx)
	m.mu.Unlock()

	m.logger.InfoContext(ctx, "Created execution context",
		"context_id", ectx.ID, "user_id", userID)

	return cloneContext(ectx)
}

// GetContext returns the context unless its TTL has elapsed, in which case
// it is evicted and nil is returned.
func (m *Manager) GetContext(ctx context.Context, id string) (*models.ExecutionContext, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ectx, ok := m.contexts[id]
	if !ok {
		return nil, false
	}

	if ectx.Expired(time.Now().UTC()) {
		delete(m.contexts, id)
		m.persistLocked(ctx)

		m.logger.InfoContext(ctx, "Evicted expired context", "context_id", id)

		return nil, false
	}

	return cloneContext(ectx), true
}

// Update carries the fields of a partial context update. Nil fields are left
// unchanged.
type Update struct {
	Status        *models.ContextStatus
	SurfaceRef    *string
	CurrentURL    *string
	KnownElements []string
}

// UpdateContext merges the update into the context. Returns false on a
// missing or expired context.
func (m *Manager) UpdateContext(ctx context.Context, id string, update Update) (*models.ExecutionContext, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ectx, ok := m.liveLocked(ctx, id)
	if !ok {
		return nil, false
	}

	if update.Status != nil {
		ectx.Status = *update.Status
	}

	if update.SurfaceRef != nil {
		ectx.SurfaceRef = *update.SurfaceRef
	}

	if update.CurrentURL != nil {
		ectx.CurrentURL = *update.CurrentURL
	}

	if update.KnownElements != nil {
		ectx.KnownElements = append([]string(nil), update.KnownElements...)
	}

	m.persistLocked(ctx)

	return cloneContext(ectx), true
}

// AddCommandToHistory appends the command to the context-scoped history and
// to the global history ring. Both are capped; the oldest entry drops first.
func (m *Manager) AddCommandToHistory(ctx context.Context, id string, command models.StructuredCommand) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	ectx, ok := m.liveLocked(ctx, id)
	if !ok {
		return false
	}

	entry := models.HistoryEntry{
		Command:    command,
		ExecutedAt: time.Now().UTC(),
	}

	ectx.History = appendCapped(ectx.History, entry, m.cfg.HistoryCap)
	m.globalHistory = appendCapped(m.globalHistory, entry, m.cfg.HistoryCap)

	m.persistLocked(ctx)

	return true
}

// SetVariable stores a session-scoped variable on the context.
func (m *Manager) SetVariable(ctx context.Context, id, key string, value any) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	ectx, ok := m.liveLocked(ctx, id)
	if !ok {
		return false
	}

	if ectx.Variables == nil {
		ectx.Variables = make(map[string]any)
	}

	ectx.Variables[key] = value
	m.persistLocked(ctx)

	return true
}

// GetVariable reads a session-scoped variable from the context.
func (m *Manager) GetVariable(ctx context.Context, id, key string) (any, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ectx, ok := m.liveLocked(ctx, id)
	if !ok {
		return nil, false
	}

	value, ok := ectx.Variables[key]

	return value, ok
}

// SetGlobalVariable stores a process-wide variable not bound to any context.
func (m *Manager) SetGlobalVariable(ctx context.Context, key string, value any) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.globalVars[key] = value
	m.persistLocked(ctx)
}

// GetGlobalVariable reads a process-wide variable.
func (m *Manager) GetGlobalVariable(key string) (any, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	value, ok := m.globalVars[key]

	return value, ok
}

// GetAllVariables merges the global tier under the context tier; context
// values shadow global ones on key collision.
func (m *Manager) GetAllVariables(ctx context.Context, id string) (map[string]any, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ectx, ok := m.liveLocked(ctx, id)
	if !ok {
		return nil, false
	}

	merged := make(map[string]any, len(m.globalVars)+len(ectx.Variables))

	for k, v := range m.globalVars {
		merged[k] = v
	}

	for k, v := range ectx.Variables {
		merged[k] = v
	}

	return merged, true
}

// GlobalHistory returns a copy of the global history ring.
func (m *Manager) GlobalHistory() []models.HistoryEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]models.HistoryEntry(nil), m.globalHistory...)
}

// Sweep evicts all expired contexts and re-persists.
func (m *Manager) Sweep(ctx context.Context) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	evicted := 0

	for id, ectx := range m.contexts {
		if ectx.Expired(now) {
			delete(m.contexts, id)

			evicted++
		}
	}

	if evicted > 0 {
		m.persistLocked(ctx)
		m.logger.InfoContext(ctx, "Sweep evicted expired contexts", "count", evicted)
	}

	return evicted
}

// liveLocked returns the live context, evicting it lazily if expired. Caller
// must hold the lock.
func (m *Manager) liveLocked(ctx context.Context, id string) (*models.ExecutionContext, bool) {
	ectx, ok := m.contexts[id]
	if !ok {
		return nil, false
	}

	if ectx.Expired(time.Now().UTC()) {
		delete(m.contexts, id)
		m.persistLocked(ctx)

		return nil, false
	}

	return ectx, true
}

// persistLocked exports all live state to the durable store. Failures are
// logged and swallowed: the manager must remain usable in memory even if
// the store is unreachable. Caller must hold the lock.
func (m *Manager) persistLocked(ctx context.Context) {
	snap := snapshot{
		Contexts:        m.contexts,
		GlobalVariables: m.globalVars,
		GlobalHistory:   m.globalHistory,
	}

	payload, err := json.Marshal(snap)
	if err != nil {
		m.logger.ErrorContext(ctx, "Failed to marshal context snapshot", "error", err)

		return
	}

	if err := m.store.Set(ctx, m.cfg.StorageKey, payload); err != nil {
		m.logger.WarnContext(ctx, "Failed to persist contexts, continuing in memory", "error", err)
	}
}

// restore imports previously persisted state, skipping expired contexts.
func (m *Manager) restore(ctx context.Context) {
	payload, err := m.store.Get(ctx, m.cfg.StorageKey)
	if err != nil {
		if !persistence.IsKeyNotFound(err) {
			m.logger.WarnContext(ctx, "Failed to restore contexts", "error", err)
		}

		return
	}

	var snap snapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		m.logger.WarnContext(ctx, "Failed to decode persisted contexts", "error", err)

		return
	}

	now := time.Now().UTC()
	restored := 0

	m.mu.Lock()
	defer m.mu.Unlock()

	for id, ectx := range snap.Contexts {
		if ectx.Expired(now) {
			continue
		}

		m.contexts[id] = ectx
		restored++
	}

	if snap.GlobalVariables != nil {
		m.globalVars = snap.GlobalVariables
	}

	m.globalHistory = snap.GlobalHistory

	m.logger.InfoContext(ctx, "Restored persisted contexts", "count", restored)
}

func appendCapped(entries []models.HistoryEntry, entry models.HistoryEntry, limit int) []models.HistoryEntry {
	entries = append(entries, entry)
	if len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}

	return entries
}

func cloneContext(ectx *models.ExecutionContext) *models.ExecutionContext {
	clone := *ectx

	if ectx.Variables != nil {
		clone.Variables = make(map[string]any, len(ectx.Variables))
		for k, v := range ectx.Variables {
			clone.Variables[k] = v
		}
	}

	clone.History = append([]models.HistoryEntry(nil), ectx.History...)
	clone.KnownElements = append([]string(nil), ectx.KnownElements...)

	return &clone
}
