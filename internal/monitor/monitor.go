// Package monitor runs the background half of the hub: an event queue fed by
// the API layer and a set of periodic maintenance loops for session expiry,
// event retention, index upkeep, usage analysis, and health snapshots.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/blueberrycongee/memoryhub/internal/embedding"
	"github.com/blueberrycongee/memoryhub/internal/metrics"
	"github.com/blueberrycongee/memoryhub/internal/storage"
)

const (
	monitorNamespace = "monitor"
	sessionNamespace = "session_manager"

	eventKeyPrefix    = "events:"
	activityKeyPrefix = "activity:"
	inactiveKeyPrefix = "inactive:"
	healthKey         = "health:latest"

	handlerTimeout = 30 * time.Second
	loopTimeout    = 5 * time.Minute
	errorBackoff   = 5 * time.Second
)

// Handler processes one event. Handlers run on the consumer goroutine; a slow
// handler delays the queue, not the emitting request.
type Handler func(ctx context.Context, event *ContextEvent) error

// Config carries the monitor's intervals and retention windows.
type Config struct {
	QueueSize         int
	SessionSweep      time.Duration
	InactiveAfter     time.Duration
	CleanupInterval   time.Duration
	EventRetention    time.Duration
	RebuildInterval   time.Duration
	AnalysisInterval  time.Duration
	HealthInterval    time.Duration
	HealthSnapshotTTL time.Duration
}

// DefaultConfig returns the monitor's default tuning.
func DefaultConfig() Config {
	return Config{
		QueueSize:         1024,
		SessionSweep:      5 * time.Minute,
		InactiveAfter:     2 * time.Hour,
		CleanupInterval:   time.Hour,
		EventRetention:    7 * 24 * time.Hour,
		RebuildInterval:   24 * time.Hour,
		AnalysisInterval:  time.Minute,
		HealthInterval:    2 * time.Minute,
		HealthSnapshotTTL: 5 * time.Minute,
	}
}

// Monitor owns the event queue and the maintenance loops.
type Monitor struct {
	cfg        Config
	store      *storage.Manager
	embeddings *embedding.Service
	logger     *slog.Logger

	queue   chan *ContextEvent
	started atomic.Bool
	wg      sync.WaitGroup

	handlerMu sync.RWMutex
	handlers  map[string][]Handler

	// Per-type counters and search-query tallies accumulated within the
	// current hour bucket. The analysis loop writes them out and resets them
	// when the hour rolls over.
	countMu sync.Mutex
	counts  map[string]int64
	queries map[string]int64
	bucket  time.Time
}

// New creates a monitor. The embedding service is optional; index maintenance
// and auto-embedding are skipped when it is nil.
func New(cfg Config, store *storage.Manager, embeddings *embedding.Service, logger *slog.Logger) *Monitor {
	def := DefaultConfig()
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.SessionSweep <= 0 {
		cfg.SessionSweep = def.SessionSweep
	}
	if cfg.InactiveAfter <= 0 {
		cfg.InactiveAfter = def.InactiveAfter
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = def.CleanupInterval
	}
	if cfg.EventRetention <= 0 {
		cfg.EventRetention = def.EventRetention
	}
	if cfg.RebuildInterval <= 0 {
		cfg.RebuildInterval = def.RebuildInterval
	}
	if cfg.AnalysisInterval <= 0 {
		cfg.AnalysisInterval = def.AnalysisInterval
	}
	if cfg.HealthInterval <= 0 {
		cfg.HealthInterval = def.HealthInterval
	}
	if cfg.HealthSnapshotTTL <= 0 {
		cfg.HealthSnapshotTTL = def.HealthSnapshotTTL
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Monitor{
		cfg:        cfg,
		store:      store,
		embeddings: embeddings,
		logger:     logger,
		queue:      make(chan *ContextEvent, cfg.QueueSize),
		handlers:   make(map[string][]Handler),
		counts:     make(map[string]int64),
		queries:    make(map[string]int64),
		bucket:     time.Now().Truncate(time.Hour),
	}
}

// RegisterHandler adds a handler for an event type. Registered handlers run
// after the built-in handling for that type.
func (m *Monitor) RegisterHandler(eventType string, h Handler) {
	m.handlerMu.Lock()
	defer m.handlerMu.Unlock()
	m.handlers[eventType] = append(m.handlers[eventType], h)
}

// Emit queues an event without blocking. When the queue is full the event is
// dropped and counted; emitters must never stall on the monitor.
func (m *Monitor) Emit(event *ContextEvent) {
	select {
	case m.queue <- event:
		metrics.EventQueueDepth.Set(float64(len(m.queue)))
	default:
		metrics.EventsDropped.Inc()
		m.logger.Warn("event queue full, dropping event", "type", event.Type, "namespace", event.Namespace)
	}
}

// Start launches the consumer and the maintenance loops. All goroutines exit
// when ctx is canceled; Stop waits for them.
func (m *Monitor) Start(ctx context.Context) {
	if !m.started.CompareAndSwap(false, true) {
		return
	}

	m.wg.Add(1)
	go m.consume(ctx)

	m.startLoop(ctx, "session_sweep", m.cfg.SessionSweep, m.sweepSessions)
	m.startLoop(ctx, "cleanup", m.cfg.CleanupInterval, m.cleanup)
	m.startLoop(ctx, "embedding_maintenance", m.cfg.RebuildInterval, m.maintainIndex)
	m.startLoop(ctx, "context_analysis", m.cfg.AnalysisInterval, m.analyze)
	m.startLoop(ctx, "health_check", m.cfg.HealthInterval, m.checkHealth)

	m.logger.Info("monitor started", "queue_size", m.cfg.QueueSize)
}

// Stop waits for the consumer and loops to finish. Call after canceling the
// context passed to Start.
func (m *Monitor) Stop() {
	if !m.started.Load() {
		return
	}
	m.wg.Wait()
}

// =============================================================================
// Event consumption
// =============================================================================

func (m *Monitor) consume(ctx context.Context) {
	defer m.wg.Done()
	for {
		select {
		case event := <-m.queue:
			metrics.EventQueueDepth.Set(float64(len(m.queue)))
			m.handleEvent(ctx, event)
		case <-ctx.Done():
			m.logger.Info("event consumer stopped")
			return
		}
	}
}

func (m *Monitor) handleEvent(ctx context.Context, event *ContextEvent) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("event handler panicked", "type", event.Type, "panic", r)
		}
	}()

	hctx, cancel := context.WithTimeout(ctx, handlerTimeout)
	defer cancel()

	m.countMu.Lock()
	m.counts[event.Type]++
	m.countMu.Unlock()

	if err := m.persistEvent(hctx, event); err != nil {
		m.logger.Warn("failed to persist event", "type", event.Type, "error", err)
	}

	var err error
	switch event.Type {
	case EventSessionChange:
		err = m.onSessionChange(hctx, event)
	case EventKnowledgeUpdate:
		err = m.onKnowledgeUpdate(hctx, event)
	case EventEmbeddingSearch:
		m.tallyQuery(event)
	case EventMemoryAccess, EventSessionInactive:
		// Counted above; no further built-in handling.
	default:
		m.logger.Debug("unhandled event type", "type", event.Type)
	}
	if err != nil {
		m.logger.Warn("built-in event handling failed", "type", event.Type, "error", err)
	}

	m.handlerMu.RLock()
	registered := m.handlers[event.Type]
	m.handlerMu.RUnlock()
	for _, h := range registered {
		if err := h(hctx, event); err != nil {
			m.logger.Warn("registered event handler failed", "type", event.Type, "error", err)
		}
	}

	metrics.EventsProcessed.WithLabelValues(event.Type).Inc()
}

// persistEvent records the event in the fast store. Retention rides on the
// store's TTL; nothing has to sweep old events individually.
func (m *Monitor) persistEvent(ctx context.Context, event *ContextEvent) error {
	raw, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return m.store.Set(ctx, storage.DBCache, monitorNamespace, eventKeyPrefix+event.ID, raw, m.cfg.EventRetention)
}

// onSessionChange refreshes the session's activity marker. The marker's TTL
// is the inactivity window: its absence is what marks a session inactive.
func (m *Monitor) onSessionChange(ctx context.Context, event *ContextEvent) error {
	sessionID := event.payloadString("session_id")
	if sessionID == "" {
		return nil
	}
	stamp := []byte(event.Timestamp.UTC().Format(time.RFC3339))
	return m.store.Set(ctx, storage.DBSessions, sessionNamespace, activityKeyPrefix+sessionID, stamp, m.cfg.InactiveAfter)
}

// onKnowledgeUpdate embeds new document content so it becomes searchable
// without an explicit add_embedding call.
func (m *Monitor) onKnowledgeUpdate(ctx context.Context, event *ContextEvent) error {
	if m.embeddings == nil {
		return nil
	}
	content := event.payloadString("content")
	if content == "" {
		return nil
	}
	_, err := m.embeddings.Add(ctx, embedding.AddRequest{
		Namespace: event.Namespace,
		Content:   content,
		DocID:     event.payloadString("doc_id"),
		Category:  "knowledge",
	})
	return err
}

// tallyQuery tracks search-query popularity for the analysis loop.
func (m *Monitor) tallyQuery(event *ContextEvent) {
	query := event.payloadString("query")
	if query == "" {
		return
	}
	m.countMu.Lock()
	m.queries[query]++
	m.countMu.Unlock()
}

// =============================================================================
// Maintenance loops
// =============================================================================

func (m *Monitor) startLoop(ctx context.Context, name string, interval time.Duration, fn func(context.Context) error) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if !m.runLoopOnce(ctx, name, fn) {
					// Hold off briefly after a failed pass so a broken
					// dependency is not hammered on a tight interval.
					select {
					case <-time.After(errorBackoff):
					case <-ctx.Done():
					}
				}
			case <-ctx.Done():
				m.logger.Info("maintenance loop stopped", "loop", name)
				return
			}
		}
	}()
}

// runLoopOnce executes one pass with a bounded context. A panic in one loop
// is recovered so the other loops keep running.
func (m *Monitor) runLoopOnce(ctx context.Context, name string, fn func(context.Context) error) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			metrics.MaintenanceRuns.WithLabelValues(name, "panic").Inc()
			m.logger.Error("maintenance loop panicked", "loop", name, "panic", r)
			ok = false
		}
	}()

	lctx, cancel := context.WithTimeout(ctx, loopTimeout)
	defer cancel()

	if err := fn(lctx); err != nil {
		metrics.MaintenanceRuns.WithLabelValues(name, "error").Inc()
		m.logger.Error("maintenance loop failed", "loop", name, "error", err)
		return false
	}
	metrics.MaintenanceRuns.WithLabelValues(name, "ok").Inc()
	return true
}

// sweepSessions removes sessions past their expiry, then flags sessions whose
// activity marker has lapsed. Inactive-but-unexpired sessions are never
// deleted here; they are announced as session_inactive events and an
// `inactive:` marker suppresses re-flagging within the inactivity window.
func (m *Monitor) sweepSessions(ctx context.Context) error {
	removed, err := m.store.DeleteExpiredSessions(ctx, time.Now())
	if err != nil {
		return err
	}
	if removed > 0 {
		m.logger.Info("expired sessions removed", "count", removed)
	}

	sessions, err := m.store.ListSessions(ctx, sessionNamespace)
	if err != nil {
		return err
	}
	cutoff := time.Now().Add(-m.cfg.InactiveAfter)
	flagged := int64(0)
	for _, session := range sessions {
		if session.UpdatedAt.After(cutoff) {
			continue
		}
		marker, err := m.store.Get(ctx, storage.DBSessions, sessionNamespace, activityKeyPrefix+session.SessionID)
		if err != nil || marker != nil {
			continue
		}
		already, err := m.store.Get(ctx, storage.DBSessions, sessionNamespace, inactiveKeyPrefix+session.SessionID)
		if err != nil || already != nil {
			continue
		}
		m.Emit(NewEvent(EventSessionInactive, session.Namespace, map[string]any{
			"session_id": session.SessionID,
		}))
		stamp := []byte(time.Now().UTC().Format(time.RFC3339))
		if err := m.store.Set(ctx, storage.DBSessions, sessionNamespace, inactiveKeyPrefix+session.SessionID, stamp, m.cfg.InactiveAfter); err != nil {
			m.logger.Warn("failed to mark session inactive", "session_id", session.SessionID, "error", err)
		}
		flagged++
	}
	if flagged > 0 {
		m.logger.Info("inactive sessions flagged", "count", flagged)
	}
	return nil
}

// cleanup reports retained event volume. Event expiry itself is enforced by
// the fast store's TTLs.
func (m *Monitor) cleanup(ctx context.Context) error {
	keys, err := m.store.ListKeys(ctx, storage.DBCache, monitorNamespace, eventKeyPrefix+"*")
	if err != nil {
		return err
	}
	m.logger.Info("event retention pass", "retained_events", len(keys))
	return nil
}

// maintainIndex persists the index and rebuilds it when the soft-deleted
// ratio crosses the threshold.
func (m *Monitor) maintainIndex(ctx context.Context) error {
	if m.embeddings == nil {
		return nil
	}
	if m.embeddings.NeedsRebuild() {
		stats, err := m.embeddings.Rebuild(ctx)
		if err != nil {
			return err
		}
		m.logger.Info("scheduled index rebuild complete", "dropped", stats.Dropped, "duration", stats.Duration)
	}
	return m.embeddings.Save()
}

// analyze rolls the hourly activity bucket. Counters accumulate across passes
// within one hour; once the hour boundary is behind us the bucket is written
// out as a single experience record and the counters reset. Quiet hours
// produce no record.
func (m *Monitor) analyze(ctx context.Context) error {
	hour := time.Now().Truncate(time.Hour)

	m.countMu.Lock()
	if !hour.After(m.bucket) {
		m.countMu.Unlock()
		return nil
	}
	snapshot := m.counts
	queries := m.queries
	bucket := m.bucket
	m.counts = make(map[string]int64)
	m.queries = make(map[string]int64)
	m.bucket = hour
	m.countMu.Unlock()

	var total int64
	for _, n := range snapshot {
		total += n
	}
	if total == 0 {
		return nil
	}

	byType := make(map[string]any, len(snapshot)+2)
	for k, v := range snapshot {
		byType[k] = v
	}
	byType["hour"] = bucket.UTC().Format(time.RFC3339)
	if len(queries) > 0 {
		byType["top_queries"] = topQueries(queries, 10)
	}
	return m.store.AppendExperience(ctx, &storage.Experience{
		Namespace:    monitorNamespace,
		ExperienceID: uuid.NewString(),
		Category:     "context_analysis",
		Context:      fmt.Sprintf("%d events observed", total),
		Outcome:      "recorded",
		Confidence:   1.0,
		Metadata:     byType,
		CreatedAt:    time.Now(),
	})
}

// topQueries returns the n most frequent queries, most frequent first.
func topQueries(tally map[string]int64, n int) []string {
	type pair struct {
		query string
		count int64
	}
	pairs := make([]pair, 0, len(tally))
	for q, c := range tally {
		pairs = append(pairs, pair{q, c})
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].count != pairs[j].count {
			return pairs[i].count > pairs[j].count
		}
		return pairs[i].query < pairs[j].query
	})
	if len(pairs) > n {
		pairs = pairs[:n]
	}
	out := make([]string, len(pairs))
	for i, p := range pairs {
		out[i] = p.query
	}
	return out
}

// HealthSnapshot is the periodic component status written to the fast store.
type HealthSnapshot struct {
	Timestamp    time.Time            `json:"timestamp"`
	FastStore    string               `json:"fast_store"`
	DurableStore string               `json:"durable_store"`
	Index        string               `json:"index"`
	IndexStats   embedding.Stats      `json:"index_stats"`
	StoreStats   storage.ManagerStats `json:"store_stats"`
	QueueDepth   int                  `json:"queue_depth"`
}

// checkHealth probes every component and stores the snapshot with a TTL, so
// a stalled monitor reads as unhealthy rather than as stale-green.
func (m *Monitor) checkHealth(ctx context.Context) error {
	snapshot := HealthSnapshot{
		Timestamp:    time.Now(),
		FastStore:    statusOf(m.store.PingFast(ctx)),
		DurableStore: statusOf(m.store.PingDurable(ctx)),
		Index:        "disabled",
		StoreStats:   m.store.Stats(),
		QueueDepth:   len(m.queue),
	}
	if m.embeddings != nil {
		snapshot.Index = statusOf(m.embeddings.Ping(ctx))
		snapshot.IndexStats = m.embeddings.Stats()
	}

	raw, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("marshal health snapshot: %w", err)
	}
	return m.store.Set(ctx, storage.DBCache, monitorNamespace, healthKey, raw, m.cfg.HealthSnapshotTTL)
}

// LatestHealth reads the most recent snapshot. Returns nil when no snapshot
// is live.
func (m *Monitor) LatestHealth(ctx context.Context) (*HealthSnapshot, error) {
	raw, err := m.store.Get(ctx, storage.DBCache, monitorNamespace, healthKey)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}
	var snapshot HealthSnapshot
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		return nil, fmt.Errorf("parse health snapshot: %w", err)
	}
	return &snapshot, nil
}

func statusOf(err error) string {
	if err != nil {
		return "unhealthy"
	}
	return "healthy"
}
