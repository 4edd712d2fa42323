// Package state tracks per-query reasoning state, keeps an append-only
// history of snapshots, and persists checkpoints for crash recovery.
package state

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ShayCichocki/hopper/internal/events"
	"github.com/ShayCichocki/hopper/internal/storage"
	"github.com/ShayCichocki/hopper/pkg/models"
)

// DefaultFlushInterval is how often active states are flushed to storage.
const DefaultFlushInterval = 5 * time.Minute

var (
	// ErrUnknownQuery indicates an operation on a query with no active state.
	ErrUnknownQuery = errors.New("unknown query")
	// ErrCheckpointNotFound indicates the requested snapshot does not exist.
	ErrCheckpointNotFound = errors.New("checkpoint not found")
	// ErrPersistence wraps durable-store faults.
	ErrPersistence = errors.New("persistence failure")
)

// queryRecord is the snapshot arena of one query. Snapshots are never
// mutated after being appended; active indexes the current state.
type queryRecord struct {
	arena   []*models.StateSnapshot
	active  int
	version uint64
}

func (r *queryRecord) current() *models.StateSnapshot {
	return r.arena[r.active]
}

// persistMark records what has already reached storage for a query.
type persistMark struct {
	version uint64
	seq     int
}

// Manager owns the reasoning state of every active query.
type Manager struct {
	mu      sync.Mutex
	queries map[string]*queryRecord

	// persistMu serializes every write to the store. It is always taken
	// before mu when both are held.
	persistMu sync.Mutex
	persisted map[string]persistMark

	store    storage.Store
	sink     events.Sink
	logger   *zap.Logger
	clock    clock.Clock
	interval time.Duration

	stop        chan struct{}
	done        chan struct{}
	disposeOnce sync.Once
	disposeErr  error
}

// Option configures a Manager.
type Option func(*Manager)

// WithStore sets the durable store. Without one, state lives in memory only.
func WithStore(s storage.Store) Option {
	return func(m *Manager) { m.store = s }
}

// WithSink sets the event sink.
func WithSink(s events.Sink) Option {
	return func(m *Manager) { m.sink = events.OrNop(s) }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithClock sets the clock used for timestamps and the flush ticker.
func WithClock(c clock.Clock) Option {
	return func(m *Manager) {
		if c != nil {
			m.clock = c
		}
	}
}

// WithFlushInterval sets the background flush interval.
func WithFlushInterval(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.interval = d
		}
	}
}

// NewManager creates a Manager and starts its background flush cycle.
// Call Dispose to stop the cycle.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		queries:   make(map[string]*queryRecord),
		persisted: make(map[string]persistMark),
		sink:      events.Nop,
		logger:    zap.NewNop(),
		clock:     clock.New(),
		interval:  DefaultFlushInterval,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}

	// Create the ticker before returning so a mock clock advanced right
	// after construction still fires it.
	ticker := m.clock.Ticker(m.interval)
	go m.run(ticker)
	return m
}

func (m *Manager) run(ticker *clock.Ticker) {
	defer close(m.done)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			if err := m.Flush(context.Background()); err != nil {
				m.logger.Warn("background flush failed", zap.Error(err))
			}
		}
	}
}

// appendLocked appends next as a new immutable snapshot and makes it the
// active state. Caller must hold m.mu.
func (m *Manager) appendLocked(rec *queryRecord, next models.ReasoningState) *models.StateSnapshot {
	seq := 1
	if n := len(rec.arena); n > 0 {
		seq = rec.arena[n-1].Seq + 1
	}
	snap := &models.StateSnapshot{
		Timestamp:    m.clock.Now(),
		State:        next,
		CheckpointID: uuid.New().String(),
		Seq:          seq,
	}
	rec.arena = append(rec.arena, snap)
	rec.active = len(rec.arena) - 1
	rec.version++
	return snap
}

// RecordUpdate merges update into the state of queryID, creating the state
// on first use, then snapshots, persists and emits stateUpdated. A query
// unknown in memory but present in storage continues from its stored state.
func (m *Manager) RecordUpdate(ctx context.Context, queryID string, update StateUpdate) error {
	if queryID == "" {
		return fmt.Errorf("record update: empty query id")
	}
	if update.Status != nil && !update.Status.Valid() {
		return fmt.Errorf("record update: invalid status %q", *update.Status)
	}

	m.mu.Lock()
	_, known := m.queries[queryID]
	m.mu.Unlock()
	if !known && m.store != nil {
		if err := m.loadQuery(ctx, queryID, ""); err != nil && !errors.Is(err, ErrCheckpointNotFound) {
			m.logger.Warn("load stored state failed, starting fresh",
				zap.String("query_id", queryID), zap.Error(err))
		}
	}

	m.mu.Lock()
	var next models.ReasoningState
	rec, ok := m.queries[queryID]
	if ok {
		next = rec.current().State.Clone()
	} else {
		rec = &queryRecord{}
		m.queries[queryID] = rec
		next = newState(queryID, m.clock.Now())
	}
	update.apply(&next)
	snap := m.appendLocked(rec, next)
	m.mu.Unlock()

	m.persistAndLog(ctx, queryID)
	m.sink.Emit(events.Event{Type: events.StateUpdated, QueryID: queryID, CheckpointID: snap.CheckpointID, Timestamp: snap.Timestamp})
	return nil
}

func newState(queryID string, now time.Time) models.ReasoningState {
	return models.ReasoningState{
		QueryID:        queryID,
		StartTime:      now,
		Status:         models.ReasoningInitializing,
		PartialResults: make(map[string]models.HopResult),
		Context:        make(map[string]any),
		Metadata:       make(map[string]any),
	}
}

// StorePartialResult stores result under stepID and advances CurrentStep.
// It fails with ErrUnknownQuery, without side effects, if queryID has no state.
func (m *Manager) StorePartialResult(ctx context.Context, queryID, stepID string, result models.HopResult) error {
	m.mu.Lock()
	rec, ok := m.queries[queryID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("store partial result for %s: %w", queryID, ErrUnknownQuery)
	}
	next := rec.current().State.Clone()
	if next.PartialResults == nil {
		next.PartialResults = make(map[string]models.HopResult)
	}
	next.PartialResults[stepID] = result.Clone()
	next.CurrentStep++
	snap := m.appendLocked(rec, next)
	m.mu.Unlock()

	m.persistAndLog(ctx, queryID)
	m.sink.Emit(events.Event{Type: events.PartialResultsStored, QueryID: queryID, SubQueryID: stepID, CheckpointID: snap.CheckpointID, Timestamp: snap.Timestamp})
	return nil
}

// UpdateContext sets key in the context of queryID.
func (m *Manager) UpdateContext(ctx context.Context, queryID, key string, value any) error {
	m.mu.Lock()
	rec, ok := m.queries[queryID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("update context for %s: %w", queryID, ErrUnknownQuery)
	}
	next := rec.current().State.Clone()
	if next.Context == nil {
		next.Context = make(map[string]any)
	}
	next.Context[key] = models.CloneValue(value)
	snap := m.appendLocked(rec, next)
	m.mu.Unlock()

	m.persistAndLog(ctx, queryID)
	m.sink.Emit(events.Event{Type: events.ContextUpdated, QueryID: queryID, Message: key, CheckpointID: snap.CheckpointID, Timestamp: snap.Timestamp})
	return nil
}

// State returns a copy of the active state of queryID.
func (m *Manager) State(queryID string) (*models.ReasoningState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.queries[queryID]
	if !ok {
		return nil, fmt.Errorf("state of %s: %w", queryID, ErrUnknownQuery)
	}
	s := rec.current().State.Clone()
	return &s, nil
}

// History returns copies of every snapshot of queryID, oldest first.
func (m *Manager) History(queryID string) ([]models.StateSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.queries[queryID]
	if !ok {
		return nil, fmt.Errorf("history of %s: %w", queryID, ErrUnknownQuery)
	}
	out := make([]models.StateSnapshot, len(rec.arena))
	for i, snap := range rec.arena {
		out[i] = *snap
		out[i].State = snap.State.Clone()
	}
	return out, nil
}

// ActiveQueries returns the IDs of all queries with in-memory state, sorted.
func (m *Manager) ActiveQueries() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(m.queries))
	for id := range m.queries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Cleanup removes the in-memory and durable state of queryID. It is idempotent.
func (m *Manager) Cleanup(ctx context.Context, queryID string) error {
	m.persistMu.Lock()
	defer m.persistMu.Unlock()

	m.mu.Lock()
	delete(m.queries, queryID)
	m.mu.Unlock()
	delete(m.persisted, queryID)

	if m.store == nil {
		return nil
	}
	if err := m.store.RemoveAll(ctx, queryPrefix(queryID)); err != nil {
		return fmt.Errorf("cleanup %s: %w: %w", queryID, ErrPersistence, err)
	}
	m.logger.Debug("query state removed", zap.String("query_id", queryID))
	return nil
}

// Dispose stops the background cycle, waits for it to exit, and performs a
// final flush. Later calls return the result of the first.
func (m *Manager) Dispose(ctx context.Context) error {
	m.disposeOnce.Do(func() {
		close(m.stop)
		<-m.done
		m.disposeErr = m.Flush(ctx)
	})
	return m.disposeErr
}
