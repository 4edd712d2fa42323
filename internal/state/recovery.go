package state

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/ShayCichocki/hopper/internal/events"
	"github.com/ShayCichocki/hopper/pkg/models"
)

// RecoverState makes a snapshot of queryID the active state and returns a
// copy of it. An empty checkpointID selects the most recent snapshot. The
// in-memory history is consulted first, then durable storage, so a query
// from a crashed process can be resumed.
func (m *Manager) RecoverState(ctx context.Context, queryID, checkpointID string) (*models.ReasoningState, error) {
	m.mu.Lock()
	_, inMemory := m.queries[queryID]
	m.mu.Unlock()

	if !inMemory {
		if err := m.loadQuery(ctx, queryID, checkpointID); err != nil {
			return nil, err
		}
	}

	m.mu.Lock()
	rec, ok := m.queries[queryID]
	if !ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("recover %s: %w", queryID, ErrCheckpointNotFound)
	}
	idx := findCheckpoint(rec.arena, checkpointID)
	if idx < 0 {
		m.mu.Unlock()
		return nil, fmt.Errorf("recover %s at %s: %w", queryID, checkpointID, ErrCheckpointNotFound)
	}
	rec.active = idx
	rec.version++
	snap := rec.arena[idx]
	recovered := snap.State.Clone()
	m.mu.Unlock()

	m.persistAndLog(ctx, queryID)
	m.sink.Emit(events.Event{Type: events.StateRecovered, QueryID: queryID, CheckpointID: snap.CheckpointID, Timestamp: m.clock.Now()})
	return &recovered, nil
}

// findCheckpoint returns the arena index of checkpointID, the last index for
// an empty ID, or -1.
func findCheckpoint(arena []*models.StateSnapshot, checkpointID string) int {
	if checkpointID == "" {
		return len(arena) - 1
	}
	for i, snap := range arena {
		if snap.CheckpointID == checkpointID {
			return i
		}
	}
	return -1
}

// loadQuery installs the stored history of queryID as its arena, with the
// snapshot named by the stored active state as the active one. Nothing is
// installed unless the requested checkpoint exists in storage.
func (m *Manager) loadQuery(ctx context.Context, queryID, checkpointID string) error {
	snaps, err := m.loadSnapshots(ctx, queryID)
	if err != nil {
		return err
	}
	sort.SliceStable(snaps, func(i, j int) bool { return snaps[i].Seq < snaps[j].Seq })
	if len(snaps) == 0 || findCheckpoint(snaps, checkpointID) < 0 {
		return fmt.Errorf("recover %s: %w", queryID, ErrCheckpointNotFound)
	}
	active := len(snaps) - 1
	if cur, err := m.readSnapshot(ctx, statePath(queryID)); err == nil {
		if i := findCheckpoint(snaps, cur.CheckpointID); i >= 0 && cur.CheckpointID != "" {
			active = i
		}
	}

	m.persistMu.Lock()
	defer m.persistMu.Unlock()
	m.mu.Lock()
	defer m.mu.Unlock()

	// Another caller may have installed or created the query meanwhile.
	if _, ok := m.queries[queryID]; ok {
		return nil
	}
	m.queries[queryID] = &queryRecord{arena: snaps, active: active}
	m.persisted[queryID] = persistMark{seq: snaps[len(snaps)-1].Seq}
	m.logger.Info("state loaded from storage", zap.String("query_id", queryID), zap.Int("snapshots", len(snaps)))
	return nil
}

// StoredQuery summarizes a query found in durable storage.
type StoredQuery struct {
	QueryID      string
	Status       models.ReasoningStatus
	CurrentStep  int
	TotalSteps   int
	CheckpointID string
	Snapshot     models.StateSnapshot
}

// Interrupted reports whether the query never reached a terminal status.
func (q StoredQuery) Interrupted() bool {
	return q.Status != models.ReasoningCompleted && q.Status != models.ReasoningFailed
}

// StoredQueries lists every query with a persisted active state, sorted by ID.
func (m *Manager) StoredQueries(ctx context.Context) ([]StoredQuery, error) {
	if m.store == nil {
		return nil, nil
	}

	paths, err := m.store.List(ctx, queriesRoot)
	if err != nil {
		return nil, fmt.Errorf("%w: list queries: %w", ErrPersistence, err)
	}

	var out []StoredQuery
	for _, p := range paths {
		if !strings.HasSuffix(p, "/state.json") {
			continue
		}
		id := strings.TrimSuffix(strings.TrimPrefix(p, queriesRoot), "/state.json")
		if strings.Contains(id, "/") {
			continue
		}
		snap, err := m.readSnapshot(ctx, p)
		if err != nil {
			m.logger.Warn("skipping unreadable state", zap.String("path", p), zap.Error(err))
			continue
		}
		out = append(out, StoredQuery{
			QueryID:      id,
			Status:       snap.State.Status,
			CurrentStep:  snap.State.CurrentStep,
			TotalSteps:   snap.State.TotalSteps,
			CheckpointID: snap.CheckpointID,
			Snapshot:     *snap,
		})
	}
	return out, nil
}

// Interrupted lists stored queries that never completed or failed.
func (m *Manager) Interrupted(ctx context.Context) ([]StoredQuery, error) {
	all, err := m.StoredQueries(ctx)
	if err != nil {
		return nil, err
	}
	var out []StoredQuery
	for _, q := range all {
		if q.Interrupted() {
			out = append(out, q)
		}
	}
	return out, nil
}
