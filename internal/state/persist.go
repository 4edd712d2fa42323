package state

import (
	"context"
	"encoding/json"
	"fmt"
	"path"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/ShayCichocki/hopper/pkg/models"
)

// Storage layout:
//
//	queries/<id>/state.json                      active snapshot
//	queries/<id>/history/<seq>-<checkpoint>.json every snapshot
const queriesRoot = "queries/"

func queryPrefix(queryID string) string {
	return queriesRoot + queryID + "/"
}

func statePath(queryID string) string {
	return queryPrefix(queryID) + "state.json"
}

func historyPrefix(queryID string) string {
	return queryPrefix(queryID) + "history/"
}

func historyPath(queryID string, snap *models.StateSnapshot) string {
	return fmt.Sprintf("%s%08d-%s.json", historyPrefix(queryID), snap.Seq, snap.CheckpointID)
}

// persistAndLog persists queryID and logs, but does not return, failures.
// The next flush retries whatever did not reach storage.
func (m *Manager) persistAndLog(ctx context.Context, queryID string) {
	if err := m.persistQuery(ctx, queryID); err != nil {
		m.logger.Warn("persist state failed, will retry on next flush",
			zap.String("query_id", queryID), zap.Error(err))
	}
}

// persistQuery writes every snapshot of queryID not yet in storage and the
// active state. Writes are serialized by persistMu and versioned, so an
// older state never overwrites a newer one.
func (m *Manager) persistQuery(ctx context.Context, queryID string) error {
	if m.store == nil {
		return nil
	}

	m.persistMu.Lock()
	defer m.persistMu.Unlock()

	m.mu.Lock()
	rec, ok := m.queries[queryID]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	// Snapshots are immutable, so the slice prefix can be read after unlocking.
	arena := rec.arena[:len(rec.arena):len(rec.arena)]
	active := rec.current()
	version := rec.version
	m.mu.Unlock()

	mark := m.persisted[queryID]
	if version <= mark.version && arena[len(arena)-1].Seq <= mark.seq {
		return nil
	}

	for _, snap := range arena {
		if snap.Seq <= mark.seq {
			continue
		}
		data, err := json.Marshal(snap)
		if err != nil {
			return fmt.Errorf("%w: encode snapshot %d of %s: %w", ErrPersistence, snap.Seq, queryID, err)
		}
		if err := m.store.Put(ctx, historyPath(queryID, snap), data); err != nil {
			return fmt.Errorf("%w: write snapshot %d of %s: %w", ErrPersistence, snap.Seq, queryID, err)
		}
		mark.seq = snap.Seq
		m.persisted[queryID] = mark
	}

	if version > mark.version {
		data, err := json.Marshal(active)
		if err != nil {
			return fmt.Errorf("%w: encode state of %s: %w", ErrPersistence, queryID, err)
		}
		if err := m.store.Put(ctx, statePath(queryID), data); err != nil {
			return fmt.Errorf("%w: write state of %s: %w", ErrPersistence, queryID, err)
		}
		mark.version = version
		m.persisted[queryID] = mark
	}
	return nil
}

// Flush persists every active query. Failures are folded together; one
// failing query does not stop the others.
func (m *Manager) Flush(ctx context.Context) error {
	var errs error
	for _, id := range m.ActiveQueries() {
		errs = multierr.Append(errs, m.persistQuery(ctx, id))
	}
	if errs == nil {
		m.logger.Debug("state flush complete")
	}
	return errs
}

// loadSnapshots reads the stored history of queryID, oldest first. When no
// history exists the stored active state is returned as the only snapshot.
func (m *Manager) loadSnapshots(ctx context.Context, queryID string) ([]*models.StateSnapshot, error) {
	if m.store == nil {
		return nil, nil
	}

	paths, err := m.store.List(ctx, historyPrefix(queryID))
	if err != nil {
		return nil, fmt.Errorf("%w: list history of %s: %w", ErrPersistence, queryID, err)
	}

	var snaps []*models.StateSnapshot
	for _, p := range paths {
		snap, err := m.readSnapshot(ctx, p)
		if err != nil {
			m.logger.Warn("skipping unreadable snapshot", zap.String("path", p), zap.Error(err))
			continue
		}
		snaps = append(snaps, snap)
	}
	if len(snaps) > 0 {
		return snaps, nil
	}

	snap, err := m.readSnapshot(ctx, statePath(queryID))
	if err != nil {
		return nil, nil
	}
	return []*models.StateSnapshot{snap}, nil
}

func (m *Manager) readSnapshot(ctx context.Context, p string) (*models.StateSnapshot, error) {
	data, err := m.store.Get(ctx, p)
	if err != nil {
		return nil, err
	}
	var snap models.StateSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path.Base(p), err)
	}
	return &snap, nil
}
