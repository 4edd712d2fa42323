package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ShayCichocki/hopper/pkg/models"
)

// registeredWorker is a worker and the executor that runs its hops.
type registeredWorker struct {
	worker   models.Worker
	executor Executor
}

// Registry tracks workers, their status and load, and hands them out to
// dispatches. All status and load mutations happen under one lock, so a
// dispatch and a completion on the same worker never lose an update.
type Registry struct {
	mu sync.Mutex
	// workers maps worker IDs to their entries.
	workers map[string]*registeredWorker
	// order is registration order and breaks load ties.
	order []string
	// changed is closed and replaced whenever a worker may have become available.
	changed chan struct{}
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		workers: make(map[string]*registeredWorker),
		changed: make(chan struct{}),
	}
}

// Register adds a worker. The worker starts idle with zero load regardless
// of the status and load passed in.
func (r *Registry) Register(w models.Worker, exec Executor) error {
	if w.ID == "" {
		return fmt.Errorf("register worker: empty id")
	}
	if exec == nil {
		return fmt.Errorf("register worker %s: nil executor", w.ID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.workers[w.ID]; exists {
		return fmt.Errorf("register worker %s: already registered", w.ID)
	}
	w.Capabilities = models.NormalizeCapabilities(w.Capabilities)
	w.Status = models.WorkerIdle
	w.Load = 0
	r.workers[w.ID] = &registeredWorker{worker: w, executor: exec}
	r.order = append(r.order, w.ID)
	r.notifyLocked()
	return nil
}

// Deregister removes a worker. In-flight dispatches on it finish normally.
func (r *Registry) Deregister(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.workers[id]; !ok {
		return false
	}
	delete(r.workers, id)
	for i, other := range r.order {
		if other == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	// Waiters may now have no capable worker left and should fail fast.
	r.notifyLocked()
	return true
}

// Reset returns a faulted worker to idle.
func (r *Registry) Reset(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rw, ok := r.workers[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownWorker, id)
	}
	if rw.worker.Status == models.WorkerError {
		rw.worker.Status = models.WorkerIdle
		rw.worker.Load = 0
		r.notifyLocked()
	}
	return nil
}

// Workers returns copies of all workers in registration order.
func (r *Registry) Workers() []models.Worker {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.Worker, 0, len(r.order))
	for _, id := range r.order {
		w := r.workers[id].worker
		w.Capabilities = append([]string(nil), w.Capabilities...)
		out = append(out, w)
	}
	return out
}

// Worker returns a copy of the worker with id.
func (r *Registry) Worker(id string) (models.Worker, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rw, ok := r.workers[id]
	if !ok {
		return models.Worker{}, false
	}
	return rw.worker, true
}

// Len returns the number of registered workers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.workers)
}

// SelectWorker returns the idle worker whose capabilities cover caps with
// the lowest load. Ties go to the earliest registered worker. It does not
// change any state.
func (r *Registry) SelectWorker(caps []string) (models.Worker, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rw := r.selectLocked(caps)
	if rw == nil {
		return models.Worker{}, false
	}
	return rw.worker, true
}

func (r *Registry) selectLocked(caps []string) *registeredWorker {
	var best *registeredWorker
	for _, id := range r.order {
		rw := r.workers[id]
		if rw.worker.Status != models.WorkerIdle || !rw.worker.Supports(caps) {
			continue
		}
		// Strict comparison keeps the earliest registered worker on ties.
		if best == nil || rw.worker.Load < best.worker.Load {
			best = rw
		}
	}
	return best
}

// hasCapableLocked reports whether any non-faulted worker covers caps.
func (r *Registry) hasCapableLocked(caps []string) bool {
	for _, rw := range r.workers {
		if rw.worker.Status != models.WorkerError && rw.worker.Supports(caps) {
			return true
		}
	}
	return false
}

// Acquire selects a worker for caps and marks it busy in one step.
//
// If no non-faulted worker covers caps, Acquire fails immediately with
// ErrNoSuitableWorker. If capable workers exist but are all busy, it waits
// until one is released, timeout elapses, or ctx is done. Expiry returns an
// error wrapping both ErrNoSuitableWorker and ErrDispatchTimeout. A
// non-positive timeout waits only on ctx.
func (r *Registry) Acquire(ctx context.Context, caps []string, timeout time.Duration) (models.Worker, Executor, error) {
	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	for {
		if err := ctx.Err(); err != nil {
			return models.Worker{}, nil, err
		}

		r.mu.Lock()
		if rw := r.selectLocked(caps); rw != nil {
			rw.worker.Status = models.WorkerBusy
			rw.worker.Load++
			w, exec := rw.worker, rw.executor
			r.mu.Unlock()
			return w, exec, nil
		}
		if !r.hasCapableLocked(caps) {
			r.mu.Unlock()
			return models.Worker{}, nil, fmt.Errorf("%w: capabilities %v", ErrNoSuitableWorker, caps)
		}
		changed := r.changed
		r.mu.Unlock()

		select {
		case <-changed:
		case <-expired:
			return models.Worker{}, nil, fmt.Errorf("%w: capabilities %v: %w", ErrNoSuitableWorker, caps, ErrDispatchTimeout)
		case <-ctx.Done():
			return models.Worker{}, nil, ctx.Err()
		}
	}
}

// Release ends a dispatch on worker id. A nil execErr returns the worker to
// idle once its load reaches zero; a non-nil execErr faults it and zeroes
// its load. Releasing a deregistered worker is a no-op.
func (r *Registry) Release(id string, execErr error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rw, ok := r.workers[id]
	if !ok {
		return
	}
	if execErr != nil {
		rw.worker.Status = models.WorkerError
		rw.worker.Load = 0
	} else {
		if rw.worker.Load > 0 {
			rw.worker.Load--
		}
		if rw.worker.Load == 0 && rw.worker.Status == models.WorkerBusy {
			rw.worker.Status = models.WorkerIdle
		}
	}
	r.notifyLocked()
}

// executor returns the executor registered for id.
func (r *Registry) executor(id string) (Executor, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rw, ok := r.workers[id]
	if !ok {
		return nil, false
	}
	return rw.executor, true
}

func (r *Registry) notifyLocked() {
	close(r.changed)
	r.changed = make(chan struct{})
}
