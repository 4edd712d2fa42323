package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShayCichocki/hopper/pkg/models"
)

var nopExecutor = ExecutorFunc(func(ctx context.Context, req ExecutionRequest) (models.HopResult, error) {
	return models.HopResult{HopID: req.SubQuery.ID}, nil
})

func newRegistry(t *testing.T, workers ...models.Worker) *Registry {
	t.Helper()
	r := NewRegistry()
	for _, w := range workers {
		require.NoError(t, r.Register(w, nopExecutor))
	}
	return r
}

func TestRegistry_SelectWorker(t *testing.T) {
	r := newRegistry(t,
		models.Worker{ID: "w1", Capabilities: []string{"search"}},
		models.Worker{ID: "w2", Capabilities: []string{"search", "math"}},
		models.Worker{ID: "w3", Capabilities: []string{"math"}},
	)

	tests := []struct {
		name   string
		caps   []string
		want   string
		wantOK bool
	}{
		{"tie goes to first registered", []string{"search"}, "w1", true},
		{"superset required", []string{"math", "search"}, "w2", true},
		{"case and order insensitive", []string{"MATH"}, "w2", true},
		{"no requirement matches anyone", nil, "w1", true},
		{"nobody capable", []string{"code"}, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, ok := r.SelectWorker(tt.caps)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, w.ID)
		})
	}
}

func TestRegistry_SelectWorkerPrefersLowerLoad(t *testing.T) {
	r := newRegistry(t,
		models.Worker{ID: "w1", Capabilities: []string{"search"}},
		models.Worker{ID: "w2", Capabilities: []string{"search"}},
	)
	r.workers["w1"].worker.Load = 2
	r.workers["w2"].worker.Load = 1

	w, ok := r.SelectWorker([]string{"search"})
	require.True(t, ok)
	assert.Equal(t, "w2", w.ID)
}

func TestRegistry_SelectWorkerSkipsBusyAndFaulted(t *testing.T) {
	r := newRegistry(t,
		models.Worker{ID: "w1", Capabilities: []string{"search"}},
		models.Worker{ID: "w2", Capabilities: []string{"search"}},
		models.Worker{ID: "w3", Capabilities: []string{"search"}},
	)
	r.workers["w1"].worker.Status = models.WorkerBusy
	r.workers["w2"].worker.Status = models.WorkerError

	w, ok := r.SelectWorker([]string{"search"})
	require.True(t, ok)
	assert.Equal(t, "w3", w.ID)
}

func TestRegistry_RegisterValidation(t *testing.T) {
	r := NewRegistry()
	assert.Error(t, r.Register(models.Worker{}, nopExecutor))
	assert.Error(t, r.Register(models.Worker{ID: "w1"}, nil))
	require.NoError(t, r.Register(models.Worker{ID: "w1", Status: models.WorkerError, Load: 7}, nopExecutor))
	assert.Error(t, r.Register(models.Worker{ID: "w1"}, nopExecutor))

	w, ok := r.Worker("w1")
	require.True(t, ok)
	assert.Equal(t, models.WorkerIdle, w.Status)
	assert.Zero(t, w.Load)
}

func TestRegistry_AcquireAndRelease(t *testing.T) {
	r := newRegistry(t, models.Worker{ID: "w1", Capabilities: []string{"search"}})

	w, exec, err := r.Acquire(context.Background(), []string{"search"}, time.Second)
	require.NoError(t, err)
	require.NotNil(t, exec)
	assert.Equal(t, models.WorkerBusy, w.Status)
	assert.Equal(t, 1, w.Load)

	r.Release("w1", nil)
	w, _ = r.Worker("w1")
	assert.Equal(t, models.WorkerIdle, w.Status)
	assert.Zero(t, w.Load)
}

func TestRegistry_AcquireNoCapableFailsFast(t *testing.T) {
	r := newRegistry(t, models.Worker{ID: "w1", Capabilities: []string{"search"}})

	start := time.Now()
	_, _, err := r.Acquire(context.Background(), []string{"math"}, time.Minute)
	assert.ErrorIs(t, err, ErrNoSuitableWorker)
	assert.False(t, errors.Is(err, ErrDispatchTimeout))
	assert.Less(t, time.Since(start), time.Second)
}

func TestRegistry_AcquireWaitsForRelease(t *testing.T) {
	r := newRegistry(t, models.Worker{ID: "w1", Capabilities: []string{"search"}})
	_, _, err := r.Acquire(context.Background(), []string{"search"}, 0)
	require.NoError(t, err)

	got := make(chan error, 1)
	go func() {
		_, _, err := r.Acquire(context.Background(), []string{"search"}, 5*time.Second)
		got <- err
	}()

	select {
	case err := <-got:
		t.Fatalf("acquire returned before release: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	r.Release("w1", nil)
	select {
	case err := <-got:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("acquire did not wake after release")
	}
}

func TestRegistry_AcquireTimeout(t *testing.T) {
	r := newRegistry(t, models.Worker{ID: "w1", Capabilities: []string{"search"}})
	_, _, err := r.Acquire(context.Background(), []string{"search"}, 0)
	require.NoError(t, err)

	_, _, err = r.Acquire(context.Background(), []string{"search"}, 20*time.Millisecond)
	assert.ErrorIs(t, err, ErrNoSuitableWorker)
	assert.ErrorIs(t, err, ErrDispatchTimeout)
}

func TestRegistry_AcquireContextCanceled(t *testing.T) {
	r := newRegistry(t, models.Worker{ID: "w1", Capabilities: []string{"search"}})
	_, _, err := r.Acquire(context.Background(), []string{"search"}, 0)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, _, err = r.Acquire(ctx, []string{"search"}, time.Minute)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRegistry_FaultAndReset(t *testing.T) {
	r := newRegistry(t, models.Worker{ID: "w1", Capabilities: []string{"search"}})
	_, _, err := r.Acquire(context.Background(), []string{"search"}, 0)
	require.NoError(t, err)

	r.Release("w1", errors.New("boom"))
	w, _ := r.Worker("w1")
	assert.Equal(t, models.WorkerError, w.Status)
	assert.Zero(t, w.Load)

	_, _, err = r.Acquire(context.Background(), []string{"search"}, time.Minute)
	assert.ErrorIs(t, err, ErrNoSuitableWorker, "faulted workers are not capable")

	require.NoError(t, r.Reset("w1"))
	_, _, err = r.Acquire(context.Background(), []string{"search"}, 0)
	assert.NoError(t, err)

	assert.ErrorIs(t, r.Reset("missing"), ErrUnknownWorker)
}

func TestRegistry_DeregisterWakesWaiters(t *testing.T) {
	r := newRegistry(t, models.Worker{ID: "w1", Capabilities: []string{"search"}})
	_, _, err := r.Acquire(context.Background(), []string{"search"}, 0)
	require.NoError(t, err)

	got := make(chan error, 1)
	go func() {
		_, _, err := r.Acquire(context.Background(), []string{"search"}, time.Minute)
		got <- err
	}()
	time.Sleep(20 * time.Millisecond)

	assert.True(t, r.Deregister("w1"))
	assert.False(t, r.Deregister("w1"))
	select {
	case err := <-got:
		assert.ErrorIs(t, err, ErrNoSuitableWorker)
	case <-time.After(5 * time.Second):
		t.Fatal("waiter not woken by deregister")
	}
	assert.Zero(t, r.Len())
	r.Release("w1", nil)
}

func TestRegistry_WorkersReturnsCopies(t *testing.T) {
	r := newRegistry(t,
		models.Worker{ID: "b", Capabilities: []string{"x"}},
		models.Worker{ID: "a", Capabilities: []string{"y"}},
	)
	ws := r.Workers()
	require.Len(t, ws, 2)
	assert.Equal(t, "b", ws[0].ID)
	ws[0].Capabilities[0] = "mutated"

	again := r.Workers()
	assert.Equal(t, "x", again[0].Capabilities[0])
}
