package models

// WorkerStatus represents the current state of a worker.
type WorkerStatus string

const (
	// WorkerIdle indicates the worker can accept a dispatch.
	WorkerIdle WorkerStatus = "idle"
	// WorkerBusy indicates the worker is executing a sub-query.
	WorkerBusy WorkerStatus = "busy"
	// WorkerError indicates the worker faulted and must be reset before reuse.
	WorkerError WorkerStatus = "error"
)

// Valid returns true if the status is a known value.
func (s WorkerStatus) Valid() bool {
	switch s {
	case WorkerIdle, WorkerBusy, WorkerError:
		return true
	default:
		return false
	}
}

// Worker is an executor with a fixed capability set that performs one hop at a time.
type Worker struct {
	// ID is the unique identifier for this worker.
	ID string `json:"id" yaml:"id"`
	// Capabilities lists what this worker can do (e.g. "search", "math").
	Capabilities []string `json:"capabilities" yaml:"capabilities"`
	// Status is the current state of the worker.
	Status WorkerStatus `json:"status" yaml:"-"`
	// Load is the number of in-flight dispatches on this worker.
	Load int `json:"load" yaml:"-"`
}

// Supports returns true if the worker's capabilities are a superset of required.
func (w *Worker) Supports(required []string) bool {
	have := make(map[string]bool, len(w.Capabilities))
	for _, c := range NormalizeCapabilities(w.Capabilities) {
		have[c] = true
	}
	for _, c := range NormalizeCapabilities(required) {
		if !have[c] {
			return false
		}
	}
	return true
}
