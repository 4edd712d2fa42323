package orchestrator

import "errors"

var (
	// ErrNoSuitableWorker indicates no idle worker with the required
	// capabilities could be acquired for a sub-query.
	ErrNoSuitableWorker = errors.New("no suitable worker")
	// ErrDispatchTimeout indicates capable workers existed but none became
	// idle before the dispatch timeout. It is always wrapped together with
	// ErrNoSuitableWorker.
	ErrDispatchTimeout = errors.New("dispatch timed out")
	// ErrInvalidPlan indicates a planner returned a plan that does not cover
	// its sub-queries exactly once or schedules a sub-query before its
	// dependencies.
	ErrInvalidPlan = errors.New("invalid execution plan")
	// ErrInvalidMessage indicates an inter-worker message was not a
	// structured record with string from, to and type fields.
	ErrInvalidMessage = errors.New("invalid agent message")
	// ErrUnknownWorker indicates a registry operation named an unregistered worker.
	ErrUnknownWorker = errors.New("unknown worker")
)
