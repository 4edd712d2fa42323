package state

import (
	"time"

	"github.com/ShayCichocki/hopper/pkg/models"
)

// StateUpdate is a partial ReasoningState. Nil pointer fields are left
// unchanged; map fields are merged key by key and never remove keys.
type StateUpdate struct {
	StartTime      *time.Time
	CurrentStep    *int
	TotalSteps     *int
	Status         *models.ReasoningStatus
	PartialResults map[string]models.HopResult
	Context        map[string]any
	Metadata       map[string]any
}

// Ptr returns a pointer to v, for building updates inline.
func Ptr[T any](v T) *T {
	return &v
}

// apply merges u into s, last write wins per field.
func (u StateUpdate) apply(s *models.ReasoningState) {
	if u.StartTime != nil {
		s.StartTime = *u.StartTime
	}
	if u.CurrentStep != nil {
		s.CurrentStep = *u.CurrentStep
	}
	if u.TotalSteps != nil {
		s.TotalSteps = *u.TotalSteps
	}
	if u.Status != nil {
		s.Status = *u.Status
	}
	if len(u.PartialResults) > 0 {
		if s.PartialResults == nil {
			s.PartialResults = make(map[string]models.HopResult, len(u.PartialResults))
		}
		for k, v := range u.PartialResults {
			s.PartialResults[k] = v.Clone()
		}
	}
	s.Context = mergeMap(s.Context, u.Context)
	s.Metadata = mergeMap(s.Metadata, u.Metadata)
}

func mergeMap(dst, src map[string]any) map[string]any {
	if len(src) == 0 {
		return dst
	}
	if dst == nil {
		dst = make(map[string]any, len(src))
	}
	for k, v := range models.CloneMap(src) {
		dst[k] = v
	}
	return dst
}
