package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmitter_DeliversInOrder(t *testing.T) {
	e := NewEmitter(4, nil)
	e.Emit(Event{Type: StateUpdated, QueryID: "q1"})
	e.Emit(Event{Type: QueryComplete, QueryID: "q1"})

	first := <-e.Events()
	second := <-e.Events()
	assert.Equal(t, StateUpdated, first.Type)
	assert.Equal(t, QueryComplete, second.Type)
	assert.False(t, first.Timestamp.IsZero(), "timestamp should be filled in")
}

func TestEmitter_DropsWhenFull(t *testing.T) {
	e := NewEmitter(1, nil)
	e.Emit(Event{Type: StateUpdated})
	e.Emit(Event{Type: StateUpdated})

	assert.EqualValues(t, 1, e.DroppedCount())
}

func TestEmitter_EmitAfterCloseIsDiscarded(t *testing.T) {
	e := NewEmitter(1, nil)
	e.Close()
	e.Close()

	require.NotPanics(t, func() { e.Emit(Event{Type: AgentError}) })
	_, ok := <-e.Events()
	assert.False(t, ok)
}

func TestRecorderAndNop(t *testing.T) {
	var r Recorder
	sinks := []Sink{&r, Nop, OrNop(nil), SinkFunc(func(Event) {})}
	for _, s := range sinks {
		s.Emit(Event{Type: SynthesisDone})
	}
	assert.Equal(t, 1, r.Count(SynthesisDone))
	assert.Len(t, r.Events(), 1)
}
