package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishSubscribe(t *testing.T) {
	h := NewEventHub()
	ch := h.Subscribe()
	assert.Equal(t, 1, h.Subscribers())

	h.Publish(CalibrationProgress, CalibrationProgressEvent{Channel: "exposure", Position: 30, Value: 300, Score: 12.5})

	ev := <-ch
	assert.Equal(t, CalibrationProgress, ev.Name)
	got, err := DecodeAs[CalibrationProgressEvent](ev)
	require.NoError(t, err)
	assert.Equal(t, "exposure", got.Channel)
	assert.Equal(t, 30, got.Position)
	assert.Equal(t, 12.5, got.Score)

	h.Unsubscribe(ch)
	assert.Equal(t, 0, h.Subscribers())
	_, open := <-ch
	assert.False(t, open)
	// Unsubscribing twice is harmless.
	h.Unsubscribe(ch)
}

func TestSubscribeFiltered(t *testing.T) {
	h := NewEventHub()
	results := h.Subscribe(CalibrationResult, " ")
	family := h.Subscribe("calibration")

	h.Publish(PreviewScore, PreviewScoreEvent{Seq: 1})
	h.Publish(CalibrationPhase, CalibrationPhaseEvent{Kind: "started"})
	h.Publish(CalibrationResult, CalibrationResultEvent{RunID: "r1"})

	require.Len(t, results, 1)
	assert.Equal(t, CalibrationResult, (<-results).Name)

	require.Len(t, family, 2)
	assert.Equal(t, CalibrationPhase, (<-family).Name)
	assert.Equal(t, CalibrationResult, (<-family).Name)
}

func TestPublishDropsForSlowSubscriber(t *testing.T) {
	h := NewEventHub()
	ch := h.Subscribe()
	for i := 0; i < cap(ch)+10; i++ {
		h.Publish(PreviewScore, PreviewScoreEvent{Seq: uint64(i)})
	}
	assert.Len(t, ch, cap(ch))
	assert.Equal(t, uint64(10), h.Dropped())
}

func TestClose(t *testing.T) {
	h := NewEventHub()
	ch := h.Subscribe()
	h.Close()

	_, open := <-ch
	assert.False(t, open)
	assert.Equal(t, 0, h.Subscribers())

	late := h.Subscribe()
	_, open = <-late
	assert.False(t, open)

	// No-ops after Close.
	h.Publish(PreviewScore, PreviewScoreEvent{})
	h.Unsubscribe(ch)
	h.Close()
}

func TestNilHub(t *testing.T) {
	var h *EventHub
	h.Publish(CalibrationPhase, CalibrationPhaseEvent{})
	assert.Equal(t, 0, h.Subscribers())
	assert.Equal(t, uint64(0), h.Dropped())
}

func TestDecodeAsEmpty(t *testing.T) {
	got, err := DecodeAs[CalibrationResultEvent](Event{Name: CalibrationResult})
	require.NoError(t, err)
	assert.Empty(t, got.RunID)
}
