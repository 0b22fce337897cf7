package metric

import (
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/camtune/camtune/pkg/frame"
)

var (
	black = color.RGBA{A: 255}
	white = color.RGBA{R: 255, G: 255, B: 255, A: 255}
	gray  = color.RGBA{R: 128, G: 128, B: 128, A: 255}
)

func TestDispersionMonotonicity(t *testing.T) {
	for _, greenOnly := range []bool{false, true} {
		d := NewDispersion(1, greenOnly)

		flat, err := d.Score(frame.Uniform(64, 48, gray))
		require.NoError(t, err)
		assert.InDelta(t, 0, flat, 1e-9)

		split, err := d.Score(frame.Split(64, 48, black, white))
		require.NoError(t, err)
		assert.InDelta(t, 127.5, split, 1e-9)

		assert.Greater(t, split, flat)
	}
}

func TestDispersionGreenOnlyIgnoresOtherChannels(t *testing.T) {
	red := color.RGBA{R: 255, A: 255}
	f := frame.Split(10, 10, black, red)

	assert.InDelta(t, 0, mustScore(t, NewDispersion(1, true), f), 1e-9)
	assert.Greater(t, mustScore(t, NewDispersion(1, false), f), 0.0)
}

func TestDispersionStrideIsDeterministic(t *testing.T) {
	f := frame.Split(33, 17, black, white)
	d := NewDispersion(7, false)

	a := mustScore(t, d, f)
	b := mustScore(t, d, f)
	assert.Equal(t, a, b)
	assert.Greater(t, a, 0.0)
}

func TestInvalidFrame(t *testing.T) {
	for _, e := range []Evaluator{NewDispersion(1, false), NewSaturation(1, 0)} {
		_, err := e.Score(&frame.Frame{})
		assert.ErrorIs(t, err, ErrInvalidFrame)

		seed := Candidate{Channel: "exposure", Position: 10, Value: 1}
		best := e.NewBest(seed)
		_, _, err = Evaluate(e, best, nil, Candidate{Channel: "exposure", Position: 20, Value: 2})
		assert.ErrorIs(t, err, ErrInvalidFrame)
		assert.Equal(t, seed, best.Candidate())
	}
}

func TestBestRetainsFirstOfDescendingScores(t *testing.T) {
	best := NewDispersion(1, false).NewBest(Candidate{Channel: "sensitivity", Position: 40})

	scores := []float64{90, 70, 70, 30, 10}
	for i, s := range scores {
		stop := best.Offer(Candidate{Channel: "sensitivity", Position: i}, s)
		assert.False(t, stop)
	}

	assert.Equal(t, 0, best.Candidate().Position)
	assert.Equal(t, 90.0, best.Score())
}

func TestBestTiesKeepEarliest(t *testing.T) {
	best := NewDispersion(1, false).NewBest(Candidate{Position: 99})
	best.Offer(Candidate{Position: 1}, 5)
	best.Offer(Candidate{Position: 2}, 5)
	assert.Equal(t, 1, best.Candidate().Position)

	// A zero score never beats the seed floor.
	floor := NewDispersion(1, false).NewBest(Candidate{Position: 42})
	floor.Offer(Candidate{Position: 3}, 0)
	assert.Equal(t, 42, floor.Candidate().Position)
}

func TestSaturationThreshold(t *testing.T) {
	s := NewSaturation(1, 0.0001)

	clean := frame.Uniform(100, 100, gray)
	ratio := mustScore(t, s, clean)
	assert.Equal(t, 0.0, ratio)
	assert.True(t, s.Accepts(ratio))

	clipped := frame.Uniform(100, 100, gray)
	clipped.Image.SetRGBA(3, 4, color.RGBA{R: 255, A: 255})
	clipped.Image.SetRGBA(50, 60, color.RGBA{R: 255, G: 10, A: 255})
	ratio = mustScore(t, s, clipped)
	assert.InDelta(t, 0.0002, ratio, 1e-12)
	assert.False(t, s.Accepts(ratio))
}

func TestSaturationBestStopsOnFirstViolation(t *testing.T) {
	s := NewSaturation(1, 0.0001)
	best := s.NewBest(Candidate{Channel: "exposure", Position: 0, Value: 100})

	assert.False(t, best.Offer(Candidate{Channel: "exposure", Position: 3, Value: 200}, 0))
	assert.False(t, best.Offer(Candidate{Channel: "exposure", Position: 6, Value: 300}, 0.0001))
	assert.True(t, best.Offer(Candidate{Channel: "exposure", Position: 9, Value: 400}, 0.01))

	assert.Equal(t, 300.0, best.Candidate().Value)
}

func TestNew(t *testing.T) {
	e, err := New(KindSaturation, Options{SaturationThreshold: 0.5})
	require.NoError(t, err)
	assert.Equal(t, KindSaturation, e.Kind())
	assert.Equal(t, 0.5, e.(*Saturation).Threshold())

	e, err = New("", Options{})
	require.NoError(t, err)
	assert.Equal(t, KindDispersion, e.Kind())

	_, err = New("sharpness", Options{})
	assert.Error(t, err)
}

func mustScore(t *testing.T, e Evaluator, f *frame.Frame) float64 {
	t.Helper()
	s, err := e.Score(f)
	require.NoError(t, err)
	return s
}
