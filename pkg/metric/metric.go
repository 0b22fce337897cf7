// Package metric scores video frames for image quality and keeps track of the
// best scoring candidate of a calibration search.
//
// Scoring (Evaluator.Score) is free of shared state so it can run on a
// separate goroutine from the search driver. Keeping the best result
// (Best.Offer) is done by whoever owns the search.
package metric

import (
	"errors"
	"fmt"

	"github.com/camtune/camtune/pkg/frame"
)

// ErrInvalidFrame is returned for frames without pixels.
var ErrInvalidFrame = errors.New("invalid frame")

// Kind names a metric implementation.
type Kind string

const (
	KindDispersion Kind = "dispersion"
	KindSaturation Kind = "saturation"
)

// Candidate is a channel value tried during a search.
type Candidate struct {
	Channel  string  `json:"channel"`
	Position int     `json:"position"`
	Value    float64 `json:"value"`
}

// Evaluator scores frames and creates the matching best-candidate tracker.
type Evaluator interface {
	Kind() Kind
	// Score computes the metric for f. It must not modify f.
	Score(f *frame.Frame) (float64, error)
	// NewBest returns a tracker anchored at seed.
	NewBest(seed Candidate) Best
}

// Best tracks the best candidate seen so far.
type Best interface {
	// Offer records the score of c. It returns true when the search of the
	// current channel should stop early.
	Offer(c Candidate, score float64) (stop bool)
	Candidate() Candidate
	Score() float64
}

// Options configure the evaluators.
type Options struct {
	// PixelStride samples every Nth pixel. Values below 1 mean 1.
	PixelStride int
	// GreenOnly uses the green channel as luma instead of desaturating.
	GreenOnly bool
	// SaturationThreshold is the largest accepted fraction of clipped samples.
	SaturationThreshold float64
}

// DefaultSaturationThreshold accepts one clipped sample in 10000.
const DefaultSaturationThreshold = 1.0 / 10000

// New returns the evaluator for kind.
func New(kind Kind, opts Options) (Evaluator, error) {
	switch kind {
	case KindDispersion, "":
		return NewDispersion(opts.PixelStride, opts.GreenOnly), nil
	case KindSaturation:
		return NewSaturation(opts.PixelStride, opts.SaturationThreshold), nil
	}
	return nil, fmt.Errorf("unknown metric %q", kind)
}

// Evaluate scores f and offers the result to best. On error best is left
// untouched.
func Evaluate(e Evaluator, best Best, f *frame.Frame, c Candidate) (score float64, stop bool, err error) {
	score, err = e.Score(f)
	if err != nil {
		return 0, false, err
	}
	return score, best.Offer(c, score), nil
}

func normalizeStride(stride int) int {
	if stride < 1 {
		return 1
	}
	return stride
}
