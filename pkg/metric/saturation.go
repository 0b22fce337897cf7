package metric

import (
	"math"

	"github.com/camtune/camtune/pkg/frame"
)

// Saturation scores a frame by the fraction of sampled pixels whose red
// channel is clipped. Used to find the largest value that does not saturate
// the sensor when scanning from low to high.
type Saturation struct {
	stride    int
	threshold float64
}

var _ Evaluator = &Saturation{}

func NewSaturation(pixelStride int, threshold float64) *Saturation {
	if threshold <= 0 || threshold >= 1 {
		threshold = DefaultSaturationThreshold
	}
	return &Saturation{stride: normalizeStride(pixelStride), threshold: threshold}
}

func (s *Saturation) Kind() Kind { return KindSaturation }

func (s *Saturation) Threshold() float64 { return s.threshold }

// Score returns saturated/sampled for the red channel.
func (s *Saturation) Score(f *frame.Frame) (float64, error) {
	if f.Empty() {
		return 0, ErrInvalidFrame
	}

	img := f.Image
	w, h := f.Width(), f.Height()
	saturated, sampled := 0, 0
	for i := 0; i < w*h; i += s.stride {
		x, y := i%w, i/w
		if img.Pix[y*img.Stride+x*4] >= math.MaxUint8 {
			saturated++
		}
		sampled++
	}

	return float64(saturated) / float64(sampled), nil
}

// Accepts reports whether ratio is within the threshold.
func (s *Saturation) Accepts(ratio float64) bool {
	return ratio <= s.threshold
}

func (s *Saturation) NewBest(seed Candidate) Best {
	return &thresholdBest{candidate: seed, threshold: s.threshold}
}

// thresholdBest accepts candidates while their ratio stays within the
// threshold. The first violation stops the channel and keeps the last
// accepted candidate.
type thresholdBest struct {
	candidate Candidate
	score     float64
	threshold float64
}

func (b *thresholdBest) Offer(c Candidate, ratio float64) bool {
	if ratio > b.threshold {
		return true
	}
	b.candidate = c
	b.score = ratio
	return false
}

func (b *thresholdBest) Candidate() Candidate { return b.candidate }

func (b *thresholdBest) Score() float64 { return b.score }
