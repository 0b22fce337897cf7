package metric

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/camtune/camtune/pkg/frame"
)

// Rec. 709 luma weights, the same ones a zero-saturation color matrix uses.
const (
	lumaR = 0.213
	lumaG = 0.715
	lumaB = 0.072
)

// Dispersion scores a frame by the root-mean-square deviation of its luma
// from the mean luma. Higher is better.
type Dispersion struct {
	stride    int
	greenOnly bool
}

var _ Evaluator = &Dispersion{}

func NewDispersion(pixelStride int, greenOnly bool) *Dispersion {
	return &Dispersion{stride: normalizeStride(pixelStride), greenOnly: greenOnly}
}

func (d *Dispersion) Kind() Kind { return KindDispersion }

// Luma converts f to one luma sample per pixel.
func (d *Dispersion) Luma(f *frame.Frame) []float64 {
	img := f.Image
	w, h := f.Width(), f.Height()
	out := make([]float64, 0, w*h)
	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+w*4]
		for x := 0; x < len(row); x += 4 {
			if d.greenOnly {
				out = append(out, float64(row[x+1]))
				continue
			}
			l := lumaR*float64(row[x]) + lumaG*float64(row[x+1]) + lumaB*float64(row[x+2])
			out = append(out, math.Round(l))
		}
	}
	return out
}

// Score returns the RMS deviation of the sampled luma values from the mean
// of all luma values.
func (d *Dispersion) Score(f *frame.Frame) (float64, error) {
	if f.Empty() {
		return 0, ErrInvalidFrame
	}

	luma := d.Luma(f)
	mean := stat.Mean(luma, nil)

	var sum float64
	n := 0
	for i := 0; i < len(luma); i += d.stride {
		diff := luma[i] - mean
		sum += diff * diff
		n++
	}

	return math.Sqrt(sum / float64(n)), nil
}

func (d *Dispersion) NewBest(seed Candidate) Best {
	return &maxBest{candidate: seed}
}

// maxBest keeps the candidate with the strictly highest score. Ties keep the
// earlier candidate.
type maxBest struct {
	candidate Candidate
	score     float64
}

func (b *maxBest) Offer(c Candidate, score float64) bool {
	if score > b.score {
		b.score = score
		b.candidate = c
	}
	return false
}

func (b *maxBest) Candidate() Candidate { return b.candidate }

func (b *maxBest) Score() float64 { return b.score }
