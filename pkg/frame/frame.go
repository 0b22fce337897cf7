// Package frame holds decoded video frames handed from a capture device to
// the image metrics.
package frame

import (
	"image"
	"image/color"
	"image/draw"
	"time"

	xdraw "golang.org/x/image/draw"
)

// Frame is one decoded video frame.
type Frame struct {
	// Image holds the pixels. Pix is laid out RGBA, 4 bytes per pixel.
	Image *image.RGBA
	// Captured is when the frame was received from the device.
	Captured time.Time
	// Seq is a per-source monotonically increasing sequence number.
	Seq uint64
	// Params are the channel values the source believes were in effect when
	// the frame was captured. Sources that cannot tell leave it nil.
	Params map[string]float64
}

// Width returns the frame width in pixels.
func (f *Frame) Width() int {
	if f == nil || f.Image == nil {
		return 0
	}
	return f.Image.Rect.Dx()
}

// Height returns the frame height in pixels.
func (f *Frame) Height() int {
	if f == nil || f.Image == nil {
		return 0
	}
	return f.Image.Rect.Dy()
}

// Empty reports whether the frame has no pixels.
func (f *Frame) Empty() bool {
	return f.Width() <= 0 || f.Height() <= 0
}

// Pixels returns the number of pixels in the frame.
func (f *Frame) Pixels() int {
	if f.Empty() {
		return 0
	}
	return f.Width() * f.Height()
}

// FromImage converts img to an RGBA frame. If maxWidth > 0 and the image is
// wider, it is scaled down with bilinear interpolation, keeping the aspect
// ratio. Scaling is deterministic so the same input always yields the same
// frame.
func FromImage(img image.Image, maxWidth int) *Frame {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	if maxWidth > 0 && w > maxWidth {
		nh := h * maxWidth / w
		if nh < 1 {
			nh = 1
		}
		dst := image.NewRGBA(image.Rect(0, 0, maxWidth, nh))
		xdraw.BiLinear.Scale(dst, dst.Bounds(), img, b, xdraw.Src, nil)
		return &Frame{Image: dst, Captured: time.Now()}
	}

	if rgba, ok := img.(*image.RGBA); ok && rgba.Rect.Min == (image.Point{}) {
		return &Frame{Image: rgba, Captured: time.Now()}
	}

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return &Frame{Image: dst, Captured: time.Now()}
}

// Uniform returns a w x h frame filled with c.
func Uniform(w, h int, c color.RGBA) *Frame {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: c}, image.Point{}, draw.Src)
	return &Frame{Image: img, Captured: time.Now()}
}

// Split returns a w x h frame whose left half is a and right half is b.
func Split(w, h int, a, b color.RGBA) *Frame {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, image.Rect(0, 0, w/2, h), &image.Uniform{C: a}, image.Point{}, draw.Src)
	draw.Draw(img, image.Rect(w/2, 0, w, h), &image.Uniform{C: b}, image.Point{}, draw.Src)
	return &Frame{Image: img, Captured: time.Now()}
}
