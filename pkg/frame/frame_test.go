package frame

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromImageKeepsSize(t *testing.T) {
	src := image.NewNRGBA(image.Rect(10, 10, 30, 20))
	src.Set(10, 10, color.NRGBA{R: 200, G: 100, B: 50, A: 255})

	f := FromImage(src, 0)
	assert.Equal(t, 20, f.Width())
	assert.Equal(t, 10, f.Height())
	assert.Equal(t, color.RGBA{R: 200, G: 100, B: 50, A: 255}, f.Image.RGBAAt(0, 0))
}

func TestFromImageDownscales(t *testing.T) {
	src := Uniform(640, 480, color.RGBA{R: 80, G: 80, B: 80, A: 255}).Image

	f := FromImage(src, 160)
	assert.Equal(t, 160, f.Width())
	assert.Equal(t, 120, f.Height())
	assert.Equal(t, color.RGBA{R: 80, G: 80, B: 80, A: 255}, f.Image.RGBAAt(80, 60))

	again := FromImage(src, 160)
	assert.Equal(t, f.Image.Pix, again.Image.Pix)
}

func TestEmpty(t *testing.T) {
	var f *Frame
	assert.True(t, f.Empty())
	assert.True(t, (&Frame{}).Empty())
	assert.True(t, (&Frame{Image: image.NewRGBA(image.Rect(0, 0, 0, 5))}).Empty())
	assert.False(t, Uniform(1, 1, color.RGBA{}).Empty())
	assert.Equal(t, 12, Uniform(4, 3, color.RGBA{}).Pixels())
}

func TestSplit(t *testing.T) {
	f := Split(4, 2, color.RGBA{A: 255}, color.RGBA{R: 255, G: 255, B: 255, A: 255})
	assert.Equal(t, uint8(0), f.Image.RGBAAt(1, 1).G)
	assert.Equal(t, uint8(255), f.Image.RGBAAt(2, 1).G)
}
