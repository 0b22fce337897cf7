package mock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/camtune/camtune/pkg/device"
	"github.com/camtune/camtune/pkg/valuerange"
)

func TestSessionApplyAndFrames(t *testing.T) {
	s := NewDefault()

	ch, err := s.Channel(device.Sensitivity)
	require.NoError(t, err)
	r, err := ch.CapabilityRange()
	require.NoError(t, err)
	assert.Equal(t, valuerange.Continuous{Lower: 50, Upper: 6400}, r)

	require.NoError(t, ch.Apply(1600))
	v, err := ch.Current()
	require.NoError(t, err)
	assert.Equal(t, 1600.0, v)

	f1, err := s.NextFrame(context.Background())
	require.NoError(t, err)
	f2, err := s.NextFrame(context.Background())
	require.NoError(t, err)
	assert.Greater(t, f2.Seq, f1.Seq)
	assert.Equal(t, 1600.0, f2.Params[string(device.Sensitivity)])
	assert.False(t, f2.Empty())

	_, err = s.Channel("focus")
	assert.ErrorIs(t, err, device.ErrChannelNotSupported)

	require.NoError(t, s.Close())
	_, err = s.NextFrame(context.Background())
	assert.ErrorIs(t, err, device.ErrSourceClosed)
}

func TestSceneBrightnessFollowsGain(t *testing.T) {
	scene := DefaultScene(16, 4)
	dark := scene(map[device.ChannelID]float64{device.Sensitivity: 100, device.Exposure: 20000000})
	bright := scene(map[device.ChannelID]float64{device.Sensitivity: 1600, device.Exposure: 20000000})

	last := dark.Image.Bounds().Dx() - 1
	assert.Less(t, dark.Image.RGBAAt(last, 0).R, uint8(255))
	assert.Equal(t, uint8(255), bright.Image.RGBAAt(last, 0).R)
}

func TestStallHonorsContext(t *testing.T) {
	s := NewDefault()
	s.SetStall(true)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := s.NextFrame(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestApplyErr(t *testing.T) {
	s := NewDefault()
	s.SetApplyErr(device.Exposure, errors.New("busy"))
	ch, err := s.Channel(device.Exposure)
	require.NoError(t, err)
	assert.Error(t, ch.Apply(1))
	assert.Empty(t, s.AppliedValues())
}

func TestRegistered(t *testing.T) {
	sess, err := device.Open(context.Background(), "mock", device.OpenConfig{Width: 320, Height: 240, MaxWidth: 160})
	require.NoError(t, err)
	defer sess.Close()
	f, err := sess.NextFrame(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 160, f.Width())
	assert.Equal(t, 120, f.Height())
}
