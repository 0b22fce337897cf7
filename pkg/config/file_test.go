package config

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/camtune/camtune/pkg/device"
	"github.com/camtune/camtune/pkg/metric"
	"github.com/camtune/camtune/pkg/valuerange"
)

func TestDefaults(t *testing.T) {
	f, err := NewFile(filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)

	assert.Equal(t, []device.ChannelID{device.Sensitivity, device.Exposure}, f.ChannelOrder())
	assert.Equal(t, 30, f.Iterations()[device.Sensitivity])
	assert.Equal(t, 10, f.Iterations()[device.Aperture])
	assert.Equal(t, 1, f.PixelStride())
	assert.True(t, f.UseGreenChannelOnly())
	assert.Equal(t, 500*time.Millisecond, f.SettlingDelay())
	assert.Equal(t, 150*time.Millisecond, f.StepDelay())
	assert.Equal(t, 2*time.Second, f.FrameTimeout())
	assert.Equal(t, metric.KindDispersion, f.Metric())
	assert.Equal(t, 0.0001, f.SaturationThreshold())
	assert.Equal(t, 350.0, f.Seeds()[device.Sensitivity])
	assert.Equal(t, BackendV4L2, f.Device().Backend)
	assert.Empty(t, f.Schedule())
	assert.False(t, f.AllowNonRootAccess())
	assert.Empty(t, f.DeviceRanges())

	want := map[device.ChannelID]valuerange.Range{
		device.Sensitivity: valuerange.Continuous{Lower: 100, Upper: math.MaxInt64},
		device.Exposure:    valuerange.Continuous{Lower: 3000000, Upper: 50090000},
	}
	if diff := cmp.Diff(want, f.PracticalRanges()); diff != "" {
		t.Errorf("PracticalRanges() mismatch (-want +got):\n%s", diff)
	}
	assert.NoError(t, f.Validate())
}

func TestLoadOverrides(t *testing.T) {
	p := filepath.Join(t.TempDir(), "camtune.json")
	require.NoError(t, os.WriteFile(p, []byte(`{
  "channelOrder": ["exposure", "aperture"],
  "iterations": {"exposure": 20},
  "pixelStride": 4,
  "useGreenChannelOnly": false,
  "metric": "saturation",
  "practicalRanges": {"exposure": {"lower": 1000, "upper": 2000}},
  "deviceRanges": {"aperture": {"values": [2.8, 1.8]}},
  "seeds": {"exposure": 1500},
  "device": {"backend": "mock"}
}`), 0644))

	f, err := NewFile(p)
	require.NoError(t, err)
	require.NoError(t, f.Validate())

	assert.Equal(t, []device.ChannelID{device.Exposure, device.Aperture}, f.ChannelOrder())
	assert.Equal(t, 20, f.Iterations()[device.Exposure])
	assert.Equal(t, 30, f.Iterations()[device.Sensitivity])
	assert.Equal(t, 4, f.PixelStride())
	assert.False(t, f.UseGreenChannelOnly())
	assert.Equal(t, metric.KindSaturation, f.Metric())
	assert.Equal(t, valuerange.Continuous{Lower: 1000, Upper: 2000}, f.PracticalRanges()[device.Exposure])
	assert.Equal(t, valuerange.Discrete{Values: []float64{2.8, 1.8}}, f.DeviceRanges()[device.Aperture])
	assert.Equal(t, 1500.0, f.Seeds()[device.Exposure])
	assert.Equal(t, 350.0, f.Seeds()[device.Sensitivity])

	d := f.Device()
	assert.Equal(t, BackendMock, d.Backend)
	assert.Equal(t, "/dev/video0", d.Path)
	assert.Equal(t, 1280, d.Width)

	opts := CalibrationOptions(f)
	require.NoError(t, opts.Validate())
	assert.Equal(t, 5, opts.StepSize(device.Exposure))
	assert.Equal(t, 4, opts.MetricOptions.PixelStride)
}

func TestLoadEmptyFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), "camtune.json")
	require.NoError(t, os.WriteFile(p, []byte("  \n"), 0644))
	f, err := NewFile(p)
	require.NoError(t, err)
	assert.Equal(t, 1, f.PixelStride())
}

func TestLoadInvalidJSON(t *testing.T) {
	p := filepath.Join(t.TempDir(), "camtune.json")
	require.NoError(t, os.WriteFile(p, []byte("{"), 0644))
	_, err := NewFile(p)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		raw  RawFileConfig
	}{
		{name: "stride", raw: RawFileConfig{PixelStride: intPtr(0)}},
		{name: "threshold", raw: RawFileConfig{SaturationThresholdRatio: floatPtr(1.5)}},
		{name: "iterations", raw: RawFileConfig{Iterations: map[string]int{"exposure": 0}}},
		{name: "channel", raw: RawFileConfig{ChannelOrder: []string{"focus"}}},
		{name: "metric", raw: RawFileConfig{Metric: strPtr("sharpness")}},
		{name: "inverted range", raw: RawFileConfig{PracticalRanges: map[string]RangeConfig{
			"exposure": {Lower: int64Ptr(10), Upper: int64Ptr(5)},
		}}},
		{name: "backend", raw: RawFileConfig{Device: &DeviceConfig{Backend: "firewire"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := tt.raw
			f := NewFileFromConfig(&raw, "")
			assert.Error(t, f.Validate())
		})
	}
}

func TestSetters(t *testing.T) {
	p := filepath.Join(t.TempDir(), "camtune.json")
	f := NewFileFromConfig(nil, p)

	f.SetUseGreenChannelOnly(false)
	require.NoError(t, f.SetPixelStride(3))
	assert.Error(t, f.SetPixelStride(0))
	require.NoError(t, f.SetMetric(metric.KindSaturation))
	assert.Error(t, f.SetMetric("nope"))
	f.SetSchedule("0 3 * * *")
	f.SetAllowNonRootAccess(true)
	require.NoError(t, f.Save())

	g, err := NewFile(p)
	require.NoError(t, err)
	assert.False(t, g.UseGreenChannelOnly())
	assert.Equal(t, 3, g.PixelStride())
	assert.Equal(t, metric.KindSaturation, g.Metric())
	assert.Equal(t, "0 3 * * *", g.Schedule())
	assert.True(t, g.AllowNonRootAccess())
	assert.Equal(t, p, g.Path())
	assert.Equal(t, 3, *g.Raw().PixelStride)
}

func intPtr(i int) *int           { return &i }
func int64Ptr(i int64) *int64     { return &i }
func floatPtr(f float64) *float64 { return &f }
func strPtr(s string) *string     { return &s }
