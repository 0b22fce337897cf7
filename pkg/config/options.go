package config

import (
	"github.com/camtune/camtune/pkg/calibration"
	"github.com/camtune/camtune/pkg/metric"
)

// CalibrationOptions builds controller options from c.
func CalibrationOptions(c Config) calibration.Options {
	return calibration.Options{
		Order:           c.ChannelOrder(),
		Iterations:      c.Iterations(),
		PracticalRanges: c.PracticalRanges(),
		DeviceRanges:    c.DeviceRanges(),
		Seeds:           c.Seeds(),
		Metric:          c.Metric(),
		MetricOptions: metric.Options{
			PixelStride:         c.PixelStride(),
			GreenOnly:           c.UseGreenChannelOnly(),
			SaturationThreshold: c.SaturationThreshold(),
		},
		SettlingDelay: c.SettlingDelay(),
		StepDelay:     c.StepDelay(),
		FrameTimeout:  c.FrameTimeout(),
	}
}
