package calibration

import (
	"fmt"
	"math"
	"time"

	"github.com/camtune/camtune/pkg/device"
	"github.com/camtune/camtune/pkg/metric"
	"github.com/camtune/camtune/pkg/valuerange"
)

// DefaultIterations is used for channels without an explicit iteration count.
const DefaultIterations = 10

// Options configure a Controller.
type Options struct {
	// Order lists the channels in the order they are calibrated.
	Order []device.ChannelID
	// Iterations is the number of search steps per channel. The position
	// step is 100/iterations.
	Iterations map[device.ChannelID]int
	// PracticalRanges narrow the device ranges. Channels without one are
	// searched over their whole device range.
	PracticalRanges map[device.ChannelID]valuerange.Range
	// DeviceRanges replace what the device reports. Backends that cannot
	// query capabilities rely on these.
	DeviceRanges map[device.ChannelID]valuerange.Range
	// Seeds are applied before the search starts and anchor the best
	// candidate of each channel.
	Seeds map[device.ChannelID]float64

	Metric        metric.Kind
	MetricOptions metric.Options
	// Evaluator replaces Metric and MetricOptions when set.
	Evaluator metric.Evaluator

	// SettlingDelay is waited once after the seeds are applied.
	SettlingDelay time.Duration
	// StepDelay is waited after each apply before a frame is requested.
	StepDelay time.Duration
	// FrameTimeout bounds the wait for each frame.
	FrameTimeout time.Duration
}

// DefaultOptions returns options suitable for a phone-class camera.
func DefaultOptions() Options {
	return Options{
		Order: []device.ChannelID{device.Sensitivity, device.Exposure},
		Iterations: map[device.ChannelID]int{
			device.Sensitivity: 30,
			device.Exposure:    30,
			device.Aperture:    DefaultIterations,
		},
		PracticalRanges: map[device.ChannelID]valuerange.Range{
			device.Sensitivity: valuerange.Continuous{Lower: 100, Upper: math.MaxInt64},
			device.Exposure:    valuerange.Continuous{Lower: 3000000, Upper: 50090000},
		},
		Seeds: map[device.ChannelID]float64{
			device.Sensitivity: 350,
			device.Exposure:    15000000,
		},
		Metric: metric.KindDispersion,
		MetricOptions: metric.Options{
			PixelStride:         1,
			GreenOnly:           true,
			SaturationThreshold: metric.DefaultSaturationThreshold,
		},
		SettlingDelay: 500 * time.Millisecond,
		StepDelay:     150 * time.Millisecond,
		FrameTimeout:  2 * time.Second,
	}
}

// Validate checks the options for obvious mistakes.
func (o *Options) Validate() error {
	if len(o.Order) == 0 {
		return ErrNoChannels
	}
	seen := make(map[device.ChannelID]bool, len(o.Order))
	for _, id := range o.Order {
		if seen[id] {
			return fmt.Errorf("channel %s listed twice", id)
		}
		seen[id] = true
		if n, ok := o.Iterations[id]; ok && (n < 1 || n > valuerange.MaxPosition) {
			return fmt.Errorf("iterations for %s must be within [1, %d], got %d", id, valuerange.MaxPosition, n)
		}
	}
	if o.SettlingDelay < 0 || o.StepDelay < 0 {
		return fmt.Errorf("delays must not be negative")
	}
	if o.FrameTimeout <= 0 {
		return fmt.Errorf("frame timeout must be positive, got %s", o.FrameTimeout)
	}
	return nil
}

// StepSize returns the position increment used when searching id.
func (o *Options) StepSize(id device.ChannelID) int {
	n, ok := o.Iterations[id]
	if !ok || n < 1 {
		n = DefaultIterations
	}
	step := valuerange.MaxPosition / n
	if step < 1 {
		step = 1
	}
	return step
}

func (o *Options) evaluator() (metric.Evaluator, error) {
	if o.Evaluator != nil {
		return o.Evaluator, nil
	}
	return metric.New(o.Metric, o.MetricOptions)
}
