package config

import (
	"time"

	"github.com/camtune/camtune/pkg/device"
	"github.com/camtune/camtune/pkg/metric"
	"github.com/camtune/camtune/pkg/valuerange"
)

type Config interface {
	ChannelOrder() []device.ChannelID
	Iterations() map[device.ChannelID]int
	PixelStride() int
	UseGreenChannelOnly() bool
	SettlingDelay() time.Duration
	StepDelay() time.Duration
	FrameTimeout() time.Duration
	Metric() metric.Kind
	SaturationThreshold() float64
	PracticalRanges() map[device.ChannelID]valuerange.Range
	DeviceRanges() map[device.ChannelID]valuerange.Range
	Seeds() map[device.ChannelID]float64
	EvalMaxWidth() int
	PreviewInterval() time.Duration
	Device() DeviceConfig
	Schedule() string
	AllowNonRootAccess() bool

	SetUseGreenChannelOnly(bool)
	SetPixelStride(int) error
	SetMetric(metric.Kind) error
	SetSchedule(string)
	SetAllowNonRootAccess(bool)

	// Validate checks the configuration for values the engine cannot use.
	Validate() error
	// Load reads the configuration from the source.
	Load() error
	// Save saves the configuration to the source.
	Save() error
}

// DeviceConfig selects and opens the capture device.
type DeviceConfig struct {
	// Backend is one of "v4l2", "opencv" or "mock".
	Backend string `json:"backend,omitempty"`
	// Path is the device node (v4l2) or index/URL (opencv).
	Path   string `json:"path,omitempty"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
}

// Backend names.
const (
	BackendV4L2   = "v4l2"
	BackendOpenCV = "opencv"
	BackendMock   = "mock"
)
