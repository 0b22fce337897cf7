package config

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"strings"
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/camtune/camtune/pkg/device"
	"github.com/camtune/camtune/pkg/metric"
	"github.com/camtune/camtune/pkg/utils/ptr"
	"github.com/camtune/camtune/pkg/valuerange"
)

var (
	defaultFileConfig = &RawFileConfig{
		ChannelOrder: []string{string(device.Sensitivity), string(device.Exposure)},
		Iterations: map[string]int{
			string(device.Sensitivity): 30,
			string(device.Exposure):    30,
			string(device.Aperture):    10,
		},
		PixelStride:              ptr.To(1),
		UseGreenChannelOnly:      ptr.To(true),
		SettlingDelayMs:          ptr.To(500),
		StepDelayMs:              ptr.To(150),
		FrameTimeoutMs:           ptr.To(2000),
		Metric:                   ptr.To(string(metric.KindDispersion)),
		SaturationThresholdRatio: ptr.To(metric.DefaultSaturationThreshold),
		PracticalRanges: map[string]RangeConfig{
			// Very low ISO values are mostly noise on phone-class sensors.
			string(device.Sensitivity): {Lower: ptr.To(int64(100)), Upper: ptr.To(int64(math.MaxInt64))},
			// 3ms to 50.09ms, in nanoseconds.
			string(device.Exposure): {Lower: ptr.To(int64(3000000)), Upper: ptr.To(int64(50090000))},
		},
		Seeds: map[string]float64{
			string(device.Sensitivity): 350,
			string(device.Exposure):    15000000,
		},
		EvalMaxWidth:      ptr.To(0),
		PreviewIntervalMs: ptr.To(2000),
		Device: &DeviceConfig{
			Backend: BackendV4L2,
			Path:    "/dev/video0",
			Width:   1280,
			Height:  720,
		},
		Schedule:           ptr.To(""),
		AllowNonRootAccess: ptr.To(false),
	}
)

var _ Config = &File{}

type File struct {
	c        *RawFileConfig
	mu       *sync.RWMutex
	filepath string
}

func NewFile(configPath string) (*File, error) {
	f := &File{
		filepath: configPath,
		mu:       &sync.RWMutex{},
	}
	err := f.Load()
	if err != nil {
		return nil, err
	}

	return f, nil
}

func NewFileFromConfig(c *RawFileConfig, configPath string) *File {
	if c == nil {
		c = &RawFileConfig{}
	}

	f := &File{
		c:        c,
		mu:       &sync.RWMutex{},
		filepath: configPath,
	}

	return f
}

// RawFileConfig is the on-disk form. Unset fields take their defaults. Map
// entries override the default entry for the same channel only.
type RawFileConfig struct {
	ChannelOrder             []string               `json:"channelOrder,omitempty"`
	Iterations               map[string]int         `json:"iterations,omitempty"`
	PixelStride              *int                   `json:"pixelStride,omitempty"`
	UseGreenChannelOnly      *bool                  `json:"useGreenChannelOnly,omitempty"`
	SettlingDelayMs          *int                   `json:"settlingDelayMs,omitempty"`
	StepDelayMs              *int                   `json:"stepDelayMs,omitempty"`
	FrameTimeoutMs           *int                   `json:"frameTimeoutMs,omitempty"`
	Metric                   *string                `json:"metric,omitempty"`
	SaturationThresholdRatio *float64               `json:"saturationThresholdRatio,omitempty"`
	PracticalRanges          map[string]RangeConfig `json:"practicalRanges,omitempty"`
	DeviceRanges             map[string]RangeConfig `json:"deviceRanges,omitempty"`
	Seeds                    map[string]float64     `json:"seeds,omitempty"`
	EvalMaxWidth             *int                   `json:"evalMaxWidth,omitempty"`
	PreviewIntervalMs        *int                   `json:"previewIntervalMs,omitempty"`
	Device                   *DeviceConfig          `json:"device,omitempty"`
	Schedule                 *string                `json:"schedule,omitempty"`
	AllowNonRootAccess       *bool                  `json:"allowNonRootAccess,omitempty"`
}

// RangeConfig is a continuous range when Values is empty and a discrete one
// otherwise.
type RangeConfig struct {
	Lower  *int64    `json:"lower,omitempty"`
	Upper  *int64    `json:"upper,omitempty"`
	Values []float64 `json:"values,omitempty"`
}

// Range converts r. A continuous range needs both bounds.
func (r RangeConfig) Range() (valuerange.Range, error) {
	if len(r.Values) > 0 {
		return valuerange.Discrete{Values: append([]float64(nil), r.Values...)}, nil
	}
	if r.Lower == nil || r.Upper == nil {
		return nil, fmt.Errorf("range needs both lower and upper")
	}
	c := valuerange.Continuous{Lower: *r.Lower, Upper: *r.Upper}
	if !c.Valid() {
		return nil, fmt.Errorf("%w: %s", valuerange.ErrInvertedRange, c)
	}
	return c, nil
}

func (f *File) raw() *RawFileConfig {
	if f.c == nil {
		panic("config is nil")
	}
	return f.c
}

func (f *File) ChannelOrder() []device.ChannelID {
	f.mu.RLock()
	defer f.mu.RUnlock()

	names := f.raw().ChannelOrder
	if len(names) == 0 {
		names = defaultFileConfig.ChannelOrder
	}
	out := make([]device.ChannelID, 0, len(names))
	for _, n := range names {
		out = append(out, device.ChannelID(n))
	}
	return out
}

func (f *File) Iterations() map[device.ChannelID]int {
	f.mu.RLock()
	defer f.mu.RUnlock()

	out := make(map[device.ChannelID]int)
	for k, v := range defaultFileConfig.Iterations {
		out[device.ChannelID(k)] = v
	}
	for k, v := range f.raw().Iterations {
		out[device.ChannelID(k)] = v
	}
	return out
}

func (f *File) PixelStride() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return ptr.Deref(f.raw().PixelStride, *defaultFileConfig.PixelStride)
}

func (f *File) UseGreenChannelOnly() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return ptr.Deref(f.raw().UseGreenChannelOnly, *defaultFileConfig.UseGreenChannelOnly)
}

func (f *File) SettlingDelay() time.Duration {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return time.Duration(ptr.Deref(f.raw().SettlingDelayMs, *defaultFileConfig.SettlingDelayMs)) * time.Millisecond
}

func (f *File) StepDelay() time.Duration {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return time.Duration(ptr.Deref(f.raw().StepDelayMs, *defaultFileConfig.StepDelayMs)) * time.Millisecond
}

func (f *File) FrameTimeout() time.Duration {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return time.Duration(ptr.Deref(f.raw().FrameTimeoutMs, *defaultFileConfig.FrameTimeoutMs)) * time.Millisecond
}

func (f *File) Metric() metric.Kind {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return metric.Kind(ptr.Deref(f.raw().Metric, *defaultFileConfig.Metric))
}

func (f *File) SaturationThreshold() float64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return ptr.Deref(f.raw().SaturationThresholdRatio, *defaultFileConfig.SaturationThresholdRatio)
}

// PracticalRanges returns the merged practical ranges. Invalid entries are
// logged and left out; Validate reports them.
func (f *File) PracticalRanges() map[device.ChannelID]valuerange.Range {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return mergeRanges(defaultFileConfig.PracticalRanges, f.raw().PracticalRanges)
}

func (f *File) DeviceRanges() map[device.ChannelID]valuerange.Range {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return mergeRanges(nil, f.raw().DeviceRanges)
}

func mergeRanges(defaults, overrides map[string]RangeConfig) map[device.ChannelID]valuerange.Range {
	merged := make(map[string]RangeConfig, len(defaults)+len(overrides))
	for k, v := range defaults {
		merged[k] = v
	}
	for k, v := range overrides {
		merged[k] = v
	}
	out := make(map[device.ChannelID]valuerange.Range, len(merged))
	for k, v := range merged {
		r, err := v.Range()
		if err != nil {
			logrus.WithError(err).WithField("channel", k).Warn("ignoring invalid range")
			continue
		}
		out[device.ChannelID(k)] = r
	}
	return out
}

func (f *File) Seeds() map[device.ChannelID]float64 {
	f.mu.RLock()
	defer f.mu.RUnlock()

	out := make(map[device.ChannelID]float64)
	for k, v := range defaultFileConfig.Seeds {
		out[device.ChannelID(k)] = v
	}
	for k, v := range f.raw().Seeds {
		out[device.ChannelID(k)] = v
	}
	return out
}

func (f *File) EvalMaxWidth() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return ptr.Deref(f.raw().EvalMaxWidth, *defaultFileConfig.EvalMaxWidth)
}

func (f *File) PreviewInterval() time.Duration {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return time.Duration(ptr.Deref(f.raw().PreviewIntervalMs, *defaultFileConfig.PreviewIntervalMs)) * time.Millisecond
}

// Device returns the device settings, with unset fields taken from the
// defaults.
func (f *File) Device() DeviceConfig {
	f.mu.RLock()
	defer f.mu.RUnlock()

	d := *defaultFileConfig.Device
	if c := f.raw().Device; c != nil {
		if c.Backend != "" {
			d.Backend = c.Backend
		}
		if c.Path != "" {
			d.Path = c.Path
		}
		if c.Width > 0 {
			d.Width = c.Width
		}
		if c.Height > 0 {
			d.Height = c.Height
		}
	}
	return d
}

func (f *File) Schedule() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return ptr.Deref(f.raw().Schedule, *defaultFileConfig.Schedule)
}

func (f *File) AllowNonRootAccess() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return ptr.Deref(f.raw().AllowNonRootAccess, *defaultFileConfig.AllowNonRootAccess)
}

func (f *File) SetUseGreenChannelOnly(b bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.raw().UseGreenChannelOnly = &b
}

func (f *File) SetPixelStride(i int) error {
	if i < 1 {
		return fmt.Errorf("pixel stride must be at least 1, got %d", i)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.raw().PixelStride = &i
	return nil
}

func (f *File) SetMetric(k metric.Kind) error {
	if k != metric.KindDispersion && k != metric.KindSaturation {
		return fmt.Errorf("unknown metric %q", k)
	}
	s := string(k)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.raw().Metric = &s
	return nil
}

func (f *File) SetSchedule(s string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.raw().Schedule = &s
}

func (f *File) SetAllowNonRootAccess(b bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.raw().AllowNonRootAccess = &b
}

func (f *File) Validate() error {
	var problems []string

	order := f.ChannelOrder()
	if len(order) == 0 {
		problems = append(problems, "channelOrder is empty")
	}
	for _, id := range order {
		if _, err := device.ParseChannelID(string(id)); err != nil {
			problems = append(problems, err.Error())
		}
	}
	for id, n := range f.Iterations() {
		if n < 1 || n > valuerange.MaxPosition {
			problems = append(problems, fmt.Sprintf("iterations for %s must be within [1, %d]", id, valuerange.MaxPosition))
		}
	}
	if s := f.PixelStride(); s < 1 {
		problems = append(problems, fmt.Sprintf("pixelStride must be at least 1, got %d", s))
	}
	if r := f.SaturationThreshold(); r <= 0 || r >= 1 {
		problems = append(problems, fmt.Sprintf("saturationThresholdRatio must be within (0, 1), got %v", r))
	}
	if m := f.Metric(); m != metric.KindDispersion && m != metric.KindSaturation {
		problems = append(problems, fmt.Sprintf("unknown metric %q", m))
	}
	if f.SettlingDelay() < 0 || f.StepDelay() < 0 {
		problems = append(problems, "delays must not be negative")
	}
	if f.FrameTimeout() <= 0 {
		problems = append(problems, "frameTimeoutMs must be positive")
	}

	f.mu.RLock()
	raw := f.raw()
	for name, rc := range raw.PracticalRanges {
		if _, err := rc.Range(); err != nil {
			problems = append(problems, fmt.Sprintf("practicalRanges.%s: %s", name, err))
		}
	}
	for name, rc := range raw.DeviceRanges {
		if _, err := rc.Range(); err != nil {
			problems = append(problems, fmt.Sprintf("deviceRanges.%s: %s", name, err))
		}
	}
	f.mu.RUnlock()

	switch b := f.Device().Backend; b {
	case BackendV4L2, BackendOpenCV, BackendMock:
	default:
		problems = append(problems, fmt.Sprintf("unknown device backend %q", b))
	}

	if len(problems) > 0 {
		return pkgerrors.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

func (f *File) Load() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	fp, err := os.Open(f.filepath)
	if err != nil {
		if os.IsNotExist(err) {
			// If the file does not exist, return the empty config.
			// Do not make f.c a nil.
			f.c = &RawFileConfig{}
			return nil
		}
		return pkgerrors.Wrapf(err, "failed to open file %s", f.filepath)
	}
	defer func(fp *os.File) {
		err := fp.Close()
		if err != nil {
			logrus.Warnf("failed to close file %s", f.filepath)
		}
	}(fp)

	// Since we want to tell if the file is empty, using json.Decoder will
	// not work.
	b, err := io.ReadAll(fp)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to read file %s", f.filepath)
	}

	if strings.TrimSpace(string(b)) == "" {
		f.c = &RawFileConfig{}
		return nil
	}

	conf := RawFileConfig{}
	err = json.Unmarshal(b, &conf)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to unmarshal config from file %s", f.filepath)
	}
	f.c = &conf

	return nil
}

func (f *File) Save() error {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.c == nil {
		return pkgerrors.New("config is nil")
	}

	fp, err := os.OpenFile(f.filepath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to open file %s", f.filepath)
	}
	defer func(fp *os.File) {
		err := fp.Close()
		if err != nil {
			logrus.Warnf("failed to close file %s", f.filepath)
		}
	}(fp)

	enc := json.NewEncoder(fp)
	enc.SetIndent("", "  ")
	err = enc.Encode(f.c)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to encode config to file %s", f.filepath)
	}

	return nil
}

// Raw returns a deep enough copy of the on-disk form for the API.
func (f *File) Raw() RawFileConfig {
	f.mu.RLock()
	defer f.mu.RUnlock()
	b, err := json.Marshal(f.raw())
	if err != nil {
		return RawFileConfig{}
	}
	var out RawFileConfig
	_ = json.Unmarshal(b, &out)
	return out
}

// Path returns the file the config is loaded from.
func (f *File) Path() string {
	return f.filepath
}

func (f *File) LogrusFields() logrus.Fields {
	d := f.Device()
	return logrus.Fields{
		"channelOrder":        f.ChannelOrder(),
		"iterations":          f.Iterations(),
		"pixelStride":         f.PixelStride(),
		"useGreenChannelOnly": f.UseGreenChannelOnly(),
		"settlingDelay":       f.SettlingDelay(),
		"stepDelay":           f.StepDelay(),
		"frameTimeout":        f.FrameTimeout(),
		"metric":              f.Metric(),
		"evalMaxWidth":        f.EvalMaxWidth(),
		"backend":             d.Backend,
		"devicePath":          d.Path,
		"schedule":            f.Schedule(),
		"allowNonRootAccess":  f.AllowNonRootAccess(),
	}
}
