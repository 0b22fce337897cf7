// Package mock implements an in-memory capture device. Frames are rendered
// from the currently applied channel values so a calibration search has a
// real signal to optimize.
package mock

import (
	"context"
	"image"
	"image/color"
	"math"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/camtune/camtune/pkg/device"
	"github.com/camtune/camtune/pkg/frame"
	"github.com/camtune/camtune/pkg/valuerange"
)

func init() {
	device.Register("mock", func(_ context.Context, cfg device.OpenConfig) (device.Session, error) {
		s := NewDefault()
		if cfg.Width > 0 && cfg.Height > 0 {
			w, h := cfg.Width, cfg.Height
			if cfg.MaxWidth > 0 && w > cfg.MaxWidth {
				h = h * cfg.MaxWidth / w
				w = cfg.MaxWidth
			}
			s.scene = DefaultScene(w, h)
		}
		// Roughly 30 fps.
		s.FrameDelay = 33 * time.Millisecond
		return s, nil
	})
}

// Scene renders a frame for the given channel values.
type Scene func(params map[device.ChannelID]float64) *frame.Frame

// Session is a mock device.Session.
type Session struct {
	mu       sync.Mutex
	channels map[device.ChannelID]*Channel
	scene    Scene
	seq      uint64
	manual   bool
	closed   bool

	// FrameDelay is how long NextFrame waits before returning.
	FrameDelay time.Duration
	// Stall makes NextFrame block until ctx is done.
	Stall bool

	applied      []Applied
	rangeQueries int
}

// Applied is one recorded Apply call.
type Applied struct {
	Channel device.ChannelID
	Value   float64
}

var _ device.Session = &Session{}

// New returns a mock session with the given channels. Initial values are
// taken from initial; channels missing there start at their range's lower
// bound or first discrete value.
func New(ranges map[device.ChannelID]valuerange.Range, initial map[device.ChannelID]float64, scene Scene) *Session {
	s := &Session{
		channels: make(map[device.ChannelID]*Channel, len(ranges)),
		scene:    scene,
	}
	if s.scene == nil {
		s.scene = DefaultScene(64, 48)
	}
	for id, r := range ranges {
		v, ok := initial[id]
		if !ok {
			switch rr := r.(type) {
			case valuerange.Continuous:
				v = float64(rr.Lower)
			case valuerange.Discrete:
				if len(rr.Values) > 0 {
					v = rr.Sorted()[0]
				}
			}
		}
		s.channels[id] = &Channel{id: id, rng: r, value: v, session: s}
	}
	return s
}

// NewDefault returns a mock session with phone camera-like ranges.
func NewDefault() *Session {
	return New(map[device.ChannelID]valuerange.Range{
		device.Sensitivity: valuerange.Continuous{Lower: 50, Upper: 6400},
		device.Exposure:    valuerange.Continuous{Lower: 13000, Upper: 683709000},
		device.Aperture:    valuerange.Discrete{Values: []float64{1.8}},
	}, map[device.ChannelID]float64{
		device.Sensitivity: 800,
		device.Exposure:    20000000,
	}, nil)
}

func (s *Session) Channel(id device.ChannelID) (device.ParamChannel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.channels[id]
	if !ok {
		return nil, device.ErrChannelNotSupported
	}
	return c, nil
}

// MockChannel returns the concrete channel for id, or nil.
func (s *Session) MockChannel(id device.ChannelID) *Channel {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.channels[id]
}

// SetApplyErr makes every later Apply on id fail with err.
func (s *Session) SetApplyErr(id device.ChannelID, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.channels[id]; ok {
		c.ApplyErr = err
	}
}

// SetStall toggles Stall.
func (s *Session) SetStall(stall bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Stall = stall
}

func (s *Session) SetManual(manual bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.manual = manual
	return nil
}

func (s *Session) Manual() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.manual, nil
}

// IsManual is Manual without the error.
func (s *Session) IsManual() bool {
	m, _ := s.Manual()
	return m
}

// RangeQueries returns how many times a capability range was read.
func (s *Session) RangeQueries() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rangeQueries
}

// AppliedValues returns all Apply calls so far, in order.
func (s *Session) AppliedValues() []Applied {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Applied, len(s.applied))
	copy(out, s.applied)
	return out
}

// Values returns the current value of every channel.
func (s *Session) Values() map[device.ChannelID]float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.valuesLocked()
}

func (s *Session) valuesLocked() map[device.ChannelID]float64 {
	out := make(map[device.ChannelID]float64, len(s.channels))
	for id, c := range s.channels {
		out[id] = c.value
	}
	return out
}

func (s *Session) NextFrame(ctx context.Context) (*frame.Frame, error) {
	s.mu.Lock()
	stall, delay, closed := s.Stall, s.FrameDelay, s.closed
	s.mu.Unlock()

	if closed {
		return nil, device.ErrSourceClosed
	}
	if stall {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	s.mu.Lock()
	values := s.valuesLocked()
	s.seq++
	seq := s.seq
	s.mu.Unlock()

	f := s.scene(values)
	if f == nil {
		f = &frame.Frame{}
	}
	f.Seq = seq
	f.Captured = time.Now()
	f.Params = make(map[string]float64, len(values))
	for id, v := range values {
		f.Params[string(id)] = v
	}
	return f, nil
}

func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Channel is a mock device.ParamChannel.
type Channel struct {
	id      device.ChannelID
	rng     valuerange.Range
	value   float64
	session *Session

	// ApplyErr is returned by Apply when set.
	ApplyErr error
}

func (c *Channel) ID() device.ChannelID { return c.id }

func (c *Channel) CapabilityRange() (valuerange.Range, error) {
	c.session.mu.Lock()
	c.session.rangeQueries++
	c.session.mu.Unlock()
	if c.rng == nil {
		return nil, valuerange.ErrRangeUnavailable
	}
	return c.rng, nil
}

func (c *Channel) Apply(value float64) error {
	c.session.mu.Lock()
	defer c.session.mu.Unlock()
	if c.ApplyErr != nil {
		return c.ApplyErr
	}
	logrus.WithFields(logrus.Fields{
		"channel": c.id,
		"value":   value,
	}).Trace("mock apply")
	c.value = value
	c.session.applied = append(c.session.applied, Applied{Channel: c.id, Value: value})
	return nil
}

func (c *Channel) Current() (float64, error) {
	c.session.mu.Lock()
	defer c.session.mu.Unlock()
	return c.value, nil
}

// DefaultScene renders a horizontal gradient whose brightness follows
// sensitivity x exposure. Too little light crushes the gradient into black,
// too much clips it into white, so dispersion peaks in between.
func DefaultScene(w, h int) Scene {
	return func(params map[device.ChannelID]float64) *frame.Frame {
		iso := params[device.Sensitivity]
		exp := params[device.Exposure]
		if iso <= 0 {
			iso = 100
		}
		if exp <= 0 {
			exp = 10000000
		}
		// 400 ISO at 20ms is "correct" exposure.
		gain := iso * exp / (400 * 20000000)

		img := image.NewRGBA(image.Rect(0, 0, w, h))
		for x := 0; x < w; x++ {
			base := float64(x) / float64(max(w-1, 1)) * 255
			v := uint8(math.Min(255, math.Round(base*gain)))
			for y := 0; y < h; y++ {
				img.SetRGBA(x, y, color.RGBA{R: v, G: v, B: v, A: 255})
			}
		}
		return &frame.Frame{Image: img}
	}
}
