//go:build opencv

package opencv

import (
	"context"
	"strconv"
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gocv.io/x/gocv"

	"github.com/camtune/camtune/pkg/device"
	"github.com/camtune/camtune/pkg/frame"
	"github.com/camtune/camtune/pkg/valuerange"
)

// staleFrames are grabbed and dropped before each read so the returned
// frame was exposed after the call.
const staleFrames = 2

func init() {
	device.Register("opencv", func(ctx context.Context, cfg device.OpenConfig) (device.Session, error) {
		return Open(ctx, cfg)
	})
}

var properties = map[device.ChannelID]gocv.VideoCaptureProperties{
	device.Exposure:    gocv.VideoCaptureExposure,
	device.Sensitivity: gocv.VideoCaptureGain,
}

// Session is an OpenCV VideoCapture.
type Session struct {
	// capMu serializes VideoCapture calls.
	capMu    sync.Mutex
	cap      *gocv.VideoCapture
	maxWidth int

	mu       sync.Mutex
	seq      uint64
	values   map[device.ChannelID]float64
	channels map[device.ChannelID]*Channel
	closed   bool
}

var _ device.Session = &Session{}

// Open opens cfg.Path, which is either a camera index or a URL/file.
func Open(_ context.Context, cfg device.OpenConfig) (*Session, error) {
	var src interface{} = cfg.Path
	if idx, err := strconv.Atoi(cfg.Path); err == nil {
		src = idx
	} else if cfg.Path == "" {
		src = 0
	}

	vc, err := gocv.OpenVideoCapture(src)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to open video capture %v", src)
	}
	if cfg.Width > 0 && cfg.Height > 0 {
		vc.Set(gocv.VideoCaptureFrameWidth, float64(cfg.Width))
		vc.Set(gocv.VideoCaptureFrameHeight, float64(cfg.Height))
	}

	s := &Session{
		cap:      vc,
		maxWidth: cfg.MaxWidth,
		values:   make(map[device.ChannelID]float64),
		channels: make(map[device.ChannelID]*Channel),
	}
	for id, prop := range properties {
		s.channels[id] = &Channel{id: id, prop: prop, session: s}
		s.values[id] = fromProperty(id, vc.Get(prop))
	}

	logrus.WithFields(logrus.Fields{
		"source": src,
		"width":  vc.Get(gocv.VideoCaptureFrameWidth),
		"height": vc.Get(gocv.VideoCaptureFrameHeight),
	}).Info("opencv capture opened")
	return s, nil
}

func (s *Session) Channel(id device.ChannelID) (device.ParamChannel, error) {
	c, ok := s.channels[id]
	if !ok {
		return nil, device.ErrChannelNotSupported
	}
	return c, nil
}

func (s *Session) SetManual(manual bool) error {
	mode := autoExposureAuto
	if manual {
		mode = autoExposureManual
	}
	s.capMu.Lock()
	defer s.capMu.Unlock()
	s.cap.Set(gocv.VideoCaptureAutoExposure, mode)
	return nil
}

func (s *Session) Manual() (bool, error) {
	s.capMu.Lock()
	defer s.capMu.Unlock()
	return isManualExposure(s.cap.Get(gocv.VideoCaptureAutoExposure)), nil
}

type readResult struct {
	f   *frame.Frame
	err error
}

// NextFrame reads on a helper goroutine so ctx can cut the wait short. A
// read that outlives ctx finishes in the background and is discarded.
func (s *Session) NextFrame(ctx context.Context) (*frame.Frame, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, device.ErrSourceClosed
	}

	out := make(chan readResult, 1)
	go func() {
		f, err := s.read()
		out <- readResult{f: f, err: err}
	}()

	select {
	case r := <-out:
		return r.f, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Session) read() (*frame.Frame, error) {
	s.capMu.Lock()
	defer s.capMu.Unlock()

	if !s.cap.IsOpened() {
		return nil, device.ErrSourceClosed
	}

	mat := gocv.NewMat()
	defer mat.Close()

	s.cap.Grab(staleFrames)
	if ok := s.cap.Read(&mat); !ok {
		return nil, device.ErrSourceClosed
	}

	s.mu.Lock()
	s.seq++
	seq := s.seq
	params := make(map[string]float64, len(s.values))
	for id, v := range s.values {
		params[string(id)] = v
	}
	s.mu.Unlock()

	empty := &frame.Frame{Seq: seq, Captured: time.Now(), Params: params}
	if mat.Empty() {
		return empty, nil
	}
	img, err := mat.ToImage()
	if err != nil {
		logrus.WithError(err).WithField("seq", seq).Debug("failed to convert frame")
		return empty, nil
	}
	f := frame.FromImage(img, s.maxWidth)
	f.Seq = seq
	f.Captured = empty.Captured
	f.Params = params
	return f, nil
}

func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.capMu.Lock()
	defer s.capMu.Unlock()
	return s.cap.Close()
}

// Channel is a VideoCapture property.
type Channel struct {
	id      device.ChannelID
	prop    gocv.VideoCaptureProperties
	session *Session
}

func (c *Channel) ID() device.ChannelID { return c.id }

// CapabilityRange always fails: OpenCV has no way to ask for property
// limits. Configure deviceRanges instead.
func (c *Channel) CapabilityRange() (valuerange.Range, error) {
	return nil, valuerange.ErrRangeUnavailable
}

func (c *Channel) Apply(value float64) error {
	c.session.capMu.Lock()
	c.session.cap.Set(c.prop, toProperty(c.id, value))
	c.session.capMu.Unlock()

	c.session.mu.Lock()
	c.session.values[c.id] = value
	c.session.mu.Unlock()
	return nil
}

func (c *Channel) Current() (float64, error) {
	c.session.mu.Lock()
	defer c.session.mu.Unlock()
	return c.session.values[c.id], nil
}
