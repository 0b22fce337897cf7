//go:build linux

package v4l2

import (
	"bytes"
	"context"
	"image/jpeg"
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	v4ldevice "github.com/vladimirvivien/go4vl/device"
	v4l2ctl "github.com/vladimirvivien/go4vl/v4l2"

	"github.com/camtune/camtune/pkg/device"
	"github.com/camtune/camtune/pkg/frame"
	"github.com/camtune/camtune/pkg/valuerange"
)

const (
	defaultPath   = "/dev/video0"
	defaultWidth  = 640
	defaultHeight = 480
	streamBuffers = 4
)

func init() {
	device.Register("v4l2", func(ctx context.Context, cfg device.OpenConfig) (device.Session, error) {
		return Open(ctx, cfg)
	})
}

// Session is an open V4L2 capture device.
type Session struct {
	dev      *v4ldevice.Device
	frames   <-chan []byte
	cancel   context.CancelFunc
	maxWidth int

	mu       sync.Mutex
	seq      uint64
	channels map[device.ChannelID]*Channel
	closed   bool
}

var _ device.Session = &Session{}

// Open opens the device at cfg.Path and starts an MJPEG stream. The stream
// runs until Close.
func Open(_ context.Context, cfg device.OpenConfig) (*Session, error) {
	path := cfg.Path
	if path == "" {
		path = defaultPath
	}
	w, h := cfg.Width, cfg.Height
	if w <= 0 || h <= 0 {
		w, h = defaultWidth, defaultHeight
	}

	dev, err := v4ldevice.Open(path,
		v4ldevice.WithPixFormat(v4l2ctl.PixFormat{
			PixelFormat: v4l2ctl.PixelFmtMJPEG,
			Width:       uint32(w),
			Height:      uint32(h),
			Field:       v4l2ctl.FieldNone,
		}),
		v4ldevice.WithBufferSize(streamBuffers),
	)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to open %s", path)
	}

	streamCtx, cancel := context.WithCancel(context.Background())
	if err := dev.Start(streamCtx); err != nil {
		cancel()
		_ = dev.Close()
		return nil, pkgerrors.Wrapf(err, "failed to start streaming from %s", path)
	}

	s := &Session{
		dev:      dev,
		frames:   dev.GetOutput(),
		cancel:   cancel,
		maxWidth: cfg.MaxWidth,
		channels: make(map[device.ChannelID]*Channel),
	}
	s.probe()

	logrus.WithFields(logrus.Fields{
		"path":     path,
		"width":    w,
		"height":   h,
		"channels": len(s.channels),
	}).Info("v4l2 device opened")
	return s, nil
}

// probe finds a supported control for each channel.
func (s *Session) probe() {
	for id, candidates := range channelControls {
		for _, c := range candidates {
			ctrl, err := v4l2ctl.GetControl(s.dev.Fd(), v4l2ctl.CtrlID(c.id))
			if err != nil {
				logrus.WithError(err).WithFields(logrus.Fields{
					"channel": id,
					"control": c.id,
				}).Debug("control not supported")
				continue
			}
			s.channels[id] = &Channel{
				id:      id,
				ctl:     c,
				min:     int64(ctrl.Minimum),
				max:     int64(ctrl.Maximum),
				value:   c.fromControl(int64(ctrl.Value)),
				session: s,
			}
			break
		}
	}
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

func (s *Session) SetManual(manual bool) error {
	mode := exposureAperturePriority
	if manual {
		mode = exposureManual
	}
	if err := s.setControl(ctrlExposureAuto, int64(mode)); err != nil {
		return pkgerrors.Wrap(err, "failed to set exposure mode")
	}
	if _, ok := s.channels[device.Sensitivity]; ok {
		isoAuto := int64(1)
		if manual {
			isoAuto = 0
		}
		// Not every ISO capable driver exposes the auto switch.
		_ = s.setControl(ctrlISOAuto, isoAuto)
	}
	return nil
}

func (s *Session) Manual() (bool, error) {
	v, err := v4l2ctl.GetControlValue(s.dev.Fd(), v4l2ctl.CtrlID(ctrlExposureAuto))
	if err != nil {
		return false, pkgerrors.Wrap(err, "failed to read exposure mode")
	}
	return isManualMode(int64(v)), nil
}

func (s *Session) setControl(id uint32, value int64) error {
	return s.dev.SetControlValue(v4l2ctl.CtrlID(id), v4l2ctl.CtrlValue(value))
}

// NextFrame drops frames queued before the call and decodes the next one.
// Frames that fail to decode come back empty.
func (s *Session) NextFrame(ctx context.Context) (*frame.Frame, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, device.ErrSourceClosed
	}

drain:
	for {
		select {
		case _, ok := <-s.frames:
			if !ok {
				return nil, device.ErrSourceClosed
			}
		default:
			break drain
		}
	}

	var b []byte
	select {
	case data, ok := <-s.frames:
		if !ok {
			return nil, device.ErrSourceClosed
		}
		b = data
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	s.mu.Lock()
	s.seq++
	seq := s.seq
	params := make(map[string]float64, len(s.channels))
	for id, c := range s.channels {
		params[string(id)] = c.value
	}
	s.mu.Unlock()

	img, err := jpeg.Decode(bytes.NewReader(b))
	if err != nil {
		logrus.WithError(err).WithField("seq", seq).Debug("failed to decode frame")
		return &frame.Frame{Seq: seq, Captured: time.Now(), Params: params}, nil
	}
	f := frame.FromImage(img, s.maxWidth)
	f.Seq = seq
	f.Captured = time.Now()
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

	s.cancel()
	return s.dev.Close()
}

// Channel is a V4L2 backed device.ParamChannel.
type Channel struct {
	id       device.ChannelID
	ctl      control
	min, max int64
	value    float64
	session  *Session
}

func (c *Channel) ID() device.ChannelID { return c.id }

func (c *Channel) CapabilityRange() (valuerange.Range, error) {
	r := c.ctl.toRange(c.min, c.max)
	if !r.Valid() {
		return nil, valuerange.ErrRangeUnavailable
	}
	return r, nil
}

func (c *Channel) Apply(value float64) error {
	raw := c.ctl.toControl(value, c.min, c.max)
	if err := c.session.setControl(c.ctl.id, raw); err != nil {
		return pkgerrors.Wrapf(err, "failed to set %s", c.id)
	}
	c.session.mu.Lock()
	c.value = c.ctl.fromControl(raw)
	c.session.mu.Unlock()
	return nil
}

func (c *Channel) Current() (float64, error) {
	ctrl, err := v4l2ctl.GetControl(c.session.dev.Fd(), v4l2ctl.CtrlID(c.ctl.id))
	if err != nil {
		c.session.mu.Lock()
		defer c.session.mu.Unlock()
		return c.value, nil
	}
	v := c.ctl.fromControl(int64(ctrl.Value))
	c.session.mu.Lock()
	c.value = v
	c.session.mu.Unlock()
	return v, nil
}
