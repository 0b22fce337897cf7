// Package device defines the capture hardware collaborators of the
// calibration engine: parameter channels that can be read and set, and a
// source of decoded frames.
package device

import (
	"context"
	"errors"
	"fmt"

	"github.com/camtune/camtune/pkg/frame"
	"github.com/camtune/camtune/pkg/valuerange"
)

// ChannelID identifies an independently controllable capture parameter.
type ChannelID string

const (
	// Sensitivity is sensor gain, in ISO units.
	Sensitivity ChannelID = "sensitivity"
	// Exposure is the light integration time, in nanoseconds.
	Exposure ChannelID = "exposure"
	// Aperture is the lens f-number, a discrete channel.
	Aperture ChannelID = "aperture"
)

// KnownChannels lists every channel identifier in display order.
var KnownChannels = []ChannelID{Sensitivity, Exposure, Aperture}

// ParseChannelID validates s as a known channel identifier.
func ParseChannelID(s string) (ChannelID, error) {
	for _, c := range KnownChannels {
		if string(c) == s {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown channel %q", s)
}

var (
	ErrChannelNotSupported = errors.New("channel not supported by device")
	ErrSourceClosed        = errors.New("frame source closed")
)

// ParamChannel is a capture parameter of the live session.
type ParamChannel interface {
	ID() ChannelID
	// CapabilityRange returns the hardware reported valid range.
	CapabilityRange() (valuerange.Range, error)
	// Apply pushes value into the capture pipeline. It takes effect on the
	// next frame or soon after.
	Apply(value float64) error
	// Current returns the last applied value.
	Current() (float64, error)
}

// FrameSource yields decoded frames.
type FrameSource interface {
	// NextFrame blocks until a frame newer than the call is available or ctx
	// is done.
	NextFrame(ctx context.Context) (*frame.Frame, error)
}

// Session is an open capture device.
type Session interface {
	FrameSource
	// Channel returns the channel with the given id, or
	// ErrChannelNotSupported.
	Channel(id ChannelID) (ParamChannel, error)
	// SetManual turns the device's automatic exposure on or off.
	SetManual(manual bool) error
	// Manual reports whether automatic exposure is off.
	Manual() (bool, error)
	Close() error
}
