// Package v4l2 drives UVC and other V4L2 cameras through go4vl. Frames are
// streamed as MJPEG and decoded on demand.
package v4l2

import (
	"math"

	"github.com/camtune/camtune/pkg/device"
	"github.com/camtune/camtune/pkg/valuerange"
)

// V4L2 control IDs, from linux/v4l2-controls.h.
const (
	ctrlExposureAuto     uint32 = 0x009a0901
	ctrlExposureAbsolute uint32 = 0x009a0902
	ctrlISOSensitivity   uint32 = 0x009a0917
	ctrlISOAuto          uint32 = 0x009a0918
	ctrlGain             uint32 = 0x00980913
)

// V4L2_CID_EXPOSURE_AUTO menu entries.
const (
	exposureManual           = 1
	exposureAperturePriority = 3
)

// isManualMode reports whether a V4L2_CID_EXPOSURE_AUTO value leaves the
// exposure time to the application.
func isManualMode(mode int64) bool {
	return mode == exposureManual
}

// control maps a channel onto a V4L2 control.
type control struct {
	id uint32
	// scale is channel units per control unit.
	scale float64
}

// channelControls lists candidate controls per channel, most specific
// first. Aperture is left out because iris units are driver defined.
var channelControls = map[device.ChannelID][]control{
	// exposure_time_absolute counts 100us units.
	device.Exposure:    {{id: ctrlExposureAbsolute, scale: 100000}},
	device.Sensitivity: {{id: ctrlISOSensitivity, scale: 1}, {id: ctrlGain, scale: 1}},
}

func (c control) toRange(min, max int64) valuerange.Continuous {
	return valuerange.Continuous{
		Lower: int64(math.Round(float64(min) * c.scale)),
		Upper: int64(math.Round(float64(max) * c.scale)),
	}
}

// toControl converts a channel value to the nearest control value inside
// [min, max].
func (c control) toControl(v float64, min, max int64) int64 {
	raw := int64(math.Round(v / c.scale))
	if raw < min {
		return min
	}
	if raw > max {
		return max
	}
	return raw
}

func (c control) fromControl(raw int64) float64 {
	return float64(raw) * c.scale
}
