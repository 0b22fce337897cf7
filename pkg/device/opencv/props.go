// Package opencv captures through OpenCV's VideoCapture. OpenCV cannot
// report property ranges, so channel ranges come from the deviceRanges
// config.
package opencv

import (
	"math"

	"github.com/camtune/camtune/pkg/device"
)

// OpenCV's V4L backend takes 0.25 for manual and 0.75 for automatic
// exposure.
const (
	autoExposureManual = 0.25
	autoExposureAuto   = 0.75
)

// exposureMenuManual is V4L2_EXPOSURE_MANUAL. Some OpenCV builds report
// the raw menu entry instead of the 0.25 convention.
const exposureMenuManual = 1

func isManualExposure(v float64) bool {
	return v == autoExposureManual || v == exposureMenuManual
}

// scales are channel units per property unit. Exposure is set in 100us
// units by the V4L backend.
var scales = map[device.ChannelID]float64{
	device.Exposure:    100000,
	device.Sensitivity: 1,
}

func toProperty(id device.ChannelID, v float64) float64 {
	s, ok := scales[id]
	if !ok {
		return v
	}
	return math.Round(v / s)
}

func fromProperty(id device.ChannelID, v float64) float64 {
	s, ok := scales[id]
	if !ok {
		return v
	}
	return v * s
}
