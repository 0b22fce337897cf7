package calibration

import "errors"

var (
	ErrNoChannels            = errors.New("no channels to calibrate")
	ErrCalibrationInProgress = errors.New("calibration already in progress")
	ErrNotCalibrating        = errors.New("calibration not running")
	ErrClosed                = errors.New("controller closed")
	ErrUnknownChannel        = errors.New("channel not in calibration order")
	ErrNoResult              = errors.New("no calibration result yet")
	ErrFrameTimeout          = errors.New("no frame within timeout")
)
