package opencv

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/camtune/camtune/pkg/device"
)

func TestPropertyScaling(t *testing.T) {
	assert.Equal(t, 150.0, toProperty(device.Exposure, 15000000))
	assert.Equal(t, 15000000.0, fromProperty(device.Exposure, 150))
	assert.Equal(t, 400.0, toProperty(device.Sensitivity, 400))
	assert.Equal(t, 1.8, toProperty(device.Aperture, 1.8))
}

func TestIsManualExposure(t *testing.T) {
	assert.True(t, isManualExposure(autoExposureManual))
	assert.True(t, isManualExposure(1))
	assert.False(t, isManualExposure(autoExposureAuto))
	assert.False(t, isManualExposure(3))
}
