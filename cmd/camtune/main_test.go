package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/camtune/camtune/pkg/calibration"
	"github.com/camtune/camtune/pkg/config"
	"github.com/camtune/camtune/pkg/device"
	"github.com/camtune/camtune/pkg/utils/ptr"
)

func init() {
	color.NoColor = true
}

func TestFormatValue(t *testing.T) {
	assert.Equal(t, "15ms", formatValue(device.Exposure, 15000000))
	assert.Equal(t, "f/1.8", formatValue(device.Aperture, 1.8))
	assert.Equal(t, "400", formatValue(device.Sensitivity, 400))
}

func TestParseChannelArg(t *testing.T) {
	id, err := parseChannelArg(" Exposure ")
	require.NoError(t, err)
	assert.Equal(t, device.Exposure, id)

	_, err = parseChannelArg("focus")
	assert.Error(t, err)
}

func TestPrintResult(t *testing.T) {
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	res := &calibration.Result{
		RunID:      "r1",
		StartedAt:  start,
		FinishedAt: start.Add(1500 * time.Millisecond),
		Committed:  map[device.ChannelID]float64{device.Sensitivity: 400},
		Scores:     map[device.ChannelID]float64{device.Sensitivity: 12.5},
		Skipped:    map[device.ChannelID]string{device.Exposure: "frame timeout"},
		Final:      map[device.ChannelID]float64{device.Sensitivity: 400, device.Exposure: 15000000},
	}

	var buf bytes.Buffer
	printResult(&buf, res)
	out := buf.String()
	assert.Contains(t, out, "Run r1 finished in 1.5s")
	assert.Contains(t, out, "sensitivity: 400 ✔ (score 12.5)")
	assert.Contains(t, out, "exposure: 15ms ✘ (frame timeout)")
	assert.Less(t, bytes.Index(buf.Bytes(), []byte("sensitivity")), bytes.Index(buf.Bytes(), []byte("exposure")))
}

func TestNeedsDaemon(t *testing.T) {
	root := NewCommand()

	for _, tc := range []struct {
		args []string
		want bool
	}{
		{[]string{"status"}, true},
		{[]string{"calibrate", "start"}, true},
		{[]string{"calibrate", "run"}, false},
		{[]string{"version"}, false},
		{[]string{"install"}, false},
	} {
		cmd, _, err := root.Find(tc.args)
		require.NoError(t, err, tc.args)
		assert.Equal(t, tc.want, needsDaemon(cmd), tc.args)
	}
}

func TestCalibrateRunMock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "camtune.json")
	raw := config.RawFileConfig{
		Iterations:      map[string]int{"sensitivity": 5, "exposure": 5},
		SettlingDelayMs: ptr.To(0),
		StepDelayMs:     ptr.To(0),
		Device:          &config.DeviceConfig{Backend: config.BackendMock, Width: 64, Height: 48},
	}
	b, err := json.Marshal(raw)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, b, 0644))

	origConfigPath := configPath
	t.Cleanup(func() { configPath = origConfigPath })

	var out bytes.Buffer
	cmd := NewCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"calibrate", "run", "--config", path, "--log-level", "error"})
	require.NoError(t, cmd.Execute())

	s := out.String()
	assert.Contains(t, s, "committed sensitivity")
	assert.Contains(t, s, "committed exposure")
	assert.Contains(t, s, "Calibration result:")
	assert.Contains(t, s, "Tag: iso:")
}
