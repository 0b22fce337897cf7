package types

import (
	"time"

	"github.com/camtune/camtune/pkg/calibration"
)

// PreviewTelemetry is the live image score measured by the daemon while no
// calibration runs. It is shared between the daemon and client packages.
type PreviewTelemetry struct {
	Metric     string    `json:"metric"`
	Score      float64   `json:"score"`
	Seq        uint64    `json:"seq"`
	CapturedAt time.Time `json:"capturedAt"`
	// Frames is the number of consecutive preview frames in the health
	// window; Expected is how many there should have been.
	Frames   int      `json:"frames"`
	Expected int      `json:"expected"`
	Healthy  bool     `json:"healthy"`
	Recent   []string `json:"recent,omitempty"`
	Error    string   `json:"error,omitempty"`
}

// Telemetry is the response of GET /telemetry.
type Telemetry struct {
	Preview     *PreviewTelemetry   `json:"preview,omitempty"`
	Calibration *calibration.Status `json:"calibration,omitempty"`
}

// ScheduleResponse is the response of the schedule endpoints.
type ScheduleResponse struct {
	Expr     string      `json:"expr"`
	NextRuns []time.Time `json:"nextRuns"`
}
