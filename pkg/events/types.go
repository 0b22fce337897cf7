package events

import "encoding/json"

// Event name constants
const (
	CalibrationAction   = "calibration.action"
	CalibrationPhase    = "calibration.phase"
	CalibrationProgress = "calibration.progress"
	CalibrationCommit   = "calibration.commit"
	CalibrationResult   = "calibration.result"
	PreviewScore        = "preview.score"
)

// Event is a generic SSE event from daemon.
type Event struct {
	Name string          // SSE event name
	Data json.RawMessage // Raw JSON payload
}

// CalibrationActionEvent is the typed payload for calibration.action. It
// covers user and scheduler initiated actions.
type CalibrationActionEvent struct {
	Action  string `json:"action"`
	Message string `json:"message,omitempty"`
	Ts      int64  `json:"ts"`
}

// Calibration actions.
const (
	ActionStart            = "start"
	ActionAbort            = "abort"
	ActionUpcoming         = "upcoming"
	ActionSchedule         = "schedule"
	ActionScheduleDisable  = "schedule-disable"
	ActionSchedulePostpone = "schedule-postpone"
	ActionScheduleSkip     = "schedule-skip"
	ActionScheduleError    = "schedule-error"
)

// CalibrationPhaseEvent is the typed payload for calibration.phase. It is
// sent when a run starts, when a channel is skipped and when a run ends.
type CalibrationPhaseEvent struct {
	RunID   string `json:"runId"`
	Kind    string `json:"kind"`
	Phase   string `json:"phase"`
	Channel string `json:"channel,omitempty"`
	Message string `json:"message,omitempty"`
	Ts      int64  `json:"ts"`
}

// CalibrationProgressEvent is the typed payload for calibration.progress and
// calibration.commit.
type CalibrationProgressEvent struct {
	RunID    string  `json:"runId"`
	Channel  string  `json:"channel"`
	Position int     `json:"position"`
	Value    float64 `json:"value"`
	Score    float64 `json:"score"`
	Ts       int64   `json:"ts"`
}

// CalibrationResultEvent is the typed payload for calibration.result.
type CalibrationResultEvent struct {
	RunID     string             `json:"runId"`
	Committed map[string]float64 `json:"committed"`
	Skipped   map[string]string  `json:"skipped,omitempty"`
	Tag       string             `json:"tag"`
	Abandoned bool               `json:"abandoned,omitempty"`
	Ts        int64              `json:"ts"`
}

// PreviewScoreEvent is the typed payload for preview.score.
type PreviewScoreEvent struct {
	Metric string  `json:"metric"`
	Score  float64 `json:"score"`
	Seq    uint64  `json:"seq"`
	Ts     int64   `json:"ts"`
}

// DecodeAs decodes the event payload into the caller-specified generic type T.
// It ignores the event name and simply unmarshals Data into T. If Data is empty,
// it returns the zero value of T with a nil error.
//
// Example:
//
//	payload, err := events.DecodeAs[events.CalibrationProgressEvent](ev)
//	if err != nil { /* handle */ }
//	fmt.Println(payload.Channel, payload.Value)
func DecodeAs[T any](e Event) (T, error) {
	var zero T
	if len(e.Data) == 0 {
		return zero, nil
	}
	var v T
	if err := json.Unmarshal(e.Data, &v); err != nil {
		return zero, err
	}
	return v, nil
}
