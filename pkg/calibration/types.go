package calibration

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/camtune/camtune/pkg/device"
	"github.com/camtune/camtune/pkg/metric"
)

// Phase defines phases of a calibration run.
type Phase string

const (
	PhaseIdle          Phase = "Idle"
	PhaseSearching     Phase = "SearchingChannel"
	PhaseAwaitingFrame Phase = "AwaitingFrame"
	PhaseEvaluated     Phase = "Evaluated"
	PhaseAdvancing     Phase = "AdvancingChannel"
	PhaseCommitting    Phase = "Committing"
	PhaseDone          Phase = "Done"
)

// Active reports whether a run is in progress in this phase.
func (p Phase) Active() bool {
	return p != PhaseIdle && p != PhaseDone && p != ""
}

// State is the bookkeeping of the run in progress.
type State struct {
	RunID        string             `json:"runId"`
	Phase        Phase              `json:"phase"`
	StartedAt    time.Time          `json:"startedAt"`
	Order        []device.ChannelID `json:"order"`
	ChannelIndex int                `json:"channelIndex"`
	Position     int                `json:"position"`
	Step         int                `json:"step"`
	Evaluations  int                `json:"evaluations"`
	LastError    string             `json:"lastError"`
}

// Channel returns the channel being searched, or "" when none is.
func (s *State) Channel() device.ChannelID {
	if s.ChannelIndex < 0 || s.ChannelIndex >= len(s.Order) {
		return ""
	}
	return s.Order[s.ChannelIndex]
}

// Status is a snapshot of the controller for the HTTP API and the CLI.
type Status struct {
	Phase        Phase             `json:"phase"`
	Calibrating  bool              `json:"calibrating"`
	RunID        string            `json:"runId,omitempty"`
	StartedAt    time.Time         `json:"startedAt"`
	Channel      device.ChannelID  `json:"channel,omitempty"`
	ChannelIndex int               `json:"channelIndex"`
	ChannelCount int               `json:"channelCount"`
	Position     int               `json:"position"`
	Step         int               `json:"step"`
	Evaluations  int               `json:"evaluations"`
	Best         *metric.Candidate `json:"best,omitempty"`
	BestScore    float64           `json:"bestScore"`
	Metric       metric.Kind       `json:"metric"`
	Message      string            `json:"message,omitempty"`
	ScheduledAt  time.Time         `json:"scheduledAt,omitempty"`
}

// Result is the outcome of a finished or abandoned run.
type Result struct {
	RunID      string    `json:"runId"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
	// Committed maps each calibrated channel to its committed value.
	Committed map[device.ChannelID]float64 `json:"committed"`
	// Scores maps each calibrated channel to the score of its committed value.
	Scores map[device.ChannelID]float64 `json:"scores"`
	// Skipped maps each channel that was not calibrated to the reason.
	Skipped map[device.ChannelID]string `json:"skipped,omitempty"`
	// Final holds every channel's value after the run.
	Final map[device.ChannelID]float64 `json:"final"`
	// Abandoned is set when the run was torn down before Done.
	Abandoned bool `json:"abandoned,omitempty"`
}

func newResult(runID string, startedAt time.Time) *Result {
	return &Result{
		RunID:     runID,
		StartedAt: startedAt,
		Committed: make(map[device.ChannelID]float64),
		Scores:    make(map[device.ChannelID]float64),
		Skipped:   make(map[device.ChannelID]string),
		Final:     make(map[device.ChannelID]float64),
	}
}

var tagNames = []struct {
	id   device.ChannelID
	name string
}{
	{device.Sensitivity, "iso"},
	{device.Exposure, "exp"},
	{device.Aperture, "aper"},
}

// Tag encodes the final channel values for use in a recording's file name,
// e.g. "iso:350_exp:15000000_aper:1.8".
func (r *Result) Tag() string {
	var parts []string
	for _, t := range tagNames {
		v, ok := r.Final[t.id]
		if !ok {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s:%s", t.name, strconv.FormatFloat(v, 'f', -1, 64)))
	}
	return strings.Join(parts, "_")
}

// EventKind names a controller notification.
type EventKind string

const (
	EventStarted   EventKind = "started"
	EventProgress  EventKind = "progress"
	EventSkipped   EventKind = "skipped"
	EventCommitted EventKind = "committed"
	EventTimeout   EventKind = "timeout"
	EventFinished  EventKind = "finished"
	EventAbandoned EventKind = "abandoned"
)

// Event is a controller notification for the presentation side.
type Event struct {
	Kind     EventKind        `json:"kind"`
	RunID    string           `json:"runId"`
	Phase    Phase            `json:"phase"`
	Channel  device.ChannelID `json:"channel,omitempty"`
	Position int              `json:"position"`
	Value    float64          `json:"value"`
	Score    float64          `json:"score"`
	Message  string           `json:"message,omitempty"`
	Ts       int64            `json:"ts"`
}

// NotifyFunc receives controller events. It must not block.
type NotifyFunc func(Event)
