package main

import (
	"github.com/camtune/camtune/pkg/calibration"
	"github.com/camtune/camtune/pkg/config"
	"github.com/camtune/camtune/pkg/types"
)

type statusJSON struct {
	Preview  *types.PreviewTelemetry `json:"preview,omitempty"`
	Channels []statusChannelJSON     `json:"channels"`
	// Calibration is omitted when telemetry data is unavailable.
	Calibration   *calibration.Status `json:"calibration,omitempty"`
	LastResult    *statusResultJSON   `json:"lastResult,omitempty"`
	Configuration statusConfigJSON    `json:"configuration"`
}

type statusChannelJSON struct {
	ID        string  `json:"id"`
	Value     float64 `json:"value"`
	Position  *int    `json:"position"`
	Effective string  `json:"effective,omitempty"`
	Error     string  `json:"error,omitempty"`
}

type statusResultJSON struct {
	RunID     string             `json:"runId"`
	Committed map[string]float64 `json:"committed"`
	Tag       string             `json:"tag"`
	Abandoned bool               `json:"abandoned"`
}

type statusConfigJSON struct {
	ChannelOrder        []string `json:"channelOrder"`
	Metric              string   `json:"metric"`
	UseGreenChannelOnly bool     `json:"useGreenChannelOnly"`
	PixelStride         int      `json:"pixelStride"`
	SettlingDelayMs     int64    `json:"settlingDelayMs"`
	StepDelayMs         int64    `json:"stepDelayMs"`
	FrameTimeoutMs      int64    `json:"frameTimeoutMs"`
	Backend             string   `json:"backend"`
	DevicePath          string   `json:"devicePath"`
	Schedule            string   `json:"schedule"`
	AllowNonRootAccess  bool     `json:"allowNonRootAccess"`
}

func buildStatusJSON(data *statusData) statusJSON {
	conf := config.NewFileFromConfig(data.config, "")

	out := statusJSON{
		Channels: make([]statusChannelJSON, 0, len(data.channels)),
	}
	if data.telemetry != nil {
		out.Preview = data.telemetry.Preview
		out.Calibration = data.telemetry.Calibration
	}
	for _, ci := range data.channels {
		out.Channels = append(out.Channels, statusChannelJSON{
			ID:        string(ci.ID),
			Value:     ci.Value,
			Position:  ci.Position,
			Effective: ci.Effective,
			Error:     ci.Error,
		})
	}
	if res := data.result; res != nil {
		committed := make(map[string]float64, len(res.Committed))
		for id, v := range res.Committed {
			committed[string(id)] = v
		}
		out.LastResult = &statusResultJSON{
			RunID:     res.RunID,
			Committed: committed,
			Tag:       res.Tag(),
			Abandoned: res.Abandoned,
		}
	}

	order := make([]string, 0)
	for _, id := range conf.ChannelOrder() {
		order = append(order, string(id))
	}
	d := conf.Device()
	out.Configuration = statusConfigJSON{
		ChannelOrder:        order,
		Metric:              string(conf.Metric()),
		UseGreenChannelOnly: conf.UseGreenChannelOnly(),
		PixelStride:         conf.PixelStride(),
		SettlingDelayMs:     conf.SettlingDelay().Milliseconds(),
		StepDelayMs:         conf.StepDelay().Milliseconds(),
		FrameTimeoutMs:      conf.FrameTimeout().Milliseconds(),
		Backend:             d.Backend,
		DevicePath:          d.Path,
		Schedule:            conf.Schedule(),
		AllowNonRootAccess:  conf.AllowNonRootAccess(),
	}
	return out
}
