package client

import (
	"encoding/json"
	"net/url"
	"strconv"
	"time"

	pkgerrors "github.com/pkg/errors"

	"github.com/camtune/camtune/pkg/calibration"
	"github.com/camtune/camtune/pkg/config"
	"github.com/camtune/camtune/pkg/device"
	"github.com/camtune/camtune/pkg/metric"
	"github.com/camtune/camtune/pkg/types"
)

func (c *Client) GetConfig() (*config.RawFileConfig, error) {
	ret, err := c.Get("/config")
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get config")
	}

	var conf config.RawFileConfig
	if err := json.Unmarshal([]byte(ret), &conf); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal config")
	}

	return &conf, nil
}

func (c *Client) SetGreenChannelOnly(enabled bool) (string, error) {
	ret, err := c.Put("/config/green-channel-only", strconv.FormatBool(enabled))
	return unquote(ret), err
}

func (c *Client) SetPixelStride(stride int) (string, error) {
	ret, err := c.Put("/config/pixel-stride", strconv.Itoa(stride))
	return unquote(ret), err
}

func (c *Client) SetMetric(kind metric.Kind) (string, error) {
	payload, err := json.Marshal(string(kind))
	if err != nil {
		return "", err
	}
	ret, err := c.Put("/config/metric", string(payload))
	return unquote(ret), err
}

func (c *Client) GetChannels() ([]calibration.ChannelInfo, error) {
	ret, err := c.Get("/channels")
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get channels")
	}

	var infos []calibration.ChannelInfo
	if err := json.Unmarshal([]byte(ret), &infos); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal channels")
	}
	return infos, nil
}

// SetChannelPosition applies the value at position (0-100) on a channel and
// returns the value applied.
func (c *Client) SetChannelPosition(id device.ChannelID, position int) (float64, error) {
	ret, err := c.Put("/channels/"+url.PathEscape(string(id))+"/position", strconv.Itoa(position))
	if err != nil {
		return 0, pkgerrors.Wrapf(err, "failed to set position of %s", id)
	}
	var v float64
	if err := json.Unmarshal([]byte(ret), &v); err != nil {
		return 0, pkgerrors.Wrapf(err, "failed to unmarshal applied value")
	}
	return v, nil
}

func (c *Client) StartCalibration() (*calibration.Status, error) {
	ret, err := c.Post("/calibration/start", "")
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to start calibration")
	}
	var st calibration.Status
	if err := json.Unmarshal([]byte(ret), &st); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal calibration status")
	}
	return &st, nil
}

func (c *Client) AbortCalibration() (string, error) {
	ret, err := c.Post("/calibration/abort", "")
	return unquote(ret), err
}

func (c *Client) GetCalibration() (*calibration.Status, error) {
	ret, err := c.Get("/calibration")
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get calibration status")
	}
	var st calibration.Status
	if err := json.Unmarshal([]byte(ret), &st); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal calibration status")
	}
	return &st, nil
}

// GetCalibrationResult returns the latest result. The error wraps
// ErrNotFound when no run has finished yet.
func (c *Client) GetCalibrationResult() (*calibration.Result, error) {
	ret, err := c.Get("/calibration/result")
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get calibration result")
	}
	var res calibration.Result
	if err := json.Unmarshal([]byte(ret), &res); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal calibration result")
	}
	return &res, nil
}

func (c *Client) GetSchedule() (*types.ScheduleResponse, error) {
	ret, err := c.Get("/schedule")
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get schedule")
	}
	return parseScheduleResponse(ret)
}

// Schedule sets the cron expression for scheduled calibrations. An empty
// expression disables them.
func (c *Client) Schedule(cronExpr string) (*types.ScheduleResponse, error) {
	payload, err := json.Marshal(cronExpr)
	if err != nil {
		return nil, err
	}
	ret, err := c.Put("/schedule", string(payload))
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to set schedule")
	}
	return parseScheduleResponse(ret)
}

// Postpone moves the next scheduled run back by d and returns its new time.
func (c *Client) Postpone(d time.Duration) (time.Time, error) {
	payload, err := json.Marshal(d.String())
	if err != nil {
		return time.Time{}, err
	}
	ret, err := c.Post("/schedule/postpone", string(payload))
	if err != nil {
		return time.Time{}, pkgerrors.Wrapf(err, "failed to postpone calibration")
	}
	return parseTimeResponse(ret)
}

// SkipSchedule skips the next scheduled run and returns the one after it.
func (c *Client) SkipSchedule() (time.Time, error) {
	ret, err := c.Post("/schedule/skip", "")
	if err != nil {
		return time.Time{}, pkgerrors.Wrapf(err, "failed to skip next calibration")
	}
	return parseTimeResponse(ret)
}

// GetTelemetry fetches the preview and calibration telemetry; set preview or
// calibration to false to exclude that part.
func (c *Client) GetTelemetry(includePreview, includeCalibration bool) (*types.Telemetry, error) {
	q := url.Values{}
	if !includePreview {
		q.Set("preview", "0")
	}
	if !includeCalibration {
		q.Set("calibration", "0")
	}
	path := "/telemetry"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	ret, err := c.Get(path)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get telemetry")
	}
	var t types.Telemetry
	if err := json.Unmarshal([]byte(ret), &t); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal telemetry")
	}
	return &t, nil
}

func (c *Client) GetVersion() (string, error) {
	ret, err := c.Get("/version")
	if err != nil {
		return "", pkgerrors.Wrapf(err, "failed to get version")
	}
	return unquote(ret), nil
}

func parseScheduleResponse(ret string) (*types.ScheduleResponse, error) {
	var sr types.ScheduleResponse
	if err := json.Unmarshal([]byte(ret), &sr); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal schedule")
	}
	return &sr, nil
}

func parseTimeResponse(ret string) (time.Time, error) {
	var t time.Time
	if err := json.Unmarshal([]byte(ret), &t); err != nil {
		return time.Time{}, pkgerrors.Wrapf(err, "failed to unmarshal time")
	}
	return t, nil
}
