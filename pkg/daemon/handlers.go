package daemon

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/camtune/camtune/pkg/calibration"
	"github.com/camtune/camtune/pkg/config"
	"github.com/camtune/camtune/pkg/device"
	"github.com/camtune/camtune/pkg/metric"
	"github.com/camtune/camtune/pkg/types"
	"github.com/camtune/camtune/pkg/version"
)

func getConfig(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, conf.Raw())
}

// syncOptions pushes the config to the controller. While a run is active
// the new options are picked up by the next run instead.
func syncOptions() error {
	err := controller.SetOptions(config.CalibrationOptions(conf))
	if errors.Is(err, calibration.ErrCalibrationInProgress) {
		logrus.Debug("calibration in progress, options apply to the next run")
		return nil
	}
	return err
}

func setGreenChannelOnly(c *gin.Context) {
	var g bool
	if err := c.BindJSON(&g); err != nil {
		abortWithStatus(c, http.StatusBadRequest, err)
		return
	}

	if controller.IsCalibrating() {
		abortWithStatus(c, http.StatusConflict, fmt.Errorf("cannot change the luma channel while calibrating"))
		return
	}

	conf.SetUseGreenChannelOnly(g)
	if err := conf.Save(); err != nil {
		logrus.Errorf("saveConfig failed: %v", err)
		abortWithStatus(c, http.StatusInternalServerError, err)
		return
	}
	if err := syncOptions(); err != nil {
		abortWithStatus(c, http.StatusInternalServerError, err)
		return
	}

	logrus.Infof("set use green channel only to %t", g)

	c.IndentedJSON(http.StatusCreated, "ok")
}

func setPixelStride(c *gin.Context) {
	var s int
	if err := c.BindJSON(&s); err != nil {
		abortWithStatus(c, http.StatusBadRequest, err)
		return
	}

	if err := conf.SetPixelStride(s); err != nil {
		abortWithStatus(c, http.StatusBadRequest, err)
		return
	}
	if err := conf.Save(); err != nil {
		logrus.Errorf("saveConfig failed: %v", err)
		abortWithStatus(c, http.StatusInternalServerError, err)
		return
	}
	if err := syncOptions(); err != nil {
		abortWithStatus(c, http.StatusInternalServerError, err)
		return
	}

	logrus.Infof("set pixel stride to %d", s)

	c.IndentedJSON(http.StatusCreated, fmt.Sprintf("pixel stride set to %d", s))
}

func setMetric(c *gin.Context) {
	var m string
	if err := c.BindJSON(&m); err != nil {
		abortWithStatus(c, http.StatusBadRequest, err)
		return
	}

	if controller.IsCalibrating() {
		abortWithStatus(c, http.StatusConflict, fmt.Errorf("cannot change the metric while calibrating"))
		return
	}

	if err := conf.SetMetric(metric.Kind(m)); err != nil {
		abortWithStatus(c, http.StatusBadRequest, err)
		return
	}
	if err := conf.Save(); err != nil {
		logrus.Errorf("saveConfig failed: %v", err)
		abortWithStatus(c, http.StatusInternalServerError, err)
		return
	}
	if err := syncOptions(); err != nil {
		abortWithStatus(c, http.StatusInternalServerError, err)
		return
	}

	logrus.Infof("set metric to %s", m)

	c.IndentedJSON(http.StatusCreated, fmt.Sprintf("metric set to %s", m))
}

func getChannels(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, controller.Channels())
}

func setChannelPosition(c *gin.Context) {
	id, err := device.ParseChannelID(c.Param("name"))
	if err != nil {
		abortWithStatus(c, http.StatusNotFound, err)
		return
	}

	var p int
	if err := c.BindJSON(&p); err != nil {
		abortWithStatus(c, http.StatusBadRequest, err)
		return
	}
	if p < 0 || p > 100 {
		abortWithStatus(c, http.StatusBadRequest, fmt.Errorf("position must be between 0 and 100, got %d", p))
		return
	}

	value, err := controller.SetPosition(id, p)
	switch {
	case errors.Is(err, calibration.ErrCalibrationInProgress):
		abortWithStatus(c, http.StatusConflict, err)
		return
	case errors.Is(err, calibration.ErrUnknownChannel), errors.Is(err, device.ErrChannelNotSupported):
		abortWithStatus(c, http.StatusNotFound, err)
		return
	case err != nil:
		logrus.WithError(err).WithField("channel", id).Error("failed to set channel position")
		abortWithStatus(c, http.StatusInternalServerError, err)
		return
	}

	logrus.WithFields(logrus.Fields{
		"channel":  id,
		"position": p,
		"value":    value,
	}).Info("set channel position")

	c.IndentedJSON(http.StatusCreated, value)
}

func postStartCalibration(c *gin.Context) {
	if err := startCalibration(); err != nil {
		if errors.Is(err, calibration.ErrCalibrationInProgress) {
			abortWithStatus(c, http.StatusConflict, err)
			return
		}
		abortWithStatus(c, http.StatusInternalServerError, err)
		return
	}
	c.IndentedJSON(http.StatusCreated, getCalibrationStatus())
}

func postAbortCalibration(c *gin.Context) {
	if err := abortCalibration(); err != nil {
		if errors.Is(err, calibration.ErrNotCalibrating) {
			abortWithStatus(c, http.StatusConflict, err)
			return
		}
		abortWithStatus(c, http.StatusInternalServerError, err)
		return
	}
	c.IndentedJSON(http.StatusCreated, "ok")
}

func getCalibration(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, getCalibrationStatus())
}

func getCalibrationResult(c *gin.Context) {
	res, err := lastResult()
	if err != nil {
		if errors.Is(err, calibration.ErrNoResult) {
			abortWithStatus(c, http.StatusNotFound, err)
			return
		}
		abortWithStatus(c, http.StatusInternalServerError, err)
		return
	}
	c.IndentedJSON(http.StatusOK, res)
}

func getSchedule(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, types.ScheduleResponse{
		Expr:     scheduler.Expr(),
		NextRuns: scheduler.NextRuns(scheduleRunsShown),
	})
}

func setSchedule(c *gin.Context) {
	var expr string
	if err := c.BindJSON(&expr); err != nil {
		abortWithStatus(c, http.StatusBadRequest, err)
		return
	}

	runs, err := schedule(expr)
	if err != nil {
		abortWithStatus(c, http.StatusBadRequest, err)
		return
	}
	c.IndentedJSON(http.StatusCreated, types.ScheduleResponse{Expr: expr, NextRuns: runs})
}

func postponeSchedule(c *gin.Context) {
	var s string
	if err := c.BindJSON(&s); err != nil {
		abortWithStatus(c, http.StatusBadRequest, err)
		return
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		abortWithStatus(c, http.StatusBadRequest, err)
		return
	}
	if err := postpone(d); err != nil {
		abortWithStatus(c, http.StatusBadRequest, err)
		return
	}
	next, _ := scheduler.Status()
	c.IndentedJSON(http.StatusCreated, next)
}

func skipSchedule(c *gin.Context) {
	if err := skipNextSchedule(); err != nil {
		abortWithStatus(c, http.StatusBadRequest, err)
		return
	}
	next, _ := scheduler.Status()
	c.IndentedJSON(http.StatusCreated, next)
}

// getTelemetry reports the live preview and the calibration status. Either
// part can be left out with preview=0 or calibration=0.
func getTelemetry(c *gin.Context) {
	var t types.Telemetry
	if c.Query("preview") != "0" {
		t.Preview = previewTelemetry()
	}
	if c.Query("calibration") != "0" {
		st := getCalibrationStatus()
		t.Calibration = &st
	}
	c.IndentedJSON(http.StatusOK, t)
}

// streamEvents streams hub events as server-sent events until the client
// goes away. The events query parameter is a comma separated list of event
// names or families to stream.
func streamEvents(c *gin.Context) {
	var names []string
	if q := c.Query("events"); q != "" {
		names = strings.Split(q, ",")
	}
	ch := sseHub.Subscribe(names...)
	defer sseHub.Unsubscribe(ch)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case ev, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent(ev.Name, string(ev.Data))
			return true
		case <-ctx.Done():
			return false
		case <-daemonCtx.Done():
			return false
		}
	})
}

func getVersion(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, version.Version)
}
