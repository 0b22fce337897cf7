package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/camtune/camtune/pkg/calibration"
	"github.com/camtune/camtune/pkg/config"
	"github.com/camtune/camtune/pkg/events"
)

// scheduleRunsShown is how many upcoming runs schedule reports.
const scheduleRunsShown = 3

var lastPhase calibration.Phase

// publishCalibrationEvent forwards controller events to the SSE hub. It runs
// on the controller's goroutine and must not block.
func publishCalibrationEvent(e calibration.Event) {
	switch e.Kind {
	case calibration.EventProgress:
		sseHub.Publish(events.CalibrationProgress, events.CalibrationProgressEvent{
			RunID: e.RunID, Channel: string(e.Channel), Position: e.Position,
			Value: e.Value, Score: e.Score, Ts: e.Ts,
		})
		return
	case calibration.EventCommitted:
		sseHub.Publish(events.CalibrationCommit, events.CalibrationProgressEvent{
			RunID: e.RunID, Channel: string(e.Channel), Position: e.Position,
			Value: e.Value, Score: e.Score, Ts: e.Ts,
		})
		return
	}

	// Throttle phase logs to changes only.
	if e.Phase != lastPhase {
		lastPhase = e.Phase
		logrus.WithFields(logrus.Fields{
			"run":   e.RunID,
			"kind":  e.Kind,
			"phase": e.Phase,
		}).Debug("calibration phase event")
	}

	sseHub.Publish(events.CalibrationPhase, events.CalibrationPhaseEvent{
		RunID: e.RunID, Kind: string(e.Kind), Phase: string(e.Phase),
		Channel: string(e.Channel), Message: e.Message, Ts: e.Ts,
	})

	if e.Kind != calibration.EventFinished && e.Kind != calibration.EventAbandoned {
		return
	}
	res, err := controller.Result()
	if err != nil {
		return
	}
	sseHub.Publish(events.CalibrationResult, resultEvent(res))
	if !res.Abandoned {
		persistResult(res)
	}
}

func resultEvent(res *calibration.Result) events.CalibrationResultEvent {
	committed := make(map[string]float64, len(res.Committed))
	for id, v := range res.Committed {
		committed[string(id)] = v
	}
	skipped := make(map[string]string, len(res.Skipped))
	for id, why := range res.Skipped {
		skipped[string(id)] = why
	}
	return events.CalibrationResultEvent{
		RunID:     res.RunID,
		Committed: committed,
		Skipped:   skipped,
		Tag:       res.Tag(),
		Abandoned: res.Abandoned,
		Ts:        res.FinishedAt.Unix(),
	}
}

func publishAction(action, msg string) {
	sseHub.Publish(events.CalibrationAction, events.CalibrationActionEvent{
		Action:  action,
		Message: msg,
		Ts:      time.Now().Unix(),
	})
}

// persistResult writes res next to the config file so it can be re-applied
// on the next start.
func persistResult(res *calibration.Result) {
	if resultPath == "" {
		return
	}
	b, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		logrus.WithError(err).Error("failed to marshal calibration result")
		return
	}
	if err := os.WriteFile(resultPath, b, 0644); err != nil {
		logrus.WithError(err).WithField("path", resultPath).Error("failed to write calibration result")
	}
}

// loadLastResult reads the persisted result. A missing file is not an error.
func loadLastResult() (*calibration.Result, error) {
	if resultPath == "" {
		return nil, nil
	}
	b, err := os.ReadFile(resultPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, pkgerrors.Wrapf(err, "failed to read %s", resultPath)
	}
	var res calibration.Result
	if err := json.Unmarshal(b, &res); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal %s", resultPath)
	}
	return &res, nil
}

// applyLastResult puts the committed values of the persisted result back on
// the device.
func applyLastResult() error {
	res, err := loadLastResult()
	if err != nil || res == nil || len(res.Committed) == 0 {
		return err
	}
	if err := session.SetManual(true); err != nil {
		return pkgerrors.Wrap(err, "failed to disable automatic exposure")
	}
	if err := controller.Restore(res.Committed); err != nil {
		return err
	}
	logrus.WithFields(logrus.Fields{
		"run":       res.RunID,
		"committed": res.Committed,
		"tag":       res.Tag(),
	}).Info("re-applied last calibration result")
	return nil
}

// lastResult returns the result of this process's latest run, falling back
// to the persisted one.
func lastResult() (*calibration.Result, error) {
	res, err := controller.Result()
	if err == nil {
		return res, nil
	}
	persisted, perr := loadLastResult()
	if perr != nil {
		logrus.WithError(perr).Warn("failed to load persisted calibration result")
	}
	if persisted != nil {
		return persisted, nil
	}
	return nil, err
}

// startCalibration syncs the controller with the config and starts a run.
func startCalibration() error {
	if !controller.IsCalibrating() {
		if err := controller.SetOptions(config.CalibrationOptions(conf)); err != nil && !errors.Is(err, calibration.ErrCalibrationInProgress) {
			return pkgerrors.Wrap(err, "failed to apply calibration options")
		}
	}
	release := holdPreview()
	err := controller.Start(daemonCtx)
	release()
	if err != nil {
		return err
	}
	publishAction(events.ActionStart, "Calibration started")
	return nil
}

func abortCalibration() error {
	if err := controller.Abort(); err != nil {
		return err
	}
	publishAction(events.ActionAbort, "Calibration aborted")
	return nil
}

// scheduledCalibration is the scheduler task: one run, waited for.
func scheduledCalibration() error {
	if err := startCalibration(); err != nil {
		return err
	}
	<-controller.Done()
	res, err := controller.Result()
	if err != nil {
		return err
	}
	if res.Abandoned {
		return fmt.Errorf("scheduled calibration %s was abandoned", res.RunID)
	}
	return nil
}

// schedulePreCheck makes sure a scheduled run can start: nothing else is
// calibrating and the frame source delivers frames.
func schedulePreCheck() error {
	if controller.IsCalibrating() {
		return calibration.ErrCalibrationInProgress
	}
	if last := frameRecorder.GetLastRecord(); !last.IsZero() && time.Since(last) < 2*loopInterval() {
		return nil
	}
	ctx, cancel := context.WithTimeout(daemonCtx, conf.FrameTimeout())
	defer cancel()
	if _, err := session.NextFrame(ctx); err != nil {
		return pkgerrors.Wrap(err, "frame source is not delivering frames")
	}
	return nil
}

func onUpcomingCalibration(data any) {
	at, ok := data.(time.Time)
	if !ok {
		return
	}
	logrus.Infof("scheduled calibration at %s", at.Format(time.DateTime))
	publishAction(events.ActionUpcoming, fmt.Sprintf("Calibration starts at %s", at.Format(time.TimeOnly)))
}

func onScheduleError(data any) {
	err, ok := data.(error)
	if !ok {
		return
	}
	logrus.WithError(err).Warn("scheduled calibration failed")
	publishAction(events.ActionScheduleError, err.Error())
}

func getCalibrationStatus() calibration.Status {
	st := controller.Status()
	if next, running := scheduler.Status(); running {
		st.ScheduledAt = next
	}
	return st
}

// applySchedule points the scheduler at cronExpr. An empty expression
// disables scheduling.
func applySchedule(cronExpr string) error {
	if cronExpr == "" {
		scheduler.Unschedule()
		return nil
	}
	if err := scheduler.Schedule(cronExpr); err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}
	scheduler.Start()
	return nil
}

// schedule sets the cron expression for scheduled calibrations, saves it
// and returns the next run times.
func schedule(cronExpr string) ([]time.Time, error) {
	if cronExpr == "" {
		if conf.Schedule() == "" {
			// Already disabled
			return nil, nil
		}
		conf.SetSchedule("")
		if err := conf.Save(); err != nil {
			logrus.WithError(err).Error("failed to save config")
			return nil, fmt.Errorf("failed to save config: %w", err)
		}
		_ = applySchedule("")
		publishAction(events.ActionScheduleDisable, "Calibration schedule disabled")
		return nil, nil
	}

	if _, err := cronParser.Parse(cronExpr); err != nil {
		return nil, fmt.Errorf("invalid cron expression: %w", err)
	}

	conf.SetSchedule(cronExpr)
	if err := conf.Save(); err != nil {
		logrus.WithError(err).Error("failed to save config")
		return nil, fmt.Errorf("failed to save config: %w", err)
	}
	if err := applySchedule(cronExpr); err != nil {
		logrus.WithError(err).Error("failed to schedule calibration")
		return nil, err
	}

	nextRuns := scheduler.NextRuns(scheduleRunsShown)
	if len(nextRuns) > 0 {
		publishAction(events.ActionSchedule, fmt.Sprintf("Calibration scheduled at %s", nextRuns[0].Format("Jan _2 15:04")))
	}
	return nextRuns, nil
}

func postpone(duration time.Duration) error {
	if err := scheduler.Postpone(duration); err != nil {
		logrus.WithError(err).Error("failed to postpone calibration")
		return err
	}
	publishAction(events.ActionSchedulePostpone, fmt.Sprintf("Calibration postponed for %s", duration))
	return nil
}

func skipNextSchedule() error {
	if err := scheduler.Skip(); err != nil {
		logrus.WithError(err).Error("failed to skip next scheduled calibration")
		return err
	}
	publishAction(events.ActionScheduleSkip, "Next scheduled calibration skipped")
	return nil
}
