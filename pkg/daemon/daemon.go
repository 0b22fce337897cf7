package daemon

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/camtune/camtune/pkg/calibration"
	"github.com/camtune/camtune/pkg/config"
	"github.com/camtune/camtune/pkg/device"
	"github.com/camtune/camtune/pkg/events"
)

var (
	conf       *config.File
	session    device.Session
	controller *calibration.Controller
	sseHub     *events.EventHub
	scheduler  *Scheduler
	// resultPath is where the last result is persisted.
	resultPath string
	// daemonCtx lives until shutdown. Runs started over the API use it.
	daemonCtx = context.Background()
)

func setupRoutes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(ginLogger(logrus.StandardLogger()))
	router.GET("/config", getConfig)
	router.PUT("/config/green-channel-only", setGreenChannelOnly)
	router.PUT("/config/pixel-stride", setPixelStride)
	router.PUT("/config/metric", setMetric)
	router.GET("/channels", getChannels)
	router.PUT("/channels/:name/position", setChannelPosition)
	router.POST("/calibration/start", postStartCalibration)
	router.POST("/calibration/abort", postAbortCalibration)
	router.GET("/calibration", getCalibration)
	router.GET("/calibration/result", getCalibrationResult)
	router.GET("/schedule", getSchedule)
	router.PUT("/schedule", setSchedule)
	router.POST("/schedule/postpone", postponeSchedule)
	router.POST("/schedule/skip", skipSchedule)
	router.GET("/telemetry", getTelemetry)
	router.GET("/events", streamEvents)
	router.GET("/version", getVersion)

	return router
}

// resultPathFor returns the result file next to configPath, e.g.
// /etc/camtune.result.json for /etc/camtune.json.
func resultPathFor(configPath string) string {
	base := strings.TrimSuffix(filepath.Base(configPath), filepath.Ext(configPath))
	return filepath.Join(filepath.Dir(configPath), base+".result.json")
}

// reloadConfig re-reads the config file and applies it to the running
// components.
func reloadConfig() error {
	if err := conf.Load(); err != nil {
		return err
	}
	if err := conf.Validate(); err != nil {
		return err
	}
	if err := syncOptions(); err != nil {
		return err
	}
	if err := applySchedule(conf.Schedule()); err != nil {
		return err
	}
	setLoopInterval(conf.PreviewInterval())
	return nil
}

func Run(configPath string, unixSocketPath string, allowNonRoot bool) error {
	var err error
	conf, err = config.NewFile(configPath)
	if err != nil {
		return pkgerrors.Wrap(err, "failed to parse config during startup")
	}
	if err := conf.Validate(); err != nil {
		return err
	}
	logrus.WithFields(conf.LogrusFields()).Infof("config loaded")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	daemonCtx = ctx

	sseHub = events.NewEventHub()
	resultPath = resultPathFor(configPath)
	setLoopInterval(conf.PreviewInterval())

	d := conf.Device()
	session, err = device.Open(ctx, d.Backend, device.OpenConfig{
		Path:     d.Path,
		Width:    d.Width,
		Height:   d.Height,
		MaxWidth: conf.EvalMaxWidth(),
	})
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to open %s device %s", d.Backend, d.Path)
	}

	controller, err = calibration.NewController(session, config.CalibrationOptions(conf), publishCalibrationEvent)
	if err != nil {
		_ = session.Close()
		return pkgerrors.Wrap(err, "failed to create calibration controller")
	}

	if err := applyLastResult(); err != nil {
		logrus.WithError(err).Warn("failed to re-apply last calibration result")
	}

	scheduler = NewScheduler(scheduledCalibration, schedulePreCheck, onUpcomingCalibration, onScheduleError)
	if err := applySchedule(conf.Schedule()); err != nil {
		logrus.WithError(err).Error("failed to schedule calibration")
	}

	// Receive SIGHUP to reload config
	go func() {
		sigc := make(chan os.Signal, 1)
		signal.Notify(sigc, syscall.SIGHUP)
		for range sigc {
			if err := reloadConfig(); err != nil {
				logrus.Errorf("failed to reload config: %v", err)
				continue
			}
			logrus.WithFields(conf.LogrusFields()).Infof("config reloaded")
		}
	}()

	srv := &http.Server{
		Handler:           setupRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// A socket left behind by a crashed daemon would make Listen fail.
	if fi, err := os.Stat(unixSocketPath); err == nil && fi.Mode()&os.ModeSocket != 0 {
		logrus.Debugf("removing stale socket %s", unixSocketPath)
		_ = os.Remove(unixSocketPath)
	}

	l, err := net.Listen("unix", unixSocketPath)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to listen on %s", unixSocketPath)
	}

	if conf.AllowNonRootAccess() || allowNonRoot {
		logrus.Infof("non-root access is allowed, changing permissions of %s to 0777", unixSocketPath)
		if err := os.Chmod(unixSocketPath, 0777); err != nil {
			return pkgerrors.Wrapf(err, "failed to chmod %s", unixSocketPath)
		}
	}

	// Serve HTTP on unix socket
	go func() {
		logrus.Infof("http server listening on %s", l.Addr().String())
		if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.Fatal(err)
		}
	}()

	go func() {
		logrus.Debugln("preview loop starts")
		infiniteLoop(ctx)
		logrus.Debugln("preview loop exited")
	}()

	// Handle common process-killing signals, so we can gracefully shut down:
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	// Wait for a SIGINT or SIGTERM:
	sig := <-sigc
	logrus.Infof("caught signal \"%s\": shutting down.", sig)

	// Ends event streams and the preview loop, and abandons an active run,
	// which restores the channels it has not committed yet.
	cancel()
	sseHub.Close()

	logrus.Info("shutting down http server")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logrus.Errorf("failed to shutdown http server: %v", err)
	}
	shutdownCancel()

	logrus.Info("stopping scheduler")
	scheduler.Stop()

	logrus.Info("stopping calibration controller")
	if err := controller.Close(); err != nil {
		logrus.Errorf("failed to close calibration controller: %v", err)
	}

	logrus.Info("closing capture device")
	if err := session.Close(); err != nil {
		logrus.Errorf("failed to close capture device: %v", err)
	}

	logrus.Info("exiting")
	return nil
}
