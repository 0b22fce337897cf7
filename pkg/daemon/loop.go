package daemon

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/camtune/camtune/pkg/events"
	"github.com/camtune/camtune/pkg/metric"
	"github.com/camtune/camtune/pkg/types"
)

const (
	// healthWindowLoops is how many preview intervals the frame health
	// check looks back.
	healthWindowLoops   = 8
	defaultLoopInterval = 2 * time.Second
)

var (
	previewLoopLock = &sync.Mutex{}
	// loopIntervalNs is the preview interval. It changes on config reload.
	loopIntervalNs atomic.Int64
	frameRecorder  = NewTimeSeriesRecorder(60, defaultLoopInterval)

	lastPreviewMu sync.Mutex
	lastPreview   types.PreviewTelemetry

	// grabMu guards the cancel of the preview grab in flight and the number
	// of holds placed by holdPreview.
	grabMu     sync.Mutex
	grabCancel context.CancelFunc
	grabHolds  int
)

func init() {
	loopIntervalNs.Store(int64(defaultLoopInterval))
}

func loopInterval() time.Duration {
	return time.Duration(loopIntervalNs.Load())
}

// setLoopInterval changes the preview interval. Recorded frames are dropped.
func setLoopInterval(d time.Duration) {
	if d <= 0 {
		d = defaultLoopInterval
	}
	loopIntervalNs.Store(int64(d))
	frameRecorder.SetInterval(d)
}

// TimeSeriesRecorder records the times of the last N preview frames.
type TimeSeriesRecorder struct {
	MaxRecordCount int
	// Interval is the expected spacing of records. Records further apart
	// than Interval plus a second break continuity.
	Interval time.Duration
	Records  []time.Time
	mu       *sync.Mutex
}

// NewTimeSeriesRecorder returns a new TimeSeriesRecorder.
func NewTimeSeriesRecorder(maxRecordCount int, interval time.Duration) *TimeSeriesRecorder {
	return &TimeSeriesRecorder{
		MaxRecordCount: maxRecordCount,
		Interval:       interval,
		Records:        make([]time.Time, 0),
		mu:             &sync.Mutex{},
	}
}

// SetInterval changes the expected spacing and drops the records, which
// were taken at the old spacing.
func (r *TimeSeriesRecorder) SetInterval(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Interval == d {
		return
	}
	r.Interval = d
	r.Records = make([]time.Time, 0)
}

// AddRecord adds a new record.
func (r *TimeSeriesRecorder) AddRecord(t time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Strip the monotonic clock reading so time.Since stays accurate across
	// suspend.
	t = t.Round(0)

	if len(r.Records) >= r.MaxRecordCount {
		r.Records = r.Records[1:]
	}
	r.Records = append(r.Records, t)
}

// GetRecords returns a copy of the records.
func (r *TimeSeriesRecorder) GetRecords() []time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]time.Time(nil), r.Records...)
}

// GetRecordsIn returns the number of continuous records in the last duration.
func (r *TimeSeriesRecorder) GetRecordsIn(last time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	gap := r.Interval + time.Second

	// The newest record must be recent, otherwise the source is stale.
	if len(r.Records) > 0 && time.Since(r.Records[len(r.Records)-1]) >= gap {
		return 0
	}

	count := 0
	for i := len(r.Records) - 1; i >= 0; i-- {
		record := r.Records[i]
		if time.Since(record) > last {
			break
		}

		after := record
		if i+1 < len(r.Records) {
			after = r.Records[i+1]
		}
		if after.Sub(record) >= gap {
			break
		}
		count++
	}

	return count
}

// GetLastRecords returns the records in the last duration, newest first.
func (r *TimeSeriesRecorder) GetLastRecords(last time.Duration) []time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()

	var records []time.Time
	for i := len(r.Records) - 1; i >= 0; i-- {
		record := r.Records[i]
		if time.Since(record) > last {
			break
		}
		records = append(records, record)
	}

	return records
}

// GetLastRecord returns the last record.
func (r *TimeSeriesRecorder) GetLastRecord() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.Records) == 0 {
		return time.Time{}
	}

	return r.Records[len(r.Records)-1]
}

func formatRelativeTimes(times []time.Time) []string {
	var out []string
	for _, t := range times {
		out = append(out, time.Since(t).Round(time.Millisecond).String())
	}
	return out
}

// frameHealth counts the frames seen in the health window against the
// number expected.
func frameHealth() (frames, expected int, healthy bool) {
	window := healthWindowLoops * loopInterval()
	frames = frameRecorder.GetRecordsIn(window + time.Second)
	expected = healthWindowLoops
	return frames, expected, frames >= expected-1
}

// infiniteLoop scores a preview frame every loopInterval until ctx is done.
func infiniteLoop(ctx context.Context) {
	for {
		previewLoop(ctx)
		select {
		case <-ctx.Done():
			return
		case <-time.After(loopInterval()):
		}
	}
}

// holdPreview keeps the preview loop off the frame source until release is
// called. A grab in flight is cut short, and holdPreview returns once the
// preview loop has let go of the source.
func holdPreview() (release func()) {
	grabMu.Lock()
	grabHolds++
	if grabCancel != nil {
		grabCancel()
	}
	grabMu.Unlock()

	previewLoopLock.Lock()
	return func() {
		grabMu.Lock()
		grabHolds--
		grabMu.Unlock()
		previewLoopLock.Unlock()
	}
}

// previewLoop grabs one frame and scores it with the configured metric.
// It yields to calibration runs, which own the frame source while active.
func previewLoop(ctx context.Context) bool {
	previewLoopLock.Lock()
	defer previewLoopLock.Unlock()

	if controller.IsCalibrating() {
		logrus.Trace("calibration in progress, skipping preview")
		return false
	}

	if !frameRecorder.GetLastRecord().IsZero() {
		checkMissedFrames()
	}

	fctx, cancel := context.WithTimeout(ctx, conf.FrameTimeout())
	defer cancel()

	grabMu.Lock()
	if grabHolds > 0 {
		grabMu.Unlock()
		logrus.Trace("frame source held, skipping preview")
		return false
	}
	grabCancel = cancel
	grabMu.Unlock()
	defer func() {
		grabMu.Lock()
		grabCancel = nil
		grabMu.Unlock()
	}()

	f, err := session.NextFrame(fctx)
	if err != nil {
		if errors.Is(fctx.Err(), context.Canceled) && ctx.Err() == nil {
			logrus.Debug("preview grab interrupted by calibration")
			return false
		}
		logrus.WithError(err).Warn("failed to grab preview frame")
		setPreviewError(err)
		return false
	}
	frameRecorder.AddRecord(f.Captured)

	eval, err := metric.New(conf.Metric(), metric.Options{
		PixelStride:         conf.PixelStride(),
		GreenOnly:           conf.UseGreenChannelOnly(),
		SaturationThreshold: conf.SaturationThreshold(),
	})
	if err != nil {
		logrus.WithError(err).Error("failed to create preview evaluator")
		setPreviewError(err)
		return false
	}
	score, err := eval.Score(f)
	if err != nil {
		logrus.WithError(err).WithField("seq", f.Seq).Debug("failed to score preview frame")
		setPreviewError(err)
		return false
	}

	lastPreviewMu.Lock()
	lastPreview = types.PreviewTelemetry{
		Metric:     string(eval.Kind()),
		Score:      score,
		Seq:        f.Seq,
		CapturedAt: f.Captured,
	}
	lastPreviewMu.Unlock()

	printStatus(eval.Kind(), score)

	sseHub.Publish(events.PreviewScore, events.PreviewScoreEvent{
		Metric: string(eval.Kind()),
		Score:  score,
		Seq:    f.Seq,
		Ts:     f.Captured.Unix(),
	})
	return true
}

func setPreviewError(err error) {
	lastPreviewMu.Lock()
	defer lastPreviewMu.Unlock()
	lastPreview.Error = err.Error()
}

func checkMissedFrames() bool {
	frames, expected, healthy := frameHealth()
	if healthy {
		return false
	}
	logrus.WithFields(logrus.Fields{
		"frames":        frames,
		"expected":      expected,
		"recentRecords": formatRelativeTimes(frameRecorder.GetLastRecords(healthWindowLoops * loopInterval())),
	}).Info("possibly missed preview frames")
	return true
}

// previewTelemetry returns the latest preview score with frame health.
func previewTelemetry() *types.PreviewTelemetry {
	lastPreviewMu.Lock()
	pt := lastPreview
	lastPreviewMu.Unlock()

	pt.Frames, pt.Expected, pt.Healthy = frameHealth()
	pt.Recent = formatRelativeTimes(frameRecorder.GetLastRecords(healthWindowLoops * loopInterval()))
	return &pt
}

var (
	lastPrintTime time.Time
	lastScore     float64
)

// printStatus logs the preview score at debug level only when it changed
// noticeably, or at trace level otherwise.
func printStatus(kind metric.Kind, score float64) {
	fields := logrus.Fields{
		"metric": kind,
		"score":  score,
	}

	defer func() { lastPrintTime = time.Now() }()

	if time.Since(lastPrintTime) < loopInterval()+time.Second && closeEnough(lastScore, score) {
		logrus.WithFields(fields).Trace("preview status")
		return
	}

	logrus.WithFields(fields).Debug("preview status")
	lastScore = score
}

func closeEnough(a, b float64) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	scale := max(a, -a, b, -b, 1)
	return d/scale < 0.01
}
