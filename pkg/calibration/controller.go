package calibration

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/camtune/camtune/pkg/device"
	"github.com/camtune/camtune/pkg/frame"
	"github.com/camtune/camtune/pkg/metric"
	"github.com/camtune/camtune/pkg/valuerange"
)

// Controller runs calibration searches against a device session.
//
// A run is driven by one control goroutine that owns all phase transitions.
// Frame scoring happens on a separate evaluation goroutine that is started
// with the controller and stopped by Close. Status may be called from any
// goroutine.
type Controller struct {
	session device.Session
	notify  NotifyFunc
	sleep   func(ctx context.Context, d time.Duration) error

	mu       sync.Mutex
	opts     Options
	channels map[device.ChannelID]*channelInfo
	state    State
	run      *run
	last     *Result
	cancel   context.CancelFunc
	done     chan struct{}
	closed   bool

	evalCh chan evalRequest
}

type channelInfo struct {
	id     device.ChannelID
	ch     device.ParamChannel
	device valuerange.Range
	// err is why the channel cannot be calibrated.
	err error
}

type run struct {
	eval    metric.Evaluator
	targets []*target
	result  *Result

	// priorManual is the exposure mode before the run. It is put back when
	// the run commits nothing.
	priorManual    bool
	hasPriorManual bool
	switched       bool

	// candidate and stop belong to the evaluation in flight.
	candidate metric.Candidate
	stop      bool
}

type target struct {
	info      *channelInfo
	effective valuerange.Range
	step      int
	seed      metric.Candidate
	best      metric.Best
	prior     float64
	hasPrior  bool
	fixed     bool
	// failed is set when the channel could not be driven. Nothing is
	// committed for it.
	failed string
}

type evalRequest struct {
	eval  metric.Evaluator
	frame *frame.Frame
	reply chan evalResult
}

type evalResult struct {
	score float64
	err   error
}

// NewController looks up every channel in opts.Order and caches its device
// range. Channels the device does not support are kept and reported as
// skipped by each run.
func NewController(session device.Session, opts Options, notify NotifyFunc) (*Controller, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	c := &Controller{
		session:  session,
		notify:   notify,
		sleep:    sleepContext,
		opts:     opts,
		channels: make(map[device.ChannelID]*channelInfo),
		state:    State{Phase: PhaseIdle},
		evalCh:   make(chan evalRequest),
	}
	c.loadChannelsLocked()
	go c.evaluationWorker()
	return c, nil
}

func (c *Controller) loadChannelsLocked() {
	for _, id := range c.opts.Order {
		if _, ok := c.channels[id]; ok {
			continue
		}
		info := &channelInfo{id: id}
		c.channels[id] = info

		ch, err := c.session.Channel(id)
		if err != nil {
			info.err = err
			logrus.WithError(err).WithField("channel", id).Warn("channel unavailable")
			continue
		}
		info.ch = ch

		if r, ok := c.opts.DeviceRanges[id]; ok {
			info.device = r
			continue
		}
		r, err := ch.CapabilityRange()
		if err != nil {
			info.err = err
			logrus.WithError(err).WithField("channel", id).Warn("channel has no capability range")
			continue
		}
		info.device = r
	}
}

// SetOptions replaces the options used by later runs.
func (c *Controller) SetOptions(opts Options) error {
	if err := opts.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Phase.Active() {
		return ErrCalibrationInProgress
	}
	prev := c.opts
	c.opts = opts
	// Capability ranges are read once per session. Only channels whose
	// override changed are looked up again.
	for id := range c.channels {
		old, hadOld := prev.DeviceRanges[id]
		cur, hasCur := opts.DeviceRanges[id]
		if hadOld != hasCur || (hasCur && !valuerange.Equal(old, cur)) {
			delete(c.channels, id)
		}
	}
	c.loadChannelsLocked()
	return nil
}

// Options returns a copy of the current options.
func (c *Controller) Options() Options {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opts
}

// Start begins a run on its own goroutine and returns immediately. The run
// lives until it finishes, ctx is canceled, Abort or Close is called.
// ErrCalibrationInProgress is returned if a run is active.
func (c *Controller) Start(ctx context.Context) error {
	r, runCtx, cancel, done, err := c.prepare(ctx)
	if err != nil {
		return err
	}
	go func() {
		defer close(done)
		defer cancel()
		c.loop(runCtx, r)
	}()
	return nil
}

// Run performs a whole run on the calling goroutine. If ctx is canceled the
// run is abandoned and the partial result is returned with ctx's error.
func (c *Controller) Run(ctx context.Context) (*Result, error) {
	r, runCtx, cancel, done, err := c.prepare(ctx)
	if err != nil {
		return nil, err
	}
	defer close(done)
	defer cancel()
	res := c.loop(runCtx, r)
	if res.Abandoned {
		return res, pkgerrors.Wrap(context.Cause(runCtx), "calibration abandoned")
	}
	return res, nil
}

// Abort abandons the active run and waits for it to wind down.
func (c *Controller) Abort() error {
	c.mu.Lock()
	if !c.state.Phase.Active() {
		c.mu.Unlock()
		return ErrNotCalibrating
	}
	cancel, done := c.cancel, c.done
	c.mu.Unlock()
	cancel()
	<-done
	return nil
}

// Done returns a channel closed when the latest run has ended.
func (c *Controller) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return c.done
}

// Close abandons any active run and stops the evaluation goroutine. The
// session is left open.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	cancel, done := c.cancel, c.done
	c.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	close(c.evalCh)
	return nil
}

// IsCalibrating reports whether a run is active.
func (c *Controller) IsCalibrating() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Phase.Active()
}

// Status returns a snapshot of the controller.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := Status{
		Phase:        c.state.Phase,
		Calibrating:  c.state.Phase.Active(),
		RunID:        c.state.RunID,
		StartedAt:    c.state.StartedAt,
		Channel:      c.state.Channel(),
		ChannelIndex: c.state.ChannelIndex,
		ChannelCount: len(c.state.Order),
		Position:     c.state.Position,
		Step:         c.state.Step,
		Evaluations:  c.state.Evaluations,
		Message:      c.state.LastError,
		Metric:       c.opts.Metric,
	}
	if c.opts.Evaluator != nil {
		st.Metric = c.opts.Evaluator.Kind()
	}
	if c.run != nil && st.Calibrating && c.state.ChannelIndex >= 0 && c.state.ChannelIndex < len(c.run.targets) {
		t := c.run.targets[c.state.ChannelIndex]
		cand := t.best.Candidate()
		st.Best = &cand
		st.BestScore = t.best.Score()
	}
	return st
}

// Result returns the result of the latest finished or abandoned run.
func (c *Controller) Result() (*Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.last == nil {
		return nil, ErrNoResult
	}
	return c.last, nil
}

// prepare reserves the controller for a new run. It resolves effective
// ranges, seeds and priors while holding the lock so two callers cannot both
// start.
func (c *Controller) prepare(ctx context.Context) (*run, context.Context, context.CancelFunc, chan struct{}, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, nil, nil, nil, ErrClosed
	}
	if c.state.Phase.Active() {
		return nil, nil, nil, nil, ErrCalibrationInProgress
	}

	eval, err := c.opts.evaluator()
	if err != nil {
		return nil, nil, nil, nil, err
	}

	runID := uuid.NewString()
	startedAt := time.Now()
	r := &run{eval: eval, result: newResult(runID, startedAt)}

	var order []device.ChannelID
	for _, id := range c.opts.Order {
		info := c.channels[id]
		logger := logrus.WithFields(logrus.Fields{"run": runID, "channel": id})
		if info.err != nil {
			r.result.Skipped[id] = info.err.Error()
			logger.WithError(info.err).Info("skipping channel")
			continue
		}
		eff, err := c.effectiveLocked(info)
		if err != nil {
			r.result.Skipped[id] = err.Error()
			logger.WithError(err).Info("skipping channel")
			continue
		}
		t := &target{
			info:      info,
			effective: eff,
			step:      c.opts.StepSize(id),
			fixed:     isFixed(eff),
		}
		seed, hasSeed := c.opts.Seeds[id]
		t.seed, err = seedCandidate(id, eff, info.device, seed, hasSeed)
		if err != nil {
			r.result.Skipped[id] = err.Error()
			logger.WithError(err).Info("skipping channel")
			continue
		}
		t.best = eval.NewBest(t.seed)
		if v, err := info.ch.Current(); err == nil {
			t.prior, t.hasPrior = v, true
		} else {
			logger.WithError(err).Warn("failed to read current value")
		}
		r.targets = append(r.targets, t)
		order = append(order, id)
	}

	if len(r.targets) > 0 {
		if m, err := c.session.Manual(); err == nil {
			r.priorManual, r.hasPriorManual = m, true
		} else {
			logrus.WithError(err).WithField("run", runID).Warn("failed to read exposure mode")
		}
	}

	c.state = State{
		RunID:     runID,
		Phase:     PhaseSearching,
		StartedAt: startedAt,
		Order:     order,
	}
	if len(r.targets) > 0 {
		c.state.Step = r.targets[0].step
	} else {
		// Nothing to search. Committing with index -1 lands on Done.
		c.state.Phase = PhaseCommitting
		c.state.ChannelIndex = -1
	}
	c.run = r

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	c.cancel = cancel
	c.done = done

	logrus.WithFields(logrus.Fields{
		"run":      runID,
		"channels": order,
		"metric":   eval.Kind(),
	}).Info("calibration started")

	return r, runCtx, cancel, done, nil
}

func (c *Controller) loop(ctx context.Context, r *run) *Result {
	c.emit(Event{Kind: EventStarted, RunID: r.result.RunID, Phase: PhaseSearching})

	if err := c.begin(ctx, r); err != nil {
		return c.abandon(r, err)
	}
	for {
		if err := ctx.Err(); err != nil {
			return c.abandon(r, err)
		}
		if !c.step(ctx, r) {
			return c.finish(r)
		}
	}
}

// begin switches the session to manual control, applies the seeds and
// waits for the sensor to settle.
func (c *Controller) begin(ctx context.Context, r *run) error {
	if len(r.targets) == 0 {
		return nil
	}
	if err := c.session.SetManual(true); err != nil {
		logrus.WithError(err).Warn("failed to disable automatic exposure")
	} else {
		r.switched = true
	}
	for _, t := range r.targets {
		if err := t.info.ch.Apply(t.seed.Value); err != nil {
			c.failTarget(r, t, pkgerrors.Wrapf(err, "apply seed %v", t.seed.Value))
		}
	}
	return c.sleep(ctx, c.opts.SettlingDelay)
}

// step performs the transition out of the current phase. It returns false
// once the run is Done.
func (c *Controller) step(ctx context.Context, r *run) bool {
	c.mu.Lock()
	phase := c.state.Phase
	c.mu.Unlock()

	switch phase {
	case PhaseSearching:
		c.search(ctx, r)
	case PhaseAwaitingFrame:
		c.awaitFrame(ctx, r)
	case PhaseEvaluated:
		c.evaluated(r)
	case PhaseAdvancing:
		c.advance(r)
	case PhaseCommitting:
		c.nextChannel(r)
	default:
		return false
	}
	return true
}

// search applies the value at the current position.
func (c *Controller) search(ctx context.Context, r *run) {
	c.mu.Lock()
	t := r.targets[c.state.ChannelIndex]
	pos := c.state.Position
	c.mu.Unlock()

	if t.fixed || t.failed != "" {
		c.setPhase(PhaseAdvancing)
		return
	}

	value, err := valuerange.ToValue(t.effective, t.info.device, pos)
	if err != nil {
		c.failTarget(r, t, err)
		c.setPhase(PhaseAdvancing)
		return
	}
	if err := t.info.ch.Apply(value); err != nil {
		c.failTarget(r, t, pkgerrors.Wrapf(err, "apply %v", value))
		c.setPhase(PhaseAdvancing)
		return
	}

	c.mu.Lock()
	r.candidate = metric.Candidate{Channel: string(t.info.id), Position: pos, Value: value}
	c.mu.Unlock()

	if err := c.sleep(ctx, c.opts.StepDelay); err != nil {
		return
	}
	c.setPhase(PhaseAwaitingFrame)
}

// awaitFrame waits for a frame captured after the last apply and scores it.
func (c *Controller) awaitFrame(ctx context.Context, r *run) {
	c.mu.Lock()
	t := r.targets[c.state.ChannelIndex]
	cand := r.candidate
	timeout := c.opts.FrameTimeout
	c.mu.Unlock()

	logger := logrus.WithFields(logrus.Fields{
		"run":      r.result.RunID,
		"channel":  t.info.id,
		"position": cand.Position,
		"value":    cand.Value,
	})

	fctx, cancel := context.WithTimeout(ctx, timeout)
	f, err := c.session.NextFrame(fctx)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		logger.WithError(err).Warn("no frame received, committing best value so far")
		c.mu.Lock()
		r.stop = true
		c.state.LastError = fmt.Sprintf("%s: %v (%s)", t.info.id, ErrFrameTimeout, timeout)
		c.state.Phase = PhaseEvaluated
		c.mu.Unlock()
		c.emit(Event{Kind: EventTimeout, RunID: r.result.RunID, Phase: PhaseAwaitingFrame,
			Channel: t.info.id, Position: cand.Position, Value: cand.Value, Message: err.Error()})
		return
	}

	score, err := c.evaluate(ctx, r.eval, f)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		if errors.Is(err, metric.ErrInvalidFrame) {
			logger.WithField("seq", f.Seq).Debug("discarding invalid frame")
		} else {
			logger.WithError(err).Warn("failed to score frame")
		}
		c.mu.Lock()
		r.stop = false
		c.state.Phase = PhaseEvaluated
		c.mu.Unlock()
		return
	}

	c.mu.Lock()
	r.stop = t.best.Offer(cand, score)
	c.state.Evaluations++
	c.state.Phase = PhaseEvaluated
	c.mu.Unlock()

	logger.WithField("score", score).Debug("evaluated")
	c.emit(Event{Kind: EventProgress, RunID: r.result.RunID, Phase: PhaseEvaluated,
		Channel: t.info.id, Position: cand.Position, Value: cand.Value, Score: score})
}

// evaluated moves to the next position, or finishes the channel.
func (c *Controller) evaluated(r *run) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case r.stop:
		c.state.Phase = PhaseAdvancing
	case c.state.Position+c.state.Step <= valuerange.MaxPosition:
		c.state.Position += c.state.Step
		c.state.Phase = PhaseSearching
	default:
		c.state.Phase = PhaseAdvancing
	}
}

// advance commits the best candidate of the current channel.
func (c *Controller) advance(r *run) {
	c.mu.Lock()
	t := r.targets[c.state.ChannelIndex]
	best, score := t.best.Candidate(), t.best.Score()
	c.mu.Unlock()

	id := t.info.id
	if t.failed == "" {
		if err := t.info.ch.Apply(best.Value); err != nil {
			c.failTarget(r, t, pkgerrors.Wrapf(err, "commit %v", best.Value))
		}
	}

	c.mu.Lock()
	if t.failed == "" {
		r.result.Committed[id] = best.Value
		r.result.Scores[id] = score
	} else {
		r.result.Skipped[id] = t.failed
	}
	c.state.Phase = PhaseCommitting
	c.mu.Unlock()

	if t.failed != "" {
		c.emit(Event{Kind: EventSkipped, RunID: r.result.RunID, Phase: PhaseAdvancing,
			Channel: id, Message: t.failed})
		return
	}
	logrus.WithFields(logrus.Fields{
		"run":      r.result.RunID,
		"channel":  id,
		"position": best.Position,
		"value":    best.Value,
		"score":    score,
	}).Info("channel calibrated")
	c.emit(Event{Kind: EventCommitted, RunID: r.result.RunID, Phase: PhaseAdvancing,
		Channel: id, Position: best.Position, Value: best.Value, Score: score})
}

// nextChannel selects the following channel, or ends the run.
func (c *Controller) nextChannel(r *run) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r.stop = false
	c.state.ChannelIndex++
	c.state.Position = valuerange.MinPosition
	if c.state.ChannelIndex < len(r.targets) {
		c.state.Step = r.targets[c.state.ChannelIndex].step
		c.state.Phase = PhaseSearching
		return
	}
	c.state.Phase = PhaseDone
}

func (c *Controller) finish(r *run) *Result {
	res := r.result
	c.restoreMode(r)
	c.readFinal(res)
	res.FinishedAt = time.Now()

	c.mu.Lock()
	c.state.Phase = PhaseDone
	c.state.ChannelIndex = len(c.state.Order)
	c.last = res
	c.run = nil
	c.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"run":       res.RunID,
		"committed": res.Committed,
		"skipped":   res.Skipped,
		"tag":       res.Tag(),
		"took":      res.FinishedAt.Sub(res.StartedAt).Round(time.Millisecond),
	}).Info("calibration finished")
	c.emit(Event{Kind: EventFinished, RunID: res.RunID, Phase: PhaseDone, Message: res.Tag()})
	return res
}

// abandon restores every channel that was not committed and returns the
// controller to Idle.
func (c *Controller) abandon(r *run, cause error) *Result {
	res := r.result
	for _, t := range r.targets {
		if _, ok := res.Committed[t.info.id]; ok {
			continue
		}
		c.restore(r, t)
		if _, ok := res.Skipped[t.info.id]; !ok {
			res.Skipped[t.info.id] = "run abandoned"
		}
	}
	c.restoreMode(r)
	c.readFinal(res)
	res.FinishedAt = time.Now()
	res.Abandoned = true

	c.mu.Lock()
	c.state.Phase = PhaseIdle
	c.state.LastError = cause.Error()
	c.last = res
	c.run = nil
	c.mu.Unlock()

	logrus.WithError(cause).WithField("run", res.RunID).Warn("calibration abandoned")
	c.emit(Event{Kind: EventAbandoned, RunID: res.RunID, Phase: PhaseIdle, Message: cause.Error()})
	return res
}

func (c *Controller) readFinal(res *Result) {
	c.mu.Lock()
	infos := make([]*channelInfo, 0, len(c.channels))
	for _, info := range c.channels {
		infos = append(infos, info)
	}
	c.mu.Unlock()

	for _, info := range infos {
		if info.ch == nil {
			continue
		}
		if v, err := info.ch.Current(); err == nil {
			res.Final[info.id] = v
		}
	}
}

// failTarget marks t as failed and puts back the value it had before the
// run.
func (c *Controller) failTarget(r *run, t *target, err error) {
	logrus.WithError(err).WithFields(logrus.Fields{
		"run":     r.result.RunID,
		"channel": t.info.id,
	}).Warn("skipping channel")
	c.restore(r, t)
	c.mu.Lock()
	t.failed = err.Error()
	c.state.LastError = fmt.Sprintf("%s: %s", t.info.id, err)
	c.mu.Unlock()
}

func (c *Controller) restore(r *run, t *target) {
	if !t.hasPrior {
		return
	}
	if err := t.info.ch.Apply(t.prior); err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{
			"run":     r.result.RunID,
			"channel": t.info.id,
			"value":   t.prior,
		}).Error("failed to restore value")
	}
}

// restoreMode puts automatic exposure back on when the run switched it off
// and committed nothing. Committed values only hold in manual mode.
func (c *Controller) restoreMode(r *run) {
	if !r.switched || !r.hasPriorManual || r.priorManual || len(r.result.Committed) > 0 {
		return
	}
	if err := c.session.SetManual(false); err != nil {
		logrus.WithError(err).WithField("run", r.result.RunID).Error("failed to restore automatic exposure")
	}
}

func (c *Controller) setPhase(p Phase) {
	c.mu.Lock()
	c.state.Phase = p
	c.mu.Unlock()
}

func (c *Controller) emit(e Event) {
	if c.notify == nil {
		return
	}
	e.Ts = time.Now().Unix()
	c.notify(e)
}

// evaluate hands f to the evaluation goroutine and waits for the score.
func (c *Controller) evaluate(ctx context.Context, e metric.Evaluator, f *frame.Frame) (float64, error) {
	req := evalRequest{eval: e, frame: f, reply: make(chan evalResult, 1)}
	select {
	case c.evalCh <- req:
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	select {
	case res := <-req.reply:
		return res.score, res.err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (c *Controller) evaluationWorker() {
	for req := range c.evalCh {
		score, err := req.eval.Score(req.frame)
		req.reply <- evalResult{score: score, err: err}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func isFixed(r valuerange.Range) bool {
	switch rr := r.(type) {
	case valuerange.Continuous:
		return rr.Width() == 0
	case valuerange.Discrete:
		return len(rr.Values) == 1
	}
	return false
}

// seedCandidate projects a configured seed onto the effective range. Without
// a seed, continuous channels start in the middle of their range and
// discrete ones at their smallest value.
func seedCandidate(id device.ChannelID, eff, dev valuerange.Range, seed float64, hasSeed bool) (metric.Candidate, error) {
	pos := valuerange.MinPosition
	if _, ok := eff.(valuerange.Continuous); ok && !hasSeed {
		pos = valuerange.MaxPosition / 2
	}
	if hasSeed {
		p, err := positionOf(seed, eff)
		if err != nil {
			if cr, ok := eff.(valuerange.Continuous); ok && cr.Width() > 0 {
				clamped := math.Max(float64(cr.Lower), math.Min(float64(cr.Upper), seed))
				p, err = positionOf(clamped, eff)
			}
		}
		if err == nil {
			pos = p
		}
	}
	value, err := valuerange.ToValue(eff, dev, pos)
	if err != nil {
		return metric.Candidate{}, err
	}
	return metric.Candidate{Channel: string(id), Position: pos, Value: value}, nil
}

// effectiveLocked resolves the search range of info. Continuous channels
// without a practical range are searched over their device range.
func (c *Controller) effectiveLocked(info *channelInfo) (valuerange.Range, error) {
	practical, ok := c.opts.PracticalRanges[info.id]
	if !ok {
		if d, isContinuous := info.device.(valuerange.Continuous); isContinuous {
			practical = d
		}
	}
	return valuerange.Effective(info.device, practical)
}

// positionOf returns a position that maps back to value. Discrete ranges
// report an index, which is spread over the position scale here.
func positionOf(value float64, eff valuerange.Range) (int, error) {
	pos, err := valuerange.ToPosition(value, eff)
	if err != nil {
		return 0, err
	}
	if d, ok := eff.(valuerange.Discrete); ok {
		n := len(d.Values)
		pos = valuerange.ClampPosition((pos*101 + n - 1) / n)
	}
	return pos, nil
}
