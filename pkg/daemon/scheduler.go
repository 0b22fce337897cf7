package daemon

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

const (
	defaultLeadDuration = time.Second * 30 // announce a scheduled run this long before it starts
	preCheckMaxTimes    = 30
	preCheckInterval    = time.Second * 10
	// idleWait is how long the loop sleeps when nothing is scheduled.
	idleWait = time.Hour * 10000
)

var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

type NotifyFunc func(data any)

// TaskFunc represents a runnable task.
type TaskFunc func() error

// Scheduler runs Task on a cron schedule. Before each run it waits for
// PreCheck to pass, retrying a bounded number of times.
type Scheduler struct {
	OnUpcoming NotifyFunc // called LeadDuration before a run with the run time
	OnError    NotifyFunc // called with precheck and task errors
	Task       TaskFunc
	PreCheck   TaskFunc

	LeadDuration     time.Duration
	PreCheckInterval time.Duration
	PreCheckMaxTimes int

	mu       sync.Mutex
	schedule cron.Schedule
	expr     string
	nextRun  time.Time
	running  bool

	controlCh chan controlMsg
	stopCh    chan struct{}
}

type controlKind int

const (
	ctrlRecalculate controlKind = iota // schedule replaced or removed
	ctrlPostpone                       // next run moved later
	ctrlSkip                           // next run dropped
)

func (k controlKind) String() string {
	switch k {
	case ctrlRecalculate:
		return "recalculate"
	case ctrlPostpone:
		return "postpone"
	case ctrlSkip:
		return "skip"
	}
	return fmt.Sprintf("controlKind(%d)", int(k))
}

type controlMsg struct {
	kind controlKind
	at   time.Time
}

func NewScheduler(task, preCheck TaskFunc, onUpcoming, onError NotifyFunc) *Scheduler {
	if task == nil {
		panic("task function cannot be nil")
	}

	return &Scheduler{
		OnUpcoming:       onUpcoming,
		OnError:          onError,
		Task:             task,
		PreCheck:         preCheck,
		LeadDuration:     defaultLeadDuration,
		PreCheckInterval: preCheckInterval,
		PreCheckMaxTimes: preCheckMaxTimes,
		controlCh:        make(chan controlMsg, 4),
	}
}

// Start runs the scheduling loop. It is a no-op if the loop is running.
// A stopped scheduler can be started again.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	go s.runScheduled(s.stopCh)
}

// Stop ends the scheduling loop. The schedule is kept.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.running = false
	close(s.stopCh)
}

// Schedule replaces the schedule with cronExpr.
func (s *Scheduler) Schedule(cronExpr string) error {
	sh, err := cronParser.Parse(cronExpr)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.schedule = sh
	s.expr = cronExpr
	s.nextRun = sh.Next(time.Now())
	running := s.running
	s.mu.Unlock()

	if running {
		s.trySendControl(ctrlRecalculate, time.Time{})
	}
	return nil
}

// Unschedule removes the schedule. The loop keeps running idle.
func (s *Scheduler) Unschedule() {
	s.mu.Lock()
	s.schedule = nil
	s.expr = ""
	s.nextRun = time.Time{}
	running := s.running
	s.mu.Unlock()

	if running {
		s.trySendControl(ctrlRecalculate, time.Time{})
	}
}

// Postpone postpones the next scheduled run by d. The postponed run must
// still come before the one after it.
func (s *Scheduler) Postpone(d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("postpone duration must be positive")
	}

	s.mu.Lock()
	if s.schedule == nil || s.nextRun.IsZero() || !s.running {
		s.mu.Unlock()
		return fmt.Errorf("no active schedule to postpone")
	}
	orig := s.nextRun
	following := s.schedule.Next(orig).Truncate(time.Second)
	pp := orig.Add(d).Truncate(time.Second)
	if pp.Compare(following) >= 0 {
		s.mu.Unlock()
		return fmt.Errorf("postpone duration too long: the run after it is at %s", following.Format(time.DateTime))
	}
	s.nextRun = pp
	s.mu.Unlock()

	s.trySendControl(ctrlPostpone, pp)
	return nil
}

// Skip skips the next scheduled run.
func (s *Scheduler) Skip() error {
	s.mu.Lock()
	if s.schedule == nil || s.nextRun.IsZero() {
		s.mu.Unlock()
		return fmt.Errorf("no active schedule to skip")
	}
	s.nextRun = s.schedule.Next(s.nextRun)
	running := s.running
	s.mu.Unlock()

	if running {
		s.trySendControl(ctrlSkip, time.Time{})
	}
	return nil
}

func (s *Scheduler) Status() (nextRun time.Time, running bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.nextRun, s.running
}

// Expr returns the active cron expression, or "" when unscheduled.
func (s *Scheduler) Expr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expr
}

// NextRuns returns up to n upcoming run times, starting with the next one.
func (s *Scheduler) NextRuns(n int) []time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.schedule == nil || s.nextRun.IsZero() {
		return nil
	}
	return nextTimes(s.schedule, s.nextRun, n)
}

// nextTimes returns first and the n-1 activations of sh after it.
func nextTimes(sh cron.Schedule, first time.Time, n int) []time.Time {
	if n <= 0 {
		return nil
	}
	out := make([]time.Time, 0, n)
	t := first
	for i := 0; i < n; i++ {
		out = append(out, t)
		t = sh.Next(t)
	}
	return out
}

func (s *Scheduler) runScheduled(stopCh chan struct{}) {
	logrus.Debug("scheduler started")
	defer logrus.Debug("scheduler stopped")

	for {
		leading := true
		attempts := 0
		var precheckErr error

		schedule, nextRun := s.snapshot()
		timer := time.NewTimer(s.initialWait(schedule, nextRun))

		for {
			select {
			case <-timer.C:
				if schedule == nil || nextRun.IsZero() {
					break
				}

				if leading {
					logrus.Debugf("upcoming scheduled task at %s", nextRun.Format(time.DateTime))
					leading = false
					timer.Reset(max(time.Until(nextRun), 0))
					s.sendNotify(nextRun)
					continue
				}

				logrus.Debugf("running scheduled task at %s", nextRun.Format(time.DateTime))

				if s.PreCheck != nil {
					if err := s.PreCheck(); err != nil {
						if precheckErr == nil || err.Error() != precheckErr.Error() {
							precheckErr = err
							s.sendError(fmt.Errorf("precheck failed: %v", err))
						}

						attempts++
						if attempts <= s.PreCheckMaxTimes {
							logrus.Debugf("precheck failed (%d/%d): %v; retrying in %s", attempts, s.PreCheckMaxTimes, err, s.PreCheckInterval)
							timer.Reset(s.PreCheckInterval)
							continue
						}

						logrus.Warnf("precheck failed %d times, giving up on the run at %s", attempts, nextRun.Format(time.DateTime))
						s.advanceNextRun(nextRun)
						break
					}
				}

				go func() {
					if err := s.Task(); err != nil {
						s.sendError(fmt.Errorf("task failed: %v", err))
					}
				}()
				s.advanceNextRun(nextRun)
			case <-stopCh:
				timer.Stop()
				return
			case msg := <-s.controlCh:
				logrus.WithFields(logrus.Fields{
					"kind": msg.kind,
					"at":   msg.at,
				}).Debug("received control msg")

				if msg.kind == ctrlPostpone {
					// Only the current run moves; keep the lead notice state.
					nextRun = msg.at
					if !timer.Stop() {
						select {
						case <-timer.C:
						default:
						}
					}
					timer.Reset(max(time.Until(msg.at), 0))
					continue
				}
				timer.Stop()
			}

			break
		}
	}
}

// initialWait is the time until the lead notice of nextRun.
func (s *Scheduler) initialWait(schedule cron.Schedule, nextRun time.Time) time.Duration {
	if schedule == nil || nextRun.IsZero() {
		return idleWait
	}
	return max(time.Until(nextRun)-s.LeadDuration, 0)
}

func (s *Scheduler) snapshot() (cron.Schedule, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.schedule, s.nextRun
}

// advanceNextRun moves past ran, unless the schedule changed meanwhile.
func (s *Scheduler) advanceNextRun(ran time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.schedule == nil || !s.nextRun.Equal(ran) {
		return
	}
	from := ran
	if now := time.Now(); now.After(from) {
		from = now
	}
	s.nextRun = s.schedule.Next(from)
}

func (s *Scheduler) sendNotify(runAt time.Time) {
	if s.OnUpcoming == nil {
		return
	}

	go s.OnUpcoming(runAt)
}

func (s *Scheduler) sendError(err error) {
	if s.OnError == nil {
		return
	}

	go s.OnError(err)
}

func (s *Scheduler) trySendControl(kind controlKind, at time.Time) {
	select {
	case s.controlCh <- controlMsg{kind: kind, at: at}:
	default:
	}
}
