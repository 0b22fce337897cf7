package daemon

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestCronParse(t *testing.T) {
	schedule, err := cronParser.Parse("@every 10m")
	if err != nil {
		t.Fatalf("failed to parse cron expression: %v", err)
	}

	now := time.Now()
	next1 := schedule.Next(now)
	t.Logf("next1: %v", next1)
	next2 := schedule.Next(next1)
	t.Logf("next2: %v", next2)

	if !next2.After(next1) {
		t.Fatalf("expected next2 to be after next1, got next1=%v next2=%v", next1, next2)
	}
}

func TestSchedulerScheduleStatus(t *testing.T) {
	s := NewScheduler(func() error { return nil }, nil, nil, nil)

	if err := s.Schedule("@every 1m"); err != nil {
		t.Fatalf("Schedule returned error: %v", err)
	}

	next, running := s.Status()
	if running {
		t.Fatalf("scheduler should not be running")
	}
	if next.IsZero() {
		t.Fatalf("next run should be set after scheduling")
	}
}

func TestSchedulerSkip(t *testing.T) {
	s := NewScheduler(func() error { return nil }, nil, nil, nil)
	if err := s.Schedule("@every 10m"); err != nil {
		t.Fatalf("Schedule returned error: %v", err)
	}

	orig, _ := s.Status()
	if orig.IsZero() {
		t.Fatalf("expected next run after scheduling")
	}

	s.Start()
	defer s.Stop()

	if err := s.Skip(); err != nil {
		t.Fatalf("Skip returned error: %v", err)
	}
	skipped, _ := s.Status()
	if !skipped.After(orig) {
		t.Fatalf("expected skip to move schedule forward, got %v <= %v", skipped, orig)
	}
}

func TestSchedulerRunCycle(t *testing.T) {
	notifyCh := make(chan struct{}, 1)
	taskCh := make(chan struct{}, 1)
	errCh := make(chan error, 1)
	var preChecks int32

	task := func() error {
		taskCh <- struct{}{}
		return nil
	}

	preCheck := func() error {
		atomic.AddInt32(&preChecks, 1)
		return nil
	}

	beforeRun := func(data any) {
		notifyCh <- struct{}{}
	}

	onError := func(data any) {
		if err, ok := data.(error); ok {
			errCh <- err
		}
	}

	s := NewScheduler(task, preCheck, beforeRun, onError)
	if err := s.Schedule("@every 1s"); err != nil {
		t.Fatalf("Schedule returned error: %v", err)
	}

	s.mu.Lock()
	s.nextRun = time.Now().Add(50 * time.Millisecond)
	s.mu.Unlock()

	s.Start()
	defer s.Stop()

	select {
	case <-notifyCh:
	case <-time.After(time.Second):
		t.Fatalf("did not receive before-run notification in time")
	}

	select {
	case <-taskCh:
	case <-time.After(2 * time.Second):
		t.Fatalf("task did not execute in time")
	}

	if atomic.LoadInt32(&preChecks) == 0 {
		t.Fatalf("precheck should have been executed")
	}

	select {
	case err := <-errCh:
		t.Fatalf("unexpected error callback: %v", err)
	default:
	}
}

func TestSchedulerPreCheckFailure(t *testing.T) {
	taskCh := make(chan struct{}, 1)
	errCh := make(chan error, 2)

	task := func() error {
		taskCh <- struct{}{}
		return nil
	}

	preCheck := func() error {
		return errors.New("boom")
	}

	onError := func(data any) {
		if err, ok := data.(error); ok {
			errCh <- err
		}
	}

	s := NewScheduler(task, preCheck, nil, onError)
	if err := s.Schedule("@every 1s"); err != nil {
		t.Fatalf("Schedule returned error: %v", err)
	}

	forcedNext := time.Now().Add(50 * time.Millisecond)

	s.mu.Lock()
	s.nextRun = forcedNext
	s.mu.Unlock()

	s.Start()
	defer s.Stop()

	select {
	case <-errCh:
	case <-time.After(time.Second):
		t.Fatalf("expected error callback from failed precheck")
	}

	select {
	case <-taskCh:
		t.Fatalf("task should not execute when precheck fails")
	default:
	}
}

func TestSchedulerNextRuns(t *testing.T) {
	s := NewScheduler(func() error { return nil }, nil, nil, nil)
	if runs := s.NextRuns(3); runs != nil {
		t.Fatalf("expected no runs without a schedule, got %v", runs)
	}

	if err := s.Schedule("@every 1h"); err != nil {
		t.Fatalf("Schedule returned error: %v", err)
	}
	runs := s.NextRuns(3)
	if len(runs) != 3 {
		t.Fatalf("expected 3 runs, got %d", len(runs))
	}
	for i := 1; i < len(runs); i++ {
		if got := runs[i].Sub(runs[i-1]); got != time.Hour {
			t.Fatalf("expected runs one hour apart, got %v between %d and %d", got, i-1, i)
		}
	}
	if s.Expr() != "@every 1h" {
		t.Fatalf("unexpected expression %q", s.Expr())
	}
}

func TestSchedulerInvalidExpression(t *testing.T) {
	s := NewScheduler(func() error { return nil }, nil, nil, nil)
	if err := s.Schedule("not a cron"); err == nil {
		t.Fatalf("expected error for invalid expression")
	}
	if next, _ := s.Status(); !next.IsZero() {
		t.Fatalf("invalid expression must not set a run, got %v", next)
	}
}

func TestSchedulerUnschedule(t *testing.T) {
	s := NewScheduler(func() error { return nil }, nil, nil, nil)
	if err := s.Schedule("@every 10m"); err != nil {
		t.Fatalf("Schedule returned error: %v", err)
	}
	s.Start()
	defer s.Stop()

	s.Unschedule()
	next, running := s.Status()
	if !next.IsZero() {
		t.Fatalf("expected no next run, got %v", next)
	}
	if !running {
		t.Fatalf("scheduler should keep running after Unschedule")
	}
	if err := s.Skip(); err == nil {
		t.Fatalf("expected Skip to fail without a schedule")
	}
	if err := s.Postpone(time.Minute); err == nil {
		t.Fatalf("expected Postpone to fail without a schedule")
	}
}

func TestSchedulerPostpone(t *testing.T) {
	s := NewScheduler(func() error { return nil }, nil, nil, nil)
	if err := s.Schedule("@every 1h"); err != nil {
		t.Fatalf("Schedule returned error: %v", err)
	}

	if err := s.Postpone(time.Minute); err == nil {
		t.Fatalf("expected Postpone to fail while stopped")
	}

	s.Start()
	defer s.Stop()

	if err := s.Postpone(0); err == nil {
		t.Fatalf("expected error for non-positive duration")
	}
	if err := s.Postpone(2 * time.Hour); err == nil {
		t.Fatalf("expected error when postponing past the following run")
	}

	orig, _ := s.Status()
	if err := s.Postpone(10 * time.Minute); err != nil {
		t.Fatalf("Postpone returned error: %v", err)
	}
	next, _ := s.Status()
	if want := orig.Add(10 * time.Minute).Truncate(time.Second); !next.Equal(want) {
		t.Fatalf("expected next run %v, got %v", want, next)
	}
}

func TestSchedulerRestart(t *testing.T) {
	taskCh := make(chan struct{}, 1)
	s := NewScheduler(func() error {
		select {
		case taskCh <- struct{}{}:
		default:
		}
		return nil
	}, nil, nil, nil)
	if err := s.Schedule("@every 1h"); err != nil {
		t.Fatalf("Schedule returned error: %v", err)
	}

	s.Start()
	s.Stop()
	if _, running := s.Status(); running {
		t.Fatalf("scheduler should be stopped")
	}

	s.mu.Lock()
	s.nextRun = time.Now().Add(50 * time.Millisecond)
	s.mu.Unlock()

	s.Start()
	defer s.Stop()

	select {
	case <-taskCh:
	case <-time.After(2 * time.Second):
		t.Fatalf("task did not execute after restart")
	}
}
