package config

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/unkn0wn-root/mcroute"
)

// Policy decides what a task's failure does to its schedule.
type Policy int

const (
	// StopOnError ends the task at its first error.
	StopOnError Policy = iota
	// ContinueOnError keeps the task on schedule after errors.
	ContinueOnError
)

// TaskFunc is one recurrence of a periodic task.
type TaskFunc func(ctx context.Context) error

type SchedulerOptions struct {
	Clock  clockwork.Clock // default real clock
	Policy Policy
	// OnStop is called when a task stops because of an error.
	OnStop func(t *Task, err error)
	Logger mcroute.Logger
}

// Scheduler runs periodic tasks. Each task runs on its own goroutine and
// its recurrences never overlap.
type Scheduler struct {
	clock  clockwork.Clock
	policy Policy
	onStop func(*Task, error)
	log    mcroute.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewScheduler(opts SchedulerOptions) *Scheduler {
	s := &Scheduler{
		clock:  opts.Clock,
		policy: opts.Policy,
		onStop: opts.OnStop,
		log:    opts.Logger,
	}
	if s.clock == nil {
		s.clock = clockwork.NewRealClock()
	}
	if s.log == nil {
		s.log = mcroute.NopLogger{}
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s
}

func (s *Scheduler) Clock() clockwork.Clock { return s.clock }

// Task is a scheduled periodic function.
type Task struct {
	s      *Scheduler
	period time.Duration
	fn     TaskFunc

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu   sync.Mutex
	err  error
	runs uint64
}

// ScheduleTask runs fn every period, starting one period from now.
// It panics if period <= 0.
func (s *Scheduler) ScheduleTask(period time.Duration, fn TaskFunc) *Task {
	if period <= 0 {
		panic("config: task period must be positive")
	}
	t := &Task{s: s, period: period, fn: fn, done: make(chan struct{})}
	t.ctx, t.cancel = context.WithCancel(s.ctx)
	s.wg.Add(1)
	go t.loop()
	return t
}

func (t *Task) loop() {
	defer t.s.wg.Done()
	defer close(t.done)
	tk := t.s.clock.NewTicker(t.period)
	defer tk.Stop()
	for {
		select {
		case <-t.ctx.Done():
			return
		case <-tk.Chan():
		}
		err := t.fn(t.ctx)
		t.mu.Lock()
		t.runs++
		t.mu.Unlock()
		if err == nil || t.ctx.Err() != nil {
			continue
		}
		if t.s.policy == ContinueOnError {
			t.s.log.Warn("periodic task failed", mcroute.Fields{"err": err})
			continue
		}
		t.mu.Lock()
		t.err = err
		t.mu.Unlock()
		t.s.log.Error("periodic task stopped", mcroute.Fields{"err": err})
		if t.s.onStop != nil {
			t.s.onStop(t, err)
		}
		return
	}
}

// Err returns the error that stopped the task, or nil.
func (t *Task) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Runs returns how many recurrences completed.
func (t *Task) Runs() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.runs
}

// Done is closed once the task will never run again.
func (t *Task) Done() <-chan struct{} { return t.done }

// Stop cancels the task and waits for a running recurrence to return.
func (t *Task) Stop() {
	t.cancel()
	<-t.done
}

// Sleep pauses the calling task for d on the scheduler's clock. It returns
// early with an error if ctx is done or the scheduler is closed.
func (s *Scheduler) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-s.clock.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.ctx.Done():
		return errSchedulerClosed
	}
}

var errSchedulerClosed = errors.New("config: scheduler closed")

// Close stops every task and waits for them to return.
func (s *Scheduler) Close() {
	s.cancel()
	s.wg.Wait()
}
