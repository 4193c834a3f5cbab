package config

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/unkn0wn-root/mcroute"
)

// State of an Observer.
type State int

const (
	NotWatching State = iota
	Watching
	Failed
)

func (s State) String() string {
	switch s {
	case NotWatching:
		return "not_watching"
	case Watching:
		return "watching"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// Observer polls a Source and forwards changed content.
type Observer struct {
	log mcroute.Logger

	mu   sync.Mutex
	task *Task
}

func NewObserver(log mcroute.Logger) *Observer {
	if log == nil {
		log = mcroute.NopLogger{}
	}
	return &Observer{log: log}
}

// StartObserving loads src once and passes the content to onUpdate before
// returning. If that fails it calls onError and returns false without
// scheduling anything. Otherwise it schedules a task on sched that, every
// poll, checks src for an update; on a change it waits debounce, loads and
// calls onUpdate again. A failed recurrence calls onError and returns the
// error to sched, whose Policy decides whether polling continues. onError
// may be nil.
//
// It returns false if the observer is already watching.
func (o *Observer) StartObserving(
	ctx context.Context,
	src Source,
	sched *Scheduler,
	poll, debounce time.Duration,
	onUpdate func([]byte) error,
	onError func(),
) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.stateLocked() == Watching {
		o.log.Warn("config observer already watching", nil)
		return false
	}
	if onError == nil {
		onError = func() {}
	}

	if err := apply(ctx, src, onUpdate); err != nil {
		o.log.Info("can not start watching config", mcroute.Fields{"err": err})
		onError()
		return false
	}

	o.log.Info("watching config for modifications", mcroute.Fields{"poll": poll.String()})
	o.task = sched.ScheduleTask(poll, func(ctx context.Context) error {
		changed, err := src.HasUpdate(ctx)
		if err == nil && !changed {
			return nil
		}
		if err == nil {
			if err = sched.Sleep(ctx, debounce); err == nil {
				err = apply(ctx, src, onUpdate)
			}
		}
		if err != nil {
			if ctx.Err() == nil {
				onError()
			}
			return err
		}
		return nil
	})
	return true
}

func apply(ctx context.Context, src Source, onUpdate func([]byte) error) error {
	b, err := src.Load(ctx)
	if err != nil {
		return fmt.Errorf("config: load: %w", err)
	}
	if err := onUpdate(b); err != nil {
		return fmt.Errorf("config: apply: %w", err)
	}
	if c, ok := src.(Committer); ok {
		c.Commit()
	}
	return nil
}

// State reports NotWatching before a successful start or after Stop,
// Watching while the task is scheduled, and Failed once the scheduler
// stopped the task because of an error.
func (o *Observer) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stateLocked()
}

func (o *Observer) stateLocked() State {
	if o.task == nil {
		return NotWatching
	}
	select {
	case <-o.task.Done():
		if o.task.Err() != nil {
			return Failed
		}
		return NotWatching
	default:
		return Watching
	}
}

// Stop ends polling. The observer can be started again.
func (o *Observer) Stop() {
	o.mu.Lock()
	t := o.task
	o.task = nil
	o.mu.Unlock()
	if t != nil {
		t.Stop()
	}
}
