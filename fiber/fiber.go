// Package fiber runs request tasks cooperatively on a fixed set of workers.
//
// Each worker executes one task body at a time. A task gives up its worker
// only at explicit suspension points: Await, Sleep and CollectAll. While it is
// suspended the worker runs other tasks; a blocking call runs on a helper
// goroutine and the task is requeued when the call returns.
//
// Lifecycle:
//
//	Invalid -> NotStarted (SetFunction, once) -> Running <-> Awaiting -> Done
//
// A task whose context is cancelled while it waits is resumed once in abandon
// mode: its stack unwinds (deferred calls run), its finalizer runs and it is
// never resumed again. Misuse of the lifecycle panics.
package fiber

import (
	"context"
	"runtime"
	"sync/atomic"
)

// State is a fiber's lifecycle state.
type State int32

const (
	StateInvalid State = iota
	StateNotStarted
	StateRunning
	StateAwaiting
	StateDone
)

func (s State) String() string {
	switch s {
	case StateInvalid:
		return "invalid"
	case StateNotStarted:
		return "not_started"
	case StateRunning:
		return "running"
	case StateAwaiting:
		return "awaiting"
	case StateDone:
		return "done"
	}
	return "unknown"
}

// Fiber is one cooperatively scheduled task.
type Fiber struct {
	state     atomic.Int32
	scheduled atomic.Bool

	fn      func(context.Context)
	finally func()

	ctx context.Context
	w   *worker

	resume chan bool     // worker -> fiber; true = abandon
	parked chan struct{} // fiber -> worker; yielded or finished

	abandoned bool // owned by the fiber goroutine
}

// New returns an unconfigured fiber.
func New() *Fiber {
	return &Fiber{
		resume: make(chan bool),
		parked: make(chan struct{}),
	}
}

// State returns the current lifecycle state.
func (f *Fiber) State() State { return State(f.state.Load()) }

// SetFunction configures the task body. It panics unless f is unconfigured.
func (f *Fiber) SetFunction(fn func(context.Context)) {
	f.SetFunctionFinally(fn, nil)
}

// SetFunctionFinally configures the body and a finalizer that runs exactly
// once after the body returns or the fiber is abandoned.
// It panics unless f is unconfigured.
func (f *Fiber) SetFunctionFinally(fn func(context.Context), finally func()) {
	if fn == nil {
		panic("fiber: nil function")
	}
	if !f.state.CompareAndSwap(int32(StateInvalid), int32(StateNotStarted)) {
		panic("fiber: function already set (state " + f.State().String() + ")")
	}
	f.fn = fn
	f.finally = finally
}

// main is the fiber goroutine. The worker that started it blocks on parked
// until the body suspends or the fiber finishes.
func (f *Fiber) main(abandon bool) {
	defer f.exit()
	if abandon || f.ctx.Err() != nil {
		f.abandoned = true
		return
	}
	f.state.Store(int32(StateRunning))
	f.w.m.started.Add(1)
	f.fn(f.ctx)
}

func (f *Fiber) exit() {
	f.state.Store(int32(StateDone))
	if f.finally != nil {
		f.finally()
	}
	m := f.w.m
	if f.abandoned {
		m.abandoned.Add(1)
	} else {
		m.finished.Add(1)
	}
	f.parked <- struct{}{}
	m.live.Done()
}

// suspend parks the fiber until wake is called or its context is done.
// start runs before the worker is released and must arrange for wake.
func (f *Fiber) suspend(start func(wake func())) {
	var claimed atomic.Bool
	w := f.w
	wake := func() {
		if claimed.CompareAndSwap(false, true) {
			w.push(entry{f: f})
		}
	}
	stop := context.AfterFunc(f.ctx, func() {
		if claimed.CompareAndSwap(false, true) {
			w.push(entry{f: f, abandon: true})
		}
	})

	f.state.Store(int32(StateAwaiting))
	start(wake)
	f.parked <- struct{}{}

	abandon := <-f.resume
	stop()
	if abandon {
		f.abandoned = true
		runtime.Goexit()
	}
	f.state.Store(int32(StateRunning))
}

type fiberKey struct{}

// FromContext returns the fiber running with ctx, or nil.
func FromContext(ctx context.Context) *Fiber {
	f, _ := ctx.Value(fiberKey{}).(*Fiber)
	return f
}

// current returns the fiber for ctx only while it is running its body.
func current(ctx context.Context) *Fiber {
	f := FromContext(ctx)
	if f == nil || f.State() != StateRunning {
		return nil
	}
	return f
}
