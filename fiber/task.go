package fiber

import (
	"context"
	"errors"
)

// ErrAbandoned is the error a finalizer sees when the task never returned.
var ErrAbandoned = errors.New("fiber: task abandoned")

// AddTask schedules fn on m.
func (m *Manager) AddTask(ctx context.Context, fn func(context.Context)) error {
	f := New()
	f.SetFunction(fn)
	return m.Schedule(ctx, f)
}

// AddTaskFinally schedules fn on m and calls finally exactly once with fn's
// result, or with the zero value and ErrAbandoned if the task was abandoned.
// finally is not called when scheduling fails.
func AddTaskFinally[T any](m *Manager, ctx context.Context, fn func(context.Context) (T, error), finally func(T, error)) error {
	slot := &result[T]{err: ErrAbandoned}
	f := New()
	f.SetFunctionFinally(
		func(ctx context.Context) { slot.v, slot.err = fn(ctx) },
		func() { finally(slot.v, slot.err) },
	)
	return m.Schedule(ctx, f)
}

// Do runs fn as a task on m and waits for it.
func Do[T any](m *Manager, ctx context.Context, fn func(context.Context) (T, error)) (T, error) {
	done := make(chan result[T], 1)
	err := AddTaskFinally(m, ctx, fn, func(v T, err error) {
		done <- result[T]{v: v, err: err}
	})
	if err != nil {
		var zero T
		return zero, err
	}
	r := <-done
	return r.v, r.err
}

type result[T any] struct {
	v   T
	err error
}
