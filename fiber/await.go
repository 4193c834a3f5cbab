package fiber

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
)

var realClock = clockwork.NewRealClock()

// Await runs fn and returns its result. Inside a running fiber, fn runs on a
// helper goroutine and the fiber gives up its worker until fn returns.
// Outside a fiber fn is called directly.
//
// If the fiber is abandoned while waiting, Await does not return: the fiber
// unwinds and fn's result is dropped.
func Await[T any](ctx context.Context, fn func() T) T {
	f := current(ctx)
	if f == nil {
		return fn()
	}
	var out T
	f.suspend(func(wake func()) {
		go func() {
			out = fn()
			wake()
		}()
	})
	return out
}

// Sleep pauses the calling fiber for d without holding its worker.
// Outside a fiber it blocks the goroutine and returns ctx.Err() if ctx ends
// first.
func Sleep(ctx context.Context, d time.Duration) error {
	f := current(ctx)
	if f == nil {
		t := realClock.NewTimer(d)
		defer t.Stop()
		select {
		case <-t.Chan():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if d <= 0 {
		return nil
	}
	var t clockwork.Timer
	defer func() {
		if t != nil {
			t.Stop()
		}
	}()
	f.suspend(func(wake func()) {
		t = f.w.m.clock.AfterFunc(d, wake)
	})
	return nil
}

// CollectAll runs every fn and returns their results in order. Inside a
// fiber each fn becomes a sibling fiber on the same worker and the caller
// suspends until all have finished. Outside a fiber each fn runs on its own
// goroutine.
func CollectAll[T any](ctx context.Context, fns ...func(context.Context) T) []T {
	out := make([]T, len(fns))
	if len(fns) == 0 {
		return out
	}
	f := current(ctx)
	if f == nil {
		var wg sync.WaitGroup
		wg.Add(len(fns))
		for i, fn := range fns {
			go func() {
				defer wg.Done()
				out[i] = fn(ctx)
			}()
		}
		wg.Wait()
		return out
	}

	var remaining atomic.Int32
	remaining.Store(int32(len(fns)))
	f.suspend(func(wake func()) {
		for i, fn := range fns {
			c := New()
			c.SetFunctionFinally(
				func(cctx context.Context) { out[i] = fn(cctx) },
				func() {
					if remaining.Add(-1) == 0 {
						wake()
					}
				},
			)
			f.w.m.scheduleOn(f.w, ctx, c)
		}
	})
	return out
}

// Go starts fn as a fire-and-forget task. Its context keeps ctx's values but
// not its cancellation, so fn outlives the request that spawned it. Inside a
// fiber fn runs on the same manager; otherwise on a new goroutine.
func Go(ctx context.Context, fn func(context.Context)) {
	dctx := context.WithoutCancel(ctx)
	if p := current(ctx); p != nil {
		c := New()
		c.SetFunction(fn)
		p.w.m.scheduleOn(p.w.m.pick(), dctx, c)
		return
	}
	go fn(dctx)
}
