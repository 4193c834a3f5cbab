// Package asynchook moves mcroute.Hooks callbacks off the request path.
//
// usage:
//
//	raw := sloghooks.New(slog.Default(), sloghooks.Options{
//	    LeafErrorEvery: 100, // sample logs: ~every 100th leaf error
//	})
//
//	hooks := asynchook.New(raw, 1, 1000) // 1 worker; queue 1000 events
//	defer hooks.Close()
//
//	r, _ := router.New(ctx, router.Options{
//	    Source: config.NewFileSource("/etc/mcroute/route.json"),
//	    Hooks:  hooks, // or `raw` if you don't want async
//	})
//
// Events are dropped when the queue is full; Dropped counts them.
package asynchook

import (
	"sync"
	"sync/atomic"

	"github.com/unkn0wn-root/mcroute"
)

type Hooks struct {
	inner   mcroute.Hooks
	q       chan func()
	wg      sync.WaitGroup
	once    sync.Once
	mu      sync.RWMutex
	closed  bool
	dropped atomic.Uint64
}

var _ mcroute.Hooks = (*Hooks)(nil)

func New(inner mcroute.Hooks, workers, qlen int) *Hooks {
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	h := &Hooks{inner: inner, q: make(chan func(), qlen)}
	h.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer h.wg.Done()
			for f := range h.q {
				f()
			}
		}()
	}
	return h
}

// Close drains queued events and stops the workers. Later events are dropped.
func (h *Hooks) Close() {
	h.once.Do(func() {
		h.mu.Lock()
		h.closed = true
		close(h.q)
		h.mu.Unlock()
		h.wg.Wait()
	})
}

// Dropped returns how many events were discarded.
func (h *Hooks) Dropped() uint64 { return h.dropped.Load() }

func (h *Hooks) try(f func()) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		h.dropped.Add(1)
		return
	}
	select {
	case h.q <- f:
	default: // drop
		h.dropped.Add(1)
	}
}

func (h *Hooks) LeafError(b string, op mcroute.Op, res mcroute.Result) {
	h.try(func() { h.inner.LeafError(b, op, res) })
}
func (h *Hooks) FailoverAttempt(i int, res mcroute.Result) {
	h.try(func() { h.inner.FailoverAttempt(i, res) })
}
func (h *Hooks) WarmUpRestore(k string, res mcroute.Result) {
	h.try(func() { h.inner.WarmUpRestore(k, res) })
}
func (h *Hooks) ReloadApplied(gen uint64)     { h.try(func() { h.inner.ReloadApplied(gen) }) }
func (h *Hooks) ReloadFailed(b bool, e error) { h.try(func() { h.inner.ReloadFailed(b, e) }) }
func (h *Hooks) GenerationRetired(gen uint64) { h.try(func() { h.inner.GenerationRetired(gen) }) }
