package fiber

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/jonboulle/clockwork"

	"github.com/unkn0wn-root/mcroute"
	"github.com/unkn0wn-root/mcroute/internal/util"
)

type Options struct {
	// Workers is the number of run loops. Default GOMAXPROCS.
	Workers int
	// Clock drives Sleep. Default real clock.
	Clock clockwork.Clock
}

// Stats is a snapshot of manager counters.
type Stats struct {
	Scheduled uint64
	Started   uint64
	Finished  uint64
	Abandoned uint64
}

// Live is the number of scheduled fibers that have not finished.
func (s Stats) Live() uint64 { return s.Scheduled - s.Finished - s.Abandoned }

// Manager owns the workers and every fiber scheduled on them.
type Manager struct {
	workers []*worker
	clock   clockwork.Clock
	next    atomic.Uint64

	scheduled atomic.Uint64
	started   atomic.Uint64
	finished  atomic.Uint64
	abandoned atomic.Uint64

	// mu orders external Schedule calls against Close so that live.Add
	// never races live.Wait at zero.
	mu        sync.RWMutex
	closing   bool
	live      sync.WaitGroup
	workersWG sync.WaitGroup
	stop      chan struct{}
	closeOnce sync.Once
}

func NewManager(opts Options) *Manager {
	n := util.Coalesce(opts.Workers, runtime.GOMAXPROCS(0))
	if n <= 0 {
		n = 1
	}
	m := &Manager{
		workers: make([]*worker, n),
		clock:   opts.Clock,
		stop:    make(chan struct{}),
	}
	if m.clock == nil {
		m.clock = clockwork.NewRealClock()
	}
	m.workersWG.Add(n)
	for i := range m.workers {
		w := &worker{m: m, notify: make(chan struct{}, 1)}
		m.workers[i] = w
		go w.loop()
	}
	return m
}

// Clock returns the clock used by Sleep.
func (m *Manager) Clock() clockwork.Clock { return m.clock }

// Stats returns current counters.
func (m *Manager) Stats() Stats {
	return Stats{
		Scheduled: m.scheduled.Load(),
		Started:   m.started.Load(),
		Finished:  m.finished.Load(),
		Abandoned: m.abandoned.Load(),
	}
}

// Schedule queues a configured fiber. ctx owns the fiber: cancelling it
// abandons the fiber at its next suspension point. A fiber scheduled from
// inside another fiber of m runs on the same worker.
//
// Schedule returns mcroute.ErrClosed once Close has started, except for
// fibers spawned by live fibers of m. It panics if f is unconfigured or was
// already scheduled.
func (m *Manager) Schedule(ctx context.Context, f *Fiber) error {
	if p := FromContext(ctx); p != nil && p.w != nil && p.w.m == m && p.State() != StateDone {
		m.scheduleOn(p.w, ctx, f)
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closing {
		return mcroute.ErrClosed
	}
	m.scheduleOn(m.pick(), ctx, f)
	return nil
}

func (m *Manager) pick() *worker {
	return m.workers[m.next.Add(1)%uint64(len(m.workers))]
}

func (m *Manager) scheduleOn(w *worker, ctx context.Context, f *Fiber) {
	if f.State() != StateNotStarted {
		panic("fiber: schedule of unconfigured fiber (state " + f.State().String() + ")")
	}
	if !f.scheduled.CompareAndSwap(false, true) {
		panic("fiber: fiber scheduled twice")
	}
	f.ctx = context.WithValue(ctx, fiberKey{}, f)
	f.w = w
	m.scheduled.Add(1)
	m.live.Add(1)
	w.push(entry{f: f})
}

// Close stops accepting new fibers, waits for live ones and stops the
// workers. It returns ctx.Err() if ctx ends first; workers keep running then.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	m.closing = true
	m.mu.Unlock()
	done := make(chan struct{})
	go func() {
		m.live.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	m.closeOnce.Do(func() { close(m.stop) })
	m.workersWG.Wait()
	return nil
}

type entry struct {
	f       *Fiber
	abandon bool
}

// worker is one cooperative run loop. Only the fiber it last resumed runs.
type worker struct {
	m      *Manager
	mu     sync.Mutex
	q      []entry
	notify chan struct{}
}

func (w *worker) push(e entry) {
	w.mu.Lock()
	w.q = append(w.q, e)
	w.mu.Unlock()
	select {
	case w.notify <- struct{}{}:
	default:
	}
}

func (w *worker) pop() (entry, bool) {
	for {
		w.mu.Lock()
		if len(w.q) > 0 {
			e := w.q[0]
			w.q[0] = entry{}
			w.q = w.q[1:]
			w.mu.Unlock()
			return e, true
		}
		w.mu.Unlock()
		select {
		case <-w.notify:
		case <-w.m.stop:
			return entry{}, false
		}
	}
}

func (w *worker) loop() {
	defer w.m.workersWG.Done()
	for {
		e, ok := w.pop()
		if !ok {
			return
		}
		w.run(e)
	}
}

// run executes e.f until it suspends or finishes.
func (w *worker) run(e entry) {
	f := e.f
	switch f.State() {
	case StateDone:
		panic("fiber: resume of finished fiber")
	case StateNotStarted:
		go f.main(e.abandon)
	case StateAwaiting:
		f.resume <- e.abandon
	default:
		panic("fiber: resume of fiber in state " + f.State().String())
	}
	<-f.parked
}
