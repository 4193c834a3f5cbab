package router

import (
	"sync"
	"sync/atomic"

	"github.com/unkn0wn-root/mcroute/route"
)

// Generation is one built route tree. It is reference counted: Current
// holds one reference while the generation is current and every request
// holds one while it runs. When the count reaches zero the generation is
// retired and its transports are released.
type Generation struct {
	id   uint64
	root route.Handle

	refs    atomic.Int64
	retire  func()
	retired sync.Once
}

func newGeneration(id uint64, root route.Handle, retire func()) *Generation {
	g := &Generation{id: id, root: root, retire: retire}
	g.refs.Store(1)
	return g
}

func (g *Generation) ID() uint64 { return g.id }

func (g *Generation) Root() route.Handle { return g.root }

// tryRef takes a reference unless the generation has drained.
func (g *Generation) tryRef() bool {
	for {
		n := g.refs.Load()
		if n <= 0 {
			return false
		}
		if g.refs.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

// Release drops one reference. The last one retires g before returning.
func (g *Generation) Release() { g.release(func(retire func()) { retire() }) }

// release drops one reference and, if it was the last, passes the
// retirement to run.
func (g *Generation) release(run func(retire func())) {
	n := g.refs.Add(-1)
	if n < 0 {
		panic("router: generation released too many times")
	}
	if n == 0 && g.retire != nil {
		run(func() { g.retired.Do(g.retire) })
	}
}

// Current is the slot holding the active generation.
type Current struct {
	p atomic.Pointer[Generation]
}

// Load returns the current generation without taking a reference.
func (c *Current) Load() *Generation { return c.p.Load() }

// Acquire returns the current generation with a reference the caller must
// Release, or nil if there is none. It never returns a drained generation.
func (c *Current) Acquire() *Generation {
	for {
		g := c.p.Load()
		if g == nil {
			return nil
		}
		if g.tryRef() {
			return g
		}
		// g drained after being replaced; reload the slot.
	}
}

// Publish makes next current if old still is, dropping the slot's
// reference to old. It reports whether the swap happened.
func (c *Current) Publish(old, next *Generation) bool {
	if !c.p.CompareAndSwap(old, next) {
		return false
	}
	if old != nil {
		old.Release()
	}
	return true
}

// Store makes next current unconditionally. next may be nil.
func (c *Current) Store(next *Generation) {
	if old := c.p.Swap(next); old != nil {
		old.Release()
	}
}
