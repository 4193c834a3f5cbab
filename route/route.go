// Package route holds the routing-policy tree.
//
// A tree is built once per configuration generation and never mutated, so it
// is shared by every in-flight request without locking. Children are fixed
// at construction, so trees are acyclic by construction. Nodes that call a
// child which may block do so through package fiber, so a request suspends
// its task instead of its worker.
package route

import (
	"context"

	"github.com/unkn0wn-root/mcroute"
)

// Handle routes one operation.
type Handle interface {
	Route(ctx context.Context, req mcroute.Request, op mcroute.Op) mcroute.Reply
}

// HandleFunc adapts a function to Handle.
type HandleFunc func(ctx context.Context, req mcroute.Request, op mcroute.Op) mcroute.Reply

func (f HandleFunc) Route(ctx context.Context, req mcroute.Request, op mcroute.Op) mcroute.Reply {
	return f(ctx, req, op)
}

// Parent is implemented by handles with children.
type Parent interface {
	Children() []Handle
}

// Walk visits h and its descendants depth-first. Returning false from fn
// skips the visited handle's children.
func Walk(h Handle, fn func(Handle) bool) {
	if !fn(h) {
		return
	}
	if p, ok := h.(Parent); ok {
		for _, c := range p.Children() {
			Walk(c, fn)
		}
	}
}

func hooksOrNop(h mcroute.Hooks) mcroute.Hooks {
	if h == nil {
		return mcroute.NopHooks{}
	}
	return h
}
