package route

import (
	"context"

	"github.com/unkn0wn-root/mcroute"
	"github.com/unkn0wn-root/mcroute/fiber"
	"github.com/unkn0wn-root/mcroute/transport"
)

// Leaf forwards requests unmodified to one transport.
type Leaf struct {
	name  string
	t     transport.Transport
	hooks mcroute.Hooks
}

func NewLeaf(name string, t transport.Transport, hooks mcroute.Hooks) *Leaf {
	return &Leaf{name: name, t: t, hooks: hooksOrNop(hooks)}
}

func (l *Leaf) Name() string { return l.name }

func (l *Leaf) Route(ctx context.Context, req mcroute.Request, op mcroute.Op) mcroute.Reply {
	rep := fiber.Await(ctx, func() mcroute.Reply { return l.t.Send(ctx, req, op) })
	if rep.Failed() {
		l.hooks.LeafError(l.name, op, rep.Result)
	}
	return rep
}
