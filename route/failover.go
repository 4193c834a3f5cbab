package route

import (
	"context"

	"github.com/unkn0wn-root/mcroute"
)

// Failover tries children in order and returns the first reply that is not
// an error. If every child fails the last reply is returned.
type Failover struct {
	children []Handle
	hooks    mcroute.Hooks
}

func NewFailover(children []Handle, hooks mcroute.Hooks) *Failover {
	if len(children) == 0 {
		panic("route: failover with no children")
	}
	return &Failover{children: append([]Handle(nil), children...), hooks: hooksOrNop(hooks)}
}

func (f *Failover) Children() []Handle { return append([]Handle(nil), f.children...) }

func (f *Failover) Route(ctx context.Context, req mcroute.Request, op mcroute.Op) mcroute.Reply {
	var rep mcroute.Reply
	for i, c := range f.children {
		rep = c.Route(ctx, req, op)
		if !rep.Failed() || i == len(f.children)-1 || ctx.Err() != nil {
			return rep
		}
		f.hooks.FailoverAttempt(i, rep.Result)
	}
	return rep
}
