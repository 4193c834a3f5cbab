package route

import (
	"context"

	"github.com/unkn0wn-root/mcroute"
	"github.com/unkn0wn-root/mcroute/fiber"
)

// AllSync sends the request to every child in parallel, waits for all of
// them and returns the worst reply by Result severity (first child on ties).
type AllSync struct {
	children []Handle
}

func NewAllSync(children []Handle) *AllSync {
	if len(children) == 0 {
		panic("route: all_sync with no children")
	}
	return &AllSync{children: append([]Handle(nil), children...)}
}

func (a *AllSync) Children() []Handle { return append([]Handle(nil), a.children...) }

func (a *AllSync) Route(ctx context.Context, req mcroute.Request, op mcroute.Op) mcroute.Reply {
	fns := make([]func(context.Context) mcroute.Reply, len(a.children))
	for i, c := range a.children {
		fns[i] = func(ctx context.Context) mcroute.Reply { return c.Route(ctx, req, op) }
	}
	reps := fiber.CollectAll(ctx, fns...)
	return Worst(reps)
}

// Worst returns the reply with the highest severity, first on ties.
// It panics on an empty slice.
func Worst(reps []mcroute.Reply) mcroute.Reply {
	worst := reps[0]
	for _, r := range reps[1:] {
		if r.Result.Severity() > worst.Result.Severity() {
			worst = r
		}
	}
	return worst
}
