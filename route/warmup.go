package route

import (
	"bytes"
	"context"
	"time"

	"github.com/unkn0wn-root/mcroute"
	"github.com/unkn0wn-root/mcroute/fiber"
	"github.com/unkn0wn-root/mcroute/internal/wire"
)

type WarmUpOptions struct {
	// Exptime caps the expiry, in seconds, of values copied from cold to
	// warm. 0 keeps the cold item's expiry.
	Exptime uint32
	// RestoreOp stores copied values into warm. Default add, so a value
	// written to warm in the meantime is never overwritten.
	RestoreOp mcroute.Op
	Hooks     mcroute.Hooks
	Logger    mcroute.Logger
}

// WarmUp serves reads from a warm handle and falls back to a cold one.
//
// Reads go to warm first. A warm hit is returned as is. A warm miss or error
// falls back to cold; a cold hit is copied into warm in the background and
// returned without waiting for the copy. Every other operation goes to warm
// only: cold is never written.
type WarmUp struct {
	cold, warm Handle
	exptime    uint32
	restoreOp  mcroute.Op
	hooks      mcroute.Hooks
	log        mcroute.Logger
}

func NewWarmUp(cold, warm Handle, opts WarmUpOptions) *WarmUp {
	w := &WarmUp{
		cold:      cold,
		warm:      warm,
		exptime:   opts.Exptime,
		restoreOp: opts.RestoreOp,
		hooks:     hooksOrNop(opts.Hooks),
		log:       opts.Logger,
	}
	if w.restoreOp == mcroute.OpUnknown {
		w.restoreOp = mcroute.OpAdd
	}
	if !w.restoreOp.IsUpdate() || w.restoreOp == mcroute.OpLeaseSet {
		panic("route: warm-up restore op must be set, add or replace")
	}
	if w.log == nil {
		w.log = mcroute.NopLogger{}
	}
	return w
}

func (w *WarmUp) Children() []Handle { return []Handle{w.cold, w.warm} }

func (w *WarmUp) Route(ctx context.Context, req mcroute.Request, op mcroute.Op) mcroute.Reply {
	switch op {
	case mcroute.OpGet, mcroute.OpMetaGet:
		warmRep := w.warm.Route(ctx, req, op)
		if warmRep.Hit() {
			return warmRep
		}
		coldRep := w.cold.Route(ctx, req, op)
		if coldRep.Hit() {
			w.restore(ctx, req.Key, coldRep, w.restoreOp, 0)
		}
		return coldRep
	case mcroute.OpLeaseGet:
		return w.routeLeaseGet(ctx, req)
	default:
		return w.warm.Route(ctx, req, op)
	}
}

// routeLeaseGet asks warm for a lease; on a miss the value comes from cold
// and is written back with the lease token warm handed out.
func (w *WarmUp) routeLeaseGet(ctx context.Context, req mcroute.Request) mcroute.Reply {
	warmRep := w.warm.Route(ctx, req, mcroute.OpLeaseGet)
	if warmRep.Hit() {
		return warmRep
	}
	coldRep := w.cold.Route(ctx, req, mcroute.OpGet)
	if !coldRep.Hit() {
		if warmRep.Failed() {
			return coldRep
		}
		return warmRep
	}
	if warmRep.LeaseToken > 1 {
		w.restore(ctx, req.Key, coldRep, mcroute.OpLeaseSet, warmRep.LeaseToken)
	}
	return coldRep
}

func (w *WarmUp) restore(ctx context.Context, key string, cold mcroute.Reply, op mcroute.Op, token uint64) {
	req := mcroute.Request{
		Key:        key,
		Value:      bytes.Clone(cold.Value),
		Flags:      cold.Flags,
		Exptime:    capExptime(cold.Exptime, w.exptime, time.Now()),
		LeaseToken: token,
	}
	fiber.Go(ctx, func(ctx context.Context) {
		rep := w.warm.Route(ctx, req, op)
		w.hooks.WarmUpRestore(key, rep.Result)
		if rep.Failed() {
			w.log.Debug("warm-up restore failed", mcroute.Fields{
				"key": key, "op": op.String(), "result": rep.Result.String(), "err": rep.Err,
			})
		}
	})
}

// capExptime returns min(orig, bound) where 0 means "never expires".
// orig is the remaining lifetime from a reply; lifetimes too long to send as
// relative seconds are converted to an absolute time.
func capExptime(orig, bound uint32, now time.Time) uint32 {
	switch {
	case bound != 0 && (orig == 0 || orig > bound):
		return bound
	case orig > wire.MaxRelativeExptime:
		return uint32(now.Unix() + int64(orig))
	default:
		return orig
	}
}
