package transport

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/unkn0wn-root/mcroute"
	"github.com/unkn0wn-root/mcroute/internal/wire"
)

// Store is a minimal byte store with TTLs.
// Must be safe for concurrent use and byte-for-byte transparent: Get must
// return exactly the []byte previously passed to Set for the same key.
type Store interface {
	// Get returns (value, true, nil) on hit; (nil, false, nil) on miss.
	// If an IO/remote error happens, return (nil, false, err).
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value with the given TTL (0 = no expiry). Stores without
	// per-entry TTL may ignore it; Framed checks deadlines on read.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Del removes a key (best-effort).
	Del(ctx context.Context, key string) error

	// Close releases resources.
	Close(ctx context.Context) error
}

// Framed serves cache operations from a Store, keeping flags and expiry in
// a wire frame next to the value. Conditional writes and arithmetic are
// serialized in-process, so they are atomic only for stores owned by one
// process.
type Framed struct {
	name  string
	store Store
	clock clockwork.Clock
	mu    sync.Mutex
}

var _ Transport = (*Framed)(nil)

// NewFramed wraps s. A nil clk uses the real clock.
func NewFramed(name string, s Store, clk clockwork.Clock) *Framed {
	if clk == nil {
		clk = clockwork.NewRealClock()
	}
	return &Framed{name: name, store: s, clock: clk}
}

func (f *Framed) Send(ctx context.Context, req mcroute.Request, op mcroute.Op) mcroute.Reply {
	switch op {
	case mcroute.OpGet, mcroute.OpMetaGet:
		it, ok, err := f.load(ctx, req.Key)
		if err != nil {
			return ErrorReply(f.name, op, req.Key, err)
		}
		if !ok {
			return mcroute.Reply{Result: mcroute.ResultNotFound}
		}
		return FoundReply(it, f.clock.Now().Unix())
	case mcroute.OpSet:
		if err := f.save(ctx, req); err != nil {
			return ErrorReply(f.name, op, req.Key, err)
		}
		return mcroute.Reply{Result: mcroute.ResultStored}
	case mcroute.OpAdd, mcroute.OpReplace, mcroute.OpDelete, mcroute.OpIncr, mcroute.OpDecr:
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.readModifyWrite(ctx, req, op)
	}
	return ErrorReply(f.name, op, req.Key, mcroute.ErrUnsupported)
}

func (f *Framed) readModifyWrite(ctx context.Context, req mcroute.Request, op mcroute.Op) mcroute.Reply {
	it, ok, err := f.load(ctx, req.Key)
	if err != nil {
		return ErrorReply(f.name, op, req.Key, err)
	}
	switch op {
	case mcroute.OpAdd, mcroute.OpReplace:
		if ok == (op == mcroute.OpAdd) {
			return mcroute.Reply{Result: mcroute.ResultNotStored}
		}
		if err := f.save(ctx, req); err != nil {
			return ErrorReply(f.name, op, req.Key, err)
		}
		return mcroute.Reply{Result: mcroute.ResultStored}
	case mcroute.OpDelete:
		if !ok {
			return mcroute.Reply{Result: mcroute.ResultNotFound}
		}
		if err := f.store.Del(ctx, req.Key); err != nil {
			return ErrorReply(f.name, op, req.Key, err)
		}
		return mcroute.Reply{Result: mcroute.ResultDeleted}
	default:
		if !ok {
			return mcroute.Reply{Result: mcroute.ResultNotFound}
		}
		n, err := ApplyArith(it.Value, op, req.Delta)
		if err != nil {
			return ErrorReply(f.name, op, req.Key, err)
		}
		it.Value = strconv.AppendUint(nil, n, 10)
		if err := f.put(ctx, req.Key, it); err != nil {
			return ErrorReply(f.name, op, req.Key, err)
		}
		return mcroute.Reply{Result: mcroute.ResultStored, Counter: n}
	}
}

// load returns the live item for key. Undecodable or expired entries are
// deleted and reported as misses.
func (f *Framed) load(ctx context.Context, key string) (wire.Item, bool, error) {
	b, ok, err := f.store.Get(ctx, key)
	if err != nil || !ok {
		return wire.Item{}, false, err
	}
	it, err := wire.Decode(b)
	if err != nil || it.Expired(f.clock.Now().Unix()) {
		_ = f.store.Del(ctx, key)
		return wire.Item{}, false, nil
	}
	return it, true, nil
}

func (f *Framed) save(ctx context.Context, req mcroute.Request) error {
	return f.put(ctx, req.Key, wire.Item{
		Flags:    req.Flags,
		Deadline: wire.Deadline(f.clock.Now().Unix(), req.Exptime),
		Value:    req.Value,
	})
}

func (f *Framed) put(ctx context.Context, key string, it wire.Item) error {
	ttl, live := TTLUntil(it.Deadline, f.clock.Now())
	if !live {
		return f.store.Del(ctx, key)
	}
	return f.store.Set(ctx, key, wire.Encode(it), ttl)
}

func (f *Framed) Close(ctx context.Context) error { return f.store.Close(ctx) }

// FoundReply builds a hit from a decoded item. The value is copied.
func FoundReply(it wire.Item, now int64) mcroute.Reply {
	return mcroute.Reply{
		Result:  mcroute.ResultFound,
		Value:   append([]byte(nil), it.Value...),
		Flags:   it.Flags,
		Exptime: it.Remaining(now),
	}
}

// TTLUntil returns the store TTL for a deadline. live is false when the
// deadline has already passed.
func TTLUntil(deadline int64, now time.Time) (ttl time.Duration, live bool) {
	if deadline == 0 {
		return 0, true
	}
	ttl = time.Unix(deadline, 0).Sub(now)
	return ttl, ttl > 0
}

// ApplyArith applies incr/decr to a decimal value. decr floors at zero and
// incr wraps at 2^64, as in memcached.
func ApplyArith(value []byte, op mcroute.Op, delta uint64) (uint64, error) {
	cur, err := strconv.ParseUint(string(value), 10, 64)
	if err != nil {
		return 0, ErrNonNumeric
	}
	if op == mcroute.OpIncr {
		return cur + delta, nil
	}
	if delta > cur {
		return 0, nil
	}
	return cur - delta, nil
}
