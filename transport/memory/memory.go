// Package memory is an in-process backend with memcached semantics,
// including leases and arithmetic. It records every call so tests can
// assert which backend saw which operation.
package memory

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/jonboulle/clockwork"

	"github.com/unkn0wn-root/mcroute"
	"github.com/unkn0wn-root/mcroute/internal/wire"
	"github.com/unkn0wn-root/mcroute/transport"
)

// firstLeaseToken is the first token handed out; 0 and 1 have meaning.
const firstLeaseToken = 2

type itemState uint8

const (
	stateCache   itemState = iota // live item
	stateTLRU                     // deleted, stale value kept for lease-get
	stateTLRUHot                  // deleted and a lease token is out
)

type cacheItem struct {
	item  wire.Item
	state itemState
	token uint64
}

// Call is one recorded Send.
type Call struct {
	Op      mcroute.Op
	Key     string
	Exptime uint32
}

type Options struct {
	// Name identifies the backend in replies and errors.
	Name string
	// Clock drives expiry. Default real clock.
	Clock clockwork.Clock
}

// Transport is a memory backend. Safe for concurrent use.
type Transport struct {
	name  string
	clock clockwork.Clock

	mu     sync.Mutex
	items  map[string]*cacheItem
	leases uint64
	calls  []Call

	fail   atomic.Pointer[error]
	closed atomic.Bool
}

var _ transport.Transport = (*Transport)(nil)

func New(opts Options) *Transport {
	t := &Transport{
		name:   opts.Name,
		clock:  opts.Clock,
		items:  make(map[string]*cacheItem),
		leases: firstLeaseToken - 1,
	}
	if t.name == "" {
		t.name = "memory"
	}
	if t.clock == nil {
		t.clock = clockwork.NewRealClock()
	}
	return t
}

// FailWith makes every following Send return an error reply for err.
// A nil err restores normal operation.
func (t *Transport) FailWith(err error) {
	if err == nil {
		t.fail.Store(nil)
		return
	}
	t.fail.Store(&err)
}

// Calls returns a copy of the recorded calls.
func (t *Transport) Calls() []Call {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Call(nil), t.calls...)
}

// Count returns how many times op was sent.
func (t *Transport) Count(op mcroute.Op) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, c := range t.calls {
		if c.Op == op {
			n++
		}
	}
	return n
}

// ResetCalls clears the call log.
func (t *Transport) ResetCalls() {
	t.mu.Lock()
	t.calls = nil
	t.mu.Unlock()
}

// Peek returns the live item stored under key without recording a call.
func (t *Transport) Peek(key string) (wire.Item, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ci := t.findLive(key)
	if ci == nil {
		return wire.Item{}, false
	}
	return ci.item, true
}

func (t *Transport) Send(ctx context.Context, req mcroute.Request, op mcroute.Op) mcroute.Reply {
	t.mu.Lock()
	t.calls = append(t.calls, Call{Op: op, Key: req.Key, Exptime: req.Exptime})
	t.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return transport.ErrorReply(t.name, op, req.Key, err)
	}
	if t.closed.Load() {
		return transport.ErrorReply(t.name, op, req.Key, mcroute.ErrClosed)
	}
	if p := t.fail.Load(); p != nil {
		return transport.ErrorReply(t.name, op, req.Key, *p)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	switch op {
	case mcroute.OpGet, mcroute.OpMetaGet:
		ci := t.findLive(req.Key)
		if ci == nil {
			return mcroute.Reply{Result: mcroute.ResultNotFound}
		}
		return t.found(ci.item)
	case mcroute.OpSet:
		t.set(req)
		return mcroute.Reply{Result: mcroute.ResultStored}
	case mcroute.OpAdd:
		if t.findLive(req.Key) != nil {
			return mcroute.Reply{Result: mcroute.ResultNotStored}
		}
		t.set(req)
		return mcroute.Reply{Result: mcroute.ResultStored}
	case mcroute.OpReplace:
		if t.findLive(req.Key) == nil {
			return mcroute.Reply{Result: mcroute.ResultNotStored}
		}
		t.set(req)
		return mcroute.Reply{Result: mcroute.ResultStored}
	case mcroute.OpDelete:
		ci := t.findLive(req.Key)
		if ci == nil {
			return mcroute.Reply{Result: mcroute.ResultNotFound}
		}
		ci.state = stateTLRU
		return mcroute.Reply{Result: mcroute.ResultDeleted}
	case mcroute.OpIncr, mcroute.OpDecr:
		return t.arith(req, op)
	case mcroute.OpLeaseGet:
		return t.leaseGet(req.Key)
	case mcroute.OpLeaseSet:
		return t.leaseSet(req)
	}
	return transport.ErrorReply(t.name, op, req.Key, mcroute.ErrUnsupported)
}

func (t *Transport) Close(context.Context) error {
	t.closed.Store(true)
	return nil
}

func (t *Transport) now() int64 { return t.clock.Now().Unix() }

func (t *Transport) newItem(req mcroute.Request) wire.Item {
	return wire.Item{
		Flags:    req.Flags,
		Deadline: wire.Deadline(t.now(), req.Exptime),
		Value:    append([]byte(nil), req.Value...),
	}
}

func (t *Transport) found(it wire.Item) mcroute.Reply {
	return transport.FoundReply(it, t.now())
}

// findUnexpired returns the entry for key in any state, dropping it if expired.
func (t *Transport) findUnexpired(key string) *cacheItem {
	ci, ok := t.items[key]
	if !ok {
		return nil
	}
	if ci.item.Expired(t.now()) {
		delete(t.items, key)
		return nil
	}
	return ci
}

func (t *Transport) findLive(key string) *cacheItem {
	ci := t.findUnexpired(key)
	if ci == nil || ci.state != stateCache {
		return nil
	}
	return ci
}

func (t *Transport) set(req mcroute.Request) {
	t.items[req.Key] = &cacheItem{item: t.newItem(req)}
}

func (t *Transport) arith(req mcroute.Request, op mcroute.Op) mcroute.Reply {
	ci := t.findLive(req.Key)
	if ci == nil {
		return mcroute.Reply{Result: mcroute.ResultNotFound}
	}
	cur, err := transport.ApplyArith(ci.item.Value, op, req.Delta)
	if err != nil {
		return transport.ErrorReply(t.name, op, req.Key, err)
	}
	ci.item.Value = strconv.AppendUint(nil, cur, 10)
	return mcroute.Reply{Result: mcroute.ResultStored, Counter: cur}
}

func (t *Transport) nextToken() uint64 {
	t.leases++
	return t.leases
}

// leaseGet returns the live item with token 0, or a stale value with a
// fresh token (> 1) for the first caller after a delete or miss, or token 1
// while another caller holds the lease.
func (t *Transport) leaseGet(key string) mcroute.Reply {
	ci := t.findUnexpired(key)
	if ci == nil {
		ci = &cacheItem{state: stateTLRUHot, token: t.nextToken()}
		t.items[key] = ci
		return mcroute.Reply{Result: mcroute.ResultNotFound, LeaseToken: ci.token}
	}
	switch ci.state {
	case stateCache:
		return t.found(ci.item)
	case stateTLRU:
		ci.state = stateTLRUHot
		ci.token = t.nextToken()
		rep := t.found(ci.item)
		rep.Result, rep.LeaseToken = mcroute.ResultNotFound, ci.token
		return rep
	default:
		rep := t.found(ci.item)
		rep.Result, rep.LeaseToken = mcroute.ResultNotFound, 1
		return rep
	}
}

func (t *Transport) leaseSet(req mcroute.Request) mcroute.Reply {
	ci := t.findUnexpired(req.Key)
	if ci == nil {
		return mcroute.Reply{Result: mcroute.ResultNotStored}
	}
	if ci.state == stateCache || (ci.state == stateTLRUHot && ci.token == req.LeaseToken) {
		t.set(req)
		return mcroute.Reply{Result: mcroute.ResultStored}
	}
	ci.item = t.newItem(req)
	return mcroute.Reply{Result: mcroute.ResultStaleStored}
}
