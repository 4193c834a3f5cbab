package route

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jonboulle/clockwork"

	"github.com/unkn0wn-root/mcroute"
	"github.com/unkn0wn-root/mcroute/fiber"
	"github.com/unkn0wn-root/mcroute/furc"
	"github.com/unkn0wn-root/mcroute/transport/memory"
)

// testHandle answers from fixed replies and records what it saw.
type testHandle struct {
	get, update, del mcroute.Reply

	mu       sync.Mutex
	keys     []string
	ops      []mcroute.Op
	exptimes []uint32
}

func newTestHandle(get, update, del mcroute.Reply) *testHandle {
	return &testHandle{get: get, update: update, del: del}
}

func (h *testHandle) Route(_ context.Context, req mcroute.Request, op mcroute.Op) mcroute.Reply {
	h.mu.Lock()
	h.keys = append(h.keys, req.Key)
	h.ops = append(h.ops, op)
	h.exptimes = append(h.exptimes, req.Exptime)
	h.mu.Unlock()
	switch {
	case op.IsGet():
		return h.get
	case op.IsUpdate():
		return h.update
	case op == mcroute.OpDelete:
		return h.del
	}
	return mcroute.Reply{Result: mcroute.ResultNotFound}
}

func (h *testHandle) sawKeys() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.keys...)
}

func (h *testHandle) sawOps() []mcroute.Op {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]mcroute.Op(nil), h.ops...)
}

func (h *testHandle) sawExptimes() []uint32 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]uint32(nil), h.exptimes...)
}

func found(v string) mcroute.Reply {
	return mcroute.Reply{Result: mcroute.ResultFound, Value: []byte(v)}
}

func res(r mcroute.Result) mcroute.Reply { return mcroute.Reply{Result: r} }

// recHooks records the events route handles emit.
type recHooks struct {
	mcroute.NopHooks
	restores chan mcroute.Result

	mu        sync.Mutex
	failovers []int
	leafErrs  []string
}

func newRecHooks() *recHooks { return &recHooks{restores: make(chan mcroute.Result, 16)} }

func (h *recHooks) WarmUpRestore(_ string, r mcroute.Result) { h.restores <- r }

func (h *recHooks) FailoverAttempt(i int, _ mcroute.Result) {
	h.mu.Lock()
	h.failovers = append(h.failovers, i)
	h.mu.Unlock()
}

func (h *recHooks) LeafError(name string, _ mcroute.Op, _ mcroute.Result) {
	h.mu.Lock()
	h.leafErrs = append(h.leafErrs, name)
	h.mu.Unlock()
}

func (h *recHooks) waitRestore(t *testing.T) mcroute.Result {
	t.Helper()
	select {
	case r := <-h.restores:
		return r
	case <-time.After(5 * time.Second):
		t.Fatalf("no warm-up restore")
		return mcroute.ResultUnknown
	}
}

func newManager(t *testing.T) *fiber.Manager {
	t.Helper()
	m := fiber.NewManager(fiber.Options{Workers: 2})
	t.Cleanup(func() { _ = m.Close(context.Background()) })
	return m
}

func routeOn(t *testing.T, m *fiber.Manager, h Handle, req mcroute.Request, op mcroute.Op) mcroute.Reply {
	t.Helper()
	rep, err := fiber.Do(m, context.Background(), func(ctx context.Context) (mcroute.Reply, error) {
		return h.Route(ctx, req, op), nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	return rep
}

func TestWarmUpGetWarmHit(t *testing.T) {
	cold := newTestHandle(found("a"), res(mcroute.ResultStored), res(mcroute.ResultDeleted))
	warm := newTestHandle(found("b"), res(mcroute.ResultStored), res(mcroute.ResultNotFound))
	rh := NewWarmUp(cold, warm, WarmUpOptions{Exptime: 1})

	rep := routeOn(t, newManager(t), rh, mcroute.Request{Key: "key_get"}, mcroute.OpGet)
	if string(rep.Value) != "b" {
		t.Fatalf("value=%q want b", rep.Value)
	}
	if len(cold.sawKeys()) != 0 {
		t.Fatalf("cold consulted on warm hit: %v", cold.sawKeys())
	}
	if diff := cmp.Diff([]string{"key_get"}, warm.sawKeys()); diff != "" {
		t.Fatalf("warm keys (-want +got):\n%s", diff)
	}
}

func TestWarmUpColdHitRestoresIntoWarm(t *testing.T) {
	hooks := newRecHooks()
	cold := newTestHandle(found("a"), res(mcroute.ResultStored), res(mcroute.ResultDeleted))
	warm := newTestHandle(res(mcroute.ResultNotFound), res(mcroute.ResultNotStored), res(mcroute.ResultNotFound))
	rh := NewWarmUp(cold, warm, WarmUpOptions{Exptime: 1, Hooks: hooks})

	rep := routeOn(t, newManager(t), rh, mcroute.Request{Key: "key_get"}, mcroute.OpGet)
	if string(rep.Value) != "a" {
		t.Fatalf("value=%q want a", rep.Value)
	}
	if got := hooks.waitRestore(t); got != mcroute.ResultNotStored {
		t.Fatalf("restore result=%v", got)
	}

	if diff := cmp.Diff([]string{"key_get"}, cold.sawKeys()); diff != "" {
		t.Fatalf("cold keys (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]uint32{0, 1}, warm.sawExptimes()); diff != "" {
		t.Fatalf("warm exptimes (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]mcroute.Op{mcroute.OpGet, mcroute.OpAdd}, warm.sawOps()); diff != "" {
		t.Fatalf("warm ops (-want +got):\n%s", diff)
	}
}

func TestWarmUpMutationsGoToWarmOnly(t *testing.T) {
	m := newManager(t)
	ops := []mcroute.Op{
		mcroute.OpSet, mcroute.OpAdd, mcroute.OpReplace, mcroute.OpDelete,
		mcroute.OpIncr, mcroute.OpDecr, mcroute.OpLeaseSet,
	}
	for _, op := range ops {
		cold := newTestHandle(found("a"), res(mcroute.ResultStored), res(mcroute.ResultDeleted))
		warm := newTestHandle(res(mcroute.ResultNotFound), res(mcroute.ResultNotStored), res(mcroute.ResultNotFound))
		rh := NewWarmUp(cold, warm, WarmUpOptions{Exptime: 1})

		key := "key_" + op.String()
		rep := routeOn(t, m, rh, mcroute.Request{Key: key}, op)
		if op == mcroute.OpDelete && rep.Result != mcroute.ResultNotFound {
			t.Fatalf("delete result=%v want warm's notfound", rep.Result)
		}
		if len(cold.sawKeys()) != 0 {
			t.Fatalf("%s reached cold", op)
		}
		if diff := cmp.Diff([]string{key}, warm.sawKeys()); diff != "" {
			t.Fatalf("%s warm keys (-want +got):\n%s", op, diff)
		}
	}
}

func TestWarmUpMutationErrorPropagates(t *testing.T) {
	cold := newTestHandle(found("a"), res(mcroute.ResultStored), res(mcroute.ResultDeleted))
	boom := mcroute.ErrorReply(mcroute.ResultRemoteError, errors.New("boom"))
	warm := newTestHandle(res(mcroute.ResultNotFound), boom, boom)
	rh := NewWarmUp(cold, warm, WarmUpOptions{})

	rep := routeOn(t, newManager(t), rh, mcroute.Request{Key: "k"}, mcroute.OpSet)
	if rep.Result != mcroute.ResultRemoteError || rep.Err == nil {
		t.Fatalf("rep=%+v", rep)
	}
}

func TestWarmUpWarmErrorFallsBackToCold(t *testing.T) {
	hooks := newRecHooks()
	cold := newTestHandle(found("a"), res(mcroute.ResultStored), res(mcroute.ResultDeleted))
	warm := newTestHandle(mcroute.ErrorReply(mcroute.ResultTimeout, context.DeadlineExceeded),
		res(mcroute.ResultStored), res(mcroute.ResultNotFound))
	rh := NewWarmUp(cold, warm, WarmUpOptions{Exptime: 60, Hooks: hooks})

	rep := routeOn(t, newManager(t), rh, mcroute.Request{Key: "k"}, mcroute.OpGet)
	if string(rep.Value) != "a" {
		t.Fatalf("rep=%+v", rep)
	}
	hooks.waitRestore(t)
}

func TestWarmUpColdMissReturnsColdReply(t *testing.T) {
	cold := newTestHandle(res(mcroute.ResultNotFound), res(mcroute.ResultStored), res(mcroute.ResultDeleted))
	warm := newTestHandle(res(mcroute.ResultNotFound), res(mcroute.ResultStored), res(mcroute.ResultNotFound))
	rh := NewWarmUp(cold, warm, WarmUpOptions{Exptime: 1})

	rep := routeOn(t, newManager(t), rh, mcroute.Request{Key: "k"}, mcroute.OpGet)
	if rep.Result != mcroute.ResultNotFound {
		t.Fatalf("rep=%+v", rep)
	}
	if diff := cmp.Diff([]mcroute.Op{mcroute.OpGet}, warm.sawOps()); diff != "" {
		t.Fatalf("warm ops (-want +got):\n%s", diff)
	}
}

func TestWarmUpEndToEndWithMemoryBackends(t *testing.T) {
	ctx := context.Background()
	m := newManager(t)
	hooks := newRecHooks()
	coldT := memory.New(memory.Options{Name: "cold"})
	warmT := memory.New(memory.Options{Name: "warm"})
	coldT.Send(ctx, mcroute.Request{Key: "k", Value: []byte("a")}, mcroute.OpSet)
	coldT.ResetCalls()

	rh := NewWarmUp(NewLeaf("cold", coldT, hooks), NewLeaf("warm", warmT, hooks), WarmUpOptions{Exptime: 60, Hooks: hooks})

	if rep := routeOn(t, m, rh, mcroute.Request{Key: "k"}, mcroute.OpGet); string(rep.Value) != "a" {
		t.Fatalf("first get=%+v", rep)
	}
	if got := hooks.waitRestore(t); got != mcroute.ResultStored {
		t.Fatalf("restore=%v", got)
	}
	coldGets := coldT.Count(mcroute.OpGet)

	if rep := routeOn(t, m, rh, mcroute.Request{Key: "k"}, mcroute.OpGet); string(rep.Value) != "a" {
		t.Fatalf("second get=%+v", rep)
	}
	if got := coldT.Count(mcroute.OpGet); got != coldGets {
		t.Fatalf("cold gets %d -> %d after restore", coldGets, got)
	}
	if it, ok := warmT.Peek("k"); !ok || it.Deadline == 0 {
		t.Fatalf("warm item=%+v ok=%v want capped expiry", it, ok)
	}
}

func TestWarmUpLeaseGetRestoresWithToken(t *testing.T) {
	ctx := context.Background()
	hooks := newRecHooks()
	coldT := memory.New(memory.Options{Name: "cold"})
	warmT := memory.New(memory.Options{Name: "warm"})
	coldT.Send(ctx, mcroute.Request{Key: "k", Value: []byte("a")}, mcroute.OpSet)

	rh := NewWarmUp(NewLeaf("cold", coldT, nil), NewLeaf("warm", warmT, nil), WarmUpOptions{Hooks: hooks})
	if rep := routeOn(t, newManager(t), rh, mcroute.Request{Key: "k"}, mcroute.OpLeaseGet); string(rep.Value) != "a" {
		t.Fatalf("lease-get=%+v", rep)
	}
	if got := hooks.waitRestore(t); got != mcroute.ResultStored {
		t.Fatalf("lease-set restore=%v", got)
	}
	if rep := warmT.Send(ctx, mcroute.Request{Key: "k"}, mcroute.OpGet); string(rep.Value) != "a" {
		t.Fatalf("warm after lease restore=%+v", rep)
	}
}

func TestWarmUpRejectsBadRestoreOp(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic")
		}
	}()
	NewWarmUp(Null{}, Null{}, WarmUpOptions{RestoreOp: mcroute.OpDelete})
}

func TestCapExptime(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	cases := []struct{ orig, bound, want uint32 }{
		{0, 1, 1},
		{0, 0, 0},
		{5, 10, 5},
		{50, 10, 10},
		{50, 0, 50},
		{3_000_000, 0, uint32(now.Unix() + 3_000_000)},
	}
	for _, tc := range cases {
		if got := capExptime(tc.orig, tc.bound, now); got != tc.want {
			t.Fatalf("capExptime(%d,%d)=%d want %d", tc.orig, tc.bound, got, tc.want)
		}
	}
}

func TestHashMatchesFurc(t *testing.T) {
	children := make([]Handle, 7)
	hs := make([]*testHandle, 7)
	for i := range children {
		hs[i] = newTestHandle(found(fmt.Sprint(i)), res(mcroute.ResultStored), res(mcroute.ResultDeleted))
		children[i] = hs[i]
	}
	h := NewHash(children, "")
	for i := 0; i < 200; i++ {
		key := fmt.Sprintf("key-%d", i)
		want := int(furc.HashString(key, 7))
		if got := h.Pick(key); got != want {
			t.Fatalf("Pick(%q)=%d want %d", key, got, want)
		}
		rep := h.Route(context.Background(), mcroute.Request{Key: key}, mcroute.OpGet)
		if string(rep.Value) != fmt.Sprint(want) {
			t.Fatalf("routed %q to %q want %d", key, rep.Value, want)
		}
	}
}

func TestHashSaltChangesPlacement(t *testing.T) {
	children := []Handle{Null{}, Null{}, Null{}, Null{}, Null{}}
	a, b := NewHash(children, ""), NewHash(children, "|salt")
	differ := 0
	for i := 0; i < 100; i++ {
		key := fmt.Sprintf("k%d", i)
		if a.Pick(key) != b.Pick(key) {
			differ++
		}
	}
	if differ == 0 {
		t.Fatalf("salt had no effect")
	}
	if NewHash([]Handle{Null{}}, "").Pick("anything") != 0 {
		t.Fatalf("single child must always be picked")
	}
}

func TestFailover(t *testing.T) {
	hooks := newRecHooks()
	bad := newTestHandle(mcroute.ErrorReply(mcroute.ResultConnectError, errors.New("down")), res(mcroute.ResultStored), res(mcroute.ResultDeleted))
	good := newTestHandle(found("ok"), res(mcroute.ResultStored), res(mcroute.ResultDeleted))

	rep := NewFailover([]Handle{bad, good}, hooks).Route(context.Background(), mcroute.Request{Key: "k"}, mcroute.OpGet)
	if string(rep.Value) != "ok" {
		t.Fatalf("rep=%+v", rep)
	}
	if diff := cmp.Diff([]int{0}, hooks.failovers); diff != "" {
		t.Fatalf("failovers (-want +got):\n%s", diff)
	}

	// a clean miss is an answer, not a failure.
	miss := newTestHandle(res(mcroute.ResultNotFound), res(mcroute.ResultStored), res(mcroute.ResultDeleted))
	rep = NewFailover([]Handle{miss, good}, nil).Route(context.Background(), mcroute.Request{Key: "k"}, mcroute.OpGet)
	if rep.Result != mcroute.ResultNotFound || len(good.sawKeys()) != 1 {
		t.Fatalf("miss rep=%+v", rep)
	}

	rep = NewFailover([]Handle{bad, NewError("last")}, nil).Route(context.Background(), mcroute.Request{Key: "k"}, mcroute.OpGet)
	if rep.Result != mcroute.ResultLocalError || rep.Err.Error() != "last" {
		t.Fatalf("all failed rep=%+v", rep)
	}
}

func TestAllSyncReturnsWorst(t *testing.T) {
	a := newTestHandle(found("a"), res(mcroute.ResultStored), res(mcroute.ResultDeleted))
	b := newTestHandle(found("b"), res(mcroute.ResultNotStored), res(mcroute.ResultNotFound))
	c := newTestHandle(found("c"), mcroute.ErrorReply(mcroute.ResultTimeout, context.DeadlineExceeded), res(mcroute.ResultDeleted))
	rh := NewAllSync([]Handle{a, b, c})
	m := newManager(t)

	if rep := routeOn(t, m, rh, mcroute.Request{Key: "k"}, mcroute.OpSet); rep.Result != mcroute.ResultTimeout {
		t.Fatalf("set worst=%v", rep.Result)
	}
	if rep := routeOn(t, m, rh, mcroute.Request{Key: "k"}, mcroute.OpDelete); rep.Result != mcroute.ResultNotFound {
		t.Fatalf("delete worst=%v", rep.Result)
	}
	if rep := rh.Route(context.Background(), mcroute.Request{Key: "k"}, mcroute.OpGet); string(rep.Value) != "a" {
		t.Fatalf("tie must pick first child, got %q", rep.Value)
	}
	for _, h := range []*testHandle{a, b, c} {
		if len(h.sawKeys()) != 3 {
			t.Fatalf("child saw %d requests want 3", len(h.sawKeys()))
		}
	}
}

func TestNullAndError(t *testing.T) {
	ctx := context.Background()
	if r := (Null{}).Route(ctx, mcroute.Request{}, mcroute.OpGet); r.Result != mcroute.ResultNotFound {
		t.Fatalf("null get=%v", r.Result)
	}
	if r := (Null{}).Route(ctx, mcroute.Request{}, mcroute.OpSet); r.Result != mcroute.ResultNotStored {
		t.Fatalf("null set=%v", r.Result)
	}
	if r := NewError("nope").Route(ctx, mcroute.Request{}, mcroute.OpGet); !r.Failed() {
		t.Fatalf("error route=%+v", r)
	}
}

func TestLeafReportsTransportErrors(t *testing.T) {
	hooks := newRecHooks()
	tr := memory.New(memory.Options{Name: "mc1", Clock: clockwork.NewFakeClock()})
	tr.FailWith(errors.New("down"))
	rep := routeOn(t, newManager(t), NewLeaf("mc1", tr, hooks), mcroute.Request{Key: "k"}, mcroute.OpGet)
	if !rep.Failed() {
		t.Fatalf("rep=%+v", rep)
	}
	if diff := cmp.Diff([]string{"mc1"}, hooks.leafErrs); diff != "" {
		t.Fatalf("leaf errors (-want +got):\n%s", diff)
	}
}

func TestWalk(t *testing.T) {
	leafA := NewLeaf("a", memory.New(memory.Options{}), nil)
	leafB := NewLeaf("b", memory.New(memory.Options{}), nil)
	tree := NewWarmUp(NewHash([]Handle{leafA, leafB}, ""), NewFailover([]Handle{leafB, Null{}}, nil), WarmUpOptions{})

	var names []string
	Walk(tree, func(h Handle) bool {
		if l, ok := h.(*Leaf); ok {
			names = append(names, l.Name())
		}
		return true
	})
	if diff := cmp.Diff([]string{"a", "b", "b"}, names); diff != "" {
		t.Fatalf("leaves (-want +got):\n%s", diff)
	}
}
