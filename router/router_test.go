package router

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jonboulle/clockwork"

	"github.com/unkn0wn-root/mcroute"
	"github.com/unkn0wn-root/mcroute/config"
	"github.com/unkn0wn-root/mcroute/genstore"
	"github.com/unkn0wn-root/mcroute/transport"
	"github.com/unkn0wn-root/mcroute/transport/memory"
)

const warmUpConfig = `{
  "pools": {
    "cold": {"servers": [{"name": "c1", "type": "memory"}]},
    "warm": {"servers": [{"name": "w1", "type": "memory"}, {"name": "w2", "type": "memory"}]}
  },
  "route": {
    "type": "warmup", "exptime": 60,
    "cold": {"type": "pool", "pool": "cold"},
    "warm": {"type": "pool", "pool": "warm"}
  }
}`

const coldOnlyConfig = `{
  "pools": {"cold": {"servers": [{"name": "c1", "type": "memory"}]}},
  "route": {"type": "pool", "pool": "cold"}
}`

type recHooks struct {
	mcroute.NopHooks
	applied chan uint64
	retired chan uint64
	failed  chan bool
}

func newRecHooks() *recHooks {
	return &recHooks{
		applied: make(chan uint64, 16),
		retired: make(chan uint64, 16),
		failed:  make(chan bool, 16),
	}
}

func (h *recHooks) ReloadApplied(gen uint64)        { h.applied <- gen }
func (h *recHooks) GenerationRetired(gen uint64)    { h.retired <- gen }
func (h *recHooks) ReloadFailed(boot bool, _ error) { h.failed <- boot }

func waitFor[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out")
		panic("unreachable")
	}
}

// opener hands out memory transports and remembers them by name.
type opener struct {
	mu     sync.Mutex
	opened map[string]*memory.Transport
	count  map[string]int
	block  map[string]*blockingTransport
}

func newOpener() *opener {
	return &opener{
		opened: make(map[string]*memory.Transport),
		count:  make(map[string]int),
		block:  make(map[string]*blockingTransport),
	}
}

func (o *opener) open(_ context.Context, sc ServerConfig) (transport.Transport, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.count[sc.Name]++
	if b, ok := o.block[sc.Name]; ok {
		return b, nil
	}
	m := memory.New(memory.Options{Name: sc.Name})
	o.opened[sc.Name] = m
	return m, nil
}

func (o *opener) get(name string) *memory.Transport {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.opened[name]
}

func (o *opener) opens(name string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.count[name]
}

// blockingTransport holds every Send until release is closed. If closeGate
// is set, Close also blocks until it is closed.
type blockingTransport struct {
	entered   chan struct{}
	release   chan struct{}
	closing   chan struct{}
	closeGate chan struct{}
	closed    chan struct{}
	once      sync.Once
}

func newBlockingTransport() *blockingTransport {
	return &blockingTransport{
		entered: make(chan struct{}, 8),
		release: make(chan struct{}),
		closing: make(chan struct{}, 1),
		closed:  make(chan struct{}),
	}
}

func (b *blockingTransport) Send(context.Context, mcroute.Request, mcroute.Op) mcroute.Reply {
	b.entered <- struct{}{}
	<-b.release
	return mcroute.Reply{Result: mcroute.ResultFound, Value: []byte("slow")}
}

func (b *blockingTransport) Close(context.Context) error {
	b.once.Do(func() {
		b.closing <- struct{}{}
		if b.closeGate != nil {
			<-b.closeGate
		}
		close(b.closed)
	})
	return nil
}

func newTestRouter(t *testing.T, opts Options) *Router {
	t.Helper()
	r, err := New(context.Background(), opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = r.Close(context.Background()) })
	return r
}

func TestRouterServesWarmUpTree(t *testing.T) {
	op := newOpener()
	hooks := newRecHooks()
	r := newTestRouter(t, Options{Config: []byte(warmUpConfig), Open: op.open, Hooks: hooks})
	if r.Generation() != 1 || waitFor(t, hooks.applied) != 1 {
		t.Fatalf("generation=%d", r.Generation())
	}

	ctx := context.Background()
	op.get("c1").Send(ctx, mcroute.Request{Key: "k", Value: []byte("a")}, mcroute.OpSet)
	if rep := r.Route(ctx, mcroute.Request{Key: "k"}, mcroute.OpGet); string(rep.Value) != "a" {
		t.Fatalf("get=%+v", rep)
	}

	// set goes to warm only.
	if rep := r.Route(ctx, mcroute.Request{Key: "s", Value: []byte("v")}, mcroute.OpSet); rep.Result != mcroute.ResultStored {
		t.Fatalf("set=%+v", rep)
	}
	if op.get("c1").Count(mcroute.OpSet) != 1 {
		t.Fatalf("set reached cold")
	}
	if r.Watching() != config.Watching {
		t.Fatalf("watching=%v", r.Watching())
	}
}

func TestRouterDispatch(t *testing.T) {
	r := newTestRouter(t, Options{Config: []byte(coldOnlyConfig), Open: newOpener().open})
	got := make(chan mcroute.Reply, 1)
	if err := r.Dispatch(context.Background(), mcroute.Request{Key: "k"}, mcroute.OpGet, func(rep mcroute.Reply) { got <- rep }); err != nil {
		t.Fatal(err)
	}
	if rep := waitFor(t, got); rep.Result != mcroute.ResultNotFound {
		t.Fatalf("rep=%+v", rep)
	}
}

func TestRouterOptionsExclusive(t *testing.T) {
	if _, err := New(context.Background(), Options{}); !errors.Is(err, ErrNoConfig) {
		t.Fatalf("err=%v want ErrNoConfig", err)
	}
	_, err := New(context.Background(), Options{Config: []byte(coldOnlyConfig), Source: config.NewStaticSource(nil)})
	if !errors.Is(err, ErrConflictingConfig) {
		t.Fatalf("err=%v want ErrConflictingConfig", err)
	}
}

func TestRouterBootstrapFailure(t *testing.T) {
	hooks := newRecHooks()
	_, err := New(context.Background(), Options{
		Config: []byte(`{"route": {"type": "pool", "pool": "nope"}}`),
		Open:   newOpener().open,
		Hooks:  hooks,
	})
	var be *BuildError
	if !errors.As(err, &be) || be.Path != "route" {
		t.Fatalf("err=%v want BuildError at route", err)
	}
	if !waitFor(t, hooks.failed) {
		t.Fatalf("ReloadFailed not flagged as bootstrap")
	}
}

func TestRouterFallback(t *testing.T) {
	fallback := &Config{Route: RouteConfig{Type: RouteNull}}
	r := newTestRouter(t, Options{Config: []byte(`{not json`), Open: newOpener().open, Fallback: fallback})
	if r.Generation() == 0 {
		t.Fatalf("fallback not installed")
	}
	if rep := r.Route(context.Background(), mcroute.Request{Key: "k"}, mcroute.OpSet); rep.Result != mcroute.ResultNotStored {
		t.Fatalf("null route set=%+v", rep)
	}
	if r.Watching() != config.NotWatching {
		t.Fatalf("watching=%v", r.Watching())
	}

	bad := &Config{Route: RouteConfig{Type: "bogus"}}
	if _, err := New(context.Background(), Options{Config: []byte(`{`), Fallback: bad}); err == nil {
		t.Fatalf("broken fallback accepted")
	}
}

func TestRouterConfigTooLarge(t *testing.T) {
	_, err := New(context.Background(), Options{Config: []byte(warmUpConfig), Open: newOpener().open, MaxConfigBytes: 16})
	if err == nil || !strings.Contains(err.Error(), "too large") {
		t.Fatalf("err=%v", err)
	}
}

func TestRouterReloadSharesTransportsAndDrainsOldGeneration(t *testing.T) {
	clk := clockwork.NewFakeClock()
	op := newOpener()
	slow := newBlockingTransport()
	op.block["slow"] = slow
	hooks := newRecHooks()

	first := `{
	  "pools": {
	    "cold": {"servers": [{"name": "c1", "type": "memory"}]},
	    "slow": {"servers": [{"name": "slow", "type": "memory"}]}
	  },
	  "route": {"type": "failover", "children": [
	    {"type": "pool", "pool": "slow"},
	    {"type": "pool", "pool": "cold"}
	  ]}
	}`
	src := config.NewStaticSource([]byte(first))
	r := newTestRouter(t, Options{Source: src, Open: op.open, Hooks: hooks, Clock: clk, Debounce: -1})
	waitFor(t, hooks.applied)

	// a request parked on the slow backend pins generation 1.
	got := make(chan mcroute.Reply, 1)
	if err := r.Dispatch(context.Background(), mcroute.Request{Key: "k"}, mcroute.OpGet, func(rep mcroute.Reply) { got <- rep }); err != nil {
		t.Fatal(err)
	}
	waitFor(t, slow.entered)

	src.Set([]byte(coldOnlyConfig))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := clk.BlockUntilContext(ctx, 1); err != nil {
		t.Fatal(err)
	}
	clk.Advance(time.Second)
	if gen := waitFor(t, hooks.applied); gen != 2 || r.Generation() != 2 {
		t.Fatalf("applied=%d current=%d", gen, r.Generation())
	}

	select {
	case gen := <-hooks.retired:
		t.Fatalf("generation %d retired with a request in flight", gen)
	case <-slow.closed:
		t.Fatalf("slow transport closed with a request in flight")
	default:
	}

	close(slow.release)
	if rep := waitFor(t, got); string(rep.Value) != "slow" {
		t.Fatalf("in-flight request=%+v", rep)
	}
	if gen := waitFor(t, hooks.retired); gen != 1 {
		t.Fatalf("retired=%d want 1", gen)
	}
	waitFor(t, slow.closed)

	if diff := cmp.Diff(map[string]int{"c1": 1, "slow": 1}, map[string]int{"c1": op.opens("c1"), "slow": op.opens("slow")}); diff != "" {
		t.Fatalf("opens (-want +got):\n%s", diff)
	}
	if rep := r.Route(context.Background(), mcroute.Request{Key: "k"}, mcroute.OpGet); rep.Result != mcroute.ResultNotFound {
		t.Fatalf("after reload=%+v", rep)
	}
}

func TestRetiringGenerationDoesNotHoldWorker(t *testing.T) {
	clk := clockwork.NewFakeClock()
	op := newOpener()
	slow := newBlockingTransport()
	slow.closeGate = make(chan struct{})
	op.block["slow"] = slow
	hooks := newRecHooks()

	first := `{
	  "pools": {"slow": {"servers": [{"name": "slow", "type": "memory"}]}},
	  "route": {"type": "pool", "pool": "slow"}
	}`
	src := config.NewStaticSource([]byte(first))
	r := newTestRouter(t, Options{Source: src, Open: op.open, Hooks: hooks, Clock: clk, Debounce: -1, Workers: 1})
	waitFor(t, hooks.applied)

	got := make(chan mcroute.Reply, 1)
	if err := r.Dispatch(context.Background(), mcroute.Request{Key: "k"}, mcroute.OpGet, func(rep mcroute.Reply) { got <- rep }); err != nil {
		t.Fatal(err)
	}
	waitFor(t, slow.entered)

	src.Set([]byte(coldOnlyConfig))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := clk.BlockUntilContext(ctx, 1); err != nil {
		t.Fatal(err)
	}
	clk.Advance(time.Second)
	waitFor(t, hooks.applied)

	// the in-flight request holds the last reference to generation 1.
	close(slow.release)
	waitFor(t, got)
	waitFor(t, slow.closing)

	// the only worker must be free while the old transport is closing.
	if rep := r.Route(ctx, mcroute.Request{Key: "k"}, mcroute.OpGet); rep.Result != mcroute.ResultNotFound {
		t.Fatalf("route during retirement=%+v", rep)
	}

	close(slow.closeGate)
	if gen := waitFor(t, hooks.retired); gen != 1 {
		t.Fatalf("retired=%d want 1", gen)
	}
}

func TestRouterRejectedReloadKeepsServing(t *testing.T) {
	clk := clockwork.NewFakeClock()
	hooks := newRecHooks()
	src := config.NewStaticSource([]byte(coldOnlyConfig))
	r := newTestRouter(t, Options{Source: src, Open: newOpener().open, Hooks: hooks, Clock: clk, Debounce: -1})
	waitFor(t, hooks.applied)

	src.Set([]byte(`{"route": {"type": "hash"}}`))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := clk.BlockUntilContext(ctx, 1); err != nil {
		t.Fatal(err)
	}
	clk.Advance(time.Second)
	if boot := waitFor(t, hooks.failed); boot {
		t.Fatalf("steady-state failure flagged as bootstrap")
	}
	if r.Generation() != 1 || r.Watching() != config.Watching {
		t.Fatalf("generation=%d watching=%v", r.Generation(), r.Watching())
	}
}

func TestRouterClosed(t *testing.T) {
	r, err := New(context.Background(), Options{Config: []byte(coldOnlyConfig), Open: newOpener().open})
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Close(context.Background()); err != nil {
		t.Fatal(err)
	}
	rep := r.Route(context.Background(), mcroute.Request{Key: "k"}, mcroute.OpGet)
	if !errors.Is(rep.Err, mcroute.ErrClosed) {
		t.Fatalf("rep=%+v", rep)
	}
	if err := r.Close(context.Background()); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestLatestSeesGenerationsFromSharedStore(t *testing.T) {
	ctx := context.Background()
	gens := genstore.NewLocalGenStore()
	a := newTestRouter(t, Options{Name: "edge", Config: []byte(coldOnlyConfig), Open: newOpener().open, GenStore: gens})
	if got, err := a.Latest(ctx); err != nil || got != 1 || a.Generation() != 1 {
		t.Fatalf("latest=%d err=%v gen=%d", got, err, a.Generation())
	}

	// a second instance under the same name takes the next id.
	b := newTestRouter(t, Options{Name: "edge", Config: []byte(coldOnlyConfig), Open: newOpener().open, GenStore: gens})
	if b.Generation() != 2 {
		t.Fatalf("second instance gen=%d want 2", b.Generation())
	}
	if got, _ := a.Latest(ctx); got != 2 || a.Generation() != 1 {
		t.Fatalf("first instance latest=%d gen=%d", got, a.Generation())
	}

	other := newTestRouter(t, Options{Name: "other", Config: []byte(coldOnlyConfig), Open: newOpener().open, GenStore: gens})
	if got, _ := other.Latest(ctx); got != 1 {
		t.Fatalf("other name latest=%d want 1", got)
	}
}
