// Package router serves requests through a reloadable route tree.
//
// A Router loads its configuration from a config.Source, builds a
// Generation from it and keeps polling the source. A new document is built
// into a new generation and swapped in atomically; requests already running
// finish on the generation they started with, and an old generation's
// transports are released only after its last request completes.
package router

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/unkn0wn-root/mcroute"
	"github.com/unkn0wn-root/mcroute/codec"
	"github.com/unkn0wn-root/mcroute/config"
	"github.com/unkn0wn-root/mcroute/fiber"
	"github.com/unkn0wn-root/mcroute/genstore"
	"github.com/unkn0wn-root/mcroute/internal/util"
	"github.com/unkn0wn-root/mcroute/transport"
)

var (
	// ErrNoConfig is returned by New when neither Source nor Config is set.
	ErrNoConfig = errors.New("router: no configuration source")
	// ErrConflictingConfig is returned by New when both Source and Config are set.
	ErrConflictingConfig = errors.New("router: Source and Config are mutually exclusive")
)

const (
	defaultName           = "default"
	defaultPoll           = time.Second
	defaultDebounce       = time.Second
	defaultMaxConfigBytes = 4 << 20
)

type Options struct {
	// Name scopes generation ids in GenStore. Default "default".
	Name string

	// Source provides the configuration and is polled for changes.
	Source config.Source
	// Config is a fixed configuration document, used instead of Source.
	Config []byte
	// Format of the document. Default JSON.
	Format codec.Format
	// MaxConfigBytes caps the document size. Default 4 MiB; negative disables.
	MaxConfigBytes int
	// Fallback is built when the first load fails. Without it New fails.
	Fallback *Config

	// PollPeriod and Debounce control change detection. Default 1s each;
	// a negative Debounce applies changes at the tick that sees them.
	PollPeriod time.Duration
	Debounce   time.Duration

	// Manager runs requests. If nil, New creates one with Workers workers
	// and Close closes it.
	Manager *fiber.Manager
	Workers int

	// GenStore mints generation ids. Default in-process.
	GenStore genstore.GenStore
	// Registry shares transports. If nil, New creates one and Close closes it.
	Registry *transport.Registry
	// Open opens backends. Default DefaultOpen(Clock).
	Open OpenFunc

	Clock  clockwork.Clock
	Hooks  mcroute.Hooks
	Logger mcroute.Logger
}

// Router is safe for concurrent use.
type Router struct {
	name   string
	codec  codec.Codec[Config]
	gens   genstore.GenStore
	deps   Deps
	hooks  mcroute.Hooks
	log    mcroute.Logger
	mgr    *fiber.Manager
	cur    Current
	sched  *config.Scheduler
	obs    *config.Observer
	ctx    context.Context
	cancel context.CancelFunc

	bootstrapped atomic.Bool
	applyMu      sync.Mutex
	lastErr      error

	// retiring tracks generations retired off the request workers.
	retiring sync.WaitGroup

	ownManager  bool
	ownRegistry bool
	ownGenStore bool
	closeOnce   sync.Once
	closeErr    error
}

// New loads the configuration synchronously and starts watching for
// changes. If the first load fails New builds opts.Fallback instead and does
// not watch; without a fallback it returns the load error.
func New(ctx context.Context, opts Options) (*Router, error) {
	src := opts.Source
	switch {
	case src != nil && opts.Config != nil:
		return nil, ErrConflictingConfig
	case src == nil && opts.Config == nil:
		return nil, ErrNoConfig
	case src == nil:
		src = config.NewStaticSource(opts.Config)
	}

	maxBytes := util.Coalesce(opts.MaxConfigBytes, defaultMaxConfigBytes)
	cdc, err := codec.For[Config](opts.Format, maxBytes)
	if err != nil {
		return nil, err
	}

	clk := opts.Clock
	if clk == nil {
		clk = clockwork.NewRealClock()
	}
	hooks := opts.Hooks
	if hooks == nil {
		hooks = mcroute.NopHooks{}
	}
	log := opts.Logger
	if log == nil {
		log = mcroute.NopLogger{}
	}

	r := &Router{
		name:  util.Coalesce(opts.Name, defaultName),
		codec: cdc,
		gens:  opts.GenStore,
		hooks: hooks,
		log:   log,
		mgr:   opts.Manager,
		deps: Deps{
			Registry: opts.Registry,
			Open:     opts.Open,
			Hooks:    hooks,
			Logger:   log,
		},
	}
	if r.gens == nil {
		r.gens, r.ownGenStore = genstore.NewLocalGenStore(), true
	}
	if r.deps.Registry == nil {
		r.deps.Registry, r.ownRegistry = transport.NewRegistry(), true
	}
	if r.deps.Open == nil {
		r.deps.Open = DefaultOpen(clk)
	}
	if r.mgr == nil {
		r.mgr, r.ownManager = fiber.NewManager(fiber.Options{Workers: opts.Workers, Clock: clk}), true
	}
	r.ctx, r.cancel = context.WithCancel(context.WithoutCancel(ctx))
	r.sched = config.NewScheduler(config.SchedulerOptions{
		Clock:  clk,
		Policy: config.ContinueOnError,
		Logger: log,
	})
	r.obs = config.NewObserver(log)

	poll := util.Coalesce(opts.PollPeriod, defaultPoll)
	debounce := util.Coalesce(opts.Debounce, defaultDebounce)
	if r.obs.StartObserving(ctx, src, r.sched, poll, debounce, r.apply, nil) {
		return r, nil
	}

	bootErr := r.takeLastErr()
	if opts.Fallback == nil {
		_ = r.Close(context.WithoutCancel(ctx))
		return nil, fmt.Errorf("router: bootstrap: %w", bootErr)
	}
	if err := r.install(ctx, *opts.Fallback); err != nil {
		_ = r.Close(context.WithoutCancel(ctx))
		return nil, fmt.Errorf("router: bootstrap: %w; fallback: %w", bootErr, err)
	}
	log.Warn("routing config unavailable, serving fallback", mcroute.Fields{"err": bootErr, "gen": r.Generation()})
	return r, nil
}

// apply is the observer's update callback.
func (r *Router) apply(b []byte) error {
	r.applyMu.Lock()
	defer r.applyMu.Unlock()
	err := func() error {
		cfg, err := r.codec.Decode(b)
		if err != nil {
			return fmt.Errorf("router: decode config: %w", err)
		}
		return r.installLocked(r.ctx, cfg)
	}()
	if err != nil {
		r.lastErr = err
		r.hooks.ReloadFailed(!r.bootstrapped.Load(), err)
		r.log.Error("routing config rejected", mcroute.Fields{"router": r.name, "err": err})
	}
	return err
}

func (r *Router) install(ctx context.Context, cfg Config) error {
	r.applyMu.Lock()
	defer r.applyMu.Unlock()
	return r.installLocked(ctx, cfg)
}

func (r *Router) installLocked(ctx context.Context, cfg Config) error {
	id, err := r.gens.Bump(ctx, r.genKey())
	if err != nil {
		return fmt.Errorf("router: mint generation: %w", err)
	}
	g, err := Build(ctx, cfg, id, r.deps)
	if err != nil {
		return err
	}
	r.cur.Store(g)
	r.bootstrapped.Store(true)
	r.hooks.ReloadApplied(id)
	r.log.Info("routing config applied", mcroute.Fields{"router": r.name, "gen": id})
	return nil
}

func (r *Router) takeLastErr() error {
	r.applyMu.Lock()
	defer r.applyMu.Unlock()
	err := r.lastErr
	r.lastErr = nil
	if err == nil {
		err = errors.New("unknown error")
	}
	return err
}

// Generation returns the id of the current generation, 0 if none.
func (r *Router) Generation() uint64 {
	if g := r.cur.Load(); g != nil {
		return g.ID()
	}
	return 0
}

// Latest returns the newest generation id minted under this router's name.
// With a GenStore shared by several instances it runs ahead of Generation
// while this instance has not applied a configuration another one has.
func (r *Router) Latest(ctx context.Context) (uint64, error) {
	return r.gens.Snapshot(ctx, r.genKey())
}

func (r *Router) genKey() string { return "routing:" + r.name }

// Watching reports whether the configuration source is being polled.
func (r *Router) Watching() config.State { return r.obs.State() }

// Dispatch routes one request asynchronously and calls done with the reply.
// done is called exactly once unless Dispatch returns an error. The request
// holds a reference to the generation it started on until done returns.
func (r *Router) Dispatch(ctx context.Context, req mcroute.Request, op mcroute.Op, done func(mcroute.Reply)) error {
	g := r.cur.Acquire()
	if g == nil {
		return mcroute.ErrClosed
	}
	err := fiber.AddTaskFinally(r.mgr, ctx,
		func(ctx context.Context) (mcroute.Reply, error) {
			return g.Root().Route(ctx, req, op), nil
		},
		func(rep mcroute.Reply, err error) {
			defer g.release(r.retireAsync)
			if err != nil {
				rep = abandonedReply(ctx, err)
			}
			done(rep)
		})
	if err != nil {
		g.Release()
	}
	return err
}

// retireAsync closes a drained generation's transports on its own
// goroutine. The releasing finalizer runs while its worker is parked, and
// transport Close may block on the network.
func (r *Router) retireAsync(retire func()) {
	r.retiring.Add(1)
	go func() {
		defer r.retiring.Done()
		retire()
	}()
}

// Route routes one request and waits for the reply.
func (r *Router) Route(ctx context.Context, req mcroute.Request, op mcroute.Op) mcroute.Reply {
	ch := make(chan mcroute.Reply, 1)
	if err := r.Dispatch(ctx, req, op, func(rep mcroute.Reply) { ch <- rep }); err != nil {
		return mcroute.ErrorReply(mcroute.ResultLocalError, err)
	}
	return <-ch
}

func abandonedReply(ctx context.Context, err error) mcroute.Reply {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return mcroute.ErrorReply(mcroute.ResultTimeout, fmt.Errorf("%w: %w", err, ctx.Err()))
	}
	return mcroute.ErrorReply(mcroute.ResultLocalError, err)
}

// Stats returns the request executor's counters.
func (r *Router) Stats() fiber.Stats { return r.mgr.Stats() }

// Close stops watching, retires the current generation once in-flight
// requests finish and closes what New created.
func (r *Router) Close(ctx context.Context) error {
	r.closeOnce.Do(func() {
		r.obs.Stop()
		r.sched.Close()
		r.cancel()
		r.applyMu.Lock()
		r.cur.Store(nil)
		r.applyMu.Unlock()

		var errs []error
		if r.ownManager {
			err := r.mgr.Close(ctx)
			if err == nil {
				// every finalizer has run, so no retirement starts after this.
				r.retiring.Wait()
			}
			errs = append(errs, err)
		}
		if r.ownRegistry {
			errs = append(errs, r.deps.Registry.Close(ctx))
		}
		if r.ownGenStore {
			errs = append(errs, r.gens.Close(ctx))
		}
		r.closeErr = errors.Join(errs...)
	})
	return r.closeErr
}
