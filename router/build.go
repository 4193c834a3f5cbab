package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/unkn0wn-root/mcroute"
	"github.com/unkn0wn-root/mcroute/route"
	"github.com/unkn0wn-root/mcroute/transport"
)

// BuildError reports where in a Config a build failed.
type BuildError struct {
	Path string // e.g. "route.cold.children[1]"
	Err  error
}

func (e *BuildError) Error() string { return "router: " + e.Path + ": " + e.Err.Error() }
func (e *BuildError) Unwrap() error { return e.Err }

// Deps are what Build needs besides the Config.
type Deps struct {
	Registry *transport.Registry // required
	Open     OpenFunc            // required
	Hooks    mcroute.Hooks
	Logger   mcroute.Logger
}

// Build turns cfg into generation id. Transports come from deps.Registry,
// so a server that is configured identically in the previous generation is
// shared rather than reopened. On error every acquired transport is
// released again.
func Build(ctx context.Context, cfg Config, id uint64, deps Deps) (*Generation, error) {
	if deps.Registry == nil || deps.Open == nil {
		return nil, errors.New("router: Build needs a registry and an opener")
	}
	if deps.Hooks == nil {
		deps.Hooks = mcroute.NopHooks{}
	}
	if deps.Logger == nil {
		deps.Logger = mcroute.NopLogger{}
	}
	b := &builder{ctx: ctx, cfg: cfg, deps: deps}
	root, err := b.node("route", cfg.Route)
	if err != nil {
		b.releaseAll(context.WithoutCancel(ctx))
		return nil, err
	}
	ids := b.acquired
	return newGeneration(id, root, func() {
		b.releaseAll(context.Background())
		deps.Hooks.GenerationRetired(id)
		deps.Logger.Debug("routing generation retired", mcroute.Fields{"gen": id, "transports": len(ids)})
	}), nil
}

type builder struct {
	ctx      context.Context
	cfg      Config
	deps     Deps
	acquired []string
}

func (b *builder) releaseAll(ctx context.Context) {
	for _, id := range b.acquired {
		if err := b.deps.Registry.Release(ctx, id); err != nil {
			b.deps.Logger.Warn("release transport failed", mcroute.Fields{"transport": id, "err": err})
		}
	}
	b.acquired = nil
}

func fail(path string, format string, args ...any) error {
	return &BuildError{Path: path, Err: fmt.Errorf(format, args...)}
}

func (b *builder) node(path string, rc RouteConfig) (route.Handle, error) {
	switch rc.Type {
	case RoutePool:
		return b.pool(path, rc)
	case RouteHash:
		children, err := b.children(path, rc.Children)
		if err != nil {
			return nil, err
		}
		return route.NewHash(children, rc.Salt), nil
	case RouteWarmUp:
		return b.warmUp(path, rc)
	case RouteFailover:
		children, err := b.children(path, rc.Children)
		if err != nil {
			return nil, err
		}
		return route.NewFailover(children, b.deps.Hooks), nil
	case RouteAllSync:
		children, err := b.children(path, rc.Children)
		if err != nil {
			return nil, err
		}
		return route.NewAllSync(children), nil
	case RouteNull:
		return route.Null{}, nil
	case RouteError:
		return route.NewError(rc.Message), nil
	case RouteServer:
		if rc.Server == nil {
			return nil, fail(path, "server route without server")
		}
		return b.leaf(path+".server", *rc.Server)
	case "":
		return nil, fail(path, "missing route type")
	}
	return nil, fail(path, "unknown route type %q", rc.Type)
}

func (b *builder) children(path string, rcs []RouteConfig) ([]route.Handle, error) {
	if len(rcs) == 0 {
		return nil, fail(path, "no children")
	}
	out := make([]route.Handle, len(rcs))
	for i, rc := range rcs {
		h, err := b.node(fmt.Sprintf("%s.children[%d]", path, i), rc)
		if err != nil {
			return nil, err
		}
		out[i] = h
	}
	return out, nil
}

func (b *builder) pool(path string, rc RouteConfig) (route.Handle, error) {
	pc, ok := b.cfg.Pools[rc.Pool]
	if !ok {
		return nil, fail(path, "unknown pool %q", rc.Pool)
	}
	if len(pc.Servers) == 0 {
		return nil, fail("pools."+rc.Pool, "no servers")
	}
	leaves := make([]route.Handle, len(pc.Servers))
	for i, sc := range pc.Servers {
		if sc.Name == "" {
			sc.Name = fmt.Sprintf("%s.%d", rc.Pool, i)
		}
		h, err := b.leaf(fmt.Sprintf("pools.%s.servers[%d]", rc.Pool, i), sc)
		if err != nil {
			return nil, err
		}
		leaves[i] = h
	}
	if len(leaves) == 1 {
		return leaves[0], nil
	}
	return route.NewHash(leaves, rc.Salt), nil
}

func (b *builder) warmUp(path string, rc RouteConfig) (route.Handle, error) {
	if rc.Cold == nil || rc.Warm == nil {
		return nil, fail(path, "warmup needs cold and warm")
	}
	op := mcroute.OpAdd
	if rc.RestoreOp != "" {
		var err error
		if op, err = mcroute.ParseOp(rc.RestoreOp); err != nil {
			return nil, &BuildError{Path: path + ".restore_op", Err: err}
		}
		if op != mcroute.OpSet && op != mcroute.OpAdd && op != mcroute.OpReplace {
			return nil, fail(path+".restore_op", "must be set, add or replace, got %s", op)
		}
	}
	cold, err := b.node(path+".cold", *rc.Cold)
	if err != nil {
		return nil, err
	}
	warm, err := b.node(path+".warm", *rc.Warm)
	if err != nil {
		return nil, err
	}
	return route.NewWarmUp(cold, warm, route.WarmUpOptions{
		Exptime:   rc.Exptime,
		RestoreOp: op,
		Hooks:     b.deps.Hooks,
		Logger:    b.deps.Logger,
	}), nil
}

func (b *builder) leaf(path string, sc ServerConfig) (route.Handle, error) {
	if sc.Name == "" {
		sc.Name = sc.Type
		if sc.Addr != "" {
			sc.Name += ":" + sc.Addr
		}
	}
	id, err := serverID(sc)
	if err != nil {
		return nil, &BuildError{Path: path, Err: err}
	}
	t, err := b.deps.Registry.Acquire(id, func() (transport.Transport, error) {
		return b.deps.Open(b.ctx, sc)
	})
	if err != nil {
		return nil, &BuildError{Path: path, Err: err}
	}
	b.acquired = append(b.acquired, id)
	return route.NewLeaf(sc.Name, t, b.deps.Hooks), nil
}

// serverID identifies a transport by its full config.
func serverID(sc ServerConfig) (string, error) {
	raw, err := json.Marshal(sc)
	if err != nil {
		return "", err
	}
	return sc.Type + "|" + string(raw), nil
}
