package router

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	goredis "github.com/redis/go-redis/v9"

	"github.com/unkn0wn-root/mcroute/transport"
	"github.com/unkn0wn-root/mcroute/transport/bigcache"
	"github.com/unkn0wn-root/mcroute/transport/memory"
	"github.com/unkn0wn-root/mcroute/transport/redis"
	"github.com/unkn0wn-root/mcroute/transport/ristretto"
)

// OpenFunc opens the transport for one server.
type OpenFunc func(ctx context.Context, sc ServerConfig) (transport.Transport, error)

const (
	defaultRistrettoCost = 64 << 20
	defaultLifeWindow    = 10 * time.Minute
)

// DefaultOpen returns an OpenFunc for the built-in backend types.
func DefaultOpen(clk clockwork.Clock) OpenFunc {
	return func(ctx context.Context, sc ServerConfig) (transport.Transport, error) {
		switch sc.Type {
		case BackendMemory:
			return memory.New(memory.Options{Name: sc.Name, Clock: clk}), nil
		case BackendRedis:
			if sc.Addr == "" {
				return nil, fmt.Errorf("redis server %q: addr required", sc.Name)
			}
			rdb := goredis.NewClient(&goredis.Options{Addr: sc.Addr, DB: sc.DB})
			return redis.New(redis.Config{
				Name:        sc.Name,
				Client:      rdb,
				Prefix:      sc.Prefix,
				Timeout:     time.Duration(sc.TimeoutMS) * time.Millisecond,
				CloseClient: true,
			})
		case BackendRistretto:
			cost := sc.MaxCost
			if cost <= 0 {
				cost = defaultRistrettoCost
			}
			return ristretto.New(ristretto.Config{
				Name:        sc.Name,
				NumCounters: cost / 64,
				MaxCost:     cost,
				BufferItems: 64,
				Clock:       clk,
			})
		case BackendBigCache:
			life := time.Duration(sc.LifeWindowSec) * time.Second
			if life <= 0 {
				life = defaultLifeWindow
			}
			return bigcache.New(ctx, bigcache.Config{
				Name:               sc.Name,
				LifeWindow:         life,
				HardMaxCacheSizeMB: sc.MaxSizeMB,
				Clock:              clk,
			})
		}
		return nil, fmt.Errorf("unknown server type %q", sc.Type)
	}
}
