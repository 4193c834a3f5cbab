// Package redis is a backend on a Redis server through go-redis.
//
// Values are stored framed (internal/wire) so memcached flags survive.
// add and replace map to SET NX / SET XX, arithmetic runs in a WATCH
// transaction and leases are not supported.
package redis

import (
	"context"
	"errors"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/unkn0wn-root/mcroute"
	"github.com/unkn0wn-root/mcroute/internal/util"
	"github.com/unkn0wn-root/mcroute/internal/wire"
	"github.com/unkn0wn-root/mcroute/transport"
)

var ErrNilClient = errors.New("redis transport: nil client")

// maxArithRetries bounds WATCH retries under contention.
const maxArithRetries = 8

type Redis struct {
	name        string
	rdb         goredis.UniversalClient
	prefix      string
	timeout     time.Duration
	closeClient bool
}

var _ transport.Transport = (*Redis)(nil)

type Config struct {
	Name        string
	Client      goredis.UniversalClient
	Prefix      string        // key namespace; "" = none
	Timeout     time.Duration // per-call deadline; 0 = caller's context only
	CloseClient bool          // set true only if this transport exclusively owns the client
}

func New(cfg Config) (*Redis, error) {
	if cfg.Client == nil {
		return nil, ErrNilClient
	}
	return &Redis{
		name:        util.Coalesce(cfg.Name, "redis"),
		rdb:         cfg.Client,
		prefix:      cfg.Prefix,
		timeout:     cfg.Timeout,
		closeClient: cfg.CloseClient,
	}, nil
}

func (p *Redis) Send(ctx context.Context, req mcroute.Request, op mcroute.Op) mcroute.Reply {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	key := util.StorageKey(p.prefix, req.Key)

	rep, err := p.send(ctx, key, req, op)
	if err != nil {
		return transport.ErrorReply(p.name, op, req.Key, err)
	}
	return rep
}

func (p *Redis) send(ctx context.Context, key string, req mcroute.Request, op mcroute.Op) (mcroute.Reply, error) {
	switch op {
	case mcroute.OpGet, mcroute.OpMetaGet:
		it, ok, err := p.load(ctx, p.rdb, key)
		if err != nil || !ok {
			return mcroute.Reply{Result: mcroute.ResultNotFound}, err
		}
		return transport.FoundReply(it, time.Now().Unix()), nil
	case mcroute.OpSet, mcroute.OpAdd, mcroute.OpReplace:
		return p.store(ctx, key, req, op)
	case mcroute.OpDelete:
		n, err := p.rdb.Del(ctx, key).Result()
		if err != nil {
			return mcroute.Reply{}, err
		}
		if n == 0 {
			return mcroute.Reply{Result: mcroute.ResultNotFound}, nil
		}
		return mcroute.Reply{Result: mcroute.ResultDeleted}, nil
	case mcroute.OpIncr, mcroute.OpDecr:
		return p.arith(ctx, key, req, op)
	}
	return mcroute.Reply{}, mcroute.ErrUnsupported
}

// load reads and decodes key. Foreign values are misses.
func (p *Redis) load(ctx context.Context, c goredis.Cmdable, key string) (wire.Item, bool, error) {
	b, err := c.Get(ctx, key).Bytes()
	if err == goredis.Nil {
		return wire.Item{}, false, nil // miss
	}
	if err != nil {
		return wire.Item{}, false, err // transport/server error
	}
	it, err := wire.Decode(b)
	if err != nil {
		return wire.Item{}, false, nil
	}
	return it, true, nil
}

func (p *Redis) store(ctx context.Context, key string, req mcroute.Request, op mcroute.Op) (mcroute.Reply, error) {
	now := time.Now()
	it := wire.Item{Flags: req.Flags, Deadline: wire.Deadline(now.Unix(), req.Exptime), Value: req.Value}
	ttl, live := transport.TTLUntil(it.Deadline, now)
	if !live {
		// already expired: memcached stores and immediately drops it.
		if op == mcroute.OpSet {
			if err := p.rdb.Del(ctx, key).Err(); err != nil {
				return mcroute.Reply{}, err
			}
		}
		return mcroute.Reply{Result: mcroute.ResultStored}, nil
	}
	frame := wire.Encode(it)

	var ok bool
	var err error
	switch op {
	case mcroute.OpAdd:
		ok, err = p.rdb.SetNX(ctx, key, frame, ttl).Result()
	case mcroute.OpReplace:
		ok, err = p.rdb.SetXX(ctx, key, frame, ttl).Result()
	default:
		err = p.rdb.Set(ctx, key, frame, ttl).Err()
		ok = err == nil
	}
	if err != nil {
		return mcroute.Reply{}, err
	}
	if !ok {
		return mcroute.Reply{Result: mcroute.ResultNotStored}, nil
	}
	return mcroute.Reply{Result: mcroute.ResultStored}, nil
}

// arith reads, updates and writes back under WATCH, keeping the key's TTL.
func (p *Redis) arith(ctx context.Context, key string, req mcroute.Request, op mcroute.Op) (mcroute.Reply, error) {
	var rep mcroute.Reply
	txf := func(tx *goredis.Tx) error {
		it, ok, err := p.load(ctx, tx, key)
		if err != nil {
			return err
		}
		if !ok {
			rep = mcroute.Reply{Result: mcroute.ResultNotFound}
			return nil
		}
		n, err := transport.ApplyArith(it.Value, op, req.Delta)
		if err != nil {
			return err
		}
		it.Value = strconv.AppendUint(nil, n, 10)
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.SetArgs(ctx, key, wire.Encode(it), goredis.SetArgs{KeepTTL: true})
			return nil
		})
		if err != nil {
			return err
		}
		rep = mcroute.Reply{Result: mcroute.ResultStored, Counter: n}
		return nil
	}

	for i := 0; i < maxArithRetries; i++ {
		err := p.rdb.Watch(ctx, txf, key)
		if err == goredis.TxFailedErr {
			continue // key changed under us
		}
		return rep, err
	}
	return mcroute.Reply{}, goredis.TxFailedErr
}

// Close releases the underlying redis client only when this transport owns it.
// Safe to call multiple times; repeated calls become no-ops.
func (p *Redis) Close(context.Context) error {
	if p.closeClient {
		if err := p.rdb.Close(); err != nil && !errors.Is(err, goredis.ErrClosed) {
			return err
		}
	}
	return nil
}
