// Package sloghooks logs mcroute.Hooks events with log/slog.
package sloghooks

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync/atomic"

	"github.com/unkn0wn-root/mcroute"
)

type Options struct {
	// Sampling to avoid floods; 0/1 = log all.
	LeafErrorEvery uint64
	FailoverEvery  uint64
	RestoreEvery   uint64
	// Optional key redactor. Defaults to SHA-256 prefix.
	Redact func(string) string
}

type Hooks struct {
	l    *slog.Logger
	opts Options

	leafErrCtr  atomic.Uint64
	failoverCtr atomic.Uint64
	restoreCtr  atomic.Uint64
}

var _ mcroute.Hooks = (*Hooks)(nil)

func New(l *slog.Logger, opts Options) *Hooks {
	return &Hooks{l: l, opts: opts}
}

func (h *Hooks) redact(k string) string {
	if h.opts.Redact != nil {
		return h.opts.Redact(k)
	}
	sum := sha256.Sum256([]byte(k))
	return hex.EncodeToString(sum[:8])
}

func sample(n uint64, ctr *atomic.Uint64) bool {
	if n == 0 || n == 1 {
		return true
	}
	return ctr.Add(1)%n == 0
}

func (h *Hooks) LeafError(backend string, op mcroute.Op, res mcroute.Result) {
	if h.l == nil || !sample(h.opts.LeafErrorEvery, &h.leafErrCtr) {
		return
	}
	h.l.Warn("mcroute.leaf_error",
		"backend", backend,
		"op", op.String(),
		"result", res.String())
}

func (h *Hooks) FailoverAttempt(index int, res mcroute.Result) {
	if h.l == nil || !sample(h.opts.FailoverEvery, &h.failoverCtr) {
		return
	}
	h.l.Info("mcroute.failover",
		"index", index,
		"result", res.String())
}

func (h *Hooks) WarmUpRestore(key string, res mcroute.Result) {
	if h.l == nil || !sample(h.opts.RestoreEvery, &h.restoreCtr) {
		return
	}
	h.l.Debug("mcroute.warmup_restore",
		"key", h.redact(key),
		"result", res.String())
}

func (h *Hooks) ReloadApplied(gen uint64) {
	if h.l == nil {
		return
	}
	h.l.Info("mcroute.reload_applied", "gen", gen)
}

func (h *Hooks) ReloadFailed(bootstrap bool, err error) {
	if h.l == nil {
		return
	}
	h.l.Error("mcroute.reload_failed",
		"bootstrap", bootstrap,
		"err", err)
}

func (h *Hooks) GenerationRetired(gen uint64) {
	if h.l == nil {
		return
	}
	h.l.Debug("mcroute.generation_retired", "gen", gen)
}
