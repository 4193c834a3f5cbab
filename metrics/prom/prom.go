// Package prom exports mcroute events and executor stats to Prometheus.
package prom

import (
	"strconv"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/unkn0wn-root/mcroute"
	"github.com/unkn0wn-root/mcroute/fiber"
)

// Adapter implements mcroute.Hooks and exports Prometheus counters/gauges.
// Safe for concurrent use; all Prometheus metric types are goroutine-safe.
type Adapter struct {
	leafErrors *prometheus.CounterVec
	failovers  *prometheus.CounterVec
	restores   *prometheus.CounterVec
	reloads    *prometheus.CounterVec
	retired    prometheus.Counter
	generation prometheus.Gauge

	reg  prometheus.Registerer
	opts func(name, help string) prometheus.GaugeOpts
	gen  atomic.Uint64
}

// New constructs a Prometheus hooks adapter.
//   - reg:          registry to register metrics with (nil => prometheus.DefaultRegisterer)
//   - ns, sub:      Prometheus namespace and subsystem
//   - constLabels:  static labels applied to all metrics (may be nil)
func New(reg prometheus.Registerer, ns, sub string, constLabels prometheus.Labels) *Adapter {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	counter := func(name, help string) prometheus.CounterOpts {
		return prometheus.CounterOpts{Namespace: ns, Subsystem: sub, Name: name, Help: help, ConstLabels: constLabels}
	}
	a := &Adapter{
		leafErrors: prometheus.NewCounterVec(counter("leaf_errors_total", "Error replies from backends"),
			[]string{"backend", "op", "result"}),
		failovers: prometheus.NewCounterVec(counter("failover_attempts_total", "Failover moves past a failed child"),
			[]string{"index"}),
		restores: prometheus.NewCounterVec(counter("warmup_restores_total", "Cold hits re-stored into warm, by warm reply"),
			[]string{"result"}),
		reloads: prometheus.NewCounterVec(counter("config_reloads_total", "Configuration loads by outcome"),
			[]string{"outcome"}),
		retired: prometheus.NewCounter(counter("generations_retired_total", "Routing generations fully drained")),
		generation: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "generation",
			Help:        "Current routing generation id",
			ConstLabels: constLabels,
		}),
		reg: reg,
		opts: func(name, help string) prometheus.GaugeOpts {
			return prometheus.GaugeOpts{Namespace: ns, Subsystem: sub, Name: name, Help: help, ConstLabels: constLabels}
		},
	}
	reg.MustRegister(a.leafErrors, a.failovers, a.restores, a.reloads, a.retired, a.generation)
	return a
}

func (a *Adapter) LeafError(backend string, op mcroute.Op, res mcroute.Result) {
	a.leafErrors.WithLabelValues(backend, op.String(), res.String()).Inc()
}

func (a *Adapter) FailoverAttempt(index int, _ mcroute.Result) {
	a.failovers.WithLabelValues(strconv.Itoa(index)).Inc()
}

func (a *Adapter) WarmUpRestore(_ string, res mcroute.Result) {
	a.restores.WithLabelValues(res.String()).Inc()
}

// ReloadApplied sets the generation gauge. Ids only grow, so an event
// delivered late by an async hook never moves the gauge backwards.
func (a *Adapter) ReloadApplied(gen uint64) {
	a.reloads.WithLabelValues("applied").Inc()
	for {
		cur := a.gen.Load()
		if gen <= cur {
			return
		}
		if a.gen.CompareAndSwap(cur, gen) {
			a.generation.Set(float64(gen))
			return
		}
	}
}

func (a *Adapter) ReloadFailed(bootstrap bool, _ error) {
	if bootstrap {
		a.reloads.WithLabelValues("bootstrap_failed").Inc()
		return
	}
	a.reloads.WithLabelValues("failed").Inc()
}

func (a *Adapter) GenerationRetired(uint64) { a.retired.Inc() }

// ObserveExecutor exports stats read at scrape time: monotonic task
// counts as counters and the live count as a gauge.
func (a *Adapter) ObserveExecutor(stats func() fiber.Stats) {
	counter := func(name, help string, v func(fiber.Stats) uint64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts(a.opts(name, help)), func() float64 { return float64(v(stats())) })
	}
	a.reg.MustRegister(
		counter("tasks_started_total", "Request tasks started", func(s fiber.Stats) uint64 { return s.Started }),
		counter("tasks_finished_total", "Request tasks finished", func(s fiber.Stats) uint64 { return s.Finished }),
		counter("tasks_abandoned_total", "Request tasks abandoned by cancellation", func(s fiber.Stats) uint64 { return s.Abandoned }),
		prometheus.NewGaugeFunc(a.opts("tasks_live", "Request tasks scheduled and not finished"),
			func() float64 { return float64(stats().Live()) }),
	)
}

// Compile-time check: ensure Adapter implements mcroute.Hooks.
var _ mcroute.Hooks = (*Adapter)(nil)
