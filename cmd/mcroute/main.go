// Command mcroute serves a reloadable cache routing tree over HTTP.
//
// The route configuration comes from CONFIG_FILE (polled for changes) or
// CONFIG_STR. Keys are read and written under /v1/keys/{key}; Prometheus
// metrics are served at /metrics.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
	"github.com/sethvargo/go-envconfig"
	"github.com/sirupsen/logrus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/unkn0wn-root/mcroute"
	"github.com/unkn0wn-root/mcroute/codec"
	"github.com/unkn0wn-root/mcroute/config"
	"github.com/unkn0wn-root/mcroute/genstore"
	asynchook "github.com/unkn0wn-root/mcroute/hooks/async"
	mlogrus "github.com/unkn0wn-root/mcroute/log/logrus"
	mslog "github.com/unkn0wn-root/mcroute/log/slog"
	mzap "github.com/unkn0wn-root/mcroute/log/zap"
	pmet "github.com/unkn0wn-root/mcroute/metrics/prom"
	"github.com/unkn0wn-root/mcroute/router"
	"github.com/unkn0wn-root/mcroute/sloghooks"
)

type Config struct {
	Name         string        `env:"ROUTER_NAME,default=default"`
	ConfigFile   string        `env:"CONFIG_FILE"`
	ConfigStr    string        `env:"CONFIG_STR"`
	ConfigFormat string        `env:"CONFIG_FORMAT,default=json"`
	FallbackFile string        `env:"FALLBACK_FILE"`
	Poll         time.Duration `env:"CONFIG_POLL,default=1s"`
	Debounce     time.Duration `env:"CONFIG_DEBOUNCE,default=1s"`
	Workers      int           `env:"WORKERS"`

	GenStoreRedis string `env:"GENSTORE_REDIS_ADDR"`

	HTTPAddr       string        `env:"HTTP_ADDR,default=:8080"`
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT,default=1s"`

	LogFormat string `env:"LOG_FORMAT,default=slog"` // slog | zap | logrus
	LogDebug  bool   `env:"LOG_DEBUG"`
	LogHooks  bool   `env:"LOG_HOOKS"`
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var cfg Config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		log.Fatalf("failed to process config: %v", err)
	}
	if err := run(ctx, cfg); err != nil {
		log.Fatal(err)
	}
}

func newLogger(cfg Config) (mcroute.Logger, func(), error) {
	switch cfg.LogFormat {
	case "slog":
		level := slog.LevelInfo
		if cfg.LogDebug {
			level = slog.LevelDebug
		}
		return mslog.New(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))), func() {}, nil
	case "zap":
		zc := zap.NewProductionConfig()
		if cfg.LogDebug {
			zc.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
		}
		zl, err := zc.Build()
		if err != nil {
			return nil, nil, err
		}
		return mzap.New(zl), func() { _ = zl.Sync() }, nil
	case "logrus":
		l := logrus.New()
		l.SetFormatter(&logrus.JSONFormatter{})
		if cfg.LogDebug {
			l.SetLevel(logrus.DebugLevel)
		}
		return mlogrus.New(logrus.NewEntry(l)), func() {}, nil
	}
	return nil, nil, fmt.Errorf("unknown LOG_FORMAT %q", cfg.LogFormat)
}

func run(ctx context.Context, cfg Config) error {
	logger, flush, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer flush()

	metrics := pmet.New(nil, "mcroute", "", nil)
	var hooks mcroute.Hooks = metrics
	if cfg.LogHooks {
		hooks = mcroute.Tee(metrics, sloghooks.New(slog.Default(), sloghooks.Options{LeafErrorEvery: 100}))
	}
	async := asynchook.New(hooks, 1, 4096)
	defer async.Close()

	opts := router.Options{
		Name:       cfg.Name,
		Format:     codec.Format(cfg.ConfigFormat),
		PollPeriod: cfg.Poll,
		Debounce:   cfg.Debounce,
		Workers:    cfg.Workers,
		Hooks:      async,
		Logger:     logger,
	}
	if cfg.ConfigFile != "" {
		opts.Source = config.NewFileSource(cfg.ConfigFile)
	}
	if cfg.ConfigStr != "" {
		opts.Config = []byte(cfg.ConfigStr)
	}
	if cfg.FallbackFile != "" {
		fb, err := loadFallback(cfg.FallbackFile)
		if err != nil {
			return err
		}
		opts.Fallback = &fb
	}
	if cfg.GenStoreRedis != "" {
		rdb := goredis.NewClient(&goredis.Options{Addr: cfg.GenStoreRedis})
		gs := genstore.NewRedisGenStore(rdb, "mcroute")
		defer gs.Close(context.Background())
		opts.GenStore = gs
	}

	r, err := router.New(ctx, opts)
	if err != nil {
		return err
	}
	metrics.ObserveExecutor(r.Stats)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", healthz(r))
	keys := &keyHandler{r: r, timeout: cfg.RequestTimeout}
	mux.HandleFunc("GET /v1/keys/{key}", keys.get)
	mux.HandleFunc("PUT /v1/keys/{key}", keys.put)
	mux.HandleFunc("DELETE /v1/keys/{key}", keys.delete)
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		logger.Info("serving", mcroute.Fields{"addr": cfg.HTTPAddr, "gen": r.Generation()})
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	eg.Go(func() error {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return errors.Join(srv.Shutdown(sctx), r.Close(sctx))
	})
	return eg.Wait()
}

func loadFallback(path string) (router.Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return router.Config{}, err
	}
	return codec.JSONCodec[router.Config]{}.Decode(b)
}

// healthz reports the applied generation next to the newest one minted for
// the router. latest also counts ids taken by rejected reloads, so a gap is
// a hint for operators and not a failure.
func healthz(r *router.Router) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		latest, err := r.Latest(req.Context())
		if err != nil {
			http.Error(w, fmt.Sprintf("gen=%d latest=unknown: %v", r.Generation(), err), http.StatusServiceUnavailable)
			return
		}
		fmt.Fprintf(w, "gen=%d latest=%d config=%s\n", r.Generation(), latest, r.Watching())
	}
}

type keyHandler struct {
	r       *router.Router
	timeout time.Duration
}

func (h *keyHandler) route(w http.ResponseWriter, req *http.Request, mreq mcroute.Request, op mcroute.Op) (mcroute.Reply, bool) {
	ctx, cancel := context.WithTimeout(req.Context(), h.timeout)
	defer cancel()
	rep := h.r.Route(ctx, mreq, op)
	if rep.Failed() {
		status := http.StatusBadGateway
		if rep.Result == mcroute.ResultTimeout {
			status = http.StatusGatewayTimeout
		}
		http.Error(w, fmt.Sprintf("%s: %v", rep.Result, rep.Err), status)
		return rep, false
	}
	w.Header().Set("X-Mcroute-Result", rep.Result.String())
	return rep, true
}

func (h *keyHandler) get(w http.ResponseWriter, req *http.Request) {
	op := mcroute.OpGet
	if s := req.URL.Query().Get("op"); s != "" {
		var err error
		if op, err = mcroute.ParseOp(s); err != nil || !op.IsGet() {
			http.Error(w, "op must be get, metaget or lease-get", http.StatusBadRequest)
			return
		}
	}
	rep, ok := h.route(w, req, mcroute.Request{Key: req.PathValue("key")}, op)
	if !ok {
		return
	}
	if rep.LeaseToken != 0 {
		w.Header().Set("X-Mcroute-Lease-Token", strconv.FormatUint(rep.LeaseToken, 10))
	}
	if !rep.Hit() {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.Header().Set("X-Mcroute-Flags", strconv.FormatUint(rep.Flags, 10))
	_, _ = w.Write(rep.Value)
}

func (h *keyHandler) put(w http.ResponseWriter, req *http.Request) {
	q := req.URL.Query()
	op := mcroute.OpSet
	if s := q.Get("op"); s != "" {
		var err error
		if op, err = mcroute.ParseOp(s); err != nil || !op.IsUpdate() {
			http.Error(w, "op must be set, add, replace or lease-set", http.StatusBadRequest)
			return
		}
	}
	body, err := io.ReadAll(io.LimitReader(req.Body, 1<<20))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	mreq := mcroute.Request{Key: req.PathValue("key"), Value: body}
	for name, dst := range map[string]*uint64{"flags": &mreq.Flags, "lease_token": &mreq.LeaseToken} {
		if s := q.Get(name); s != "" {
			if *dst, err = strconv.ParseUint(s, 10, 64); err != nil {
				http.Error(w, "bad "+name, http.StatusBadRequest)
				return
			}
		}
	}
	if s := q.Get("exptime"); s != "" {
		n, err := strconv.ParseUint(s, 10, 32)
		if err != nil {
			http.Error(w, "bad exptime", http.StatusBadRequest)
			return
		}
		mreq.Exptime = uint32(n)
	}
	rep, ok := h.route(w, req, mreq, op)
	if !ok {
		return
	}
	if !rep.Result.IsStored() {
		w.WriteHeader(http.StatusConflict)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *keyHandler) delete(w http.ResponseWriter, req *http.Request) {
	rep, ok := h.route(w, req, mcroute.Request{Key: req.PathValue("key")}, mcroute.OpDelete)
	if !ok {
		return
	}
	if rep.Result != mcroute.ResultDeleted {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
