package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"permit-gateway/middleware/ratelimit"
	"permit-gateway/middleware/ratelimit/domain"
	"permit-gateway/middleware/ratelimit/infra"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "gateway",
		Short:         "Reverse proxy paced by a permit rate limiter",
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			v, err := newViper(cmd.Flags())
			if err != nil {
				return err
			}
			cfg, err := readConfig(v)
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg.logLevel)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			return run(cmd.Context(), cfg, logger)
		},
	}

	f := cmd.Flags()
	f.String("listen-addr", ":8080", "proxy listen address (LISTEN_ADDR)")
	f.String("admin-addr", ":9090", "metrics/admin listen address, empty disables (ADMIN_ADDR)")
	f.String("upstream-url", "", "upstream base URL (UPSTREAM_URL)")
	f.String("log-level", "info", "debug|info|warn|error (LOG_LEVEL)")
	f.Float64("rate-rps", 10, "permits per second per key (RATE_RPS)")
	f.Int("rate-burst", 20, "max stored permits per key (RATE_BURST)")
	f.String("rate-strategy", string(infra.StrategyPermitClock), "permitclock|tokenbucket (RATE_STRATEGY)")
	f.Duration("rate-max-wait", 0, "longest pacing wait before rejecting (RATE_MAX_WAIT)")
	f.Int("rate-permits", 1, "permits charged per request (RATE_PERMITS)")

	return cmd
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	zcfg := zap.NewProductionConfig()
	if lvl == zapcore.DebugLevel {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(lvl)
	return zcfg.Build()
}

func run(parent context.Context, cfg config, log *zap.Logger) error {
	target, err := url.Parse(cfg.upstreamURL)
	if err != nil {
		return err
	}

	proxy := httputil.NewSingleHostReverseProxy(target)
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		log.Warn("proxy error", zap.String("path", r.URL.Path), zap.Error(err))
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}

	store, err := infra.NewStore(cfg.rateRPS, cfg.rateBurst,
		infra.WithStrategy(cfg.rateStrategy),
		infra.WithStoreLogger(log.Named("store")),
	)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	promStats, err := infra.NewPrometheusStats(reg, "")
	if err != nil {
		return err
	}
	stats := infra.MultiStats{promStats}

	if cfg.rateStatsEnabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.rateStatsRedisAddr,
			Password: cfg.rateStatsRedisPassword,
			DB:       cfg.rateStatsRedisDB,
		})
		defer func() { _ = rdb.Close() }()

		pingCtx, cancel := context.WithTimeout(parent, 2*time.Second)
		_, err := rdb.Ping(pingCtx).Result()
		cancel()
		if err != nil {
			return err
		}

		stats = append(stats, infra.NewRedisStatsStore(
			rdb,
			infra.WithStatsPrefix(cfg.rateStatsPrefix),
			infra.WithStatsTTL(cfg.rateStatsTTL),
			infra.WithStatsBucket(cfg.rateStatsBucket),
			infra.WithStatsTrackKeys(cfg.rateStatsTrackKeys),
		))
	}

	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	store.StartJanitor(ctx)

	h := http.Handler(proxy)
	if cfg.rateEnabled {
		h = ratelimit.Middleware(ratelimit.Options{
			Store:               store,
			Stats:               domain.StatsStore(stats),
			KeyHeader:           cfg.rateKeyHdr,
			TrustXForwardedFor:  cfg.trustXFF,
			RejectStatus:        http.StatusTooManyRequests,
			RetryAfter:          cfg.retryAfter,
			MaxWait:             cfg.rateMaxWait,
			Permits:             cfg.ratePermits,
			AddRateLimitHeaders: cfg.addHeaders,
			Logger:              log.Named("ratelimit"),
		})(h)
	}

	servers := []*http.Server{newServer(cfg.listenAddr, h)}
	if cfg.adminAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		mux.Handle("/admin/rate", ratelimit.AdminHandler(store, log.Named("admin")))
		servers = append(servers, newServer(cfg.adminAddr, mux))
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		for _, srv := range servers {
			_ = srv.Shutdown(shutdownCtx)
		}
	}()

	log.Info("gateway listening",
		zap.String("addr", cfg.listenAddr),
		zap.String("upstream", target.String()),
		zap.String("admin_addr", cfg.adminAddr),
	)
	log.Info("rate config",
		zap.Bool("enabled", cfg.rateEnabled),
		zap.Float64("rps", cfg.rateRPS),
		zap.Int("burst", cfg.rateBurst),
		zap.String("strategy", string(cfg.rateStrategy)),
		zap.Duration("max_wait", cfg.rateMaxWait),
		zap.Int("permits", cfg.ratePermits),
		zap.String("key_header", cfg.rateKeyHdr),
		zap.Bool("trust_xff", cfg.trustXFF),
	)
	log.Info("rate stats config",
		zap.Bool("redis_enabled", cfg.rateStatsEnabled),
		zap.String("redis_addr", cfg.rateStatsRedisAddr),
		zap.String("bucket", cfg.rateStatsBucket),
		zap.Duration("ttl", cfg.rateStatsTTL),
		zap.Bool("track_keys", cfg.rateStatsTrackKeys),
	)

	errCh := make(chan error, len(servers))
	for _, srv := range servers {
		go func(srv *http.Server) {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
				return
			}
			errCh <- nil
		}(srv)
	}

	var firstErr error
	for range servers {
		if err := <-errCh; err != nil && firstErr == nil {
			firstErr = err
			log.Error("server error", zap.Error(err))
			cancel()
		}
	}
	return firstErr
}

func newServer(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}
}
