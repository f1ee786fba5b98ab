package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"admission-gateway/config"
	"admission-gateway/middleware/ratelimit"
	"admission-gateway/middleware/ratelimit/application"
	"admission-gateway/middleware/ratelimit/domain"
	"admission-gateway/middleware/ratelimit/infra"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config error", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	if cfg.UpstreamURL == "" {
		logger.Error("UPSTREAM_URL is required")
		os.Exit(1)
	}
	target, err := url.Parse(cfg.UpstreamURL)
	if err != nil {
		logger.Error("invalid UPSTREAM_URL", "error", err)
		os.Exit(1)
	}

	proxy := httputil.NewSingleHostReverseProxy(target)
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		logger.Warn("proxy error", "path", r.URL.Path, "error", err)
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	local := infra.NewMemoryWindowStore(infra.WithSweepEvery(cfg.RateLimit.SweepEvery))
	local.StartJanitor(ctx, cfg.RateLimit.SweepEvery)

	svc := application.Service{
		Identifier:   application.NewIdentifier(cfg.RateLimit.AllowList, nil),
		Limits:       cfg.RateLimit.Tiers,
		DefaultLimit: cfg.RateLimit.BaseLimit,
		Window:       cfg.RateLimit.Window,
		Local:        local,
		Logger:       logger,
	}

	var stats infra.MultiStatsStore
	registry := prometheus.NewRegistry()
	if cfg.MetricsEnabled {
		registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		stats = append(stats, infra.NewPrometheusStatsStore(registry))
	}

	if cfg.RemoteEnabled() {
		rdb := infra.NewRedisClient(infra.RedisClientConfig{
			Host:          cfg.Redis.Host,
			Port:          cfg.Redis.Port,
			Password:      cfg.Redis.Password,
			DB:            cfg.Redis.DB,
			TLS:           cfg.Redis.TLS,
			SocketTimeout: cfg.Redis.SocketTimeout,
			PoolSize:      cfg.Redis.MaxInflight,
		})
		defer func() { _ = rdb.Close() }()

		remote := infra.NewRedisWindowStore(rdb)
		svc.Remote = remote
		svc.RemoteTimeout = cfg.Redis.CallTimeout
		svc.RemoteGate = application.RemoteGate{
			Pool: infra.NewChanPool(cfg.Redis.MaxInflight),
			Wait: cfg.Redis.CallTimeout,
		}
		svc.Health = application.NewRemoteHealth(cfg.Redis.RetryInterval)

		// Redis fora no boot não impede a subida: começa degradado e a tentativa periódica reconecta.
		if err := remote.Ping(ctx, cfg.Redis.SocketTimeout); err != nil {
			svc.Health.MarkDown(time.Now())
			logger.Warn("redis unavailable at startup, using local window store",
				"addr", cfg.Redis.Host, "error", err)
		}

		if cfg.Stats.Enabled {
			stats = append(stats, application.RemoteStats{
				Store: infra.NewRedisStatsStore(
					rdb,
					infra.WithStatsPrefix(cfg.Stats.Prefix),
					infra.WithStatsTTL(cfg.Stats.TTL),
					infra.WithStatsBucket(cfg.Stats.Bucket),
					infra.WithStatsTrackKeys(cfg.Stats.TrackKeys),
					infra.WithStatsTrackRoutes(cfg.Stats.TrackRoutes),
				),
				Health: svc.Health,
			})
		}
	}

	var statsStore domain.StatsStore
	if len(stats) > 0 {
		statsStore = stats
	}

	h := http.Handler(proxy)
	if cfg.RateLimit.Enabled {
		h = ratelimit.Middleware(ratelimit.Options{
			Limiter:            svc,
			Stats:              statsStore,
			StatsTimeout:       cfg.Redis.CallTimeout,
			TrustXForwardedFor: cfg.RateLimit.TrustXFF,
			APIKeyHeader:       cfg.RateLimit.APIKeyHeader,
			ExcludedPaths:      cfg.RateLimit.ExcludedPaths,
			Logger:             logger,
		})(h)
	}

	mux := http.NewServeMux()
	if cfg.MetricsEnabled {
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	}
	mux.Handle("/", h)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("gateway listening",
		"addr", cfg.ListenAddr,
		"upstream", target.String())
	logger.Info("rate limit",
		"enabled", cfg.RateLimit.Enabled,
		"window", cfg.RateLimit.Window,
		"limits", cfg.RateLimit.Tiers,
		"allow_list", len(cfg.RateLimit.AllowList),
		"trust_xff", cfg.RateLimit.TrustXFF)
	logger.Info("window store",
		"redis", cfg.RemoteEnabled(),
		"redis_addr", cfg.Redis.Host,
		"call_timeout", cfg.Redis.CallTimeout,
		"max_inflight", cfg.Redis.MaxInflight)
	logger.Info("rate stats",
		"metrics", cfg.MetricsEnabled,
		"redis", cfg.Stats.Enabled,
		"bucket", cfg.Stats.Bucket,
		"track_keys", cfg.Stats.TrackKeys,
		"track_routes", cfg.Stats.TrackRoutes)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
