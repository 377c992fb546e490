package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/platinummonkey/idlink/pkg/api"
	"github.com/platinummonkey/idlink/pkg/authflow"
	"github.com/platinummonkey/idlink/pkg/config"
	"github.com/platinummonkey/idlink/pkg/credential"
	"github.com/platinummonkey/idlink/pkg/identity"
	"github.com/platinummonkey/idlink/pkg/janitor"
	"github.com/platinummonkey/idlink/pkg/linking"
	"github.com/platinummonkey/idlink/pkg/middleware"
	"github.com/platinummonkey/idlink/pkg/observability"
	"github.com/platinummonkey/idlink/pkg/storage/cache"
	"github.com/platinummonkey/idlink/pkg/storage/sqlstore"
)

var version = "dev"

func main() {
	migrate := flag.Bool("migrate", true, "Apply the schema before serving")
	withJanitor := flag.Bool("janitor", false, "Run the cleanup janitor in-process")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		observability.NewLogger(observability.ErrorLevel, os.Stderr).WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout).
		WithField("service", cfg.Observability.OTelServiceName)

	if err := run(cfg, logger, *migrate, *withJanitor); err != nil {
		logger.WithError(err).Error("idlink exited with error")
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *observability.Logger, migrate, withJanitor bool) error {
	ctx := context.Background()

	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
		SampleRatio:    cfg.Observability.OTelSampleRatio,
		ExportInterval: cfg.Observability.OTelExportInterval,
	}, logger)
	if err != nil {
		return err
	}

	store, err := sqlstore.Open(cfg.Storage)
	if err != nil {
		return err
	}
	if migrate {
		if err := store.Migrate(ctx); err != nil {
			store.Close()
			return err
		}
		logger.WithField("driver", cfg.Storage.Driver).Info("Schema is up to date")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(registry)
	}
	recorder := &observability.Recorder{Prom: metrics}
	if providers != nil {
		if recorder.OTel, err = observability.NewOTelMetrics(); err != nil {
			logger.WithError(err).Warn("OpenTelemetry metrics unavailable")
		}
	}

	var (
		redisClient  *redis.Client
		sessionCache authflow.SessionCache
		limiter      middleware.Limiter
	)
	limitConfig := &middleware.RateLimitConfig{
		RequestsPerWindow: cfg.Auth.AnonymousPerMinute,
		WindowDuration:    time.Minute,
		BurstSize:         cfg.Auth.AnonymousBurst,
	}
	if cfg.Storage.RedisURL != "" {
		if redisClient, err = cache.NewRedisClient(cfg.Storage); err != nil {
			store.Close()
			return err
		}
		if cfg.Storage.CacheEnabled {
			sessionCache = cache.NewSessionCache(redisClient, cfg.Storage)
		}
		limiter = middleware.NewDistributedRateLimiter(redisClient, limitConfig, "idlink:ratelimit:anonymous")
		logger.Info("Redis session cache and shared rate limit enabled")
	} else if cfg.Auth.AnonymousPerMinute > 0 {
		local := middleware.NewRateLimiter(limitConfig)
		local.StartCleanup(ctx)
		limiter = local
	}

	tokens, err := identity.NewTokenIssuer([]byte(cfg.Auth.TokenSecret))
	if err != nil {
		return err
	}

	coord, err := linking.New(store, linking.Options{
		Policy:  cfg.Policy.Linking(),
		Tokens:  tokens,
		Metrics: recorder,
	})
	if err != nil {
		return err
	}

	orch, err := authflow.New(store, coord, authflow.Options{
		Hasher:     credential.NewBcryptHasher(cfg.Auth.BcryptCost),
		Tokens:     tokens,
		MagicLinks: credential.NewMagicLinks(cfg.Auth.MagicLinkBaseURL, cfg.Auth.MagicLinkTTL),
		Sender:     credential.NewLogSender(logger),
		Cache:      sessionCache,
		Retry:      cfg.Policy.RetryPolicy(),
		Metrics:    recorder,
		UpdateAge:  cfg.Auth.SessionUpdateAge,
	})
	if err != nil {
		return err
	}

	health := observability.NewHealthChecker(store.DB(), redisClient).
		WithVersion(version).
		WithMetrics(metrics)

	handler := api.NewServer(orch, api.Config{
		Logger:           logger,
		Metrics:          metrics,
		Registry:         registry,
		Health:           health,
		AnonymousLimiter: limiter,
		RequestTimeout:   cfg.Server.RequestTimeout,
		MaxBodyBytes:     cfg.Server.MaxBodyBytes,
		CORSOrigins:      cfg.Server.CORSOrigins,
	})

	server := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := observability.NewShutdownManager(logger, server, cfg.Server.ShutdownTimeout)

	watchCtx, stopWatch := context.WithCancel(ctx)
	shutdown.Register("policy-watcher", func(context.Context) error {
		stopWatch()
		return nil
	})
	if cfg.PolicyFile != "" {
		watcher := config.NewPolicyWatcher(cfg.PolicyFile, cfg.Policy, logger, func(p config.Policy) {
			coord.UpdatePolicy(p.Linking())
			orch.UpdatePolicy(p.RetryPolicy(), cfg.Auth.SessionUpdateAge)
		})
		if err := watcher.Start(watchCtx); err != nil {
			logger.WithError(err).Warn("Policy hot reload disabled")
		}
	}

	if metrics != nil {
		go recordDBStats(watchCtx, store, metrics)
	}

	if withJanitor {
		j := janitor.New(store, coord, janitor.Config{
			Schedule:           cfg.Janitor.Schedule,
			StrandedAfter:      cfg.Janitor.StrandedAfter,
			RedirectRetention:  cfg.Janitor.RedirectRetention,
			MagicLinkRetention: cfg.Janitor.MagicLinkRetention,
		}, janitor.WithMetrics(metrics))
		if err := j.Start(); err != nil {
			return err
		}
		shutdown.Register("janitor", func(ctx context.Context) error {
			select {
			case <-j.Stop().Done():
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	}

	if redisClient != nil {
		shutdown.Register("redis", func(context.Context) error {
			return redisClient.Close()
		})
	}
	shutdown.Register("store", func(context.Context) error {
		return store.Close()
	})
	shutdown.Register("otel", func(ctx context.Context) error {
		return observability.ShutdownOTel(ctx, providers, logger)
	})

	serveErr := make(chan error, 1)
	go func() {
		logger.WithFields(map[string]interface{}{
			"addr":    server.Addr,
			"version": version,
		}).Info("Starting idlink server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	shutdownDone := make(chan error, 1)
	go func() { shutdownDone <- shutdown.WaitForShutdown() }()

	select {
	case err, ok := <-serveErr:
		if ok && err != nil {
			shutdown.Shutdown()
			return err
		}
		return <-shutdownDone
	case err := <-shutdownDone:
		return err
	}
}

func recordDBStats(ctx context.Context, store *sqlstore.Store, metrics *observability.Metrics) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.RecordDBStats(store.DB().Stats())
		}
	}
}
