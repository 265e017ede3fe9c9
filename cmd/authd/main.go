package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/agrinova/authd/pkg/auth"
	"github.com/agrinova/authd/pkg/config"
	"github.com/agrinova/authd/pkg/httputil"
	"github.com/agrinova/authd/pkg/lockout"
	"github.com/agrinova/authd/pkg/middleware"
	"github.com/agrinova/authd/pkg/observability"
	"github.com/agrinova/authd/pkg/permcache"
	"github.com/agrinova/authd/pkg/rbac"
	"github.com/agrinova/authd/pkg/session"
	"github.com/agrinova/authd/pkg/transport/httptransport"
	"github.com/agrinova/authd/pkg/unifiedauth"
)

func main() {
	// Bootstrap logging until the structured logger is configured
	logrus.SetFormatter(&logrus.JSONFormatter{})
	logrus.SetOutput(os.Stderr)

	cfg, err := config.LoadConfig()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}

	logger := observability.NewLogger(cfg.Observability.Level(), os.Stdout).WithField("service", cfg.Observability.OTelServiceName)
	logrus.WithFields(logrus.Fields{
		"port":        cfg.Server.Port,
		"health_port": cfg.Server.HealthPort,
		"lockout":     cfg.Lockout.Backend,
		"broadcaster": cfg.Session.Broadcaster,
		"persister":   cfg.Session.Persister,
	}).Info("Starting authd")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := observability.InitTracing(ctx, observability.TracingConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
	}, logger)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to initialize tracing")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(registry)
	}

	redisClient, err := openRedis(ctx, cfg.Redis)
	if err != nil {
		if cfg.Lockout.Backend == "redis" || cfg.Session.Broadcaster == "redis" {
			logrus.WithError(err).Fatal("Redis is required by the configuration")
		}
		logger.WithError(err).Warn("redis unavailable, continuing without it")
	}

	tracker, memTracker := newTracker(cfg.Lockout, redisClient, cfg.Redis.KeyPrefix, logger, metrics)
	var sweeper *lockout.Sweeper
	if memTracker != nil {
		sweeper, err = lockout.NewSweeper(memTracker, cfg.Lockout.SweepSchedule, logger)
		if err != nil {
			logrus.WithError(err).Fatal("Failed to schedule lockout sweeps")
		}
		sweeper.Start()
	}

	bus, err := newBroadcaster(ctx, cfg.Session, redisClient, cfg.Redis.Channel, logger)
	if err != nil {
		// The store degrades to single-instance logout
		logger.WithError(err).Warn("session broadcaster unavailable")
		metrics.RecordBroadcastFailure("subscribe")
	}

	persister, sessionDB, err := newPersister(ctx, cfg.Session)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to open session persistence")
	}

	catalog, err := loadCatalog(cfg.RolesFile)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load role catalog")
	}
	cache := permcache.New(&permcache.Config{TTL: cfg.Cache.TTL, MaxEntries: cfg.Cache.MaxEntries}, permcache.WithMetrics(metrics))
	engine := rbac.NewEngine(catalog,
		rbac.WithCache(cache),
		rbac.WithLogger(logger),
		rbac.WithMetrics(metrics),
	)

	idCfg := httptransport.DefaultConfig(cfg.Identity.BaseURL)
	idCfg.Timeout = cfg.Identity.Timeout
	idCfg.RateLimit = cfg.Identity.RateLimit
	idCfg.Burst = cfg.Identity.Burst
	identity, err := httptransport.New(idCfg, httptransport.WithLogger(logger))
	if err != nil {
		logrus.WithError(err).Fatal("Failed to create identity client")
	}

	storeOpts := []session.StoreOption{
		session.WithStoreLogger(logger),
		session.WithStoreMetrics(metrics),
	}
	if bus != nil {
		storeOpts = append(storeOpts, session.WithBroadcaster(bus))
	}
	if persister != nil {
		storeOpts = append(storeOpts, session.WithPersister(persister))
	}
	store := session.NewStore(storeOpts...)

	service := unifiedauth.NewService(identity, tracker, store,
		unifiedauth.WithInvalidator(engine),
		unifiedauth.WithRefreshLeeway(cfg.Session.RefreshLeeway),
		unifiedauth.WithLogger(logger),
		unifiedauth.WithMetrics(metrics),
	)
	if sess, err := service.Restore(ctx); err == nil {
		logger.WithField("principal_id", sess.PrincipalID()).Info("restored persisted session")
	} else if !errors.Is(err, auth.ErrNoSession) {
		logger.WithError(err).Info("no usable persisted session")
	}

	// Main API router
	router := mux.NewRouter()
	router.Use(middleware.RequestID(logger), httputil.Recovery(logger))
	limiter := middleware.NewRateLimiter(&middleware.RateLimitConfig{
		RequestsPerWindow: cfg.Server.RateLimit,
		WindowDuration:    time.Minute,
		BurstSize:         cfg.Server.RateBurst,
	})
	if cfg.Server.RateLimit > 0 {
		limiter.StartCleanup(ctx)
		router.Use(middleware.NewRateLimitMiddleware(limiter).Handler)
	}

	unifiedauth.NewHandlers(service).RegisterRoutes(router)

	authz := router.PathPrefix("/").Subrouter()
	authz.Use(middleware.NewAuthMiddleware(service, false, logger).Handler)
	rbac.NewHandlers(engine).RegisterRoutes(authz)

	server := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      otelhttp.NewHandler(router, "authd"),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Health and metrics on a separate port for k8s probes
	health := observability.NewHealthChecker(sessionDB, redisClient, cfg.Observability.OTelServiceVersion)
	healthRouter := mux.NewRouter()
	healthRouter.HandleFunc("/health/live", health.Liveness).Methods("GET")
	healthRouter.HandleFunc("/health/ready", health.Readiness).Methods("GET")
	if cfg.Observability.MetricsEnabled {
		healthRouter.Handle("/metrics", observability.MetricsHandler(registry))
	}
	healthServer := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler:      healthRouter,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	shutdown := observability.NewShutdownManager(logger, server, cfg.Server.ShutdownTimeout)
	shutdown.Register("tracing", shutdownTracing)
	if redisClient != nil {
		shutdown.Register("redis", func(context.Context) error { return redisClient.Close() })
	}
	if sessionDB != nil {
		shutdown.Register("session_db", func(context.Context) error { return sessionDB.Close() })
	}
	if bus != nil {
		shutdown.Register("broadcaster", func(context.Context) error { return bus.Close() })
	}
	if sweeper != nil {
		shutdown.Register("lockout_sweeper", func(ctx context.Context) error {
			select {
			case <-sweeper.Stop().Done():
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	}
	shutdown.Register("session_store", func(context.Context) error {
		service.Close()
		store.Close()
		return nil
	})
	shutdown.Register("health_server", healthServer.Shutdown)

	go func() {
		logger.Infof("health server listening on %s", healthServer.Addr)
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("health server failed")
		}
	}()

	go func() {
		logger.Infof("authd listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Fatal("Server failed")
		}
	}()

	if err := shutdown.WaitForSignal(); err != nil {
		logger.WithError(err).Error("shutdown completed with errors")
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}
