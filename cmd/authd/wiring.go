package main

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/agrinova/authd/pkg/config"
	"github.com/agrinova/authd/pkg/lockout"
	"github.com/agrinova/authd/pkg/observability"
	"github.com/agrinova/authd/pkg/rbac"
	"github.com/agrinova/authd/pkg/session"
)

// openRedis connects to Redis when any component needs it. It returns nil
// when no URL is configured.
func openRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	if cfg.URL == "" {
		return nil, nil
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	if cfg.DB > 0 {
		opts.DB = cfg.DB
	}

	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

// newTracker builds the lockout tracker for the configured backend. The
// memory tracker is returned separately so the caller can schedule sweeps.
func newTracker(cfg config.LockoutConfig, client *redis.Client, prefix string, logger *observability.Logger, metrics *observability.Metrics) (lockout.Tracker, *lockout.MemoryTracker) {
	policy := &lockout.Config{
		Threshold:       cfg.Threshold,
		LockoutDuration: cfg.Duration,
		FailureWindow:   cfg.FailureWindow,
	}
	opts := []lockout.Option{lockout.WithLogger(logger), lockout.WithMetrics(metrics)}

	if cfg.Backend == "redis" && client != nil {
		return lockout.NewRedisTracker(client, policy, prefix, opts...), nil
	}
	mem := lockout.NewMemoryTracker(policy, opts...)
	return mem, mem
}

// newBroadcaster picks the logout fan-out channel. A nil broadcaster leaves
// the store without cross-context logout.
func newBroadcaster(ctx context.Context, cfg config.SessionConfig, client *redis.Client, channel string, logger *observability.Logger) (session.Broadcaster, error) {
	switch cfg.Broadcaster {
	case "none":
		return nil, nil
	case "redis":
		if client == nil {
			return nil, fmt.Errorf("redis broadcaster requires a redis connection")
		}
		bus, err := session.NewRedisBroadcaster(ctx, client, channel, logger)
		if err != nil {
			return nil, err
		}
		return bus, nil
	case "file":
		bus, err := session.NewFileBroadcaster(cfg.SignalDir, logger)
		if err != nil {
			return nil, err
		}
		return bus, nil
	default:
		return session.NewLocalBus(), nil
	}
}

// newPersister opens the session persistence backend. The returned *sql.DB
// is nil unless a database backend is configured.
func newPersister(ctx context.Context, cfg config.SessionConfig) (session.Persister, *sql.DB, error) {
	var driver string
	switch cfg.Persister {
	case "none", "":
		return nil, nil, nil
	case "file":
		return session.NewFilePersister(cfg.PersistPath), nil, nil
	case "postgres":
		driver = "postgres"
	case "sqlite":
		driver = "sqlite3"
	default:
		return nil, nil, fmt.Errorf("unknown session persister %q", cfg.Persister)
	}

	db, err := sql.Open(driver, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open session database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to ping session database: %w", err)
	}

	persister := session.NewSQLPersister(db, cfg.Slot)
	if err := persister.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, nil, err
	}
	return persister, db, nil
}

// loadCatalog returns the role catalog from rolesFile, or the built-in one
func loadCatalog(rolesFile string) (*rbac.Catalog, error) {
	if rolesFile == "" {
		return rbac.DefaultCatalog(), nil
	}
	defs, err := rbac.LoadRoleDefinitions(rolesFile)
	if err != nil {
		return nil, err
	}
	return rbac.NewCatalog(defs)
}
