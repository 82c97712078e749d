package bootstrap

import (
	"context"
	"fmt"

	"github.com/repnlab/labstore/common/cache"
	"github.com/repnlab/labstore/common/config"
	"github.com/repnlab/labstore/common/db"
	"github.com/repnlab/labstore/common/lock"
	"github.com/repnlab/labstore/common/logger"
	"github.com/repnlab/labstore/common/metrics"
	"github.com/repnlab/labstore/common/ratelimit"
	"github.com/repnlab/labstore/common/redis"
	"github.com/repnlab/labstore/common/telemetry"
)

const (
	sessionPrefix   = "labstore:session:"
	rateLimitPrefix = "labstore:ratelimit:"
)

// Setup initializes all service components
func Setup(ctx context.Context, serviceName string, opts ...Option) (*Components, error) {
	options := defaultOptions()
	for _, opt := range opts {
		opt(options)
	}

	components := &Components{
		cleanupFuncs: make([]func() error, 0),
	}

	// 1. Load configuration
	var err error
	if options.customConfig != nil {
		components.Config = options.customConfig
	} else {
		components.Config, err = config.Load(serviceName)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	}
	cfg := components.Config

	// 2. Initialize logger
	if options.customLogger != nil {
		components.Logger = options.customLogger
	} else {
		components.Logger = logger.New(cfg.Service.LogLevel, cfg.Service.LogFormat)
	}

	components.Logger.Info("initializing service",
		"service", serviceName,
		"environment", cfg.Service.Environment,
		"storage_root", cfg.Storage.Root,
	)

	components.Metrics = metrics.New("labstore")

	// 3. Database, only when a component is backed by Postgres
	if cfg.NeedsDatabase() {
		components.Logger.Info("connecting to database")
		components.DB, err = db.New(ctx, cfg, components.Logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		components.addCleanup(func() error {
			components.DB.Close()
			return nil
		})

		if options.dbInitHook != nil {
			components.Logger.Info("running database init hook")
			if err := options.dbInitHook(components.DB); err != nil {
				components.Shutdown(ctx)
				return nil, fmt.Errorf("database init hook failed: %w", err)
			}
		}
	}

	// 4. Redis, only when locks or sessions are shared
	if cfg.NeedsRedis() {
		components.Logger.Info("connecting to redis", "addr", cfg.Redis.Addr)
		components.Redis, err = redis.Dial(ctx, cfg.Redis, components.Logger)
		if err != nil {
			components.Shutdown(ctx)
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		components.addCleanup(components.Redis.Close)
	}

	// 5. Per-artifact locks
	switch cfg.Lock.Backend {
	case "redis":
		components.Locker = lock.NewRedisLocker(components.Redis, components.Logger)
	default:
		components.Locker = lock.NewMemoryLocker()
	}

	// 6. Session store
	switch cfg.Auth.SessionBackend {
	case "redis":
		components.Sessions = cache.NewRedisCache(components.Redis, sessionPrefix)
	default:
		components.Sessions = cache.NewMemoryCache(components.Logger)
	}
	components.addCleanup(func() error {
		return components.Sessions.Close()
	})

	// 7. Rate limiter
	if components.Redis != nil {
		components.Limiter = ratelimit.NewRedisLimiter(components.Redis, rateLimitPrefix, components.Logger)
	} else {
		components.Limiter = ratelimit.NewMemoryLimiter()
	}

	// 8. Telemetry
	if !options.skipTelemetry && (cfg.Telemetry.EnablePprof || cfg.Telemetry.EnableMetrics) {
		pprofPort, metricsPort := 0, 0
		if cfg.Telemetry.EnablePprof {
			pprofPort = cfg.Telemetry.PprofPort
		}
		if cfg.Telemetry.EnableMetrics {
			metricsPort = cfg.Telemetry.MetricsPort
		}

		components.Logger.Info("initializing telemetry", "pprof_port", pprofPort, "metrics_port", metricsPort)
		components.Telemetry = telemetry.New(pprofPort, metricsPort, components.Metrics, components.Logger)

		if err := components.Telemetry.Start(ctx); err != nil {
			components.Logger.Warn("failed to start telemetry", "error", err)
		}
		components.addCleanup(func() error {
			return components.Telemetry.Shutdown(context.Background())
		})
	}

	components.Logger.Info("service initialization complete",
		"service", serviceName,
		"db", components.DB != nil,
		"redis", components.Redis != nil,
		"lock_backend", cfg.Lock.Backend,
		"session_backend", cfg.Auth.SessionBackend,
		"telemetry", components.Telemetry != nil,
	)

	return components, nil
}

// MustSetup is like Setup but panics on error
func MustSetup(ctx context.Context, serviceName string, opts ...Option) *Components {
	components, err := Setup(ctx, serviceName, opts...)
	if err != nil {
		panic(fmt.Sprintf("failed to setup service %s: %v", serviceName, err))
	}
	return components
}
