package bootstrap

import (
	"context"
	"fmt"

	"github.com/diagflow/diagflow/common/cache"
	"github.com/diagflow/diagflow/common/config"
	"github.com/diagflow/diagflow/common/db"
	"github.com/diagflow/diagflow/common/logger"
	"github.com/diagflow/diagflow/common/metrics"
	commonredis "github.com/diagflow/diagflow/common/redis"
)

// Setup initialises the shared service components: configuration,
// logging, Postgres, Redis, result cache and metrics. Backends are
// only dialled when enabled in configuration or forced by options.
func Setup(ctx context.Context, serviceName string, opts ...Option) (*Components, error) {
	options := defaultOptions()
	for _, opt := range opts {
		opt(options)
	}

	components := &Components{
		cleanupFuncs: make([]func() error, 0),
	}

	var err error
	if options.customConfig != nil {
		components.Config = options.customConfig
	} else {
		components.Config, err = config.Load(serviceName)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	}

	if options.customLogger != nil {
		components.Logger = options.customLogger
	} else {
		components.Logger = logger.New(
			components.Config.Service.LogLevel,
			components.Config.Service.LogFormat,
		)
	}

	components.Logger.Info("initializing service",
		"service", serviceName,
		"environment", components.Config.Service.Environment,
	)

	if components.Config.Database.Enabled && !options.skipDB {
		components.Logger.Info("connecting to database")
		components.DB, err = db.Connect(ctx, components.Config.Database, components.Logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		components.addCleanup(func() error {
			components.DB.Close()
			return nil
		})

		if options.dbInitHook != nil {
			components.Logger.Info("running database init hook")
			if err := options.dbInitHook(ctx, components.DB); err != nil {
				components.Shutdown(ctx)
				return nil, fmt.Errorf("database init hook failed: %w", err)
			}
		}
	}

	if components.Config.Redis.Enabled && !options.skipRedis {
		components.Redis, err = commonredis.Connect(ctx,
			components.Config.Redis.Addr,
			components.Config.Redis.Password,
			components.Config.Redis.DB,
			components.Logger,
		)
		if err != nil {
			components.Shutdown(ctx)
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		components.addCleanup(components.Redis.Close)
	}

	if components.Redis != nil {
		components.Cache = cache.NewRedisCache(components.Redis, components.Logger)
	} else {
		components.Cache = cache.NewMemoryCache(components.Logger)
	}
	components.addCleanup(components.Cache.Close)

	if components.Config.Telemetry.EnableMetrics {
		components.Metrics = metrics.Default()
	}

	components.Logger.Info("service initialization complete",
		"service", serviceName,
		"db", components.DB != nil,
		"redis", components.Redis != nil,
		"metrics", components.Metrics != nil,
	)

	return components, nil
}

// MustSetup is like Setup but panics on error.
func MustSetup(ctx context.Context, serviceName string, opts ...Option) *Components {
	components, err := Setup(ctx, serviceName, opts...)
	if err != nil {
		panic(fmt.Sprintf("failed to setup service %s: %v", serviceName, err))
	}
	return components
}
