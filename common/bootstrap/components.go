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

// Components holds the initialised service dependencies.
type Components struct {
	Config  *config.Config
	Logger  *logger.Logger
	DB      *db.DB
	Redis   *commonredis.Client
	Cache   cache.Cache
	Metrics *metrics.Metrics

	cleanupFuncs []func() error
}

// Shutdown runs all registered cleanups in reverse order. Call with
// defer after Setup.
func (c *Components) Shutdown(ctx context.Context) error {
	c.Logger.Info("shutting down components")

	var errs []error
	for i := len(c.cleanupFuncs) - 1; i >= 0; i-- {
		if err := c.cleanupFuncs[i](); err != nil {
			errs = append(errs, err)
			c.Logger.Error("cleanup error", "error", err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	c.Logger.Info("shutdown complete")
	return nil
}

// Health checks the health of all connected backends.
func (c *Components) Health(ctx context.Context) error {
	if c.DB != nil {
		if err := c.DB.Health(ctx); err != nil {
			return fmt.Errorf("database unhealthy: %w", err)
		}
	}
	if c.Redis != nil {
		if err := c.Redis.GetUnderlying().Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis unhealthy: %w", err)
		}
	}
	return nil
}

// addCleanup registers a cleanup function.
func (c *Components) addCleanup(fn func() error) {
	c.cleanupFuncs = append(c.cleanupFuncs, fn)
}
