package bootstrap

import (
	"context"

	"github.com/diagflow/diagflow/common/config"
	"github.com/diagflow/diagflow/common/db"
	"github.com/diagflow/diagflow/common/logger"
)

type options struct {
	skipDB       bool
	skipRedis    bool
	customConfig *config.Config
	customLogger *logger.Logger
	dbInitHook   func(ctx context.Context, database *db.DB) error
}

func defaultOptions() *options {
	return &options{}
}

// Option customises Setup.
type Option func(*options)

// WithoutDB skips the database even when configuration enables it.
func WithoutDB() Option {
	return func(o *options) { o.skipDB = true }
}

// WithoutRedis skips Redis even when configuration enables it.
func WithoutRedis() Option {
	return func(o *options) { o.skipRedis = true }
}

// WithConfig injects a pre-built configuration, bypassing the
// environment.
func WithConfig(cfg *config.Config) Option {
	return func(o *options) { o.customConfig = cfg }
}

// WithLogger injects a pre-built logger.
func WithLogger(log *logger.Logger) Option {
	return func(o *options) { o.customLogger = log }
}

// WithDBInit runs a hook (migrations, seed data) right after the
// database connects.
func WithDBInit(hook func(ctx context.Context, database *db.DB) error) Option {
	return func(o *options) { o.dbInitHook = hook }
}
