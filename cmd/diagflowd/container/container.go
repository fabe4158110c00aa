package container

import (
	"context"
	"fmt"

	"github.com/diagflow/diagflow/common/bootstrap"
	"github.com/diagflow/diagflow/common/db"
	"github.com/diagflow/diagflow/engine"
	"github.com/diagflow/diagflow/events"
	"github.com/diagflow/diagflow/nodes"
	"github.com/diagflow/diagflow/registry"
)

// Container wires the service singletons: registry, engine, definition
// store and event publisher. Handlers receive the container and pull
// what they need.
type Container struct {
	Components *bootstrap.Components
	Registry   *registry.Registry
	Engine     *engine.Engine
	Store      *registry.Store
	Events     events.Publisher
}

// New assembles the container from bootstrapped components. With a
// database connected, stored workflow definitions are replayed into
// the registry so reference targets resolve immediately.
func New(ctx context.Context, components *bootstrap.Components) (*Container, error) {
	c := &Container{Components: components}

	c.Registry = registry.New(components.Logger)

	if components.Redis != nil {
		c.Events = events.NewStreamPublisher(
			components.Redis,
			components.Config.Engine.EventStream,
			components.Logger,
		)
	} else {
		c.Events = events.Nop{}
	}

	c.Engine = engine.New(engine.Opts{
		Registry:        c.Registry,
		Factory:         nodes.NewFactory(),
		Logger:          components.Logger,
		Metrics:         components.Metrics,
		Events:          c.Events,
		MaxConcurrency:  components.Config.Engine.MaxConcurrency,
		WorkflowTimeout: components.Config.Engine.WorkflowTimeout,
	})

	if components.DB != nil {
		c.Store = registry.NewStore(components.DB, components.Logger)
		if err := c.Store.LoadAll(ctx, c.Registry); err != nil {
			return nil, fmt.Errorf("replay stored definitions: %w", err)
		}
	}

	return c, nil
}

// MigrateStore creates the definition store schema. Passed to bootstrap
// as the database init hook.
func MigrateStore(ctx context.Context, database *db.DB) error {
	return registry.NewStore(database, nil).Migrate(ctx)
}
