package main

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/diagflow/diagflow/cmd/diagflowd/container"
	"github.com/diagflow/diagflow/cmd/diagflowd/routes"
	"github.com/diagflow/diagflow/common/bootstrap"
	"github.com/diagflow/diagflow/common/server"
)

func main() {
	ctx := context.Background()

	components, err := bootstrap.Setup(ctx, "diagflowd",
		bootstrap.WithDBInit(container.MigrateStore),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to bootstrap diagflowd: %v\n", err)
		os.Exit(1)
	}
	defer components.Shutdown(ctx)

	svc, err := container.New(ctx, components)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize services: %v\n", err)
		os.Exit(1)
	}

	e := setupEcho()
	setupMiddleware(e)
	setupHealthCheck(e, svc)
	registerRoutes(e, svc)

	srv := server.New("diagflowd", components.Config.Service.Port, e, components.Logger)
	if err := srv.Start(); err != nil {
		components.Logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

// setupEcho initializes the Echo server.
func setupEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	return e
}

// setupMiddleware configures request middleware.
func setupMiddleware(e *echo.Echo) {
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Use(middleware.RequestID())
}

// setupHealthCheck registers health and metrics endpoints.
func setupHealthCheck(e *echo.Echo, svc *container.Container) {
	e.GET("/health", func(c echo.Context) error {
		if err := svc.Components.Health(c.Request().Context()); err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{
				"status": "unhealthy",
				"error":  err.Error(),
			})
		}
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"service": "diagflowd",
		})
	})

	if svc.Components.Metrics != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	}
}

// registerRoutes registers all application routes.
func registerRoutes(e *echo.Echo, svc *container.Container) {
	routes.RegisterWorkflowRoutes(e, svc)
	routes.RegisterExecutionRoutes(e, svc)
}
