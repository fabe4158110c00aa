package routes

import (
	"github.com/labstack/echo/v4"

	"github.com/diagflow/diagflow/cmd/diagflowd/container"
	"github.com/diagflow/diagflow/cmd/diagflowd/handlers"
)

// RegisterWorkflowRoutes registers workflow definition routes.
func RegisterWorkflowRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewWorkflowHandler(c)

	wf := e.Group("/api/v1/workflows")
	wf.POST("", h.CreateWorkflow)
	wf.GET("", h.ListWorkflows)
	wf.GET("/:id", h.GetWorkflow)
	wf.PATCH("/:id", h.PatchWorkflow)
	wf.PUT("/:id/status", h.SetWorkflowStatus)
	wf.GET("/:id/dependents", h.GetDependents)

	e.GET("/api/v1/registry/statistics", h.RegistryStatistics)
}

// RegisterExecutionRoutes registers execution routes.
func RegisterExecutionRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewExecutionHandler(c)

	e.POST("/api/v1/workflows/:id/execute", h.ExecuteWorkflow)
	e.GET("/api/v1/executions/:id", h.GetExecution)
	e.POST("/api/v1/executions/:id/cancel", h.CancelExecution)
}
