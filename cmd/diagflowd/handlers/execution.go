package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/diagflow/diagflow/cmd/diagflowd/container"
	"github.com/diagflow/diagflow/engine"
)

// resultTTL bounds how long finished execution results stay queryable.
const resultTTL = 24 * time.Hour

// ExecutionHandler serves workflow execution requests.
type ExecutionHandler struct {
	c *container.Container
}

// NewExecutionHandler creates an execution handler.
func NewExecutionHandler(c *container.Container) *ExecutionHandler {
	return &ExecutionHandler{c: c}
}

type executeRequest struct {
	Input map[string]any `json:"input,omitempty"`
	Async bool           `json:"async,omitempty"`
}

// ExecuteWorkflow runs a registered workflow. Synchronous requests
// block for the result; async requests return the execution id right
// away and the result becomes queryable when the run finishes.
// POST /api/v1/workflows/:id/execute
func (h *ExecutionHandler) ExecuteWorkflow(c echo.Context) error {
	id := c.Param("id")
	var req executeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	wf, ok := h.c.Registry.Get(id)
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "workflow not found")
	}

	if req.Async {
		// Detached from the request context: the run outlives the
		// response and is stopped via Cancel or the workflow timeout.
		execution, err := h.c.Engine.ExecuteAsync(context.Background(), wf, req.Input)
		if err != nil {
			return h.refusalResponse(c, err)
		}
		go func() {
			result := execution.Wait()
			h.storeResult(result.ExecutionID, result)
		}()
		return c.JSON(http.StatusAccepted, map[string]any{
			"execution_id": execution.ID,
			"workflow_id":  id,
		})
	}

	result, err := h.c.Engine.Execute(c.Request().Context(), wf, req.Input)
	if err != nil {
		return h.refusalResponse(c, err)
	}
	h.storeResult(result.ExecutionID, result)
	return c.JSON(http.StatusOK, result)
}

// refusalResponse maps validation refusals to 422 and everything else
// to 500.
func (h *ExecutionHandler) refusalResponse(c echo.Context, err error) error {
	var cfgErr *engine.ConfigError
	if errors.As(err, &cfgErr) {
		return c.JSON(http.StatusUnprocessableEntity, map[string]any{
			"error":    "workflow failed validation",
			"errors":   cfgErr.Result.Errors,
			"warnings": cfgErr.Result.Warnings,
		})
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}

// storeResult caches a finished result for later retrieval.
func (h *ExecutionHandler) storeResult(executionID string, result any) {
	encoded, err := json.Marshal(result)
	if err != nil {
		h.c.Components.Logger.Error("failed to encode execution result",
			"execution_id", executionID, "error", err)
		return
	}
	ctx, cancel := contextWithTimeout()
	defer cancel()
	if err := h.c.Components.Cache.Set(ctx, resultKey(executionID), encoded, resultTTL); err != nil {
		h.c.Components.Logger.Warn("failed to cache execution result",
			"execution_id", executionID, "error", err)
	}
}

// GetExecution returns a finished execution's result.
// GET /api/v1/executions/:id
func (h *ExecutionHandler) GetExecution(c echo.Context) error {
	id := c.Param("id")
	encoded, found, err := h.c.Components.Cache.Get(c.Request().Context(), resultKey(id))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !found {
		return echo.NewHTTPError(http.StatusNotFound, "execution not found or still running")
	}
	return c.JSONBlob(http.StatusOK, encoded)
}

// CancelExecution requests cancellation of a running execution.
// POST /api/v1/executions/:id/cancel
func (h *ExecutionHandler) CancelExecution(c echo.Context) error {
	id := c.Param("id")
	if !h.c.Engine.Cancel(id) {
		return echo.NewHTTPError(http.StatusNotFound, "execution not running")
	}
	return c.JSON(http.StatusAccepted, map[string]any{"execution_id": id, "cancelling": true})
}
