package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/diagflow/diagflow/cmd/diagflowd/container"
	"github.com/diagflow/diagflow/registry"
	"github.com/diagflow/diagflow/workflow"
)

// WorkflowHandler serves workflow definition CRUD.
type WorkflowHandler struct {
	c *container.Container
}

// NewWorkflowHandler creates a workflow handler.
func NewWorkflowHandler(c *container.Container) *WorkflowHandler {
	return &WorkflowHandler{c: c}
}

type createWorkflowRequest struct {
	Definition  *workflow.Definition `json:"definition"`
	Status      registry.Status      `json:"status,omitempty"`
	Version     string               `json:"version,omitempty"`
	Description string               `json:"description,omitempty"`
}

// CreateWorkflow registers a workflow definition.
// POST /api/v1/workflows
func (h *WorkflowHandler) CreateWorkflow(c echo.Context) error {
	var req createWorkflowRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Definition == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "definition is required")
	}

	wf, err := workflow.FromDefinition(req.Definition)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	vr := wf.Validate()
	if !vr.Valid() {
		return c.JSON(http.StatusUnprocessableEntity, map[string]any{
			"errors":   vr.Errors,
			"warnings": vr.Warnings,
		})
	}

	status := req.Status
	if status == "" {
		status = registry.StatusActive
	}
	if err := h.c.Registry.Register(wf, status, req.Description, req.Version); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if h.c.Registry.HasDependencyCycle(wf.ID) {
		return c.JSON(http.StatusCreated, map[string]any{
			"id":       wf.ID,
			"warnings": append(vr.Warnings, "workflow participates in a reference cycle"),
		})
	}

	if h.c.Store != nil {
		if err := h.c.Store.Save(c.Request().Context(), wf, status, req.Version, req.Description); err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
	}

	return c.JSON(http.StatusCreated, map[string]any{
		"id":       wf.ID,
		"warnings": vr.Warnings,
	})
}

// GetWorkflow returns a registered workflow definition.
// GET /api/v1/workflows/:id
func (h *WorkflowHandler) GetWorkflow(c echo.Context) error {
	id := c.Param("id")
	entry, ok := h.c.Registry.GetEntry(id)
	if !ok || entry.Workflow == nil {
		return echo.NewHTTPError(http.StatusNotFound, "workflow not found")
	}
	return c.JSON(http.StatusOK, map[string]any{
		"definition":  entry.Workflow.Definition(),
		"status":      entry.Status,
		"version":     entry.Version,
		"description": entry.Description,
		"created_at":  entry.CreatedAt,
		"updated_at":  entry.UpdatedAt,
		"dependents":  h.c.Registry.Dependents(id),
	})
}

// ListWorkflows lists registered workflows, optionally filtered by a
// search substring.
// GET /api/v1/workflows?q=
func (h *WorkflowHandler) ListWorkflows(c echo.Context) error {
	ids := h.c.Registry.Search(c.QueryParam("q"))
	return c.JSON(http.StatusOK, map[string]any{"workflows": ids})
}

// PatchWorkflow applies an RFC 6902 patch to a stored definition and
// re-registers the result.
// PATCH /api/v1/workflows/:id
func (h *WorkflowHandler) PatchWorkflow(c echo.Context) error {
	if h.c.Store == nil {
		return echo.NewHTTPError(http.StatusNotImplemented, "definition store not configured")
	}
	id := c.Param("id")

	patchDoc, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "unreadable request body")
	}

	wf, err := h.c.Store.Patch(c.Request().Context(), id, patchDoc)
	if errors.Is(err, registry.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "workflow not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}

	entry, _ := h.c.Registry.GetEntry(id)
	status := registry.StatusActive
	version, description := "", ""
	if entry != nil {
		status, version, description = entry.Status, entry.Version, entry.Description
	}
	if err := h.c.Registry.Register(wf, status, description, version); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return c.JSON(http.StatusOK, map[string]any{"definition": wf.Definition()})
}

// SetWorkflowStatus updates the lifecycle status.
// PUT /api/v1/workflows/:id/status
func (h *WorkflowHandler) SetWorkflowStatus(c echo.Context) error {
	id := c.Param("id")
	var req struct {
		Status registry.Status `json:"status"`
	}
	if err := c.Bind(&req); err != nil || req.Status == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "status is required")
	}
	if err := h.c.Registry.SetStatus(id, req.Status); err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]any{"id": id, "status": req.Status})
}

// GetDependents lists workflows that reference this one.
// GET /api/v1/workflows/:id/dependents
func (h *WorkflowHandler) GetDependents(c echo.Context) error {
	id := c.Param("id")
	if !h.c.Registry.Has(id) {
		return echo.NewHTTPError(http.StatusNotFound, "workflow not found")
	}
	return c.JSON(http.StatusOK, map[string]any{
		"id":         id,
		"dependents": h.c.Registry.Dependents(id),
	})
}

// RegistryStatistics reports workflow counts by lifecycle status.
// GET /api/v1/registry/statistics
func (h *WorkflowHandler) RegistryStatistics(c echo.Context) error {
	return c.JSON(http.StatusOK, h.c.Registry.Statistics())
}
