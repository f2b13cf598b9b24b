// Package web exposes the read API over executions and checkpoints, plus a
// workflow validation endpoint.
package web

import (
	"github.com/gofiber/fiber/v3"

	"github.com/dmateus/conveyor/pkg/models"
	"github.com/dmateus/conveyor/pkg/persistence"
	"github.com/dmateus/conveyor/pkg/reliability"
	"github.com/dmateus/conveyor/pkg/workflow"
)

type APIHandlers struct {
	store   persistence.Persistence
	breaker *reliability.CircuitBreakerRegistry
	limiter *reliability.RateLimiterRegistry
}

func NewAPIHandlers(
	store persistence.Persistence,
	limiter *reliability.RateLimiterRegistry,
	breaker *reliability.CircuitBreakerRegistry,
) *APIHandlers {
	return &APIHandlers{
		store:   store,
		limiter: limiter,
		breaker: breaker,
	}
}

// Register mounts every route on the app.
func (h *APIHandlers) Register(app *fiber.App) {
	app.Get("/health", h.GetHealth)
	app.Get("/executions", h.GetExecutions)
	app.Get("/executions/:id", h.GetExecution)
	app.Get("/executions/:id/checkpoints", h.GetCheckpoints)
	app.Post("/workflows/validate", h.ValidateWorkflow)
	app.Get("/reliability/:service", h.GetReliability)
}

func (h *APIHandlers) GetHealth(c fiber.Ctx) error {
	if err := h.store.HealthCheck(c.Context()); err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"status": "unhealthy",
			"error":  err.Error(),
		})
	}

	return c.JSON(fiber.Map{"status": "ok"})
}

func (h *APIHandlers) GetExecutions(c fiber.Ctx) error {
	filter := models.ExecutionFilter{
		WorkflowID: c.Query("workflow_id"),
		Status:     models.ExecutionStatus(c.Query("status")),
	}

	if filter.Status != "" && !validStatus(filter.Status) {
		return badRequest(c, "invalid status filter: "+string(filter.Status))
	}

	executions, err := h.store.Executions(c.Context(), filter)
	if err != nil {
		return handleStoreError(c, err)
	}

	return c.JSON(fiber.Map{
		"executions": executions,
		"count":      len(executions),
	})
}

func (h *APIHandlers) GetExecution(c fiber.Ctx) error {
	execution, err := h.store.ExecutionByID(c.Context(), c.Params("id"))
	if err != nil {
		return handleStoreError(c, err)
	}

	return c.JSON(execution)
}

func (h *APIHandlers) GetCheckpoints(c fiber.Ctx) error {
	runID := c.Params("id")

	// A missing run distinguishes "no checkpoints yet" from "unknown run".
	if _, err := h.store.ExecutionByID(c.Context(), runID); err != nil {
		return handleStoreError(c, err)
	}

	checkpoints, err := h.store.Checkpoints(c.Context(), runID)
	if err != nil {
		return handleStoreError(c, err)
	}

	return c.JSON(fiber.Map{
		"run_id":      runID,
		"checkpoints": checkpoints,
		"count":       len(checkpoints),
	})
}

// ValidateWorkflow parses the request body as a workflow definition and
// reports structural problems without running anything.
func (h *APIHandlers) ValidateWorkflow(c fiber.Ctx) error {
	wf, err := workflow.ParseWorkflow(c.Body())
	if err != nil {
		return badRequest(c, err.Error())
	}

	return c.JSON(fiber.Map{
		"valid":       true,
		"workflow_id": wf.ID,
		"steps":       len(wf.Steps),
	})
}

// GetReliability reports the live circuit state and token balance for one
// service name.
func (h *APIHandlers) GetReliability(c fiber.Ctx) error {
	service := c.Params("service")

	return c.JSON(fiber.Map{
		"service":       service,
		"circuit_state": h.breaker.State(service),
		"tokens":        h.limiter.Tokens(service),
	})
}

func validStatus(status models.ExecutionStatus) bool {
	switch status {
	case models.ExecutionStatusPending,
		models.ExecutionStatusRunning,
		models.ExecutionStatusCompleted,
		models.ExecutionStatusFailed,
		models.ExecutionStatusCancelled:
		return true
	default:
		return false
	}
}
