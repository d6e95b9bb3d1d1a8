// Package web provides HTTP handlers and REST API endpoints for command
// orchestration.
package web

import (
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"

	"github.com/voyagent/voyagent/pkg/contextmanager"
	"github.com/voyagent/voyagent/pkg/orchestrator"
	"github.com/voyagent/voyagent/pkg/persistence"
)

type APIHandlers struct {
	orchestrator *orchestrator.Orchestrator
	contexts     *contextmanager.Manager
	store        persistence.Store
	validator    *validator.Validate
}

func NewAPIHandlers(
	orch *orchestrator.Orchestrator,
	contexts *contextmanager.Manager,
	store persistence.Store,
	validator *validator.Validate,
) *APIHandlers {
	return &APIHandlers{
		orchestrator: orch,
		contexts:     contexts,
		store:        store,
		validator:    validator,
	}
}

// ProcessCommand submits a natural-language instruction and blocks until the
// pipeline is terminal. The response body is the full OrchestratorResult;
// clients inspect its state and errors rather than the HTTP status.
func (h *APIHandlers) ProcessCommand(c fiber.Ctx) error {
	var req ProcessCommandRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	result := h.orchestrator.ProcessCommand(c.Context(), req.UserID, req.Text, req.processOptions())

	return c.JSON(result)
}

// ProcessParsedCommands submits pre-parsed structured commands, starting the
// pipeline at validation.
func (h *APIHandlers) ProcessParsedCommands(c fiber.Ctx) error {
	var req ProcessParsedRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	result := h.orchestrator.ProcessParsedCommands(c.Context(), req.UserID, req.Commands, req.processOptions())

	return c.JSON(result)
}

func (h *APIHandlers) GetRequest(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Request ID is required")
	}

	result, ok := h.orchestrator.Status(id)
	if !ok {
		return notFound(c, "Request not found")
	}

	return c.JSON(result)
}

func (h *APIHandlers) CancelRequest(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Request ID is required")
	}

	if !h.orchestrator.Cancel(c.Context(), id) {
		if _, ok := h.orchestrator.Status(id); ok {
			return conflict(c, "Request already terminal")
		}

		return notFound(c, "Request not found")
	}

	return c.SendStatus(fiber.StatusAccepted)
}

func (h *APIHandlers) CreateContext(c fiber.Ctx) error {
	var req CreateContextRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	ectx := h.contexts.CreateContext(c.Context(), req.UserID, contextmanager.CreateOptions{
		SurfaceRef: req.SurfaceRef,
		CurrentURL: req.CurrentURL,
	})

	return c.Status(fiber.StatusCreated).JSON(ectx)
}

func (h *APIHandlers) GetContext(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Context ID is required")
	}

	ectx, ok := h.contexts.GetContext(c.Context(), id)
	if !ok {
		return notFound(c, "Context not found or expired")
	}

	return c.JSON(ectx)
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	storeErr := h.store.HealthCheck(c.Context())

	status := "healthy"
	message := "Voyagent API is healthy"
	httpStatus := http.StatusOK
	storeCheck := "ok"

	if storeErr != nil {
		status = "unhealthy"
		message = "Voyagent API is unhealthy"
		httpStatus = http.StatusInternalServerError
		storeCheck = storeErr.Error()
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"store": storeCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}
