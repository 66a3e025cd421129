package web

import (
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"

	"github.com/dripline/dripline/pkg/models"
	"github.com/dripline/dripline/pkg/persistence"
)

type APIHandlers struct {
	persistence persistence.Persistence
	validator   *validator.Validate
}

func NewAPIHandlers(p persistence.Persistence, validate *validator.Validate) *APIHandlers {
	return &APIHandlers{
		persistence: p,
		validator:   validate,
	}
}

func (h *APIHandlers) GetAutomations(c fiber.Ctx) error {
	var query ListAutomationsQuery
	if err := c.Bind().Query(&query); err != nil {
		return badRequest(c, "Invalid query parameters: "+err.Error())
	}

	if err := h.validator.Struct(query); err != nil {
		return badRequest(c, err.Error())
	}

	automations, err := h.listAutomations(c, query)
	if err != nil {
		return handleRepositoryError(c, err)
	}

	summaries := make([]AutomationSummary, 0, len(automations))

	for _, automation := range automations {
		if query.EnabledOnly && !automation.Enabled {
			continue
		}

		summaries = append(summaries, summarize(automation))
	}

	return c.JSON(fiber.Map{
		"automations": summaries,
		"total_count": len(summaries),
	})
}

func (h *APIHandlers) GetAutomation(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Automation ID is required")
	}

	automation, err := h.persistence.AutomationRepository().AutomationByID(c.Context(), id)
	if err != nil {
		if persistence.IsAutomationNotFound(err) {
			return notFound(c, "Automation not found")
		}

		return internalError(c, err)
	}

	return c.JSON(automation)
}

// GetAutomationLog returns the full execution history of one automation in
// execution order.
func (h *APIHandlers) GetAutomationLog(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Automation ID is required")
	}

	if _, err := h.persistence.AutomationRepository().AutomationByID(c.Context(), id); err != nil {
		return handleRepositoryError(c, err)
	}

	entries, err := h.persistence.LogRepository().ListByAutomation(c.Context(), id)
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(fiber.Map{
		"automation_id": id,
		"entries":       entries,
		"total_count":   len(entries),
	})
}

// GetAutomationReport aggregates per-node success and failure counts, the
// "how is this automation doing" view.
func (h *APIHandlers) GetAutomationReport(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Automation ID is required")
	}

	if _, err := h.persistence.AutomationRepository().AutomationByID(c.Context(), id); err != nil {
		return handleRepositoryError(c, err)
	}

	reports, err := h.persistence.LogRepository().NodeCounts(c.Context(), id)
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(fiber.Map{
		"automation_id": id,
		"nodes":         reports,
	})
}

// GetSubscriberLog returns everything the engine did to one subscriber,
// across all automations.
func (h *APIHandlers) GetSubscriberLog(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Subscriber ID is required")
	}

	entries, err := h.persistence.LogRepository().ListBySubscriber(c.Context(), id)
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(fiber.Map{
		"subscriber_id": id,
		"entries":       entries,
		"total_count":   len(entries),
	})
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	status := "healthy"
	message := "Dripline API is healthy"
	httpStatus := http.StatusOK

	if err := h.persistence.HealthCheck(c.Context()); err != nil {
		status = "unhealthy"
		message = "Dripline API is unhealthy"
		httpStatus = http.StatusInternalServerError
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":    status,
		"message":   message,
		"timestamp": time.Now().UTC(),
	})
}

func (h *APIHandlers) listAutomations(c fiber.Ctx, query ListAutomationsQuery) ([]*models.Automation, error) {
	if query.TriggerType != "" {
		return h.persistence.AutomationRepository().EnabledByTriggerType(c.Context(), query.TriggerType)
	}

	return h.persistence.AutomationRepository().Automations(c.Context())
}
