package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/MangBao/triage-recovery-hub-be/internal/api/dto"
	"github.com/MangBao/triage-recovery-hub-be/internal/domain"
	"github.com/MangBao/triage-recovery-hub-be/internal/repository"
	"github.com/MangBao/triage-recovery-hub-be/internal/service"
	apperrors "github.com/MangBao/triage-recovery-hub-be/pkg/util/errorutil"
)

// TicketsHandler serves the ticket endpoints used by the agent dashboard.
type TicketsHandler struct {
	service *service.TicketService
}

// NewTicketsHandler constructs handler.
func NewTicketsHandler(ticketService *service.TicketService) *TicketsHandler {
	return &TicketsHandler{service: ticketService}
}

// CreateTicket POST /api/tickets.
func (h *TicketsHandler) CreateTicket(c *fiber.Ctx) error {
	var req dto.CreateTicketRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	ticket, err := h.service.CreateTicket(c.UserContext(), req.CustomerComplaint)
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(dto.NewTicketResponse(ticket))
}

// ListTickets GET /api/tickets.
func (h *TicketsHandler) ListTickets(c *fiber.Ctx) error {
	page, err := parsePositiveInt(c.Query("page"), "page", 1, 0)
	if err != nil {
		return err
	}
	perPage, err := parsePositiveInt(c.Query("per_page"), "per_page", service.DefaultPerPage, service.MaxPerPage)
	if err != nil {
		return err
	}

	filter, known, err := parseTicketFilter(c)
	if err != nil {
		return err
	}
	if !known {
		// An enum value no ticket can carry matches nothing.
		return c.JSON(dto.TicketListResponse{
			Data:       []dto.TicketResponse{},
			Pagination: dto.Pagination{Page: page, PerPage: perPage},
		})
	}

	result, err := h.service.ListTickets(c.UserContext(), service.TicketListInput{
		Filter:  filter,
		Page:    page,
		PerPage: perPage,
	})
	if err != nil {
		return err
	}

	items := make([]dto.TicketResponse, 0, len(result.Items))
	for i := range result.Items {
		items = append(items, dto.NewTicketResponse(&result.Items[i]))
	}
	return c.JSON(dto.TicketListResponse{
		Data: items,
		Pagination: dto.Pagination{
			Total:      result.Total,
			Page:       result.Page,
			PerPage:    result.PerPage,
			TotalPages: result.TotalPages(),
			HasMore:    result.HasMore(),
		},
	})
}

// GetTicket GET /api/tickets/:id.
func (h *TicketsHandler) GetTicket(c *fiber.Ctx) error {
	id, err := ticketID(c)
	if err != nil {
		return err
	}
	ticket, err := h.service.GetTicket(c.UserContext(), id)
	if err != nil {
		return err
	}
	return c.JSON(dto.NewTicketResponse(ticket))
}

// GetHistory GET /api/tickets/:id/history.
func (h *TicketsHandler) GetHistory(c *fiber.Ctx) error {
	id, err := ticketID(c)
	if err != nil {
		return err
	}
	history, err := h.service.ListHistory(c.UserContext(), id)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewHistoryResponses(history)})
}

// UpdateTicket PATCH /api/tickets/:id.
func (h *TicketsHandler) UpdateTicket(c *fiber.Ctx) error {
	id, err := ticketID(c)
	if err != nil {
		return err
	}
	var req dto.UpdateTicketRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if req.AgentEditedResponse == nil {
		return apperrors.NewValidationError("agent_edited_response required", map[string]any{"field": "agent_edited_response"})
	}
	ticket, err := h.service.UpdateAgentResponse(c.UserContext(), id, *req.AgentEditedResponse)
	if err != nil {
		return err
	}
	return c.JSON(dto.NewTicketResponse(ticket))
}

// ResolveTicket POST /api/tickets/:id/resolve?agent_id=.
func (h *TicketsHandler) ResolveTicket(c *fiber.Ctx) error {
	id, err := ticketID(c)
	if err != nil {
		return err
	}
	ticket, err := h.service.ResolveTicket(c.UserContext(), id, c.Query("agent_id"))
	if err != nil {
		return err
	}
	return c.JSON(dto.NewTicketResponse(ticket))
}

// RetriageTicket POST /api/tickets/:id/retriage.
func (h *TicketsHandler) RetriageTicket(c *fiber.Ctx) error {
	id, err := ticketID(c)
	if err != nil {
		return err
	}
	ticket, err := h.service.RetriageTicket(c.UserContext(), id)
	if err != nil {
		return err
	}
	return c.Status(http.StatusAccepted).JSON(dto.NewTicketResponse(ticket))
}

func ticketID(c *fiber.Ctx) (int64, error) {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperrors.NewValidationError("ticket id must be a positive integer", map[string]any{"id": c.Params("id")})
	}
	return id, nil
}

// parseTicketFilter reads the listing filters. known is false when an enum
// filter names a value that does not exist.
func parseTicketFilter(c *fiber.Ctx) (repository.TicketFilter, bool, error) {
	var filter repository.TicketFilter

	if raw := strings.TrimSpace(c.Query("status")); raw != "" {
		status := domain.TicketStatus(strings.ToLower(raw))
		if !status.Valid() {
			return filter, false, nil
		}
		filter.Status = &status
	}
	if raw := c.Query("urgency"); raw != "" {
		urgency, ok := domain.ParseUrgency(raw)
		if !ok {
			return filter, false, nil
		}
		filter.Urgency = &urgency
	}
	if raw := c.Query("category"); raw != "" {
		category, ok := domain.ParseCategory(raw)
		if !ok {
			return filter, false, nil
		}
		filter.Category = &category
	}
	if raw := strings.TrimSpace(c.Query("ai_status")); raw != "" {
		aiStatus := domain.AIStatus(strings.ToLower(raw))
		if !aiStatus.Valid() {
			return filter, false, nil
		}
		filter.AIStatus = &aiStatus
	}

	var err error
	if filter.CreatedAfter, err = parseTime(c.Query("created_after"), "created_after"); err != nil {
		return filter, false, err
	}
	if filter.CreatedBefore, err = parseTime(c.Query("created_before"), "created_before"); err != nil {
		return filter, false, err
	}
	return filter, true, nil
}

func parseTime(val, field string) (*time.Time, error) {
	if val == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, val)
	if err != nil {
		return nil, apperrors.NewValidationError(field+" must be an RFC3339 timestamp", map[string]any{"field": field, "value": val})
	}
	return &t, nil
}

// parsePositiveInt parses an optional query integer >= 1 and, when limit > 0,
// <= limit.
func parsePositiveInt(val, field string, def, limit int) (int, error) {
	if val == "" {
		return def, nil
	}
	parsed, err := strconv.Atoi(val)
	if err != nil || parsed < 1 || (limit > 0 && parsed > limit) {
		details := map[string]any{"field": field, "value": val}
		if limit > 0 {
			return 0, apperrors.NewValidationError(field+" must be between 1 and "+strconv.Itoa(limit), details)
		}
		return 0, apperrors.NewValidationError(field+" must be a positive integer", details)
	}
	return parsed, nil
}
