package handlers

import (
	"github.com/gigmarket/backend/internal/http/dto"
	"github.com/gigmarket/backend/internal/lifecycle"
	"github.com/gigmarket/backend/internal/middleware"
	"github.com/gigmarket/backend/internal/models"
	"github.com/gigmarket/backend/internal/services"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type ChangeHandler struct {
	changes *services.ChangeService
	log     *zap.Logger
}

func NewChangeHandler(changes *services.ChangeService, log *zap.Logger) *ChangeHandler {
	return &ChangeHandler{changes: changes, log: log}
}

func (h *ChangeHandler) RequestChange(c *fiber.Ctx) error {
	contractID, err := paramID(c, "id")
	if err != nil {
		return badRequest(c, "invalid contract id")
	}
	var req dto.ChangeRequestRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request")
	}

	cr, err := h.changes.RequestChange(c.Context(), contractID, middleware.GetUserID(c), lifecycle.ChangeParams{
		Type:   models.ChangeRequestType(req.Type),
		Reason: req.Reason,
		Terms: models.ChangeTerms{
			NewPrice:     req.NewPrice,
			NewStartDate: req.NewStartDate,
			NewEndDate:   req.NewEndDate,
		},
	})
	if err != nil {
		return fail(c, h.log, err)
	}
	return c.Status(fiber.StatusCreated).JSON(dto.SuccessResponse{OK: true, Data: cr})
}

func (h *ChangeHandler) ListChanges(c *fiber.Ctx) error {
	contractID, err := paramID(c, "id")
	if err != nil {
		return badRequest(c, "invalid contract id")
	}
	list, err := h.changes.ListChangeRequests(c.Context(), contractID, middleware.GetUserID(c))
	if err != nil {
		return fail(c, h.log, err)
	}
	return ok(c, list)
}

func (h *ChangeHandler) RespondChange(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return badRequest(c, "invalid change request id")
	}
	var req dto.RespondRequest
	if err := c.BodyParser(&req); err != nil || req.Accept == nil {
		return badRequest(c, "accept is required")
	}
	cr, contract, err := h.changes.RespondChange(c.Context(), id, middleware.GetUserID(c), *req.Accept)
	if err != nil {
		return fail(c, h.log, err)
	}
	return ok(c, dto.ChangeResponse{ChangeRequest: cr, Contract: contract})
}
