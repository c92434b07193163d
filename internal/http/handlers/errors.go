package handlers

import (
	"strconv"

	"github.com/gigmarket/backend/internal/apperr"
	"github.com/gigmarket/backend/internal/http/dto"
	"github.com/gigmarket/backend/internal/middleware"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// StatusFor maps an engine error kind to its HTTP status.
func StatusFor(err error) int {
	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		return fiber.StatusBadRequest
	case apperr.KindConflict, apperr.KindEscrowState:
		return fiber.StatusConflict
	case apperr.KindNotFound:
		return fiber.StatusNotFound
	case apperr.KindExternalDispatch:
		return fiber.StatusBadGateway
	}
	return fiber.StatusInternalServerError
}

func fail(c *fiber.Ctx, log *zap.Logger, err error) error {
	status := StatusFor(err)
	reqID := middleware.GetRequestID(c)
	msg := err.Error()
	if status == fiber.StatusInternalServerError {
		log.Error("request failed", zap.String("request_id", reqID), zap.String("path", c.Path()), zap.Error(err))
		msg = "internal error"
	}
	return c.Status(status).JSON(dto.ErrorResponse{Error: msg, Kind: string(apperr.KindOf(err)), RequestID: reqID})
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: msg, Kind: string(apperr.KindValidation)})
}

func paramID(c *fiber.Ctx, name string) (uuid.UUID, error) {
	return uuid.Parse(c.Params(name))
}

func pagination(c *fiber.Ctx) (limit, offset int) {
	limit, offset = 20, 0
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 100 {
			limit = n
		}
	}
	if v := c.Query("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}
