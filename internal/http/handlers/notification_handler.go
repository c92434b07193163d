package handlers

import (
	"context"

	"github.com/gigmarket/backend/internal/middleware"
	"github.com/gigmarket/backend/internal/models"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type NotificationReader interface {
	ListByUser(ctx context.Context, userID uuid.UUID, unreadOnly bool, limit, offset int) ([]models.Notification, error)
	MarkRead(ctx context.Context, userID, id uuid.UUID) error
}

type NotificationHandler struct {
	notifications NotificationReader
	log           *zap.Logger
}

func NewNotificationHandler(notifications NotificationReader, log *zap.Logger) *NotificationHandler {
	return &NotificationHandler{notifications: notifications, log: log}
}

func (h *NotificationHandler) List(c *fiber.Ctx) error {
	limit, offset := pagination(c)
	list, err := h.notifications.ListByUser(c.Context(), middleware.GetUserID(c), c.QueryBool("unread"), limit, offset)
	if err != nil {
		return fail(c, h.log, err)
	}
	return ok(c, list)
}

func (h *NotificationHandler) MarkRead(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return badRequest(c, "invalid notification id")
	}
	if err := h.notifications.MarkRead(c.Context(), middleware.GetUserID(c), id); err != nil {
		return fail(c, h.log, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}
