package services

import (
	"context"
	"fmt"

	"github.com/gigmarket/backend/internal/apperr"
	"github.com/gigmarket/backend/internal/events"
	"github.com/gigmarket/backend/internal/lifecycle"
	"github.com/gigmarket/backend/internal/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Notifier delivers the side effects of a committed transition.
type Notifier interface {
	Dispatch(ctx context.Context, effects []lifecycle.Effect)
}

type NotificationStore interface {
	Create(ctx context.Context, n *models.Notification) error
}

type PartyDirectory interface {
	GetParty(ctx context.Context, id uuid.UUID) (models.Party, error)
}

// Dispatcher stores in-app notifications, pushes them to the user's event
// stream and queues emails. Every failure is logged and swallowed: a
// transition that already committed is never undone by a delivery problem.
type Dispatcher struct {
	notifications NotificationStore
	parties       PartyDirectory
	publisher     events.Publisher
	mailer        Mailer
	log           *zap.Logger
}

func NewDispatcher(notifications NotificationStore, parties PartyDirectory, publisher events.Publisher, mailer Mailer, log *zap.Logger) *Dispatcher {
	return &Dispatcher{
		notifications: notifications,
		parties:       parties,
		publisher:     publisher,
		mailer:        mailer,
		log:           log,
	}
}

func (d *Dispatcher) Dispatch(ctx context.Context, effects []lifecycle.Effect) {
	for _, e := range effects {
		if err := d.deliver(ctx, e); err != nil {
			d.log.Warn("notification dispatch failed",
				zap.String("user_id", e.UserID.String()),
				zap.String("action", e.Action),
				zap.Error(err),
			)
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, e lifecycle.Effect) error {
	n := &models.Notification{
		UserID:   e.UserID,
		Category: e.Category,
		Action:   e.Action,
		Title:    e.Title,
		Body:     e.Body,
		Payload:  e.Payload,
	}
	if err := d.notifications.Create(ctx, n); err != nil {
		return apperr.Dispatch("store notification", err)
	}

	if err := d.publisher.Publish(ctx, events.UserStream(e.UserID), events.Event{
		Type: events.EventNotification,
		Payload: map[string]any{
			"id":       n.ID.String(),
			"category": n.Category,
			"action":   n.Action,
			"title":    n.Title,
			"body":     n.Body,
			"payload":  n.Payload,
		},
	}); err != nil {
		d.log.Warn("push notification failed", zap.String("user_id", e.UserID.String()), zap.Error(err))
	}

	if !e.Email {
		return nil
	}
	party, err := d.parties.GetParty(ctx, e.UserID)
	if err != nil {
		return apperr.Dispatch("resolve email recipient", err)
	}
	if err := d.mailer.Send(ctx, Email{
		To:      party.Email,
		Name:    party.DisplayName,
		Subject: e.Title,
		Body:    fmt.Sprintf("Hello %s,\n\n%s\n", party.DisplayName, e.Body),
	}); err != nil {
		return apperr.Dispatch("queue email", err)
	}
	return nil
}
