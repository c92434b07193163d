// Package lifecycle holds the contract state machine as pure functions.
//
// Each operation takes a contract snapshot by value plus the current time and
// returns an Outcome: the next snapshot and the side effects the caller must
// persist (balance credit, change request, support ticket) or dispatch
// (notifications). Nothing here touches storage or the clock, so the same code
// path serves manual requests and scheduled sweeps.
package lifecycle

import (
	"time"

	"github.com/gigmarket/backend/internal/apperr"
	"github.com/gigmarket/backend/internal/models"
	"github.com/gigmarket/backend/internal/rbac"
	"github.com/google/uuid"
)

// Policy constants. These are fixed, not caller supplied.
const (
	PairingTTL             = 30 * time.Minute
	AutoConfirmAfter       = 2 * time.Hour
	AutoSelectWindow       = 24 * time.Hour
	FlexibleSuspendWindow  = 24 * time.Hour
	ChangeEscalationAfter  = 48 * time.Hour
	DisputeEscalationAfter = 7 * 24 * time.Hour
)

type Actor struct {
	ID   uuid.UUID
	Role string
}

// PartyActor resolves the caller's role against the contract.
func PartyActor(c *models.Contract, userID uuid.UUID) Actor {
	return Actor{ID: userID, Role: rbac.RoleOf(c, userID)}
}

func SystemActor() Actor {
	return Actor{Role: rbac.RoleSystem}
}

func SupportActor(userID uuid.UUID) Actor {
	return Actor{ID: userID, Role: rbac.RoleSupport}
}

func (a Actor) IsSystem() bool { return a.Role == rbac.RoleSystem }

// UserID returns nil for the system actor.
func (a Actor) UserID() *uuid.UUID {
	if a.ID == uuid.Nil {
		return nil
	}
	id := a.ID
	return &id
}

func (a Actor) Type() string {
	switch a.Role {
	case rbac.RoleSystem:
		return models.ActorSystem
	case rbac.RoleSupport:
		return models.ActorSupport
	}
	return models.ActorUser
}

// Effect is a notification to deliver after the transition commits.
type Effect struct {
	UserID   uuid.UUID
	Category string
	Action   string
	Title    string
	Body     string
	Email    bool
	Payload  map[string]any
}

// Outcome is everything one transition produces. The store persists Contract,
// ChangeRequest, Credit and Ticket in a single transaction.
type Outcome struct {
	Contract      models.Contract
	ChangeRequest *models.ChangeRequest
	Credit        *models.BalanceCredit
	Ticket        *models.SupportTicket
	Effects       []Effect
	Action        string
	// Permission is set when the transition exercised a permission that
	// moves money.
	Permission    string
	Meta          map[string]any
}

func newOutcome(c models.Contract, action string) Outcome {
	return Outcome{Contract: c, Action: action, Meta: map[string]any{}}
}

func (o *Outcome) notify(userID uuid.UUID, action, title, body string, email bool) {
	o.Effects = append(o.Effects, Effect{
		UserID:   userID,
		Category: models.NotificationCategoryContract,
		Action:   action,
		Title:    title,
		Body:     body,
		Email:    email,
		Payload:  map[string]any{"contract_id": o.Contract.ID.String(), "status": string(o.Contract.Status)},
	})
}

func (o *Outcome) notifyBoth(action, title, body string, email bool) {
	o.notify(o.Contract.ClientID, action, title, body, email)
	o.notify(o.Contract.WorkerID, action, title, body, email)
}

func authorize(op string, c *models.Contract, a Actor, perm string) error {
	if a.Role == rbac.RoleNone {
		return apperr.Validation(op, "user %s is not a party to contract %s", a.ID, c.ID)
	}
	if !rbac.HasPermission(a.Role, perm) {
		return apperr.Validation(op, "%s may not %s", a.Role, perm)
	}
	return nil
}

func ensureActive(op string, c *models.Contract) error {
	if c.IsDeleted {
		return apperr.Conflict(op, "contract %s is deleted", c.ID)
	}
	if c.IsTerminal() {
		return apperr.Conflict(op, "contract %s is already %s", c.ID, c.Status)
	}
	return nil
}

func setStatus(op string, c *models.Contract, to models.ContractStatus, now time.Time) error {
	if !models.IsValidContractTransition(c.Status, to) {
		return apperr.Conflict(op, "invalid transition from %s to %s", c.Status, to)
	}
	c.Status = to
	c.UpdatedAt = now
	return nil
}

func timePtr(t time.Time) *time.Time { return &t }

func strPtr(s string) *string { return &s }
