package lifecycle

import (
	"fmt"
	"time"

	"github.com/gigmarket/backend/internal/apperr"
	"github.com/gigmarket/backend/internal/models"
	"github.com/gigmarket/backend/internal/rbac"
	"github.com/google/uuid"
)

func recordConfirmation(c *models.Contract, userID uuid.UUID, now time.Time) {
	switch userID {
	case c.ClientID:
		if !c.ClientConfirmed {
			c.ClientConfirmed = true
			c.ClientConfirmedAt = timePtr(now)
		}
	case c.WorkerID:
		if !c.WorkerConfirmed {
			c.WorkerConfirmed = true
			c.WorkerConfirmedAt = timePtr(now)
		}
	}
}

func confirmedBy(c *models.Contract, userID uuid.UUID) bool {
	if userID == c.ClientID {
		return c.ClientConfirmed
	}
	return c.WorkerConfirmed
}

// ConfirmCompletion records a party's completion confirmation. The second
// confirmation completes the contract and releases escrow in the same outcome.
func ConfirmCompletion(c models.Contract, a Actor, now time.Time) (Outcome, error) {
	const op = "confirm_completion"
	c = c.Clone()
	if err := ensureActive(op, &c); err != nil {
		return Outcome{}, err
	}
	if err := authorize(op, &c, a, rbac.PermConfirmCompletion); err != nil {
		return Outcome{}, err
	}
	if a.IsSystem() {
		return Outcome{}, apperr.Validation(op, "system confirmation goes through auto-confirm")
	}
	if c.Status != models.ContractStatusAwaitingConfirmation {
		return Outcome{}, apperr.Validation(op, "contract is %s, work has not been marked done", c.Status)
	}
	if confirmedBy(&c, a.ID) {
		return Outcome{}, apperr.Conflict(op, "%s already confirmed completion", a.Role)
	}
	recordConfirmation(&c, a.ID, now)
	c.UpdatedAt = now

	if !c.BothConfirmed() {
		out := newOutcome(c, "completion_confirmed")
		out.Meta["role"] = a.Role
		out.notify(c.Counterparty(a.ID), "confirmation_requested", "Please confirm completion",
			"The other party confirmed the work is complete.", true)
		return out, nil
	}
	return release(op, c, a, now)
}

// AutoConfirm forces the missing confirmations once the waiting period ran out.
func AutoConfirm(c models.Contract, now time.Time) (Outcome, error) {
	const op = "auto_confirm"
	c = c.Clone()
	if err := ensureActive(op, &c); err != nil {
		return Outcome{}, err
	}
	if !DueAutoConfirm(&c, now) {
		return Outcome{}, apperr.Conflict(op, "contract %s is not due for auto-confirmation", c.ID)
	}
	missing := []string{}
	if !c.ClientConfirmed {
		missing = append(missing, rbac.RoleClient)
	}
	if !c.WorkerConfirmed {
		missing = append(missing, rbac.RoleWorker)
	}
	recordConfirmation(&c, c.ClientID, now)
	recordConfirmation(&c, c.WorkerID, now)

	out, err := release(op, c, SystemActor(), now)
	if err != nil {
		return Outcome{}, err
	}
	out.Action = "contract_auto_confirmed"
	out.Meta["forced"] = missing
	out.Meta["waited"] = fmt.Sprint(now.Sub(*c.AwaitingConfirmationAt).Round(time.Minute))
	return out, nil
}
