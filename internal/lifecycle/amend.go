package lifecycle

import (
	"fmt"
	"strings"
	"time"

	"github.com/gigmarket/backend/internal/apperr"
	"github.com/gigmarket/backend/internal/models"
	"github.com/gigmarket/backend/internal/rbac"
	"github.com/google/uuid"
)

type ExtendParams struct {
	NewEndDate time.Time
	Reason     string
	Amount     *int64
	ApprovedBy *uuid.UUID
}

// Extend moves the end date out. A contract can be extended once.
func Extend(c models.Contract, a Actor, p ExtendParams, now time.Time) (Outcome, error) {
	const op = "extend_contract"
	c = c.Clone()
	if err := ensureActive(op, &c); err != nil {
		return Outcome{}, err
	}
	if err := authorize(op, &c, a, rbac.PermExtend); err != nil {
		return Outcome{}, err
	}
	if c.HasBeenExtended {
		return Outcome{}, apperr.Conflict(op, "contract %s was already extended", c.ID)
	}
	if c.Status != models.ContractStatusAccepted && c.Status != models.ContractStatusInProgress {
		return Outcome{}, apperr.Conflict(op, "contract is %s, extension needs accepted or in_progress", c.Status)
	}
	if !p.NewEndDate.After(c.EndDate) {
		return Outcome{}, apperr.Validation(op, "new end date must be after %s", c.EndDate.Format(time.RFC3339))
	}
	if p.Amount != nil && *p.Amount < 0 {
		return Outcome{}, apperr.Validation(op, "extension amount cannot be negative")
	}
	if strings.TrimSpace(p.Reason) == "" {
		return Outcome{}, apperr.Validation(op, "reason is required")
	}

	c.ExtensionHistory = append(c.ExtensionHistory, models.Extension{
		PreviousEndDate: c.EndDate,
		NewEndDate:      p.NewEndDate,
		Reason:          p.Reason,
		Amount:          p.Amount,
		RequestedBy:     a.ID,
		ApprovedBy:      p.ApprovedBy,
		ExtendedAt:      now,
	})
	c.EndDate = p.NewEndDate
	c.HasBeenExtended = true
	c.UpdatedAt = now

	out := newOutcome(c, "contract_extended")
	out.Meta["new_end_date"] = p.NewEndDate
	out.notify(c.Counterparty(a.ID), "contract_extended", "Contract extended",
		fmt.Sprintf("The end date moved to %s: %s", p.NewEndDate.Format("2006-01-02 15:04"), p.Reason), true)
	return out, nil
}

// ModifyPrice changes the price and records the change in the price history.
func ModifyPrice(c models.Contract, a Actor, newPrice int64, reason string, now time.Time) (Outcome, error) {
	const op = "modify_price"
	c = c.Clone()
	if err := ensureActive(op, &c); err != nil {
		return Outcome{}, err
	}
	if err := authorize(op, &c, a, rbac.PermModifyPrice); err != nil {
		return Outcome{}, err
	}
	if newPrice <= 0 {
		return Outcome{}, apperr.Validation(op, "price must be positive")
	}
	if strings.TrimSpace(reason) == "" {
		return Outcome{}, apperr.Validation(op, "reason is required")
	}
	previousTotal := c.TotalPrice
	delta := applyPrice(&c, newPrice, a.ID, reason, now)

	out := newOutcome(c, "price_modified")
	out.Permission = rbac.PermModifyPrice
	out.Meta["payment_delta"] = delta
	out.notify(c.Counterparty(a.ID), "price_modified", "Contract price changed",
		fmt.Sprintf("New price %d (%+d): %s", newPrice, delta, reason), true)
	recordEscrowAdjustment(&out, previousTotal)
	return out, nil
}

// recordEscrowAdjustment notes the gap between the funds already held and the
// new total. A positive amount is a top-up the client still owes, a negative
// one is due back to the client.
func recordEscrowAdjustment(out *Outcome, previousTotal int64) {
	c := &out.Contract
	if c.EscrowStatus != models.EscrowStatusHeld {
		return
	}
	diff := c.TotalPrice - previousTotal
	if diff == 0 {
		return
	}
	out.Meta["escrow_adjustment"] = diff
	title, body := "Escrow top-up required", fmt.Sprintf("The new total is %d. Please add %d to the escrow.", c.TotalPrice, diff)
	if diff < 0 {
		title, body = "Escrow refund due", fmt.Sprintf("The new total is %d. %d of the held funds will be returned to you.", c.TotalPrice, -diff)
	}
	out.notify(c.ClientID, "escrow_adjustment", title, body, true)
	out.Effects[len(out.Effects)-1].Category = models.NotificationCategoryPayment
	out.Effects[len(out.Effects)-1].Payload["escrow_adjustment"] = diff
}

// applyPrice appends the history entry first, then updates price and totals.
func applyPrice(c *models.Contract, newPrice int64, by uuid.UUID, reason string, now time.Time) int64 {
	delta := newPrice - c.Price
	c.PriceModificationHistory = append(c.PriceModificationHistory, models.PriceModification{
		PreviousPrice: c.Price,
		NewPrice:      newPrice,
		ModifiedBy:    by,
		Reason:        reason,
		PaymentDelta:  delta,
		ModifiedAt:    now,
	})
	c.Price = newPrice
	if c.AllocatedAmount != nil && *c.AllocatedAmount > newPrice {
		c.AllocatedAmount = &newPrice
	}
	c.RecalculateTotals()
	c.UpdatedAt = now
	return delta
}
