package lifecycle

import (
	"fmt"
	"time"

	"github.com/gigmarket/backend/internal/apperr"
	"github.com/gigmarket/backend/internal/models"
)

// release completes the contract and credits the worker exactly once. A
// contract whose escrow already left the held state is rejected, so a retried
// or racing release never produces a second credit.
func release(op string, c models.Contract, a Actor, now time.Time) (Outcome, error) {
	if c.EscrowStatus == models.EscrowStatusReleased || c.EscrowReleasedAt != nil {
		return Outcome{}, apperr.EscrowState(op, "escrow of contract %s already released", c.ID)
	}
	if !c.IsInEscrow() {
		return Outcome{}, apperr.EscrowState(op, "escrow is %s, expected held", c.EscrowStatus)
	}
	if !c.CanRelease() {
		return Outcome{}, apperr.Conflict(op, "both parties must confirm before release")
	}
	if err := setStatus(op, &c, models.ContractStatusCompleted, now); err != nil {
		return Outcome{}, err
	}
	c.ActualEndDate = timePtr(now)
	c.EscrowStatus = models.EscrowStatusReleased
	c.EscrowReleasedAt = timePtr(now)

	amount := c.AllocatedCredit()
	out := newOutcome(c, "escrow_released")
	out.Credit = &models.BalanceCredit{
		UserID:      c.WorkerID,
		ContractID:  c.ID,
		Amount:      amount,
		Kind:        models.BalanceKindEscrowRelease,
		Description: fmt.Sprintf("Payment for contract %s", c.ID),
	}
	out.Meta["amount"] = amount
	out.Meta["released_by"] = a.Type()
	out.notify(c.ClientID, "contract_completed", "Contract completed", "The contract is complete and payment was released.", true)
	out.notify(c.WorkerID, "payment_released", "Payment released",
		fmt.Sprintf("%d was credited to your balance.", amount), true)
	out.Effects[len(out.Effects)-1].Category = models.NotificationCategoryPayment
	return out, nil
}

func refund(op string, c *models.Contract, now time.Time) error {
	if !models.IsValidEscrowTransition(c.EscrowStatus, models.EscrowStatusRefunded) || !c.IsInEscrow() {
		return apperr.EscrowState(op, "escrow is %s, expected held", c.EscrowStatus)
	}
	c.EscrowStatus = models.EscrowStatusRefunded
	c.EscrowRefundedAt = timePtr(now)
	c.UpdatedAt = now
	return nil
}
