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

type NewContractParams struct {
	JobID           uuid.UUID
	ClientID        uuid.UUID
	WorkerID        uuid.UUID
	Price           int64
	CommissionRate  float64
	AllocatedAmount *int64
	StartDate       time.Time
	EndDate         time.Time
}

// NewContract builds a pending contract for a chosen worker.
func NewContract(p NewContractParams, now time.Time) (models.Contract, error) {
	const op = "create_contract"
	switch {
	case p.JobID == uuid.Nil || p.ClientID == uuid.Nil || p.WorkerID == uuid.Nil:
		return models.Contract{}, apperr.Validation(op, "job, client and worker are required")
	case p.ClientID == p.WorkerID:
		return models.Contract{}, apperr.Validation(op, "client and worker must differ")
	case p.Price <= 0:
		return models.Contract{}, apperr.Validation(op, "price must be positive")
	case p.CommissionRate < 0 || p.CommissionRate > 100:
		return models.Contract{}, apperr.Validation(op, "commission rate %v out of range", p.CommissionRate)
	case !p.EndDate.After(p.StartDate):
		return models.Contract{}, apperr.Validation(op, "end date must be after start date")
	case p.AllocatedAmount != nil && (*p.AllocatedAmount <= 0 || *p.AllocatedAmount > p.Price):
		return models.Contract{}, apperr.Validation(op, "allocated amount must be within price")
	}

	c := models.Contract{
		ID:              uuid.New(),
		JobID:           p.JobID,
		ClientID:        p.ClientID,
		WorkerID:        p.WorkerID,
		Price:           p.Price,
		CommissionRate:  p.CommissionRate,
		AllocatedAmount: p.AllocatedAmount,
		StartDate:       p.StartDate,
		EndDate:         p.EndDate,
		Status:          models.ContractStatusPending,
		EscrowStatus:    models.EscrowStatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	c.RecalculateTotals()
	return c, nil
}

// Respond is the worker accepting or rejecting a pending contract. Acceptance
// issues the pairing code.
func Respond(c models.Contract, a Actor, accept bool, pairingCode string, now time.Time) (Outcome, error) {
	const op = "respond_contract"
	c = c.Clone()
	if err := ensureActive(op, &c); err != nil {
		return Outcome{}, err
	}
	if err := authorize(op, &c, a, rbac.PermRespondContract); err != nil {
		return Outcome{}, err
	}
	if c.Status != models.ContractStatusPending {
		return Outcome{}, apperr.Conflict(op, "contract already answered (%s)", c.Status)
	}

	if !accept {
		if err := setStatus(op, &c, models.ContractStatusRejected, now); err != nil {
			return Outcome{}, err
		}
		out := newOutcome(c, "contract_rejected")
		out.notify(c.ClientID, "contract_rejected", "Contract declined", "The worker declined the contract.", true)
		return out, nil
	}

	if err := setStatus(op, &c, models.ContractStatusAccepted, now); err != nil {
		return Outcome{}, err
	}
	if err := issuePairing(&c, pairingCode, now); err != nil {
		return Outcome{}, err
	}
	out := newOutcome(c, "contract_accepted")
	out.notify(c.ClientID, "contract_accepted", "Contract accepted", "The worker accepted the contract.", true)
	return out, nil
}

// FundEscrow records that the settlement provider captured the client's payment.
func FundEscrow(c models.Contract, a Actor, paymentReference string, now time.Time) (Outcome, error) {
	const op = "fund_escrow"
	c = c.Clone()
	if err := ensureActive(op, &c); err != nil {
		return Outcome{}, err
	}
	if err := authorize(op, &c, a, rbac.PermFundEscrow); err != nil {
		return Outcome{}, err
	}
	if strings.TrimSpace(paymentReference) == "" {
		return Outcome{}, apperr.Validation(op, "payment reference is required")
	}
	switch c.Status {
	case models.ContractStatusPending, models.ContractStatusAccepted, models.ContractStatusInProgress:
	default:
		return Outcome{}, apperr.Conflict(op, "cannot fund a contract in %s", c.Status)
	}
	if !models.IsValidEscrowTransition(c.EscrowStatus, models.EscrowStatusHeld) {
		return Outcome{}, apperr.EscrowState(op, "escrow is %s, expected pending", c.EscrowStatus)
	}

	c.EscrowStatus = models.EscrowStatusHeld
	c.EscrowHeldAt = timePtr(now)
	c.PaymentReference = strPtr(paymentReference)
	c.UpdatedAt = now

	out := newOutcome(c, "escrow_funded")
	out.Permission = rbac.PermFundEscrow
	out.Meta["total_price"] = c.TotalPrice
	out.notify(c.WorkerID, "escrow_funded", "Payment secured", "The client's payment is held in escrow.", false)
	return out, nil
}

// ForceStart moves an accepted contract into progress once its scheduled start
// has passed, without waiting for pairing.
func ForceStart(c models.Contract, a Actor, now time.Time) (Outcome, error) {
	const op = "force_start"
	c = c.Clone()
	if err := ensureActive(op, &c); err != nil {
		return Outcome{}, err
	}
	if err := authorize(op, &c, a, rbac.PermForceProgress); err != nil {
		return Outcome{}, err
	}
	if c.Status != models.ContractStatusAccepted {
		return Outcome{}, apperr.Conflict(op, "contract is %s, expected accepted", c.Status)
	}
	if now.Before(c.StartDate) {
		return Outcome{}, apperr.Validation(op, "scheduled start %s not reached", c.StartDate.Format(time.RFC3339))
	}
	if err := start(op, &c, now); err != nil {
		return Outcome{}, err
	}
	out := newOutcome(c, "contract_auto_started")
	out.notifyBoth("contract_started", "Contract started", "The scheduled start was reached; the contract is now in progress.", false)
	return out, nil
}

func start(op string, c *models.Contract, now time.Time) error {
	if err := setStatus(op, c, models.ContractStatusInProgress, now); err != nil {
		return err
	}
	c.ActualStartDate = timePtr(now)
	return nil
}

// MarkWorkDone moves the contract to awaiting confirmation. The caller's own
// completion confirmation is recorded at the same time.
func MarkWorkDone(c models.Contract, a Actor, now time.Time) (Outcome, error) {
	const op = "mark_work_done"
	c = c.Clone()
	if err := ensureActive(op, &c); err != nil {
		return Outcome{}, err
	}
	if err := authorize(op, &c, a, rbac.PermMarkWorkDone); err != nil {
		return Outcome{}, err
	}
	if c.Status != models.ContractStatusInProgress {
		return Outcome{}, apperr.Conflict(op, "contract is %s, expected in_progress", c.Status)
	}
	if err := setStatus(op, &c, models.ContractStatusAwaitingConfirmation, now); err != nil {
		return Outcome{}, err
	}
	c.AwaitingConfirmationAt = timePtr(now)
	recordConfirmation(&c, a.ID, now)

	out := newOutcome(c, "work_marked_done")
	out.notify(c.Counterparty(a.ID), "confirmation_requested", "Please confirm completion",
		fmt.Sprintf("The other party marked the work as done. It will be confirmed automatically after %s.", AutoConfirmAfter), true)
	return out, nil
}

// Cancel ends a non-terminal contract and refunds held escrow. A party cannot
// cancel unilaterally while a change request is pending; that request has to be
// answered first.
func Cancel(c models.Contract, a Actor, reason string, hasPendingChange bool, now time.Time) (Outcome, error) {
	const op = "cancel_contract"
	c = c.Clone()
	if err := ensureActive(op, &c); err != nil {
		return Outcome{}, err
	}
	if err := authorize(op, &c, a, rbac.PermCancel); err != nil {
		return Outcome{}, err
	}
	if hasPendingChange && (a.Role == rbac.RoleClient || a.Role == rbac.RoleWorker) {
		return Outcome{}, apperr.Conflict(op, "a change request is pending on contract %s", c.ID)
	}
	if err := cancel(op, &c, a, reason, now); err != nil {
		return Outcome{}, err
	}
	out := newOutcome(c, "contract_cancelled")
	out.Meta["reason"] = reason
	out.notifyBoth("contract_cancelled", "Contract cancelled", reason, true)
	return out, nil
}

func cancel(op string, c *models.Contract, a Actor, reason string, now time.Time) error {
	if err := setStatus(op, c, models.ContractStatusCancelled, now); err != nil {
		return err
	}
	c.CancelledAt = timePtr(now)
	c.CancelledBy = a.UserID()
	if reason != "" {
		c.CancellationReason = strPtr(reason)
	}
	if c.IsInEscrow() {
		return refund(op, c, now)
	}
	return nil
}

func RaiseDispute(c models.Contract, a Actor, reason string, now time.Time) (Outcome, error) {
	const op = "raise_dispute"
	c = c.Clone()
	if err := ensureActive(op, &c); err != nil {
		return Outcome{}, err
	}
	if err := authorize(op, &c, a, rbac.PermDispute); err != nil {
		return Outcome{}, err
	}
	if c.Status == models.ContractStatusDisputed {
		return Outcome{}, apperr.Conflict(op, "contract %s is already disputed", c.ID)
	}
	if strings.TrimSpace(reason) == "" {
		return Outcome{}, apperr.Validation(op, "dispute reason is required")
	}
	if err := setStatus(op, &c, models.ContractStatusDisputed, now); err != nil {
		return Outcome{}, err
	}
	id := uuid.New()
	c.DisputeID = &id
	c.DisputedAt = timePtr(now)
	c.DisputedBy = a.UserID()
	c.DisputeReason = strPtr(reason)

	out := newOutcome(c, "dispute_raised")
	out.Meta["reason"] = reason
	out.notify(c.Counterparty(a.ID), "dispute_raised", "Dispute opened", reason, true)
	return out, nil
}

// ResolveDispute settles a dispute: in the worker's favour escrow is released,
// otherwise it is refunded to the client.
func ResolveDispute(c models.Contract, a Actor, resolution string, favourWorker bool, now time.Time) (Outcome, error) {
	const op = "resolve_dispute"
	c = c.Clone()
	if err := authorize(op, &c, a, rbac.PermResolveDispute); err != nil {
		return Outcome{}, err
	}
	if c.Status != models.ContractStatusDisputed || c.DisputeResolution != nil {
		return Outcome{}, apperr.Conflict(op, "contract %s has no open dispute", c.ID)
	}
	if strings.TrimSpace(resolution) == "" {
		return Outcome{}, apperr.Validation(op, "resolution is required")
	}
	if !c.IsInEscrow() {
		return Outcome{}, apperr.EscrowState(op, "escrow is %s, expected held", c.EscrowStatus)
	}
	c.DisputeResolution = strPtr(resolution)

	if favourWorker {
		recordConfirmation(&c, c.ClientID, now)
		recordConfirmation(&c, c.WorkerID, now)
		out, err := release(op, c, a, now)
		if err != nil {
			return Outcome{}, err
		}
		out.Action = "dispute_resolved_worker"
		out.Permission = rbac.PermResolveDispute
		out.Meta["resolution"] = resolution
		return out, nil
	}

	if err := cancel(op, &c, a, resolution, now); err != nil {
		return Outcome{}, err
	}
	out := newOutcome(c, "dispute_resolved_client")
	out.Permission = rbac.PermResolveDispute
	out.Meta["resolution"] = resolution
	out.notifyBoth("dispute_resolved", "Dispute resolved", resolution, true)
	return out, nil
}

// EscalateDispute files one support ticket for a dispute left open too long.
func EscalateDispute(c models.Contract, client, worker models.Party, now time.Time) (Outcome, error) {
	const op = "escalate_dispute"
	c = c.Clone()
	if !DueDisputeEscalation(&c, now) {
		return Outcome{}, apperr.Conflict(op, "dispute on contract %s is not eligible for escalation", c.ID)
	}
	ticket := &models.SupportTicket{
		ID:         uuid.New(),
		Subject:    fmt.Sprintf("Unresolved dispute on contract %s", c.ID),
		Body:       disputeSummary(&c, client, worker),
		Priority:   models.SupportPriorityUrgent,
		ContractID: &c.ID,
		Status:     "open",
		CreatedAt:  now,
	}
	c.DisputeTicketID = &ticket.ID
	c.UpdatedAt = now

	out := newOutcome(c, "dispute_escalated")
	out.Ticket = ticket
	out.notifyBoth("dispute_escalated", "Dispute escalated", "Our support team has been asked to resolve this dispute.", true)
	return out, nil
}

func disputeSummary(c *models.Contract, client, worker models.Party) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Contract: %s (job %s)\n", c.ID, c.JobID)
	fmt.Fprintf(&b, "Client: %s <%s>\n", client.DisplayName, client.Email)
	fmt.Fprintf(&b, "Worker: %s <%s>\n", worker.DisplayName, worker.Email)
	if c.DisputedAt != nil {
		fmt.Fprintf(&b, "Disputed at: %s\n", c.DisputedAt.Format(time.RFC3339))
	}
	if c.DisputeReason != nil {
		fmt.Fprintf(&b, "Reason: %s\n", *c.DisputeReason)
	}
	fmt.Fprintf(&b, "Escrow: %s, total %d", c.EscrowStatus, c.TotalPrice)
	return b.String()
}

// SoftDelete hides a terminal contract while keeping its audit trail.
func SoftDelete(c models.Contract, a Actor, now time.Time) (Outcome, error) {
	const op = "soft_delete"
	c = c.Clone()
	if err := authorize(op, &c, a, rbac.PermSoftDelete); err != nil {
		return Outcome{}, err
	}
	if c.IsDeleted {
		return Outcome{}, apperr.Conflict(op, "contract %s is already deleted", c.ID)
	}
	if !c.IsTerminal() {
		return Outcome{}, apperr.Conflict(op, "contract %s is %s; only terminal contracts can be deleted", c.ID, c.Status)
	}
	c.IsDeleted = true
	c.DeletedAt = timePtr(now)
	c.DeletedBy = a.UserID()
	c.UpdatedAt = now
	return newOutcome(c, "contract_deleted"), nil
}
