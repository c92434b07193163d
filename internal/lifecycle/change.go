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

type ChangeParams struct {
	Type   models.ChangeRequestType
	Reason string
	Terms  models.ChangeTerms
}

// RequestChange opens a change request. pending is the contract's current
// pending request, if any.
func RequestChange(c models.Contract, pending *models.ChangeRequest, a Actor, p ChangeParams, now time.Time) (Outcome, error) {
	const op = "request_change"
	c = c.Clone()
	if err := ensureActive(op, &c); err != nil {
		return Outcome{}, err
	}
	if err := authorize(op, &c, a, rbac.PermRequestChange); err != nil {
		return Outcome{}, err
	}
	if pending != nil && pending.IsPending() {
		return Outcome{}, apperr.Conflict(op, "change request %s is already pending", pending.ID)
	}
	if strings.TrimSpace(p.Reason) == "" {
		return Outcome{}, apperr.Validation(op, "reason is required")
	}
	switch p.Type {
	case models.ChangeRequestCancel:
		p.Terms = models.ChangeTerms{}
	case models.ChangeRequestModify:
		if p.Terms.IsEmpty() {
			return Outcome{}, apperr.Validation(op, "modify request needs at least one new term")
		}
		if err := validateTerms(op, &c, p.Terms); err != nil {
			return Outcome{}, err
		}
	default:
		return Outcome{}, apperr.Validation(op, "unknown change request type %q", p.Type)
	}

	cr := &models.ChangeRequest{
		ID:          uuid.New(),
		ContractID:  c.ID,
		RequestedBy: a.ID,
		Type:        p.Type,
		Reason:      p.Reason,
		Terms:       p.Terms,
		Status:      models.ChangeRequestPending,
		CreatedAt:   now,
	}
	out := newOutcome(c, "change_requested")
	out.ChangeRequest = cr
	out.Meta["change_request_id"] = cr.ID.String()
	out.Meta["type"] = string(p.Type)
	out.notify(c.Counterparty(a.ID), "change_requested", changeTitle(p.Type), p.Reason, true)
	out.Effects[0].Payload["change_request_id"] = cr.ID.String()
	return out, nil
}

func validateTerms(op string, c *models.Contract, t models.ChangeTerms) error {
	if t.NewPrice != nil && *t.NewPrice <= 0 {
		return apperr.Validation(op, "price must be positive")
	}
	start, end := c.StartDate, c.EndDate
	if t.NewStartDate != nil {
		start = *t.NewStartDate
	}
	if t.NewEndDate != nil {
		end = *t.NewEndDate
	}
	if !end.After(start) {
		return apperr.Validation(op, "end date must be after start date")
	}
	return nil
}

func changeTitle(t models.ChangeRequestType) string {
	if t == models.ChangeRequestCancel {
		return "Cancellation requested"
	}
	return "Contract change requested"
}

// RespondChange lets the other party accept or reject a pending request.
func RespondChange(c models.Contract, cr models.ChangeRequest, a Actor, accept bool, now time.Time) (Outcome, error) {
	const op = "respond_change"
	c = c.Clone()
	if cr.ContractID != c.ID {
		return Outcome{}, apperr.Validation(op, "change request %s does not belong to contract %s", cr.ID, c.ID)
	}
	if !cr.IsPending() {
		return Outcome{}, apperr.Conflict(op, "change request %s is %s", cr.ID, cr.Status)
	}
	if err := ensureActive(op, &c); err != nil {
		return Outcome{}, err
	}
	if err := authorize(op, &c, a, rbac.PermRequestChange); err != nil {
		return Outcome{}, err
	}
	if a.ID == cr.RequestedBy {
		return Outcome{}, apperr.Validation(op, "requester cannot respond to their own change request")
	}

	cr.RespondedBy = a.UserID()
	cr.RespondedAt = timePtr(now)

	if !accept {
		cr.Status = models.ChangeRequestRejected
		out := newOutcome(c, "change_rejected")
		out.ChangeRequest = &cr
		out.Meta["change_request_id"] = cr.ID.String()
		out.notify(cr.RequestedBy, "change_rejected", "Change request declined", cr.Reason, true)
		return out, nil
	}

	cr.Status = models.ChangeRequestAccepted
	switch cr.Type {
	case models.ChangeRequestCancel:
		if err := cancel(op, &c, a, cr.Reason, now); err != nil {
			return Outcome{}, err
		}
		out := newOutcome(c, "contract_cancelled")
		out.ChangeRequest = &cr
		out.Meta["change_request_id"] = cr.ID.String()
		out.Meta["reason"] = cr.Reason
		out.notifyBoth("contract_cancelled", "Contract cancelled", "Both parties agreed to cancel: "+cr.Reason, true)
		return out, nil

	case models.ChangeRequestModify:
		if err := validateTerms(op, &c, cr.Terms); err != nil {
			return Outcome{}, err
		}
		previousTotal := c.TotalPrice
		if cr.Terms.NewPrice != nil && *cr.Terms.NewPrice != c.Price {
			applyPrice(&c, *cr.Terms.NewPrice, cr.RequestedBy, cr.Reason, now)
		}
		if cr.Terms.NewStartDate != nil {
			c.StartDate = *cr.Terms.NewStartDate
		}
		if cr.Terms.NewEndDate != nil {
			c.EndDate = *cr.Terms.NewEndDate
		}
		c.UpdatedAt = now
		out := newOutcome(c, "change_applied")
		if c.TotalPrice != previousTotal {
			out.Permission = rbac.PermModifyPrice
		}
		out.ChangeRequest = &cr
		out.Meta["change_request_id"] = cr.ID.String()
		out.notify(cr.RequestedBy, "change_accepted", "Change request accepted", cr.Reason, true)
		recordEscrowAdjustment(&out, previousTotal)
		return out, nil
	}
	return Outcome{}, apperr.Validation(op, "unknown change request type %q", cr.Type)
}

// EscalateChange hands an unanswered request to support. The request leaves
// the pending state, so it is never escalated twice.
func EscalateChange(c models.Contract, cr models.ChangeRequest, client, worker models.Party, now time.Time) (Outcome, error) {
	const op = "escalate_change"
	c = c.Clone()
	if err := ensureActive(op, &c); err != nil {
		return Outcome{}, err
	}
	if !DueChangeEscalation(&cr, now) {
		return Outcome{}, apperr.Conflict(op, "change request %s is not eligible for escalation", cr.ID)
	}
	ticket := &models.SupportTicket{
		ID:              uuid.New(),
		Subject:         fmt.Sprintf("Unanswered %s request on contract %s", cr.Type, c.ID),
		Body:            changeSummary(&c, &cr, client, worker, now),
		Priority:        models.SupportPriorityHigh,
		ContractID:      &c.ID,
		ChangeRequestID: &cr.ID,
		Status:          "open",
		CreatedAt:       now,
	}
	cr.Status = models.ChangeRequestEscalated
	cr.SupportTicketID = &ticket.ID
	cr.EscalatedAt = timePtr(now)

	out := newOutcome(c, "change_escalated")
	out.ChangeRequest = &cr
	out.Ticket = ticket
	out.Meta["change_request_id"] = cr.ID.String()
	out.Meta["ticket_id"] = ticket.ID.String()
	out.notifyBoth("change_escalated", "Change request escalated",
		"The change request was not answered in time and was sent to support.", true)
	return out, nil
}

// CloseSettledChange closes a request still pending when the transition left
// the contract terminal or deleted, so it is never answered or escalated later.
// Outcomes that already write a change request are left alone.
func CloseSettledChange(out *Outcome, pending *models.ChangeRequest, now time.Time) {
	if pending == nil || !pending.IsPending() || out.ChangeRequest != nil {
		return
	}
	if !out.Contract.IsTerminal() && !out.Contract.IsDeleted {
		return
	}
	closed := *pending
	closed.Status = models.ChangeRequestClosed
	closed.RespondedAt = timePtr(now)
	out.ChangeRequest = &closed
	out.Meta["closed_change_request_id"] = closed.ID.String()
}

func changeSummary(c *models.Contract, cr *models.ChangeRequest, client, worker models.Party, now time.Time) string {
	var b strings.Builder
	requester, responder := client, worker
	if cr.RequestedBy == worker.ID {
		requester, responder = worker, client
	}
	fmt.Fprintf(&b, "Contract: %s (status %s)\n", c.ID, c.Status)
	fmt.Fprintf(&b, "Requested by: %s <%s>\n", requester.DisplayName, requester.Email)
	fmt.Fprintf(&b, "Awaiting answer from: %s <%s>\n", responder.DisplayName, responder.Email)
	fmt.Fprintf(&b, "Type: %s, pending for %s\n", cr.Type, now.Sub(cr.CreatedAt).Round(time.Hour))
	fmt.Fprintf(&b, "Reason: %s\n", cr.Reason)
	if cr.Terms.NewPrice != nil {
		fmt.Fprintf(&b, "Proposed price: %d (current %d)\n", *cr.Terms.NewPrice, c.Price)
	}
	if cr.Terms.NewStartDate != nil {
		fmt.Fprintf(&b, "Proposed start: %s\n", cr.Terms.NewStartDate.Format(time.RFC3339))
	}
	if cr.Terms.NewEndDate != nil {
		fmt.Fprintf(&b, "Proposed end: %s\n", cr.Terms.NewEndDate.Format(time.RFC3339))
	}
	return strings.TrimRight(b.String(), "\n")
}
