package services

import (
	"context"
	"testing"
	"time"

	"github.com/gigmarket/backend/internal/apperr"
	"github.com/gigmarket/backend/internal/lifecycle"
	"github.com/gigmarket/backend/internal/models"
	"github.com/google/uuid"
)

func TestModifyRequestAccepted(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	c := h.inProgressContract(t)
	price := int64(12000)
	newEnd := c.EndDate.Add(2 * time.Hour)

	cr, err := h.changes.RequestChange(ctx, c.ID, h.worker.ID, lifecycle.ChangeParams{
		Type:   models.ChangeRequestModify,
		Reason: "bigger garden than listed",
		Terms:  models.ChangeTerms{NewPrice: &price, NewEndDate: &newEnd},
	})
	if err != nil {
		t.Fatalf("RequestChange: %v", err)
	}
	if got := h.notifier.byAction("change_requested"); len(got) != 1 || got[0].UserID != h.client.ID {
		t.Errorf("change_requested = %+v", got)
	}

	_, _, err = h.changes.RespondChange(ctx, cr.ID, h.worker.ID, true)
	expectKind(t, err, apperr.ErrValidation)

	answered, contract, err := h.changes.RespondChange(ctx, cr.ID, h.client.ID, true)
	if err != nil {
		t.Fatalf("RespondChange: %v", err)
	}
	if answered.Status != models.ChangeRequestAccepted || answered.RespondedBy == nil || *answered.RespondedBy != h.client.ID {
		t.Errorf("answered = %+v", answered)
	}
	if contract.Price != 12000 || contract.TotalPrice != 12960 || !contract.EndDate.Equal(newEnd) {
		t.Errorf("contract price=%d total=%d end=%s", contract.Price, contract.TotalPrice, contract.EndDate)
	}
	if n := len(contract.PriceModificationHistory); n != 1 {
		t.Errorf("price history entries = %d", n)
	}

	_, _, err = h.changes.RespondChange(ctx, cr.ID, h.client.ID, false)
	expectKind(t, err, apperr.ErrConflict)
}

func TestOnlyOnePendingRequest(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	c := h.inProgressContract(t)
	cancelReq := lifecycle.ChangeParams{Type: models.ChangeRequestCancel, Reason: "weather"}

	first, err := h.changes.RequestChange(ctx, c.ID, h.client.ID, cancelReq)
	if err != nil {
		t.Fatal(err)
	}
	_, err = h.changes.RequestChange(ctx, c.ID, h.worker.ID, cancelReq)
	expectKind(t, err, apperr.ErrConflict)

	if _, _, err := h.changes.RespondChange(ctx, first.ID, h.worker.ID, false); err != nil {
		t.Fatalf("reject: %v", err)
	}
	if _, err := h.changes.RequestChange(ctx, c.ID, h.worker.ID, cancelReq); err != nil {
		t.Errorf("new request after rejection: %v", err)
	}

	list, err := h.changes.ListChangeRequests(ctx, c.ID, h.client.ID)
	if err != nil || len(list) != 2 {
		t.Errorf("ListChangeRequests = %d, %v", len(list), err)
	}
	_, err = h.changes.ListChangeRequests(ctx, c.ID, uuid.New())
	expectKind(t, err, apperr.ErrNotFound)
}

func TestCancelRequestAcceptedRefunds(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	c := h.inProgressContract(t)

	cr, err := h.changes.RequestChange(ctx, c.ID, h.client.ID, lifecycle.ChangeParams{
		Type: models.ChangeRequestCancel, Reason: "event postponed",
	})
	if err != nil {
		t.Fatal(err)
	}
	_, contract, err := h.changes.RespondChange(ctx, cr.ID, h.worker.ID, true)
	if err != nil {
		t.Fatalf("RespondChange: %v", err)
	}
	if contract.Status != models.ContractStatusCancelled || contract.EscrowStatus != models.EscrowStatusRefunded {
		t.Errorf("status=%s escrow=%s", contract.Status, contract.EscrowStatus)
	}
	if n := len(h.notifier.byAction("contract_cancelled")); n != 2 {
		t.Errorf("cancel notifications = %d", n)
	}
}

func TestModifyRequestNeedsTerms(t *testing.T) {
	h := newHarness()
	c := h.inProgressContract(t)
	_, err := h.changes.RequestChange(context.Background(), c.ID, h.client.ID, lifecycle.ChangeParams{
		Type: models.ChangeRequestModify, Reason: "nothing really",
	})
	expectKind(t, err, apperr.ErrValidation)
}
