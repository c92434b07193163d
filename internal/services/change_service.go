package services

import (
	"context"
	"time"

	"github.com/gigmarket/backend/internal/apperr"
	"github.com/gigmarket/backend/internal/lifecycle"
	"github.com/gigmarket/backend/internal/models"
	"github.com/google/uuid"
)

type ChangeRequestStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.ChangeRequest, error)
	ListByContract(ctx context.Context, contractID uuid.UUID) ([]models.ChangeRequest, error)
}

// ChangeService runs the change-request protocol on top of the contract
// lock held by ContractService.
type ChangeService struct {
	contracts *ContractService
	changes   ChangeRequestStore
}

func NewChangeService(contracts *ContractService, changes ChangeRequestStore) *ChangeService {
	return &ChangeService{contracts: contracts, changes: changes}
}

func (s *ChangeService) RequestChange(ctx context.Context, contractID, userID uuid.UUID, p lifecycle.ChangeParams) (*models.ChangeRequest, error) {
	out, err := s.contracts.apply(ctx, contractID, s.contracts.userActor(userID),
		func(c models.Contract, pending *models.ChangeRequest, a lifecycle.Actor, now time.Time) (lifecycle.Outcome, error) {
			return lifecycle.RequestChange(c, pending, a, p, now)
		})
	if err != nil {
		return nil, err
	}
	return out.ChangeRequest, nil
}

// RespondChange accepts or rejects a request. The answer is checked against
// the pending row read under the contract lock, so a request escalated in the
// meantime cannot be answered.
func (s *ChangeService) RespondChange(ctx context.Context, changeID, userID uuid.UUID, accept bool) (*models.ChangeRequest, *models.Contract, error) {
	cr, err := s.changes.GetByID(ctx, changeID)
	if err != nil {
		return nil, nil, err
	}
	out, err := s.contracts.apply(ctx, cr.ContractID, s.contracts.userActor(userID),
		func(c models.Contract, pending *models.ChangeRequest, a lifecycle.Actor, now time.Time) (lifecycle.Outcome, error) {
			if pending == nil || pending.ID != cr.ID {
				return lifecycle.Outcome{}, apperr.Conflict("respond_change", "change request %s is no longer pending", cr.ID)
			}
			return lifecycle.RespondChange(c, *pending, a, accept, now)
		})
	if err != nil {
		return nil, nil, err
	}
	return out.ChangeRequest, &out.Contract, nil
}

// EscalateChange is the scheduler handing an unanswered request to support.
func (s *ChangeService) EscalateChange(ctx context.Context, changeID uuid.UUID) (*models.ChangeRequest, error) {
	cr, err := s.changes.GetByID(ctx, changeID)
	if err != nil {
		return nil, err
	}
	contract, err := s.contracts.contracts.GetByID(ctx, cr.ContractID)
	if err != nil {
		return nil, err
	}
	client, err := s.contracts.users.GetParty(ctx, contract.ClientID)
	if err != nil {
		return nil, err
	}
	worker, err := s.contracts.users.GetParty(ctx, contract.WorkerID)
	if err != nil {
		return nil, err
	}

	out, err := s.contracts.apply(ctx, cr.ContractID, systemActor,
		func(c models.Contract, pending *models.ChangeRequest, _ lifecycle.Actor, now time.Time) (lifecycle.Outcome, error) {
			if pending == nil || pending.ID != cr.ID {
				return lifecycle.Outcome{}, apperr.Conflict("escalate_change", "change request %s is no longer pending", cr.ID)
			}
			return lifecycle.EscalateChange(c, *pending, client, worker, now)
		})
	if err != nil {
		return nil, err
	}
	return out.ChangeRequest, nil
}

// ListChangeRequests returns a contract's requests to one of its parties.
func (s *ChangeService) ListChangeRequests(ctx context.Context, contractID, userID uuid.UUID) ([]models.ChangeRequest, error) {
	if _, err := s.contracts.GetContract(ctx, contractID, userID); err != nil {
		return nil, err
	}
	return s.changes.ListByContract(ctx, contractID)
}
