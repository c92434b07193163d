package services

import (
	"context"
	"time"

	"github.com/gigmarket/backend/internal/apperr"
	"github.com/gigmarket/backend/internal/config"
	"github.com/gigmarket/backend/internal/events"
	"github.com/gigmarket/backend/internal/lifecycle"
	"github.com/gigmarket/backend/internal/models"
	"github.com/gigmarket/backend/internal/rbac"
	"github.com/gigmarket/backend/internal/repositories"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type ContractStore interface {
	Create(ctx context.Context, c *models.Contract) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Contract, error)
	List(ctx context.Context, f repositories.ContractFilter) ([]models.Contract, error)
	Mutate(ctx context.Context, id uuid.UUID, fn repositories.MutateFunc) (*lifecycle.Outcome, error)
}

type JobReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Job, error)
}

type UserReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetParty(ctx context.Context, id uuid.UUID) (models.Party, error)
}

type BalanceLedger interface {
	ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.BalanceTransaction, error)
}

type AuditLogger interface {
	Log(ctx context.Context, entry models.AuditLog) error
}

type ContractService struct {
	contracts ContractStore
	jobs      JobReader
	users     UserReader
	balances  BalanceLedger
	audit     AuditLogger
	notifier  Notifier
	publisher events.Publisher
	cfg       *config.Config
	log       *zap.Logger
	now       func() time.Time
}

func NewContractService(
	contracts ContractStore,
	jobs JobReader,
	users UserReader,
	balances BalanceLedger,
	audit AuditLogger,
	notifier Notifier,
	publisher events.Publisher,
	cfg *config.Config,
	log *zap.Logger,
) *ContractService {
	return &ContractService{
		contracts: contracts,
		jobs:      jobs,
		users:     users,
		balances:  balances,
		audit:     audit,
		notifier:  notifier,
		publisher: publisher,
		cfg:       cfg,
		log:       log,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// actorResolver picks the acting role once the locked snapshot is known.
type actorResolver func(c *models.Contract) lifecycle.Actor

type transition func(c models.Contract, pending *models.ChangeRequest, a lifecycle.Actor, now time.Time) (lifecycle.Outcome, error)

func (s *ContractService) userActor(userID uuid.UUID) actorResolver {
	return func(c *models.Contract) lifecycle.Actor {
		if !c.IsParty(userID) && s.cfg.IsSupport(userID) {
			return lifecycle.SupportActor(userID)
		}
		return lifecycle.PartyActor(c, userID)
	}
}

func systemActor(*models.Contract) lifecycle.Actor { return lifecycle.SystemActor() }

// apply runs one transition under the contract lock and, once committed,
// records the audit entry and dispatches notifications.
func (s *ContractService) apply(ctx context.Context, id uuid.UUID, resolve actorResolver, fn transition) (*lifecycle.Outcome, error) {
	now := s.now()
	var actor lifecycle.Actor
	out, err := s.contracts.Mutate(ctx, id, func(c models.Contract, pending *models.ChangeRequest) (lifecycle.Outcome, error) {
		actor = resolve(&c)
		out, err := fn(c, pending, actor, now)
		if err != nil {
			return out, err
		}
		lifecycle.CloseSettledChange(&out, pending, now)
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	s.afterCommit(ctx, actor, out)
	return out, nil
}

func (s *ContractService) afterCommit(ctx context.Context, a lifecycle.Actor, out *lifecycle.Outcome) {
	c := &out.Contract
	meta := map[string]any{
		"status":        string(c.Status),
		"escrow_status": string(c.EscrowStatus),
		"version":       c.Version,
	}
	for k, v := range out.Meta {
		meta[k] = v
	}
	if out.Credit != nil {
		meta["credited"] = out.Credit.Amount
	}
	if rbac.IsFinancialOperation(out.Permission) {
		meta["financial"] = true
		meta["permission"] = out.Permission
		s.log.Info("financial operation committed",
			zap.String("contract_id", c.ID.String()),
			zap.String("action", out.Action),
			zap.String("permission", out.Permission),
			zap.Int64("total_price", c.TotalPrice),
		)
	}
	if err := s.audit.Log(ctx, models.AuditLog{
		ActorUserID: a.UserID(),
		ActorType:   a.Type(),
		Action:      out.Action,
		EntityType:  "contract",
		EntityID:    &c.ID,
		Meta:        meta,
	}); err != nil {
		s.log.Warn("audit log failed", zap.String("contract_id", c.ID.String()), zap.String("action", out.Action), zap.Error(err))
	}

	if err := s.publisher.Publish(ctx, events.StreamContracts, events.Event{
		Type: events.EventContractChanged,
		Payload: map[string]any{
			"contract_id":   c.ID.String(),
			"action":        out.Action,
			"status":        string(c.Status),
			"escrow_status": string(c.EscrowStatus),
		},
	}); err != nil {
		s.log.Warn("publish contract event failed", zap.String("contract_id", c.ID.String()), zap.Error(err))
	}

	s.notifier.Dispatch(ctx, out.Effects)
}

type CreateContractInput struct {
	JobID           uuid.UUID
	WorkerID        uuid.UUID
	Price           int64
	AllocatedAmount *int64
	StartDate       time.Time
	EndDate         time.Time
}

// CreateContract offers a contract to a worker directly, outside auto-select.
// The client's own commission rate applies, so an active referral discount
// carries through.
func (s *ContractService) CreateContract(ctx context.Context, clientID uuid.UUID, in CreateContractInput) (*models.Contract, error) {
	job, err := s.jobs.GetByID(ctx, in.JobID)
	if err != nil {
		return nil, err
	}
	if job.ClientID != clientID {
		return nil, apperr.Validation("create_contract", "job %s belongs to another client", job.ID)
	}
	client, err := s.users.GetByID(ctx, clientID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	c, err := lifecycle.NewContract(lifecycle.NewContractParams{
		JobID:           job.ID,
		ClientID:        clientID,
		WorkerID:        in.WorkerID,
		Price:           in.Price,
		CommissionRate:  client.CommissionRate,
		AllocatedAmount: in.AllocatedAmount,
		StartDate:       in.StartDate,
		EndDate:         in.EndDate,
	}, now)
	if err != nil {
		return nil, err
	}
	if err := s.contracts.Create(ctx, &c); err != nil {
		return nil, err
	}

	s.afterCommit(ctx, lifecycle.PartyActor(&c, clientID), &lifecycle.Outcome{
		Contract: c,
		Action:   "contract_created",
		Meta:     map[string]any{"price": c.Price, "commission": c.Commission, "total_price": c.TotalPrice},
		Effects: []lifecycle.Effect{{
			UserID:   c.WorkerID,
			Category: models.NotificationCategoryContract,
			Action:   "contract_offered",
			Title:    "New contract offer",
			Body:     "A client offered you a contract. Accept or decline it from your dashboard.",
			Email:    true,
			Payload:  map[string]any{"contract_id": c.ID.String()},
		}},
	})
	return &c, nil
}

func (s *ContractService) RespondToContract(ctx context.Context, id, userID uuid.UUID, accept bool) (*models.Contract, error) {
	code, err := lifecycle.GeneratePairingCode()
	if err != nil {
		return nil, err
	}
	out, err := s.apply(ctx, id, s.userActor(userID), func(c models.Contract, _ *models.ChangeRequest, a lifecycle.Actor, now time.Time) (lifecycle.Outcome, error) {
		return lifecycle.Respond(c, a, accept, code, now)
	})
	if err != nil {
		return nil, err
	}
	return &out.Contract, nil
}

// FundEscrow records the settlement provider's capture of the client's payment.
func (s *ContractService) FundEscrow(ctx context.Context, id, userID uuid.UUID, paymentReference string) (*models.Contract, error) {
	out, err := s.apply(ctx, id, s.userActor(userID), func(c models.Contract, _ *models.ChangeRequest, a lifecycle.Actor, now time.Time) (lifecycle.Outcome, error) {
		return lifecycle.FundEscrow(c, a, paymentReference, now)
	})
	if err != nil {
		return nil, err
	}
	return &out.Contract, nil
}

func (s *ContractService) ConfirmPairing(ctx context.Context, id, userID uuid.UUID, code string) (*models.Contract, error) {
	out, err := s.apply(ctx, id, s.userActor(userID), func(c models.Contract, _ *models.ChangeRequest, a lifecycle.Actor, now time.Time) (lifecycle.Outcome, error) {
		return lifecycle.ConfirmPairing(c, a, code, now)
	})
	if err != nil {
		return nil, err
	}
	return &out.Contract, nil
}

// RegeneratePairing issues a fresh code after the previous one expired. The
// new code is returned so the caller can show it to the requesting party.
func (s *ContractService) RegeneratePairing(ctx context.Context, id, userID uuid.UUID) (*models.Contract, string, error) {
	code, err := lifecycle.GeneratePairingCode()
	if err != nil {
		return nil, "", err
	}
	out, err := s.apply(ctx, id, s.userActor(userID), func(c models.Contract, _ *models.ChangeRequest, a lifecycle.Actor, now time.Time) (lifecycle.Outcome, error) {
		return lifecycle.RegeneratePairing(c, a, code, now)
	})
	if err != nil {
		return nil, "", err
	}
	return &out.Contract, code, nil
}

// PairingCode reveals the current code to a party of an accepted contract.
func (s *ContractService) PairingCode(ctx context.Context, id, userID uuid.UUID) (string, *time.Time, error) {
	c, err := s.GetContract(ctx, id, userID)
	if err != nil {
		return "", nil, err
	}
	if !c.IsParty(userID) {
		return "", nil, apperr.Validation("pairing_code", "only the parties may see the pairing code")
	}
	if c.Status != models.ContractStatusAccepted || c.PairingCode == "" {
		return "", nil, apperr.Conflict("pairing_code", "contract %s has no active pairing code", c.ID)
	}
	return c.PairingCode, c.PairingExpiry, nil
}

func (s *ContractService) MarkWorkDone(ctx context.Context, id, userID uuid.UUID) (*models.Contract, error) {
	out, err := s.apply(ctx, id, s.userActor(userID), func(c models.Contract, _ *models.ChangeRequest, a lifecycle.Actor, now time.Time) (lifecycle.Outcome, error) {
		return lifecycle.MarkWorkDone(c, a, now)
	})
	if err != nil {
		return nil, err
	}
	return &out.Contract, nil
}

func (s *ContractService) ConfirmCompletion(ctx context.Context, id, userID uuid.UUID) (*models.Contract, error) {
	out, err := s.apply(ctx, id, s.userActor(userID), func(c models.Contract, _ *models.ChangeRequest, a lifecycle.Actor, now time.Time) (lifecycle.Outcome, error) {
		return lifecycle.ConfirmCompletion(c, a, now)
	})
	if err != nil {
		return nil, err
	}
	return &out.Contract, nil
}

type ExtendInput struct {
	NewEndDate time.Time
	Reason     string
	Amount     *int64
}

func (s *ContractService) ExtendContract(ctx context.Context, id, userID uuid.UUID, in ExtendInput) (*models.Contract, error) {
	out, err := s.apply(ctx, id, s.userActor(userID), func(c models.Contract, _ *models.ChangeRequest, a lifecycle.Actor, now time.Time) (lifecycle.Outcome, error) {
		return lifecycle.Extend(c, a, lifecycle.ExtendParams{
			NewEndDate: in.NewEndDate,
			Reason:     in.Reason,
			Amount:     in.Amount,
		}, now)
	})
	if err != nil {
		return nil, err
	}
	return &out.Contract, nil
}

func (s *ContractService) ModifyPrice(ctx context.Context, id, userID uuid.UUID, newPrice int64, reason string) (*models.Contract, error) {
	out, err := s.apply(ctx, id, s.userActor(userID), func(c models.Contract, _ *models.ChangeRequest, a lifecycle.Actor, now time.Time) (lifecycle.Outcome, error) {
		return lifecycle.ModifyPrice(c, a, newPrice, reason, now)
	})
	if err != nil {
		return nil, err
	}
	return &out.Contract, nil
}

func (s *ContractService) CancelContract(ctx context.Context, id, userID uuid.UUID, reason string) (*models.Contract, error) {
	out, err := s.apply(ctx, id, s.userActor(userID), func(c models.Contract, pending *models.ChangeRequest, a lifecycle.Actor, now time.Time) (lifecycle.Outcome, error) {
		return lifecycle.Cancel(c, a, reason, pending != nil, now)
	})
	if err != nil {
		return nil, err
	}
	return &out.Contract, nil
}

func (s *ContractService) RaiseDispute(ctx context.Context, id, userID uuid.UUID, reason string) (*models.Contract, error) {
	out, err := s.apply(ctx, id, s.userActor(userID), func(c models.Contract, _ *models.ChangeRequest, a lifecycle.Actor, now time.Time) (lifecycle.Outcome, error) {
		return lifecycle.RaiseDispute(c, a, reason, now)
	})
	if err != nil {
		return nil, err
	}
	return &out.Contract, nil
}

// ResolveDispute is a support action. favourWorker releases escrow to the
// worker, otherwise the client is refunded.
func (s *ContractService) ResolveDispute(ctx context.Context, id, supportID uuid.UUID, resolution string, favourWorker bool) (*models.Contract, error) {
	if !s.cfg.IsSupport(supportID) {
		return nil, apperr.Validation("resolve_dispute", "user %s is not support staff", supportID)
	}
	resolve := func(*models.Contract) lifecycle.Actor { return lifecycle.SupportActor(supportID) }
	out, err := s.apply(ctx, id, resolve, func(c models.Contract, _ *models.ChangeRequest, a lifecycle.Actor, now time.Time) (lifecycle.Outcome, error) {
		return lifecycle.ResolveDispute(c, a, resolution, favourWorker, now)
	})
	if err != nil {
		return nil, err
	}
	return &out.Contract, nil
}

func (s *ContractService) SoftDelete(ctx context.Context, id, userID uuid.UUID) error {
	_, err := s.apply(ctx, id, s.userActor(userID), func(c models.Contract, _ *models.ChangeRequest, a lifecycle.Actor, now time.Time) (lifecycle.Outcome, error) {
		return lifecycle.SoftDelete(c, a, now)
	})
	return err
}

// AutoConfirm is the scheduler forcing completion after the confirmation window.
func (s *ContractService) AutoConfirm(ctx context.Context, id uuid.UUID) (*models.Contract, error) {
	out, err := s.apply(ctx, id, systemActor, func(c models.Contract, _ *models.ChangeRequest, _ lifecycle.Actor, now time.Time) (lifecycle.Outcome, error) {
		return lifecycle.AutoConfirm(c, now)
	})
	if err != nil {
		return nil, err
	}
	return &out.Contract, nil
}

// AutoStart moves a funded contract into progress at its scheduled start.
func (s *ContractService) AutoStart(ctx context.Context, id uuid.UUID) (*models.Contract, error) {
	out, err := s.apply(ctx, id, systemActor, func(c models.Contract, _ *models.ChangeRequest, a lifecycle.Actor, now time.Time) (lifecycle.Outcome, error) {
		if !lifecycle.DueAutoStart(&c, now) {
			return lifecycle.Outcome{}, apperr.Conflict("auto_start", "contract %s is not due to start", c.ID)
		}
		return lifecycle.ForceStart(c, a, now)
	})
	if err != nil {
		return nil, err
	}
	return &out.Contract, nil
}

// EscalateDispute files a support ticket for a dispute left unresolved too long.
func (s *ContractService) EscalateDispute(ctx context.Context, id uuid.UUID) (*models.Contract, error) {
	current, err := s.contracts.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	client, err := s.users.GetParty(ctx, current.ClientID)
	if err != nil {
		return nil, err
	}
	worker, err := s.users.GetParty(ctx, current.WorkerID)
	if err != nil {
		return nil, err
	}
	out, err := s.apply(ctx, id, systemActor, func(c models.Contract, _ *models.ChangeRequest, _ lifecycle.Actor, now time.Time) (lifecycle.Outcome, error) {
		return lifecycle.EscalateDispute(c, client, worker, now)
	})
	if err != nil {
		return nil, err
	}
	return &out.Contract, nil
}

// GetContract returns a contract visible to one of its parties or to support.
func (s *ContractService) GetContract(ctx context.Context, id, userID uuid.UUID) (*models.Contract, error) {
	c, err := s.contracts.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !c.IsParty(userID) && !s.cfg.IsSupport(userID) {
		return nil, apperr.NotFound("get_contract", "contract %s not found", id)
	}
	if c.IsDeleted && !s.cfg.IsSupport(userID) {
		return nil, apperr.NotFound("get_contract", "contract %s not found", id)
	}
	return c, nil
}

func (s *ContractService) ListContracts(ctx context.Context, userID uuid.UUID, status *models.ContractStatus, limit, offset int) ([]models.Contract, error) {
	return s.contracts.List(ctx, repositories.ContractFilter{
		UserID: &userID,
		Status: status,
		Limit:  limit,
		Offset: offset,
	})
}

func (s *ContractService) ListBalanceTransactions(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.BalanceTransaction, error) {
	return s.balances.ListByUser(ctx, userID, limit, offset)
}
