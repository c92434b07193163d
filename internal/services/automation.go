package services

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/gigmarket/backend/internal/apperr"
	"github.com/gigmarket/backend/internal/config"
	"github.com/gigmarket/backend/internal/lifecycle"
	"github.com/gigmarket/backend/internal/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type SweepContractStore interface {
	ListAwaitingConfirmation(ctx context.Context, cutoff time.Time, limit int) ([]models.Contract, error)
	ListDueStart(ctx context.Context, now time.Time, limit int) ([]models.Contract, error)
	ListStaleDisputes(ctx context.Context, cutoff time.Time, limit int) ([]models.Contract, error)
	ListByJob(ctx context.Context, jobID uuid.UUID) ([]models.Contract, error)
}

type SweepChangeStore interface {
	ListPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.ChangeRequest, error)
}

type JobStore interface {
	ListOpenStartingBefore(ctx context.Context, now, until time.Time, limit int) ([]models.Job, error)
	ListExpiredUnfilled(ctx context.Context, now time.Time, limit int) ([]models.Job, error)
	ListStaffedStartingBefore(ctx context.Context, now, until time.Time, limit int) ([]models.Job, error)
	ListFlexibleCandidates(ctx context.Context, until time.Time, limit int) ([]models.Job, error)
	UpdateState(ctx context.Context, j *models.Job, expected models.JobStatus) error
	ApplySelection(ctx context.Context, jobID uuid.UUID, approve, reject []uuid.UUID, contracts []models.Contract, now time.Time) error
}

type ProposalStore interface {
	ListPendingByJob(ctx context.Context, jobID uuid.UUID) ([]models.Proposal, error)
	CountByJob(ctx context.Context, jobID uuid.UUID) (int, error)
}

type DiscountStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	ListDiscountExpired(ctx context.Context, now time.Time, standardRate float64, limit int) ([]models.User, error)
	ResetCommissionRate(ctx context.Context, id uuid.UUID, standardRate float64, now time.Time) (bool, error)
}

// SweepReport summarizes one run. Processed counts candidates loaded;
// Skipped counts those no longer eligible when handled.
type SweepReport struct {
	Name      string
	Processed int
	Succeeded int
	Failed    int
	Skipped   int
	Duration  time.Duration
}

// Sweep is one scheduled automation with its cron spec.
type Sweep struct {
	Name     string
	Schedule string
	Run      func(ctx context.Context) (SweepReport, error)
}

type AutomationService struct {
	contracts SweepContractStore
	changes   SweepChangeStore
	jobs      JobStore
	proposals ProposalStore
	users     DiscountStore
	contract  *ContractService
	change    *ChangeService
	audit     AuditLogger
	notifier  Notifier
	cfg       *config.Config
	log       *zap.Logger
	now       func() time.Time
}

func NewAutomationService(
	contracts SweepContractStore,
	changes SweepChangeStore,
	jobs JobStore,
	proposals ProposalStore,
	users DiscountStore,
	contract *ContractService,
	change *ChangeService,
	audit AuditLogger,
	notifier Notifier,
	cfg *config.Config,
	log *zap.Logger,
) *AutomationService {
	return &AutomationService{
		contracts: contracts,
		changes:   changes,
		jobs:      jobs,
		proposals: proposals,
		users:     users,
		contract:  contract,
		change:    change,
		audit:     audit,
		notifier:  notifier,
		cfg:       cfg,
		log:       log,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Sweeps lists every automation with the cadence configured for it.
func (s *AutomationService) Sweeps() []Sweep {
	return []Sweep{
		{Name: "auto_select", Schedule: s.cfg.AutoSelectSchedule, Run: s.AutoSelectWorkers},
		{Name: "auto_cancel", Schedule: s.cfg.AutoCancelSchedule, Run: s.AutoCancelExpiredJobs},
		{Name: "reminders", Schedule: s.cfg.ReminderSchedule, Run: s.SendReminders},
		{Name: "flexible_end", Schedule: s.cfg.FlexibleEndSchedule, Run: s.HandleFlexibleEnds},
		{Name: "auto_confirm", Schedule: s.cfg.AutoConfirmSchedule, Run: s.AutoConfirmCompletions},
		{Name: "auto_start", Schedule: s.cfg.AutoStartSchedule, Run: s.AutoStartContracts},
		{Name: "change_escalation", Schedule: s.cfg.ChangeEscalationSchedule, Run: s.EscalateChangeRequests},
		{Name: "dispute_escalation", Schedule: s.cfg.DisputeEscalationSchedule, Run: s.EscalateDisputes},
		{Name: "discount_reset", Schedule: s.cfg.DiscountResetSchedule, Run: s.ResetExpiredDiscounts},
	}
}

// forEach handles items with bounded concurrency. A failing item never stops
// the others. A conflict means another actor got there first and counts as
// skipped.
func forEach[T any](ctx context.Context, s *AutomationService, name string, items []T, key func(T) uuid.UUID, fn func(context.Context, T) (bool, error)) SweepReport {
	start := time.Now()
	var succeeded, failed, skipped atomic.Int64

	var g errgroup.Group
	g.SetLimit(max(s.cfg.WorkerConcurrency, 1))
	for _, item := range items {
		g.Go(func() error {
			done, err := fn(ctx, item)
			switch {
			case err != nil && errors.Is(err, apperr.ErrConflict):
				skipped.Add(1)
				s.log.Debug("sweep item raced", zap.String("sweep", name), zap.String("id", key(item).String()), zap.Error(err))
			case err != nil:
				failed.Add(1)
				s.log.Error("sweep item failed", zap.String("sweep", name), zap.String("id", key(item).String()), zap.Error(err))
			case !done:
				skipped.Add(1)
			default:
				succeeded.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	return SweepReport{
		Name:      name,
		Processed: len(items),
		Succeeded: int(succeeded.Load()),
		Failed:    int(failed.Load()),
		Skipped:   int(skipped.Load()),
		Duration:  time.Since(start),
	}
}

func jobKey(j models.Job) uuid.UUID           { return j.ID }
func contractKey(c models.Contract) uuid.UUID { return c.ID }

func jobEffect(userID uuid.UUID, job *models.Job, action, title, body string, email bool) lifecycle.Effect {
	return lifecycle.Effect{
		UserID:   userID,
		Category: models.NotificationCategoryJob,
		Action:   action,
		Title:    title,
		Body:     body,
		Email:    email,
		Payload:  map[string]any{"job_id": job.ID.String(), "status": string(job.Status)},
	}
}

func (s *AutomationService) auditJob(ctx context.Context, job *models.Job, action string, meta map[string]any) {
	if err := s.audit.Log(ctx, models.AuditLog{
		ActorType:  models.ActorSystem,
		Action:     action,
		EntityType: "job",
		EntityID:   &job.ID,
		Meta:       meta,
	}); err != nil {
		s.log.Warn("audit log failed", zap.String("job_id", job.ID.String()), zap.String("action", action), zap.Error(err))
	}
}

// AutoSelectWorkers fills open jobs that start within the selection window
// from their earliest pending proposals.
func (s *AutomationService) AutoSelectWorkers(ctx context.Context) (SweepReport, error) {
	now := s.now()
	jobs, err := s.jobs.ListOpenStartingBefore(ctx, now, now.Add(lifecycle.AutoSelectWindow), s.cfg.SweepBatchSize)
	if err != nil {
		return SweepReport{Name: "auto_select"}, fmt.Errorf("load auto-select candidates: %w", err)
	}
	return forEach(ctx, s, "auto_select", jobs, jobKey, func(ctx context.Context, job models.Job) (bool, error) {
		return s.selectWorkers(ctx, job, now)
	}), nil
}

func (s *AutomationService) selectWorkers(ctx context.Context, job models.Job, now time.Time) (bool, error) {
	// open-ended jobs are handled by the flexible-end sweep until they get an end date
	if !lifecycle.DueAutoSelect(&job, now) || job.EndAt == nil {
		return false, nil
	}
	proposals, err := s.proposals.ListPendingByJob(ctx, job.ID)
	if err != nil {
		return false, err
	}
	sel := lifecycle.PlanSelection(&job, proposals)
	if len(sel.Approve) == 0 {
		return false, nil
	}
	client, err := s.users.GetByID(ctx, job.ClientID)
	if err != nil {
		return false, err
	}

	contracts := make([]models.Contract, 0, len(sel.Approve))
	approve := make([]uuid.UUID, 0, len(sel.Approve))
	for _, p := range sel.Approve {
		c, err := lifecycle.NewContract(lifecycle.SelectionParams(&job, p, client.CommissionRate), now)
		if err != nil {
			return false, fmt.Errorf("proposal %s: %w", p.ID, err)
		}
		contracts = append(contracts, c)
		approve = append(approve, p.ID)
	}
	reject := make([]uuid.UUID, 0, len(sel.Reject))
	for _, p := range sel.Reject {
		reject = append(reject, p.ID)
	}

	if err := s.jobs.ApplySelection(ctx, job.ID, approve, reject, contracts, now); err != nil {
		return false, err
	}

	effects := make([]lifecycle.Effect, 0, len(contracts)+len(sel.Reject)+1)
	for _, c := range contracts {
		e := jobEffect(c.WorkerID, &job, "proposal_selected", "You were selected",
			fmt.Sprintf("You were selected for %q. Accept the contract to confirm.", job.Title), true)
		e.Payload["contract_id"] = c.ID.String()
		effects = append(effects, e)
	}
	for _, p := range sel.Reject {
		effects = append(effects, jobEffect(p.WorkerID, &job, "proposal_declined", "Proposal not selected",
			fmt.Sprintf("Another worker was selected for %q.", job.Title), false))
	}
	effects = append(effects, jobEffect(job.ClientID, &job, "workers_selected", "Workers selected",
		fmt.Sprintf("%d worker(s) were selected for %q.", len(contracts), job.Title), true))
	s.notifier.Dispatch(ctx, effects)

	s.auditJob(ctx, &job, "job_auto_selected", map[string]any{"approved": len(approve), "rejected": len(reject)})
	return true, nil
}

// AutoCancelExpiredJobs cancels open or paused jobs whose end passed with no
// worker selected.
func (s *AutomationService) AutoCancelExpiredJobs(ctx context.Context) (SweepReport, error) {
	now := s.now()
	jobs, err := s.jobs.ListExpiredUnfilled(ctx, now, s.cfg.SweepBatchSize)
	if err != nil {
		return SweepReport{Name: "auto_cancel"}, fmt.Errorf("load expired jobs: %w", err)
	}
	return forEach(ctx, s, "auto_cancel", jobs, jobKey, func(ctx context.Context, job models.Job) (bool, error) {
		if !lifecycle.DueAutoCancel(&job, now) {
			return false, nil
		}
		n, err := s.proposals.CountByJob(ctx, job.ID)
		if err != nil {
			return false, err
		}
		reason := lifecycle.AutoCancelReason(n)
		updated := lifecycle.CancelJob(job, reason, now)
		if err := s.jobs.UpdateState(ctx, &updated, job.Status); err != nil {
			return false, err
		}
		s.notifier.Dispatch(ctx, []lifecycle.Effect{
			jobEffect(job.ClientID, &updated, "job_auto_cancelled", "Job cancelled", reason, true),
		})
		s.auditJob(ctx, &updated, "job_auto_cancelled", map[string]any{"proposals": n})
		return true, nil
	}), nil
}

// SendReminders sends at most one start reminder per job per run. The flags
// are written before sending so a crash never produces a duplicate.
func (s *AutomationService) SendReminders(ctx context.Context) (SweepReport, error) {
	now := s.now()
	lead := models.ReminderThresholds[0].Lead()
	jobs, err := s.jobs.ListStaffedStartingBefore(ctx, now, now.Add(lead), s.cfg.SweepBatchSize)
	if err != nil {
		return SweepReport{Name: "reminders"}, fmt.Errorf("load reminder candidates: %w", err)
	}
	return forEach(ctx, s, "reminders", jobs, jobKey, func(ctx context.Context, job models.Job) (bool, error) {
		plan := lifecycle.DueReminders(&job, now)
		if plan.Send == nil {
			return false, nil
		}
		updated := lifecycle.MarkReminders(job, plan.Mark, now)
		if err := s.jobs.UpdateState(ctx, &updated, job.Status); err != nil {
			return false, err
		}
		contracts, err := s.contracts.ListByJob(ctx, job.ID)
		if err != nil {
			return false, err
		}

		threshold := *plan.Send
		title := fmt.Sprintf("%q starts in %s", job.Title, threshold)
		body := fmt.Sprintf("Reminder: %q starts at %s.", job.Title, job.StartAt.Format(time.RFC1123))
		effects := []lifecycle.Effect{jobEffect(job.ClientID, &updated, "job_reminder", title, body, true)}
		for _, c := range contracts {
			effects = append(effects, jobEffect(c.WorkerID, &updated, "job_reminder", title, body, true))
		}
		for i := range effects {
			effects[i].Payload["threshold"] = string(threshold)
		}
		s.notifier.Dispatch(ctx, effects)
		return true, nil
	}), nil
}

// HandleFlexibleEnds suspends open-ended jobs close to their start and
// reopens suspended jobs once an end date was set.
func (s *AutomationService) HandleFlexibleEnds(ctx context.Context) (SweepReport, error) {
	now := s.now()
	jobs, err := s.jobs.ListFlexibleCandidates(ctx, now.Add(lifecycle.FlexibleSuspendWindow), s.cfg.SweepBatchSize)
	if err != nil {
		return SweepReport{Name: "flexible_end"}, fmt.Errorf("load flexible jobs: %w", err)
	}
	return forEach(ctx, s, "flexible_end", jobs, jobKey, func(ctx context.Context, job models.Job) (bool, error) {
		action := lifecycle.FlexibleAction(&job, now)
		if action == lifecycle.FlexNone {
			return false, nil
		}
		updated := lifecycle.ApplyFlexible(job, action, now)
		if err := s.jobs.UpdateState(ctx, &updated, job.Status); err != nil {
			return false, err
		}

		var e lifecycle.Effect
		if action == lifecycle.FlexSuspend {
			e = jobEffect(job.ClientID, &updated, "job_suspended", "Add an end date",
				fmt.Sprintf("%q starts soon but has no end date. It is paused until you set one.", job.Title), true)
		} else {
			e = jobEffect(job.ClientID, &updated, "job_reactivated", "Job reopened",
				fmt.Sprintf("%q has an end date again and is open for proposals.", job.Title), false)
		}
		s.notifier.Dispatch(ctx, []lifecycle.Effect{e})
		s.auditJob(ctx, &updated, e.Action, nil)
		return true, nil
	}), nil
}

// AutoConfirmCompletions completes contracts left waiting for a confirmation
// longer than the auto-confirm window.
func (s *AutomationService) AutoConfirmCompletions(ctx context.Context) (SweepReport, error) {
	now := s.now()
	contracts, err := s.contracts.ListAwaitingConfirmation(ctx, now.Add(-lifecycle.AutoConfirmAfter), s.cfg.SweepBatchSize)
	if err != nil {
		return SweepReport{Name: "auto_confirm"}, fmt.Errorf("load awaiting contracts: %w", err)
	}
	return forEach(ctx, s, "auto_confirm", contracts, contractKey, func(ctx context.Context, c models.Contract) (bool, error) {
		if !lifecycle.DueAutoConfirm(&c, now) {
			return false, nil
		}
		_, err := s.contract.AutoConfirm(ctx, c.ID)
		return err == nil, err
	}), nil
}

func (s *AutomationService) AutoStartContracts(ctx context.Context) (SweepReport, error) {
	now := s.now()
	contracts, err := s.contracts.ListDueStart(ctx, now, s.cfg.SweepBatchSize)
	if err != nil {
		return SweepReport{Name: "auto_start"}, fmt.Errorf("load due contracts: %w", err)
	}
	return forEach(ctx, s, "auto_start", contracts, contractKey, func(ctx context.Context, c models.Contract) (bool, error) {
		if !lifecycle.DueAutoStart(&c, now) {
			return false, nil
		}
		_, err := s.contract.AutoStart(ctx, c.ID)
		return err == nil, err
	}), nil
}

func (s *AutomationService) EscalateChangeRequests(ctx context.Context) (SweepReport, error) {
	now := s.now()
	requests, err := s.changes.ListPendingBefore(ctx, now.Add(-lifecycle.ChangeEscalationAfter), s.cfg.SweepBatchSize)
	if err != nil {
		return SweepReport{Name: "change_escalation"}, fmt.Errorf("load stale change requests: %w", err)
	}
	key := func(cr models.ChangeRequest) uuid.UUID { return cr.ID }
	return forEach(ctx, s, "change_escalation", requests, key, func(ctx context.Context, cr models.ChangeRequest) (bool, error) {
		if !lifecycle.DueChangeEscalation(&cr, now) {
			return false, nil
		}
		_, err := s.change.EscalateChange(ctx, cr.ID)
		return err == nil, err
	}), nil
}

func (s *AutomationService) EscalateDisputes(ctx context.Context) (SweepReport, error) {
	now := s.now()
	contracts, err := s.contracts.ListStaleDisputes(ctx, now.Add(-lifecycle.DisputeEscalationAfter), s.cfg.SweepBatchSize)
	if err != nil {
		return SweepReport{Name: "dispute_escalation"}, fmt.Errorf("load stale disputes: %w", err)
	}
	return forEach(ctx, s, "dispute_escalation", contracts, contractKey, func(ctx context.Context, c models.Contract) (bool, error) {
		if !lifecycle.DueDisputeEscalation(&c, now) {
			return false, nil
		}
		_, err := s.contract.EscalateDispute(ctx, c.ID)
		return err == nil, err
	}), nil
}

// ResetExpiredDiscounts returns base-tier users whose referral discount ran
// out to the standard commission rate.
func (s *AutomationService) ResetExpiredDiscounts(ctx context.Context) (SweepReport, error) {
	now := s.now()
	rate := s.cfg.StandardCommissionRate
	users, err := s.users.ListDiscountExpired(ctx, now, rate, s.cfg.SweepBatchSize)
	if err != nil {
		return SweepReport{Name: "discount_reset"}, fmt.Errorf("load expired discounts: %w", err)
	}
	key := func(u models.User) uuid.UUID { return u.ID }
	return forEach(ctx, s, "discount_reset", users, key, func(ctx context.Context, u models.User) (bool, error) {
		if !lifecycle.DueDiscountReset(&u, rate, now) {
			return false, nil
		}
		changed, err := s.users.ResetCommissionRate(ctx, u.ID, rate, now)
		if err != nil || !changed {
			return false, err
		}
		s.notifier.Dispatch(ctx, []lifecycle.Effect{{
			UserID:   u.ID,
			Category: models.NotificationCategoryPayment,
			Action:   "commission_rate_reset",
			Title:    "Your referral discount ended",
			Body:     fmt.Sprintf("Your commission rate is back to the standard %.2f%%.", rate),
			Email:    true,
			Payload:  map[string]any{"previous_rate": u.CommissionRate, "rate": rate},
		}})
		if err := s.audit.Log(ctx, models.AuditLog{
			ActorType:  models.ActorSystem,
			Action:     "commission_rate_reset",
			EntityType: "user",
			EntityID:   &u.ID,
			Meta:       map[string]any{"previous_rate": u.CommissionRate, "rate": rate},
		}); err != nil {
			s.log.Warn("audit log failed", zap.String("user_id", u.ID.String()), zap.Error(err))
		}
		return true, nil
	}), nil
}
