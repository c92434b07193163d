package lifecycle

import (
	"sort"
	"time"

	"github.com/gigmarket/backend/internal/models"
	"github.com/google/uuid"
)

// Due predicates for the scheduled sweeps. They only look at the snapshot and
// the supplied clock.

func DueAutoConfirm(c *models.Contract, now time.Time) bool {
	if c.IsDeleted || c.Status != models.ContractStatusAwaitingConfirmation || c.AwaitingConfirmationAt == nil {
		return false
	}
	return !c.BothConfirmed() && now.After(c.AwaitingConfirmationAt.Add(AutoConfirmAfter))
}

func DueAutoStart(c *models.Contract, now time.Time) bool {
	return !c.IsDeleted &&
		c.Status == models.ContractStatusAccepted &&
		c.IsInEscrow() &&
		!now.Before(c.StartDate)
}

func DueChangeEscalation(cr *models.ChangeRequest, now time.Time) bool {
	return cr.IsPending() && cr.SupportTicketID == nil && now.After(cr.CreatedAt.Add(ChangeEscalationAfter))
}

func DueDisputeEscalation(c *models.Contract, now time.Time) bool {
	if c.Status != models.ContractStatusDisputed || c.DisputeResolution != nil || c.DisputeTicketID != nil {
		return false
	}
	return c.DisputedAt != nil && now.After(c.DisputedAt.Add(DisputeEscalationAfter))
}

// DueAutoSelect reports whether an open job starting within the selection
// window still has seats to fill.
func DueAutoSelect(j *models.Job, now time.Time) bool {
	if j.Status != models.JobStatusOpen || j.RemainingCapacity() == 0 {
		return false
	}
	return !now.After(j.StartAt) && j.StartAt.Sub(now) <= AutoSelectWindow
}

type Selection struct {
	Approve []models.Proposal
	Reject  []models.Proposal
}

// PlanSelection approves the earliest pending proposals up to the job's
// remaining capacity and rejects the rest. One worker is never selected twice.
func PlanSelection(j *models.Job, proposals []models.Proposal) Selection {
	pending := make([]models.Proposal, 0, len(proposals))
	for _, p := range proposals {
		if p.JobID == j.ID && p.Status == models.ProposalStatusPending {
			pending = append(pending, p)
		}
	}
	sort.SliceStable(pending, func(a, b int) bool {
		return pending[a].SubmittedAt.Before(pending[b].SubmittedAt)
	})

	var sel Selection
	seen := map[uuid.UUID]bool{}
	capacity := j.RemainingCapacity()
	for _, p := range pending {
		if len(sel.Approve) < capacity && !seen[p.WorkerID] && p.WorkerID != j.ClientID {
			seen[p.WorkerID] = true
			sel.Approve = append(sel.Approve, p)
			continue
		}
		sel.Reject = append(sel.Reject, p)
	}
	return sel
}

// SelectionParams turns an approved proposal into contract parameters. On a
// multi-worker job with a budget, each worker's credit is capped at an even
// share of that budget.
func SelectionParams(j *models.Job, p models.Proposal, commissionRate float64) NewContractParams {
	params := NewContractParams{
		JobID:          j.ID,
		ClientID:       j.ClientID,
		WorkerID:       p.WorkerID,
		Price:          p.Price,
		CommissionRate: commissionRate,
		StartDate:      j.StartAt,
	}
	if j.EndAt != nil {
		params.EndDate = *j.EndAt
	}
	if j.WorkersNeeded > 1 && j.Budget > 0 {
		share := min(j.Budget/int64(j.WorkersNeeded), p.Price)
		params.AllocatedAmount = &share
	}
	return params
}

func DueAutoCancel(j *models.Job, now time.Time) bool {
	if j.Status != models.JobStatusOpen && j.Status != models.JobStatusPaused {
		return false
	}
	return j.EndAt != nil && now.After(*j.EndAt) && j.SelectedCount == 0
}

const (
	AutoCancelNoApplicants = "Your job ended without receiving any proposals, so it was cancelled."
	AutoCancelUnselected   = "Your job ended before any worker was selected, so it was cancelled. Proposals received were not accepted in time."
)

// AutoCancelReason picks the message variant for an expired job.
func AutoCancelReason(proposalCount int) string {
	if proposalCount == 0 {
		return AutoCancelNoApplicants
	}
	return AutoCancelUnselected
}

// CancelJob marks an expired job cancelled.
func CancelJob(j models.Job, reason string, now time.Time) models.Job {
	j.Status = models.JobStatusCancelled
	j.CancelReason = strPtr(reason)
	j.UpdatedAt = now
	return j
}

type ReminderPlan struct {
	// Send is the reminder to deliver now, nil when nothing is due.
	Send *models.ReminderThreshold
	// Mark lists every threshold whose flag gets set, including ones skipped
	// because a later reminder superseded them.
	Mark []models.ReminderThreshold
}

// DueReminders returns at most one reminder per run: the nearest threshold
// already reached. Earlier thresholds that were missed are marked sent so a
// job never receives a stale 12h reminder two hours before start.
func DueReminders(j *models.Job, now time.Time) ReminderPlan {
	var plan ReminderPlan
	if !HasSelectedWorkers(j) || !now.Before(j.StartAt) {
		return plan
	}
	until := j.StartAt.Sub(now)
	for _, t := range models.ReminderThresholds {
		if j.ReminderSent(t) || until > t.Lead() {
			continue
		}
		plan.Mark = append(plan.Mark, t)
		plan.Send = &t
	}
	return plan
}

// HasSelectedWorkers reports whether a job that is still going ahead has at
// least one worker selected. A multi-worker job stays open until every seat
// is filled.
func HasSelectedWorkers(j *models.Job) bool {
	if j.SelectedCount == 0 {
		return false
	}
	return j.Status == models.JobStatusOpen || j.Status == models.JobStatusAssigned
}

// MarkReminders sets the sent flag for each threshold.
func MarkReminders(j models.Job, thresholds []models.ReminderThreshold, now time.Time) models.Job {
	for _, t := range thresholds {
		switch t {
		case models.Reminder12h:
			j.Reminder12hSent = true
		case models.Reminder6h:
			j.Reminder6hSent = true
		case models.Reminder2h:
			j.Reminder2hSent = true
		}
	}
	j.UpdatedAt = now
	return j
}

type FlexAction int

const (
	FlexNone FlexAction = iota
	FlexSuspend
	FlexReactivate
)

// FlexibleAction decides whether an open-ended job must be suspended because
// it nears its start without an end date, or reactivated once it has one.
func FlexibleAction(j *models.Job, now time.Time) FlexAction {
	switch j.Status {
	case models.JobStatusOpen:
		if j.FlexibleEnd && j.EndAt == nil && j.StartAt.Sub(now) <= FlexibleSuspendWindow {
			return FlexSuspend
		}
	case models.JobStatusSuspended:
		if j.EndAt != nil && j.EndAt.After(j.StartAt) {
			return FlexReactivate
		}
	}
	return FlexNone
}

// ApplyFlexible returns the job with the status the action calls for.
func ApplyFlexible(j models.Job, a FlexAction, now time.Time) models.Job {
	switch a {
	case FlexSuspend:
		j.Status = models.JobStatusSuspended
	case FlexReactivate:
		j.Status = models.JobStatusOpen
	default:
		return j
	}
	j.UpdatedAt = now
	return j
}

func DueDiscountReset(u *models.User, standardRate float64, now time.Time) bool {
	if u.DiscountExpiresAt == nil || now.Before(*u.DiscountExpiresAt) {
		return false
	}
	return u.Tier == models.UserTierBase && u.CommissionRate != standardRate
}
