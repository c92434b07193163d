package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/gigmarket/backend/internal/apperr"
	"github.com/gigmarket/backend/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type JobRepo struct {
	pool *pgxpool.Pool
}

func NewJobRepo(pool *pgxpool.Pool) *JobRepo {
	return &JobRepo{pool: pool}
}

const jobColumns = `
	id, client_id, title, status, start_at, end_at, flexible_end, workers_needed, selected_count, budget,
	reminder_12h_sent, reminder_6h_sent, reminder_2h_sent, cancel_reason, created_at, updated_at`

func scanJob(row pgx.Row) (*models.Job, error) {
	var j models.Job
	err := row.Scan(&j.ID, &j.ClientID, &j.Title, &j.Status, &j.StartAt, &j.EndAt, &j.FlexibleEnd,
		&j.WorkersNeeded, &j.SelectedCount, &j.Budget,
		&j.Reminder12hSent, &j.Reminder6hSent, &j.Reminder2hSent, &j.CancelReason, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &j, nil
}

func (r *JobRepo) queryJobs(ctx context.Context, sql string, args ...any) ([]models.Job, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []models.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *j)
	}
	return jobs, rows.Err()
}

func (r *JobRepo) Create(ctx context.Context, j *models.Job) error {
	if j.ID == uuid.Nil {
		j.ID = uuid.New()
	}
	if j.Status == "" {
		j.Status = models.JobStatusOpen
	}
	err := r.pool.QueryRow(ctx, `
		INSERT INTO jobs (id, client_id, title, status, start_at, end_at, flexible_end, workers_needed, budget)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at
	`, j.ID, j.ClientID, j.Title, j.Status, j.StartAt, j.EndAt, j.FlexibleEnd, j.WorkersNeeded, j.Budget,
	).Scan(&j.CreatedAt, &j.UpdatedAt)
	return translate("create job", err)
}

func (r *JobRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	j, err := scanJob(r.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id))
	if err != nil {
		return nil, translate("get job "+id.String(), err)
	}
	return j, nil
}

// ListOpenStartingBefore returns open jobs with free seats starting in [now, until].
func (r *JobRepo) ListOpenStartingBefore(ctx context.Context, now, until time.Time, limit int) ([]models.Job, error) {
	return r.queryJobs(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE status = $1 AND start_at >= $2 AND start_at <= $3 AND selected_count < GREATEST(workers_needed, 1)
		ORDER BY start_at LIMIT $4
	`, models.JobStatusOpen, now, until, limit)
}

// ListExpiredUnfilled returns open or paused jobs past their end with nobody selected.
func (r *JobRepo) ListExpiredUnfilled(ctx context.Context, now time.Time, limit int) ([]models.Job, error) {
	return r.queryJobs(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE status IN ($1, $2) AND end_at < $3 AND selected_count = 0
		ORDER BY end_at LIMIT $4
	`, models.JobStatusOpen, models.JobStatusPaused, now, limit)
}

// ListStaffedStartingBefore returns open or assigned jobs with at least one
// selected worker, starting in (now, until], with a reminder flag unset.
func (r *JobRepo) ListStaffedStartingBefore(ctx context.Context, now, until time.Time, limit int) ([]models.Job, error) {
	return r.queryJobs(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE status IN ($1, $2) AND selected_count > 0
		  AND start_at > $3 AND start_at <= $4
		  AND NOT (reminder_12h_sent AND reminder_6h_sent AND reminder_2h_sent)
		ORDER BY start_at LIMIT $5
	`, models.JobStatusOpen, models.JobStatusAssigned, now, until, limit)
}

// ListFlexibleCandidates returns open-ended jobs near their start and
// suspended jobs that may have gained an end date.
func (r *JobRepo) ListFlexibleCandidates(ctx context.Context, until time.Time, limit int) ([]models.Job, error) {
	return r.queryJobs(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE (status = $1 AND flexible_end AND end_at IS NULL AND start_at <= $2)
		   OR (status = $3 AND end_at IS NOT NULL)
		ORDER BY start_at LIMIT $4
	`, models.JobStatusOpen, until, models.JobStatusSuspended, limit)
}

// UpdateState writes the automation-owned fields, guarded by the status the
// caller observed.
func (r *JobRepo) UpdateState(ctx context.Context, j *models.Job, expected models.JobStatus) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE jobs SET status = $1, cancel_reason = $2,
			reminder_12h_sent = $3, reminder_6h_sent = $4, reminder_2h_sent = $5, updated_at = $6
		WHERE id = $7 AND status = $8
	`, j.Status, j.CancelReason, j.Reminder12hSent, j.Reminder6hSent, j.Reminder2hSent, j.UpdatedAt, j.ID, expected)
	if err != nil {
		return fmt.Errorf("update job %s: %w", j.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.Conflict("update job", "job %s is no longer %s", j.ID, expected)
	}
	return nil
}

// ApplySelection approves and rejects proposals, creates the contracts and
// bumps the job's selected count in one transaction. The job row is locked so
// two selection runs cannot overfill it.
func (r *JobRepo) ApplySelection(ctx context.Context, jobID uuid.UUID, approve, reject []uuid.UUID, contracts []models.Contract, now time.Time) error {
	op := "apply selection for job " + jobID.String()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%s: begin tx: %w", op, err)
	}
	defer tx.Rollback(ctx)

	j, err := scanJob(tx.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1 FOR UPDATE`, jobID))
	if err != nil {
		return translate(op, err)
	}
	if j.Status != models.JobStatusOpen {
		return apperr.Conflict(op, "job is %s", j.Status)
	}
	if len(contracts) > j.RemainingCapacity() {
		return apperr.Conflict(op, "%d contracts exceed remaining capacity %d", len(contracts), j.RemainingCapacity())
	}

	for _, id := range approve {
		if err := setProposalStatus(ctx, tx, id, models.ProposalStatusApproved); err != nil {
			return translate(op, err)
		}
	}
	for _, id := range reject {
		if err := setProposalStatus(ctx, tx, id, models.ProposalStatusRejected); err != nil {
			return translate(op, err)
		}
	}
	for i := range contracts {
		if err := insertContract(ctx, tx, &contracts[i]); err != nil {
			return translate(op, err)
		}
	}

	selected := j.SelectedCount + len(contracts)
	status := j.Status
	if selected >= max(j.WorkersNeeded, 1) {
		status = models.JobStatusAssigned
	}
	if _, err := tx.Exec(ctx, `UPDATE jobs SET selected_count = $1, status = $2, updated_at = $3 WHERE id = $4`,
		selected, status, now, jobID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%s: commit: %w", op, err)
	}
	return nil
}
