package repositories

import (
	"context"

	"github.com/gigmarket/backend/internal/apperr"
	"github.com/gigmarket/backend/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type ProposalRepo struct {
	pool *pgxpool.Pool
}

func NewProposalRepo(pool *pgxpool.Pool) *ProposalRepo {
	return &ProposalRepo{pool: pool}
}

func (r *ProposalRepo) Create(ctx context.Context, p *models.Proposal) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.Status == "" {
		p.Status = models.ProposalStatusPending
	}
	err := r.pool.QueryRow(ctx, `
		INSERT INTO proposals (id, job_id, worker_id, price, message, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING submitted_at
	`, p.ID, p.JobID, p.WorkerID, p.Price, p.Message, p.Status).Scan(&p.SubmittedAt)
	return translate("create proposal", err)
}

// ListPendingByJob returns pending proposals, earliest first.
func (r *ProposalRepo) ListPendingByJob(ctx context.Context, jobID uuid.UUID) ([]models.Proposal, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, job_id, worker_id, price, message, status, submitted_at
		FROM proposals WHERE job_id = $1 AND status = $2
		ORDER BY submitted_at, id
	`, jobID, models.ProposalStatusPending)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var proposals []models.Proposal
	for rows.Next() {
		var p models.Proposal
		if err := rows.Scan(&p.ID, &p.JobID, &p.WorkerID, &p.Price, &p.Message, &p.Status, &p.SubmittedAt); err != nil {
			return nil, err
		}
		proposals = append(proposals, p)
	}
	return proposals, rows.Err()
}

func (r *ProposalRepo) CountByJob(ctx context.Context, jobID uuid.UUID) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `SELECT count(*) FROM proposals WHERE job_id = $1`, jobID).Scan(&n)
	return n, err
}

func setProposalStatus(ctx context.Context, q dbtx, id uuid.UUID, status models.ProposalStatus) error {
	tag, err := q.Exec(ctx, `UPDATE proposals SET status = $1 WHERE id = $2 AND status = $3`,
		status, id, models.ProposalStatusPending)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.Conflict("set proposal status", "proposal %s is no longer pending", id)
	}
	return nil
}
