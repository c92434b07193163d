package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/gigmarket/backend/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type ChangeRequestRepo struct {
	pool *pgxpool.Pool
}

func NewChangeRequestRepo(pool *pgxpool.Pool) *ChangeRequestRepo {
	return &ChangeRequestRepo{pool: pool}
}

const changeRequestColumns = `
	id, contract_id, requested_by, type, reason, new_price, new_start_date, new_end_date,
	status, responded_by, responded_at, support_ticket_id, escalated_at, created_at`

func scanChangeRequest(row pgx.Row) (*models.ChangeRequest, error) {
	var cr models.ChangeRequest
	err := row.Scan(&cr.ID, &cr.ContractID, &cr.RequestedBy, &cr.Type, &cr.Reason,
		&cr.Terms.NewPrice, &cr.Terms.NewStartDate, &cr.Terms.NewEndDate,
		&cr.Status, &cr.RespondedBy, &cr.RespondedAt, &cr.SupportTicketID, &cr.EscalatedAt, &cr.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &cr, nil
}

func lockPendingChange(ctx context.Context, tx pgx.Tx, contractID uuid.UUID) (*models.ChangeRequest, error) {
	cr, err := scanChangeRequest(tx.QueryRow(ctx, `
		SELECT `+changeRequestColumns+` FROM change_requests
		WHERE contract_id = $1 AND status = $2
		FOR UPDATE
	`, contractID, models.ChangeRequestPending))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return cr, err
}

func upsertChangeRequest(ctx context.Context, q dbtx, cr *models.ChangeRequest) error {
	_, err := q.Exec(ctx, `
		INSERT INTO change_requests (
			id, contract_id, requested_by, type, reason, new_price, new_start_date, new_end_date,
			status, responded_by, responded_at, support_ticket_id, escalated_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			responded_by = EXCLUDED.responded_by,
			responded_at = EXCLUDED.responded_at,
			support_ticket_id = EXCLUDED.support_ticket_id,
			escalated_at = EXCLUDED.escalated_at
	`, cr.ID, cr.ContractID, cr.RequestedBy, cr.Type, cr.Reason,
		cr.Terms.NewPrice, cr.Terms.NewStartDate, cr.Terms.NewEndDate,
		cr.Status, cr.RespondedBy, cr.RespondedAt, cr.SupportTicketID, cr.EscalatedAt, cr.CreatedAt)
	return err
}

func (r *ChangeRequestRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.ChangeRequest, error) {
	cr, err := scanChangeRequest(r.pool.QueryRow(ctx, `SELECT `+changeRequestColumns+` FROM change_requests WHERE id = $1`, id))
	if err != nil {
		return nil, translate("get change request "+id.String(), err)
	}
	return cr, nil
}

func (r *ChangeRequestRepo) ListByContract(ctx context.Context, contractID uuid.UUID) ([]models.ChangeRequest, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+changeRequestColumns+` FROM change_requests
		WHERE contract_id = $1 ORDER BY created_at DESC
	`, contractID)
	if err != nil {
		return nil, err
	}
	return collectChangeRequests(rows)
}

// ListPendingBefore returns requests still pending that were created before cutoff.
func (r *ChangeRequestRepo) ListPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.ChangeRequest, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+changeRequestColumns+` FROM change_requests
		WHERE status = $1 AND created_at < $2 AND support_ticket_id IS NULL
		ORDER BY created_at LIMIT $3
	`, models.ChangeRequestPending, cutoff, limit)
	if err != nil {
		return nil, err
	}
	return collectChangeRequests(rows)
}

func collectChangeRequests(rows pgx.Rows) ([]models.ChangeRequest, error) {
	defer rows.Close()
	var out []models.ChangeRequest
	for rows.Next() {
		cr, err := scanChangeRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *cr)
	}
	return out, rows.Err()
}
