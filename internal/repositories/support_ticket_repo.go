package repositories

import (
	"context"

	"github.com/gigmarket/backend/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type SupportTicketRepo struct {
	pool *pgxpool.Pool
}

func NewSupportTicketRepo(pool *pgxpool.Pool) *SupportTicketRepo {
	return &SupportTicketRepo{pool: pool}
}

func insertTicket(ctx context.Context, q dbtx, t *models.SupportTicket) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if t.Status == "" {
		t.Status = "open"
	}
	return q.QueryRow(ctx, `
		INSERT INTO support_tickets (id, subject, body, priority, contract_id, change_request_id, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`, t.ID, t.Subject, t.Body, t.Priority, t.ContractID, t.ChangeRequestID, t.Status).Scan(&t.CreatedAt)
}

// Create files a ticket outside of a contract transaction.
func (r *SupportTicketRepo) Create(ctx context.Context, t *models.SupportTicket) error {
	return translate("create support ticket", insertTicket(ctx, r.pool, t))
}

func (r *SupportTicketRepo) ListByContract(ctx context.Context, contractID uuid.UUID) ([]models.SupportTicket, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, subject, body, priority, contract_id, change_request_id, status, created_at
		FROM support_tickets WHERE contract_id = $1 ORDER BY created_at DESC
	`, contractID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tickets []models.SupportTicket
	for rows.Next() {
		var t models.SupportTicket
		if err := rows.Scan(&t.ID, &t.Subject, &t.Body, &t.Priority, &t.ContractID, &t.ChangeRequestID, &t.Status, &t.CreatedAt); err != nil {
			return nil, err
		}
		tickets = append(tickets, t)
	}
	return tickets, rows.Err()
}
