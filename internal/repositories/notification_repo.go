package repositories

import (
	"context"
	"encoding/json"

	"github.com/gigmarket/backend/internal/apperr"
	"github.com/gigmarket/backend/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type NotificationRepo struct {
	pool *pgxpool.Pool
}

func NewNotificationRepo(pool *pgxpool.Pool) *NotificationRepo {
	return &NotificationRepo{pool: pool}
}

func (r *NotificationRepo) Create(ctx context.Context, n *models.Notification) error {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	var payload []byte
	if n.Payload != nil {
		var err error
		if payload, err = json.Marshal(n.Payload); err != nil {
			return err
		}
	}
	return r.pool.QueryRow(ctx, `
		INSERT INTO notifications (id, user_id, category, action, title, body, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`, n.ID, n.UserID, n.Category, n.Action, n.Title, n.Body, payload).Scan(&n.CreatedAt)
}

func (r *NotificationRepo) ListByUser(ctx context.Context, userID uuid.UUID, unreadOnly bool, limit, offset int) ([]models.Notification, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, user_id, category, action, title, body, payload, read, created_at
		FROM notifications WHERE user_id = $1 AND (NOT $2 OR NOT read)
		ORDER BY created_at DESC LIMIT $3 OFFSET $4
	`, userID, unreadOnly, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Notification
	for rows.Next() {
		var (
			n       models.Notification
			payload []byte
		)
		if err := rows.Scan(&n.ID, &n.UserID, &n.Category, &n.Action, &n.Title, &n.Body, &payload, &n.Read, &n.CreatedAt); err != nil {
			return nil, err
		}
		if len(payload) > 0 {
			_ = json.Unmarshal(payload, &n.Payload)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (r *NotificationRepo) MarkRead(ctx context.Context, userID, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `UPDATE notifications SET read = true WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return translate("mark notification read", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("mark notification read", "notification %s not found", id)
	}
	return nil
}
