package repositories

import (
	"context"
	"time"

	"github.com/gigmarket/backend/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type UserRepo struct {
	pool *pgxpool.Pool
}

func NewUserRepo(pool *pgxpool.Pool) *UserRepo {
	return &UserRepo{pool: pool}
}

const userColumns = `id, email, display_name, balance, commission_rate, discount_expires_at, tier, created_at`

func scanUser(row pgx.Row) (*models.User, error) {
	var u models.User
	if err := row.Scan(&u.ID, &u.Email, &u.DisplayName, &u.Balance, &u.CommissionRate,
		&u.DiscountExpiresAt, &u.Tier, &u.CreatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *UserRepo) Create(ctx context.Context, u *models.User) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	if u.Tier == "" {
		u.Tier = models.UserTierBase
	}
	err := r.pool.QueryRow(ctx, `
		INSERT INTO users (id, email, display_name, commission_rate, discount_expires_at, tier)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING balance, created_at
	`, u.ID, u.Email, u.DisplayName, u.CommissionRate, u.DiscountExpiresAt, u.Tier).Scan(&u.Balance, &u.CreatedAt)
	return translate("create user", err)
}

func (r *UserRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	u, err := scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if err != nil {
		return nil, translate("get user "+id.String(), err)
	}
	return u, nil
}

// GetParty returns the contact card used in notifications and tickets.
func (r *UserRepo) GetParty(ctx context.Context, id uuid.UUID) (models.Party, error) {
	var (
		p    models.Party
		name *string
	)
	err := r.pool.QueryRow(ctx, `SELECT id, email, display_name FROM users WHERE id = $1`, id).Scan(&p.ID, &p.Email, &name)
	if err != nil {
		return models.Party{}, translate("get party "+id.String(), err)
	}
	if name != nil {
		p.DisplayName = *name
	} else {
		p.DisplayName = p.Email
	}
	return p, nil
}

// ListDiscountExpired returns base-tier users whose discounted rate ran out.
func (r *UserRepo) ListDiscountExpired(ctx context.Context, now time.Time, standardRate float64, limit int) ([]models.User, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+userColumns+` FROM users
		WHERE discount_expires_at <= $1 AND tier = $2 AND commission_rate <> $3
		ORDER BY discount_expires_at LIMIT $4
	`, now, models.UserTierBase, standardRate, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

// ResetCommissionRate reverts the rate and clears the discount window. The
// eligibility check is repeated in the WHERE clause so a concurrent tier
// upgrade is not overwritten. Reports whether a row changed.
func (r *UserRepo) ResetCommissionRate(ctx context.Context, id uuid.UUID, standardRate float64, now time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE users SET commission_rate = $1, discount_expires_at = NULL
		WHERE id = $2 AND tier = $3 AND discount_expires_at <= $4
	`, standardRate, id, models.UserTierBase, now)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}
