package repositories

import (
	"context"
	"time"

	"github.com/gigmarket/backend/internal/apperr"
	"github.com/gigmarket/backend/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type BalanceRepo struct {
	pool *pgxpool.Pool
}

func NewBalanceRepo(pool *pgxpool.Pool) *BalanceRepo {
	return &BalanceRepo{pool: pool}
}

// creditBalance locks the user row and appends one ledger entry with the
// balances before and after.
func creditBalance(ctx context.Context, tx pgx.Tx, credit models.BalanceCredit) error {
	if credit.Amount == 0 {
		return apperr.Validation("credit balance", "zero amount")
	}
	var previous int64
	if err := tx.QueryRow(ctx, `SELECT balance FROM users WHERE id = $1 FOR UPDATE`, credit.UserID).Scan(&previous); err != nil {
		return err
	}
	next := previous + credit.Amount
	if next < 0 {
		return apperr.Validation("credit balance", "balance of user %s would become negative", credit.UserID)
	}
	if _, err := tx.Exec(ctx, `UPDATE users SET balance = $1 WHERE id = $2`, next, credit.UserID); err != nil {
		return err
	}
	var contractID *uuid.UUID
	if credit.ContractID != uuid.Nil {
		contractID = &credit.ContractID
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO balance_transactions (id, user_id, contract_id, amount, previous_balance, new_balance, kind, description, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, uuid.New(), credit.UserID, contractID, credit.Amount, previous, next, credit.Kind, credit.Description, time.Now().UTC())
	return err
}

func (r *BalanceRepo) GetBalance(ctx context.Context, userID uuid.UUID) (int64, error) {
	var balance int64
	err := r.pool.QueryRow(ctx, `SELECT balance FROM users WHERE id = $1`, userID).Scan(&balance)
	if err != nil {
		return 0, translate("get balance", err)
	}
	return balance, nil
}

func (r *BalanceRepo) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.BalanceTransaction, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, user_id, contract_id, amount, previous_balance, new_balance, kind, description, created_at
		FROM balance_transactions WHERE user_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txs []models.BalanceTransaction
	for rows.Next() {
		var t models.BalanceTransaction
		if err := rows.Scan(&t.ID, &t.UserID, &t.ContractID, &t.Amount, &t.PreviousBalance, &t.NewBalance,
			&t.Kind, &t.Description, &t.CreatedAt); err != nil {
			return nil, err
		}
		txs = append(txs, t)
	}
	return txs, rows.Err()
}

// CountForContract returns how many ledger rows reference a contract.
func (r *BalanceRepo) CountForContract(ctx context.Context, contractID uuid.UUID) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `SELECT count(*) FROM balance_transactions WHERE contract_id = $1`, contractID).Scan(&n)
	return n, err
}
