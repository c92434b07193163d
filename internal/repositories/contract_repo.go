package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gigmarket/backend/internal/apperr"
	"github.com/gigmarket/backend/internal/lifecycle"
	"github.com/gigmarket/backend/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type ContractRepo struct {
	pool *pgxpool.Pool
}

func NewContractRepo(pool *pgxpool.Pool) *ContractRepo {
	return &ContractRepo{pool: pool}
}

const contractColumns = `
	id, job_id, client_id, worker_id,
	price, commission_rate, commission, total_price, allocated_amount,
	start_date, end_date, actual_start_date, actual_end_date,
	status, escrow_status, payment_reference, escrow_held_at, escrow_released_at, escrow_refunded_at,
	COALESCE(pairing_code, ''), pairing_generated_at, pairing_expiry, client_confirmed_pairing, worker_confirmed_pairing,
	client_confirmed, client_confirmed_at, worker_confirmed, worker_confirmed_at, awaiting_confirmation_at,
	price_history, extension_history, has_been_extended,
	dispute_id, disputed_at, disputed_by, dispute_reason, dispute_resolution, dispute_ticket_id,
	cancelled_at, cancelled_by, cancellation_reason,
	is_deleted, deleted_at, deleted_by,
	version, created_at, updated_at`

func scanContract(row pgx.Row) (*models.Contract, error) {
	var (
		c                  models.Contract
		priceHist, extHist []byte
	)
	err := row.Scan(
		&c.ID, &c.JobID, &c.ClientID, &c.WorkerID,
		&c.Price, &c.CommissionRate, &c.Commission, &c.TotalPrice, &c.AllocatedAmount,
		&c.StartDate, &c.EndDate, &c.ActualStartDate, &c.ActualEndDate,
		&c.Status, &c.EscrowStatus, &c.PaymentReference, &c.EscrowHeldAt, &c.EscrowReleasedAt, &c.EscrowRefundedAt,
		&c.PairingCode, &c.PairingGeneratedAt, &c.PairingExpiry, &c.ClientConfirmedPairing, &c.WorkerConfirmedPairing,
		&c.ClientConfirmed, &c.ClientConfirmedAt, &c.WorkerConfirmed, &c.WorkerConfirmedAt, &c.AwaitingConfirmationAt,
		&priceHist, &extHist, &c.HasBeenExtended,
		&c.DisputeID, &c.DisputedAt, &c.DisputedBy, &c.DisputeReason, &c.DisputeResolution, &c.DisputeTicketID,
		&c.CancelledAt, &c.CancelledBy, &c.CancellationReason,
		&c.IsDeleted, &c.DeletedAt, &c.DeletedBy,
		&c.Version, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(priceHist, &c.PriceModificationHistory); err != nil {
		return nil, fmt.Errorf("decode price history: %w", err)
	}
	if err := json.Unmarshal(extHist, &c.ExtensionHistory); err != nil {
		return nil, fmt.Errorf("decode extension history: %w", err)
	}
	return &c, nil
}

func collectContracts(rows pgx.Rows) ([]models.Contract, error) {
	defer rows.Close()
	var out []models.Contract
	for rows.Next() {
		c, err := scanContract(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func historyJSON(c *models.Contract) (string, string, error) {
	price := c.PriceModificationHistory
	if price == nil {
		price = []models.PriceModification{}
	}
	ext := c.ExtensionHistory
	if ext == nil {
		ext = []models.Extension{}
	}
	p, err := json.Marshal(price)
	if err != nil {
		return "", "", err
	}
	e, err := json.Marshal(ext)
	if err != nil {
		return "", "", err
	}
	return string(p), string(e), nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func insertContract(ctx context.Context, q dbtx, c *models.Contract) error {
	priceHist, extHist, err := historyJSON(c)
	if err != nil {
		return err
	}
	return q.QueryRow(ctx, `
		INSERT INTO contracts (
			id, job_id, client_id, worker_id,
			price, commission_rate, commission, total_price, allocated_amount,
			start_date, end_date, status, escrow_status,
			pairing_code, pairing_generated_at, pairing_expiry,
			price_history, extension_history, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17::jsonb, $18::jsonb, $19, $19)
		RETURNING version
	`, c.ID, c.JobID, c.ClientID, c.WorkerID,
		c.Price, c.CommissionRate, c.Commission, c.TotalPrice, c.AllocatedAmount,
		c.StartDate, c.EndDate, c.Status, c.EscrowStatus,
		nullable(c.PairingCode), c.PairingGeneratedAt, c.PairingExpiry,
		priceHist, extHist, c.CreatedAt,
	).Scan(&c.Version)
}

func (r *ContractRepo) Create(ctx context.Context, c *models.Contract) error {
	return translate("create contract", insertContract(ctx, r.pool, c))
}

func (r *ContractRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Contract, error) {
	c, err := scanContract(r.pool.QueryRow(ctx, `SELECT `+contractColumns+` FROM contracts WHERE id = $1`, id))
	if err != nil {
		return nil, translate("get contract "+id.String(), err)
	}
	return c, nil
}

type ContractFilter struct {
	UserID         *uuid.UUID // client or worker
	Status         *models.ContractStatus
	IncludeDeleted bool
	Limit          int
	Offset         int
}

func (r *ContractRepo) List(ctx context.Context, f ContractFilter) ([]models.Contract, error) {
	query := `SELECT ` + contractColumns + ` FROM contracts`
	args := []any{}
	argIdx := 1
	where := []string{}

	if f.UserID != nil {
		where = append(where, fmt.Sprintf("(client_id = $%d OR worker_id = $%d)", argIdx, argIdx))
		args = append(args, *f.UserID)
		argIdx++
	}
	if f.Status != nil {
		where = append(where, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, *f.Status)
		argIdx++
	}
	if !f.IncludeDeleted {
		where = append(where, "NOT is_deleted")
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}

	limit := f.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", argIdx, argIdx+1)
	args = append(args, limit, f.Offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return collectContracts(rows)
}

// ListByJob returns the live contracts created for a job.
func (r *ContractRepo) ListByJob(ctx context.Context, jobID uuid.UUID) ([]models.Contract, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+contractColumns+` FROM contracts
		WHERE job_id = $1 AND NOT is_deleted AND status NOT IN ($2, $3)
		ORDER BY created_at
	`, jobID, models.ContractStatusRejected, models.ContractStatusCancelled)
	if err != nil {
		return nil, err
	}
	return collectContracts(rows)
}

// ListAwaitingConfirmation returns contracts that entered awaiting_confirmation
// before cutoff and still miss a confirmation.
func (r *ContractRepo) ListAwaitingConfirmation(ctx context.Context, cutoff time.Time, limit int) ([]models.Contract, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+contractColumns+` FROM contracts
		WHERE status = $1 AND awaiting_confirmation_at < $2
		  AND NOT (client_confirmed AND worker_confirmed) AND NOT is_deleted
		ORDER BY awaiting_confirmation_at LIMIT $3
	`, models.ContractStatusAwaitingConfirmation, cutoff, limit)
	if err != nil {
		return nil, err
	}
	return collectContracts(rows)
}

// ListDueStart returns accepted, funded contracts whose start has passed.
func (r *ContractRepo) ListDueStart(ctx context.Context, now time.Time, limit int) ([]models.Contract, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+contractColumns+` FROM contracts
		WHERE status = $1 AND escrow_status = $2 AND start_date <= $3 AND NOT is_deleted
		ORDER BY start_date LIMIT $4
	`, models.ContractStatusAccepted, models.EscrowStatusHeld, now, limit)
	if err != nil {
		return nil, err
	}
	return collectContracts(rows)
}

// ListStaleDisputes returns open disputes raised before cutoff that have no ticket yet.
func (r *ContractRepo) ListStaleDisputes(ctx context.Context, cutoff time.Time, limit int) ([]models.Contract, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+contractColumns+` FROM contracts
		WHERE status = $1 AND dispute_resolution IS NULL AND dispute_ticket_id IS NULL AND disputed_at < $2
		ORDER BY disputed_at LIMIT $3
	`, models.ContractStatusDisputed, cutoff, limit)
	if err != nil {
		return nil, err
	}
	return collectContracts(rows)
}

// MutateFunc receives the locked snapshot and the contract's pending change
// request, if any.
type MutateFunc func(c models.Contract, pending *models.ChangeRequest) (lifecycle.Outcome, error)

// Mutate serializes every change to one contract. The row is locked with
// SELECT ... FOR UPDATE, fn computes the transition, and the new snapshot is
// committed together with the balance credit, support ticket and change
// request. Nothing is written if fn or any write fails.
func (r *ContractRepo) Mutate(ctx context.Context, id uuid.UUID, fn MutateFunc) (*lifecycle.Outcome, error) {
	op := "mutate contract " + id.String()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: begin tx: %w", op, err)
	}
	defer tx.Rollback(ctx)

	current, err := scanContract(tx.QueryRow(ctx, `SELECT `+contractColumns+` FROM contracts WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, translate(op, err)
	}
	pending, err := lockPendingChange(ctx, tx, id)
	if err != nil {
		return nil, translate(op, err)
	}

	out, err := fn(*current, pending)
	if err != nil {
		return nil, err
	}
	if out.Contract.ID != current.ID {
		return nil, fmt.Errorf("%s: transition returned contract %s", op, out.Contract.ID)
	}

	if err := saveContract(ctx, tx, &out.Contract, current.Version); err != nil {
		return nil, err
	}
	if out.Credit != nil {
		if err := creditBalance(ctx, tx, *out.Credit); err != nil {
			return nil, translate(op+": credit balance", err)
		}
	}
	if out.Ticket != nil {
		if err := insertTicket(ctx, tx, out.Ticket); err != nil {
			return nil, translate(op+": create ticket", err)
		}
	}
	if out.ChangeRequest != nil {
		if err := upsertChangeRequest(ctx, tx, out.ChangeRequest); err != nil {
			return nil, translate(op+": save change request", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("%s: commit: %w", op, err)
	}
	return &out, nil
}

func saveContract(ctx context.Context, tx pgx.Tx, c *models.Contract, version int64) error {
	priceHist, extHist, err := historyJSON(c)
	if err != nil {
		return err
	}
	err = tx.QueryRow(ctx, `
		UPDATE contracts SET
			price = $3, commission_rate = $4, commission = $5, total_price = $6, allocated_amount = $7,
			start_date = $8, end_date = $9, actual_start_date = $10, actual_end_date = $11,
			status = $12, escrow_status = $13, payment_reference = $14,
			escrow_held_at = $15, escrow_released_at = $16, escrow_refunded_at = $17,
			pairing_code = $18, pairing_generated_at = $19, pairing_expiry = $20,
			client_confirmed_pairing = $21, worker_confirmed_pairing = $22,
			client_confirmed = $23, client_confirmed_at = $24, worker_confirmed = $25, worker_confirmed_at = $26,
			awaiting_confirmation_at = $27,
			price_history = $28::jsonb, extension_history = $29::jsonb, has_been_extended = $30,
			dispute_id = $31, disputed_at = $32, disputed_by = $33, dispute_reason = $34,
			dispute_resolution = $35, dispute_ticket_id = $36,
			cancelled_at = $37, cancelled_by = $38, cancellation_reason = $39,
			is_deleted = $40, deleted_at = $41, deleted_by = $42,
			updated_at = $43, version = version + 1
		WHERE id = $1 AND version = $2
		RETURNING version
	`, c.ID, version,
		c.Price, c.CommissionRate, c.Commission, c.TotalPrice, c.AllocatedAmount,
		c.StartDate, c.EndDate, c.ActualStartDate, c.ActualEndDate,
		c.Status, c.EscrowStatus, c.PaymentReference,
		c.EscrowHeldAt, c.EscrowReleasedAt, c.EscrowRefundedAt,
		nullable(c.PairingCode), c.PairingGeneratedAt, c.PairingExpiry,
		c.ClientConfirmedPairing, c.WorkerConfirmedPairing,
		c.ClientConfirmed, c.ClientConfirmedAt, c.WorkerConfirmed, c.WorkerConfirmedAt,
		c.AwaitingConfirmationAt,
		priceHist, extHist, c.HasBeenExtended,
		c.DisputeID, c.DisputedAt, c.DisputedBy, c.DisputeReason,
		c.DisputeResolution, c.DisputeTicketID,
		c.CancelledAt, c.CancelledBy, c.CancellationReason,
		c.IsDeleted, c.DeletedAt, c.DeletedBy,
		c.UpdatedAt,
	).Scan(&c.Version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperr.Conflict("save contract", "contract %s was modified concurrently", c.ID)
		}
		return fmt.Errorf("save contract %s: %w", c.ID, err)
	}
	return nil
}
