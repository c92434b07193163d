package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	BalanceKindEscrowRelease = "escrow_release"
	BalanceKindWithdrawal    = "withdrawal"
	BalanceKindAdjustment    = "adjustment"
)

// BalanceTransaction is an append-only ledger row. NewBalance == PreviousBalance + Amount.
type BalanceTransaction struct {
	ID              uuid.UUID  `json:"id"`
	UserID          uuid.UUID  `json:"user_id"`
	ContractID      *uuid.UUID `json:"contract_id,omitempty"`
	Amount          int64      `json:"amount"`
	PreviousBalance int64      `json:"previous_balance"`
	NewBalance      int64      `json:"new_balance"`
	Kind            string     `json:"kind"`
	Description     string     `json:"description"`
	CreatedAt       time.Time  `json:"created_at"`
}

// BalanceCredit is a request to append one ledger row; the store fills in the balances.
type BalanceCredit struct {
	UserID      uuid.UUID
	ContractID  uuid.UUID
	Amount      int64
	Kind        string
	Description string
}
