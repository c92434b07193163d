package models

import (
	"math"
	"time"

	"github.com/google/uuid"
)

type ContractStatus string

// Contract statuses
const (
	ContractStatusPending              ContractStatus = "pending"
	ContractStatusAccepted             ContractStatus = "accepted"
	ContractStatusRejected             ContractStatus = "rejected"
	ContractStatusInProgress           ContractStatus = "in_progress"
	ContractStatusAwaitingConfirmation ContractStatus = "awaiting_confirmation"
	ContractStatusCompleted            ContractStatus = "completed"
	ContractStatusCancelled            ContractStatus = "cancelled"
	ContractStatusDisputed             ContractStatus = "disputed"
)

type EscrowStatus string

const (
	EscrowStatusPending  EscrowStatus = "pending"
	EscrowStatusHeld     EscrowStatus = "held"
	EscrowStatusReleased EscrowStatus = "released"
	EscrowStatusRefunded EscrowStatus = "refunded"
)

// Valid state transitions: from -> []to
var ValidContractTransitions = map[ContractStatus][]ContractStatus{
	ContractStatusPending:              {ContractStatusAccepted, ContractStatusRejected, ContractStatusCancelled, ContractStatusDisputed},
	ContractStatusAccepted:             {ContractStatusInProgress, ContractStatusCancelled, ContractStatusDisputed},
	ContractStatusInProgress:           {ContractStatusAwaitingConfirmation, ContractStatusCancelled, ContractStatusDisputed},
	ContractStatusAwaitingConfirmation: {ContractStatusCompleted, ContractStatusCancelled, ContractStatusDisputed},
	ContractStatusCompleted:            {},
	ContractStatusCancelled:            {},
	ContractStatusRejected:             {},
	// a disputed contract leaves only through support resolution
	ContractStatusDisputed: {ContractStatusCompleted, ContractStatusCancelled},
}

func IsValidContractTransition(from, to ContractStatus) bool {
	allowed, ok := ValidContractTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// Valid escrow movements. Held is the only state funds can leave.
var ValidEscrowTransitions = map[EscrowStatus][]EscrowStatus{
	EscrowStatusPending:  {EscrowStatusHeld},
	EscrowStatusHeld:     {EscrowStatusReleased, EscrowStatusRefunded},
	EscrowStatusReleased: {},
	EscrowStatusRefunded: {},
}

func IsValidEscrowTransition(from, to EscrowStatus) bool {
	for _, s := range ValidEscrowTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

type PriceModification struct {
	PreviousPrice int64     `json:"previous_price"`
	NewPrice      int64     `json:"new_price"`
	ModifiedBy    uuid.UUID `json:"modified_by"`
	Reason        string    `json:"reason"`
	PaymentDelta  int64     `json:"payment_delta"`
	ModifiedAt    time.Time `json:"modified_at"`
}

type Extension struct {
	PreviousEndDate time.Time  `json:"previous_end_date"`
	NewEndDate      time.Time  `json:"new_end_date"`
	Reason          string     `json:"reason"`
	Amount          *int64     `json:"amount,omitempty"`
	RequestedBy     uuid.UUID  `json:"requested_by"`
	ApprovedBy      *uuid.UUID `json:"approved_by,omitempty"`
	ExtendedAt      time.Time  `json:"extended_at"`
}

// Contract is a value snapshot. Lifecycle functions copy it, never share it.
type Contract struct {
	ID       uuid.UUID `json:"id"`
	JobID    uuid.UUID `json:"job_id"`
	ClientID uuid.UUID `json:"client_id"`
	WorkerID uuid.UUID `json:"worker_id"`

	Price           int64   `json:"price"` // minor units
	CommissionRate  float64 `json:"commission_rate"` // percent
	Commission      int64   `json:"commission"`
	TotalPrice      int64   `json:"total_price"`
	AllocatedAmount *int64  `json:"allocated_amount,omitempty"` // set for multi-worker jobs

	StartDate       time.Time  `json:"start_date"`
	EndDate         time.Time  `json:"end_date"`
	ActualStartDate *time.Time `json:"actual_start_date,omitempty"`
	ActualEndDate   *time.Time `json:"actual_end_date,omitempty"`

	Status           ContractStatus `json:"status"`
	EscrowStatus     EscrowStatus   `json:"escrow_status"`
	PaymentReference *string        `json:"payment_reference,omitempty"`
	EscrowHeldAt     *time.Time     `json:"escrow_held_at,omitempty"`
	EscrowReleasedAt *time.Time     `json:"escrow_released_at,omitempty"`
	EscrowRefundedAt *time.Time     `json:"escrow_refunded_at,omitempty"`

	PairingCode            string     `json:"-"`
	PairingGeneratedAt     *time.Time `json:"pairing_generated_at,omitempty"`
	PairingExpiry          *time.Time `json:"pairing_expiry,omitempty"`
	ClientConfirmedPairing bool       `json:"client_confirmed_pairing"`
	WorkerConfirmedPairing bool       `json:"worker_confirmed_pairing"`

	ClientConfirmed        bool       `json:"client_confirmed"`
	ClientConfirmedAt      *time.Time `json:"client_confirmed_at,omitempty"`
	WorkerConfirmed        bool       `json:"worker_confirmed"`
	WorkerConfirmedAt      *time.Time `json:"worker_confirmed_at,omitempty"`
	AwaitingConfirmationAt *time.Time `json:"awaiting_confirmation_at,omitempty"`

	PriceModificationHistory []PriceModification `json:"price_modification_history"`
	ExtensionHistory         []Extension         `json:"extension_history"`
	HasBeenExtended          bool                `json:"has_been_extended"`

	DisputeID         *uuid.UUID `json:"dispute_id,omitempty"`
	DisputedAt        *time.Time `json:"disputed_at,omitempty"`
	DisputedBy        *uuid.UUID `json:"disputed_by,omitempty"`
	DisputeReason     *string    `json:"dispute_reason,omitempty"`
	DisputeResolution *string    `json:"dispute_resolution,omitempty"`
	DisputeTicketID   *uuid.UUID `json:"dispute_ticket_id,omitempty"`

	CancelledAt        *time.Time `json:"cancelled_at,omitempty"`
	CancelledBy        *uuid.UUID `json:"cancelled_by,omitempty"`
	CancellationReason *string    `json:"cancellation_reason,omitempty"`

	IsDeleted bool       `json:"is_deleted"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
	DeletedBy *uuid.UUID `json:"deleted_by,omitempty"`

	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CalculateCommission returns price*rate/100 rounded to minor units.
func CalculateCommission(price int64, rate float64) int64 {
	return int64(math.Round(float64(price) * rate / 100))
}

// RecalculateTotals restores totalPrice == price + commission.
func (c *Contract) RecalculateTotals() {
	c.Commission = CalculateCommission(c.Price, c.CommissionRate)
	c.TotalPrice = c.Price + c.Commission
}

func (c *Contract) IsTerminal() bool {
	switch c.Status {
	case ContractStatusCompleted, ContractStatusCancelled, ContractStatusRejected:
		return true
	case ContractStatusDisputed:
		return c.DisputeResolution != nil
	}
	return false
}

func (c *Contract) IsParty(userID uuid.UUID) bool {
	return userID == c.ClientID || userID == c.WorkerID
}

// Counterparty returns the other side of the contract for a party id.
func (c *Contract) Counterparty(userID uuid.UUID) uuid.UUID {
	if userID == c.ClientID {
		return c.WorkerID
	}
	return c.ClientID
}

func (c *Contract) IsInEscrow() bool {
	return c.EscrowStatus == EscrowStatusHeld && c.EscrowReleasedAt == nil
}

func (c *Contract) BothConfirmed() bool {
	return c.ClientConfirmed && c.WorkerConfirmed
}

func (c *Contract) CanRelease() bool {
	return c.IsInEscrow() && c.BothConfirmed()
}

func (c *Contract) PairingComplete() bool {
	return c.ClientConfirmedPairing && c.WorkerConfirmedPairing
}

// AllocatedCredit is what the worker receives on release. It never exceeds
// the price.
func (c *Contract) AllocatedCredit() int64 {
	if c.AllocatedAmount != nil && *c.AllocatedAmount < c.Price {
		return *c.AllocatedAmount
	}
	return c.Price
}

// Clone copies the history slices. Pointer fields are replaced, never written through.
func (c Contract) Clone() Contract {
	out := c
	out.PriceModificationHistory = append([]PriceModification(nil), c.PriceModificationHistory...)
	out.ExtensionHistory = append([]Extension(nil), c.ExtensionHistory...)
	return out
}
