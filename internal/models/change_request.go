package models

import (
	"time"

	"github.com/google/uuid"
)

type ChangeRequestType string

const (
	ChangeRequestCancel ChangeRequestType = "cancel"
	ChangeRequestModify ChangeRequestType = "modify"
)

type ChangeRequestStatus string

const (
	ChangeRequestPending   ChangeRequestStatus = "pending"
	ChangeRequestAccepted  ChangeRequestStatus = "accepted"
	ChangeRequestRejected  ChangeRequestStatus = "rejected"
	ChangeRequestEscalated ChangeRequestStatus = "escalated_to_support"
	// ChangeRequestClosed marks a request left unanswered when its contract settled.
	ChangeRequestClosed ChangeRequestStatus = "closed"
)

// ChangeTerms are the proposed replacements for a modify request. Nil fields stay unchanged.
type ChangeTerms struct {
	NewPrice     *int64     `json:"new_price,omitempty"`
	NewStartDate *time.Time `json:"new_start_date,omitempty"`
	NewEndDate   *time.Time `json:"new_end_date,omitempty"`
}

func (t ChangeTerms) IsEmpty() bool {
	return t.NewPrice == nil && t.NewStartDate == nil && t.NewEndDate == nil
}

type ChangeRequest struct {
	ID              uuid.UUID           `json:"id"`
	ContractID      uuid.UUID           `json:"contract_id"`
	RequestedBy     uuid.UUID           `json:"requested_by"`
	Type            ChangeRequestType   `json:"type"`
	Reason          string              `json:"reason"`
	Terms           ChangeTerms         `json:"terms"`
	Status          ChangeRequestStatus `json:"status"`
	RespondedBy     *uuid.UUID          `json:"responded_by,omitempty"`
	RespondedAt     *time.Time          `json:"responded_at,omitempty"`
	SupportTicketID *uuid.UUID          `json:"support_ticket_id,omitempty"`
	EscalatedAt     *time.Time          `json:"escalated_at,omitempty"`
	CreatedAt       time.Time           `json:"created_at"`
}

func (r *ChangeRequest) IsPending() bool {
	return r.Status == ChangeRequestPending
}
