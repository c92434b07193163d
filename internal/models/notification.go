package models

import (
	"time"

	"github.com/google/uuid"
)

// Notification categories
const (
	NotificationCategoryContract = "contract"
	NotificationCategoryJob      = "job"
	NotificationCategoryPayment  = "payment"
	NotificationCategorySupport  = "support"
)

type Notification struct {
	ID        uuid.UUID      `json:"id"`
	UserID    uuid.UUID      `json:"user_id"`
	Category  string         `json:"category"`
	Action    string         `json:"action"`
	Title     string         `json:"title"`
	Body      string         `json:"body"`
	Payload   map[string]any `json:"payload,omitempty"`
	Read      bool           `json:"read"`
	CreatedAt time.Time      `json:"created_at"`
}

type SupportPriority string

const (
	SupportPriorityNormal SupportPriority = "normal"
	SupportPriorityHigh   SupportPriority = "high"
	SupportPriorityUrgent SupportPriority = "urgent"
)

type SupportTicket struct {
	ID              uuid.UUID       `json:"id"`
	Subject         string          `json:"subject"`
	Body            string          `json:"body"`
	Priority        SupportPriority `json:"priority"`
	ContractID      *uuid.UUID      `json:"contract_id,omitempty"`
	ChangeRequestID *uuid.UUID      `json:"change_request_id,omitempty"`
	Status          string          `json:"status"`
	CreatedAt       time.Time       `json:"created_at"`
}
