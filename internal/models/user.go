package models

import (
	"time"

	"github.com/google/uuid"
)

const UserTierBase = "base"

type User struct {
	ID                uuid.UUID  `json:"id"`
	Email             string     `json:"email"`
	DisplayName       *string    `json:"display_name,omitempty"`
	Balance           int64      `json:"balance"`
	CommissionRate    float64    `json:"commission_rate"`
	DiscountExpiresAt *time.Time `json:"discount_expires_at,omitempty"` // referral discount window
	Tier              string     `json:"tier"`
	CreatedAt         time.Time  `json:"created_at"`
}

// Party is the minimal contact card used for notifications and support tickets.
type Party struct {
	ID          uuid.UUID
	Email       string
	DisplayName string
}
