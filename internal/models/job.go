package models

import (
	"time"

	"github.com/google/uuid"
)

type JobStatus string

const (
	JobStatusOpen      JobStatus = "open"
	JobStatusPaused    JobStatus = "paused"
	JobStatusSuspended JobStatus = "suspended"
	JobStatusAssigned  JobStatus = "assigned"
	JobStatusCancelled JobStatus = "cancelled"
	JobStatusCompleted JobStatus = "completed"
)

// ReminderThreshold is how far ahead of the job start a reminder goes out.
type ReminderThreshold string

const (
	Reminder12h ReminderThreshold = "12h"
	Reminder6h  ReminderThreshold = "6h"
	Reminder2h  ReminderThreshold = "2h"
)

// ReminderThresholds are ordered from the earliest to the latest reminder.
var ReminderThresholds = []ReminderThreshold{Reminder12h, Reminder6h, Reminder2h}

func (t ReminderThreshold) Lead() time.Duration {
	switch t {
	case Reminder12h:
		return 12 * time.Hour
	case Reminder6h:
		return 6 * time.Hour
	case Reminder2h:
		return 2 * time.Hour
	}
	return 0
}

type Job struct {
	ID            uuid.UUID  `json:"id"`
	ClientID      uuid.UUID  `json:"client_id"`
	Title         string     `json:"title"`
	Status        JobStatus  `json:"status"`
	StartAt       time.Time  `json:"start_at"`
	EndAt         *time.Time `json:"end_at,omitempty"`
	FlexibleEnd   bool       `json:"flexible_end"`
	WorkersNeeded int        `json:"workers_needed"`
	SelectedCount int        `json:"selected_count"`
	Budget        int64      `json:"budget"`

	Reminder12hSent bool `json:"reminder_12h_sent"`
	Reminder6hSent  bool `json:"reminder_6h_sent"`
	Reminder2hSent  bool `json:"reminder_2h_sent"`

	CancelReason *string   `json:"cancel_reason,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (j *Job) RemainingCapacity() int {
	need := j.WorkersNeeded
	if need <= 0 {
		need = 1
	}
	if r := need - j.SelectedCount; r > 0 {
		return r
	}
	return 0
}

func (j *Job) ReminderSent(t ReminderThreshold) bool {
	switch t {
	case Reminder12h:
		return j.Reminder12hSent
	case Reminder6h:
		return j.Reminder6hSent
	case Reminder2h:
		return j.Reminder2hSent
	}
	return true
}

type ProposalStatus string

const (
	ProposalStatusPending  ProposalStatus = "pending"
	ProposalStatusApproved ProposalStatus = "approved"
	ProposalStatusRejected ProposalStatus = "rejected"
)

type Proposal struct {
	ID          uuid.UUID      `json:"id"`
	JobID       uuid.UUID      `json:"job_id"`
	WorkerID    uuid.UUID      `json:"worker_id"`
	Price       int64          `json:"price"`
	Message     *string        `json:"message,omitempty"`
	Status      ProposalStatus `json:"status"`
	SubmittedAt time.Time      `json:"submitted_at"`
}
