package dto

import "time"

type CreateContractRequest struct {
	JobID           string    `json:"job_id"`
	WorkerID        string    `json:"worker_id"`
	Price           int64     `json:"price"` // minor units
	AllocatedAmount *int64    `json:"allocated_amount,omitempty"`
	StartDate       time.Time `json:"start_date"`
	EndDate         time.Time `json:"end_date"`
}

type RespondRequest struct {
	Accept *bool `json:"accept"`
}

type FundEscrowRequest struct {
	PaymentReference string `json:"payment_reference"`
}

type ConfirmPairingRequest struct {
	Code string `json:"code"`
}

type ExtendRequest struct {
	NewEndDate time.Time `json:"new_end_date"`
	Reason     string    `json:"reason"`
	Amount     *int64    `json:"amount,omitempty"`
}

type ModifyPriceRequest struct {
	NewPrice int64  `json:"new_price"`
	Reason   string `json:"reason"`
}

type ReasonRequest struct {
	Reason string `json:"reason"`
}

type ResolveDisputeRequest struct {
	Resolution   string `json:"resolution"`
	FavourWorker bool   `json:"favour_worker"`
}

type ChangeRequestRequest struct {
	Type         string     `json:"type"` // cancel / modify
	Reason       string     `json:"reason"`
	NewPrice     *int64     `json:"new_price,omitempty"`
	NewStartDate *time.Time `json:"new_start_date,omitempty"`
	NewEndDate   *time.Time `json:"new_end_date,omitempty"`
}
