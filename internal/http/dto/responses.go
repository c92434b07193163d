package dto

import "time"

type ErrorResponse struct {
	Error     string `json:"error"`
	Kind      string `json:"kind,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

type SuccessResponse struct {
	OK   bool `json:"ok"`
	Data any  `json:"data,omitempty"`
}

// PairingResponse carries the code only to the two parties.
type PairingResponse struct {
	ContractID string     `json:"contract_id"`
	Code       string     `json:"code"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
}

type ChangeResponse struct {
	ChangeRequest any `json:"change_request"`
	Contract      any `json:"contract,omitempty"`
}
