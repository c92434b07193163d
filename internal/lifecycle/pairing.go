package lifecycle

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"math/big"
	"time"

	"github.com/gigmarket/backend/internal/apperr"
	"github.com/gigmarket/backend/internal/models"
	"github.com/gigmarket/backend/internal/rbac"
)

var pairingSpace = big.NewInt(1_000_000)

// GeneratePairingCode returns a uniformly random 6-digit code.
func GeneratePairingCode() (string, error) {
	n, err := rand.Int(rand.Reader, pairingSpace)
	if err != nil {
		return "", fmt.Errorf("generate pairing code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

func issuePairing(c *models.Contract, code string, now time.Time) error {
	if len(code) != 6 {
		return apperr.Validation("issue_pairing", "pairing code must have 6 digits")
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return apperr.Validation("issue_pairing", "pairing code must be numeric")
		}
	}
	c.PairingCode = code
	c.PairingGeneratedAt = timePtr(now)
	c.PairingExpiry = timePtr(now.Add(PairingTTL))
	c.ClientConfirmedPairing = false
	c.WorkerConfirmedPairing = false
	return nil
}

// ConfirmPairing records one party's pairing confirmation. When both parties
// have confirmed, the contract starts.
func ConfirmPairing(c models.Contract, a Actor, code string, now time.Time) (Outcome, error) {
	const op = "confirm_pairing"
	c = c.Clone()
	if err := ensureActive(op, &c); err != nil {
		return Outcome{}, err
	}
	if err := authorize(op, &c, a, rbac.PermConfirmPairing); err != nil {
		return Outcome{}, err
	}
	if c.Status != models.ContractStatusAccepted {
		return Outcome{}, apperr.Conflict(op, "contract is %s, expected accepted", c.Status)
	}
	if c.PairingExpiry == nil || c.PairingCode == "" {
		return Outcome{}, apperr.Validation(op, "no pairing code issued")
	}
	if !now.Before(*c.PairingExpiry) {
		return Outcome{}, apperr.Validation(op, "pairing code expired at %s", c.PairingExpiry.Format(time.RFC3339))
	}
	if subtle.ConstantTimeCompare([]byte(code), []byte(c.PairingCode)) != 1 {
		return Outcome{}, apperr.Validation(op, "pairing code does not match")
	}

	switch a.Role {
	case rbac.RoleClient:
		if c.ClientConfirmedPairing {
			return Outcome{}, apperr.Conflict(op, "client already confirmed pairing")
		}
		c.ClientConfirmedPairing = true
	case rbac.RoleWorker:
		if c.WorkerConfirmedPairing {
			return Outcome{}, apperr.Conflict(op, "worker already confirmed pairing")
		}
		c.WorkerConfirmedPairing = true
	}
	c.UpdatedAt = now

	if !c.PairingComplete() {
		out := newOutcome(c, "pairing_confirmed")
		out.Meta["role"] = a.Role
		out.notify(c.Counterparty(a.ID), "pairing_pending", "Pairing code confirmed",
			"The other party entered the pairing code. Enter it too to start the contract.", false)
		return out, nil
	}

	if err := start(op, &c, now); err != nil {
		return Outcome{}, err
	}
	out := newOutcome(c, "contract_started")
	out.Meta["role"] = a.Role
	out.notifyBoth("contract_started", "Contract started", "Both parties confirmed the pairing code.", false)
	return out, nil
}

// RegeneratePairing issues a fresh code once the previous one expired. Both
// pairing flags are reset.
func RegeneratePairing(c models.Contract, a Actor, code string, now time.Time) (Outcome, error) {
	const op = "regenerate_pairing"
	c = c.Clone()
	if err := ensureActive(op, &c); err != nil {
		return Outcome{}, err
	}
	if err := authorize(op, &c, a, rbac.PermConfirmPairing); err != nil {
		return Outcome{}, err
	}
	if c.Status != models.ContractStatusAccepted {
		return Outcome{}, apperr.Conflict(op, "contract is %s, expected accepted", c.Status)
	}
	if c.PairingExpiry != nil && now.Before(*c.PairingExpiry) {
		return Outcome{}, apperr.Conflict(op, "current pairing code is valid until %s", c.PairingExpiry.Format(time.RFC3339))
	}
	if err := issuePairing(&c, code, now); err != nil {
		return Outcome{}, err
	}
	out := newOutcome(c, "pairing_regenerated")
	out.notify(c.Counterparty(a.ID), "pairing_regenerated", "New pairing code",
		"A new pairing code was issued. Ask the other party for it.", false)
	return out, nil
}
