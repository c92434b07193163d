package rbac

import (
	"github.com/gigmarket/backend/internal/models"
	"github.com/google/uuid"
)

// Role constants
const (
	RoleClient  = "client"
	RoleWorker  = "worker"
	RoleSupport = "support"
	RoleSystem  = "system"
	RoleNone    = ""
)

// Permission constants
const (
	PermRespondContract   = "respond_contract"
	PermFundEscrow        = "fund_escrow"
	PermConfirmPairing    = "confirm_pairing"
	PermMarkWorkDone      = "mark_work_done"
	PermConfirmCompletion = "confirm_completion"
	PermRequestChange     = "request_change"
	PermExtend            = "extend_contract"
	PermModifyPrice       = "modify_price"
	PermCancel            = "cancel_contract"
	PermDispute           = "raise_dispute"
	PermResolveDispute    = "resolve_dispute"
	PermSoftDelete        = "soft_delete"
	PermForceProgress     = "force_progress"
)

// RolePermissions defines what each role can do on a contract.
var RolePermissions = map[string][]string{
	RoleClient: {
		PermFundEscrow, PermConfirmPairing, PermMarkWorkDone, PermConfirmCompletion,
		PermRequestChange, PermExtend, PermModifyPrice, PermCancel, PermDispute, PermSoftDelete,
	},
	RoleWorker: {
		PermRespondContract, PermConfirmPairing, PermMarkWorkDone, PermConfirmCompletion,
		PermRequestChange, PermExtend, PermCancel, PermDispute,
		// Worker CANNOT: PermFundEscrow, PermModifyPrice
	},
	RoleSupport: {
		PermResolveDispute, PermSoftDelete, PermCancel,
	},
	RoleSystem: {
		PermForceProgress, PermConfirmCompletion, PermCancel, PermFundEscrow,
	},
}

// HasPermission checks if a role has a specific permission.
func HasPermission(role, permission string) bool {
	perms, ok := RolePermissions[role]
	if !ok {
		return false
	}
	for _, p := range perms {
		if p == permission {
			return true
		}
	}
	return false
}

// RoleOf resolves which side of the contract a user is on.
func RoleOf(c *models.Contract, userID uuid.UUID) string {
	switch userID {
	case c.ClientID:
		return RoleClient
	case c.WorkerID:
		return RoleWorker
	}
	return RoleNone
}

// IsFinancialOperation checks if permission moves money.
func IsFinancialOperation(permission string) bool {
	return permission == PermFundEscrow || permission == PermModifyPrice || permission == PermResolveDispute
}
