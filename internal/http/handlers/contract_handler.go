package handlers

import (
	"context"

	"github.com/gigmarket/backend/internal/config"
	"github.com/gigmarket/backend/internal/http/dto"
	"github.com/gigmarket/backend/internal/middleware"
	"github.com/gigmarket/backend/internal/models"
	"github.com/gigmarket/backend/internal/services"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type AuditReader interface {
	GetByEntity(ctx context.Context, entityType string, entityID uuid.UUID, limit, offset int) ([]models.AuditLog, error)
}

type TicketReader interface {
	ListByContract(ctx context.Context, contractID uuid.UUID) ([]models.SupportTicket, error)
}

type ContractHandler struct {
	contracts *services.ContractService
	audit     AuditReader
	tickets   TicketReader
	cfg       *config.Config
	log       *zap.Logger
}

func NewContractHandler(contracts *services.ContractService, audit AuditReader, tickets TicketReader, cfg *config.Config, log *zap.Logger) *ContractHandler {
	return &ContractHandler{contracts: contracts, audit: audit, tickets: tickets, cfg: cfg, log: log}
}

func ok(c *fiber.Ctx, data any) error {
	return c.JSON(dto.SuccessResponse{OK: true, Data: data})
}

func (h *ContractHandler) CreateContract(c *fiber.Ctx) error {
	var req dto.CreateContractRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request")
	}
	jobID, err := uuid.Parse(req.JobID)
	if err != nil {
		return badRequest(c, "invalid job_id")
	}
	workerID, err := uuid.Parse(req.WorkerID)
	if err != nil {
		return badRequest(c, "invalid worker_id")
	}

	contract, err := h.contracts.CreateContract(c.Context(), middleware.GetUserID(c), services.CreateContractInput{
		JobID:           jobID,
		WorkerID:        workerID,
		Price:           req.Price,
		AllocatedAmount: req.AllocatedAmount,
		StartDate:       req.StartDate,
		EndDate:         req.EndDate,
	})
	if err != nil {
		return fail(c, h.log, err)
	}
	return c.Status(fiber.StatusCreated).JSON(dto.SuccessResponse{OK: true, Data: contract})
}

func (h *ContractHandler) GetContract(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return badRequest(c, "invalid contract id")
	}
	contract, err := h.contracts.GetContract(c.Context(), id, middleware.GetUserID(c))
	if err != nil {
		return fail(c, h.log, err)
	}
	return ok(c, contract)
}

func (h *ContractHandler) ListContracts(c *fiber.Ctx) error {
	limit, offset := pagination(c)
	var status *models.ContractStatus
	if v := c.Query("status"); v != "" {
		s := models.ContractStatus(v)
		status = &s
	}
	list, err := h.contracts.ListContracts(c.Context(), middleware.GetUserID(c), status, limit, offset)
	if err != nil {
		return fail(c, h.log, err)
	}
	return ok(c, list)
}

func (h *ContractHandler) Respond(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return badRequest(c, "invalid contract id")
	}
	var req dto.RespondRequest
	if err := c.BodyParser(&req); err != nil || req.Accept == nil {
		return badRequest(c, "accept is required")
	}
	contract, err := h.contracts.RespondToContract(c.Context(), id, middleware.GetUserID(c), *req.Accept)
	if err != nil {
		return fail(c, h.log, err)
	}
	return ok(c, contract)
}

func (h *ContractHandler) FundEscrow(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return badRequest(c, "invalid contract id")
	}
	var req dto.FundEscrowRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request")
	}
	contract, err := h.contracts.FundEscrow(c.Context(), id, middleware.GetUserID(c), req.PaymentReference)
	if err != nil {
		return fail(c, h.log, err)
	}
	return ok(c, contract)
}

func (h *ContractHandler) GetPairing(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return badRequest(c, "invalid contract id")
	}
	code, expiry, err := h.contracts.PairingCode(c.Context(), id, middleware.GetUserID(c))
	if err != nil {
		return fail(c, h.log, err)
	}
	return ok(c, dto.PairingResponse{ContractID: id.String(), Code: code, ExpiresAt: expiry})
}

func (h *ContractHandler) ConfirmPairing(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return badRequest(c, "invalid contract id")
	}
	var req dto.ConfirmPairingRequest
	if err := c.BodyParser(&req); err != nil || req.Code == "" {
		return badRequest(c, "code is required")
	}
	contract, err := h.contracts.ConfirmPairing(c.Context(), id, middleware.GetUserID(c), req.Code)
	if err != nil {
		return fail(c, h.log, err)
	}
	return ok(c, contract)
}

func (h *ContractHandler) RegeneratePairing(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return badRequest(c, "invalid contract id")
	}
	contract, code, err := h.contracts.RegeneratePairing(c.Context(), id, middleware.GetUserID(c))
	if err != nil {
		return fail(c, h.log, err)
	}
	return ok(c, dto.PairingResponse{ContractID: contract.ID.String(), Code: code, ExpiresAt: contract.PairingExpiry})
}

func (h *ContractHandler) MarkWorkDone(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return badRequest(c, "invalid contract id")
	}
	contract, err := h.contracts.MarkWorkDone(c.Context(), id, middleware.GetUserID(c))
	if err != nil {
		return fail(c, h.log, err)
	}
	return ok(c, contract)
}

func (h *ContractHandler) ConfirmCompletion(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return badRequest(c, "invalid contract id")
	}
	contract, err := h.contracts.ConfirmCompletion(c.Context(), id, middleware.GetUserID(c))
	if err != nil {
		return fail(c, h.log, err)
	}
	return ok(c, contract)
}

func (h *ContractHandler) Extend(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return badRequest(c, "invalid contract id")
	}
	var req dto.ExtendRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request")
	}
	contract, err := h.contracts.ExtendContract(c.Context(), id, middleware.GetUserID(c), services.ExtendInput{
		NewEndDate: req.NewEndDate,
		Reason:     req.Reason,
		Amount:     req.Amount,
	})
	if err != nil {
		return fail(c, h.log, err)
	}
	return ok(c, contract)
}

func (h *ContractHandler) ModifyPrice(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return badRequest(c, "invalid contract id")
	}
	var req dto.ModifyPriceRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request")
	}
	contract, err := h.contracts.ModifyPrice(c.Context(), id, middleware.GetUserID(c), req.NewPrice, req.Reason)
	if err != nil {
		return fail(c, h.log, err)
	}
	return ok(c, contract)
}

func (h *ContractHandler) Cancel(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return badRequest(c, "invalid contract id")
	}
	var req dto.ReasonRequest
	_ = c.BodyParser(&req)
	contract, err := h.contracts.CancelContract(c.Context(), id, middleware.GetUserID(c), req.Reason)
	if err != nil {
		return fail(c, h.log, err)
	}
	return ok(c, contract)
}

func (h *ContractHandler) RaiseDispute(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return badRequest(c, "invalid contract id")
	}
	var req dto.ReasonRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request")
	}
	contract, err := h.contracts.RaiseDispute(c.Context(), id, middleware.GetUserID(c), req.Reason)
	if err != nil {
		return fail(c, h.log, err)
	}
	return ok(c, contract)
}

func (h *ContractHandler) ResolveDispute(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return badRequest(c, "invalid contract id")
	}
	var req dto.ResolveDisputeRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request")
	}
	contract, err := h.contracts.ResolveDispute(c.Context(), id, middleware.GetUserID(c), req.Resolution, req.FavourWorker)
	if err != nil {
		return fail(c, h.log, err)
	}
	return ok(c, contract)
}

func (h *ContractHandler) Delete(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return badRequest(c, "invalid contract id")
	}
	if err := h.contracts.SoftDelete(c.Context(), id, middleware.GetUserID(c)); err != nil {
		return fail(c, h.log, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// AuditTrail lists the contract's audit entries to its parties and support.
func (h *ContractHandler) AuditTrail(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return badRequest(c, "invalid contract id")
	}
	if _, err := h.contracts.GetContract(c.Context(), id, middleware.GetUserID(c)); err != nil {
		return fail(c, h.log, err)
	}
	limit, offset := pagination(c)
	entries, err := h.audit.GetByEntity(c.Context(), "contract", id, limit, offset)
	if err != nil {
		return fail(c, h.log, err)
	}
	return ok(c, entries)
}

// Tickets is support-only.
func (h *ContractHandler) Tickets(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return badRequest(c, "invalid contract id")
	}
	if !h.cfg.IsSupport(middleware.GetUserID(c)) {
		return c.Status(fiber.StatusForbidden).JSON(dto.ErrorResponse{Error: "support access required"})
	}
	tickets, err := h.tickets.ListByContract(c.Context(), id)
	if err != nil {
		return fail(c, h.log, err)
	}
	return ok(c, tickets)
}

func (h *ContractHandler) BalanceTransactions(c *fiber.Ctx) error {
	limit, offset := pagination(c)
	txs, err := h.contracts.ListBalanceTransactions(c.Context(), middleware.GetUserID(c), limit, offset)
	if err != nil {
		return fail(c, h.log, err)
	}
	return ok(c, txs)
}
