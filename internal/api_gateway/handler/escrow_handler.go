package handler

import (
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/aidchain-escrow-ledger/internal/api_gateway/middleware"
	"github.com/aidchain-escrow-ledger/internal/api_gateway/service"
	"github.com/aidchain-escrow-ledger/internal/domain/project"
	"github.com/aidchain-escrow-ledger/internal/domain/shared"
)

// EscrowHandler handles HTTP requests for money-moving escrow operations.
// Requests are validated and queued; settlement happens asynchronously in
// the escrow processor.
type EscrowHandler struct {
	intakeService service.EscrowIntakeService
	logger        *slog.Logger
}

// NewEscrowHandler creates a new escrow handler
func NewEscrowHandler(logger *slog.Logger, intakeService service.EscrowIntakeService) *EscrowHandler {
	return &EscrowHandler{
		intakeService: intakeService,
		logger:        logger,
	}
}

// Donate queues a donation to a project with idempotency support. Returns
// 202 with the request id, or 200 with the existing log entry when the
// idempotency key was already processed.
func (h *EscrowHandler) Donate(c *gin.Context) {
	var req DonateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", "error", err)
		RespondBadRequest(c, "Invalid request body: "+err.Error())
		return
	}

	projectID, err := uuid.Parse(req.ProjectID)
	if err != nil {
		h.logger.Error("Invalid project ID", "project_id", req.ProjectID, "error", err)
		RespondBadRequest(c, "Invalid project ID")
		return
	}

	request := h.buildRequest(c, projectID, shared.OperationDonate, req.IdempotencyKey)
	request.DonorRef = req.DonorRef
	request.Amount = req.Amount

	h.submit(c, request)
}

// Release queues a fund release for a completed milestone
func (h *EscrowHandler) Release(c *gin.Context) {
	projectID, milestoneID, ok := h.parsePathIDs(c)
	if !ok {
		return
	}

	var req ReleaseFundsRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		h.logger.Error("Invalid request body", "error", err)
		RespondBadRequest(c, "Invalid request body: "+err.Error())
		return
	}

	request := h.buildRequest(c, projectID, shared.OperationRelease, req.IdempotencyKey)
	request.MilestoneID = &milestoneID

	h.submit(c, request)
}

// Cancel queues a project cancellation, refunding undisbursed funds
func (h *EscrowHandler) Cancel(c *gin.Context) {
	idParam := c.Param("id")
	projectID, err := uuid.Parse(idParam)
	if err != nil {
		h.logger.Error("Invalid project ID", "id", idParam, "error", err)
		RespondBadRequest(c, "Invalid project ID")
		return
	}

	var req CancelProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		h.logger.Error("Invalid request body", "error", err)
		RespondBadRequest(c, "Invalid request body: "+err.Error())
		return
	}

	request := h.buildRequest(c, projectID, shared.OperationCancel, req.IdempotencyKey)

	h.submit(c, request)
}

// GetRequestStatus reports what happened to a queued escrow request
func (h *EscrowHandler) GetRequestStatus(c *gin.Context) {
	idempotencyKey := c.Param("idempotency_key")
	if idempotencyKey == "" {
		RespondBadRequest(c, "Missing idempotency key")
		return
	}

	status, entry, err := h.intakeService.GetRequestStatus(c.Request.Context(), idempotencyKey)
	if err != nil {
		h.logger.Error("Failed to get request status", "idempotency_key", idempotencyKey, "error", err)
		RespondInternalError(c)
		return
	}

	response := RequestStatusResponse{
		IdempotencyKey: idempotencyKey,
		Status:         string(status),
	}
	if entry != nil {
		mapped := mapEntryToResponse(entry)
		response.Entry = &mapped
	}

	RespondOK(c, response)
}

// buildRequest assembles the queue message. The client-supplied nonce is
// folded into a key scoped by project and operation, so the same nonce can
// be reused across different operations without colliding.
func (h *EscrowHandler) buildRequest(c *gin.Context, projectID uuid.UUID, operation shared.OperationType, nonce string) *shared.EscrowRequest {
	if nonce == "" {
		nonce = uuid.New().String()
	}

	return &shared.EscrowRequest{
		RequestID:      uuid.New(),
		ProjectID:      projectID,
		Operation:      operation,
		IdempotencyKey: shared.DeriveIdempotencyKey(projectID, operation, nonce),
		CorrelationID:  middleware.GetCorrelationID(c),
		Timestamp:      time.Now(),
	}
}

func (h *EscrowHandler) submit(c *gin.Context, request *shared.EscrowRequest) {
	existingEntry, err := h.intakeService.SubmitRequest(c.Request.Context(), request)
	if err != nil {
		switch {
		case errors.Is(err, project.ErrProjectNotFound{}):
			RespondNotFound(c, "Project not found")
		case errors.Is(err, service.ErrRequestReconciling):
			RespondConflict(c, "Request outcome is being confirmed, do not resubmit")
		case errors.Is(err, shared.ErrInvalidOperationType),
			errors.Is(err, shared.ErrMissingMilestoneID),
			errors.Is(err, shared.ErrMissingDonorRef):
			RespondBadRequest(c, err.Error())
		default:
			h.logger.Error("Failed to submit escrow request", "error", err)
			RespondInternalError(c)
		}
		return
	}

	if existingEntry != nil {
		RespondOK(c, mapEntryToResponse(existingEntry))
		return
	}

	RespondAccepted(c, EscrowAcceptedResponse{
		RequestID:      request.RequestID.String(),
		ProjectID:      request.ProjectID.String(),
		Operation:      string(request.Operation),
		IdempotencyKey: request.IdempotencyKey,
		Status:         string(shared.RequestStatusPending),
	})
}

func (h *EscrowHandler) parsePathIDs(c *gin.Context) (uuid.UUID, uuid.UUID, bool) {
	projectID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.logger.Error("Invalid project ID", "id", c.Param("id"), "error", err)
		RespondBadRequest(c, "Invalid project ID")
		return uuid.Nil, uuid.Nil, false
	}
	milestoneID, err := uuid.Parse(c.Param("milestone_id"))
	if err != nil {
		h.logger.Error("Invalid milestone ID", "milestone_id", c.Param("milestone_id"), "error", err)
		RespondBadRequest(c, "Invalid milestone ID")
		return uuid.Nil, uuid.Nil, false
	}
	return projectID, milestoneID, true
}
