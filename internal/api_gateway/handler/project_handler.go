package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/aidchain-escrow-ledger/internal/api_gateway/service"
	"github.com/aidchain-escrow-ledger/internal/domain/project"
	"github.com/aidchain-escrow-ledger/internal/domain/txlog"
)

// ProjectHandler handles HTTP requests for project operations
type ProjectHandler struct {
	projectService service.ProjectService
	logger         *slog.Logger
}

// NewProjectHandler creates a new project handler
func NewProjectHandler(logger *slog.Logger, projectService service.ProjectService) *ProjectHandler {
	return &ProjectHandler{
		projectService: projectService,
		logger:         logger,
	}
}

// Create handles creation of a new project with its milestone schedule.
// The milestone amounts must sum exactly to the target.
func (h *ProjectHandler) Create(c *gin.Context) {
	var req CreateProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", "error", err)
		RespondBadRequest(c, "Invalid request body: "+err.Error())
		return
	}

	drafts := make([]project.MilestoneDraft, 0, len(req.Milestones))
	for _, m := range req.Milestones {
		drafts = append(drafts, project.MilestoneDraft{
			Title:        m.Title,
			Description:  m.Description,
			TargetAmount: m.TargetAmount,
		})
	}

	p, err := h.projectService.CreateProject(c.Request.Context(), service.CreateProjectInput{
		Name:         req.Name,
		Description:  req.Description,
		Location:     req.Location,
		Category:     project.Category(req.Category),
		NGOAccount:   req.NGOAccount,
		TargetAmount: req.TargetAmount,
		Milestones:   drafts,
	})
	if err != nil {
		if errors.Is(err, project.ErrMilestoneSumMismatch) {
			RespondUnprocessable(c, "Milestone amounts must sum to the project target")
			return
		}
		if isProjectValidationError(err) {
			RespondBadRequest(c, err.Error())
			return
		}
		h.logger.Error("Failed to create project", "error", err)
		RespondInternalError(c)
		return
	}

	RespondCreated(c, mapProjectToResponse(p))
}

// GetByID retrieves a project snapshot by its ID, returning 404 if not found
func (h *ProjectHandler) GetByID(c *gin.Context) {
	id, ok := h.parseID(c, "id", "project")
	if !ok {
		return
	}

	p, err := h.projectService.GetProjectByID(c.Request.Context(), id)
	if err != nil {
		h.respondProjectError(c, err)
		return
	}

	RespondOK(c, mapProjectToResponse(p))
}

// List retrieves a paginated list of projects
func (h *ProjectHandler) List(c *gin.Context) {
	var pagination PaginationParams
	if err := c.ShouldBindQuery(&pagination); err != nil {
		h.logger.Error("Invalid pagination parameters", "error", err)
		RespondBadRequest(c, "Invalid pagination parameters")
		return
	}

	projects, total, err := h.projectService.ListProjects(c.Request.Context(), pagination.Page, pagination.PerPage)
	if err != nil {
		h.logger.Error("Failed to list projects", "error", err)
		RespondInternalError(c)
		return
	}

	responses := make([]ProjectResponse, 0, len(projects))
	for _, p := range projects {
		responses = append(responses, mapProjectToResponse(p))
	}

	RespondWithPaginatedData(c, http.StatusOK, responses, pagination.Page, pagination.PerPage, int(total))
}

// GetHistory retrieves the paginated transaction log view for a project
func (h *ProjectHandler) GetHistory(c *gin.Context) {
	id, ok := h.parseID(c, "id", "project")
	if !ok {
		return
	}

	var pagination PaginationParams
	if err := c.ShouldBindQuery(&pagination); err != nil {
		h.logger.Error("Invalid pagination parameters", "error", err)
		RespondBadRequest(c, "Invalid pagination parameters")
		return
	}

	entries, total, err := h.projectService.GetProjectHistory(c.Request.Context(), id, pagination.Page, pagination.PerPage)
	if err != nil {
		h.respondProjectError(c, err)
		return
	}

	history := make([]HistoryEntryResponse, 0, len(entries))
	for _, entry := range entries {
		history = append(history, mapEntryToResponse(entry))
	}

	RespondWithPaginatedData(c, http.StatusOK, history, pagination.Page, pagination.PerPage, int(total))
}

// StartMilestone transitions a pending milestone to in_progress
func (h *ProjectHandler) StartMilestone(c *gin.Context) {
	projectID, ok := h.parseID(c, "id", "project")
	if !ok {
		return
	}
	milestoneID, ok := h.parseID(c, "milestone_id", "milestone")
	if !ok {
		return
	}

	p, err := h.projectService.StartMilestone(c.Request.Context(), projectID, milestoneID)
	if err != nil {
		h.respondProjectError(c, err)
		return
	}

	RespondOK(c, mapProjectToResponse(p))
}

// CompleteMilestone records milestone delivery with its proof hash
func (h *ProjectHandler) CompleteMilestone(c *gin.Context) {
	projectID, ok := h.parseID(c, "id", "project")
	if !ok {
		return
	}
	milestoneID, ok := h.parseID(c, "milestone_id", "milestone")
	if !ok {
		return
	}

	var req CompleteMilestoneRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", "error", err)
		RespondBadRequest(c, "Invalid request body: "+err.Error())
		return
	}

	p, err := h.projectService.CompleteMilestone(c.Request.Context(), projectID, milestoneID, req.ProofHash)
	if err != nil {
		h.respondProjectError(c, err)
		return
	}

	RespondOK(c, mapProjectToResponse(p))
}

// parseID parses a UUID path parameter, responding 400 on failure
func (h *ProjectHandler) parseID(c *gin.Context, param, label string) (uuid.UUID, bool) {
	raw := c.Param(param)
	id, err := uuid.Parse(raw)
	if err != nil {
		h.logger.Error("Invalid "+label+" ID", "id", raw, "error", err)
		RespondBadRequest(c, "Invalid "+label+" ID")
		return uuid.Nil, false
	}
	return id, true
}

// respondProjectError maps domain errors to HTTP responses. State conflicts
// and optimistic lock failures read as 409, rejected transitions as 422.
func (h *ProjectHandler) respondProjectError(c *gin.Context, err error) {
	var concurrentErr project.ErrConcurrentModification
	switch {
	case errors.Is(err, project.ErrProjectNotFound{}):
		RespondNotFound(c, "Project not found")
	case errors.Is(err, project.ErrMilestoneNotFound{}):
		RespondNotFound(c, "Milestone not found")
	case errors.Is(err, project.ErrInvalidState):
		RespondConflict(c, "Operation not valid for current project status")
	case errors.As(err, &concurrentErr):
		RespondConflict(c, "Project was modified concurrently, retry the request")
	case errors.Is(err, project.ErrInvalidTransition):
		RespondUnprocessable(c, "Invalid milestone transition")
	case isProjectValidationError(err):
		RespondBadRequest(c, err.Error())
	default:
		h.logger.Error("Project operation failed", "error", err)
		RespondInternalError(c)
	}
}

func isProjectValidationError(err error) bool {
	return errors.Is(err, project.ErrInvalidAmount) ||
		errors.Is(err, project.ErrEmptyName) ||
		errors.Is(err, project.ErrNoMilestones) ||
		errors.Is(err, project.ErrMissingProof) ||
		errors.Is(err, project.ErrEmptyNGOAccount)
}

// mapProjectToResponse maps a project aggregate to a project response DTO
func mapProjectToResponse(p *project.Project) ProjectResponse {
	milestones := make([]MilestoneResponse, 0, len(p.Milestones))
	for _, m := range p.Milestones {
		mr := MilestoneResponse{
			ID:           m.ID.String(),
			Title:        m.Title,
			Description:  m.Description,
			TargetAmount: m.TargetAmount,
			Status:       string(m.Status),
			ProofHash:    m.ProofHash,
		}
		if m.CompletedAt != nil {
			mr.CompletedAt = m.CompletedAt.Format(time.RFC3339)
		}
		if m.VerifiedAt != nil {
			mr.VerifiedAt = m.VerifiedAt.Format(time.RFC3339)
		}
		milestones = append(milestones, mr)
	}

	return ProjectResponse{
		ID:             p.ID.String(),
		Name:           p.Name,
		Description:    p.Description,
		Location:       p.Location,
		Category:       string(p.Category),
		NGOAccount:     p.NGOAccount,
		TargetAmount:   p.TargetAmount,
		RaisedAmount:   p.RaisedAmount,
		ReleasedAmount: p.ReleasedAmount,
		Undisbursed:    p.Undisbursed(),
		Overfunded:     p.Overfunded(),
		Status:         string(p.Status),
		Milestones:     milestones,
		CreatedAt:      p.CreatedAt.Format(time.RFC3339),
		UpdatedAt:      p.UpdatedAt.Format(time.RFC3339),
	}
}

// mapEntryToResponse maps a transaction log entry to a history response DTO
func mapEntryToResponse(entry *txlog.Entry) HistoryEntryResponse {
	response := HistoryEntryResponse{
		Sequence:      entry.Sequence,
		Kind:          string(entry.Kind),
		ProjectID:     entry.ProjectID.String(),
		DonorRef:      entry.DonorRef,
		Amount:        entry.Amount,
		SettlementRef: entry.SettlementRef,
		FailureReason: entry.FailureReason,
		Timestamp:     entry.Timestamp.Format(time.RFC3339),
	}
	if entry.MilestoneID != nil {
		response.MilestoneID = entry.MilestoneID.String()
	}
	return response
}
