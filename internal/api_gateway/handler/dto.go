package handler

// MilestoneDraftRequest represents one milestone in a project creation request
type MilestoneDraftRequest struct {
	Title        string `json:"title" binding:"required"`
	Description  string `json:"description"`
	TargetAmount int64  `json:"target_amount" binding:"required,gt=0"`
}

// CreateProjectRequest represents a request to create a new project
type CreateProjectRequest struct {
	Name         string                  `json:"name" binding:"required"`
	Description  string                  `json:"description"`
	Location     string                  `json:"location"`
	Category     string                  `json:"category" binding:"required,oneof=DROUGHT HUNGER POVERTY OTHER"`
	NGOAccount   string                  `json:"ngo_account" binding:"required"`
	TargetAmount int64                   `json:"target_amount" binding:"required,gt=0"`
	Milestones   []MilestoneDraftRequest `json:"milestones" binding:"required,min=1,dive"`
}

// MilestoneResponse represents a milestone in API responses
type MilestoneResponse struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	Description  string `json:"description,omitempty"`
	TargetAmount int64  `json:"target_amount"`
	Status       string `json:"status"`
	ProofHash    string `json:"proof_hash,omitempty"`
	CompletedAt  string `json:"completed_at,omitempty"`
	VerifiedAt   string `json:"verified_at,omitempty"`
}

// ProjectResponse represents a project in API responses
type ProjectResponse struct {
	ID             string              `json:"id"`
	Name           string              `json:"name"`
	Description    string              `json:"description,omitempty"`
	Location       string              `json:"location,omitempty"`
	Category       string              `json:"category"`
	NGOAccount     string              `json:"ngo_account"`
	TargetAmount   int64               `json:"target_amount"`
	RaisedAmount   int64               `json:"raised_amount"`
	ReleasedAmount int64               `json:"released_amount"`
	Undisbursed    int64               `json:"undisbursed"`
	Overfunded     bool                `json:"overfunded"`
	Status         string              `json:"status"`
	Milestones     []MilestoneResponse `json:"milestones"`
	CreatedAt      string              `json:"created_at"`
	UpdatedAt      string              `json:"updated_at"`
}

// DonateRequest represents a request to queue a donation
type DonateRequest struct {
	ProjectID      string `json:"project_id" binding:"required,uuid"`
	DonorRef       string `json:"donor_ref" binding:"required"`
	Amount         int64  `json:"amount" binding:"required,gt=0"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// CompleteMilestoneRequest carries the delivery evidence for a milestone
type CompleteMilestoneRequest struct {
	ProofHash string `json:"proof_hash" binding:"required"`
}

// ReleaseFundsRequest represents a request to queue a milestone release.
// The body is optional; an omitted idempotency key gets a generated one.
type ReleaseFundsRequest struct {
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// CancelProjectRequest represents a request to queue a project cancellation
type CancelProjectRequest struct {
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// HistoryEntryResponse represents a transaction log entry in API responses
type HistoryEntryResponse struct {
	Sequence      int64  `json:"sequence"`
	Kind          string `json:"kind"`
	ProjectID     string `json:"project_id"`
	MilestoneID   string `json:"milestone_id,omitempty"`
	DonorRef      string `json:"donor_ref,omitempty"`
	Amount        int64  `json:"amount"`
	SettlementRef string `json:"settlement_ref,omitempty"`
	FailureReason string `json:"failure_reason,omitempty"`
	Timestamp     string `json:"timestamp"`
}

// EscrowAcceptedResponse acknowledges a queued escrow request
type EscrowAcceptedResponse struct {
	RequestID      string `json:"request_id"`
	ProjectID      string `json:"project_id"`
	Operation      string `json:"operation"`
	IdempotencyKey string `json:"idempotency_key"`
	Status         string `json:"status"`
}

// RequestStatusResponse reports the processing state of an escrow request
type RequestStatusResponse struct {
	IdempotencyKey string                `json:"idempotency_key"`
	Status         string                `json:"status"`
	Entry          *HistoryEntryResponse `json:"entry,omitempty"`
}

// PaginationParams represents pagination parameters for list endpoints
type PaginationParams struct {
	Page    int `form:"page,default=1" binding:"min=1"`
	PerPage int `form:"per_page,default=10" binding:"min=1,max=100"`
}
