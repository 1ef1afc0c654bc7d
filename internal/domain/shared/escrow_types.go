package shared

// OperationType defines the money-moving escrow operations
type OperationType string

const (
	OperationDonate  OperationType = "DONATE"
	OperationRelease OperationType = "RELEASE"
	OperationCancel  OperationType = "CANCEL"
)

// RequestStatus defines escrow request processing states as seen by intake
// callers
type RequestStatus string

const (
	RequestStatusPending     RequestStatus = "PENDING"
	RequestStatusCompleted   RequestStatus = "COMPLETED"
	RequestStatusFailed      RequestStatus = "FAILED"
	RequestStatusReconciling RequestStatus = "RECONCILING"
)

// FailureReason defines escrow failure categories recorded in the
// transaction log
type FailureReason string

const (
	FailureReasonProjectNotFound    FailureReason = "PROJECT_NOT_FOUND"
	FailureReasonMilestoneNotFound  FailureReason = "MILESTONE_NOT_FOUND"
	FailureReasonInvalidAmount      FailureReason = "INVALID_AMOUNT"
	FailureReasonInvalidState       FailureReason = "INVALID_PROJECT_STATE"
	FailureReasonInvalidTransition  FailureReason = "INVALID_MILESTONE_TRANSITION"
	FailureReasonInsufficientFunds  FailureReason = "INSUFFICIENT_UNDISBURSED_FUNDS"
	FailureReasonSettlementFailed   FailureReason = "SETTLEMENT_FAILED"
	FailureReasonSettlementUnknown  FailureReason = "SETTLEMENT_OUTCOME_UNKNOWN"
	FailureReasonReconciliationOpen FailureReason = "RECONCILIATION_OPEN"
	FailureReasonUnknownError       FailureReason = "UNKNOWN_ERROR"
)

// OutboxStatus defines audit feed publishing states
type OutboxStatus string

const (
	OutboxStatusPending         OutboxStatus = "PENDING"
	OutboxStatusProcessed       OutboxStatus = "PROCESSED"
	OutboxStatusFailedToPublish OutboxStatus = "FAILED_TO_PUBLISH"
)
