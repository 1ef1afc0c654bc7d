package outbox

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/aidchain-escrow-ledger/internal/domain/shared"
	"github.com/aidchain-escrow-ledger/internal/domain/txlog"
)

// Message stores a committed transaction log entry for reliable publishing
// to the audit feed. Rows are written in the same database transaction as
// the ledger snapshot, so a crash between commit and publish cannot lose an
// audit event.
type Message struct {
	ID            int64               `json:"id"`
	Sequence      int64               `json:"sequence"` // Log sequence of the wrapped entry
	ProjectID     uuid.UUID           `json:"project_id"`
	Payload       json.RawMessage     `json:"payload"`
	Status        shared.OutboxStatus `json:"status"`
	Attempts      int                 `json:"attempts"`
	CreatedAt     time.Time           `json:"created_at"`
	LastAttemptAt *time.Time          `json:"last_attempt_at,omitempty"`
}

func NewMessage(entry *txlog.Entry) (*Message, error) {
	payload, err := json.Marshal(entry)
	if err != nil {
		return nil, err
	}

	return &Message{
		Sequence:  entry.Sequence,
		ProjectID: entry.ProjectID,
		Payload:   payload,
		Status:    shared.OutboxStatusPending,
		Attempts:  0,
		CreatedAt: time.Now(),
	}, nil
}

func (m *Message) IncrementAttempts() {
	m.Attempts++
	now := time.Now()
	m.LastAttemptAt = &now
}

func (m *Message) MarkAsProcessed() {
	m.Status = shared.OutboxStatusProcessed
	now := time.Now()
	m.LastAttemptAt = &now
}

func (m *Message) MarkAsFailed() {
	m.Status = shared.OutboxStatusFailedToPublish
	now := time.Now()
	m.LastAttemptAt = &now
}

// GetLogEntry extracts the transaction log entry from the payload
func (m *Message) GetLogEntry() (*txlog.Entry, error) {
	var entry txlog.Entry
	if err := json.Unmarshal(m.Payload, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}
