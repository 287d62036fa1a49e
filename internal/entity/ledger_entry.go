package entity

import (
	"time"

	"github.com/joseph-ayodele/receipts-inbox/constants"
)

// LedgerEntry represents one processing_ledger row for data transfer between layers.
// RawContent is only populated by the single-entry internal read used for retries.
type LedgerEntry struct {
	Fingerprint  string                 `json:"fingerprint"`
	SenderEmail  string                 `json:"sender_email"`
	Subject      string                 `json:"subject"`
	RawContent   string                 `json:"-"`
	Status       constants.LedgerStatus `json:"status"`
	ErrorMessage *string                `json:"error_message,omitempty"`
	OrderID      *string                `json:"order_id,omitempty"`
	ProcessedAt  *time.Time             `json:"processed_at,omitempty"`
	CreatedAt    time.Time              `json:"created_at"`
	UpdatedAt    time.Time              `json:"updated_at"`
}

// Redacted returns a copy safe for external exposure.
func (e *LedgerEntry) Redacted() *LedgerEntry {
	if e == nil {
		return nil
	}
	out := *e
	out.RawContent = ""
	return &out
}

// QueuedMessage is the transient unit moved through the ingestion queue.
type QueuedMessage struct {
	Fingerprint string
	SenderEmail string
	Subject     string
	Content     string
	ArrivedAt   time.Time
}

// FromLedgerEntry rebuilds the queue unit for a retry.
func FromLedgerEntry(e *LedgerEntry, now time.Time) QueuedMessage {
	return QueuedMessage{
		Fingerprint: e.Fingerprint,
		SenderEmail: e.SenderEmail,
		Subject:     e.Subject,
		Content:     e.RawContent,
		ArrivedAt:   now,
	}
}
