package constants

import "strings"

// LedgerStatus is the canonical status for rows in processing_ledger.
type LedgerStatus string

// Stable values (store these exact strings in DB).
const (
	LedgerStatusPending    LedgerStatus = "PENDING"    // admitted, waiting in the queue
	LedgerStatusProcessing LedgerStatus = "PROCESSING" // picked up by the worker
	LedgerStatusCompleted  LedgerStatus = "COMPLETED"  // terminal: draft order created
	LedgerStatusFailed     LedgerStatus = "FAILED"     // terminal: retryable
	LedgerStatusDuplicate  LedgerStatus = "DUPLICATE"  // admission outcome only, never stored
)

var allLedgerStatuses = []LedgerStatus{
	LedgerStatusPending,
	LedgerStatusProcessing,
	LedgerStatusCompleted,
	LedgerStatusFailed,
	LedgerStatusDuplicate,
}

// Terminal reports whether the status ends a processing attempt.
func (s LedgerStatus) Terminal() bool {
	return s == LedgerStatusCompleted || s == LedgerStatusFailed
}

// ParseLedgerStatus accepts any casing and surrounding whitespace.
func ParseLedgerStatus(input string) (LedgerStatus, bool) {
	normalized := LedgerStatus(strings.ToUpper(strings.TrimSpace(input)))
	for _, s := range allLedgerStatuses {
		if s == normalized {
			return s, true
		}
	}
	return "", false
}

// StoredLedgerStatuses lists the statuses a ledger row can actually hold.
func StoredLedgerStatuses() []LedgerStatus {
	return []LedgerStatus{
		LedgerStatusPending,
		LedgerStatusProcessing,
		LedgerStatusCompleted,
		LedgerStatusFailed,
	}
}
