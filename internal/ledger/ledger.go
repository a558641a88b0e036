// Package ledger defines the durable record of every provider event seen by
// the service and the status machine that governs it.
//
//	PENDING ──► PROCESSED | IGNORED | FAILED
//	FAILED  ──► PENDING   (redelivery or replay)
//
// PROCESSED and IGNORED are terminal.
package ledger

import (
	"context"
	"errors"
	"time"
)

// Status is the processing state of a ledger record.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusProcessed Status = "PROCESSED"
	StatusIgnored   Status = "IGNORED"
	StatusFailed    Status = "FAILED"
)

// Error detail prefixes stored in Record.LastError.
const (
	RecoverableTag = "[RECOVERABLE]"
	UnmappedTag    = "[UNMAPPED]"
)

var (
	// ErrDuplicateEvent is returned by Create when a record for the event id
	// already exists.
	ErrDuplicateEvent = errors.New("ledger: event already recorded")

	// ErrInvalidTransition is returned when a status update is not permitted
	// from the record's current status.
	ErrInvalidTransition = errors.New("ledger: invalid status transition")

	// ErrNotFound is returned by lookups that require the record to exist.
	ErrNotFound = errors.New("ledger: record not found")
)

// Valid reports whether s is one of the four known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessed, StatusIgnored, StatusFailed:
		return true
	}
	return false
}

// IsTerminal reports whether no further transitions are allowed.
func (s Status) IsTerminal() bool {
	return s == StatusProcessed || s == StatusIgnored
}

// CanTransition reports whether a record may move from one status to another.
// PENDING to PENDING is a re-entry and never written.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusPending || to == StatusProcessed || to == StatusIgnored || to == StatusFailed
	case StatusFailed:
		return to == StatusPending
	default:
		return false
	}
}

// Record is one ledger row. RawPayload is only populated by LoadPayload
// callers; Lookup leaves it nil.
type Record struct {
	ID             string
	EventID        string
	EventType      string
	Status         Status
	ReceivedAt     time.Time
	ProcessedAt    *time.Time
	LastError      *string
	Attempts       int
	EventCreatedAt *time.Time
	RawPayload     []byte
}

// Store is the persistence contract used by the event processor. Status
// updates are guarded by the current status so a concurrent writer that lost
// the race gets ErrInvalidTransition instead of clobbering the winner.
type Store interface {
	// Lookup returns the record for eventID, or nil, nil when absent.
	Lookup(ctx context.Context, eventID string) (*Record, error)
	// Create inserts a PENDING record. Returns ErrDuplicateEvent when the
	// event id is already present.
	Create(ctx context.Context, eventID, eventType string, raw []byte, createdAt time.Time) (*Record, error)
	// ResetForRetry moves a FAILED record back to PENDING and clears
	// processed_at and last_error.
	ResetForRetry(ctx context.Context, id string) error
	// MarkProcessed moves a PENDING record to PROCESSED. A non-empty note
	// is kept in last_error.
	MarkProcessed(ctx context.Context, id, note string) error
	MarkIgnored(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id, detail string) error
}

// Archive exposes the paths used by replay and operator tooling.
type Archive interface {
	ListByStatus(ctx context.Context, status Status, limit int) ([]*Record, error)
	ListUnmapped(ctx context.Context, limit int) ([]*Record, error)
	LoadPayload(ctx context.Context, eventID string) ([]byte, error)
	// ReopenUnmapped moves a PROCESSED record whose last_error carries
	// UnmappedTag back to PENDING so replay can apply it once the
	// subscription exists. Any other record yields ErrInvalidTransition.
	// Provider redelivery never reaches this path.
	ReopenUnmapped(ctx context.Context, id string) error
}
