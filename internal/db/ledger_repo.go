package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"payhook/internal/ledger"
	"payhook/internal/types"
)

var (
	_ ledger.Store   = (*LedgerRepo)(nil)
	_ ledger.Archive = (*LedgerRepo)(nil)
)

const ledgerColumns = `id, event_id, event_type, status, received_at, processed_at, last_error, attempts, event_created_at`

// LedgerRepo stores webhook_events rows. The unique constraint on event_id
// decides which of two concurrent first deliveries creates the row; every
// status update is guarded by the expected current status.
type LedgerRepo struct {
	db  DBTX
	now func() time.Time
}

func NewLedgerRepo(db DBTX) *LedgerRepo {
	return &LedgerRepo{db: db, now: time.Now}
}

func (r *LedgerRepo) Lookup(ctx context.Context, eventID string) (*ledger.Record, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+ledgerColumns+` FROM webhook_events WHERE event_id = $1`,
		eventID,
	)
	rec, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to look up ledger record", err)
	}
	return rec, nil
}

func (r *LedgerRepo) Create(ctx context.Context, eventID, eventType string, raw []byte, createdAt time.Time) (*ledger.Record, error) {
	rec := &ledger.Record{
		ID:        uuid.NewString(),
		EventID:   eventID,
		EventType: eventType,
		Status:    ledger.StatusPending,
		Attempts:  1,
	}
	if !createdAt.IsZero() {
		ts := createdAt.UTC()
		rec.EventCreatedAt = &ts
	}

	err := r.db.QueryRow(ctx,
		`INSERT INTO webhook_events (id, event_id, event_type, status, raw_payload, attempts, event_created_at)
		 VALUES ($1, $2, $3, $4, $5, 1, $6)
		 RETURNING received_at`,
		rec.ID, eventID, eventType, string(ledger.StatusPending), compressPayload(raw), rec.EventCreatedAt,
	).Scan(&rec.ReceivedAt)
	if isUniqueViolation(err) {
		return nil, ledger.ErrDuplicateEvent
	}
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to create ledger record", err)
	}
	return rec, nil
}

func (r *LedgerRepo) ResetForRetry(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE webhook_events
		 SET status = $2, processed_at = NULL, last_error = NULL, attempts = attempts + 1
		 WHERE id = $1 AND status = $3`,
		id, string(ledger.StatusPending), string(ledger.StatusFailed),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to reopen ledger record", err)
	}
	if tag.RowsAffected() == 0 {
		return ledger.ErrInvalidTransition
	}
	return nil
}

func (r *LedgerRepo) MarkProcessed(ctx context.Context, id, note string) error {
	return r.finish(ctx, id, ledger.StatusProcessed, note)
}

func (r *LedgerRepo) MarkIgnored(ctx context.Context, id string) error {
	return r.finish(ctx, id, ledger.StatusIgnored, "")
}

func (r *LedgerRepo) MarkFailed(ctx context.Context, id, detail string) error {
	return r.finish(ctx, id, ledger.StatusFailed, detail)
}

// finish moves a PENDING record to a final or failed status.
func (r *LedgerRepo) finish(ctx context.Context, id string, to ledger.Status, detail string) error {
	var lastError *string
	if detail != "" {
		lastError = &detail
	}
	tag, err := r.db.Exec(ctx,
		`UPDATE webhook_events
		 SET status = $2, processed_at = $3, last_error = $4
		 WHERE id = $1 AND status = $5`,
		id, string(to), r.now().UTC(), lastError, string(ledger.StatusPending),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, fmt.Sprintf("failed to mark ledger record %s", to), err)
	}
	if tag.RowsAffected() == 0 {
		return ledger.ErrInvalidTransition
	}
	return nil
}

func (r *LedgerRepo) ListByStatus(ctx context.Context, status ledger.Status, limit int) ([]*ledger.Record, error) {
	return r.list(ctx,
		`SELECT `+ledgerColumns+` FROM webhook_events
		 WHERE status = $1
		 ORDER BY received_at
		 LIMIT $2`,
		string(status), limit,
	)
}

func (r *LedgerRepo) ListUnmapped(ctx context.Context, limit int) ([]*ledger.Record, error) {
	return r.list(ctx,
		`SELECT `+ledgerColumns+` FROM webhook_events
		 WHERE status = $1 AND last_error LIKE $2
		 ORDER BY received_at
		 LIMIT $3`,
		string(ledger.StatusProcessed), ledger.UnmappedTag+"%", limit,
	)
}

func (r *LedgerRepo) ReopenUnmapped(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE webhook_events
		 SET status = $2, processed_at = NULL, last_error = NULL, attempts = attempts + 1
		 WHERE id = $1 AND status = $3 AND last_error LIKE $4`,
		id, string(ledger.StatusPending), string(ledger.StatusProcessed), ledger.UnmappedTag+"%",
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to reopen unmapped record", err)
	}
	if tag.RowsAffected() == 0 {
		return ledger.ErrInvalidTransition
	}
	return nil
}

func (r *LedgerRepo) list(ctx context.Context, sql string, args ...any) ([]*ledger.Record, error) {
	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list ledger records", err)
	}
	defer rows.Close()

	var out []*ledger.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan ledger record", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to iterate ledger records", err)
	}
	return out, nil
}

func (r *LedgerRepo) LoadPayload(ctx context.Context, eventID string) ([]byte, error) {
	var stored []byte
	err := r.db.QueryRow(ctx,
		`SELECT raw_payload FROM webhook_events WHERE event_id = $1`,
		eventID,
	).Scan(&stored)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ledger.ErrNotFound
	}
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to load event payload", err)
	}
	raw, err := decompressPayload(stored)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalCodec, "failed to decompress event payload", err)
	}
	return raw, nil
}

func scanRecord(row pgx.Row) (*ledger.Record, error) {
	var (
		rec    ledger.Record
		status string
	)
	err := row.Scan(
		&rec.ID,
		&rec.EventID,
		&rec.EventType,
		&status,
		&rec.ReceivedAt,
		&rec.ProcessedAt,
		&rec.LastError,
		&rec.Attempts,
		&rec.EventCreatedAt,
	)
	if err != nil {
		return nil, err
	}
	rec.Status = ledger.Status(status)
	return &rec, nil
}
