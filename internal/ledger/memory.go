package ledger

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store and Archive. It enforces the same
// unique-event and guarded-transition rules as the PostgreSQL repository.
// Tests use it in place of the database.
type MemoryStore struct {
	mu      sync.Mutex
	byEvent map[string]*Record
	byID    map[string]*Record
	now     func() time.Time
	creates int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byEvent: make(map[string]*Record),
		byID:    make(map[string]*Record),
		now:     time.Now,
	}
}

func (s *MemoryStore) Lookup(_ context.Context, eventID string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.byEvent[eventID]
	if !ok {
		return nil, nil
	}
	return copyRecord(rec), nil
}

func (s *MemoryStore) Create(_ context.Context, eventID, eventType string, raw []byte, createdAt time.Time) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byEvent[eventID]; ok {
		return nil, ErrDuplicateEvent
	}
	rec := &Record{
		ID:         uuid.NewString(),
		EventID:    eventID,
		EventType:  eventType,
		Status:     StatusPending,
		ReceivedAt: s.now().UTC(),
		Attempts:   1,
		RawPayload: append([]byte(nil), raw...),
	}
	if !createdAt.IsZero() {
		ts := createdAt.UTC()
		rec.EventCreatedAt = &ts
	}
	s.byEvent[eventID] = rec
	s.byID[rec.ID] = rec
	s.creates++
	return copyRecord(rec), nil
}

func (s *MemoryStore) ResetForRetry(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	if rec.Status != StatusFailed {
		return ErrInvalidTransition
	}
	rec.Status = StatusPending
	rec.ProcessedAt = nil
	rec.LastError = nil
	rec.Attempts++
	return nil
}

func (s *MemoryStore) MarkProcessed(_ context.Context, id, note string) error {
	return s.finish(id, StatusProcessed, note)
}

func (s *MemoryStore) MarkIgnored(_ context.Context, id string) error {
	return s.finish(id, StatusIgnored, "")
}

func (s *MemoryStore) MarkFailed(_ context.Context, id, detail string) error {
	return s.finish(id, StatusFailed, detail)
}

func (s *MemoryStore) finish(id string, to Status, detail string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	if rec.Status != StatusPending {
		return ErrInvalidTransition
	}
	now := s.now().UTC()
	rec.Status = to
	rec.ProcessedAt = &now
	rec.LastError = nil
	if detail != "" {
		d := detail
		rec.LastError = &d
	}
	return nil
}

func (s *MemoryStore) ListByStatus(_ context.Context, status Status, limit int) ([]*Record, error) {
	return s.list(limit, func(r *Record) bool { return r.Status == status }), nil
}

func (s *MemoryStore) ListUnmapped(_ context.Context, limit int) ([]*Record, error) {
	return s.list(limit, func(r *Record) bool {
		return r.Status == StatusProcessed && r.LastError != nil && strings.HasPrefix(*r.LastError, UnmappedTag)
	}), nil
}

func (s *MemoryStore) ReopenUnmapped(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	if rec.Status != StatusProcessed || rec.LastError == nil || !strings.HasPrefix(*rec.LastError, UnmappedTag) {
		return ErrInvalidTransition
	}
	rec.Status = StatusPending
	rec.ProcessedAt = nil
	rec.LastError = nil
	rec.Attempts++
	return nil
}

func (s *MemoryStore) list(limit int, keep func(*Record) bool) []*Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Record
	for _, rec := range s.byEvent {
		if keep(rec) {
			out = append(out, copyRecord(rec))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReceivedAt.Before(out[j].ReceivedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (s *MemoryStore) LoadPayload(_ context.Context, eventID string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.byEvent[eventID]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), rec.RawPayload...), nil
}

// Len returns the number of ledger rows.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byEvent)
}

// Creates returns how many rows were ever inserted, which lets tests
// assert that a retry did not produce a second row.
func (s *MemoryStore) Creates() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creates
}

// Force overwrites the status of a record. Test setup only.
func (s *MemoryStore) Force(eventID string, status Status, lastError string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.byEvent[eventID]
	if !ok {
		return
	}
	rec.Status = status
	rec.LastError = nil
	if lastError != "" {
		rec.LastError = &lastError
	}
}

func copyRecord(rec *Record) *Record {
	cp := *rec
	if rec.ProcessedAt != nil {
		ts := *rec.ProcessedAt
		cp.ProcessedAt = &ts
	}
	if rec.LastError != nil {
		msg := *rec.LastError
		cp.LastError = &msg
	}
	if rec.EventCreatedAt != nil {
		ts := *rec.EventCreatedAt
		cp.EventCreatedAt = &ts
	}
	cp.RawPayload = nil
	return &cp
}
