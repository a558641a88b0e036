package webhook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"payhook/internal/ledger"
	"payhook/internal/lock"
	"payhook/internal/metrics"
	"payhook/internal/types"
)

// OutcomeStatus is the result of processing one delivery.
type OutcomeStatus string

const (
	OutcomeProcessed        OutcomeStatus = "processed"
	OutcomeIgnored          OutcomeStatus = "ignored"
	OutcomeAlreadyProcessed OutcomeStatus = "already_processed"
	OutcomeFailed           OutcomeStatus = "failed"
	OutcomeInProgress       OutcomeStatus = "in_progress"
)

// Outcome describes what happened to an event. Recoverable is only
// meaningful when Status is OutcomeFailed.
type Outcome struct {
	Status      OutcomeStatus
	Recoverable bool
	Unmapped    bool
	EventID     string
	LedgerID    string
	Err         error
}

// unmappedError is implemented by mutator errors that mean "this event
// refers to a subscription we do not own". Those are recorded as processed.
type unmappedError interface {
	Unmapped() bool
}

// Processor runs an already-authenticated event through the ledger and the
// router. It is shared by the HTTP endpoint and the replay worker.
type Processor struct {
	ledger  ledger.Store
	router  *Router
	locker  lock.Locker
	metrics metrics.Recorder
	logger  *slog.Logger
	now     func() time.Time
}

// ProcessorOption configures optional Processor collaborators.
type ProcessorOption func(*Processor)

func WithLocker(l lock.Locker) ProcessorOption {
	return func(p *Processor) { p.locker = l }
}

func WithMetrics(m metrics.Recorder) ProcessorOption {
	return func(p *Processor) { p.metrics = m }
}

func WithProcessorClock(now func() time.Time) ProcessorOption {
	return func(p *Processor) { p.now = now }
}

func NewProcessor(store ledger.Store, router *Router, logger *slog.Logger, opts ...ProcessorOption) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Processor{
		ledger:  store,
		router:  router,
		locker:  lock.Noop{},
		metrics: metrics.Noop{},
		logger:  logger,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process applies ev at most once. raw is the exact body that was verified
// and is stored in the ledger on first sighting. A non-nil error means the
// ledger itself could not be read or written; the caller should answer with
// a retryable status.
func (p *Processor) Process(ctx context.Context, ev *types.ProviderEvent, raw []byte) (Outcome, error) {
	start := p.now()
	ctx = types.WithEventID(ctx, ev.ID)
	log := p.logger.With("event_id", ev.ID, "event_type", ev.Type)

	release, err := p.locker.Acquire(ctx, ev.ID)
	switch {
	case errors.Is(err, lock.ErrNotAcquired):
		log.InfoContext(ctx, "event is being processed by another instance")
		out := Outcome{Status: OutcomeInProgress, EventID: ev.ID}
		p.record(ctx, ev, out, start)
		return out, nil
	case err != nil:
		// The lock only narrows a race the ledger already tolerates.
		log.WarnContext(ctx, "event lock unavailable, continuing without it", "error", err)
	default:
		defer release()
	}

	out, err := p.process(ctx, log, ev, raw)
	if err != nil {
		return Outcome{}, err
	}
	p.record(ctx, ev, out, start)
	return out, nil
}

func (p *Processor) process(ctx context.Context, log *slog.Logger, ev *types.ProviderEvent, raw []byte) (Outcome, error) {
	rec, err := p.claim(ctx, log, ev, raw)
	if err != nil {
		return Outcome{}, err
	}
	out := Outcome{EventID: ev.ID, LedgerID: rec.ID}

	if rec.Status.IsTerminal() {
		log.InfoContext(ctx, "event already handled", "ledger_status", rec.Status)
		out.Status = OutcomeAlreadyProcessed
		return out, nil
	}

	handler, ok := p.router.Route(ev.Type)
	if !ok {
		if err := p.ledger.MarkIgnored(ctx, rec.ID); err != nil {
			return p.settleRace(ctx, log, out, err)
		}
		log.DebugContext(ctx, "event type not handled")
		out.Status = OutcomeIgnored
		return out, nil
	}

	ev.LedgerID = rec.ID
	herr := handler(ctx, ev)

	var unmapped unmappedError
	switch {
	case herr == nil:
		err = p.ledger.MarkProcessed(ctx, rec.ID, "")
		out.Status = OutcomeProcessed

	case errors.As(herr, &unmapped) && unmapped.Unmapped():
		log.WarnContext(ctx, "event references an unmapped subscription", "error", herr)
		err = p.ledger.MarkProcessed(ctx, rec.ID, ledger.UnmappedTag+" "+herr.Error())
		out.Status = OutcomeProcessed
		out.Unmapped = true

	default:
		out.Status = OutcomeFailed
		out.Err = herr
		out.Recoverable = IsRecoverable(herr)
		detail := herr.Error()
		if out.Recoverable {
			detail = ledger.RecoverableTag + " " + detail
		}
		log.ErrorContext(ctx, "event processing failed", "error", herr, "recoverable", out.Recoverable)
		err = p.ledger.MarkFailed(ctx, rec.ID, detail)
	}

	if err != nil {
		return p.settleRace(ctx, log, out, err)
	}
	return out, nil
}

// claim returns the ledger record for ev, creating it on first sighting and
// resetting it when a previous attempt failed. The returned record is either
// terminal or PENDING.
func (p *Processor) claim(ctx context.Context, log *slog.Logger, ev *types.ProviderEvent, raw []byte) (*ledger.Record, error) {
	rec, err := p.ledger.Lookup(ctx, ev.ID)
	if err != nil {
		return nil, fmt.Errorf("ledger lookup: %w", err)
	}

	if rec == nil {
		rec, err = p.ledger.Create(ctx, ev.ID, ev.Type, raw, ev.CreatedAt())
		if err == nil {
			return rec, nil
		}
		if !errors.Is(err, ledger.ErrDuplicateEvent) {
			return nil, fmt.Errorf("ledger create: %w", err)
		}
		// Lost the insert race to a concurrent delivery.
		rec, err = p.ledger.Lookup(ctx, ev.ID)
		if err != nil {
			return nil, fmt.Errorf("ledger lookup after duplicate: %w", err)
		}
		if rec == nil {
			return nil, fmt.Errorf("ledger: record for %s missing after duplicate create", ev.ID)
		}
	}

	switch rec.Status {
	case ledger.StatusFailed:
		err := p.ledger.ResetForRetry(ctx, rec.ID)
		if errors.Is(err, ledger.ErrInvalidTransition) {
			// Someone else reset or finished it first; use their view.
			return p.relookup(ctx, ev.ID)
		}
		if err != nil {
			return nil, fmt.Errorf("ledger reset: %w", err)
		}
		log.InfoContext(ctx, "retrying previously failed event", "attempts", rec.Attempts+1)
		rec.Status = ledger.StatusPending
		rec.ProcessedAt = nil
		rec.LastError = nil
		rec.Attempts++
	case ledger.StatusPending:
		log.DebugContext(ctx, "re-entering pending event")
	}
	return rec, nil
}

func (p *Processor) relookup(ctx context.Context, eventID string) (*ledger.Record, error) {
	rec, err := p.ledger.Lookup(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("ledger lookup: %w", err)
	}
	if rec == nil {
		return nil, fmt.Errorf("ledger: record for %s disappeared", eventID)
	}
	return rec, nil
}

// settleRace handles a failed final ledger write. When another delivery
// finalized the record first, the outcome follows the stored state.
func (p *Processor) settleRace(ctx context.Context, log *slog.Logger, out Outcome, writeErr error) (Outcome, error) {
	if !errors.Is(writeErr, ledger.ErrInvalidTransition) {
		return Outcome{}, fmt.Errorf("ledger finalize: %w", writeErr)
	}
	rec, err := p.relookup(ctx, out.EventID)
	if err != nil {
		return Outcome{}, err
	}
	log.InfoContext(ctx, "ledger record finalized concurrently", "ledger_status", rec.Status)
	if rec.Status.IsTerminal() {
		return Outcome{Status: OutcomeAlreadyProcessed, EventID: out.EventID, LedgerID: rec.ID}, nil
	}
	// A concurrent attempt failed while ours ran. Ask for a redelivery so
	// the record converges.
	return Outcome{
		Status:      OutcomeFailed,
		Recoverable: true,
		EventID:     out.EventID,
		LedgerID:    rec.ID,
		Err:         fmt.Errorf("concurrent delivery left record %s", rec.Status),
	}, nil
}

func (p *Processor) record(ctx context.Context, ev *types.ProviderEvent, out Outcome, start time.Time) {
	label := string(out.Status)
	if out.Status == OutcomeFailed {
		if out.Recoverable {
			label = "failed_recoverable"
		} else {
			label = "failed_permanent"
		}
	}
	p.metrics.RecordOutcome(ctx, ev.Type, label, p.now().Sub(start))
}
