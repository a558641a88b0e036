package replay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/aws/aws-lambda-go/events"

	"payhook/internal/ledger"
	"payhook/internal/types"
	"payhook/internal/webhook"
)

// PayloadLoader reads the stored body of an event.
type PayloadLoader interface {
	LoadPayload(ctx context.Context, eventID string) ([]byte, error)
}

// EventProcessor applies an event at most once.
type EventProcessor interface {
	Process(ctx context.Context, ev *types.ProviderEvent, raw []byte) (webhook.Outcome, error)
}

// Worker handles SQS batches of replay requests. Signatures are not checked:
// the payload was verified when it first entered the ledger.
type Worker struct {
	payloads  PayloadLoader
	processor EventProcessor
	logger    *slog.Logger
}

func NewWorker(payloads PayloadLoader, processor EventProcessor, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{payloads: payloads, processor: processor, logger: logger}
}

// errRetry marks a message that should be redelivered by SQS.
var errRetry = errors.New("replay: retry later")

// Handle processes every record independently and reports the ones that
// should be retried as batch item failures.
func (w *Worker) Handle(ctx context.Context, sqsEvent events.SQSEvent) (events.SQSEventResponse, error) {
	var resp events.SQSEventResponse
	for _, record := range sqsEvent.Records {
		if err := w.handleRecord(ctx, record); err != nil {
			w.logger.WarnContext(ctx, "replay message will be retried",
				"message_id", record.MessageId,
				"error", err,
			)
			resp.BatchItemFailures = append(resp.BatchItemFailures,
				events.SQSBatchItemFailure{ItemIdentifier: record.MessageId},
			)
		}
	}
	return resp, nil
}

// handleRecord returns nil to acknowledge the message, including for
// messages that can never succeed.
func (w *Worker) handleRecord(ctx context.Context, record events.SQSMessage) error {
	var msg Message
	if err := json.Unmarshal([]byte(record.Body), &msg); err != nil || msg.EventID == "" {
		w.logger.ErrorContext(ctx, "dropping undecodable replay message",
			"message_id", record.MessageId,
			"error", err,
		)
		return nil
	}
	log := w.logger.With("event_id", msg.EventID, "message_id", record.MessageId)
	if lag, ok := queueLag(record); ok {
		log = log.With("queue_lag", lag)
	}

	raw, err := w.payloads.LoadPayload(ctx, msg.EventID)
	if errors.Is(err, ledger.ErrNotFound) {
		log.WarnContext(ctx, "replay requested for unknown event")
		return nil
	}
	if err != nil {
		return fmt.Errorf("load payload: %w", err)
	}

	ev, err := webhook.DecodeEvent(raw)
	if err != nil {
		log.ErrorContext(ctx, "stored payload is not a valid event", "error", err)
		return nil
	}

	out, err := w.processor.Process(ctx, ev, raw)
	if err != nil {
		return fmt.Errorf("process: %w", err)
	}
	log.InfoContext(ctx, "replayed event", "outcome", out.Status, "recoverable", out.Recoverable)
	if out.Retryable() {
		return fmt.Errorf("%w: outcome %s", errRetry, out.Status)
	}
	return nil
}

func queueLag(record events.SQSMessage) (time.Duration, bool) {
	sent, ok := record.Attributes["SentTimestamp"]
	if !ok {
		return 0, false
	}
	millis, err := strconv.ParseInt(sent, 10, 64)
	if err != nil {
		return 0, false
	}
	return time.Since(time.UnixMilli(millis)), true
}
