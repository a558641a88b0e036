// Package replay re-drives stored webhook events through the processor. The
// publisher enqueues event ids on SQS; the worker consumes them, loads the
// stored payload from the ledger and processes it like a fresh delivery.
package replay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqsTypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"golang.org/x/sync/errgroup"
)

// DefaultConcurrency caps in-flight SendMessage calls.
const DefaultConcurrency = 8

// SQSSender is the subset of *sqs.Client used by Publisher.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// Message is the queue payload. Only the id travels; the body stays in the
// ledger.
type Message struct {
	EventID     string    `json:"event_id"`
	RequestedAt time.Time `json:"requested_at"`
}

// Publisher enqueues replay requests.
type Publisher struct {
	client      SQSSender
	queueURL    string
	concurrency int
	logger      *slog.Logger
	now         func() time.Time
}

func NewPublisher(client SQSSender, queueURL string, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		client:      client,
		queueURL:    queueURL,
		concurrency: DefaultConcurrency,
		logger:      logger,
		now:         time.Now,
	}
}

// Enqueue sends one message per event id and returns how many were accepted.
// The first send error stops the remaining sends.
func (p *Publisher) Enqueue(ctx context.Context, eventIDs []string, reason string) (int, error) {
	var sent atomic.Int64

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for _, id := range eventIDs {
		id := id // per-iteration copy (go 1.21 loop semantics)
		g.Go(func() error {
			if err := p.send(gCtx, id, reason); err != nil {
				return err
			}
			sent.Add(1)
			return nil
		})
	}
	err := g.Wait()

	p.logger.InfoContext(ctx, "replay messages enqueued",
		"queue_url", p.queueURL,
		"requested", len(eventIDs),
		"sent", sent.Load(),
		"reason", reason,
	)
	return int(sent.Load()), err
}

func (p *Publisher) send(ctx context.Context, eventID, reason string) error {
	body, err := json.Marshal(Message{EventID: eventID, RequestedAt: p.now().UTC()})
	if err != nil {
		return fmt.Errorf("replay: marshal message for %s: %w", eventID, err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
	}
	if reason != "" {
		input.MessageAttributes = map[string]sqsTypes.MessageAttributeValue{
			"reason": {
				DataType:    aws.String("String"),
				StringValue: aws.String(reason),
			},
		}
	}

	if _, err := p.client.SendMessage(ctx, input); err != nil {
		return fmt.Errorf("replay: send %s to %s: %w", eventID, p.queueURL, err)
	}
	return nil
}
