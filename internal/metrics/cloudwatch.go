package metrics

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/sony/gobreaker/v2"
)

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

var _ Recorder = (*CloudWatch)(nil)

const (
	defaultQueueSize  = 512
	defaultPutTimeout = 2 * time.Second
	// PutMetricData accepts up to 1000 datums per call.
	defaultMaxBatch = 100
)

type cloudWatchSettings struct {
	queueSize  int
	putTimeout time.Duration
	maxBatch   int
}

// CloudWatch publishes metrics with PutMetricData from a background
// goroutine. Record calls only enqueue; when the queue is full the datums are
// dropped. Each PutMetricData call is bounded by a short timeout and goes
// through a circuit breaker, so a slow or failing endpoint never delays the
// request path. Close flushes what is queued.
type CloudWatch struct {
	client    CloudWatchClient
	namespace string
	breaker   *gobreaker.CircuitBreaker[struct{}]
	logger    *slog.Logger
	settings  cloudWatchSettings

	mu     sync.RWMutex
	closed bool
	queue  chan []cwtypes.MetricDatum
	done   chan struct{}
}

func NewCloudWatch(client CloudWatchClient, namespace string, logger *slog.Logger) *CloudWatch {
	return newCloudWatch(client, namespace, logger, cloudWatchSettings{
		queueSize:  defaultQueueSize,
		putTimeout: defaultPutTimeout,
		maxBatch:   defaultMaxBatch,
	})
}

func newCloudWatch(client CloudWatchClient, namespace string, logger *slog.Logger, settings cloudWatchSettings) *CloudWatch {
	if logger == nil {
		logger = slog.Default()
	}
	cb := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "cloudwatch-metrics",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	})
	m := &CloudWatch{
		client:    client,
		namespace: namespace,
		breaker:   cb,
		logger:    logger,
		settings:  settings,
		queue:     make(chan []cwtypes.MetricDatum, settings.queueSize),
		done:      make(chan struct{}),
	}
	go m.run()
	return m
}

// RecordOutcome emits WebhookOutcome {EventType, Outcome} and
// WebhookLatency {EventType} in a single call.
func (m *CloudWatch) RecordOutcome(_ context.Context, eventType, outcome string, duration time.Duration) {
	m.enqueue([]cwtypes.MetricDatum{
		{
			MetricName: aws.String(MetricWebhookOutcome),
			Value:      aws.Float64(1),
			Unit:       cwtypes.StandardUnitCount,
			Dimensions: []cwtypes.Dimension{
				{Name: aws.String(DimEventType), Value: aws.String(eventType)},
				{Name: aws.String(DimOutcome), Value: aws.String(outcome)},
			},
		},
		{
			MetricName: aws.String(MetricWebhookLatency),
			Value:      aws.Float64(float64(duration.Milliseconds())),
			Unit:       cwtypes.StandardUnitMilliseconds,
			Dimensions: []cwtypes.Dimension{
				{Name: aws.String(DimEventType), Value: aws.String(eventType)},
			},
		},
	})
}

func (m *CloudWatch) RecordRequest(method, endpoint, status string, duration time.Duration) {
	dims := []cwtypes.Dimension{
		{Name: aws.String(DimMethod), Value: aws.String(method)},
		{Name: aws.String(DimEndpoint), Value: aws.String(endpoint)},
		{Name: aws.String(DimStatus), Value: aws.String(status)},
	}
	m.enqueue([]cwtypes.MetricDatum{
		{
			MetricName: aws.String(MetricAPIRequest),
			Value:      aws.Float64(1),
			Unit:       cwtypes.StandardUnitCount,
			Dimensions: dims,
		},
		{
			MetricName: aws.String(MetricAPILatency),
			Value:      aws.Float64(float64(duration.Milliseconds())),
			Unit:       cwtypes.StandardUnitMilliseconds,
			Dimensions: dims,
		},
	})
}

// Close stops accepting datums and waits until the queue is flushed or ctx
// expires.
func (m *CloudWatch) Close(ctx context.Context) error {
	m.mu.Lock()
	if !m.closed {
		m.closed = true
		close(m.queue)
	}
	m.mu.Unlock()

	select {
	case <-m.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *CloudWatch) enqueue(data []cwtypes.MetricDatum) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return
	}
	select {
	case m.queue <- data:
	default:
		m.logger.Warn("metrics queue full, dropping datums", "datums", len(data))
	}
}

func (m *CloudWatch) run() {
	defer close(m.done)
	for first := range m.queue {
		m.put(m.fill(first))
	}
}

// fill appends queued datums without blocking, up to maxBatch.
func (m *CloudWatch) fill(first []cwtypes.MetricDatum) []cwtypes.MetricDatum {
	batch := append([]cwtypes.MetricDatum(nil), first...)
	for len(batch) < m.settings.maxBatch {
		select {
		case more, ok := <-m.queue:
			if !ok {
				return batch
			}
			batch = append(batch, more...)
		default:
			return batch
		}
	}
	return batch
}

func (m *CloudWatch) put(data []cwtypes.MetricDatum) {
	ctx, cancel := context.WithTimeout(context.Background(), m.settings.putTimeout)
	defer cancel()

	input := &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(m.namespace),
		MetricData: data,
	}
	_, err := m.breaker.Execute(func() (struct{}, error) {
		_, err := m.client.PutMetricData(ctx, input)
		return struct{}{}, err
	})
	if err != nil {
		m.logger.Error("failed to put metric data", "error", err.Error(), "datums", len(data))
	}
}
