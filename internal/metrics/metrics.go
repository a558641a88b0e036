// Package metrics records webhook processing outcomes and HTTP request
// metrics to the configured backend.
package metrics

import (
	"context"
	"fmt"
	"time"
)

// Backend names accepted by New.
const (
	BackendNone       = "none"
	BackendCloudWatch = "cloudwatch"
	BackendPrometheus = "prometheus"
)

// Metric and dimension names.
const (
	MetricWebhookOutcome = "WebhookOutcome"
	MetricWebhookLatency = "WebhookLatency"
	MetricAPIRequest     = "APIRequest"
	MetricAPILatency     = "APILatency"

	DimEventType = "EventType"
	DimOutcome   = "Outcome"
	DimMethod    = "Method"
	DimEndpoint  = "Endpoint"
	DimStatus    = "Status"
)

// Recorder is implemented by every backend. Implementations must never fail
// or block the caller: emission errors are logged and dropped.
type Recorder interface {
	RecordOutcome(ctx context.Context, eventType, outcome string, duration time.Duration)
	RecordRequest(method, endpoint, status string, duration time.Duration)
}

// Noop discards everything.
type Noop struct{}

func (Noop) RecordOutcome(context.Context, string, string, time.Duration) {}
func (Noop) RecordRequest(string, string, string, time.Duration)          {}

// ValidateBackend rejects unknown backend names.
func ValidateBackend(name string) error {
	switch name {
	case BackendNone, BackendCloudWatch, BackendPrometheus, "":
		return nil
	}
	return fmt.Errorf("metrics: unknown backend %q", name)
}
