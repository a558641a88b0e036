// Package handlers contains the HTTP handlers mounted on the core chassis.
//
// The webhook endpoint is called directly by the payment provider and is not
// behind any auth middleware. Authenticity comes from the Stripe-Signature
// header alone.
package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"payhook/internal/core"
	"payhook/internal/types"
	"payhook/internal/webhook"
)

// DefaultMaxBodyBytes bounds webhook payloads. Provider events are small.
const DefaultMaxBodyBytes = 64 * 1024

// SignatureVerifier authenticates a raw body against its signature header.
type SignatureVerifier interface {
	Verify(payload []byte, header string) error
}

// EventProcessor applies an authenticated event at most once.
type EventProcessor interface {
	Process(ctx context.Context, ev *types.ProviderEvent, raw []byte) (webhook.Outcome, error)
}

// StripeWebhookHandler receives provider notifications.
type StripeWebhookHandler struct {
	verifier  SignatureVerifier
	processor EventProcessor
	logger    *slog.Logger
	maxBody   int64
}

func NewStripeWebhookHandler(verifier SignatureVerifier, processor EventProcessor, maxBody int64, logger *slog.Logger) *StripeWebhookHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if maxBody <= 0 {
		maxBody = DefaultMaxBodyBytes
	}
	return &StripeWebhookHandler{
		verifier:  verifier,
		processor: processor,
		logger:    logger,
		maxBody:   maxBody,
	}
}

// RegisterRoutes mounts the endpoint at /webhook and at the path configured
// in the provider dashboard.
func (h *StripeWebhookHandler) RegisterRoutes(r chi.Router) {
	r.Post("/webhook", h.Handle)
	r.Post("/webhooks/stripe", h.Handle)
}

// Handle verifies, decodes and processes one delivery.
//
// Unauthenticated or undecodable requests get a 400 error envelope and touch
// nothing. Authenticated events always receive a ResponseBody whose status
// code tells the provider whether to retry.
func (h *StripeWebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.logger.WarnContext(ctx, "webhook body exceeds limit", "limit", h.maxBody)
			core.Error(w, r, types.NewAppError(types.ErrCodeValidationPayloadTooLarge, "request body too large", err))
			return
		}
		h.logger.WarnContext(ctx, "failed to read webhook body", "error", err)
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationMalformedPayload, "failed to read request body", err))
		return
	}

	sigHeader := r.Header.Get(webhook.SignatureHeader)
	if sigHeader == "" {
		h.logger.WarnContext(ctx, "missing signature header")
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationInvalidSignature, "missing Stripe-Signature header", nil))
		return
	}
	if err := h.verifier.Verify(payload, sigHeader); err != nil {
		h.logger.WarnContext(ctx, "webhook signature verification failed", "error", err)
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationInvalidSignature, "webhook signature verification failed", err))
		return
	}

	ev, err := webhook.DecodeEvent(payload)
	if err != nil {
		h.logger.WarnContext(ctx, "undecodable webhook event", "error", err)
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationMalformedPayload, "invalid webhook event", err))
		return
	}

	out, err := h.processor.Process(ctx, ev, payload)
	if err != nil {
		h.logger.ErrorContext(ctx, "ledger unavailable",
			"event_id", ev.ID,
			"event_type", ev.Type,
			"error", err,
		)
		core.Error(w, r, types.NewAppError(types.ErrCodeInternalDB, "event could not be recorded", err))
		return
	}

	h.logger.InfoContext(ctx, "webhook event handled",
		"event_id", ev.ID,
		"event_type", ev.Type,
		"outcome", out.Status,
	)
	core.JSON(w, r, out.HTTPStatus(), out.Body())
}
