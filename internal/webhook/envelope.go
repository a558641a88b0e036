package webhook

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"

	"payhook/internal/types"
)

// ErrMalformedPayload is returned when the body is not a decodable event.
var ErrMalformedPayload = errors.New("webhook: malformed payload")

var envelopeValidator = validator.New()

// DecodeEvent parses and validates the event envelope.
func DecodeEvent(payload []byte) (*types.ProviderEvent, error) {
	var ev types.ProviderEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if err := envelopeValidator.Struct(&ev); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if string(ev.Data.Object) == "null" {
		return nil, fmt.Errorf("%w: data.object is null", ErrMalformedPayload)
	}
	return &ev, nil
}
