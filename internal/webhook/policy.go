package webhook

import "net/http"

// ResponseBody is the JSON body returned to the provider for every
// authenticated, well-formed delivery.
type ResponseBody struct {
	Received    bool   `json:"received"`
	Status      string `json:"status"`
	Recoverable *bool  `json:"recoverable,omitempty"`
	Unmapped    bool   `json:"unmapped,omitempty"`
}

// HTTPStatus maps an outcome to the status code the provider sees. Only
// recoverable failures and lock contention ask for a retry.
func (o Outcome) HTTPStatus() int {
	switch o.Status {
	case OutcomeFailed:
		if o.Recoverable {
			return http.StatusInternalServerError
		}
		return http.StatusOK
	case OutcomeInProgress:
		return http.StatusConflict
	default:
		return http.StatusOK
	}
}

// Body returns the response payload for o.
func (o Outcome) Body() ResponseBody {
	body := ResponseBody{
		Received: o.HTTPStatus() == http.StatusOK,
		Status:   string(o.Status),
		Unmapped: o.Unmapped,
	}
	if o.Status == OutcomeFailed {
		recoverable := o.Recoverable
		body.Recoverable = &recoverable
	}
	return body
}

// Retryable reports whether the provider (or replay worker) should deliver
// the event again.
func (o Outcome) Retryable() bool {
	return o.HTTPStatus() != http.StatusOK
}
