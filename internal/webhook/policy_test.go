package webhook

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOutcomePolicy(t *testing.T) {
	tests := []struct {
		name     string
		outcome  Outcome
		status   int
		wantBody string
	}{
		{"processed", Outcome{Status: OutcomeProcessed}, http.StatusOK, `{"received":true,"status":"processed"}`},
		{"unmapped", Outcome{Status: OutcomeProcessed, Unmapped: true}, http.StatusOK, `{"received":true,"status":"processed","unmapped":true}`},
		{"ignored", Outcome{Status: OutcomeIgnored}, http.StatusOK, `{"received":true,"status":"ignored"}`},
		{"already processed", Outcome{Status: OutcomeAlreadyProcessed}, http.StatusOK, `{"received":true,"status":"already_processed"}`},
		{"recoverable", Outcome{Status: OutcomeFailed, Recoverable: true}, http.StatusInternalServerError, `{"received":false,"status":"failed","recoverable":true}`},
		{"permanent", Outcome{Status: OutcomeFailed}, http.StatusOK, `{"received":true,"status":"failed","recoverable":false}`},
		{"in progress", Outcome{Status: OutcomeInProgress}, http.StatusConflict, `{"received":false,"status":"in_progress"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.status, tt.outcome.HTTPStatus())
			body, err := json.Marshal(tt.outcome.Body())
			assert.NoError(t, err)
			assert.JSONEq(t, tt.wantBody, string(body))
			assert.Equal(t, tt.status != http.StatusOK, tt.outcome.Retryable())
		})
	}
}
