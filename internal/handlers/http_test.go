package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/wealth-ops/filing-engine/internal/filing"
	"github.com/wealth-ops/filing-engine/internal/validation"
)

func testHandler() *Handler {
	return &Handler{logger: zap.NewNop()}
}

func TestWriteDomainError(t *testing.T) {
	h := testHandler()

	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{
			name:       "missing entity maps to 404",
			err:        filing.NewNotFound("filing", "filing-1"),
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "refused transition maps to 409",
			err:        filing.NewPrecondition("filing %s is already filed", "filing-1"),
			wantStatus: http.StatusConflict,
		},
		{
			name: "wrapped domain errors unwrap to their status",
			err:  fmt.Errorf("submit: %w", filing.NewNotFound("filing", "filing-1")),
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "unknown errors map to 500",
			err:        errors.New("connection reset"),
			wantStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recorder := httptest.NewRecorder()
			h.writeDomainError(recorder, tt.err)

			assert.Equal(t, tt.wantStatus, recorder.Code)
			assert.Equal(t, "application/json", recorder.Header().Get("Content-Type"))

			var body map[string]interface{}
			require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &body))
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestWriteDomainErrorValidation(t *testing.T) {
	h := testHandler()
	recorder := httptest.NewRecorder()

	result := &validation.Result{
		IsValid: false,
		Errors: []validation.FieldError{
			{Section: "cover_page", Field: "cik", Message: "cik must be a 10-digit number", Severity: validation.SeverityError},
		},
	}
	h.writeDomainError(recorder, &filing.ValidationError{Result: result})

	assert.Equal(t, http.StatusUnprocessableEntity, recorder.Code)

	var body struct {
		Error            string             `json:"error"`
		ValidationResult *validation.Result `json:"validation_result"`
	}
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &body))
	require.NotNil(t, body.ValidationResult)
	assert.False(t, body.ValidationResult.IsValid)
	require.Len(t, body.ValidationResult.Errors, 1)
	assert.Equal(t, "cik", body.ValidationResult.Errors[0].Field)
}

func TestHealthCheck(t *testing.T) {
	h := testHandler()
	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodGet, "/health", nil)

	h.HealthCheck(recorder, request)

	assert.Equal(t, http.StatusOK, recorder.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "filing-engine", body["service"])
}

func TestGetIntParam(t *testing.T) {
	h := testHandler()

	request := httptest.NewRequest(http.MethodGet, "/api/v1/filings?limit=25&bad=x", nil)
	assert.Equal(t, 25, h.getIntParam(request, "limit", 50))
	assert.Equal(t, 50, h.getIntParam(request, "missing", 50))
	assert.Equal(t, 50, h.getIntParam(request, "bad", 50))
}
