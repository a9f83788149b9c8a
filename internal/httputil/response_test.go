package httputil

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/septivank/medimind-backend/internal/apperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{fmt.Errorf("%w: bad", apperr.ErrValidation), http.StatusBadRequest, ErrCodeBadRequest},
		{apperr.ErrUnauthorized, http.StatusUnauthorized, ErrCodeUnauthorized},
		{apperr.ErrForbidden, http.StatusForbidden, ErrCodeForbidden},
		{apperr.ErrConflict, http.StatusConflict, ErrCodeConflict},
		{apperr.ErrBrokerUnavailable, http.StatusServiceUnavailable, ErrCodeServiceUnavailable},
		{apperr.ErrStorageUnavailable, http.StatusServiceUnavailable, ErrCodeServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError, ErrCodeInternal},
	}

	for _, tt := range tests {
		status, code := StatusFor(tt.err)
		assert.Equal(t, tt.status, status, tt.err.Error())
		assert.Equal(t, tt.code, code, tt.err.Error())
	}
}

func TestWriteServiceError_HidesUnavailableDetail(t *testing.T) {
	err := fmt.Errorf("%w: failed to connect to `host=db.internal user=medimind`: dial tcp 10.0.0.7:5432: connection refused", apperr.ErrStorageUnavailable)

	rec := httptest.NewRecorder()
	WriteServiceError(rec, err, "Error getting statistics")

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, ErrCodeServiceUnavailable, body.Error.Code)
	assert.Equal(t, "Error getting statistics: storage unavailable", body.Error.Message)
	assert.NotContains(t, rec.Body.String(), "10.0.0.7")

	rec = httptest.NewRecorder()
	WriteServiceError(rec, fmt.Errorf("%w: channel closed", apperr.ErrBrokerUnavailable), "Error sending alert")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "Error sending alert: broker unavailable", body.Error.Message)
}

func TestWriteServiceError_KeepsClientErrorMessage(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteServiceError(rec, fmt.Errorf("%w: all fields required", apperr.ErrValidation), "Error registering user")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "validation error: all fields required", body.Error.Message)
}

func TestWriteServiceError_HidesInternalMessage(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteServiceError(rec, errors.New("pq: connection refused at 10.0.0.1"), "Error getting events")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, ErrCodeInternal, body.Error.Code)
	assert.Equal(t, "Error getting events", body.Error.Message)
}
