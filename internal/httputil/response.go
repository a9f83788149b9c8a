package httputil

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/septivank/medimind-backend/internal/apperr"
)

// Error codes returned in the error envelope
const (
	ErrCodeBadRequest         = "BAD_REQUEST"
	ErrCodeUnauthorized       = "UNAUTHORIZED"
	ErrCodeForbidden          = "FORBIDDEN"
	ErrCodeConflict           = "CONFLICT"
	ErrCodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	ErrCodeInternal           = "INTERNAL_ERROR"
)

// ErrorResponse represents the standard error response format
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains the error code and message
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if data != nil {
		// headers are already sent, nothing useful to do on failure
		_ = json.NewEncoder(w).Encode(data)
	}
}

// WriteError writes {"error": {"code": "...", "message": "..."}}
func WriteError(w http.ResponseWriter, status int, code string, message string) {
	WriteJSON(w, status, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// WriteBadRequest writes a 400 Bad Request error
func WriteBadRequest(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// WriteUnauthorized writes a 401 Unauthorized error
func WriteUnauthorized(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

// WriteForbidden writes a 403 Forbidden error
func WriteForbidden(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusForbidden, ErrCodeForbidden, message)
}

// WriteInternalError writes a 500 Internal Server Error
func WriteInternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// StatusFor maps a service error to its HTTP status and error code
func StatusFor(err error) (int, string) {
	switch {
	case errors.Is(err, apperr.ErrValidation):
		return http.StatusBadRequest, ErrCodeBadRequest
	case errors.Is(err, apperr.ErrUnauthorized):
		return http.StatusUnauthorized, ErrCodeUnauthorized
	case errors.Is(err, apperr.ErrForbidden):
		return http.StatusForbidden, ErrCodeForbidden
	case errors.Is(err, apperr.ErrConflict):
		return http.StatusConflict, ErrCodeConflict
	case errors.Is(err, apperr.ErrBrokerUnavailable), errors.Is(err, apperr.ErrStorageUnavailable):
		return http.StatusServiceUnavailable, ErrCodeServiceUnavailable
	default:
		return http.StatusInternalServerError, ErrCodeInternal
	}
}

// WriteServiceError writes err with the status StatusFor picks. Only client
// errors carry err's text; a 5xx answers with fallback, and a 503 also names
// the unavailable dependency, so driver and dial details stay in the logs.
func WriteServiceError(w http.ResponseWriter, err error, fallback string) {
	status, code := StatusFor(err)
	message := err.Error()
	switch {
	case errors.Is(err, apperr.ErrBrokerUnavailable):
		message = fallback + ": " + apperr.ErrBrokerUnavailable.Error()
	case errors.Is(err, apperr.ErrStorageUnavailable):
		message = fallback + ": " + apperr.ErrStorageUnavailable.Error()
	case status >= http.StatusInternalServerError:
		message = fallback
	}
	WriteError(w, status, code, message)
}
