// Package apperr defines the sentinel errors shared by the identity gate, the
// event store and the broker bridge. Callers match them with errors.Is; the
// HTTP layer maps each one to a distinct status code.
package apperr

import "errors"

var (
	// Identity errors.
	ErrConflict     = errors.New("conflict")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")

	// Caller input errors. Never retried.
	ErrValidation = errors.New("validation error")

	// Infrastructure errors.
	ErrBrokerUnavailable  = errors.New("broker unavailable")
	ErrStorageUnavailable = errors.New("storage unavailable")
)
