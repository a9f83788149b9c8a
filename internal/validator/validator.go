package validator

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/septivank/medimind-backend/internal/apperr"
)

// ValidationResult holds validation outcome
type ValidationResult struct {
	IsValid bool
	Reason  string
}

// Err converts an invalid result into an error wrapping apperr.ErrValidation
func (r ValidationResult) Err() error {
	if r.IsValid {
		return nil
	}
	return fmt.Errorf("%w: %s", apperr.ErrValidation, r.Reason)
}

// Validator checks operator requests before they reach the identity gate or
// the broker bridge
type Validator struct {
	defaultLimit int
	maxLimit     int
}

// NewValidator creates a new validator with the list limit bounds
func NewValidator(defaultLimit, maxLimit int) *Validator {
	return &Validator{
		defaultLimit: defaultLimit,
		maxLimit:     maxLimit,
	}
}

// ValidateRegistration requires every registration field, device included
func (v *Validator) ValidateRegistration(username, email, password, deviceID string) ValidationResult {
	if blank(username) || blank(email) || blank(password) || blank(deviceID) {
		return invalid("all fields required")
	}
	if !strings.Contains(email, "@") {
		return invalid("invalid email address")
	}
	return ValidationResult{IsValid: true}
}

// ValidateLogin requires both credentials
func (v *Validator) ValidateLogin(username, password string) ValidationResult {
	if blank(username) || password == "" {
		return invalid("username and password required")
	}
	return ValidationResult{IsValid: true}
}

// ValidateAlert requires a target device and a message
func (v *Validator) ValidateAlert(deviceID, message string) ValidationResult {
	if blank(deviceID) {
		return invalid("no device bound to this account")
	}
	if blank(message) {
		return invalid("message required")
	}
	return ValidationResult{IsValid: true}
}

// ParseLimit reads a list limit. Missing, unparseable or out-of-range values
// fall back to the default.
func (v *Validator) ParseLimit(raw string) int {
	limit, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || limit < 1 || limit > v.maxLimit {
		return v.defaultLimit
	}
	return limit
}

func blank(s string) bool {
	return strings.TrimSpace(s) == ""
}

func invalid(reason string) ValidationResult {
	return ValidationResult{IsValid: false, Reason: reason}
}
