package validator_test

import (
	"errors"
	"testing"

	"github.com/septivank/medimind-backend/internal/apperr"
	"github.com/septivank/medimind-backend/internal/validator"
)

const (
	testDefaultLimit = 100
	testMaxLimit     = 1000
)

func TestValidateRegistration_ValidData(t *testing.T) {
	v := validator.NewValidator(testDefaultLimit, testMaxLimit)

	result := v.ValidateRegistration("alice", "alice@example.com", "secret", "MEDIBOX001")

	if !result.IsValid {
		t.Errorf("Expected valid result, got invalid: %s", result.Reason)
	}
	if result.Err() != nil {
		t.Errorf("Expected nil error, got %v", result.Err())
	}
}

func TestValidateRegistration_MissingFields(t *testing.T) {
	v := validator.NewValidator(testDefaultLimit, testMaxLimit)

	cases := map[string][4]string{
		"username": {"", "a@example.com", "pw", "dev"},
		"email":    {"alice", " ", "pw", "dev"},
		"password": {"alice", "a@example.com", "", "dev"},
		"device":   {"alice", "a@example.com", "pw", ""},
	}

	for name, c := range cases {
		result := v.ValidateRegistration(c[0], c[1], c[2], c[3])
		if result.IsValid {
			t.Errorf("%s: expected invalid result", name)
		}
		if result.Reason != "all fields required" {
			t.Errorf("%s: expected 'all fields required', got '%s'", name, result.Reason)
		}
		if !errors.Is(result.Err(), apperr.ErrValidation) {
			t.Errorf("%s: expected validation error, got %v", name, result.Err())
		}
	}
}

func TestValidateRegistration_InvalidEmail(t *testing.T) {
	v := validator.NewValidator(testDefaultLimit, testMaxLimit)

	result := v.ValidateRegistration("alice", "alice.example.com", "pw", "dev")

	if result.IsValid {
		t.Error("Expected invalid result for email without @")
	}
}

func TestValidateLogin(t *testing.T) {
	v := validator.NewValidator(testDefaultLimit, testMaxLimit)

	if !v.ValidateLogin("alice", "pw").IsValid {
		t.Error("Expected valid login request")
	}
	if v.ValidateLogin("alice", "").IsValid {
		t.Error("Expected invalid login request without password")
	}
}

func TestValidateAlert(t *testing.T) {
	v := validator.NewValidator(testDefaultLimit, testMaxLimit)

	if !v.ValidateAlert("dev1", "Take your pill").IsValid {
		t.Error("Expected valid alert")
	}
	if v.ValidateAlert("", "Take your pill").IsValid {
		t.Error("Expected invalid alert without device")
	}
	if v.ValidateAlert("dev1", "  ").IsValid {
		t.Error("Expected invalid alert without message")
	}
}

func TestParseLimit(t *testing.T) {
	v := validator.NewValidator(testDefaultLimit, testMaxLimit)

	tests := []struct {
		raw  string
		want int
	}{
		{"", 100},
		{"abc", 100},
		{"0", 100},
		{"-5", 100},
		{"1001", 100},
		{"1", 1},
		{"50", 50},
		{"1000", 1000},
	}

	for _, tt := range tests {
		if got := v.ParseLimit(tt.raw); got != tt.want {
			t.Errorf("ParseLimit(%q) = %d, want %d", tt.raw, got, tt.want)
		}
	}
}
