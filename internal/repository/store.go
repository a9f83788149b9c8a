package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/septivank/medimind-backend/internal/apperr"
	"github.com/septivank/medimind-backend/internal/db"
)

var (
	// ErrNotFound is returned when a lookup matches no row
	ErrNotFound = errors.New("not found")

	// ErrInvalidLimit is returned for list calls with a zero or negative limit
	ErrInvalidLimit = fmt.Errorf("%w: limit must be positive", apperr.ErrValidation)

	// ErrEmptyDeviceID is returned when an event or alert has no device id
	ErrEmptyDeviceID = fmt.Errorf("%w: device id is required", apperr.ErrValidation)
)

// EventStore is the append-only log of device events and operator alerts.
// All list operations return rows newest-first by server receipt order.
type EventStore interface {
	InsertEvent(ctx context.Context, event *db.Event) (*db.Event, error)
	InsertAlert(ctx context.Context, alert *db.Alert) (*db.Alert, error)
	ListEventsByDevice(ctx context.Context, deviceID string, limit int) ([]db.Event, error)
	ListAllEvents(ctx context.Context, limit int) ([]db.Event, error)
	ListAlertsByDevice(ctx context.Context, deviceID string, limit int) ([]db.Alert, error)

	// RecentWeightDiffs returns the weight deltas of the device's latest
	// events that carried one, newest first.
	RecentWeightDiffs(ctx context.Context, deviceID string, limit int) ([]float64, error)

	// Stats computes the device aggregates in one consistent read scope.
	// "Today" is the calendar day of now in now's location.
	Stats(ctx context.Context, deviceID string, now time.Time) (*db.DeviceStats, error)
}

// PrincipalStore holds registered operator accounts
type PrincipalStore interface {
	CreatePrincipal(ctx context.Context, principal *db.Principal) (*db.Principal, error)
	GetPrincipalByUsername(ctx context.Context, username string) (*db.Principal, error)
	GetPrincipalByDeviceID(ctx context.Context, deviceID string) (*db.Principal, error)
}

// Store is the full storage contract used by the services
type Store interface {
	EventStore
	PrincipalStore
}

func checkLimit(limit int) error {
	if limit <= 0 {
		return ErrInvalidLimit
	}
	return nil
}

func checkEvent(event *db.Event) error {
	if event == nil || event.DeviceID == "" {
		return ErrEmptyDeviceID
	}
	return nil
}

func checkAlert(alert *db.Alert) error {
	if alert == nil || alert.DeviceID == "" {
		return ErrEmptyDeviceID
	}
	return nil
}
