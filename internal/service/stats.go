package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/septivank/medimind-backend/internal/apperr"
	"github.com/septivank/medimind-backend/internal/db"
	"github.com/septivank/medimind-backend/internal/repository"
)

// StatsService serves the derived per-device views of the event store
type StatsService struct {
	store repository.EventStore
	now   func() time.Time
}

// NewStatsService creates a new stats service. "Today" follows the server's
// local time zone.
func NewStatsService(store repository.EventStore) *StatsService {
	return &StatsService{
		store: store,
		now:   time.Now,
	}
}

// GetStats returns the device's total and today's event counts with its most
// recent event, all read at one instant
func (s *StatsService) GetStats(ctx context.Context, deviceID string) (*db.DeviceStats, error) {
	if err := requireDevice(deviceID); err != nil {
		return nil, err
	}
	return s.store.Stats(ctx, deviceID, s.now())
}

// ListEvents returns the device's newest events, or the newest events of
// every device when deviceID is empty
func (s *StatsService) ListEvents(ctx context.Context, deviceID string, limit int) ([]db.Event, error) {
	if strings.TrimSpace(deviceID) == "" {
		return s.store.ListAllEvents(ctx, limit)
	}
	return s.store.ListEventsByDevice(ctx, deviceID, limit)
}

// ListAlerts returns the device's newest recorded alerts
func (s *StatsService) ListAlerts(ctx context.Context, deviceID string, limit int) ([]db.Alert, error) {
	if err := requireDevice(deviceID); err != nil {
		return nil, err
	}
	return s.store.ListAlertsByDevice(ctx, deviceID, limit)
}

func requireDevice(deviceID string) error {
	if strings.TrimSpace(deviceID) == "" {
		return fmt.Errorf("%w: no device bound to this account", apperr.ErrValidation)
	}
	return nil
}
