package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/septivank/medimind-backend/internal/apperr"
	"github.com/septivank/medimind-backend/internal/db"
	"github.com/septivank/medimind-backend/tools/timeparser"
)

// MemoryStore is an in-process Store. Rows are kept in insertion order, which
// is also server receipt order; ids are assigned from a counter.
type MemoryStore struct {
	mu         sync.RWMutex
	clock      func() time.Time
	events     []db.Event
	alerts     []db.Alert
	principals []db.Principal
	nextEvent  int64
	nextAlert  int64
	nextUser   int64
}

// MemoryOption configures a MemoryStore
type MemoryOption func(*MemoryStore)

// WithClock overrides the receipt-time source
func WithClock(clock func() time.Time) MemoryOption {
	return func(s *MemoryStore) {
		s.clock = clock
	}
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{clock: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStore) InsertEvent(_ context.Context, event *db.Event) (*db.Event, error) {
	if err := checkEvent(event); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextEvent++
	saved := *event
	saved.ID = s.nextEvent
	saved.ReceivedAt = s.clock()
	s.events = append(s.events, saved)

	return &saved, nil
}

func (s *MemoryStore) InsertAlert(_ context.Context, alert *db.Alert) (*db.Alert, error) {
	if err := checkAlert(alert); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextAlert++
	saved := *alert
	saved.ID = s.nextAlert
	saved.ReceivedAt = s.clock()
	s.alerts = append(s.alerts, saved)

	return &saved, nil
}

func (s *MemoryStore) ListEventsByDevice(_ context.Context, deviceID string, limit int) ([]db.Event, error) {
	if err := checkLimit(limit); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.latestEvents(limit, func(e *db.Event) bool { return e.DeviceID == deviceID }), nil
}

func (s *MemoryStore) ListAllEvents(_ context.Context, limit int) ([]db.Event, error) {
	if err := checkLimit(limit); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.latestEvents(limit, func(*db.Event) bool { return true }), nil
}

func (s *MemoryStore) ListAlertsByDevice(_ context.Context, deviceID string, limit int) ([]db.Alert, error) {
	if err := checkLimit(limit); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	alerts := make([]db.Alert, 0)
	for i := len(s.alerts) - 1; i >= 0 && len(alerts) < limit; i-- {
		if s.alerts[i].DeviceID == deviceID {
			alerts = append(alerts, s.alerts[i])
		}
	}
	return alerts, nil
}

func (s *MemoryStore) RecentWeightDiffs(_ context.Context, deviceID string, limit int) ([]float64, error) {
	if err := checkLimit(limit); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var values []float64
	for i := len(s.events) - 1; i >= 0 && len(values) < limit; i-- {
		e := &s.events[i]
		if e.DeviceID == deviceID && e.WeightDiff != nil {
			values = append(values, *e.WeightDiff)
		}
	}
	return values, nil
}

// Stats holds the read lock for the whole computation, which gives the same
// single-snapshot guarantee as the Postgres transaction.
func (s *MemoryStore) Stats(_ context.Context, deviceID string, now time.Time) (*db.DeviceStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &db.DeviceStats{}
	for i := range s.events {
		e := &s.events[i]
		if e.DeviceID != deviceID {
			continue
		}
		stats.TotalEvents++
		if timeparser.IsSameDay(e.ReceivedAt, now) {
			stats.TodayEvents++
		}
		last := *e
		stats.LastEvent = &last
	}
	return stats, nil
}

func (s *MemoryStore) CreatePrincipal(_ context.Context, principal *db.Principal) (*db.Principal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range s.principals {
		if p.Username == principal.Username || p.Email == principal.Email {
			return nil, fmt.Errorf("%w: principal %q already exists", apperr.ErrConflict, principal.Username)
		}
	}

	s.nextUser++
	saved := *principal
	saved.ID = s.nextUser
	saved.CreatedAt = s.clock()
	s.principals = append(s.principals, saved)

	return &saved, nil
}

func (s *MemoryStore) GetPrincipalByUsername(_ context.Context, username string) (*db.Principal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.principals {
		if p.Username == username {
			found := p
			return &found, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) GetPrincipalByDeviceID(_ context.Context, deviceID string) (*db.Principal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.principals {
		if p.DeviceID != nil && *p.DeviceID == deviceID {
			found := p
			return &found, nil
		}
	}
	return nil, ErrNotFound
}

// EventCount returns the number of stored events for a device
func (s *MemoryStore) EventCount(deviceID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, e := range s.events {
		if e.DeviceID == deviceID {
			n++
		}
	}
	return n
}

// AlertCount returns the number of stored alerts for a device
func (s *MemoryStore) AlertCount(deviceID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, a := range s.alerts {
		if a.DeviceID == deviceID {
			n++
		}
	}
	return n
}

func (s *MemoryStore) latestEvents(limit int, match func(*db.Event) bool) []db.Event {
	events := make([]db.Event, 0)
	for i := len(s.events) - 1; i >= 0 && len(events) < limit; i-- {
		if match(&s.events[i]) {
			events = append(events, s.events[i])
		}
	}
	return events
}
