package db

import (
	"time"
)

// Principal represents a registered operator account in the database
type Principal struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	DeviceID     *string   `json:"device_id"`
	CreatedAt    time.Time `json:"created_at"`
}

// Event represents a pill-removal observation reported by a device.
// ID and ReceivedAt are assigned by the store and define server receipt order.
type Event struct {
	ID              int64     `json:"id"`
	DeviceID        string    `json:"device_id"`
	PillRemoved     bool      `json:"pill_removed"`
	Weight          *float64  `json:"weight"`
	WeightDiff      *float64  `json:"weight_diff"`
	ClientTimestamp *int64    `json:"timestamp"`
	ReceivedAt      time.Time `json:"created_at"`
}

// Alert represents an operator alert that was published to a device
type Alert struct {
	ID         int64     `json:"id"`
	DeviceID   string    `json:"device_id"`
	Message    string    `json:"message"`
	Sent       bool      `json:"sent"`
	ReceivedAt time.Time `json:"created_at"`
}

// DeviceStats is the aggregate view of one device's events at a single instant.
// LastEvent is nil when the device has no events.
type DeviceStats struct {
	TotalEvents int64  `json:"totalEvents"`
	TodayEvents int64  `json:"todayEvents"`
	LastEvent   *Event `json:"lastEvent"`
}
