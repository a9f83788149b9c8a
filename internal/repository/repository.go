package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/septivank/medimind-backend/internal/apperr"
	"github.com/septivank/medimind-backend/internal/db"
	"github.com/septivank/medimind-backend/tools/timeparser"
)

const uniqueViolation = "23505"

const eventColumns = `id, device_id, pill_removed, weight, weight_diff, client_timestamp, received_at`

// Repository handles database operations
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new repository
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// InsertEvent appends a device event. The id and received_at columns are
// assigned by the database and written back to the returned copy.
func (r *Repository) InsertEvent(ctx context.Context, event *db.Event) (*db.Event, error) {
	if err := checkEvent(event); err != nil {
		return nil, err
	}

	query := `
		INSERT INTO events (device_id, pill_removed, weight, weight_diff, client_timestamp)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, received_at
	`

	saved := *event
	err := r.pool.QueryRow(ctx, query,
		event.DeviceID,
		event.PillRemoved,
		event.Weight,
		event.WeightDiff,
		event.ClientTimestamp,
	).Scan(&saved.ID, &saved.ReceivedAt)
	if err != nil {
		return nil, storageError("failed to insert event", err)
	}

	return &saved, nil
}

// InsertAlert appends an alert dispatch record
func (r *Repository) InsertAlert(ctx context.Context, alert *db.Alert) (*db.Alert, error) {
	if err := checkAlert(alert); err != nil {
		return nil, err
	}

	query := `
		INSERT INTO alerts (device_id, message, sent)
		VALUES ($1, $2, $3)
		RETURNING id, received_at
	`

	saved := *alert
	err := r.pool.QueryRow(ctx, query, alert.DeviceID, alert.Message, alert.Sent).
		Scan(&saved.ID, &saved.ReceivedAt)
	if err != nil {
		return nil, storageError("failed to insert alert", err)
	}

	return &saved, nil
}

// ListEventsByDevice returns the device's latest events, newest first
func (r *Repository) ListEventsByDevice(ctx context.Context, deviceID string, limit int) ([]db.Event, error) {
	if err := checkLimit(limit); err != nil {
		return nil, err
	}

	query := `
		SELECT ` + eventColumns + `
		FROM events
		WHERE device_id = $1
		ORDER BY id DESC
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, deviceID, limit)
	if err != nil {
		return nil, storageError("failed to query events", err)
	}
	return collectEvents(rows)
}

// ListAllEvents returns the latest events across all devices, newest first
func (r *Repository) ListAllEvents(ctx context.Context, limit int) ([]db.Event, error) {
	if err := checkLimit(limit); err != nil {
		return nil, err
	}

	query := `
		SELECT ` + eventColumns + `
		FROM events
		ORDER BY id DESC
		LIMIT $1
	`

	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, storageError("failed to query events", err)
	}
	return collectEvents(rows)
}

// ListAlertsByDevice returns the device's latest alerts, newest first
func (r *Repository) ListAlertsByDevice(ctx context.Context, deviceID string, limit int) ([]db.Alert, error) {
	if err := checkLimit(limit); err != nil {
		return nil, err
	}

	query := `
		SELECT id, device_id, message, sent, received_at
		FROM alerts
		WHERE device_id = $1
		ORDER BY id DESC
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, deviceID, limit)
	if err != nil {
		return nil, storageError("failed to query alerts", err)
	}
	defer rows.Close()

	alerts := make([]db.Alert, 0)
	for rows.Next() {
		var alert db.Alert
		if err := rows.Scan(&alert.ID, &alert.DeviceID, &alert.Message, &alert.Sent, &alert.ReceivedAt); err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		alerts = append(alerts, alert)
	}

	if err := rows.Err(); err != nil {
		return nil, storageError("rows iteration error", err)
	}

	return alerts, nil
}

// RecentWeightDiffs gets recent weight deltas for anomaly detection
func (r *Repository) RecentWeightDiffs(ctx context.Context, deviceID string, limit int) ([]float64, error) {
	if err := checkLimit(limit); err != nil {
		return nil, err
	}

	query := `
		SELECT weight_diff
		FROM events
		WHERE device_id = $1 AND weight_diff IS NOT NULL
		ORDER BY id DESC
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, deviceID, limit)
	if err != nil {
		return nil, storageError("failed to query recent weight deltas", err)
	}
	defer rows.Close()

	var values []float64
	for rows.Next() {
		var value float64
		if err := rows.Scan(&value); err != nil {
			return nil, fmt.Errorf("failed to scan value: %w", err)
		}
		values = append(values, value)
	}

	if err := rows.Err(); err != nil {
		return nil, storageError("rows iteration error", err)
	}

	return values, nil
}

// Stats reads the device counters and its latest event inside one
// repeatable-read transaction so all three figures describe the same snapshot.
func (r *Repository) Stats(ctx context.Context, deviceID string, now time.Time) (*db.DeviceStats, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.RepeatableRead,
		AccessMode: pgx.ReadOnly,
	})
	if err != nil {
		return nil, storageError("failed to begin stats transaction", err)
	}
	defer tx.Rollback(ctx)

	dayStart, dayEnd := timeparser.DayBounds(now)

	countQuery := `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE received_at >= $2 AND received_at < $3)
		FROM events
		WHERE device_id = $1
	`

	stats := &db.DeviceStats{}
	if err := tx.QueryRow(ctx, countQuery, deviceID, dayStart, dayEnd).
		Scan(&stats.TotalEvents, &stats.TodayEvents); err != nil {
		return nil, storageError("failed to count events", err)
	}

	lastQuery := `
		SELECT ` + eventColumns + `
		FROM events
		WHERE device_id = $1
		ORDER BY id DESC
		LIMIT 1
	`

	var last db.Event
	err = scanEvent(tx.QueryRow(ctx, lastQuery, deviceID), &last)
	switch {
	case err == nil:
		stats.LastEvent = &last
	case errors.Is(err, pgx.ErrNoRows):
	default:
		return nil, storageError("failed to query last event", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, storageError("failed to commit stats transaction", err)
	}

	return stats, nil
}

// CreatePrincipal inserts a new operator account. Duplicate usernames or
// emails yield apperr.ErrConflict.
func (r *Repository) CreatePrincipal(ctx context.Context, principal *db.Principal) (*db.Principal, error) {
	query := `
		INSERT INTO principals (username, email, password_hash, device_id)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`

	saved := *principal
	err := r.pool.QueryRow(ctx, query,
		principal.Username,
		principal.Email,
		principal.PasswordHash,
		principal.DeviceID,
	).Scan(&saved.ID, &saved.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, fmt.Errorf("%w: principal %q already exists", apperr.ErrConflict, principal.Username)
		}
		return nil, storageError("failed to create principal", err)
	}

	return &saved, nil
}

// GetPrincipalByUsername looks up an account by its username
func (r *Repository) GetPrincipalByUsername(ctx context.Context, username string) (*db.Principal, error) {
	query := `
		SELECT id, username, email, password_hash, device_id, created_at
		FROM principals
		WHERE username = $1
	`
	return r.getPrincipal(ctx, query, username)
}

// GetPrincipalByDeviceID looks up the account bound to a device
func (r *Repository) GetPrincipalByDeviceID(ctx context.Context, deviceID string) (*db.Principal, error) {
	query := `
		SELECT id, username, email, password_hash, device_id, created_at
		FROM principals
		WHERE device_id = $1
		ORDER BY id
		LIMIT 1
	`
	return r.getPrincipal(ctx, query, deviceID)
}

func (r *Repository) getPrincipal(ctx context.Context, query string, arg string) (*db.Principal, error) {
	var p db.Principal
	err := r.pool.QueryRow(ctx, query, arg).Scan(
		&p.ID,
		&p.Username,
		&p.Email,
		&p.PasswordHash,
		&p.DeviceID,
		&p.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storageError("failed to query principal", err)
	}
	return &p, nil
}

func scanEvent(row pgx.Row, event *db.Event) error {
	return row.Scan(
		&event.ID,
		&event.DeviceID,
		&event.PillRemoved,
		&event.Weight,
		&event.WeightDiff,
		&event.ClientTimestamp,
		&event.ReceivedAt,
	)
}

func collectEvents(rows pgx.Rows) ([]db.Event, error) {
	defer rows.Close()

	events := make([]db.Event, 0)
	for rows.Next() {
		var event db.Event
		if err := scanEvent(rows, &event); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, storageError("rows iteration error", err)
	}

	return events, nil
}

func storageError(msg string, err error) error {
	return fmt.Errorf("%s: %w: %w", msg, apperr.ErrStorageUnavailable, err)
}
