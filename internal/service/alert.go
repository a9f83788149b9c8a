package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/septivank/medimind-backend/internal/apperr"
	"github.com/septivank/medimind-backend/internal/db"
	"github.com/septivank/medimind-backend/internal/logging"
	"github.com/septivank/medimind-backend/internal/telemetry"
	"github.com/septivank/medimind-backend/tools/timeparser"
	"go.uber.org/zap"
)

// Publisher sends a JSON document to a routing key and waits for the broker
// to confirm it. *mq.Publisher implements it.
type Publisher interface {
	PublishJSON(ctx context.Context, routingKey string, v any) error
}

// AlertStore records published alerts and resolves device owners
type AlertStore interface {
	InsertAlert(ctx context.Context, alert *db.Alert) (*db.Alert, error)
	GetPrincipalByDeviceID(ctx context.Context, deviceID string) (*db.Principal, error)
}

// AlertService dispatches operator alerts to devices
type AlertService struct {
	publisher Publisher
	store     AlertStore
	namespace string
	logger    *zap.Logger
	now       func() time.Time
}

// NewAlertService creates a new alert service
func NewAlertService(publisher Publisher, store AlertStore, namespace string, logger *zap.Logger) *AlertService {
	return &AlertService{
		publisher: publisher,
		store:     store,
		namespace: namespace,
		logger:    logger,
		now:       time.Now,
	}
}

// PublishAlert publishes message to the device's alert topic and then
// records it. Nothing is recorded when the publish fails. If recording fails
// after a confirmed publish the device has the alert but the history does
// not, and the error is returned.
func (s *AlertService) PublishAlert(ctx context.Context, deviceID, message string) error {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return fmt.Errorf("%w: device id is required", apperr.ErrValidation)
	}

	logger := logging.WithDevice(s.logger, deviceID)
	topic := telemetry.AlertTopic(s.namespace, deviceID)

	payload := telemetry.AlertPayload{
		Message:   message,
		Timestamp: timeparser.ToEpochMillis(s.now()),
	}
	if err := s.publisher.PublishJSON(ctx, telemetry.ToRoutingKey(topic), payload); err != nil {
		logger.Error("failed to publish alert", zap.Error(err), zap.String("topic", topic))
		return err
	}

	saved, err := s.store.InsertAlert(ctx, &db.Alert{
		DeviceID: deviceID,
		Message:  message,
		Sent:     true,
	})
	if err != nil {
		logger.Error("alert published but not recorded", zap.Error(err), zap.String("topic", topic))
		return fmt.Errorf("failed to record alert: %w", err)
	}

	fields := []zap.Field{zap.String("topic", topic), zap.Int64("alert_id", saved.ID)}
	if owner, err := s.store.GetPrincipalByDeviceID(ctx, deviceID); err == nil {
		fields = append(fields, zap.String("owner", owner.Username))
	}
	logger.Info("alert published", fields...)

	return nil
}
