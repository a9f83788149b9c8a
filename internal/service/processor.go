package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/septivank/medimind-backend/internal/anomaly"
	"github.com/septivank/medimind-backend/internal/db"
	"github.com/septivank/medimind-backend/internal/logging"
	"github.com/septivank/medimind-backend/internal/mq"
	"github.com/septivank/medimind-backend/internal/repository"
	"github.com/septivank/medimind-backend/internal/telemetry"
	"github.com/septivank/medimind-backend/tools/timeparser"
	"go.uber.org/zap"
)

// excerptSize bounds the payload bytes echoed into logs for unparseable messages
const excerptSize = 100

// OutcomeKind classifies what ingestion did with one message
type OutcomeKind int

const (
	// OutcomeStored means an event row was inserted
	OutcomeStored OutcomeKind = iota
	// OutcomeIgnored means the message was well formed but carried nothing to persist
	OutcomeIgnored
	// OutcomeDropped means the message was discarded because of an error
	OutcomeDropped
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeStored:
		return "stored"
	case OutcomeIgnored:
		return "ignored"
	case OutcomeDropped:
		return "dropped"
	default:
		return fmt.Sprintf("OutcomeKind(%d)", int(k))
	}
}

// Outcome is the result of ingesting one broker message
type Outcome struct {
	Kind     OutcomeKind
	Topic    string
	DeviceID string
	// Event is the stored row when Kind is OutcomeStored
	Event *db.Event
	// Anomaly is a non-empty reason when the event's weight difference looked suspicious
	Anomaly string
	Err     error
}

// ProcessorService ingests device messages from the broker into the event store
type ProcessorService struct {
	store       repository.EventStore
	detector    *anomaly.Detector
	namespace   string
	historySize int
	logger      *zap.Logger
	now         func() time.Time
	observer    func(Outcome)
}

// ProcessorOption configures a ProcessorService
type ProcessorOption func(*ProcessorService)

// WithObserver registers fn to receive every ingestion outcome
func WithObserver(fn func(Outcome)) ProcessorOption {
	return func(s *ProcessorService) { s.observer = fn }
}

// WithProcessorClock overrides the receipt clock used when a device sends no timestamp
func WithProcessorClock(now func() time.Time) ProcessorOption {
	return func(s *ProcessorService) { s.now = now }
}

// NewProcessorService creates a new processor service. A nil detector
// disables weight anomaly flagging.
func NewProcessorService(
	store repository.EventStore,
	detector *anomaly.Detector,
	namespace string,
	historySize int,
	logger *zap.Logger,
	opts ...ProcessorOption,
) *ProcessorService {
	s := &ProcessorService{
		store:       store,
		detector:    detector,
		namespace:   namespace,
		historySize: historySize,
		logger:      logger,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ProcessMessage ingests one broker message. Parse failures and ignored
// messages return nil so the delivery is acknowledged; a storage failure
// returns an error so the delivery is rejected without requeue.
func (s *ProcessorService) ProcessMessage(ctx context.Context, msg mq.Message) error {
	topic := telemetry.ToTopic(msg.RoutingKey)

	msgLogger := s.logger.With(zap.String("topic", topic))
	if msg.MessageID != "" {
		msgLogger = logging.WithMessageID(msgLogger, msg.MessageID)
	}

	outcome := s.ingest(ctx, topic, msg.Body, msgLogger)
	s.report(outcome, msg.Body, msgLogger)

	if s.observer != nil {
		s.observer(outcome)
	}

	if outcome.Kind == OutcomeDropped && !telemetry.IsParseFailure(outcome.Err) {
		return outcome.Err
	}
	return nil
}

func (s *ProcessorService) ingest(ctx context.Context, topic string, body []byte, logger *zap.Logger) Outcome {
	parsed, err := telemetry.Parse(s.namespace, topic, body)
	if err != nil {
		return Outcome{Kind: OutcomeDropped, Topic: topic, Err: err}
	}

	event, ok := parsed.(telemetry.PillRemovedEvent)
	if !ok {
		return Outcome{Kind: OutcomeIgnored, Topic: topic, DeviceID: parsed.Device()}
	}

	outcome := Outcome{Topic: topic, DeviceID: event.DeviceID}

	// history is read before the insert so the new value is not compared with itself
	if s.detector != nil && event.WeightDiff != nil {
		outcome.Anomaly = s.checkWeight(ctx, event, logger)
	}

	timestamp := timeparser.ToEpochMillis(s.now())
	if event.Timestamp != nil {
		timestamp = *event.Timestamp
	}

	saved, err := s.store.InsertEvent(ctx, &db.Event{
		DeviceID:        event.DeviceID,
		PillRemoved:     true,
		Weight:          event.Weight,
		WeightDiff:      event.WeightDiff,
		ClientTimestamp: &timestamp,
	})
	if err != nil {
		outcome.Kind = OutcomeDropped
		outcome.Err = fmt.Errorf("failed to insert event: %w", err)
		return outcome
	}

	outcome.Kind = OutcomeStored
	outcome.Event = saved
	return outcome
}

func (s *ProcessorService) checkWeight(ctx context.Context, event telemetry.PillRemovedEvent, logger *zap.Logger) string {
	history, err := s.store.RecentWeightDiffs(ctx, event.DeviceID, s.historySize)
	if err != nil {
		logger.Warn("failed to get historical weight differences for anomaly detection",
			zap.Error(err),
			zap.String("device_id", event.DeviceID),
		)
		return ""
	}

	isAnomaly, reason := s.detector.DetectAnomaly(*event.WeightDiff, history)
	if !isAnomaly {
		return ""
	}
	return reason
}

func (s *ProcessorService) report(outcome Outcome, body []byte, logger *zap.Logger) {
	if outcome.DeviceID != "" {
		logger = logging.WithDevice(logger, outcome.DeviceID)
	}

	switch outcome.Kind {
	case OutcomeStored:
		fields := []zap.Field{zap.Int64("event_id", outcome.Event.ID)}
		if ts := outcome.Event.ClientTimestamp; ts != nil {
			fields = append(fields, zap.Time("client_time", timeparser.FromEpochMillis(*ts)))
		}
		if outcome.Anomaly != "" {
			logger.Warn("weight anomaly detected", append(fields, zap.String("reason", outcome.Anomaly))...)
		}
		logger.Info("pill removal event stored", fields...)
	case OutcomeIgnored:
		logger.Debug("message ignored")
	case OutcomeDropped:
		switch {
		case errors.Is(outcome.Err, telemetry.ErrMalformedPayload):
			logger.Warn("dropping unparseable message",
				zap.Error(outcome.Err),
				zap.String("payload_excerpt", logging.Excerpt(body, excerptSize)),
			)
		case telemetry.IsParseFailure(outcome.Err):
			logger.Warn("dropping message", zap.Error(outcome.Err))
		default:
			logger.Error("failed to store event", zap.Error(outcome.Err))
		}
	}
}
