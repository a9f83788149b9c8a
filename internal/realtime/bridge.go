// Package realtime forwards device traffic from the broker straight to
// observing clients. It runs on its own broker connection and never touches
// the event store.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/septivank/medimind-backend/internal/apperr"
	"github.com/septivank/medimind-backend/internal/mq"
	"github.com/septivank/medimind-backend/internal/telemetry"
	"go.uber.org/zap"
)

// Handler receives the decoded payload of a message published on topic
type Handler func(topic string, payload json.RawMessage)

// Bridge keeps one handler per topic and a broker binding for each. Bindings
// are replayed in registration order after every reconnect.
type Bridge struct {
	consumer *mq.Consumer
	logger   *zap.Logger

	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewBridge creates a bridge consuming from exchange over conn through an
// exclusive server-named queue
func NewBridge(conn *mq.Connection, exchange string, logger *zap.Logger) (*Bridge, error) {
	b := &Bridge{
		logger:   logger,
		handlers: make(map[string]Handler),
	}

	consumer, err := mq.NewConsumer(mq.ConsumerConfig{
		Connection: conn,
		Exchange:   exchange,
		// one message in flight keeps per-topic order
		PrefetchCount:    1,
		Logger:           logger,
		MessageProcessor: b.dispatch,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create realtime consumer: %w", err)
	}
	b.consumer = consumer

	return b, nil
}

// Start begins consuming. Subscriptions made before Start are bound once the
// connection is up.
func (b *Bridge) Start(ctx context.Context) error {
	return b.consumer.Start(ctx)
}

// Subscribe registers handler for topic, replacing any previous handler. The
// topic is bound at once when connected, otherwise on the next connect.
func (b *Bridge) Subscribe(topic string, handler Handler) error {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return fmt.Errorf("%w: topic is required", apperr.ErrValidation)
	}
	if handler == nil {
		return fmt.Errorf("%w: handler is required", apperr.ErrValidation)
	}

	b.mu.Lock()
	_, replaced := b.handlers[topic]
	b.handlers[topic] = handler
	b.mu.Unlock()

	if replaced {
		b.logger.Debug("realtime handler replaced", zap.String("topic", topic))
		return nil
	}

	if err := b.consumer.Bind(telemetry.ToRoutingKey(topic)); err != nil {
		b.logger.Warn("realtime bind deferred to next connect", zap.Error(err), zap.String("topic", topic))
		return err
	}
	b.logger.Info("realtime subscribed", zap.String("topic", topic))
	return nil
}

// Unsubscribe forgets topic and removes its binding without reconnecting
func (b *Bridge) Unsubscribe(topic string) error {
	b.mu.Lock()
	_, ok := b.handlers[topic]
	delete(b.handlers, topic)
	b.mu.Unlock()

	if !ok {
		return nil
	}
	if err := b.consumer.Unbind(telemetry.ToRoutingKey(topic)); err != nil {
		return err
	}
	b.logger.Info("realtime unsubscribed", zap.String("topic", topic))
	return nil
}

// Topics returns the subscribed topics in registration order
func (b *Bridge) Topics() []string {
	keys := b.consumer.Bindings()
	topics := make([]string, len(keys))
	for i, key := range keys {
		topics[i] = telemetry.ToTopic(key)
	}
	return topics
}

// Close cancels the consumer. The connection itself belongs to the caller.
func (b *Bridge) Close() error {
	return b.consumer.Close()
}

// dispatch always acknowledges: realtime messages are never redelivered
func (b *Bridge) dispatch(_ context.Context, msg mq.Message) error {
	topic := telemetry.ToTopic(msg.RoutingKey)

	b.mu.RLock()
	handler := b.handlers[topic]
	b.mu.RUnlock()

	if handler == nil {
		b.logger.Debug("no realtime handler for topic", zap.String("topic", topic))
		return nil
	}

	if !json.Valid(msg.Body) {
		b.logger.Warn("dropping malformed realtime message", zap.String("topic", topic))
		return nil
	}

	if err := invoke(handler, topic, msg.Body); err != nil {
		b.logger.Error("realtime handler failed", zap.Error(err), zap.String("topic", topic))
	}
	return nil
}

var errHandlerPanic = errors.New("handler panicked")

func invoke(handler Handler, topic string, body []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", errHandlerPanic, r)
		}
	}()
	handler(topic, json.RawMessage(body))
	return nil
}
