package mq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/septivank/medimind-backend/internal/apperr"
	"go.uber.org/zap"
)

// Publisher handles message publishing to a topic exchange. It keeps one
// confirm-mode channel that is reopened lazily after a reconnect.
type Publisher struct {
	conn     *Connection
	exchange string
	timeout  time.Duration
	logger   *zap.Logger

	mu         sync.Mutex
	channel    Channel
	removeHook func()
}

// NewPublisher creates a new publisher. It does not touch the broker until
// the first publish.
func NewPublisher(conn *Connection, exchange string, timeout time.Duration, logger *zap.Logger) *Publisher {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	p := &Publisher{
		conn:     conn,
		exchange: exchange,
		timeout:  timeout,
		logger:   logger,
	}
	p.removeHook = conn.OnConnect(p.reset)
	return p
}

// PublishJSON marshals v and publishes it persistently with routingKey. It
// fails fast with ErrNotConnected when the broker connection is down and
// returns only after the broker confirmed the message.
func (p *Publisher) PublishJSON(ctx context.Context, routingKey string, v any) error {
	if !p.conn.IsConnected() {
		return ErrNotConnected
	}

	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	ch, err := p.acquire()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	err = ch.PublishConfirmed(ctx, p.exchange, routingKey, amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    time.Now(),
	})
	if err != nil {
		// the channel may be dead; open a fresh one next time
		p.drop(ch)
		if errors.Is(err, amqp.ErrClosed) {
			return fmt.Errorf("%w: %v", ErrNotConnected, err)
		}
		return fmt.Errorf("%w: failed to publish message: %v", apperr.ErrBrokerUnavailable, err)
	}

	p.logger.Debug("published message",
		zap.String("exchange", p.exchange),
		zap.String("routing_key", routingKey),
		zap.Int("body_size", len(body)),
	)

	return nil
}

func (p *Publisher) acquire() (Channel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.channel != nil {
		return p.channel, nil
	}

	ch, err := p.conn.Channel()
	if err != nil {
		return nil, err
	}
	if err := declareTopicExchange(ch, p.exchange); err != nil {
		ch.Close()
		return nil, fmt.Errorf("%w: %v", apperr.ErrBrokerUnavailable, err)
	}
	if err := ch.Confirm(false); err != nil {
		ch.Close()
		return nil, fmt.Errorf("%w: failed to enable publisher confirms: %v", apperr.ErrBrokerUnavailable, err)
	}

	p.channel = ch
	return ch, nil
}

func (p *Publisher) drop(ch Channel) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.channel == ch {
		_ = p.channel.Close()
		p.channel = nil
	}
}

// reset forgets the channel of a previous connection
func (p *Publisher) reset() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.channel = nil
	return nil
}

// Close closes the publisher channel
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.removeHook != nil {
		p.removeHook()
		p.removeHook = nil
	}
	if p.channel == nil {
		return nil
	}
	err := p.channel.Close()
	p.channel = nil
	if err != nil && !errors.Is(err, amqp.ErrClosed) {
		return err
	}
	return nil
}
