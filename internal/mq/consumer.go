package mq

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Message is one broker delivery handed to a MessageHandler
type Message struct {
	RoutingKey  string
	Body        []byte
	MessageID   string
	Redelivered bool
}

// MessageHandler processes a message. A nil error acknowledges the delivery;
// an error rejects it without requeue (dead-lettered when a DLQ is set).
type MessageHandler func(ctx context.Context, msg Message) error

// Consumer handles message consumption from a topic exchange. Its queue,
// bindings and consumer are re-established on every reconnect of the
// underlying Connection.
type Consumer struct {
	conn             *Connection
	exchange         string
	queue            string
	dlqQueue         string
	durable          bool
	prefetchCount    int
	logger           *zap.Logger
	messageProcessor MessageHandler

	mu         sync.Mutex
	ctx        context.Context
	channel    Channel
	queueName  string
	tag        string
	bindings   []string
	removeHook func()
	inflight   sync.WaitGroup
	slots      chan struct{}
}

// ConsumerConfig holds consumer configuration
type ConsumerConfig struct {
	Connection *Connection
	Exchange   string
	// Queue is the durable queue to consume from. An empty name declares an
	// exclusive, auto-deleted, server-named queue instead.
	Queue            string
	DLQQueue         string
	BindingKeys      []string
	PrefetchCount    int
	Logger           *zap.Logger
	MessageProcessor MessageHandler
}

// NewConsumer creates a new consumer. No broker calls happen until Start.
func NewConsumer(cfg ConsumerConfig) (*Consumer, error) {
	if cfg.Connection == nil {
		return nil, errors.New("consumer requires a connection")
	}
	if cfg.Exchange == "" {
		return nil, errors.New("consumer requires an exchange")
	}
	if cfg.MessageProcessor == nil {
		return nil, errors.New("consumer requires a message processor")
	}
	if cfg.PrefetchCount < 1 {
		cfg.PrefetchCount = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	bindings := make([]string, 0, len(cfg.BindingKeys))
	for _, key := range cfg.BindingKeys {
		bindings = appendUnique(bindings, key)
	}

	return &Consumer{
		conn:             cfg.Connection,
		exchange:         cfg.Exchange,
		queue:            cfg.Queue,
		dlqQueue:         cfg.DLQQueue,
		durable:          cfg.Queue != "",
		prefetchCount:    cfg.PrefetchCount,
		logger:           cfg.Logger,
		messageProcessor: cfg.MessageProcessor,
		bindings:         bindings,
		slots:            make(chan struct{}, cfg.PrefetchCount),
	}, nil
}

// Start starts consuming messages. If the connection is live the queue is set
// up immediately; in every case it is set up again after each reconnect.
func (c *Consumer) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.removeHook != nil {
		c.mu.Unlock()
		return nil
	}
	c.ctx = ctx
	c.removeHook = c.conn.OnConnect(c.setup)
	c.mu.Unlock()

	if !c.conn.IsConnected() {
		c.logger.Warn("consumer waiting for broker connection", zap.String("queue", c.queue))
		return nil
	}
	return c.setup()
}

// Bind adds a routing key. The binding is applied at once when the consumer
// is live and replayed after every reconnect.
func (c *Consumer) Bind(key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, existing := range c.bindings {
		if existing == key {
			return nil
		}
	}
	c.bindings = append(c.bindings, key)

	if c.channel == nil {
		return nil
	}
	if err := c.channel.QueueBind(c.queueName, key, c.exchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind %q: %w", key, err)
	}
	return nil
}

// Unbind removes a routing key without reconnecting
func (c *Consumer) Unbind(key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	found := false
	for i, existing := range c.bindings {
		if existing == key {
			c.bindings = append(c.bindings[:i], c.bindings[i+1:]...)
			found = true
			break
		}
	}
	if !found || c.channel == nil {
		return nil
	}
	if err := c.channel.QueueUnbind(c.queueName, key, c.exchange, nil); err != nil {
		return fmt.Errorf("failed to unbind %q: %w", key, err)
	}
	return nil
}

// Bindings returns the registered routing keys in registration order
func (c *Consumer) Bindings() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]string, len(c.bindings))
	copy(out, c.bindings)
	return out
}

// setup declares the exchange and queue, replays the bindings in order and
// starts a consumer on a fresh channel
func (c *Consumer) setup() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.removeHook == nil {
		// closed
		return nil
	}
	return c.setupLocked()
}

func (c *Consumer) setupLocked() error {
	if c.channel != nil {
		_ = c.channel.Close()
		c.channel = nil
	}

	ch, err := c.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to create channel: %w", err)
	}

	// Set QoS (prefetch)
	if err := ch.Qos(c.prefetchCount, 0, false); err != nil {
		ch.Close()
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	if err := declareTopicExchange(ch, c.exchange); err != nil {
		ch.Close()
		return err
	}

	queueName, err := c.declareQueue(ch)
	if err != nil {
		ch.Close()
		return err
	}

	for _, key := range c.bindings {
		if err := ch.QueueBind(queueName, key, c.exchange, false, nil); err != nil {
			// one failed binding does not block the rest
			c.logger.Error("failed to bind queue",
				zap.Error(err),
				zap.String("queue", queueName),
				zap.String("routing_key", key),
			)
		}
	}

	tag := "medimind-" + uuid.NewString()
	msgs, err := ch.Consume(
		queueName,
		tag,
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		ch.Close()
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	c.channel = ch
	c.queueName = queueName
	c.tag = tag

	c.logger.Info("consumer started",
		zap.String("queue", queueName),
		zap.Strings("bindings", c.bindings),
		zap.Int("prefetch", c.prefetchCount),
	)

	go c.loop(c.ctx, ch, msgs)

	return nil
}

func (c *Consumer) declareQueue(ch Channel) (string, error) {
	if !c.durable {
		q, err := ch.QueueDeclare(
			"",
			false, // durable
			true,  // delete when unused
			true,  // exclusive
			false, // no-wait
			nil,
		)
		if err != nil {
			return "", fmt.Errorf("failed to declare queue: %w", err)
		}
		return q.Name, nil
	}

	var args amqp.Table
	if c.dlqQueue != "" {
		if _, err := ch.QueueDeclare(
			c.dlqQueue,
			true,  // durable
			false, // delete when unused
			false, // exclusive
			false, // no-wait
			nil,
		); err != nil {
			return "", fmt.Errorf("failed to declare DLQ: %w", err)
		}
		args = amqp.Table{
			"x-dead-letter-exchange":    "",
			"x-dead-letter-routing-key": c.dlqQueue,
		}
	}

	q, err := ch.QueueDeclare(
		c.queue,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		args,
	)
	if err != nil {
		return "", fmt.Errorf("failed to declare queue: %w", err)
	}
	return q.Name, nil
}

func (c *Consumer) loop(ctx context.Context, ch Channel, msgs <-chan amqp.Delivery) {
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("consumer context cancelled, stopping")
			return
		case msg, ok := <-msgs:
			if !ok {
				c.logger.Warn("message channel closed")
				c.restart(ctx, ch)
				return
			}
			c.slots <- struct{}{}
			c.inflight.Add(1)
			go func() {
				defer func() {
					<-c.slots
					c.inflight.Done()
				}()
				c.processMessage(ctx, msg)
			}()
		}
	}
}

// restart re-runs setup after the delivery channel of ch closed while the
// connection stayed up, as on a broker-side consumer cancel or a channel
// exception. Connection loss is left to the OnConnect hook.
func (c *Consumer) restart(ctx context.Context, ch Channel) {
	for attempt := 1; ; attempt++ {
		select {
		case <-ctx.Done():
			return
		case <-time.After(c.conn.delay):
		}

		c.mu.Lock()
		stale := c.channel != nil && c.channel != ch
		if c.removeHook == nil || stale || !c.conn.IsConnected() {
			c.mu.Unlock()
			return
		}
		err := c.setupLocked()
		c.mu.Unlock()

		if err == nil {
			c.logger.Info("consumer restarted after channel close", zap.Int("attempt", attempt))
			return
		}
		c.logger.Warn("consumer restart failed", zap.Error(err), zap.Int("attempt", attempt))
	}
}

func (c *Consumer) processMessage(ctx context.Context, msg amqp.Delivery) {
	c.logger.Debug("received message from queue",
		zap.String("routing_key", msg.RoutingKey),
		zap.Int("body_size", len(msg.Body)),
		zap.Bool("redelivered", msg.Redelivered),
	)

	err := c.messageProcessor(ctx, Message{
		RoutingKey:  msg.RoutingKey,
		Body:        msg.Body,
		MessageID:   msg.MessageId,
		Redelivered: msg.Redelivered,
	})
	if err != nil {
		c.logger.Debug("rejecting message",
			zap.Error(err),
			zap.String("routing_key", msg.RoutingKey),
		)

		// NACK with requeue=false drops or dead-letters the message
		if nackErr := msg.Nack(false, false); nackErr != nil {
			c.logger.Error("failed to NACK message", zap.Error(nackErr))
		}
		return
	}

	if ackErr := msg.Ack(false); ackErr != nil {
		c.logger.Error("failed to ACK message", zap.Error(ackErr))
	}
}

// Close cancels the broker consumer, detaches the reconnect hook and waits
// for in-flight messages. Calling it more than once is safe.
func (c *Consumer) Close() error {
	c.mu.Lock()
	if c.removeHook != nil {
		c.removeHook()
		c.removeHook = nil
	}
	ch := c.channel
	tag := c.tag
	c.channel = nil
	c.mu.Unlock()

	var err error
	if ch != nil {
		if cancelErr := ch.Cancel(tag, false); cancelErr != nil && !errors.Is(cancelErr, amqp.ErrClosed) {
			c.logger.Warn("failed to cancel consumer", zap.Error(cancelErr))
		}
		if closeErr := ch.Close(); closeErr != nil && !errors.Is(closeErr, amqp.ErrClosed) {
			err = closeErr
		}
	}

	c.inflight.Wait()
	return err
}

// declareTopicExchange declares a durable topic exchange. Names starting with
// "amq." are reserved by the broker and only checked passively.
func declareTopicExchange(ch Channel, name string) error {
	declare := ch.ExchangeDeclare
	if strings.HasPrefix(name, "amq.") {
		declare = ch.ExchangeDeclarePassive
	}
	err := declare(
		name,
		"topic",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}
	return nil
}

func appendUnique(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}
