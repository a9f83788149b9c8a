package mq

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/septivank/medimind-backend/internal/apperr"
	"go.uber.org/zap"
)

// ErrNotConnected is returned when an operation needs a live broker connection
var ErrNotConnected = fmt.Errorf("%w: rabbitmq client not connected", apperr.ErrBrokerUnavailable)

// Channel is the subset of *amqp.Channel used by consumers and publishers
type Channel interface {
	Qos(prefetchCount, prefetchSize int, global bool) error
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	ExchangeDeclarePassive(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	QueueUnbind(name, key, exchange string, args amqp.Table) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Cancel(consumer string, noWait bool) error
	Confirm(noWait bool) error
	// PublishConfirmed publishes and waits for the broker's confirm when the
	// channel is in confirm mode
	PublishConfirmed(ctx context.Context, exchange, key string, msg amqp.Publishing) error
	Close() error
}

// BrokerConn is the subset of *amqp.Connection the Connection manages
type BrokerConn interface {
	Channel() (Channel, error)
	NotifyClose(receiver chan *amqp.Error) chan *amqp.Error
	IsClosed() bool
	Close() error
}

// Dialer opens a broker connection
type Dialer func(url string) (BrokerConn, error)

// DialAMQP is the production Dialer
func DialAMQP(url string) (BrokerConn, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	return &amqpConn{conn: conn}, nil
}

type amqpConn struct {
	conn *amqp.Connection
}

func (c *amqpConn) Channel() (Channel, error) {
	ch, err := c.conn.Channel()
	if err != nil {
		return nil, err
	}
	return &amqpChannel{Channel: ch}, nil
}

func (c *amqpConn) NotifyClose(receiver chan *amqp.Error) chan *amqp.Error {
	return c.conn.NotifyClose(receiver)
}

func (c *amqpConn) IsClosed() bool { return c.conn.IsClosed() }

func (c *amqpConn) Close() error { return c.conn.Close() }

type amqpChannel struct {
	*amqp.Channel
}

func (c *amqpChannel) PublishConfirmed(ctx context.Context, exchange, key string, msg amqp.Publishing) error {
	confirm, err := c.PublishWithDeferredConfirmWithContext(ctx, exchange, key, false, false, msg)
	if err != nil {
		return err
	}
	if confirm == nil {
		return nil
	}
	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return err
	}
	if !acked {
		return errors.New("broker rejected publish")
	}
	return nil
}

// Option configures a Connection
type Option func(*Connection)

// WithDialer replaces DialAMQP
func WithDialer(dial Dialer) Option {
	return func(c *Connection) { c.dial = dial }
}

// WithReconnectDelay sets the fixed backoff between reconnect attempts
func WithReconnectDelay(d time.Duration) Option {
	return func(c *Connection) { c.delay = d }
}

// WithName labels the connection in logs
func WithName(name string) Option {
	return func(c *Connection) { c.name = name }
}

type hook struct {
	id int
	fn func() error
}

// Connection owns one long-lived broker connection. It reconnects with a
// fixed backoff after an unexpected close and reruns every OnConnect hook,
// in registration order, after each successful (re)connect.
type Connection struct {
	url    string
	dial   Dialer
	delay  time.Duration
	name   string
	logger *zap.Logger

	// lifecycle serializes Connect and Close
	lifecycle sync.Mutex

	mu      sync.Mutex
	conn    BrokerConn
	stop    chan struct{}
	watcher sync.WaitGroup
	hooks   []hook
	nextID  int
}

// NewConnection creates a Connection. It does not dial until Connect.
func NewConnection(url string, logger *zap.Logger, opts ...Option) *Connection {
	c := &Connection{
		url:    url,
		dial:   DialAMQP,
		delay:  time.Second,
		name:   "rabbitmq",
		logger: logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(zap.String("connection", c.name))
	return c
}

// Connect dials the broker. It is a no-op while a live connection exists; a
// stale handle and its reconnect loop are torn down before dialing again.
func (c *Connection) Connect(ctx context.Context) error {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	c.mu.Lock()
	if c.conn != nil && !c.conn.IsClosed() {
		c.mu.Unlock()
		c.logger.Debug("rabbitmq already connected")
		return nil
	}
	c.mu.Unlock()

	_ = c.teardown()

	if err := ctx.Err(); err != nil {
		return err
	}

	c.logger.Info("attempting to connect to RabbitMQ...")
	conn, err := c.dial(c.url)
	if err != nil {
		c.logger.Error("rabbitmq connection failed", zap.Error(err))
		return fmt.Errorf("[RABBITMQ CONNECTION FAILED] cannot connect to RabbitMQ. Please check: 1) RabbitMQ is running, 2) RABBITMQ_URL is correct, 3) Credentials are valid. Error: %w", err)
	}

	stop := make(chan struct{})
	c.mu.Lock()
	c.conn = conn
	c.stop = stop
	c.mu.Unlock()

	c.logger.Info("rabbitmq connection established successfully")
	c.watch(conn, stop)
	c.runHooks()

	return nil
}

// IsConnected reports whether a live connection exists right now
func (c *Connection) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil && !c.conn.IsClosed()
}

// Channel opens a new channel on the current connection
func (c *Connection) Channel() (Channel, error) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil || conn.IsClosed() {
		return nil, ErrNotConnected
	}
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open channel: %v", apperr.ErrBrokerUnavailable, err)
	}
	return ch, nil
}

// OnConnect registers fn to run after every successful (re)connect and
// returns a function that removes it. A failing hook is logged and does not
// stop the hooks registered after it.
func (c *Connection) OnConnect(fn func() error) (remove func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	id := c.nextID
	c.hooks = append(c.hooks, hook{id: id, fn: fn})

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		for i, h := range c.hooks {
			if h.id == id {
				c.hooks = append(c.hooks[:i], c.hooks[i+1:]...)
				return
			}
		}
	}
}

// Close detaches every hook, stops reconnecting and ends the connection. It
// is safe to call on a connection that never connected or is already closed.
func (c *Connection) Close() error {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	c.mu.Lock()
	c.hooks = nil
	c.mu.Unlock()

	err := c.teardown()
	if err != nil {
		c.logger.Error("failed to close rabbitmq connection", zap.Error(err))
		return err
	}
	c.logger.Info("rabbitmq connection closed")
	return nil
}

// teardown stops the reconnect loop and closes the current handle
func (c *Connection) teardown() error {
	c.mu.Lock()
	stop := c.stop
	c.stop = nil
	c.mu.Unlock()

	if stop != nil {
		close(stop)
	}
	c.watcher.Wait()

	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn == nil || conn.IsClosed() {
		return nil
	}
	if err := conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
		return err
	}
	return nil
}

func (c *Connection) watch(conn BrokerConn, stop chan struct{}) {
	closed := conn.NotifyClose(make(chan *amqp.Error, 1))

	c.watcher.Add(1)
	go func() {
		defer c.watcher.Done()
		for {
			select {
			case <-stop:
				return
			case amqpErr, ok := <-closed:
				if !ok || amqpErr == nil {
					// graceful close initiated by Close
					return
				}
				c.logger.Warn("rabbitmq connection lost", zap.Error(amqpErr))
			}

			next, ok := c.reconnect(stop)
			if !ok {
				return
			}
			closed = next.NotifyClose(make(chan *amqp.Error, 1))
			c.runHooks()
		}
	}()
}

// reconnect dials until it succeeds or stop is closed
func (c *Connection) reconnect(stop chan struct{}) (BrokerConn, bool) {
	for attempt := 1; ; attempt++ {
		select {
		case <-stop:
			return nil, false
		case <-time.After(c.delay):
		}

		c.logger.Info("reconnecting to RabbitMQ...", zap.Int("attempt", attempt))
		conn, err := c.dial(c.url)
		if err != nil {
			c.logger.Warn("rabbitmq reconnect failed", zap.Error(err), zap.Int("attempt", attempt))
			continue
		}

		c.mu.Lock()
		if c.stop != stop {
			c.mu.Unlock()
			_ = conn.Close()
			return nil, false
		}
		c.conn = conn
		c.mu.Unlock()

		c.logger.Info("rabbitmq connection re-established", zap.Int("attempt", attempt))
		return conn, true
	}
}

func (c *Connection) runHooks() {
	c.mu.Lock()
	hooks := make([]hook, len(c.hooks))
	copy(hooks, c.hooks)
	c.mu.Unlock()

	for _, h := range hooks {
		if err := h.fn(); err != nil {
			c.logger.Error("on-connect hook failed", zap.Error(err))
		}
	}
}
