package mq

import (
	"context"
	"errors"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

// fakeBroker hands out fakeConns and records every channel opened on them
type fakeBroker struct {
	mu       sync.Mutex
	dials    int
	failNext int
	conns    []*fakeConn
	channels []*fakeChannel
}

func (b *fakeBroker) dial(string) (BrokerConn, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.dials++
	if b.failNext > 0 {
		b.failNext--
		return nil, errors.New("connection refused")
	}
	conn := &fakeConn{broker: b}
	b.conns = append(b.conns, conn)
	return conn, nil
}

func (b *fakeBroker) dialCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dials
}

func (b *fakeBroker) current() *fakeConn {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.conns) == 0 {
		return nil
	}
	return b.conns[len(b.conns)-1]
}

func (b *fakeBroker) lastChannel() *fakeChannel {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.channels) == 0 {
		return nil
	}
	return b.channels[len(b.channels)-1]
}

type fakeConn struct {
	broker *fakeBroker

	mu        sync.Mutex
	closed    bool
	receivers []chan *amqp.Error
	opened    []*fakeChannel
}

func (c *fakeConn) Channel() (Channel, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, amqp.ErrClosed
	}
	ch := &fakeChannel{deliveries: make(chan amqp.Delivery, 16)}
	c.opened = append(c.opened, ch)
	c.mu.Unlock()

	c.broker.mu.Lock()
	c.broker.channels = append(c.broker.channels, ch)
	c.broker.mu.Unlock()
	return ch, nil
}

func (c *fakeConn) NotifyClose(receiver chan *amqp.Error) chan *amqp.Error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.receivers = append(c.receivers, receiver)
	return receiver
}

func (c *fakeConn) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return amqp.ErrClosed
	}
	c.closed = true
	for _, r := range c.receivers {
		close(r)
	}
	c.receivers = nil
	return nil
}

// drop simulates the broker closing the connection unexpectedly
func (c *fakeConn) drop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	for _, ch := range c.opened {
		_ = ch.Close()
	}
	for _, r := range c.receivers {
		r <- &amqp.Error{Code: amqp.ConnectionForced, Reason: "broker restarted"}
	}
	c.receivers = nil
}

type binding struct {
	queue string
	key   string
}

type fakeChannel struct {
	mu          sync.Mutex
	closed      bool
	confirm     bool
	qos         int
	passive     []string
	exchanges   []string
	queues      []string
	queueArgs   map[string]amqp.Table
	binds       []binding
	unbinds     []binding
	cancelled   []string
	consumerTag string
	published   []amqp.Publishing
	publishKeys []string
	publishErr  error
	deliveries  chan amqp.Delivery
}

func (f *fakeChannel) Qos(prefetchCount, _ int, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.qos = prefetchCount
	return nil
}

func (f *fakeChannel) ExchangeDeclare(name, _ string, _, _, _, _ bool, _ amqp.Table) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exchanges = append(f.exchanges, name)
	return nil
}

func (f *fakeChannel) ExchangeDeclarePassive(name, _ string, _, _, _, _ bool, _ amqp.Table) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.passive = append(f.passive, name)
	return nil
}

func (f *fakeChannel) QueueDeclare(name string, _, _, _, _ bool, args amqp.Table) (amqp.Queue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if name == "" {
		name = "amq.gen-test"
	}
	f.queues = append(f.queues, name)
	if f.queueArgs == nil {
		f.queueArgs = map[string]amqp.Table{}
	}
	f.queueArgs[name] = args
	return amqp.Queue{Name: name}, nil
}

func (f *fakeChannel) QueueBind(name, key, _ string, _ bool, _ amqp.Table) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.binds = append(f.binds, binding{queue: name, key: key})
	return nil
}

func (f *fakeChannel) QueueUnbind(name, key, _ string, _ amqp.Table) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unbinds = append(f.unbinds, binding{queue: name, key: key})
	return nil
}

func (f *fakeChannel) Consume(_, consumer string, _, _, _, _ bool, _ amqp.Table) (<-chan amqp.Delivery, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.consumerTag = consumer
	return f.deliveries, nil
}

func (f *fakeChannel) Cancel(consumer string, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, consumer)
	return nil
}

func (f *fakeChannel) Confirm(bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.confirm = true
	return nil
}

func (f *fakeChannel) PublishConfirmed(_ context.Context, _, key string, msg amqp.Publishing) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return amqp.ErrClosed
	}
	if f.publishErr != nil {
		return f.publishErr
	}
	f.publishKeys = append(f.publishKeys, key)
	f.published = append(f.published, msg)
	return nil
}

func (f *fakeChannel) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeChannel) boundKeys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	keys := make([]string, 0, len(f.binds))
	for _, b := range f.binds {
		keys = append(keys, b.key)
	}
	return keys
}

func (f *fakeChannel) tag() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.consumerTag
}

func (f *fakeChannel) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// fakeAcker records the outcome of each delivery
type fakeAcker struct {
	mu     sync.Mutex
	acks   []uint64
	nacks  []uint64
	result chan string
}

func newFakeAcker() *fakeAcker {
	return &fakeAcker{result: make(chan string, 16)}
}

func (a *fakeAcker) Ack(tag uint64, _ bool) error {
	a.mu.Lock()
	a.acks = append(a.acks, tag)
	a.mu.Unlock()
	a.result <- "ack"
	return nil
}

func (a *fakeAcker) Nack(tag uint64, _, _ bool) error {
	a.mu.Lock()
	a.nacks = append(a.nacks, tag)
	a.mu.Unlock()
	a.result <- "nack"
	return nil
}

func (a *fakeAcker) Reject(tag uint64, requeue bool) error {
	return a.Nack(tag, false, requeue)
}
