package realtime

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/septivank/medimind-backend/internal/telemetry"
	"go.uber.org/zap"
)

// Writer delivers one frame to a client
type Writer interface {
	Write(message []byte) error
	Close() error
}

// defaultSendQueueSize bounds the frames buffered for one client
const defaultSendQueueSize = 64

// Client is one observer of a device. Frames reach its Writer through a
// buffered queue drained by a goroutine the hub starts on Register.
type Client struct {
	DeviceID string
	Writer   Writer

	send chan []byte
}

// Subscriber is the part of Bridge the hub uses
type Subscriber interface {
	Subscribe(topic string, handler Handler) error
	Unsubscribe(topic string) error
}

// Envelope is the frame sent to clients for every forwarded message
type Envelope struct {
	Topic string          `json:"topic"`
	Data  json.RawMessage `json:"data"`
}

// Hub fans device traffic out to the clients observing each device. The
// first client of a device subscribes its event and alert topics; the last
// one to leave unsubscribes them.
type Hub struct {
	subscriber Subscriber
	namespace  string
	logger     *zap.Logger

	queueSize  int

	mu      sync.RWMutex
	clients map[string]map[*Client]struct{}
}

// HubOption configures a Hub
type HubOption func(*Hub)

// WithSendQueueSize sets how many frames may wait for a slow client before
// it is disconnected
func WithSendQueueSize(n int) HubOption {
	return func(h *Hub) {
		if n > 0 {
			h.queueSize = n
		}
	}
}

// NewHub creates a hub subscribing through subscriber
func NewHub(subscriber Subscriber, namespace string, logger *zap.Logger, opts ...HubOption) *Hub {
	h := &Hub{
		subscriber: subscriber,
		namespace:  namespace,
		logger:     logger,
		queueSize:  defaultSendQueueSize,
		clients:    make(map[string]map[*Client]struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register adds a client. A subscription error is returned but the client
// stays registered: the binding is retried on the next broker connect.
func (h *Hub) Register(c *Client) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	set := h.clients[c.DeviceID]
	if set == nil {
		set = make(map[*Client]struct{})
		h.clients[c.DeviceID] = set
	}
	if _, ok := set[c]; ok {
		return nil
	}
	c.send = make(chan []byte, h.queueSize)
	set[c] = struct{}{}
	go h.writePump(c)

	if len(set) > 1 {
		return nil
	}

	var errs []error
	for _, topic := range h.deviceTopics(c.DeviceID) {
		if err := h.subscriber.Subscribe(topic, h.forward(c.DeviceID)); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Unregister removes a client
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set := h.clients[c.DeviceID]
	if set == nil {
		return
	}
	if _, ok := set[c]; !ok {
		return
	}
	delete(set, c)
	close(c.send)
	if len(set) > 0 {
		return
	}
	delete(h.clients, c.DeviceID)

	for _, topic := range h.deviceTopics(c.DeviceID) {
		if err := h.subscriber.Unsubscribe(topic); err != nil {
			h.logger.Warn("failed to unsubscribe realtime topic", zap.Error(err), zap.String("topic", topic))
		}
	}
}

// Broadcast queues message for every client of deviceID without waiting on
// any socket. A client whose queue is full is closed and dropped.
func (h *Hub) Broadcast(deviceID string, message []byte) {
	var slow []*Client

	h.mu.RLock()
	for c := range h.clients[deviceID] {
		select {
		case c.send <- message:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.logger.Warn("dropping slow realtime client", zap.String("device_id", deviceID))
		h.drop(c)
	}
}

// ClientCount returns the number of clients observing deviceID
func (h *Hub) ClientCount(deviceID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[deviceID])
}

// writePump delivers queued frames in order until the queue is closed. A
// failed write drops the client and discards what is left.
func (h *Hub) writePump(c *Client) {
	for message := range c.send {
		if err := c.Writer.Write(message); err != nil {
			h.logger.Debug("realtime write failed", zap.Error(err), zap.String("device_id", c.DeviceID))
			h.drop(c)
			for range c.send {
			}
			return
		}
	}
}

func (h *Hub) drop(c *Client) {
	_ = c.Writer.Close()
	h.Unregister(c)
}

func (h *Hub) deviceTopics(deviceID string) []string {
	return []string{
		telemetry.EventTopic(h.namespace, deviceID),
		telemetry.AlertTopic(h.namespace, deviceID),
	}
}

func (h *Hub) forward(deviceID string) Handler {
	return func(topic string, payload json.RawMessage) {
		frame, err := json.Marshal(Envelope{Topic: topic, Data: payload})
		if err != nil {
			h.logger.Error("failed to encode realtime frame", zap.Error(err), zap.String("topic", topic))
			return
		}
		h.Broadcast(deviceID, frame)
	}
}
