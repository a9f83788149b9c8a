package handler

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/septivank/medimind-backend/internal/httputil"
	"github.com/septivank/medimind-backend/internal/realtime"
	"go.uber.org/zap"
)

const (
	pongWait   = 60 * time.Second
	writeWait  = 10 * time.Second
	pingPeriod = (pongWait * 9) / 10
	readLimit  = 64 * 1024
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ClientHub tracks websocket observers per device. *realtime.Hub implements it.
type ClientHub interface {
	Register(c *realtime.Client) error
	Unregister(c *realtime.Client)
}

// WebSocketHandler streams a device's event and alert traffic to a client
type WebSocketHandler struct {
	hub    ClientHub
	logger *zap.Logger
}

// NewWebSocketHandler wires dependencies for the realtime stream
func NewWebSocketHandler(hub ClientHub, logger *zap.Logger) *WebSocketHandler {
	return &WebSocketHandler{hub: hub, logger: logger}
}

type clientMessage struct {
	Type string `json:"type"`
}

type serverMessage struct {
	Type string `json:"type"`
}

// wsWriter serializes frame writes; gorilla allows one concurrent writer
type wsWriter struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *wsWriter) Write(message []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return w.conn.WriteMessage(websocket.TextMessage, message)
}

func (w *wsWriter) ping() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

func (w *wsWriter) Close() error {
	return w.conn.Close()
}

// Serve upgrades the request and subscribes the client to the device's
// event and alert topics until it disconnects
func (h *WebSocketHandler) Serve(w http.ResponseWriter, r *http.Request) {
	deviceID := targetDevice(r, r.URL.Query().Get("device_id"))
	if deviceID == "" {
		httputil.WriteBadRequest(w, "device_id is required")
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied
		h.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	writer := &wsWriter{conn: ws}
	client := &realtime.Client{DeviceID: deviceID, Writer: writer}
	if err := h.hub.Register(client); err != nil {
		h.logger.Warn("realtime subscription pending", zap.Error(err), zap.String("device_id", deviceID))
	}
	defer func() {
		h.hub.Unregister(client)
		_ = ws.Close()
	}()

	ws.SetReadLimit(readLimit)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	done := make(chan struct{})
	defer close(done)

	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()

		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := writer.ping(); err != nil {
					_ = ws.Close()
					return
				}
			}
		}
	}()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}

		if msg.Type == "ping" {
			out, _ := json.Marshal(serverMessage{Type: "pong"})
			_ = writer.Write(out)
		}
	}
}
