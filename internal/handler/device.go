package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/septivank/medimind-backend/internal/db"
	"github.com/septivank/medimind-backend/internal/httputil"
	"github.com/septivank/medimind-backend/internal/transport/http/middleware"
	"github.com/septivank/medimind-backend/internal/validator"
	"go.uber.org/zap"
)

// DeviceQueries reads the derived device views. *service.StatsService implements it.
type DeviceQueries interface {
	GetStats(ctx context.Context, deviceID string) (*db.DeviceStats, error)
	ListEvents(ctx context.Context, deviceID string, limit int) ([]db.Event, error)
	ListAlerts(ctx context.Context, deviceID string, limit int) ([]db.Alert, error)
}

// AlertDispatcher sends operator alerts. *service.AlertService implements it.
type AlertDispatcher interface {
	PublishAlert(ctx context.Context, deviceID, message string) error
}

// DeviceHandler groups the authenticated device endpoints
type DeviceHandler struct {
	queries   DeviceQueries
	alerts    AlertDispatcher
	validator *validator.Validator
	logger    *zap.Logger
}

// NewDeviceHandler wires dependencies for device endpoints
func NewDeviceHandler(queries DeviceQueries, alerts AlertDispatcher, v *validator.Validator, logger *zap.Logger) *DeviceHandler {
	return &DeviceHandler{
		queries:   queries,
		alerts:    alerts,
		validator: v,
		logger:    logger,
	}
}

type eventsResponse struct {
	Success bool       `json:"success"`
	Count   int        `json:"count"`
	Events  []db.Event `json:"events"`
}

type alertsResponse struct {
	Success bool       `json:"success"`
	Count   int        `json:"count"`
	Alerts  []db.Alert `json:"alerts"`
}

type statsResponse struct {
	Success bool            `json:"success"`
	Stats   *db.DeviceStats `json:"stats"`
}

type alertRequest struct {
	DeviceID string `json:"device_id"`
	Message  string `json:"message"`
}

type alertResponse struct {
	Success  bool   `json:"success"`
	Message  string `json:"message"`
	DeviceID string `json:"deviceId"`
}

// Events lists the newest pill events of the requested or token device
func (h *DeviceHandler) Events(w http.ResponseWriter, r *http.Request) {
	deviceID := targetDevice(r, r.URL.Query().Get("device_id"))
	limit := h.validator.ParseLimit(r.URL.Query().Get("limit"))

	events, err := h.queries.ListEvents(r.Context(), deviceID, limit)
	if err != nil {
		h.logger.Error("failed to list events", zap.Error(err), zap.String("device_id", deviceID))
		httputil.WriteServiceError(w, err, "Error getting events")
		return
	}

	httputil.WriteJSON(w, http.StatusOK, eventsResponse{Success: true, Count: len(events), Events: events})
}

// Alerts lists the alerts recorded for the requested or token device
func (h *DeviceHandler) Alerts(w http.ResponseWriter, r *http.Request) {
	deviceID := targetDevice(r, r.URL.Query().Get("device_id"))
	if deviceID == "" {
		httputil.WriteBadRequest(w, "device_id is required")
		return
	}
	limit := h.validator.ParseLimit(r.URL.Query().Get("limit"))

	alerts, err := h.queries.ListAlerts(r.Context(), deviceID, limit)
	if err != nil {
		h.logger.Error("failed to list alerts", zap.Error(err), zap.String("device_id", deviceID))
		httputil.WriteServiceError(w, err, "Error getting alerts")
		return
	}

	httputil.WriteJSON(w, http.StatusOK, alertsResponse{Success: true, Count: len(alerts), Alerts: alerts})
}

// Stats returns the device aggregates
func (h *DeviceHandler) Stats(w http.ResponseWriter, r *http.Request) {
	deviceID := targetDevice(r, r.URL.Query().Get("device_id"))
	if deviceID == "" {
		httputil.WriteBadRequest(w, "device_id is required")
		return
	}

	stats, err := h.queries.GetStats(r.Context(), deviceID)
	if err != nil {
		h.logger.Error("failed to get statistics", zap.Error(err), zap.String("device_id", deviceID))
		httputil.WriteServiceError(w, err, "Error getting statistics")
		return
	}

	httputil.WriteJSON(w, http.StatusOK, statsResponse{Success: true, Stats: stats})
}

// SendAlert publishes an alert to the requested or token device
func (h *DeviceHandler) SendAlert(w http.ResponseWriter, r *http.Request) {
	var req alertRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	deviceID := targetDevice(r, req.DeviceID)
	if err := h.validator.ValidateAlert(deviceID, req.Message).Err(); err != nil {
		httputil.WriteServiceError(w, err, "Error sending alert")
		return
	}

	if err := h.alerts.PublishAlert(r.Context(), deviceID, req.Message); err != nil {
		h.logger.Error("failed to send alert", zap.Error(err), zap.String("device_id", deviceID))
		httputil.WriteServiceError(w, err, "Error sending alert")
		return
	}

	httputil.WriteJSON(w, http.StatusOK, alertResponse{
		Success:  true,
		Message:  "Alert sent successfully",
		DeviceID: deviceID,
	})
}

// targetDevice prefers an explicit device id and falls back to the token's
func targetDevice(r *http.Request, explicit string) string {
	if explicit = strings.TrimSpace(explicit); explicit != "" {
		return explicit
	}
	if claims, ok := middleware.GetClaimsFromContext(r.Context()); ok {
		return claims.DeviceID
	}
	return ""
}
