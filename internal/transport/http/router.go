package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/septivank/medimind-backend/internal/handler"
	"github.com/septivank/medimind-backend/internal/httputil"
	authmw "github.com/septivank/medimind-backend/internal/transport/http/middleware"
)

// RouterConfig holds the dependencies needed to create routes
type RouterConfig struct {
	AuthHandler      *handler.AuthHandler
	DeviceHandler    *handler.DeviceHandler
	WebSocketHandler *handler.WebSocketHandler
	Verifier         authmw.TokenVerifier
	// BrokerConnected reports the ingestion connection state on /health
	BrokerConnected func() bool
	Logger          *zap.Logger
}

type healthResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Broker  string `json:"broker,omitempty"`
}

// NewRouter creates and configures a new Chi router with all route groups
func NewRouter(cfg RouterConfig) chi.Router {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(authmw.RequestLogger(cfg.Logger))
	r.Use(chimw.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		resp := healthResponse{Status: "ok", Message: "MediMind Backend"}
		if cfg.BrokerConnected != nil {
			resp.Broker = "disconnected"
			if cfg.BrokerConnected() {
				resp.Broker = "connected"
			}
		}
		httputil.WriteJSON(w, http.StatusOK, resp)
	})

	r.Route("/api", func(r chi.Router) {
		// Public routes
		r.Post("/register", cfg.AuthHandler.Register)
		r.Post("/login", cfg.AuthHandler.Login)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(authmw.AuthMiddleware(cfg.Verifier))

			r.Get("/events", cfg.DeviceHandler.Events)
			r.Get("/stats", cfg.DeviceHandler.Stats)
			r.Get("/alerts", cfg.DeviceHandler.Alerts)
			r.Post("/alert", cfg.DeviceHandler.SendAlert)

			if cfg.WebSocketHandler != nil {
				r.Get("/ws", cfg.WebSocketHandler.Serve)
			}
		})
	})

	return r
}
