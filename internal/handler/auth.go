package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/septivank/medimind-backend/internal/apperr"
	"github.com/septivank/medimind-backend/internal/db"
	"github.com/septivank/medimind-backend/internal/httputil"
	"github.com/septivank/medimind-backend/internal/validator"
	"go.uber.org/zap"
)

// maxBodyBytes caps JSON request bodies
const maxBodyBytes = 1 << 20

// Authenticator registers and logs in operators. *identity.Gate implements it.
type Authenticator interface {
	Register(ctx context.Context, username, email, password, deviceID string) (*db.Principal, string, error)
	Login(ctx context.Context, username, password string) (*db.Principal, string, error)
}

// AuthHandler groups the account endpoints
type AuthHandler struct {
	auth      Authenticator
	validator *validator.Validator
	logger    *zap.Logger
}

// NewAuthHandler wires dependencies for authentication endpoints
func NewAuthHandler(auth Authenticator, v *validator.Validator, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		auth:      auth,
		validator: v,
		logger:    logger,
	}
}

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	DeviceID string `json:"device_id"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// UserView is the public part of a principal
type UserView struct {
	ID       int64   `json:"id"`
	Username string  `json:"username"`
	Email    string  `json:"email"`
	DeviceID *string `json:"deviceId"`
}

// AuthResponse is returned by register and login
type AuthResponse struct {
	Success bool     `json:"success"`
	Message string   `json:"message"`
	User    UserView `json:"user"`
	Token   string   `json:"token"`
}

// Register creates an account bound to a device
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.validator.ValidateRegistration(req.Username, req.Email, req.Password, req.DeviceID).Err(); err != nil {
		httputil.WriteServiceError(w, err, "Error registering user")
		return
	}

	principal, token, err := h.auth.Register(r.Context(), req.Username, req.Email, req.Password, req.DeviceID)
	if err != nil {
		h.logger.Warn("registration failed", zap.Error(err), zap.String("username", req.Username))
		httputil.WriteServiceError(w, err, "Error registering user")
		return
	}

	httputil.WriteJSON(w, http.StatusOK, AuthResponse{
		Success: true,
		Message: "User registered successfully",
		User:    toUserView(principal),
		Token:   token,
	})
}

// Login exchanges credentials for a token
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.validator.ValidateLogin(req.Username, req.Password).Err(); err != nil {
		httputil.WriteServiceError(w, err, "Error logging in")
		return
	}

	principal, token, err := h.auth.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		if !errors.Is(err, apperr.ErrUnauthorized) {
			h.logger.Error("login failed", zap.Error(err), zap.String("username", req.Username))
		}
		httputil.WriteServiceError(w, err, "Error logging in")
		return
	}

	httputil.WriteJSON(w, http.StatusOK, AuthResponse{
		Success: true,
		Message: "Login successful",
		User:    toUserView(principal),
		Token:   token,
	})
}

func toUserView(p *db.Principal) UserView {
	return UserView{
		ID:       p.ID,
		Username: p.Username,
		Email:    p.Email,
		DeviceID: p.DeviceID,
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		httputil.WriteBadRequest(w, "Invalid JSON body")
		return false
	}
	return true
}
