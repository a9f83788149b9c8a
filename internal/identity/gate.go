// Package identity issues and verifies the bearer tokens that bind an
// operator account to a device. Tokens are stateless HS256 JWTs; there is no
// session table and no revocation list, so expiry is the only way a token
// stops being valid.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/septivank/medimind-backend/internal/apperr"
	"github.com/septivank/medimind-backend/internal/db"
	"github.com/septivank/medimind-backend/internal/repository"
	"golang.org/x/crypto/bcrypt"
)

// DefaultTokenTTL is the validity window of an issued token
const DefaultTokenTTL = 7 * 24 * time.Hour

// ErrInvalidCredentials is returned by Login for both an unknown username and
// a wrong password so callers cannot tell the two apart.
var ErrInvalidCredentials = fmt.Errorf("%w: invalid credentials", apperr.ErrUnauthorized)

// Claims is the verified identity carried by a token
type Claims struct {
	jwt.RegisteredClaims
	PrincipalID int64  `json:"id"`
	Username    string `json:"username"`
	DeviceID    string `json:"deviceId,omitempty"`
}

// Gate registers principals, logs them in and verifies their tokens
type Gate struct {
	principals repository.PrincipalStore
	secret     []byte
	ttl        time.Duration
	cost       int
	now        func() time.Time

	dummyOnce sync.Once
	dummyHash []byte
}

// Option configures a Gate
type Option func(*Gate)

// WithTokenTTL overrides DefaultTokenTTL
func WithTokenTTL(ttl time.Duration) Option {
	return func(g *Gate) { g.ttl = ttl }
}

// WithBcryptCost overrides bcrypt.DefaultCost
func WithBcryptCost(cost int) Option {
	return func(g *Gate) { g.cost = cost }
}

// WithClock overrides the time source used for issuing and verifying
func WithClock(now func() time.Time) Option {
	return func(g *Gate) { g.now = now }
}

// NewGate creates an identity gate reading accounts from principals
func NewGate(principals repository.PrincipalStore, secret string, opts ...Option) *Gate {
	g := &Gate{
		principals: principals,
		secret:     []byte(secret),
		ttl:        DefaultTokenTTL,
		cost:       bcrypt.DefaultCost,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Register creates a principal and returns it with a freshly minted token.
// A taken username or email yields apperr.ErrConflict.
func (g *Gate) Register(ctx context.Context, username, email, password, deviceID string) (*db.Principal, string, error) {
	username = strings.TrimSpace(username)
	email = strings.TrimSpace(email)
	if username == "" || email == "" || password == "" {
		return nil, "", fmt.Errorf("%w: username, email and password are required", apperr.ErrValidation)
	}

	if _, err := g.principals.GetPrincipalByUsername(ctx, username); err == nil {
		return nil, "", fmt.Errorf("%w: user already exists", apperr.ErrConflict)
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, "", fmt.Errorf("failed to look up user: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), g.cost)
	if errors.Is(err, bcrypt.ErrPasswordTooLong) {
		return nil, "", fmt.Errorf("%w: password must be at most 72 bytes", apperr.ErrValidation)
	}
	if err != nil {
		return nil, "", fmt.Errorf("failed to hash password: %w", err)
	}

	principal := &db.Principal{
		Username:     username,
		Email:        email,
		PasswordHash: string(hash),
	}
	if deviceID = strings.TrimSpace(deviceID); deviceID != "" {
		principal.DeviceID = &deviceID
	}

	created, err := g.principals.CreatePrincipal(ctx, principal)
	if err != nil {
		return nil, "", err
	}

	token, err := g.issue(created)
	if err != nil {
		return nil, "", err
	}

	return created, token, nil
}

// Login checks the password and returns the principal with a new token.
// Every failure caused by the credentials themselves is ErrInvalidCredentials.
func (g *Gate) Login(ctx context.Context, username, password string) (*db.Principal, string, error) {
	principal, err := g.principals.GetPrincipalByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// keep the timing of unknown users close to a real comparison
			_ = bcrypt.CompareHashAndPassword(g.dummy(), []byte(password))
			return nil, "", ErrInvalidCredentials
		}
		return nil, "", fmt.Errorf("failed to look up user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(principal.PasswordHash), []byte(password)); err != nil {
		return nil, "", ErrInvalidCredentials
	}

	token, err := g.issue(principal)
	if err != nil {
		return nil, "", err
	}

	return principal, token, nil
}

// Verify parses a token. A missing or structurally garbled token is
// apperr.ErrUnauthorized; a bad signature or an expired token is
// apperr.ErrForbidden.
func (g *Gate) Verify(tokenString string) (*Claims, error) {
	if strings.TrimSpace(tokenString) == "" {
		return nil, fmt.Errorf("%w: access token required", apperr.ErrUnauthorized)
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return g.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(g.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenMalformed) {
			return nil, fmt.Errorf("%w: malformed token", apperr.ErrUnauthorized)
		}
		return nil, fmt.Errorf("%w: invalid token: %v", apperr.ErrForbidden, err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("%w: invalid token", apperr.ErrForbidden)
	}

	return claims, nil
}

func (g *Gate) issue(p *db.Principal) (string, error) {
	now := g.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(g.ttl)),
		},
		PrincipalID: p.ID,
		Username:    p.Username,
	}
	if p.DeviceID != nil {
		claims.DeviceID = *p.DeviceID
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(g.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return token, nil
}

func (g *Gate) dummy() []byte {
	g.dummyOnce.Do(func() {
		g.dummyHash, _ = bcrypt.GenerateFromPassword([]byte("medimind-dummy-password"), g.cost)
	})
	return g.dummyHash
}
