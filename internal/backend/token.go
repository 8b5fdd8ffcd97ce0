package backend

import (
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenHolder keeps the backend bearer token in memory only — the agent
// never writes credentials to disk. The JWT is parsed without signature
// verification (the agent does not hold the backend's secret) purely to read
// its expiry and subject, so the engine can raise auth expiry proactively
// instead of discovering it on a failed submit.
type TokenHolder struct {
	mu        sync.RWMutex
	token     string
	subject   string
	expiresAt time.Time
}

// NewTokenHolder creates an empty holder.
func NewTokenHolder() *TokenHolder {
	return &TokenHolder{}
}

// Set stores the token and extracts claims it can read. Unparsable tokens
// are still stored; the backend is the authority on validity.
func (h *TokenHolder) Set(token string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.token = token
	h.subject = ""
	h.expiresAt = time.Time{}

	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return
	}
	if sub, err := claims.GetSubject(); err == nil {
		h.subject = sub
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		h.expiresAt = exp.Time
	}
}

// Get returns the current token, empty if none.
func (h *TokenHolder) Get() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.token
}

// Subject returns the token's subject claim (the user id), if readable.
func (h *TokenHolder) Subject() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.subject
}

// Expired reports whether the held token carries an exp claim in the past.
// A missing or unreadable exp claim reports false.
func (h *TokenHolder) Expired() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return !h.expiresAt.IsZero() && time.Now().After(h.expiresAt)
}

// Clear drops the held token.
func (h *TokenHolder) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.token = ""
	h.subject = ""
	h.expiresAt = time.Time{}
}
