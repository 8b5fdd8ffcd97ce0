// Package middleware carries the agent API's request gates. The only one the
// agent needs is the kiosk unlock: lab machines boot locked, a proctor
// enters a PIN, and everything below /api/v1 requires the unlock token that
// PIN earns.
package middleware

import (
	"crypto/rand"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-agent/internal/response"
	"golang.org/x/crypto/bcrypt"
)

const unlockTokenTTL = 12 * time.Hour

// Unlocker verifies the kiosk PIN and mints unlock tokens. Tokens are HS256
// JWTs signed with a random per-process secret — they are only meant to be
// honored by this very process, so no shared secret exists to leak.
type Unlocker struct {
	pinHash []byte
	secret  []byte
	log     zerolog.Logger
}

// NewUnlocker creates an unlocker for the given bcrypt PIN hash. An empty
// hash disables the gate entirely (dev default).
func NewUnlocker(pinHash string, log zerolog.Logger) (*Unlocker, error) {
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("generate unlock secret: %w", err)
	}
	return &Unlocker{
		pinHash: []byte(pinHash),
		secret:  secret,
		log:     log.With().Str("component", "unlocker").Logger(),
	}, nil
}

// Enabled reports whether the unlock gate is configured.
func (u *Unlocker) Enabled() bool {
	return len(u.pinHash) > 0
}

// Unlock checks the PIN and returns a fresh unlock token.
func (u *Unlocker) Unlock(pin string) (string, error) {
	if err := bcrypt.CompareHashAndPassword(u.pinHash, []byte(pin)); err != nil {
		u.log.Warn().Msg("Unlock attempt with wrong PIN")
		return "", fmt.Errorf("compare pin: %w", err)
	}

	claims := jwt.RegisteredClaims{
		Subject:   "kiosk-unlock",
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(unlockTokenTTL)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(u.secret)
	if err != nil {
		return "", fmt.Errorf("sign unlock token: %w", err)
	}

	u.log.Info().Msg("Kiosk unlocked")
	return signed, nil
}

// validate checks an unlock token.
func (u *Unlocker) validate(tokenStr string) error {
	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return u.secret, nil
	})
	if err != nil {
		return err
	}
	if !token.Valid {
		return fmt.Errorf("invalid unlock token")
	}
	return nil
}

// RequireUnlock gates a route group behind a valid unlock token. With the
// gate disabled it passes everything through.
func RequireUnlock(u *Unlocker) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !u.Enabled() {
			c.Next()
			return
		}

		header := c.GetHeader("Authorization")
		tokenStr := strings.TrimPrefix(header, "Bearer ")
		if tokenStr == "" || tokenStr == header {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrUnlockRequired)
			return
		}

		if err := u.validate(tokenStr); err != nil {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrUnlockRequired)
			return
		}
		c.Next()
	}
}
