package tokens

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var ErrInvalidToken = errors.New("invalid token")

type TokenType string

// Feed tokens authorize a single websocket subscription. They are
// short-lived: the browser asks for a fresh one each time it opens
// the live feed.
const Feed TokenType = "feed"

const feedTokenTTL = 10 * time.Minute

type Claims struct {
	TenantID  string    `json:"tid"`
	TokenType TokenType `json:"token_type"`
	jwt.RegisteredClaims
}

type Manager struct {
	signingKey []byte
}

func NewManager(signingKey string) *Manager {
	return &Manager{signingKey: []byte(signingKey)}
}

// GenerateFeedToken mints a feed-scoped token for the tenant.
func (m *Manager) GenerateFeedToken(tenantID string) (string, time.Time, error) {
	now := time.Now().UTC()
	expires := now.Add(feedTokenTTL)
	claims := Claims{
		TenantID:  tenantID,
		TokenType: Feed,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expires),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ID:        uuid.New().String(), // jti
			Subject:   tenantID,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	// Add Kid for future key rotation support, even if using single key now
	token.Header["kid"] = "v1"

	signed, err := token.SignedString(m.signingKey)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expires, nil
}

// ValidateFeedToken checks the signature and that the token is
// actually feed-scoped. Other token types are rejected outright.
func (m *Manager) ValidateFeedToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		// In a real rotation scenario, we'd look up key by kid
		return m.signingKey, nil
	})
	if err != nil {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.TokenType != Feed {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
