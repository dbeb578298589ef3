package evidence

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"
)

var ErrInvalidToken = errors.New("invalid evidence token")

// Token derives the access token for a clip: first 16 bytes of
// SHA256(clip_id || expires_at_RFC3339 || secret), hex encoded. The
// expires_at string must be byte-identical between mint and verify, so
// both sides format with time.RFC3339.
func Token(clipID string, expiresAt time.Time, secret string) string {
	sum := sha256.Sum256([]byte(clipID + expiresAt.UTC().Format(time.RFC3339) + secret))
	return hex.EncodeToString(sum[:16])
}

// VerifyToken checks a presented token against the clip's identity and
// expiry. Tokens are self-authorizing: possession grants access, no
// tenant binding.
func VerifyToken(clipID string, expiresAt time.Time, secret, presented string) error {
	if time.Now().After(expiresAt) {
		return ErrInvalidToken
	}
	expected := Token(clipID, expiresAt, secret)
	if !hmac.Equal([]byte(expected), []byte(presented)) {
		return ErrInvalidToken
	}
	return nil
}
