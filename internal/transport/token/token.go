// Package token issues and verifies signed resume tokens. A token binds an
// actor id to a world id so a reconnecting client can reclaim its identity
// and ownership without the server keeping per-connection session state.
package token

import (
	"crypto/rand"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

type HMACCodec struct {
	secret []byte
	ttl    time.Duration
}

// NewHMACCodec builds a codec from a raw secret. TTL <= 0 means tokens
// never expire, which suits long-lived build worlds.
func NewHMACCodec(secret []byte, ttl time.Duration) (*HMACCodec, error) {
	if len(secret) < 16 {
		return nil, fmt.Errorf("secret too short: %d bytes", len(secret))
	}
	return &HMACCodec{secret: secret, ttl: ttl}, nil
}

// LoadOrCreateSecret reads the secret file, generating one on first boot so
// tokens survive server restarts.
func LoadOrCreateSecret(path string) ([]byte, error) {
	b, err := os.ReadFile(path)
	if err == nil && len(b) >= 16 {
		return b, nil
	}
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, secret, 0o600); err != nil {
		return nil, err
	}
	return secret, nil
}

func (c *HMACCodec) Issue(actorID, worldID string) (string, error) {
	if actorID == "" || worldID == "" {
		return "", fmt.Errorf("empty actor or world id")
	}
	claims := jwt.MapClaims{
		"sub":   actorID,
		"world": worldID,
		"nbf":   time.Now().Unix(),
	}
	if c.ttl > 0 {
		claims["exp"] = time.Now().Add(c.ttl).Unix()
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return t.SignedString(c.secret)
}

func (c *HMACCodec) Verify(tokenString, worldID string) (string, error) {
	t, err := jwt.Parse(tokenString, func(jwtToken *jwt.Token) (interface{}, error) {
		if _, ok := jwtToken.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected method: %v", jwtToken.Header["alg"])
		}
		return c.secret, nil
	})
	if err != nil {
		return "", err
	}
	if !t.Valid {
		return "", fmt.Errorf("invalid token")
	}
	claims, ok := t.Claims.(jwt.MapClaims)
	if !ok {
		return "", fmt.Errorf("unexpected claims type")
	}
	world, _ := claims["world"].(string)
	if world != worldID {
		return "", fmt.Errorf("token for world %q, want %q", world, worldID)
	}
	actorID, _ := claims["sub"].(string)
	if actorID == "" {
		return "", fmt.Errorf("token missing subject")
	}
	return actorID, nil
}
