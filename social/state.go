package social

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

const (
	stateBytes = 24
	nonceBytes = 24
)

// NewState returns a random URL safe CSRF state value.
func NewState() (string, error) {
	return randomToken(stateBytes)
}

// NewNonce returns a random URL safe nonce.
func NewNonce() (string, error) {
	return randomToken(nonceBytes)
}

func randomToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
