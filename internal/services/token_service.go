package services

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// tokenBytes is 256 bits of entropy
const tokenBytes = 32

// TokenIssuer produces unguessable opaque signing tokens
type TokenIssuer interface {
	Issue() (string, error)
}

// CryptoTokenIssuer reads tokens from crypto/rand
type CryptoTokenIssuer struct{}

// NewTokenIssuer creates the default token issuer
func NewTokenIssuer() *CryptoTokenIssuer {
	return &CryptoTokenIssuer{}
}

// Issue returns a URL-safe token
func (CryptoTokenIssuer) Issue() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
