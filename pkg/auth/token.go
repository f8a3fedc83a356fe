package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

const (
	// KeyPrefix identifies keystone API keys
	KeyPrefix = "ks_"
	// KeyLength is the number of random bytes (32 bytes = 256 bits)
	KeyLength = 32
	// displayChars is how much of the encoded key is kept for display
	displayChars = 8
)

// KeyGenerator generates and checks API keys
type KeyGenerator struct{}

// NewKeyGenerator creates a new key generator
func NewKeyGenerator() *KeyGenerator {
	return &KeyGenerator{}
}

// Generate creates a new API key.
// Format: ks_<base64url(32 random bytes)>
// Only the SHA-256 hash and the display prefix are ever stored.
func (g *KeyGenerator) Generate() (key, keyHash, displayPrefix string, err error) {
	randomBytes := make([]byte, KeyLength)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", "", "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	encoded := base64.RawURLEncoding.EncodeToString(randomBytes)
	key = KeyPrefix + encoded
	return key, g.Hash(key), KeyPrefix + encoded[:displayChars], nil
}

// Hash computes the SHA-256 hash of a key for lookup
func (g *KeyGenerator) Hash(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// ValidateFormat checks that key looks like a keystone API key
func (g *KeyGenerator) ValidateFormat(key string) error {
	if !strings.HasPrefix(key, KeyPrefix) {
		return fmt.Errorf("key must start with %q", KeyPrefix)
	}

	encoded := strings.TrimPrefix(key, KeyPrefix)
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return fmt.Errorf("invalid key encoding: %w", err)
	}
	if len(raw) != KeyLength {
		return fmt.Errorf("key has %d random bytes, want %d", len(raw), KeyLength)
	}
	return nil
}

// DisplayPrefix returns the part of a key that is safe to show
func (g *KeyGenerator) DisplayPrefix(key string) string {
	encoded := strings.TrimPrefix(key, KeyPrefix)
	if len(encoded) < displayChars {
		return ""
	}
	return KeyPrefix + encoded[:displayChars]
}
