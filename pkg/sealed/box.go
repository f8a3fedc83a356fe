package sealed

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// Version is the first byte of every sealed blob and part of its AAD
const Version byte = 0x01

// Overhead is version + XChaCha20 nonce + Poly1305 tag
const Overhead = 1 + chacha20poly1305.NonceSizeX + chacha20poly1305.Overhead

// ErrOpen is returned when a blob fails authentication
var ErrOpen = errors.New("sealed: message authentication failed")

// Box seals small payloads with XChaCha20-Poly1305 under a key derived
// from a configured secret. Sealed output is URL-safe base64:
//
//	[version: 1] [nonce: 24] [ciphertext+tag]
type Box struct {
	key []byte
}

// New derives a box key from secret via HKDF-SHA256. info separates boxes
// that share a secret.
func New(secret, info string) (*Box, error) {
	if secret == "" {
		return nil, errors.New("sealed: secret is required")
	}
	key := make([]byte, chacha20poly1305.KeySize)
	r := hkdf.New(sha256.New, []byte(secret), nil, []byte(info))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("deriving key: %w", err)
	}
	return &Box{key: key}, nil
}

// Seal encrypts plaintext bound to context
func (b *Box) Seal(plaintext []byte, context string) (string, error) {
	aead, err := chacha20poly1305.NewX(b.key)
	if err != nil {
		return "", fmt.Errorf("creating XChaCha20-Poly1305 cipher: %w", err)
	}

	var nonce [chacha20poly1305.NonceSizeX]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}

	out := make([]byte, 1+len(nonce), Overhead+len(plaintext))
	out[0] = Version
	copy(out[1:], nonce[:])
	out = aead.Seal(out, nonce[:], plaintext, aad(Version, context))
	return base64.RawURLEncoding.EncodeToString(out), nil
}

// Open reverses Seal. A different context, key or any tampering fails with ErrOpen.
func (b *Box) Open(sealed, context string) ([]byte, error) {
	blob, err := base64.RawURLEncoding.DecodeString(sealed)
	if err != nil {
		return nil, ErrOpen
	}
	if len(blob) < Overhead || blob[0] != Version {
		return nil, ErrOpen
	}

	aead, err := chacha20poly1305.NewX(b.key)
	if err != nil {
		return nil, fmt.Errorf("creating XChaCha20-Poly1305 cipher: %w", err)
	}
	nonce := blob[1 : 1+chacha20poly1305.NonceSizeX]
	plaintext, err := aead.Open(nil, nonce, blob[1+chacha20poly1305.NonceSizeX:], aad(blob[0], context))
	if err != nil {
		return nil, ErrOpen
	}
	return plaintext, nil
}

func aad(version byte, context string) []byte {
	out := make([]byte, 0, 1+len(context))
	out = append(out, version)
	return append(out, context...)
}
