package tokens

import (
	"encoding/json"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Kind distinguishes access from refresh tokens. It selects the signing
// secret and is the AAD of the sealed meta, so a meta blob cannot be
// moved from one kind of token to the other.
type Kind string

const (
	KindAccess  Kind = "access"
	KindRefresh Kind = "refresh"
)

// Claims is the JWT body of both token kinds
type Claims struct {
	UserID   string `json:"id"`
	Username string `json:"username"`
	Meta     string `json:"meta"`
	jwt.RegisteredClaims

	// WorkspaceID is recovered from Meta during verification
	WorkspaceID string `json:"-"`
}

// SessionID returns the session the token is bound to
func (c *Claims) SessionID() string {
	return c.ID
}

// meta is the sealed binding between a token and a user+workspace pair
type meta struct {
	Subject     string `json:"sub"`
	WorkspaceID string `json:"ws"`
}

func (m meta) marshal() ([]byte, error) {
	return json.Marshal(m)
}

// Pair is the result of a login or refresh
type Pair struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
	SessionID        string
}
