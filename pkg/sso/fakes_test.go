package sso

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

const (
	testClientID     = "keystone-client"
	testClientSecret = "keystone-secret"
	testCode         = "good-code"
	testRefresh      = "upstream-refresh"
	testBaseURL      = "https://keystone.example.com"
	testKeyID        = "test-key"
)

// clientCredentials reads client credentials from basic auth or the form,
// whichever the oauth2 package chose
func clientCredentials(r *http.Request) (string, string) {
	if id, secret, ok := r.BasicAuth(); ok {
		return id, secret
	}
	return r.Form.Get("client_id"), r.Form.Get("client_secret")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// fakeIdP is an OpenID Connect provider serving discovery, keys, a token
// endpoint and userinfo
type fakeIdP struct {
	t      *testing.T
	server *httptest.Server
	key    *rsa.PrivateKey

	mu            sync.Mutex
	email         string
	name          string
	userinfoEmail string
	signingKey    *rsa.PrivateKey
}

func newFakeIdP(t *testing.T) *fakeIdP {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	idp := &fakeIdP{t: t, key: key, email: "owner@example.com", name: "Owner"}
	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", idp.discovery)
	mux.HandleFunc("/keys", idp.keys)
	mux.HandleFunc("/token", idp.token)
	mux.HandleFunc("/userinfo", idp.userinfo)
	idp.server = httptest.NewServer(mux)
	t.Cleanup(idp.server.Close)
	return idp
}

func (idp *fakeIdP) URL() string {
	return idp.server.URL
}

func (idp *fakeIdP) Client() *http.Client {
	return idp.server.Client()
}

func (idp *fakeIdP) config() Config {
	return Config{ClientID: testClientID, ClientSecret: testClientSecret, IssuerURL: idp.URL()}
}

func (idp *fakeIdP) setUser(email, name string) {
	idp.mu.Lock()
	defer idp.mu.Unlock()
	idp.email, idp.name = email, name
}

func (idp *fakeIdP) discovery(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"issuer":                                idp.URL(),
		"authorization_endpoint":                idp.URL() + "/authorize",
		"token_endpoint":                        idp.URL() + "/token",
		"jwks_uri":                              idp.URL() + "/keys",
		"userinfo_endpoint":                     idp.URL() + "/userinfo",
		"id_token_signing_alg_values_supported": []string{"RS256"},
	})
}

func (idp *fakeIdP) keys(w http.ResponseWriter, r *http.Request) {
	pub := idp.key.PublicKey
	writeJSON(w, http.StatusOK, map[string]any{
		"keys": []map[string]string{{
			"kty": "RSA",
			"kid": testKeyID,
			"alg": "RS256",
			"use": "sig",
			"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
		}},
	})
}

func (idp *fakeIdP) token(w http.ResponseWriter, r *http.Request) {
	require.NoError(idp.t, r.ParseForm())
	id, secret := clientCredentials(r)
	if id != testClientID || secret != testClientSecret {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid_client"})
		return
	}

	switch r.Form.Get("grant_type") {
	case "authorization_code":
		if r.Form.Get("code") != testCode {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"access_token":  "upstream-access",
			"token_type":    "Bearer",
			"refresh_token": testRefresh,
			"expires_in":    3600,
			"id_token":      idp.idToken(),
		})
	case "refresh_token":
		if r.Form.Get("refresh_token") != testRefresh {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"access_token": "upstream-access-2",
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unsupported_grant_type"})
	}
}

func (idp *fakeIdP) idToken() string {
	idp.mu.Lock()
	defer idp.mu.Unlock()

	now := time.Now()
	claims := jwt.MapClaims{
		"iss": idp.URL(),
		"aud": testClientID,
		"sub": "subject-1",
		"iat": now.Unix(),
		"exp": now.Add(time.Hour).Unix(),
	}
	if idp.email != "" {
		claims["email"] = idp.email
	}
	if idp.name != "" {
		claims["name"] = idp.name
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = testKeyID

	key := idp.key
	if idp.signingKey != nil {
		key = idp.signingKey
	}
	signed, err := token.SignedString(key)
	require.NoError(idp.t, err)
	return signed
}

func (idp *fakeIdP) userinfo(w http.ResponseWriter, r *http.Request) {
	idp.mu.Lock()
	defer idp.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"sub": "subject-1", "email": idp.userinfoEmail})
}

// initializedProvider returns a google provider bound to idp
func initializedProvider(t *testing.T, idp *fakeIdP) Provider {
	t.Helper()
	p, err := NewProvider(ProviderGoogle, idp.config(), testBaseURL, idp.Client())
	require.NoError(t, err)
	require.NoError(t, p.Initialize(context.Background()))
	return p
}
