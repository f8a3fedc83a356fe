package httputil

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/keystone/pkg/identity"
)

func decode(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var body ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()
	require.NoError(t, WriteJSON(w, http.StatusOK, map[string]string{"message": "success"}))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), "success")
}

func TestWriteIdentityError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"unauthenticated", identity.ErrInvalidToken, http.StatusUnauthorized, identity.CodeInvalidMissingToken},
		{"wrapped forbidden", errors.Join(errors.New("ctx"), identity.ErrForbidden), http.StatusForbidden, identity.CodeForbidden},
		{"not found", identity.NotFound(identity.CodeUserNotFound), http.StatusNotFound, identity.CodeUserNotFound},
		{"conflict", identity.Conflict(identity.CodeQuotaExceeded), http.StatusConflict, identity.CodeQuotaExceeded},
		{"federation", identity.ErrSSOLoginFailed, http.StatusUnauthorized, identity.CodeSSOLoginFailed},
		{"internal", errors.New("pq: connection reset"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteIdentityError(w, tt.err)
			assert.Equal(t, tt.wantStatus, w.Code)
			body := decode(t, w)
			assert.Equal(t, tt.wantCode, body.Error)
			assert.Empty(t, body.Message)
		})
	}

	t.Run("validation carries a message", func(t *testing.T) {
		w := httptest.NewRecorder()
		WriteIdentityError(w, identity.Invalid(identity.CodeInvalidInput, errors.New("email is malformed")))
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, decode(t, w).Message, "email is malformed")
	})
}

func TestStatusHelpers(t *testing.T) {
	tests := []struct {
		name   string
		write  func(w http.ResponseWriter)
		status int
	}{
		{"created", func(w http.ResponseWriter) { WriteCreated(w, map[string]string{}) }, http.StatusCreated},
		{"success", func(w http.ResponseWriter) { WriteSuccess(w, map[string]string{}) }, http.StatusOK},
		{"no content", WriteNoContent, http.StatusNoContent},
		{"bad request", func(w http.ResponseWriter) { WriteBadRequest(w, "nope") }, http.StatusBadRequest},
		{"unauthorized", func(w http.ResponseWriter) { WriteUnauthorized(w, identity.CodeTokenExpired) }, http.StatusUnauthorized},
		{"forbidden", func(w http.ResponseWriter) { WriteForbidden(w, identity.CodeForbidden) }, http.StatusForbidden},
		{"too many", func(w http.ResponseWriter) { WriteTooManyRequests(w, "slow down") }, http.StatusTooManyRequests},
		{"internal", WriteInternalError, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			tt.write(w)
			assert.Equal(t, tt.status, w.Code)
		})
	}
}
