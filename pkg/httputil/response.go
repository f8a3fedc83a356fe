package httputil

import (
	"encoding/json"
	"net/http"

	"github.com/platinummonkey/keystone/pkg/identity"
)

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, status int, data any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

// WriteErrorMessage writes {"error": message} with the given status code
func WriteErrorMessage(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, ErrorResponse{Error: message})
}

// ErrorResponse is the body of every error answer. Retry is set on an
// expired access token when the client holds a refresh token.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Retry   bool   `json:"retry,omitempty"`
}

// WriteIdentityError answers with the status and stable code of a
// classified error. Unclassified errors become a 500 without details.
func WriteIdentityError(w http.ResponseWriter, err error) {
	status := identity.HTTPStatus(err)
	body := ErrorResponse{Error: identity.CodeOf(err)}
	if identity.KindOf(err) == identity.KindValidation {
		body.Message = err.Error()
	}
	WriteJSON(w, status, body)
}

// WriteSuccess writes a 200 response with JSON data
func WriteSuccess(w http.ResponseWriter, data any) error {
	return WriteJSON(w, http.StatusOK, data)
}

// WriteCreated writes a 201 response with JSON data
func WriteCreated(w http.ResponseWriter, data any) error {
	return WriteJSON(w, http.StatusCreated, data)
}

// WriteNoContent writes a 204 response
func WriteNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// WriteBadRequest writes a 400 INVALID_INPUT error with a message
func WriteBadRequest(w http.ResponseWriter, message string) {
	WriteJSON(w, http.StatusBadRequest, ErrorResponse{Error: identity.CodeInvalidInput, Message: message})
}

// WriteUnauthorized writes a 401 error
func WriteUnauthorized(w http.ResponseWriter, code string) {
	WriteErrorMessage(w, http.StatusUnauthorized, code)
}

// WriteForbidden writes a 403 error
func WriteForbidden(w http.ResponseWriter, code string) {
	WriteErrorMessage(w, http.StatusForbidden, code)
}

// WriteTooManyRequests writes a 429 error
func WriteTooManyRequests(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusTooManyRequests, message)
}

// WriteInternalError writes a 500 without leaking err
func WriteInternalError(w http.ResponseWriter) {
	WriteErrorMessage(w, http.StatusInternalServerError, "INTERNAL_ERROR")
}
