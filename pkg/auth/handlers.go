package auth

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/keystone/pkg/contextkeys"
	"github.com/platinummonkey/keystone/pkg/httputil"
	"github.com/platinummonkey/keystone/pkg/identity"
)

// Handlers manages the API keys of the caller's active workspace
type Handlers struct {
	keys *KeyManager
}

// NewHandlers creates new API key handlers
func NewHandlers(keys *KeyManager) *Handlers {
	return &Handlers{keys: keys}
}

// RegisterRoutes registers API key routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/apikey", h.listKeys).Methods(http.MethodGet)
	router.HandleFunc("/apikey", h.createKey).Methods(http.MethodPost)
	router.HandleFunc("/apikey/{id}", h.revokeKey).Methods(http.MethodDelete)
}

type createKeyRequest struct {
	Name        string   `json:"keyName"`
	Permissions []string `json:"permissions"`
}

type createKeyResponse struct {
	*APIKey
	Key string `json:"apiKey"`
}

func (h *Handlers) createKey(w http.ResponseWriter, r *http.Request) {
	p, ok := contextkeys.GetPrincipal(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, identity.CodeInvalidMissingToken)
		return
	}
	var req createKeyRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	k, key, err := h.keys.Create(r.Context(), p.ActiveWorkspaceID, req.Name, req.Permissions)
	if err != nil {
		httputil.WriteIdentityError(w, err)
		return
	}
	httputil.WriteCreated(w, createKeyResponse{APIKey: k, Key: key})
}

func (h *Handlers) listKeys(w http.ResponseWriter, r *http.Request) {
	p, ok := contextkeys.GetPrincipal(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, identity.CodeInvalidMissingToken)
		return
	}
	keys, err := h.keys.List(r.Context(), p.ActiveWorkspaceID)
	if err != nil {
		httputil.WriteIdentityError(w, err)
		return
	}
	httputil.WriteSuccess(w, keys)
}

func (h *Handlers) revokeKey(w http.ResponseWriter, r *http.Request) {
	p, ok := contextkeys.GetPrincipal(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, identity.CodeInvalidMissingToken)
		return
	}
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	if err := h.keys.Revoke(r.Context(), p.ActiveWorkspaceID, id); err != nil {
		httputil.WriteIdentityError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}
