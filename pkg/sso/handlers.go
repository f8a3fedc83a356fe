package sso

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/keystone/pkg/contextkeys"
	"github.com/platinummonkey/keystone/pkg/httputil"
	"github.com/platinummonkey/keystone/pkg/identity"
)

const (
	stateCookie   = "sso_state"
	stateTTL      = 10 * time.Minute
	providerRoute = "{provider:azure|google|auth0|github}"
)

// LoginCompleter turns a principal into an authenticated browser session.
// The API layer owns sessions and cookies.
type LoginCompleter interface {
	CompleteLogin(w http.ResponseWriter, r *http.Request, p *identity.Principal) (any, error)
	Logout(w http.ResponseWriter, r *http.Request)
}

// Handlers serves the provider browser flows and login method administration
type Handlers struct {
	federation    *Federation
	storage       *Storage
	handoff       *Handoff
	completer     LoginCompleter
	appURL        string
	secureCookies bool
}

// NewHandlers creates new SSO handlers. appURL is the address of the web
// client the browser returns to.
func NewHandlers(federation *Federation, storage *Storage, handoff *Handoff, completer LoginCompleter, appURL string, secureCookies bool) *Handlers {
	return &Handlers{
		federation:    federation,
		storage:       storage,
		handoff:       handoff,
		completer:     completer,
		appURL:        strings.TrimRight(appURL, "/"),
		secureCookies: secureCookies,
	}
}

// RegisterRoutes registers SSO routes on the /api/v1 router
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/"+providerRoute+"/login", h.login).Methods(http.MethodGet)
	router.HandleFunc("/"+providerRoute+"/callback", h.callback).Methods(http.MethodGet, http.MethodPost)
	router.HandleFunc("/"+providerRoute+"/logout", h.logout).Methods(http.MethodGet)
	router.HandleFunc("/auth/sso-success", h.success).Methods(http.MethodGet)

	router.HandleFunc("/loginmethod/default", h.enabledMethods).Methods(http.MethodGet)
	router.HandleFunc("/loginmethod", h.listMethods).Methods(http.MethodGet)
	router.HandleFunc("/loginmethod", h.saveMethods).Methods(http.MethodPut)
	router.HandleFunc("/loginmethod/test", h.testMethod).Methods(http.MethodPost)
}

func (h *Handlers) provider(r *http.Request) (Provider, bool) {
	name, err := ParseProviderName(mux.Vars(r)["provider"])
	if err != nil {
		return nil, false
	}
	return h.federation.Provider(name)
}

func (h *Handlers) login(w http.ResponseWriter, r *http.Request) {
	p, ok := h.provider(r)
	if !ok {
		httputil.WriteIdentityError(w, identity.NotFound(identity.CodeLoginMethodNotFound))
		return
	}

	state, err := generateState()
	if err != nil {
		httputil.WriteInternalError(w)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookie,
		Value:    state,
		Path:     p.CallbackPath(),
		MaxAge:   int(stateTTL.Seconds()),
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, p.AuthCodeURL(state), http.StatusFound)
}

func (h *Handlers) callback(w http.ResponseWriter, r *http.Request) {
	name, err := ParseProviderName(mux.Vars(r)["provider"])
	if err != nil {
		h.failRedirect(w, r)
		return
	}
	if err := r.ParseForm(); err != nil {
		h.failRedirect(w, r)
		return
	}
	http.SetCookie(w, &http.Cookie{Name: stateCookie, Path: r.URL.Path, MaxAge: -1})

	if r.Form.Get("error") != "" || !h.validState(r) {
		h.federation.fail(name, "", errCallbackRejected(r.Form.Get("error")))
		h.failRedirect(w, r)
		return
	}

	p, err := h.federation.Login(r.Context(), name, r.Form.Get("code"), httputil.ClientIP(r))
	if err != nil {
		h.failRedirect(w, r)
		return
	}
	token := h.handoff.Put(p)
	http.Redirect(w, r, h.appURL+"/sso-success?token="+url.QueryEscape(token), http.StatusFound)
}

func (h *Handlers) validState(r *http.Request) bool {
	cookie, err := r.Cookie(stateCookie)
	if err != nil || cookie.Value == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(cookie.Value), []byte(r.Form.Get("state"))) == 1
}

func (h *Handlers) failRedirect(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, h.appURL+"/signin?error="+identity.CodeSSOLoginFailed, http.StatusFound)
}

// success hands the browser the session of a finished federated login
func (h *Handlers) success(w http.ResponseWriter, r *http.Request) {
	p, ok := h.handoff.Take(r.URL.Query().Get("token"))
	if !ok {
		httputil.WriteUnauthorized(w, identity.CodeSSOLoginFailed)
		return
	}
	payload, err := h.completer.CompleteLogin(w, r, p)
	if err != nil {
		httputil.WriteIdentityError(w, err)
		return
	}
	httputil.WriteSuccess(w, payload)
}

func (h *Handlers) logout(w http.ResponseWriter, r *http.Request) {
	h.completer.Logout(w, r)
	http.Redirect(w, r, h.appURL+"/signin", http.StatusFound)
}

type enabledMethod struct {
	Name      ProviderName `json:"name"`
	LoginPath string       `json:"loginPath"`
}

// enabledMethods lists the providers shown on the sign-in page
func (h *Handlers) enabledMethods(w http.ResponseWriter, r *http.Request) {
	methods := []enabledMethod{}
	for _, name := range h.federation.Enabled() {
		p, ok := h.federation.Provider(name)
		if !ok {
			continue
		}
		methods = append(methods, enabledMethod{Name: name, LoginPath: p.LoginPath()})
	}
	httputil.WriteSuccess(w, methods)
}

// scope checks that an administrator manages the methods of their own
// organization and returns the storage scope
func (h *Handlers) scope(w http.ResponseWriter, r *http.Request) (*string, bool) {
	principal, ok := contextkeys.GetPrincipal(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, identity.CodeInvalidMissingToken)
		return nil, false
	}
	scope := h.federation.Scope()
	if scope != nil && *scope != principal.ActiveOrganizationID {
		httputil.WriteForbidden(w, identity.CodeForbidden)
		return nil, false
	}
	return scope, true
}

func (h *Handlers) listMethods(w http.ResponseWriter, r *http.Request) {
	scope, ok := h.scope(w, r)
	if !ok {
		return
	}
	methods, err := h.storage.List(r.Context(), scope)
	if err != nil {
		httputil.WriteIdentityError(w, err)
		return
	}
	views, err := h.storage.Views(methods)
	if err != nil {
		httputil.WriteInternalError(w)
		return
	}
	httputil.WriteSuccess(w, views)
}

type saveRequest struct {
	Methods []MethodInput `json:"methods"`
}

func (h *Handlers) saveMethods(w http.ResponseWriter, r *http.Request) {
	scope, ok := h.scope(w, r)
	if !ok {
		return
	}
	var req saveRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if len(req.Methods) == 0 {
		httputil.WriteBadRequest(w, "methods must list at least one login method")
		return
	}

	saved, err := h.storage.Save(r.Context(), scope, req.Methods)
	if err != nil {
		httputil.WriteIdentityError(w, err)
		return
	}
	if err := h.federation.Reload(r.Context()); err != nil {
		h.federation.logger.WithError(err).Error("Failed to reload SSO providers")
	}

	views, err := h.storage.Views(saved)
	if err != nil {
		httputil.WriteInternalError(w)
		return
	}
	httputil.WriteSuccess(w, views)
}

type testResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// testMethod probes a config, typically before it is saved
func (h *Handlers) testMethod(w http.ResponseWriter, r *http.Request) {
	scope, ok := h.scope(w, r)
	if !ok {
		return
	}
	var in MethodInput
	if !httputil.ParseJSONOrError(w, r, &in) {
		return
	}
	name, err := ParseProviderName(in.ProviderName)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	cfg, err := h.storage.MergedConfig(r.Context(), scope, name, in.Config)
	if err != nil {
		httputil.WriteIdentityError(w, err)
		return
	}
	if err := h.federation.TestSetup(r.Context(), name, cfg); err != nil {
		httputil.WriteSuccess(w, testResponse{OK: false, Error: err.Error()})
		return
	}
	httputil.WriteSuccess(w, testResponse{OK: true})
}

func generateState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

type callbackError string

func (e callbackError) Error() string {
	if e == "" {
		return "state mismatch"
	}
	return "provider returned " + string(e)
}

func errCallbackRejected(providerError string) error {
	return callbackError(providerError)
}
