package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/keystone/pkg/accounts"
	"github.com/platinummonkey/keystone/pkg/contextkeys"
	"github.com/platinummonkey/keystone/pkg/httputil"
	"github.com/platinummonkey/keystone/pkg/identity"
	"github.com/platinummonkey/keystone/pkg/middleware"
	"github.com/platinummonkey/keystone/pkg/observability"
	"github.com/platinummonkey/keystone/pkg/tokens"
)

func (s *Server) registerAuthRoutes(router *mux.Router, limit *middleware.RateLimitMiddleware) {
	limited := func(fn http.HandlerFunc) http.Handler {
		return limit.Handler(fn)
	}

	router.Handle("/auth/login", limited(s.login)).Methods(http.MethodPost)
	router.Handle("/auth/refreshToken", limited(s.refresh)).Methods(http.MethodPost)
	router.HandleFunc("/auth/logout", s.logout).Methods(http.MethodPost)
	router.HandleFunc("/auth/me", s.me).Methods(http.MethodGet)
	router.HandleFunc("/auth/resolve", s.resolve).Methods(http.MethodPost)

	router.HandleFunc("/auth/register", s.register).Methods(http.MethodPost)
	router.HandleFunc("/auth/verify", s.verify).Methods(http.MethodPost)
	router.Handle("/auth/resend-verification", limited(s.resendVerification)).Methods(http.MethodPost)
	router.Handle("/auth/forgot-password", limited(s.forgotPassword)).Methods(http.MethodPost)
	router.Handle("/auth/reset-password", limited(s.resetPassword)).Methods(http.MethodPost)
	router.HandleFunc("/auth/accept-invite", s.acceptInvite).Methods(http.MethodPost)
}

// publicPrincipal strips upstream provider tokens before a principal is
// written to a client
func publicPrincipal(p *identity.Principal) *identity.Principal {
	out := *p
	out.SSO = nil
	return &out
}

func (s *Server) setTokenCookies(w http.ResponseWriter, pair *tokens.Pair) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.TokenCookie,
		Value:    pair.AccessToken,
		Path:     "/",
		Expires:  pair.AccessExpiresAt,
		HttpOnly: true,
		Secure:   s.cfg.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	if pair.RefreshToken != "" {
		http.SetCookie(w, &http.Cookie{
			Name:     middleware.RefreshTokenCookie,
			Value:    pair.RefreshToken,
			Path:     "/",
			Expires:  pair.RefreshExpiresAt,
			HttpOnly: true,
			Secure:   s.cfg.SecureCookies,
			SameSite: http.SameSiteLaxMode,
		})
	}
}

func (s *Server) clearTokenCookies(w http.ResponseWriter) {
	for _, name := range []string{middleware.TokenCookie, middleware.RefreshTokenCookie} {
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    "",
			Path:     "/",
			Expires:  time.Unix(0, 0),
			MaxAge:   -1,
			HttpOnly: true,
			Secure:   s.cfg.SecureCookies,
			SameSite: http.SameSiteLaxMode,
		})
	}
}

// CompleteLogin starts a session for p, sets the token cookies and returns
// the payload of a successful login
func (s *Server) CompleteLogin(w http.ResponseWriter, r *http.Request, p *identity.Principal) (any, error) {
	sid, err := s.sessions.Create(r.Context(), p)
	if err != nil {
		return nil, err
	}
	pair, err := s.tokens.Issue(p, sid)
	if err != nil {
		return nil, err
	}
	s.setTokenCookies(w, pair)
	if p.IsFederated() {
		s.metrics.RecordSSOLogin(p.SSO.Provider, "success")
	}
	return publicPrincipal(p), nil
}

// Logout ends the caller's session, if any, and clears the token cookies
func (s *Server) Logout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	p, _ := contextkeys.GetPrincipal(ctx)
	if sid := contextkeys.GetSessionID(ctx); sid != "" || p != nil {
		s.accounts.Logout(ctx, p, sid, httputil.ClientIP(r))
	}
	s.clearTokenCookies(w)
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var in accounts.LoginInput
	if !httputil.ParseJSONOrError(w, r, &in) {
		return
	}
	in.IPAddress = httputil.ClientIP(r)

	p, err := s.accounts.Login(r.Context(), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	payload, err := s.CompleteLogin(w, r, p)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, payload)
}

func (s *Server) refresh(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(middleware.RefreshTokenCookie)
	if err != nil || cookie.Value == "" {
		s.metrics.RecordRefresh("missing")
		httputil.WriteUnauthorized(w, identity.CodeInvalidMissingToken)
		return
	}

	pair, p, err := s.tokens.Refresh(r.Context(), cookie.Value)
	if err != nil {
		s.metrics.RecordRefresh("failure")
		if identity.KindOf(err) == identity.KindUnauthenticated {
			s.clearTokenCookies(w)
		}
		s.writeError(w, r, err)
		return
	}
	s.metrics.RecordRefresh("success")
	s.setTokenCookies(w, pair)
	httputil.WriteSuccess(w, publicPrincipal(p))
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	s.Logout(w, r)
	httputil.WriteSuccess(w, map[string]string{"message": "logged_out", "redirectTo": "/signin"})
}

func (s *Server) me(w http.ResponseWriter, r *http.Request) {
	p, ok := contextkeys.GetPrincipal(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, identity.CodeInvalidMissingToken)
		return
	}
	httputil.WriteSuccess(w, publicPrincipal(p))
}

func (s *Server) resolve(w http.ResponseWriter, r *http.Request) {
	target, err := s.accounts.ResolveRedirect(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, map[string]string{"redirectUrl": target})
}

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	var in accounts.RegisterInput
	if !httputil.ParseJSONOrError(w, r, &in) {
		return
	}
	account, err := s.accounts.Register(r.Context(), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteCreated(w, account)
}

type tempTokenRequest struct {
	TempToken string `json:"tempToken"`
}

func (s *Server) verify(w http.ResponseWriter, r *http.Request) {
	var req tempTokenRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	user, err := s.accounts.Verify(r.Context(), req.TempToken)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, user)
}

type emailRequest struct {
	Email string `json:"email"`
}

func (s *Server) resendVerification(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if err := s.accounts.ResendVerification(r.Context(), req.Email); err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, map[string]string{"message": "verification_sent"})
}

// forgotPassword answers the same way whether or not the address is known
func (s *Server) forgotPassword(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if err := s.accounts.ForgotPassword(r.Context(), req.Email); err != nil && !identity.IsNotFound(err) {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, map[string]string{"message": "reset_link_sent"})
}

func (s *Server) resetPassword(w http.ResponseWriter, r *http.Request) {
	var in accounts.ResetPasswordInput
	if !httputil.ParseJSONOrError(w, r, &in) {
		return
	}
	user, err := s.accounts.ResetPassword(r.Context(), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, user)
}

func (s *Server) acceptInvite(w http.ResponseWriter, r *http.Request) {
	var in accounts.AcceptInviteInput
	if !httputil.ParseJSONOrError(w, r, &in) {
		return
	}
	account, err := s.accounts.AcceptInvite(r.Context(), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, account)
}

// writeError answers with the classified error and logs what the client
// does not see
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	if kind := identity.KindOf(err); kind == identity.KindInternal || kind == identity.KindFederation {
		observability.FromContext(r.Context()).WithError(err).WithField("path", r.URL.Path).Error("request failed")
	}
	httputil.WriteIdentityError(w, err)
}
