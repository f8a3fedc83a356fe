package middleware

import (
	_ "embed"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/keystone/pkg/contextkeys"
	"github.com/platinummonkey/keystone/pkg/httputil"
	"github.com/platinummonkey/keystone/pkg/identity"
	"github.com/platinummonkey/keystone/pkg/observability"
)

//go:embed policies.yaml
var defaultPolicies []byte

// AuthPublic marks a policy that admits anonymous callers
const AuthPublic identity.AuthMethod = "public"

// Policy is one row of the route policy table
type Policy struct {
	Path         string                `yaml:"path" json:"path"`
	Method       string                `yaml:"method" json:"method"`
	AuthMethods  []identity.AuthMethod `yaml:"authMethods" json:"authMethods"`
	Entitlements []string              `yaml:"entitlements" json:"entitlements"`
}

// IsPublic reports whether anonymous callers are admitted
func (p *Policy) IsPublic() bool {
	return p.Accepts(AuthPublic)
}

// Accepts reports whether m is one of the policy's auth methods
func (p *Policy) Accepts(m identity.AuthMethod) bool {
	for _, am := range p.AuthMethods {
		if am == m {
			return true
		}
	}
	return false
}

func (p *Policy) key() string {
	return p.Method + " " + p.Path
}

func (p *Policy) validate() error {
	if !strings.HasPrefix(p.Path, "/") {
		return fmt.Errorf("path %q must start with /", p.Path)
	}
	if p.Method == "" || p.Method != strings.ToUpper(p.Method) {
		return fmt.Errorf("%s: method must be upper case", p.Path)
	}
	if len(p.AuthMethods) == 0 {
		return fmt.Errorf("%s: at least one auth method is required", p.key())
	}
	for _, m := range p.AuthMethods {
		switch m {
		case AuthPublic, identity.AuthMethodJWT, identity.AuthMethodAPIKey:
		default:
			return fmt.Errorf("%s: unknown auth method %q", p.key(), m)
		}
	}
	if p.IsPublic() && len(p.Entitlements) > 0 {
		return fmt.Errorf("%s: a public route cannot require entitlements", p.key())
	}
	for _, e := range p.Entitlements {
		if !identity.IsKnownPermission(e) {
			return fmt.Errorf("%s: unknown entitlement %q", p.key(), e)
		}
	}
	return nil
}

// fallbackPolicy applies to routes missing from the table: any
// authenticated caller, no entitlement
var fallbackPolicy = &Policy{
	AuthMethods: []identity.AuthMethod{identity.AuthMethodJWT, identity.AuthMethodAPIKey},
}

type template struct {
	policy   *Policy
	segments []string
}

// PolicyTable maps (method, path) to a policy. Exact paths are looked up
// first; templates with :param segments are tried in table order.
type PolicyTable struct {
	exact     map[string]*Policy
	templates []template
}

// LoadPolicies parses a YAML list of policies
func LoadPolicies(data []byte) (*PolicyTable, error) {
	var policies []*Policy
	if err := yaml.Unmarshal(data, &policies); err != nil {
		return nil, fmt.Errorf("failed to parse policies: %w", err)
	}
	return NewPolicyTable(policies)
}

// DefaultPolicies returns the embedded policy table
func DefaultPolicies() (*PolicyTable, error) {
	return LoadPolicies(defaultPolicies)
}

// NewPolicyTable validates and indexes policies
func NewPolicyTable(policies []*Policy) (*PolicyTable, error) {
	t := &PolicyTable{exact: make(map[string]*Policy)}
	seen := make(map[string]bool, len(policies))
	for _, p := range policies {
		if p == nil {
			return nil, errors.New("empty policy entry")
		}
		p.Path = normalizePath(p.Path)
		if err := p.validate(); err != nil {
			return nil, err
		}
		if seen[p.key()] {
			return nil, fmt.Errorf("duplicate policy for %s", p.key())
		}
		seen[p.key()] = true

		if strings.Contains(p.Path, "/:") {
			t.templates = append(t.templates, template{policy: p, segments: splitPath(p.Path)})
			continue
		}
		t.exact[p.key()] = p
	}
	return t, nil
}

// Match returns the policy for a request and the values bound to the
// template's :param segments. Unmatched requests get the fallback policy.
func (t *PolicyTable) Match(method, path string) (*Policy, map[string]string) {
	path = normalizePath(path)
	if p, ok := t.exact[method+" "+path]; ok {
		return p, nil
	}

	segments := splitPath(path)
	for _, tmpl := range t.templates {
		if tmpl.policy.Method != method {
			continue
		}
		if params, ok := tmpl.bind(segments); ok {
			return tmpl.policy, params
		}
	}
	return fallbackPolicy, nil
}

// Len returns the number of policies in the table
func (t *PolicyTable) Len() int {
	return len(t.exact) + len(t.templates)
}

func (tmpl template) bind(segments []string) (map[string]string, bool) {
	if len(segments) != len(tmpl.segments) {
		return nil, false
	}
	params := make(map[string]string)
	for i, seg := range tmpl.segments {
		if name, ok := strings.CutPrefix(seg, ":"); ok {
			if segments[i] == "" {
				return nil, false
			}
			params[name] = segments[i]
			continue
		}
		if seg != segments[i] {
			return nil, false
		}
	}
	return params, true
}

func normalizePath(path string) string {
	if len(path) > 1 {
		path = strings.TrimRight(path, "/")
	}
	if path == "" {
		return "/"
	}
	return path
}

func splitPath(path string) []string {
	return strings.Split(strings.TrimPrefix(path, "/"), "/")
}

// Admit applies the admission rule of policy to principal p, which is nil
// for anonymous callers. Public routes always pass. Anonymous callers and
// credentials the policy does not accept are unauthenticated. Organization
// admins bypass entitlements, as do API keys on routes that accept them.
// Everyone else needs one of the policy's entitlements.
func Admit(policy *Policy, p *identity.Principal) error {
	if policy.IsPublic() {
		return nil
	}
	if p == nil {
		return identity.ErrInvalidToken
	}
	method := p.AuthMethod
	if method == "" {
		method = identity.AuthMethodJWT
	}
	if !policy.Accepts(method) {
		return identity.ErrInvalidToken
	}
	if p.IsOrganizationAdmin {
		return nil
	}
	if method == identity.AuthMethodAPIKey {
		return nil
	}
	if len(policy.Entitlements) == 0 || p.HasAnyPermission(policy.Entitlements) {
		return nil
	}
	return identity.ErrForbidden
}

// Authorizer enforces the policy table on requests that already passed
// through the Authenticator
type Authorizer struct {
	policies *PolicyTable
}

// NewAuthorizer creates a new authorizer
func NewAuthorizer(policies *PolicyTable) *Authorizer {
	return &Authorizer{policies: policies}
}

// Handler wraps an HTTP handler with policy enforcement
func (a *Authorizer) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		policy, _ := a.policies.Match(r.Method, r.URL.Path)
		p, _ := contextkeys.GetPrincipal(r.Context())

		err := Admit(policy, p)
		if err == nil {
			next.ServeHTTP(w, r)
			return
		}

		if identity.KindOf(err) == identity.KindForbidden {
			observability.FromContext(r.Context()).
				WithField("path", r.URL.Path).
				Info("Request lacks the required entitlement")
			httputil.WriteForbidden(w, identity.CodeForbidden)
			return
		}

		authErr := contextkeys.GetAuthError(r.Context())
		if authErr != nil && identity.KindOf(authErr) == identity.KindInternal {
			httputil.WriteInternalError(w)
			return
		}
		if authErr == nil {
			authErr = err
		}
		WriteUnauthenticated(w, r, authErr)
	})
}
