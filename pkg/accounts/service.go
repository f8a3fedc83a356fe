package accounts

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/platinummonkey/keystone/pkg/async"
	"github.com/platinummonkey/keystone/pkg/audit"
	"github.com/platinummonkey/keystone/pkg/billing"
	"github.com/platinummonkey/keystone/pkg/identity"
	"github.com/platinummonkey/keystone/pkg/observability"
)

const (
	defaultInviteTTL = 24 * time.Hour
	defaultResetTTL  = 15 * time.Minute
	mailTimeout      = 30 * time.Second
)

// Config holds the provisioning rules of a deployment
type Config struct {
	Platform   identity.Platform
	AppURL     string
	InviteTTL  time.Duration
	ResetTTL   time.Duration
	BcryptCost int
}

// Sessions is the part of the session manager provisioning needs.
// Revocation is a soft dependency: implementations log failures instead of
// returning them.
type Sessions interface {
	Destroy(ctx context.Context, sid string) error
	DestroyAllForUser(ctx context.Context, userID string) int
}

// Deps are the collaborators of the service. Billing, Mailer, Sessions and
// Audit may be nil.
type Deps struct {
	Store    identity.Store
	Resolver *identity.Resolver
	Billing  billing.Provider
	Mailer   Mailer
	Sessions Sessions
	Audit    audit.Recorder
	Metrics  *observability.Metrics
	Logger   *observability.Logger
}

// Service is the account provisioning state machine. Every operation that
// writes runs in a single store transaction.
type Service struct {
	cfg      Config
	store    identity.Store
	resolver *identity.Resolver
	billing  billing.Provider
	mailer   Mailer
	sessions Sessions
	audit    audit.Recorder
	metrics  *observability.Metrics
	logger   *observability.Logger
	now      func() time.Time

	// dispatch runs post-commit side effects such as mail delivery
	dispatch func(ctx context.Context, name string, fn func(context.Context) error)
}

// NewService creates a new account service
func NewService(cfg Config, deps Deps) (*Service, error) {
	if !cfg.Platform.Valid() {
		return nil, fmt.Errorf("unknown platform %q", cfg.Platform)
	}
	if deps.Store == nil || deps.Resolver == nil {
		return nil, fmt.Errorf("store and resolver are required")
	}
	if cfg.Platform == identity.PlatformHosted && deps.Billing == nil {
		return nil, fmt.Errorf("hosted deployments require a billing provider")
	}
	if cfg.InviteTTL <= 0 {
		cfg.InviteTTL = defaultInviteTTL
	}
	if cfg.ResetTTL <= 0 {
		cfg.ResetTTL = defaultResetTTL
	}
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}
	cfg.AppURL = strings.TrimRight(cfg.AppURL, "/")

	logger := deps.Logger
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	logger = logger.WithField("component", "accounts")

	s := &Service{
		cfg:      cfg,
		store:    deps.Store,
		resolver: deps.Resolver,
		billing:  deps.Billing,
		mailer:   deps.Mailer,
		sessions: deps.Sessions,
		audit:    deps.Audit,
		metrics:  deps.Metrics,
		logger:   logger,
		now:      time.Now,
	}
	if s.billing == nil {
		s.billing = billing.Unlimited{Platform: cfg.Platform}
	}
	if s.mailer == nil {
		s.mailer = NewLogMailer(logger)
	}
	if s.audit == nil {
		s.audit = audit.Noop{}
	}
	s.dispatch = func(ctx context.Context, name string, fn func(context.Context) error) {
		async.SafeGo(ctx, s.logger, mailTimeout, name, fn)
	}
	return s, nil
}

// Platform returns the deployment platform
func (s *Service) Platform() identity.Platform {
	return s.cfg.Platform
}

// Account is the set of records created or completed by registration
type Account struct {
	User          *identity.User          `json:"user"`
	Organization  *identity.Organization  `json:"organization"`
	Workspace     *identity.Workspace     `json:"workspace"`
	WorkspaceUser *identity.WorkspaceUser `json:"workspaceUser,omitempty"`
}

func (s *Service) hashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cfg.BcryptCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

func checkPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// generateTempToken generates a random one-time token
func generateTempToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// issueTempToken sets a fresh one-time token on u expiring after ttl
func (s *Service) issueTempToken(u *identity.User, ttl time.Duration) error {
	token, err := generateTempToken()
	if err != nil {
		return err
	}
	expiry := s.now().Add(ttl).UTC()
	u.TempToken = token
	u.TempTokenExpiry = &expiry
	return nil
}

func clearTempToken(u *identity.User) {
	u.TempToken = ""
	u.TempTokenExpiry = nil
}

func (s *Service) tempTokenExpired(u *identity.User) bool {
	return u.TempTokenExpiry == nil || s.now().After(*u.TempTokenExpiry)
}

func (s *Service) link(path, token string) string {
	if token == "" {
		return s.cfg.AppURL + path
	}
	return s.cfg.AppURL + path + "?token=" + token
}

// recordActivity writes a login trail entry on enterprise deployments.
// A failing recorder never fails the login.
func (s *Service) recordActivity(ctx context.Context, username string, code audit.ActivityCode, mode, ip string) {
	if s.cfg.Platform != identity.PlatformEnterprise {
		return
	}
	if err := s.audit.Record(ctx, audit.NewActivity(username, code, mode, ip)); err != nil {
		s.logger.WithError(err).WithField("activity_code", string(code)).Warn("Failed to record login activity")
	}
}

// RecordActivity adds a login trail entry for a login that happened outside
// this service, such as a federated one
func (s *Service) RecordActivity(ctx context.Context, username string, code audit.ActivityCode, mode, ip string) {
	s.recordActivity(ctx, identity.NormalizeEmail(username), code, mode, ip)
}

func (s *Service) revokeSessions(ctx context.Context, userID string) {
	if s.sessions == nil {
		s.logger.WithField("user_id", userID).Warn("No session manager configured, skipping session revocation")
		return
	}
	s.sessions.DestroyAllForUser(ctx, userID)
}

// ownerGuard rejects changes that would leave an organization without an owner
func ownerGuard(ctx context.Context, tx identity.Store, ou *identity.OrganizationUser) error {
	owner, err := tx.GetGeneralRole(ctx, identity.RoleOwner)
	if err != nil {
		return err
	}
	if ou.RoleID != owner.ID {
		return nil
	}
	n, err := tx.CountOrganizationUsersByRole(ctx, ou.OrganizationID, owner.ID)
	if err != nil {
		return err
	}
	if n <= 1 {
		return identity.Conflict(identity.CodeNotAllowedToDeleteOwner)
	}
	return nil
}
