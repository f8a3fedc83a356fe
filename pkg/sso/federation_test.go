package sso

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/platinummonkey/keystone/pkg/accounts"
	"github.com/platinummonkey/keystone/pkg/audit"
	"github.com/platinummonkey/keystone/pkg/billing"
	"github.com/platinummonkey/keystone/pkg/identity"
)

type memoryRecorder struct {
	mu         sync.Mutex
	activities []*audit.Activity
}

func (r *memoryRecorder) Record(ctx context.Context, a *audit.Activity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.activities = append(r.activities, a)
	return nil
}

func (r *memoryRecorder) last(t *testing.T) *audit.Activity {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	require.NotEmpty(t, r.activities)
	return r.activities[len(r.activities)-1]
}

type fedHarness struct {
	store      *identity.SQLStore
	accounts   *accounts.Service
	storage    *Storage
	federation *Federation
	audit      *memoryRecorder
	idp        *fakeIdP
}

func newFedHarness(t *testing.T, platform identity.Platform) *fedHarness {
	t.Helper()
	ctx := context.Background()

	store := identity.NewTestStore(t)
	var features identity.FeatureSource = billing.Unlimited{Platform: platform}
	var provider billing.Provider
	if platform == identity.PlatformHosted {
		require.NoError(t, billing.EnsureSchema(ctx, store.DB()))
		sqlProvider := billing.NewSQLProvider(store.DB())
		features, provider = sqlProvider, sqlProvider
	}

	h := &fedHarness{store: store, audit: &memoryRecorder{}, idp: newFakeIdP(t)}
	svc, err := accounts.NewService(accounts.Config{
		Platform:   platform,
		AppURL:     "https://app.example.com",
		BcryptCost: bcrypt.MinCost,
	}, accounts.Deps{
		Store:    store,
		Resolver: identity.NewResolver(store, features),
		Billing:  provider,
		Audit:    h.audit,
	})
	require.NoError(t, err)
	h.accounts = svc
	h.storage = newTestStorage(t, store)

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	h.federation, err = NewFederation(Options{
		Store:      store,
		Accounts:   svc,
		Storage:    h.storage,
		BaseURL:    testBaseURL,
		HTTPClient: h.idp.Client(),
		Logger:     logger,
	})
	require.NoError(t, err)

	_, err = h.storage.Save(ctx, nil, []MethodInput{{ProviderName: "google", Config: h.idp.config()}})
	require.NoError(t, err)
	require.NoError(t, h.federation.Initialize(ctx))
	return h
}

func assertSSOFailure(t *testing.T, err error) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, identity.KindFederation, identity.KindOf(err))
	assert.Equal(t, identity.CodeSSOLoginFailed, identity.CodeOf(err))
}

func TestNewFederation_Validation(t *testing.T) {
	_, err := NewFederation(Options{})
	assert.Error(t, err)
}

func TestFederation_Reload(t *testing.T) {
	h := newFedHarness(t, identity.PlatformEnterprise)
	ctx := context.Background()
	assert.Equal(t, []ProviderName{ProviderGoogle}, h.federation.Enabled())

	// a provider that cannot initialize is skipped
	broken := h.idp.config()
	broken.IssuerURL = h.idp.URL() + "/missing"
	_, err := h.storage.Save(ctx, nil, []MethodInput{
		{ProviderName: "auth0", Config: broken},
		{ProviderName: "github", Config: Config{ClientID: "gh", ClientSecret: "secret"}},
	})
	require.NoError(t, err)
	require.NoError(t, h.federation.Reload(ctx))
	assert.Equal(t, []ProviderName{ProviderGoogle, ProviderGithub}, h.federation.Enabled())

	_, err = h.storage.Save(ctx, nil, []MethodInput{{ProviderName: "google", Status: "disable", Config: h.idp.config()}})
	require.NoError(t, err)
	require.NoError(t, h.federation.Reload(ctx))
	_, ok := h.federation.Provider(ProviderGoogle)
	assert.False(t, ok)
}

func TestFederation_LoginExistingUser(t *testing.T) {
	h := newFedHarness(t, identity.PlatformEnterprise)
	f := identity.SeedFixture(t, h.store, "owner@example.com")
	h.idp.setUser("Owner@Example.com", "Owner")

	p, err := h.federation.Login(context.Background(), ProviderGoogle, testCode, "10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, f.Owner.ID, p.ID)
	assert.Equal(t, f.Workspace.ID, p.ActiveWorkspaceID)
	assert.Equal(t, f.Organization.ID, p.ActiveOrganizationID)
	require.True(t, p.IsFederated())
	assert.Equal(t, "google", p.SSO.Provider)
	assert.Equal(t, "upstream-access", p.SSO.AccessToken)
	assert.Equal(t, testRefresh, p.SSO.RefreshToken)

	activity := h.audit.last(t)
	assert.Equal(t, audit.CodeLoginSuccess, activity.Code)
	assert.Equal(t, "google", activity.LoginMode)
	assert.Equal(t, "owner@example.com", activity.Username)
}

func TestFederation_EnterpriseRejectsUnknownUsers(t *testing.T) {
	h := newFedHarness(t, identity.PlatformEnterprise)
	identity.SeedFixture(t, h.store, "owner@example.com")
	h.idp.setUser("stranger@example.com", "Stranger")

	_, err := h.federation.Login(context.Background(), ProviderGoogle, testCode, "10.0.0.1")
	assertSSOFailure(t, err)
	assert.Equal(t, audit.CodeUnknownUser, h.audit.last(t).Code)

	_, err = h.store.GetUserByEmail(context.Background(), "stranger@example.com")
	assert.True(t, identity.IsNotFound(err), "no account is provisioned")
}

func TestFederation_HostedRegistersUnknownUsers(t *testing.T) {
	h := newFedHarness(t, identity.PlatformHosted)
	h.idp.setUser("newcomer@example.com", "Newcomer")

	p, err := h.federation.Login(context.Background(), ProviderGoogle, testCode, "10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, "newcomer@example.com", p.Email)
	assert.True(t, p.IsOrganizationAdmin)
	assert.NotEmpty(t, p.ActiveWorkspaceID)

	user, err := h.store.GetUserByEmail(context.Background(), "newcomer@example.com")
	require.NoError(t, err)
	assert.Equal(t, identity.UserStatusActive, user.Status)
	assert.False(t, user.HasCredential())
}

func TestFederation_CompletesInvitation(t *testing.T) {
	h := newFedHarness(t, identity.PlatformEnterprise)
	ctx := context.Background()
	f := identity.SeedFixture(t, h.store, "owner@example.com")

	expiry := time.Now().Add(time.Hour)
	invited := &identity.User{Email: "invitee@example.com", Status: identity.UserStatusInvited, TempToken: "pending", TempTokenExpiry: &expiry}
	require.NoError(t, h.store.CreateUser(ctx, invited))
	require.NoError(t, h.store.CreateOrganizationUser(ctx, &identity.OrganizationUser{
		OrganizationID: f.Organization.ID, UserID: invited.ID, RoleID: f.MemberRole.ID, Status: identity.MembershipStatusInvited,
	}))
	require.NoError(t, h.store.CreateWorkspaceUser(ctx, &identity.WorkspaceUser{
		WorkspaceID: f.Workspace.ID, UserID: invited.ID, RoleID: f.MemberRole.ID, Status: identity.MembershipStatusInvited,
	}))
	h.idp.setUser("invitee@example.com", "Invitee")

	p, err := h.federation.Login(ctx, ProviderGoogle, testCode, "10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, invited.ID, p.ID)
	assert.Equal(t, "Invitee", p.Name)

	user, err := h.store.GetUser(ctx, invited.ID)
	require.NoError(t, err)
	assert.Equal(t, identity.UserStatusActive, user.Status)
	assert.Empty(t, user.TempToken)

	ou, err := h.store.GetOrganizationUser(ctx, f.Organization.ID, invited.ID)
	require.NoError(t, err)
	assert.Equal(t, identity.MembershipStatusActive, ou.Status)
}

func TestFederation_LoginFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("deleted user", func(t *testing.T) {
		h := newFedHarness(t, identity.PlatformEnterprise)
		f := identity.SeedFixture(t, h.store, "owner@example.com")
		member := f.AddMember(t, h.store, "member@example.com")
		require.NoError(t, h.accounts.DeleteUser(ctx, member.ID))
		h.idp.setUser(identity.TombstoneEmail(member.ID), "Ghost")

		_, err := h.federation.Login(ctx, ProviderGoogle, testCode, "")
		assertSSOFailure(t, err)
		assert.Equal(t, audit.CodeInactiveUser, h.audit.last(t).Code)
	})

	t.Run("suspended member", func(t *testing.T) {
		h := newFedHarness(t, identity.PlatformEnterprise)
		f := identity.SeedFixture(t, h.store, "owner@example.com")
		member := f.AddMember(t, h.store, "member@example.com")
		_, err := h.accounts.SetSuspended(ctx, f.Organization.ID, member.ID, true)
		require.NoError(t, err)
		h.idp.setUser("member@example.com", "Member")

		_, err = h.federation.Login(ctx, ProviderGoogle, testCode, "")
		assertSSOFailure(t, err)
	})

	t.Run("provider not enabled", func(t *testing.T) {
		h := newFedHarness(t, identity.PlatformEnterprise)
		_, err := h.federation.Login(ctx, ProviderAzure, testCode, "")
		assertSSOFailure(t, err)
	})

	t.Run("bad code", func(t *testing.T) {
		h := newFedHarness(t, identity.PlatformEnterprise)
		identity.SeedFixture(t, h.store, "owner@example.com")
		_, err := h.federation.Login(ctx, ProviderGoogle, "forged", "")
		assertSSOFailure(t, err)
	})
}

func TestFederation_Refresh(t *testing.T) {
	h := newFedHarness(t, identity.PlatformEnterprise)
	ctx := context.Background()

	renewed, err := h.federation.Refresh(ctx, &identity.FederatedTokens{
		Provider: "google", AccessToken: "old", RefreshToken: testRefresh,
	})
	require.NoError(t, err)
	assert.Equal(t, "upstream-access-2", renewed.AccessToken)
	assert.Equal(t, testRefresh, renewed.RefreshToken, "an unrotated refresh token is kept")

	same := &identity.FederatedTokens{Provider: "google", AccessToken: "opaque"}
	got, err := h.federation.Refresh(ctx, same)
	require.NoError(t, err)
	assert.Same(t, same, got, "nothing to refresh without a refresh token")

	_, err = h.federation.Refresh(ctx, &identity.FederatedTokens{Provider: "azure", RefreshToken: "x"})
	assert.Error(t, err)
}

func TestFederation_TestSetup(t *testing.T) {
	h := newFedHarness(t, identity.PlatformHosted)
	ctx := context.Background()

	assert.NoError(t, h.federation.TestSetup(ctx, ProviderGoogle, h.idp.config()))

	cfg := h.idp.config()
	cfg.ClientSecret = "nope"
	assert.Error(t, h.federation.TestSetup(ctx, ProviderGoogle, cfg))
	assert.Error(t, h.federation.TestSetup(ctx, ProviderAzure, Config{ClientID: "id", ClientSecret: "s"}))
}

func TestHandoff(t *testing.T) {
	handoff := NewHandoff(time.Minute)
	p := &identity.Principal{ID: "user-1"}

	token := handoff.Put(p)
	assert.NotEmpty(t, token)

	got, ok := handoff.Take(token)
	require.True(t, ok)
	assert.Same(t, p, got)

	_, ok = handoff.Take(token)
	assert.False(t, ok, "a hand-off is claimed once")
	_, ok = handoff.Take("unknown")
	assert.False(t, ok)

	expiring := NewHandoff(10 * time.Millisecond)
	token = expiring.Put(p)
	time.Sleep(50 * time.Millisecond)
	_, ok = expiring.Take(token)
	assert.False(t, ok)
}
