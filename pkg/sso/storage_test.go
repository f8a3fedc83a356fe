package sso

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/keystone/pkg/identity"
	"github.com/platinummonkey/keystone/pkg/sealed"
)

func newTestStorage(t *testing.T, store *identity.SQLStore) *Storage {
	t.Helper()
	box, err := sealed.New("test-secret", "login-methods")
	require.NoError(t, err)
	return NewStorage(store.DB(), box)
}

func TestStorage_SaveSealsAndMasks(t *testing.T) {
	store := identity.NewTestStore(t)
	storage := newTestStorage(t, store)
	ctx := context.Background()

	saved, err := storage.Save(ctx, nil, []MethodInput{
		{ProviderName: "google", Config: Config{ClientID: "google-id", ClientSecret: "google-secret"}},
		{ProviderName: "github", Status: "disable", Config: Config{ClientID: "gh-id", ClientSecret: "gh-secret"}},
	})
	require.NoError(t, err)
	require.Len(t, saved, 2)
	assert.Nil(t, saved[0].OrganizationID)
	assert.Equal(t, identity.LoginMethodEnabled, saved[0].Status)
	assert.NotContains(t, saved[0].Config, "google-secret", "configs are sealed at rest")

	var raw string
	require.NoError(t, store.DB().QueryRow(`SELECT config FROM login_methods WHERE name = 'google'`).Scan(&raw))
	assert.NotContains(t, raw, "google-secret")

	methods, err := storage.List(ctx, nil)
	require.NoError(t, err)
	views, err := storage.Views(methods)
	require.NoError(t, err)
	require.Len(t, views, 2)
	for _, v := range views {
		assert.Equal(t, MaskedSecret, v.Config.ClientSecret)
	}

	enabled, err := storage.ListEnabled(ctx, nil)
	require.NoError(t, err)
	require.Len(t, enabled, 1)
	assert.Equal(t, "google", enabled[0].Name)

	cfg, err := storage.Decrypt(enabled[0])
	require.NoError(t, err)
	assert.Equal(t, "google-secret", cfg.ClientSecret)
}

func TestStorage_SaveKeepsMaskedSecret(t *testing.T) {
	store := identity.NewTestStore(t)
	storage := newTestStorage(t, store)
	ctx := context.Background()

	first, err := storage.Save(ctx, nil, []MethodInput{
		{ProviderName: "azure", Config: Config{ClientID: "id", ClientSecret: "original", TenantID: "t1"}},
	})
	require.NoError(t, err)

	second, err := storage.Save(ctx, nil, []MethodInput{
		{ProviderName: "azure", Status: "disable", Config: Config{ClientID: "id-2", ClientSecret: MaskedSecret, TenantID: "t2"}},
	})
	require.NoError(t, err)
	assert.Equal(t, first[0].ID, second[0].ID, "saving again updates in place")
	assert.Equal(t, identity.LoginMethodDisabled, second[0].Status)

	m, err := storage.Get(ctx, nil, ProviderAzure)
	require.NoError(t, err)
	cfg, err := storage.Decrypt(m)
	require.NoError(t, err)
	assert.Equal(t, "original", cfg.ClientSecret)
	assert.Equal(t, "id-2", cfg.ClientID)
	assert.Equal(t, "t2", cfg.TenantID)

	merged, err := storage.MergedConfig(ctx, nil, ProviderAzure, Config{ClientID: "probe", ClientSecret: MaskedSecret})
	require.NoError(t, err)
	assert.Equal(t, "original", merged.ClientSecret)

	fresh, err := storage.MergedConfig(ctx, nil, ProviderGoogle, Config{ClientID: "probe", ClientSecret: MaskedSecret})
	require.NoError(t, err)
	assert.Equal(t, MaskedSecret, fresh.ClientSecret, "nothing stored to merge")
}

func TestStorage_SaveIsAtomic(t *testing.T) {
	store := identity.NewTestStore(t)
	storage := newTestStorage(t, store)
	ctx := context.Background()

	tests := []struct {
		name  string
		input MethodInput
	}{
		{"unknown provider", MethodInput{ProviderName: "okta", Config: Config{ClientID: "id", ClientSecret: "s"}}},
		{"bad status", MethodInput{ProviderName: "github", Status: "maybe", Config: Config{ClientID: "id", ClientSecret: "s"}}},
		{"masked secret with nothing stored", MethodInput{ProviderName: "github", Config: Config{ClientID: "id", ClientSecret: MaskedSecret}}},
		{"missing tenant", MethodInput{ProviderName: "azure", Config: Config{ClientID: "id", ClientSecret: "s"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := storage.Save(ctx, nil, []MethodInput{
				{ProviderName: "google", Config: Config{ClientID: "id", ClientSecret: "s"}},
				tt.input,
			})
			assert.Equal(t, identity.KindValidation, identity.KindOf(err))

			methods, err := storage.List(ctx, nil)
			require.NoError(t, err)
			assert.Empty(t, methods, "a failed save writes nothing")
		})
	}
}

func TestStorage_OrganizationScope(t *testing.T) {
	store := identity.NewTestStore(t)
	storage := newTestStorage(t, store)
	ctx := context.Background()
	f := identity.SeedFixture(t, store, "owner@example.com")
	orgID := f.Organization.ID

	_, err := storage.Save(ctx, &orgID, []MethodInput{
		{ProviderName: "google", Config: Config{ClientID: "org-id", ClientSecret: "org-secret"}},
	})
	require.NoError(t, err)

	global, err := storage.List(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, global)

	scoped, err := storage.ListEnabled(ctx, &orgID)
	require.NoError(t, err)
	require.Len(t, scoped, 1)
	require.NotNil(t, scoped[0].OrganizationID)
	assert.Equal(t, orgID, *scoped[0].OrganizationID)

	_, err = storage.Get(ctx, &orgID, ProviderGithub)
	assert.Equal(t, identity.CodeLoginMethodNotFound, identity.CodeOf(err))
}

func TestStorage_WrongKeyCannotOpen(t *testing.T) {
	store := identity.NewTestStore(t)
	storage := newTestStorage(t, store)
	ctx := context.Background()

	saved, err := storage.Save(ctx, nil, []MethodInput{
		{ProviderName: "google", Config: Config{ClientID: "id", ClientSecret: "secret"}},
	})
	require.NoError(t, err)

	other, err := sealed.New("another-secret", "login-methods")
	require.NoError(t, err)
	_, err = NewStorage(store.DB(), other).Decrypt(saved[0])
	assert.ErrorIs(t, err, sealed.ErrOpen)
}
