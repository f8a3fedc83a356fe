package billing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/keystone/pkg/identity"
)

func newProvider(t *testing.T) *SQLProvider {
	t.Helper()
	db := identity.NewTestDB(t)
	require.NoError(t, EnsureSchema(context.Background(), db))
	return NewSQLProvider(db)
}

func TestSQLProvider_SubscriptionLifecycle(t *testing.T) {
	p := newProvider(t)
	ctx := context.Background()

	customer, err := p.CreateCustomer(ctx, "Acme", "owner@acme.io")
	require.NoError(t, err)
	assert.Contains(t, customer, "cus_")

	sub, err := p.CreateSubscription(ctx, customer, PlanPro)
	require.NoError(t, err)
	assert.Equal(t, SubscriptionStatusActive, sub.Status)

	org := &identity.Organization{ID: "org-1", SubscriptionID: sub.ID}

	features, err := p.Features(ctx, org)
	require.NoError(t, err)
	assert.Equal(t, "true", features[FeatureWorkspaces])
	assert.NotContains(t, features, FeatureSSOConfig)

	seats, err := p.SeatQuota(ctx, org)
	require.NoError(t, err)
	assert.Equal(t, 25, seats)

	t.Run("canceled subscription falls back to free", func(t *testing.T) {
		require.NoError(t, p.UpdateStatus(ctx, sub.ID, SubscriptionStatusCanceled))

		features, err := p.Features(ctx, org)
		require.NoError(t, err)
		assert.Empty(t, features)

		seats, err := p.SeatQuota(ctx, org)
		require.NoError(t, err)
		assert.Equal(t, DefaultPlans()[PlanFree].Seats, seats)
	})
}

func TestSQLProvider_Validation(t *testing.T) {
	p := newProvider(t)
	ctx := context.Background()

	_, err := p.CreateCustomer(ctx, "Acme", "")
	assert.Equal(t, identity.KindValidation, identity.KindOf(err))

	_, err = p.CreateSubscription(ctx, "cus_1", PlanTier("platinum"))
	assert.Equal(t, identity.KindValidation, identity.KindOf(err))

	_, err = p.GetSubscription(ctx, "sub_missing")
	assert.True(t, identity.IsNotFound(err))

	assert.True(t, identity.IsNotFound(p.UpdateStatus(ctx, "sub_missing", SubscriptionStatusPastDue)))
}

func TestSQLProvider_NoSubscription(t *testing.T) {
	p := newProvider(t)
	features, err := p.Features(context.Background(), &identity.Organization{ID: "org-1"})
	require.NoError(t, err)
	assert.Empty(t, features)
}

func TestUnlimited(t *testing.T) {
	ctx := context.Background()
	org := &identity.Organization{ID: "org-1"}

	enterprise := Unlimited{Platform: identity.PlatformEnterprise}
	features, err := enterprise.Features(ctx, org)
	require.NoError(t, err)
	for _, f := range EnterpriseFeatures {
		assert.Equal(t, "true", features[f], f)
	}

	selfHosted := Unlimited{Platform: identity.PlatformSelfHosted}
	features, err = selfHosted.Features(ctx, org)
	require.NoError(t, err)
	assert.Empty(t, features)

	seats, err := selfHosted.SeatQuota(ctx, org)
	require.NoError(t, err)
	assert.Zero(t, seats)

	_, err = selfHosted.CreateCustomer(ctx, "Acme", "a@b.io")
	assert.ErrorIs(t, err, ErrNoBilling)
}
