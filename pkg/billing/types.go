package billing

import (
	"context"

	"github.com/platinummonkey/keystone/pkg/identity"
)

// PlanTier represents subscription plan tiers
type PlanTier string

const (
	PlanFree       PlanTier = "free"
	PlanPro        PlanTier = "pro"
	PlanEnterprise PlanTier = "enterprise"
)

// SubscriptionStatus represents the status of a subscription
type SubscriptionStatus string

const (
	SubscriptionStatusActive   SubscriptionStatus = "active"
	SubscriptionStatusPastDue  SubscriptionStatus = "past_due"
	SubscriptionStatusCanceled SubscriptionStatus = "canceled"
)

// Feature flags resolved into every principal
const (
	FeatureSSOConfig     = "feat:sso-config"
	FeatureLoginActivity = "feat:login-activity"
	FeatureWorkspaces    = "feat:workspaces"
	FeatureRoles         = "feat:roles"
	FeatureUsers         = "feat:users"
	FeatureLogs          = "feat:logs"
)

// EnterpriseFeatures is every flag, all granted on enterprise deployments
var EnterpriseFeatures = []string{
	FeatureSSOConfig, FeatureLoginActivity, FeatureWorkspaces,
	FeatureRoles, FeatureUsers, FeatureLogs,
}

// Plan is what a subscription buys. Seats of 0 means unlimited.
type Plan struct {
	Tier     PlanTier
	Seats    int
	Features []string
}

// DefaultPlans returns the hosted plan catalogue
func DefaultPlans() map[PlanTier]Plan {
	return map[PlanTier]Plan{
		PlanFree: {
			Tier:     PlanFree,
			Seats:    2,
			Features: []string{FeatureUsers},
		},
		PlanPro: {
			Tier:     PlanPro,
			Seats:    25,
			Features: []string{FeatureUsers, FeatureWorkspaces, FeatureRoles},
		},
		PlanEnterprise: {
			Tier:     PlanEnterprise,
			Seats:    0,
			Features: EnterpriseFeatures,
		},
	}
}

func (p Plan) featureMap() map[string]string {
	m := make(map[string]string, len(p.Features))
	for _, f := range p.Features {
		m[f] = "true"
	}
	return m
}

// Subscription binds a billing customer to a plan
type Subscription struct {
	ID         string             `json:"id"`
	CustomerID string             `json:"customerId"`
	Plan       PlanTier           `json:"plan"`
	Status     SubscriptionStatus `json:"status"`
}

// Provider is the billing collaborator consumed by account provisioning
// and identity resolution. It satisfies identity.FeatureSource.
type Provider interface {
	// CreateCustomer registers a billing customer for a new organization
	CreateCustomer(ctx context.Context, orgName, email string) (string, error)
	// CreateSubscription starts a plan for a customer
	CreateSubscription(ctx context.Context, customerID string, tier PlanTier) (*Subscription, error)
	// Features returns the feature flags of an organization's plan
	Features(ctx context.Context, org *identity.Organization) (map[string]string, error)
	// SeatQuota returns the maximum organization members, 0 for unlimited
	SeatQuota(ctx context.Context, org *identity.Organization) (int, error)
}

var _ identity.FeatureSource = Provider(nil)
