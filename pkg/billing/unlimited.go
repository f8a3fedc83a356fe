package billing

import (
	"context"
	"errors"

	"github.com/platinummonkey/keystone/pkg/identity"
)

// ErrNoBilling is returned by deployments that never create customers
var ErrNoBilling = errors.New("billing is not available on this platform")

// Unlimited is the provider of deployments without billing. Enterprise
// deployments grant every feature; self-hosted ones grant none. Neither has
// a seat quota.
type Unlimited struct {
	Platform identity.Platform
}

func (u Unlimited) CreateCustomer(ctx context.Context, orgName, email string) (string, error) {
	return "", ErrNoBilling
}

func (u Unlimited) CreateSubscription(ctx context.Context, customerID string, tier PlanTier) (*Subscription, error) {
	return nil, ErrNoBilling
}

func (u Unlimited) Features(ctx context.Context, org *identity.Organization) (map[string]string, error) {
	if u.Platform == identity.PlatformEnterprise {
		return DefaultPlans()[PlanEnterprise].featureMap(), nil
	}
	return map[string]string{}, nil
}

func (u Unlimited) SeatQuota(ctx context.Context, org *identity.Organization) (int, error) {
	return 0, nil
}
