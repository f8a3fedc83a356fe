package billing

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/keystone/pkg/identity"
)

const subscriptionsSchema = `CREATE TABLE IF NOT EXISTS billing_subscriptions (
	id TEXT PRIMARY KEY,
	customer_id TEXT NOT NULL,
	customer_name TEXT NOT NULL DEFAULT '',
	customer_email TEXT NOT NULL DEFAULT '',
	plan TEXT NOT NULL,
	status TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
)`

// EnsureSchema creates the subscription ledger used by SQLProvider
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, subscriptionsSchema); err != nil {
		return fmt.Errorf("failed to create billing schema: %w", err)
	}
	return nil
}

// SQLProvider keeps customers and subscriptions in a local ledger table.
// Hosted deployments use it as the system of record for plans; payment
// collection happens out of band.
type SQLProvider struct {
	db    *sql.DB
	plans map[PlanTier]Plan
	now   func() time.Time
}

// NewSQLProvider creates a new SQLProvider with the default plans
func NewSQLProvider(db *sql.DB) *SQLProvider {
	return &SQLProvider{
		db:    db,
		plans: DefaultPlans(),
		now:   time.Now,
	}
}

// CreateCustomer issues a customer id. The customer row is written with
// its first subscription.
func (p *SQLProvider) CreateCustomer(ctx context.Context, orgName, email string) (string, error) {
	if email == "" {
		return "", identity.Invalid(identity.CodeInvalidInput, errors.New("billing email is required"))
	}
	return "cus_" + uuid.NewString(), nil
}

func (p *SQLProvider) CreateSubscription(ctx context.Context, customerID string, tier PlanTier) (*Subscription, error) {
	if _, ok := p.plans[tier]; !ok {
		return nil, identity.Invalid(identity.CodeInvalidInput, fmt.Errorf("unknown plan %q", tier))
	}
	sub := &Subscription{
		ID:         "sub_" + uuid.NewString(),
		CustomerID: customerID,
		Plan:       tier,
		Status:     SubscriptionStatusActive,
	}
	now := p.now().UTC()
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO billing_subscriptions (id, customer_id, plan, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		sub.ID, sub.CustomerID, string(sub.Plan), string(sub.Status), now, now)
	if err != nil {
		return nil, fmt.Errorf("failed to create subscription: %w", err)
	}
	return sub, nil
}

// GetSubscription loads a subscription by id
func (p *SQLProvider) GetSubscription(ctx context.Context, id string) (*Subscription, error) {
	sub := &Subscription{}
	var plan, status string
	err := p.db.QueryRowContext(ctx, `
		SELECT id, customer_id, plan, status FROM billing_subscriptions WHERE id = $1`, id).
		Scan(&sub.ID, &sub.CustomerID, &plan, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, identity.NotFound("SUBSCRIPTION_NOT_FOUND")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	sub.Plan = PlanTier(plan)
	sub.Status = SubscriptionStatus(status)
	return sub, nil
}

// UpdateStatus records a status change reported by the payment processor
func (p *SQLProvider) UpdateStatus(ctx context.Context, id string, status SubscriptionStatus) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE billing_subscriptions SET status = $1, updated_at = $2 WHERE id = $3`,
		string(status), p.now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update subscription: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return identity.NotFound("SUBSCRIPTION_NOT_FOUND")
	}
	return nil
}

func (p *SQLProvider) planOf(ctx context.Context, org *identity.Organization) (*Plan, error) {
	if org == nil || org.SubscriptionID == "" {
		return nil, nil
	}
	sub, err := p.GetSubscription(ctx, org.SubscriptionID)
	if err != nil {
		if identity.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	if sub.Status == SubscriptionStatusCanceled {
		return nil, nil
	}
	plan, ok := p.plans[sub.Plan]
	if !ok {
		return nil, nil
	}
	return &plan, nil
}

// Features returns the flags of the organization's plan; organizations
// without an active subscription get none
func (p *SQLProvider) Features(ctx context.Context, org *identity.Organization) (map[string]string, error) {
	plan, err := p.planOf(ctx, org)
	if err != nil || plan == nil {
		return map[string]string{}, err
	}
	return plan.featureMap(), nil
}

// SeatQuota returns the plan's seat count. Without a plan the free tier applies.
func (p *SQLProvider) SeatQuota(ctx context.Context, org *identity.Organization) (int, error) {
	plan, err := p.planOf(ctx, org)
	if err != nil {
		return 0, err
	}
	if plan == nil {
		return p.plans[PlanFree].Seats, nil
	}
	return plan.Seats, nil
}
