// Package billing is the billing collaborator of account provisioning.
//
// Hosted deployments use SQLProvider, which creates customers and
// subscriptions in a local ledger and derives feature flags and seat quotas
// from the plan catalogue (DefaultPlans). Self-hosted and enterprise
// deployments use Unlimited.
//
// A Provider also serves as the identity.FeatureSource of the resolver, so
// every principal carries its organization's feature flags.
package billing
