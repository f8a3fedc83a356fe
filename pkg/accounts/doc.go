// Package accounts provisions users, organizations and memberships.
//
// The Service is the account state machine behind registration, email
// verification, invitations, password login and reset, member management
// and soft deletion. Its rules depend on the deployment platform:
//
//   - self-hosted: a single organization created by the first registration
//   - hosted-multi-tenant: every sign-up gets its own organization with a
//     billing customer and a free subscription
//   - enterprise-multi-org: invitation-driven, with a personal workspace per
//     user and a login activity trail
//
// Writes run inside one identity.Store transaction. Mail delivery and
// session revocation happen after the transaction commits.
package accounts
