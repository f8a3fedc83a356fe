// Package identity holds the multi-tenant data model (users, organizations,
// workspaces, roles and the memberships between them), its SQL persistence
// and the Resolver that turns a user and workspace into a Principal.
//
// The store speaks postgres (github.com/lib/pq) in production and sqlite
// (github.com/mattn/go-sqlite3) for embedded deployments and tests. All
// multi-row writes go through Store.WithTx.
package identity
