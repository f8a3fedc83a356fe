package identity

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"
)

// NewTestDB opens an in-memory sqlite database with the full schema.
// A single connection keeps every statement on the same in-memory database.
func NewTestDB(t testing.TB) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, EnsureSchema(context.Background(), db))
	return db
}

// NewTestStore returns a sqlite-backed store with the general roles seeded
func NewTestStore(t testing.TB) *SQLStore {
	t.Helper()

	store := NewSQLStore(NewTestDB(t), SQLite)
	require.NoError(t, store.SeedGeneralRoles(context.Background()))
	return store
}

// Fixture is an organization with one workspace owned by one active user
type Fixture struct {
	Organization *Organization
	Workspace    *Workspace
	Owner        *User
	OwnerRole    *Role
	MemberRole   *Role
	PersonalRole *Role
}

// SeedFixture creates an organization, its default workspace and an active
// owner with the given email
func SeedFixture(t testing.TB, store Store, ownerEmail string) *Fixture {
	t.Helper()
	ctx := context.Background()

	f := &Fixture{}
	var err error
	f.OwnerRole, err = store.GetGeneralRole(ctx, RoleOwner)
	require.NoError(t, err)
	f.MemberRole, err = store.GetGeneralRole(ctx, RoleMember)
	require.NoError(t, err)
	f.PersonalRole, err = store.GetGeneralRole(ctx, RolePersonalWorkspace)
	require.NoError(t, err)

	f.Organization = &Organization{Name: "Acme"}
	require.NoError(t, store.CreateOrganization(ctx, f.Organization))

	f.Workspace = &Workspace{Name: DefaultWorkspaceName, OrganizationID: f.Organization.ID}
	require.NoError(t, store.CreateWorkspace(ctx, f.Workspace))

	f.Owner = &User{Name: "Owner", Email: ownerEmail, Status: UserStatusActive}
	require.NoError(t, store.CreateUser(ctx, f.Owner))

	require.NoError(t, store.CreateOrganizationUser(ctx, &OrganizationUser{
		OrganizationID: f.Organization.ID,
		UserID:         f.Owner.ID,
		RoleID:         f.OwnerRole.ID,
		Status:         MembershipStatusActive,
	}))
	lastLogin := time.Now().UTC()
	require.NoError(t, store.CreateWorkspaceUser(ctx, &WorkspaceUser{
		WorkspaceID: f.Workspace.ID,
		UserID:      f.Owner.ID,
		RoleID:      f.OwnerRole.ID,
		Status:      MembershipStatusActive,
		LastLogin:   &lastLogin,
	}))
	return f
}

// AddMember creates an active user with the member role in the fixture's
// organization and workspace
func (f *Fixture) AddMember(t testing.TB, store Store, email string) *User {
	t.Helper()
	ctx := context.Background()

	u := &User{Name: "Member", Email: email, Status: UserStatusActive}
	require.NoError(t, store.CreateUser(ctx, u))
	require.NoError(t, store.CreateOrganizationUser(ctx, &OrganizationUser{
		OrganizationID: f.Organization.ID,
		UserID:         u.ID,
		RoleID:         f.MemberRole.ID,
		Status:         MembershipStatusActive,
	}))
	require.NoError(t, store.CreateWorkspaceUser(ctx, &WorkspaceUser{
		WorkspaceID: f.Workspace.ID,
		UserID:      u.ID,
		RoleID:      f.MemberRole.ID,
		Status:      MembershipStatusActive,
	}))
	return u
}
