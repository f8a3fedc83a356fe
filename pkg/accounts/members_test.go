package accounts

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/keystone/pkg/identity"
	"github.com/platinummonkey/keystone/pkg/session"
)

func (h *harness) invite(t *testing.T, email, workspaceID, roleName string) *InviteResult {
	t.Helper()
	result, err := h.svc.Invite(context.Background(), InviteInput{
		Email:       email,
		WorkspaceID: workspaceID,
		RoleID:      h.role(t, roleName).ID,
	})
	require.NoError(t, err)
	return result
}

func TestInvite_AcceptEnterprise(t *testing.T) {
	h := newHarness(t, identity.PlatformEnterprise)
	ctx := context.Background()
	owner := h.register(t, "owner@example.com")

	first := h.invite(t, "new@example.com", owner.Workspace.ID, identity.RoleMember)
	assert.True(t, first.NewUser)
	assert.Equal(t, identity.UserStatusInvited, first.User.Status)
	assert.Equal(t, identity.MembershipStatusInvited, first.WorkspaceUser.Status)
	firstMail := h.mailer.last(t)
	assert.Equal(t, "invite", firstMail.kind)
	assert.True(t, strings.HasPrefix(firstMail.link, "https://app.example.com/register?token="))

	second := h.invite(t, "new@example.com", owner.Workspace.ID, identity.RoleMember)
	assert.False(t, second.NewUser)
	assert.Equal(t, first.User.ID, second.User.ID)
	secondMail := h.mailer.last(t)
	assert.NotEqual(t, tokenOf(t, firstMail.link), tokenOf(t, secondMail.link), "a repeated invite issues a fresh token")

	members, err := h.store.ListOrganizationUsers(ctx, owner.Organization.ID)
	require.NoError(t, err)
	assert.Len(t, members, 2, "inviting twice must not duplicate the membership")

	_, err = h.svc.AcceptInvite(ctx, AcceptInviteInput{
		TempToken: tokenOf(t, firstMail.link), Email: "new@example.com", Name: "New", Password: "Correct-horse-1",
	})
	assert.Equal(t, identity.CodeInvalidTempToken, identity.CodeOf(err), "the superseded token is gone")

	_, err = h.svc.AcceptInvite(ctx, AcceptInviteInput{
		TempToken: tokenOf(t, secondMail.link), Email: "other@example.com", Name: "New", Password: "Correct-horse-1",
	})
	assert.Equal(t, identity.CodeInvalidInput, identity.CodeOf(err))

	account, err := h.svc.Register(ctx, RegisterInput{
		TempToken: tokenOf(t, secondMail.link), Email: "new@example.com", Name: "New", Password: "Correct-horse-1",
	})
	require.NoError(t, err)
	assert.Equal(t, identity.UserStatusActive, account.User.Status)
	assert.Equal(t, owner.Organization.ID, account.Organization.ID)
	assert.True(t, account.Workspace.IsPersonal())

	ou, err := h.store.GetOrganizationUser(ctx, owner.Organization.ID, account.User.ID)
	require.NoError(t, err)
	assert.Equal(t, identity.MembershipStatusActive, ou.Status)
	wu, err := h.store.GetWorkspaceUser(ctx, owner.Workspace.ID, account.User.ID)
	require.NoError(t, err)
	assert.Equal(t, identity.MembershipStatusActive, wu.Status)

	p, err := h.svc.Login(ctx, LoginInput{Email: "new@example.com", Password: "Correct-horse-1"})
	require.NoError(t, err)
	assert.Equal(t, identity.PersonalWorkspaceName, p.ActiveWorkspace)
	assert.Len(t, p.AssignedWorkspaces, 2)
	assert.False(t, p.IsOrganizationAdmin)

	p, err = h.svc.EnterWorkspace(ctx, account.User.ID, owner.Workspace.ID)
	require.NoError(t, err)
	assert.Equal(t, identity.RoleMember, p.RoleName)
}

func TestInvite_ExistingMemberIsAdded(t *testing.T) {
	h := newHarness(t, identity.PlatformEnterprise)
	ctx := context.Background()
	owner := h.register(t, "owner@example.com")

	h.invite(t, "member@example.com", owner.Workspace.ID, identity.RoleMember)
	member, err := h.svc.AcceptInvite(ctx, AcceptInviteInput{
		TempToken: tokenOf(t, h.mailer.last(t).link), Email: "member@example.com", Name: "Member", Password: "Correct-horse-1",
	})
	require.NoError(t, err)

	ws, err := h.svc.CreateWorkspace(ctx, owner.Organization.ID, owner.User.ID, CreateWorkspaceInput{Name: "Research"})
	require.NoError(t, err)

	result := h.invite(t, "member@example.com", ws.ID, identity.RoleMember)
	assert.False(t, result.NewUser)
	assert.Equal(t, member.User.ID, result.User.ID)
	mail := h.mailer.last(t)
	assert.Equal(t, "added", mail.kind)
	assert.Equal(t, "https://app.example.com", mail.link)

	// the earlier workspace is kept once the member is active
	_, err = h.store.GetWorkspaceUser(ctx, owner.Workspace.ID, member.User.ID)
	assert.NoError(t, err)
}

func TestInvite_Rejections(t *testing.T) {
	h := newHarness(t, identity.PlatformEnterprise)
	ctx := context.Background()
	owner := h.register(t, "owner@example.com")

	_, err := h.svc.Invite(ctx, InviteInput{
		Email: "x@example.com", WorkspaceID: owner.Workspace.ID, RoleID: h.role(t, identity.RolePersonalWorkspace).ID,
	})
	assert.Equal(t, identity.KindValidation, identity.KindOf(err), "the personal workspace role is not assignable")

	_, err = h.svc.Invite(ctx, InviteInput{Email: "x@example.com", WorkspaceID: "", RoleID: "r"})
	assert.Equal(t, identity.KindValidation, identity.KindOf(err))

	_, err = h.svc.Invite(ctx, InviteInput{Email: "x@example.com", WorkspaceID: uuid.NewString(), RoleID: h.role(t, identity.RoleMember).ID})
	assert.True(t, identity.IsNotFound(err))
}

func TestAcceptInvite_Expired(t *testing.T) {
	h := newHarness(t, identity.PlatformEnterprise)
	owner := h.register(t, "owner@example.com")
	h.invite(t, "slow@example.com", owner.Workspace.ID, identity.RoleMember)
	mail := h.mailer.last(t)

	h.svc.now = func() time.Time { return time.Now().Add(defaultInviteTTL + time.Hour) }
	_, err := h.svc.AcceptInvite(context.Background(), AcceptInviteInput{
		TempToken: tokenOf(t, mail.link), Email: "slow@example.com", Name: "Slow", Password: "Correct-horse-1",
	})
	assert.Equal(t, identity.CodeExpiredTempToken, identity.CodeOf(err))
}

func TestInvite_SeatQuota(t *testing.T) {
	h := newHarness(t, identity.PlatformHosted)
	ctx := context.Background()

	owner, err := h.svc.RegisterFederated(ctx, "Owner", "owner@example.com")
	require.NoError(t, err)

	h.invite(t, "second@example.com", owner.Workspace.ID, identity.RoleMember)

	_, err = h.svc.Invite(ctx, InviteInput{
		Email: "third@example.com", WorkspaceID: owner.Workspace.ID, RoleID: h.role(t, identity.RoleMember).ID,
	})
	assert.Equal(t, identity.KindConflict, identity.KindOf(err))
	assert.Equal(t, identity.CodeQuotaExceeded, identity.CodeOf(err))

	_, err = h.store.GetUserByEmail(ctx, "third@example.com")
	assert.True(t, identity.IsNotFound(err), "a rejected invite leaves nothing behind")

	// re-inviting an existing member consumes no seat
	h.invite(t, "second@example.com", owner.Workspace.ID, identity.RoleMember)
}

func TestResetPassword_RevokesSessions(t *testing.T) {
	sessions := session.NewMemoryStore(100, time.Hour)
	var manager *session.Manager
	h := newHarness(t, identity.PlatformSelfHosted, func(d *Deps) {
		manager = session.NewManager(sessions, d.Resolver, time.Hour, nil)
		d.Sessions = manager
	})
	ctx := context.Background()
	h.register(t, "owner@example.com")

	p, err := h.svc.Login(ctx, LoginInput{Email: "owner@example.com", Password: "Correct-horse-1"})
	require.NoError(t, err)
	sid1, err := manager.Create(ctx, p)
	require.NoError(t, err)
	sid2, err := manager.Create(ctx, p)
	require.NoError(t, err)

	require.NoError(t, h.svc.ForgotPassword(ctx, "owner@example.com"))
	mail := h.mailer.last(t)
	assert.Equal(t, "reset", mail.kind)
	assert.True(t, strings.HasPrefix(mail.link, "https://app.example.com/reset-password?token="))
	token := tokenOf(t, mail.link)

	_, err = h.svc.ResetPassword(ctx, ResetPasswordInput{Email: "owner@example.com", TempToken: "wrong", Password: "New-password-1"})
	assert.Equal(t, identity.CodeInvalidTempToken, identity.CodeOf(err))

	_, err = h.svc.ResetPassword(ctx, ResetPasswordInput{Email: "owner@example.com", TempToken: token, Password: "New-password-1"})
	require.NoError(t, err)

	for _, sid := range []string{sid1, sid2} {
		ok, err := manager.Exists(ctx, sid)
		require.NoError(t, err)
		assert.False(t, ok, "session %s survived the reset", sid)
	}

	_, err = h.svc.ResetPassword(ctx, ResetPasswordInput{Email: "owner@example.com", TempToken: token, Password: "Another-password-1"})
	assert.Equal(t, identity.CodeInvalidTempToken, identity.CodeOf(err), "a reset token works once")

	_, err = h.svc.Login(ctx, LoginInput{Email: "owner@example.com", Password: "Correct-horse-1"})
	assert.Equal(t, identity.CodeIncorrectCredentials, identity.CodeOf(err))
	_, err = h.svc.Login(ctx, LoginInput{Email: "owner@example.com", Password: "New-password-1"})
	assert.NoError(t, err)
}

func TestResetPassword_Expired(t *testing.T) {
	h := newHarness(t, identity.PlatformSelfHosted)
	ctx := context.Background()
	h.register(t, "owner@example.com")

	require.NoError(t, h.svc.ForgotPassword(ctx, "owner@example.com"))
	token := tokenOf(t, h.mailer.last(t).link)

	h.svc.now = func() time.Time { return time.Now().Add(defaultResetTTL + time.Minute) }
	_, err := h.svc.ResetPassword(ctx, ResetPasswordInput{Email: "owner@example.com", TempToken: token, Password: "New-password-1"})
	assert.Equal(t, identity.CodeExpiredTempToken, identity.CodeOf(err))
}

func TestAcceptInvite_RejectsResetToken(t *testing.T) {
	sessions := session.NewMemoryStore(100, time.Hour)
	var manager *session.Manager
	h := newHarness(t, identity.PlatformEnterprise, func(d *Deps) {
		manager = session.NewManager(sessions, d.Resolver, time.Hour, nil)
		d.Sessions = manager
	})
	ctx := context.Background()
	owner := h.register(t, "owner@example.com")

	p, err := h.svc.Login(ctx, LoginInput{Email: "owner@example.com", Password: "Correct-horse-1"})
	require.NoError(t, err)
	sid, err := manager.Create(ctx, p)
	require.NoError(t, err)

	require.NoError(t, h.svc.ForgotPassword(ctx, "owner@example.com"))
	token := tokenOf(t, h.mailer.last(t).link)

	_, err = h.svc.AcceptInvite(ctx, AcceptInviteInput{
		TempToken: token, Email: "owner@example.com", Name: "Owner", Password: "Other-pass-1",
	})
	assert.Equal(t, identity.CodeInvalidTempToken, identity.CodeOf(err))

	_, err = h.svc.Verify(ctx, token)
	assert.Equal(t, identity.CodeInvalidTempToken, identity.CodeOf(err), "a reset token does not verify")

	ok, err := manager.Exists(ctx, sid)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = h.svc.Login(ctx, LoginInput{Email: "owner@example.com", Password: "Other-pass-1"})
	assert.Equal(t, identity.CodeIncorrectCredentials, identity.CodeOf(err))
	p, err = h.svc.Login(ctx, LoginInput{Email: "owner@example.com", Password: "Correct-horse-1"})
	require.NoError(t, err)
	assert.Len(t, p.AssignedWorkspaces, 1, "no personal workspace was added")
	assert.Equal(t, owner.Workspace.ID, p.ActiveWorkspaceID)

	// the reset token itself is untouched
	_, err = h.svc.ResetPassword(ctx, ResetPasswordInput{Email: "owner@example.com", TempToken: token, Password: "New-password-1"})
	assert.NoError(t, err)
}

func TestAcceptInvite_RequiresInvitedEmail(t *testing.T) {
	h := newHarness(t, identity.PlatformEnterprise)
	ctx := context.Background()
	owner := h.register(t, "owner@example.com")
	h.invite(t, "guest@example.com", owner.Workspace.ID, identity.RoleMember)
	token := tokenOf(t, h.mailer.last(t).link)

	_, err := h.svc.AcceptInvite(ctx, AcceptInviteInput{TempToken: token, Name: "Guest", Password: "Correct-horse-1"})
	assert.Equal(t, identity.CodeInvalidInput, identity.CodeOf(err))

	_, err = h.svc.AcceptInvite(ctx, AcceptInviteInput{
		TempToken: token, Email: " GUEST@example.com ", Name: "Guest", Password: "Correct-horse-1",
	})
	assert.NoError(t, err)
}

func TestSoleOwnerProtection(t *testing.T) {
	h := newHarness(t, identity.PlatformSelfHosted)
	ctx := context.Background()
	owner := h.register(t, "owner@example.com")
	orgID := owner.Organization.ID

	assertGuarded := func(t *testing.T, err error) {
		t.Helper()
		assert.Equal(t, identity.KindConflict, identity.KindOf(err))
		assert.Equal(t, identity.CodeNotAllowedToDeleteOwner, identity.CodeOf(err))
	}

	assertGuarded(t, h.svc.RemoveMember(ctx, orgID, owner.User.ID))
	_, err := h.svc.UpdateMemberRole(ctx, orgID, owner.User.ID, h.role(t, identity.RoleMember).ID)
	assertGuarded(t, err)
	_, err = h.svc.SetSuspended(ctx, orgID, owner.User.ID, true)
	assertGuarded(t, err)
	assertGuarded(t, h.svc.DeleteUser(ctx, owner.User.ID))

	// with a second owner the first may step down
	second := h.invite(t, "second@example.com", owner.Workspace.ID, identity.RoleMember)
	_, err = h.svc.UpdateMemberRole(ctx, orgID, second.User.ID, h.role(t, identity.RoleOwner).ID)
	require.NoError(t, err)
	ou, err := h.svc.UpdateMemberRole(ctx, orgID, owner.User.ID, h.role(t, identity.RoleMember).ID)
	require.NoError(t, err)
	assert.Equal(t, h.role(t, identity.RoleMember).ID, ou.RoleID)
}

func TestSetSuspended_BlocksLoginWithoutTouchingStatus(t *testing.T) {
	h := newHarness(t, identity.PlatformSelfHosted)
	ctx := context.Background()
	owner := h.register(t, "owner@example.com")

	member := &identity.User{Name: "Member", Email: "member@example.com", Status: identity.UserStatusActive}
	member.Credential, _ = h.svc.hashPassword("Correct-horse-2")
	require.NoError(t, h.store.CreateUser(ctx, member))
	invited := h.invite(t, "member@example.com", owner.Workspace.ID, identity.RoleMember)
	require.Equal(t, member.ID, invited.User.ID)

	ou, err := h.svc.SetSuspended(ctx, owner.Organization.ID, member.ID, true)
	require.NoError(t, err)
	assert.True(t, ou.Suspended)

	_, err = h.svc.Login(ctx, LoginInput{Email: "member@example.com", Password: "Correct-horse-2"})
	assert.Equal(t, identity.CodeUserNotActive, identity.CodeOf(err))

	ou, err = h.store.GetOrganizationUser(ctx, owner.Organization.ID, member.ID)
	require.NoError(t, err)
	assert.Equal(t, identity.MembershipStatusInvited, ou.Status)
	assert.True(t, ou.Suspended)

	_, err = h.svc.SetSuspended(ctx, owner.Organization.ID, member.ID, false)
	require.NoError(t, err)
	_, err = h.svc.Login(ctx, LoginInput{Email: "member@example.com", Password: "Correct-horse-2"})
	require.NoError(t, err)

	ou, err = h.store.GetOrganizationUser(ctx, owner.Organization.ID, member.ID)
	require.NoError(t, err)
	assert.Equal(t, identity.MembershipStatusActive, ou.Status, "login activates the pending membership")
	assert.False(t, ou.Suspended)
}

func TestRemoveMember_DeletesEmptyPersonalWorkspace(t *testing.T) {
	h := newHarness(t, identity.PlatformEnterprise)
	ctx := context.Background()
	owner := h.register(t, "owner@example.com")

	h.invite(t, "leaver@example.com", owner.Workspace.ID, identity.RoleMember)
	account, err := h.svc.AcceptInvite(ctx, AcceptInviteInput{
		TempToken: tokenOf(t, h.mailer.last(t).link), Email: "leaver@example.com", Name: "Leaver", Password: "Correct-horse-1",
	})
	require.NoError(t, err)
	personal := account.Workspace

	require.NoError(t, h.svc.RemoveMember(ctx, owner.Organization.ID, account.User.ID))

	_, err = h.store.GetWorkspace(ctx, personal.ID)
	assert.True(t, identity.IsNotFound(err))
	_, err = h.store.GetWorkspaceUser(ctx, owner.Workspace.ID, account.User.ID)
	assert.True(t, identity.IsNotFound(err))
	_, err = h.store.GetOrganizationUser(ctx, owner.Organization.ID, account.User.ID)
	assert.True(t, identity.IsNotFound(err))

	_, err = h.svc.Login(ctx, LoginInput{Email: "leaver@example.com", Password: "Correct-horse-1"})
	assert.Equal(t, identity.CodeNoAssignedWorkspace, identity.CodeOf(err))
}

func TestDeleteUser_Tombstones(t *testing.T) {
	h := newHarness(t, identity.PlatformEnterprise)
	ctx := context.Background()
	owner := h.register(t, "owner@example.com")

	invited := h.invite(t, "gone@example.com", owner.Workspace.ID, identity.RoleMember)
	require.NoError(t, h.svc.DeleteUser(ctx, invited.User.ID))
	require.NoError(t, h.svc.DeleteUser(ctx, invited.User.ID), "deleting twice is a no-op")

	user, err := h.store.GetUser(ctx, invited.User.ID)
	require.NoError(t, err)
	assert.Equal(t, identity.UserStatusDeleted, user.Status)
	assert.Equal(t, identity.TombstoneEmail(user.ID), user.Email)
	assert.Empty(t, user.Name)
	assert.Empty(t, user.TempToken)

	again := h.invite(t, "gone@example.com", owner.Workspace.ID, identity.RoleMember)
	assert.True(t, again.NewUser, "the address is free again")
	assert.NotEqual(t, invited.User.ID, again.User.ID)
}

func TestCreateWorkspace(t *testing.T) {
	h := newHarness(t, identity.PlatformEnterprise)
	ctx := context.Background()
	owner := h.register(t, "owner@example.com")
	orgID := owner.Organization.ID

	for _, name := range []string{identity.DefaultWorkspaceName, "personal workspace"} {
		_, err := h.svc.CreateWorkspace(ctx, orgID, owner.User.ID, CreateWorkspaceInput{Name: name})
		assert.Equal(t, identity.CodeReservedName, identity.CodeOf(err), name)
	}

	ws, err := h.svc.CreateWorkspace(ctx, orgID, owner.User.ID, CreateWorkspaceInput{Name: "Research", Description: "lab"})
	require.NoError(t, err)
	assert.Equal(t, orgID, ws.OrganizationID)

	_, err = h.svc.CreateWorkspace(ctx, orgID, owner.User.ID, CreateWorkspaceInput{Name: "Research"})
	assert.Equal(t, identity.CodeDuplicate, identity.CodeOf(err))

	wu, err := h.store.GetWorkspaceUser(ctx, ws.ID, owner.User.ID)
	require.NoError(t, err)
	assert.Equal(t, h.role(t, identity.RoleOwner).ID, wu.RoleID)

	members, err := h.svc.ListMembers(ctx, orgID)
	require.NoError(t, err)
	assert.Len(t, members, 1)
}

func TestCompleteInvite_Federated(t *testing.T) {
	h := newHarness(t, identity.PlatformEnterprise)
	ctx := context.Background()
	owner := h.register(t, "owner@example.com")

	invited := h.invite(t, "fed@example.com", owner.Workspace.ID, identity.RoleMember)
	require.NoError(t, h.svc.CompleteInvite(ctx, invited.User.ID, "Fed User"))

	user, err := h.store.GetUser(ctx, invited.User.ID)
	require.NoError(t, err)
	assert.Equal(t, identity.UserStatusActive, user.Status)
	assert.Equal(t, "Fed User", user.Name)
	assert.Empty(t, user.TempToken)
	assert.False(t, user.HasCredential())

	p, err := h.svc.EnterWorkspace(ctx, user.ID, "")
	require.NoError(t, err)
	assert.Equal(t, identity.PersonalWorkspaceName, p.ActiveWorkspace)

	// already active accounts are left alone
	require.NoError(t, h.svc.CompleteInvite(ctx, owner.User.ID, "Renamed"))
	same, err := h.store.GetUser(ctx, owner.User.ID)
	require.NoError(t, err)
	assert.Equal(t, "Owner", same.Name)
}
