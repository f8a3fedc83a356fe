package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/keystone/pkg/accounts"
	"github.com/platinummonkey/keystone/pkg/contextkeys"
	"github.com/platinummonkey/keystone/pkg/httputil"
	"github.com/platinummonkey/keystone/pkg/identity"
	"github.com/platinummonkey/keystone/pkg/observability"
)

func (s *Server) registerOrganizationRoutes(router *mux.Router) {
	router.HandleFunc("/workspaces", s.listWorkspaces).Methods(http.MethodGet)
	router.HandleFunc("/workspaces", s.createWorkspace).Methods(http.MethodPost)
	router.HandleFunc("/workspaces/{id}/switch", s.switchWorkspace).Methods(http.MethodPost)

	router.HandleFunc("/organization/users", s.listMembers).Methods(http.MethodGet)
	router.HandleFunc("/organization/invite", s.invite).Methods(http.MethodPost)
	router.HandleFunc("/organization/users/{id}", s.updateMemberRole).Methods(http.MethodPatch)
	router.HandleFunc("/organization/users/{id}", s.removeMember).Methods(http.MethodDelete)
	router.HandleFunc("/organization/users/{id}/suspend", s.suspendMember).Methods(http.MethodPost)
	router.HandleFunc("/organization/users/{id}/suspend", s.unsuspendMember).Methods(http.MethodDelete)

	router.HandleFunc("/users/{id}", s.deleteUser).Methods(http.MethodDelete)
}

// principal returns the caller or answers 401
func principal(w http.ResponseWriter, r *http.Request) (*identity.Principal, bool) {
	p, ok := contextkeys.GetPrincipal(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, identity.CodeInvalidMissingToken)
		return nil, false
	}
	return p, true
}

// pathUserID reads the {id} path variable as a user id
func pathUserID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return "", false
	}
	if err := identity.ValidateID("userId", id); err != nil {
		httputil.WriteIdentityError(w, err)
		return "", false
	}
	return id, true
}

func (s *Server) listWorkspaces(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	all, err := s.store.ListWorkspaces(r.Context(), p.ActiveOrganizationID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if p.IsOrganizationAdmin {
		httputil.WriteSuccess(w, all)
		return
	}

	assigned := make(map[string]bool, len(p.AssignedWorkspaces))
	for _, aw := range p.AssignedWorkspaces {
		assigned[aw.ID] = true
	}
	visible := make([]*identity.Workspace, 0, len(assigned))
	for _, ws := range all {
		if assigned[ws.ID] {
			visible = append(visible, ws)
		}
	}
	httputil.WriteSuccess(w, visible)
}

func (s *Server) createWorkspace(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	var in accounts.CreateWorkspaceInput
	if !httputil.ParseJSONOrError(w, r, &in) {
		return
	}
	ws, err := s.accounts.CreateWorkspace(r.Context(), p.ActiveOrganizationID, p.ID, in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteCreated(w, ws)
}

// switchWorkspace moves the caller into another workspace. The old session
// ends and a new one bound to the target workspace is issued.
func (s *Server) switchWorkspace(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	ctx := r.Context()

	next, err := s.accounts.EnterWorkspace(ctx, p.ID, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	next.SSO = p.SSO

	if sid := contextkeys.GetSessionID(ctx); sid != "" {
		if err := s.sessions.Destroy(ctx, sid); err != nil {
			observability.FromContext(ctx).WithError(err).Warn("Failed to destroy session on workspace switch")
		}
	}
	payload, err := s.CompleteLogin(w, r, next)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, payload)
}

func (s *Server) listMembers(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	members, err := s.accounts.ListMembers(r.Context(), p.ActiveOrganizationID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if members == nil {
		members = []*identity.OrganizationUser{}
	}
	httputil.WriteSuccess(w, members)
}

// invite adds someone to a workspace of the caller's organization. Callers
// holding only workspace:add-user may invite into their active workspace.
func (s *Server) invite(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	var in accounts.InviteInput
	if !httputil.ParseJSONOrError(w, r, &in) {
		return
	}
	if in.WorkspaceID == "" {
		in.WorkspaceID = p.ActiveWorkspaceID
	}
	if err := s.inviteScope(r.Context(), p, in.WorkspaceID); err != nil {
		s.writeError(w, r, err)
		return
	}

	result, err := s.accounts.Invite(r.Context(), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteCreated(w, result)
}

func (s *Server) inviteScope(ctx context.Context, p *identity.Principal, workspaceID string) error {
	if err := identity.ValidateID("workspaceId", workspaceID); err != nil {
		return err
	}
	ws, err := s.store.GetWorkspace(ctx, workspaceID)
	if err != nil {
		return err
	}
	if ws.OrganizationID != p.ActiveOrganizationID {
		return identity.NotFound(identity.CodeWorkspaceNotFound)
	}
	if p.IsOrganizationAdmin || p.HasPermission(identity.PermUsersManage) || workspaceID == p.ActiveWorkspaceID {
		return nil
	}
	return identity.ErrForbidden
}

type roleRequest struct {
	RoleID string `json:"roleId"`
}

func (s *Server) updateMemberRole(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	userID, ok := pathUserID(w, r)
	if !ok {
		return
	}
	var req roleRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	ou, err := s.accounts.UpdateMemberRole(r.Context(), p.ActiveOrganizationID, userID, req.RoleID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, ou)
}

func (s *Server) removeMember(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	userID, ok := pathUserID(w, r)
	if !ok {
		return
	}
	if err := s.accounts.RemoveMember(r.Context(), p.ActiveOrganizationID, userID); err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

func (s *Server) suspendMember(w http.ResponseWriter, r *http.Request) {
	s.setSuspended(w, r, true)
}

func (s *Server) unsuspendMember(w http.ResponseWriter, r *http.Request) {
	s.setSuspended(w, r, false)
}

func (s *Server) setSuspended(w http.ResponseWriter, r *http.Request, suspended bool) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	userID, ok := pathUserID(w, r)
	if !ok {
		return
	}
	if suspended && userID == p.ID {
		httputil.WriteBadRequest(w, "cannot suspend yourself")
		return
	}
	ou, err := s.accounts.SetSuspended(r.Context(), p.ActiveOrganizationID, userID, suspended)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, ou)
}

// deleteUser soft-deletes a member of the caller's organization
func (s *Server) deleteUser(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	userID, ok := pathUserID(w, r)
	if !ok {
		return
	}
	if userID == p.ID {
		httputil.WriteBadRequest(w, "cannot delete yourself")
		return
	}

	ctx := r.Context()
	if _, err := s.store.GetOrganizationUser(ctx, p.ActiveOrganizationID, userID); err != nil {
		if identity.IsNotFound(err) {
			err = identity.NewError(identity.KindNotFound, identity.CodeUserNotFound, errors.New("user is not a member of the organization"))
		}
		s.writeError(w, r, err)
		return
	}
	if err := s.accounts.DeleteUser(ctx, userID); err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}
