package app

import (
	"context"
	"net/http"

	"papyrus/api/internal/access"
	"papyrus/api/internal/store"
	"papyrus/api/internal/util"
)

func toAccessEntry(a store.Access) AccessEntry {
	entry := AccessEntry{
		ID:        a.ID,
		NodeID:    a.NodeID,
		UserEmail: a.UserEmail,
		Role:      a.Role,
		CreatedAt: a.CreatedAt,
	}
	if a.UserID != nil {
		entry.UserID = *a.UserID
	}
	if a.TeamID != nil {
		entry.TeamID = *a.TeamID
	}
	return entry
}

// ListDocumentAccesses lists the grants held directly on the document.
func (s *Service) ListDocumentAccesses(ctx context.Context, user Identity, nodeID string) ([]AccessEntry, error) {
	_, abilities, err := s.visibleNode(ctx, user, nodeID)
	if err != nil {
		return nil, err
	}
	if !abilities.ManageAccesses {
		return nil, errForbidden()
	}
	accesses, err := s.store.ListAccesses(ctx, nodeID)
	if err != nil {
		return nil, err
	}
	entries := make([]AccessEntry, len(accesses))
	for i, a := range accesses {
		entries[i] = toAccessEntry(a)
	}
	return entries, nil
}

// GrantAccess gives a user or team a role on the document. Granting the
// owner role takes an owner caller. The invitee is notified by email when
// mail is configured; a mail failure never fails the grant.
func (s *Service) GrantAccess(ctx context.Context, user Identity, nodeID string, input GrantInput) (AccessEntry, error) {
	node, abilities, err := s.visibleNode(ctx, user, nodeID)
	if err != nil {
		return AccessEntry{}, err
	}
	if !abilities.ManageAccesses {
		return AccessEntry{}, errForbidden()
	}
	role := access.Role(input.Role)
	if !access.ValidRole(role) {
		return AccessEntry{}, errValidation("Unknown role", map[string]string{"role": input.Role})
	}
	if role == access.RoleOwner && !abilities.InviteOwner {
		return AccessEntry{}, errForbidden()
	}
	if (input.Email == "") == (input.TeamID == "") {
		return AccessEntry{}, errValidation("Grant exactly one of email or team_id", nil)
	}

	grant := store.Access{ID: util.NewID(), NodeID: node.ID, Role: string(role)}
	var invitee store.User
	if input.Email != "" {
		invitee, err = s.store.GetUserByEmail(ctx, input.Email)
		if err != nil {
			return AccessEntry{}, errValidation("No user with this email", map[string]string{"email": input.Email})
		}
		grant.UserID = &invitee.ID
	} else {
		teamID := input.TeamID
		grant.TeamID = &teamID
	}

	created, err := s.store.CreateAccess(ctx, grant)
	if err != nil {
		return AccessEntry{}, mapStoreErr(err)
	}
	s.logger.Info("access granted", "document_id", node.ID, "access_id", created.ID, "role", created.Role, "user_id", user.UserID)

	if invitee.ID != "" && s.mail != nil && s.mail.IsConfigured() {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), mailTimeout)
			defer cancel()
			if err := s.mail.SendInvitation(ctx, invitee.Email, user.Email, string(role), invitee.Language); err != nil {
				s.logger.Warn("invitation email failed", "document_id", node.ID, "error", err)
			}
		}()
	}
	return toAccessEntry(created), nil
}

// UpdateAccessRole changes an existing grant's role. Demoting the last owner
// of a document is rejected so every document keeps at least one owner.
func (s *Service) UpdateAccessRole(ctx context.Context, user Identity, nodeID, accessID, role string) (AccessEntry, error) {
	node, abilities, err := s.visibleNode(ctx, user, nodeID)
	if err != nil {
		return AccessEntry{}, err
	}
	if !abilities.ManageAccesses {
		return AccessEntry{}, errForbidden()
	}
	newRole := access.Role(role)
	if !access.ValidRole(newRole) {
		return AccessEntry{}, errValidation("Unknown role", map[string]string{"role": role})
	}
	grant, err := s.store.GetAccess(ctx, accessID)
	if err != nil || grant.NodeID != node.ID {
		return AccessEntry{}, errNotFound()
	}
	touchesOwner := grant.Role == string(access.RoleOwner) || newRole == access.RoleOwner
	if touchesOwner && !abilities.InviteOwner {
		return AccessEntry{}, errForbidden()
	}
	if grant.Role == string(access.RoleOwner) && newRole != access.RoleOwner {
		if err := s.requireAnotherOwner(ctx, node.ID); err != nil {
			return AccessEntry{}, err
		}
	}
	if err := s.store.UpdateAccessRole(ctx, accessID, string(newRole)); err != nil {
		return AccessEntry{}, mapStoreErr(err)
	}
	s.resetCollab(node.ID)
	grant.Role = string(newRole)
	return toAccessEntry(grant), nil
}

// RevokeAccess removes a grant. The last owner grant cannot be revoked.
// Users may always remove their own non-owner grant.
func (s *Service) RevokeAccess(ctx context.Context, user Identity, nodeID, accessID string) error {
	node, abilities, err := s.visibleNode(ctx, user, nodeID)
	if err != nil {
		return err
	}
	grant, err := s.store.GetAccess(ctx, accessID)
	if err != nil || grant.NodeID != node.ID {
		return errNotFound()
	}
	own := grant.UserID != nil && *grant.UserID == user.UserID
	if !abilities.ManageAccesses && !own {
		return errForbidden()
	}
	if grant.Role == string(access.RoleOwner) {
		if !abilities.InviteOwner {
			return errForbidden()
		}
		if err := s.requireAnotherOwner(ctx, node.ID); err != nil {
			return err
		}
	}
	if err := s.store.DeleteAccess(ctx, accessID); err != nil {
		return mapStoreErr(err)
	}
	s.logger.Info("access revoked", "document_id", node.ID, "access_id", accessID, "user_id", user.UserID)
	s.resetCollab(node.ID)
	return nil
}

func (s *Service) requireAnotherOwner(ctx context.Context, nodeID string) error {
	owners, err := s.store.CountOwnerAccesses(ctx, nodeID)
	if err != nil {
		return err
	}
	if owners <= 1 {
		return domainError(http.StatusBadRequest, "LAST_OWNER_VIOLATION", "A document must keep at least one owner", nil)
	}
	return nil
}

// resetCollab tells the realtime server to drop live connections on the
// document so revoked or demoted sessions re-authenticate. Fire and forget.
func (s *Service) resetCollab(nodeID string) {
	if s.collab == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), collabTimeout)
		defer cancel()
		if err := s.collab.ResetConnections(ctx, nodeID); err != nil {
			s.logger.Warn("collab reset failed", "document_id", nodeID, "error", err)
		}
	}()
}
