package app

import (
	"context"
	"strings"

	"papyrus/api/internal/access"
	"papyrus/api/internal/blob"
	"papyrus/api/internal/util"
)

// SetFavorite marks or unmarks the document as a favorite of the caller.
// Reports whether anything changed.
func (s *Service) SetFavorite(ctx context.Context, user Identity, nodeID string, favorite bool) (bool, error) {
	_, abilities, err := s.visibleNode(ctx, user, nodeID)
	if err != nil {
		return false, err
	}
	if !abilities.Favorite {
		return false, errForbidden()
	}
	if favorite {
		changed, err := s.store.MarkFavorite(ctx, nodeID, user.UserID)
		return changed, err
	}
	changed, err := s.store.UnmarkFavorite(ctx, nodeID, user.UserID)
	return changed, err
}

// ListFavorites returns the caller's favorite documents.
func (s *Service) ListFavorites(ctx context.Context, user Identity) ([]Document, error) {
	if !user.Authenticated {
		return nil, errUnauthorized()
	}
	nodes, err := s.store.ListFavoriteNodes(ctx, user.UserID)
	if err != nil {
		return nil, err
	}
	docs := make([]Document, 0, len(nodes))
	for _, n := range nodes {
		_, abilities, err := s.resolveAccess(ctx, user, n)
		if err != nil {
			return nil, err
		}
		if !abilities.Retrieve {
			continue
		}
		doc := s.toDocument(n, abilities)
		doc.Content = ""
		docs = append(docs, doc)
	}
	return docs, nil
}

// SetLinkReach reconfigures the document's link. Live collaboration
// sessions are reset so link-based viewers re-authenticate under the new
// reach.
func (s *Service) SetLinkReach(ctx context.Context, user Identity, nodeID, reach string) (Document, error) {
	node, abilities, err := s.visibleNode(ctx, user, nodeID)
	if err != nil {
		return Document{}, err
	}
	if !abilities.LinkSelect {
		return Document{}, errForbidden()
	}
	if !access.ValidReach(access.LinkReach(reach)) {
		return Document{}, errValidation("Unknown link reach", map[string]string{"link_reach": reach})
	}
	if err := s.store.UpdateLinkReach(ctx, node.ID, reach); err != nil {
		return Document{}, mapStoreErr(err)
	}
	s.logger.Info("link reach changed", "document_id", node.ID, "link_reach", reach, "user_id", user.UserID)
	s.resetCollab(node.ID)
	node.LinkReach = reach
	return s.toDocument(node, abilities), nil
}

// CollabToken issues a short-lived token for the realtime server scoped to
// one document, carrying whether the caller may write.
func (s *Service) CollabToken(ctx context.Context, user Identity, nodeID string) (string, error) {
	_, abilities, err := s.visibleNode(ctx, user, nodeID)
	if err != nil {
		return "", err
	}
	if !abilities.CollabConnect {
		return "", errForbidden()
	}
	if s.collab == nil {
		return "", errValidation("Collaboration is not configured", nil)
	}
	token, err := s.collab.Token(user.UserID, nodeID, abilities.Update)
	if err != nil {
		return "", err
	}
	return token, nil
}

// AuthorizeMedia checks the caller may read the attachment behind an object
// key and returns the signed headers the media proxy should forward. The
// key's first segment is the owning document.
func (s *Service) AuthorizeMedia(ctx context.Context, user Identity, key string) (blob.MediaAuth, error) {
	nodeID, _, ok := strings.Cut(strings.TrimPrefix(key, "/"), "/")
	if !ok || nodeID == "" {
		return blob.MediaAuth{}, errValidation("Malformed media key", map[string]string{"key": key})
	}
	_, abilities, err := s.visibleNode(ctx, user, nodeID)
	if err != nil {
		return blob.MediaAuth{}, err
	}
	if !abilities.MediaAuth {
		return blob.MediaAuth{}, errForbidden()
	}
	auth, err := s.blobs.PresignMedia(ctx, strings.TrimPrefix(key, "/"), s.opts.PresignTTL)
	if err != nil {
		return blob.MediaAuth{}, err
	}
	return auth, nil
}

// AITransform rewrites document text through the AI gateway. Usage is
// throttled per document and per user.
func (s *Service) AITransform(ctx context.Context, user Identity, nodeID, text, action string) (string, error) {
	if err := s.aiGate(ctx, user, nodeID); err != nil {
		return "", err
	}
	if text == "" || action == "" {
		return "", errValidation("Missing text or action", nil)
	}
	return s.ai.Transform(ctx, text, action)
}

// AITranslate translates document text through the AI gateway, throttled
// like AITransform.
func (s *Service) AITranslate(ctx context.Context, user Identity, nodeID, text, language string) (string, error) {
	if err := s.aiGate(ctx, user, nodeID); err != nil {
		return "", err
	}
	if text == "" || language == "" {
		return "", errValidation("Missing text or language", nil)
	}
	return s.ai.Translate(ctx, text, language)
}

func (s *Service) aiGate(ctx context.Context, user Identity, nodeID string) error {
	_, abilities, err := s.visibleNode(ctx, user, nodeID)
	if err != nil {
		return err
	}
	if !abilities.AITransform {
		return errForbidden()
	}
	if s.ai == nil {
		return errValidation("AI features are not configured", nil)
	}
	if s.limits != nil {
		ok, err := s.limits.Allow(ctx, "ai:doc:"+nodeID, s.opts.AIDocumentLimit, s.opts.AIWindow)
		if err != nil {
			s.logger.Warn("throttle check failed", "error", err)
		} else if !ok {
			return errThrottled()
		}
		ok, err = s.limits.Allow(ctx, "ai:user:"+user.UserID, s.opts.AIUserLimit, s.opts.AIWindow)
		if err != nil {
			s.logger.Warn("throttle check failed", "error", err)
		} else if !ok {
			return errThrottled()
		}
	}
	return nil
}

// CreateForOwner creates a document on behalf of another user, for trusted
// server-to-server callers only. The beneficiary is created on first sight.
func (s *Service) CreateForOwner(ctx context.Context, caller Identity, ownerEmail, ownerLanguage string, input CreateDocumentInput) (Document, error) {
	if !caller.ServiceAccount {
		return Document{}, errForbidden()
	}
	if ownerEmail == "" {
		return Document{}, errValidation("Missing owner email", nil)
	}
	owner, err := s.store.GetUserByEmail(ctx, ownerEmail)
	if err != nil {
		owner, err = s.store.EnsureUser(ctx, util.NewID(), ownerEmail, ownerLanguage)
		if err != nil {
			return Document{}, mapStoreErr(err)
		}
	}
	return s.CreateDocument(ctx, Identity{
		UserID:        owner.ID,
		Email:         owner.Email,
		Language:      owner.Language,
		Authenticated: true,
	}, input)
}
