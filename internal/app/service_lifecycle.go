package app

import (
	"context"
	"net/http"

	"papyrus/api/internal/store"
)

// DeleteDocument soft-deletes a document and hides its whole subtree. Only
// owners may delete; the subtree stays restorable until the trashbin cutoff.
func (s *Service) DeleteDocument(ctx context.Context, user Identity, nodeID string) error {
	_, abilities, err := s.visibleNode(ctx, user, nodeID)
	if err != nil {
		return err
	}
	if !abilities.Delete {
		return errForbidden()
	}
	if err := s.store.SoftDeleteNode(ctx, nodeID, s.now().UTC()); err != nil {
		return mapStoreErr(err)
	}
	s.logger.Info("document deleted", "document_id", nodeID, "user_id", user.UserID)
	return nil
}

// RestoreDocument undoes a soft delete while the restore window is open.
// Descendants that sit under another deleted ancestor stay hidden.
func (s *Service) RestoreDocument(ctx context.Context, user Identity, nodeID string) error {
	node, abilities, err := s.visibleNode(ctx, user, nodeID)
	if err != nil {
		return err
	}
	if !abilities.Restore {
		return errForbidden()
	}
	if node.DeletedAt == nil {
		return errValidation("Document is not deleted", nil)
	}
	if node.DeletedAt.Before(s.now().Add(-s.opts.TrashbinCutoff)) {
		return domainError(http.StatusGone, "RESTORE_WINDOW_EXPIRED", "The restore window for this document has expired", nil)
	}
	if err := s.store.RestoreNode(ctx, nodeID); err != nil {
		return mapStoreErr(err)
	}
	s.logger.Info("document restored", "document_id", nodeID, "user_id", user.UserID)
	return nil
}

// Trashbin lists the caller's restorable documents, most recently deleted
// first.
func (s *Service) Trashbin(ctx context.Context, user Identity) ([]Document, error) {
	if !user.Authenticated {
		return nil, errUnauthorized()
	}
	nodes, err := s.store.TrashbinNodes(ctx, user.UserID, s.now().Add(-s.opts.TrashbinCutoff))
	if err != nil {
		return nil, err
	}
	docs := make([]Document, 0, len(nodes))
	for _, n := range nodes {
		_, abilities, err := s.resolveAccess(ctx, user, n)
		if err != nil {
			return nil, err
		}
		doc := s.toDocument(n, abilities)
		doc.Content = ""
		docs = append(docs, doc)
	}
	return docs, nil
}

// PurgeEligible reports whether the node's restore window has closed,
// making it a candidate for permanent removal.
func (s *Service) PurgeEligible(node store.Node) bool {
	return node.DeletedAt != nil && node.DeletedAt.Before(s.now().Add(-s.opts.TrashbinCutoff))
}

// PurgeExpired permanently removes subtrees whose restore window has closed.
// Meant to be driven by a periodic job, not an end-user request.
func (s *Service) PurgeExpired(ctx context.Context) (int, error) {
	purged, err := s.store.PurgeExpired(ctx, s.now().Add(-s.opts.TrashbinCutoff))
	if err != nil {
		return 0, mapStoreErr(err)
	}
	if purged > 0 {
		s.logger.Info("purged expired documents", "count", purged)
	}
	return purged, nil
}
