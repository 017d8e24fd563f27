package app

import (
	"context"
	"time"

	"papyrus/api/internal/access"
	"papyrus/api/internal/blob"
)

type Version struct {
	ID        string    `json:"version_id"`
	Size      int64     `json:"size"`
	IsLatest  bool      `json:"is_latest"`
	CreatedAt time.Time `json:"created_at"`
	URL       string    `json:"url,omitempty"`
}

// versionFloor returns the earliest grant date the caller holds on the
// document chain, along with the caller's resolved abilities. Version history
// is gated on an explicit grant: reaching a document through its link is
// never enough, and versions written before the caller was first granted
// access stay hidden.
func (s *Service) versionFloor(ctx context.Context, user Identity, nodeID string) (string, time.Time, access.Abilities, error) {
	node, abilities, err := s.visibleNode(ctx, user, nodeID)
	if err != nil {
		return "", time.Time{}, access.Abilities{}, err
	}
	if !abilities.Versions {
		return "", time.Time{}, access.Abilities{}, errForbidden()
	}
	floor, err := s.store.MinGrantedAt(ctx, user.UserID, node.Path)
	if err != nil {
		return "", time.Time{}, access.Abilities{}, err
	}
	if floor == nil {
		return "", time.Time{}, access.Abilities{}, errForbidden()
	}
	return node.ID, *floor, abilities, nil
}

// ListVersions returns the document's stored versions the caller may see,
// newest first. The cursor is the version to resume after, exclusive.
func (s *Service) ListVersions(ctx context.Context, user Identity, nodeID, fromVersionID string, limit int) ([]Version, error) {
	id, floor, _, err := s.versionFloor(ctx, user, nodeID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	all, err := s.blobs.ListVersions(ctx, id)
	if err != nil {
		return nil, err
	}
	out := make([]Version, 0, limit)
	skipping := fromVersionID != ""
	for _, v := range all {
		if skipping {
			if v.ID == fromVersionID {
				skipping = false
			}
			continue
		}
		if v.CreatedAt.Before(floor) {
			continue
		}
		out = append(out, Version{ID: v.ID, Size: v.Size, IsLatest: v.IsLatest, CreatedAt: v.CreatedAt})
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// GetVersion returns one version's metadata with a short-lived download URL.
// A version below the caller's floor answers NotFound, indistinguishable
// from a version that never existed.
func (s *Service) GetVersion(ctx context.Context, user Identity, nodeID, versionID string) (Version, error) {
	id, floor, _, err := s.versionFloor(ctx, user, nodeID)
	if err != nil {
		return Version{}, err
	}
	v, err := s.statVisibleVersion(ctx, id, versionID, floor)
	if err != nil {
		return Version{}, err
	}
	url, err := s.blobs.PresignVersion(ctx, id, versionID, s.opts.PresignTTL)
	if err != nil {
		return Version{}, err
	}
	return Version{ID: v.ID, Size: v.Size, IsLatest: v.IsLatest, CreatedAt: v.CreatedAt, URL: url}, nil
}

// DeleteVersion removes a stored version. Editors and above only; the
// current version cannot be deleted.
func (s *Service) DeleteVersion(ctx context.Context, user Identity, nodeID, versionID string) error {
	id, floor, abilities, err := s.versionFloor(ctx, user, nodeID)
	if err != nil {
		return err
	}
	if !abilities.Update {
		return errForbidden()
	}
	v, err := s.statVisibleVersion(ctx, id, versionID, floor)
	if err != nil {
		return err
	}
	if v.IsLatest {
		return errValidation("Cannot delete the current version", nil)
	}
	if err := s.blobs.DeleteVersion(ctx, id, versionID); err != nil {
		return err
	}
	s.logger.Info("version deleted", "document_id", id, "version_id", versionID, "user_id", user.UserID)
	return nil
}

func (s *Service) statVisibleVersion(ctx context.Context, nodeID, versionID string, floor time.Time) (blob.Version, error) {
	v, err := s.blobs.StatVersion(ctx, nodeID, versionID)
	if err != nil {
		return blob.Version{}, errNotFound()
	}
	if v.CreatedAt.Before(floor) {
		return blob.Version{}, errNotFound()
	}
	return v, nil
}
