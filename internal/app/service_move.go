package app

import (
	"context"

	"papyrus/api/internal/store"
	"papyrus/api/internal/treepath"
)

// MoveDocument relocates a subtree. Child positions require the move ability
// on the target itself; sibling positions require it on the target's parent.
// Moving next to a top-level document needs no ability beyond the moved
// node's own, since the forest root has no owner.
func (s *Service) MoveDocument(ctx context.Context, user Identity, nodeID string, input MoveInput) error {
	pos := treepath.Position(input.Position)
	if !pos.Valid() {
		return errValidation("Unknown move position", map[string]string{"position": input.Position})
	}
	if input.TargetID == "" {
		return errValidation("Missing move target", nil)
	}
	if input.TargetID == nodeID {
		return mapStoreErr(store.ErrCyclicMove)
	}

	node, abilities, err := s.visibleNode(ctx, user, nodeID)
	if err != nil {
		return err
	}
	if !abilities.Move {
		return errForbidden()
	}

	target, err := s.store.GetNode(ctx, input.TargetID)
	if err != nil {
		return errValidation("Move target does not exist", nil)
	}
	if err := s.checkMoveTarget(ctx, user, node.Path, target, pos); err != nil {
		return err
	}

	if err := s.store.MoveNode(ctx, nodeID, target.ID, pos); err != nil {
		return mapStoreErr(err)
	}
	s.logger.Info("document moved", "document_id", nodeID, "target_id", target.ID, "position", string(pos), "user_id", user.UserID)
	return nil
}

func (s *Service) checkMoveTarget(ctx context.Context, user Identity, nodePath string, target store.Node, pos treepath.Position) error {
	codec := treepath.Default()
	if target.Path == nodePath || codec.IsAncestor(nodePath, target.Path) {
		return mapStoreErr(store.ErrCyclicMove)
	}
	if target.AncestorsDeletedAt != nil {
		return errValidation("Move target is deleted", nil)
	}

	// The node whose move ability gates the operation: the target for child
	// positions, the target's parent for sibling positions.
	anchor := target
	if !pos.IsChildPosition() {
		parentPath, ok := codec.Parent(target.Path)
		if !ok {
			return nil
		}
		ancestors, err := s.store.AncestorsOf(ctx, target.Path)
		if err != nil {
			return err
		}
		anchor = store.Node{}
		for _, a := range ancestors {
			if a.Path == parentPath {
				anchor = a
			}
		}
		if anchor.ID == "" {
			return errValidation("Move target has no parent", nil)
		}
	}
	_, abilities, err := s.resolveAccess(ctx, user, anchor)
	if err != nil {
		return err
	}
	if !abilities.Move {
		return errForbidden()
	}
	return nil
}
