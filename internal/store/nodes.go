package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"papyrus/api/internal/treepath"
)

const nodeColumns = `id, path, kind, COALESCE(creator_id::text, ''), title, content, link_reach, created_at, updated_at, deleted_at, ancestors_deleted_at`

// stagingMarker prefixes in-flight paths while siblings are renumbered under
// a deferred uniqueness check. It is not part of the step alphabet, so a
// staged prefix can never capture or collide with a live one.
const stagingMarker = "~"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNode(row rowScanner) (Node, error) {
	var n Node
	err := row.Scan(
		&n.ID,
		&n.Path,
		&n.Kind,
		&n.CreatorID,
		&n.Title,
		&n.Content,
		&n.LinkReach,
		&n.CreatedAt,
		&n.UpdatedAt,
		&n.DeletedAt,
		&n.AncestorsDeletedAt,
	)
	return n, err
}

func collectNodes(rows *sql.Rows) ([]Node, error) {
	defer rows.Close()
	items := make([]Node, 0)
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, fmt.Errorf("scan node: %w", err)
		}
		items = append(items, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate nodes: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetNode(ctx context.Context, nodeID string) (Node, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+nodeColumns+` FROM nodes WHERE id=$1`, nodeID)
	n, err := scanNode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Node{}, ErrNotFound
	}
	if err != nil {
		return Node{}, fmt.Errorf("get node: %w", err)
	}
	return n, nil
}

// AncestorsOf returns the strict ancestors of path, root first.
func (s *PostgresStore) AncestorsOf(ctx context.Context, path string) ([]Node, error) {
	ancestors := s.codec.Ancestors(path)
	if len(ancestors) == 0 {
		return []Node{}, nil
	}
	query := `SELECT ` + nodeColumns + ` FROM nodes WHERE path IN (` + placeholders(1, len(ancestors)) + `) ORDER BY path ASC`
	rows, err := s.db.QueryContext(ctx, query, stringsToAny(ancestors)...)
	if err != nil {
		return nil, fmt.Errorf("list ancestors: %w", err)
	}
	return collectNodes(rows)
}

func (s *PostgresStore) DescendantsOf(ctx context.Context, path string, includeDeleted bool) ([]Node, error) {
	query := `SELECT ` + nodeColumns + ` FROM nodes WHERE path LIKE $1 || '%' AND path <> $1`
	if !includeDeleted {
		query += ` AND ancestors_deleted_at IS NULL`
	}
	query += ` ORDER BY path ASC`
	rows, err := s.db.QueryContext(ctx, query, path)
	if err != nil {
		return nil, fmt.Errorf("list descendants: %w", err)
	}
	return collectNodes(rows)
}

// ChildrenOf returns the live direct children of path, in sibling order.
func (s *PostgresStore) ChildrenOf(ctx context.Context, path string) ([]Node, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+nodeColumns+`
		FROM nodes
		WHERE path LIKE $1 || '%' AND char_length(path) = $2 AND ancestors_deleted_at IS NULL
		ORDER BY path ASC
	`, path, len(path)+s.codec.StepLen())
	if err != nil {
		return nil, fmt.Errorf("list children: %w", err)
	}
	return collectNodes(rows)
}

func (s *PostgresStore) CountDescendants(ctx context.Context, path string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM nodes WHERE path LIKE $1 || '%' AND path <> $1
	`, path).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count descendants: %w", err)
	}
	return count, nil
}

// CreateRoot inserts a node at the top level of the forest and grants the
// owner role to ownerID in the same transaction.
func (s *PostgresStore) CreateRoot(ctx context.Context, node Node, ownerID string) (Node, error) {
	err := retryConflict(func() error {
		return s.inTx(ctx, func(tx *sql.Tx) error {
			steps, err := s.lockSiblingSteps(ctx, tx, "")
			if err != nil {
				return err
			}
			step, plan, err := s.codec.StepAt(steps, len(steps))
			if err != nil {
				return err
			}
			if plan != nil {
				if err := s.applyCompaction(ctx, tx, "", steps, plan); err != nil {
					return err
				}
			}
			node.Path = step
			node.AncestorsDeletedAt = nil
			if err := insertNode(ctx, tx, node); err != nil {
				return err
			}
			return insertOwnerAccess(ctx, tx, node.ID, ownerID)
		})
	})
	if err != nil {
		return Node{}, err
	}
	return s.GetNode(ctx, node.ID)
}

// CreateChild inserts a node under parentID, allocating the next sibling key,
// and grants the owner role to ownerID atomically with the insert.
func (s *PostgresStore) CreateChild(ctx context.Context, parentID string, node Node, ownerID string) (Node, error) {
	err := retryConflict(func() error {
		return s.inTx(ctx, func(tx *sql.Tx) error {
			parent, err := lockNode(ctx, tx, parentID)
			if err != nil {
				return err
			}
			if parent.AncestorsDeletedAt != nil {
				return ErrNodeDeleted
			}
			if s.codec.Depth(parent.Path)+1 > s.codec.MaxDepth() {
				return treepath.ErrDepthExceeded
			}
			steps, err := s.lockSiblingSteps(ctx, tx, parent.Path)
			if err != nil {
				return err
			}
			step, plan, err := s.codec.StepAt(steps, len(steps))
			if err != nil {
				return err
			}
			if plan != nil {
				if err := s.applyCompaction(ctx, tx, parent.Path, steps, plan); err != nil {
					return err
				}
			}
			node.Path, err = s.codec.ChildPath(parent.Path, step)
			if err != nil {
				return err
			}
			node.AncestorsDeletedAt = parent.AncestorsDeletedAt
			if err := insertNode(ctx, tx, node); err != nil {
				return err
			}
			return insertOwnerAccess(ctx, tx, node.ID, ownerID)
		})
	})
	if err != nil {
		return Node{}, err
	}
	return s.GetNode(ctx, node.ID)
}

func (s *PostgresStore) UpdateNodeContent(ctx context.Context, nodeID, title, content string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE nodes SET title=$2, content=$3, updated_at=NOW() WHERE id=$1
	`, nodeID, title, content)
	if err != nil {
		return fmt.Errorf("update node content: %w", err)
	}
	return requireAffected(result)
}

func (s *PostgresStore) UpdateLinkReach(ctx context.Context, nodeID, reach string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE nodes SET link_reach=$2, updated_at=NOW() WHERE id=$1
	`, nodeID, reach)
	if err != nil {
		return fmt.Errorf("update link reach: %w", err)
	}
	return requireAffected(result)
}

// SoftDeleteNode marks the node deleted and cascades the ancestors-deleted
// marker to its whole subtree in one transaction. Earlier deletions win.
func (s *PostgresStore) SoftDeleteNode(ctx context.Context, nodeID string, now time.Time) error {
	return retryConflict(func() error {
		return s.inTx(ctx, func(tx *sql.Tx) error {
			node, err := lockNode(ctx, tx, nodeID)
			if err != nil {
				return err
			}
			if node.DeletedAt != nil {
				return ErrNodeDeleted
			}
			if err := lockSubtree(ctx, tx, node.Path); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `
				UPDATE nodes SET deleted_at=$2, updated_at=NOW() WHERE id=$1
			`, nodeID, now); err != nil {
				return fmt.Errorf("soft delete node: %w", err)
			}
			if _, err := tx.ExecContext(ctx, `
				UPDATE nodes
				SET ancestors_deleted_at=$2
				WHERE path LIKE $1 || '%'
				  AND (ancestors_deleted_at IS NULL OR ancestors_deleted_at > $2)
			`, node.Path, now); err != nil {
				return fmt.Errorf("cascade soft delete: %w", err)
			}
			return nil
		})
	})
}

// RestoreNode clears the node's own deletion and recomputes the
// ancestors-deleted marker for the whole subtree against the nearest still
// deleted ancestor. A descendant under another deleted node stays hidden.
func (s *PostgresStore) RestoreNode(ctx context.Context, nodeID string) error {
	return retryConflict(func() error {
		return s.inTx(ctx, func(tx *sql.Tx) error {
			node, err := lockNode(ctx, tx, nodeID)
			if err != nil {
				return err
			}
			if node.DeletedAt == nil {
				return fmt.Errorf("restore: %w", ErrNotFound)
			}
			if err := lockSubtree(ctx, tx, node.Path); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `
				UPDATE nodes SET deleted_at=NULL, updated_at=NOW() WHERE id=$1
			`, nodeID); err != nil {
				return fmt.Errorf("restore node: %w", err)
			}
			inherited, err := s.ancestorDeletion(ctx, tx, node.Path)
			if err != nil {
				return err
			}
			return s.recomputeSubtree(ctx, tx, node.Path, inherited)
		})
	})
}

// PurgeExpired physically deletes every subtree whose root was soft-deleted
// before the cutoff. Returns the number of purged rows.
func (s *PostgresStore) PurgeExpired(ctx context.Context, before time.Time) (int, error) {
	purged := 0
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			SELECT path FROM nodes
			WHERE deleted_at IS NOT NULL AND deleted_at < $1
			ORDER BY path
			FOR UPDATE
		`, before)
		if err != nil {
			return fmt.Errorf("list expired nodes: %w", err)
		}
		paths, err := collectStrings(rows)
		if err != nil {
			return err
		}
		for _, p := range treepath.HighestAncestors(paths) {
			result, err := tx.ExecContext(ctx, `DELETE FROM nodes WHERE path LIKE $1 || '%'`, p)
			if err != nil {
				return fmt.Errorf("purge subtree: %w", err)
			}
			affected, err := result.RowsAffected()
			if err != nil {
				return fmt.Errorf("purge subtree rows: %w", err)
			}
			purged += int(affected)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return purged, nil
}

// MoveNode relocates the subtree rooted at nodeID relative to targetID. The
// deleted-state and cycle checks run inside the same transaction that
// rewrites paths, so a concurrent soft-delete cannot slip in between.
func (s *PostgresStore) MoveNode(ctx context.Context, nodeID, targetID string, pos treepath.Position) error {
	return retryConflict(func() error {
		return s.inTx(ctx, func(tx *sql.Tx) error {
			return s.moveNodeTx(ctx, tx, nodeID, targetID, pos)
		})
	})
}

func (s *PostgresStore) moveNodeTx(ctx context.Context, tx *sql.Tx, nodeID, targetID string, pos treepath.Position) error {
	// Lock both endpoints in path order so concurrent moves on overlapping
	// subtrees always acquire ancestor rows first.
	rows, err := tx.QueryContext(ctx, `
		SELECT `+nodeColumns+` FROM nodes WHERE id IN ($1, $2) ORDER BY path FOR UPDATE
	`, nodeID, targetID)
	if err != nil {
		return fmt.Errorf("lock move endpoints: %w", err)
	}
	endpoints, err := collectNodes(rows)
	if err != nil {
		return err
	}
	var node, target Node
	var haveNode, haveTarget bool
	for _, n := range endpoints {
		if n.ID == nodeID {
			node, haveNode = n, true
		}
		if n.ID == targetID {
			target, haveTarget = n, true
		}
	}
	if !haveNode {
		return ErrNotFound
	}
	if !haveTarget {
		return fmt.Errorf("move target: %w", ErrNotFound)
	}
	if node.ID == target.ID || s.codec.IsAncestor(node.Path, target.Path) {
		return ErrCyclicMove
	}
	if node.DeletedAt != nil || node.AncestorsDeletedAt != nil {
		return ErrNodeDeleted
	}
	if target.AncestorsDeletedAt != nil {
		return fmt.Errorf("move target: %w", ErrNodeDeleted)
	}

	var count int
	if err := tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM nodes WHERE path LIKE $1 || '%'
	`, node.Path).Scan(&count); err != nil {
		return fmt.Errorf("count subtree: %w", err)
	}
	if count > s.maxSubtree {
		return ErrTooManyDescendants
	}

	parentPath := target.Path
	if !pos.IsChildPosition() {
		parentPath, _ = s.codec.Parent(target.Path)
	}

	// Depth bound for the deepest moved descendant at the destination.
	var deepest int
	if err := tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(char_length(path)), char_length($1)) FROM nodes WHERE path LIKE $1 || '%'
	`, node.Path).Scan(&deepest); err != nil {
		return fmt.Errorf("measure subtree depth: %w", err)
	}
	newDeepest := len(parentPath) + s.codec.StepLen() + deepest - len(node.Path)
	if newDeepest/s.codec.StepLen() > s.codec.MaxDepth() {
		return treepath.ErrDepthExceeded
	}

	steps, err := s.lockSiblingSteps(ctx, tx, parentPath)
	if err != nil {
		return err
	}
	// A move within the same parent must not count the node among its own
	// future siblings.
	ownStep := ""
	if p, _ := s.codec.Parent(node.Path); p == parentPath {
		ownStep = s.codec.Step(node.Path)
	}
	filtered := steps[:0:0]
	for _, st := range steps {
		if st != ownStep {
			filtered = append(filtered, st)
		}
	}

	index := len(filtered)
	switch pos {
	case treepath.FirstChild:
		index = 0
	case treepath.LastChild:
		index = len(filtered)
	case treepath.LeftOf, treepath.RightOf:
		refStep := s.codec.Step(target.Path)
		index = len(filtered)
		for i, st := range filtered {
			if st == refStep {
				index = i
				break
			}
		}
		if pos == treepath.RightOf && index < len(filtered) {
			index++
		}
	default:
		return fmt.Errorf("%w: position %q", treepath.ErrInvalidPath, pos)
	}

	step, plan, err := s.codec.StepAt(filtered, index)
	if err != nil {
		return err
	}

	// Path rewrites collide transiently; defer the uniqueness check to
	// commit time.
	if _, err := tx.ExecContext(ctx, `SET CONSTRAINTS nodes_path_key DEFERRED`); err != nil {
		return fmt.Errorf("defer path constraint: %w", err)
	}

	// Park the moving subtree before any renumbering. The plan may assign a
	// sibling the step the node is vacating, and the node may itself live
	// under a sibling being renumbered; parked rows are reachable by neither.
	// The doubled marker keeps this prefix out of the renumbering staging
	// namespace even when parentPath is the forest root.
	staging := stagingMarker + stagingMarker + node.Path
	if err := rewriteSubtree(ctx, tx, node.Path, staging); err != nil {
		return err
	}
	if plan != nil {
		if err := s.applyCompactionDeferred(ctx, tx, parentPath, filtered, plan); err != nil {
			return err
		}
	}

	newPath := parentPath + step
	if err := rewriteSubtree(ctx, tx, staging, newPath); err != nil {
		return err
	}

	inherited, err := s.ancestorDeletion(ctx, tx, newPath)
	if err != nil {
		return err
	}
	return s.recomputeSubtree(ctx, tx, newPath, inherited)
}

// RolesOn returns the distinct roles userID holds on the node at path or any
// of its ancestors, via direct grants or team membership.
func (s *PostgresStore) RolesOn(ctx context.Context, userID, path string) ([]string, error) {
	chain := s.prefixes(path)
	query := `
		SELECT DISTINCT a.role
		FROM accesses a
		JOIN nodes n ON n.id = a.node_id
		WHERE n.path IN (` + placeholders(1, len(chain)) + `)
		  AND (a.user_id = $` + fmt.Sprint(len(chain)+1) + `
		       OR a.team_id IN (SELECT team_id FROM team_memberships WHERE user_id = $` + fmt.Sprint(len(chain)+1) + `))
	`
	args := append(stringsToAny(chain), userID)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list roles: %w", err)
	}
	return collectStrings(rows)
}

// MinGrantedAt returns the creation time of the caller's earliest grant on
// the node-or-ancestor chain, or nil when no explicit grant exists.
func (s *PostgresStore) MinGrantedAt(ctx context.Context, userID, path string) (*time.Time, error) {
	chain := s.prefixes(path)
	query := `
		SELECT MIN(a.created_at)
		FROM accesses a
		JOIN nodes n ON n.id = a.node_id
		WHERE n.path IN (` + placeholders(1, len(chain)) + `)
		  AND (a.user_id = $` + fmt.Sprint(len(chain)+1) + `
		       OR a.team_id IN (SELECT team_id FROM team_memberships WHERE user_id = $` + fmt.Sprint(len(chain)+1) + `))
	`
	args := append(stringsToAny(chain), userID)
	var min sql.NullTime
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&min); err != nil {
		return nil, fmt.Errorf("min grant date: %w", err)
	}
	if !min.Valid {
		return nil, nil
	}
	return &min.Time, nil
}

// ListVisibleNodes returns every live node the user can see in listings:
// nodes with an explicit grant (direct or team) plus nodes the user visited
// through a non-restricted link.
func (s *PostgresStore) ListVisibleNodes(ctx context.Context, userID string) ([]Node, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+nodeColumns+`
		FROM nodes n
		WHERE n.ancestors_deleted_at IS NULL
		  AND (
			n.id IN (
				SELECT node_id FROM accesses
				WHERE user_id = $1
				   OR team_id IN (SELECT team_id FROM team_memberships WHERE user_id = $1)
			)
			OR (
				n.link_reach <> 'restricted'
				AND n.id IN (SELECT node_id FROM link_traces WHERE user_id = $1)
			)
		  )
		ORDER BY n.path ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list visible nodes: %w", err)
	}
	return collectNodes(rows)
}

// TrashbinNodes returns soft-deleted nodes still inside the restore window
// for which the user holds the owner role on the node or an ancestor.
func (s *PostgresStore) TrashbinNodes(ctx context.Context, userID string, deletedSince time.Time) ([]Node, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+nodeColumns+`
		FROM nodes n
		WHERE n.deleted_at IS NOT NULL AND n.deleted_at >= $2
		  AND EXISTS (
			SELECT 1
			FROM accesses a
			JOIN nodes an ON an.id = a.node_id
			WHERE n.path LIKE an.path || '%'
			  AND a.role = 'owner'
			  AND (a.user_id = $1
			       OR a.team_id IN (SELECT team_id FROM team_memberships WHERE user_id = $1))
		  )
		ORDER BY n.deleted_at DESC
	`, userID, deletedSince)
	if err != nil {
		return nil, fmt.Errorf("list trashbin: %w", err)
	}
	return collectNodes(rows)
}

// ListFavoriteNodes returns the user's favorite nodes that are still visible.
func (s *PostgresStore) ListFavoriteNodes(ctx context.Context, userID string) ([]Node, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+nodeColumns+`
		FROM nodes n
		JOIN favorites f ON f.node_id = n.id
		WHERE f.user_id = $1 AND n.ancestors_deleted_at IS NULL
		ORDER BY n.path ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list favorites: %w", err)
	}
	return collectNodes(rows)
}

// --- transaction helpers ---

func lockNode(ctx context.Context, tx *sql.Tx, nodeID string) (Node, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+nodeColumns+` FROM nodes WHERE id=$1 FOR UPDATE`, nodeID)
	n, err := scanNode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Node{}, ErrNotFound
	}
	if err != nil {
		return Node{}, fmt.Errorf("lock node: %w", err)
	}
	return n, nil
}

// lockSubtree acquires row locks over a whole subtree in ancestor-before-
// descendant order, the fixed order every multi-row mutation uses.
func lockSubtree(ctx context.Context, tx *sql.Tx, path string) error {
	rows, err := tx.QueryContext(ctx, `
		SELECT id FROM nodes WHERE path LIKE $1 || '%' ORDER BY path FOR UPDATE
	`, path)
	if err != nil {
		return fmt.Errorf("lock subtree: %w", err)
	}
	_, err = collectStrings(rows)
	return err
}

// lockSiblingSteps locks the direct children of parentPath (all of them,
// deleted included, since path uniqueness spans deletion state) and returns
// their ordered steps.
func (s *PostgresStore) lockSiblingSteps(ctx context.Context, tx *sql.Tx, parentPath string) ([]string, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT path FROM nodes
		WHERE path LIKE $1 || '%' AND char_length(path) = $2
		ORDER BY path
		FOR UPDATE
	`, parentPath, len(parentPath)+s.codec.StepLen())
	if err != nil {
		return nil, fmt.Errorf("lock siblings: %w", err)
	}
	paths, err := collectStrings(rows)
	if err != nil {
		return nil, err
	}
	steps := make([]string, len(paths))
	for i, p := range paths {
		steps[i] = s.codec.Step(p)
	}
	return steps, nil
}

func (s *PostgresStore) applyCompaction(ctx context.Context, tx *sql.Tx, parentPath string, oldSteps []string, plan *treepath.Compaction) error {
	if _, err := tx.ExecContext(ctx, `SET CONSTRAINTS nodes_path_key DEFERRED`); err != nil {
		return fmt.Errorf("defer path constraint: %w", err)
	}
	return s.applyCompactionDeferred(ctx, tx, parentPath, oldSteps, plan)
}

func (s *PostgresStore) applyCompactionDeferred(ctx context.Context, tx *sql.Tx, parentPath string, oldSteps []string, plan *treepath.Compaction) error {
	for _, rw := range compactionRewrites(parentPath, oldSteps, plan) {
		if err := rewriteSubtree(ctx, tx, rw.from, rw.to); err != nil {
			return err
		}
	}
	return nil
}

type pathRewrite struct {
	from string
	to   string
}

// compactionRewrites expands a renumbering plan into an ordered rewrite
// sequence that never merges two sibling subtrees mid-flight. A plan may hand
// a sibling a step that a later sibling still occupies, so each changed
// sibling first parks under a prefix built with stagingMarker, a character
// outside the step alphabet, and only then lands on its planned step.
func compactionRewrites(parentPath string, oldSteps []string, plan *treepath.Compaction) []pathRewrite {
	parked := make([]pathRewrite, 0, len(oldSteps))
	landed := make([]pathRewrite, 0, len(oldSteps))
	for i, old := range oldSteps {
		if plan.Steps[i] == old {
			continue
		}
		staging := parentPath + stagingMarker + old
		parked = append(parked, pathRewrite{from: parentPath + old, to: staging})
		landed = append(landed, pathRewrite{from: staging, to: parentPath + plan.Steps[i]})
	}
	return append(parked, landed...)
}

// rewriteSubtree swaps the ancestry prefix of a whole subtree in one
// statement; it is the only place paths are mutated besides inserts.
func rewriteSubtree(ctx context.Context, tx *sql.Tx, oldPrefix, newPrefix string) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE nodes
		SET path = $2 || substr(path, char_length($1) + 1)
		WHERE path LIKE $1 || '%'
	`, oldPrefix, newPrefix)
	if err != nil {
		return fmt.Errorf("rewrite subtree paths: %w", err)
	}
	return nil
}

// ancestorDeletion returns the earliest soft-delete among the strict
// ancestors of path, nil when the whole chain is live.
func (s *PostgresStore) ancestorDeletion(ctx context.Context, tx *sql.Tx, path string) (*time.Time, error) {
	ancestors := s.codec.Ancestors(path)
	if len(ancestors) == 0 {
		return nil, nil
	}
	query := `SELECT MIN(deleted_at) FROM nodes WHERE path IN (` + placeholders(1, len(ancestors)) + `)`
	var min sql.NullTime
	if err := tx.QueryRowContext(ctx, query, stringsToAny(ancestors)...).Scan(&min); err != nil {
		return nil, fmt.Errorf("ancestor deletion: %w", err)
	}
	if !min.Valid {
		return nil, nil
	}
	return &min.Time, nil
}

// recomputeSubtree re-derives ancestors_deleted_at for every node of the
// subtree rooted at rootPath, walking the subtree in path order and
// combining each node's own deletion with the effective deletion inherited
// from above. The cascade is computed up front in one batch, not deferred to
// database triggers.
func (s *PostgresStore) recomputeSubtree(ctx context.Context, tx *sql.Tx, rootPath string, inherited *time.Time) error {
	rows, err := tx.QueryContext(ctx, `
		SELECT id, path, deleted_at, ancestors_deleted_at
		FROM nodes
		WHERE path LIKE $1 || '%'
		ORDER BY path
	`, rootPath)
	if err != nil {
		return fmt.Errorf("load subtree: %w", err)
	}
	type row struct {
		id      string
		path    string
		deleted *time.Time
		current *time.Time
	}
	var items []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.id, &r.path, &r.deleted, &r.current); err != nil {
			rows.Close()
			return fmt.Errorf("scan subtree row: %w", err)
		}
		items = append(items, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate subtree: %w", err)
	}

	type frame struct {
		path string
		eff  *time.Time
	}
	stack := []frame{}
	for _, r := range items {
		for len(stack) > 0 && !strings.HasPrefix(r.path, stack[len(stack)-1].path) {
			stack = stack[:len(stack)-1]
		}
		parentEff := inherited
		if len(stack) > 0 {
			parentEff = stack[len(stack)-1].eff
		}
		eff := earliest(parentEff, r.deleted)
		stack = append(stack, frame{path: r.path, eff: eff})

		if equalTimePtr(eff, r.current) {
			continue
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE nodes SET ancestors_deleted_at=$2 WHERE id=$1
		`, r.id, eff); err != nil {
			return fmt.Errorf("update ancestors_deleted_at: %w", err)
		}
	}
	return nil
}

func earliest(a, b *time.Time) *time.Time {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	if a.Before(*b) {
		return a
	}
	return b
}

func equalTimePtr(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

func insertNode(ctx context.Context, tx *sql.Tx, n Node) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO nodes (id, path, kind, creator_id, title, content, link_reach, ancestors_deleted_at)
		VALUES ($1, $2, $3, NULLIF($4, '')::uuid, $5, $6, $7, $8)
	`, n.ID, n.Path, n.Kind, n.CreatorID, n.Title, n.Content, n.LinkReach, n.AncestorsDeletedAt)
	if err != nil {
		return fmt.Errorf("insert node: %w", err)
	}
	return nil
}

func requireAffected(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func collectStrings(rows *sql.Rows) ([]string, error) {
	defer rows.Close()
	items := make([]string, 0)
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan value: %w", err)
		}
		items = append(items, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate values: %w", err)
	}
	return items, nil
}
