package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const accessColumns = `a.id, a.node_id, a.user_id, a.team_id, a.role, a.created_at, COALESCE(u.email, '')`

func scanAccess(row rowScanner) (Access, error) {
	var a Access
	err := row.Scan(&a.ID, &a.NodeID, &a.UserID, &a.TeamID, &a.Role, &a.CreatedAt, &a.UserEmail)
	return a, err
}

// ListAccesses returns every grant on the node itself, direct and team,
// oldest first.
func (s *PostgresStore) ListAccesses(ctx context.Context, nodeID string) ([]Access, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+accessColumns+`
		FROM accesses a
		LEFT JOIN users u ON u.id = a.user_id
		WHERE a.node_id = $1
		ORDER BY a.created_at ASC, a.id ASC
	`, nodeID)
	if err != nil {
		return nil, fmt.Errorf("list accesses: %w", err)
	}
	defer rows.Close()
	items := make([]Access, 0)
	for rows.Next() {
		a, err := scanAccess(rows)
		if err != nil {
			return nil, fmt.Errorf("scan access: %w", err)
		}
		items = append(items, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate accesses: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetAccess(ctx context.Context, accessID string) (Access, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+accessColumns+`
		FROM accesses a
		LEFT JOIN users u ON u.id = a.user_id
		WHERE a.id = $1
	`, accessID)
	a, err := scanAccess(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Access{}, ErrNotFound
	}
	if err != nil {
		return Access{}, fmt.Errorf("get access: %w", err)
	}
	return a, nil
}

// CreateAccess inserts a grant for exactly one subject. A duplicate grant
// for the same subject on the same node surfaces as ErrConflict through the
// unique constraints.
func (s *PostgresStore) CreateAccess(ctx context.Context, a Access) (Access, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accesses (id, node_id, user_id, team_id, role)
		VALUES ($1, $2, $3, $4, $5)
	`, a.ID, a.NodeID, a.UserID, a.TeamID, a.Role)
	if err != nil {
		return Access{}, fmt.Errorf("create access: %w", translatePgError(err))
	}
	return s.GetAccess(ctx, a.ID)
}

func (s *PostgresStore) UpdateAccessRole(ctx context.Context, accessID, role string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE accesses SET role=$2 WHERE id=$1
	`, accessID, role)
	if err != nil {
		return fmt.Errorf("update access role: %w", err)
	}
	return requireAffected(result)
}

func (s *PostgresStore) DeleteAccess(ctx context.Context, accessID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM accesses WHERE id=$1`, accessID)
	if err != nil {
		return fmt.Errorf("delete access: %w", err)
	}
	return requireAffected(result)
}

// CountOwnerAccesses counts owner grants held directly on the node.
func (s *PostgresStore) CountOwnerAccesses(ctx context.Context, nodeID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM accesses WHERE node_id=$1 AND role='owner'
	`, nodeID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count owner accesses: %w", err)
	}
	return count, nil
}

func insertOwnerAccess(ctx context.Context, tx *sql.Tx, nodeID, ownerID string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO accesses (id, node_id, user_id, role)
		VALUES (gen_random_uuid(), $1, $2, 'owner')
	`, nodeID, ownerID)
	if err != nil {
		return fmt.Errorf("insert owner access: %w", err)
	}
	return nil
}
