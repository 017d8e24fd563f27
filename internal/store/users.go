package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const userColumns = `id, email, language, created_at`

func scanUser(row rowScanner) (User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Email, &u.Language, &u.CreatedAt)
	return u, err
}

// EnsureUser upserts the identity asserted by the caller's credentials. The
// email wins on conflict so a renamed account converges.
func (s *PostgresStore) EnsureUser(ctx context.Context, id, email, language string) (User, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO users (id, email, language)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET email = EXCLUDED.email
		RETURNING `+userColumns+`
	`, id, email, language)
	u, err := scanUser(row)
	if err != nil {
		return User{}, fmt.Errorf("ensure user: %w", translatePgError(err))
	}
	return u, nil
}

func (s *PostgresStore) GetUser(ctx context.Context, id string) (User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id=$1`, id)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE lower(email)=lower($1)`, email)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("get user by email: %w", err)
	}
	return u, nil
}

func (s *PostgresStore) CreateTeam(ctx context.Context, t Team) (Team, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO teams (id, name) VALUES ($1, $2)
		RETURNING created_at
	`, t.ID, t.Name).Scan(&t.CreatedAt)
	if err != nil {
		return Team{}, fmt.Errorf("create team: %w", translatePgError(err))
	}
	return t, nil
}

func (s *PostgresStore) AddTeamMember(ctx context.Context, teamID, userID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO team_memberships (team_id, user_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`, teamID, userID)
	if err != nil {
		return fmt.Errorf("add team member: %w", translatePgError(err))
	}
	return nil
}

// EnsureLinkTrace records that the user reached the node through its link.
// Recording again is a no-op.
func (s *PostgresStore) EnsureLinkTrace(ctx context.Context, nodeID, userID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO link_traces (node_id, user_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`, nodeID, userID)
	if err != nil {
		return fmt.Errorf("ensure link trace: %w", err)
	}
	return nil
}

// MarkFavorite reports whether the favorite was newly created.
func (s *PostgresStore) MarkFavorite(ctx context.Context, nodeID, userID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO favorites (node_id, user_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`, nodeID, userID)
	if err != nil {
		return false, fmt.Errorf("mark favorite: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark favorite rows: %w", err)
	}
	return affected > 0, nil
}

// UnmarkFavorite reports whether a favorite existed.
func (s *PostgresStore) UnmarkFavorite(ctx context.Context, nodeID, userID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM favorites WHERE node_id=$1 AND user_id=$2
	`, nodeID, userID)
	if err != nil {
		return false, fmt.Errorf("unmark favorite: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("unmark favorite rows: %w", err)
	}
	return affected > 0, nil
}
