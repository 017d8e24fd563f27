package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"papyrus/api/internal/treepath"
)

var (
	// ErrNotFound is returned for ids that do not exist in the store.
	ErrNotFound = errors.New("not found")
	// ErrConflict covers path collisions, lock timeouts and serialization
	// failures; callers may retry.
	ErrConflict = errors.New("conflict")
	// ErrTooManyDescendants guards subtree mutations against transaction
	// blowup on pathologically large subtrees.
	ErrTooManyDescendants = errors.New("too many descendants")
	// ErrCyclicMove is returned when a subtree would be moved into itself.
	ErrCyclicMove = errors.New("cyclic move")
	// ErrNodeDeleted is returned when an operation targets a soft-deleted
	// node that must be live.
	ErrNodeDeleted = errors.New("node is deleted")
)

type PostgresStore struct {
	db         *sql.DB
	codec      *treepath.Codec
	maxSubtree int
}

func NewPostgresStore(db *sql.DB, codec *treepath.Codec, maxSubtree int) *PostgresStore {
	if maxSubtree <= 0 {
		maxSubtree = 1000
	}
	return &PostgresStore{db: db, codec: codec, maxSubtree: maxSubtree}
}

func (s *PostgresStore) DB() *sql.DB { return s.db }

// Ping verifies the database connection is alive.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// inTx runs fn inside a serializable transaction with a bounded lock wait.
// Contention errors come back as ErrConflict so callers can retry.
func (s *PostgresStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `SET LOCAL lock_timeout = '5s'`); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("set lock timeout: %w", translatePgError(err))
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return translatePgError(err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", translatePgError(err))
	}
	return nil
}

// retryConflict runs fn and retries exactly once when it fails with a
// retryable conflict; the second failure surfaces.
func retryConflict(fn func() error) error {
	if err := fn(); !errors.Is(err, ErrConflict) {
		return err
	}
	return fn()
}

func translatePgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return fmt.Errorf("%w: %s", ErrConflict, pgErr.ConstraintName)
		case "40001", "40P01": // serialization_failure, deadlock_detected
			return fmt.Errorf("%w: %s", ErrConflict, pgErr.Code)
		case "55P03": // lock_not_available
			return fmt.Errorf("%w: lock timeout", ErrConflict)
		}
	}
	return err
}

// prefixes returns the paths of every ancestor-or-self of path, root first.
func (s *PostgresStore) prefixes(path string) []string {
	out := append(s.codec.Ancestors(path), path)
	return out
}

// placeholders renders $from..$from+n-1 for dynamic IN clauses.
func placeholders(from, n int) string {
	parts := make([]string, n)
	for i := 0; i < n; i++ {
		parts[i] = fmt.Sprintf("$%d", from+i)
	}
	return strings.Join(parts, ", ")
}

func stringsToAny(vals []string) []any {
	out := make([]any, len(vals))
	for i, v := range vals {
		out[i] = v
	}
	return out
}
