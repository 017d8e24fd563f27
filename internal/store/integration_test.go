package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"papyrus/api/internal/treepath"
)

// openIntegrationStore connects to the database named by
// PAPYRUS_TEST_DATABASE_URL, resets the public schema and applies the
// migrations. Tests are skipped when the variable is unset.
func openIntegrationStore(t *testing.T, codec *treepath.Codec) (*PostgresStore, context.Context) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	dsn := strings.TrimSpace(os.Getenv("PAPYRUS_TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("PAPYRUS_TEST_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	t.Cleanup(cancel)

	db, err := Open(ctx, dsn)
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if _, err := db.ExecContext(ctx, `DROP SCHEMA IF EXISTS public CASCADE; CREATE SCHEMA public;`); err != nil {
		t.Fatalf("reset schema: %v", err)
	}
	if err := ApplyMigrations(ctx, db, filepath.Join("..", "..", "db", "migrations")); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	return NewPostgresStore(db, codec, 1000), ctx
}

func integrationID(n int) string {
	return fmt.Sprintf("00000000-0000-0000-0000-%012d", n)
}

func createIntegrationOwner(t *testing.T, ctx context.Context, s *PostgresStore) User {
	t.Helper()
	owner, err := s.EnsureUser(ctx, integrationID(900), "owner@example.com", "en")
	if err != nil {
		t.Fatalf("ensure user: %v", err)
	}
	return owner
}

func createIntegrationRoot(t *testing.T, ctx context.Context, s *PostgresStore, n, ownerID string) Node {
	t.Helper()
	node, err := s.CreateRoot(ctx, Node{ID: n, Kind: KindDocument, Title: n, LinkReach: "restricted"}, ownerID)
	if err != nil {
		t.Fatalf("create root: %v", err)
	}
	return node
}

func createIntegrationChild(t *testing.T, ctx context.Context, s *PostgresStore, parentID, n, ownerID string) Node {
	t.Helper()
	node, err := s.CreateChild(ctx, parentID, Node{ID: n, Kind: KindDocument, Title: n, LinkReach: "restricted"}, ownerID)
	if err != nil {
		t.Fatalf("create child: %v", err)
	}
	return node
}

func TestMoveRewritesSubtreePathsPostgres(t *testing.T) {
	codec := treepath.Default()
	s, ctx := openIntegrationStore(t, codec)
	owner := createIntegrationOwner(t, ctx, s)

	a := createIntegrationRoot(t, ctx, s, integrationID(1), owner.ID)
	b := createIntegrationChild(t, ctx, s, a.ID, integrationID(2), owner.ID)
	c := createIntegrationChild(t, ctx, s, b.ID, integrationID(3), owner.ID)
	d := createIntegrationRoot(t, ctx, s, integrationID(4), owner.ID)

	if err := s.MoveNode(ctx, b.ID, d.ID, treepath.FirstChild); err != nil {
		t.Fatalf("move node: %v", err)
	}

	moved, err := s.GetNode(ctx, b.ID)
	if err != nil {
		t.Fatalf("reload moved node: %v", err)
	}
	if parent, _ := codec.Parent(moved.Path); parent != d.Path {
		t.Fatalf("moved node parent = %q, want %q", parent, d.Path)
	}
	grandchild, err := s.GetNode(ctx, c.ID)
	if err != nil {
		t.Fatalf("reload grandchild: %v", err)
	}
	if want := moved.Path + codec.Step(c.Path); grandchild.Path != want {
		t.Fatalf("grandchild path = %q, want %q", grandchild.Path, want)
	}

	under, err := s.DescendantsOf(ctx, d.Path, true)
	if err != nil {
		t.Fatalf("descendants of destination: %v", err)
	}
	if len(under) != 2 {
		t.Fatalf("destination holds %d descendants, want 2", len(under))
	}
	left, err := s.DescendantsOf(ctx, a.Path, true)
	if err != nil {
		t.Fatalf("descendants of origin: %v", err)
	}
	if len(left) != 0 {
		t.Fatalf("origin still holds %d descendants", len(left))
	}
}

func TestSoftDeleteCascadeKeepsEarliestPostgres(t *testing.T) {
	s, ctx := openIntegrationStore(t, treepath.Default())
	owner := createIntegrationOwner(t, ctx, s)

	a := createIntegrationRoot(t, ctx, s, integrationID(1), owner.ID)
	b := createIntegrationChild(t, ctx, s, a.ID, integrationID(2), owner.ID)
	c := createIntegrationChild(t, ctx, s, b.ID, integrationID(3), owner.ID)

	t1 := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Hour)

	if err := s.SoftDeleteNode(ctx, b.ID, t1); err != nil {
		t.Fatalf("soft delete child: %v", err)
	}
	got, err := s.GetNode(ctx, c.ID)
	if err != nil {
		t.Fatalf("reload grandchild: %v", err)
	}
	if got.AncestorsDeletedAt == nil || !got.AncestorsDeletedAt.Equal(t1) {
		t.Fatalf("grandchild ancestors_deleted_at = %v, want %v", got.AncestorsDeletedAt, t1)
	}

	// A later deletion above must not overwrite the earlier marker below.
	if err := s.SoftDeleteNode(ctx, a.ID, t2); err != nil {
		t.Fatalf("soft delete root: %v", err)
	}
	got, err = s.GetNode(ctx, c.ID)
	if err != nil {
		t.Fatalf("reload grandchild: %v", err)
	}
	if got.AncestorsDeletedAt == nil || !got.AncestorsDeletedAt.Equal(t1) {
		t.Fatalf("grandchild ancestors_deleted_at = %v, want %v", got.AncestorsDeletedAt, t1)
	}

	// Restoring the root re-derives the markers; the subtree under the still
	// deleted child stays hidden.
	if err := s.RestoreNode(ctx, a.ID); err != nil {
		t.Fatalf("restore root: %v", err)
	}
	root, err := s.GetNode(ctx, a.ID)
	if err != nil {
		t.Fatalf("reload root: %v", err)
	}
	if root.DeletedAt != nil || root.AncestorsDeletedAt != nil {
		t.Fatalf("restored root still marked: deleted_at=%v ancestors_deleted_at=%v", root.DeletedAt, root.AncestorsDeletedAt)
	}
	child, err := s.GetNode(ctx, b.ID)
	if err != nil {
		t.Fatalf("reload child: %v", err)
	}
	if child.DeletedAt == nil || !child.DeletedAt.Equal(t1) {
		t.Fatalf("child deleted_at = %v, want %v", child.DeletedAt, t1)
	}
	got, err = s.GetNode(ctx, c.ID)
	if err != nil {
		t.Fatalf("reload grandchild: %v", err)
	}
	if got.AncestorsDeletedAt == nil || !got.AncestorsDeletedAt.Equal(t1) {
		t.Fatalf("grandchild ancestors_deleted_at = %v, want %v", got.AncestorsDeletedAt, t1)
	}
}

func TestPurgeExpiredRemovesWholeSubtreesPostgres(t *testing.T) {
	s, ctx := openIntegrationStore(t, treepath.Default())
	owner := createIntegrationOwner(t, ctx, s)

	a := createIntegrationRoot(t, ctx, s, integrationID(1), owner.ID)
	createIntegrationChild(t, ctx, s, a.ID, integrationID(2), owner.ID)
	d := createIntegrationRoot(t, ctx, s, integrationID(3), owner.ID)

	old := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	recent := time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC)
	if err := s.SoftDeleteNode(ctx, a.ID, old); err != nil {
		t.Fatalf("soft delete old root: %v", err)
	}
	if err := s.SoftDeleteNode(ctx, d.ID, recent); err != nil {
		t.Fatalf("soft delete recent root: %v", err)
	}

	purged, err := s.PurgeExpired(ctx, old.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("purge expired: %v", err)
	}
	if purged != 2 {
		t.Fatalf("purged %d rows, want 2", purged)
	}
	if _, err := s.GetNode(ctx, a.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expired root survived purge: %v", err)
	}
	if _, err := s.GetNode(ctx, integrationID(2)); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expired descendant survived purge: %v", err)
	}
	if _, err := s.GetNode(ctx, d.ID); err != nil {
		t.Fatalf("recent deletion must survive purge: %v", err)
	}
}

// Moving into a gap with no free key renumbers the sibling range. The plan
// can assign a sibling a step another sibling still occupies, so the rewrite
// has to stage paths out of the way before landing them; applied naively the
// deferred uniqueness check aborts the commit.
func TestMoveRenumbersAdjacentSiblingsPostgres(t *testing.T) {
	s, ctx := openIntegrationStore(t, treepath.New(1, 5))

	fixtures := []struct {
		id   string
		path string
	}{
		{integrationID(6), "6"},
		{integrationID(66), "66"},
		{integrationID(7), "7"},
		{integrationID(21), "L"},
		{integrationID(35), "Z"},
	}
	for _, f := range fixtures {
		if _, err := s.db.ExecContext(ctx, `INSERT INTO nodes (id, path) VALUES ($1, $2)`, f.id, f.path); err != nil {
			t.Fatalf("insert fixture %q: %v", f.path, err)
		}
	}

	if err := s.MoveNode(ctx, integrationID(35), integrationID(6), treepath.RightOf); err != nil {
		t.Fatalf("move into exhausted gap: %v", err)
	}

	want := map[string]string{
		integrationID(6):  "7",
		integrationID(66): "76",
		integrationID(7):  "L",
		integrationID(21): "S",
		integrationID(35): "E",
	}
	for id, path := range want {
		node, err := s.GetNode(ctx, id)
		if err != nil {
			t.Fatalf("reload %s: %v", id, err)
		}
		if node.Path != path {
			t.Fatalf("node %s path = %q, want %q", id, node.Path, path)
		}
	}

	var distinct int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(DISTINCT path) FROM nodes`).Scan(&distinct); err != nil {
		t.Fatalf("count paths: %v", err)
	}
	if distinct != len(fixtures) {
		t.Fatalf("%d distinct paths after renumbering, want %d", distinct, len(fixtures))
	}
}
