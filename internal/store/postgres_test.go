package store

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"papyrus/api/internal/treepath"
)

func testStore(t *testing.T) *PostgresStore {
	t.Helper()
	return NewPostgresStore(nil, treepath.Default(), 1000)
}

func TestPrefixes(t *testing.T) {
	s := testStore(t)
	got := s.prefixes("000000100000020000003")
	want := []string{"0000001", "00000010000002", "000000100000020000003"}
	if len(got) != len(want) {
		t.Fatalf("prefixes %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("prefixes[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestPlaceholders(t *testing.T) {
	if got := placeholders(1, 3); got != "$1, $2, $3" {
		t.Fatalf("placeholders = %q", got)
	}
	if got := placeholders(4, 1); got != "$4" {
		t.Fatalf("placeholders = %q", got)
	}
}

func TestTranslatePgError(t *testing.T) {
	cases := []struct {
		code     string
		conflict bool
	}{
		{"23505", true},
		{"40001", true},
		{"40P01", true},
		{"55P03", true},
		{"23503", false},
	}
	for _, tc := range cases {
		err := translatePgError(&pgconn.PgError{Code: tc.code})
		if got := errors.Is(err, ErrConflict); got != tc.conflict {
			t.Errorf("code %s: conflict=%v, want %v", tc.code, got, tc.conflict)
		}
	}
	plain := errors.New("boom")
	if translatePgError(plain) != plain {
		t.Error("non-pg errors must pass through unchanged")
	}
}

func TestRetryConflictRetriesOnce(t *testing.T) {
	calls := 0
	err := retryConflict(func() error {
		calls++
		if calls == 1 {
			return ErrConflict
		}
		return nil
	})
	if err != nil || calls != 2 {
		t.Fatalf("retry once: calls=%d err=%v", calls, err)
	}

	calls = 0
	err = retryConflict(func() error {
		calls++
		return ErrConflict
	})
	if !errors.Is(err, ErrConflict) || calls != 2 {
		t.Fatalf("second failure surfaces: calls=%d err=%v", calls, err)
	}

	calls = 0
	sentinel := errors.New("other")
	err = retryConflict(func() error {
		calls++
		return sentinel
	})
	if err != sentinel || calls != 1 {
		t.Fatalf("non-conflict must not retry: calls=%d err=%v", calls, err)
	}
}

// A renumbering plan may hand one sibling a step another sibling still
// occupies. Replays the rewrite sequence over an in-memory forest and fails
// if any single rewrite touches two distinct sibling subtrees or lands on an
// occupied path.
func TestCompactionRewritesNeverMergeSiblings(t *testing.T) {
	codec := treepath.New(1, 5)
	siblings := []string{"6", "7", "L"}
	step, plan, err := codec.StepAt(siblings, 1)
	if err != nil {
		t.Fatalf("step at: %v", err)
	}
	if plan == nil {
		t.Fatal("expected a renumbering plan for an exhausted gap")
	}
	if plan.Steps[0] != siblings[1] {
		t.Fatalf("fixture lost its overlap: plan %v over %v", plan.Steps, siblings)
	}

	// path -> the sibling subtree it belongs to
	owners := map[string]string{
		"6":  "a",
		"66": "a",
		"7":  "b",
		"L":  "c",
	}
	for _, rw := range compactionRewrites("", siblings, plan) {
		moved := map[string]string{}
		var owner string
		for p, o := range owners {
			if !strings.HasPrefix(p, rw.from) {
				continue
			}
			if owner != "" && owner != o {
				t.Fatalf("rewrite %q -> %q captures subtrees %q and %q", rw.from, rw.to, owner, o)
			}
			owner = o
			moved[rw.to+p[len(rw.from):]] = o
			delete(owners, p)
		}
		for p, o := range moved {
			if _, taken := owners[p]; taken {
				t.Fatalf("rewrite %q -> %q lands on occupied path %q", rw.from, rw.to, p)
			}
			owners[p] = o
		}
	}

	want := map[string]string{
		"7":  "a",
		"76": "a",
		"L":  "b",
		"S":  "c",
	}
	if len(owners) != len(want) {
		t.Fatalf("final forest %v, want %v", owners, want)
	}
	for p, o := range want {
		if owners[p] != o {
			t.Fatalf("final forest %v, want %v", owners, want)
		}
	}
	if _, taken := owners[step]; taken {
		t.Fatalf("inserted step %q still occupied after renumbering", step)
	}
}

func TestCompactionRewritesSkipUnchangedSteps(t *testing.T) {
	plan := &treepath.Compaction{Steps: []string{"4", "C", "S"}}
	got := compactionRewrites("0000001", []string{"4", "8", "S"}, plan)
	if len(got) != 2 {
		t.Fatalf("rewrites = %v, want one parked and one landing rewrite", got)
	}
	if got[0].from != "00000018" || !strings.Contains(got[0].to, stagingMarker) {
		t.Fatalf("parking rewrite = %+v", got[0])
	}
	if got[1].from != got[0].to || got[1].to != "0000001C" {
		t.Fatalf("landing rewrite = %+v", got[1])
	}
}

func TestEarliest(t *testing.T) {
	a := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	b := a.Add(time.Hour)

	if got := earliest(nil, nil); got != nil {
		t.Fatalf("earliest(nil, nil) = %v", got)
	}
	if got := earliest(&a, nil); got == nil || !got.Equal(a) {
		t.Fatalf("earliest(a, nil) = %v", got)
	}
	if got := earliest(&a, &b); !got.Equal(a) {
		t.Fatalf("earliest(a, b) = %v", got)
	}
	if got := earliest(&b, &a); !got.Equal(a) {
		t.Fatalf("earliest(b, a) = %v", got)
	}
}

func TestEqualTimePtr(t *testing.T) {
	a := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	sameInstant := a.In(time.FixedZone("X", 3600))

	if !equalTimePtr(nil, nil) {
		t.Fatal("nil == nil")
	}
	if equalTimePtr(&a, nil) || equalTimePtr(nil, &a) {
		t.Fatal("nil != non-nil")
	}
	if !equalTimePtr(&a, &sameInstant) {
		t.Fatal("same instant in different zones must compare equal")
	}
}
