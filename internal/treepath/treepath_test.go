package treepath

import (
	"errors"
	"reflect"
	"sort"
	"strings"
	"testing"
)

func TestDepthAndParent(t *testing.T) {
	c := New(4, 5)

	if got := c.Depth("0000"); got != 1 {
		t.Fatalf("Depth(root) = %d, want 1", got)
	}
	if got := c.Depth("00000001"); got != 2 {
		t.Fatalf("Depth(child) = %d, want 2", got)
	}
	if _, ok := c.Parent("0000"); ok {
		t.Fatal("root path should have no parent")
	}
	parent, ok := c.Parent("00000001")
	if !ok || parent != "0000" {
		t.Fatalf("Parent = %q, %v", parent, ok)
	}
}

func TestValidate(t *testing.T) {
	c := New(4, 2)

	cases := []struct {
		name string
		path string
		err  error
	}{
		{name: "root", path: "0001", err: nil},
		{name: "child", path: "00010001", err: nil},
		{name: "empty", path: "", err: ErrInvalidPath},
		{name: "unaligned", path: "001", err: ErrInvalidPath},
		{name: "bad rune", path: "00a1", err: ErrInvalidPath},
		{name: "too deep", path: "000100010001", err: ErrDepthExceeded},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := c.Validate(tc.path)
			if tc.err == nil && err != nil {
				t.Fatalf("Validate(%q) = %v, want nil", tc.path, err)
			}
			if tc.err != nil && !errors.Is(err, tc.err) {
				t.Fatalf("Validate(%q) = %v, want %v", tc.path, err, tc.err)
			}
		})
	}
}

func TestStepAtMidpoints(t *testing.T) {
	c := New(2, 5)

	// Empty sibling list: pick the middle of the whole space.
	step, plan, err := c.StepAt(nil, 0)
	if err != nil || plan != nil {
		t.Fatalf("StepAt(nil, 0) = %v, %v", plan, err)
	}
	if step == "" {
		t.Fatal("expected a step")
	}

	// Appending after the last sibling stays sorted.
	after, plan, err := c.StepAt([]string{step}, 1)
	if err != nil || plan != nil {
		t.Fatalf("append = %v, %v", plan, err)
	}
	if after <= step {
		t.Fatalf("appended step %q does not sort after %q", after, step)
	}

	// Prepending before the first sibling stays sorted.
	before, plan, err := c.StepAt([]string{step}, 0)
	if err != nil || plan != nil {
		t.Fatalf("prepend = %v, %v", plan, err)
	}
	if before >= step {
		t.Fatalf("prepended step %q does not sort before %q", before, step)
	}

	// Insertion between two adjacent allocations lands strictly between.
	mid, plan, err := c.StepAt([]string{before, after}, 1)
	if err != nil || plan != nil {
		t.Fatalf("between = %v, %v", plan, err)
	}
	if mid <= before || mid >= after {
		t.Fatalf("step %q not between %q and %q", mid, before, after)
	}
}

func TestStepAtOrderInvariant(t *testing.T) {
	c := New(3, 5)

	// Repeatedly insert at the front; every allocation must keep the slice
	// sorted without touching existing steps, until compaction kicks in.
	var steps []string
	for i := 0; i < 40; i++ {
		step, plan, err := c.StepAt(steps, 0)
		if err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
		if plan != nil {
			steps = append([]string{plan.Inserted}, plan.Steps...)
		} else {
			steps = append([]string{step}, steps...)
		}
		if !sort.StringsAreSorted(steps) {
			t.Fatalf("insert %d: steps out of order: %v", i, steps)
		}
	}
}

func TestCompaction(t *testing.T) {
	c := New(1, 5)

	// With one-character steps there are 36 slots; exhaust the gap between
	// two adjacent steps to force a renumbering.
	a := c.encode(10)
	b := c.encode(11)
	step, plan, err := c.StepAt([]string{a, b}, 1)
	if err != nil {
		t.Fatalf("StepAt: %v", err)
	}
	if plan == nil {
		t.Fatal("expected a compaction plan")
	}
	if plan.Inserted != step {
		t.Fatalf("inserted step mismatch: %q vs %q", plan.Inserted, step)
	}
	if len(plan.Steps) != 2 {
		t.Fatalf("plan covers %d siblings, want 2", len(plan.Steps))
	}
	merged := []string{plan.Steps[0], plan.Inserted, plan.Steps[1]}
	if !sort.StringsAreSorted(merged) {
		t.Fatalf("renumbered range out of order: %v", merged)
	}
}

func TestSiblingSpaceExhausted(t *testing.T) {
	c := New(1, 5)

	siblings := make([]string, 35)
	for i := range siblings {
		siblings[i] = c.encode(int64(i))
	}
	if _, _, err := c.StepAt(siblings, 0); !errors.Is(err, ErrSiblingSpaceExhausted) {
		t.Fatalf("err = %v, want ErrSiblingSpaceExhausted", err)
	}
}

func TestAncestryIsPrefixRelation(t *testing.T) {
	c := New(4, 5)

	root, _, err := c.StepAt(nil, 0)
	if err != nil {
		t.Fatal(err)
	}
	childStep, _, err := c.StepAt(nil, 0)
	if err != nil {
		t.Fatal(err)
	}
	child, err := c.ChildPath(root, childStep)
	if err != nil {
		t.Fatal(err)
	}
	grandchild, err := c.ChildPath(child, childStep)
	if err != nil {
		t.Fatal(err)
	}

	if !c.IsAncestor(root, child) || !c.IsAncestor(root, grandchild) || !c.IsAncestor(child, grandchild) {
		t.Fatal("ancestry chain broken")
	}
	if c.IsAncestor(child, root) || c.IsAncestor(child, child) {
		t.Fatal("IsAncestor must be strict")
	}
	if got := c.Ancestors(grandchild); !reflect.DeepEqual(got, []string{root, child}) {
		t.Fatalf("Ancestors = %v", got)
	}
}

func TestRebase(t *testing.T) {
	c := New(4, 3)

	rebased, err := c.Rebase("AAAABBBBCCCC", "AAAA", "ZZZZ")
	if err != nil {
		t.Fatal(err)
	}
	if rebased != "ZZZZBBBBCCCC" {
		t.Fatalf("Rebase = %q", rebased)
	}

	// Rebasing the subtree root itself yields the new prefix.
	if got, err := c.Rebase("AAAA", "AAAA", "ZZZZ0000"); err != nil || got != "ZZZZ0000" {
		t.Fatalf("Rebase(root) = %q, %v", got, err)
	}

	// Depth overflow after rebase is rejected.
	if _, err := c.Rebase("AAAABBBB", "AAAA", "ZZZZYYYYXXXX"); !errors.Is(err, ErrDepthExceeded) {
		t.Fatalf("err = %v, want ErrDepthExceeded", err)
	}

	if _, err := c.Rebase("BBBB0000", "AAAA", "ZZZZ"); !errors.Is(err, ErrInvalidPath) {
		t.Fatalf("err = %v, want ErrInvalidPath", err)
	}
}

func TestHighestAncestors(t *testing.T) {
	cases := []struct {
		name string
		in   []string
		want []string
	}{
		{name: "empty", in: nil, want: []string{}},
		{name: "single", in: []string{"AAAA"}, want: []string{"AAAA"}},
		{
			name: "descendants removed",
			in:   []string{"AAAA0001", "AAAA", "BBBB", "AAAA00010002"},
			want: []string{"AAAA", "BBBB"},
		},
		{
			name: "unrelated kept",
			in:   []string{"CCCC", "AAAA", "BBBB"},
			want: []string{"AAAA", "BBBB", "CCCC"},
		},
		{
			name: "duplicate collapsed",
			in:   []string{"AAAA", "AAAA"},
			want: []string{"AAAA"},
		},
		{
			name: "chain keeps the single top",
			in:   []string{"AAAA", "AAAA0001", "AAAA00010001", "AAAA0002"},
			want: []string{"AAAA"},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := HighestAncestors(tc.in)
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("HighestAncestors(%v) = %v, want %v", tc.in, got, tc.want)
			}
		})
	}
}

// Every element of the input must have exactly one ancestor-or-self in the
// reduction, and no kept element may be an ancestor of another.
func TestHighestAncestorsCover(t *testing.T) {
	in := []string{
		"AAAA", "AAAA0001", "AAAA00010001", "BBBB0001", "BBBB",
		"CCCC0009", "CCCC00090001", "DDDD",
	}
	kept := HighestAncestors(in)

	for i, a := range kept {
		for j, b := range kept {
			if i != j && strings.HasPrefix(b, a) {
				t.Fatalf("kept elements %q and %q overlap", a, b)
			}
		}
	}
	for _, p := range in {
		covers := 0
		for _, k := range kept {
			if p == k || strings.HasPrefix(p, k) {
				covers++
			}
		}
		if covers != 1 {
			t.Fatalf("path %q covered by %d kept elements, want 1", p, covers)
		}
	}
}
