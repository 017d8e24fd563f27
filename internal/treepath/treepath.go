// Package treepath implements the materialized-path keys that encode a node's
// position in the document tree. A path is a concatenation of fixed-width
// base-36 steps, one step per tree level, so ancestry is a string-prefix
// relation and sibling order is plain lexicographic order.
package treepath

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

const alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"

var (
	ErrDepthExceeded         = errors.New("maximum tree depth exceeded")
	ErrSiblingSpaceExhausted = errors.New("sibling key space exhausted")
	ErrInvalidPath           = errors.New("invalid path")
)

// Position selects where a new or moved node lands relative to a reference.
type Position string

const (
	FirstChild Position = "first-child"
	LastChild  Position = "last-child"
	LeftOf     Position = "left-of"
	RightOf    Position = "right-of"
)

// IsChildPosition reports whether the position makes the node a child of the
// reference (as opposed to a sibling).
func (p Position) IsChildPosition() bool {
	return p == FirstChild || p == LastChild
}

// Valid reports whether p is one of the four known positions.
func (p Position) Valid() bool {
	switch p {
	case FirstChild, LastChild, LeftOf, RightOf:
		return true
	}
	return false
}

// Codec allocates and inspects path keys. The zero value is not usable; use
// New or Default.
type Codec struct {
	stepLen  int
	maxDepth int
	capacity int64 // number of distinct steps, 36^stepLen
}

// New builds a codec with the given step width and depth bound.
func New(stepLen, maxDepth int) *Codec {
	if stepLen < 1 || stepLen > 12 {
		panic(fmt.Sprintf("treepath: step length %d out of range", stepLen))
	}
	capacity := int64(1)
	for i := 0; i < stepLen; i++ {
		capacity *= int64(len(alphabet))
	}
	return &Codec{stepLen: stepLen, maxDepth: maxDepth, capacity: capacity}
}

// Default returns the codec used in production: 7-character steps, 5 levels.
func Default() *Codec { return New(7, 5) }

// StepLen returns the width of one path step.
func (c *Codec) StepLen() int { return c.stepLen }

// MaxDepth returns the deepest level a path may reach.
func (c *Codec) MaxDepth() int { return c.maxDepth }

// Depth returns the number of steps in path. The empty path has depth zero
// and denotes the forest root.
func (c *Codec) Depth(path string) int { return len(path) / c.stepLen }

// Validate checks that path is step-aligned, within depth bounds and uses
// only the path alphabet.
func (c *Codec) Validate(path string) error {
	if len(path) == 0 || len(path)%c.stepLen != 0 {
		return fmt.Errorf("%w: %q is not step-aligned", ErrInvalidPath, path)
	}
	if c.Depth(path) > c.maxDepth {
		return fmt.Errorf("%w: %q", ErrDepthExceeded, path)
	}
	for _, r := range path {
		if !strings.ContainsRune(alphabet, r) {
			return fmt.Errorf("%w: %q contains %q", ErrInvalidPath, path, r)
		}
	}
	return nil
}

// Parent returns the path of the node's parent and false for root paths.
func (c *Codec) Parent(path string) (string, bool) {
	if len(path) <= c.stepLen {
		return "", false
	}
	return path[:len(path)-c.stepLen], true
}

// Step returns the last step of path.
func (c *Codec) Step(path string) string {
	return path[len(path)-c.stepLen:]
}

// IsAncestor reports whether a is a strict ancestor of b.
func (c *Codec) IsAncestor(a, b string) bool {
	return len(a) < len(b) && strings.HasPrefix(b, a)
}

// Ancestors returns the paths of all strict ancestors of path, root first.
func (c *Codec) Ancestors(path string) []string {
	depth := c.Depth(path)
	if depth <= 1 {
		return nil
	}
	out := make([]string, 0, depth-1)
	for i := 1; i < depth; i++ {
		out = append(out, path[:i*c.stepLen])
	}
	return out
}

// Rebase replaces the oldPrefix ancestry of path with newPrefix, preserving
// the remainder. It is the primitive behind subtree moves.
func (c *Codec) Rebase(path, oldPrefix, newPrefix string) (string, error) {
	if path != oldPrefix && !strings.HasPrefix(path, oldPrefix) {
		return "", fmt.Errorf("%w: %q is not under %q", ErrInvalidPath, path, oldPrefix)
	}
	rebased := newPrefix + path[len(oldPrefix):]
	if c.Depth(rebased) > c.maxDepth {
		return "", fmt.Errorf("%w: %q", ErrDepthExceeded, rebased)
	}
	return rebased, nil
}

// HighestAncestors reduces a set of paths to those that have no other element
// of the set as a strict prefix. The input is not modified; the result is
// sorted lexicographically.
func HighestAncestors(paths []string) []string {
	sorted := make([]string, len(paths))
	copy(sorted, paths)
	sort.Strings(sorted)

	out := make([]string, 0, len(sorted))
	var lastKept string
	for i, p := range sorted {
		if i > 0 && p == sorted[i-1] {
			continue
		}
		if lastKept != "" && strings.HasPrefix(p, lastKept) {
			continue
		}
		out = append(out, p)
		lastKept = p
	}
	return out
}

func (c *Codec) encode(n int64) string {
	buf := make([]byte, c.stepLen)
	for i := c.stepLen - 1; i >= 0; i-- {
		buf[i] = alphabet[n%int64(len(alphabet))]
		n /= int64(len(alphabet))
	}
	return string(buf)
}

func (c *Codec) decode(step string) (int64, error) {
	if len(step) != c.stepLen {
		return 0, fmt.Errorf("%w: step %q", ErrInvalidPath, step)
	}
	var n int64
	for i := 0; i < len(step); i++ {
		idx := strings.IndexByte(alphabet, step[i])
		if idx < 0 {
			return 0, fmt.Errorf("%w: step %q", ErrInvalidPath, step)
		}
		n = n*int64(len(alphabet)) + int64(idx)
	}
	return n, nil
}

// Compaction is a renumbering of an entire sibling range, produced when a
// requested insertion point has no free key between its neighbors. Steps
// holds the new step for each pre-existing sibling, in the original order;
// Inserted is the step allocated for the new node.
type Compaction struct {
	Steps    []string
	Inserted string
}

// StepAt allocates a step for a node inserted at index among the ordered
// existing sibling steps (index may equal len(siblings) to append). When the
// neighboring gap is empty it returns a Compaction spreading all siblings
// evenly across the key space; ErrSiblingSpaceExhausted is returned only if
// even renumbering cannot fit every sibling.
func (c *Codec) StepAt(siblings []string, index int) (string, *Compaction, error) {
	if index < 0 || index > len(siblings) {
		return "", nil, fmt.Errorf("%w: insertion index %d among %d siblings", ErrInvalidPath, index, len(siblings))
	}

	lo := int64(-1)
	hi := c.capacity
	if index > 0 {
		n, err := c.decode(siblings[index-1])
		if err != nil {
			return "", nil, err
		}
		lo = n
	}
	if index < len(siblings) {
		n, err := c.decode(siblings[index])
		if err != nil {
			return "", nil, err
		}
		hi = n
	}

	if hi-lo > 1 {
		return c.encode(lo + (hi-lo)/2), nil, nil
	}
	return c.compact(siblings, index)
}

func (c *Codec) compact(siblings []string, index int) (string, *Compaction, error) {
	total := int64(len(siblings)) + 1
	if total >= c.capacity {
		return "", nil, ErrSiblingSpaceExhausted
	}
	stride := c.capacity / (total + 1)

	plan := &Compaction{Steps: make([]string, len(siblings))}
	slot := int64(1)
	for i := 0; i <= len(siblings); i++ {
		step := c.encode(slot * stride)
		if i == index {
			plan.Inserted = step
		} else {
			j := i
			if i > index {
				j = i - 1
			}
			plan.Steps[j] = step
		}
		slot++
	}
	return plan.Inserted, plan, nil
}

// ChildPath joins a parent path (empty for the forest root) with a step,
// enforcing the depth bound.
func (c *Codec) ChildPath(parent, step string) (string, error) {
	if parent != "" {
		if err := c.Validate(parent); err != nil {
			return "", err
		}
	}
	path := parent + step
	if c.Depth(path) > c.maxDepth {
		return "", fmt.Errorf("%w: %q", ErrDepthExceeded, path)
	}
	return path, nil
}
