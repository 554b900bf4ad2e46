package bptree

import "fmt"

func violation(format string, args ...any) error {
	return &PreconditionViolation{Reason: fmt.Sprintf(format, args...)}
}

// Validate walks the whole tree checking every invariant from spec
// section 8: strict ascending order, fill bounds, uniform leaf depth,
// and — when rank-augmented — that every stored subtree count matches
// the actual descendant count. It is expensive (O(N)) and meant for
// tests, fuzzing, and Config.DebugValidate, not the hot path.
func (t *Tree[K]) Validate() error {
	if t.root == nilHandle {
		if t.size != 0 {
			return violation("empty tree (nilHandle root) has nonzero size %d", t.size)
		}
		return nil
	}
	leafDepth := -1
	count, err := t.validateNode(t.wrap(t.root), nil, nil, true, 0, &leafDepth)
	if err != nil {
		return err
	}
	if count != t.size {
		return violation("size mismatch: tree reports %d, walk counted %d", t.size, count)
	}
	return nil
}

func (t *Tree[K]) validateNode(n node[K], lower, upper *K, isRoot bool, depth int, leafDepth *int) (int, error) {
	if depth > pathMaxDepth {
		return 0, violation("depth %d exceeds max depth %d", depth, pathMaxDepth)
	}
	num := n.numItems()
	if !isRoot && num < n.minItems() {
		return 0, violation("node below min fill: %d items, min %d", num, n.minItems())
	}
	if num > n.maxItems() {
		return 0, violation("node above max fill: %d items, max %d", num, n.maxItems())
	}
	for i := 1; i < num; i++ {
		if t.cmp(n.key(i-1), n.key(i)) >= 0 {
			return 0, violation("keys out of ascending order at index %d", i)
		}
	}
	if lower != nil && num > 0 && t.cmp(*lower, n.key(0)) >= 0 {
		return 0, violation("first key does not respect parent lower separator")
	}
	if upper != nil && num > 0 && t.cmp(n.key(num-1), *upper) >= 0 {
		return 0, violation("last key does not respect parent upper separator")
	}

	if n.isLeaf() {
		if *leafDepth == -1 {
			*leafDepth = depth
		} else if *leafDepth != depth {
			return 0, violation("uneven leaf depth: expected %d, got %d", *leafDepth, depth)
		}
		return num, nil
	}

	total := num
	for i := 0; i <= num; i++ {
		var lo, hi *K
		if i > 0 {
			k := n.key(i - 1)
			lo = &k
		}
		if i < num {
			k := n.key(i)
			hi = &k
		}
		child := t.wrap(n.child(i))
		childCount, err := t.validateNode(child, lo, hi, false, depth+1, leafDepth)
		if err != nil {
			return 0, err
		}
		total += childCount
		if t.augmented && n.subtreeCount(i) != childCount {
			return 0, violation("subtree count mismatch at child %d: stored %d, actual %d", i, n.subtreeCount(i), childCount)
		}
	}
	return total, nil
}

// NodeSnapshot is the diagnostic shape logged via slog immediately
// before a PreconditionViolation panic, and returned by DebugSnapshot
// for a collaborator's own crash reporting.
type NodeSnapshot struct {
	Leaf          bool            `json:"leaf"`
	NumItems      int             `json:"num_items"`
	Keys          []string        `json:"keys"`
	Children      []*NodeSnapshot `json:"children,omitempty"`
	SubtreeCounts []int           `json:"subtree_counts,omitempty"`
}

type TreeSnapshot struct {
	Size      int           `json:"size"`
	Augmented bool          `json:"augmented"`
	Root      *NodeSnapshot `json:"root,omitempty"`
}

// DebugSnapshot renders the whole tree structure. It is O(N) and
// intended for logging around a precondition violation or for a test
// failure message, not for production diagnostics on a hot tree.
func (t *Tree[K]) DebugSnapshot() TreeSnapshot {
	snap := TreeSnapshot{Size: t.size, Augmented: t.augmented}
	if t.root != nilHandle {
		snap.Root = t.snapshotNode(t.wrap(t.root))
	}
	return snap
}

func (t *Tree[K]) snapshotNode(n node[K]) *NodeSnapshot {
	ns := &NodeSnapshot{Leaf: n.isLeaf(), NumItems: n.numItems()}
	for i := 0; i < n.numItems(); i++ {
		ns.Keys = append(ns.Keys, fmt.Sprintf("%v", n.key(i)))
	}
	if !n.isLeaf() {
		for i := 0; i <= n.numItems(); i++ {
			ns.Children = append(ns.Children, t.snapshotNode(t.wrap(n.child(i))))
			if t.augmented {
				ns.SubtreeCounts = append(ns.SubtreeCounts, n.subtreeCount(i))
			}
		}
	}
	return ns
}
