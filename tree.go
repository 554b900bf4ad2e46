package bptree

import (
	"encoding/json"
	"log/slog"
	"unsafe"
)

// Tree is the top-level ordered container: it owns the root handle and
// the memory resource, and drives every mutation through an explicit
// Path instead of parent pointers, mirroring the source this design is
// based on (BPTree wrapping BPTreeNode + BPTreePath). It is not safe
// for concurrent use; the collaborator serializes access (spec section
// 5).
type Tree[K any] struct {
	root      Handle
	size      int
	layout    nodeLayout
	cmp       CompareFunc[K]
	resource  MemoryResource
	logger    *slog.Logger
	augmented bool
	debug     bool
	stat      iStat
	busy      bool // debug-only reentrancy guard, see enterOp
}

// New builds an empty Tree. cfg.Compare is required; every other field
// is optional and defaults the way Config's doc comments describe.
func New[K any](cfg Config[K], opts ...Option[K]) (*Tree[K], error) {
	for _, opt := range opts {
		opt(&cfg)
	}
	preconditionAssert(cfg.Compare != nil, "Config.Compare must not be nil")

	var zero K
	keySize := int(unsafe.Sizeof(zero))

	t := &Tree[K]{
		layout:    newNodeLayout(keySize, cfg.RankAugmented),
		cmp:       cfg.Compare,
		logger:    cfg.Logger,
		augmented: cfg.RankAugmented,
		debug:     cfg.DebugValidate,
	}
	if cfg.Resource != nil {
		t.resource = cfg.Resource
	} else {
		t.resource = newArena(cfg.LockMemory, cfg.Logger, &t.stat, cfg.DebugValidate)
	}
	return t, nil
}

// enterOp/exitOp implement the debug reentrancy guard called for by
// spec section 5: the container performs no synchronization of its
// own, so a re-entrant call (e.g. from inside a comparator callback)
// is a caller bug, not a race to be locked away. Only armed when
// DebugValidate is set, the way the teacher's disk tree instead pays
// for a real sync.RWMutex on every call — here there is no concurrent
// writer to protect against, only a bug to catch.
func (t *Tree[K]) enterOp() {
	if !t.debug {
		return
	}
	preconditionAssert(!t.busy, "reentrant call into Tree while an operation is in progress")
	t.busy = true
}

func (t *Tree[K]) exitOp() {
	if !t.debug {
		return
	}
	t.busy = false
}

func (t *Tree[K]) wrap(h Handle) node[K] {
	return node[K]{h: h, buf: t.resource.Deref(h), lay: t.layout}
}

func (t *Tree[K]) allocNode(leaf bool) (node[K], error) {
	h, buf, err := t.resource.Alloc()
	if err != nil {
		if t.logger != nil {
			t.logger.Warn("bptree: node allocation failed", "err", err)
		}
		return node[K]{}, err
	}
	n := node[K]{h: h, buf: buf, lay: t.layout}
	n.setLeaf(leaf)
	n.setNumItems(0)
	return n, nil
}

func (t *Tree[K]) freeNode(n node[K]) {
	t.resource.Free(n.h)
}

// subtreeItemCount recomputes, from scratch, the number of live items
// reachable under n: its own keys plus, for an inner node, the sum of
// its children's stored subtree counts. Called after a split, merge,
// or rebalance redistributes items between siblings, when the cheaper
// path of adjusting a running counter by a fixed delta does not apply.
func (t *Tree[K]) subtreeItemCount(n node[K]) int {
	if !t.augmented {
		return 0
	}
	c := n.numItems()
	if !n.isLeaf() {
		for i := 0; i <= n.numItems(); i++ {
			c += n.subtreeCount(i)
		}
	}
	return c
}

func (t *Tree[K]) refreshChildCount(par node[K], idx int) {
	if !t.augmented {
		return
	}
	child := t.wrap(par.child(idx))
	par.setSubtreeCount(idx, t.subtreeItemCount(child))
}

// biasedRebalanceCount implements the bias rule from spec section 4.2:
// fill the sibling completely when the insertion is happening at the
// far end of the full child (maximizing headroom on the busy side),
// otherwise move only half of the sibling's free slots, and only when
// there is more than one to move — a lone free slot is not worth the
// rotation.
func biasedRebalanceCount(available int, atEnd bool) int {
	if available <= 0 {
		return 0
	}
	if atEnd {
		return available
	}
	if available <= 1 {
		return 0
	}
	return available / 2
}

// rebalanceChild is the composite operation from spec section 4.2:
// called when the descent for an insert reaches a full non-root child.
// It tries the left sibling first, then the right, and reports which
// node (and which child slot of par) now holds the room to continue
// the descent. par.numItems() bounding the right-sibling branch is the
// same guard the source this design is based on uses in
// RebalanceChild; both siblings being absent is only possible at the
// root, which Insert special-cases before this is ever reached, so
// that case is asserted against here rather than handled.
func (t *Tree[K]) rebalanceChild(par node[K], childPos, insertIdx int) (node[K], int, bool) {
	preconditionAssert(childPos > 0 || childPos < par.numItems(), "rebalanceChild: full child has no siblings")
	cur := t.wrap(par.child(childPos))

	if childPos > 0 {
		left := t.wrap(par.child(childPos - 1))
		atEnd := insertIdx == cur.numItems()
		if count := biasedRebalanceCount(left.availableSlots(), atEnd); count > 0 {
			par.rebalanceChildToLeft(childPos, count, cur, left)
			t.refreshChildCount(par, childPos-1)
			t.refreshChildCount(par, childPos)
			t.stat.rebalances++
			if insertIdx < count {
				return left, childPos - 1, true
			}
			return cur, childPos, true
		}
	}
	if childPos < par.numItems() {
		right := t.wrap(par.child(childPos + 1))
		atEnd := insertIdx == 0
		if count := biasedRebalanceCount(right.availableSlots(), atEnd); count > 0 {
			original := cur.numItems()
			par.rebalanceChildToRight(childPos, count, cur, right)
			t.refreshChildCount(par, childPos)
			t.refreshChildCount(par, childPos+1)
			t.stat.rebalances++
			if insertIdx > original-count {
				return right, childPos + 1, true
			}
			return cur, childPos, true
		}
	}
	return node[K]{}, 0, false
}

func (t *Tree[K]) splitChildInPlace(par node[K], childPos int, cur node[K]) (node[K], K, error) {
	right, err := t.allocNode(cur.isLeaf())
	if err != nil {
		var zero K
		return node[K]{}, zero, err
	}
	median := cur.split(right)
	par.innerInsert(childPos, median, right.h)
	t.refreshChildCount(par, childPos)
	t.refreshChildCount(par, childPos+1)
	t.stat.splits++
	return right, median, nil
}

// mergeOrRebalanceChild is the composite operation from spec section
// 4.2, called on the ascent after an erase left child childPos
// underfull. It tries a left merge, then a right merge, then a right
// rebalance, then (only when there is no right sibling at all) a left
// rebalance — the exact textual order of the source's
// MergeOrRebalanceChild, not a "whichever sibling has more" choice.
// The amount moved in a rebalance is half the surplus over the
// depleted child, (sibling.NumItems()-cur.NumItems())/2, matching the
// source's to_move computation; moving a fixed single item regardless
// of surplus was an earlier, uncited deviation from this. Landing the
// abandoned "skip rebalance at the front/back" optimizations noted in
// spec section 9 was decided against: this always rebalances when no
// merge fits, keeping the simpler policy the source's live code path
// already follows.
func (t *Tree[K]) mergeOrRebalanceChild(par node[K], childPos int) (Handle, bool) {
	cur := t.wrap(par.child(childPos))
	hasLeft := childPos > 0
	hasRight := childPos < par.numItems()

	if hasLeft {
		left := t.wrap(par.child(childPos - 1))
		if left.numItems()+1+cur.numItems() <= left.maxItems() {
			sep := par.key(childPos - 1)
			left.mergeFromRight(sep, cur)
			par.shiftLeft(childPos-1, true)
			t.refreshChildCount(par, childPos-1)
			t.stat.merges++
			return cur.h, true
		}
	}
	if hasRight {
		right := t.wrap(par.child(childPos + 1))
		if cur.numItems()+1+right.numItems() <= cur.maxItems() {
			sep := par.key(childPos)
			cur.mergeFromRight(sep, right)
			par.shiftLeft(childPos, true)
			t.refreshChildCount(par, childPos)
			t.stat.merges++
			return right.h, true
		}

		toMove := (right.numItems() - cur.numItems()) / 2
		par.rebalanceChildToLeft(childPos+1, toMove, right, cur)
		t.refreshChildCount(par, childPos)
		t.refreshChildCount(par, childPos+1)
		t.stat.rebalances++
		return nilHandle, false
	}

	preconditionAssert(hasLeft, "mergeOrRebalanceChild: underfull child has no siblings")

	left := t.wrap(par.child(childPos - 1))
	toMove := (left.numItems() - cur.numItems()) / 2
	par.rebalanceChildToRight(childPos-1, toMove, left, cur)
	t.refreshChildCount(par, childPos-1)
	t.refreshChildCount(par, childPos)
	t.stat.rebalances++
	return nilHandle, false
}

// Insert implements spec section 4.3's top-down proactive splitting:
// every full node touched on the way down is split or rebalanced
// before the descent continues, so the terminal leaf insert never has
// to propagate a split back up.
func (t *Tree[K]) Insert(k K) (InsertResult, error) {
	t.enterOp()
	defer t.exitOp()

	if t.root == nilHandle {
		leaf, err := t.allocNode(true)
		if err != nil {
			return 0, err
		}
		leaf.leafInsert(0, k)
		t.root = leaf.h
		t.size++
		t.maybeValidate()
		return Inserted, nil
	}

	var p path[K]
	cur := t.wrap(t.root)
	for {
		idx, found := cur.bsearch(k, t.cmp)
		if found {
			return Duplicate, nil
		}

		if cur.numItems() == cur.maxItems() {
			if p.empty() {
				right, err := t.allocNode(cur.isLeaf())
				if err != nil {
					return 0, err
				}
				newRoot, err := t.allocNode(false)
				if err != nil {
					t.freeNode(right)
					return 0, err
				}
				median := cur.split(right)
				newRoot.setChild(0, cur.h)
				newRoot.setKey(0, median)
				newRoot.setChild(1, right.h)
				newRoot.setNumItems(1)
				if t.augmented {
					newRoot.setSubtreeCount(0, t.subtreeItemCount(cur))
					newRoot.setSubtreeCount(1, t.subtreeItemCount(right))
				}
				t.stat.splits++
				t.root = newRoot.h
				if t.cmp(k, median) < 0 {
					p.push(newRoot, 0)
				} else {
					p.push(newRoot, 1)
					cur = right
				}
				continue
			}

			parent := p.last()
			if newCur, newChildPos, ok := t.rebalanceChild(parent.n, parent.pos, idx); ok {
				parent.pos = newChildPos
				cur = newCur
				continue
			}
			right, median, err := t.splitChildInPlace(parent.n, parent.pos, cur)
			if err != nil {
				return 0, err
			}
			if t.cmp(k, median) >= 0 {
				cur = right
				parent.pos++
			}
			continue
		}

		if cur.isLeaf() {
			cur.leafInsert(idx, k)
			p.push(cur, idx)
			break
		}
		p.push(cur, idx)
		cur = t.wrap(cur.child(idx))
	}

	if t.augmented {
		for i := 0; i < p.depth-1; i++ {
			f := &p.frames[i]
			f.n.addSubtreeCount(f.pos, 1)
		}
	}
	t.size++
	t.maybeValidate()
	return Inserted, nil
}

// Erase implements spec section 4.3's find-swap-shrink sequence: a key
// found in an inner node is swapped with its in-order predecessor so
// the physical removal always happens at a leaf, then the ascent
// repairs any underfull node by merging or rebalancing with a sibling.
func (t *Tree[K]) Erase(k K) EraseResult {
	t.enterOp()
	defer t.exitOp()

	if t.root == nilHandle {
		return NotFound
	}

	var p path[K]
	cur := t.wrap(t.root)
	for {
		idx, found := cur.bsearch(k, t.cmp)
		if found {
			if !cur.isLeaf() {
				p.push(cur, idx)
				pred := t.wrap(cur.child(idx))
				for !pred.isLeaf() {
					p.push(pred, pred.numItems())
					pred = t.wrap(pred.child(pred.numItems()))
				}
				lastIdx := pred.numItems() - 1
				cur.setKey(idx, pred.key(lastIdx))
				p.push(pred, lastIdx)
				pred.shiftLeft(lastIdx, false)
			} else {
				p.push(cur, idx)
				cur.shiftLeft(idx, false)
			}
			break
		}
		if cur.isLeaf() {
			return NotFound
		}
		p.push(cur, idx)
		cur = t.wrap(cur.child(idx))
	}

	if t.augmented {
		for i := 0; i < p.depth-1; i++ {
			f := &p.frames[i]
			f.n.addSubtreeCount(f.pos, -1)
		}
	}
	t.size--

	leafFrame := p.pop()
	node := leafFrame.n
	for !p.empty() {
		if node.numItems() >= node.minItems() {
			break
		}
		parentFrame := p.pop()
		retired, merged := t.mergeOrRebalanceChild(parentFrame.n, parentFrame.pos)
		if !merged {
			break
		}
		t.freeNode(t.wrap(retired))
		node = parentFrame.n
	}

	root := t.wrap(t.root)
	switch {
	case !root.isLeaf() && root.numItems() == 0:
		onlyChild := root.child(0)
		t.freeNode(root)
		t.root = onlyChild
	case root.isLeaf() && root.numItems() == 0:
		t.freeNode(root)
		t.root = nilHandle
	}

	t.maybeValidate()
	return Removed
}

// Contains reports whether k is present, without allocating a Path.
func (t *Tree[K]) Contains(k K) bool {
	t.enterOp()
	defer t.exitOp()

	if t.root == nilHandle {
		return false
	}
	cur := t.wrap(t.root)
	for {
		idx, found := cur.bsearch(k, t.cmp)
		if found {
			return true
		}
		if cur.isLeaf() {
			return false
		}
		cur = t.wrap(cur.child(idx))
	}
}

// Size returns the number of live items.
func (t *Tree[K]) Size() int {
	t.enterOp()
	defer t.exitOp()
	return t.size
}

// Clear discards every node at once via the memory resource's Reset,
// rather than a post-order walk freeing one handle at a time — the
// arena and any bulk-backed MemoryResource can drop everything in
// O(1); Reset exists precisely so Clear does not have to walk.
func (t *Tree[K]) Clear() {
	t.enterOp()
	defer t.exitOp()

	t.resource.Reset()
	t.root = nilHandle
	t.size = 0
}

// Stat returns a snapshot of the tree's internal counters.
func (t *Tree[K]) Stat() ExportStat {
	t.enterOp()
	defer t.exitOp()
	return t.stat.export()
}

func (t *Tree[K]) maybeValidate() {
	if !t.debug {
		return
	}
	if err := t.Validate(); err != nil {
		if t.logger != nil {
			t.logger.Error("bptree: invariant violation", "err", err, "snapshot", t.debugSnapshotJSON())
		}
		panic(err)
	}
}

// debugSnapshotJSON renders DebugSnapshot as JSON for the log line
// that precedes a precondition-violation panic: every node with its
// keys, children and (when augmented) subtree counts.
func (t *Tree[K]) debugSnapshotJSON() string {
	snap := t.DebugSnapshot()
	b, err := json.Marshal(snap)
	if err != nil {
		return "<marshal error: " + err.Error() + ">"
	}
	return string(b)
}
