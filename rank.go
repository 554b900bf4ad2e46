package bptree

// RankOf and KeyAtRank implement spec section 4.3's rank operations.
// They require RankAugmented; the source this design is based on does
// not carry subtree counts at all; wiring them in is this repository's
// job per spec section 9's design note, not something grounded in the
// teacher directly.

// RankOf returns the zero-based sorted position of k, or false if k is
// not present. Runs in O(log N) using the per-child subtree counts
// accumulated during descent: at each inner node, every child fully to
// the left of the one being followed contributes its whole subtree
// count plus one for the separator key skipped over.
func (t *Tree[K]) RankOf(k K) (int, bool) {
	t.enterOp()
	defer t.exitOp()

	preconditionAssert(t.augmented, "RankOf requires a RankAugmented tree")
	if t.root == nilHandle {
		return 0, false
	}
	cur := t.wrap(t.root)
	rank := 0
	for {
		idx, found := cur.bsearch(k, t.cmp)
		if found {
			if !cur.isLeaf() {
				for i := 0; i <= idx; i++ {
					rank += cur.subtreeCount(i)
				}
			}
			return rank + idx, true
		}
		if cur.isLeaf() {
			return 0, false
		}
		for i := 0; i < idx; i++ {
			rank += cur.subtreeCount(i) + 1
		}
		cur = t.wrap(cur.child(idx))
	}
}

// KeyAtRank returns the key at sorted position r, the inverse of
// RankOf. Descends by repeatedly subtracting whole child subtrees (and
// one per separator consumed) from the remaining rank until it lands
// inside a child or exactly on a separator.
func (t *Tree[K]) KeyAtRank(r int) (K, error) {
	t.enterOp()
	defer t.exitOp()

	preconditionAssert(t.augmented, "KeyAtRank requires a RankAugmented tree")
	var zero K
	if r < 0 || r >= t.size {
		return zero, ErrOutOfRange
	}
	cur := t.wrap(t.root)
	for {
		if cur.isLeaf() {
			preconditionAssert(r < cur.numItems(), "KeyAtRank: rank ran past leaf contents")
			return cur.key(r), nil
		}
		matched := false
		for i := 0; i <= cur.numItems(); i++ {
			c := cur.subtreeCount(i)
			if r < c {
				cur = t.wrap(cur.child(i))
				matched = true
				break
			}
			r -= c
			if i < cur.numItems() {
				if r == 0 {
					return cur.key(i), nil
				}
				r--
			}
		}
		preconditionAssert(matched, "KeyAtRank: descent failed to converge on a rank")
	}
}
