package bptree

// Iterator walks a Tree in sorted order using an explicit Path instead
// of parent pointers or a flattened copy, the way spec section 4.3
// describes ("Forward iteration uses a Path positioned at a key").
// Because keys live at every level of this tree, not only in leaves,
// a Path frame over an inner node is itself a valid current position:
// advancing from one descends into the child just past it, and
// retreating from one descends into the child just before it.
//
// An Iterator borrows the tree it was built from; any mutation
// invalidates every outstanding Iterator (spec section 5) — the tree
// does not track or guard against this, matching the teacher's stance
// that cursor invalidation on write is the caller's responsibility.
type Iterator[K any] struct {
	t     *Tree[K]
	p     path[K]
	atEnd bool // true only for a freshly constructed End(), consumed by the first Prev
}

// Valid reports whether Key is safe to call.
func (it *Iterator[K]) Valid() bool {
	return it.p.depth > 0
}

// Key returns the key at the iterator's current position.
func (it *Iterator[K]) Key() K {
	preconditionAssert(it.Valid(), "Key called on an exhausted Iterator")
	f := it.p.last()
	return f.n.key(f.pos)
}

// Begin returns an iterator at the smallest key, or an exhausted
// iterator if the tree is empty.
func (t *Tree[K]) Begin() *Iterator[K] {
	t.enterOp()
	defer t.exitOp()

	it := &Iterator[K]{t: t}
	if t.root == nilHandle {
		return it
	}
	cur := t.wrap(t.root)
	for {
		if cur.numItems() == 0 {
			it.p.reset()
			return it
		}
		it.p.push(cur, 0)
		if cur.isLeaf() {
			return it
		}
		cur = t.wrap(cur.child(0))
	}
}

// End returns the exhausted iterator one past the largest key. Its
// first Prev call lands on the largest key, mirroring the usual
// begin/end sentinel pair.
func (t *Tree[K]) End() *Iterator[K] {
	t.enterOp()
	defer t.exitOp()
	return &Iterator[K]{t: t, atEnd: true}
}

// LowerBound returns an iterator at the first key >= k, or an
// exhausted iterator if no such key exists.
func (t *Tree[K]) LowerBound(k K) *Iterator[K] {
	t.enterOp()
	defer t.exitOp()

	it := &Iterator[K]{t: t}
	if t.root == nilHandle {
		return it
	}
	cur := t.wrap(t.root)
	for {
		idx, found := cur.bsearch(k, t.cmp)
		it.p.push(cur, idx)
		if found {
			return it
		}
		if cur.isLeaf() {
			it.fixupForward()
			return it
		}
		cur = t.wrap(cur.child(idx))
	}
}

// fixupForward pops frames positioned past their node's last item
// until it finds one still pointing at a real key, or exhausts the
// path. It is the shared tail of LowerBound (when bsearch runs off
// the end of a leaf) and Next (when a leaf is exhausted).
func (it *Iterator[K]) fixupForward() bool {
	for it.p.depth > 0 {
		f := it.p.last()
		if f.pos < f.n.numItems() {
			return true
		}
		it.p.pop()
	}
	return false
}

func (it *Iterator[K]) fixupBackward() bool {
	for it.p.depth > 0 {
		f := it.p.last()
		if f.pos > 0 {
			f.pos--
			return true
		}
		it.p.pop()
	}
	return false
}

// Next advances to the in-order successor and reports whether the
// result is valid.
func (it *Iterator[K]) Next() bool {
	if it.p.depth == 0 {
		return false
	}
	f := it.p.last()
	if f.n.isLeaf() {
		if f.pos+1 < f.n.numItems() {
			f.pos++
			return true
		}
		it.p.pop()
		return it.fixupForward()
	}
	f.pos++
	child := it.t.wrap(f.n.child(f.pos))
	for {
		it.p.push(child, 0)
		if child.isLeaf() {
			return true
		}
		child = it.t.wrap(child.child(0))
	}
}

// Prev retreats to the in-order predecessor and reports whether the
// result is valid.
func (it *Iterator[K]) Prev() bool {
	if it.atEnd {
		it.atEnd = false
		return it.toLast()
	}
	if it.p.depth == 0 {
		return false
	}
	f := it.p.last()
	if f.n.isLeaf() {
		if f.pos > 0 {
			f.pos--
			return true
		}
		it.p.pop()
		return it.fixupBackward()
	}
	child := it.t.wrap(f.n.child(f.pos))
	for {
		n := child.numItems()
		if child.isLeaf() {
			it.p.push(child, n-1)
			return true
		}
		it.p.push(child, n)
		child = it.t.wrap(child.child(n))
	}
}

func (it *Iterator[K]) toLast() bool {
	if it.t.root == nilHandle {
		return false
	}
	cur := it.t.wrap(it.t.root)
	for {
		n := cur.numItems()
		if n == 0 {
			return false
		}
		if cur.isLeaf() {
			it.p.push(cur, n-1)
			return true
		}
		it.p.push(cur, n)
		cur = it.t.wrap(cur.child(n))
	}
}
