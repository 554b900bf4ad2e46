package bptree

import (
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
)

func u32Cmp(a, b uint32) int { return int(a) - int(b) }
func u64Cmp(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func newU32Tree(t *testing.T, augmented bool) *Tree[uint32] {
	t.Helper()
	tr, err := New[uint32](Config[uint32]{
		Compare:       u32Cmp,
		RankAugmented: augmented,
		DebugValidate: true,
	})
	require.NoError(t, err)
	return tr
}

func newU64Tree(t *testing.T, augmented bool) *Tree[uint64] {
	t.Helper()
	tr, err := New[uint64](Config[uint64]{
		Compare:       u64Cmp,
		RankAugmented: augmented,
		DebugValidate: true,
	})
	require.NoError(t, err)
	return tr
}

func collect[K any](t *testing.T, tr *Tree[K]) []K {
	t.Helper()
	var out []K
	it := tr.Begin()
	for it.Valid() {
		out = append(out, it.Key())
		it.Next()
	}
	return out
}

func treeDepth[K any](tr *Tree[K]) int {
	if tr.root == nilHandle {
		return 0
	}
	depth := 1
	cur := tr.wrap(tr.root)
	for !cur.isLeaf() {
		depth++
		cur = tr.wrap(cur.child(0))
	}
	return depth
}

// Scenario 1: insert [5,1,4,2,3], iterate sorted, rank checks.
func TestScenarioSmallRankedInsert(t *testing.T) {
	tr := newU32Tree(t, true)
	for _, k := range []uint32{5, 1, 4, 2, 3} {
		res, err := tr.Insert(k)
		require.NoError(t, err)
		require.Equal(t, Inserted, res)
	}
	require.Equal(t, []uint32{1, 2, 3, 4, 5}, collect(t, tr))

	rank, found := tr.RankOf(3)
	require.True(t, found)
	require.Equal(t, 2, rank)

	k, err := tr.KeyAtRank(0)
	require.NoError(t, err)
	require.Equal(t, uint32(1), k)
	require.NoError(t, tr.Validate())
}

// Scenario 2: insert 1..=257 into a u64 tree, forcing a root split.
func TestScenarioForcedRootSplit(t *testing.T) {
	tr := newU64Tree(t, false)
	for i := uint64(1); i <= 257; i++ {
		res, err := tr.Insert(i)
		require.NoError(t, err)
		require.Equal(t, Inserted, res)
	}
	require.Equal(t, 257, tr.Size())
	require.Equal(t, 2, treeDepth(tr))
	require.NoError(t, tr.Validate())

	var expect []uint64
	for i := uint64(1); i <= 257; i++ {
		expect = append(expect, i)
	}
	require.Equal(t, expect, collect(t, tr))
}

// Scenario 3: insert 1..=10000, erase every even key, validate after each.
func TestScenarioBulkInsertEraseEvens(t *testing.T) {
	tr := newU64Tree(t, false)
	for i := uint64(1); i <= 10000; i++ {
		_, err := tr.Insert(i)
		require.NoError(t, err)
	}
	for i := uint64(2); i <= 10000; i += 2 {
		res := tr.Erase(i)
		require.Equal(t, Removed, res)
		require.NoError(t, tr.Validate())
	}
	require.Equal(t, 5000, tr.Size())

	var expect []uint64
	for i := uint64(1); i <= 10000; i += 2 {
		expect = append(expect, i)
	}
	require.Equal(t, expect, collect(t, tr))
}

// Scenario 4: random stress against a reference sorted set.
func TestScenarioRandomStress(t *testing.T) {
	tr := newU64Tree(t, false)
	present := map[uint64]bool{}
	rng := rand.New(rand.NewSource(1))

	const ops = 20000
	for i := 0; i < ops; i++ {
		if i%3 == 2 && len(present) > 0 {
			target := pickRandomKey(rng, present)
			res := tr.Erase(target)
			require.Equal(t, Removed, res)
			delete(present, target)
		} else {
			k := rng.Uint64() % 1_000_000
			res, err := tr.Insert(k)
			require.NoError(t, err)
			if present[k] {
				require.Equal(t, Duplicate, res)
			} else {
				require.Equal(t, Inserted, res)
				present[k] = true
			}
		}
		if i%1000 == 0 {
			require.NoError(t, tr.Validate())
		}
	}
	require.NoError(t, tr.Validate())

	var expect []uint64
	for k := range present {
		expect = append(expect, k)
	}
	sort.Slice(expect, func(i, j int) bool { return expect[i] < expect[j] })
	require.Equal(t, expect, collect(t, tr))
	require.Equal(t, len(expect), tr.Size())
}

func pickRandomKey(rng *rand.Rand, present map[uint64]bool) uint64 {
	n := rng.Intn(len(present))
	for k := range present {
		if n == 0 {
			return k
		}
		n--
	}
	panic("unreachable")
}

// Scenario 5: rank spot-check after inserting 0..=999.
func TestScenarioRankSpotCheck(t *testing.T) {
	tr := newU64Tree(t, true)
	for i := uint64(0); i <= 999; i++ {
		_, err := tr.Insert(i)
		require.NoError(t, err)
	}
	rank, found := tr.RankOf(500)
	require.True(t, found)
	require.Equal(t, 500, rank)

	k, err := tr.KeyAtRank(777)
	require.NoError(t, err)
	require.Equal(t, uint64(777), k)
}

// Scenario 6: duplicate insert is a no-op.
func TestScenarioDuplicateInsertNoOp(t *testing.T) {
	tr := newU32Tree(t, false)
	for _, k := range []uint32{1, 2, 3} {
		_, err := tr.Insert(k)
		require.NoError(t, err)
	}
	sizeBefore := tr.Size()
	res, err := tr.Insert(2)
	require.NoError(t, err)
	require.Equal(t, Duplicate, res)
	require.Equal(t, sizeBefore, tr.Size())
	require.NoError(t, tr.Validate())
}

func TestEmptyTreeInsertProducesSingleLeafRoot(t *testing.T) {
	tr := newU32Tree(t, false)
	res, err := tr.Insert(1)
	require.NoError(t, err)
	require.Equal(t, Inserted, res)
	require.Equal(t, 1, tr.Size())
	root := tr.wrap(tr.root)
	require.True(t, root.isLeaf())
	require.Equal(t, 1, root.numItems())
}

func TestEraseLastKeyFreesRoot(t *testing.T) {
	tr := newU32Tree(t, false)
	_, err := tr.Insert(42)
	require.NoError(t, err)
	res := tr.Erase(42)
	require.Equal(t, Removed, res)
	require.Equal(t, 0, tr.Size())
	require.Equal(t, nilHandle, tr.root)
	require.Empty(t, collect(t, tr))
}

func TestEraseNotFound(t *testing.T) {
	tr := newU32Tree(t, false)
	_, err := tr.Insert(1)
	require.NoError(t, err)
	require.Equal(t, NotFound, tr.Erase(999))
}

func TestContains(t *testing.T) {
	tr := newU32Tree(t, false)
	for _, k := range []uint32{10, 20, 30} {
		_, err := tr.Insert(k)
		require.NoError(t, err)
	}
	require.True(t, tr.Contains(20))
	require.False(t, tr.Contains(25))
}

func TestClear(t *testing.T) {
	tr := newU32Tree(t, false)
	for i := uint32(0); i < 500; i++ {
		_, err := tr.Insert(i)
		require.NoError(t, err)
	}
	tr.Clear()
	require.Equal(t, 0, tr.Size())
	require.Equal(t, nilHandle, tr.root)
	require.False(t, tr.Contains(10))
}

func TestStatCountsSplitsAndMerges(t *testing.T) {
	tr := newU64Tree(t, false)
	for i := uint64(1); i <= 5000; i++ {
		_, err := tr.Insert(i)
		require.NoError(t, err)
	}
	statAfterInsert := tr.Stat()
	require.Greater(t, statAfterInsert.Splits, uint64(0))

	for i := uint64(1); i <= 4000; i++ {
		tr.Erase(i)
	}
	statAfterErase := tr.Stat()
	require.True(t, statAfterErase.Merges > 0 || statAfterErase.Rebalances > 0)
}

func TestOutOfMemoryPropagates(t *testing.T) {
	tr := newU32Tree(t, false)
	tr.resource = &exhaustedResource{}
	_, err := tr.Insert(1)
	require.ErrorIs(t, err, ErrOutOfMemory)
	require.Equal(t, 0, tr.Size())
}

type exhaustedResource struct{}

func (e *exhaustedResource) Alloc() (Handle, []byte, error) { return nilHandle, nil, ErrOutOfMemory }
func (e *exhaustedResource) Deref(Handle) []byte            { panic("unused") }
func (e *exhaustedResource) Free(Handle)                    {}
func (e *exhaustedResource) Reset()                         {}

// TestRebalanceChildRightBoundary drives rebalanceChild's right-sibling
// branch across the full range of insertIdx for a fixed (childPos,
// count), the way spec.md section 8's testable properties call for.
// It pins down the exact boundary at insertIdx == original-count: a
// key landing there must stay in cur, not be routed into right, since
// cur still holds it after the rebalance moved only the items above
// it. Routing it into right would place it below right's smallest
// surviving key, violating the parent-separator invariant validate.go
// checks for.
func TestRebalanceChildRightBoundary(t *testing.T) {
	tr, err := New[uint64](Config[uint64]{Compare: u64Cmp})
	require.NoError(t, err)
	maxLeaf := tr.layout.maxLeafKeys

	for insertIdx := 0; insertIdx <= maxLeaf; insertIdx++ {
		par, err := tr.allocNode(false)
		require.NoError(t, err)
		cur, err := tr.allocNode(true)
		require.NoError(t, err)
		right, err := tr.allocNode(true)
		require.NoError(t, err)

		for i := 0; i < maxLeaf; i++ {
			cur.leafInsert(i, uint64(i))
		}
		right.leafInsert(0, uint64(maxLeaf+100))
		right.leafInsert(1, uint64(maxLeaf+101))

		par.setChild(0, cur.h)
		par.setChild(1, right.h)
		par.setKey(0, uint64(maxLeaf+50))
		par.setNumItems(1)

		original := cur.numItems()
		atEnd := insertIdx == 0
		count := biasedRebalanceCount(right.availableSlots(), atEnd)
		require.Greater(t, count, 0, "test setup must always trigger a rebalance")

		dest, pos, ok := tr.rebalanceChild(par, 0, insertIdx)
		require.True(t, ok)

		if insertIdx > original-count {
			require.Equal(t, right.h, dest.h, "insertIdx %d should route to right", insertIdx)
			require.Equal(t, 1, pos)
		} else {
			require.Equal(t, cur.h, dest.h, "insertIdx %d should stay in cur", insertIdx)
			require.Equal(t, 0, pos)
		}
	}
}

// TestRebalanceChildLeftBoundary is the mirror of the right-boundary
// test for rebalanceChild's left-sibling branch: insertIdx < count
// routes to left, insertIdx == count and above stays in cur.
func TestRebalanceChildLeftBoundary(t *testing.T) {
	tr, err := New[uint64](Config[uint64]{Compare: u64Cmp})
	require.NoError(t, err)
	maxLeaf := tr.layout.maxLeafKeys

	for insertIdx := 0; insertIdx <= maxLeaf; insertIdx++ {
		par, err := tr.allocNode(false)
		require.NoError(t, err)
		left, err := tr.allocNode(true)
		require.NoError(t, err)
		cur, err := tr.allocNode(true)
		require.NoError(t, err)

		left.leafInsert(0, 0)
		left.leafInsert(1, 1)
		for i := 0; i < maxLeaf; i++ {
			cur.leafInsert(i, uint64(maxLeaf+100+i))
		}

		par.setChild(0, left.h)
		par.setChild(1, cur.h)
		par.setKey(0, uint64(maxLeaf+50))
		par.setNumItems(1)

		atEnd := insertIdx == maxLeaf
		count := biasedRebalanceCount(left.availableSlots(), atEnd)
		require.Greater(t, count, 0, "test setup must always trigger a rebalance")

		dest, pos, ok := tr.rebalanceChild(par, 1, insertIdx)
		require.True(t, ok)

		if insertIdx < count {
			require.Equal(t, left.h, dest.h, "insertIdx %d should route to left", insertIdx)
			require.Equal(t, 0, pos)
		} else {
			require.Equal(t, cur.h, dest.h, "insertIdx %d should stay in cur", insertIdx)
			require.Equal(t, 1, pos)
		}
	}
}

func TestMergeOrRebalanceChildPrefersLeftMerge(t *testing.T) {
	tr, err := New[uint64](Config[uint64]{Compare: u64Cmp})
	require.NoError(t, err)

	par, err := tr.allocNode(false)
	require.NoError(t, err)
	left, err := tr.allocNode(true)
	require.NoError(t, err)
	cur, err := tr.allocNode(true)
	require.NoError(t, err)

	left.leafInsert(0, 10)
	cur.leafInsert(0, 30)
	par.setChild(0, left.h)
	par.setChild(1, cur.h)
	par.setKey(0, 20)
	par.setNumItems(1)

	retired, merged := tr.mergeOrRebalanceChild(par, 1)
	require.True(t, merged)
	require.Equal(t, cur.h, retired)
	require.Equal(t, []uint64{10, 20, 30}, []uint64{left.key(0), left.key(1), left.key(2)})
	require.Equal(t, 0, par.numItems())
}

func TestMergeOrRebalanceChildFallsBackToRebalance(t *testing.T) {
	tr, err := New[uint64](Config[uint64]{Compare: u64Cmp})
	require.NoError(t, err)
	maxLeaf := tr.layout.maxLeafKeys

	par, err := tr.allocNode(false)
	require.NoError(t, err)
	cur, err := tr.allocNode(true)
	require.NoError(t, err)
	right, err := tr.allocNode(true)
	require.NoError(t, err)

	cur.leafInsert(0, 10) // underfull: one item, below minItems
	for i := 0; i < maxLeaf; i++ {
		right.leafInsert(i, uint64(100+i))
	}
	par.setChild(0, cur.h)
	par.setChild(1, right.h)
	par.setKey(0, 50)
	par.setNumItems(1)

	retired, merged := tr.mergeOrRebalanceChild(par, 0)
	require.False(t, merged)
	require.Equal(t, nilHandle, retired)

	toMove := (maxLeaf - 1) / 2
	require.Equal(t, 1+toMove, cur.numItems())
	require.Less(t, cur.key(cur.numItems()-1), par.key(0))
	require.Greater(t, right.key(0), par.key(0))
}
