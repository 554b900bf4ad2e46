package bptree

import "unsafe"

// blockSize is the fixed byte budget of every node block, handed out
// by the memory resource one block at a time. Keys and child slots are
// touched tens of millions of times per second in the source this
// design is based on; a declared Go struct layout would leave padding
// and inhibit dense packing for arbitrary key widths, so the layout is
// computed once from K's size and accessed through raw offsets instead.
const blockSize = 256

// headerSize is the eight-byte node header: 7 bits numItems, 1 bit
// isLeaf, and (for inner nodes only) a 56-bit field reused to carry
// nothing at the node level — subtree counts live per-child, not in
// the header.
const headerSize = 8

// nodeLayout derives, from a key width, the maximum and minimum fan-out
// for leaf and inner nodes and the byte offsets of the key and child
// slot arrays inside a blockSize-byte block. It is computed once per
// key type in New and reused by every node of that tree.
type nodeLayout struct {
	keySize int
	// maxLeafKeys / minLeafKeys bound how many keys a leaf node holds.
	maxLeafKeys int
	minLeafKeys int
	// maxInnerKeys / minInnerKeys bound how many keys an inner node
	// holds; inner nodes hold fewer keys than a leaf for the same
	// budget because they also store child references (and, when rank
	// augmentation is enabled, a per-child subtree count).
	maxInnerKeys int
	minInnerKeys int
	// childStride is the byte size of one child slot: a handle plus,
	// when augmented, a 16-bit subtree count immediately after it.
	childStride int
	augmented   bool
}

// handleSize is sizeof(Handle): the memory resource hands back an
// opaque fixed-width handle in place of a native pointer so that
// arbitrary MemoryResource implementations (slabs, arenas, pools) can
// back it with whatever addressing scheme they like.
const handleSize = int(unsafe.Sizeof(Handle(0)))

func newNodeLayout(keySize int, augmented bool) nodeLayout {
	preconditionAssert(keySize > 0 && keySize <= 32, "key size %d out of range (0,32]", keySize)

	childStride := handleSize
	if augmented {
		childStride += 2 // 16-bit subtree count
	}

	// Both maxima are rounded down to an odd number: splitting a full
	// node of max keys leaves (max-1)/2 keys on each side, which meets
	// the max/2 minimum fill only when max is odd.
	maxLeafKeys := (blockSize - headerSize) / keySize
	if maxLeafKeys%2 == 0 {
		maxLeafKeys--
	}
	minLeafKeys := maxLeafKeys / 2

	// Inner node with x keys has x+1 children:
	// x*keySize + (x+1)*childStride <= blockSize - headerSize
	maxInnerKeys := (blockSize - headerSize - childStride) / (keySize + childStride)
	if maxInnerKeys%2 == 0 {
		maxInnerKeys--
	}
	minInnerKeys := maxInnerKeys / 2

	preconditionAssert(maxLeafKeys < 128, "kMaxLeafKeys must be < 128 (numItems is a 7-bit field), got %d", maxLeafKeys)
	preconditionAssert(maxInnerKeys >= 2, "key size %d leaves no room for inner fan-out", keySize)

	return nodeLayout{
		keySize:      keySize,
		maxLeafKeys:  maxLeafKeys,
		minLeafKeys:  minLeafKeys,
		maxInnerKeys: maxInnerKeys,
		minInnerKeys: minInnerKeys,
		childStride:  childStride,
		augmented:    augmented,
	}
}

// keyOffset returns the byte offset of the i-th key slot.
func (l nodeLayout) keyOffset(i int) int {
	return headerSize + i*l.keySize
}

// childBase returns the byte offset where the child-reference array
// begins in an inner node, immediately after the maximum possible key
// array so that a node's shape does not change as it fills and empties.
func (l nodeLayout) childBase() int {
	return headerSize + l.maxInnerKeys*l.keySize
}

// childOffset returns the byte offset of the i-th child slot (handle
// plus, when augmented, its trailing subtree count).
func (l nodeLayout) childOffset(i int) int {
	return l.childBase() + i*l.childStride
}

func (l nodeLayout) maxKeys(leaf bool) int {
	if leaf {
		return l.maxLeafKeys
	}
	return l.maxInnerKeys
}

func (l nodeLayout) minKeys(leaf bool) int {
	if leaf {
		return l.minLeafKeys
	}
	return l.minInnerKeys
}
