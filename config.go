package bptree

import "log/slog"

// Handle is an opaque reference to a node block returned by a
// MemoryResource. It stands in for the native pointer the source this
// design is based on uses directly (BPTreeNode*): using an opaque
// handle instead lets a MemoryResource back nodes with a slab index,
// an arena offset, or a real pointer, without the tree caring which.
// The zero Handle is reserved to mean "no node" (the empty tree, or a
// missing child in an under-construction node).
type Handle uint32

const nilHandle Handle = 0

// MemoryResource is the pluggable allocator contract (spec section 6).
// Every block handed out is exactly blockSize bytes, aligned to
// alignof(uintptr). The tree owns its MemoryResource exclusively and
// never shares it with another tree instance.
type MemoryResource interface {
	// Alloc returns a fresh, zeroed blockSize-byte block and the handle
	// that addresses it. It returns ErrOutOfMemory if no block is
	// available.
	Alloc() (Handle, []byte, error)
	// Deref resolves a previously allocated handle back to its block.
	// Deref(nilHandle) or a freed handle is a precondition violation.
	Deref(Handle) []byte
	// Free returns a block to the resource for reuse. The tree calls
	// this exactly once per handle, only after unlinking every
	// reference to it (merge retirements and root removal in Erase;
	// Clear uses Reset instead).
	Free(Handle)
	// Reset frees every outstanding block at once, used by Clear.
	Reset()
}

// CompareFunc is the caller-supplied total order over keys. It must
// return <0, 0, >0 the way bytes.Compare / cmp.Compare do. Equality is
// defined as CompareFunc(a, b) == 0 (spec section 3).
type CompareFunc[K any] func(a, b K) int

// Config carries the knobs a collaborator sets up front when
// constructing a Tree. It mirrors the shape of the teacher's
// bptree_disk.go Config (RootDir/Name/TreeM/MaxPageCacheSize/Logger/
// CipherFactory/Comparator) with the disk-specific fields replaced by
// their in-memory equivalents.
type Config[K any] struct {
	// Compare is the required total order over K.
	Compare CompareFunc[K]
	// Resource backs every node block the tree allocates. A nil
	// Resource makes New build a default arena (see arena.go), sized
	// and pinned per LockMemory below.
	Resource MemoryResource
	// Logger receives structured diagnostics (node allocation failures
	// and failed memory locking at Warn, invariant breaches at Error
	// before the accompanying panic). Splits, merges and rebalances are
	// not logged; they are only counted in Stat. A nil Logger disables
	// logging.
	Logger *slog.Logger
	// RankAugmented enables the per-child subtree counts that make
	// RankOf and KeyAtRank run in O(log N). Disabling it shrinks each
	// inner node's fan-out overhead by 2 bytes per child.
	RankAugmented bool
	// DebugValidate runs Validate after every mutating operation and
	// panics with PreconditionViolation on the first broken invariant.
	// Intended for tests and CI, not production traffic.
	DebugValidate bool
	// LockMemory pins every slab the default arena grows into against
	// the OS pager (internal/memlock). Ignored by MemoryResource
	// implementations that are not the built-in arena.
	LockMemory bool
}

// Option mutates a Config in place; used by New's functional-options
// tail, matching the teacher's pattern of small typed setters
// (SetKeyCodec/SetValCodec on BTreeDisk) generalized to a Config knob
// each.
type Option[K any] func(*Config[K])

func WithLogger[K any](l *slog.Logger) Option[K] {
	return func(c *Config[K]) { c.Logger = l }
}

func WithRankAugmented[K any](enabled bool) Option[K] {
	return func(c *Config[K]) { c.RankAugmented = enabled }
}

func WithDebugValidate[K any](enabled bool) Option[K] {
	return func(c *Config[K]) { c.DebugValidate = enabled }
}

func WithLockMemory[K any](enabled bool) Option[K] {
	return func(c *Config[K]) { c.LockMemory = enabled }
}

func WithResource[K any](r MemoryResource) Option[K] {
	return func(c *Config[K]) { c.Resource = r }
}
