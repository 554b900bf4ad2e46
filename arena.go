package bptree

import (
	"fmt"
	"log/slog"

	cmap "github.com/zbh255/gocode/container/map"

	"github.com/nyan233/bptree/internal/memlock"
)

// slabBlocks is how many blockSize-byte node blocks each slab the
// arena grows into holds. Growing in slab-sized chunks rather than one
// block at a time keeps the number of memlock/VirtualLock syscalls
// proportional to tree size, not item count.
const slabBlocks = 4096

// arena is the default MemoryResource: a slab-allocated pool of
// blockSize-byte blocks with a hand-rolled free-handle min-heap, the
// in-memory counterpart of the teacher's disk-backed freelist.go page
// heap. Handles are 1-based indices into the concatenation of every
// slab ever grown, so a handle stays valid across further growth.
type arena struct {
	slabs   [][]byte
	free    []Handle // binary min-heap of freed handles, popPageId/pushPageId's algorithm minus the disk I/O
	next    Handle   // next handle to mint if free is empty
	lockMem bool
	logger  *slog.Logger
	stat    *iStat

	// live is a debug-only registry of outstanding handles, populated
	// on Alloc and cleared on Free, used by Free to catch a double free
	// before it corrupts the free heap silently.
	live *cmap.BTreeMap[uint64, struct{}]
}

func newArena(lockMem bool, logger *slog.Logger, stat *iStat, debug bool) *arena {
	a := &arena{
		lockMem: lockMem,
		logger:  logger,
		stat:    stat,
		next:    1, // handle 0 is reserved as nilHandle
	}
	if debug {
		a.live = cmap.NewBtreeMap[uint64, struct{}](64)
	}
	return a
}

func (a *arena) blockOf(h Handle) []byte {
	idx := int(h) - 1
	slab := idx / slabBlocks
	off := (idx % slabBlocks) * blockSize
	return a.slabs[slab][off : off+blockSize]
}

func (a *arena) growSlab() error {
	slab := make([]byte, slabBlocks*blockSize)
	if a.lockMem {
		if err := memlock.Lock(slab); err != nil {
			if a.logger != nil {
				a.logger.Warn("bptree: mlock failed, continuing without pinning", "err", err)
			}
		}
	}
	a.slabs = append(a.slabs, slab)
	a.stat.arenaGrows++
	return nil
}

func (a *arena) Alloc() (Handle, []byte, error) {
	h, ok := a.popFree()
	if !ok {
		idx := int(a.next) - 1
		if idx/slabBlocks >= len(a.slabs) {
			if err := a.growSlab(); err != nil {
				a.stat.outOfMemoryCount++
				return nilHandle, nil, fmt.Errorf("%w: %v", ErrOutOfMemory, err)
			}
		}
		h = a.next
		a.next++
	}
	buf := a.blockOf(h)
	clear(buf)
	if a.live != nil {
		a.live.StoreOk(uint64(h), struct{}{})
	}
	return h, buf, nil
}

func (a *arena) Deref(h Handle) []byte {
	preconditionAssert(h != nilHandle, "Deref(nilHandle)")
	preconditionAssert(int(h) <= int(a.next)-1, "Deref of never-allocated handle %d", h)
	return a.blockOf(h)
}

func (a *arena) Free(h Handle) {
	preconditionAssert(h != nilHandle, "Free(nilHandle)")
	if a.live != nil {
		if _, ok := a.live.LoadOk(uint64(h)); !ok {
			panic(&PreconditionViolation{Reason: fmt.Sprintf("double free of handle %d", h)})
		}
		a.live.Delete(uint64(h))
	}
	a.pushFree(h)
}

func (a *arena) Reset() {
	a.slabs = nil
	a.free = nil
	a.next = 1
	if a.live != nil {
		a.live = cmap.NewBtreeMap[uint64, struct{}](64)
	}
}

// liveCount reports outstanding handles; only meaningful when the
// arena was built with debug tracking enabled.
func (a *arena) liveCount() int {
	if a.live == nil {
		return -1
	}
	n := 0
	for h := Handle(1); h < a.next; h++ {
		if _, ok := a.live.LoadOk(uint64(h)); ok {
			n++
		}
	}
	return n
}

// --- free-handle min-heap, adapted from the teacher's freelist.go
// pushPageId/popPageId sift routines with the disk paging stripped out.

func (a *arena) pushFree(h Handle) {
	a.free = append(a.free, h)
	i := len(a.free) - 1
	for i > 0 {
		parent := (i - 1) / 2
		if a.free[i] >= a.free[parent] {
			break
		}
		a.free[i], a.free[parent] = a.free[parent], a.free[i]
		i = parent
	}
}

func (a *arena) popFree() (Handle, bool) {
	if len(a.free) == 0 {
		return nilHandle, false
	}
	top := a.free[0]
	last := len(a.free) - 1
	a.free[0] = a.free[last]
	a.free = a.free[:last]
	i := 0
	for {
		left, right := 2*i+1, 2*i+2
		smallest := i
		if left < len(a.free) && a.free[left] < a.free[smallest] {
			smallest = left
		}
		if right < len(a.free) && a.free[right] < a.free[smallest] {
			smallest = right
		}
		if smallest == i {
			break
		}
		a.free[i], a.free[smallest] = a.free[smallest], a.free[i]
		i = smallest
	}
	return top, true
}
