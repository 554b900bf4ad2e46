package bptree

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestArenaAllocFree(t *testing.T) {
	a := newArena(false, nil, &iStat{}, true)
	h1, buf1, err := a.Alloc()
	require.NoError(t, err)
	require.NotEqual(t, nilHandle, h1)
	require.Len(t, buf1, blockSize)

	h2, _, err := a.Alloc()
	require.NoError(t, err)
	require.NotEqual(t, h1, h2)
	require.Equal(t, 2, a.liveCount())

	a.Free(h1)
	require.Equal(t, 1, a.liveCount())
}

func TestArenaReusesFreedHandles(t *testing.T) {
	a := newArena(false, nil, &iStat{}, false)
	h1, _, err := a.Alloc()
	require.NoError(t, err)
	a.Free(h1)
	h2, _, err := a.Alloc()
	require.NoError(t, err)
	require.Equal(t, h1, h2)
}

func TestArenaDoubleFreePanics(t *testing.T) {
	a := newArena(false, nil, &iStat{}, true)
	h, _, err := a.Alloc()
	require.NoError(t, err)
	a.Free(h)
	require.Panics(t, func() {
		a.Free(h)
	})
}

func TestArenaGrowsAcrossSlabBoundary(t *testing.T) {
	a := newArena(false, nil, &iStat{}, false)
	var last Handle
	for i := 0; i < slabBlocks+10; i++ {
		h, buf, err := a.Alloc()
		require.NoError(t, err)
		buf[0] = 1
		last = h
	}
	require.Equal(t, 2, len(a.slabs))
	require.Equal(t, byte(1), a.Deref(last)[0])
}

func TestArenaReset(t *testing.T) {
	a := newArena(false, nil, &iStat{}, true)
	for i := 0; i < 5; i++ {
		_, _, err := a.Alloc()
		require.NoError(t, err)
	}
	a.Reset()
	require.Equal(t, 0, a.liveCount())
	require.Equal(t, Handle(1), a.next)
	h, _, err := a.Alloc()
	require.NoError(t, err)
	require.Equal(t, Handle(1), h)
}
