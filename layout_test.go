package bptree

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewNodeLayoutFanOut(t *testing.T) {
	lay := newNodeLayout(8, false)
	require.Less(t, lay.maxLeafKeys, 128)
	require.GreaterOrEqual(t, lay.maxInnerKeys, 2)
	require.Equal(t, lay.maxLeafKeys/2, lay.minLeafKeys)
	require.Equal(t, lay.maxInnerKeys/2, lay.minInnerKeys)
	require.Equal(t, handleSize, lay.childStride)
}

func TestNewNodeLayoutAugmentedWidensChildStride(t *testing.T) {
	plain := newNodeLayout(8, false)
	augmented := newNodeLayout(8, true)
	require.Equal(t, plain.childStride+2, augmented.childStride)
	require.LessOrEqual(t, augmented.maxInnerKeys, plain.maxInnerKeys)
}

func TestNewNodeLayoutRejectsOversizedKey(t *testing.T) {
	require.Panics(t, func() {
		newNodeLayout(64, false)
	})
}

func TestNewNodeLayoutRejectsZeroKey(t *testing.T) {
	require.Panics(t, func() {
		newNodeLayout(0, false)
	})
}
