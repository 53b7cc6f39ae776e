package completion

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBitmapMarkAndQuery(t *testing.T) {
	b := New(4)
	require.False(t, b.IsComplete(0))
	require.Equal(t, 0, b.Count())
	require.False(t, b.Complete(4))

	b.MarkComplete(0)
	b.MarkComplete(2)

	require.True(t, b.IsComplete(0))
	require.False(t, b.IsComplete(1))
	require.True(t, b.IsComplete(2))
	require.Equal(t, 2, b.Count())
	require.Equal(t, []uint{0, 2}, b.AllSet())
	require.Equal(t, "1010", b.String())
}

func TestBitmapComplete(t *testing.T) {
	b := New(2)
	b.MarkComplete(0)
	require.False(t, b.Complete(2))
	b.MarkComplete(1)
	require.True(t, b.Complete(2))
}

func TestBitmapSnapshotIsIndependentCopy(t *testing.T) {
	b := New(2)
	b.MarkComplete(0)

	snap := b.Snapshot()
	require.True(t, snap.Test(0))

	b.MarkComplete(1)
	require.False(t, snap.Test(1), "snapshot must not observe later mutation")
}
