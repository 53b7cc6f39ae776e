package blacklist

import (
	"testing"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/stretchr/testify/require"

	"github.com/zhangjinde/yabtorrent/core"
)

func peerID(b byte) core.PeerID {
	var p core.PeerID
	p[0] = b
	return p
}

func TestSingleContributorConfirmsImmediately(t *testing.T) {
	bl := New(Config{}, clock.NewMock())

	p := peerID(1)
	promoted := bl.RecordBadPiece(0, []core.PeerID{p})

	require.Equal(t, []core.PeerID{p}, promoted)
	require.True(t, bl.Blacklisted(p))
}

func TestMultiContributorOnlyPromotesAfterThreshold(t *testing.T) {
	bl := New(Config{PromotionThreshold: 2}, clock.NewMock())

	p1, p2 := peerID(1), peerID(2)

	promoted := bl.RecordBadPiece(0, []core.PeerID{p1, p2})
	require.Empty(t, promoted)
	require.False(t, bl.Blacklisted(p1))
	require.False(t, bl.Blacklisted(p2))

	promoted = bl.RecordBadPiece(1, []core.PeerID{p1})
	require.Equal(t, []core.PeerID{p1}, promoted, "p1 was sole contributor to a different bad piece, confirms immediately")

	// p1 already confirmed via the single-contributor path above; verify p2
	// still needs a second distinct bad piece to be promoted.
	require.True(t, bl.Blacklisted(p1))
	require.False(t, bl.Blacklisted(p2))

	promoted = bl.RecordBadPiece(2, []core.PeerID{p2, peerID(3)})
	require.Equal(t, []core.PeerID{p2}, promoted, "piece 2 is p2's second distinct bad piece")
	require.True(t, bl.Blacklisted(p2))

	promoted = bl.RecordBadPiece(3, []core.PeerID{p2, peerID(3)})
	require.ElementsMatch(t, []core.PeerID{peerID(3)}, promoted)
	require.True(t, bl.Blacklisted(p2))
}

func TestEntryExpires(t *testing.T) {
	mock := clock.NewMock()
	bl := New(Config{Expiration: time.Minute}, mock)

	p := peerID(1)
	bl.RecordBadPiece(0, []core.PeerID{p})
	require.True(t, bl.Blacklisted(p))

	mock.Add(2 * time.Minute)
	require.False(t, bl.Blacklisted(p))
}

func TestClear(t *testing.T) {
	bl := New(Config{}, clock.NewMock())
	p := peerID(1)
	bl.RecordBadPiece(0, []core.PeerID{p})
	require.True(t, bl.Blacklisted(p))

	bl.Clear()
	require.False(t, bl.Blacklisted(p))
}
