package choker

import (
	"testing"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/stretchr/testify/require"

	"github.com/zhangjinde/yabtorrent/core"
)

type fakePeer struct {
	id           core.PeerID
	downRate     float64
	upRate       float64
	interested   bool
	choked       bool
	unchokeCalls int
	chokeCalls   int
}

func newFakePeer(b byte, rate float64) *fakePeer {
	var id core.PeerID
	id[0] = b
	return &fakePeer{id: id, downRate: rate, upRate: rate, interested: true, choked: true}
}

func (p *fakePeer) ID() core.PeerID        { return p.id }
func (p *fakePeer) DownloadRate() float64  { return p.downRate }
func (p *fakePeer) UploadRate() float64    { return p.upRate }
func (p *fakePeer) IsInterested() bool     { return p.interested }
func (p *fakePeer) IsChoked() bool         { return p.choked }
func (p *fakePeer) Choke()                 { p.choked = true; p.chokeCalls++ }
func (p *fakePeer) Unchoke()               { p.choked = false; p.unchokeCalls++ }

func TestLeecherReciprocatesTopDownloadRates(t *testing.T) {
	mock := clock.NewMock()
	l := NewLeecher(Config{MaxActivePeers: 1, ReciprocationInterval: time.Second, OptimisticInterval: time.Hour}, mock)

	fast := newFakePeer(1, 100)
	slow := newFakePeer(2, 10)
	l.AddPeer(fast)
	l.AddPeer(slow)

	mock.Add(2 * time.Second)
	l.Tick()

	require.False(t, fast.choked)
	require.True(t, slow.choked)
}

func TestLeecherOptimisticUnchokePicksInterestedChokedPeer(t *testing.T) {
	mock := clock.NewMock()
	l := NewLeecher(Config{MaxActivePeers: 0, ReciprocationInterval: time.Hour, OptimisticInterval: time.Second}, mock)

	p := newFakePeer(1, 5)
	l.AddPeer(p)

	mock.Add(2 * time.Second)
	l.Tick()

	require.False(t, p.choked)
	require.Equal(t, 1, p.unchokeCalls)
}

func TestLeecherIgnoresUninterestedPeers(t *testing.T) {
	mock := clock.NewMock()
	l := NewLeecher(Config{MaxActivePeers: 5, ReciprocationInterval: time.Second, OptimisticInterval: time.Hour}, mock)

	p := newFakePeer(1, 100)
	p.interested = false
	l.AddPeer(p)

	mock.Add(2 * time.Second)
	l.Tick()

	require.True(t, p.choked, "uninterested peers are never reciprocated")
}

func TestSeederReciprocatesTopUploadRates(t *testing.T) {
	mock := clock.NewMock()
	s := NewSeeder(Config{MaxActivePeers: 1, ReciprocationInterval: time.Second, OptimisticInterval: time.Hour}, mock)

	fast := newFakePeer(1, 100)
	slow := newFakePeer(2, 10)
	s.AddPeer(fast)
	s.AddPeer(slow)

	mock.Add(2 * time.Second)
	s.Tick()

	require.False(t, fast.choked)
	require.True(t, slow.choked)
}

func TestRemovePeerClearsOptimisticChokeState(t *testing.T) {
	mock := clock.NewMock()
	l := NewLeecher(Config{MaxActivePeers: 0, ReciprocationInterval: time.Hour, OptimisticInterval: time.Second}, mock)

	p := newFakePeer(1, 5)
	l.AddPeer(p)
	mock.Add(2 * time.Second)
	l.Tick()
	require.True(t, l.haveOptimisticChoke)

	l.RemovePeer(p.ID())
	require.False(t, l.haveOptimisticChoke)
}
