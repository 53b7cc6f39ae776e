// Package selector implements the piece selection strategies described in
// spec.md §4.3: random, rarest-first, and sequential. All three share the
// same bookkeeping (which peers have which pieces, global rarity counts,
// which pieces are already assigned) and differ only in how PollPiece
// ranks candidates, mirroring the single `pieceSelectionPolicy` interface
// the teacher's piecerequest package dispatches to.
package selector

import (
	"math/rand"

	"github.com/willf/bitset"

	"github.com/zhangjinde/yabtorrent/core"
)

// Selector is the piece-selection contract spec.md §4.3 requires of every
// strategy.
type Selector interface {
	// AddPeer registers peer with an empty "has" set.
	AddPeer(peer core.PeerID)

	// RemovePeer forgets peer and frees any piece assigned to it.
	RemovePeer(peer core.PeerID)

	// HavePiece records that the local peer now has index complete.
	HavePiece(index int)

	// PeerHavePiece records that peer has index (from a BITFIELD or HAVE
	// message).
	PeerHavePiece(peer core.PeerID, index int)

	// PeerGivebackPiece releases a piece previously returned by PollPiece
	// for peer, e.g. because the peer disconnected or the piece failed
	// validation.
	PeerGivebackPiece(peer core.PeerID, index int)

	// PollPiece returns the next piece peer should be asked for, or
	// ok=false if peer has nothing useful to offer right now.
	PollPiece(peer core.PeerID) (index int, ok bool)
}

// base holds the bookkeeping shared by every strategy.
type base struct {
	numPieces int
	have      *bitset.BitSet // pieces the local peer already has
	assigned  *bitset.BitSet // pieces currently polled out to some peer
	rarity    []int          // number of known peers holding each piece
	peerHas   map[core.PeerID]*bitset.BitSet
	assignee  map[int]core.PeerID // piece index -> peer it was polled out to
}

func newBase(numPieces int) base {
	return base{
		numPieces: numPieces,
		have:      bitset.New(uint(numPieces)),
		assigned:  bitset.New(uint(numPieces)),
		rarity:    make([]int, numPieces),
		peerHas:   make(map[core.PeerID]*bitset.BitSet),
		assignee:  make(map[int]core.PeerID),
	}
}

func (b *base) AddPeer(peer core.PeerID) {
	if _, ok := b.peerHas[peer]; ok {
		return
	}
	b.peerHas[peer] = bitset.New(uint(b.numPieces))
}

func (b *base) RemovePeer(peer core.PeerID) {
	bs, ok := b.peerHas[peer]
	if !ok {
		return
	}
	for i := uint(0); i < bs.Len(); i++ {
		if bs.Test(i) {
			b.rarity[i]--
		}
	}
	delete(b.peerHas, peer)

	for piece, assignee := range b.assignee {
		if assignee == peer {
			b.assigned.Clear(uint(piece))
			delete(b.assignee, piece)
		}
	}
}

func (b *base) HavePiece(index int) {
	b.have.Set(uint(index))
}

func (b *base) PeerHavePiece(peer core.PeerID, index int) {
	bs, ok := b.peerHas[peer]
	if !ok {
		bs = bitset.New(uint(b.numPieces))
		b.peerHas[peer] = bs
	}
	if !bs.Test(uint(index)) {
		bs.Set(uint(index))
		b.rarity[index]++
	}
}

func (b *base) PeerGivebackPiece(peer core.PeerID, index int) {
	if b.assignee[index] == peer {
		b.assigned.Clear(uint(index))
		delete(b.assignee, index)
	}
}

// candidates returns the indices peer has that we don't, and that aren't
// already assigned to some other peer.
func (b *base) candidates(peer core.PeerID) []uint {
	bs, ok := b.peerHas[peer]
	if !ok {
		return nil
	}
	want := bs.Difference(b.have).Difference(b.assigned)

	var out []uint
	for i := uint(0); i < want.Len(); i++ {
		if want.Test(i) {
			out = append(out, i)
		}
	}
	return out
}

func (b *base) assign(peer core.PeerID, index uint) (int, bool) {
	b.assigned.Set(index)
	b.assignee[int(index)] = peer
	return int(index), true
}

// Random polls uniformly among the candidate set.
type Random struct {
	base
	rng *rand.Rand
}

// NewRandom creates a Random selector for a torrent of numPieces pieces.
// rng may be nil, in which case a package-default source is used.
func NewRandom(numPieces int, rng *rand.Rand) *Random {
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	return &Random{base: newBase(numPieces), rng: rng}
}

func (s *Random) PollPiece(peer core.PeerID) (int, bool) {
	cands := s.candidates(peer)
	if len(cands) == 0 {
		return 0, false
	}
	return s.assign(peer, cands[s.rng.Intn(len(cands))])
}

// RarestFirst polls the candidate with the lowest global rarity count,
// ties broken by lowest piece index for determinism.
type RarestFirst struct {
	base
}

// NewRarestFirst creates a RarestFirst selector for numPieces pieces.
func NewRarestFirst(numPieces int) *RarestFirst {
	return &RarestFirst{base: newBase(numPieces)}
}

func (s *RarestFirst) PollPiece(peer core.PeerID) (int, bool) {
	cands := s.candidates(peer)
	if len(cands) == 0 {
		return 0, false
	}

	best := cands[0]
	for _, c := range cands[1:] {
		if s.rarity[c] < s.rarity[best] {
			best = c
		}
	}
	return s.assign(peer, best)
}

// Sequential polls the lowest-index candidate.
type Sequential struct {
	base
}

// NewSequential creates a Sequential selector for numPieces pieces.
func NewSequential(numPieces int) *Sequential {
	return &Sequential{base: newBase(numPieces)}
}

func (s *Sequential) PollPiece(peer core.PeerID) (int, bool) {
	cands := s.candidates(peer)
	if len(cands) == 0 {
		return 0, false
	}

	best := cands[0]
	for _, c := range cands[1:] {
		if c < best {
			best = c
		}
	}
	return s.assign(peer, best)
}
