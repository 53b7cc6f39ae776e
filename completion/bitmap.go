// Package completion tracks which pieces of a torrent are complete.
//
// Bitmap is the single source of truth the mediator consults to answer "is
// piece i done", and its invariant (spec.md §8, invariant 1) is that index i
// is set if and only if the piece object backing it reports complete and
// the piece selector has been told HavePiece(i) exactly once.
package completion

import (
	"bytes"
	"sync"

	"github.com/willf/bitset"
)

// Bitmap is a thread-safe sparse "which pieces are complete" set over piece
// indices 0..n-1.
type Bitmap struct {
	mu sync.RWMutex
	b  *bitset.BitSet
}

// New creates a Bitmap sized for n pieces, all initially incomplete.
func New(n int) *Bitmap {
	return &Bitmap{b: bitset.New(uint(n))}
}

// MarkComplete marks piece i as complete.
func (m *Bitmap) MarkComplete(i int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.b.Set(uint(i))
}

// IsComplete returns whether piece i is marked complete.
func (m *Bitmap) IsComplete(i int) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.b.Test(uint(i))
}

// Count returns the number of complete pieces.
func (m *Bitmap) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return int(m.b.Count())
}

// Complete returns true if all n pieces are marked complete.
func (m *Bitmap) Complete(n int) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return int(m.b.Count()) == n
}

// Snapshot returns a copy of the underlying bitset, safe for the caller to
// mutate or hand off (e.g. to serialize as a PWP BITFIELD message).
func (m *Bitmap) Snapshot() *bitset.BitSet {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.b.Clone()
}

// AllSet returns the indices of every complete piece, in ascending order.
func (m *Bitmap) AllSet() []uint {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var all []uint
	buf := make([]uint, m.b.Len())
	j := uint(0)
	for j, buf = m.b.NextSetMany(j, buf); len(buf) > 0; j, buf = m.b.NextSetMany(j, buf) {
		all = append(all, buf...)
		j++
	}
	return all
}

func (m *Bitmap) String() string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var buf bytes.Buffer
	for i := uint(0); i < m.b.Len(); i++ {
		if m.b.Test(i) {
			buf.WriteString("1")
		} else {
			buf.WriteString("0")
		}
	}
	return buf.String()
}
