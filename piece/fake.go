package piece

import (
	"errors"
	"fmt"
	"io"
)

// FakeDatabase is a small in-memory Database for tests, kept in the
// production package the way the teacher keeps conn/fake_peer.go alongside
// conn.Conn rather than under a separate test helper tree.
type FakeDatabase struct {
	pieceLength int64
	pieces      []*FakePiece
}

// NewFakeDatabase creates a database of numPieces pieces, each pieceLength
// bytes, with blockSize-sized blocks.
func NewFakeDatabase(numPieces int, pieceLength int64, blockSize int) *FakeDatabase {
	d := &FakeDatabase{pieceLength: pieceLength}
	for i := 0; i < numPieces; i++ {
		d.pieces = append(d.pieces, newFakePiece(i, pieceLength, blockSize))
	}
	return d
}

func (d *FakeDatabase) NumPieces() int { return len(d.pieces) }

func (d *FakeDatabase) PieceLength(index int) int64 { return d.pieceLength }

func (d *FakeDatabase) Piece(index int) (Piece, error) {
	if index < 0 || index >= len(d.pieces) {
		return nil, errors.New("piece index out of range")
	}
	return d.pieces[index], nil
}

// FakePiece is a fully in-memory Piece, with no validation failure
// simulation beyond what tests set explicitly via Invalid.
type FakePiece struct {
	index     int
	length    int64
	blockSize int
	data      []byte
	requested map[int]bool
	written   map[int]bool

	// Invalid, if set, makes the next WriteBlock that completes this
	// piece return an error instead of marking it complete.
	Invalid bool
}

func newFakePiece(index int, length int64, blockSize int) *FakePiece {
	return &FakePiece{
		index:     index,
		length:    length,
		blockSize: blockSize,
		data:      make([]byte, length),
		requested: make(map[int]bool),
		written:   make(map[int]bool),
	}
}

func (p *FakePiece) Index() int { return p.index }

func (p *FakePiece) IsComplete() bool {
	for begin := 0; int64(begin) < p.length; begin += p.blockSize {
		if !p.written[begin] {
			return false
		}
	}
	return true
}

func (p *FakePiece) IsFullyRequested() bool {
	for begin := 0; int64(begin) < p.length; begin += p.blockSize {
		if p.written[begin] {
			continue
		}
		if !p.requested[begin] {
			return false
		}
	}
	return true
}

func (p *FakePiece) PollBlockRequest() (BlockRequest, bool) {
	for begin := 0; int64(begin) < p.length; begin += p.blockSize {
		if p.written[begin] || p.requested[begin] {
			continue
		}
		p.requested[begin] = true
		return BlockRequest{Index: p.index, Begin: begin, Length: p.blockLen(begin)}, true
	}
	return BlockRequest{}, false
}

func (p *FakePiece) blockLen(begin int) int {
	remaining := int(p.length) - begin
	if remaining < p.blockSize {
		return remaining
	}
	return p.blockSize
}

func (p *FakePiece) WriteBlock(begin int, data []byte) error {
	if begin < 0 || int64(begin)+int64(len(data)) > p.length {
		return fmt.Errorf("%w: block out of range", ErrWriteFailed)
	}
	copy(p.data[begin:], data)
	p.written[begin] = true

	if p.IsComplete() && p.Invalid {
		delete(p.written, begin)
		return ErrValidationFailed
	}
	return nil
}

func (p *FakePiece) GiveBackBlock(begin int) {
	delete(p.requested, begin)
}

func (p *FakePiece) DropDownloadProgress() {
	p.requested = make(map[int]bool)
	p.written = make(map[int]bool)
}

func (p *FakePiece) WriteBlockToStream(w io.Writer, begin, length int) error {
	if begin < 0 || int64(begin)+int64(length) > p.length {
		return errors.New("block out of range")
	}
	_, err := w.Write(p.data[begin : begin+length])
	return err
}
