// Package piece declares the contract the piece database storage backend
// must satisfy. Per spec.md §1 this backend is an external collaborator —
// specified only by interface, never implemented here — mirroring how the
// teacher treats its storage.Torrent/TorrentInfo backends as pluggable.
package piece

import (
	"errors"
	"io"
)

// ErrWriteFailed wraps a WriteBlock failure that leaves the piece's state
// unchanged and may succeed on a later retry (spec.md §7's "Block write
// I/O error" row) — a short write, a full disk, a bad begin/length. It is
// distinct from ErrValidationFailed and must never trigger the blacklist
// policy, mirroring bt_piece_write_block's `0` ("write error") return.
var ErrWriteFailed = errors.New("piece: write failed")

// ErrValidationFailed is returned by WriteBlock when the piece completed
// but failed its integrity check, per spec.md §7's "Invalid piece after
// completion" row. Only this outcome may trigger the §4.5 blacklist
// policy, mirroring bt_piece_write_block's `-1` ("invalid piece") return.
var ErrValidationFailed = errors.New("piece: validation failed")

// BlockRequest names a single PWP REQUEST-sized span within a piece.
type BlockRequest struct {
	Index  int
	Begin  int
	Length int
}

// Piece is a single piece's on-disk (or in-memory) state, as seen by the
// mediator and peer connection state machine.
type Piece interface {
	// Index is this piece's index within the torrent.
	Index() int

	// IsComplete reports whether every block of this piece has been
	// written and has passed validation.
	IsComplete() bool

	// IsFullyRequested reports whether every remaining block already has
	// an outstanding request against some peer.
	IsFullyRequested() bool

	// PollBlockRequest returns the next block that should be requested,
	// or ok=false if none remain to request.
	PollBlockRequest() (req BlockRequest, ok bool)

	// WriteBlock records data received for the block starting at begin.
	// Returns nil if the block was accepted (whether or not the piece is
	// now complete and valid), ErrWriteFailed if the write itself could
	// not be performed (piece state unchanged, retry may succeed), or
	// ErrValidationFailed if writing this block completed the piece but
	// it failed its integrity check. Callers should use errors.Is against
	// those two sentinels rather than branching on a bare non-nil error.
	WriteBlock(begin int, data []byte) error

	// GiveBackBlock releases a previously polled block request, e.g.
	// because its peer disconnected or timed out, so it can be reassigned.
	GiveBackBlock(begin int)

	// DropDownloadProgress discards any partially-downloaded data for
	// this piece, per spec.md §4.5's giveback-and-drop-progress policy
	// for potentially-bad contributors.
	DropDownloadProgress()

	// WriteBlockToStream writes length bytes starting at begin to w, for
	// serving a PWP PIECE message to a requesting peer.
	WriteBlockToStream(w io.Writer, begin, length int) error
}

// Database is the piece storage backend: the external collaborator spec.md
// §1 places out of scope. The mediator only ever reaches pieces through
// this interface.
type Database interface {
	// NumPieces returns the number of pieces in the torrent.
	NumPieces() int

	// PieceLength returns the length in bytes of piece index.
	PieceLength(index int) int64

	// Piece returns the Piece for index.
	Piece(index int) (Piece, error)
}
