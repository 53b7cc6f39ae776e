package core

import "fmt"

// Endpoint is a remote or local network address the mediator reasons about.
// It never owns a socket; the embedder's opaque network handle does that.
type Endpoint struct {
	IP   string
	Port int
}

func (e Endpoint) String() string {
	return fmt.Sprintf("%s:%d", e.IP, e.Port)
}

// TorrentParams are the immutable torrent-wide parameters the mediator is
// configured with at construction time: piece layout, identity, and local
// listen address. See spec.md §3 "Torrent parameters".
type TorrentParams struct {
	// NumPieces is the total number of pieces in the torrent.
	NumPieces int

	// PieceLength is the length, in bytes, of every piece except possibly
	// the last.
	PieceLength int64

	// LastPieceLength is the length, in bytes, of the final piece. Equal to
	// PieceLength unless the torrent length isn't an exact multiple of it.
	LastPieceLength int64

	// InfoHash identifies the torrent.
	InfoHash InfoHash

	// LocalPeerID identifies this client to remote peers.
	LocalPeerID PeerID

	// LocalEndpoint is this client's own listen address, used to suppress
	// self-adds in AddPeer.
	LocalEndpoint Endpoint
}

// PieceLengthAt returns the length of piece i, accounting for the final
// piece's possibly-shorter length.
func (p TorrentParams) PieceLengthAt(i int) int64 {
	if i == p.NumPieces-1 {
		return p.LastPieceLength
	}
	return p.PieceLength
}
