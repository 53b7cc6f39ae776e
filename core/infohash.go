package core

import (
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
)

// InfoHash is the 20-byte SHA1 hash identifying a torrent.
type InfoHash [20]byte

// NewInfoHashFromHex converts a hexadecimal string into an InfoHash.
func NewInfoHashFromHex(s string) (InfoHash, error) {
	if len(s) != 40 {
		return InfoHash{}, fmt.Errorf("invalid hash: expected 40 characters, got %d", len(s))
	}
	var h InfoHash
	n, err := hex.Decode(h[:], []byte(s))
	if err != nil {
		return InfoHash{}, fmt.Errorf("invalid hex: %s", err)
	}
	if n != 20 {
		return InfoHash{}, errors.New("invariant violation: expected 20 bytes")
	}
	return h, nil
}

// NewInfoHashFromBytes wraps a raw 20-byte info hash read off the wire.
func NewInfoHashFromBytes(b []byte) (InfoHash, error) {
	var h InfoHash
	if len(b) != 20 {
		return h, errors.New("invalid info hash length")
	}
	copy(h[:], b)
	return h, nil
}

// HashInfo returns the InfoHash of the given raw bencoded info dict bytes.
// The core never constructs this itself (metainfo parsing is out of scope);
// it is provided for embedders that need to derive an InfoHash from bytes.
func HashInfo(infoBytes []byte) InfoHash {
	var h InfoHash
	sum := sha1.Sum(infoBytes)
	copy(h[:], sum[:])
	return h
}

// Bytes converts h to raw bytes.
func (h InfoHash) Bytes() []byte {
	return h[:]
}

// Hex converts h into hexadecimal notation.
func (h InfoHash) Hex() string {
	return hex.EncodeToString(h[:])
}

func (h InfoHash) String() string {
	return h.Hex()
}
