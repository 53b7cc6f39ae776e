package peerconn

import (
	"fmt"

	"github.com/willf/bitset"

	"github.com/zhangjinde/yabtorrent/pwpwire"
)

// EventKind identifies what kind of inbound PWP message HandleMessage
// decoded.
type EventKind int

const (
	EventKeepAlive EventKind = iota
	EventChoke
	EventUnchoke
	EventInterested
	EventNotInterested
	EventHave
	EventBitfield
	EventRequest
	EventPiece
	EventCancel
)

// Event is the decoded, bookkeeping-applied result of an inbound PWP
// message. The mediator interprets Events to drive domain logic (the
// piece selector, piece database, blacklist); Conn itself only updates its
// own flags, bitfield, and rate counters.
type Event struct {
	Kind   EventKind
	Index  int
	Begin  int
	Length int
	Block  []byte
}

// HandleMessage applies msg to this connection's state and returns the
// Event the mediator should act on.
func (c *Conn) HandleMessage(msg pwpwire.Message) (Event, error) {
	if msg.KeepAlive() {
		return Event{Kind: EventKeepAlive}, nil
	}

	switch msg.ID {
	case pwpwire.Choke:
		c.mu.Lock()
		c.peerChoking = true
		c.mu.Unlock()
		return Event{Kind: EventChoke}, nil

	case pwpwire.Unchoke:
		c.mu.Lock()
		c.peerChoking = false
		c.mu.Unlock()
		return Event{Kind: EventUnchoke}, nil

	case pwpwire.Interested:
		c.mu.Lock()
		c.peerInterested = true
		c.mu.Unlock()
		return Event{Kind: EventInterested}, nil

	case pwpwire.NotInterested:
		c.mu.Lock()
		c.peerInterested = false
		c.mu.Unlock()
		return Event{Kind: EventNotInterested}, nil

	case pwpwire.Have:
		index, err := pwpwire.DecodeHave(msg.Payload)
		if err != nil {
			return Event{}, err
		}
		c.mu.Lock()
		if c.remoteBitfield != nil {
			c.remoteBitfield.Set(uint(index))
		}
		c.mu.Unlock()
		return Event{Kind: EventHave, Index: int(index)}, nil

	case pwpwire.Bitfield:
		c.mu.Lock()
		bits := bitset.New(uint(c.numPieces))
		for i := 0; i < c.numPieces; i++ {
			byteIdx, bitIdx := i/8, 7-i%8
			if byteIdx < len(msg.Payload) && msg.Payload[byteIdx]&(1<<uint(bitIdx)) != 0 {
				bits.Set(uint(i))
			}
		}
		c.remoteBitfield = bits
		c.mu.Unlock()
		return Event{Kind: EventBitfield}, nil

	case pwpwire.Request:
		index, begin, length, err := pwpwire.DecodeRequest(msg.Payload)
		if err != nil {
			return Event{}, err
		}
		return Event{Kind: EventRequest, Index: int(index), Begin: int(begin), Length: int(length)}, nil

	case pwpwire.Piece:
		index, begin, block, err := pwpwire.DecodePiece(msg.Payload)
		if err != nil {
			return Event{}, err
		}
		c.mu.Lock()
		delete(c.pending, blockKey(int(index), int(begin)))
		c.mu.Unlock()
		c.down.add(len(block))
		c.stats.Counter("bytes_received").Inc(int64(len(block)))
		return Event{Kind: EventPiece, Index: int(index), Begin: int(begin), Block: block}, nil

	case pwpwire.Cancel:
		index, begin, length, err := pwpwire.DecodeRequest(msg.Payload)
		if err != nil {
			return Event{}, err
		}
		return Event{Kind: EventCancel, Index: int(index), Begin: int(begin), Length: int(length)}, nil

	default:
		return Event{}, fmt.Errorf("peerconn: unknown message id %d", msg.ID)
	}
}

// RemoteHasPiece reports whether the remote bitfield marks index as held.
func (c *Conn) RemoteHasPiece(index int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.remoteBitfield == nil {
		return false
	}
	return c.remoteBitfield.Test(uint(index))
}
