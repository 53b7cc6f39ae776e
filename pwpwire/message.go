package pwpwire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// MessageID identifies a PWP message type, per spec.md §6.
type MessageID byte

// The classic PWP message ids.
const (
	Choke        MessageID = 0
	Unchoke      MessageID = 1
	Interested   MessageID = 2
	NotInterested MessageID = 3
	Have         MessageID = 4
	Bitfield     MessageID = 5
	Request      MessageID = 6
	Piece        MessageID = 7
	Cancel       MessageID = 8
)

func (id MessageID) String() string {
	switch id {
	case Choke:
		return "choke"
	case Unchoke:
		return "unchoke"
	case Interested:
		return "interested"
	case NotInterested:
		return "not_interested"
	case Have:
		return "have"
	case Bitfield:
		return "bitfield"
	case Request:
		return "request"
	case Piece:
		return "piece"
	case Cancel:
		return "cancel"
	default:
		return fmt.Sprintf("unknown(%d)", byte(id))
	}
}

// Message is a single length-prefixed PWP message. The PWP keep-alive is
// the zero-length message, represented by ID noID (see NewKeepAlive); the
// zero value Message{} is a CHOKE.
type Message struct {
	ID      MessageID
	Payload []byte
}

// noID marks a Message as a keep-alive, distinguishing it from a true
// zero-valued CHOKE message (ID 0).
const noID MessageID = 0xff

// KeepAlive reports whether m is a keep-alive (empty) message.
func (m Message) KeepAlive() bool {
	return m.ID == noID
}

func (m Message) hasIDSet() bool { return m.ID != noID }

// ErrMessageTooLarge is returned when a peer's length prefix exceeds
// MaxMessageLen.
var ErrMessageTooLarge = errors.New("pwpwire: message exceeds MaxMessageLen")

// MaxMessageLen bounds the length prefix to guard against a malicious or
// corrupt peer claiming an enormous allocation.
const MaxMessageLen = 1 << 20

// NewKeepAlive returns the PWP keep-alive message.
func NewKeepAlive() Message {
	return Message{ID: noID}
}

// NewChoke, NewUnchoke, ... construct the zero-payload control messages.
func NewChoke() Message         { return Message{ID: Choke} }
func NewUnchoke() Message       { return Message{ID: Unchoke} }
func NewInterested() Message    { return Message{ID: Interested} }
func NewNotInterested() Message { return Message{ID: NotInterested} }

// NewHave constructs a HAVE message for piece index.
func NewHave(index uint32) Message {
	payload := make([]byte, 4)
	binary.BigEndian.PutUint32(payload, index)
	return Message{ID: Have, Payload: payload}
}

// NewBitfield constructs a BITFIELD message from raw bitfield bytes.
func NewBitfield(bits []byte) Message {
	return Message{ID: Bitfield, Payload: bits}
}

// NewRequest constructs a REQUEST message.
func NewRequest(index, begin, length uint32) Message {
	payload := make([]byte, 12)
	binary.BigEndian.PutUint32(payload[0:4], index)
	binary.BigEndian.PutUint32(payload[4:8], begin)
	binary.BigEndian.PutUint32(payload[8:12], length)
	return Message{ID: Request, Payload: payload}
}

// NewCancel constructs a CANCEL message; same layout as REQUEST.
func NewCancel(index, begin, length uint32) Message {
	m := NewRequest(index, begin, length)
	m.ID = Cancel
	return m
}

// NewPiece constructs a PIECE message.
func NewPiece(index, begin uint32, block []byte) Message {
	payload := make([]byte, 8+len(block))
	binary.BigEndian.PutUint32(payload[0:4], index)
	binary.BigEndian.PutUint32(payload[4:8], begin)
	copy(payload[8:], block)
	return Message{ID: Piece, Payload: payload}
}

// DecodeRequest extracts (index, begin, length) from a REQUEST or CANCEL
// message's payload.
func DecodeRequest(payload []byte) (index, begin, length uint32, err error) {
	if len(payload) != 12 {
		return 0, 0, 0, fmt.Errorf("pwpwire: request payload must be 12 bytes, got %d", len(payload))
	}
	return binary.BigEndian.Uint32(payload[0:4]), binary.BigEndian.Uint32(payload[4:8]), binary.BigEndian.Uint32(payload[8:12]), nil
}

// DecodeHave extracts the piece index from a HAVE message's payload.
func DecodeHave(payload []byte) (uint32, error) {
	if len(payload) != 4 {
		return 0, fmt.Errorf("pwpwire: have payload must be 4 bytes, got %d", len(payload))
	}
	return binary.BigEndian.Uint32(payload), nil
}

// DecodePiece extracts (index, begin, block) from a PIECE message's
// payload.
func DecodePiece(payload []byte) (index, begin uint32, block []byte, err error) {
	if len(payload) < 8 {
		return 0, 0, nil, fmt.Errorf("pwpwire: piece payload must be at least 8 bytes, got %d", len(payload))
	}
	return binary.BigEndian.Uint32(payload[0:4]), binary.BigEndian.Uint32(payload[4:8]), payload[8:], nil
}

// WriteMessage writes m to w as a 4-byte big-endian length prefix followed
// by the message ID and payload (or just a zero length prefix for a
// keep-alive).
func WriteMessage(w io.Writer, m Message) error {
	if !m.hasIDSet() {
		return binary.Write(w, binary.BigEndian, uint32(0))
	}

	length := uint32(1 + len(m.Payload))
	if err := binary.Write(w, binary.BigEndian, length); err != nil {
		return err
	}
	if _, err := w.Write([]byte{byte(m.ID)}); err != nil {
		return err
	}
	if len(m.Payload) == 0 {
		return nil
	}
	_, err := w.Write(m.Payload)
	return err
}

// ReadMessage reads a single length-prefixed message from r. A zero-length
// prefix decodes as NewKeepAlive().
func ReadMessage(r io.Reader) (Message, error) {
	var length uint32
	if err := binary.Read(r, binary.BigEndian, &length); err != nil {
		return Message{}, err
	}
	if length == 0 {
		return NewKeepAlive(), nil
	}
	if length > MaxMessageLen {
		return Message{}, ErrMessageTooLarge
	}

	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return Message{}, err
	}

	// A message with no payload decodes with a nil Payload, as the New*
	// constructors build it.
	var payload []byte
	if length > 1 {
		payload = buf[1:]
	}
	return Message{ID: MessageID(buf[0]), Payload: payload}, nil
}
