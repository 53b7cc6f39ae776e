package peerconn

import (
	"bytes"
	"encoding/binary"

	"github.com/zhangjinde/yabtorrent/pwpwire"
)

// Feed appends freshly-received bytes from dispatch_from_buffer to this
// connection's read buffer, for later framing by NextHandshake/NextMessage.
// Mirrors conn.Conn's readLoop feeding its receiver channel, adapted to a
// buffer-fed model since this module has no internal read goroutine.
func (c *Conn) Feed(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readBuf.Write(data)
}

// NextHandshake consumes a 68-byte handshake from the read buffer if one
// is fully available. ok is false (with a nil error) if more bytes are
// still needed.
func (c *Conn) NextHandshake() (h pwpwire.Handshake, ok bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.readBuf.Len() < pwpwire.HandshakeLen {
		return pwpwire.Handshake{}, false, nil
	}
	h, err = pwpwire.ReadHandshake(&c.readBuf)
	if err != nil {
		return pwpwire.Handshake{}, false, err
	}
	return h, true, nil
}

// NextMessage consumes one length-prefixed PWP message from the read
// buffer if one is fully available. ok is false (with a nil error) if more
// bytes are still needed.
func (c *Conn) NextMessage() (pwpwire.Message, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	raw := c.readBuf.Bytes()
	if len(raw) < 4 {
		return pwpwire.Message{}, false, nil
	}
	length := binary.BigEndian.Uint32(raw[:4])
	total := 4 + int(length)
	if len(raw) < total {
		return pwpwire.Message{}, false, nil
	}

	frame := make([]byte, total)
	copy(frame, raw[:total])
	c.readBuf.Next(total)

	msg, err := pwpwire.ReadMessage(bytes.NewReader(frame))
	if err != nil {
		return pwpwire.Message{}, false, err
	}
	return msg, true, nil
}
