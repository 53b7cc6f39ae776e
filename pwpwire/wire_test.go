package pwpwire

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zhangjinde/yabtorrent/core"
)

func TestHandshakeRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	peerID, err := core.RandomPeerID()
	require.NoError(t, err)
	h := Handshake{InfoHash: core.HashInfo([]byte("torrent")), PeerID: peerID}

	require.NoError(t, WriteHandshake(&buf, h))
	require.Equal(t, HandshakeLen, buf.Len())

	got, err := ReadHandshake(&buf)
	require.NoError(t, err)
	require.Equal(t, h, got)
}

func TestReadHandshakeRejectsBadProtocol(t *testing.T) {
	buf := make([]byte, HandshakeLen)
	buf[0] = 19
	copy(buf[1:], "not the bittorrent ")

	_, err := ReadHandshake(bytes.NewReader(buf))
	require.ErrorIs(t, err, ErrBadProtocol)
}

func TestMessageRoundTrip(t *testing.T) {
	cases := []Message{
		NewKeepAlive(),
		NewChoke(),
		NewUnchoke(),
		NewInterested(),
		NewNotInterested(),
		NewHave(7),
		NewBitfield([]byte{0xff, 0x01}),
		NewRequest(1, 2, 16384),
		NewCancel(1, 2, 16384),
		NewPiece(1, 2, []byte("block-data")),
	}

	for _, m := range cases {
		var buf bytes.Buffer
		require.NoError(t, WriteMessage(&buf, m))

		got, err := ReadMessage(&buf)
		require.NoError(t, err)
		require.Equal(t, m.KeepAlive(), got.KeepAlive())
		if !m.KeepAlive() {
			require.Equal(t, m.ID, got.ID)
			require.Equal(t, m.Payload, got.Payload)
		}
	}
}

func TestDecodeRequestRoundTrip(t *testing.T) {
	m := NewRequest(5, 16384, 32768)
	index, begin, length, err := DecodeRequest(m.Payload)
	require.NoError(t, err)
	require.Equal(t, uint32(5), index)
	require.Equal(t, uint32(16384), begin)
	require.Equal(t, uint32(32768), length)
}

func TestDecodePieceRoundTrip(t *testing.T) {
	m := NewPiece(3, 0, []byte("hello"))
	index, begin, block, err := DecodePiece(m.Payload)
	require.NoError(t, err)
	require.Equal(t, uint32(3), index)
	require.Equal(t, uint32(0), begin)
	require.Equal(t, []byte("hello"), block)
}

func TestReadMessageRejectsOversizedLength(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteMessage(&buf, Message{}))
	// Overwrite the length prefix with something huge.
	buf.Reset()
	buf.Write([]byte{0x7f, 0xff, 0xff, 0xff})

	_, err := ReadMessage(&buf)
	require.ErrorIs(t, err, ErrMessageTooLarge)
}
