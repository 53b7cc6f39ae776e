package piece

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFakePieceRequestWriteComplete(t *testing.T) {
	db := NewFakeDatabase(1, 8, 4)
	p, err := db.Piece(0)
	require.NoError(t, err)
	require.False(t, p.IsComplete())

	req, ok := p.PollBlockRequest()
	require.True(t, ok)
	require.Equal(t, BlockRequest{Index: 0, Begin: 0, Length: 4}, req)

	require.NoError(t, p.WriteBlock(0, []byte{1, 2, 3, 4}))
	require.False(t, p.IsComplete())

	req, ok = p.PollBlockRequest()
	require.True(t, ok)
	require.Equal(t, 4, req.Begin)

	require.NoError(t, p.WriteBlock(4, []byte{5, 6, 7, 8}))
	require.True(t, p.IsComplete())

	var buf bytes.Buffer
	require.NoError(t, p.WriteBlockToStream(&buf, 0, 8))
	require.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8}, buf.Bytes())
}

func TestFakePieceGiveBackBlockAllowsReRequest(t *testing.T) {
	db := NewFakeDatabase(1, 4, 4)
	p, _ := db.Piece(0)

	req, ok := p.PollBlockRequest()
	require.True(t, ok)
	require.False(t, p.IsFullyRequested() && !p.IsComplete())

	p.GiveBackBlock(req.Begin)
	req2, ok := p.PollBlockRequest()
	require.True(t, ok)
	require.Equal(t, req.Begin, req2.Begin)
}

func TestFakePieceInvalidOnComplete(t *testing.T) {
	db := NewFakeDatabase(1, 4, 4)
	p, _ := db.Piece(0)
	p.(*FakePiece).Invalid = true

	err := p.WriteBlock(0, []byte{1, 2, 3, 4})
	require.Error(t, err)
}

func TestFakePieceDropDownloadProgress(t *testing.T) {
	db := NewFakeDatabase(1, 4, 4)
	p, _ := db.Piece(0)
	_, _ = p.PollBlockRequest()
	p.DropDownloadProgress()

	req, ok := p.PollBlockRequest()
	require.True(t, ok)
	require.Equal(t, 0, req.Begin)
}
