package core

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInfoHashHexRoundTrip(t *testing.T) {
	h := HashInfo([]byte("some info dict"))
	s := h.Hex()

	h2, err := NewInfoHashFromHex(s)
	require.NoError(t, err)
	require.Equal(t, h, h2)
}

func TestNewInfoHashFromHexInvalidLength(t *testing.T) {
	_, err := NewInfoHashFromHex("abcd")
	require.Error(t, err)
}

func TestNewInfoHashFromBytes(t *testing.T) {
	raw := []byte("01234567890123456789")
	h, err := NewInfoHashFromBytes(raw)
	require.NoError(t, err)
	require.Equal(t, raw, h.Bytes())

	_, err = NewInfoHashFromBytes([]byte("short"))
	require.Error(t, err)
}
