package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestApplyDefaultsPropagatesSharedLimits(t *testing.T) {
	v := NewView(Config{MaxActivePeers: 6, MaxPendingRequests: 3})

	require.Equal(t, 6, v.MaxActivePeers())
	require.Equal(t, 6, v.ChokerConfig().MaxActivePeers)
	require.Equal(t, 3, v.MaxPendingRequests())
	require.Equal(t, 3, v.ConnConfig().PipelineLimit)
	require.Equal(t, 32, v.MaxPeerConnections())
	require.Equal(t, "rarest_first", v.PieceSelectionPolicy())
}

func TestValidateRejectsUnknownPolicy(t *testing.T) {
	c := Config{PieceSelectionPolicy: "bogus"}
	require.Error(t, c.Validate())
}

func TestValidateAcceptsKnownPolicies(t *testing.T) {
	for _, p := range []string{"", "random", "rarest_first", "sequential"} {
		require.NoError(t, Config{PieceSelectionPolicy: p}.Validate())
	}
}
