package log

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewAppliesDefaultsAndFields(t *testing.T) {
	logger, err := New(Config{OutputPath: "stdout"}, map[string]interface{}{"my_peerid": "abc"})
	require.NoError(t, err)
	require.NotNil(t, logger)
	logger.Infow("hello")
}

func TestNewRejectsBadLevel(t *testing.T) {
	_, err := New(Config{Level: "not-a-level"}, nil)
	require.Error(t, err)
}
