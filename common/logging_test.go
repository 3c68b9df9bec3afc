package common

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetupLogger(t *testing.T) {
	log := SetupLogger(&LoggingOpts{Debug: true, JSON: true, Service: "recoveryd", Version: Version})
	require.NotNil(t, log)
	require.True(t, log.Enabled(t.Context(), slog.LevelDebug))

	log = SetupLogger(&LoggingOpts{})
	require.NotNil(t, log)
	require.False(t, log.Enabled(t.Context(), slog.LevelDebug))
}
