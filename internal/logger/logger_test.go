package logger

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewModes(t *testing.T) {
	for _, mode := range []string{"development", "production", "test"} {
		l, err := New(mode)
		require.NoError(t, err, mode)
		require.NotNil(t, l.SugaredLogger, mode)
	}
}

// TestWithCarriesFields checks that child loggers keep their parent's fields.
func TestWithCarriesFields(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	l := &Logger{SugaredLogger: zap.New(core).Sugar()}

	l.With("component", "hub").Info("client registered", "clients", 3)

	entries := logs.All()
	require.Len(t, entries, 1)
	require.Equal(t, "client registered", entries[0].Message)
	fields := entries[0].ContextMap()
	require.Equal(t, "hub", fields["component"])
	require.EqualValues(t, 3, fields["clients"])
}
