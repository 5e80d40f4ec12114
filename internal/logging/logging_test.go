package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewLevels(t *testing.T) {
	tests := []struct {
		name    string
		verbose bool
		console bool
		debug   bool
	}{
		{"production", false, false, false},
		{"production verbose", true, false, true},
		{"console", false, true, false},
		{"console verbose", true, true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := New(tt.verbose, tt.console)
			require.NoError(t, err)
			assert.Equal(t, tt.debug, l.Core().Enabled(zapcore.DebugLevel))
			assert.True(t, l.Core().Enabled(zapcore.InfoLevel))
		})
	}
}

func TestTaskAddsField(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	Task(zap.New(core), "t-1").Info("hello")

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "t-1", logs.All()[0].ContextMap()["task_id"])
}
