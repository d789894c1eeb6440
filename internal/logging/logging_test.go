package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/metaobjects/metaobjects/internal/cli/config"
)

func TestNew(t *testing.T) {
	logger, err := New(config.LogConfig{Level: "debug", Format: "json"})
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))

	logger, err = New(config.LogConfig{Level: "WARN", Format: "console"})
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, logger.Core().Enabled(zapcore.WarnLevel))
}

func TestNewRejectsBadInput(t *testing.T) {
	_, err := New(config.LogConfig{Level: "loud", Format: "console"})
	assert.Error(t, err)

	_, err = New(config.LogConfig{Level: "info", Format: "xml"})
	assert.Error(t, err)
}

func TestVerbose(t *testing.T) {
	assert.False(t, Verbose(false).Core().Enabled(zapcore.ErrorLevel))
	assert.True(t, Verbose(true).Core().Enabled(zapcore.DebugLevel))
	assert.False(t, Nop().Core().Enabled(zapcore.FatalLevel))
}
