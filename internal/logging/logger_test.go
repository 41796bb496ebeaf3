package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	logger := New("debug", "development")
	assert.NotNil(t, logger)
	assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))

	logger = New("warn", "production")
	assert.False(t, logger.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, logger.Core().Enabled(zapcore.WarnLevel))
}

func TestParseLevelFallback(t *testing.T) {
	assert.Equal(t, zapcore.InfoLevel, parseLevel("bogus"))
	assert.Equal(t, zapcore.ErrorLevel, parseLevel("error"))
}
