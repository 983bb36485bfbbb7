package observability

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestInitCLILogger(t *testing.T) {
	defer func() { require.NoError(t, SetLevel("info")) }()

	logger := InitCLILogger("test", false)
	require.NotNil(t, logger)
	assert.Same(t, logger, CLILogger)

	InitCLILogger("test", true)
	assert.Equal(t, zapcore.DebugLevel, Level())
}

func TestSetLevel(t *testing.T) {
	defer func() { require.NoError(t, SetLevel("info")) }()

	require.NoError(t, SetLevel("WARN"))
	assert.Equal(t, zapcore.WarnLevel, Level())

	assert.Error(t, SetLevel("loud"))
	assert.Equal(t, zapcore.WarnLevel, Level())
}

func TestSetProfile(t *testing.T) {
	defer SetProfile(ProfileStructured)

	SetProfile("console")
	assert.Equal(t, ProfileConsole, profile)

	SetProfile("bogus")
	assert.Equal(t, ProfileStructured, profile)
}
