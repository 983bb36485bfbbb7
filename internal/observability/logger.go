// Package observability holds the process-wide CLI logger.
package observability

import (
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logging profiles.
const (
	ProfileStructured = "STRUCTURED"
	ProfileConsole    = "CONSOLE"
)

var (
	// CLILogger is the logger used by commands. It is a no-op until
	// InitCLILogger is called.
	CLILogger = zap.NewNop()

	level   = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	profile = ProfileStructured
	mu      sync.Mutex
)

// InitCLILogger builds CLILogger for the named service. Verbose lowers the
// level to debug.
func InitCLILogger(service string, verbose bool) *zap.Logger {
	mu.Lock()
	defer mu.Unlock()

	if verbose {
		level.SetLevel(zapcore.DebugLevel)
	}

	CLILogger = build(service, profile)
	return CLILogger
}

// SetProfile selects the encoder used by the next InitCLILogger call.
// Unknown profiles fall back to structured output.
func SetProfile(p string) {
	mu.Lock()
	defer mu.Unlock()

	switch strings.ToUpper(strings.TrimSpace(p)) {
	case ProfileConsole:
		profile = ProfileConsole
	default:
		profile = ProfileStructured
	}
}

// SetLevel changes the level of CLILogger in place.
func SetLevel(l string) error {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(strings.ToLower(strings.TrimSpace(l)))); err != nil {
		return err
	}
	level.SetLevel(lvl)
	return nil
}

// Level returns the current CLI log level.
func Level() zapcore.Level {
	return level.Level()
}

func build(service, p string) *zap.Logger {
	var enc zapcore.Encoder
	if p == ProfileConsole {
		cfg := zap.NewDevelopmentEncoderConfig()
		cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		enc = zapcore.NewConsoleEncoder(cfg)
	} else {
		cfg := zap.NewProductionEncoderConfig()
		cfg.TimeKey = "ts"
		cfg.EncodeTime = zapcore.ISO8601TimeEncoder
		enc = zapcore.NewJSONEncoder(cfg)
	}

	// Logs go to stderr so stdout stays clean for JSONL output.
	core := zapcore.NewCore(enc, zapcore.Lock(os.Stderr), level)
	return zap.New(core).With(zap.String("service", service))
}
