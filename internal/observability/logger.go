// Package observability holds the process-wide CLI logger.
package observability

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logging profiles.
const (
	ProfileConsole    = "console"
	ProfileStructured = "structured"
)

// CLILogger is the logger used by the command layer. It is a no-op logger
// until InitCLILogger or InitLogger runs.
var CLILogger = zap.NewNop()

// InitCLILogger sets CLILogger to a human-readable logger on stderr, at
// debug level when verbose.
func InitCLILogger(name string, verbose bool) {
	level := zapcore.InfoLevel
	if verbose {
		level = zapcore.DebugLevel
	}
	CLILogger = build(name, level, ProfileConsole)
}

// InitLogger sets CLILogger from the configured level and profile.
func InitLogger(name, level, profile string) error {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(strings.ToLower(strings.TrimSpace(level)))); err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	switch p := strings.ToLower(strings.TrimSpace(profile)); p {
	case "", ProfileConsole, ProfileStructured:
		CLILogger = build(name, lvl, p)
		return nil
	default:
		return fmt.Errorf("invalid logging profile %q (valid: %s, %s)", profile, ProfileConsole, ProfileStructured)
	}
}

func build(name string, level zapcore.Level, profile string) *zap.Logger {
	var enc zapcore.Encoder
	if profile == ProfileStructured {
		cfg := zap.NewProductionEncoderConfig()
		cfg.EncodeTime = zapcore.ISO8601TimeEncoder
		enc = zapcore.NewJSONEncoder(cfg)
	} else {
		cfg := zap.NewDevelopmentEncoderConfig()
		cfg.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
		enc = zapcore.NewConsoleEncoder(cfg)
	}
	core := zapcore.NewCore(enc, zapcore.Lock(os.Stderr), level)
	return zap.New(core).Named(name)
}
