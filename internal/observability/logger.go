// Package observability owns the process-wide CLI logger.
//
// Commands log through CLILogger. Library packages accept a *zap.Logger in
// their Config instead of reaching for this global.
package observability

import (
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// CLILogger is the logger used by commands. It is a no-op until
// InitCLILogger or ConfigureCLILogger runs.
var CLILogger = zap.NewNop()

// LoggerOptions controls logger construction.
type LoggerOptions struct {
	// Level is one of debug, info, warn, error. Empty means info.
	Level string

	// Format is "console" (default) or "json".
	Format string

	// Output defaults to os.Stderr so stdout stays free for command output.
	Output io.Writer
}

// InitCLILogger installs a console logger at info level, or debug when
// verbose is set.
func InitCLILogger(name string, verbose bool) {
	level := "info"
	if verbose {
		level = "debug"
	}
	logger, err := NewLogger(name, LoggerOptions{Level: level})
	if err != nil {
		CLILogger = zap.NewNop()
		return
	}
	CLILogger = logger
}

// ConfigureCLILogger replaces CLILogger using the given options.
func ConfigureCLILogger(name string, opts LoggerOptions) error {
	logger, err := NewLogger(name, opts)
	if err != nil {
		return err
	}
	CLILogger = logger
	return nil
}

// NewLogger builds a named zap logger.
func NewLogger(name string, opts LoggerOptions) (*zap.Logger, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}

	out := opts.Output
	if out == nil {
		out = os.Stderr
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	switch strings.ToLower(strings.TrimSpace(opts.Format)) {
	case "", "console", "text":
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		encCfg.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
		encoder = zapcore.NewConsoleEncoder(encCfg)
	case "json":
		encoder = zapcore.NewJSONEncoder(encCfg)
	default:
		return nil, fmt.Errorf("unsupported log format: %q", opts.Format)
	}

	core := zapcore.NewCore(encoder, zapcore.Lock(zapcore.AddSync(out)), level)
	return zap.New(core).Named(name), nil
}

// ParseLevel maps a level name to a zap level. Empty means info.
func ParseLevel(s string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return zapcore.InfoLevel, nil
	case "trace":
		return zapcore.DebugLevel, nil
	default:
		var lvl zapcore.Level
		if err := lvl.UnmarshalText([]byte(strings.ToLower(strings.TrimSpace(s)))); err != nil {
			return zapcore.InfoLevel, fmt.Errorf("invalid log level %q: %w", s, err)
		}
		return lvl, nil
	}
}
