// Package logger builds the process-wide zap logger.
package logger

import (
	"fmt"
	"io"
	"os"

	"httpgate/types"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type config struct {
	format types.LogFormat
	level  zapcore.Level
	output io.Writer
}

type Option func(*config)

func WithFormat(f types.LogFormat) Option {
	return func(c *config) {
		c.format = f
	}
}

func WithLevel(l zapcore.Level) Option {
	return func(c *config) {
		c.level = l
	}
}

// WithOutput replaces stderr as the log destination.
func WithOutput(w io.Writer) Option {
	return func(c *config) {
		c.output = w
	}
}

// New returns a JSON logger at info level on stderr unless told otherwise.
func New(opts ...Option) *zap.Logger {
	cfg := &config{
		format: types.LogFormatJSON,
		level:  zapcore.InfoLevel,
		output: os.Stderr,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	var encCfg zapcore.EncoderConfig
	var enc zapcore.Encoder
	switch cfg.format {
	case types.LogFormatConsole:
		encCfg = zap.NewDevelopmentEncoderConfig()
		encCfg.EncodeTime = zapcore.RFC3339TimeEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	default:
		encCfg = zap.NewProductionEncoderConfig()
		encCfg.EncodeTime = zapcore.RFC3339TimeEncoder
		enc = zapcore.NewJSONEncoder(encCfg)
	}

	core := zapcore.NewCore(enc, zapcore.AddSync(cfg.output), cfg.level)
	return zap.New(core, zap.AddCaller())
}

// ParseLevel accepts the zap level names (debug, info, warn, error, ...).
func ParseLevel(s string) (zapcore.Level, error) {
	lvl, err := zapcore.ParseLevel(s)
	if err != nil {
		return zapcore.InfoLevel, fmt.Errorf("invalid log level %q: %w", s, err)
	}
	return lvl, nil
}

// Install makes l the global zap logger and returns a func restoring
// the previous one.
func Install(l *zap.Logger) func() {
	return zap.ReplaceGlobals(l)
}
