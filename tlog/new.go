package tlog

import (
	"fmt"
	"testing"

	"github.com/ridge/must/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"golang.org/x/sys/unix"
)

// New creates a top-level logger
func New(config Config) *zap.Logger {
	var encoding string
	development := true
	switch config.Format {
	case FormatJSON:
		encoding = "json"
		development = false
	case FormatText:
		color := config.Color.Enabled(unix.Stderr)
		encoding = consoleEncoding(color)
	default:
		panic(fmt.Errorf("unexpected --log-format value: %s", config.Format))
	}

	level := zapcore.InfoLevel
	if config.Verbose {
		level = zapcore.DebugLevel
	}

	cfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      development,
		Encoding:         encoding,
		EncoderConfig:    DefaultEncoderConfig,
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}
	logger := must.OK1(cfg.Build())

	if config.Name != "" {
		logger = logger.Named(config.Name)
	}

	return logger
}

// NewForTesting creates a logger writing to the test log at Debug level
func NewForTesting(t testing.TB) *zap.Logger {
	return zaptest.NewLogger(t, zaptest.Level(zapcore.DebugLevel)).Named(t.Name())
}
