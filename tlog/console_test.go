package tlog

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestConsoleEncoder(t *testing.T) {
	var out bytes.Buffer
	enc := &consoleEncoder{Encoder: zapcore.NewJSONEncoder(DefaultEncoderConfig), state: &consoleState{}}
	logger := zap.New(zapcore.NewCore(enc, zapcore.AddSync(&out), zapcore.DebugLevel), zap.AddCaller()).Named("cache")

	entry := logger.With(zap.String("source", "osm@14.1"))
	entry.Warn("Tile fetch failed", zap.Int("row", 5), zap.Int("col", 7), zap.Duration("elapsed", time.Second))

	line := out.String()
	require.Regexp(t, `^\d{4}-\d{2}-\d{2}T[0-9:.]+(Z|[+-]\d{4}) WRN Tile fetch failed elapsed="1s" tile="osm@14.1/5/7" \[cache\] \(tlog/console_test\.go:\d+\)\n$`, line)
}
