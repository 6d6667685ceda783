package tlog

import (
	"fmt"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"
)

// Format is the logging format
type Format string

// Format values
const (
	FormatJSON Format = "json"
	FormatText Format = "text"
)

// ParseFormat parses a --log-format value; empty means text
func ParseFormat(s string) (Format, error) {
	switch f := Format(s); f {
	case "":
		return FormatText, nil
	case FormatJSON, FormatText:
		return f, nil
	}
	return "", fmt.Errorf("invalid log format %q, expected json or text", s)
}

// Color is the coloring setting for text format
type Color string

// Color values
const (
	ColorAuto Color = ""
	ColorYes  Color = "yes"
	ColorNo   Color = "no"
)

// ParseColor parses a color setting: yes, no, or auto (also empty)
func ParseColor(s string) (Color, error) {
	switch c := Color(s); c {
	case ColorAuto, "auto":
		return ColorAuto, nil
	case ColorYes, ColorNo:
		return c, nil
	}
	return "", fmt.Errorf("invalid color setting %q, expected yes, no or auto", s)
}

// Enabled tells whether to color output written to the file descriptor
func (c Color) Enabled(fd int) bool {
	switch c {
	case ColorYes:
		return true
	case ColorNo:
		return false
	}
	return term.IsTerminal(fd)
}

// Config is the configuration for creating a top-level logger
type Config struct {
	Name    string // top-level logger name (optional)
	Format  Format
	Color   Color
	Verbose bool // enable messages at Debug level
}

// timestamps are UTC, so that the formatter can deemphasize the zone
func iso8601MicroTimeEncoder(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString(t.UTC().Format("2006-01-02T15:04:05.000000Z07:00"))
}

// DefaultEncoderConfig is the zap.EncoderConfig of top-level loggers
var DefaultEncoderConfig = func() zapcore.EncoderConfig {
	ec := zap.NewProductionEncoderConfig()
	ec.EncodeTime = iso8601MicroTimeEncoder
	ec.EncodeDuration = zapcore.StringDurationEncoder
	return ec
}()
