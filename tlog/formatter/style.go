package formatter

import "go.uber.org/zap/buffer"

// ANSI SGR sequences
type color string

const (
	reset          color = "\x1b[0m"
	bold           color = "\x1b[1m"
	italic         color = "\x1b[3m"
	fgRed          color = "\x1b[31m"
	fgGreen        color = "\x1b[32m"
	fgYellow       color = "\x1b[33m"
	fgBlue         color = "\x1b[34m"
	fgMagenta      color = "\x1b[35m"
	fgCyan         color = "\x1b[36m"
	fgGray         color = "\x1b[90m"
	fgBrightYellow color = "\x1b[93m"
)

const (
	debugColor        = fgMagenta
	infoColor         = fgBlue
	warnColor         = fgYellow
	errorColor        = fgRed
	fieldColor        = fgGreen
	subFieldColor     = fgCyan
	messageColor      = bold
	callerColor       = italic
	requestIDColor    = fgGray
	deemphasizedColor = fgGray
	sameDatePartColor = fgBlue
	punctuationColor  = fgBrightYellow
)

type styleFn func(*buffer.Buffer, color, string)

var styles = map[bool]styleFn{
	true: func(buf *buffer.Buffer, c color, text string) {
		if text == "" {
			return
		}
		buf.AppendString(string(c))
		buf.AppendString(text)
		buf.AppendString(string(reset))
	},
	false: func(buf *buffer.Buffer, _ color, text string) {
		buf.AppendString(text)
	},
}
