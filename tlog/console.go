package tlog

import (
	"fmt"
	"sync"

	"github.com/ridge/must/v2"
	"github.com/ridge/trackmap/tlog/formatter"
	"go.uber.org/zap"
	"go.uber.org/zap/buffer"
	"go.uber.org/zap/zapcore"
)

// The console encoder renders entries through the JSON encoder and the
// formatter, so that text logs look the same as JSON logs piped through
// tlogfmt.

const consoleEncoderName = "trackmap-console"

func init() {
	for _, color := range []bool{false, true} {
		must.OK(zap.RegisterEncoder(consoleEncoding(color), func(cfg zapcore.EncoderConfig) (zapcore.Encoder, error) {
			return &consoleEncoder{Encoder: zapcore.NewJSONEncoder(cfg), state: &consoleState{color: color}}, nil
		}))
	}
}

func consoleEncoding(color bool) string {
	return fmt.Sprintf("%s;color=%t", consoleEncoderName, color)
}

// consoleState is shared by the clones of an encoder writing to one output
type consoleState struct {
	color bool

	mu            sync.Mutex
	lastTimestamp string
}

type consoleEncoder struct {
	zapcore.Encoder
	state *consoleState
}

// Clone implements zapcore.Encoder
func (ce *consoleEncoder) Clone() zapcore.Encoder {
	return &consoleEncoder{Encoder: ce.Encoder.Clone(), state: ce.state}
}

// EncodeEntry implements zapcore.Encoder
func (ce *consoleEncoder) EncodeEntry(entry zapcore.Entry, fields []zapcore.Field) (*buffer.Buffer, error) {
	jsonBuf, err := ce.Encoder.EncodeEntry(entry, fields)
	if err != nil {
		return nil, err
	}
	defer jsonBuf.Free()

	ce.state.mu.Lock()
	defer ce.state.mu.Unlock()

	buf, ts, err := formatter.JSONLogMessage(jsonBuf.Bytes(), ce.state.lastTimestamp, ce.state.color)
	if err != nil {
		return nil, err
	}
	ce.state.lastTimestamp = ts
	return buf, nil
}
