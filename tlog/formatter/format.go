// Package formatter renders zap JSON log entries as console text.
//
// Formatting never drops data: malformed entries are rendered with warnings
// in place of the offending values.
package formatter

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/goccy/go-json"
	"go.uber.org/zap/buffer"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

var bufferPool = buffer.NewPool()

var errNotOurs = errors.New("JSON log message in a foreign format")

// takeString removes the key from the entry, converting a non-string value
func takeString(entry map[string]any, key string) (string, bool) {
	val, ok := entry[key]
	if !ok {
		return "", false
	}
	delete(entry, key)
	s, ok := val.(string)
	if !ok {
		return fmt.Sprintf("<MALFORMED %v OF TYPE %T>", val, val), true
	}
	return s, true
}

func mustTakeString(entry map[string]any, key string) string {
	if s, ok := takeString(entry, key); ok {
		return s
	}
	return "<MISSING " + key + ">"
}

// takeTile replaces the source, row and col fields of cache log entries with
// a single tile=source/row/col field
func takeTile(entry map[string]any) {
	source, ok1 := entry["source"].(string)
	row, ok2 := entry["row"].(float64)
	col, ok3 := entry["col"].(float64)
	if !ok1 || !ok2 || !ok3 {
		return
	}
	delete(entry, "source")
	delete(entry, "row")
	delete(entry, "col")
	entry["tile"] = fmt.Sprintf("%s/%.22g/%.22g", source, row, col)
}

// JSONLogMessage formats a single JSON log entry.
//
// The parts of the timestamp shared with prevTimestamp are deemphasized.
func JSONLogMessage(logMessage []byte, prevTimestamp string, color bool) (*buffer.Buffer, string, error) {
	var entry map[string]any
	if err := json.Unmarshal(logMessage, &entry); err != nil {
		return nil, "", err
	}
	// JSON from programs not using zap is left alone
	if _, ok := entry["ts"]; !ok {
		return nil, "", errNotOurs
	}

	level := mustTakeString(entry, "level")
	ts := mustTakeString(entry, "ts")
	caller := mustTakeString(entry, "caller")
	msg := mustTakeString(entry, "msg")
	logger, _ := takeString(entry, "logger")
	errStr, haveError := takeString(entry, "error")
	multilineError := haveError && strings.Contains(errStr, "\n")
	requestID, haveRequestID := takeString(entry, "requestID")
	takeTile(entry)

	buf := bufferPool.Get()
	style := styles[color]

	formatTimestampOrString(buf, ts, style, prevTimestamp)
	buf.AppendByte(' ')
	formatLevel(buf, level, style)
	buf.AppendByte(' ')
	style(buf, messageColor, msg)

	keys := maps.Keys(entry)
	slices.Sort(keys)

	var multiline []string
	for _, key := range keys {
		if v, ok := entry[key].(string); ok && strings.Contains(v, "\n") {
			multiline = append(multiline, key)
			continue
		}
		buf.AppendByte(' ')
		style(buf, fieldColor, key+"=")
		formatValue(buf, entry[key], style)
	}

	if haveError && !multilineError {
		buf.AppendByte(' ')
		style(buf, errorColor, "error=")
		formatString(buf, errStr)
	}

	buf.AppendString(" [")
	buf.AppendString(logger)
	if haveRequestID {
		buf.AppendByte(' ')
		style(buf, requestIDColor, requestID)
	}
	buf.AppendString("] (")
	style(buf, callerColor, caller)
	buf.AppendString(")\n")

	if multilineError {
		formatMultiline(buf, "error", errStr, style, errorColor)
	}
	for _, key := range multiline {
		formatMultiline(buf, key, entry[key].(string), style, fieldColor)
	}
	if multilineError || len(multiline) > 0 {
		style(buf, fieldColor, "----------")
		buf.AppendByte('\n')
	}

	return buf, ts, nil
}

func formatLevel(buf *buffer.Buffer, level string, style styleFn) {
	switch level {
	case "debug":
		style(buf, debugColor, "DBG")
	case "info":
		style(buf, infoColor, "INF")
	case "warn":
		style(buf, warnColor, "WRN")
	default:
		l := strings.ToUpper(level)
		style(buf, errorColor, l[:min(3, len(l))])
	}
}

func formatValue(buf *buffer.Buffer, value any, style styleFn) {
	switch v := value.(type) {
	case float64:
		fmt.Fprintf(buf, "%.22g", v) // integers stay integers
	case bool:
		fmt.Fprintf(buf, "%t", v)
	case nil:
		buf.AppendString("null")
	case string:
		formatTimestampOrString(buf, v, style, "")
	case map[string]any:
		keys := maps.Keys(v)
		slices.Sort(keys)
		style(buf, punctuationColor, "{")
		for i, key := range keys {
			if i > 0 {
				style(buf, punctuationColor, ", ")
			}
			style(buf, subFieldColor, key)
			style(buf, punctuationColor, ":")
			buf.AppendByte(' ')
			formatValue(buf, v[key], style)
		}
		style(buf, punctuationColor, "}")
	case []any:
		style(buf, punctuationColor, "[")
		for i, elem := range v {
			if i > 0 {
				style(buf, punctuationColor, ", ")
			}
			formatValue(buf, elem, style)
		}
		style(buf, punctuationColor, "]")
	default:
		fmt.Fprintf(buf, "<UNEXPECTED %v OF TYPE %T>", v, v)
	}
}

var dateTimeRx = regexp.MustCompile(`^(\d{4}-\d{2}-\d{2})T(\d{2}:\d{2}:\d{2}(?:.\d+)?)(Z|[+-]\d{2}:?\d{2})$`)

func commonPrefixLength(a, b string) int {
	n := min(len(a), len(b))
	for i := range n {
		if a[i] != b[i] {
			return i
		}
	}
	return n
}

func splitAt(s string, pos int) (string, string) {
	pos = max(0, min(pos, len(s)))
	return s[:pos], s[pos:]
}

func formatTimestampOrString(buf *buffer.Buffer, s string, style styleFn, prev string) {
	m := dateTimeRx.FindStringSubmatch(s)
	if m == nil {
		formatString(buf, s)
		return
	}
	cpl := commonPrefixLength(s, prev)

	common, unique := splitAt(m[1], cpl)
	style(buf, sameDatePartColor, common)
	buf.AppendString(unique)

	style(buf, deemphasizedColor, "T")

	common, unique = splitAt(m[2], cpl-len(m[1])-1)
	style(buf, sameDatePartColor, common)
	buf.AppendString(unique)

	// only UTC is expected, other zones stand out
	if m[3] == "Z" {
		style(buf, deemphasizedColor, "Z")
	} else {
		buf.AppendString(m[3])
	}
}

func formatString(buf *buffer.Buffer, s string) {
	if strings.ContainsAny(s, "\"\\") {
		fmt.Fprintf(buf, "%#q", s)
		return
	}
	fmt.Fprintf(buf, "%q", s)
}

func formatMultiline(buf *buffer.Buffer, key, value string, style styleFn, c color) {
	style(buf, c, "----- "+key+" -----")
	buf.AppendByte('\n')
	buf.AppendString(value)
	if !strings.HasSuffix(value, "\n") {
		buf.AppendByte('\n')
	}
}
