package formatter

import (
	"bytes"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/ridge/must/v2"
	"github.com/ridge/tj"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/buffer"
)

func TestFormat(t *testing.T) {
	entry := tj.O{
		"ts":        "2026-03-01T10:00:00.123456Z",
		"level":     "warn",
		"caller":    "tilecache/cache.go:272",
		"msg":       "Tile fetch failed",
		"logger":    "trackmap",
		"requestID": "abc",
		"source":    "osm@14.1",
		"row":       5,
		"col":       7,
		"error":     "upstream said no",
		"obj":       tj.O{"zoom": 14, "subdomains": tj.A{"a", "b"}, "at": "2026-03-01T10:00:00Z"},
		"null":      nil,
		"stack":     "goroutine 1 [running]:\n\tmain.main()",
	}

	expected := `2026-03-01T10:00:00.123456Z WRN Tile fetch failed null=null obj={at: 2026-03-01T10:00:00Z, subdomains: ["a", "b"], zoom: 14} tile="osm@14.1/5/7" error="upstream said no" [trackmap abc] (tilecache/cache.go:272)
----- stack -----
goroutine 1 [running]:
	main.main()
----------
`

	buf, ts, err := JSONLogMessage(must.OK1(json.Marshal(entry)), "", false)
	require.NoError(t, err)
	defer buf.Free()
	assert.Equal(t, expected, buf.String())
	assert.Equal(t, "2026-03-01T10:00:00.123456Z", ts)
}

func TestFormatMinimal(t *testing.T) {
	entry := tj.O{
		"ts":     "2026-03-01T10:00:00Z",
		"level":  "error",
		"caller": "main.go:1",
		"msg":    "Failed",
		"row":    3, // not a tile without source and col
	}

	buf, _, err := JSONLogMessage(must.OK1(json.Marshal(entry)), "", false)
	require.NoError(t, err)
	defer buf.Free()
	assert.Equal(t, "2026-03-01T10:00:00Z ERR Failed row=3 [] (main.go:1)\n", buf.String())
}

func TestFormatMalformed(t *testing.T) {
	buf, _, err := JSONLogMessage([]byte(`{"ts":"x","level":"info","msg":42}`), "", false)
	require.NoError(t, err)
	defer buf.Free()
	assert.Equal(t, `"x" INF <MALFORMED 42 OF TYPE float64> [] (<MISSING caller>)`+"\n", buf.String())

	_, _, err = JSONLogMessage([]byte(`{"message":"not zap"}`), "", false)
	require.ErrorIs(t, err, errNotOurs)
}

func TestFormatTimestamp(t *testing.T) {
	pool := buffer.NewPool()
	same := string(sameDatePartColor)
	deem := string(deemphasizedColor)
	r := string(reset)

	for prev, formatted := range map[string]string{
		"":                            "2026-03-01" + deem + "T" + r + "10:00:00.000000" + deem + "Z" + r,
		"2026-03-01T10:00:00.000000Z": same + "2026-03-01" + r + deem + "T" + r + same + "10:00:00.000000" + r + deem + "Z" + r,
		"2026-03-01T10:00:00.000123Z": same + "2026-03-01" + r + deem + "T" + r + same + "10:00:00.000" + r + "000" + deem + "Z" + r,
		"2026-03-01T21:22:33.445566Z": same + "2026-03-01" + r + deem + "T" + r + "10:00:00.000000" + deem + "Z" + r,
		"2026-03-12T10:00:00.000000Z": same + "2026-03-" + r + "01" + deem + "T" + r + "10:00:00.000000" + deem + "Z" + r,
	} {
		t.Run(prev, func(t *testing.T) {
			buf := pool.Get()
			defer buf.Free()
			formatTimestampOrString(buf, "2026-03-01T10:00:00.000000Z", styles[true], prev)
			assert.Equal(t, formatted, buf.String())
		})
	}

	buf := pool.Get()
	defer buf.Free()
	formatTimestampOrString(buf, "2026-03-01T10:00:00.000000+0100", styles[true], "")
	assert.Equal(t, "2026-03-01"+deem+"T"+r+"10:00:00.000000+0100", buf.String())
}

func TestStream(t *testing.T) {
	in := strings.Join([]string{
		`{"ts":"2026-03-01T10:00:00Z","level":"info","caller":"a.go:1","msg":"One"}`,
		`plain text`,
		`{"ts":"2026-03-01T10:00:01Z","level":"debug","caller":"a.go:2","msg":"Two"}`,
	}, "\n")

	var out bytes.Buffer
	require.NoError(t, Stream(strings.NewReader(in), &out, false))
	assert.Equal(t, "2026-03-01T10:00:00Z INF One [] (a.go:1)\n"+
		"plain text\n"+
		"2026-03-01T10:00:01Z DBG Two [] (a.go:2)\n", out.String())
}
