package hwire

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHeaderOrderAndJoin(t *testing.T) {
	var h Header
	h.Add("x-b", "1")
	h.Add("X-A", "2")
	h.Add("X-B", "3")
	h.Set("x-a", "4")

	require.Equal(t, []string{"X-B", "X-A"}, h.Names())
	require.Equal(t, "1, 3", h.Get("x-b"))
	require.Equal(t, "4", h.Get("X-A"))

	var buf bytes.Buffer
	_, err := h.WriteTo(&buf)
	require.NoError(t, err)
	require.Equal(t, "X-B: 1, 3\r\nX-A: 4\r\n", buf.String())
}

func TestHeaderDelAndClone(t *testing.T) {
	var h Header
	h.Set("Content-Type", "text/plain")
	h.Set("Content-Length", "3")
	h.Set("Host", "example.com")

	c := h.Clone()
	h.Del("content-length", "missing")

	require.Equal(t, []string{"Content-Type", "Host"}, h.Names())
	require.Equal(t, 3, c.Len())
	require.True(t, c.Has("Content-Length"))
}

func TestHeaderTokens(t *testing.T) {
	var h Header
	h.Add("Connection", "Keep-Alive, ")
	h.Add("Connection", "Upgrade")

	require.Equal(t, []string{"keep-alive", "upgrade"}, h.Tokens("Connection"))
	require.True(t, h.HasToken("connection", "UPGRADE"))
	require.False(t, h.HasToken("Connection", "close"))
	require.Nil(t, h.Tokens("Missing"))
}
