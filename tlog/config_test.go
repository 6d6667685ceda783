package tlog

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseFormat(t *testing.T) {
	for in, expected := range map[string]Format{"": FormatText, "text": FormatText, "json": FormatJSON} {
		f, err := ParseFormat(in)
		require.NoError(t, err)
		require.Equal(t, expected, f)
	}
	_, err := ParseFormat("xml")
	require.Error(t, err)
}

func TestParseColor(t *testing.T) {
	for in, expected := range map[string]Color{"": ColorAuto, "auto": ColorAuto, "yes": ColorYes, "no": ColorNo} {
		c, err := ParseColor(in)
		require.NoError(t, err)
		require.Equal(t, expected, c)
	}
	_, err := ParseColor("always")
	require.Error(t, err)

	require.True(t, ColorYes.Enabled(-1))
	require.False(t, ColorNo.Enabled(-1))
	require.False(t, ColorAuto.Enabled(-1))
}
