package glob

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPatterns(t *testing.T) {
	ok, err := Match("**/acq/*.tif", "/data/acq/frame.tif", '/')

	require.NoError(t, err)
	require.True(t, ok)

	ok, err = Match("*.bin", "out.bin")

	require.NoError(t, err)
	require.True(t, ok)

	ok, err = Match("*.bin", "out.tif")

	require.NoError(t, err)
	require.False(t, ok)
}

func TestPrefix(t *testing.T) {
	require.Equal(t, "/data/", Prefix("/data/*.tif"))
	require.Equal(t, "/data/out.bin", Prefix("/data/out.bin"))
}

func TestIsPattern(t *testing.T) {
	require.True(t, IsPattern("*.tif"))
	require.False(t, IsPattern("metadata.json"))
}
