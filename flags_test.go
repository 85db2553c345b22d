package afatfs

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseOpenModeBasics(t *testing.T) {
	m, err := ParseOpenMode("r")
	require.NoError(t, err)
	require.Equal(t, OpenRead, m)

	m, err = ParseOpenMode("w")
	require.NoError(t, err)
	require.Equal(t, OpenWrite|OpenCreate|OpenTruncate, m)

	m, err = ParseOpenMode("a")
	require.NoError(t, err)
	require.Equal(t, OpenAppend|OpenCreate, m)
}

func TestParseOpenModePlusAndContiguous(t *testing.T) {
	m, err := ParseOpenMode("r+")
	require.NoError(t, err)
	require.Equal(t, OpenRead|OpenWrite, m)

	m, err = ParseOpenMode("ws")
	require.NoError(t, err)
	require.True(t, m&OpenContiguous != 0)
	require.True(t, m&OpenRetainDirectory != 0)
}

func TestParseOpenModeRejectsGarbage(t *testing.T) {
	_, err := ParseOpenMode("")
	require.Error(t, err)

	_, err = ParseOpenMode("x")
	require.Error(t, err)

	_, err = ParseOpenMode("rz")
	require.Error(t, err)
}
