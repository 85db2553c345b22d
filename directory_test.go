package afatfs

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeFilenameRoundTrip(t *testing.T) {
	cases := []string{"README", "a.txt", "NOTES.MD", "x"}
	for _, name := range cases {
		encoded, err := encodeFilename(name)
		require.NoError(t, err)
		require.Equal(t, strings.ToUpper(name), decodeFilename(encoded))
	}
}

func TestEncodeFilenameLowercased(t *testing.T) {
	encoded, err := encodeFilename("hello.c")
	require.NoError(t, err)
	require.Equal(t, "HELLO.C", decodeFilename(encoded))
}

func TestEncodeFilenameRejectsTooLong(t *testing.T) {
	_, err := encodeFilename("averylongname.txt")
	require.Error(t, err)

	_, err = encodeFilename("a.txtx")
	require.Error(t, err)
}

func TestDirentEncodeDecodeRoundTrip(t *testing.T) {
	name, err := encodeFilename("DATA.BIN")
	require.NoError(t, err)

	original := dirent{
		name:         name,
		attr:         AttrArchive,
		firstCluster: 0x0ABCDE12,
		fileSize:     123456,
	}

	buf := make([]byte, DirentSize)
	original.encodeInto(buf)
	decoded := decodeDirent(buf)

	require.Equal(t, original.name, decoded.name)
	require.Equal(t, original.attr, decoded.attr)
	require.Equal(t, original.firstCluster, decoded.firstCluster)
	require.Equal(t, original.fileSize, decoded.fileSize)
}
