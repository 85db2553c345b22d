package afatfs

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFATEntryRoundTripFAT16(t *testing.T) {
	fs := &Filesystem{fsType: FSTypeFAT16}
	fs.geometry.BytesPerSector = BytesPerSector

	buf := make([]byte, BytesPerSector)
	loc := fs.locateFATEntry(5)
	fs.encodeFATEntry(buf, loc, 0x1234)
	require.Equal(t, ClusterID(0x1234), fs.decodeFATEntry(buf, loc))
}

func TestFATEntryRoundTripFAT32PreservesReservedBits(t *testing.T) {
	fs := &Filesystem{fsType: FSTypeFAT32}
	fs.geometry.BytesPerSector = BytesPerSector

	buf := make([]byte, BytesPerSector)
	loc := fs.locateFATEntry(5)

	// Pre-seed reserved top nibble with a nonzero pattern; encodeFATEntry
	// must not disturb it.
	buf[loc.byteOffset+3] = 0xF0
	fs.encodeFATEntry(buf, loc, 0x0ABCDEF0)

	require.Equal(t, ClusterID(0x0ABCDEF0), fs.decodeFATEntry(buf, loc))
	require.Equal(t, byte(0xF0), buf[loc.byteOffset+3]&0xF0)
}

func TestIsEndOfChain(t *testing.T) {
	fat16 := &Filesystem{fsType: FSTypeFAT16}
	require.True(t, fat16.isEndOfChain(0xFFFF))
	require.True(t, fat16.isEndOfChain(0xFFF8))
	require.False(t, fat16.isEndOfChain(0xFFF7))
	require.False(t, fat16.isEndOfChain(5))

	fat32 := &Filesystem{fsType: FSTypeFAT32}
	require.True(t, fat32.isEndOfChain(0x0FFFFFFF))
	require.True(t, fat32.isEndOfChain(0x0FFFFFF8))
	require.False(t, fat32.isEndOfChain(0x0FFFFFF7))
}

func TestFatSetNextWritesAllCopies(t *testing.T) {
	d := buildFAT16Image()
	fs := mountFAT16Image(d)
	require.Equal(t, StateReady, fs.State())

	status := fs.fatSetNext(10, 20)
	require.Equal(t, StatusSuccess, status)

	for fs.cacheDirtyCount != 0 {
		fs.Poll()
	}

	for copyIdx := uint32(0); copyIdx < fs.geometry.NumFATs; copyIdx++ {
		loc := fs.locateFATEntry(10)
		sector := fs.fatSectorForCopy(loc, copyIdx)
		got := fs.decodeFATEntry(d.sectors[sector], loc)
		require.Equal(t, ClusterID(20), got, "FAT copy %d not updated", copyIdx)
	}
}
