package afatfs

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func drain(t *testing.T, fs *Filesystem, done *bool) {
	t.Helper()
	for i := 0; i < 1_000_000 && !*done; i++ {
		if fs.State() == StateFatal {
			t.Fatalf("filesystem went fatal: %s", fs.FatalError().Error())
		}
		fs.Poll()
	}
	require.True(t, *done, "operation never completed")
}

func TestMountReachesReady(t *testing.T) {
	d := buildFAT16Image()
	fs := mountFAT16Image(d)
	require.Equal(t, StateReady, fs.State())
	require.Equal(t, FSTypeFAT16, fs.fsType)
	require.True(t, fs.haveFreeFile)
}

func TestCreateWriteReadRoundTrip(t *testing.T) {
	d := buildFAT16Image()
	fs := mountFAT16Image(d)
	require.Equal(t, StateReady, fs.State())

	var opened bool
	var openErr error
	var id FileID
	fs.Fopen("HELLO.TXT", OpenRead|OpenWrite|OpenCreate, func(newID FileID, err error) {
		id, openErr, opened = newID, err, true
	})
	drain(t, fs, &opened)
	require.NoError(t, openErr)

	payload := []byte("hello, fat filesystem")
	var wrote bool
	var writeErr error
	var n int
	fs.Fwrite(id, payload, func(count int, err error) {
		n, writeErr, wrote = count, err, true
	})
	drain(t, fs, &wrote)
	require.NoError(t, writeErr)
	require.Equal(t, len(payload), n)

	var sought bool
	var seekErr error
	fs.Fseek(id, 0, SeekSet, func(err error) { seekErr, sought = err, true })
	drain(t, fs, &sought)
	require.NoError(t, seekErr)

	readBuf := make([]byte, len(payload))
	var read bool
	var readErr error
	var readN int
	fs.Fread(id, readBuf, func(count int, err error) {
		readN, readErr, read = count, err, true
	})
	drain(t, fs, &read)
	require.NoError(t, readErr)
	require.Equal(t, len(payload), readN)
	require.Equal(t, payload, readBuf)

	var closed bool
	fs.Fclose(id, func(error) { closed = true })
	drain(t, fs, &closed)

	for !fs.Flush() {
		fs.Poll()
	}
}

func TestMkdirThenOpenFileInside(t *testing.T) {
	d := buildFAT16Image()
	fs := mountFAT16Image(d)

	var mkdirDone bool
	var mkdirErr error
	fs.Mkdir("SUBDIR", func(err error) { mkdirErr, mkdirDone = err, true })
	drain(t, fs, &mkdirDone)
	require.NoError(t, mkdirErr)

	var chdirDone bool
	var chdirErr error
	fs.Chdir("SUBDIR", func(err error) { chdirErr, chdirDone = err, true })
	drain(t, fs, &chdirDone)
	require.NoError(t, chdirErr)

	var opened bool
	var openErr error
	var id FileID
	fs.Fopen("INNER.TXT", OpenWrite|OpenCreate, func(newID FileID, err error) {
		id, openErr, opened = newID, err, true
	})
	drain(t, fs, &opened)
	require.NoError(t, openErr)

	var wrote bool
	fs.Fwrite(id, []byte("nested"), func(int, error) { wrote = true })
	drain(t, fs, &wrote)

	var closed bool
	fs.Fclose(id, func(error) { closed = true })
	drain(t, fs, &closed)
}

func TestUnlinkRemovesFile(t *testing.T) {
	d := buildFAT16Image()
	fs := mountFAT16Image(d)

	var opened bool
	var id FileID
	fs.Fopen("DOOMED.TXT", OpenWrite|OpenCreate, func(newID FileID, err error) {
		id, opened = newID, true
		require.NoError(t, err)
	})
	drain(t, fs, &opened)

	var wrote bool
	fs.Fwrite(id, []byte("temporary"), func(int, error) { wrote = true })
	drain(t, fs, &wrote)

	var closed bool
	fs.Fclose(id, func(error) { closed = true })
	drain(t, fs, &closed)

	var unlinked bool
	var unlinkErr error
	fs.Funlink("DOOMED.TXT", func(err error) { unlinkErr, unlinked = err, true })
	drain(t, fs, &unlinked)
	require.NoError(t, unlinkErr)

	var reopened bool
	var reopenErr error
	fs.Fopen("DOOMED.TXT", OpenRead, func(_ FileID, err error) {
		reopenErr, reopened = err, true
	})
	drain(t, fs, &reopened)
	require.ErrorIs(t, reopenErr, ErrNotFound)
}

func TestFtellIsAlwaysSynchronous(t *testing.T) {
	d := buildFAT16Image()
	fs := mountFAT16Image(d)

	var opened bool
	var id FileID
	fs.Fopen("T.TXT", OpenWrite|OpenCreate, func(newID FileID, err error) {
		id, opened = newID, true
		require.NoError(t, err)
	})
	drain(t, fs, &opened)

	off, err := fs.Ftell(id)
	require.NoError(t, err)
	require.Equal(t, uint32(0), off)
}
