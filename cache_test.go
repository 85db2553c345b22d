package afatfs

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestFilesystem(slots int) *Filesystem {
	fs := &Filesystem{device: newMemDevice(64)}
	fs.initCache(slots)
	return fs
}

func TestCacheAcquireFillsFromEmpty(t *testing.T) {
	fs := newTestFilesystem(2)
	idx, buf, status := fs.acquire(3, CacheRead)
	require.Equal(t, StatusSuccess, status)
	require.Equal(t, BytesPerSector, len(buf))
	require.Equal(t, slotInSync, fs.cacheSlots[idx].state)
}

func TestCacheWriteMarksDirtyAndFlushClears(t *testing.T) {
	fs := newTestFilesystem(2)
	idx, buf, status := fs.acquire(1, CacheRead|CacheWrite)
	require.Equal(t, StatusSuccess, status)
	buf[0] = 0x42
	require.Equal(t, slotDirty, fs.cacheSlots[idx].state)
	require.Equal(t, 1, fs.cacheDirtyCount)

	done := fs.flush()
	require.True(t, done)
	require.Equal(t, slotInSync, fs.cacheSlots[idx].state)
	require.Equal(t, 0, fs.cacheDirtyCount)
}

func TestCacheEvictsDiscardableSlot(t *testing.T) {
	fs := newTestFilesystem(1)

	idx1, _, status := fs.acquire(1, CacheRead|CacheDiscardable)
	require.Equal(t, StatusSuccess, status)
	require.True(t, fs.cacheDiscardable.Get(idx1))

	// Only one slot exists; acquiring a different sector must evict it.
	idx2, _, status := fs.acquire(2, CacheRead)
	require.Equal(t, StatusSuccess, status)
	require.Equal(t, idx1, idx2) // same physical slot, reused
	require.Equal(t, SectorID(2), fs.cacheSlots[idx2].sector)
}

func TestCacheRetainBlocksEviction(t *testing.T) {
	fs := newTestFilesystem(1)

	idx, _, status := fs.acquire(1, CacheRead|CacheRetain)
	require.Equal(t, StatusSuccess, status)
	require.Equal(t, 1, fs.cacheSlots[idx].retain)

	// With the only slot retained, a different sector can't be filled.
	_, _, status = fs.acquire(2, CacheRead)
	require.Equal(t, StatusInProgress, status)

	fs.release(idx)
	_, _, status = fs.acquire(2, CacheRead)
	require.Equal(t, StatusSuccess, status)
}

// redirtyDevice lets a test hold a write completion open so it can mutate
// the slot again before the write finishes, exercising the cache's
// "redirtied during Writing stays Dirty" invariant.
type redirtyDevice struct {
	held []func(SectorID, error)
}

func (d *redirtyDevice) ReadBlock(sector SectorID, buffer []byte, completion func(SectorID, error)) bool {
	completion(sector, nil)
	return true
}

func (d *redirtyDevice) WriteBlock(sector SectorID, buffer []byte, completion func(SectorID, error)) Status {
	d.held = append(d.held, func(s SectorID, e error) { completion(s, e) })
	return StatusSuccess
}

func (d *redirtyDevice) Poll() {}
func (d *redirtyDevice) TotalSectors() SectorID { return 64 }

func TestCacheStaysDirtyWhenRedirtiedDuringWrite(t *testing.T) {
	dev := &redirtyDevice{}
	fs := &Filesystem{device: dev}
	fs.initCache(1)

	idx, buf, status := fs.acquire(5, CacheRead|CacheWrite)
	require.Equal(t, StatusSuccess, status)
	buf[0] = 1

	fs.flush() // dispatches the write; completion held back by the fake device
	require.Equal(t, slotWriting, fs.cacheSlots[idx].state)

	// Mutate again while the write is still in flight.
	_, buf2, status := fs.acquire(5, CacheWrite)
	require.Equal(t, StatusSuccess, status)
	buf2[1] = 2
	require.True(t, fs.cacheSlots[idx].redirtied)

	// Now let the original write complete.
	dev.held[0](5, nil)
	require.Equal(t, slotDirty, fs.cacheSlots[idx].state, "slot must stay Dirty since it was mutated mid-write")
}
