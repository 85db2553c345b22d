package afatfs

// cache.go implements the sector cache: a fixed number of 512-byte slots
// with LRU + pin eviction and a five-state machine per slot. This is the
// concurrency substrate every other component (the FAT accessor, freefile
// allocator, directory engine, file engine) is built on top of. It holds a
// small fixed window of sectors rather than the whole device, and every
// fill/flush is async.

import "github.com/boljen/go-bitmap"

type slotState int

const (
	slotEmpty slotState = iota
	slotReading
	slotInSync
	slotDirty
	slotWriting
)

type cacheSlot struct {
	sector    SectorID
	state     slotState
	lastUse   uint64
	retain    int
	redirtied bool // mutated again while Writing; must remain Dirty on completion
	data      []byte
}

// initCache allocates numSlots cache slots, each BytesPerSector long.
func (fs *Filesystem) initCache(numSlots int) {
	fs.cacheSlots = make([]cacheSlot, numSlots)
	for i := range fs.cacheSlots {
		fs.cacheSlots[i].sector = InvalidSectorID
		fs.cacheSlots[i].data = make([]byte, BytesPerSector)
	}
	fs.cacheLocked = bitmap.NewSlice(numSlots)
	fs.cacheDiscardable = bitmap.NewSlice(numSlots)
	fs.cacheDirtyCount = 0
	fs.cacheTick = 0
}

func (fs *Filesystem) setSlotState(i int, s slotState) {
	old := fs.cacheSlots[i].state
	if old == slotDirty && s != slotDirty {
		fs.cacheDirtyCount--
	}
	if old != slotDirty && s == slotDirty {
		fs.cacheDirtyCount++
	}
	fs.cacheSlots[i].state = s
}

// findSlot returns the index of the slot currently holding sector, or -1.
func (fs *Filesystem) findSlot(sector SectorID) int {
	for i := range fs.cacheSlots {
		if fs.cacheSlots[i].state != slotEmpty && fs.cacheSlots[i].sector == sector {
			return i
		}
	}
	return -1
}

// pickVictim finds a slot to reuse for a new sector, per the allocation
// policy: (b) an Empty slot; (c) a clean, unlocked, unretained,
// discardable slot; (d) a clean, unlocked, unretained slot with the smallest
// last_use. Returns -1 if nothing is evictable right now.
func (fs *Filesystem) pickVictim() int {
	for i := range fs.cacheSlots {
		if fs.cacheSlots[i].state == slotEmpty {
			return i
		}
	}

	discardableVictim := -1
	lruVictim := -1
	var lruAge uint64 = ^uint64(0)

	for i := range fs.cacheSlots {
		s := &fs.cacheSlots[i]
		if s.state != slotInSync || fs.cacheLocked.Get(i) || s.retain != 0 {
			continue
		}
		if fs.cacheDiscardable.Get(i) && discardableVictim == -1 {
			discardableVictim = i
		}
		if s.lastUse < lruAge {
			lruAge = s.lastUse
			lruVictim = i
		}
	}

	if discardableVictim != -1 {
		return discardableVictim
	}
	return lruVictim
}

// acquire implements the cache's public Acquire contract. On success
// it returns the slot index and its data buffer; callers must not retain the
// slice beyond the current operation's step unless they hold a Lock or
// Retain on it.
func (fs *Filesystem) acquire(sector SectorID, flags CacheFlags) (int, []byte, Status) {
	fs.cacheTick++

	if i := fs.findSlot(sector); i != -1 {
		return fs.acquireHit(i, flags)
	}

	victim := fs.pickVictim()
	if victim == -1 {
		return -1, nil, StatusInProgress
	}

	return fs.acquireFill(victim, sector, flags)
}

func (fs *Filesystem) acquireHit(i int, flags CacheFlags) (int, []byte, Status) {
	s := &fs.cacheSlots[i]

	switch s.state {
	case slotReading:
		return -1, nil, StatusInProgress
	case slotWriting:
		if flags&CacheWrite != 0 {
			s.redirtied = true
		}
	case slotInSync:
		if flags&CacheWrite != 0 {
			fs.setSlotState(i, slotDirty)
		}
	case slotDirty:
		// already dirty; nothing to do
	}

	s.lastUse = fs.cacheTick
	fs.applyPinFlags(i, flags&^CacheDiscardable)
	return i, s.data, StatusSuccess
}

func (fs *Filesystem) acquireFill(i int, sector SectorID, flags CacheFlags) (int, []byte, Status) {
	s := &fs.cacheSlots[i]
	s.sector = sector
	s.retain = 0
	s.redirtied = false
	fs.cacheLocked.Set(i, false)
	fs.cacheDiscardable.Set(i, flags&CacheDiscardable != 0)

	wantsRead := flags&(CacheRead|CacheWrite) != CacheWrite

	if wantsRead {
		fs.setSlotState(i, slotReading)
		accepted := fs.device.ReadBlock(sector, s.data, func(completedSector SectorID, err error) {
			fs.onReadComplete(i, completedSector, err)
		})
		if !accepted {
			s.sector = InvalidSectorID
			fs.setSlotState(i, slotEmpty)
			return -1, nil, StatusInProgress
		}
		s.lastUse = fs.cacheTick
		if s.state != slotInSync {
			// Read still in flight (or failed): the caller retries and picks
			// the slot up through acquireHit once the completion has landed.
			return -1, nil, StatusInProgress
		}
		if flags&CacheWrite != 0 {
			fs.setSlotState(i, slotDirty)
		}
	} else {
		for j := range s.data {
			s.data[j] = 0
		}
		fs.setSlotState(i, slotDirty)
	}

	s.lastUse = fs.cacheTick
	fs.applyPinFlags(i, flags)
	return i, s.data, StatusSuccess
}

func (fs *Filesystem) applyPinFlags(i int, flags CacheFlags) {
	s := &fs.cacheSlots[i]
	if flags&CacheLock != 0 {
		fs.cacheLocked.Set(i, true)
	}
	if flags&CacheUnlock != 0 {
		fs.cacheLocked.Set(i, false)
	}
	if flags&CacheRetain != 0 {
		s.retain++
	}
	if flags&CacheDiscardable != 0 && s.state != slotWriting {
		fs.cacheDiscardable.Set(i, true)
	}
}

// unlockSlot clears the no-flush pin on slot i, independent of its retain
// count. Used to release a partial-write Lock left behind when a handle
// closes before completing the sector it was composing.
func (fs *Filesystem) unlockSlot(i int) {
	if i < 0 || i >= len(fs.cacheSlots) {
		return
	}
	fs.cacheLocked.Set(i, false)
}

// release drops one Retain pin acquired on slot i.
func (fs *Filesystem) release(i int) {
	if i < 0 || i >= len(fs.cacheSlots) {
		return
	}
	if fs.cacheSlots[i].retain > 0 {
		fs.cacheSlots[i].retain--
	}
}

// markDirty transitions slot i to Dirty, per the cache's mark_dirty
// contract, for a caller that acquired with plain CacheWrite and wants to
// re-assert dirtiness after further mutation (e.g. a read-modify-write that
// spans more than one step). Nothing in this package calls it at present.
func (fs *Filesystem) markDirty(i int) {
	s := &fs.cacheSlots[i]
	if s.state == slotWriting {
		s.redirtied = true
		return
	}
	fs.setSlotState(i, slotDirty)
}

func (fs *Filesystem) onReadComplete(i int, sector SectorID, err error) {
	s := &fs.cacheSlots[i]
	if s.state != slotReading || s.sector != sector {
		fs.fail(newFatal(ErrFileSystemCorrupted, "read completion for sector in unexpected cache state"))
		return
	}
	if err != nil {
		fs.fail(newFatal(ErrIOFailed, "block device read failed: "+err.Error()))
		return
	}
	fs.setSlotState(i, slotInSync)
}

func (fs *Filesystem) onWriteComplete(i int, sector SectorID, err error) {
	s := &fs.cacheSlots[i]
	if s.state != slotWriting || s.sector != sector {
		fs.fail(newFatal(ErrFileSystemCorrupted, "write completion for sector in unexpected cache state"))
		return
	}
	if err != nil {
		// Transient device failure: stay Dirty and let the next flush retry.
		// There is no deadline; we never give up on our own.
		fs.setSlotState(i, slotDirty)
		return
	}
	if s.redirtied {
		s.redirtied = false
		fs.setSlotState(i, slotDirty)
	} else {
		fs.setSlotState(i, slotInSync)
	}
}

// flush dispatches writes for every Dirty, unlocked slot and reports whether
// the cache has nothing left to write right now.
func (fs *Filesystem) flush() bool {
	for i := range fs.cacheSlots {
		s := &fs.cacheSlots[i]
		if s.state != slotDirty || fs.cacheLocked.Get(i) {
			continue
		}

		sector := s.sector
		fs.setSlotState(i, slotWriting)
		status := fs.device.WriteBlock(sector, s.data, func(completedSector SectorID, err error) {
			fs.onWriteComplete(i, completedSector, err)
		})
		if status == StatusFailure {
			fs.setSlotState(i, slotDirty)
		}
	}

	if fs.cacheDirtyCount != 0 {
		return false
	}
	for i := range fs.cacheSlots {
		if fs.cacheSlots[i].state == slotWriting {
			return false
		}
	}
	return true
}
