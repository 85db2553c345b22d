package afatfs

// fileops.go implements the step functions for every file-handle operation:
// open/create, close, seek, read, write, mkdir, and unlink. Every Fxxx entry
// point in facade.go starts one of these and returns immediately;
// pollFileOperations resumes whichever is in flight until it fires its
// callback.

// stepOperation advances whatever operation handle h has in flight by one
// step, firing its callback and clearing the operation if it finished.
func (fs *Filesystem) stepOperation(h *fileHandle, index int32) {
	op := &h.operation

	switch op.kind {
	case opOpen:
		fs.stepOpen(h)
	case opSeek:
		fs.stepSeek(h)
	case opReadWrite:
		fs.stepReadWrite(h)
	case opClose:
		fs.stepClose(h, index)
	case opUnlink:
		fs.stepUnlink(h)
	case opMkdir:
		fs.stepMkdir(h)
	}
}

func (fs *Filesystem) finishSimple(op *operationState, err error) {
	cb := op.callback
	*op = operationState{}
	if cb != nil {
		cb(err)
	}
}

// --- open / create -----------------------------------------------------

const (
	openPhaseLookup = iota
	openPhaseTruncateFree
	openPhaseAllocate
	openPhaseFinish
)

func (fs *Filesystem) beginOpen(parent ClusterID, name [11]byte, mode OpenMode, callback func(FileID, error)) {
	idx := fs.allocateHandleSlot()
	if idx < 0 {
		callback(FileID{}, ErrTooManyOpenFiles)
		return
	}
	h := &fs.handles[idx]
	h.operation = operationState{
		kind:         opOpen,
		phase:        openPhaseLookup,
		openName:     name,
		openMode:     mode,
		openParent:   parent,
		openFinder:   direntFinder{cluster: parent},
		openCallback: callback,
	}
	fs.stepOpen(h)
}

func (fs *Filesystem) stepOpen(h *fileHandle) {
	op := &h.operation

	for {
		switch op.phase {
		case openPhaseLookup:
			result, entry, status := fs.findEntryByName(op.openParent, op.openName, &op.openFinder)
			if status != StatusSuccess {
				return
			}

			if result == scanLive {
				h.directoryEntry = entry
				h.direntPos = op.openFinder
				h.parentCluster = op.openParent
				if op.openMode&OpenWrite != 0 && op.openMode&OpenTruncate != 0 {
					op.phase = openPhaseTruncateFree
					continue
				}
				op.phase = openPhaseFinish
				continue
			}

			// Not found.
			if op.openMode&OpenCreate == 0 {
				fs.finishOpen(h, ErrNotFound)
				return
			}
			h.directoryEntry = dirent{name: op.openName}
			op.phase = openPhaseAllocate
			op.openAlloc = newAllocState(op.openParent)
			continue

		case openPhaseTruncateFree:
			status := fs.stepFreeChain(&op.freeChain, h.directoryEntry.firstCluster)
			if status != StatusSuccess {
				return
			}
			h.directoryEntry.firstCluster = 0
			h.directoryEntry.fileSize = 0
			if status := fs.saveDirent(&h.direntPos, &h.directoryEntry); status != StatusSuccess {
				return
			}
			op.phase = openPhaseFinish
			continue

		case openPhaseAllocate:
			finder, done, status := fs.stepAllocate(&op.openAlloc)
			if status == StatusFailure {
				fs.finishOpen(h, ErrNoSpaceOnDevice)
				return
			}
			if status != StatusSuccess {
				return
			}
			if !done {
				return
			}
			h.direntPos = finder
			h.parentCluster = op.openParent
			if status := fs.saveDirent(&h.direntPos, &h.directoryEntry); status != StatusSuccess {
				return
			}
			op.phase = openPhaseFinish
			continue

		case openPhaseFinish:
			h.fileType = fileTypeNormal
			if h.directoryEntry.isDirectory() {
				h.fileType = fileTypeDirectory
			}
			h.mode = op.openMode
			h.cursorCluster = h.directoryEntry.firstCluster
			h.cursorOffset = 0
			if op.openMode&OpenAppend != 0 {
				h.cursorOffset = h.directoryEntry.fileSize
			}
			if op.openMode&OpenRetainDirectory != 0 {
				sector := fs.sectorForFinder(&h.direntPos)
				slotIdx, _, status := fs.acquire(sector, CacheRetain)
				if status != StatusSuccess {
					return
				}
				h.retainedDirentSlot = int32(slotIdx)
			}
			fs.finishOpen(h, nil)
			return
		}
	}
}

func (fs *Filesystem) finishOpen(h *fileHandle, err error) {
	op := &h.operation
	cb := op.openCallback
	if err != nil {
		h.fileType = fileTypeNone
		*op = operationState{}
		cb(FileID{}, err)
		return
	}
	h.generation++
	id := FileID{index: h.index, generation: h.generation}
	*op = operationState{}
	cb(id, nil)
}

// freeChainState is the resumable cursor for stepFreeChain.
type freeChainState struct {
	started bool
	current ClusterID
}

// stepFreeChain walks a cluster chain starting at start, freeing each link
// in the FAT.
func (fs *Filesystem) stepFreeChain(st *freeChainState, start ClusterID) Status {
	if !st.started {
		st.started = true
		st.current = start
	}

	for {
		if st.current == 0 || fs.isEndOfChain(st.current) {
			return StatusSuccess
		}
		next, status := fs.fatGetNext(st.current)
		if status != StatusSuccess {
			return status
		}
		if status := fs.fatSetNext(st.current, FreeCluster); status != StatusSuccess {
			return status
		}
		st.current = next
	}
}

// --- close ---------------------------------------------------------------

func (fs *Filesystem) beginClose(id FileID, callback func(error)) {
	h, err := fs.resolveHandle(id)
	if err != nil {
		if callback != nil {
			callback(err)
		}
		return
	}
	h.operation = operationState{kind: opClose, callback: callback}
	fs.stepClose(h, id.index)
}

func (fs *Filesystem) stepClose(h *fileHandle, index int32) {
	// Any dirty sector belonging to this file is already tracked by the
	// shared cache; closing just releases the handle slot. The cache's own
	// flush() (driven every Poll()) is what actually persists it to disk.
	if h.lockedCacheIndex != -1 {
		fs.unlockSlot(int(h.lockedCacheIndex))
		h.lockedCacheIndex = -1
	}
	if h.retainedDirentSlot != -1 {
		fs.release(int(h.retainedDirentSlot))
		h.retainedDirentSlot = -1
	}
	h.fileType = fileTypeNone
	fs.finishSimple(&h.operation, nil)
}

// --- seek ------------------------------------------------------------

const (
	seekPhaseWalk = iota
)

func (fs *Filesystem) beginSeek(h *fileHandle, target uint32, callback func(error)) {
	h.operation = operationState{kind: opSeek, phase: seekPhaseWalk, seekTarget: target, callback: callback}
	fs.stepSeek(h)
}

func (fs *Filesystem) stepSeek(h *fileHandle) {
	op := &h.operation
	targetCluster := fs.clustersForOffset(op.seekTarget)
	currentCluster := fs.clustersForOffset(h.cursorOffset)

	if targetCluster == currentCluster {
		h.cursorOffset = op.seekTarget
		fs.finishSimple(op, nil)
		return
	}

	if targetCluster < currentCluster {
		h.cursorCluster = h.directoryEntry.firstCluster
		currentCluster = 0
	}

	for currentCluster < targetCluster {
		next, status := fs.fatGetNext(h.cursorCluster)
		if status != StatusSuccess {
			return
		}
		if fs.isEndOfChain(next) {
			// Seeking past EOF: stop at the last real cluster; the cursor
			// offset itself still records the requested (possibly
			// past-end) position, consistent with the optimistic
			// cursor-cluster pre-advance contract.
			break
		}
		h.cursorCluster = next
		currentCluster++
	}

	h.cursorOffset = op.seekTarget
	fs.finishSimple(op, nil)
}

// growChain appends one cluster (or, for a handle opened with
// OpenContiguous while the freefile has a whole supercluster spare, one
// supercluster) onto previous, returning the new cluster(s)' first member
//. The choice of
// which state machine to use is made once per growth and stuck to for its
// duration, since switching halfway would leave an orphaned partial state.
func (fs *Filesystem) growChain(op *operationState, h *fileHandle, previous ClusterID) (ClusterID, Status) {
	if !op.growDecided {
		op.growDecided = true
		op.growUsesSupercluster = h.mode&OpenContiguous != 0 && fs.haveFreeFile &&
			fs.handles[fs.freeFile.index].directoryEntry.fileSize >= fs.superclusterSize()*fs.geometry.BytesPerCluster()
	}

	if op.growUsesSupercluster {
		cluster, status := fs.stepAppendSupercluster(&op.asc, previous)
		if status == StatusFailure {
			// Freefile ran dry mid-operation; fall back permanently.
			op.growUsesSupercluster = false
			op.asc = appendSuperclusterState{}
		} else {
			if status == StatusSuccess {
				op.growDecided = false
			}
			return cluster, status
		}
	}

	cluster, status := fs.stepAppendFreeCluster(&op.afc, previous)
	if status == StatusSuccess {
		op.growDecided = false
		op.afc = appendFreeClusterState{}
	}
	return cluster, status
}

// --- read / write ------------------------------------------------------

const (
	rwPhaseEnsureCluster = iota
	rwPhaseTransfer
	rwPhaseAdvance
	rwPhaseDone
)

func (fs *Filesystem) beginReadWrite(h *fileHandle, buf []byte, isWrite bool, callback func(int, error)) {
	h.operation = operationState{
		kind:      opReadWrite,
		phase:     rwPhaseEnsureCluster,
		rwBuffer:  buf,
		rwIsWrite: isWrite,
		rwCallback: callback,
	}
	fs.stepReadWrite(h)
}

func (fs *Filesystem) stepReadWrite(h *fileHandle) {
	op := &h.operation

	for {
		if op.rwOffset >= len(op.rwBuffer) {
			op.phase = rwPhaseDone
		}

		switch op.phase {
		case rwPhaseEnsureCluster:
			// The FAT16 root directory is sector-addressed, not
			// cluster-addressed: cursorCluster stays the fixed sentinel 0
			// for its whole lifetime (directory.go's direntFinder uses the
			// same sentinel), so it never needs a first-cluster allocation.
			if h.fileType == fileTypeFAT16Root {
				op.phase = rwPhaseTransfer
				continue
			}
			if h.cursorCluster != 0 {
				op.phase = rwPhaseTransfer
				continue
			}
			if !op.rwIsWrite {
				op.phase = rwPhaseDone
				continue
			}
			// First write to an empty file: allocate its first cluster.
			newCluster, status := fs.growChain(op, h, 0)
			if status == StatusFailure {
				// Volume full: report the bytes transferred so far.
				op.phase = rwPhaseDone
				continue
			}
			if status != StatusSuccess {
				return
			}
			h.cursorCluster = newCluster
			h.directoryEntry.firstCluster = newCluster
			op.phase = rwPhaseTransfer

		case rwPhaseTransfer:
			// Directories report a size of 0 on disk; their end is the
			// cluster chain's terminator, not a byte count, so the
			// size-based EOF short-circuit below only applies to regular
			// files. The FAT16 root has neither a size nor a chain -- it's
			// a fixed-length sector-contiguous region -- so it gets its own
			// bound.
			isRegularFile := h.fileType == fileTypeNormal
			isFAT16Root := h.fileType == fileTypeFAT16Root
			rootTotalBytes := fs.geometry.RootDirectorySectors * fs.geometry.BytesPerSector
			if !op.rwIsWrite {
				if isRegularFile && h.cursorOffset >= h.directoryEntry.fileSize {
					op.phase = rwPhaseDone
					continue
				}
				if isFAT16Root && h.cursorOffset >= rootTotalBytes {
					op.phase = rwPhaseDone
					continue
				}
			}

			sector := fs.cursorSector(h)

			withinSector := h.cursorOffset % fs.geometry.BytesPerSector
			room := int(fs.geometry.BytesPerSector - withinSector)
			remaining := len(op.rwBuffer) - op.rwOffset
			n := room
			if remaining < n {
				n = remaining
			}
			if !op.rwIsWrite && isRegularFile {
				untilEOF := int(h.directoryEntry.fileSize - h.cursorOffset)
				if untilEOF < n {
					n = untilEOF
				}
			}
			if !op.rwIsWrite && isFAT16Root {
				untilEOF := int(rootTotalBytes - h.cursorOffset)
				if untilEOF < n {
					n = untilEOF
				}
			}

			var flags CacheFlags
			if op.rwIsWrite {
				flags = CacheWrite
				// Bytes outside [withinSector, withinSector+n) survive this
				// write untouched, so their old contents must be read first
				// unless this copy happens to span the whole sector.
				trailingData := h.directoryEntry.fileSize > h.cursorOffset+uint32(n) && uint32(n) < uint32(room)
				if withinSector != 0 || trailingData {
					flags |= CacheRead
				}
				if withinSector+uint32(n) == fs.geometry.BytesPerSector {
					flags |= CacheUnlock
				} else {
					flags |= CacheLock
				}
			} else {
				flags = CacheRead
			}

			slotIdx, sectorBuf, status := fs.acquire(sector, flags)
			if status != StatusSuccess {
				return
			}

			if op.rwIsWrite {
				copy(sectorBuf[withinSector:], op.rwBuffer[op.rwOffset:op.rwOffset+n])
				if flags&CacheLock != 0 {
					h.lockedCacheIndex = int32(slotIdx)
				} else {
					h.lockedCacheIndex = -1
				}
			} else {
				copy(op.rwBuffer[op.rwOffset:op.rwOffset+n], sectorBuf[withinSector:withinSector+uint32(n)])
			}
			fs.release(slotIdx)

			op.rwOffset += n
			h.cursorOffset += uint32(n)
			if op.rwIsWrite && h.cursorOffset > h.directoryEntry.fileSize {
				h.directoryEntry.fileSize = h.cursorOffset
			}

			op.phase = rwPhaseAdvance

		case rwPhaseAdvance:
			if op.rwOffset >= len(op.rwBuffer) {
				op.phase = rwPhaseDone
				continue
			}
			if h.fileType == fileTypeFAT16Root {
				// Sector-contiguous, not cluster-chained: cursorSector
				// re-derives the next sector directly from cursorOffset,
				// and rwPhaseTransfer's own bound check catches EOF.
				op.phase = rwPhaseTransfer
				continue
			}
			if fs.offsetWithinCluster(h.cursorOffset) != 0 {
				// Still inside the same cluster.
				op.phase = rwPhaseTransfer
				continue
			}

			// Crossed a cluster boundary: find or allocate the next one.
			nextCluster, status2 := fs.fatGetNext(h.cursorCluster)
			if status2 != StatusSuccess {
				return
			}
			if fs.isEndOfChain(nextCluster) {
				if !op.rwIsWrite {
					op.phase = rwPhaseDone
					continue
				}
				grown, status3 := fs.growChain(op, h, h.cursorCluster)
				if status3 == StatusFailure {
					// Volume full: report the bytes transferred so far.
					op.phase = rwPhaseDone
					continue
				}
				if status3 != StatusSuccess {
					return
				}
				h.cursorPreviousCluster = h.cursorCluster
				h.cursorCluster = grown
			} else {
				h.cursorPreviousCluster = h.cursorCluster
				h.cursorCluster = nextCluster
			}
			op.phase = rwPhaseTransfer

		case rwPhaseDone:
			if op.rwIsWrite {
				if status := fs.saveDirent(&h.direntPos, &h.directoryEntry); status != StatusSuccess {
					return
				}
			}
			n := op.rwOffset
			cb := op.rwCallback
			*op = operationState{}
			cb(n, nil)
			return
		}
	}
}

// --- mkdir / init subdirectory ------------------------------------------

const (
	mkdirPhaseCreateEntry = iota
	mkdirPhaseAllocCluster
	mkdirPhaseInitDots
	mkdirPhaseDone
)

func (fs *Filesystem) beginMkdir(parent ClusterID, name [11]byte, callback func(error)) {
	idx := fs.allocateHandleSlot()
	if idx < 0 {
		callback(ErrTooManyOpenFiles)
		return
	}
	h := &fs.handles[idx]
	h.fileType = fileTypeDirectory
	h.directoryEntry = dirent{name: name, attr: AttrDirectory}
	h.parentCluster = parent
	h.operation = operationState{
		kind:       opMkdir,
		phase:      mkdirPhaseCreateEntry,
		openAlloc:  newAllocState(parent),
		initParent: parent,
		callback:   callback,
	}
	fs.stepMkdir(h)
}

func (fs *Filesystem) stepMkdir(h *fileHandle) {
	op := &h.operation

	for {
		switch op.phase {
		case mkdirPhaseCreateEntry:
			finder, done, status := fs.stepAllocate(&op.openAlloc)
			if status != StatusSuccess {
				fs.finishMkdir(h, status, nil)
				return
			}
			if !done {
				return
			}
			h.direntPos = finder
			op.phase = mkdirPhaseAllocCluster

		case mkdirPhaseAllocCluster:
			cluster, status := fs.stepAppendFreeCluster(&op.afc, 0)
			if status != StatusSuccess {
				fs.finishMkdir(h, status, nil)
				return
			}
			h.directoryEntry.firstCluster = cluster
			op.initFirstSC = cluster
			op.phase = mkdirPhaseInitDots

		case mkdirPhaseInitDots:
			sector := fs.geometry.ClusterToSector(op.initFirstSC)
			slotIdx, buf, status := fs.acquire(sector, CacheRead|CacheWrite)
			if status != StatusSuccess {
				return
			}
			for i := range buf {
				buf[i] = 0
			}
			dot := dirent{attr: AttrDirectory, firstCluster: op.initFirstSC}
			dot.name = [11]byte{'.', ' ', ' ', ' ', ' ', ' ', ' ', ' ', ' ', ' ', ' '}
			dotdot := dirent{attr: AttrDirectory, firstCluster: op.initParent}
			dotdot.name = [11]byte{'.', '.', ' ', ' ', ' ', ' ', ' ', ' ', ' ', ' ', ' '}
			dot.encodeInto(buf[0:DirentSize])
			dotdot.encodeInto(buf[DirentSize : 2*DirentSize])
			fs.release(slotIdx)
			op.phase = mkdirPhaseDone

		case mkdirPhaseDone:
			h.directoryEntry.fileSize = 0
			if status := fs.saveDirent(&h.direntPos, &h.directoryEntry); status != StatusSuccess {
				return
			}
			fs.finishMkdir(h, StatusSuccess, nil)
			return
		}
	}
}

// finishMkdir releases the scratch handle used to build the new directory's
// entry -- Mkdir reports success or failure, not a FileID; callers open the
// new directory separately if they want a handle to it.
func (fs *Filesystem) finishMkdir(h *fileHandle, status Status, err error) {
	if status == StatusInProgress {
		return
	}
	cb := h.operation.callback
	h.fileType = fileTypeNone
	h.operation = operationState{}
	if status == StatusFailure && err == nil {
		err = ErrNoSpaceOnDevice
	}
	cb(err)
}

// --- unlink --------------------------------------------------------------

const (
	unlinkPhaseLookup = iota
	unlinkPhaseCheckEmpty
	unlinkPhaseFreeChain
	unlinkPhaseMarkDeleted
	unlinkPhaseDone
)

func (fs *Filesystem) beginUnlink(parent ClusterID, name [11]byte, callback func(error)) {
	idx := fs.allocateHandleSlot()
	if idx < 0 {
		callback(ErrTooManyOpenFiles)
		return
	}
	h := &fs.handles[idx]
	h.fileType = fileTypeNormal
	h.operation = operationState{
		kind:       opUnlink,
		phase:      unlinkPhaseLookup,
		openName:   name,
		openParent: parent,
		openFinder: direntFinder{cluster: parent},
		callback:   callback,
	}
	fs.stepUnlink(h)
}

func (fs *Filesystem) stepUnlink(h *fileHandle) {
	op := &h.operation

	for {
		switch op.phase {
		case unlinkPhaseLookup:
			result, entry, status := fs.findEntryByName(op.openParent, op.openName, &op.openFinder)
			if status != StatusSuccess {
				return
			}
			if result != scanLive {
				fs.finishUnlink(h, ErrNotFound)
				return
			}
			h.directoryEntry = entry
			h.direntPos = op.openFinder
			if entry.isDirectory() {
				op.phase = unlinkPhaseCheckEmpty
				op.unlinkFinder = direntFinder{cluster: entry.firstCluster, entryIndex: 2} // skip "." and ".."
				continue
			}
			op.unlinkCurrent = entry.firstCluster
			op.phase = unlinkPhaseFreeChain

		case unlinkPhaseCheckEmpty:
			result, _, status := fs.readFinderSlot(&op.unlinkFinder)
			if status != StatusSuccess {
				return
			}
			if result == scanLive {
				fs.finishUnlink(h, ErrDirectoryNotEmpty)
				return
			}
			if result == scanTerminator || op.unlinkFinder.finished {
				op.unlinkCurrent = h.directoryEntry.firstCluster
				op.phase = unlinkPhaseFreeChain
				continue
			}
			if s := fs.stepFinder(&op.unlinkFinder); s != StatusSuccess {
				return
			}

		case unlinkPhaseFreeChain:
			status := fs.stepFreeChain(&op.freeChain, op.unlinkCurrent)
			if status != StatusSuccess {
				return
			}
			op.phase = unlinkPhaseMarkDeleted

		case unlinkPhaseMarkDeleted:
			if status := fs.markDeleted(&h.direntPos); status != StatusSuccess {
				return
			}
			op.phase = unlinkPhaseDone

		case unlinkPhaseDone:
			fs.finishUnlink(h, nil)
			return
		}
	}
}

func (fs *Filesystem) finishUnlink(h *fileHandle, err error) {
	cb := h.operation.callback
	h.fileType = fileTypeNone
	h.operation = operationState{}
	cb(err)
}
