package afatfs

// freefile.go implements the freefile allocator: the mount-time scan that
// reserves the largest free run on the volume as a hidden system file, the
// plain single-cluster append used by every other component's chain
// growth, and the supercluster-wide append the freefile donates to files
// opened in contiguous ("s") mode. The mount scan runs in two phases,
// find-hole then grow-hole, so it can be resumed one FAT sector at a time.

var freefileName = [11]byte{'F', 'R', 'E', 'E', 'S', 'P', 'A', 'C', 'E', ' ', ' '}

// appendFreeClusterState drives allocating a single free cluster and
// linking it onto the end of an existing chain.
type appendFreeClusterState struct {
	phase  int
	scan   fatScanState
	found  ClusterID
	linked bool
}

const (
	afcPhaseScan = iota
	afcPhaseMarkEOC
	afcPhaseLinkPrevious
	afcPhaseDone
)

func newAppendFreeClusterState() appendFreeClusterState {
	return appendFreeClusterState{}
}

// stepAppendFreeCluster advances the allocation. previousCluster is 0 if
// this is the first cluster of a brand new chain (no link-back needed).
// Returns the newly allocated cluster on success.
func (fs *Filesystem) stepAppendFreeCluster(st *appendFreeClusterState, previousCluster ClusterID) (ClusterID, Status) {
	for {
		switch st.phase {
		case afcPhaseScan:
			if st.scan.started == 0 && st.found == 0 {
				start := fs.lastClusterAllocated + 1
				if start < firstDataCluster {
					start = firstDataCluster
				}
				st.scan = newFATScanState(start, true)
			}
			found, status := fs.stepFindCluster(&st.scan, conditionFreeCluster)
			if status == StatusFailure {
				fs.filesystemFull = true
				return 0, StatusFailure
			}
			if status != StatusSuccess {
				return 0, status
			}
			st.found = found
			st.phase = afcPhaseMarkEOC

		case afcPhaseMarkEOC:
			status := fs.fatSetNext(st.found, fs.terminatorValue())
			if status != StatusSuccess {
				return 0, status
			}
			fs.lastClusterAllocated = st.found
			fs.filesystemFull = false
			if previousCluster == 0 {
				st.phase = afcPhaseDone
				continue
			}
			st.phase = afcPhaseLinkPrevious

		case afcPhaseLinkPrevious:
			status := fs.fatSetNext(previousCluster, st.found)
			if status != StatusSuccess {
				return 0, status
			}
			st.linked = true
			st.phase = afcPhaseDone

		case afcPhaseDone:
			return st.found, StatusSuccess
		}
	}
}

// superclusterSize is the number of clusters in one supercluster: exactly
// the span one FAT sector's worth of entries describes, so a supercluster
// chain can always be linked with a single-sector FAT rewrite per copy
//.
func (fs *Filesystem) superclusterSize() uint32 {
	return fs.geometry.EntriesPerFATSector
}

// appendSuperclusterState drives donating one supercluster from the
// freefile's reserve onto the end of a contiguous-mode file's chain. Unlike a plain free-cluster append, this commits
// an entire pre-linked run out of the freefile's already-contiguous span in
// one shot, rather than searching the FAT.
type appendSuperclusterState struct {
	phase       int
	firstNew    ClusterID
	rewriteFrom ClusterID
	rewriteTo   ClusterID
	cursor      ClusterID
}

const (
	ascPhaseCheckReserve = iota
	ascPhaseRewriteLinks
	ascPhaseLinkPrevious
	ascPhaseShrinkFreefile
	ascPhaseDone
)

func newAppendSuperclusterState() appendSuperclusterState {
	return appendSuperclusterState{}
}

// stepAppendSupercluster advances donating one supercluster from the
// freefile onto previousCluster's chain (0 if this is a fresh chain).
func (fs *Filesystem) stepAppendSupercluster(st *appendSuperclusterState, previousCluster ClusterID) (ClusterID, Status) {
	freefileHandle := &fs.handles[fs.freeFile.index]
	scSize := fs.superclusterSize()

	for {
		switch st.phase {
		case ascPhaseCheckReserve:
			if !fs.haveFreeFile || freefileHandle.directoryEntry.fileSize < scSize*fs.geometry.BytesPerCluster() {
				return 0, StatusFailure // no supercluster left; caller falls back to plain append
			}
			st.firstNew = freefileHandle.directoryEntry.firstCluster
			st.rewriteFrom = st.firstNew
			st.rewriteTo = st.firstNew + ClusterID(scSize) - 1
			st.cursor = st.rewriteFrom
			st.phase = ascPhaseRewriteLinks

		case ascPhaseRewriteLinks:
			if st.cursor > st.rewriteTo {
				st.phase = ascPhaseLinkPrevious
				continue
			}
			var next ClusterID
			if st.cursor == st.rewriteTo {
				next = fs.terminatorValue()
			} else {
				next = st.cursor + 1
			}
			status := fs.fatSetNext(st.cursor, next)
			if status != StatusSuccess {
				return 0, status
			}
			st.cursor++

		case ascPhaseLinkPrevious:
			if previousCluster == 0 {
				st.phase = ascPhaseShrinkFreefile
				continue
			}
			status := fs.fatSetNext(previousCluster, st.firstNew)
			if status != StatusSuccess {
				return 0, status
			}
			st.phase = ascPhaseShrinkFreefile

		case ascPhaseShrinkFreefile:
			freefileHandle.directoryEntry.firstCluster = st.rewriteTo + 1
			freefileHandle.directoryEntry.fileSize -= scSize * fs.geometry.BytesPerCluster()
			status := fs.saveDirent(&freefileHandle.direntPos, &freefileHandle.directoryEntry)
			if status != StatusSuccess {
				return 0, status
			}
			st.phase = ascPhaseDone

		case ascPhaseDone:
			return st.firstNew, StatusSuccess
		}
	}
}

// freefileMountState drives the two-phase reservation scan at mount time:
// find-hole locates a cluster at the start of a FAT sector that is free
// (a candidate hole); grow-hole then walks forward from there one cluster
// at a time measuring how far the free run extends. The pair repeats,
// keeping the longest run seen, until the scan has wrapped all the way
// back around the volume.
type freefileMountState struct {
	phase         int
	scan          fatScanState
	bestStart     ClusterID
	bestLength    uint32
	currentStart  ClusterID
	currentLength uint32
	linked        uint32 // chain links installFreefile has written so far
}

const (
	ffmPhaseFindHole = iota
	ffmPhaseGrowHole
	ffmPhaseCreateEntry
	ffmPhaseDone
	ffmPhaseNone // no free run longer than FreefileLeaveClusters; freefile disabled
)

func newFreefileMountState() freefileMountState {
	return freefileMountState{scan: newFATScanState(firstDataCluster, false)}
}

// stepMountFreefile advances the mount-time scan by one FAT sector's worth
// of entries.
func (fs *Filesystem) stepMountFreefile(st *freefileMountState) Status {
	for {
		switch st.phase {
		case ffmPhaseFindHole:
			// Phase 1: a hole is only useful if it starts at the beginning
			// of a FAT sector, so the supercluster carved from it never
			// shares a FAT sector with anything else.
			candidate, status := fs.stepFindCluster(&st.scan, conditionFreeSectorAtBeginning)
			switch status {
			case StatusInProgress:
				return StatusInProgress
			case StatusFailure:
				// Scan exhausted (wrapped with no further aligned hole):
				// go with whatever run length Phase 2 already measured.
				st.phase = ffmPhaseCreateEntry
				continue
			}

			st.currentStart = candidate
			st.currentLength = 0
			st.phase = ffmPhaseGrowHole

		case ffmPhaseGrowHole:
			// Phase 2: advance by one cluster until occupied or
			// end-of-volume, measuring the gap.
			cluster, status := fs.stepFindCluster(&st.scan, conditionFreeCluster)
			if status == StatusInProgress {
				return StatusInProgress
			}
			if status != StatusSuccess || cluster != st.currentStart+ClusterID(st.currentLength) {
				if st.currentLength > st.bestLength {
					st.bestLength = st.currentLength
					st.bestStart = st.currentStart
				}
				if status == StatusFailure {
					st.phase = ffmPhaseCreateEntry
					continue
				}
				// Resume the hunt for the next aligned hole from here.
				st.phase = ffmPhaseFindHole
				continue
			}
			st.currentLength++
			// stepFindCluster stops on a hit without moving past it.
			if !fs.advanceScanCluster(&st.scan) || st.scan.wrapped {
				// The run reaches the end of the volume.
				if st.currentLength > st.bestLength {
					st.bestLength = st.currentLength
					st.bestStart = st.currentStart
				}
				st.phase = ffmPhaseCreateEntry
			}

		case ffmPhaseCreateEntry:
			if st.bestLength <= FreefileLeaveClusters {
				st.phase = ffmPhaseNone
				continue
			}
			reserve := st.bestLength - FreefileLeaveClusters
			// Round down to a whole number of superclusters so every FAT
			// sector the freefile covers belongs to it exclusively.
			scSize := fs.superclusterSize()
			reserve -= reserve % scSize
			if reserve == 0 {
				st.phase = ffmPhaseNone
				continue
			}
			status := fs.installFreefile(st.bestStart, reserve)
			if status != StatusSuccess {
				return status
			}
			st.phase = ffmPhaseDone

		case ffmPhaseNone:
			fs.haveFreeFile = false
			return StatusSuccess

		case ffmPhaseDone:
			return StatusSuccess
		}
	}
}

// installFreefile marks `count` clusters starting at `start` as a single
// EOC-terminated chain, writes the FREESPACE system directory entry into
// the root directory, and records the handle.
func (fs *Filesystem) installFreefile(start ClusterID, count uint32) Status {
	// Links already written are counted in the mount state, so a call that
	// returns InProgress (no cache slot free) resumes where it stopped.
	progress := &fs.mountOp.freefileMount
	for ; progress.linked < count-1; progress.linked++ {
		cluster := start + ClusterID(progress.linked)
		status := fs.fatSetNext(cluster, cluster+1)
		if status != StatusSuccess {
			return status
		}
	}
	status := fs.fatSetNext(start+ClusterID(count)-1, fs.terminatorValue())
	if status != StatusSuccess {
		return status
	}

	entry := dirent{
		name:         freefileName,
		attr:         AttrSystem | AttrHidden,
		firstCluster: start,
		fileSize:     count * fs.geometry.BytesPerCluster(),
	}

	rootCluster := ClusterID(0)
	if fs.fsType == FSTypeFAT32 {
		rootCluster = fs.geometry.RootDirectoryCluster
	}

	var alloc allocState
	if fs.mountOp.freefileAlloc == nil {
		st := newAllocState(rootCluster)
		fs.mountOp.freefileAlloc = &st
	}
	alloc = *fs.mountOp.freefileAlloc

	finder, done, status := fs.stepAllocate(&alloc)
	*fs.mountOp.freefileAlloc = alloc
	if status != StatusSuccess {
		return status
	}
	if !done {
		return StatusInProgress
	}

	if status := fs.saveDirent(&finder, &entry); status != StatusSuccess {
		return status
	}

	// The freefile's own directory entry is pinned with Retain for the
	// filesystem's entire lifetime: it must never be evicted out from under
	// every other component's chain-growth path.
	retainSlot, _, status := fs.acquire(fs.sectorForFinder(&finder), CacheRetain)
	if status != StatusSuccess {
		return status
	}

	idx := fs.allocateHandleSlot()
	h := &fs.handles[idx]
	h.fileType = fileTypeNormal
	h.directoryEntry = entry
	h.direntPos = finder
	h.parentCluster = rootCluster
	h.cursorCluster = entry.firstCluster
	h.cursorOffset = 0
	h.mode = OpenRetainDirectory
	h.retainedDirentSlot = int32(retainSlot)

	fs.freeFile = FileID{index: int32(idx), generation: h.generation}
	fs.haveFreeFile = true
	fs.lastClusterAllocated = start + ClusterID(count) - 1
	return StatusSuccess
}
