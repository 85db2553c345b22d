package afatfs

// fatchain.go implements the FAT accessor: translating a cluster number to
// its FAT sector/offset, reading and writing chain links through the
// cache, and searching for free or occupied clusters. fatSetNextAggregated
// uses go-multierror to collect per-copy failures of the dual-FAT-copy write.

import (
	"fmt"

	"github.com/hashicorp/go-multierror"
)

// fatEntryLocation is the (sector, byte offset) a cluster's FAT entry lives
// at within ONE fat copy.
type fatEntryLocation struct {
	sectorOffset uint32 // sector index relative to FATStartSector
	byteOffset   uint32 // byte offset within that sector
}

func (fs *Filesystem) locateFATEntry(cluster ClusterID) fatEntryLocation {
	var entrySize uint32 = 2
	if fs.fsType == FSTypeFAT32 {
		entrySize = 4
	}
	bytePos := uint32(cluster) * entrySize
	return fatEntryLocation{
		sectorOffset: bytePos / fs.geometry.BytesPerSector,
		byteOffset:   bytePos % fs.geometry.BytesPerSector,
	}
}

func (fs *Filesystem) fatSectorForCopy(loc fatEntryLocation, copyIndex uint32) SectorID {
	return fs.geometry.FATStartSector + SectorID(copyIndex*fs.geometry.FATSectors) + SectorID(loc.sectorOffset)
}

func (fs *Filesystem) decodeFATEntry(buf []byte, loc fatEntryLocation) ClusterID {
	if fs.fsType == FSTypeFAT32 {
		raw := uint32(buf[loc.byteOffset]) | uint32(buf[loc.byteOffset+1])<<8 |
			uint32(buf[loc.byteOffset+2])<<16 | uint32(buf[loc.byteOffset+3])<<24
		return ClusterID(raw) & fat32EntryMask
	}
	raw := uint32(buf[loc.byteOffset]) | uint32(buf[loc.byteOffset+1])<<8
	return ClusterID(raw)
}

func (fs *Filesystem) encodeFATEntry(buf []byte, loc fatEntryLocation, value ClusterID) {
	if fs.fsType == FSTypeFAT32 {
		// Top 4 bits of a FAT32 entry are reserved and must be preserved.
		existing := uint32(buf[loc.byteOffset]) | uint32(buf[loc.byteOffset+1])<<8 |
			uint32(buf[loc.byteOffset+2])<<16 | uint32(buf[loc.byteOffset+3])<<24
		merged := (existing &^ uint32(fat32EntryMask)) | (uint32(value) & uint32(fat32EntryMask))
		buf[loc.byteOffset] = byte(merged)
		buf[loc.byteOffset+1] = byte(merged >> 8)
		buf[loc.byteOffset+2] = byte(merged >> 16)
		buf[loc.byteOffset+3] = byte(merged >> 24)
		return
	}
	buf[loc.byteOffset] = byte(value)
	buf[loc.byteOffset+1] = byte(value >> 8)
}

// isEndOfChain reports whether a raw FAT entry marks the end of a cluster
// chain.
func (fs *Filesystem) isEndOfChain(entry ClusterID) bool {
	if fs.fsType == FSTypeFAT32 {
		return entry >= endOfChainFAT32
	}
	return entry >= endOfChainFAT16
}

func (fs *Filesystem) isBadCluster(entry ClusterID) bool {
	if fs.fsType == FSTypeFAT32 {
		return entry == badClusterFAT32
	}
	return entry == badClusterFAT16
}

func (fs *Filesystem) terminatorValue() ClusterID {
	if fs.fsType == FSTypeFAT32 {
		return terminatorFAT32
	}
	return terminatorFAT16
}

// fatGetNext reads cluster's entry from the first FAT copy. Returns StatusInProgress if the sector isn't cached yet.
func (fs *Filesystem) fatGetNext(cluster ClusterID) (ClusterID, Status) {
	loc := fs.locateFATEntry(cluster)
	sector := fs.fatSectorForCopy(loc, 0)

	slotIdx, buf, status := fs.acquire(sector, CacheRead)
	if status != StatusSuccess {
		return 0, status
	}
	defer fs.release(slotIdx)

	return fs.decodeFATEntry(buf, loc), StatusSuccess
}

// fatSetNext writes cluster's entry to EVERY FAT copy.
// It acquires all copies before mutating any of them, so a failure on copy
// 2 never leaves copy 1 alone updated while the operation retries -- a
// retry re-acquires (cheap; they're almost always already cached) and
// re-writes all copies identically, which is idempotent.
func (fs *Filesystem) fatSetNext(cluster ClusterID, value ClusterID) Status {
	loc := fs.locateFATEntry(cluster)

	slots := make([]int, fs.geometry.NumFATs)
	bufs := make([][]byte, fs.geometry.NumFATs)
	for copyIdx := uint32(0); copyIdx < fs.geometry.NumFATs; copyIdx++ {
		sector := fs.fatSectorForCopy(loc, copyIdx)
		slotIdx, buf, status := fs.acquire(sector, CacheRead|CacheWrite)
		if status != StatusSuccess {
			for _, acquired := range slots[:copyIdx] {
				fs.release(acquired)
			}
			return status
		}
		slots[copyIdx] = slotIdx
		bufs[copyIdx] = buf
	}

	for copyIdx, slotIdx := range slots {
		fs.encodeFATEntry(bufs[copyIdx], loc, value)
		fs.release(slotIdx)
	}
	return StatusSuccess
}

// fatSetNextAggregated writes cluster's entry to every FAT copy like
// fatSetNext, but updates each copy as soon as it is acquired and collects
// every copy's acquire failure into a multierror instead of returning on the
// first copy that isn't available. Nothing in this package calls it; the
// freefile and chain-growth paths use fatSetNext.
func (fs *Filesystem) fatSetNextAggregated(cluster ClusterID, value ClusterID) (Status, error) {
	loc := fs.locateFATEntry(cluster)

	var result *multierror.Error
	anyPending := false
	slots := make([]int, 0, fs.geometry.NumFATs)

	for copyIdx := uint32(0); copyIdx < fs.geometry.NumFATs; copyIdx++ {
		sector := fs.fatSectorForCopy(loc, copyIdx)
		slotIdx, buf, status := fs.acquire(sector, CacheRead|CacheWrite)
		switch status {
		case StatusSuccess:
			slots = append(slots, slotIdx)
			fs.encodeFATEntry(buf, loc, value)
		case StatusInProgress:
			anyPending = true
		default:
			result = multierror.Append(result, fmt.Errorf("FAT copy %d sector %d: write failed", copyIdx, sector))
		}
	}

	for _, slotIdx := range slots {
		fs.release(slotIdx)
	}

	if result.ErrorOrNil() != nil {
		return StatusFailure, result.ErrorOrNil()
	}
	if anyPending {
		return StatusInProgress, nil
	}
	return StatusSuccess, nil
}

// clusterCondition selects what stepFindCluster is looking for
//.
type clusterCondition int

const (
	conditionFreeSectorAtBeginning clusterCondition = iota
	conditionFreeCluster
	conditionOccupiedCluster
)

// fatScanState is the resumable cursor for a FAT scan, since a scan can
// span arbitrarily many sectors and each sector read may return InProgress.
type fatScanState struct {
	cluster      ClusterID
	started      ClusterID
	wrapped      bool
	skipFreefile bool
}

func newFATScanState(start ClusterID, skipFreefile bool) fatScanState {
	return fatScanState{cluster: start, started: start, skipFreefile: skipFreefile}
}

// stepFindCluster advances the scan, inspecting one FAT sector's worth of
// entries per call so a single Poll() doesn't block for arbitrarily long
// on a mostly-full volume.
func (fs *Filesystem) stepFindCluster(st *fatScanState, cond clusterCondition) (ClusterID, Status) {
	loc := fs.locateFATEntry(st.cluster)
	sector := fs.fatSectorForCopy(loc, 0)

	slotIdx, buf, status := fs.acquire(sector, CacheRead)
	if status != StatusSuccess {
		return 0, status
	}

	entriesLeftInSector := fs.geometry.EntriesPerFATSector - (uint32(st.cluster) % fs.geometry.EntriesPerFATSector)

	for n := uint32(0); n < entriesLeftInSector; n++ {
		if st.skipFreefile && fs.haveFreeFile && fs.clusterInFreefile(st.cluster) {
			if ok := fs.advanceScanCluster(st); !ok {
				fs.release(slotIdx)
				return 0, StatusFailure
			}
			continue
		}

		entry := fs.decodeFATEntry(buf, fs.locateFATEntry(st.cluster))
		matched := false
		switch cond {
		case conditionFreeCluster:
			matched = entry == FreeCluster
		case conditionFreeSectorAtBeginning:
			matched = entry == FreeCluster && uint32(st.cluster)%fs.geometry.EntriesPerFATSector == 0
		case conditionOccupiedCluster:
			matched = entry != FreeCluster && !fs.isBadCluster(entry)
		}

		if matched {
			found := st.cluster
			fs.release(slotIdx)
			return found, StatusSuccess
		}

		if ok := fs.advanceScanCluster(st); !ok {
			fs.release(slotIdx)
			return 0, StatusFailure
		}
		if st.wrapped && st.cluster == st.started {
			fs.release(slotIdx)
			return 0, StatusFailure
		}
		// Sector boundary crossed mid-loop: re-acquire on the next call
		// rather than risk reading past buf's bounds.
		if fs.locateFATEntry(st.cluster).sectorOffset != loc.sectorOffset {
			break
		}
	}

	fs.release(slotIdx)
	return 0, StatusInProgress
}

func (fs *Filesystem) advanceScanCluster(st *fatScanState) bool {
	st.cluster++
	if st.cluster >= ClusterID(fs.geometry.NumClusters)+firstDataCluster {
		if st.wrapped {
			return false
		}
		st.wrapped = true
		st.cluster = firstDataCluster
	}
	return true
}

// clusterInFreefile reports whether cluster falls within the contiguous
// range currently reserved by the freefile, so ordinary allocation
// scans skip over it.
func (fs *Filesystem) clusterInFreefile(cluster ClusterID) bool {
	if !fs.haveFreeFile {
		return false
	}
	h := &fs.handles[fs.freeFile.index]
	start := h.directoryEntry.firstCluster
	count := ClusterID(h.directoryEntry.fileSize / fs.geometry.BytesPerCluster())
	return cluster >= start && cluster < start+count
}
