package afatfs

// directory.go implements the directory engine: iterating 32-byte entries,
// allocating a free slot (extending the directory if needed), and saving
// an entry back. Scans proceed one sector at a time through a resumable
// finder rather than reading the whole directory into memory at once.

import (
	"strings"

	"github.com/noxer/bytewriter"
)

// dirent is the in-memory mirror of a 32-byte on-disk directory entry.
type dirent struct {
	name         [11]byte
	attr         uint8
	firstCluster ClusterID
	fileSize     uint32
}

func (d *dirent) isDirectory() bool { return d.attr&AttrDirectory != 0 }

// decodeDirent parses one 32-byte slice into a dirent. The caller is
// responsible for recognizing the 0x00 (end) and 0xE5 (deleted) sentinels
// before calling this.
func decodeDirent(raw []byte) dirent {
	var d dirent
	copy(d.name[:], raw[0:11])
	d.attr = raw[11]
	firstClusterHigh := uint32(raw[20]) | uint32(raw[21])<<8
	firstClusterLow := uint32(raw[26]) | uint32(raw[27])<<8
	d.firstCluster = ClusterID(firstClusterHigh<<16 | firstClusterLow)
	d.fileSize = uint32(raw[28]) | uint32(raw[29])<<8 | uint32(raw[30])<<16 | uint32(raw[31])<<24
	return d
}

// encodeInto serializes d into exactly DirentSize bytes of raw using a
// bytewriter.Writer, matching the way file_systems/unixv1/format.go
// serializes a fixed-size on-disk record into a preallocated slice.
func (d *dirent) encodeInto(raw []byte) {
	w := bytewriter.New(raw)
	w.Write(d.name[:])
	w.Write([]byte{d.attr})
	w.Write(make([]byte, 8)) // NT-reserved + create time/date + last-accessed date
	high := uint16(d.firstCluster >> 16)
	w.Write([]byte{byte(high), byte(high >> 8)})
	w.Write(make([]byte, 4)) // last-modified time/date
	low := uint16(d.firstCluster)
	w.Write([]byte{byte(low), byte(low >> 8)})
	w.Write([]byte{
		byte(d.fileSize), byte(d.fileSize >> 8),
		byte(d.fileSize >> 16), byte(d.fileSize >> 24),
	})
}

// encodeFilename converts "name.ext" into the 11-byte space-padded,
// uppercased 8.3 form.
func encodeFilename(name string) ([11]byte, error) {
	var out [11]byte
	for i := range out {
		out[i] = ' '
	}

	base := name
	ext := ""
	if dot := strings.LastIndexByte(name, '.'); dot >= 0 {
		base = name[:dot]
		ext = name[dot+1:]
	}
	base = strings.ToUpper(base)
	ext = strings.ToUpper(ext)

	if len(base) == 0 || len(base) > 8 || len(ext) > 3 {
		return out, ErrNameTooLong.WithMessage("name must fit 8.3 format: " + name)
	}

	copy(out[0:8], base)
	copy(out[8:11], ext)
	return out, nil
}

// decodeFilename reverses encodeFilename for display purposes.
func decodeFilename(raw [11]byte) string {
	base := strings.TrimRight(string(raw[0:8]), " ")
	ext := strings.TrimRight(string(raw[8:11]), " ")
	if ext == "" {
		return base
	}
	return base + "." + ext
}

// direntFinder is a resumable cursor over a directory's entries.
// cluster == 0 denotes the FAT16 root-directory region, which is
// sector-addressed rather than cluster-addressed.
type direntFinder struct {
	cluster         ClusterID
	sectorInCluster uint32
	entryIndex      uint32
	finished        bool
}

// sectorForFinder resolves a finder position to a physical sector.
func (fs *Filesystem) sectorForFinder(f *direntFinder) SectorID {
	if f.cluster == 0 {
		return fs.geometry.RootDirectoryStart + SectorID(f.sectorInCluster)
	}
	return fs.geometry.ClusterToSector(f.cluster) + SectorID(f.sectorInCluster)
}

// direntScanResult is what advanceFinder reports after inspecting the slot
// the finder currently points at.
type direntScanResult int

const (
	scanPending direntScanResult = iota
	scanLive
	scanDeleted
	scanTerminator
	scanDone // end of a fixed-size FAT16 root with no terminator hit (full)
)

// readFinderSlot acquires the finder's current sector and classifies the
// entry it points to, without advancing the finder. Returns InProgress if
// the cache isn't ready.
func (fs *Filesystem) readFinderSlot(f *direntFinder) (direntScanResult, dirent, Status) {
	sector := fs.sectorForFinder(f)
	slotIdx, buf, status := fs.acquire(sector, CacheRead)
	if status != StatusSuccess {
		return scanPending, dirent{}, status
	}
	defer fs.release(slotIdx)

	off := f.entryIndex * DirentSize
	raw := buf[off : off+DirentSize]

	switch raw[0] {
	case 0x00:
		return scanTerminator, dirent{}, StatusSuccess
	case 0xE5:
		return scanDeleted, dirent{}, StatusSuccess
	default:
		return scanLive, decodeDirent(raw), StatusSuccess
	}
}

// stepFinder advances the finder by one 32-byte entry, crossing sector and
// cluster boundaries as needed. It touches the cache only to read the FAT
// when crossing into the next cluster; call this only after successfully
// processing the current slot.
func (fs *Filesystem) stepFinder(f *direntFinder) Status {
	entriesPerSector := uint32(fs.geometry.BytesPerSector) / DirentSize

	f.entryIndex++
	if f.entryIndex < entriesPerSector {
		return StatusSuccess
	}
	f.entryIndex = 0

	if f.cluster == 0 {
		// FAT16 root: sector-contiguous, bounded by RootDirectorySectors.
		f.sectorInCluster++
		if f.sectorInCluster >= fs.geometry.RootDirectorySectors {
			f.finished = true
		}
		return StatusSuccess
	}

	f.sectorInCluster++
	if f.sectorInCluster < fs.geometry.SectorsPerCluster {
		return StatusSuccess
	}
	f.sectorInCluster = 0

	next, status := fs.fatGetNext(f.cluster)
	if status != StatusSuccess {
		return status
	}
	if fs.isEndOfChain(next) {
		f.finished = true
		return StatusSuccess
	}
	f.cluster = next
	return StatusSuccess
}

// findEntryByName scans dir (given by its first cluster, or 0 for the FAT16
// root) looking for name. Returns scanLive+entry+position on a hit,
// scanTerminator if the name isn't present, or InProgress.
func (fs *Filesystem) findEntryByName(startCluster ClusterID, name [11]byte, finder *direntFinder) (direntScanResult, dirent, Status) {
	for {
		if finder.finished {
			return scanTerminator, dirent{}, StatusSuccess
		}

		result, entry, status := fs.readFinderSlot(finder)
		if status != StatusSuccess {
			return scanPending, dirent{}, status
		}

		switch result {
		case scanTerminator:
			return scanTerminator, dirent{}, StatusSuccess
		case scanLive:
			if entry.name == name {
				return scanLive, entry, StatusSuccess
			}
		}

		if s := fs.stepFinder(finder); s != StatusSuccess {
			return scanPending, dirent{}, s
		}
	}
}

// allocState drives stepAllocate, which finds a deleted-or-terminator slot in the directory rooted
// at startCluster, extending the directory with a fresh cluster if it's
// full. The FAT16 root can't be extended; allocation fails there
// once full. On success, finder points at the free slot and the caller must
// write the 32 bytes and mark the sector dirty.
type allocState struct {
	phase   int
	finder  direntFinder
	extend  extendState
}

const (
	allocPhaseScan = iota
	allocPhaseExtend
	allocPhaseWriteAtNewSlot
)

func newAllocState(startCluster ClusterID) allocState {
	return allocState{finder: direntFinder{cluster: startCluster}}
}

// stepAllocate advances the allocation search by as much as the cache
// allows in one call. Returns (finder position, done, status).
func (fs *Filesystem) stepAllocate(st *allocState) (direntFinder, bool, Status) {
	for {
		switch st.phase {
		case allocPhaseScan:
			if st.finder.finished {
				if st.finder.cluster == 0 {
					return direntFinder{}, true, StatusFailure // FAT16 root full
				}
				st.extend = newExtendState(st.finder)
				st.phase = allocPhaseExtend
				continue
			}

			result, _, status := fs.readFinderSlot(&st.finder)
			if status != StatusSuccess {
				return direntFinder{}, false, status
			}
			if result == scanDeleted || result == scanTerminator {
				return st.finder, true, StatusSuccess
			}

			if s := fs.stepFinder(&st.finder); s != StatusSuccess {
				return direntFinder{}, false, s
			}

		case allocPhaseExtend:
			newFinder, status := fs.stepExtendDirectory(&st.extend)
			if status != StatusSuccess {
				return direntFinder{}, false, status
			}
			return newFinder, true, StatusSuccess
		}
	}
}

// extendState drives appending one zero-filled cluster to a directory and
// positioning a finder at its first (terminator) entry.
type extendState struct {
	phase           int
	afc             appendFreeClusterState
	terminatorAt    direntFinder
	previousCluster ClusterID
	zeroSector      uint32
}

const (
	extendPhaseAppendCluster = iota
	extendPhaseZeroSectors
	extendPhaseDone
)

func newExtendState(atEnd direntFinder) extendState {
	return extendState{
		afc:             newAppendFreeClusterState(),
		previousCluster: atEnd.cluster,
	}
}

func (fs *Filesystem) stepExtendDirectory(st *extendState) (direntFinder, Status) {
	for {
		switch st.phase {
		case extendPhaseAppendCluster:
			newCluster, status := fs.stepAppendFreeCluster(&st.afc, st.previousCluster)
			if status != StatusSuccess {
				return direntFinder{}, status
			}
			st.terminatorAt = direntFinder{cluster: newCluster}
			st.zeroSector = 0
			st.phase = extendPhaseZeroSectors

		case extendPhaseZeroSectors:
			if st.zeroSector >= fs.geometry.SectorsPerCluster {
				st.phase = extendPhaseDone
				continue
			}
			sector := fs.geometry.ClusterToSector(st.terminatorAt.cluster) + SectorID(st.zeroSector)
			slotIdx, buf, status := fs.acquire(sector, CacheWrite|CacheDiscardable)
			if status != StatusSuccess {
				return direntFinder{}, status
			}
			for i := range buf {
				buf[i] = 0
			}
			fs.release(slotIdx)
			st.zeroSector++

		case extendPhaseDone:
			return st.terminatorAt, StatusSuccess
		}
	}
}

// saveDirent writes entry's 32 bytes back to the sector named by finder and
// marks the sector dirty.
func (fs *Filesystem) saveDirent(finder *direntFinder, entry *dirent) Status {
	sector := fs.sectorForFinder(finder)
	slotIdx, buf, status := fs.acquire(sector, CacheRead|CacheWrite)
	if status != StatusSuccess {
		return status
	}
	off := finder.entryIndex * DirentSize
	entry.encodeInto(buf[off : off+DirentSize])
	fs.release(slotIdx)
	return StatusSuccess
}

// markDeleted flags the 32-byte slot at finder as deleted (first byte
// 0xE5), used by funlink.
func (fs *Filesystem) markDeleted(finder *direntFinder) Status {
	sector := fs.sectorForFinder(finder)
	slotIdx, buf, status := fs.acquire(sector, CacheRead|CacheWrite)
	if status != StatusSuccess {
		return status
	}
	off := finder.entryIndex * DirentSize
	buf[off] = 0xE5
	fs.release(slotIdx)
	return StatusSuccess
}
