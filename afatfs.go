package afatfs

// afatfs.go defines the Filesystem arena: one value owns the cache slots, the geometry, and the
// fixed-size array of open file handles. Every operation is a method on
// *Filesystem so there is never a second mutable reference to the same
// state floating around; "handles" returned to callers are small value
// types (FileID) carrying an arena index plus a generation counter, so a
// stale reference to a closed-and-reopened slot is detected rather than
// silently aliasing the wrong file.

import "github.com/boljen/go-bitmap"

// DefaultCacheSlots is the number of sector-cache slots used when
// MountOptions.CacheSlots is left at zero. Deliberately small -- the real
// embedded target (an SD card behind a slow SPI bus with a few KB of RAM)
// can't afford to cache the whole device.
const DefaultCacheSlots = 8

// DefaultMaxOpenFiles bounds the file-handle arena.
const DefaultMaxOpenFiles = 16

// FreefileLeaveClusters is the number of clusters at the end of the
// longest free run that freefile mount reserves for ordinary (non-
// contiguous) files
const FreefileLeaveClusters = 100

// MountOptions configures a Mount() call: cache and handle-arena sizing
// alongside the freefile and contiguous-allocation toggles.
type MountOptions struct {
	// CacheSlots is the number of sector-cache slots to allocate. Zero means
	// DefaultCacheSlots.
	CacheSlots int
	// MaxOpenFiles bounds how many file handles may be open at once. Zero
	// means DefaultMaxOpenFiles.
	MaxOpenFiles int
	// EnableFreefile turns on the freefile allocator (component D) and the
	// "s" (contiguous) open mode. When false, "s" silently falls back to
	// ordinary append
	EnableFreefile bool
}

func (o MountOptions) cacheSlots() int {
	if o.CacheSlots <= 0 {
		return DefaultCacheSlots
	}
	return o.CacheSlots
}

func (o MountOptions) maxOpenFiles() int {
	if o.MaxOpenFiles <= 0 {
		return DefaultMaxOpenFiles
	}
	return o.MaxOpenFiles
}

// Filesystem is the filesystem singleton. Create one with Mount().
type Filesystem struct {
	device  BlockDevice
	options MountOptions

	state   MountState
	fatal   *FatalError
	mountOp *mountOperation

	geometry Geometry
	fsType   FSType

	lastClusterAllocated ClusterID
	filesystemFull       bool

	currentDirectory FileID
	freeFile         FileID
	haveFreeFile     bool

	// sector cache (component B)
	cacheSlots       []cacheSlot
	cacheLocked      bitmap.Bitmap
	cacheDiscardable bitmap.Bitmap
	cacheDirtyCount  int
	cacheTick        uint64

	// file handle arena (component F)
	handles []fileHandle
}

// Mount begins mounting device and returns the Filesystem immediately; the
// caller must drive Poll() until State() reports Ready or Fatal.
func Mount(device BlockDevice, options MountOptions) *Filesystem {
	fs := &Filesystem{
		device:  device,
		options: options,
		state:   StateInitializing,
	}
	fs.initCache(options.cacheSlots())
	fs.handles = make([]fileHandle, options.maxOpenFiles())
	for i := range fs.handles {
		fs.handles[i].fileType = fileTypeNone
		fs.handles[i].index = int32(i)
		fs.handles[i].lockedCacheIndex = -1
		fs.handles[i].retainedDirentSlot = -1
	}
	fs.mountOp = &mountOperation{phase: mountPhaseReadMBR}
	return fs
}

// State reports the filesystem's lifecycle state.
func (fs *Filesystem) State() MountState {
	return fs.state
}

// FatalError returns the error that pushed the filesystem into the Fatal
// state, or nil if it's not Fatal.
func (fs *Filesystem) FatalError() *FatalError {
	return fs.fatal
}

func (fs *Filesystem) fail(err FatalError) {
	if fs.state == StateFatal {
		return
	}
	fs.fatal = &err
	fs.state = StateFatal
}

// Poll runs one step of the filesystem and the underlying block device): it pumps the device, flushes the cache, then either advances
// the mount state machine or resumes in-flight file operations.
func (fs *Filesystem) Poll() {
	fs.device.Poll()
	if fs.state == StateFatal {
		return
	}
	fs.flush()

	switch fs.state {
	case StateInitializing:
		fs.pollMount()
	case StateReady:
		fs.pollFileOperations()
	}
}

// IsFull reports whether an allocation has failed for lack of space.
func (fs *Filesystem) IsFull() bool {
	return fs.filesystemFull
}

// ContiguousFreeSpace returns the number of bytes remaining in the freefile
// reserve, or 0 if freefile support is disabled or exhausted.
func (fs *Filesystem) ContiguousFreeSpace() int64 {
	if !fs.haveFreeFile {
		return 0
	}
	h := &fs.handles[fs.freeFile.index]
	return int64(h.directoryEntry.fileSize)
}

// Destroy cooperatively shuts the filesystem down: it closes open files and
// drains dirty sectors, returning true once finished. Call repeatedly until
// it returns true.
func (fs *Filesystem) Destroy() bool {
	if fs.state == StateFatal {
		return true
	}

	anyOpen := false
	for i := range fs.handles {
		h := &fs.handles[i]
		if h.fileType == fileTypeNone {
			continue
		}
		anyOpen = true
		if h.operation.kind == opNone {
			fs.beginClose(FileID{index: int32(i), generation: h.generation}, nil)
		}
	}
	if anyOpen {
		fs.pollFileOperations()
		return false
	}

	return fs.flush()
}
