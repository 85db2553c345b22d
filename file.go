package afatfs

// file.go defines the file handle arena and the read/write/seek hot path.
// Handles are addressed by FileID -- a small value carrying an arena index
// and a generation counter -- rather than a pointer, so a caller holding a
// FileID from a closed-and-reopened slot gets ErrInvalidFileHandle instead
// of silently touching the wrong file.

// fileType classifies what kind of thing a handle refers to.
type fileType int

const (
	fileTypeNone fileType = iota
	fileTypeNormal
	fileTypeDirectory
	fileTypeFAT16Root
)

// FileID addresses a slot in the Filesystem's handle arena.
type FileID struct {
	index      int32
	generation uint32
}

// opKind tags the single in-flight operation a handle may have.
type opKind int

const (
	opNone opKind = iota
	opOpen
	opSeek
	opReadWrite
	opClose
	opAppendFreeCluster
	opAppendSupercluster
	opInitSubdirectory
	opExtendDirectory
	opUnlink
	opMkdir
)

// operationState is the tagged-union step state for whichever operation a
// handle currently has in flight. Only the fields relevant to `kind` are
// meaningful at any given time -- one active operation per open file,
// expressed as a flat Go struct instead of a tagged C union.
type operationState struct {
	kind  opKind
	phase int

	// opOpen / opMkdir: name lookup + optional creation.
	openName    [11]byte
	openMode    OpenMode
	openParent  ClusterID
	openFinder  direntFinder
	openAlloc   allocState
	openResult  error

	// opSeek
	seekTarget uint32

	// opReadWrite
	rwBuffer    []byte
	rwOffset    int
	rwIsWrite   bool
	rwAppending bool
	rwCallback  func(int, error)

	// callbacks fired once, when the operation finishes
	openCallback func(FileID, error)
	callback     func(error)

	// shared append sub-state (opAppendFreeCluster / opAppendSupercluster /
	// used inline by opReadWrite and opExtendDirectory when they need to
	// grow a chain)
	afc                  appendFreeClusterState
	asc                  appendSuperclusterState
	freeChain            freeChainState
	growDecided          bool
	growUsesSupercluster bool

	// opInitSubdirectory
	initParent  ClusterID
	initFirstSC ClusterID

	// opExtendDirectory
	extend extendState

	// opUnlink
	unlinkCurrent ClusterID
	unlinkFinder  direntFinder

	err error
}

// fileHandle is one slot in the arena.
type fileHandle struct {
	index      int32 // this handle's fixed position in Filesystem.handles
	fileType   fileType
	generation uint32

	directoryEntry dirent
	direntPos      direntFinder
	parentCluster  ClusterID

	mode OpenMode

	cursorOffset          uint32
	cursorCluster         ClusterID
	cursorPreviousCluster ClusterID

	// lockedCacheIndex is the cache slot holding a sector fwrite has only
	// partially written, pinned with CacheLock until a later write fills
	// it (CacheUnlock); -1 when no partial write is outstanding.
	lockedCacheIndex int32

	// retainedDirentSlot is the cache slot holding this handle's own
	// directory-entry sector, pinned with CacheRetain for the life of the
	// open when mode has OpenRetainDirectory; -1 otherwise. Distinct from
	// lockedCacheIndex because a contiguous file opened "s" carries both
	// pins at once, on two different sectors.
	retainedDirentSlot int32

	operation operationState
}

func (fs *Filesystem) allocateHandleSlot() int {
	for i := range fs.handles {
		if fs.handles[i].fileType == fileTypeNone && fs.handles[i].operation.kind == opNone {
			return i
		}
	}
	return -1
}

func (fs *Filesystem) resolveHandle(id FileID) (*fileHandle, error) {
	if id.index < 0 || int(id.index) >= len(fs.handles) {
		return nil, ErrInvalidFileHandle
	}
	h := &fs.handles[id.index]
	if h.fileType == fileTypeNone || h.generation != id.generation {
		return nil, ErrInvalidFileHandle
	}
	return h, nil
}

// clustersForOffset returns how many whole clusters precede byte offset
// within a file.
func (fs *Filesystem) clustersForOffset(offset uint32) uint32 {
	return offset / fs.geometry.BytesPerCluster()
}

func (fs *Filesystem) offsetWithinCluster(offset uint32) uint32 {
	return offset & fs.geometry.ByteInClusterMask
}

// cursorSector resolves a handle's current cursor to a physical sector.
func (fs *Filesystem) cursorSector(h *fileHandle) SectorID {
	if h.fileType == fileTypeFAT16Root {
		// Sector-addressed, not cluster-addressed: matches
		// sectorForFinder's cluster==0 case in directory.go.
		return fs.geometry.RootDirectoryStart + SectorID(h.cursorOffset/fs.geometry.BytesPerSector)
	}
	within := fs.offsetWithinCluster(h.cursorOffset)
	sectorInCluster := within / fs.geometry.BytesPerSector
	return fs.geometry.ClusterToSector(h.cursorCluster) + SectorID(sectorInCluster)
}

// pollFileOperations resumes every handle with an in-flight operation,
// giving each one a chance to make progress this tick). Order
// among handles is arbitrary; none of these operations depend on another
// handle's progress within the same tick except via shared FAT/cache state,
// which is safe to interleave since every step is a complete, consistent
// acquire/mutate/release.
func (fs *Filesystem) pollFileOperations() {
	for i := range fs.handles {
		h := &fs.handles[i]
		if h.operation.kind == opNone {
			continue
		}
		fs.stepOperation(h, int32(i))
	}
}
