package afatfs

// mount.go implements the mount/init driver: read the MBR, decode the BPB,
// optionally run the freefile reservation scan, and open a handle onto the
// root directory. Structured as the same resumable phase machine every
// other long-running operation in this package uses, since reading the
// MBR and BPB sectors is itself async.
type mountPhase int

const (
	mountPhaseReadMBR mountPhase = iota
	mountPhaseReadBPB
	mountPhaseFreefile
	mountPhaseOpenRoot
	mountPhaseReady
)

// mountOperation is the Filesystem's single mount-time operation.
type mountOperation struct {
	phase mountPhase

	partitionStart SectorID

	freefileMount freefileMountState
	freefileAlloc *allocState
}

func (fs *Filesystem) pollMount() {
	op := fs.mountOp

	for {
		switch op.phase {
		case mountPhaseReadMBR:
			slotIdx, buf, status := fs.acquire(0, CacheRead)
			if status != StatusSuccess {
				return
			}
			start, err := ReadMBRPartitionStart(buf)
			fs.release(slotIdx)
			if err != nil {
				fs.fail(newFatal(ErrFileSystemCorrupted, err.Error()))
				return
			}
			op.partitionStart = start
			op.phase = mountPhaseReadBPB

		case mountPhaseReadBPB:
			slotIdx, buf, status := fs.acquire(op.partitionStart, CacheRead)
			if status != StatusSuccess {
				return
			}
			geom, fsType, err := decodeBPB(buf, op.partitionStart)
			fs.release(slotIdx)
			if err != nil {
				fs.fail(newFatal(ErrFileSystemCorrupted, err.Error()))
				return
			}
			fs.geometry = geom
			fs.fsType = fsType
			fs.lastClusterAllocated = firstDataCluster - 1

			if fs.options.EnableFreefile {
				op.phase = mountPhaseFreefile
				op.freefileMount = newFreefileMountState()
			} else {
				op.phase = mountPhaseOpenRoot
			}

		case mountPhaseFreefile:
			status := fs.stepMountFreefile(&op.freefileMount)
			if status != StatusSuccess {
				return
			}
			op.phase = mountPhaseOpenRoot

		case mountPhaseOpenRoot:
			idx := fs.allocateHandleSlot()
			if idx < 0 {
				fs.fail(newFatal(ErrTooManyOpenFiles, "no handle slot available to open root directory at mount"))
				return
			}
			h := &fs.handles[idx]
			rootCluster := ClusterID(0)
			h.fileType = fileTypeFAT16Root
			if fs.fsType == FSTypeFAT32 {
				rootCluster = fs.geometry.RootDirectoryCluster
				h.fileType = fileTypeDirectory
			}
			h.directoryEntry = dirent{attr: AttrDirectory, firstCluster: rootCluster}
			h.parentCluster = rootCluster
			h.cursorCluster = rootCluster
			h.cursorOffset = 0
			h.mode = OpenRead | OpenRetainDirectory
			fs.currentDirectory = FileID{index: int32(idx), generation: h.generation}
			op.phase = mountPhaseReady

		case mountPhaseReady:
			fs.state = StateReady
			return
		}
	}
}
