package afatfs

// facade.go is the public API: the small set of POSIX-shaped entry points
// (Fopen/Fclose/Fread/Fwrite/Fseek/Ftell/Feof/Funlink/Mkdir/Chdir/Flush)
// that everything else in this package exists to support. Every call that
// may need to wait on I/O takes a callback, fired exactly once, possibly
// before the call returns if the cache already has what's needed -- the
// same convention BlockDevice itself uses.

import "strings"

// Fopen opens or creates name (relative to the current directory unless it
// starts with "/") and reports the resulting FileID through callback.
func (fs *Filesystem) Fopen(name string, mode OpenMode, callback func(FileID, error)) {
	if fs.state != StateReady {
		callback(FileID{}, ErrBusy)
		return
	}
	parent, base, err := fs.resolveParent(name)
	if err != nil {
		callback(FileID{}, err)
		return
	}
	encoded, err := encodeFilename(base)
	if err != nil {
		callback(FileID{}, err)
		return
	}
	fs.beginOpen(parent, encoded, mode, callback)
}

// Fclose releases a handle. Any dirty sectors it touched remain in the
// cache to be flushed on a later Poll(); call Flush first if you need them
// durable before Fclose's callback fires.
func (fs *Filesystem) Fclose(id FileID, callback func(error)) {
	fs.beginClose(id, callback)
}

// Fread reads up to len(buf) bytes at the handle's cursor, reporting the
// number of bytes actually transferred (fewer than len(buf) at EOF).
func (fs *Filesystem) Fread(id FileID, buf []byte, callback func(int, error)) {
	h, err := fs.resolveHandle(id)
	if err != nil {
		callback(0, err)
		return
	}
	if h.mode&OpenRead == 0 {
		callback(0, ErrInvalidArgument.WithMessage("handle not opened for reading"))
		return
	}
	if h.operation.kind != opNone {
		callback(0, ErrAlreadyInProgress)
		return
	}
	fs.beginReadWrite(h, buf, false, callback)
}

// Fwrite writes buf at the handle's cursor, growing the file's cluster
// chain as needed.
func (fs *Filesystem) Fwrite(id FileID, buf []byte, callback func(int, error)) {
	h, err := fs.resolveHandle(id)
	if err != nil {
		callback(0, err)
		return
	}
	if h.mode&(OpenWrite|OpenAppend) == 0 {
		callback(0, ErrInvalidArgument.WithMessage("handle not opened for writing or appending"))
		return
	}
	if h.operation.kind != opNone {
		callback(0, ErrAlreadyInProgress)
		return
	}
	fs.beginReadWrite(h, buf, true, callback)
}

// Fseek repositions the handle's cursor. Seeking forward across
// cluster boundaries may need to wait on the FAT, hence the callback.
func (fs *Filesystem) Fseek(id FileID, offset uint32, whence Whence, callback func(error)) {
	h, err := fs.resolveHandle(id)
	if err != nil {
		callback(err)
		return
	}
	if h.operation.kind != opNone {
		callback(ErrAlreadyInProgress)
		return
	}

	var target uint32
	switch whence {
	case SeekSet:
		target = offset
	case SeekCur:
		target = h.cursorOffset + offset
	case SeekEnd:
		target = h.directoryEntry.fileSize + offset
	default:
		callback(ErrInvalidArgument)
		return
	}

	fs.beginSeek(h, target, callback)
}

// Ftell reports the handle's cursor position. Unlike every other file
// operation this never returns InProgress: the cursor offset is always
// known synchronously, it's only the *cluster* backing it that sometimes
// needs a walk.
func (fs *Filesystem) Ftell(id FileID) (uint32, error) {
	h, err := fs.resolveHandle(id)
	if err != nil {
		return 0, err
	}
	return h.cursorOffset, nil
}

// Feof reports whether the handle's cursor is at or past end of file.
func (fs *Filesystem) Feof(id FileID) (bool, error) {
	h, err := fs.resolveHandle(id)
	if err != nil {
		return false, err
	}
	return h.cursorOffset >= h.directoryEntry.fileSize, nil
}

// Funlink removes a directory entry, freeing its cluster chain. Removing a
// non-empty directory fails with ErrDirectoryNotEmpty.
func (fs *Filesystem) Funlink(name string, callback func(error)) {
	if fs.state != StateReady {
		callback(ErrBusy)
		return
	}
	parent, base, err := fs.resolveParent(name)
	if err != nil {
		callback(err)
		return
	}
	encoded, err := encodeFilename(base)
	if err != nil {
		callback(err)
		return
	}
	fs.beginUnlink(parent, encoded, callback)
}

// Mkdir creates an empty subdirectory (with "." and ".." entries already
// populated) relative to the current directory.
func (fs *Filesystem) Mkdir(name string, callback func(error)) {
	if fs.state != StateReady {
		callback(ErrBusy)
		return
	}
	parent, base, err := fs.resolveParent(name)
	if err != nil {
		callback(err)
		return
	}
	encoded, err := encodeFilename(base)
	if err != nil {
		callback(err)
		return
	}
	fs.beginMkdir(parent, encoded, callback)
}

// Chdir opens name as the new current directory. The previous current
// directory handle is closed.
func (fs *Filesystem) Chdir(name string, callback func(error)) {
	fs.Fopen(name, OpenRead|OpenRetainDirectory, func(id FileID, err error) {
		if err != nil {
			callback(err)
			return
		}
		h, _ := fs.resolveHandle(id)
		if !h.directoryEntry.isDirectory() {
			fs.beginClose(id, func(error) {})
			callback(ErrNotADirectory)
			return
		}
		old := fs.currentDirectory
		fs.currentDirectory = id
		fs.beginClose(old, func(error) {
			callback(nil)
		})
	})
}

// CurrentDirectory returns the handle for the directory Fopen/Mkdir/Funlink
// resolve relative names against.
func (fs *Filesystem) CurrentDirectory() FileID {
	return fs.currentDirectory
}

// Flush reports whether every dirty sector has been written back.
// Call it repeatedly (driving Poll() between calls) until it returns true
// before treating data as durable.
func (fs *Filesystem) Flush() bool {
	return fs.flush()
}

// resolveParent splits name into (parent directory cluster, base name).
// A leading "/" anchors the lookup at the volume root instead of the
// current directory; there is no further path-component traversal.
func (fs *Filesystem) resolveParent(name string) (ClusterID, string, error) {
	if name == "" {
		return 0, "", ErrInvalidArgument
	}

	if strings.HasPrefix(name, "/") {
		base := strings.TrimPrefix(name, "/")
		if base == "" || strings.Contains(base, "/") {
			return 0, "", ErrNotSupported.WithMessage("multi-level path resolution is not supported")
		}
		rootCluster := ClusterID(0)
		if fs.fsType == FSTypeFAT32 {
			rootCluster = fs.geometry.RootDirectoryCluster
		}
		return rootCluster, base, nil
	}

	if strings.Contains(name, "/") {
		return 0, "", ErrNotSupported.WithMessage("multi-level path resolution is not supported")
	}

	h, err := fs.resolveHandle(fs.currentDirectory)
	if err != nil {
		return 0, "", err
	}
	return h.directoryEntry.firstCluster, name, nil
}
