package afatfs

// CacheFlags controls a single Acquire() call on the sector cache.
type CacheFlags int

const (
	// CacheRead requests the on-disk contents be available before success;
	// may trigger an async read.
	CacheRead CacheFlags = 1 << iota
	// CacheWrite marks the slot Dirty on success (caller intends to modify).
	CacheWrite
	// CacheLock sets the no-flush pin (caller is composing a partial write).
	CacheLock
	// CacheUnlock clears the no-flush pin.
	CacheUnlock
	// CacheDiscardable hints eviction preference; only honored if the slot
	// was Empty and this acquisition filled it.
	CacheDiscardable
	// CacheRetain increments the slot's pin counter, preventing discard until
	// a matching Release call.
	CacheRetain
)

// OpenMode is the bitset of access/creation flags passed to Fopen.
type OpenMode int

const (
	OpenRead OpenMode = 1 << iota
	OpenWrite
	OpenAppend
	OpenContiguous
	OpenCreate
	OpenRetainDirectory
	OpenTruncate
)

// ParseOpenMode converts a libc-style mode string ("r", "w+", "as", ...) into
// an OpenMode bitset
func ParseOpenMode(mode string) (OpenMode, error) {
	if len(mode) == 0 {
		return 0, ErrInvalidArgument.WithMessage("empty open mode")
	}

	var m OpenMode
	switch mode[0] {
	case 'r':
		m = OpenRead
	case 'w':
		m = OpenWrite | OpenCreate | OpenTruncate
	case 'a':
		m = OpenAppend | OpenCreate
	default:
		return 0, ErrInvalidArgument.WithMessage("mode must start with r, w, or a: " + mode)
	}

	for _, c := range mode[1:] {
		switch c {
		case '+':
			if mode[0] == 'r' {
				m |= OpenWrite
			} else {
				m |= OpenRead
			}
		case 's':
			m |= OpenContiguous | OpenRetainDirectory
		default:
			return 0, ErrInvalidArgument.WithMessage("unrecognized mode character")
		}
	}

	return m, nil
}

// Directory entry attribute flags, identical in meaning to the classic
// FAT attribute byte.
const (
	AttrReadOnly    = 0x01
	AttrHidden      = 0x02
	AttrSystem      = 0x04
	AttrVolumeLabel = 0x08
	AttrDirectory   = 0x10
	AttrArchive     = 0x20
)

// Whence values for Fseek.
type Whence int

const (
	SeekSet Whence = iota
	SeekCur
	SeekEnd
)
