package afatfs

// BlockDevice is the external collaborator that performs
// actual 512-byte sector I/O. Implementations are expected to be
// non-blocking: ReadBlock/WriteBlock queue the operation and return
// immediately, firing the supplied completion once the transfer finishes
// (which may happen synchronously, before the call returns, or later from
// whatever pumps the device -- Poll() calls Device.Poll() first on every
// tick specifically to give such implementations a chance to run).
//
// This package never assumes anything about *when* completions fire beyond
// "no earlier than the call that requested them". The simulator package
// provides a reference implementation for tests.
type BlockDevice interface {
	// ReadBlock requests the contents of sector into buffer (exactly
	// BytesPerSector bytes). It returns true if the request was accepted.
	// The completion fires exactly once, synchronously or later, with the
	// sector read and an error (nil on success).
	ReadBlock(sector SectorID, buffer []byte, completion func(SectorID, error)) bool

	// WriteBlock requests that buffer (exactly BytesPerSector bytes) be
	// written to sector. The completion fires exactly once, synchronously or
	// later, with the sector written and an error (nil on success).
	WriteBlock(sector SectorID, buffer []byte, completion func(SectorID, error)) Status

	// Poll pumps whatever internal queue the device uses to eventually fire
	// completions. The Filesystem calls this first on every Poll().
	Poll()

	// TotalSectors reports the size of the device, in BytesPerSector blocks.
	TotalSectors() SectorID
}
