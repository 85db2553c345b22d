// Package afatfs implements a single-threaded, poll-driven FAT16/FAT32
// filesystem core for block-oriented storage such as SD cards. No operation
// ever blocks on I/O: every public entry point either completes in one step
// or returns an in-progress status so the caller can resume it by calling
// Poll() again later.
package afatfs

import "math"

// SectorID is a physical sector number on the block device, as given to
// BlockDevice.ReadBlock/WriteBlock.
type SectorID uint32

// InvalidSectorID marks an uninitialized or sentinel sector reference.
const InvalidSectorID = SectorID(math.MaxUint32)

// ClusterID is a logical cluster number, as stored in FAT entries and
// directory entries. Cluster numbering starts at 2; 0 and 1 are reserved.
type ClusterID uint32

// FreeCluster and the end-of-chain thresholds below are sentinel ClusterID
// values; the FAT accessor classifies raw FAT entries as free, end-of-chain,
// or a concrete next-cluster number.
const (
	FreeCluster       = ClusterID(0)
	InvalidClusterID  = ClusterID(math.MaxUint32)
	endOfChainFAT16   = ClusterID(0xFFF8)
	endOfChainFAT32   = ClusterID(0x0FFFFFF8)
	fat32EntryMask    = ClusterID(0x0FFFFFFF)
	terminatorFAT16   = ClusterID(0xFFFF)
	terminatorFAT32   = ClusterID(0x0FFFFFFF)
	badClusterFAT16   = ClusterID(0xFFF7)
	badClusterFAT32   = ClusterID(0x0FFFFFF7)
	firstDataCluster  = ClusterID(2)
)

// BytesPerSector is fixed for this implementation.
const BytesPerSector = 512

// DirentSize is the size in bytes of one on-disk 32-byte directory entry
//.
const DirentSize = 32
