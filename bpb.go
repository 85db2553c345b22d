package afatfs

// bpb.go decodes the on-disk MBR partition table and FAT BIOS Parameter
// Block as pure decode functions over an already-read 512-byte sector
// buffer, since every sector in this codebase arrives through the async
// cache rather than a blocking io.Reader.
//
// All multi-byte integers on disk are little-endian; every field here
// is decoded with explicit byte shifts rather than struct casts so host
// endianness is never relied upon.

import "encoding/binary"

const (
	mbrPartitionTableOffset = 446
	mbrPartitionEntrySize   = 16
	mbrSignatureOffset      = 510
	mbrSignature            = 0xAA55

	partitionTypeFAT16Small = 0x04
	partitionTypeFAT16      = 0x06
	partitionTypeFAT16LBA   = 0x0E
	partitionTypeFAT32CHS   = 0x0B
	partitionTypeFAT32LBA   = 0x0C
)

// isFATPartitionType reports whether a partition-table type byte names one
// of the FAT16/FAT32 variants this package mounts. The actual FAT bit width
// is determined later from the BPB's cluster count, not from this
// byte; several of these codes are used interchangeably by formatting
// tools regardless of the volume's real variant.
func isFATPartitionType(partType byte) bool {
	switch partType {
	case partitionTypeFAT16Small, partitionTypeFAT16, partitionTypeFAT16LBA,
		partitionTypeFAT32CHS, partitionTypeFAT32LBA:
		return true
	default:
		return false
	}
}

// ReadMBRPartitionStart decodes sector 0 of the device and returns the LBA of
// the first FAT-flavored partition table entry. Only the first
// matching entry across the four slots (at offsets 446, 462, 478, 494) is
// considered; multi-partition enumeration is out of scope.
func ReadMBRPartitionStart(sector []byte) (SectorID, error) {
	if len(sector) < 512 {
		return 0, ErrFileSystemCorrupted.WithMessage("MBR sector shorter than 512 bytes")
	}

	sig := binary.LittleEndian.Uint16(sector[mbrSignatureOffset:])
	if sig != mbrSignature {
		return 0, ErrFileSystemCorrupted.WithMessage("missing 0x55AA MBR signature")
	}

	for entry := 0; entry < 4; entry++ {
		off := mbrPartitionTableOffset + entry*mbrPartitionEntrySize
		partType := sector[off+4]
		if isFATPartitionType(partType) {
			lba := binary.LittleEndian.Uint32(sector[off+8:])
			return SectorID(lba), nil
		}
	}

	return 0, ErrFileSystemCorrupted.WithMessage("no FAT partition entry found in MBR")
}

// Geometry holds the derived, ready-to-use layout of a mounted volume.
type Geometry struct {
	BytesPerSector       uint32
	SectorsPerCluster    uint32
	NumFATs              uint32
	FATStartSector       SectorID
	FATSectors           uint32 // sectors in ONE fat copy
	NumClusters          uint32
	ClusterStartSector   SectorID
	RootDirectoryCluster ClusterID // FAT32 only
	RootDirectoryStart   SectorID  // FAT16 only: first sector of the fixed root region
	RootDirectorySectors uint32    // FAT16 only
	ByteInClusterMask    uint32
	EntriesPerFATSector  uint32
	PartitionStart       SectorID
}

func (g *Geometry) BytesPerCluster() uint32 {
	return g.BytesPerSector * g.SectorsPerCluster
}

func (g *Geometry) DirentsPerCluster() uint32 {
	return g.BytesPerCluster() / DirentSize
}

// determineFSType classifies the volume by cluster count, per the standard
// Microsoft thresholds, but refuses FAT12.
func determineFSType(numClusters uint32) (FSType, error) {
	switch {
	case numClusters < 4085:
		return FSTypeUnknown, ErrNotSupported.WithMessage("FAT12 volumes are unsupported")
	case numClusters < 65525:
		return FSTypeFAT16, nil
	default:
		return FSTypeFAT32, nil
	}
}

// decodeBPB parses the BPB at the start of sector (the partition's first
// sector, relative sector 0) and derives the full Geometry plus FSType.
func decodeBPB(sector []byte, partitionStart SectorID) (Geometry, FSType, error) {
	if len(sector) < 90 {
		return Geometry{}, FSTypeUnknown, ErrFileSystemCorrupted.WithMessage("BPB sector too short")
	}

	sig := binary.LittleEndian.Uint16(sector[510:])
	if sig != mbrSignature {
		return Geometry{}, FSTypeUnknown, ErrFileSystemCorrupted.WithMessage("missing 0x55AA boot sector signature")
	}

	bytesPerSector := binary.LittleEndian.Uint16(sector[11:])
	sectorsPerCluster := sector[13]
	reservedSectors := binary.LittleEndian.Uint16(sector[14:])
	numFATs := sector[16]
	rootEntryCount := binary.LittleEndian.Uint16(sector[17:])
	totalSectors16 := binary.LittleEndian.Uint16(sector[19:])
	sectorsPerFAT16 := binary.LittleEndian.Uint16(sector[22:])
	totalSectors32 := binary.LittleEndian.Uint32(sector[32:])
	sectorsPerFAT32 := binary.LittleEndian.Uint32(sector[36:])
	rootCluster32 := binary.LittleEndian.Uint32(sector[44:])

	if bytesPerSector != BytesPerSector {
		return Geometry{}, FSTypeUnknown, ErrFileSystemCorrupted.WithMessage("only 512-byte sectors are supported")
	}

	switch sectorsPerCluster {
	case 1, 2, 4, 8, 16, 32, 64, 128:
	default:
		return Geometry{}, FSTypeUnknown, ErrFileSystemCorrupted.WithMessage("sectors-per-cluster must be a power of two in [1,128]")
	}

	sectorsPerFAT := uint32(sectorsPerFAT16)
	if sectorsPerFAT == 0 {
		sectorsPerFAT = sectorsPerFAT32
	}

	totalSectors := uint32(totalSectors16)
	if totalSectors == 0 {
		totalSectors = totalSectors32
	}

	rootDirSectors := (uint32(rootEntryCount)*DirentSize + uint32(bytesPerSector) - 1) / uint32(bytesPerSector)
	totalFATSectors := uint32(numFATs) * sectorsPerFAT
	fatStart := partitionStart + SectorID(reservedSectors)
	clusterStart := fatStart + SectorID(totalFATSectors) + SectorID(rootDirSectors)
	dataSectors := totalSectors - (uint32(reservedSectors) + totalFATSectors + rootDirSectors)
	numClusters := dataSectors / uint32(sectorsPerCluster)

	fsType, err := determineFSType(numClusters)
	if err != nil {
		return Geometry{}, FSTypeUnknown, err
	}

	if fsType == FSTypeFAT32 && rootDirSectors != 0 {
		return Geometry{}, FSTypeUnknown, ErrFileSystemCorrupted.WithMessage("FAT32 volume has a nonzero legacy root directory region")
	}

	entriesPerFATSector := uint32(bytesPerSector) / 2
	if fsType == FSTypeFAT32 {
		entriesPerFATSector = uint32(bytesPerSector) / 4
	}

	geom := Geometry{
		BytesPerSector:       uint32(bytesPerSector),
		SectorsPerCluster:    uint32(sectorsPerCluster),
		NumFATs:              uint32(numFATs),
		FATStartSector:       fatStart,
		FATSectors:           sectorsPerFAT,
		NumClusters:          numClusters,
		ClusterStartSector:   clusterStart,
		RootDirectorySectors: rootDirSectors,
		RootDirectoryStart:   fatStart + SectorID(totalFATSectors),
		ByteInClusterMask:    uint32(sectorsPerCluster)*uint32(bytesPerSector) - 1,
		EntriesPerFATSector:  entriesPerFATSector,
		PartitionStart:       partitionStart,
	}
	if fsType == FSTypeFAT32 {
		geom.RootDirectoryCluster = ClusterID(rootCluster32)
	}

	return geom, fsType, nil
}

// ClusterToSector converts a cluster number to the first physical sector of
// that cluster's data region.
func (g *Geometry) ClusterToSector(cluster ClusterID) SectorID {
	return g.ClusterStartSector + SectorID(uint32(cluster-firstDataCluster)*g.SectorsPerCluster)
}
