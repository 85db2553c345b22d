package afatfs

// helpers_test.go provides a minimal synchronous BlockDevice and a builder
// for a tiny valid FAT16 image, shared by the package's tests. Kept
// deliberately simple since these tests don't need configurable latency,
// which simulator.Device provides.
import "encoding/binary"

type memDevice struct {
	sectors [][]byte
}

func newMemDevice(totalSectors int) *memDevice {
	d := &memDevice{sectors: make([][]byte, totalSectors)}
	for i := range d.sectors {
		d.sectors[i] = make([]byte, BytesPerSector)
	}
	return d
}

func (d *memDevice) ReadBlock(sector SectorID, buffer []byte, completion func(SectorID, error)) bool {
	copy(buffer, d.sectors[sector])
	completion(sector, nil)
	return true
}

func (d *memDevice) WriteBlock(sector SectorID, buffer []byte, completion func(SectorID, error)) Status {
	copy(d.sectors[sector], buffer)
	completion(sector, nil)
	return StatusSuccess
}

func (d *memDevice) Poll() {}

func (d *memDevice) TotalSectors() SectorID {
	return SectorID(len(d.sectors))
}

// fat16ImageParams are small enough to keep tests fast while still landing
// in the FAT16 cluster-count range.
const (
	testReservedSectors   = 1
	testNumFATs           = 2
	testRootEntryCount    = 16
	testSectorsPerCluster = 1
	testFATSectors        = 20
	testTotalSectors      = 4200
)

// buildFAT16Image writes a minimal but structurally valid MBR + BPB into a
// memDevice sized to land just past the FAT12/FAT16 boundary.
func buildFAT16Image() *memDevice {
	d := newMemDevice(testTotalSectors)

	mbr := d.sectors[0]
	off := mbrPartitionTableOffset
	mbr[off+4] = partitionTypeFAT16 // partition type byte
	binary.LittleEndian.PutUint32(mbr[off+8:], 0)
	binary.LittleEndian.PutUint16(mbr[mbrSignatureOffset:], mbrSignature)

	bpb := d.sectors[0]
	binary.LittleEndian.PutUint16(bpb[11:], BytesPerSector)
	bpb[13] = testSectorsPerCluster
	binary.LittleEndian.PutUint16(bpb[14:], testReservedSectors)
	bpb[16] = testNumFATs
	binary.LittleEndian.PutUint16(bpb[17:], testRootEntryCount)
	binary.LittleEndian.PutUint16(bpb[19:], testTotalSectors)
	binary.LittleEndian.PutUint16(bpb[22:], testFATSectors)
	binary.LittleEndian.PutUint32(bpb[32:], 0)
	binary.LittleEndian.PutUint32(bpb[36:], 0)
	binary.LittleEndian.PutUint16(bpb[510:], mbrSignature)

	return d
}

func mountFAT16Image(d *memDevice) *Filesystem {
	fs := Mount(d, MountOptions{EnableFreefile: true})
	for fs.State() == StateInitializing {
		fs.Poll()
	}
	return fs
}
