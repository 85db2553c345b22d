// Package simulator provides an in-memory afatfs.BlockDevice for tests and
// the afatfsctl demo CLI. It wraps a plain byte slice with bytesextra and
// adds configurable completion latency and fault injection, standing in
// for a real SD-card/SPI block device during development and testing.
package simulator

import (
	"fmt"
	"io"

	"github.com/xaionaro-go/bytesextra"

	"github.com/asyncfatfs/afatfs"
)

// pendingOp is a read or write waiting for its simulated latency to elapse.
type pendingOp struct {
	sector     afatfs.SectorID
	buffer     []byte
	isWrite    bool
	ticksLeft  int
	completion func(afatfs.SectorID, error)
}

// Device is a fixed-size, sector-addressed afatfs.BlockDevice backed
// entirely by memory. It is not safe for concurrent use; like the
// filesystem it serves, it's meant to be driven from a single goroutine's
// Poll() loop.
type Device struct {
	stream       io.ReadWriteSeeker
	image        []byte
	totalSectors afatfs.SectorID

	// LatencyTicks is how many Poll() calls a request waits before its
	// completion fires, simulating a slow SPI bus. Zero means same-tick
	// (the completion fires before ReadBlock/WriteBlock even returns).
	LatencyTicks int

	// FailNextWrites, when nonzero, makes that many subsequent WriteBlock
	// completions report an error instead of succeeding, then resets to
	// zero. Used to exercise the cache's "stays Dirty on I/O failure"
	// retry path.
	FailNextWrites int

	pending []pendingOp
}

// New creates a Device over a freshly zeroed image of totalSectors sectors.
func New(totalSectors afatfs.SectorID) *Device {
	data := make([]byte, int(totalSectors)*afatfs.BytesPerSector)
	return &Device{
		stream:       bytesextra.NewReadWriteSeeker(data),
		image:        data,
		totalSectors: totalSectors,
	}
}

// NewFromImage wraps an existing raw disk image. len(image) must be an
// exact multiple of afatfs.BytesPerSector.
func NewFromImage(image []byte) (*Device, error) {
	if len(image)%afatfs.BytesPerSector != 0 {
		return nil, fmt.Errorf("simulator: image length %d is not a multiple of sector size %d", len(image), afatfs.BytesPerSector)
	}
	return &Device{
		stream:       bytesextra.NewReadWriteSeeker(image),
		image:        image,
		totalSectors: afatfs.SectorID(len(image) / afatfs.BytesPerSector),
	}, nil
}

// Image returns the device's backing buffer. Reads and writes mutate it
// directly, so it's always current as of the last executed operation --
// callers driving the filesystem from afatfsctl use this to persist the
// image back to a file after a session.
func (d *Device) Image() []byte {
	return d.image
}

func (d *Device) TotalSectors() afatfs.SectorID {
	return d.totalSectors
}

func (d *Device) ReadBlock(sector afatfs.SectorID, buffer []byte, completion func(afatfs.SectorID, error)) bool {
	if sector >= d.totalSectors {
		completion(sector, fmt.Errorf("simulator: sector %d out of range (total %d)", sector, d.totalSectors))
		return true
	}

	op := pendingOp{sector: sector, buffer: buffer, isWrite: false, ticksLeft: d.LatencyTicks, completion: completion}
	if d.LatencyTicks == 0 {
		d.execute(&op)
		return true
	}
	d.pending = append(d.pending, op)
	return true
}

func (d *Device) WriteBlock(sector afatfs.SectorID, buffer []byte, completion func(afatfs.SectorID, error)) afatfs.Status {
	if sector >= d.totalSectors {
		completion(sector, fmt.Errorf("simulator: sector %d out of range (total %d)", sector, d.totalSectors))
		return afatfs.StatusFailure
	}

	op := pendingOp{sector: sector, buffer: buffer, isWrite: true, ticksLeft: d.LatencyTicks, completion: completion}
	if d.LatencyTicks == 0 {
		d.execute(&op)
		return afatfs.StatusSuccess
	}
	d.pending = append(d.pending, op)
	return afatfs.StatusSuccess
}

// Poll advances every pending operation by one tick, firing completions
// whose latency has elapsed.
func (d *Device) Poll() {
	remaining := d.pending[:0]
	for i := range d.pending {
		op := &d.pending[i]
		if op.ticksLeft > 0 {
			op.ticksLeft--
		}
		if op.ticksLeft > 0 {
			remaining = append(remaining, *op)
			continue
		}
		d.execute(op)
	}
	d.pending = remaining
}

func (d *Device) execute(op *pendingOp) {
	if op.isWrite && d.FailNextWrites > 0 {
		d.FailNextWrites--
		op.completion(op.sector, fmt.Errorf("simulator: injected write failure at sector %d", op.sector))
		return
	}

	offset := int64(op.sector) * int64(afatfs.BytesPerSector)
	if _, err := d.stream.Seek(offset, io.SeekStart); err != nil {
		op.completion(op.sector, err)
		return
	}

	if op.isWrite {
		_, err := d.stream.Write(op.buffer)
		op.completion(op.sector, err)
		return
	}
	_, err := io.ReadFull(d.stream, op.buffer)
	op.completion(op.sector, err)
}
