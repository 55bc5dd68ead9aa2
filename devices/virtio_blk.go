package devices

import (
	"encoding/binary"
	"sync"

	"github.com/PG-MANA/MiniVisor/memory"
)

// Legacy virtio-mmio v1 register offsets and magic constants, per
// spec.md §4.6 and SPEC_FULL.md §4.6's wire-constant supplement.
const (
	vioMagicValue     = 0x00
	vioVersion        = 0x04
	vioDeviceID       = 0x08
	vioVendorID       = 0x0C
	vioHostFeatures   = 0x10
	vioHostFeatureSel = 0x14
	vioGuestFeatures  = 0x20
	vioGuestFeatSel   = 0x24
	vioGuestPageSize  = 0x28
	vioQueueSel       = 0x30
	vioQueueNumMax    = 0x34
	vioQueueNum       = 0x38
	vioQueueAlign     = 0x3C
	vioQueuePFN       = 0x40
	vioQueueNotify    = 0x50
	vioInterruptStat  = 0x60
	vioInterruptACK   = 0x64
	vioStatus         = 0x70
	vioConfig         = 0x100

	VirtioMagicValue = 0x74726976 // "virt"
	VirtioVendorID   = 0x554d4551 // "QEMU"
	VirtioBlockDevID = 2

	virtQueueNumMax = 256
	descriptorSize  = 16 // addr(8) len(4) flags(2) next(2)

	descFlagNext  = 1
	descFlagWrite = 2

	blockRequestRead  = 0
	blockRequestWrite = 1
	blockHeaderSize   = 16 // type(4) reserved(4) sector(8)
	sectorSize        = 512

	blockStatusOK     = 0
	blockStatusIOErr  = 1
	blockStatusUnsupp = 2

	// BlockSPIID is the shared peripheral interrupt this device raises,
	// per SPEC_FULL.md §4.6.
	BlockSPIID = 40
)

// BlockBackend is the backing store a VirtioBlk device reads and
// writes sectors from. A host-mmap'd disk image (wired through
// golang.org/x/sys on cmd/minivisor's side, per SPEC_FULL.md §3)
// satisfies this with a thin wrapper; tests use an in-memory one.
type BlockBackend interface {
	ReadAt(p []byte, off int64) (int, error)
	WriteAt(p []byte, off int64) (int, error)
	Size() int64
}

// VirtioBlk emulates a legacy (pre-1.0) virtio-mmio block device:
// negotiation registers, a single virtqueue, and the read/write request
// algorithm of spec.md §4.6.
type VirtioBlk struct {
	mu sync.Mutex

	mem     *memory.GuestMemory
	backend BlockBackend

	hostFeatures  uint32
	guestFeatures uint32
	featureSel    uint32
	guestFeatSel  uint32
	pageSize      uint32
	queueNum      uint32
	queueAlign    uint32
	queuePFN      uint32
	status        uint8
	interruptStat uint32

	lastAvailIdx uint16

	raiseInterrupt func()
}

func NewVirtioBlk(mem *memory.GuestMemory, backend BlockBackend, raiseInterrupt func()) *VirtioBlk {
	return &VirtioBlk{mem: mem, backend: backend, raiseInterrupt: raiseInterrupt, queueAlign: 4096}
}

func (b *VirtioBlk) MMIORead(offset uint64, width int) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch {
	case offset == vioMagicValue:
		return VirtioMagicValue, nil
	case offset == vioVersion:
		return 1, nil
	case offset == vioDeviceID:
		return VirtioBlockDevID, nil
	case offset == vioVendorID:
		return VirtioVendorID, nil
	case offset == vioHostFeatures:
		return uint64(b.hostFeatures), nil
	case offset == vioQueueNumMax:
		return virtQueueNumMax, nil
	case offset == vioQueuePFN:
		return uint64(b.queuePFN), nil
	case offset == vioInterruptStat:
		return uint64(b.interruptStat), nil
	case offset == vioStatus:
		return uint64(b.status), nil
	case offset == vioConfig:
		return uint64(b.backend.Size()) / sectorSize, nil
	case offset == vioConfig+4:
		return uint64(b.backend.Size()) / sectorSize >> 32, nil
	}
	return 0, nil
}

func (b *VirtioBlk) MMIOWrite(offset uint64, width int, value uint64) error {
	b.mu.Lock()
	switch {
	case offset == vioHostFeatureSel:
		b.featureSel = uint32(value)
	case offset == vioGuestFeatSel:
		b.guestFeatSel = uint32(value)
	case offset == vioGuestFeatures:
		b.guestFeatures = uint32(value)
	case offset == vioGuestPageSize:
		b.pageSize = uint32(value)
	case offset == vioQueueNum:
		b.queueNum = uint32(value)
	case offset == vioQueueAlign:
		b.queueAlign = uint32(value)
	case offset == vioQueuePFN:
		b.queuePFN = uint32(value)
	case offset == vioStatus:
		b.status = uint8(value)
	case offset == vioInterruptACK:
		b.interruptStat &^= uint32(value)
	case offset == vioQueueNotify:
		b.mu.Unlock()
		b.processQueue()
		return nil
	}
	b.mu.Unlock()
	return nil
}

func alignUp(v, align uint32) uint32 {
	return (v + align - 1) &^ (align - 1)
}

// queueLayout computes the legacy virtio-mmio queue's descriptor
// table, available ring and used ring base addresses from QueuePFN,
// GuestPageSize and QueueNum, per the legacy virtio spec's
// vring_size/vring_init layout.
func (b *VirtioBlk) queueLayout() (descTable, availRing, usedRing uint64) {
	base := uint64(b.queuePFN) * uint64(b.pageSize)
	descTable = base
	availRing = descTable + uint64(b.queueNum)*descriptorSize
	usedRingOff := uint64(alignUp(uint32(uint64(b.queueNum)*descriptorSize+4+uint64(b.queueNum)*2+2), b.queueAlign))
	usedRing = descTable + usedRingOff
	return
}

type virtqDesc struct {
	addr  uint64
	len   uint32
	flags uint16
	next  uint16
}

func (b *VirtioBlk) readDesc(descTable uint64, index uint16) (virtqDesc, error) {
	raw, err := b.mem.ReadAt(descTable+uint64(index)*descriptorSize, descriptorSize)
	if err != nil {
		return virtqDesc{}, err
	}
	return virtqDesc{
		addr:  binary.LittleEndian.Uint64(raw[0:8]),
		len:   binary.LittleEndian.Uint32(raw[8:12]),
		flags: binary.LittleEndian.Uint16(raw[12:14]),
		next:  binary.LittleEndian.Uint16(raw[14:16]),
	}, nil
}

// processQueue implements the request-processing algorithm of
// spec.md §4.6: walk every new available-ring entry's descriptor
// chain, identify the header, data and terminating status descriptors
// (the first descriptor in the chain without the NEXT flag set is the
// status descriptor), perform the sector I/O, write the status byte,
// post to the used ring and raise the block device's SPI.
func (b *VirtioBlk) processQueue() {
	b.mu.Lock()
	descTable, availRing, usedRing := b.queueLayout()
	queueNum := b.queueNum
	lastIdx := b.lastAvailIdx
	b.mu.Unlock()

	if queueNum == 0 {
		return
	}

	availIdxRaw, err := b.mem.ReadUint16(availRing + 2)
	if err != nil {
		return
	}
	availIdx := availIdxRaw

	anyProcessed := false
	for lastIdx != availIdx {
		ringSlot := uint64(lastIdx % uint16(queueNum))
		head, err := b.mem.ReadUint16(availRing + 4 + ringSlot*2)
		if err == nil {
			length, status := b.handleChain(descTable, head)
			b.postUsed(usedRing, queueNum, head, length)
			_ = status
			anyProcessed = true
		}
		lastIdx++
	}

	b.mu.Lock()
	b.lastAvailIdx = lastIdx
	b.mu.Unlock()

	if anyProcessed {
		b.mu.Lock()
		b.interruptStat |= 1
		b.mu.Unlock()
		if b.raiseInterrupt != nil {
			b.raiseInterrupt()
		}
	}
}

// handleChain walks one descriptor chain and performs the request it
// describes, returning the used-ring length (the bytes transferred
// through the chain's data descriptors, for reads and writes alike,
// plus the status descriptor's length) and the status byte.
func (b *VirtioBlk) handleChain(descTable uint64, head uint16) (uint32, byte) {
	var chain []virtqDesc
	idx := head
	for {
		d, err := b.readDesc(descTable, idx)
		if err != nil {
			return 0, blockStatusIOErr
		}
		chain = append(chain, d)
		if d.flags&descFlagNext == 0 {
			break
		}
		idx = d.next
	}
	if len(chain) < 2 {
		return 0, blockStatusIOErr
	}

	header := chain[0]
	status := chain[len(chain)-1]
	data := chain[1 : len(chain)-1]

	raw, err := b.mem.ReadAt(header.addr, blockHeaderSize)
	if err != nil {
		b.writeStatus(status, blockStatusIOErr)
		return 0, blockStatusIOErr
	}
	reqType := binary.LittleEndian.Uint32(raw[0:4])
	sector := binary.LittleEndian.Uint64(raw[8:16])

	var total uint32
	var st byte = blockStatusOK
	switch reqType {
	case blockRequestRead:
		off := int64(sector) * sectorSize
		for _, d := range data {
			buf := make([]byte, d.len)
			if _, err := b.backend.ReadAt(buf, off); err != nil {
				st = blockStatusIOErr
				break
			}
			if err := b.mem.WriteAt(d.addr, buf); err != nil {
				st = blockStatusIOErr
				break
			}
			off += int64(d.len)
			total += d.len
		}
	case blockRequestWrite:
		off := int64(sector) * sectorSize
		for _, d := range data {
			buf, err := b.mem.ReadAt(d.addr, uint64(d.len))
			if err != nil {
				st = blockStatusIOErr
				break
			}
			if _, err := b.backend.WriteAt(buf, off); err != nil {
				st = blockStatusIOErr
				break
			}
			off += int64(d.len)
			total += d.len
		}
	default:
		st = blockStatusUnsupp
	}

	b.writeStatus(status, st)
	// The used-ring length covers the whole chain's device-written
	// bytes, including the status descriptor itself — spec.md §8 S3
	// pins 513 (512 data + 1 status) for a single-sector read, matching
	// the original's total_size += descriptor.length for the status
	// descriptor.
	total += uint32(status.len)
	return total, st
}

func (b *VirtioBlk) writeStatus(status virtqDesc, st byte) {
	if status.len < 1 {
		return
	}
	_ = b.mem.WriteByte(status.addr, st)
}

func (b *VirtioBlk) postUsed(usedRing uint64, queueNum uint32, head uint16, length uint32) {
	usedIdx, err := b.mem.ReadUint16(usedRing + 2)
	if err != nil {
		return
	}
	slot := uint64(usedIdx % uint16(queueNum))
	entryOff := usedRing + 4 + slot*8
	_ = b.mem.WriteUint32(entryOff, uint32(head))
	_ = b.mem.WriteUint32(entryOff+4, length)
	_ = b.mem.WriteUint16(usedRing+2, usedIdx+1)
}
