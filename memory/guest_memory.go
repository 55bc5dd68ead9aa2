// Package memory models host-physical RAM as a bounds-checked Go slice
// capability, the idiomatic-Go tightening of the original's raw
// host-pointer casts that spec.md §9's design notes call for ("a typed
// guest-memory capability with per-access bounds checks; out-of-range
// accesses return an error rather than silently dropping"). It plays
// the same structural role virtual_machine.go's guestMemory []byte
// field plays for the teacher's KVM-mmap'd RAM.
package memory

import (
	"encoding/binary"
	"fmt"
)

// GuestMemory is a contiguous span of memory addressed from an
// arbitrary base. vm.CreateVM bases guest RAM at its guest-physical
// address, so device models such as virtio-blk access it with the
// guest-physical addresses the guest hands them.
type GuestMemory struct {
	base uint64
	data []byte
}

// New allocates size bytes of host memory, addressable starting at
// hostPhysBase.
func New(hostPhysBase uint64, size int) *GuestMemory {
	return &GuestMemory{base: hostPhysBase, data: make([]byte, size)}
}

// Base returns the host-physical address of byte 0.
func (g *GuestMemory) Base() uint64 { return g.base }

// Size returns the span's length in bytes.
func (g *GuestMemory) Size() uint64 { return uint64(len(g.data)) }

// Contains reports whether [addr, addr+length) lies entirely within
// this span.
func (g *GuestMemory) Contains(addr, length uint64) bool {
	if addr < g.base {
		return false
	}
	off := addr - g.base
	return off <= uint64(len(g.data)) && length <= uint64(len(g.data))-off
}

func (g *GuestMemory) slice(addr, length uint64) ([]byte, error) {
	if !g.Contains(addr, length) {
		return nil, fmt.Errorf("memory: access [%#x, %#x) out of range [%#x, %#x)", addr, addr+length, g.base, g.base+uint64(len(g.data)))
	}
	off := addr - g.base
	return g.data[off : off+length], nil
}

// ReadAt copies length bytes starting at host-physical addr.
func (g *GuestMemory) ReadAt(addr, length uint64) ([]byte, error) {
	s, err := g.slice(addr, length)
	if err != nil {
		return nil, err
	}
	out := make([]byte, length)
	copy(out, s)
	return out, nil
}

// WriteAt copies data into host-physical memory starting at addr.
func (g *GuestMemory) WriteAt(addr uint64, data []byte) error {
	s, err := g.slice(addr, uint64(len(data)))
	if err != nil {
		return err
	}
	copy(s, data)
	return nil
}

// ReadByte/WriteByte/ReadUint32/WriteUint32/ReadUint64 are small-width
// helpers the MMIO-adjacent device models (virtio-blk descriptor/ring
// walking) use far more often than bulk ReadAt/WriteAt.

func (g *GuestMemory) ReadByte(addr uint64) (byte, error) {
	b, err := g.slice(addr, 1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (g *GuestMemory) WriteByte(addr uint64, v byte) error {
	s, err := g.slice(addr, 1)
	if err != nil {
		return err
	}
	s[0] = v
	return nil
}

func (g *GuestMemory) ReadUint16(addr uint64) (uint16, error) {
	s, err := g.slice(addr, 2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(s), nil
}

func (g *GuestMemory) WriteUint16(addr uint64, v uint16) error {
	s, err := g.slice(addr, 2)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint16(s, v)
	return nil
}

func (g *GuestMemory) ReadUint32(addr uint64) (uint32, error) {
	s, err := g.slice(addr, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(s), nil
}

func (g *GuestMemory) WriteUint32(addr uint64, v uint32) error {
	s, err := g.slice(addr, 4)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(s, v)
	return nil
}

func (g *GuestMemory) ReadUint64(addr uint64) (uint64, error) {
	s, err := g.slice(addr, 8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(s), nil
}
