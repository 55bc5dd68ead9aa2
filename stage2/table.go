package stage2

import (
	"fmt"

	"github.com/PG-MANA/MiniVisor/hypervisor"
)

const (
	vtcrRes1          uint64 = 1 << 31
	vtcrPSOffset             = 16
	vtcrSH0Offset            = 12
	vtcrORGN0Offset          = 10
	vtcrIRGN0Offset          = 8
	vtcrSL0Offset            = 6
	vtcrT0SZOffset           = 0
	vtcrT0SZMask      uint64 = 0b111111 << vtcrT0SZOffset
	vtcrSL0Mask       uint64 = 0b11 << vtcrSL0Offset

	idAA64MMFR0ParangeMask = 0b1111
)

// paRangeEntry pairs a T0SZ value with the initial lookup level for one
// ID_AA64MMFR0_EL1.PARANGE encoding, per paging.rs::init_stage2_translation_table.
type paRangeEntry struct {
	t0sz         uint64
	initialLevel int
}

var paRangeTable = map[uint64]paRangeEntry{
	0b000: {32, 1},
	0b001: {28, 1},
	0b010: {24, 1},
	0b011: {22, 1},
	0b100: {20, 0},
	0b101: {16, 0},
}

// defaultParange is used for any PARANGE encoding this table does not
// recognize, matching the original's behavior of falling back to the
// 48-bit configuration rather than failing VM creation.
const defaultParange = 0b101

// numberOfConcatenatedPageTables implements the formula from
// paging.rs::number_of_concatenated_page_tables: if t0sz exceeds
// 43-(3-first_level)*9, a single root table suffices; otherwise the
// root level is concatenated 2^(...) ways.
func numberOfConcatenatedPageTables(t0sz uint64, firstLevel int) int {
	threshold := int64(43 - (3-firstLevel)*9)
	if int64(t0sz) > threshold {
		return 1
	}
	return 1 << uint(threshold-int64(t0sz))
}

const entriesPerTable = 512 // 4 KiB table / 8-byte descriptors

// Table is one level of the stage-2 translation tree: a page-aligned
// slab of 512 64-bit descriptors, backed by host-physical memory
// obtained from the Allocator collaborator.
type Table struct {
	hostPhysAddr uint64
	entries      []Descriptor // len == entriesPerTable * rootMultiplier at the root, entriesPerTable otherwise
}

// Translator owns the root table set for one VM and exposes Init/Map
// exactly as spec.md §4.1 describes.
type Translator struct {
	cpu   hypervisor.CPU
	alloc hypervisor.Allocator

	initialLevel int
	t0sz         uint64
	rootTables   int
	root         *Table

	// children indexes every allocated non-root table by its
	// host-physical address so Map can find-or-create the next level
	// without walking raw pointers.
	children map[uint64]*Table
}

// New allocates and installs the stage-2 root table set for the
// platform's PARANGE field and writes VTCR_EL2/VTTBR_EL2, matching
// Translator.init in spec.md §4.1.
func New(cpu hypervisor.CPU, alloc hypervisor.Allocator) (*Translator, error) {
	parange := cpu.IDAA64MMFR0EL1() & idAA64MMFR0ParangeMask
	entry, ok := paRangeTable[parange]
	if !ok {
		entry = paRangeTable[defaultParange]
	}

	rootCount := numberOfConcatenatedPageTables(entry.t0sz, entry.initialLevel)

	rootAddr, err := alloc.AllocatePages(rootCount, hypervisor.PageShift)
	if err != nil {
		return nil, fmt.Errorf("stage2: allocate root table set: %w", err)
	}

	root := &Table{
		hostPhysAddr: rootAddr,
		entries:      make([]Descriptor, entriesPerTable*rootCount),
	}

	t := &Translator{
		cpu:          cpu,
		alloc:        alloc,
		initialLevel: entry.initialLevel,
		t0sz:         entry.t0sz,
		rootTables:   rootCount,
		root:         root,
		children:     make(map[uint64]*Table),
	}

	vtcr := vtcrRes1 |
		(parange << vtcrPSOffset) |
		(0b11 << vtcrSH0Offset) |
		(0b11 << vtcrORGN0Offset) |
		(0b11 << vtcrIRGN0Offset) |
		(slFromLevel(entry.initialLevel) << vtcrSL0Offset) |
		(entry.t0sz << vtcrT0SZOffset)

	cpu.SetVTCREL2(vtcr)
	cpu.SetVTTBREL2(rootAddr)
	return t, nil
}

// slFromLevel is the inverse of the SL0 decode table in
// paging.rs::map_address_stage2 ("0b00->2, 0b01->1, 0b10->0, 0b11->3").
func slFromLevel(level int) uint64 {
	switch level {
	case 2:
		return 0b00
	case 1:
		return 0b01
	case 0:
		return 0b10
	case 3:
		return 0b11
	}
	panic("stage2: invalid initial lookup level")
}

func levelFromSL(sl uint64) int {
	switch sl {
	case 0b00:
		return 2
	case 0b01:
		return 1
	case 0b10:
		return 0
	default:
		return 3
	}
}

// blockSizeForLevel returns the leaf size a descriptor at level covers:
// 1 GiB at level 1, 2 MiB at level 2, 4 KiB (a page, not a block) at
// level 3.
func blockSizeForLevel(level int) uint64 {
	switch level {
	case 1:
		return 1 << 30
	case 2:
		return 1 << 21
	default:
		return hypervisor.PageSize
	}
}

// Map installs a contiguous guest-physical-to-host-physical translation
// covering [guestPhys, guestPhys+size), using block leaves where
// alignment and size permit and page leaves otherwise (spec.md §4.1).
// Preconditions: size and both addresses are page-aligned.
func (t *Translator) Map(hostPhys, guestPhys, size uint64, readable, writable bool) error {
	if size&hypervisor.PageMask != 0 || hostPhys&hypervisor.PageMask != 0 || guestPhys&hypervisor.PageMask != 0 {
		return fmt.Errorf("stage2: map: addresses and size must be page-aligned")
	}
	perm := permissionFor(readable, writable)

	for size > 0 {
		mapped, err := t.mapAt(t.initialLevel, t.root, entryIndex(t.initialLevel, guestPhys, t.rootTables), guestPhys, hostPhys, size, perm)
		if err != nil {
			return err
		}
		guestPhys += mapped
		hostPhys += mapped
		size -= mapped
	}

	t.cpu.FlushTLBEL1()
	return nil
}

func permissionFor(readable, writable bool) Permission {
	var p Permission
	if readable {
		p |= PermissionReadOnly
	}
	if writable {
		p |= PermissionWriteOnly
	}
	return p
}

// entryIndex computes the index of guestPhys's descriptor within table
// at level, accounting for the root level's concatenation across
// rootMultiplier tables: the root table's entries span
// entriesPerTable*rootMultiplier descriptors, so the index mask must
// widen by log2(rootMultiplier) bits beyond the usual 9, exactly as
// paging.rs::_map_address_stage2 masks against rootCount*512 at the
// root level.
func entryIndex(level int, guestPhys uint64, rootMultiplier int) int {
	shift := uint(hypervisor.PageShift + 9*(3-level))
	mask := uint64(entriesPerTable*rootMultiplier) - 1
	return int((guestPhys >> shift) & mask)
}

// mapAt descends the tree recursively, mirroring
// paging.rs::_map_address_stage2. It returns how many bytes of `size`
// it consumed at this step: the size of the single leaf installed,
// either at this level or by recursing further. Block leaves are only
// installed at levels 1 and 2; level 0 always descends to a table.
func (t *Translator) mapAt(level int, table *Table, index int, guestPhys, hostPhys, size uint64, perm Permission) (uint64, error) {
	blockSize := blockSizeForLevel(level)

	if level == 3 {
		table.entries[index] = NewPageDescriptor(hostPhys, perm)
		return hypervisor.PageSize, nil
	}

	aligned := guestPhys&(blockSize-1) == 0 && hostPhys&(blockSize-1) == 0
	if (level == 1 || level == 2) && aligned && size >= blockSize {
		table.entries[index] = NewBlockDescriptor(hostPhys, perm)
		return blockSize, nil
	}

	desc := table.entries[index]
	var child *Table
	if desc.Valid() && desc.IsTable() {
		child = t.children[desc.OutputAddress()]
		if child == nil {
			return 0, fmt.Errorf("stage2: table descriptor with no known child table")
		}
	} else if desc.Valid() {
		return 0, fmt.Errorf("stage2: map: target range already mapped")
	} else {
		addr, err := t.alloc.AllocatePages(1, hypervisor.PageShift)
		if err != nil {
			return 0, fmt.Errorf("stage2: allocate child table: %w", err)
		}
		child = &Table{hostPhysAddr: addr, entries: make([]Descriptor, entriesPerTable)}
		t.children[addr] = child
		table.entries[index] = NewTableDescriptor(addr)
	}

	childIndex := entryIndex(level+1, guestPhys, 1)
	return t.mapAt(level+1, child, childIndex, guestPhys, hostPhys, size, perm)
}

// Translate walks the installed table for guestPhys and returns the
// host-physical address it resolves to, along with the descriptor's
// permission bits. Used by devices that need to convert a guest-supplied
// address (e.g. a virtio descriptor) into host memory.
func (t *Translator) Translate(guestPhys uint64) (hostPhys uint64, perm Permission, ok bool) {
	level := t.initialLevel
	table := t.root
	index := entryIndex(level, guestPhys, t.rootTables)

	for {
		desc := table.entries[index]
		if !desc.Valid() {
			return 0, 0, false
		}
		if level == 3 || !desc.IsTable() {
			blockSize := blockSizeForLevel(level)
			offset := guestPhys & (blockSize - 1)
			return desc.OutputAddress() + offset, desc.Permission(), true
		}
		child := t.children[desc.OutputAddress()]
		if child == nil {
			return 0, 0, false
		}
		level++
		table = child
		index = entryIndex(level, guestPhys, 1)
	}
}

// InitialLevel and RootTables are exposed for tests that assert on the
// PARANGE-driven table shape (Testable Property 2's "leaf size is one
// of {4 KiB, 2 MiB, 1 GiB}" is a direct consequence of these).
func (t *Translator) InitialLevel() int { return t.initialLevel }
func (t *Translator) RootTables() int   { return t.rootTables }

// LevelFromVTCRReadback reconstructs the initial lookup level from a
// VTCR_EL2 value's SL0 field, the way map_address_stage2 does on every
// call rather than trusting cached Translator state.
func LevelFromVTCRReadback(vtcr uint64) int {
	return levelFromSL((vtcr & vtcrSL0Mask) >> vtcrSL0Offset)
}
