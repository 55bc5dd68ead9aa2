// Package stage2 builds and mutates the guest-physical to host-physical
// translation tables used by a VM (ARMv8-A stage-2 / "VTTBR" translation).
package stage2

// Descriptor is a single 64-bit stage-2 table/block/page entry. The bit
// layout mirrors the hardware format from the ARMv8-A architecture
// reference manual, D5.3 (stage-2 translation table descriptor formats).
type Descriptor uint64

const (
	descValid uint64 = 1 << 0
	descTable uint64 = 1 << 1 // set: next-level table (or page, at level 3); clear: block

	tableAddressMask  uint64 = 0x0000FFFFFFFFF000
	outputAddressMask uint64 = 0x0000FFFFFFFFF000

	afOffset = 10
	af       = 1 << afOffset

	shOffset = 8
	shMask   = 0b11 << shOffset

	s2apOffset = 6
	s2apMask   = 0b11 << s2apOffset

	// MemAttr is a 4-bit field at [5:2] in a stage-2 leaf descriptor
	// (ARMv8-A ARM D5.3). paging.rs's ATTR_INDEX = 0b1111 << 2 selects
	// the normal, write-back cacheable memory class at index 0b1111.
	attrIndexOffset = 2
	attrIndexMask   = 0b1111 << attrIndexOffset

	// AttrWriteBack selects the write-back, read/write-allocate MAIR
	// class reserved for normal guest RAM. It is the only attribute
	// class this design installs (spec.md §3: "all leaves installed for
	// guest RAM carry: write-back cacheability, inner-shareable").
	AttrWriteBack uint64 = 0b1111
)

// Shareability mirrors the SH field of a stage-2 leaf descriptor.
type Shareability uint64

const (
	ShareabilityNonShareable   Shareability = 0b00
	ShareabilityOuterShareable Shareability = 0b10
	ShareabilityInnerShareable Shareability = 0b11
)

// Permission packs the S2AP field: bit 1 is write, bit 0 is read.
type Permission uint64

const (
	PermissionNone      Permission = 0b00
	PermissionReadOnly  Permission = 0b01
	PermissionWriteOnly Permission = 0b10
	PermissionReadWrite Permission = 0b11
)

func newLeafDescriptor(outputAddr uint64, table bool, perm Permission, sh Shareability, attrIndex uint64) Descriptor {
	v := descValid | (outputAddr & outputAddressMask)
	if table {
		v |= descTable
	}
	v |= af
	v |= (uint64(sh) << shOffset) & shMask
	v |= (uint64(perm) << s2apOffset) & s2apMask
	v |= (attrIndex << attrIndexOffset) & attrIndexMask
	return Descriptor(v)
}

// NewBlockDescriptor builds a block leaf (level 1 = 1 GiB, level 2 = 2 MiB).
func NewBlockDescriptor(outputAddr uint64, perm Permission) Descriptor {
	return newLeafDescriptor(outputAddr, false, perm, ShareabilityInnerShareable, AttrWriteBack)
}

// NewPageDescriptor builds a level-3, 4 KiB page leaf.
func NewPageDescriptor(outputAddr uint64, perm Permission) Descriptor {
	return newLeafDescriptor(outputAddr, true, perm, ShareabilityInnerShareable, AttrWriteBack)
}

// NewTableDescriptor builds a pointer to the next-level table.
func NewTableDescriptor(tableAddr uint64) Descriptor {
	return Descriptor(descValid | descTable | (tableAddr & tableAddressMask))
}

func (d Descriptor) Valid() bool { return uint64(d)&descValid != 0 }

// IsTable reports whether this is a next-level-table descriptor at a
// level other than 3; at level 3 the table bit instead marks a page.
func (d Descriptor) IsTable() bool { return uint64(d)&descTable != 0 }

func (d Descriptor) OutputAddress() uint64 { return uint64(d) & outputAddressMask }

func (d Descriptor) Permission() Permission {
	return Permission((uint64(d) & s2apMask) >> s2apOffset)
}

func (d Descriptor) AccessFlagSet() bool { return uint64(d)&af != 0 }

func (d Descriptor) Shareability() Shareability {
	return Shareability((uint64(d) & shMask) >> shOffset)
}

// MemAttr returns the descriptor's 4-bit MemAttr index field ([5:2]).
func (d Descriptor) MemAttr() uint64 {
	return (uint64(d) & attrIndexMask) >> attrIndexOffset
}
