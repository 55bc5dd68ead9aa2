package devices

import (
	"log"

	"github.com/PG-MANA/MiniVisor/hypervisor"
)

// List-register entry (LRE) bit layout, ported from vgic.rs's
// ICH_LRN_EL2_* constants. Two status bits (62 pending, 63 active)
// replace a single "state" enum; group occupies bit 60; an 8-bit
// priority sits at bit 48; the hardware bit (61) and EOI bit (41) pick
// between a hardware-backed virtual interrupt (the CPU auto-forwards
// EOI to the physical distributor) and a software one (the guest's EOI
// write raises a maintenance interrupt); the low 32 bits carry the
// virtual interrupt ID, and bits 32-63's low half (when HW is set)
// the physical interrupt ID.
const (
	lrPending      uint64 = 1 << 62
	lrActive       uint64 = 1 << 63
	lrHW           uint64 = 1 << 61
	lrEOI          uint64 = 1 << 41
	lrGroupOffset         = 60
	lrPriorityOff         = 48
	lrPriorityMask uint64 = 0xFF << lrPriorityOff
	lrPhysIDOffset        = 32
	lrPhysIDMask   uint64 = 0xFFFFFFFF << lrPhysIDOffset
	lrVIntIDMask   uint64 = 0xFFFFFFFF

	// MaintenanceInterruptID and InjectIPIID are fixed SGI/internal IDs,
	// matching vgic.rs's MAINTENANCE_INTERRUPT_INTID and gicv3.rs's
	// INJECT_INTERRUPT_INT_ID.
	MaintenanceInterruptID uint32 = 25
	InjectIPIID            uint32 = 11
)

// NewListRegisterEntry builds a packed LRE, matching
// vgic.rs::create_list_register_entry.
func NewListRegisterEntry(intID uint32, group uint8, priority uint8, physIntID *uint32) uint64 {
	v := lrPending | (uint64(group&1) << lrGroupOffset) | (uint64(priority) << lrPriorityOff) | uint64(intID)
	if physIntID != nil {
		v |= lrHW | (uint64(*physIntID) << lrPhysIDOffset)
	} else {
		v |= lrEOI
	}
	return v
}

func lreVirtualID(lre uint64) uint32 { return uint32(lre & lrVIntIDMask) }
func lreIsInactive(lre uint64) bool  { return lre&(lrPending|lrActive) == 0 }

// VGIC manages one vCPU's hardware list-register slots. spec.md §3
// allows "3 slots suffice for this design"; SPEC_FULL.md §4.3-4.4 traces
// this to vgic.rs's fixed 3-element GET/SET_ICH_LRN_EL2 arrays.
type VGIC struct {
	cpu hypervisor.CPU
}

func NewVGIC(cpu hypervisor.CPU) *VGIC { return &VGIC{cpu: cpu} }

// SendSGI writes ICC_SGI1R_EL1 to raise sgiID on the vCPU(s) selected
// by targetAffinity, matching gicv3.rs's inject_interrupt cross-core
// path.
func (v *VGIC) SendSGI(sgiID uint32, targetAffinity uint64) {
	v.cpu.SetICCSGI1REL1(encodeSGI1R(sgiID, targetAffinity))
}

func (v *VGIC) slotCount() int {
	n := int(v.cpu.ICHVTR()&0b11111) + 1
	if n > 3 {
		n = 3
	}
	return n
}

// AddVirtualInterrupt implements vgic.rs::add_virtual_interrupt: scan
// for an inactive slot and install lre there, or re-arm the pending bit
// of a slot already holding the same virtual ID. On overflow it logs
// the dropped interrupt and returns false (spec.md §7 tier 2); callers
// drop the interrupt.
func (v *VGIC) AddVirtualInterrupt(lre uint64) bool {
	n := v.slotCount()
	id := lreVirtualID(lre)
	for i := 0; i < n; i++ {
		cur := v.cpu.ICHLR(i)
		if lreIsInactive(cur) {
			v.cpu.SetICHLR(i, lre)
			return true
		}
		if lreVirtualID(cur) == id {
			v.cpu.SetICHLR(i, cur|lrPending)
			return true
		}
	}
	log.Printf("devices: vgic list registers full, dropping virtual interrupt %d", id)
	return false
}

// GICBank is the subset of distributor/redistributor behaviour the
// maintenance handler needs: clearing pending+active for one interrupt
// ID. Both Distributor and Redistributor implement it.
type GICBank interface {
	clearPendingActive(intID uint32)
}

// MaintenanceHandler implements vgic.rs::maintenance_interrupt_handler:
// for each bit set in ICH_EISR_EL2, read that slot's LRE, clear the
// emulated pending/active state (distributor for SPIs, redistributor
// for SGIs/PPIs) and zero the slot.
func (v *VGIC) MaintenanceHandler(distributor GICBank, redistributor GICBank) {
	eisr := v.cpu.ICHEISR()
	n := v.slotCount()
	for i := 0; i < n; i++ {
		if eisr&(1<<uint(i)) == 0 {
			continue
		}
		lre := v.cpu.ICHLR(i)
		id := lreVirtualID(lre)
		if id >= 32 {
			distributor.clearPendingActive(id)
		} else {
			redistributor.clearPendingActive(id)
		}
		v.cpu.SetICHLR(i, 0)
	}
}
