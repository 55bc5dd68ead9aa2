package devices

import (
	"sync"

	"github.com/PG-MANA/MiniVisor/hypervisor"
)

// GIC ties one VM's distributor, per-vCPU redistributors and per-vCPU
// list-register controllers together and implements the routing half
// of gicv3.rs's trigger(): deciding, from an SPI's IROUTER affinity,
// which vCPU's list registers receive the resulting LRE, and raising a
// cross-core injection SGI when that vCPU isn't the one that raised
// the interrupt.
//
// Real ICC_SGI1R_EL1 packs Aff1 at bits[23:16] and Aff3 at [55:48];
// minivisor.rs's gicv3.rs instead shifts Aff1 left by 48, colliding
// with the Aff3 field. No testable property in this design pins that
// wire format (it's consumed only by this repo's own injection-SGI
// receive path, never observed by a real guest), so this port uses the
// architecturally-correct aff1<<16 encoding; see DESIGN.md.
type GIC struct {
	mu sync.Mutex

	Distributor    *Distributor
	Redistributors []*Redistributor
	VGICs          []*VGIC

	affinityIndex map[uint64]int
	currentCaller int
}

// NewGIC builds one redistributor and one list-register controller per
// vCPU, indexed by the MPIDR-derived affinity hypervisor.PackedAffinity
// produces for that vCPU.
func NewGIC(cpus []hypervisor.CPU, affinities []uint64) *GIC {
	g := &GIC{affinityIndex: make(map[uint64]int, len(cpus))}
	for i, aff := range affinities {
		r := NewRedistributor(aff, i == len(affinities)-1)
		vg := NewVGIC(cpus[i])
		r.install = func(lre uint64) { vg.AddVirtualInterrupt(lre) }
		g.Redistributors = append(g.Redistributors, r)
		g.VGICs = append(g.VGICs, vg)
		g.affinityIndex[aff] = i
	}
	g.Distributor = NewDistributor(g.route)
	return g
}

// Trigger raises intID on behalf of callerVCPU (the vCPU whose trap or
// device-emulation context observed the condition), matching
// vm.rs/gicv3.rs's pattern of calling trigger() from within the
// current vCPU's MMIO-write handler.
func (g *GIC) Trigger(callerVCPU int, intID uint32) {
	g.mu.Lock()
	g.currentCaller = callerVCPU
	g.mu.Unlock()
	g.Distributor.SetPending(intID)
}

// route is the Distributor's callback: resolve the SPI's target
// affinity to a vCPU index, then either install the LRE directly (same
// vCPU) or queue it and send the injection SGI (different vCPU).
func (g *GIC) route(targetAffinity uint64, lre uint64) {
	g.mu.Lock()
	idx, ok := g.affinityIndex[targetAffinity]
	caller := g.currentCaller
	g.mu.Unlock()
	if !ok {
		return
	}
	if idx == caller {
		g.VGICs[idx].AddVirtualInterrupt(lre)
		return
	}
	g.Redistributors[idx].QueueCrossCore(lre)
	g.VGICs[caller].SendSGI(InjectIPIID, g.Redistributors[idx].affinity)
}

// HandleInjectionSGI is called by vcpu's own trap handler once it
// observes SGI 11 (InjectIPIID): it drains whatever cross-core LREs
// were queued for it and installs each into its own list registers.
func (g *GIC) HandleInjectionSGI(vcpu int) {
	for _, lre := range g.Redistributors[vcpu].DrainCrossCore() {
		g.VGICs[vcpu].AddVirtualInterrupt(lre)
	}
}

// TriggerLocal raises an SGI/PPI (intID < 32) against one specific
// vCPU's own redistributor — used by the generic timer to re-inject
// its physical PPI as the guest's virtual timer interrupt (spec.md
// §4.8) without going through distributor/affinity routing at all.
// Delivery happens inside Redistributor.SetPending via the install
// callback NewGIC wires to this vCPU's own VGIC.
func (g *GIC) TriggerLocal(vcpu int, intID uint32) {
	g.Redistributors[vcpu].SetPending(intID)
}

// Maintain runs the maintenance-interrupt handler for vcpu, clearing
// emulated pending/active state for any list register ICH_EISR_EL2
// reports as retired.
func (g *GIC) Maintain(vcpu int) {
	g.VGICs[vcpu].MaintenanceHandler(g.Distributor, g.Redistributors[vcpu])
}

// encodeSGI1R packs an ICC_SGI1R_EL1 value targeting one affinity,
// documented deviation noted on GIC above.
func encodeSGI1R(sgiID uint32, targetAffinity uint64) uint64 {
	aff0 := targetAffinity & 0xFF
	aff1 := (targetAffinity >> 8) & 0xFF
	aff2 := (targetAffinity >> 16) & 0xFF
	aff3 := (targetAffinity >> 24) & 0xFF
	targetList := uint64(1) << (aff0 & 0xF)
	return aff3<<48 | aff2<<32 | (uint64(sgiID)&0xF)<<24 | (aff1 << 16) | targetList
}
