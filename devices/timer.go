package devices

import "github.com/PG-MANA/MiniVisor/hypervisor"

// VirtualTimerPPI is the PPI ID the architecture assigns the virtual
// timer (spec.md §4.8), delivered through each vCPU's own redistributor
// rather than routed through the distributor.
const VirtualTimerPPI = 27

// GenericTimer virtualizes the architected timer for one vCPU: it
// programs CNTVOFF_EL2 so the guest's virtual count tracks its own
// notion of elapsed time, and re-injects the physical timer PPI it
// receives as the guest's virtual timer PPI, per spec.md §4.8.
type GenericTimer struct {
	cpu    hypervisor.CPU
	gic    *GIC
	vcpu   int
	offset uint64
}

func NewGenericTimer(cpu hypervisor.CPU, gic *GIC, vcpu int) *GenericTimer {
	return &GenericTimer{cpu: cpu, gic: gic, vcpu: vcpu}
}

// SetOffset programs CNTVOFF_EL2 so that this vCPU's virtual counter
// reads zero at guest boot, the way virtual_machine.go arranges a
// guest's boot-time view of elapsed time.
func (t *GenericTimer) SetOffset(offset uint64) {
	t.offset = offset
	t.cpu.SetCNTVOFFEL2(offset)
}

// HandlePhysicalInterrupt is invoked when this vCPU's physical timer
// PPI fires; it re-injects the equivalent virtual PPI into the guest.
func (t *GenericTimer) HandlePhysicalInterrupt() {
	t.gic.TriggerLocal(t.vcpu, VirtualTimerPPI)
}
