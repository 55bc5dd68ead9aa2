package hypervisor

import "sync"

// SoftwareCPU is a deterministic, host-runnable stand-in for CPU. It
// backs every test in this module that exercises stage-2 table
// construction, vGIC list-register bookkeeping or MMIO dispatch logic
// without requiring real EL2 privilege — the same role a software mock
// plays for any of this repository's device models, except here it
// stands in for the CPU itself rather than for a peripheral.
//
// ICHLRCount defaults to 3, matching the real platform's assumed
// ICH_VTR_EL2 list-register count (spec.md §3).
type SoftwareCPU struct {
	mu sync.Mutex

	ElCurrent uint64
	MMFR0     uint64
	Mpidr     uint64

	vtcr  uint64
	vttbr uint64
	vbar  uint64
	elr   uint64
	spsr  uint64
	esr   uint64
	far   uint64
	hpfar uint64
	daif  uint64
	hcr   uint64
	vpidr uint64
	vmpidr uint64
	cntvoff uint64

	iccSre     uint64
	iccIgrpen1 uint64
	iccPmr     uint64
	iccBpr1    uint64
	iccEoir1   uint64
	iccIar1    uint64
	iccSgi1r   uint64

	ichLR      [3]uint64
	ICHLRCount uint64
	ichEisr    uint64
	ichHcr     uint64

	TLBFlushes int

	// LastEret records the final guest-entry arguments for assertions.
	LastEret [4]uint64
	EretCount int

	// SMCHandler, when set, lets a test observe/emulate PSCI calls.
	SMCHandler func(function, a1, a2, a3 uint64) uint64
}

// NewSoftwareCPU returns a SoftwareCPU defaulted to a 48-bit PA range
// (PARANGE 0b101, the original's fallback for unrecognized values) and
// three list-register slots.
func NewSoftwareCPU() *SoftwareCPU {
	return &SoftwareCPU{ElCurrent: 2 << 2, MMFR0: 0b101, ICHLRCount: 3}
}

func (c *SoftwareCPU) CurrentEL() uint64      { return c.ElCurrent }
func (c *SoftwareCPU) IDAA64MMFR0EL1() uint64 { return c.MMFR0 }

func (c *SoftwareCPU) VTCREL2() uint64     { c.mu.Lock(); defer c.mu.Unlock(); return c.vtcr }
func (c *SoftwareCPU) SetVTCREL2(v uint64) { c.mu.Lock(); defer c.mu.Unlock(); c.vtcr = v }
func (c *SoftwareCPU) VTTBREL2() uint64    { c.mu.Lock(); defer c.mu.Unlock(); return c.vttbr }
func (c *SoftwareCPU) SetVTTBREL2(v uint64) { c.mu.Lock(); defer c.mu.Unlock(); c.vttbr = v }
func (c *SoftwareCPU) FlushTLBEL1()        { c.mu.Lock(); defer c.mu.Unlock(); c.TLBFlushes++ }

func (c *SoftwareCPU) SetVBAREL2(v uint64) { c.mu.Lock(); defer c.mu.Unlock(); c.vbar = v }
func (c *SoftwareCPU) ELREL2() uint64      { c.mu.Lock(); defer c.mu.Unlock(); return c.elr }
func (c *SoftwareCPU) SetELREL2(v uint64)  { c.mu.Lock(); defer c.mu.Unlock(); c.elr = v }
func (c *SoftwareCPU) AdvanceELREL2()      { c.mu.Lock(); defer c.mu.Unlock(); c.elr += 4 }
func (c *SoftwareCPU) SetSPSREL2(v uint64) { c.mu.Lock(); defer c.mu.Unlock(); c.spsr = v }

func (c *SoftwareCPU) ESREL2() uint64   { c.mu.Lock(); defer c.mu.Unlock(); return c.esr }
func (c *SoftwareCPU) FAREL2() uint64   { c.mu.Lock(); defer c.mu.Unlock(); return c.far }
func (c *SoftwareCPU) HPFAREL2() uint64 { c.mu.Lock(); defer c.mu.Unlock(); return c.hpfar }

// SetFaultState lets a test stage an exact ESR/FAR/HPFAR combination
// before driving the trap dispatcher.
func (c *SoftwareCPU) SetFaultState(esr, far, hpfar uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.esr, c.far, c.hpfar = esr, far, hpfar
}

func (c *SoftwareCPU) MPIDREL1() uint64 { return c.Mpidr }

func (c *SoftwareCPU) DAIF() uint64     { c.mu.Lock(); defer c.mu.Unlock(); return c.daif }
func (c *SoftwareCPU) SetDAIF(v uint64) { c.mu.Lock(); defer c.mu.Unlock(); c.daif = v }

func (c *SoftwareCPU) SetHCREL2(v uint64)     { c.mu.Lock(); defer c.mu.Unlock(); c.hcr = v }
func (c *SoftwareCPU) SetVPIDREL2(v uint64)   { c.mu.Lock(); defer c.mu.Unlock(); c.vpidr = v }
func (c *SoftwareCPU) SetVMPIDREL2(v uint64)  { c.mu.Lock(); defer c.mu.Unlock(); c.vmpidr = v }
func (c *SoftwareCPU) SetCNTVOFFEL2(v uint64) { c.mu.Lock(); defer c.mu.Unlock(); c.cntvoff = v }

func (c *SoftwareCPU) ICCSREEL2() uint64         { return c.iccSre }
func (c *SoftwareCPU) SetICCSREEL2(v uint64)     { c.iccSre = v }
func (c *SoftwareCPU) SetICCIGRPEN1EL1(v uint64) { c.iccIgrpen1 = v }
func (c *SoftwareCPU) SetICCPMREL1(v uint64)     { c.iccPmr = v }
func (c *SoftwareCPU) SetICCBPR1EL1(v uint64)    { c.iccBpr1 = v }
func (c *SoftwareCPU) SetICCEOIR1EL1(v uint64)   { c.iccEoir1 = v }
func (c *SoftwareCPU) ICCIAR1EL1() uint64        { return c.iccIar1 }
func (c *SoftwareCPU) SetICCIAR1EL1(v uint64)    { c.iccIar1 = v } // test helper
func (c *SoftwareCPU) SetICCSGI1REL1(v uint64)   { c.mu.Lock(); defer c.mu.Unlock(); c.iccSgi1r = v }
func (c *SoftwareCPU) LastICCSGI1REL1() uint64   { c.mu.Lock(); defer c.mu.Unlock(); return c.iccSgi1r }

func (c *SoftwareCPU) ICHLR(slot int) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ichLR[slot]
}

func (c *SoftwareCPU) SetICHLR(slot int, v uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ichLR[slot] = v
}

func (c *SoftwareCPU) ICHVTR() uint64 { return (c.ICHLRCount - 1) & 0b11111 }

func (c *SoftwareCPU) ICHEISR() uint64     { c.mu.Lock(); defer c.mu.Unlock(); return c.ichEisr }
func (c *SoftwareCPU) SetICHEISR(v uint64) { c.mu.Lock(); defer c.mu.Unlock(); c.ichEisr = v } // test helper
func (c *SoftwareCPU) SetICHHCREL2(v uint64) { c.mu.Lock(); defer c.mu.Unlock(); c.ichHcr = v }

func (c *SoftwareCPU) SMC(function, a1, a2, a3 uint64) uint64 {
	if c.SMCHandler != nil {
		return c.SMCHandler(function, a1, a2, a3)
	}
	return 0
}

func (c *SoftwareCPU) Eret(x0, x1, x2, x3 uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.LastEret = [4]uint64{x0, x1, x2, x3}
	c.EretCount++
}

var _ CPU = (*SoftwareCPU)(nil)
