//go:build arm64

package hypervisor

// ARM64CPU backs CPU with the real system-register and barrier/TLB
// instructions, each declared here with no body and implemented in
// cpu_arm64.s — the same "leaf Go function backed by a hand-written .s
// stub" convention used by the tamago framework's arm64 MMU package
// (cpu.initL1Table's companion flush_tlb/set_ttbr0 declarations).
type ARM64CPU struct{}

func mrsCurrentEL() uint64
func mrsIDAA64MMFR0EL1() uint64
func mrsVTCREL2() uint64
func msrVTCREL2(uint64)
func mrsVTTBREL2() uint64
func msrVTTBREL2(uint64)
func dsbIshstTLBIAlle1Is()
func msrVBAREL2(uint64)
func mrsELREL2() uint64
func msrELREL2(uint64)
func msrSPSREL2(uint64)
func mrsESREL2() uint64
func mrsFAREL2() uint64
func mrsHPFAREL2() uint64
func mrsMPIDREL1() uint64
func mrsDAIF() uint64
func msrDAIF(uint64)
func msrHCREL2(uint64)
func msrVPIDREL2(uint64)
func msrVMPIDREL2(uint64)
func msrCNTVOFFEL2(uint64)
func mrsICCSREEL2() uint64
func msrICCSREEL2(uint64)
func msrICCIGRPEN1EL1(uint64)
func msrICCPMREL1(uint64)
func msrICCBPR1EL1(uint64)
func msrICCEOIR1EL1(uint64)
func mrsICCIAR1EL1() uint64
func msrICCSGI1REL1(uint64)
func mrsICHLR0() uint64
func msrICHLR0(uint64)
func mrsICHLR1() uint64
func msrICHLR1(uint64)
func mrsICHLR2() uint64
func msrICHLR2(uint64)
func mrsICHVTR() uint64
func mrsICHEISR() uint64
func msrICHHCREL2(uint64)
func smcCall(function, arg1, arg2, arg3 uint64) uint64
func eretWith(x0, x1, x2, x3 uint64)

func (ARM64CPU) CurrentEL() uint64         { return mrsCurrentEL() }
func (ARM64CPU) IDAA64MMFR0EL1() uint64    { return mrsIDAA64MMFR0EL1() }
func (ARM64CPU) VTCREL2() uint64           { return mrsVTCREL2() }
func (ARM64CPU) SetVTCREL2(v uint64)       { msrVTCREL2(v) }
func (ARM64CPU) VTTBREL2() uint64          { return mrsVTTBREL2() }
func (ARM64CPU) SetVTTBREL2(v uint64)      { msrVTTBREL2(v) }
func (ARM64CPU) FlushTLBEL1()              { dsbIshstTLBIAlle1Is() }
func (ARM64CPU) SetVBAREL2(v uint64)       { msrVBAREL2(v) }
func (ARM64CPU) ELREL2() uint64            { return mrsELREL2() }
func (ARM64CPU) SetELREL2(v uint64)        { msrELREL2(v) }
func (c ARM64CPU) AdvanceELREL2()          { msrELREL2(mrsELREL2() + 4) }
func (ARM64CPU) SetSPSREL2(v uint64)       { msrSPSREL2(v) }
func (ARM64CPU) ESREL2() uint64            { return mrsESREL2() }
func (ARM64CPU) FAREL2() uint64            { return mrsFAREL2() }
func (ARM64CPU) HPFAREL2() uint64          { return mrsHPFAREL2() }
func (ARM64CPU) MPIDREL1() uint64          { return mrsMPIDREL1() }
func (ARM64CPU) DAIF() uint64              { return mrsDAIF() }
func (ARM64CPU) SetDAIF(v uint64)          { msrDAIF(v) }
func (ARM64CPU) SetHCREL2(v uint64)        { msrHCREL2(v) }
func (ARM64CPU) SetVPIDREL2(v uint64)      { msrVPIDREL2(v) }
func (ARM64CPU) SetVMPIDREL2(v uint64)     { msrVMPIDREL2(v) }
func (ARM64CPU) SetCNTVOFFEL2(v uint64)    { msrCNTVOFFEL2(v) }
func (ARM64CPU) ICCSREEL2() uint64         { return mrsICCSREEL2() }
func (ARM64CPU) SetICCSREEL2(v uint64)     { msrICCSREEL2(v) }
func (ARM64CPU) SetICCIGRPEN1EL1(v uint64) { msrICCIGRPEN1EL1(v) }
func (ARM64CPU) SetICCPMREL1(v uint64)     { msrICCPMREL1(v) }
func (ARM64CPU) SetICCBPR1EL1(v uint64)    { msrICCBPR1EL1(v) }
func (ARM64CPU) SetICCEOIR1EL1(v uint64)   { msrICCEOIR1EL1(v) }
func (ARM64CPU) ICCIAR1EL1() uint64        { return mrsICCIAR1EL1() }
func (ARM64CPU) SetICCSGI1REL1(v uint64)   { msrICCSGI1REL1(v) }
func (ARM64CPU) ICHVTR() uint64            { return mrsICHVTR() }
func (ARM64CPU) ICHEISR() uint64           { return mrsICHEISR() }
func (ARM64CPU) SetICHHCREL2(v uint64)     { msrICHHCREL2(v) }

func (ARM64CPU) ICHLR(slot int) uint64 {
	switch slot {
	case 0:
		return mrsICHLR0()
	case 1:
		return mrsICHLR1()
	case 2:
		return mrsICHLR2()
	default:
		panic("hypervisor: list register slot out of range")
	}
}

func (ARM64CPU) SetICHLR(slot int, v uint64) {
	switch slot {
	case 0:
		msrICHLR0(v)
	case 1:
		msrICHLR1(v)
	case 2:
		msrICHLR2(v)
	default:
		panic("hypervisor: list register slot out of range")
	}
}

func (ARM64CPU) SMC(function, a1, a2, a3 uint64) uint64 { return smcCall(function, a1, a2, a3) }
func (ARM64CPU) Eret(x0, x1, x2, x3 uint64)             { eretWith(x0, x1, x2, x3) }
