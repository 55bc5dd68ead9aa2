package hypervisor

// CPU is the typed wrapper over the ARMv8 system registers and
// barrier/TLB operations this hypervisor needs. It plays the same role
// here that the teacher's hypervisor.DoKVM* ioctl wrappers play for a
// hosted x86 hypervisor: every access to the raw mechanism (there, a
// syscall; here, an MRS/MSR/SMC instruction) goes through one named,
// typed function rather than inline assembly scattered through the
// higher-level packages.
//
// Two implementations exist: ARM64CPU (cpu_arm64.go, build-tagged
// arm64), backed by real assembly, and SoftwareCPU (cpu_sim.go), a
// deterministic in-memory model used by every test in this module that
// does not require genuine EL2 privilege.
type CPU interface {
	CurrentEL() uint64

	IDAA64MMFR0EL1() uint64

	VTCREL2() uint64
	SetVTCREL2(uint64)
	VTTBREL2() uint64
	SetVTTBREL2(uint64)
	FlushTLBEL1()

	SetVBAREL2(uint64)
	ELREL2() uint64
	SetELREL2(uint64)
	AdvanceELREL2()
	SetSPSREL2(uint64)

	ESREL2() uint64
	FAREL2() uint64
	HPFAREL2() uint64

	MPIDREL1() uint64

	DAIF() uint64
	SetDAIF(uint64)

	SetHCREL2(uint64)
	SetVPIDREL2(uint64)
	SetVMPIDREL2(uint64)

	SetCNTVOFFEL2(uint64)

	ICCSREEL2() uint64
	SetICCSREEL2(uint64)
	SetICCIGRPEN1EL1(uint64)
	SetICCPMREL1(uint64)
	SetICCBPR1EL1(uint64)
	SetICCEOIR1EL1(uint64)
	ICCIAR1EL1() uint64
	SetICCSGI1REL1(uint64)

	// ICHLR reads/writes one of the three hardware virtual-interrupt
	// list-register slots assumed by this design (spec.md §3: "3 slots
	// suffice"), matching vgic.rs's fixed 3-element GET/SET_ICH_LRN_EL2
	// function-pointer arrays.
	ICHLR(slot int) uint64
	SetICHLR(slot int, value uint64)
	ICHVTR() uint64
	ICHEISR() uint64
	SetICHHCREL2(uint64)

	SMC(function, arg1, arg2, arg3 uint64) uint64

	Eret(x0, x1, x2, x3 uint64)
}

// mpidrToAffinity clears the RES1/res bits (30, 31) the way
// asm.rs::mpidr_to_affinity does, leaving only the Aff0-3 fields.
func mpidrToAffinity(mpidr uint64) uint64 {
	return mpidr &^ ((1 << 31) | (1 << 30))
}

// PackedAffinity folds MPIDR_EL1's four affinity bytes into a 32-bit
// Aff3.Aff2.Aff1.Aff0 value (Aff3 moved down to bits [31:24]), the form
// used to compare against a GICR_TYPER or GICD_IROUTERn value,
// matching asm.rs::get_packed_affinity.
func PackedAffinity(mpidr uint64) uint32 {
	a := mpidrToAffinity(mpidr)
	return uint32((a & ((1 << 24) - 1)) | ((a & (0xff << 32)) >> (32 - 24)))
}
