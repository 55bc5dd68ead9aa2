// Package vm assembles the stage-2 translator, vGIC/GIC register
// banks, PL011 UART and virtio-blk device models built in sibling
// packages into a runnable virtual machine, matching vm.rs's
// create_vm/boot_vm and the VM struct of spec.md §3.
package vm

import (
	"fmt"

	"github.com/PG-MANA/MiniVisor/devices"
	"github.com/PG-MANA/MiniVisor/hypervisor"
	"github.com/PG-MANA/MiniVisor/memory"
	"github.com/PG-MANA/MiniVisor/stage2"
)

// Guest-visible memory map, reused verbatim from spec.md §6.
const (
	GICDistributorBase    = 0x08000000
	GICDistributorSize    = 0x10000
	GICRedistributorBase  = 0x080A0000
	GICRedistributorSize  = 0x20000
	UARTBase              = 0x09000000
	UARTSize              = 0x1000
	GuestRAMBase          = 0x40000000
	DefaultGuestRAMSize   = 0x10000000 // 256 MiB

	// VirtioBlkBase is ordinarily "recorded in the guest's device
	// tree" per spec.md §6, derived from the FAT32 directory entry for
	// the block image. Since the FAT32 driver is an out-of-scope
	// external collaborator (spec.md §1) this design fixes the
	// address instead of deriving it; see DESIGN.md.
	VirtioBlkBase = 0x0A000000
	VirtioBlkSize = 0x200
)

// VM is one running guest: its RAM, stage-2 mapping, MMIO device set
// and per-vCPU interrupt/timer state.
type VM struct {
	ID int

	Memory *memory.GuestMemory
	Stage2 *stage2.Translator
	MMIO   *devices.Registry
	GIC    *devices.GIC
	UART   *devices.PL011
	Blk    *devices.VirtioBlk
	Timers []*devices.GenericTimer

	cpus []hypervisor.CPU

	EntryPoint uint64
	BootArg    uint64
}

// CreateVM allocates guest RAM, installs an identity-like stage-2
// mapping for it, constructs the MMIO device set at the fixed
// addresses above, loads the device tree and kernel image per the
// ARM64 Linux boot protocol, and returns a VM ready for BootVM.
//
// cpus/affinities give one hypervisor.CPU and MPIDR-derived affinity
// per vCPU (vCPU 0 is the boot vCPU); alloc backs the stage-2 table
// allocator; hostRAMBase is the host-physical backing for guest RAM.
func CreateVM(id int, cpus []hypervisor.CPU, affinities []uint64, alloc hypervisor.Allocator, hostRAMBase uint64, guestRAMSize uint64, kernelImage, dtbImage []byte, backend devices.BlockBackend) (*VM, error) {
	if len(cpus) == 0 || len(cpus) != len(affinities) {
		return nil, fmt.Errorf("vm: need at least one cpu, matched 1:1 with affinities")
	}

	mem := memory.New(GuestRAMBase, int(guestRAMSize))

	tr, err := stage2.New(cpus[0], alloc)
	if err != nil {
		return nil, fmt.Errorf("vm: install stage-2 table: %w", err)
	}
	if err := tr.Map(hostRAMBase, GuestRAMBase, guestRAMSize, true, true); err != nil {
		return nil, fmt.Errorf("vm: map guest ram: %w", err)
	}

	header, err := ParseKernelHeader(kernelImage)
	if err != nil {
		return nil, err
	}
	loadOffset := GuestRAMBase + alignUp2MiB(header.ImageSize)
	entryPoint := loadOffset + header.TextOffset

	if err := mem.WriteAt(GuestRAMBase, dtbImage); err != nil {
		return nil, fmt.Errorf("vm: load device tree: %w", err)
	}
	if err := mem.WriteAt(entryPoint, kernelImage); err != nil {
		return nil, fmt.Errorf("vm: load kernel image: %w", err)
	}

	registry := devices.NewRegistry()
	gic := devices.NewGIC(cpus, affinities)
	if err := registry.Register(GICDistributorBase, GICDistributorSize, gic.Distributor); err != nil {
		return nil, err
	}
	for i, r := range gic.Redistributors {
		base := uint64(GICRedistributorBase) + uint64(i)*GICRedistributorSize
		if err := registry.Register(base, GICRedistributorSize, r); err != nil {
			return nil, err
		}
	}

	uart := devices.NewPL011(func() { gic.Trigger(0, devices.UARTSPIID) })
	if err := registry.Register(UARTBase, UARTSize, uart); err != nil {
		return nil, err
	}

	blk := devices.NewVirtioBlk(mem, backend, func() { gic.Trigger(0, devices.BlockSPIID) })
	if err := registry.Register(VirtioBlkBase, VirtioBlkSize, blk); err != nil {
		return nil, err
	}

	timers := make([]*devices.GenericTimer, len(cpus))
	for i, cpu := range cpus {
		timers[i] = devices.NewGenericTimer(cpu, gic, i)
	}

	return &VM{
		ID:         id,
		Memory:     mem,
		Stage2:     tr,
		MMIO:       registry,
		GIC:        gic,
		UART:       uart,
		Blk:        blk,
		Timers:     timers,
		cpus:       cpus,
		EntryPoint: entryPoint,
		BootArg:    GuestRAMBase,
	}, nil
}

// BootVM implements vm.rs's boot_vm: programs the boot vCPU's SPSR_EL2
// to EL1h, ELR_EL2 to the guest entry point, x0 to arg (the DTB's
// guest-physical address) and x1-x3 to zero, then ERETs. It does not
// return.
func (v *VM) BootVM(entry, arg uint64) {
	cpu := v.cpus[0]
	cpu.SetSPSREL2(hypervisor.SPSREL2ELlh)
	cpu.SetELREL2(entry)
	cpu.Eret(arg, 0, 0, 0)
}

// HandleMMIOAbort services a trapped MMIO access at guestPhysAddr,
// dispatching through the VM's registry, and completes the trap per
// spec.md §4.2: reads are zero-extended (masked to 32 bits when SF is
// clear) back into the saved register slot, writes are masked to 32
// bits when SF is clear before reaching the handler, and ELR_EL2 is
// advanced by 4 after every access the handler completes so the guest
// does not re-execute the faulting instruction. When no device claims
// the address or the handler fails, the error is returned and ELR_EL2
// is left unchanged. Called by the trap dispatcher once it has
// decoded a data abort (hypervisor.DecodeDataAbort).
func (v *VM) HandleMMIOAbort(cpu hypervisor.CPU, guestPhysAddr uint64, info hypervisor.DataAbortInfo, gpr *hypervisor.GPRSaveArea) error {
	width := info.AccessWidthBits / 8

	if info.IsWrite {
		value := gpr.Reg(info.RegisterIndex)
		if !info.Is64BitReg {
			value &= 0xFFFFFFFF
		}
		if err := v.MMIO.HandleWrite(guestPhysAddr, width, value); err != nil {
			return err
		}
		cpu.AdvanceELREL2()
		return nil
	}

	value, err := v.MMIO.HandleRead(guestPhysAddr, width)
	if err != nil {
		return err
	}
	if !info.Is64BitReg {
		value &= 0xFFFFFFFF
	}
	gpr.SetReg(info.RegisterIndex, value)
	cpu.AdvanceELREL2()
	return nil
}
