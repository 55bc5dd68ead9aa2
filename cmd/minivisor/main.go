// Command minivisor boots one guest per a YAML launch configuration and
// drives the host operator console against it, wiring together the
// hypervisor/stage2/memory/devices/vm/console packages.
package main

import (
	"flag"
	"log"
	"os"

	"github.com/PG-MANA/MiniVisor/console"
	"github.com/PG-MANA/MiniVisor/hypervisor"
	"github.com/PG-MANA/MiniVisor/vm"
)

func main() {
	configPath := flag.String("config", "minivisor.yaml", "path to the VM launch configuration")
	debug := flag.Bool("debug", false, "enable verbose device/trap logging")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("minivisor: %v", err)
	}
	if *debug {
		cfg.Debug = true
	}

	if err := run(cfg); err != nil {
		log.Fatalf("minivisor: %v", err)
	}
}

func run(cfg Config) error {
	kernelImage, err := os.ReadFile(cfg.KernelImage)
	if err != nil {
		return err
	}
	dtbImage, err := os.ReadFile(cfg.DeviceTree)
	if err != nil {
		return err
	}
	backend, err := openBlockFile(cfg.BlockImage)
	if err != nil {
		return err
	}
	defer backend.Close()

	if cfg.VCPUCount < 1 {
		cfg.VCPUCount = 1
	}
	cpus := newBootCPUs(cfg.VCPUCount)
	affinities := make([]uint64, cfg.VCPUCount)
	for i, cpu := range cpus {
		affinities[i] = uint64(hypervisor.PackedAffinity(cpu.MPIDREL1()))
	}

	alloc := hypervisor.NewBumpAllocator(allocatorBase, allocatorSize)

	guest, err := vm.CreateVM(0, cpus, affinities, alloc, guestRAMHostBase, cfg.GuestRAMSize, kernelImage, dtbImage, backend)
	if err != nil {
		return err
	}
	if cfg.Debug {
		log.Printf("minivisor: VM created: entry=%#x boot_arg=%#x", guest.EntryPoint, guest.BootArg)
	}

	guest.UART.TXOut = func(b byte) { os.Stdout.Write([]byte{b}) }

	manager := vm.NewManager()
	manager.Register(guest)

	power := &noopPowerCoordinator{}
	cons := console.New(func(s string) { os.Stdout.WriteString(s) }, manager, power, nil)

	term, err := console.OpenStdinRaw()
	if err != nil {
		log.Printf("minivisor: stdin is not a terminal, console input disabled: %v", err)
	} else {
		defer term.Restore()
	}

	guest.BootVM(guest.EntryPoint, guest.BootArg)

	if term != nil {
		return console.Pump(os.Stdin, cons)
	}
	select {}
}

// allocatorBase/allocatorSize bound the host memory this process's
// stage-2 table allocator hands out, distinct from guest RAM itself.
const (
	allocatorBase     = 0x1_0000_0000
	allocatorSize     = 0x0200_0000
	guestRAMHostBase  = 0x2_0000_0000
)

// noopPowerCoordinator stands in for the PSCI shim (spec.md §1: an
// out-of-scope external collaborator) so the console's `poweroff`
// command has something to call; a real build wires this to the
// platform's actual secure-monitor firmware.
type noopPowerCoordinator struct{}

func (noopPowerCoordinator) Version() (uint16, uint16, error) { return 1, 1, nil }
func (noopPowerCoordinator) CPUOn(affinity, entry, arg uint64) error {
	return nil
}
func (noopPowerCoordinator) SystemOff() error {
	log.Println("minivisor: system off requested")
	os.Exit(0)
	return nil
}

var _ hypervisor.PowerCoordinator = noopPowerCoordinator{}
