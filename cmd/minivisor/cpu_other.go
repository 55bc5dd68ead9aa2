//go:build !arm64

package main

import (
	"log"

	"github.com/PG-MANA/MiniVisor/hypervisor"
)

// newBootCPUs falls back to the deterministic software model on any
// host that isn't arm64 — useful for exercising config loading, image
// parsing and device wiring in development, never for actually running
// a guest (no EL2 exists to trap into).
func newBootCPUs(count int) []hypervisor.CPU {
	log.Printf("minivisor: running on a non-arm64 host; using SoftwareCPU (no guest will actually execute)")
	cpus := make([]hypervisor.CPU, count)
	for i := range cpus {
		cpus[i] = hypervisor.NewSoftwareCPU()
	}
	return cpus
}
