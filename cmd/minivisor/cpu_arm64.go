//go:build arm64

package main

import "github.com/PG-MANA/MiniVisor/hypervisor"

func newBootCPUs(count int) []hypervisor.CPU {
	cpus := make([]hypervisor.CPU, count)
	for i := range cpus {
		cpus[i] = &hypervisor.ARM64CPU{}
	}
	return cpus
}
