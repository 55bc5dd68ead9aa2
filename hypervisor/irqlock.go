package hypervisor

import (
	"sync/atomic"
)

// DAIFMask is the bit pattern IRQLock saves and restores: IRQ and FIQ
// masked, matching lock.rs's get_daif_and_disable_irq_fiq (it leaves the
// debug and serror mask bits untouched).
const DAIFMask = 0b0011 << 6

// IRQLock is a ticketless spin lock that masks IRQ/FIQ on acquire and
// restores the saved DAIF value on release. spec.md §5 requires this
// discipline for any resource (the physical allocator, the host block
// device, the FAT32 driver, and every per-VM device model) that may be
// touched by both the trap dispatcher and a top-half interrupt handler.
//
// Ported from lock.rs's Mutex<T>: a spin-wait on a bool, a DAIF
// save/mask on the winning acquire, and a DAIF restore paired with the
// unlock. Guards must never be held across ERET (spec.md §5).
type IRQLock struct {
	cpu    CPU
	locked atomic.Bool
	daif   uint64
}

// NewIRQLock builds a lock that masks interrupts through cpu. Passing a
// *SoftwareCPU lets ordinary host tests exercise the lock without real
// EL2 privilege.
func NewIRQLock(cpu CPU) *IRQLock {
	return &IRQLock{cpu: cpu}
}

// Lock acquires the lock, masking IRQ/FIQ for the duration of the
// critical section.
func (l *IRQLock) Lock() {
	for {
		for l.locked.Load() {
			// ordinary spin; real EL2 code would use a WFE/SEV pair,
			// which is unnecessary on a single logical core under test.
		}
		daif := l.cpu.DAIF()
		l.cpu.SetDAIF(daif | DAIFMask)
		if l.locked.CompareAndSwap(false, true) {
			l.daif = daif
			return
		}
		l.cpu.SetDAIF(daif)
	}
}

// Unlock releases the lock and restores the DAIF value observed at the
// matching Lock call.
func (l *IRQLock) Unlock() {
	saved := l.daif
	l.locked.Store(false)
	l.cpu.SetDAIF(saved)
}
