package devices

import "sync"

// MaxLocalInterrupts is the SGI+PPI ID space a redistributor owns:
// IDs 0..15 are SGIs, 16..31 PPIs. ID 27 is the virtual timer PPI
// (spec.md §4.8), ID 25 the maintenance interrupt, ID 11 the injection
// SGI (SPEC_FULL.md §4.4).
const MaxLocalInterrupts = 32

const (
	gicrCTLR      = 0x0000
	gicrTYPER     = 0x0008
	gicrWAKER     = 0x0014
	gicrSGI_BASE  = 0x10000 // SGI/PPI frame is a second 64 KiB page
	sgiIGROUPR0   = gicrSGI_BASE + 0x0080
	sgiISENABLER0 = gicrSGI_BASE + 0x0100
	sgiICENABLER0 = gicrSGI_BASE + 0x0180
	sgiISPENDR0   = gicrSGI_BASE + 0x0200
	sgiICPENDR0   = gicrSGI_BASE + 0x0280
	sgiISACTIVER0 = gicrSGI_BASE + 0x0300
	sgiICACTIVER0 = gicrSGI_BASE + 0x0380
	sgiIPRIOR     = gicrSGI_BASE + 0x0400
	sgiICFGR      = gicrSGI_BASE + 0x0C00
)

type localIntState struct {
	group    bool
	enabled  bool
	pending  bool
	active   bool
	priority uint8
	edge     bool
}

// Redistributor emulates one vCPU's GICv3 redistributor frame: its
// SGI/PPI register bank, wake-state handshake and affinity-encoded
// TYPER, matching gicv3.rs's Redistributor and SPEC_FULL.md §4.4.
type Redistributor struct {
	mu sync.Mutex

	affinity uint64 // packed MPIDR affinity bits, reported in TYPER[63:32]
	last     bool   // GICR_TYPER.Last: set on the final redistributor in the list
	sleeping bool   // mirrors GICR_WAKER.ChildrenAsleep

	local [MaxLocalInterrupts]localIntState

	// pendingCrossCore buffers LRE values this vCPU's own goroutine
	// must install once it observes the injection SGI, since only the
	// owning vCPU may touch its own ICH_LRn_EL2 bank.
	pendingCrossCore []uint64

	// install delivers an LRE into this redistributor's own vCPU's list
	// registers. A local (SGI/PPI) interrupt only ever targets its own
	// vCPU, so unlike the distributor's cross-affinity route callback
	// this never queues or raises an injection SGI. Wired by NewGIC;
	// left nil in standalone tests that only exercise register state.
	install func(lre uint64)
}

func NewRedistributor(affinity uint64, last bool) *Redistributor {
	return &Redistributor{affinity: affinity, last: last}
}

func (r *Redistributor) clearPendingActive(intID uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if int(intID) < MaxLocalInterrupts {
		r.local[intID].pending = false
		r.local[intID].active = false
	}
}

// SetPending marks a local (SGI/PPI) interrupt pending and, if it is
// enabled, delivers it via install — matching the PPI/SGI half of
// gicv3.rs's trigger(). Also returns the LRE and whether the interrupt
// was enabled and therefore handed to install.
func (r *Redistributor) SetPending(intID uint32) (lre uint64, ok bool) {
	r.mu.Lock()
	if int(intID) >= MaxLocalInterrupts {
		r.mu.Unlock()
		return 0, false
	}
	r.local[intID].pending = true
	lre, ok = r.readyToInstallLocked(intID)
	r.mu.Unlock()
	if ok && r.install != nil {
		r.install(lre)
	}
	return lre, ok
}

// readyToInstallLocked builds the LRE for local interrupt id if its
// enable and pending latches are both set. Caller holds r.mu.
func (r *Redistributor) readyToInstallLocked(id uint32) (lre uint64, ok bool) {
	if !r.local[id].enabled || !r.local[id].pending {
		return 0, false
	}
	group := uint8(0)
	if r.local[id].group {
		group = 1
	}
	return NewListRegisterEntry(id, group, r.local[id].priority, nil), true
}

// enableLocal marks local interrupt id enabled through the ISENABLER
// register path and, if it is already pending, delivers it — the
// complementary case to SetPending's own pending-then-check-enabled
// logic, ported from gicv3.rs's write() handler.
func (r *Redistributor) enableLocal(id int) {
	r.mu.Lock()
	if id < 0 || id >= MaxLocalInterrupts {
		r.mu.Unlock()
		return
	}
	r.local[id].enabled = true
	lre, ok := r.readyToInstallLocked(uint32(id))
	r.mu.Unlock()
	if ok && r.install != nil {
		r.install(lre)
	}
}

// QueueCrossCore buffers an already-built LRE for this vCPU to install
// on its own next injection-SGI drain (DrainCrossCore). Used by the
// distributor's route callback when the target vCPU differs from the
// one raising the interrupt.
func (r *Redistributor) QueueCrossCore(lre uint64) {
	r.mu.Lock()
	r.pendingCrossCore = append(r.pendingCrossCore, lre)
	r.mu.Unlock()
}

// DrainCrossCore returns and clears every LRE queued by QueueCrossCore.
// Called by the target vCPU's own injection-SGI (ID 11) handler.
func (r *Redistributor) DrainCrossCore() []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.pendingCrossCore) == 0 {
		return nil
	}
	out := r.pendingCrossCore
	r.pendingCrossCore = nil
	return out
}

func (r *Redistributor) MMIORead(offset uint64, width int) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch {
	case offset == gicrCTLR:
		return 0, nil
	case offset == gicrTYPER:
		v := r.affinity << 32
		if r.last {
			v |= 1 << 4
		}
		return v, nil
	case offset == gicrWAKER:
		if r.sleeping {
			return (1 << 1) | (1 << 2), nil // ProcessorSleep | ChildrenAsleep
		}
		return 0, nil
	case offset >= sgiIGROUPR0 && offset < sgiISENABLER0:
		return bitBankRead(MaxLocalInterrupts, func(i int) bool { return r.local[i].group }, offset-sgiIGROUPR0), nil
	case offset >= sgiISENABLER0 && offset < sgiICENABLER0:
		return bitBankRead(MaxLocalInterrupts, func(i int) bool { return r.local[i].enabled }, offset-sgiISENABLER0), nil
	case offset >= sgiICENABLER0 && offset < sgiISPENDR0:
		return bitBankRead(MaxLocalInterrupts, func(i int) bool { return r.local[i].enabled }, offset-sgiICENABLER0), nil
	case offset >= sgiISPENDR0 && offset < sgiICPENDR0:
		return bitBankRead(MaxLocalInterrupts, func(i int) bool { return r.local[i].pending }, offset-sgiISPENDR0), nil
	case offset >= sgiICPENDR0 && offset < sgiISACTIVER0:
		return bitBankRead(MaxLocalInterrupts, func(i int) bool { return r.local[i].pending }, offset-sgiICPENDR0), nil
	case offset >= sgiISACTIVER0 && offset < sgiICACTIVER0:
		return bitBankRead(MaxLocalInterrupts, func(i int) bool { return r.local[i].active }, offset-sgiISACTIVER0), nil
	case offset >= sgiICACTIVER0 && offset < sgiIPRIOR:
		return bitBankRead(MaxLocalInterrupts, func(i int) bool { return r.local[i].active }, offset-sgiICACTIVER0), nil
	case offset >= sgiIPRIOR && offset < sgiICFGR:
		id := int(offset - sgiIPRIOR)
		if id < MaxLocalInterrupts {
			return uint64(r.local[id].priority), nil
		}
	}
	return 0, nil
}

// MMIOWrite implements MMIOHandler for the redistributor's SGI/PPI
// frame. ISENABLER and ISPENDR each run their own routing-aware path
// (enableLocal/SetPending), the same complementary-latch delivery
// rule the distributor's MMIOWrite applies to ISENABLER/ISPENDR.
func (r *Redistributor) MMIOWrite(offset uint64, width int, value uint64) error {
	switch {
	case offset == gicrWAKER:
		r.mu.Lock()
		r.sleeping = value&(1<<1) != 0
		r.mu.Unlock()
	case offset >= sgiIGROUPR0 && offset < sgiISENABLER0:
		r.mu.Lock()
		applyBank(MaxLocalInterrupts, func(i int, on bool) { r.local[i].group = on }, offset-sgiIGROUPR0, value)
		r.mu.Unlock()
	case offset >= sgiISENABLER0 && offset < sgiICENABLER0:
		forEachSetBit(MaxLocalInterrupts, offset-sgiISENABLER0, value, r.enableLocal)
	case offset >= sgiICENABLER0 && offset < sgiISPENDR0:
		r.mu.Lock()
		setBank(MaxLocalInterrupts, func(i int) { r.local[i].enabled = false }, offset-sgiICENABLER0, value)
		r.mu.Unlock()
	case offset >= sgiISPENDR0 && offset < sgiICPENDR0:
		forEachSetBit(MaxLocalInterrupts, offset-sgiISPENDR0, value, func(i int) { r.SetPending(uint32(i)) })
	case offset >= sgiICPENDR0 && offset < sgiISACTIVER0:
		r.mu.Lock()
		setBank(MaxLocalInterrupts, func(i int) { r.local[i].pending = false }, offset-sgiICPENDR0, value)
		r.mu.Unlock()
	case offset >= sgiISACTIVER0 && offset < sgiICACTIVER0:
		r.mu.Lock()
		setBank(MaxLocalInterrupts, func(i int) { r.local[i].active = true }, offset-sgiISACTIVER0, value)
		r.mu.Unlock()
	case offset >= sgiICACTIVER0 && offset < sgiIPRIOR:
		r.mu.Lock()
		setBank(MaxLocalInterrupts, func(i int) { r.local[i].active = false }, offset-sgiICACTIVER0, value)
		r.mu.Unlock()
	case offset >= sgiIPRIOR && offset < sgiICFGR:
		r.mu.Lock()
		id := int(offset - sgiIPRIOR)
		if id < MaxLocalInterrupts {
			r.local[id].priority = uint8(value)
		}
		r.mu.Unlock()
	}
	return nil
}
