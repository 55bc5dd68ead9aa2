package stage2_test

import (
	"testing"

	"github.com/PG-MANA/MiniVisor/hypervisor"
	"github.com/PG-MANA/MiniVisor/stage2"
)

const guestRAMBase = 0x40000000

func newTranslator(t *testing.T, parange uint64) (*stage2.Translator, *hypervisor.BumpAllocator) {
	t.Helper()
	cpu := hypervisor.NewSoftwareCPU()
	cpu.MMFR0 = parange
	alloc := hypervisor.NewBumpAllocator(0x1000_0000, 0x1000_0000)
	tr, err := stage2.New(cpu, alloc)
	if err != nil {
		t.Fatalf("stage2.New: %v", err)
	}
	return tr, alloc
}

// Testable Property 1 (stage-2 round trip) and Property 2 (alignment).
func TestMapRoundTripPageGranularity(t *testing.T) {
	tr, _ := newTranslator(t, 0b101)

	const size = 16 * hypervisor.PageSize
	hostBase := uint64(0x5000_0000)
	if err := tr.Map(hostBase, guestRAMBase, size, true, true); err != nil {
		t.Fatalf("Map: %v", err)
	}

	for off := uint64(0); off < size; off += hypervisor.PageSize {
		host, perm, ok := tr.Translate(guestRAMBase + off)
		if !ok {
			t.Fatalf("Translate(%#x): not mapped", guestRAMBase+off)
		}
		if host != hostBase+off {
			t.Errorf("Translate(%#x) = %#x, want %#x", guestRAMBase+off, host, hostBase+off)
		}
		if host&hypervisor.PageMask != 0 {
			t.Errorf("output address %#x is not page-aligned", host)
		}
		if perm != stage2.PermissionReadWrite {
			t.Errorf("permission = %v, want read/write", perm)
		}
	}
}

func TestMapUsesBlockLeavesWhenAligned(t *testing.T) {
	tr, _ := newTranslator(t, 0b101)

	const twoMiB = 1 << 21
	if err := tr.Map(0x6000_0000, 0x4000_0000, twoMiB, true, true); err != nil {
		t.Fatalf("Map: %v", err)
	}

	host, _, ok := tr.Translate(0x4000_0000 + 0x1234)
	if !ok {
		t.Fatal("Translate: not mapped")
	}
	if host != 0x6000_0000+0x1234 {
		t.Errorf("got %#x, want %#x (block leaf should preserve sub-block offset)", host, 0x6000_0000+0x1234)
	}
}

func TestMapRejectsUnaligned(t *testing.T) {
	tr, _ := newTranslator(t, 0b101)
	if err := tr.Map(0x6000_0001, guestRAMBase, hypervisor.PageSize, true, true); err == nil {
		t.Fatal("expected error for unaligned host address")
	}
}

func TestTranslateUnmappedFails(t *testing.T) {
	tr, _ := newTranslator(t, 0b101)
	if _, _, ok := tr.Translate(0xDEAD0000); ok {
		t.Fatal("expected unmapped address to fail translation")
	}
}

// Testable Property 1: a PARANGE whose root table is concatenated
// (rootCount > 1) must still index the correct root-level slot for
// every guest address, not just the low 9 bits of one constituent
// table.
func TestEntryIndexAccountsForRootConcatenation(t *testing.T) {
	tr, _ := newTranslator(t, 0b011) // t0sz=22, initialLevel=1 -> rootCount=8

	const oneGiB = 1 << 30
	guestA := uint64(1) * oneGiB
	// Root index 513 under an 8-table concatenation; a 9-bit-only mask
	// would fold this back onto index 1, aliasing with guestA.
	guestB := guestA + 512*oneGiB

	if err := tr.Map(0x7000_0000, guestA, hypervisor.PageSize, true, true); err != nil {
		t.Fatalf("Map guestA: %v", err)
	}
	if err := tr.Map(0x7100_0000, guestB, hypervisor.PageSize, true, true); err != nil {
		t.Fatalf("Map guestB: %v (root-table concatenation not accounted for)", err)
	}

	if host, _, ok := tr.Translate(guestA); !ok || host != 0x7000_0000 {
		t.Errorf("Translate(guestA) = %#x, %v; want %#x, true", host, ok, uint64(0x7000_0000))
	}
	if host, _, ok := tr.Translate(guestB); !ok || host != 0x7100_0000 {
		t.Errorf("Translate(guestB) = %#x, %v; want %#x, true", host, ok, uint64(0x7100_0000))
	}
}

// Testable Property 1: every leaf installed for guest RAM must carry the
// write-back, inner-shareable normal memory attribute, not the stage-2
// device/non-cacheable class.
func TestLeafDescriptorsUseWriteBackMemAttr(t *testing.T) {
	block := stage2.NewBlockDescriptor(0x4000_0000, stage2.PermissionReadWrite)
	if got := block.MemAttr(); got != stage2.AttrWriteBack {
		t.Errorf("block descriptor MemAttr = %#x, want %#x", got, stage2.AttrWriteBack)
	}

	page := stage2.NewPageDescriptor(0x4000_0000, stage2.PermissionReadWrite)
	if got := page.MemAttr(); got != stage2.AttrWriteBack {
		t.Errorf("page descriptor MemAttr = %#x, want %#x", got, stage2.AttrWriteBack)
	}
}

func TestParangeSelectsInitialLevel(t *testing.T) {
	cases := []struct {
		parange uint64
		level   int
	}{
		{0b000, 1},
		{0b001, 1},
		{0b010, 1},
		{0b011, 1},
		{0b100, 0},
		{0b101, 0},
		{0b111, 0}, // unrecognized -> falls back to the 0b101 default
	}
	for _, c := range cases {
		tr, _ := newTranslator(t, c.parange)
		if tr.InitialLevel() != c.level {
			t.Errorf("parange %03b: InitialLevel() = %d, want %d", c.parange, tr.InitialLevel(), c.level)
		}
	}
}
