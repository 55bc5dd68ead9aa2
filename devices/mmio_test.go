package devices_test

import (
	"testing"

	"github.com/PG-MANA/MiniVisor/devices"
)

type fakeHandler struct {
	reads  []uint64
	writes []uint64
}

func (f *fakeHandler) MMIORead(offset uint64, width int) (uint64, error) {
	f.reads = append(f.reads, offset)
	return offset, nil
}

func (f *fakeHandler) MMIOWrite(offset uint64, width int, value uint64) error {
	f.writes = append(f.writes, offset)
	return nil
}

// Testable Property 3: MMIO dispatch disjointness.
func TestRegistryRejectsOverlap(t *testing.T) {
	r := devices.NewRegistry()
	if err := r.Register(0x1000, 0x100, &fakeHandler{}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Register(0x1080, 0x100, &fakeHandler{}); err == nil {
		t.Fatal("expected overlap rejection")
	}
	if err := r.Register(0x2000, 0x100, &fakeHandler{}); err != nil {
		t.Fatalf("Register non-overlapping: %v", err)
	}
}

func TestRegistryDispatchesToOwningHandler(t *testing.T) {
	r := devices.NewRegistry()
	a := &fakeHandler{}
	b := &fakeHandler{}
	if err := r.Register(0x1000, 0x100, a); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(0x2000, 0x100, b); err != nil {
		t.Fatal(err)
	}

	if _, err := r.HandleRead(0x1040, 4); err != nil {
		t.Fatal(err)
	}
	if err := r.HandleWrite(0x2008, 4, 1); err != nil {
		t.Fatal(err)
	}
	if len(a.reads) != 1 || a.reads[0] != 0x40 {
		t.Errorf("a.reads = %v, want [0x40]", a.reads)
	}
	if len(b.writes) != 1 || b.writes[0] != 0x08 {
		t.Errorf("b.writes = %v, want [0x08]", b.writes)
	}

	if _, err := r.HandleRead(0xDEAD, 4); err == nil {
		t.Fatal("expected error for unclaimed address")
	}
}
