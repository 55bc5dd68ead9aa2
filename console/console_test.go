package console_test

import (
	"fmt"
	"testing"

	"github.com/PG-MANA/MiniVisor/console"
	"github.com/PG-MANA/MiniVisor/hypervisor"
	"github.com/PG-MANA/MiniVisor/vm"
)

type fakePower struct {
	offCalls int
}

func (f *fakePower) Version() (uint16, uint16, error)                  { return 1, 0, nil }
func (f *fakePower) CPUOn(affinity, entry, arg uint64) error           { return nil }
func (f *fakePower) SystemOff() error                                  { f.offCalls++; return nil }

var _ hypervisor.PowerCoordinator = (*fakePower)(nil)

func writeLine(c *console.Console, s string) {
	for _, b := range []byte(s) {
		c.Write(b)
	}
	c.Write('\r')
	c.Write('\n') // CRLF: the trailing LF must be swallowed, not re-execute the (now empty) line
}

func TestConsoleEchoPrintsArguments(t *testing.T) {
	var out string
	c := console.New(func(s string) { out += s }, vm.NewManager(), &fakePower{}, nil)
	writeLine(c, "echo hello world")
	if out != "hello world\n" {
		t.Errorf("out = %q, want %q", out, "hello world\n")
	}
}

func TestConsolePoweroffInvokesCoordinator(t *testing.T) {
	power := &fakePower{}
	c := console.New(func(string) {}, vm.NewManager(), power, nil)
	writeLine(c, "poweroff")
	if power.offCalls != 1 {
		t.Errorf("offCalls = %d, want 1", power.offCalls)
	}
}

type nullBackend struct{}

func (nullBackend) ReadAt(p []byte, off int64) (int, error)  { return len(p), nil }
func (nullBackend) WriteAt(p []byte, off int64) (int, error) { return len(p), nil }
func (nullBackend) Size() int64                              { return 4096 }

func makeVM(t *testing.T) *vm.VM {
	t.Helper()
	cpu := hypervisor.NewSoftwareCPU()
	alloc := hypervisor.NewBumpAllocator(0x2000_0000, 0x1000_0000)
	img := make([]byte, 4096)
	img[56], img[57], img[58], img[59] = 0x41, 0x52, 0x4D, 0x64
	v, err := vm.CreateVM(0, []hypervisor.CPU{cpu}, []uint64{0}, alloc, 0x9000_0000, 0x200000, img, []byte("d"), nullBackend{})
	if err != nil {
		t.Fatal(err)
	}
	return v
}

func TestConsoleSwitchChangesActiveVM(t *testing.T) {
	manager := vm.NewManager()
	a := makeVM(t)
	b := makeVM(t)
	idA := manager.Register(a)
	idB := manager.Register(b)

	c := console.New(func(string) {}, manager, &fakePower{}, nil)
	writeLine(c, fmt.Sprintf("switch %d", idB))

	active, ok := manager.ActiveVM(0)
	if !ok || active.ID != idB {
		t.Fatalf("expected VM %d active, got %+v (idA=%d)", idB, active, idA)
	}
}

func TestConsoleBootLaunchesAndSwitches(t *testing.T) {
	manager := vm.NewManager()
	launched := makeVM(t)
	c := console.New(func(string) {}, manager, &fakePower{}, func() (*vm.VM, error) { return launched, nil })

	writeLine(c, "boot")

	active, ok := manager.ActiveVM(0)
	if !ok || active != launched {
		t.Fatal("expected the launched VM to become active")
	}
}
