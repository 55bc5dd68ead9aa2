// Package console implements the host operator console: a byte-at-a-time
// line editor feeding a small command table, recovered from
// console.rs per SPEC_FULL.md §4.10 (not part of spec.md's own
// distillation, which only names the command surface in passing).
package console

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/PG-MANA/MiniVisor/hypervisor"
	"github.com/PG-MANA/MiniVisor/vm"
)

// lineBufferSize matches console.rs's fixed 64-byte line buffer.
const lineBufferSize = 64

// Launcher builds a brand-new VM on demand, for the `boot` command;
// the console then registers, boots and switches to it. cmd/minivisor
// passes a nil Launcher, so there `boot` only reports that no launcher
// is configured and no additional VM is created.
type Launcher func() (*vm.VM, error)

// Console is the line editor plus command dispatcher. It is driven
// one byte at a time via Write, the same granularity console.rs's own
// entry point assumes (and the granularity golang.org/x/term's raw
// mode delivers host keystrokes at).
type Console struct {
	buf       []byte
	swallowLF bool
	out       func(string)
	manager   *vm.Manager
	power     hypervisor.PowerCoordinator
	launch    Launcher
	focusPCPU int
}

// New builds a console that prints responses via out, switches the
// active VM on manager's behalf, and powers the platform off through
// power.
func New(out func(string), manager *vm.Manager, power hypervisor.PowerCoordinator, launch Launcher) *Console {
	return &Console{out: out, manager: manager, power: power, launch: launch}
}

// Write feeds one byte of host keystroke input into the line editor.
// CR terminates and executes the buffered line; a LF immediately
// following a CR is swallowed (CRLF line endings collapse to one
// execution), while a bare LF also terminates a line on its own.
func (c *Console) Write(b byte) {
	switch b {
	case '\r':
		c.execute()
		c.swallowLF = true
		return
	case '\n':
		if c.swallowLF {
			c.swallowLF = false
			return
		}
		c.execute()
		return
	}
	c.swallowLF = false
	if len(c.buf) < lineBufferSize {
		c.buf = append(c.buf, b)
	}
}

func (c *Console) execute() {
	line := strings.TrimSpace(string(c.buf))
	c.buf = c.buf[:0]
	if line == "" {
		return
	}
	fields := strings.Fields(line)
	cmd, args := fields[0], fields[1:]

	var err error
	switch cmd {
	case "echo":
		c.println(strings.Join(args, " "))
	case "poweroff":
		err = c.power.SystemOff()
	case "boot":
		err = c.boot()
	case "switch":
		err = c.switchVM(args)
	default:
		err = fmt.Errorf("console: unknown command %q", cmd)
	}
	if err != nil {
		c.println(err.Error())
	}
}

func (c *Console) boot() error {
	if c.launch == nil {
		return fmt.Errorf("console: no launcher configured")
	}
	v, err := c.launch()
	if err != nil {
		return fmt.Errorf("console: boot: %w", err)
	}
	id := c.manager.Register(v)
	v.BootVM(v.EntryPoint, v.BootArg)
	return c.manager.SwitchActiveVM(c.focusPCPU, id)
}

func (c *Console) switchVM(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("console: usage: switch <vm_id>")
	}
	id, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("console: switch: %w", err)
	}
	return c.manager.SwitchActiveVM(c.focusPCPU, id)
}

func (c *Console) println(s string) {
	if c.out != nil {
		c.out(s + "\n")
	}
}
