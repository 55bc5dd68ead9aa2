package devices

import "sync"

// PL011 register offsets this emulation implements, per spec.md §4.5.
// UARTSPIID is the shared peripheral interrupt the PL011 raises on RX,
// per spec.md §8 scenario S2.
const UARTSPIID = 33

const (
	pl011DR   = 0x00
	pl011FR   = 0x18
	pl011IBRD = 0x24
	pl011FBRD = 0x28
	pl011LCRH = 0x2C
	pl011CR   = 0x30
	pl011IMSC = 0x38
	pl011RIS  = 0x3C
	pl011MIS  = 0x40
	pl011ICR  = 0x44

	// PrimeCell/AMBA identification registers: fixed, read-only values
	// the guest driver's probe sequence checks against the PL011's
	// documented ID, per spec.md §4.5.
	pl011PeriphID0 = 0xFE0
	pl011PeriphID1 = 0xFE4
	pl011PeriphID2 = 0xFE8
	pl011PeriphID3 = 0xFEC
	pl011PCellID0  = 0xFF0
	pl011PCellID1  = 0xFF4
	pl011PCellID2  = 0xFF8
	pl011PCellID3  = 0xFFC
)

// PrimeCell/AMBA ID byte values the real PL011 reports.
const (
	pl011PeriphID0Value = 0x11
	pl011PeriphID1Value = 0x10
	pl011PeriphID2Value = 0x34
	pl011PeriphID3Value = 0x00
	pl011PCellID0Value  = 0x0D
	pl011PCellID1Value  = 0xF0
	pl011PCellID2Value  = 0x05
	pl011PCellID3Value  = 0xB1
)

const (
	frRXFE = 1 << 4 // receive FIFO empty
	frTXFF = 1 << 5 // transmit FIFO full (never asserted: TX has no emulated backpressure)

	imscRXIM = 1 << 4
	imscTXIM = 1 << 5

	rxFIFODepth = 4 // spec.md §4.5: "a tiny (4-byte) receive buffer"
)

// PL011 emulates the UART mmio/pl011.rs models for guest console I/O,
// plus the push()-driven RX-interrupt synthesis SPEC_FULL.md §4.5 notes
// mmio/pl011.rs never implements.
type PL011 struct {
	mu sync.Mutex

	rx      []byte // receive FIFO, front is index 0
	cr      uint32
	imsc    uint32
	irqLine func() // called by Push when a byte enters an empty FIFO while RXIM is set

	// TXOut receives every byte the guest writes to DR — the host
	// console forwards these to its own stdout.
	TXOut func(b byte)
}

func NewPL011(irqLine func()) *PL011 {
	return &PL011{irqLine: irqLine}
}

// Push enqueues a byte of host-side input (e.g. a host console
// keystroke) into the receive FIFO and raises the RX interrupt if
// enabled, implementing the "push(byte)" entry point SPEC_FULL.md's
// PL011 supplement calls for.
func (u *PL011) Push(b byte) {
	u.mu.Lock()
	wasEmpty := len(u.rx) == 0
	if len(u.rx) < rxFIFODepth {
		u.rx = append(u.rx, b)
	}
	raise := wasEmpty && len(u.rx) > 0 && u.imsc&imscRXIM != 0
	u.mu.Unlock()
	if raise && u.irqLine != nil {
		u.irqLine()
	}
}

func (u *PL011) MMIORead(offset uint64, width int) (uint64, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	switch offset {
	case pl011DR:
		if len(u.rx) == 0 {
			return 0, nil
		}
		b := u.rx[0]
		u.rx = u.rx[1:]
		return uint64(b), nil
	case pl011FR:
		var fr uint32
		if len(u.rx) == 0 {
			fr |= frRXFE
		}
		return uint64(fr), nil
	case pl011IMSC:
		return uint64(u.imsc), nil
	case pl011RIS:
		return uint64(u.risLocked()), nil
	case pl011MIS:
		return uint64(u.risLocked() & u.imsc), nil
	case pl011CR:
		return uint64(u.cr), nil
	case pl011PeriphID0:
		return pl011PeriphID0Value, nil
	case pl011PeriphID1:
		return pl011PeriphID1Value, nil
	case pl011PeriphID2:
		return pl011PeriphID2Value, nil
	case pl011PeriphID3:
		return pl011PeriphID3Value, nil
	case pl011PCellID0:
		return pl011PCellID0Value, nil
	case pl011PCellID1:
		return pl011PCellID1Value, nil
	case pl011PCellID2:
		return pl011PCellID2Value, nil
	case pl011PCellID3:
		return pl011PCellID3Value, nil
	}
	return 0, nil
}

// risLocked computes the raw interrupt status; caller holds u.mu.
func (u *PL011) risLocked() uint32 {
	var ris uint32
	if len(u.rx) > 0 {
		ris |= imscRXIM
	}
	return ris
}

func (u *PL011) MMIOWrite(offset uint64, width int, value uint64) error {
	u.mu.Lock()
	var out byte
	var emit bool
	switch offset {
	case pl011DR:
		out = byte(value)
		emit = true
	case pl011IMSC:
		u.imsc = uint32(value)
	case pl011CR:
		u.cr = uint32(value)
	case pl011ICR:
		// write-1-to-clear: RIS is derived from FIFO state, not
		// latched, so there is nothing to clear beyond what draining
		// the FIFO via DR already does.
	}
	u.mu.Unlock()

	if emit && u.TXOut != nil {
		u.TXOut(out)
	}
	return nil
}
