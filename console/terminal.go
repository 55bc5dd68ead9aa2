package console

import (
	"fmt"
	"io"
	"os"

	"golang.org/x/term"
)

// RawTerminal puts the host's stdin into raw mode for the duration of
// its use, so the console's line editor (not the host tty driver) owns
// CR/LF handling and per-keystroke echo, matching a real operator
// console's one-keystroke-at-a-time read loop.
type RawTerminal struct {
	fd    int
	state *term.State
}

// OpenRawTerminal switches fd (ordinarily int(os.Stdin.Fd())) into raw
// mode. Callers must call Restore before exiting.
func OpenRawTerminal(fd int) (*RawTerminal, error) {
	state, err := term.MakeRaw(fd)
	if err != nil {
		return nil, fmt.Errorf("console: enter raw mode: %w", err)
	}
	return &RawTerminal{fd: fd, state: state}, nil
}

// Restore returns the terminal to its original (cooked) mode.
func (r *RawTerminal) Restore() error {
	return term.Restore(r.fd, r.state)
}

// OpenStdinRaw is the common case: put the host process's own stdin
// into raw mode.
func OpenStdinRaw() (*RawTerminal, error) {
	return OpenRawTerminal(int(os.Stdin.Fd()))
}

// Pump reads bytes from in (ordinarily os.Stdin) one at a time and
// feeds each to c.Write, until in returns an error (including io.EOF).
func Pump(in io.Reader, c *Console) error {
	var b [1]byte
	for {
		n, err := in.Read(b[:])
		if n > 0 {
			c.Write(b[0])
		}
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
	}
}
