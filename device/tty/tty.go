// Package tty implements the cooked-mode terminal line discipline on top of
// the device abstraction: per-TTY input and output FIFOs gated by counting
// semaphores, DEL erase, NL/CRLF translation and optional local echo. The
// console backend that drains the output FIFO to the screen and the keyboard
// handler that feeds the input FIFO attach through hooks.
package tty

import (
	"minos/device"
	"minos/kernel/ipc"
	"minos/kernel/kfmt"
)

// NR is the number of independent terminals.
const NR = 8

// FIFO capacities.
const (
	OBufSize = 512
	IBufSize = 512
)

// Input flags.
const (
	// INLCR expands a line-terminating NL into CR NL on the read side.
	INLCR = 1 << 0

	// IEcho echoes cooked input back to the terminal.
	IEcho = 1 << 2
)

// Output flags.
const (
	// OCRLF emits CR before every NL written.
	OCRLF = 1 << 0
)

// Control commands.
const (
	CmdEcho    = 0x1
	CmdInCount = 0x2
)

// asciiDEL is the erase character of the cooked mode line editor.
const asciiDEL = 0x7F

// TTY is one terminal instance.
type TTY struct {
	obuf [OBufSize]byte
	ibuf [IBufSize]byte

	// OFifo holds bytes on their way to the console; OSem counts the free
	// slots. IFifo holds raw input bytes; ISem counts the bytes available.
	OFifo, IFifo FIFO
	OSem, ISem   ipc.Sem

	IFlags, OFlags int

	// ConsoleIdx selects the display page the console backend renders
	// this terminal to.
	ConsoleIdx int
}

var (
	ttys    [NR]TTY
	currTTY int

	// Console backend hooks, installed by the console driver before the
	// first open. consoleWriteFn drains the TTY output FIFO to the screen
	// and must notify OSem once per byte consumed.
	consoleInitFn      = func(idx int) {}
	consoleWriteFn     = func(t *TTY) {}
	consoleSetCursorFn = func(idx int, enable bool) {}
	consoleSelectFn    = func(idx int) {}

	// kbdInitFn is installed by the keyboard driver.
	kbdInitFn = func() {}
)

// SetConsoleBackend attaches the console driver.
func SetConsoleBackend(init func(idx int), write func(t *TTY), setCursor func(idx int, enable bool), sel func(idx int)) {
	consoleInitFn = init
	consoleWriteFn = write
	consoleSetCursorFn = setCursor
	consoleSelectFn = sel
}

// SetKeyboardInit attaches the keyboard driver init hook.
func SetKeyboardInit(init func()) {
	kbdInitFn = init
}

// getTTY validates the minor number of an open tty device.
func getTTY(dev *device.Device) *TTY {
	idx := dev.Minor
	if idx < 0 || idx >= NR {
		kfmt.Printf("[tty] tty %d is not opened\n", idx)
		return nil
	}
	return &ttys[idx]
}

// Open initializes the terminal behind the minor number: both FIFOs, the
// paired semaphores and the default cooked-mode flags.
func Open(dev *device.Device) int {
	idx := dev.Minor
	if idx < 0 || idx >= NR {
		kfmt.Printf("[tty] open failed, bad tty num %d\n", idx)
		return -1
	}

	t := &ttys[idx]
	t.OFifo.Init(t.obuf[:])
	t.OSem.Init(OBufSize)
	t.IFifo.Init(t.ibuf[:])
	t.ISem.Init(0)

	t.ConsoleIdx = idx
	t.IFlags = INLCR | IEcho
	t.OFlags = OCRLF

	kbdInitFn()
	consoleInitFn(idx)
	return 0
}

// Write queues buf on the output FIFO in cooked mode, blocking on the output
// semaphore while the FIFO is full, and kicks the console backend to drain.
// It returns the number of source bytes consumed.
func Write(dev *device.Device, addr int, buf []byte) int {
	t := getTTY(dev)
	if t == nil {
		return -1
	}

	n := 0
	for _, c := range buf {
		if c == '\n' && t.OFlags&OCRLF != 0 {
			t.OSem.Wait()
			if t.OFifo.Put('\r') < 0 {
				break
			}
		}

		t.OSem.Wait()
		if t.OFifo.Put(c) < 0 {
			break
		}

		n++

		// output is drained synchronously by the console backend
		consoleWriteFn(t)
	}

	return n
}

// Read fills buf with one cooked input line: DEL erases, NL may expand to CR
// NL, input may be echoed, and CR or LF terminates the read. It blocks on
// the input semaphore until bytes arrive.
func Read(dev *device.Device, addr int, buf []byte) int {
	t := getTTY(dev)
	if t == nil {
		return -1
	}

	size := len(buf)
	n := 0
	for n < size {
		t.ISem.Wait()

		var ch byte
		if t.IFifo.Get(&ch) < 0 {
			break
		}

		switch ch {
		case asciiDEL:
			if n == 0 {
				continue
			}
			n--
		case '\r':
			// a carriage return terminates the line as a plain NL
			buf[n] = '\n'
			n++
			ch = '\n'
		case '\n':
			if t.IFlags&INLCR != 0 && n < size-1 {
				buf[n] = '\r'
				n++
			}
			buf[n] = '\n'
			n++
		default:
			buf[n] = ch
			n++
		}

		if t.IFlags&IEcho != 0 {
			echo := [1]byte{ch}
			Write(dev, 0, echo[:])
		}

		if ch == '\r' || ch == '\n' {
			break
		}
	}

	return n
}

// Control adjusts terminal behaviour: CmdEcho toggles local echo (and the
// visible cursor with it), CmdInCount reports the buffered input bytes.
func Control(dev *device.Device, cmd, arg0, arg1 int) int {
	t := getTTY(dev)
	if t == nil {
		return -1
	}

	switch cmd {
	case CmdEcho:
		if arg0 != 0 {
			t.IFlags |= IEcho
			consoleSetCursorFn(t.ConsoleIdx, true)
		} else {
			t.IFlags &^= IEcho
			consoleSetCursorFn(t.ConsoleIdx, false)
		}
	case CmdInCount:
		return t.ISem.Count()
	}

	return 0
}

// Close releases the terminal. All state is per-open and reinitialized by
// the next Open, so there is nothing to tear down.
func Close(dev *device.Device) {
}

// In appends one byte from the keyboard to the focused terminal and signals
// its readers. Bytes beyond the FIFO capacity are dropped.
func In(ch byte) {
	t := &ttys[currTTY]

	if t.ISem.Count() >= IBufSize {
		return
	}

	t.IFifo.Put(ch)
	t.ISem.Notify()
}

// Select switches keyboard focus (and the visible console) to terminal idx.
func Select(idx int) {
	if idx < 0 || idx >= NR || idx == currTTY {
		return
	}
	consoleSelectFn(idx)
	currTTY = idx
}

// Desc is the device table descriptor for the TTY driver.
var Desc = device.Desc{
	Name:    "tty",
	Major:   device.MajorTTY,
	Open:    Open,
	Read:    Read,
	Write:   Write,
	Control: Control,
	Close:   Close,
}
