// Package console drives the VGA text-mode framebuffer as the display
// backend for the TTY layer. Each terminal owns one display page in video
// memory; the visible page and the hardware cursor are selected through the
// CRT controller registers.
package console

import (
	"unsafe"

	"minos/device/tty"
	"minos/kernel/cpu"
)

const (
	// The text-mode framebuffer. Each character cell is a byte pair:
	// ASCII code plus attribute.
	displayBase = uintptr(0xB8000)

	Rows = 25
	Cols = 80

	// cells per display page
	pageCells = Rows * Cols

	// NR display pages, one per terminal.
	NR = tty.NR

	// light gray on black
	defaultAttr = uint16(0x07 << 8)
)

// CRT controller registers used for the visible page and cursor control.
const (
	crtAddrPort = uint16(0x3D4)
	crtDataPort = uint16(0x3D5)

	crtCursorStart  = uint8(0x0A)
	crtStartAddrHi  = uint8(0x0C)
	crtStartAddrLo  = uint8(0x0D)
	crtCursorLocHi  = uint8(0x0E)
	crtCursorLocLo  = uint8(0x0F)
	cursorDisable   = uint8(1 << 5)
	cursorScanStart = uint8(0xE)
)

// Console tracks the drawing state of one display page.
type Console struct {
	idx            int
	cursorRow, col int
	attr           uint16
	cursorEnabled  bool
}

var (
	consoles [NR]Console

	// pageFn overlays the character cells of a display page; tests
	// replace it with host-backed storage.
	pageFn = func(idx int) []uint16 {
		base := displayBase + uintptr(idx)*uintptr(pageCells)*2
		return unsafe.Slice((*uint16)(unsafe.Pointer(base)), pageCells)
	}

	portWriteByteFn = cpu.PortWriteByte
)

// Register attaches the console driver to the TTY layer.
func Register() {
	tty.SetConsoleBackend(Init, Write, SetCursor, Select)
}

// writeCRT programs one CRT controller register.
func writeCRT(reg, val uint8) {
	portWriteByteFn(crtAddrPort, reg)
	portWriteByteFn(crtDataPort, val)
}

// Init clears the display page of terminal idx and homes its cursor.
func Init(idx int) {
	if idx < 0 || idx >= NR {
		return
	}

	c := &consoles[idx]
	c.idx = idx
	c.attr = defaultAttr
	c.cursorRow = 0
	c.col = 0
	c.cursorEnabled = true

	page := pageFn(idx)
	for i := range page {
		page[i] = c.attr | ' '
	}

	if idx == 0 {
		Select(0)
	}
}

// scroll moves every line up by one and blanks the bottom line.
func (c *Console) scroll() {
	page := pageFn(c.idx)
	copy(page, page[Cols:])
	for i := pageCells - Cols; i < pageCells; i++ {
		page[i] = c.attr | ' '
	}
}

// putChar draws one printable character at the cursor and advances it.
func (c *Console) putChar(ch byte) {
	page := pageFn(c.idx)
	page[c.cursorRow*Cols+c.col] = c.attr | uint16(ch)

	if c.col++; c.col >= Cols {
		c.col = 0
		c.cursorRow++
	}
	if c.cursorRow >= Rows {
		c.cursorRow = Rows - 1
		c.scroll()
	}
}

// put interprets one output byte: CR homes the column, LF advances the row,
// backspace steps back, everything else is drawn.
func (c *Console) put(ch byte) {
	switch ch {
	case '\r':
		c.col = 0
	case '\n':
		if c.cursorRow++; c.cursorRow >= Rows {
			c.cursorRow = Rows - 1
			c.scroll()
		}
	case '\b':
		if c.col > 0 {
			c.col--
		} else if c.cursorRow > 0 {
			c.cursorRow--
			c.col = Cols - 1
		}
	default:
		c.putChar(ch)
	}
}

// Write drains the terminal's output FIFO onto its display page, releasing
// one output-semaphore slot per byte consumed, and finally moves the
// hardware cursor if this page is focused.
func Write(t *tty.TTY) {
	c := &consoles[t.ConsoleIdx]

	var ch byte
	for t.OFifo.Get(&ch) >= 0 {
		c.put(ch)
		t.OSem.Notify()
	}

	if c.idx == focused && c.cursorEnabled {
		c.syncCursor()
	}
}

// focused tracks which display page the CRT is showing.
var focused int

// syncCursor moves the hardware cursor to this console's drawing position.
func (c *Console) syncCursor() {
	pos := c.idx*pageCells + c.cursorRow*Cols + c.col
	writeCRT(crtCursorLocHi, uint8(pos>>8))
	writeCRT(crtCursorLocLo, uint8(pos))
}

// SetCursor shows or hides the hardware cursor of terminal idx.
func SetCursor(idx int, enable bool) {
	if idx < 0 || idx >= NR {
		return
	}

	consoles[idx].cursorEnabled = enable
	if idx != focused {
		return
	}

	if enable {
		writeCRT(crtCursorStart, cursorScanStart)
	} else {
		writeCRT(crtCursorStart, cursorDisable)
	}
}

// Select makes the display page of terminal idx visible.
func Select(idx int) {
	if idx < 0 || idx >= NR {
		return
	}

	focused = idx
	start := idx * pageCells
	writeCRT(crtStartAddrHi, uint8(start>>8))
	writeCRT(crtStartAddrLo, uint8(start))
	consoles[idx].syncCursor()
}
