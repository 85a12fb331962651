package tty

import (
	"bytes"
	"testing"

	"minos/device"
)

// fakeConsole drains the output FIFO into a byte slice the way the VGA
// backend would, releasing one output slot per byte.
type fakeConsole struct {
	out      []byte
	selected int
}

func installFakeConsole(t *testing.T) *fakeConsole {
	t.Helper()

	origInit, origWrite, origCursor, origSelect := consoleInitFn, consoleWriteFn, consoleSetCursorFn, consoleSelectFn
	origKbd := kbdInitFn

	f := &fakeConsole{selected: -1}
	consoleInitFn = func(idx int) {}
	consoleWriteFn = func(tt *TTY) {
		var ch byte
		for tt.OFifo.Get(&ch) >= 0 {
			f.out = append(f.out, ch)
			tt.OSem.Notify()
		}
	}
	consoleSetCursorFn = func(idx int, enable bool) {}
	consoleSelectFn = func(idx int) { f.selected = idx }
	kbdInitFn = func() {}

	t.Cleanup(func() {
		consoleInitFn, consoleWriteFn, consoleSetCursorFn, consoleSelectFn = origInit, origWrite, origCursor, origSelect
		kbdInitFn = origKbd
		currTTY = 0
	})

	return f
}

func openTestTTY(t *testing.T, minor int) *device.Device {
	t.Helper()
	dev := &device.Device{Desc: &Desc, Minor: minor, OpenCount: 1}
	if Open(dev) < 0 {
		t.Fatal("tty open failed")
	}
	return dev
}

func TestFIFORoundTrip(t *testing.T) {
	var f FIFO
	f.Init(make([]byte, 4))

	for _, c := range []byte("abcd") {
		if f.Put(c) < 0 {
			t.Fatalf("put %c failed", c)
		}
	}
	if f.Put('x') >= 0 {
		t.Fatal("expected put on a full FIFO to fail")
	}

	var got []byte
	var ch byte
	for f.Get(&ch) >= 0 {
		got = append(got, ch)
	}
	if !bytes.Equal(got, []byte("abcd")) {
		t.Fatalf("expected abcd; got %q", got)
	}
	if f.Get(&ch) >= 0 {
		t.Fatal("expected get on an empty FIFO to fail")
	}
}

func TestFIFOWrapAround(t *testing.T) {
	var f FIFO
	f.Init(make([]byte, 4))

	var ch byte
	for round := 0; round < 3; round++ {
		for _, c := range []byte("xy") {
			f.Put(c)
		}
		for i := 0; i < 2; i++ {
			if f.Get(&ch) < 0 {
				t.Fatalf("round %d: unexpected empty FIFO", round)
			}
		}
	}
	if f.Count() != 0 {
		t.Fatalf("expected empty FIFO; count %d", f.Count())
	}
}

func TestWriteCRLFTranslation(t *testing.T) {
	f := installFakeConsole(t)
	dev := openTestTTY(t, 0)

	if n := Write(dev, 0, []byte("hi\n")); n != 3 {
		t.Fatalf("expected 3 source bytes consumed; got %d", n)
	}
	if !bytes.Equal(f.out, []byte("hi\r\n")) {
		t.Fatalf("expected console output \"hi\\r\\n\"; got %q", f.out)
	}
}

func TestWriteNoTranslation(t *testing.T) {
	f := installFakeConsole(t)
	dev := openTestTTY(t, 0)
	ttys[0].OFlags = 0

	Write(dev, 0, []byte("a\nb"))
	if !bytes.Equal(f.out, []byte("a\nb")) {
		t.Fatalf("expected raw output; got %q", f.out)
	}
}

func TestReadCookedLine(t *testing.T) {
	f := installFakeConsole(t)
	dev := openTestTTY(t, 0)

	// type "hi\r": CR terminates the line as NL, echo expands to CRLF
	for _, c := range []byte("hi\r") {
		In(c)
	}

	buf := make([]byte, 16)
	n := Read(dev, 0, buf)
	if got := buf[:n]; !bytes.Equal(got, []byte("hi\n")) {
		t.Fatalf("expected cooked line \"hi\\n\"; got %q", got)
	}
	if !bytes.Equal(f.out, []byte("hi\r\n")) {
		t.Fatalf("expected echo \"hi\\r\\n\"; got %q", f.out)
	}
}

func TestReadNLExpansion(t *testing.T) {
	installFakeConsole(t)
	dev := openTestTTY(t, 0)
	ttys[0].IFlags = INLCR

	for _, c := range []byte("ok\n") {
		In(c)
	}

	buf := make([]byte, 16)
	n := Read(dev, 0, buf)
	if got := buf[:n]; !bytes.Equal(got, []byte("ok\r\n")) {
		t.Fatalf("expected NL expanded to CRLF; got %q", got)
	}
}

func TestReadErase(t *testing.T) {
	installFakeConsole(t)
	dev := openTestTTY(t, 0)
	ttys[0].IFlags = 0

	for _, c := range []byte{'h', 'x', asciiDEL, 'i', '\n'} {
		In(c)
	}

	buf := make([]byte, 16)
	n := Read(dev, 0, buf)
	if got := buf[:n]; !bytes.Equal(got, []byte("hi\n")) {
		t.Fatalf("expected erased line \"hi\\n\"; got %q", got)
	}
}

func TestReadEraseOnEmptyLine(t *testing.T) {
	installFakeConsole(t)
	dev := openTestTTY(t, 0)
	ttys[0].IFlags = 0

	for _, c := range []byte{asciiDEL, 'a', '\n'} {
		In(c)
	}

	buf := make([]byte, 16)
	n := Read(dev, 0, buf)
	if got := buf[:n]; !bytes.Equal(got, []byte("a\n")) {
		t.Fatalf("expected DEL on an empty line ignored; got %q", got)
	}
}

func TestInputRoundTrip(t *testing.T) {
	installFakeConsole(t)
	dev := openTestTTY(t, 0)

	// echo off, no translation: bytes come back verbatim
	ttys[0].IFlags = 0

	payload := []byte("the quick brown fox\n")
	for _, c := range payload {
		In(c)
	}

	buf := make([]byte, len(payload))
	n := Read(dev, 0, buf)
	if !bytes.Equal(buf[:n], payload) {
		t.Fatalf("expected %q; got %q", payload, buf[:n])
	}
}

func TestControlEcho(t *testing.T) {
	installFakeConsole(t)
	dev := openTestTTY(t, 0)

	Control(dev, CmdEcho, 0, 0)
	if ttys[0].IFlags&IEcho != 0 {
		t.Fatal("expected echo disabled")
	}

	Control(dev, CmdEcho, 1, 0)
	if ttys[0].IFlags&IEcho == 0 {
		t.Fatal("expected echo enabled")
	}
}

func TestControlInCount(t *testing.T) {
	installFakeConsole(t)
	dev := openTestTTY(t, 0)

	In('a')
	In('b')
	if got := Control(dev, CmdInCount, 0, 0); got != 2 {
		t.Fatalf("expected 2 buffered bytes; got %d", got)
	}
}

func TestSelectSwitchesFocus(t *testing.T) {
	f := installFakeConsole(t)
	openTestTTY(t, 0)
	openTestTTY(t, 1)

	Select(1)
	if f.selected != 1 {
		t.Fatalf("expected console 1 selected; got %d", f.selected)
	}

	In('z')
	if got := ttys[1].IFifo.Count(); got != 1 {
		t.Fatalf("expected focused tty 1 to receive input; count %d", got)
	}
	if got := ttys[0].IFifo.Count(); got != 0 {
		t.Fatalf("expected tty 0 untouched; count %d", got)
	}
}

func TestOpenBadMinor(t *testing.T) {
	installFakeConsole(t)

	dev := &device.Device{Desc: &Desc, Minor: NR}
	if Open(dev) >= 0 {
		t.Fatal("expected open with an out-of-range minor to fail")
	}
}
