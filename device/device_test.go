package device

import (
	"bytes"
	"testing"
)

func resetTables() {
	descTable = [maxDescs]*Desc{}
	devTable = [maxDevices]Device{}
}

func testDesc(store *[]byte) *Desc {
	return &Desc{
		Name:  "fake",
		Major: MajorTTY,
		Open: func(dev *Device) int {
			if dev.Minor > 3 {
				return -1
			}
			return 0
		},
		Read: func(dev *Device, addr int, buf []byte) int {
			n := copy(buf, "pong")
			return n
		},
		Write: func(dev *Device, addr int, buf []byte) int {
			*store = append(*store, buf...)
			return len(buf)
		},
		Control: func(dev *Device, cmd, arg0, arg1 int) int {
			return cmd + arg0 + arg1
		},
		Close: func(dev *Device) {},
	}
}

func TestOpenDispatch(t *testing.T) {
	defer resetTables()
	var store []byte
	Register(testDesc(&store))

	devID := Open(MajorTTY, 0, 0)
	if devID < 0 {
		t.Fatal("expected open to succeed")
	}

	if n := Write(devID, 0, []byte("hello")); n != 5 {
		t.Fatalf("expected write of 5 bytes; got %d", n)
	}
	if !bytes.Equal(store, []byte("hello")) {
		t.Fatalf("driver write not called; store %q", store)
	}

	buf := make([]byte, 8)
	if n := Read(devID, 0, buf); n != 4 || !bytes.Equal(buf[:4], []byte("pong")) {
		t.Fatalf("driver read not called; got %q", buf[:n])
	}

	if got := Control(devID, 1, 2, 3); got != 6 {
		t.Fatalf("expected control result 6; got %d", got)
	}
}

func TestOpenSharesInstance(t *testing.T) {
	defer resetTables()
	var store []byte
	Register(testDesc(&store))

	first := Open(MajorTTY, 2, 0)
	second := Open(MajorTTY, 2, 0)
	if first != second {
		t.Fatalf("expected the same device id for the same (major, minor); got %d and %d", first, second)
	}
	if devTable[first].OpenCount != 2 {
		t.Fatalf("expected open count 2; got %d", devTable[first].OpenCount)
	}

	other := Open(MajorTTY, 3, 0)
	if other == first {
		t.Fatal("expected a distinct instance for a different minor")
	}

	Close(first)
	if devTable[first].OpenCount != 1 {
		t.Fatal("expected close to drop one reference")
	}
	Close(first)
	if devTable[first].OpenCount != 0 {
		t.Fatal("expected the instance released")
	}
}

func TestOpenFailures(t *testing.T) {
	defer resetTables()
	var store []byte
	Register(testDesc(&store))

	if Open(MajorDisk, 0, 0) >= 0 {
		t.Fatal("expected open of an unregistered major to fail")
	}
	if Open(MajorTTY, 9, 0) >= 0 {
		t.Fatal("expected driver open rejection to propagate")
	}
}

func TestBadDeviceID(t *testing.T) {
	defer resetTables()

	if Read(-1, 0, nil) >= 0 || Write(999, 0, nil) >= 0 || Control(3, 0, 0, 0) >= 0 {
		t.Fatal("expected operations on invalid device ids to fail")
	}
	Close(42) // must not panic
}
