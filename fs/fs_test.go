package fs

import (
	"bytes"
	"testing"

	"minos/device"
	"minos/kernel"
)

// fakeFdTable simulates the per-task descriptor table.
type fakeFdTable struct {
	files [kernel.TaskOFileNR]*File
}

func (f *fakeFdTable) install(t *testing.T) {
	t.Helper()

	origFile, origAlloc, origRemove := taskFileFn, taskAllocFdFn, taskRemoveFdFn
	taskFileFn = func(fd int) *File {
		if fd < 0 || fd >= len(f.files) {
			return nil
		}
		return f.files[fd]
	}
	taskAllocFdFn = func(file *File) int {
		for i := range f.files {
			if f.files[i] == nil {
				f.files[i] = file
				return i
			}
		}
		return -1
	}
	taskRemoveFdFn = func(fd int) { f.files[fd] = nil }

	t.Cleanup(func() {
		taskFileFn, taskAllocFdFn, taskRemoveFdFn = origFile, origAlloc, origRemove
		mounted = nil
		InitFileTable()
	})
}

// fakeProvider is an in-memory filesystem with a single file.
type fakeProvider struct {
	name    []byte
	content []byte
	opens   int
	closes  int
	writes  []byte
}

func (p *fakeProvider) Open(path []byte, flags int) (int, int) {
	if !bytes.Equal(path, p.name) {
		return -1, 0
	}
	p.opens++
	return 7, len(p.content)
}

func (p *fakeProvider) Read(handle, pos int, buf []byte) int {
	if handle != 7 || pos >= len(p.content) {
		return -1
	}
	return copy(buf, p.content[pos:])
}

func (p *fakeProvider) Write(handle, pos int, buf []byte) int {
	p.writes = append(p.writes, buf...)
	return len(buf)
}

func (p *fakeProvider) Close(handle int) int { p.closes++; return 0 }

func (p *fakeProvider) Stat(handle int, buf []byte) int { buf[0] = 0xAB; return 0 }

func (p *fakeProvider) Unlink(path []byte) int { return 0 }

func (p *fakeProvider) OpenDir(path, state []byte) int   { return 0 }
func (p *fakeProvider) ReadDir(state, dirent []byte) int { return -1 }
func (p *fakeProvider) CloseDir(state []byte) int        { return 0 }

func TestOpenDiskFile(t *testing.T) {
	fds := &fakeFdTable{}
	fds.install(t)

	p := &fakeProvider{name: []byte("/bin/init"), content: []byte("payload")}
	Mount(p)

	fd := Open([]byte("/bin/init"), 0)
	if fd < 0 {
		t.Fatal("expected open to succeed")
	}

	buf := make([]byte, 4)
	if n := Read(fd, buf); n != 4 || !bytes.Equal(buf, []byte("payl")) {
		t.Fatalf("expected first chunk; got %q (%d)", buf[:n], n)
	}
	if n := Read(fd, buf); n != 3 || !bytes.Equal(buf[:3], []byte("oad")) {
		t.Fatalf("expected position tracked; got %q (%d)", buf[:n], n)
	}

	if Close(fd) != 0 {
		t.Fatal("close failed")
	}
	if p.closes != 1 {
		t.Fatal("expected provider close on last reference")
	}
	if fds.files[fd] != nil {
		t.Fatal("expected descriptor released")
	}
}

func TestOpenWithoutMount(t *testing.T) {
	fds := &fakeFdTable{}
	fds.install(t)

	if Open([]byte("/bin/init"), 0) >= 0 {
		t.Fatal("expected open without a mounted filesystem to fail")
	}
}

func TestLseek(t *testing.T) {
	fds := &fakeFdTable{}
	fds.install(t)

	p := &fakeProvider{name: []byte("/a"), content: []byte("0123456789")}
	Mount(p)

	fd := Open([]byte("/a"), 0)

	specs := []struct {
		offset, whence, want int
	}{
		{4, SeekSet, 4},
		{2, SeekCur, 6},
		{-1, SeekEnd, 9},
		{0, SeekSet, 0},
	}
	for _, spec := range specs {
		if got := Lseek(fd, spec.offset, spec.whence); got != spec.want {
			t.Errorf("lseek(%d, %d): expected %d; got %d", spec.offset, spec.whence, spec.want, got)
		}
	}

	if Lseek(fd, -100, SeekSet) >= 0 {
		t.Error("expected negative position to fail")
	}
}

func TestDupSharesFile(t *testing.T) {
	fds := &fakeFdTable{}
	fds.install(t)

	p := &fakeProvider{name: []byte("/a"), content: []byte("abcdef")}
	Mount(p)

	fd := Open([]byte("/a"), 0)
	dup := Dup(fd)
	if dup < 0 || dup == fd {
		t.Fatalf("expected a fresh descriptor; got %d", dup)
	}
	if fds.files[fd] != fds.files[dup] {
		t.Fatal("expected both descriptors to share the file")
	}
	if fds.files[fd].Ref != 2 {
		t.Fatalf("expected ref count 2; got %d", fds.files[fd].Ref)
	}

	// closing one descriptor must keep the file open
	Close(fd)
	if p.closes != 0 {
		t.Fatal("provider closed too early")
	}
	Close(dup)
	if p.closes != 1 {
		t.Fatal("expected provider close on the last descriptor")
	}
}

func TestFdExhaustion(t *testing.T) {
	fds := &fakeFdTable{}
	fds.install(t)

	p := &fakeProvider{name: []byte("/a"), content: []byte("x")}
	Mount(p)

	for i := 0; i < kernel.TaskOFileNR; i++ {
		if fd := Open([]byte("/a"), 0); fd < 0 {
			t.Fatalf("open %d failed early", i)
		}
	}

	if Open([]byte("/a"), 0) >= 0 {
		t.Fatal("expected open beyond the per-task fd limit to fail")
	}
}

func TestBadDescriptors(t *testing.T) {
	fds := &fakeFdTable{}
	fds.install(t)

	if Read(3, make([]byte, 1)) >= 0 || Write(3, []byte("x")) >= 0 ||
		Close(3) >= 0 || IsATTY(3) >= 0 || Dup(3) >= 0 {
		t.Fatal("expected operations on an unbound descriptor to fail")
	}
}

func TestFileTableExhaustion(t *testing.T) {
	InitFileTable()
	defer InitFileTable()

	for i := 0; i < FileTableSize; i++ {
		if FileAlloc() == nil {
			t.Fatalf("alloc %d failed early", i)
		}
	}
	if FileAlloc() != nil {
		t.Fatal("expected exhausted file table")
	}
}

func TestOpenTTYPath(t *testing.T) {
	fds := &fakeFdTable{}
	fds.install(t)

	opened := -1
	device.Register(&device.Desc{
		Name:  "tty",
		Major: device.MajorTTY,
		Open: func(dev *device.Device) int {
			opened = dev.Minor
			return 0
		},
		Read:  func(dev *device.Device, addr int, buf []byte) int { return copy(buf, "in") },
		Write: func(dev *device.Device, addr int, buf []byte) int { return len(buf) },
	})

	fd := Open([]byte("/dev/tty3"), 0)
	if fd < 0 {
		t.Fatal("expected tty open to succeed")
	}
	if opened != 3 {
		t.Fatalf("expected minor 3 opened; got %d", opened)
	}

	if IsATTY(fd) != 1 {
		t.Fatal("expected a terminal descriptor")
	}
	if Lseek(fd, 0, SeekSet) >= 0 {
		t.Fatal("expected terminals to be unseekable")
	}

	buf := make([]byte, 2)
	if n := Read(fd, buf); n != 2 || !bytes.Equal(buf, []byte("in")) {
		t.Fatalf("expected tty read routed to the driver; got %q", buf[:n])
	}
}
