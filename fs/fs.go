package fs

import (
	"bytes"

	"minos/device"
)

// Whence values for Lseek.
const (
	SeekSet = 0
	SeekCur = 1
	SeekEnd = 2
)

// Provider is the mounted disk filesystem. The implementation lives outside
// the core; until one is mounted every disk path operation fails.
type Provider interface {
	Open(path []byte, flags int) (handle int, size int)
	Read(handle int, pos int, buf []byte) int
	Write(handle int, pos int, buf []byte) int
	Close(handle int) int
	Stat(handle int, buf []byte) int
	Unlink(path []byte) int

	OpenDir(path []byte, state []byte) int
	ReadDir(state []byte, dirent []byte) int
	CloseDir(state []byte) int
}

var (
	mounted Provider

	// Per-task descriptor table hooks installed by the task package.
	taskFileFn     = func(fd int) *File { return nil }
	taskAllocFdFn  = func(file *File) int { return -1 }
	taskRemoveFdFn = func(fd int) {}
)

// Mount installs the disk filesystem provider.
func Mount(p Provider) {
	mounted = p
}

// SetTaskHooks installs the per-task descriptor table operations.
func SetTaskHooks(file func(fd int) *File, allocFd func(file *File) int, removeFd func(fd int)) {
	taskFileFn = file
	taskAllocFdFn = allocFd
	taskRemoveFdFn = removeFd
}

var devTTYPrefix = []byte("/dev/tty")

// Open resolves a path to a file and binds it to a fresh descriptor of the
// current task. Terminal paths ("/dev/ttyN") route to the device table,
// everything else to the mounted filesystem.
func Open(path []byte, flags int) int {
	file := FileAlloc()
	if file == nil {
		return -1
	}

	switch {
	case bytes.HasPrefix(path, devTTYPrefix):
		minor := 0
		if rest := path[len(devTTYPrefix):]; len(rest) > 0 {
			if rest[0] < '0' || rest[0] > '9' {
				FileFree(file)
				return -1
			}
			minor = int(rest[0] - '0')
		}

		devID := device.Open(device.MajorTTY, minor, 0)
		if devID < 0 {
			FileFree(file)
			return -1
		}

		file.Type = TypeTTY
		file.DevID = devID
	default:
		if mounted == nil {
			FileFree(file)
			return -1
		}

		handle, size := mounted.Open(path, flags)
		if handle < 0 {
			FileFree(file)
			return -1
		}

		file.Type = TypeFile
		file.Handle = handle
		file.Size = size
		file.Mode = flags
	}

	fd := taskAllocFdFn(file)
	if fd < 0 {
		closeFile(file)
		return -1
	}

	return fd
}

// closeFile releases the backing object once the last reference drops.
func closeFile(file *File) {
	if file.Ref == 1 {
		switch file.Type {
		case TypeTTY:
			device.Close(file.DevID)
		case TypeFile:
			if mounted != nil {
				mounted.Close(file.Handle)
			}
		}
	}
	FileFree(file)
}

// Read fills buf from the file behind fd.
func Read(fd int, buf []byte) int {
	file := taskFileFn(fd)
	if file == nil {
		return -1
	}

	switch file.Type {
	case TypeTTY:
		return device.Read(file.DevID, 0, buf)
	case TypeFile:
		if mounted == nil {
			return -1
		}
		n := mounted.Read(file.Handle, file.Pos, buf)
		if n > 0 {
			file.Pos += n
		}
		return n
	}

	return -1
}

// Write sends buf to the file behind fd.
func Write(fd int, buf []byte) int {
	file := taskFileFn(fd)
	if file == nil {
		return -1
	}

	switch file.Type {
	case TypeTTY:
		return device.Write(file.DevID, 0, buf)
	case TypeFile:
		if mounted == nil {
			return -1
		}
		n := mounted.Write(file.Handle, file.Pos, buf)
		if n > 0 {
			file.Pos += n
		}
		return n
	}

	return -1
}

// Lseek repositions the file offset. Terminals are not seekable.
func Lseek(fd, offset, whence int) int {
	file := taskFileFn(fd)
	if file == nil || file.Type != TypeFile {
		return -1
	}

	pos := file.Pos
	switch whence {
	case SeekSet:
		pos = offset
	case SeekCur:
		pos += offset
	case SeekEnd:
		pos = file.Size + offset
	default:
		return -1
	}

	if pos < 0 {
		return -1
	}

	file.Pos = pos
	return pos
}

// Close releases the descriptor and, on the last reference, the file.
func Close(fd int) int {
	file := taskFileFn(fd)
	if file == nil {
		return -1
	}

	closeFile(file)
	taskRemoveFdFn(fd)
	return 0
}

// IsATTY reports whether fd refers to a terminal.
func IsATTY(fd int) int {
	file := taskFileFn(fd)
	if file == nil {
		return -1
	}
	if file.Type == TypeTTY {
		return 1
	}
	return 0
}

// Fstat fills buf with the stat record of the file behind fd.
func Fstat(fd int, buf []byte) int {
	file := taskFileFn(fd)
	if file == nil {
		return -1
	}
	if file.Type != TypeFile || mounted == nil {
		return -1
	}
	return mounted.Stat(file.Handle, buf)
}

// Dup binds a second descriptor of the current task to the file behind fd.
func Dup(fd int) int {
	file := taskFileFn(fd)
	if file == nil {
		return -1
	}

	newFd := taskAllocFdFn(file)
	if newFd < 0 {
		return -1
	}

	FileIncRef(file)
	return newFd
}

// IOCtl forwards a device control command.
func IOCtl(fd, cmd, arg0, arg1 int) int {
	file := taskFileFn(fd)
	if file == nil || file.Type != TypeTTY {
		return -1
	}
	return device.Control(file.DevID, cmd, arg0, arg1)
}

// OpenDir, ReadDir, CloseDir and Unlink delegate to the mounted filesystem.
func OpenDir(path []byte, state []byte) int {
	if mounted == nil {
		return -1
	}
	return mounted.OpenDir(path, state)
}

func ReadDir(state []byte, dirent []byte) int {
	if mounted == nil {
		return -1
	}
	return mounted.ReadDir(state, dirent)
}

func CloseDir(state []byte) int {
	if mounted == nil {
		return -1
	}
	return mounted.CloseDir(state)
}

func Unlink(path []byte) int {
	if mounted == nil {
		return -1
	}
	return mounted.Unlink(path)
}
