// Package fs provides the file layer the system call surface and the image
// loader build on: the system-wide open file table with reference counting,
// routing of descriptor operations to the device table, and mount hooks for
// the external disk filesystem.
package fs

import (
	"minos/kernel/ipc"
)

// FileTableSize bounds the system-wide open file table.
const FileTableSize = 128

// FileType tells the descriptor operations where a file routes.
type FileType int

const (
	TypeUnknown FileType = iota
	TypeTTY
	TypeFile
	TypeDir
)

// File is one entry of the system-wide open file table. A file is shared
// between descriptors (dup, fork) through its reference count.
type File struct {
	Type FileType
	Ref  int
	Mode int

	// DevID is the open device instance for device-backed files.
	DevID int

	// Handle is the mounted filesystem's private handle for disk files.
	Handle int

	Pos  int
	Size int
}

var (
	fileTable      [FileTableSize]File
	fileTableMutex ipc.Mutex
)

// InitFileTable empties the open file table.
func InitFileTable() {
	fileTableMutex.Lock()
	for i := range fileTable {
		fileTable[i] = File{}
	}
	fileTableMutex.Unlock()
}

// FileAlloc claims a free file table entry with a reference count of one.
func FileAlloc() *File {
	fileTableMutex.Lock()
	defer fileTableMutex.Unlock()

	for i := 0; i < FileTableSize; i++ {
		if fileTable[i].Ref == 0 {
			fileTable[i] = File{Ref: 1}
			return &fileTable[i]
		}
	}

	return nil
}

// FileFree drops one reference to a file table entry.
func FileFree(file *File) {
	fileTableMutex.Lock()
	if file.Ref > 0 {
		file.Ref--
	}
	fileTableMutex.Unlock()
}

// FileIncRef adds a reference to a file table entry; fork uses this when it
// duplicates the parent's descriptor table.
func FileIncRef(file *File) {
	fileTableMutex.Lock()
	file.Ref++
	fileTableMutex.Unlock()
}
