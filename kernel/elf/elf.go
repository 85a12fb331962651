// Package elf parses 32-bit little-endian ELF executables and loads their
// PT_LOAD segments into a task address space. Only the minimal intake the
// image loader needs is implemented: i386 executables with at least one
// loadable, page-aligned program segment.
package elf

import (
	"unsafe"

	"minos/kernel"
	"minos/kernel/mm"
)

// ELF constants for the intake checks.
const (
	elfMagic0 = 0x7F

	// ET_EXEC
	typeExec = 2

	// EM_386
	machine386 = 3

	// PT_LOAD
	ptLoad = 1
)

// Header is the ELF32 file header. The layout matches the on-disk format
// byte for byte, so a raw read can be overlaid directly.
type Header struct {
	Ident     [16]byte
	Type      uint16
	Machine   uint16
	Version   uint32
	Entry     uint32
	PhOff     uint32
	ShOff     uint32
	Flags     uint32
	EhSize    uint16
	PhEntSize uint16
	PhNum     uint16
	ShEntSize uint16
	ShNum     uint16
	ShStrNdx  uint16
}

// ProgHeader is one ELF32 program header.
type ProgHeader struct {
	Type   uint32
	Offset uint32
	VAddr  uint32
	PAddr  uint32
	FileSz uint32
	MemSz  uint32
	Flags  uint32
	Align  uint32
}

// Source is the open executable the loader reads from; the file layer's
// lseek/read/close contract.
type Source interface {
	Lseek(offset, whence int) int
	Read(buf []byte) int
}

var (
	ErrTruncated   = &kernel.Error{Module: "elf", Message: "file too small for its headers"}
	ErrBadMagic    = &kernel.Error{Module: "elf", Message: "bad ELF magic"}
	ErrBadType     = &kernel.Error{Module: "elf", Message: "not an i386 executable with an entry point"}
	ErrNoProgram   = &kernel.Error{Module: "elf", Message: "no program headers"}
	ErrUnaligned   = &kernel.Error{Module: "elf", Message: "loadable segment is not page aligned"}
	ErrSegmentRead = &kernel.Error{Module: "elf", Message: "short read on a loadable segment"}
	ErrNoUserSegs  = &kernel.Error{Module: "elf", Message: "no loadable user-space segment"}
	ErrNotMapped   = &kernel.Error{Module: "elf", Message: "segment page not mapped after allocation"}
)

// Seams for the host test suite.
var (
	allocForPageDirFn = mm.AllocForPageDir
	getPaddrFn        = mm.GetPaddr
	kernelBytesFn     = mm.KernelBytes
)

// validate applies the intake rules to a file header.
func validate(hdr *Header) *kernel.Error {
	if hdr.Ident[0] != elfMagic0 || hdr.Ident[1] != 'E' || hdr.Ident[2] != 'L' || hdr.Ident[3] != 'F' {
		return ErrBadMagic
	}
	if hdr.Type != typeExec || hdr.Machine != machine386 || hdr.Entry == 0 {
		return ErrBadType
	}
	if hdr.PhEntSize == 0 || hdr.PhOff == 0 || hdr.PhNum == 0 {
		return ErrNoProgram
	}
	return nil
}

// loadSegment backs one PT_LOAD segment with fresh user pages in dir and
// fills the first FileSz bytes from the file, chunked by page. The
// [FileSz, MemSz) tail stays unwritten; the user runtime zeroes its bss.
func loadSegment(src Source, phdr *ProgHeader, dir uintptr) *kernel.Error {
	if phdr.VAddr&uint32(mm.PageSize-1) != 0 {
		return ErrUnaligned
	}

	if err := allocForPageDirFn(dir, uintptr(phdr.VAddr), uintptr(phdr.MemSz),
		mm.FlagPresent|mm.FlagUser|mm.FlagWritable); err != nil {
		return err
	}

	if src.Lseek(int(phdr.Offset), 0) < 0 {
		return ErrTruncated
	}

	vaddr := uintptr(phdr.VAddr)
	size := uintptr(phdr.FileSz)
	for size > 0 {
		chunk := size
		if chunk > mm.PageSize {
			chunk = mm.PageSize
		}

		paddr := getPaddrFn(dir, vaddr)
		if paddr == 0 {
			return ErrNotMapped
		}

		if n := src.Read(kernelBytesFn(paddr, chunk)); n < int(chunk) {
			return ErrSegmentRead
		}

		size -= chunk
		vaddr += chunk
	}

	return nil
}

// Load reads the executable from src and populates the address space behind
// dir with every loadable user-space segment. It returns the entry point and
// the end of the loaded image (the initial heap position).
func Load(src Source, dir uintptr) (entry, heapTop uintptr, err *kernel.Error) {
	var hdr Header
	hdrBytes := (*[unsafe.Sizeof(Header{})]byte)(unsafe.Pointer(&hdr))

	if n := src.Read(hdrBytes[:]); n < len(hdrBytes) {
		return 0, 0, ErrTruncated
	}
	if err := validate(&hdr); err != nil {
		return 0, 0, err
	}

	var phdr ProgHeader
	phdrBytes := (*[unsafe.Sizeof(ProgHeader{})]byte)(unsafe.Pointer(&phdr))

	loaded := 0
	phOff := int(hdr.PhOff)
	for i := 0; i < int(hdr.PhNum); i, phOff = i+1, phOff+int(hdr.PhEntSize) {
		if src.Lseek(phOff, 0) < 0 {
			return 0, 0, ErrTruncated
		}
		if n := src.Read(phdrBytes[:]); n < len(phdrBytes) {
			return 0, 0, ErrTruncated
		}

		// only loadable segments destined for user space matter
		if phdr.Type != ptLoad || uintptr(phdr.VAddr) < mm.TaskBase {
			continue
		}

		if err := loadSegment(src, &phdr, dir); err != nil {
			return 0, 0, err
		}

		loaded++
		if top := uintptr(phdr.VAddr + phdr.MemSz); top > heapTop {
			heapTop = top
		}
	}

	if loaded == 0 {
		return 0, 0, ErrNoUserSegs
	}

	return uintptr(hdr.Entry), heapTop, nil
}
