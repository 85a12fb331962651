package mm

import "unsafe"

// The two-level paging structure: a page directory of 1024 entries, each
// pointing at a page table of 1024 entries mapping 4 KiB pages.
const entriesPerTable = 1024

// Entry flags shared by directory and table entries.
const (
	FlagPresent  = uint32(1 << 0)
	FlagWritable = uint32(1 << 1)
	FlagUser     = uint32(1 << 2)

	// FlagPageSize marks a 4 MiB directory mapping; only the boot loader
	// uses it, the kernel maps exclusively 4 KiB pages.
	FlagPageSize = uint32(1 << 7)

	// permMask covers the low bits an entry contributes as permissions.
	permMask = uint32(0x1FF)
)

// Entry is a 32-bit page directory or page table entry: permission bits in
// the low 12 bits and the physical frame address in the top 20.
type Entry uint32

// Present returns true if the entry maps something.
func (e Entry) Present() bool {
	return uint32(e)&FlagPresent != 0
}

// PhysAddr returns the physical address stored in the entry's frame field.
func (e Entry) PhysAddr() uintptr {
	return uintptr(e) & ^(PageSize - 1)
}

// Perm extracts the permission bits of the entry.
func (e Entry) Perm() uint32 {
	return uint32(e) & permMask
}

// Set points the entry at a physical address with the given permission bits.
func (e *Entry) Set(paddr uintptr, perm uint32) {
	*e = Entry(uint32(paddr) | perm)
}

// Clear resets the entry to not-present.
func (e *Entry) Clear() {
	*e = 0
}

// pdeIndex returns the directory slot for a virtual address (top 10 bits).
func pdeIndex(vaddr uintptr) int {
	return int((vaddr >> 22) & 0x3FF)
}

// pteIndex returns the table slot for a virtual address (middle 10 bits).
func pteIndex(vaddr uintptr) int {
	return int((vaddr >> 12) & 0x3FF)
}

// tableRef overlays a page table (or directory) on the physical page at
// addr. The extended RAM region is identity-mapped, so the kernel can reach
// any paging structure through its physical address. Tests replace this to
// simulate physical memory on a host OS.
var tableRefFn = func(addr uintptr) *[entriesPerTable]Entry {
	return (*[entriesPerTable]Entry)(unsafe.Pointer(addr))
}

// physBytesFn overlays a byte slice on a run of physical memory; the same
// identity-map argument as tableRefFn applies.
var physBytesFn = func(addr, size uintptr) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), size)
}
