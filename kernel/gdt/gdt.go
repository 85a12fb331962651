// Package gdt manages the global descriptor table: the fixed kernel code and
// data segments, the system call gate and the dynamically allocated per-task
// TSS descriptors.
package gdt

import (
	"unsafe"

	"minos/kernel"
	"minos/kernel/cpu"
	"minos/kernel/ipc"
	"minos/kernel/syscall"
)

// Segment descriptor attribute bits. The attribute word covers descriptor
// bits 40-47 (access byte) in its low byte and bits 52-55 (flags) in its
// high nibble; bits 8-11 are reserved for the limit 19:16 field filled in by
// SetSegment.
const (
	SegG        = uint16(1 << 15) // limit is scaled by 4 KiB
	SegD        = uint16(1 << 14) // 32-bit segment
	SegPPresent = uint16(1 << 7)

	SegDPL0 = uint16(0 << 5)
	SegDPL3 = uint16(3 << 5)

	SegSSystem = uint16(0 << 4)
	SegSNormal = uint16(1 << 4)

	SegTypeCode = uint16(1 << 3)
	SegTypeData = uint16(0 << 3)
	SegTypeTSS  = uint16(9 << 0)
	SegTypeRW   = uint16(1 << 1)
)

// Requested privilege levels, ORed into a selector.
const (
	SegRPL0 = 0
	SegRPL3 = 3
)

// Gate descriptor attribute bits.
const (
	GateTypeInterrupt = uint16(0xE << 8)
	GateTypeSyscall   = uint16(0xC << 8)
	GatePPresent      = uint16(1 << 15)
	GateDPL0          = uint16(0 << 13)
	GateDPL3          = uint16(3 << 13)
)

var (
	// ErrNoFreeSlot is returned when every GDT slot is occupied.
	ErrNoFreeSlot = &kernel.Error{Module: "gdt", Message: "no free GDT slot available"}

	gdtTable   [kernel.GDTTableSize]SegmentDesc
	tableMutex ipc.Mutex

	// loadGDTFn is used by tests to mock the GDTR load.
	loadGDTFn = cpu.LoadGDT
)

// SegmentDesc is an 8-byte segment descriptor in the hardware layout.
type SegmentDesc struct {
	limitLow    uint16
	baseLow     uint16
	baseMiddle  uint8
	access      uint8
	granularity uint8
	baseHigh    uint8
}

// GateDesc is an 8-byte gate descriptor (call, interrupt or trap gate) in
// the hardware layout. It is also used for IDT entries.
type GateDesc struct {
	offsetLow  uint16
	selector   uint16
	attr       uint16
	offsetHigh uint16
}

// Set fills in the gate descriptor fields.
func (d *GateDesc) Set(selector uint16, offset uintptr, attr uint16) {
	d.offsetLow = uint16(offset & 0xffff)
	d.selector = selector
	d.attr = attr
	d.offsetHigh = uint16((offset >> 16) & 0xffff)
}

// SetSegment builds the descriptor for the slot addressed by selector. When
// the limit exceeds 20 bits the granularity flag is set and the stored limit
// is scaled down to 4 KiB units.
func SetSegment(selector int, base uintptr, limit uint32, attr uint16) {
	desc := &gdtTable[selector>>3]

	if limit > 0xFFFFF {
		attr |= SegG
		limit /= 0x1000
	}

	desc.limitLow = uint16(limit & 0xffff)
	desc.baseLow = uint16(base & 0xffff)
	desc.baseMiddle = uint8((base >> 16) & 0xff)
	desc.baseHigh = uint8((base >> 24) & 0xff)
	desc.access = uint8(attr & 0xff)
	desc.granularity = uint8((attr>>8)&0xf0) | uint8((limit>>16)&0xf)
}

// SetGateSlot installs a gate descriptor into a GDT slot; this is how the
// system call gate occupies its fixed slot.
func SetGateSlot(selector int, gateSel uint16, offset uintptr, attr uint16) {
	gate := (*GateDesc)(unsafe.Pointer(&gdtTable[selector>>3]))
	gate.Set(gateSel, offset, attr)
}

// AllocDesc claims the first free slot (access byte zero), marks it present
// and returns its selector. Slot 0 stays reserved for the CPU null
// descriptor.
func AllocDesc() (int, *kernel.Error) {
	tableMutex.Lock()
	defer tableMutex.Unlock()

	for i := 1; i < kernel.GDTTableSize; i++ {
		if gdtTable[i].access == 0 {
			gdtTable[i].access = uint8(SegPPresent)
			return i * int(unsafe.Sizeof(SegmentDesc{})), nil
		}
	}

	return 0, ErrNoFreeSlot
}

// FreeDesc releases the slot addressed by sel by clearing its access byte.
func FreeDesc(sel int) {
	tableMutex.Lock()
	gdtTable[sel/int(unsafe.Sizeof(SegmentDesc{}))].access = 0
	tableMutex.Unlock()
}

// Init builds the boot GDT: the null slot, the flat 4 GiB kernel code and
// data segments at their contract selectors and the ring-3 callable system
// call gate, then loads GDTR. The gate copies syscall.ParamCount words from
// the user stack on entry.
func Init() {
	tableMutex.Init()

	for i := 0; i < kernel.GDTTableSize; i++ {
		SetSegment(i<<3, 0, 0, 0)
	}

	SetSegment(kernel.KernelSelectorCS, 0x00000000, 0xFFFFFFFF,
		SegPPresent|SegDPL0|SegSNormal|SegTypeCode|SegTypeRW|SegD)

	SetSegment(kernel.KernelSelectorDS, 0x00000000, 0xFFFFFFFF,
		SegPPresent|SegDPL0|SegSNormal|SegTypeData|SegTypeRW|SegD)

	SetGateSlot(kernel.SelectorSyscall, kernel.KernelSelectorCS,
		syscall.GateEntryAddr(),
		GatePPresent|GateDPL3|GateTypeSyscall|uint16(syscall.ParamCount))

	loadGDTFn(uintptr(unsafe.Pointer(&gdtTable[0])), uint16(unsafe.Sizeof(gdtTable)-1))
}
