package mm

import (
	"unsafe"

	"minos/kernel"
	"minos/kernel/cpu"
	"minos/kernel/hal/bootinfo"
	"minos/kernel/kfmt"
)

// The VGA text console framebuffer, mapped writable for the console driver.
const (
	consoleDisplayBase = uintptr(0xB8000)
	consoleDisplaySize = uintptr(0x8000)
)

var (
	// ErrBitmapOverflow is returned when the allocator bitmap would not
	// fit in the low-memory area reserved for it.
	ErrBitmapOverflow = &kernel.Error{Module: "mm", Message: "allocator bitmap does not fit below the EBDA"}

	// switchPageDirFn is used by tests to mock the CR3 load.
	switchPageDirFn = cpu.WriteCR3
)

// SwitchPageDir activates the given page directory.
func SwitchPageDir(dir uintptr) {
	switchPageDirFn(dir)
}

// Init brings up physical memory management: the allocator bitmap is placed
// in the reserved area after the kernel image, the bitmap is sized to cover
// all RAM from MemExtStart to the end of the highest usable region, and the
// kernel page directory is built and activated.
func Init(info *bootinfo.Info) *kernel.Error {
	kfmt.Printf("[mm] memory regions:\n")
	var ramEnd uintptr
	for i := 0; i < info.RAMRegionCount; i++ {
		region := &info.RAMRegions[i]
		kfmt.Printf("[mm]   [%d]: 0x%8x - 0x%8x\n", i, region.Start, region.Start+region.Size)
		if end := region.Start + region.Size; end > ramEnd {
			ramEnd = end
		}
	}

	poolSize := down2(ramEnd, PageSize) - MemExtStart
	kfmt.Printf("[mm] free memory: 0x%x, size 0x%x\n", MemExtStart, poolSize)

	bitmapBytes := BitmapByteCount(int(poolSize / PageSize))
	if info.BitmapBase+uintptr(bitmapBytes) >= MemEBDAStart {
		return ErrBitmapOverflow
	}

	storage := unsafe.Slice((*byte)(unsafe.Pointer(info.BitmapBase)), bitmapBytes)
	pageAlloc.init(storage, MemExtStart, poolSize, PageSize)

	// The static kernel map: the low boot area and data are writable, the
	// kernel text is read-only, the console framebuffer is writable and
	// all extended RAM is identity-mapped so paging structures and user
	// page frames stay reachable.
	kernelMap := []MapRegion{
		{VStart: info.KernelStart, VEnd: info.TextStart, PStart: info.KernelStart, Perm: FlagWritable},
		{VStart: info.TextStart, VEnd: info.TextEnd, PStart: info.TextStart, Perm: 0},
		{VStart: info.DataStart, VEnd: MemEBDAStart, PStart: info.DataStart, Perm: FlagWritable},
		{VStart: consoleDisplayBase, VEnd: consoleDisplayBase + consoleDisplaySize, PStart: consoleDisplayBase, Perm: FlagWritable},
		{VStart: MemExtStart, VEnd: MemExtEnd, PStart: MemExtStart, Perm: FlagWritable},
	}

	if err := CreateKernelDir(kernelMap); err != nil {
		return err
	}

	switchPageDirFn(kernelDir)
	return nil
}

// KernelBytes overlays a byte slice on a kernel-visible address range. It is
// how the rest of the kernel reads and writes buffers handed over by
// physical address or by a live user-space virtual address.
func KernelBytes(addr, size uintptr) []byte {
	return physBytesFn(addr, size)
}
