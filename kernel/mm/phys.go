package mm

import (
	"minos/kernel"
	"minos/kernel/ipc"
)

// ErrOutOfMemory is returned when the physical allocator cannot satisfy a
// request.
var ErrOutOfMemory = &kernel.Error{Module: "mm", Message: "out of physical memory"}

// addrPool allocates physical pages out of a contiguous region using a
// bitmap, lowest fit first. There is no coalescing structure; the bitmap is
// the ground truth.
type addrPool struct {
	mutex    ipc.Mutex
	start    uintptr
	size     uintptr
	pageSize uintptr
	bitmap   Bitmap
}

// pageAlloc manages all RAM above MemExtStart.
var pageAlloc addrPool

func (p *addrPool) init(storage []byte, start, size, pageSize uintptr) {
	p.mutex.Init()
	p.start = start
	p.size = size
	p.pageSize = pageSize
	p.bitmap.Init(storage, int(size/pageSize), false)
}

func (p *addrPool) allocPages(count int) uintptr {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	index := p.bitmap.AllocNBits(count)
	if index < 0 {
		return 0
	}
	return p.start + uintptr(index)*p.pageSize
}

func (p *addrPool) freePages(addr uintptr, count int) {
	p.mutex.Lock()
	p.bitmap.Set(int((addr-p.start)/p.pageSize), count, false)
	p.mutex.Unlock()
}

// AllocPages reserves count contiguous physical pages and returns the base
// address of the run.
func AllocPages(count int) (uintptr, *kernel.Error) {
	addr := pageAlloc.allocPages(count)
	if addr == 0 {
		return 0, ErrOutOfMemory
	}
	return addr, nil
}

// AllocPage reserves a single physical page.
func AllocPage() (uintptr, *kernel.Error) {
	return AllocPages(1)
}

// FreePages returns count pages starting at addr to the allocator.
func FreePages(addr uintptr, count int) {
	pageAlloc.freePages(addr, count)
}

// FreePage returns a single page to the allocator.
func FreePage(addr uintptr) {
	FreePages(addr, 1)
}
