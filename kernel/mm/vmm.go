package mm

import "minos/kernel"

var (
	// ErrNoMapping is returned when a virtual address resolves to nothing.
	ErrNoMapping = &kernel.Error{Module: "mm", Message: "virtual address is not mapped"}

	// kernelDir is the page directory built at boot; its kernel half is
	// copied into every per-task directory.
	kernelDir uintptr
)

// MapRegion is one [virtual start, virtual end) range of the static kernel
// map, backed by physical memory starting at PStart.
type MapRegion struct {
	VStart uintptr
	VEnd   uintptr
	PStart uintptr
	Perm   uint32
}

// findPTE walks the directory to the table entry covering vaddr. With alloc
// set, a missing second-level table is allocated and wired up on the way;
// without it the walk returns nil instead.
func findPTE(dir uintptr, vaddr uintptr, alloc bool) *Entry {
	var table uintptr

	pde := &tableRefFn(dir)[pdeIndex(vaddr)]
	if pde.Present() {
		table = pde.PhysAddr()
	} else {
		if !alloc {
			return nil
		}

		table = pageAlloc.allocPages(1)
		if table == 0 {
			return nil
		}

		pde.Set(table, FlagPresent|FlagWritable|FlagUser)
		clearPage(table)
	}

	return &tableRefFn(table)[pteIndex(vaddr)]
}

// CreateMap installs count 4 KiB mappings starting at (vaddr, paddr) into
// the directory. The target entries must be empty.
func CreateMap(dir, vaddr, paddr uintptr, count int, perm uint32) *kernel.Error {
	for i := 0; i < count; i++ {
		pte := findPTE(dir, vaddr, true)
		if pte == nil {
			return ErrOutOfMemory
		}

		pte.Set(paddr, perm|FlagPresent)

		vaddr += PageSize
		paddr += PageSize
	}

	return nil
}

// CreateKernelDir allocates the kernel page directory and populates it from
// the static map table. Every region is mapped page by page; second-level
// tables come from the physical allocator.
func CreateKernelDir(maps []MapRegion) *kernel.Error {
	dir := pageAlloc.allocPages(1)
	if dir == 0 {
		return ErrOutOfMemory
	}
	clearPage(dir)

	for i := range maps {
		m := &maps[i]

		vstart := down2(m.VStart, PageSize)
		vend := up2(m.VEnd, PageSize)
		paddr := down2(m.PStart, PageSize)
		count := int((vend - vstart) / PageSize)

		if err := CreateMap(dir, vstart, paddr, count, m.Perm); err != nil {
			return err
		}
	}

	kernelDir = dir
	return nil
}

// KernelDir returns the physical address of the kernel page directory.
func KernelDir() uintptr {
	return kernelDir
}

// CreateUVM builds a fresh task address space: a cleared directory whose
// kernel half aliases the kernel directory, so traps stay valid regardless
// of which task is running. User mappings are added later by the image
// loader.
func CreateUVM() (uintptr, *kernel.Error) {
	dir := pageAlloc.allocPages(1)
	if dir == 0 {
		return 0, ErrOutOfMemory
	}
	clearPage(dir)

	to := tableRefFn(dir)
	from := tableRefFn(kernelDir)
	for i := 0; i < pdeIndex(TaskBase); i++ {
		to[i] = from[i]
	}

	return dir, nil
}

// DestroyUVM releases the user half of an address space: every mapped user
// page, every second-level table backing them and finally the directory
// itself. The shared kernel half is left alone.
func DestroyUVM(dir uintptr) {
	dirTable := tableRefFn(dir)

	for i := pdeIndex(TaskBase); i < entriesPerTable; i++ {
		pde := &dirTable[i]
		if !pde.Present() {
			continue
		}

		table := tableRefFn(pde.PhysAddr())
		for j := 0; j < entriesPerTable; j++ {
			if !table[j].Present() {
				continue
			}
			pageAlloc.freePages(table[j].PhysAddr(), 1)
		}

		pageAlloc.freePages(pde.PhysAddr(), 1)
	}

	pageAlloc.freePages(dir, 1)
}

// CopyUVM clones an address space for fork: a new directory plus an eager
// copy of every mapped user page at the same virtual address with the same
// permissions. On failure the partial clone is destroyed.
func CopyUVM(dir uintptr) (uintptr, *kernel.Error) {
	toDir, err := CreateUVM()
	if err != nil {
		return 0, err
	}

	dirTable := tableRefFn(dir)
	for i := pdeIndex(TaskBase); i < entriesPerTable; i++ {
		pde := &dirTable[i]
		if !pde.Present() {
			continue
		}

		table := tableRefFn(pde.PhysAddr())
		for j := 0; j < entriesPerTable; j++ {
			pte := table[j]
			if !pte.Present() {
				continue
			}

			page := pageAlloc.allocPages(1)
			if page == 0 {
				DestroyUVM(toDir)
				return 0, ErrOutOfMemory
			}

			vaddr := uintptr(i)<<22 | uintptr(j)<<12
			if err := CreateMap(toDir, vaddr, page, 1, pte.Perm()); err != nil {
				pageAlloc.freePages(page, 1)
				DestroyUVM(toDir)
				return 0, err
			}

			copy(physBytesFn(page, PageSize), physBytesFn(pte.PhysAddr(), PageSize))
		}
	}

	return toDir, nil
}

// GetPaddr translates a virtual address through the given directory. It
// returns 0 when the address is not mapped.
func GetPaddr(dir, vaddr uintptr) uintptr {
	pte := findPTE(dir, vaddr, false)
	if pte == nil || !pte.Present() {
		return 0
	}
	return pte.PhysAddr() + (vaddr & (PageSize - 1))
}

// CopyUVMData copies size bytes from a kernel-visible buffer into the
// destination address space, honouring page boundaries on the destination
// side. dir may belong to a task other than the current one.
func CopyUVMData(to uintptr, dir uintptr, from uintptr, size uintptr) *kernel.Error {
	for size > 0 {
		toPaddr := GetPaddr(dir, to)
		if toPaddr == 0 {
			return ErrNoMapping
		}

		offset := toPaddr & (PageSize - 1)
		chunk := PageSize - offset
		if chunk > size {
			chunk = size
		}

		copy(physBytesFn(toPaddr, chunk), physBytesFn(from, chunk))

		size -= chunk
		to += chunk
		from += chunk
	}

	return nil
}

// AllocForPageDir backs [vaddr, vaddr+size) in the given directory with
// freshly allocated physical pages carrying the supplied permissions. vaddr
// is rounded down and size up to page boundaries.
func AllocForPageDir(dir, vaddr, size uintptr, perm uint32) *kernel.Error {
	count := int(up2(size, PageSize) / PageSize)
	currVaddr := down2(vaddr, PageSize)

	for i := 0; i < count; i++ {
		paddr := pageAlloc.allocPages(1)
		if paddr == 0 {
			return ErrOutOfMemory
		}

		if err := CreateMap(dir, currVaddr, paddr, 1, perm); err != nil {
			pageAlloc.freePages(paddr, 1)
			return err
		}

		currVaddr += PageSize
	}

	return nil
}

// clearPage zeroes one physical page.
func clearPage(addr uintptr) {
	b := physBytesFn(addr, PageSize)
	for i := range b {
		b[i] = 0
	}
}
