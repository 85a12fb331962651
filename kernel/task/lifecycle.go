package task

import (
	"unsafe"

	"minos/fs"
	"minos/kernel"
	"minos/kernel/cpu"
	"minos/kernel/elf"
	"minos/kernel/mm"
	"minos/kernel/syscall"
)

// taskArgs is the argument block placed in the reserved area below the user
// stack top; crt0 reads it to build argc/argv for main.
type taskArgs struct {
	RetAddr uint32
	Argc    uint32
	Argv    uint32
}

// argMax bounds the argv vector accepted by execve.
const argMax = 32

// parentFrame locates the syscall frame the call gate pushed onto the
// task's kernel stack; fork and execve read and rewrite it.
func parentFrame(t *Task) *syscall.Frame {
	return frameAtFn(uintptr(t.tss.ESP0) - unsafe.Sizeof(syscall.Frame{}))
}

// Fork clones the current task: same image, duplicated descriptor table,
// eagerly copied address space. The parent gets the child pid back; the
// child resumes at the same point with a zero return value.
func Fork() int {
	parent := taskManager.currTask

	child := allocTask()
	if child == nil {
		return -1
	}

	frame := parentFrame(parent)

	// the child re-enters user mode via a plain return, so its stack must
	// skip the words the call gate copied for the parent
	err := initTask(child, parent.name, 0, uintptr(frame.EIP),
		uintptr(frame.ESP)+unsafe.Sizeof(uint32(0))*syscall.ParamCount)
	if err != nil {
		freeTask(child)
		return -1
	}

	copyOpenedFiles(child)

	tss := &child.tss
	tss.EAX = 0 // fork returns 0 in the child
	tss.EBX = frame.EBX
	tss.ECX = frame.ECX
	tss.EDX = frame.EDX
	tss.ESI = frame.ESI
	tss.EDI = frame.EDI
	tss.EBP = frame.EBP

	tss.CS = frame.CS
	tss.DS = frame.DS
	tss.ES = frame.ES
	tss.FS = frame.FS
	tss.GS = frame.GS
	tss.EFlags = frame.EFlags

	child.parent = parent
	child.heapStart = parent.heapStart
	child.heapEnd = parent.heapEnd

	// replace the empty address space from initTask with a full copy of
	// the parent's
	newDir, cerr := copyUVMFn(uintptr(parent.tss.CR3))
	if cerr != nil {
		uninit(child)
		freeTask(child)
		return -1
	}
	destroyUVMFn(uintptr(child.tss.CR3))
	child.tss.CR3 = uint32(newDir)

	Start(child)
	return child.pid
}

// copyOpenedFiles duplicates the parent's descriptor table into the child,
// bumping each file's reference count.
func copyOpenedFiles(child *Task) {
	parent := taskManager.currTask

	for i, file := range parent.fileTable {
		if file != nil {
			fs.FileIncRef(file)
			child.fileTable[i] = file
		}
	}
}

// userString reads a NUL-terminated string out of the current address
// space, bounded by max.
func userString(addr uintptr, max int) string {
	if addr == 0 {
		return ""
	}

	b := kernelBytesFn(addr, uintptr(max))
	for i := 0; i < max; i++ {
		if b[i] == 0 {
			return string(b[:i])
		}
	}
	return string(b[:max])
}

// baseName strips the directory part of a path.
func baseName(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[i+1:]
		}
	}
	return path
}

// fdSource adapts an open descriptor to the loader's lseek/read contract.
type fdSource struct {
	fd int
}

func (s fdSource) Lseek(offset, whence int) int {
	return fs.Lseek(s.fd, offset, whence)
}

func (s fdSource) Read(buf []byte) int {
	return fs.Read(s.fd, buf)
}

// loadImage opens the named executable and loads it into dir, returning the
// entry point and initial heap bounds.
func loadImage(t *Task, name string, dir uintptr) (uintptr, *kernel.Error) {
	nameBytes := []byte(name)

	fd := fs.Open(nameBytes, 0)
	if fd < 0 {
		return 0, &kernel.Error{Module: "task", Message: "cannot open executable"}
	}
	defer fs.Close(fd)

	entry, heapTop, err := elf.Load(fdSource{fd: fd}, dir)
	if err != nil {
		return 0, err
	}

	t.heapStart = heapTop
	t.heapEnd = heapTop
	return entry, nil
}

// copyArgs lays out {argc, argv, argv table, strings} in the reserved
// argument area of the new address space. The strings still live in the old
// address space, so everything moves through cross-space copies.
func copyArgs(to uintptr, dir uintptr, argv []uintptr) *kernel.Error {
	args := taskArgs{
		Argc: uint32(len(argv)),
		Argv: uint32(to + unsafe.Sizeof(taskArgs{})),
	}

	var table [argMax + 1]uint32
	destArg := to + unsafe.Sizeof(taskArgs{}) + unsafe.Sizeof(uintptr(0))*uintptr(len(argv)+1)

	for i, strAddr := range argv {
		str := userString(strAddr, 256)
		strLen := uintptr(len(str) + 1) // include the terminator

		strBytes := kernelBytesFn(strAddr, strLen)
		if err := copyUVMDataFn(destArg, dir, uintptr(unsafe.Pointer(&strBytes[0])), strLen); err != nil {
			return err
		}

		table[i] = uint32(destArg)
		destArg += strLen
	}
	table[len(argv)] = 0

	tableSize := unsafe.Sizeof(uint32(0)) * uintptr(len(argv)+1)
	if err := copyUVMDataFn(uintptr(args.Argv), dir, uintptr(unsafe.Pointer(&table[0])), tableSize); err != nil {
		return err
	}

	return copyUVMDataFn(to, dir, uintptr(unsafe.Pointer(&args)), unsafe.Sizeof(taskArgs{}))
}

// readArgv collects the argv pointer vector from the current address space.
func readArgv(argvAddr uintptr) []uintptr {
	if argvAddr == 0 {
		return nil
	}

	ptrs := kernelBytesFn(argvAddr, unsafe.Sizeof(uint32(0))*argMax)
	var out []uintptr
	for i := 0; i < argMax; i++ {
		p := uintptr(ptrs[i*4]) | uintptr(ptrs[i*4+1])<<8 | uintptr(ptrs[i*4+2])<<16 | uintptr(ptrs[i*4+3])<<24
		if p == 0 {
			break
		}
		out = append(out, p)
	}
	return out
}

// Execve replaces the current task's image: a fresh address space, the named
// executable loaded into it, a new user stack with the argument block, and a
// rewritten syscall frame so the return from the syscall lands on the new
// entry point. On any failure the old image is reinstalled untouched.
func Execve(nameAddr, argvAddr, envAddr uintptr) int {
	t := taskManager.currTask

	// everything read from the old address space happens before the
	// directory switch
	name := userString(nameAddr, 256)
	argv := readArgv(argvAddr)
	if len(argv) > argMax {
		return -1
	}

	t.name = baseName(name)

	oldDir := uintptr(t.tss.CR3)
	newDir, err := createUVMFn()
	if err != nil {
		return -1
	}

	entry, lerr := loadImage(t, name, newDir)
	if lerr != nil {
		execFail(t, oldDir, newDir)
		return -1
	}

	// user stack, with the argument area reserved at the top
	stackTop := mm.TaskStackTop - mm.TaskArgSize
	if err := allocForPageDirFn(newDir, mm.TaskStackTop-mm.TaskStackSize, mm.TaskStackSize,
		mm.FlagPresent|mm.FlagUser|mm.FlagWritable); err != nil {
		execFail(t, oldDir, newDir)
		return -1
	}

	if err := copyArgs(stackTop, newDir, argv); err != nil {
		execFail(t, oldDir, newDir)
		return -1
	}

	// rewrite the saved syscall frame: the return from this syscall must
	// come up inside the new image as if it had just started
	frame := parentFrame(t)
	frame.EIP = uint32(entry)
	frame.EAX = 0
	frame.EBX = 0
	frame.ECX = 0
	frame.EDX = 0
	frame.ESI = 0
	frame.EDI = 0
	frame.EBP = 0
	frame.EFlags = uint32(cpu.FlagReserved | cpu.FlagIF)
	frame.ESP = uint32(stackTop - unsafe.Sizeof(uint32(0))*syscall.ParamCount)

	t.tss.CR3 = uint32(newDir)
	switchPageDirFn(newDir)

	// the kernel runs on its own stack and mappings, so the old user
	// space can be torn down from here
	destroyUVMFn(oldDir)
	return 0
}

// execFail backs out a half-built image: the old directory is reinstalled
// and the new one destroyed.
func execFail(t *Task, oldDir, newDir uintptr) {
	t.tss.CR3 = uint32(oldDir)
	switchPageDirFn(oldDir)
	destroyUVMFn(newDir)
}

// Wait reaps one zombie child: it returns the child's pid, stores its exit
// status and releases its resources. With live children but no zombie, the
// caller blocks until a child exits; with no children at all it fails.
func Wait(statusAddr uintptr) int {
	curr := taskManager.currTask

	for {
		haveChild := false

		tableMutex.Lock()
		for i := 0; i < kernel.TaskNR; i++ {
			t := &taskTable[i]
			if t.parent != curr || t.name == "" {
				continue
			}
			haveChild = true

			if t.state != Zombie {
				continue
			}

			pid := t.pid
			if statusAddr != 0 {
				status := kernelBytesFn(statusAddr, 4)
				status[0] = byte(t.status)
				status[1] = byte(t.status >> 8)
				status[2] = byte(t.status >> 16)
				status[3] = byte(t.status >> 24)
			}

			state := enterProtectionFn()
			taskManager.taskList.Remove(&t.allNode)
			leaveProtectionFn(state)

			uninit(t)
			t.name = ""

			tableMutex.Unlock()
			return pid
		}
		tableMutex.Unlock()

		if !haveChild {
			return -1
		}

		state := enterProtectionFn()
		curr.state = Blocked
		curr.waitingChild = true
		Dispatch()
		leaveProtectionFn(state)
	}
}

// Exit terminates the current task: descriptors close, children re-parent
// to the first task (waking it if it must reap an orphaned zombie), the
// parent is woken if it is waiting, and the task turns zombie until reaped.
// Exit never returns.
func Exit(status int) {
	curr := taskManager.currTask

	for fd, file := range curr.fileTable {
		if file != nil {
			fs.Close(fd)
			curr.fileTable[fd] = nil
		}
	}

	orphanedZombie := false

	tableMutex.Lock()
	for i := 0; i < kernel.TaskNR; i++ {
		t := &taskTable[i]
		if t.name == "" || t.parent != curr {
			continue
		}

		t.parent = &taskManager.firstTask
		if t.state == Zombie {
			orphanedZombie = true
		}
	}
	tableMutex.Unlock()

	state := enterProtectionFn()

	parent := curr.parent
	if orphanedZombie && parent != &taskManager.firstTask {
		if taskManager.firstTask.waitingChild {
			SetReady(&taskManager.firstTask)
		}
	}

	if parent != nil && parent.waitingChild {
		SetReady(parent)
	}

	curr.status = status
	curr.state = Zombie
	Dispatch()

	leaveProtectionFn(state)
}

// Sbrk grows the current task's heap by incr bytes, allocating user pages
// whenever the break crosses into a fresh page, and returns the previous
// break. incr of zero queries the break. Shrinking is not supported.
func Sbrk(incr int) uintptr {
	t := taskManager.currTask
	preHeapEnd := t.heapEnd

	if incr < 0 {
		return ^uintptr(0)
	}
	if incr == 0 {
		return preHeapEnd
	}

	start := t.heapEnd
	end := start + uintptr(incr)

	startOffset := start % mm.PageSize
	if startOffset != 0 {
		if startOffset+uintptr(incr) <= mm.PageSize {
			// stays within the already-allocated page
			t.heapEnd = end
			return preHeapEnd
		}

		avail := mm.PageSize - startOffset
		start += avail
		incr -= int(avail)
	}

	if incr > 0 {
		if err := allocForPageDirFn(uintptr(t.tss.CR3), start, end-start,
			mm.FlagPresent|mm.FlagUser|mm.FlagWritable); err != nil {
			return ^uintptr(0)
		}
	}

	t.heapEnd = end
	return preHeapEnd
}
