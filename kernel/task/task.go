// Package task implements the task manager: the fixed task pool, per-task
// TSS state, the round-robin scheduler with its ready and sleep queues, and
// the process lifecycle operations (fork, execve, wait, exit).
package task

import (
	"unsafe"

	"minos/fs"
	"minos/kernel"
	"minos/kernel/cpu"
	"minos/kernel/gdt"
	"minos/kernel/ipc"
	"minos/kernel/irq"
	"minos/kernel/list"
	"minos/kernel/mm"
	"minos/kernel/syscall"
)

// State is the task lifecycle state.
type State int

const (
	Created State = iota
	Ready
	Running
	Sleeping
	Blocked
	Zombie
)

// FlagSystem creates a kernel-privilege task.
const FlagSystem = 1 << 0

// Task is one task control block, drawn from the fixed pool.
type Task struct {
	state State
	name  string

	pid    int
	parent *Task

	heapStart, heapEnd uintptr

	status int

	sleepTicks int

	timeSlice, sliceTicks int

	// waitingChild marks a task blocked inside Wait, so an exiting child
	// knows to wake it.
	waitingChild bool

	fileTable [kernel.TaskOFileNR]*fs.File

	tss    gdt.TSS
	tssSel int

	runNode, waitNode, allNode list.Node
}

// Pid returns the task's process id.
func (t *Task) Pid() int { return t.pid }

// Name returns the task's name.
func (t *Task) Name() string { return t.name }

// State returns the task's lifecycle state.
func (t *Task) State() State { return t.state }

// manager is the single scheduler instance.
type manager struct {
	currTask *Task

	readyList list.List
	taskList  list.List
	sleepList list.List

	firstTask Task
	idleTask  Task

	appCodeSel int
	appDataSel int
}

var (
	taskManager manager
	taskTable   [kernel.TaskNR]Task
	tableMutex  ipc.Mutex

	errNoFreeTask = &kernel.Error{Module: "task", Message: "task pool exhausted"}

	// Seams for the host test suite. The hardware task switch, the ring 3
	// drop and the descriptor/memory managers are all routed through
	// package-level function variables.
	switchTaskFn = func(tssSel int) { cpu.FarJump(uint16(tssSel)) }
	loadTRFn     = cpu.LoadTaskRegister
	iretUserFn   = cpu.IRetToUser

	enterProtectionFn = irq.EnterProtection
	leaveProtectionFn = irq.LeaveProtection

	createUVMFn       = mm.CreateUVM
	destroyUVMFn      = mm.DestroyUVM
	copyUVMFn         = mm.CopyUVM
	copyUVMDataFn     = mm.CopyUVMData
	allocForPageDirFn = mm.AllocForPageDir
	allocPageFn       = mm.AllocPage
	freePageFn        = mm.FreePage
	kernelBytesFn     = mm.KernelBytes
	switchPageDirFn   = mm.SwitchPageDir

	gdtAllocFn   = gdt.AllocDesc
	gdtFreeFn    = gdt.FreeDesc
	setSegmentFn = gdt.SetSegment

	frameAtFn = func(addr uintptr) *syscall.Frame {
		return (*syscall.Frame)(unsafe.Pointer(addr))
	}
)

// tssInit builds the hardware task state for a new task: a TSS descriptor in
// the GDT, a kernel stack page, segment selectors matching the privilege
// level and a fresh address space.
func tssInit(t *Task, flags int, entry, esp uintptr) *kernel.Error {
	tssSel, err := gdtAllocFn()
	if err != nil {
		return err
	}

	setSegmentFn(tssSel, uintptr(unsafe.Pointer(&t.tss)), uint32(unsafe.Sizeof(gdt.TSS{})),
		gdt.SegPPresent|gdt.SegDPL0|gdt.SegTypeTSS)

	t.tss = gdt.TSS{}

	kernelStack, err := allocPageFn()
	if err != nil {
		gdtFreeFn(tssSel)
		return err
	}

	var codeSel, dataSel int
	if flags&FlagSystem != 0 {
		codeSel = kernel.KernelSelectorCS | gdt.SegRPL0
		dataSel = kernel.KernelSelectorDS | gdt.SegRPL0
	} else {
		codeSel = taskManager.appCodeSel | gdt.SegRPL3
		dataSel = taskManager.appDataSel | gdt.SegRPL3
	}

	t.tss.EIP = uint32(entry)
	if esp != 0 {
		t.tss.ESP = uint32(esp)
	} else {
		// kernel tasks run on their kernel stack
		t.tss.ESP = uint32(kernelStack + mm.PageSize)
	}
	t.tss.ESP0 = uint32(kernelStack + mm.PageSize)
	t.tss.SS0 = uint32(kernel.KernelSelectorDS)
	t.tss.EFlags = uint32(cpu.FlagReserved | cpu.FlagIF)
	t.tss.CS = uint32(codeSel)
	t.tss.ES = uint32(dataSel)
	t.tss.SS = uint32(dataSel)
	t.tss.DS = uint32(dataSel)
	t.tss.FS = uint32(dataSel)
	t.tss.GS = uint32(dataSel)
	t.tss.IOMap = 0

	pageDir, err := createUVMFn()
	if err != nil {
		gdtFreeFn(tssSel)
		freePageFn(kernelStack)
		return err
	}
	t.tss.CR3 = uint32(pageDir)

	t.tssSel = tssSel
	return nil
}

// initTask prepares a task for scheduling: hardware state, accounting fields
// and membership in the all-tasks list.
func initTask(t *Task, name string, flags int, entry, esp uintptr) *kernel.Error {
	if err := tssInit(t, flags, entry, esp); err != nil {
		return err
	}

	t.name = name
	t.state = Created
	t.sleepTicks = 0
	t.timeSlice = kernel.TaskTimeSliceDefault
	t.sliceTicks = t.timeSlice
	t.parent = nil
	t.heapStart = 0
	t.heapEnd = 0
	t.waitingChild = false

	t.runNode.Init(t)
	t.waitNode.Init(t)
	t.allNode.Init(t)

	for i := range t.fileTable {
		t.fileTable[i] = nil
	}

	state := enterProtectionFn()
	t.pid = nextPid()
	taskManager.taskList.InsertLast(&t.allNode)
	leaveProtectionFn(state)

	return nil
}

var pidCounter int

// nextPid hands out process ids; they stay unique across the lifetime of
// all live and zombie tasks.
func nextPid() int {
	pidCounter++
	return pidCounter
}

// uninit releases everything a task owns: its TSS slot, kernel stack page
// and address space, then clears the control block.
func uninit(t *Task) {
	if t.tssSel != 0 {
		gdtFreeFn(t.tssSel)
	}

	if t.tss.ESP0 != 0 {
		freePageFn(uintptr(t.tss.ESP0) - mm.PageSize)
	}

	if t.tss.CR3 != 0 {
		destroyUVMFn(uintptr(t.tss.CR3))
	}

	*t = Task{}
}

// Start makes a freshly initialized task runnable.
func Start(t *Task) {
	state := enterProtectionFn()
	SetReady(t)
	leaveProtectionFn(state)
}

// allocTask claims a free slot of the task pool.
func allocTask() *Task {
	tableMutex.Lock()
	defer tableMutex.Unlock()

	for i := 0; i < kernel.TaskNR; i++ {
		if taskTable[i].name == "" {
			return &taskTable[i]
		}
	}
	return nil
}

// freeTask returns a slot to the pool.
func freeTask(t *Task) {
	tableMutex.Lock()
	t.name = ""
	tableMutex.Unlock()
}

// Current returns the running task.
func Current() *Task {
	return taskManager.currTask
}

// SetReady queues a task at the tail of the ready list. The idle task is
// never queued; the scheduler falls back to it when the list is empty.
func SetReady(t *Task) {
	if t == &taskManager.idleTask {
		return
	}
	taskManager.readyList.InsertLast(&t.runNode)
	t.state = Ready
	t.waitingChild = false
}

// SetBlock removes a task from the ready list without assigning a new
// state; the caller decides what the task is waiting for.
func SetBlock(t *Task) {
	if t == &taskManager.idleTask {
		return
	}
	if t.state == Ready {
		taskManager.readyList.Remove(&t.runNode)
	}
}

// setSleep parks a task on the sleep list for the given number of ticks.
func setSleep(t *Task, ticks int) {
	if ticks <= 0 {
		return
	}

	t.sleepTicks = ticks
	t.state = Sleeping
	taskManager.sleepList.InsertLast(&t.runNode)
}

// setWakeup removes a task from the sleep list.
func setWakeup(t *Task) {
	taskManager.sleepList.Remove(&t.runNode)
}

// nextRun picks the task to dispatch. A Running current task keeps the CPU
// until it blocks, sleeps, yields or its slice expires — except the idle
// task, which cedes to any ready task.
func nextRun() *Task {
	curr := taskManager.currTask

	if curr != nil && curr != &taskManager.idleTask && curr.state == Running {
		return curr
	}

	if taskManager.readyList.Count() == 0 {
		if curr != nil && curr == &taskManager.idleTask && curr.state == Running {
			return curr
		}
		return &taskManager.idleTask
	}

	return taskManager.readyList.First().Owner.(*Task)
}

// Dispatch selects the next runnable task and, if it differs from the
// current one, performs the hardware task switch. The far jump through the
// target TSS selector saves and restores the full register state, CR3
// included, so the address space switches with the task.
func Dispatch() {
	state := enterProtectionFn()

	to := nextRun()
	switch {
	case to != taskManager.currTask:
		if to != &taskManager.idleTask {
			taskManager.readyList.Remove(&to.runNode)
		}
		taskManager.currTask = to
		to.state = Running
		switchTaskFn(to.tssSel)
	case to != nil && to.state != Running:
		// the current task re-queued itself and immediately won the
		// CPU back
		if to != &taskManager.idleTask {
			taskManager.readyList.Remove(&to.runNode)
		}
		to.state = Running
	}

	leaveProtectionFn(state)
}

// TimeTick is the scheduler half of the timer interrupt: slice accounting
// for the running task, sleep expiry for everyone else, then a dispatch.
func TimeTick() {
	state := enterProtectionFn()

	curr := taskManager.currTask
	if curr != nil && curr != &taskManager.idleTask && curr.state == Running {
		if curr.sliceTicks--; curr.sliceTicks <= 0 {
			curr.sliceTicks = curr.timeSlice
			SetReady(curr)
		}
	}

	for node := taskManager.sleepList.First(); node != nil; {
		next := node.Next()

		t := node.Owner.(*Task)
		if t.sleepTicks--; t.sleepTicks == 0 {
			setWakeup(t)
			SetReady(t)
		}

		node = next
	}

	Dispatch()
	leaveProtectionFn(state)
}

// Yield gives up the rest of the slice if anyone else is ready to run.
func Yield() int {
	state := enterProtectionFn()

	if taskManager.readyList.Count() > 0 {
		SetReady(taskManager.currTask)
		Dispatch()
	}

	leaveProtectionFn(state)
	return 0
}

// MSleep parks the current task for at least ms milliseconds, rounded up to
// whole ticks; sub-tick requests still sleep one full tick.
func MSleep(ms int) {
	if ms < kernel.TickMs {
		ms = kernel.TickMs
	}

	state := enterProtectionFn()

	setSleep(taskManager.currTask, (ms+kernel.TickMs-1)/kernel.TickMs)
	Dispatch()

	leaveProtectionFn(state)
}

// GetPid returns the current task's pid.
func GetPid() int {
	return taskManager.currTask.pid
}

// Init brings up the task manager: the application segment descriptors, the
// scheduler lists, the idle task and the scheduler hooks the other
// subsystems call back through.
func Init() *kernel.Error {
	for i := range taskTable {
		taskTable[i] = Task{}
	}
	tableMutex.Init()

	dataSel, err := gdtAllocFn()
	if err != nil {
		return err
	}
	setSegmentFn(dataSel, 0x00000000, 0xFFFFFFFF,
		gdt.SegPPresent|gdt.SegDPL3|gdt.SegSNormal|gdt.SegTypeData|gdt.SegTypeRW|gdt.SegD)
	taskManager.appDataSel = dataSel

	codeSel, err := gdtAllocFn()
	if err != nil {
		return err
	}
	setSegmentFn(codeSel, 0x00000000, 0xFFFFFFFF,
		gdt.SegPPresent|gdt.SegDPL3|gdt.SegSNormal|gdt.SegTypeCode|gdt.SegTypeRW|gdt.SegD)
	taskManager.appCodeSel = codeSel

	taskManager.readyList.Init()
	taskManager.taskList.Init()
	taskManager.sleepList.Init()

	if err := initTask(&taskManager.idleTask, "idle task", FlagSystem, idleEntryAddr(), 0); err != nil {
		return err
	}
	taskManager.currTask = nil
	Start(&taskManager.idleTask)

	ipc.SetSchedHooks(
		func() *list.Node {
			if taskManager.currTask == nil {
				return nil
			}
			return &taskManager.currTask.waitNode
		},
		func() {
			if curr := taskManager.currTask; curr != nil {
				SetBlock(curr)
				curr.state = Blocked
			}
		},
		func(node *list.Node) {
			SetReady(node.Owner.(*Task))
		},
		Dispatch,
	)

	irq.SetUserExitFn(func(status int) {
		Exit(status)
	})

	fs.SetTaskHooks(File, AllocFd, RemoveFd)

	registerSyscalls()
	return nil
}
