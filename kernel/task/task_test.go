package task

import (
	"testing"
	"unsafe"

	"minos/fs"
	"minos/kernel"
	"minos/kernel/irq"
	"minos/kernel/mm"
	"minos/kernel/syscall"
)

// fakeKernel mocks the descriptor, memory and cpu seams so the scheduler
// and lifecycle paths can run on a host OS.
type fakeKernel struct {
	nextSel  int
	nextPage uintptr
	nextDir  uintptr

	freedPages    []uintptr
	destroyedDirs []uintptr
	copiedFrom    []uintptr
	switches      []int
	activeDirs    []uintptr

	frame syscall.Frame

	failCopyUVM bool
}

func installFakeKernel(t *testing.T) *fakeKernel {
	t.Helper()

	orig := struct {
		switchTask func(int)
		loadTR     func(uint16)
		iretUser   func(uint32, uint32, uint32, uint32, uint32)
		enter      func() irq.State
		leave      func(irq.State)
		createUVM  func() (uintptr, *kernel.Error)
		destroyUVM func(uintptr)
		copyUVM    func(uintptr) (uintptr, *kernel.Error)
		copyData   func(uintptr, uintptr, uintptr, uintptr) *kernel.Error
		allocFor   func(uintptr, uintptr, uintptr, uint32) *kernel.Error
		allocPage  func() (uintptr, *kernel.Error)
		freePage   func(uintptr)
		bytes      func(uintptr, uintptr) []byte
		switchDir  func(uintptr)
		gdtAlloc   func() (int, *kernel.Error)
		gdtFree    func(int)
		setSegment func(int, uintptr, uint32, uint16)
		frameAt    func(uintptr) *syscall.Frame
	}{
		switchTaskFn, loadTRFn, iretUserFn, enterProtectionFn, leaveProtectionFn,
		createUVMFn, destroyUVMFn, copyUVMFn, copyUVMDataFn, allocForPageDirFn,
		allocPageFn, freePageFn, kernelBytesFn, switchPageDirFn,
		gdtAllocFn, gdtFreeFn, setSegmentFn, frameAtFn,
	}

	f := &fakeKernel{nextSel: 4 * 8, nextPage: 0x300000, nextDir: 0x800000}

	switchTaskFn = func(sel int) { f.switches = append(f.switches, sel) }
	loadTRFn = func(sel uint16) {}
	iretUserFn = func(eip, cs, eflags, esp, ss uint32) {}
	enterProtectionFn = func() irq.State { return 0 }
	leaveProtectionFn = func(irq.State) {}

	createUVMFn = func() (uintptr, *kernel.Error) {
		dir := f.nextDir
		f.nextDir += mm.PageSize
		return dir, nil
	}
	destroyUVMFn = func(dir uintptr) { f.destroyedDirs = append(f.destroyedDirs, dir) }
	copyUVMFn = func(dir uintptr) (uintptr, *kernel.Error) {
		if f.failCopyUVM {
			return 0, mm.ErrOutOfMemory
		}
		f.copiedFrom = append(f.copiedFrom, dir)
		clone := f.nextDir
		f.nextDir += mm.PageSize
		return clone, nil
	}
	copyUVMDataFn = func(to, dir, from, size uintptr) *kernel.Error { return nil }
	allocForPageDirFn = func(dir, vaddr, size uintptr, perm uint32) *kernel.Error { return nil }
	allocPageFn = func() (uintptr, *kernel.Error) {
		page := f.nextPage
		f.nextPage += mm.PageSize
		return page, nil
	}
	freePageFn = func(addr uintptr) { f.freedPages = append(f.freedPages, addr) }
	switchPageDirFn = func(dir uintptr) { f.activeDirs = append(f.activeDirs, dir) }

	gdtAllocFn = func() (int, *kernel.Error) {
		sel := f.nextSel
		f.nextSel += 8
		return sel, nil
	}
	gdtFreeFn = func(sel int) {}
	setSegmentFn = func(selector int, base uintptr, limit uint32, attr uint16) {}

	frameAtFn = func(addr uintptr) *syscall.Frame { return &f.frame }

	// fresh manager state
	taskManager = manager{}
	taskManager.readyList.Init()
	taskManager.taskList.Init()
	taskManager.sleepList.Init()
	for i := range taskTable {
		taskTable[i] = Task{}
	}
	tableMutex.Init()
	pidCounter = 0

	t.Cleanup(func() {
		switchTaskFn, loadTRFn, iretUserFn, enterProtectionFn, leaveProtectionFn = orig.switchTask, orig.loadTR, orig.iretUser, orig.enter, orig.leave
		createUVMFn, destroyUVMFn, copyUVMFn, copyUVMDataFn, allocForPageDirFn = orig.createUVM, orig.destroyUVM, orig.copyUVM, orig.copyData, orig.allocFor
		allocPageFn, freePageFn, kernelBytesFn, switchPageDirFn = orig.allocPage, orig.freePage, orig.bytes, orig.switchDir
		gdtAllocFn, gdtFreeFn, setSegmentFn, frameAtFn = orig.gdtAlloc, orig.gdtFree, orig.setSegment, orig.frameAt

		taskManager = manager{}
		for i := range taskTable {
			taskTable[i] = Task{}
		}
		pidCounter = 0
	})

	return f
}

// spawn initializes a pool task and makes it ready.
func spawn(t *testing.T, name string) *Task {
	t.Helper()
	task := allocTask()
	if task == nil {
		t.Fatal("task pool exhausted")
	}
	if err := initTask(task, name, 0, 0x80000000, 0x80010000); err != nil {
		t.Fatal(err)
	}
	Start(task)
	return task
}

func TestInitTaskDefaults(t *testing.T) {
	installFakeKernel(t)

	a := spawn(t, "a")
	b := spawn(t, "b")

	if a.pid == b.pid || a.pid == 0 {
		t.Fatalf("expected unique non-zero pids; got %d and %d", a.pid, b.pid)
	}
	if a.timeSlice != kernel.TaskTimeSliceDefault || a.sliceTicks != a.timeSlice {
		t.Fatal("expected the default time slice loaded")
	}
	if a.state != Ready {
		t.Fatalf("expected Ready after Start; got %v", a.state)
	}
	if taskManager.taskList.Count() != 2 {
		t.Fatalf("expected 2 tasks on the all-tasks list; got %d", taskManager.taskList.Count())
	}
	if a.tss.SS0 != uint32(kernel.KernelSelectorDS) {
		t.Fatal("expected the ring 0 stack segment set to the kernel data selector")
	}
	if a.tss.CR3 == b.tss.CR3 {
		t.Fatal("expected distinct address spaces")
	}
}

func TestDispatchPicksFIFOAndRemovesFromReady(t *testing.T) {
	f := installFakeKernel(t)

	a := spawn(t, "a")
	b := spawn(t, "b")

	Dispatch()

	if taskManager.currTask != a || a.state != Running {
		t.Fatal("expected the first ready task to run")
	}
	if taskManager.readyList.Count() != 1 {
		t.Fatal("expected the running task removed from the ready list")
	}
	if len(f.switches) != 1 || f.switches[0] != a.tssSel {
		t.Fatalf("expected a hardware switch to task a; got %v", f.switches)
	}

	// the running task keeps the CPU on a plain dispatch
	Dispatch()
	if taskManager.currTask != a || len(f.switches) != 1 {
		t.Fatal("expected no switch while the current task is running")
	}

	_ = b
}

func TestDispatchFallsBackToIdle(t *testing.T) {
	f := installFakeKernel(t)

	if err := initTask(&taskManager.idleTask, "idle task", FlagSystem, 0, 0); err != nil {
		t.Fatal(err)
	}

	Dispatch()
	if taskManager.currTask != &taskManager.idleTask {
		t.Fatal("expected the idle task with an empty ready list")
	}

	// a task becoming ready preempts idle at the next dispatch
	a := spawn(t, "a")
	Dispatch()
	if taskManager.currTask != a {
		t.Fatal("expected idle to cede to a ready task")
	}
	if len(f.switches) != 2 {
		t.Fatalf("expected two switches; got %d", len(f.switches))
	}
}

func TestYieldRotatesReadyQueue(t *testing.T) {
	installFakeKernel(t)

	a := spawn(t, "a")
	b := spawn(t, "b")

	Dispatch()
	if taskManager.currTask != a {
		t.Fatal("setup: expected a running")
	}

	Yield()
	if taskManager.currTask != b || b.state != Running {
		t.Fatal("expected yield to hand the CPU to b")
	}
	if a.state != Ready || taskManager.readyList.Last().Owner.(*Task) != a {
		t.Fatal("expected a re-queued at the tail")
	}

	Yield()
	if taskManager.currTask != a {
		t.Fatal("expected round-robin back to a")
	}
}

func TestYieldWithoutCompetitors(t *testing.T) {
	f := installFakeKernel(t)

	a := spawn(t, "a")
	Dispatch()
	switchesBefore := len(f.switches)

	Yield()
	if taskManager.currTask != a || a.state != Running {
		t.Fatal("expected the lone task to keep running")
	}
	if a.runNode.Next() != nil || taskManager.readyList.Count() != 0 {
		t.Fatal("expected the lone task off the ready list after yield")
	}
	if len(f.switches) != switchesBefore {
		t.Fatal("expected no hardware switch")
	}
}

func TestTimeTickSliceExpiry(t *testing.T) {
	installFakeKernel(t)

	a := spawn(t, "a")
	b := spawn(t, "b")
	Dispatch()

	a.sliceTicks = 1
	TimeTick()

	if taskManager.currTask != b {
		t.Fatal("expected slice expiry to rotate to b")
	}
	if a.state != Ready || a.sliceTicks != a.timeSlice {
		t.Fatal("expected a re-queued with a reloaded slice")
	}
}

func TestTimeTickKeepsRunningTask(t *testing.T) {
	installFakeKernel(t)

	a := spawn(t, "a")
	spawn(t, "b")
	Dispatch()

	a.sliceTicks = 5
	TimeTick()

	if taskManager.currTask != a || a.sliceTicks != 4 {
		t.Fatal("expected the running task to keep its remaining slice")
	}
}

func TestMSleepRounding(t *testing.T) {
	installFakeKernel(t)

	specs := []struct {
		ms, wantTicks int
	}{
		{100, 10},
		{5, 1},  // sub-tick sleeps still take one full tick
		{15, 2}, // partial ticks round up
		{10, 1},
	}

	for _, spec := range specs {
		a := spawn(t, "sleeper")
		Dispatch()

		MSleep(spec.ms)
		if a.state != Sleeping {
			t.Fatalf("ms=%d: expected Sleeping; got %v", spec.ms, a.state)
		}
		if a.sleepTicks != spec.wantTicks {
			t.Fatalf("ms=%d: expected %d ticks; got %d", spec.ms, spec.wantTicks, a.sleepTicks)
		}

		// drain: wake it and reap the state for the next spec
		for i := 0; i < spec.wantTicks; i++ {
			TimeTick()
		}
		if a.state != Running && a.state != Ready {
			t.Fatalf("ms=%d: expected the sleeper woken; got %v", spec.ms, a.state)
		}

		taskManager.readyList.Init()
		taskManager.sleepList.Init()
		taskManager.currTask = nil
		freeTask(a)
	}
}

func TestMSleepWakeupOrder(t *testing.T) {
	installFakeKernel(t)

	a := spawn(t, "a")
	b := spawn(t, "b")
	Dispatch() // a runs

	MSleep(30) // a sleeps 3 ticks; b runs
	if taskManager.currTask != b {
		t.Fatal("setup: expected b running")
	}

	TimeTick()
	TimeTick()
	if a.state != Sleeping {
		t.Fatal("expected a still asleep after 2 ticks")
	}

	TimeTick()
	if a.state != Ready {
		t.Fatalf("expected a woken on the third tick; got %v", a.state)
	}
}

func TestForkChildState(t *testing.T) {
	f := installFakeKernel(t)

	parent := spawn(t, "shell")
	Dispatch()

	// the saved syscall frame the child is built from
	f.frame = syscall.Frame{
		EIP: 0x80001234, ESP: 0x8FFF0000,
		EBX: 1, ECX: 2, EDX: 3, ESI: 4, EDI: 5, EBP: 6,
		CS: 0x1B, DS: 0x23, ES: 0x23, FS: 0x23, GS: 0x23,
		EFlags: 0x246,
	}

	// give the parent an open file to inherit
	file := fs.FileAlloc()
	parent.fileTable[3] = file
	parent.heapStart = 0x80002000
	parent.heapEnd = 0x80003000

	childPid := Fork()
	if childPid <= 0 {
		t.Fatalf("expected fork to return the child pid; got %d", childPid)
	}
	if childPid == parent.pid {
		t.Fatal("expected a distinct child pid")
	}

	var child *Task
	for i := range taskTable {
		if taskTable[i].pid == childPid {
			child = &taskTable[i]
		}
	}
	if child == nil {
		t.Fatal("child not found in the task pool")
	}

	if child.tss.EAX != 0 {
		t.Fatal("expected the child to see a zero return value")
	}
	if child.tss.EIP != f.frame.EIP {
		t.Fatal("expected the child to resume at the parent's saved EIP")
	}
	if want := f.frame.ESP + 4*syscall.ParamCount; child.tss.ESP != want {
		t.Fatalf("expected the child ESP adjusted past the gate args; got 0x%x want 0x%x", child.tss.ESP, want)
	}
	if child.tss.EBX != 1 || child.tss.EDI != 5 || child.tss.EBP != 6 {
		t.Fatal("expected the parent's saved registers copied")
	}
	if child.parent != parent {
		t.Fatal("expected the parent back-reference set")
	}
	if child.state != Ready {
		t.Fatal("expected the child ready")
	}
	if child.fileTable[3] != file || file.Ref != 2 {
		t.Fatal("expected the descriptor table duplicated with a bumped ref count")
	}
	if child.heapStart != parent.heapStart || child.heapEnd != parent.heapEnd {
		t.Fatal("expected the heap bounds inherited")
	}
	if len(f.copiedFrom) != 1 || f.copiedFrom[0] != uintptr(parent.tss.CR3) {
		t.Fatal("expected the parent's address space copied")
	}

	fs.FileFree(file)
	fs.FileFree(file)
}

func TestForkFailureCleanup(t *testing.T) {
	f := installFakeKernel(t)

	spawn(t, "shell")
	Dispatch()

	f.failCopyUVM = true
	if got := Fork(); got != -1 {
		t.Fatalf("expected fork failure; got %d", got)
	}

	// the child slot must be back in the pool
	free := 0
	tableMutex.Lock()
	for i := range taskTable {
		if taskTable[i].name == "" {
			free++
		}
	}
	tableMutex.Unlock()
	if free != kernel.TaskNR-1 {
		t.Fatalf("expected only the parent slot in use; %d free", free)
	}

	// the child's kernel stack and its abandoned address space were freed
	if len(f.freedPages) == 0 || len(f.destroyedDirs) == 0 {
		t.Fatal("expected the child's resources released")
	}
}

func TestWaitReapsZombie(t *testing.T) {
	installFakeKernel(t)

	parent := spawn(t, "shell")
	Dispatch()

	child := spawn(t, "worker")
	child.parent = parent
	child.state = Zombie
	child.status = 7
	taskManager.readyList.Remove(&child.runNode)
	childPid := child.pid

	var status int32
	pid := Wait(uintptr(unsafe.Pointer(&status)))

	if pid != childPid {
		t.Fatalf("expected the zombie child pid %d; got %d", childPid, pid)
	}
	if status != 7 {
		t.Fatalf("expected exit status 7; got %d", status)
	}
	if child.name != "" {
		t.Fatal("expected the child slot released")
	}
}

func TestWaitWithoutChildren(t *testing.T) {
	installFakeKernel(t)

	spawn(t, "loner")
	Dispatch()

	if got := Wait(0); got != -1 {
		t.Fatalf("expected -1 with no children; got %d", got)
	}
}

func TestExitBecomesZombieAndWakesParent(t *testing.T) {
	installFakeKernel(t)

	parent := spawn(t, "shell")
	child := spawn(t, "worker")
	child.parent = parent

	// parent blocks in Wait
	Dispatch() // parent runs
	parent.state = Blocked
	parent.waitingChild = true
	taskManager.currTask = child
	child.state = Running
	taskManager.readyList.Remove(&child.runNode)

	Exit(9)

	if child.state != Zombie || child.status != 9 {
		t.Fatalf("expected a zombie with status 9; got %v/%d", child.state, child.status)
	}
	// the woken parent is the only ready task, so Exit's dispatch runs it
	if taskManager.currTask != parent || parent.state != Running {
		t.Fatal("expected the waiting parent woken and dispatched")
	}
}

func TestExitReparentsChildren(t *testing.T) {
	installFakeKernel(t)

	if err := initTask(&taskManager.firstTask, "first task", 0, 0x80000000, 0); err != nil {
		t.Fatal(err)
	}

	parent := spawn(t, "middle")
	orphan := spawn(t, "orphan")
	orphan.parent = parent

	taskManager.currTask = parent
	parent.state = Running
	taskManager.readyList.Remove(&parent.runNode)

	Exit(0)

	if orphan.parent != &taskManager.firstTask {
		t.Fatal("expected the orphan re-parented to the first task")
	}
}

func TestExitWakesInitForOrphanedZombie(t *testing.T) {
	installFakeKernel(t)

	if err := initTask(&taskManager.firstTask, "first task", 0, 0x80000000, 0); err != nil {
		t.Fatal(err)
	}
	taskManager.firstTask.state = Blocked
	taskManager.firstTask.waitingChild = true

	grandparent := spawn(t, "gp")
	parent := spawn(t, "middle")
	parent.parent = grandparent
	zombieChild := spawn(t, "dead")
	zombieChild.parent = parent
	zombieChild.state = Zombie
	taskManager.readyList.Remove(&zombieChild.runNode)

	taskManager.currTask = parent
	parent.state = Running
	taskManager.readyList.Remove(&parent.runNode)

	Exit(0)

	if taskManager.firstTask.state != Ready {
		t.Fatal("expected the first task woken to reap the orphaned zombie")
	}
}

func TestSbrk(t *testing.T) {
	f := installFakeKernel(t)

	task := spawn(t, "heapy")
	Dispatch()
	task.heapStart = 0x80004000
	task.heapEnd = 0x80004000

	// query leaves the break untouched
	if got := Sbrk(0); got != 0x80004000 {
		t.Fatalf("expected sbrk(0) to return the break; got 0x%x", got)
	}
	if task.heapEnd != 0x80004000 {
		t.Fatal("expected sbrk(0) not to move the break")
	}

	var allocs []uintptr
	allocForPageDirFn = func(dir, vaddr, size uintptr, perm uint32) *kernel.Error {
		for p := vaddr; p < vaddr+size; p += mm.PageSize {
			allocs = append(allocs, p)
		}
		return nil
	}

	// page-aligned growth allocates exactly the touched pages
	if got := Sbrk(0x1000); got != 0x80004000 {
		t.Fatalf("expected the previous break returned; got 0x%x", got)
	}
	if len(allocs) != 1 || allocs[0] != 0x80004000 {
		t.Fatalf("expected one fresh page; got %v", allocs)
	}

	// a page-aligned break has no page mapped under it yet, so growth
	// from it maps the page the break starts in
	allocs = nil
	if got := Sbrk(0x10); got != 0x80005000 {
		t.Fatalf("expected break 0x80005000 returned; got 0x%x", got)
	}
	if len(allocs) != 1 || allocs[0] != 0x80005000 {
		t.Fatalf("expected the page at the break mapped; got %v", allocs)
	}

	// crossing exactly one page boundary allocates exactly one page
	allocs = nil
	if got := Sbrk(0x1000); got != 0x80005010 {
		t.Fatalf("expected break 0x80005010 returned; got 0x%x", got)
	}
	if len(allocs) != 1 || allocs[0] != 0x80006000 {
		t.Fatalf("expected exactly the next page; got %v", allocs)
	}
	if task.heapEnd != 0x80006010 {
		t.Fatalf("expected final break 0x80006010; got 0x%x", task.heapEnd)
	}

	_ = f
}

func TestFdHelpers(t *testing.T) {
	installFakeKernel(t)

	spawn(t, "filer")
	Dispatch()

	file := fs.FileAlloc()
	defer fs.FileFree(file)

	fd := AllocFd(file)
	if fd != 0 {
		t.Fatalf("expected the lowest descriptor; got %d", fd)
	}
	if File(fd) != file {
		t.Fatal("expected lookup to return the bound file")
	}

	fd2 := AllocFd(file)
	if fd2 != 1 {
		t.Fatalf("expected descriptor 1; got %d", fd2)
	}

	RemoveFd(fd)
	if File(fd) != nil {
		t.Fatal("expected the descriptor released")
	}
	if AllocFd(file) != fd {
		t.Fatal("expected the freed descriptor reused")
	}

	if File(-1) != nil || File(kernel.TaskOFileNR) != nil {
		t.Fatal("expected out-of-range descriptors to fail")
	}
}

func TestFdExhaustion(t *testing.T) {
	installFakeKernel(t)

	spawn(t, "filer")
	Dispatch()

	file := fs.FileAlloc()
	defer fs.FileFree(file)

	for i := 0; i < kernel.TaskOFileNR; i++ {
		if AllocFd(file) < 0 {
			t.Fatalf("descriptor %d failed early", i)
		}
	}
	if AllocFd(file) >= 0 {
		t.Fatal("expected allocation beyond the per-task limit to fail")
	}
}

func TestTaskPoolExhaustion(t *testing.T) {
	installFakeKernel(t)

	for i := 0; i < kernel.TaskNR; i++ {
		task := allocTask()
		if task == nil {
			t.Fatalf("slot %d failed early", i)
		}
		task.name = "x"
	}
	if allocTask() != nil {
		t.Fatal("expected an exhausted task pool")
	}
}
