package task

import (
	"minos/kernel"
	"minos/kernel/hal/bootinfo"
	"minos/kernel/mm"
)

// firstTaskPages is the initial allocation for the first task: its code and
// data plus room above them for its stack.
const firstTaskPages = 10

var errFirstTaskTooBig = &kernel.Error{Module: "task", Message: "first task image exceeds its allocation"}

// FirstInit builds and starts the first user task. Its binary is linked
// into the kernel image rather than loaded from disk (the filesystem is not
// up yet); the bytes are copied into a fresh user address space at the user
// base address, and the task register is pointed at the task so the first
// hardware switch has somewhere to save state.
func FirstInit() *kernel.Error {
	info := bootinfo.Get()

	copySize := info.FirstTaskEnd - info.FirstTaskStart
	allocSize := uintptr(firstTaskPages) * mm.PageSize
	if copySize >= allocSize {
		return errFirstTaskTooBig
	}

	entry := mm.TaskBase

	first := &taskManager.firstTask
	if err := initTask(first, "first task", 0, entry, entry+allocSize); err != nil {
		return err
	}

	// code and data end where the copied image ends; the heap starts
	// empty right there
	first.heapStart = entry + copySize
	first.heapEnd = first.heapStart

	taskManager.currTask = first

	dir := uintptr(first.tss.CR3)
	switchPageDirFn(dir)

	if err := allocForPageDirFn(dir, entry, allocSize,
		mm.FlagPresent|mm.FlagWritable|mm.FlagUser); err != nil {
		return err
	}
	if err := copyUVMDataFn(entry, dir, info.FirstTaskStart, copySize); err != nil {
		return err
	}

	Start(first)

	loadTRFn(uint16(first.tssSel))
	return nil
}

// FirstTask returns the first task; exiting tasks re-parent their children
// to it.
func FirstTask() *Task {
	return &taskManager.firstTask
}

// MoveToFirstTask drops the boot thread into the first task at CPL 3 by
// simulating an interrupt return with the task's saved user context.
func MoveToFirstTask() {
	curr := taskManager.currTask
	tss := &curr.tss

	iretUserFn(tss.EIP, tss.CS, tss.EFlags, tss.ESP, tss.SS)
}
