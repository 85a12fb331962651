// Package ipc provides the in-kernel synchronization primitives: a busy
// spinlock, a counting semaphore, a recursive mutex and an atomic integer.
//
// The sleeping primitives park tasks on FIFO wait queues and hand them back
// to the scheduler when woken. To avoid an import cycle with the task
// package, the scheduler operations are installed as hooks during task
// manager initialization. Until the hooks are installed the primitives
// degrade gracefully: with no tasks there can be no contention, so the fast
// paths are the only ones exercised during early boot.
package ipc

import (
	"minos/kernel/cpu"
	"minos/kernel/list"
)

var (
	// Scheduler hooks installed by the task package. A wait queue entry is
	// the waiting task's wait node; its Owner back-reference lets the
	// scheduler recover the task.
	currentNodeFn  = func() *list.Node { return nil }
	blockCurrentFn = func() {}
	readyFn        = func(*list.Node) {}
	dispatchFn     = func() {}

	// Seams for the host test suite.
	readEFlagsFn        = cpu.ReadEFlags
	writeEFlagsFn       = cpu.WriteEFlags
	disableInterruptsFn = cpu.DisableInterrupts
)

// SetSchedHooks installs the scheduler operations used by the sleeping
// primitives: currentNode returns the running task's wait node, blockCurrent
// marks the running task blocked so dispatch passes it over, ready re-queues the task
// owning a wait node, and dispatch picks the next task to run.
func SetSchedHooks(currentNode func() *list.Node, blockCurrent func(), ready func(*list.Node), dispatch func()) {
	currentNodeFn = currentNode
	blockCurrentFn = blockCurrent
	readyFn = ready
	dispatchFn = dispatch
}

// enterProtection disables interrupts without assuming their prior state and
// returns the flags to restore. Queue mutations on a uniprocessor only need
// to be protected from the timer interrupt, so this is the whole locking
// discipline for the sleeping primitives.
func enterProtection() uintptr {
	flags := readEFlagsFn()
	disableInterruptsFn()
	return flags
}

// leaveProtection restores the flags captured by enterProtection.
func leaveProtection(flags uintptr) {
	writeEFlagsFn(flags)
}
