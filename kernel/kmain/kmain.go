// Package kmain drives the kernel boot sequence. The entry shim that the
// boot loader jumps to switches onto the boot stack, builds the bootinfo
// record and calls KMain; KMain never returns — it ends by dropping into the
// first user task.
package kmain

import (
	"minos/fs"
	"minos/kernel"
	"minos/kernel/cpu"
	"minos/kernel/gdt"
	"minos/kernel/hal"
	"minos/kernel/hal/bootinfo"
	"minos/kernel/irq"
	"minos/kernel/kfmt"
	"minos/kernel/mm"
	"minos/kernel/task"
	"minos/kernel/time"
)

// KMain initializes every kernel subsystem in dependency order and then
// hands the CPU to the first task.
func KMain(info *bootinfo.Info) {
	// no usable RAM reported means the handover record is broken
	if info == nil || info.RAMRegionCount == 0 {
		for {
			cpu.Halt()
		}
	}
	bootinfo.Set(info)

	gdt.Init()
	irq.Init()

	// memory comes up early; everything after may need page allocations
	if err := mm.Init(info); err != nil {
		kfmt.Printf("[kmain] memory init failed: %s\n", err.Message)
		for {
			cpu.Halt()
		}
	}

	fs.InitFileTable()
	fs.RegisterSyscalls()

	time.Init()

	if err := task.Init(); err != nil {
		kfmt.Printf("[kmain] task manager init failed: %s\n", err.Message)
		for {
			cpu.Halt()
		}
	}

	hal.DetectHardware()
	hal.InitConsoleSink()

	initMain()
}

// initMain prints the boot banner and starts the first task. The interrupt
// flag comes on with the first task's EFLAGS image, so preemption begins
// the moment user space does.
func initMain() {
	kfmt.Printf("==============================\n")
	kfmt.Printf("kernel is running\n")
	kfmt.Printf("version: %s\n", kernel.Version)
	kfmt.Printf("==============================\n")

	if err := task.FirstInit(); err != nil {
		kfmt.Printf("[kmain] first task init failed: %s\n", err.Message)
		for {
			cpu.Halt()
		}
	}

	task.MoveToFirstTask()
}
