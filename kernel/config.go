package kernel

// Build-time configuration for the kernel. The selector values are part of
// the boot contract: the loader enters the kernel with CS/DS already set to
// these slots, so they must never move.
const (
	// Version is reported by the kernel banner at boot.
	Version = "1.0.0"

	// GDTTableSize is the total number of GDT slots.
	GDTTableSize = 256

	// KernelSelectorCS and KernelSelectorDS address the flat kernel code
	// and data segments. SelectorSyscall addresses the system call gate.
	KernelSelectorCS = 1 * 8
	KernelSelectorDS = 2 * 8
	SelectorSyscall  = 3 * 8

	// TickMs is the timer heartbeat period in milliseconds.
	TickMs = 10

	// KernelStackSize is the size of the boot stack set up by the loader.
	KernelStackSize = 8 * 1024

	// IdleStackSize is the stack (in words) of the idle task.
	IdleStackSize = 1024

	// TaskNR bounds the task pool; TaskNameSize bounds task names
	// (including the terminating NUL of the user-space contract).
	TaskNR       = 128
	TaskNameSize = 32

	// TaskOFileNR is the per-task open file limit.
	TaskOFileNR = 128

	// TaskTimeSliceDefault is the round-robin slice in ticks.
	TaskTimeSliceDefault = 10
)
