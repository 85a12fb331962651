// Package irq owns the interrupt descriptor table, the programmable
// interrupt controllers and the exception policy: a common trampoline saves
// the interrupted context into a Frame and routes it to a typed handler.
// Kernel-mode faults halt the machine; user-mode faults terminate the
// faulting task through a hook installed by the task package.
package irq

import (
	"unsafe"

	"minos/kernel"
	"minos/kernel/cpu"
	"minos/kernel/gdt"
	"minos/kernel/kfmt"
	"minos/kernel/syscall"
)

// idtTableNR is the number of IDT slots; the architecture supports 256
// vectors.
const idtTableNR = 256

// Exception vectors.
const (
	VecDivideError        = 0
	VecDebug              = 1
	VecNMI                = 2
	VecBreakpoint         = 3
	VecOverflow           = 4
	VecBoundRange         = 5
	VecInvalidOpcode      = 6
	VecDeviceNotAvail     = 7
	VecDoubleFault        = 8
	VecInvalidTSS         = 10
	VecSegmentNotPresent  = 11
	VecStackSegmentFault  = 12
	VecGeneralProtection  = 13
	VecPageFault          = 14
	VecFPUError           = 16
	VecAlignmentCheck     = 17
	VecMachineCheck       = 18
	VecSIMDException      = 19
	VecVirtualizationExcp = 20
)

// PicVectorStart is the vector the hardware IRQ lines are remapped to.
// VecTimer and VecKeyboard are the two lines the core wires up itself.
const (
	PicVectorStart = 0x20
	VecTimer       = PicVectorStart + 0
	VecKeyboard    = PicVectorStart + 1
	VecSyscall     = 0x80
)

// General protection fault error code bits.
const (
	errExternal = 1 << 0
	errIDT      = 1 << 1
)

// Page fault error code bits.
const (
	errPageProtection = 1 << 0
	errPageWrite      = 1 << 1
	errPageUser       = 1 << 2
)

// Handler processes one interrupt or exception. Modifications to the frame
// are propagated back to the interrupted context.
type Handler func(*Frame)

// State captures the flags register around a critical section.
type State uintptr

var (
	idtTable [idtTableNR]gdt.GateDesc
	handlers [idtTableNR]Handler

	// userExitFn terminates the current task when it faults at CPL 3; the
	// task package installs the real implementation.
	userExitFn = func(status int) {}

	// Seams for the host test suite.
	loadIDTFn           = cpu.LoadIDT
	haltFn              = cpu.Halt
	readCR2Fn           = cpu.ReadCR2
	readEFlagsFn        = cpu.ReadEFlags
	writeEFlagsFn       = cpu.WriteEFlags
	disableInterruptsFn = cpu.DisableInterrupts
	enableInterruptsFn  = cpu.EnableInterrupts
)

var exceptionNames = [32]string{
	VecDivideError:        "Divide Error",
	VecDebug:              "Debug Exception",
	VecNMI:                "NMI Interrupt",
	VecBreakpoint:         "Breakpoint",
	VecOverflow:           "Overflow",
	VecBoundRange:         "BOUND Range Exceeded",
	VecInvalidOpcode:      "Invalid Opcode",
	VecDeviceNotAvail:     "Device Not Available",
	VecDoubleFault:        "Double Fault",
	VecInvalidTSS:         "Invalid TSS",
	VecSegmentNotPresent:  "Segment Not Present",
	VecStackSegmentFault:  "Stack-Segment Fault",
	VecFPUError:           "x87 FPU Floating-Point Error",
	VecAlignmentCheck:     "Alignment Check",
	VecMachineCheck:       "Machine Check",
	VecSIMDException:      "SIMD Floating-Point Exception",
	VecVirtualizationExcp: "Virtualization Exception",
}

// SetUserExitFn installs the function invoked to terminate a task that
// faulted in user mode.
func SetUserExitFn(fn func(status int)) {
	userExitFn = fn
}

// Install registers a handler for the given vector and points the vector's
// IDT gate at the matching trampoline stub.
func Install(vector int, handler Handler) *kernel.Error {
	if vector < 0 || vector >= idtTableNR {
		return errBadVector
	}

	handlers[vector] = handler
	idtTable[vector].Set(uint16(kernel.KernelSelectorCS), trapEntryAddr(vector),
		gdt.GatePPresent|gdt.GateDPL0|gdt.GateTypeInterrupt)
	return nil
}

var errBadVector = &kernel.Error{Module: "irq", Message: "interrupt vector out of range"}

// Init builds the IDT: every vector starts out routed to the unknown-trap
// policy, the architectural exceptions get their decoded handlers, and
// vector 0x80 is opened to ring 3 as the software interrupt syscall entry.
// Finally the PICs are programmed with every device line masked.
func Init() {
	for i := 0; i < idtTableNR; i++ {
		handlers[i] = unknownHandler
		idtTable[i].Set(uint16(kernel.KernelSelectorCS), trapEntryAddr(i),
			gdt.GatePPresent|gdt.GateDPL0|gdt.GateTypeInterrupt)
	}

	for vector, name := range exceptionNames {
		if name == "" {
			continue
		}
		Install(vector, exceptionHandler)
	}
	Install(VecGeneralProtection, generalProtectionHandler)
	Install(VecPageFault, pageFaultHandler)

	// the syscall gate must be reachable from CPL 3
	idtTable[VecSyscall].Set(uint16(kernel.KernelSelectorCS), syscall.IntEntryAddr(),
		gdt.GatePPresent|gdt.GateDPL3|gdt.GateTypeInterrupt)

	loadIDTFn(uintptr(unsafe.Pointer(&idtTable[0])), uint16(unsafe.Sizeof(idtTable)-1))

	picInit()
}

// EnterProtection disables interrupts without assuming their prior state and
// returns the state to restore.
func EnterProtection() State {
	flags := readEFlagsFn()
	disableInterruptsFn()
	return State(flags)
}

// LeaveProtection restores the interrupt state captured by EnterProtection.
func LeaveProtection(state State) {
	writeEFlagsFn(uintptr(state))
}

// EnableGlobal sets the CPU interrupt flag once boot is far enough along.
func EnableGlobal() {
	enableInterruptsFn()
}

// dispatchInterrupt is invoked by the assembly trampoline with the saved
// context.
func dispatchInterrupt(frame *Frame) {
	vector := int(frame.Vector)
	if vector < 0 || vector >= idtTableNR || handlers[vector] == nil {
		unknownHandler(frame)
		return
	}
	handlers[vector](frame)
}

// faultPolicy implements the terminal exception policy: a fault in kernel
// mode is a kernel bug and halts the CPU; a fault in user mode kills the
// task, surfacing the error code as its exit status.
func faultPolicy(frame *Frame) {
	if frame.IsUserMode() {
		userExitFn(int(frame.ErrorCode))
		return
	}

	for {
		haltFn()
	}
}

func unknownHandler(frame *Frame) {
	kfmt.Printf("--------------------------------\n")
	kfmt.Printf("unexpected interrupt\n")
	frame.Print()
	kfmt.Printf("--------------------------------\n")
	faultPolicy(frame)
}

func exceptionHandler(frame *Frame) {
	name := "unknown exception"
	if frame.Vector < uint32(len(exceptionNames)) && exceptionNames[frame.Vector] != "" {
		name = exceptionNames[frame.Vector]
	}

	kfmt.Printf("--------------------------------\n")
	kfmt.Printf("exception: %s\n", name)
	frame.Print()
	kfmt.Printf("--------------------------------\n")
	faultPolicy(frame)
}

func generalProtectionHandler(frame *Frame) {
	kfmt.Printf("--------------------------------\n")
	kfmt.Printf("exception: General Protection\n")

	if frame.ErrorCode&errExternal != 0 {
		kfmt.Printf("source: event external to the program\n")
	} else {
		kfmt.Printf("source: software interrupt (INT n, INT3 or INTO)\n")
	}
	if frame.ErrorCode&errIDT != 0 {
		kfmt.Printf("selector index %d refers to the IDT\n", frame.ErrorCode&0xFFF8)
	} else {
		kfmt.Printf("selector index %d refers to the GDT\n", frame.ErrorCode&0xFFF8)
	}

	frame.Print()
	kfmt.Printf("--------------------------------\n")
	faultPolicy(frame)
}

// pageFaultHandler reports a page fault and applies the terminal policy.
// There is no demand paging or copy-on-write: every fault is fatal to its
// origin.
func pageFaultHandler(frame *Frame) {
	faultAddr := readCR2Fn()

	kfmt.Printf("--------------------------------\n")
	kfmt.Printf("exception: Page Fault at 0x%x\n", faultAddr)

	if frame.ErrorCode&errPageProtection != 0 {
		kfmt.Printf("page-level protection violation\n")
	} else {
		kfmt.Printf("page not present\n")
	}
	if frame.ErrorCode&errPageWrite != 0 {
		kfmt.Printf("access type: write\n")
	} else {
		kfmt.Printf("access type: read\n")
	}
	if frame.ErrorCode&errPageUser != 0 {
		kfmt.Printf("origin: user mode\n")
	} else {
		kfmt.Printf("origin: supervisor mode\n")
	}

	frame.Print()
	kfmt.Printf("--------------------------------\n")
	faultPolicy(frame)
}
