//go:build 386

// Package cpu exports the privileged IA-32 instructions the rest of the
// kernel builds on: port I/O, EFLAGS and control register access, descriptor
// table register loads and the two ring transitions (a far jump through a TSS
// selector and the simulated interrupt return that drops into ring 3).
//
// The implementations live in cpu_386.s. On other architectures stub
// implementations are provided so the packages above this one can be built
// and tested on a host OS; callers that must be testable route their calls
// through package-level function variables.
package cpu

// EnableInterrupts sets the interrupt flag, allowing maskable interrupts.
func EnableInterrupts()

// DisableInterrupts clears the interrupt flag.
func DisableInterrupts()

// Halt stops instruction execution until the next interrupt.
func Halt()

// ReadEFlags returns the current value of the EFLAGS register.
func ReadEFlags() uintptr

// WriteEFlags replaces the EFLAGS register contents.
func WriteEFlags(flags uintptr)

// PortReadByte reads a uint8 value from the requested port.
func PortReadByte(port uint16) uint8

// PortWriteByte writes a uint8 value to the requested port.
func PortWriteByte(port uint16, val uint8)

// PortReadWord reads a uint16 value from the requested port.
func PortReadWord(port uint16) uint16

// PortWriteWord writes a uint16 value to the requested port.
func PortWriteWord(port uint16, val uint16)

// ReadCR0 returns the value stored in the CR0 register.
func ReadCR0() uintptr

// WriteCR0 replaces the CR0 register contents.
func WriteCR0(val uintptr)

// ReadCR2 returns the faulting address captured by the CPU when the most
// recent page fault occurred.
func ReadCR2() uintptr

// ReadCR3 returns the physical address of the currently active page
// directory.
func ReadCR3() uintptr

// WriteCR3 sets the root page directory to the given physical address and
// implicitly flushes the TLB.
func WriteCR3(addr uintptr)

// ReadCR4 returns the value stored in the CR4 register.
func ReadCR4() uintptr

// WriteCR4 replaces the CR4 register contents.
func WriteCR4(val uintptr)

// LoadGDT points GDTR at the descriptor table with the given base address
// and limit (size in bytes minus one).
func LoadGDT(base uintptr, limit uint16)

// LoadIDT points IDTR at the interrupt descriptor table with the given base
// address and limit.
func LoadIDT(base uintptr, limit uint16)

// LoadTaskRegister loads TR with a TSS selector.
func LoadTaskRegister(sel uint16)

// FarJump performs a far jump through the supplied TSS selector, triggering
// a hardware task switch. Execution resumes here when another task switches
// back.
func FarJump(sel uint16)

// IRetToUser builds an interrupt return frame for ring 3 and issues IRET,
// dropping the CPU into user mode at the given entry point. It never
// returns.
func IRetToUser(eip, cs, eflags, esp, ss uint32)
