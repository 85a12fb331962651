//go:build !386

package cpu

// Stub implementations so the kernel packages can be compiled and their
// tests executed on a host OS. Packages with hardware side effects route
// their cpu calls through function variables and replace them under test;
// these bodies exist only to satisfy the linker.

var stubEFlags uintptr = FlagReserved | FlagIF

// EnableInterrupts sets the interrupt flag, allowing maskable interrupts.
func EnableInterrupts() { stubEFlags |= FlagIF }

// DisableInterrupts clears the interrupt flag.
func DisableInterrupts() { stubEFlags &^= FlagIF }

// Halt stops instruction execution until the next interrupt.
func Halt() {}

// ReadEFlags returns the current value of the EFLAGS register.
func ReadEFlags() uintptr { return stubEFlags }

// WriteEFlags replaces the EFLAGS register contents.
func WriteEFlags(flags uintptr) { stubEFlags = flags }

// PortReadByte reads a uint8 value from the requested port.
func PortReadByte(port uint16) uint8 { return 0 }

// PortWriteByte writes a uint8 value to the requested port.
func PortWriteByte(port uint16, val uint8) {}

// PortReadWord reads a uint16 value from the requested port.
func PortReadWord(port uint16) uint16 { return 0 }

// PortWriteWord writes a uint16 value to the requested port.
func PortWriteWord(port uint16, val uint16) {}

// ReadCR0 returns the value stored in the CR0 register.
func ReadCR0() uintptr { return 0 }

// WriteCR0 replaces the CR0 register contents.
func WriteCR0(val uintptr) {}

// ReadCR2 returns the faulting address of the most recent page fault.
func ReadCR2() uintptr { return 0 }

// ReadCR3 returns the physical address of the active page directory.
func ReadCR3() uintptr { return 0 }

// WriteCR3 sets the root page directory to the given physical address.
func WriteCR3(addr uintptr) {}

// ReadCR4 returns the value stored in the CR4 register.
func ReadCR4() uintptr { return 0 }

// WriteCR4 replaces the CR4 register contents.
func WriteCR4(val uintptr) {}

// LoadGDT points GDTR at the descriptor table.
func LoadGDT(base uintptr, limit uint16) {}

// LoadIDT points IDTR at the interrupt descriptor table.
func LoadIDT(base uintptr, limit uint16) {}

// LoadTaskRegister loads TR with a TSS selector.
func LoadTaskRegister(sel uint16) {}

// FarJump performs a far jump through the supplied TSS selector.
func FarJump(sel uint16) {}

// IRetToUser builds an interrupt return frame for ring 3 and issues IRET.
func IRetToUser(eip, cs, eflags, esp, ss uint32) {}
