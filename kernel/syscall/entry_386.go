//go:build 386

package syscall

// GateEntryAddr returns the address of the call gate entry stub, installed
// into the system call gate descriptor during GDT initialization.
func GateEntryAddr() uintptr

// IntEntryAddr returns the address of the int 0x80 entry stub, installed
// into the IDT with a ring-3 callable gate.
func IntEntryAddr() uintptr
