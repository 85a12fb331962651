//go:build !386

package syscall

// Host stubs; the entry stubs only exist in the 386 build.

// GateEntryAddr returns the address of the call gate entry stub.
func GateEntryAddr() uintptr { return 0 }

// IntEntryAddr returns the address of the int 0x80 entry stub.
func IntEntryAddr() uintptr { return 0 }
