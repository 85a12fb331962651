//go:build !386

package irq

// trapEntryAddr returns the address of the trampoline stub for the given
// vector. The trampolines only exist in the 386 build.
func trapEntryAddr(vector int) uintptr { return 0 }
