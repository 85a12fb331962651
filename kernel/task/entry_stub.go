//go:build !386

package task

// idleEntryAddr returns the entry point of the idle task body. The real
// halt loop only exists in the 386 build.
func idleEntryAddr() uintptr { return 0 }
