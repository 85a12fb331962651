package task

import (
	"minos/kernel/kfmt"
	"minos/kernel/syscall"
)

// registerSyscalls installs the process-management half of the syscall
// table; the descriptor half is registered by the fs package.
func registerSyscalls() {
	syscall.Register(syscall.SysMSleep, func(a0, a1, a2, a3 uintptr) int {
		MSleep(int(a0))
		return 0
	})

	syscall.Register(syscall.SysGetPid, func(a0, a1, a2, a3 uintptr) int {
		return GetPid()
	})

	syscall.Register(syscall.SysFork, func(a0, a1, a2, a3 uintptr) int {
		return Fork()
	})

	syscall.Register(syscall.SysExecve, func(a0, a1, a2, a3 uintptr) int {
		return Execve(a0, a1, a2)
	})

	syscall.Register(syscall.SysYield, func(a0, a1, a2, a3 uintptr) int {
		return Yield()
	})

	syscall.Register(syscall.SysExit, func(a0, a1, a2, a3 uintptr) int {
		Exit(int(int32(a0)))
		return 0
	})

	syscall.Register(syscall.SysWait, func(a0, a1, a2, a3 uintptr) int {
		return Wait(a0)
	})

	syscall.Register(syscall.SysSbrk, func(a0, a1, a2, a3 uintptr) int {
		return int(Sbrk(int(int32(a0))))
	})

	syscall.Register(syscall.SysPrintMsg, func(a0, a1, a2, a3 uintptr) int {
		fmt := userString(a0, 256)
		kfmt.Printf(fmt, int(a1))
		kfmt.Printf("\n")
		return 0
	})
}
