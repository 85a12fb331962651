// Package time programs the programmable interval timer and owns the system
// heartbeat: a periodic tick that drives sleep expiry and preemption.
package time

import (
	"minos/kernel"
	"minos/kernel/cpu"
	"minos/kernel/irq"
	"minos/kernel/task"
)

// 8253/8254 PIT programming.
const (
	// pitOscFreq is the PIT input clock in Hz.
	pitOscFreq = 1193182

	pitCommandModePort = uint16(0x43)
	pitChannel0Port    = uint16(0x40)

	pitChannel0 = uint8(0 << 6)
	pitLoadLoHi = uint8(3 << 4)
	pitMode3    = uint8(3 << 1)
)

var (
	// sysTick counts heartbeats since boot. Only the timer handler
	// writes it.
	sysTick uint32

	// Seams for the host test suite.
	portWriteByteFn = cpu.PortWriteByte
	sendEOIFn       = irq.SendEOI
	timeTickFn      = task.TimeTick
	installFn       = irq.Install
	enableFn        = irq.Enable
)

// Ticks returns the heartbeat count since boot.
func Ticks() uint32 {
	return sysTick
}

// pitInit programs channel 0 in mode 3 (square wave) with the divisor that
// yields one interrupt every kernel.TickMs milliseconds.
func pitInit() {
	reloadCount := pitOscFreq / (1000 / kernel.TickMs)

	portWriteByteFn(pitCommandModePort, pitChannel0|pitLoadLoHi|pitMode3)
	portWriteByteFn(pitChannel0Port, uint8(reloadCount&0xFF))
	portWriteByteFn(pitChannel0Port, uint8((reloadCount>>8)&0xFF))
}

// handler services the timer interrupt. The EOI goes out before the
// scheduler runs: a task switch inside TimeTick would otherwise leave the
// line unacknowledged until this task runs again.
func handler(frame *irq.Frame) {
	sysTick++

	sendEOIFn(irq.VecTimer)

	timeTickFn()
}

// Init programs the PIT, installs the tick handler and unmasks the timer
// line.
func Init() {
	sysTick = 0

	pitInit()

	installFn(irq.VecTimer, handler)
	enableFn(irq.VecTimer)
}
