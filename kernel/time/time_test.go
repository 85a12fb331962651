package time

import (
	"testing"

	"minos/kernel"
	"minos/kernel/irq"
)

func TestPitProgramming(t *testing.T) {
	defer func(orig func(uint16, uint8)) { portWriteByteFn = orig }(portWriteByteFn)

	type write struct {
		port uint16
		val  uint8
	}
	var writes []write
	portWriteByteFn = func(port uint16, val uint8) {
		writes = append(writes, write{port, val})
	}

	pitInit()

	// 1193182 / (1000 / 10) = 11931 = 0x2E9B
	want := []write{
		{pitCommandModePort, 0x36},
		{pitChannel0Port, 0x9B},
		{pitChannel0Port, 0x2E},
	}

	if len(writes) != len(want) {
		t.Fatalf("expected %d writes; got %d", len(want), len(writes))
	}
	for i, w := range want {
		if writes[i] != w {
			t.Errorf("write %d: expected port 0x%x <- 0x%x; got port 0x%x <- 0x%x",
				i, w.port, w.val, writes[i].port, writes[i].val)
		}
	}
}

func TestHandlerOrder(t *testing.T) {
	defer func(origEOI func(int), origTick func()) {
		sendEOIFn, timeTickFn = origEOI, origTick
		sysTick = 0
	}(sendEOIFn, timeTickFn)

	var order []string
	sendEOIFn = func(vector int) {
		if vector != irq.VecTimer {
			t.Errorf("expected EOI for the timer vector; got 0x%x", vector)
		}
		order = append(order, "eoi")
	}
	timeTickFn = func() { order = append(order, "tick") }

	handler(nil)
	handler(nil)

	if sysTick != 2 {
		t.Fatalf("expected 2 ticks counted; got %d", sysTick)
	}

	// EOI must precede the scheduler on every heartbeat
	want := []string{"eoi", "tick", "eoi", "tick"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("expected order %v; got %v", want, order)
		}
	}
}

func TestInitInstallsHandler(t *testing.T) {
	origPort, origInstall, origEnable := portWriteByteFn, installFn, enableFn
	defer func() {
		portWriteByteFn, installFn, enableFn = origPort, origInstall, origEnable
		sysTick = 0
	}()

	portWriteByteFn = func(uint16, uint8) {}

	installedVec := -1
	installFn = func(vector int, h irq.Handler) *kernel.Error {
		installedVec = vector
		return nil
	}

	enabledVec := -1
	enableFn = func(vector int) { enabledVec = vector }

	Init()

	if installedVec != irq.VecTimer || enabledVec != irq.VecTimer {
		t.Fatalf("expected the timer vector installed and enabled; got %d/%d", installedVec, enabledVec)
	}
}
