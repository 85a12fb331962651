// Package hal wires the device drivers to the kernel at boot: the console
// backend attaches to the TTY layer, the TTY driver registers in the device
// table, and the boot terminal becomes the sink for kernel log output.
package hal

import (
	"minos/device"
	"minos/device/tty"
	"minos/device/video/console"
	"minos/kernel/kfmt"
)

// ttyWriter adapts an open terminal device to io.Writer for the kernel log.
type ttyWriter struct {
	devID int
}

func (w *ttyWriter) Write(p []byte) (int, error) {
	device.Write(w.devID, 0, p)
	return len(p), nil
}

var bootTTY ttyWriter

// DetectHardware registers the built-in drivers and links the console
// backend to the terminal layer.
func DetectHardware() {
	console.Register()
	device.Register(&tty.Desc)
}

// InitConsoleSink opens the boot terminal and redirects kernel log output
// to it; everything buffered since early boot is replayed first.
func InitConsoleSink() {
	devID := device.Open(device.MajorTTY, 0, 0)
	if devID < 0 {
		return
	}

	bootTTY.devID = devID
	kfmt.SetOutputSink(&bootTTY)
}
