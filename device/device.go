// Package device implements the kernel's device abstraction: a table of
// device descriptors keyed by major number, each carrying the driver entry
// points, plus the table of currently open device instances the file layer
// refers to by id.
package device

import (
	"minos/kernel/irq"
	"minos/kernel/kfmt"
)

// Major numbers.
const (
	MajorTTY  = 1
	MajorDisk = 2
)

const (
	maxDescs   = 16
	maxDevices = 128
)

// Desc describes a driver: its name, the major number it serves and the
// open/read/write/control/close entry points. Minor numbers disambiguate
// instances within the driver.
type Desc struct {
	Name  string
	Major int

	Open    func(dev *Device) int
	Read    func(dev *Device, addr int, buf []byte) int
	Write   func(dev *Device, addr int, buf []byte) int
	Control func(dev *Device, cmd, arg0, arg1 int) int
	Close   func(dev *Device)
}

// Device is one open device instance.
type Device struct {
	Desc      *Desc
	Mode      int
	Minor     int
	OpenCount int

	// Data is driver-private instance state.
	Data interface{}
}

var (
	descTable [maxDescs]*Desc
	devTable  [maxDevices]Device
)

// Register adds a driver descriptor to the device table. Drivers register
// during hardware detection, before any open can arrive.
func Register(desc *Desc) {
	for i := 0; i < maxDescs; i++ {
		if descTable[i] == nil {
			descTable[i] = desc
			kfmt.Printf("[device] registered %s driver, major %d\n", desc.Name, desc.Major)
			return
		}
	}
	kfmt.Printf("[device] descriptor table full, dropping %s\n", desc.Name)
}

// descFor returns the descriptor registered for a major number.
func descFor(major int) *Desc {
	for i := 0; i < maxDescs; i++ {
		if descTable[i] != nil && descTable[i].Major == major {
			return descTable[i]
		}
	}
	return nil
}

// get validates a device id from the file layer.
func get(devID int) *Device {
	if devID < 0 || devID >= maxDevices {
		return nil
	}
	dev := &devTable[devID]
	if dev.OpenCount == 0 {
		return nil
	}
	return dev
}

// Open opens the (major, minor) device instance and returns its device id.
// Opening an already open instance bumps its reference count and returns
// the existing id.
func Open(major, minor, mode int) int {
	state := irq.EnterProtection()
	defer irq.LeaveProtection(state)

	free := -1
	for i := 0; i < maxDevices; i++ {
		dev := &devTable[i]
		if dev.OpenCount == 0 {
			if free < 0 {
				free = i
			}
			continue
		}
		if dev.Desc.Major == major && dev.Minor == minor {
			dev.OpenCount++
			return i
		}
	}

	desc := descFor(major)
	if desc == nil || free < 0 {
		return -1
	}

	dev := &devTable[free]
	dev.Desc = desc
	dev.Minor = minor
	dev.Mode = mode
	dev.Data = nil

	if desc.Open != nil {
		if err := desc.Open(dev); err < 0 {
			return -1
		}
	}

	dev.OpenCount = 1
	return free
}

// Read reads from an open device into buf, starting at the device-defined
// address addr. It returns the byte count or a negative error.
func Read(devID, addr int, buf []byte) int {
	dev := get(devID)
	if dev == nil || dev.Desc.Read == nil {
		return -1
	}
	return dev.Desc.Read(dev, addr, buf)
}

// Write writes buf to an open device at the device-defined address addr.
func Write(devID, addr int, buf []byte) int {
	dev := get(devID)
	if dev == nil || dev.Desc.Write == nil {
		return -1
	}
	return dev.Desc.Write(dev, addr, buf)
}

// Control sends a driver-specific command to an open device.
func Control(devID, cmd, arg0, arg1 int) int {
	dev := get(devID)
	if dev == nil || dev.Desc.Control == nil {
		return -1
	}
	return dev.Desc.Control(dev, cmd, arg0, arg1)
}

// Close drops one reference to an open device, invoking the driver close on
// the last one.
func Close(devID int) {
	state := irq.EnterProtection()
	defer irq.LeaveProtection(state)

	dev := get(devID)
	if dev == nil {
		return
	}

	if dev.OpenCount--; dev.OpenCount == 0 {
		if dev.Desc.Close != nil {
			dev.Desc.Close(dev)
		}
	}
}
