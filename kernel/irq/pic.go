package irq

import "minos/kernel/cpu"

// Legacy cascaded 8259A pair: the primary chip at 0x20 with the secondary
// chained to its line 2.
const (
	pic0Command = uint16(0x20)
	pic0Data    = uint16(0x21)
	pic1Command = uint16(0xA0)
	pic1Data    = uint16(0xA1)

	picICW1Always1 = uint8(1 << 4)
	picICW1NeedID4 = uint8(1 << 0)
	picICW4Mode86  = uint8(1 << 0)

	picOCW2EOI = uint8(1 << 5)

	// cascadeLine is the primary chip line wired to the secondary chip.
	cascadeLine = 2
)

var (
	// Port I/O seams for the host test suite.
	portReadByteFn  = cpu.PortReadByte
	portWriteByteFn = cpu.PortWriteByte
)

// picInit programs both interrupt controllers: edge triggered, cascaded,
// hardware IRQ base remapped to PicVectorStart, 8086 EOI mode. Every line is
// masked except the cascade line.
func picInit() {
	portWriteByteFn(pic0Command, picICW1Always1|picICW1NeedID4)
	portWriteByteFn(pic0Data, PicVectorStart)
	portWriteByteFn(pic0Data, 1<<cascadeLine)
	portWriteByteFn(pic0Data, picICW4Mode86)

	portWriteByteFn(pic1Command, picICW1Always1|picICW1NeedID4)
	portWriteByteFn(pic1Data, PicVectorStart+8)
	portWriteByteFn(pic1Data, cascadeLine)
	portWriteByteFn(pic1Data, picICW4Mode86)

	portWriteByteFn(pic0Data, 0xFF & ^uint8(1<<cascadeLine))
	portWriteByteFn(pic1Data, 0xFF)
}

// Enable unmasks the interrupt line behind the given vector.
func Enable(vector int) {
	if vector < PicVectorStart {
		return
	}

	line := vector - PicVectorStart
	if line < 8 {
		mask := portReadByteFn(pic0Data) & ^uint8(1<<line)
		portWriteByteFn(pic0Data, mask)
	} else {
		line -= 8
		mask := portReadByteFn(pic1Data) & ^uint8(1<<line)
		portWriteByteFn(pic1Data, mask)
	}
}

// Disable masks the interrupt line behind the given vector.
func Disable(vector int) {
	if vector < PicVectorStart {
		return
	}

	line := vector - PicVectorStart
	if line < 8 {
		mask := portReadByteFn(pic0Data) | uint8(1<<line)
		portWriteByteFn(pic0Data, mask)
	} else {
		line -= 8
		mask := portReadByteFn(pic1Data) | uint8(1<<line)
		portWriteByteFn(pic1Data, mask)
	}
}

// SendEOI acknowledges the interrupt behind the given vector. Lines on the
// secondary chip must acknowledge on both chips.
func SendEOI(vector int) {
	if vector >= PicVectorStart+8 {
		portWriteByteFn(pic1Command, picOCW2EOI)
	}
	portWriteByteFn(pic0Command, picOCW2EOI)
}
