package tty

import "minos/kernel/irq"

// FIFO is a bounded circular byte buffer. Pointer updates run with
// interrupts disabled so the keyboard handler and task-context readers can
// share a buffer; counting free space and available bytes is the paired
// semaphore's job.
type FIFO struct {
	buf         []byte
	read, write int
	count       int
}

// Init attaches the FIFO to its backing storage and empties it.
func (f *FIFO) Init(buf []byte) {
	f.buf = buf
	f.read = 0
	f.write = 0
	f.count = 0
}

// Count returns the number of buffered bytes.
func (f *FIFO) Count() int {
	return f.count
}

// Put appends one byte. It fails with -1 when the buffer is full.
func (f *FIFO) Put(c byte) int {
	if f.count >= len(f.buf) {
		return -1
	}

	state := irq.EnterProtection()
	f.buf[f.write] = c
	if f.write++; f.write >= len(f.buf) {
		f.write = 0
	}
	f.count++
	irq.LeaveProtection(state)

	return 0
}

// Get removes and returns the oldest byte. It fails with -1 when the buffer
// is empty.
func (f *FIFO) Get(c *byte) int {
	if f.count <= 0 {
		return -1
	}

	state := irq.EnterProtection()
	*c = f.buf[f.read]
	if f.read++; f.read >= len(f.buf) {
		f.read = 0
	}
	f.count--
	irq.LeaveProtection(state)

	return 0
}
