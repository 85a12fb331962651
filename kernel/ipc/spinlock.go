package ipc

import "sync/atomic"

// Spinlock implements a lock where the caller busy-waits until the lock
// becomes available. It is the right tool only for very short critical
// sections; anything that may need to sleep must use Mutex or Sem instead.
type Spinlock struct {
	state uint32
}

// Acquire blocks until the lock can be acquired. Any attempt to re-acquire a
// lock already held by the current task will deadlock.
func (l *Spinlock) Acquire() {
	for atomic.SwapUint32(&l.state, 1) != 0 {
	}
}

// TryToAcquire attempts to acquire the lock and returns true if the lock
// could be acquired or false otherwise.
func (l *Spinlock) TryToAcquire() bool {
	return atomic.SwapUint32(&l.state, 1) == 0
}

// Release relinquishes a held lock. Calling Release while the lock is free
// has no effect.
func (l *Spinlock) Release() {
	atomic.StoreUint32(&l.state, 0)
}

// IrqSpinlock is a Spinlock variant that also masks interrupts for the
// duration of the critical section, so it may be shared between task context
// and an interrupt handler.
type IrqSpinlock struct {
	lock  Spinlock
	flags uintptr
}

// Acquire disables interrupts, captures the prior flags and spins until the
// lock is held.
func (l *IrqSpinlock) Acquire() {
	flags := enterProtection()
	l.lock.Acquire()
	l.flags = flags
}

// Release drops the lock and restores the interrupt state captured by
// Acquire.
func (l *IrqSpinlock) Release() {
	flags := l.flags
	l.lock.Release()
	leaveProtection(flags)
}
