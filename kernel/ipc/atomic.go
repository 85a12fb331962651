package ipc

import "sync/atomic"

// Int is an integer mutated with locked read-modify-write instructions, for
// counters shared between task context and interrupt handlers.
type Int struct {
	v int32
}

// Get returns the current value.
func (i *Int) Get() int32 {
	return atomic.LoadInt32(&i.v)
}

// Set stores val.
func (i *Int) Set(val int32) {
	atomic.StoreInt32(&i.v, val)
}

// Add adds delta and returns the new value.
func (i *Int) Add(delta int32) int32 {
	return atomic.AddInt32(&i.v, delta)
}

// Swap stores val and returns the previous value.
func (i *Int) Swap(val int32) int32 {
	return atomic.SwapInt32(&i.v, val)
}
