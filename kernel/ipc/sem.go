package ipc

import "minos/kernel/list"

// Sem is a counting semaphore with a FIFO wait queue. Tasks that wait on an
// exhausted semaphore are blocked and woken in arrival order.
type Sem struct {
	count    int
	waitList list.List
}

// Init sets the initial count and empties the wait queue.
func (s *Sem) Init(count int) {
	s.count = count
	s.waitList.Init()
}

// Wait consumes one unit from the semaphore. If the count is zero the
// calling task is appended to the wait queue, blocked and another task is
// dispatched; Wait returns once a Notify hands the unit to this task.
func (s *Sem) Wait() {
	flags := enterProtection()

	if s.count > 0 {
		s.count--
	} else {
		blockCurrentFn()
		s.waitList.InsertLast(currentNodeFn())
		dispatchFn()
	}

	leaveProtection(flags)
}

// Notify releases one unit. If a task is waiting, the unit is handed
// directly to the head of the queue and that task becomes ready; otherwise
// the count is incremented.
func (s *Sem) Notify() {
	flags := enterProtection()

	if s.waitList.Count() > 0 {
		node := s.waitList.RemoveFirst()
		readyFn(node)
		dispatchFn()
	} else {
		s.count++
	}

	leaveProtection(flags)
}

// Count returns the current semaphore count.
func (s *Sem) Count() int {
	flags := enterProtection()
	count := s.count
	leaveProtection(flags)
	return count
}
