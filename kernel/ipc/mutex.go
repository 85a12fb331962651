package ipc

import "minos/kernel/list"

// Mutex is a recursive sleeping lock. The owner may re-acquire it without
// blocking; other tasks queue FIFO and ownership is handed to the head of
// the queue on the final Unlock, so a woken waiter never races for the lock.
type Mutex struct {
	lockedCount int
	owner       *list.Node
	waitList    list.List
}

// Init resets the mutex to the unlocked state.
func (m *Mutex) Init() {
	m.lockedCount = 0
	m.owner = nil
	m.waitList.Init()
}

// Lock acquires the mutex, blocking the calling task while another task owns
// it. Recursive acquisitions by the owner only increment the lock count.
func (m *Mutex) Lock() {
	flags := enterProtection()

	curr := currentNodeFn()
	switch {
	case m.lockedCount == 0:
		m.lockedCount++
		m.owner = curr
	case m.owner == curr:
		m.lockedCount++
	default:
		blockCurrentFn()
		m.waitList.InsertLast(curr)
		dispatchFn()
	}

	leaveProtection(flags)
}

// Unlock releases one level of the lock. Only the owner may unlock; calls
// from any other task are ignored. When the count reaches zero and tasks are
// queued, ownership transfers to the first waiter before it is made ready.
func (m *Mutex) Unlock() {
	flags := enterProtection()

	if m.owner == currentNodeFn() {
		if m.lockedCount--; m.lockedCount == 0 {
			m.owner = nil

			if m.waitList.Count() > 0 {
				node := m.waitList.RemoveFirst()

				// Ownership passes here, not when the waiter resumes;
				// a later Lock must not be able to slip in between.
				m.lockedCount = 1
				m.owner = node

				readyFn(node)
				dispatchFn()
			}
		}
	}

	leaveProtection(flags)
}
