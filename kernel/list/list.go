// Package list provides the intrusive doubly-linked list used by the
// scheduler and every wait queue in the kernel. Nodes are embedded in their
// owning structure and carry a back-reference to it, so list membership never
// allocates.
package list

// Node is a list membership link. Owner points back at the structure that
// embeds the node; it is set once when the owning structure is initialized.
type Node struct {
	prev, next *Node

	// Owner is the structure this node is embedded in.
	Owner interface{}
}

// Init resets the node links and records the owning structure.
func (n *Node) Init(owner interface{}) {
	n.prev = nil
	n.next = nil
	n.Owner = owner
}

// Next returns the node following n, or nil at the tail.
func (n *Node) Next() *Node {
	return n.next
}

// Prev returns the node preceding n, or nil at the head.
func (n *Node) Prev() *Node {
	return n.prev
}

// List is a FIFO list of intrusive nodes.
type List struct {
	first, last *Node
	count       int
}

// Init empties the list.
func (l *List) Init() {
	l.first = nil
	l.last = nil
	l.count = 0
}

// Count returns the number of nodes on the list.
func (l *List) Count() int {
	return l.count
}

// Empty returns true if the list holds no nodes.
func (l *List) Empty() bool {
	return l.count == 0
}

// First returns the head node without removing it, or nil.
func (l *List) First() *Node {
	return l.first
}

// Last returns the tail node without removing it, or nil.
func (l *List) Last() *Node {
	return l.last
}

// InsertFirst links node at the head of the list.
func (l *List) InsertFirst(node *Node) {
	node.next = l.first
	node.prev = nil

	if l.Empty() {
		l.first = node
		l.last = node
	} else {
		l.first.prev = node
		l.first = node
	}

	l.count++
}

// InsertLast links node at the tail of the list.
func (l *List) InsertLast(node *Node) {
	node.prev = l.last
	node.next = nil

	if l.Empty() {
		l.first = node
		l.last = node
	} else {
		l.last.next = node
		l.last = node
	}

	l.count++
}

// RemoveFirst unlinks and returns the head node, or nil if the list is empty.
func (l *List) RemoveFirst() *Node {
	if l.Empty() {
		return nil
	}

	node := l.first
	l.first = node.next
	if l.first == nil {
		l.last = nil
	} else {
		l.first.prev = nil
	}

	node.next = nil
	node.prev = nil
	l.count--

	return node
}

// Remove unlinks node from the list. Removing a node that is not on the list
// is a bug the caller must avoid; membership is not verified.
func (l *List) Remove(node *Node) {
	if node.prev != nil {
		node.prev.next = node.next
	} else {
		l.first = node.next
	}

	if node.next != nil {
		node.next.prev = node.prev
	} else {
		l.last = node.prev
	}

	node.prev = nil
	node.next = nil
	l.count--
}
