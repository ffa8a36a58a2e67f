// Package block links free blocks into singly linked lists.
//
// A free block stores the address of the next free block in its first
// machine word, so lists cost no memory beyond the blocks themselves. Blocks
// are plain addresses (uintptr) into memory the Go garbage collector does not
// manage; links are stored as integers so no write barrier is involved.
package block

import "unsafe"

// Next returns the link stored in the free block at addr.
func Next(addr uintptr) uintptr {
	return *(*uintptr)(unsafe.Pointer(addr))
}

// SetNext stores next as the link of the free block at addr.
func SetNext(addr, next uintptr) {
	*(*uintptr)(unsafe.Pointer(addr)) = next
}

// Batch is a detached chain of N blocks from Head to Tail.
// Tail's link is zero.
type Batch struct {
	Head uintptr
	Tail uintptr
	N    int
}

// Empty reports whether the batch holds no blocks.
func (b Batch) Empty() bool { return b.N == 0 }

// List is a LIFO free list with a length.
//
// NOT thread-safe.
type List struct {
	head uintptr
	n    int
}

// Len returns the number of blocks on the list.
func (l *List) Len() int { return l.n }

// Empty reports whether the list is empty.
func (l *List) Empty() bool { return l.n == 0 }

// Push adds addr to the front of the list.
func (l *List) Push(addr uintptr) {
	SetNext(addr, l.head)
	l.head = addr
	l.n++
}

// Pop removes and returns the front block, or 0 when empty.
func (l *List) Pop() uintptr {
	addr := l.head
	if addr == 0 {
		return 0
	}
	l.head = Next(addr)
	l.n--
	return addr
}

// PushBatch splices b onto the front of the list.
func (l *List) PushBatch(b Batch) {
	if b.N == 0 {
		return
	}
	SetNext(b.Tail, l.head)
	l.head = b.Head
	l.n += b.N
}

// PopBatch detaches up to n blocks from the front of the list.
func (l *List) PopBatch(n int) Batch {
	n = min(n, l.n)
	if n <= 0 {
		return Batch{}
	}
	head := l.head
	tail := head
	for i := 1; i < n; i++ {
		tail = Next(tail)
	}
	l.head = Next(tail)
	SetNext(tail, 0)
	l.n -= n
	return Batch{Head: head, Tail: tail, N: n}
}

// Drain detaches every block on the list.
func (l *List) Drain() Batch {
	return l.PopBatch(l.n)
}
