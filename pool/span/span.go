// Package span describes runs of contiguous pages and maps page numbers back
// to the span that owns them.
package span

import (
	"fmt"

	"github.com/joshuapare/allockit/pool/block"
	"github.com/joshuapare/allockit/pool/sizeclass"
)

// PageID is an address shifted right by sizeclass.PageShift.
type PageID uintptr

// PageOf returns the page containing addr.
func PageOf(addr uintptr) PageID {
	return PageID(addr >> sizeclass.PageShift)
}

// Addr returns the first byte address of page p.
func (p PageID) Addr() uintptr {
	return uintptr(p) << sizeclass.PageShift
}

// State is the lifecycle state of a span.
type State uint8

const (
	// Free spans sit in the page heap's free registry.
	Free State = iota
	// InUse spans back a size class or a single large object.
	InUse
	// Dead spans were merged into a neighbour; the descriptor is garbage.
	Dead
)

func (s State) String() string {
	switch s {
	case Free:
		return "free"
	case InUse:
		return "in-use"
	case Dead:
		return "dead"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// NoClass marks an in-use span that holds one large object.
const NoClass = -1

// Span is a contiguous run of pages.
//
// Page fields (Start, NPages, State, Scavenged) belong to the page heap and
// change only under its lock. Block fields (Class, ElemSize, Allocated and
// the free list) belong to the central cache bucket of Class.
type Span struct {
	Start  PageID
	NPages uintptr
	State  State

	// Scavenged is set while the span's memory has been handed back to the OS.
	Scavenged bool

	// Class is the size class carved from the span, or NoClass.
	Class    int
	ElemSize uintptr

	// Allocated counts blocks handed out of the span and not yet returned.
	Allocated int

	free     block.List // returned blocks
	carved   int        // blocks handed out of the never-used tail so far
	capacity int        // total blocks the span holds

	next, prev *Span
	list       *List
}

// Base returns the first byte address of the span.
func (s *Span) Base() uintptr { return s.Start.Addr() }

// Bytes returns the span length in bytes.
func (s *Span) Bytes() uintptr { return s.NPages << sizeclass.PageShift }

// Limit returns the first byte address past the span.
func (s *Span) Limit() uintptr { return s.Base() + s.Bytes() }

// End returns the first page past the span.
func (s *Span) End() PageID { return s.Start + PageID(s.NPages) }

// Contains reports whether addr falls inside the span.
func (s *Span) Contains(addr uintptr) bool {
	return addr >= s.Base() && addr < s.Limit()
}

// IsLarge reports whether the span holds a single large object.
func (s *Span) IsLarge() bool {
	return s.State == InUse && s.Class == NoClass
}

// InitBlocks prepares the span to be carved into class blocks of elemSize
// bytes. Blocks are carved lazily as TakeBlocks asks for them.
func (s *Span) InitBlocks(class int, elemSize uintptr) {
	s.Class = class
	s.ElemSize = elemSize
	s.Allocated = 0
	s.free = block.List{}
	s.carved = 0
	s.capacity = int(s.Bytes() / elemSize)
}

// Capacity returns the number of blocks the span holds.
func (s *Span) Capacity() int { return s.capacity }

// FreeCount returns the number of blocks still available in the span.
func (s *Span) FreeCount() int { return s.capacity - s.Allocated }

// IsBlock reports whether addr is the start of one of the span's blocks.
func (s *Span) IsBlock(addr uintptr) bool {
	if s.ElemSize == 0 || !s.Contains(addr) {
		return false
	}
	off := addr - s.Base()
	return off%s.ElemSize == 0 && off/s.ElemSize < uintptr(s.capacity)
}

// TakeBlocks detaches up to n free blocks, preferring returned blocks over
// carving fresh ones.
func (s *Span) TakeBlocks(n int) block.Batch {
	n = min(n, s.FreeCount())
	if n <= 0 {
		return block.Batch{}
	}

	b := s.free.PopBatch(n)
	for b.N < n {
		addr := s.Base() + uintptr(s.carved)*s.ElemSize
		s.carved++
		block.SetNext(addr, b.Head)
		if b.N == 0 {
			b.Tail = addr
		}
		b.Head = addr
		b.N++
	}
	s.Allocated += b.N
	return b
}

// PutBlock returns one block to the span.
func (s *Span) PutBlock(addr uintptr) {
	s.free.Push(addr)
	s.Allocated--
}

// String implements fmt.Stringer for debugging.
func (s *Span) String() string {
	return fmt.Sprintf("span[%#x+%d %s class=%d alloc=%d/%d]",
		s.Base(), s.NPages, s.State, s.Class, s.Allocated, s.capacity)
}
