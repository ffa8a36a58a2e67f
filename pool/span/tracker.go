package span

import "sync/atomic"

const (
	leafBits = 9
	leafLen  = 1 << leafBits
	leafMask = leafLen - 1
)

type leaf [leafLen]atomic.Pointer[Span]

// Tracker maps page numbers inside one reserved arena to their spans.
//
// It is a two-level table: the root is sized for the whole arena up front,
// leaves of 512 pages are allocated the first time a page in their range is
// set. Writers must be serialized by the caller (the page heap lock); Get is
// safe to call concurrently with writers.
//
// Invariants maintained by the page heap:
//   - every page of an in-use span maps to that span
//   - the first and last page of a free span map to that span
//
// Interior pages of free spans may hold stale entries; nothing consults them.
type Tracker struct {
	base   PageID
	npages uintptr
	root   []atomic.Pointer[leaf]
	leaves int
}

// NewTracker creates a tracker for npages pages starting at base.
func NewTracker(base PageID, npages uintptr) *Tracker {
	return &Tracker{
		base:   base,
		npages: npages,
		root:   make([]atomic.Pointer[leaf], (npages+leafMask)>>leafBits),
	}
}

// Get returns the span registered for page p, or nil.
func (t *Tracker) Get(p PageID) *Span {
	i := uintptr(p - t.base) // wraps around for p < base
	if i >= t.npages {
		return nil
	}
	l := t.root[i>>leafBits].Load()
	if l == nil {
		return nil
	}
	return l[i&leafMask].Load()
}

// Lookup returns the span registered for the page containing addr.
func (t *Tracker) Lookup(addr uintptr) *Span {
	return t.Get(PageOf(addr))
}

// Set registers s for page p. Pages outside the arena are ignored.
func (t *Tracker) Set(p PageID, s *Span) {
	i := uintptr(p - t.base)
	if i >= t.npages {
		return
	}
	slot := &t.root[i>>leafBits]
	l := slot.Load()
	if l == nil {
		l = new(leaf)
		slot.Store(l)
		t.leaves++
	}
	l[i&leafMask].Store(s)
}

// SetRange registers s for every one of its pages.
func (t *Tracker) SetRange(s *Span) {
	for p := s.Start; p < s.End(); p++ {
		t.Set(p, s)
	}
}

// SetBounds registers s for its first and last page only.
func (t *Tracker) SetBounds(s *Span) {
	t.Set(s.Start, s)
	if s.NPages > 1 {
		t.Set(s.End()-1, s)
	}
}

// Leaves returns how many leaves have been allocated.
// Only meaningful while holding the writer lock.
func (t *Tracker) Leaves() int { return t.leaves }
