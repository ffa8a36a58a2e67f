package pool

import (
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/joshuapare/allockit/pool/threadcache"
)

// slot is one thread cache of the shared table. A slot is used by at most one
// goroutine at a time: the one holding its handle. busy is held for the
// duration of each call so reclaim can flush the slot between calls.
type slot struct {
	tc      *threadcache.Cache
	claimed atomic.Bool
	busy    atomic.Bool
}

// handle is the sync.Pool token for a claimed slot. When the pool drops a
// handle and the GC collects it, a cleanup releases the slot so a later
// claim can pick it up, cached blocks included.
type handle struct {
	s *slot
}

type slotTable struct {
	slots  []slot
	pool   sync.Pool
	cursor atomic.Uint32

	overflowMu sync.Mutex
	overflow   *threadcache.Cache
	overflows  atomic.Uint64
}

func newSlotTable(n int, src threadcache.Source) *slotTable {
	t := &slotTable{
		slots:    make([]slot, n),
		overflow: threadcache.New(src),
	}
	for i := range t.slots {
		t.slots[i].tc = threadcache.New(src)
	}
	return t
}

// acquire returns a handle for an unused slot, or nil when all are claimed.
func (t *slotTable) acquire() *handle {
	if h, ok := t.pool.Get().(*handle); ok {
		return h
	}

	n := len(t.slots)
	start := int(t.cursor.Add(1) % uint32(n))
	for i := range n {
		s := &t.slots[(start+i)%n]
		if s.claimed.CompareAndSwap(false, true) {
			h := &handle{s: s}
			runtime.AddCleanup(h, func(s *slot) { s.claimed.Store(false) }, s)
			return h
		}
	}
	return nil
}

func (t *slotTable) release(h *handle) {
	t.pool.Put(h)
}

// alloc takes a class block from a borrowed slot, or from the overflow cache.
func (t *slotTable) alloc(class int) (uintptr, error) {
	if h := t.acquire(); h != nil {
		if h.s.busy.CompareAndSwap(false, true) {
			addr, err := h.s.tc.Alloc(class)
			h.s.busy.Store(false)
			t.release(h)
			return addr, err
		}
		t.release(h)
	}

	t.overflowMu.Lock()
	defer t.overflowMu.Unlock()
	t.overflows.Add(1)
	return t.overflow.Alloc(class)
}

func (t *slotTable) dealloc(class int, addr uintptr) {
	if h := t.acquire(); h != nil {
		if h.s.busy.CompareAndSwap(false, true) {
			h.s.tc.Dealloc(class, addr)
			h.s.busy.Store(false)
			t.release(h)
			return
		}
		t.release(h)
	}

	t.overflowMu.Lock()
	defer t.overflowMu.Unlock()
	t.overflows.Add(1)
	t.overflow.Dealloc(class, addr)
}

// flush drains every slot. The caller guarantees no slot is in use.
func (t *slotTable) flush() {
	for i := range t.slots {
		t.slots[i].tc.Flush()
	}
	t.overflowMu.Lock()
	t.overflow.Flush()
	t.overflowMu.Unlock()
}

// reclaim flushes every slot no call is using, then the overflow cache.
// Unlike flush it is safe while other calls are in flight. A call that finds
// its slot being reclaimed falls back to the overflow cache.
func (t *slotTable) reclaim() {
	for i := range t.slots {
		s := &t.slots[i]
		if s.busy.CompareAndSwap(false, true) {
			s.tc.Flush()
			s.busy.Store(false)
		}
	}

	t.overflowMu.Lock()
	t.overflow.Flush()
	t.overflowMu.Unlock()
}

// each calls fn with every slot cache and the overflow cache.
func (t *slotTable) each(fn func(*threadcache.Cache)) {
	for i := range t.slots {
		fn(t.slots[i].tc)
	}
	fn(t.overflow)
}

func (t *slotTable) claimed() int {
	n := 0
	for i := range t.slots {
		if t.slots[i].claimed.Load() {
			n++
		}
	}
	return n
}
