package pool

import (
	"cmp"
	"fmt"
	"math/rand"
	"slices"
	"sync"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuapare/allockit/pool/sizeclass"
	"github.com/joshuapare/allockit/pool/threadcache"
)

func newTestAllocator(t testing.TB, opts Options) *Allocator {
	t.Helper()
	if opts.ArenaSize == 0 {
		opts.ArenaSize = 64 << 20
	}
	a, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func requireCorruptionPanic(t *testing.T, fn func()) {
	t.Helper()
	defer func() {
		r := recover()
		require.NotNil(t, r, "expected a corruption panic")
		require.True(t, IsCorruption(r), "unexpected panic: %v", r)
	}()
	fn()
}

func fill(p unsafe.Pointer, n uintptr, v byte) {
	mem := unsafe.Slice((*byte)(p), n)
	for i := range mem {
		mem[i] = v
	}
}

// Test_Allocator_ZeroSize tests a zero-byte request is rejected.
func Test_Allocator_ZeroSize(t *testing.T) {
	a := newTestAllocator(t, Options{})

	p, err := a.Alloc(0)
	require.ErrorIs(t, err, ErrInvalidSize)
	require.Nil(t, p)

	tc := a.NewThreadCache()
	defer tc.Close()
	_, err = tc.Alloc(0)
	require.ErrorIs(t, err, ErrInvalidSize)
}

// Test_Allocator_ThreadCacheReuse tests freed blocks are handed out again.
func Test_Allocator_ThreadCacheReuse(t *testing.T) {
	a := newTestAllocator(t, Options{})
	tc := a.NewThreadCache()
	defer tc.Close()

	first := make([]uintptr, 8)
	for i := range first {
		p, err := tc.Alloc(16)
		require.NoError(t, err)
		first[i] = uintptr(p)
	}
	for _, p := range first {
		tc.Dealloc(unsafe.Pointer(p))
	}

	again := make([]uintptr, 8)
	for i := range again {
		p, err := tc.Alloc(16)
		require.NoError(t, err)
		again[i] = uintptr(p)
	}
	slices.Sort(first)
	slices.Sort(again)
	require.Equal(t, first, again)
}

// Test_Allocator_SharedSlotReuse tests blocks freed through the allocator are
// handed out again by the shared slots.
func Test_Allocator_SharedSlotReuse(t *testing.T) {
	a := newTestAllocator(t, Options{})

	freed := make([]uintptr, 8)
	for i := range freed {
		p, err := a.Alloc(16)
		require.NoError(t, err)
		freed[i] = uintptr(p)
	}
	for _, p := range freed {
		a.Dealloc(unsafe.Pointer(p))
	}

	p, err := a.Alloc(16)
	require.NoError(t, err)
	require.Contains(t, freed, uintptr(p))
	a.Dealloc(p)
	require.Zero(t, a.Stats().Live())
}

// Test_Allocator_LargeAfterMixedFrees tests a large contiguous request succeeds
// after mixed small objects are freed in random order, without a flush.
func Test_Allocator_LargeAfterMixedFrees(t *testing.T) {
	a := newTestAllocator(t, Options{})
	rng := rand.New(rand.NewSource(7))

	var (
		held      []unsafe.Pointer
		requested uintptr
	)
	for requested < 40<<20 {
		size := uintptr(rng.Intn(4096) + 1)
		p, err := a.Alloc(size)
		require.NoError(t, err)
		held = append(held, p)
		requested += size
	}
	rng.Shuffle(len(held), func(i, j int) { held[i], held[j] = held[j], held[i] })
	for _, p := range held {
		a.Dealloc(p)
	}

	st := a.Stats()
	require.Zero(t, st.Live())
	require.LessOrEqual(t, st.CachedBytes, int64(threadcache.MaxBytes)*int64(st.Slots+1))

	const large = 32 << 20
	p, err := a.Alloc(large)
	require.NoError(t, err)
	fill(p, large, 0x5A)
	a.Dealloc(p)
}

// Test_Allocator_ReclaimsIdleSlots tests an exhausted arena is refilled from
// blocks idle in the shared slots before reporting out of memory.
func Test_Allocator_ReclaimsIdleSlots(t *testing.T) {
	a := newTestAllocator(t, Options{ArenaSize: 1 << 20})

	// Eight 64KB blocks fill two 256KB spans and stay cached after the frees.
	held := make([]unsafe.Pointer, 8)
	for i := range held {
		p, err := a.Alloc(64 << 10)
		require.NoError(t, err)
		held[i] = p
	}
	for _, p := range held {
		a.Dealloc(p)
	}
	require.Positive(t, a.Stats().CachedBytes)

	p, err := a.Alloc(768 << 10)
	require.NoError(t, err)

	st := a.Stats()
	require.Equal(t, uint64(1), st.Reclaims)
	require.Zero(t, st.CachedBytes)
	require.Equal(t, 1, st.Pages.SpansInUse)
	a.Dealloc(p)
}

// Test_Allocator_NoOverlap tests live allocations never share bytes.
func Test_Allocator_NoOverlap(t *testing.T) {
	a := newTestAllocator(t, Options{})
	rng := rand.New(rand.NewSource(42))

	type obj struct {
		p    uintptr
		size uintptr
		tag  byte
	}
	objs := make([]obj, 0, 2000)
	for i := range 2000 {
		size := uintptr(rng.Intn(4096) + 1)
		if i%100 == 0 {
			size = sizeclass.MaxSize + uintptr(rng.Intn(64<<10))
		}
		p, err := a.Alloc(size)
		require.NoError(t, err)
		tag := byte(i)
		fill(p, size, tag)
		objs = append(objs, obj{p: uintptr(p), size: size, tag: tag})
	}

	sorted := slices.Clone(objs)
	slices.SortFunc(sorted, func(x, y obj) int { return cmp.Compare(x.p, y.p) })
	for i := 1; i < len(sorted); i++ {
		prev := sorted[i-1]
		require.LessOrEqual(t, prev.p+prev.size, sorted[i].p,
			"objects %#x+%d and %#x overlap", prev.p, prev.size, sorted[i].p)
	}

	for _, o := range objs {
		mem := unsafe.Slice((*byte)(unsafe.Pointer(o.p)), o.size)
		require.Equal(t, o.tag, mem[0])
		require.Equal(t, o.tag, mem[o.size-1])
		a.Dealloc(unsafe.Pointer(o.p))
	}
	require.Zero(t, a.Stats().Live())
}

// Test_Allocator_UsableSize tests the backing size of small and large objects.
func Test_Allocator_UsableSize(t *testing.T) {
	a := newTestAllocator(t, Options{})

	tests := []struct {
		size uintptr
		want uintptr
	}{
		{1, 8},
		{16, 16},
		{129, 144},
		{1000, 1008},
		{sizeclass.MaxSize, sizeclass.MaxSize},
		{sizeclass.MaxSize + 1, sizeclass.MaxSize + sizeclass.PageSize},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.size), func(t *testing.T) {
			p, err := a.Alloc(tt.size)
			require.NoError(t, err)
			defer a.Dealloc(p)
			require.Equal(t, tt.want, a.UsableSize(p))
		})
	}

	require.Zero(t, a.UsableSize(nil))
	var local uint64
	require.Zero(t, a.UsableSize(unsafe.Pointer(&local)))
}

// Test_Allocator_LargeObjects tests large objects are page aligned and their pages reused.
func Test_Allocator_LargeObjects(t *testing.T) {
	a := newTestAllocator(t, Options{})

	p, err := a.Alloc(1 << 20)
	require.NoError(t, err)
	require.Zero(t, uintptr(p)%sizeclass.PageSize)
	fill(p, 1<<20, 0x5A)

	st := a.Stats()
	require.Equal(t, uint64(1), st.LargeAllocs)
	require.Zero(t, st.Allocs)

	a.Dealloc(p)
	require.Equal(t, uint64(1), a.Stats().LargeFrees)

	q, err := a.Alloc(1 << 20)
	require.NoError(t, err)
	require.Equal(t, p, q, "freed pages are reused")
	a.Dealloc(q)
}

// Test_Allocator_LargeDoubleFreePanics tests a second free of a large object is detected.
func Test_Allocator_LargeDoubleFreePanics(t *testing.T) {
	a := newTestAllocator(t, Options{})

	p, err := a.Alloc(sizeclass.MaxSize + 1)
	require.NoError(t, err)
	a.Dealloc(p)

	requireCorruptionPanic(t, func() { a.Dealloc(p) })
}

// Test_Allocator_ForeignPointerPanics tests pointers the allocator never returned are rejected.
func Test_Allocator_ForeignPointerPanics(t *testing.T) {
	a := newTestAllocator(t, Options{})

	var local [64]byte
	requireCorruptionPanic(t, func() { a.Dealloc(unsafe.Pointer(&local[0])) })

	large, err := a.Alloc(2 * sizeclass.MaxSize)
	require.NoError(t, err)
	requireCorruptionPanic(t, func() { a.Dealloc(unsafe.Add(large, 64)) })

	small, err := a.Alloc(48)
	require.NoError(t, err)
	requireCorruptionPanic(t, func() { a.Dealloc(unsafe.Add(small, 8)) })
}

// Test_Allocator_NilDealloc tests nil is accepted everywhere.
func Test_Allocator_NilDealloc(t *testing.T) {
	a := newTestAllocator(t, Options{})
	a.Dealloc(nil)
	a.FreeBytes(nil)

	tc := a.NewThreadCache()
	tc.Dealloc(nil)
	tc.Close()
}

// Test_Allocator_CoalescesAfterFree tests freeing neighbours restores one contiguous run.
func Test_Allocator_CoalescesAfterFree(t *testing.T) {
	const arena = 4 << 20
	a := newTestAllocator(t, Options{ArenaSize: arena})

	var held []unsafe.Pointer
	for range 7 {
		p, err := a.Alloc(512 << 10)
		require.NoError(t, err)
		held = append(held, p)
	}
	require.Equal(t, uintptr(arena), a.Stats().Pages.CommittedBytes)

	_, err := a.Alloc(arena)
	require.ErrorIs(t, err, ErrOutOfMemory)

	for _, p := range held {
		a.Dealloc(p)
	}
	st := a.Stats().Pages
	require.Equal(t, 1, st.FreeSpans)

	whole, err := a.Alloc(arena)
	require.NoError(t, err)
	require.Equal(t, held[0], whole)
	a.Dealloc(whole)
}

// Test_Allocator_FlushReturnsSpans tests flushing hands empty spans back to the page heap.
func Test_Allocator_FlushReturnsSpans(t *testing.T) {
	a := newTestAllocator(t, Options{})

	var held []unsafe.Pointer
	for i := range 1000 {
		p, err := a.Alloc(uintptr(64 + i%512))
		require.NoError(t, err)
		held = append(held, p)
	}
	require.Positive(t, a.Stats().Pages.SpansInUse)

	for _, p := range held {
		a.Dealloc(p)
	}
	a.Flush()

	st := a.Stats()
	require.Zero(t, st.Live())
	require.Zero(t, st.CachedBytes)
	require.Zero(t, st.Central.Spans)
	require.Zero(t, st.Pages.SpansInUse)
	require.Equal(t, st.Pages.CommittedBytes, st.Pages.FreeBytes)
}

// Test_Allocator_Trim tests trimming releases free pages and leaves them usable.
func Test_Allocator_Trim(t *testing.T) {
	a := newTestAllocator(t, Options{})

	p, err := a.Alloc(2 << 20)
	require.NoError(t, err)
	a.Dealloc(p)

	released := a.Trim()
	require.Positive(t, released)
	require.Positive(t, a.Stats().Pages.ScavengedBytes)
	require.Zero(t, a.Trim(), "nothing left to release")

	q, err := a.Alloc(2 << 20)
	require.NoError(t, err)
	fill(q, 2<<20, 1)
	a.Dealloc(q)
}

// Test_Allocator_Bytes tests the slice helpers.
func Test_Allocator_Bytes(t *testing.T) {
	a := newTestAllocator(t, Options{})

	b, err := a.AllocBytes(100)
	require.NoError(t, err)
	require.Len(t, b, 100)
	copy(b, "hello")
	require.Equal(t, "hello", string(b[:5]))
	require.GreaterOrEqual(t, a.UsableSize(unsafe.Pointer(&b[0])), uintptr(100))
	a.FreeBytes(b)

	_, err = a.AllocBytes(0)
	require.ErrorIs(t, err, ErrInvalidSize)
	_, err = a.AllocBytes(-1)
	require.ErrorIs(t, err, ErrInvalidSize)
}

// Test_Allocator_OutOfMemory tests exhaustion surfaces as ErrOutOfMemory.
func Test_Allocator_OutOfMemory(t *testing.T) {
	a := newTestAllocator(t, Options{ArenaSize: 1 << 20})

	_, err := a.Alloc(2 << 20)
	require.ErrorIs(t, err, ErrOutOfMemory)

	// Small classes fail the same way once the arena is full.
	p, err := a.Alloc(1 << 20)
	require.NoError(t, err)
	_, err = a.Alloc(16)
	require.ErrorIs(t, err, ErrOutOfMemory)

	require.Positive(t, a.Stats().Reclaims)

	a.Dealloc(p)
	q, err := a.Alloc(16)
	require.NoError(t, err)
	a.Dealloc(q)
}

// Test_Allocator_CloseTwice tests Close reports a second call.
func Test_Allocator_CloseTwice(t *testing.T) {
	a, err := New(Options{ArenaSize: 1 << 20})
	require.NoError(t, err)
	require.NoError(t, a.Close())
	require.ErrorIs(t, a.Close(), ErrClosed)
}

// Test_Allocator_OverflowCache tests calls fall back to the shared cache when no slot is free.
func Test_Allocator_OverflowCache(t *testing.T) {
	a := newTestAllocator(t, Options{CacheSlots: 1})

	h := a.slots.acquire()
	require.NotNil(t, h)
	require.Equal(t, 1, a.Stats().SlotsClaimed)

	p, err := a.Alloc(32)
	require.NoError(t, err)
	a.Dealloc(p)
	require.Equal(t, uint64(2), a.Stats().Overflows)

	a.slots.release(h)
	st := a.Stats()
	require.Equal(t, uint64(1), st.Allocs)
	require.Equal(t, uint64(1), st.Frees)
}

// Test_Allocator_CrossCacheFree tests memory may be freed through a different cache.
func Test_Allocator_CrossCacheFree(t *testing.T) {
	a := newTestAllocator(t, Options{})
	one := a.NewThreadCache()
	two := a.NewThreadCache()
	require.Equal(t, 2, a.Stats().ThreadCaches)

	var held []unsafe.Pointer
	for range 100 {
		p, err := one.Alloc(200)
		require.NoError(t, err)
		held = append(held, p)
	}
	for i, p := range held {
		if i%2 == 0 {
			two.Dealloc(p)
		} else {
			a.Dealloc(p)
		}
	}

	one.Close()
	two.Close()
	a.Flush()

	st := a.Stats()
	assert.Zero(t, st.ThreadCaches)
	assert.Equal(t, uint64(100), st.Allocs)
	assert.Equal(t, uint64(100), st.Frees)
	assert.Zero(t, st.Pages.SpansInUse)
}

// Test_Allocator_ConcurrentStress tests many goroutines allocating and freeing at once.
func Test_Allocator_ConcurrentStress(t *testing.T) {
	a := newTestAllocator(t, Options{})

	const (
		workers = 8
		window  = 32
	)
	cycles := 100_000
	if testing.Short() {
		cycles = 10_000
	}

	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for w := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var ring [window]unsafe.Pointer
			for i := range cycles {
				slot := i % window
				if old := ring[slot]; old != nil {
					if got := *(*uint64)(old); got != uint64(w)<<32|uint64(i-window) {
						errs <- fmt.Errorf("worker %d cycle %d: block clobbered: %#x", w, i, got)
						return
					}
					a.Dealloc(old)
				}
				p, err := a.Alloc(16)
				if err != nil {
					errs <- fmt.Errorf("worker %d: %w", w, err)
					return
				}
				*(*uint64)(p) = uint64(w)<<32 | uint64(i)
				ring[slot] = p
			}
			for _, p := range ring {
				a.Dealloc(p)
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	a.Flush()
	st := a.Stats()
	require.Equal(t, st.Allocs, st.Frees)
	require.Equal(t, uint64(workers*cycles), st.Allocs)
	require.LessOrEqual(t, st.Pages.CommittedBytes, uintptr(8<<20))
	require.Zero(t, st.Pages.SpansInUse)
}

// Test_Allocator_ThreadCachesInParallel tests goroutine-owned caches under concurrency.
func Test_Allocator_ThreadCachesInParallel(t *testing.T) {
	a := newTestAllocator(t, Options{})
	rounds := 200
	if testing.Short() {
		rounds = 20
	}

	var wg sync.WaitGroup
	errs := make(chan error, 4)
	for w := range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tc := a.NewThreadCache()
			defer tc.Close()
			rng := rand.New(rand.NewSource(int64(w)))
			held := make([]unsafe.Pointer, 0, 256)
			for range rounds {
				for range 256 {
					p, err := tc.Alloc(uintptr(rng.Intn(8192) + 1))
					if err != nil {
						errs <- err
						return
					}
					held = append(held, p)
				}
				for _, p := range held {
					tc.Dealloc(p)
				}
				held = held[:0]
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	a.Flush()
	st := a.Stats()
	require.Zero(t, st.Live())
	require.Zero(t, st.Pages.SpansInUse)
}
