package central

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joshuapare/allockit/internal/osmem"
	"github.com/joshuapare/allockit/pool/block"
	"github.com/joshuapare/allockit/pool/pagecache"
	"github.com/joshuapare/allockit/pool/sizeclass"
	"github.com/joshuapare/allockit/pool/span"
)

func newTestCentral(t testing.TB) (*Cache, *pagecache.Cache) {
	t.Helper()
	region, err := osmem.Reserve(64<<20, sizeclass.PageSize)
	require.NoError(t, err)
	t.Cleanup(func() { _ = region.Release() })

	pages, err := pagecache.New(region, pagecache.Options{CommitGranularity: osmem.Granularity()})
	require.NoError(t, err)
	return New(pages, nil), pages
}

func mustClass(t testing.TB, size uintptr) int {
	t.Helper()
	c, ok := sizeclass.ClassOf(size)
	require.True(t, ok)
	return c
}

// addrs walks a batch into a slice.
func addrs(b block.Batch) []uintptr {
	out := make([]uintptr, 0, b.N)
	for a, i := b.Head, 0; i < b.N; i++ {
		out = append(out, a)
		a = block.Next(a)
	}
	return out
}

// chain links addresses into a batch.
func chain(list []uintptr) block.Batch {
	var l block.List
	for i := len(list) - 1; i >= 0; i-- {
		l.Push(list[i])
	}
	return l.PopBatch(len(list))
}

func requirePanicsCorruption(t *testing.T, fn func()) {
	t.Helper()
	defer func() {
		r := recover()
		require.NotNil(t, r, "expected a corruption panic")
		err, ok := r.(error)
		require.True(t, ok, "panic value %v is not an error", r)
		require.ErrorIs(t, err, ErrCorruption)
	}()
	fn()
}

// Test_Central_FetchCarvesOneSpan tests a batch comes from a single span.
func Test_Central_FetchCarvesOneSpan(t *testing.T) {
	c, pages := newTestCentral(t)
	class := mustClass(t, 16)

	b, err := c.FetchBatch(class, 100)
	require.NoError(t, err)
	require.Equal(t, 100, b.N)

	list := addrs(b)
	require.Equal(t, b.Tail, list[len(list)-1])
	s := pages.Lookup(list[0])
	require.NotNil(t, s)
	require.Equal(t, class, s.Class)

	seen := make(map[uintptr]bool, len(list))
	for _, a := range list {
		require.Same(t, s, pages.Lookup(a))
		require.True(t, s.IsBlock(a))
		require.False(t, seen[a], "block %#x handed out twice", a)
		seen[a] = true
	}
	require.Equal(t, 100, s.Allocated)
	require.Equal(t, int64(1), c.Stats().Spans)
}

// Test_Central_ShortBatchAtSpanEnd tests a fetch stops at the end of the span.
func Test_Central_ShortBatchAtSpanEnd(t *testing.T) {
	c, _ := newTestCentral(t)
	class := mustClass(t, 16)
	perSpan := sizeclass.BlocksPerSpan(class)

	first, err := c.FetchBatch(class, perSpan-12)
	require.NoError(t, err)
	require.Equal(t, perSpan-12, first.N)

	rest, err := c.FetchBatch(class, 100)
	require.NoError(t, err)
	require.Equal(t, 12, rest.N)

	partial, full := c.ClassSpans(class)
	require.Equal(t, 0, partial)
	require.Equal(t, 1, full)

	next, err := c.FetchBatch(class, 100)
	require.NoError(t, err)
	require.Equal(t, 100, next.N)
	partial, full = c.ClassSpans(class)
	require.Equal(t, 1, partial)
	require.Equal(t, 1, full)
}

// Test_Central_ReleaseFullToPartial tests a full span becomes partial again.
func Test_Central_ReleaseFullToPartial(t *testing.T) {
	c, _ := newTestCentral(t)
	class := mustClass(t, 64)
	perSpan := sizeclass.BlocksPerSpan(class)

	b, err := c.FetchBatch(class, perSpan)
	require.NoError(t, err)
	require.Equal(t, perSpan, b.N)

	list := addrs(b)
	c.ReleaseBatch(class, chain(list[:1]))
	partial, full := c.ClassSpans(class)
	require.Equal(t, 1, partial)
	require.Equal(t, 0, full)

	// The returned block is the next one handed out.
	again, err := c.FetchBatch(class, 1)
	require.NoError(t, err)
	require.Equal(t, list[0], again.Head)
}

// Test_Central_EmptySpanReturnsToPages tests a span with every block back goes to the page heap.
func Test_Central_EmptySpanReturnsToPages(t *testing.T) {
	c, pages := newTestCentral(t)
	class := mustClass(t, 1024)

	b, err := c.FetchBatch(class, 10)
	require.NoError(t, err)
	s := pages.Lookup(b.Head)
	require.Equal(t, 1, pages.Stats().SpansInUse)

	list := addrs(b)
	c.ReleaseBatch(class, chain(list[:5]))
	require.Equal(t, span.InUse, s.State)

	c.ReleaseBatch(class, chain(list[5:]))
	require.Equal(t, 0, pages.Stats().SpansInUse)
	require.Equal(t, int64(0), c.Stats().Spans)
	partial, full := c.ClassSpans(class)
	require.Zero(t, partial+full)
}

// Test_Central_ReleaseInteriorPointerPanics tests a misaligned block is rejected.
func Test_Central_ReleaseInteriorPointerPanics(t *testing.T) {
	c, _ := newTestCentral(t)
	class := mustClass(t, 32)

	b, err := c.FetchBatch(class, 2)
	require.NoError(t, err)
	requirePanicsCorruption(t, func() {
		c.ReleaseBatch(class, chain([]uintptr{b.Head + 8}))
	})
}

// Test_Central_ReleaseWrongClassPanics tests a block returned under another class is rejected.
func Test_Central_ReleaseWrongClassPanics(t *testing.T) {
	c, _ := newTestCentral(t)
	small := mustClass(t, 32)
	other := mustClass(t, 48)

	b, err := c.FetchBatch(small, 1)
	require.NoError(t, err)
	requirePanicsCorruption(t, func() {
		c.ReleaseBatch(other, chain([]uintptr{b.Head}))
	})
}

// Test_Central_DoubleReleasePanics tests a block released after its span went back is rejected.
func Test_Central_DoubleReleasePanics(t *testing.T) {
	c, _ := newTestCentral(t)
	class := mustClass(t, 128)

	b, err := c.FetchBatch(class, 1)
	require.NoError(t, err)
	addr := b.Head
	c.ReleaseBatch(class, chain([]uintptr{addr}))

	requirePanicsCorruption(t, func() {
		c.ReleaseBatch(class, chain([]uintptr{addr}))
	})
}

type failingPages struct{ err error }

func (f failingPages) AllocSpan(uintptr) (*span.Span, error) { return nil, f.err }
func (failingPages) FreeSpan(*span.Span)                    {}
func (failingPages) Lookup(uintptr) *span.Span              { return nil }

// Test_Central_FetchOutOfMemory tests a page heap failure yields an empty batch.
func Test_Central_FetchOutOfMemory(t *testing.T) {
	c := New(failingPages{err: pagecache.ErrOutOfMemory}, nil)

	b, err := c.FetchBatch(3, 8)
	require.ErrorIs(t, err, pagecache.ErrOutOfMemory)
	require.True(t, b.Empty())
	require.Zero(t, c.Stats().Fetches)
}

// Test_Central_ConcurrentClasses tests concurrent fetch and release across shared classes.
func Test_Central_ConcurrentClasses(t *testing.T) {
	c, pages := newTestCentral(t)
	classes := []int{mustClass(t, 16), mustClass(t, 256), mustClass(t, 4096)}

	const workers = 8
	rounds := 500
	if testing.Short() {
		rounds = 50
	}

	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for w := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			class := classes[w%len(classes)]
			for r := range rounds {
				b, err := c.FetchBatch(class, 1+r%32)
				if err != nil {
					errs <- fmt.Errorf("worker %d: %w", w, err)
					return
				}
				list := addrs(b)
				for _, a := range list {
					block.SetNext(a, uintptr(w))
				}
				c.ReleaseBatch(class, chain(list))
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	require.Zero(t, c.Stats().Spans)
	require.Zero(t, pages.Stats().SpansInUse)
}
