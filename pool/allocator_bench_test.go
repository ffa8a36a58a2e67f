package pool

import (
	"fmt"
	"testing"
	"unsafe"
)

var sink []byte

// BenchmarkAllocFree compares one alloc/free pair across implementations.
// Names follow Benchmark<Op>/<impl>/<size> so scripts/benchmark_parser.go
// can pair them up.
func BenchmarkAllocFree(b *testing.B) {
	for _, size := range []uintptr{16, 256, 4096, 1 << 20} {
		name := sizeName(size)

		b.Run("pool/"+name, func(b *testing.B) {
			a := newTestAllocator(b, Options{})
			b.ReportAllocs()
			for b.Loop() {
				p, err := a.Alloc(size)
				if err != nil {
					b.Fatal(err)
				}
				a.Dealloc(p)
			}
		})

		b.Run("pool-local/"+name, func(b *testing.B) {
			a := newTestAllocator(b, Options{})
			tc := a.NewThreadCache()
			defer tc.Close()
			b.ReportAllocs()
			for b.Loop() {
				p, err := tc.Alloc(size)
				if err != nil {
					b.Fatal(err)
				}
				tc.Dealloc(p)
			}
		})

		b.Run("runtime/"+name, func(b *testing.B) {
			b.ReportAllocs()
			for b.Loop() {
				sink = make([]byte, size)
			}
		})
	}
}

func BenchmarkAllocParallel(b *testing.B) {
	for _, size := range []uintptr{16, 256, 4096} {
		b.Run(sizeName(size), func(b *testing.B) {
			a := newTestAllocator(b, Options{})
			b.ReportAllocs()
			b.RunParallel(func(pb *testing.PB) {
				var batch [64]unsafe.Pointer
				for pb.Next() {
					for i := range batch {
						p, err := a.Alloc(size)
						if err != nil {
							b.Error(err)
							return
						}
						batch[i] = p
					}
					for _, p := range batch {
						a.Dealloc(p)
					}
				}
			})
		})
	}
}

func sizeName(n uintptr) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%dMB", n>>20)
	case n >= 1<<10:
		return fmt.Sprintf("%dKB", n>>10)
	}
	return fmt.Sprintf("%dB", n)
}
