package pool

import (
	"log/slog"
	"runtime"

	"github.com/joshuapare/allockit/internal/osmem"
	"github.com/joshuapare/allockit/pool/pagecache"
)

// defaultSlotsPerProc is the number of cache slots per GOMAXPROCS.
const defaultSlotsPerProc = 4

// Options configures an Allocator.
//
// Use DefaultOptions() for production defaults. Zero fields are filled from
// the defaults by New.
type Options struct {
	// ArenaSize is the address space reserved up front, in bytes (rounded up
	// to the page size). Nothing is committed until it is used.
	// Default: 8GB on 64-bit, 1GB on 32-bit, 256MB without virtual memory
	// Recommendation: keep the default unless address space is constrained
	ArenaSize uintptr

	// GrowPages is the minimum number of 8KB pages committed when the heap grows.
	// Default: 128 (1MB)
	GrowPages uintptr

	// CacheSlots is the number of thread cache slots shared by Alloc and Dealloc.
	// Default: 4 x GOMAXPROCS
	CacheSlots int

	// HugePages asks the kernel to back the arena with transparent huge pages.
	// Linux only; ignored elsewhere.
	// Default: false
	HugePages bool

	// Logger receives slow-path events (growth, out of memory, corruption).
	// Default: logger.L, which discards unless ALLOCKIT_LOG is set
	Logger *slog.Logger
}

// DefaultOptions returns production defaults.
func DefaultOptions() Options {
	return Options{
		ArenaSize:  osmem.PlatformReserve,
		GrowPages:  pagecache.DefaultGrowPages,
		CacheSlots: defaultSlotsPerProc * runtime.GOMAXPROCS(0),
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.ArenaSize == 0 {
		o.ArenaSize = def.ArenaSize
	}
	if o.GrowPages == 0 {
		o.GrowPages = def.GrowPages
	}
	if o.CacheSlots <= 0 {
		o.CacheSlots = def.CacheSlots
	}
	return o
}
