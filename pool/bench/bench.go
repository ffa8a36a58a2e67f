// Package bench measures allocation throughput of the pool allocator against
// the Go runtime under a configurable multi-goroutine workload.
//
// Each worker runs Rounds rounds. A round allocates Count objects, then frees
// all of them; allocation and free time are accumulated separately so the two
// halves can be compared on their own.
package bench

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
	"unsafe"

	"github.com/joshuapare/allockit/pool"
)

// Target names an allocator under test.
type Target string

const (
	// TargetPool uses the shared Allocator entry points.
	TargetPool Target = "pool"
	// TargetPoolLocal gives each worker its own ThreadCache.
	TargetPoolLocal Target = "pool-local"
	// TargetRuntime uses make([]byte) and drops references to free.
	TargetRuntime Target = "runtime"
)

// Targets lists every target in report order.
var Targets = []Target{TargetPool, TargetPoolLocal, TargetRuntime}

// ErrUnknownTarget indicates a target name Run does not recognise.
var ErrUnknownTarget = errors.New("bench: unknown target")

// ParseTarget converts a name to a Target.
func ParseTarget(s string) (Target, error) {
	for _, t := range Targets {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownTarget, s)
}

// Config describes a workload.
type Config struct {
	// Workers is the number of concurrent goroutines. Default: 4
	Workers int
	// Rounds is the number of alloc/free rounds per worker. Default: 10
	Rounds int
	// Count is the number of objects allocated per round. Default: 10000
	Count int
	// Size is the request size in bytes when Mixed is false. Default: 16
	Size uintptr
	// Mixed varies the request size per object as (16+i)%8192+1.
	Mixed bool

	// Pool configures the allocator built for the pool targets.
	Pool pool.Options
}

// DefaultConfig returns a small default workload.
func DefaultConfig() Config {
	return Config{Workers: 4, Rounds: 10, Count: 10000, Size: 16}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Workers <= 0 {
		c.Workers = def.Workers
	}
	if c.Rounds <= 0 {
		c.Rounds = def.Rounds
	}
	if c.Count <= 0 {
		c.Count = def.Count
	}
	if c.Size == 0 {
		c.Size = def.Size
	}
	return c
}

// sizeAt returns the request size of object i.
func (c Config) sizeAt(i int) uintptr {
	if c.Mixed {
		return uintptr((16+i)%8192 + 1)
	}
	return c.Size
}

// Result is the outcome of one Run.
type Result struct {
	Target    Target
	Config    Config
	Ops       int64         // allocations performed (frees are equal)
	AllocTime time.Duration // summed over workers
	FreeTime  time.Duration // summed over workers
	Wall      time.Duration
	Stats     *pool.Stats // allocator counters for the pool targets
}

// NsPerAlloc returns the average allocation cost in nanoseconds.
func (r Result) NsPerAlloc() float64 {
	if r.Ops == 0 {
		return 0
	}
	return float64(r.AllocTime.Nanoseconds()) / float64(r.Ops)
}

// NsPerFree returns the average free cost in nanoseconds.
func (r Result) NsPerFree() float64 {
	if r.Ops == 0 {
		return 0
	}
	return float64(r.FreeTime.Nanoseconds()) / float64(r.Ops)
}

// OpsPerSec returns alloc+free pairs per second of wall time.
func (r Result) OpsPerSec() float64 {
	if r.Wall <= 0 {
		return 0
	}
	return float64(r.Ops) / r.Wall.Seconds()
}

// Run executes cfg against target. Cancellation is checked between rounds;
// a cancelled run returns the context error and no result.
func Run(ctx context.Context, cfg Config, target Target) (Result, error) {
	cfg = cfg.withDefaults()

	var (
		a   *pool.Allocator
		err error
	)
	switch target {
	case TargetPool, TargetPoolLocal:
		a, err = pool.New(cfg.Pool)
		if err != nil {
			return Result{}, fmt.Errorf("bench: %w", err)
		}
		defer a.Close()
	case TargetRuntime:
	default:
		return Result{}, fmt.Errorf("%w: %q", ErrUnknownTarget, target)
	}

	timings := make([]workerTiming, cfg.Workers)
	errs := make([]error, cfg.Workers)
	start := time.Now()

	var wg sync.WaitGroup
	for w := range cfg.Workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			run := newWorker(a, target)
			defer run.close()
			timings[w], errs[w] = runWorker(ctx, cfg, run)
		}()
	}
	wg.Wait()
	wall := time.Since(start)

	if err := errors.Join(errs...); err != nil {
		return Result{}, err
	}

	res := Result{Target: target, Config: cfg, Wall: wall}
	for _, t := range timings {
		res.Ops += t.ops
		res.AllocTime += t.alloc
		res.FreeTime += t.free
	}
	if a != nil {
		a.Flush()
		st := a.Stats()
		res.Stats = &st
	}
	return res, nil
}

type workerTiming struct {
	ops   int64
	alloc time.Duration
	free  time.Duration
}

// worker is one goroutine's view of a target.
type worker interface {
	alloc(size uintptr) (unsafe.Pointer, error)
	free(p unsafe.Pointer)
	close()
}

func newWorker(a *pool.Allocator, target Target) worker {
	switch target {
	case TargetPool:
		return sharedWorker{a}
	case TargetPoolLocal:
		return localWorker{a.NewThreadCache()}
	default:
		return &runtimeWorker{}
	}
}

func runWorker(ctx context.Context, cfg Config, w worker) (workerTiming, error) {
	var t workerTiming
	held := make([]unsafe.Pointer, cfg.Count)
	for range cfg.Rounds {
		if err := ctx.Err(); err != nil {
			return t, err
		}

		begin := time.Now()
		for i := range held {
			p, err := w.alloc(cfg.sizeAt(i))
			if err != nil {
				for _, q := range held[:i] {
					w.free(q)
				}
				return t, fmt.Errorf("bench: alloc %d bytes: %w", cfg.sizeAt(i), err)
			}
			held[i] = p
		}
		mid := time.Now()
		for i, p := range held {
			w.free(p)
			held[i] = nil
		}
		t.alloc += mid.Sub(begin)
		t.free += time.Since(mid)
		t.ops += int64(cfg.Count)
	}
	return t, nil
}

type sharedWorker struct{ a *pool.Allocator }

func (w sharedWorker) alloc(size uintptr) (unsafe.Pointer, error) { return w.a.Alloc(size) }
func (w sharedWorker) free(p unsafe.Pointer)                      { w.a.Dealloc(p) }
func (sharedWorker) close()                                       {}

type localWorker struct{ tc *pool.ThreadCache }

func (w localWorker) alloc(size uintptr) (unsafe.Pointer, error) { return w.tc.Alloc(size) }
func (w localWorker) free(p unsafe.Pointer)                      { w.tc.Dealloc(p) }
func (w localWorker) close()                                     { w.tc.Close() }

// runtimeWorker keeps the slices reachable until their round's free phase,
// so the comparison includes keeping Count objects live.
type runtimeWorker struct {
	live [][]byte
}

func (w *runtimeWorker) alloc(size uintptr) (unsafe.Pointer, error) {
	b := make([]byte, size)
	w.live = append(w.live, b)
	return unsafe.Pointer(unsafe.SliceData(b)), nil
}

func (w *runtimeWorker) free(unsafe.Pointer) {
	if len(w.live) > 0 {
		w.live[len(w.live)-1] = nil
		w.live = w.live[:len(w.live)-1]
	}
}

func (*runtimeWorker) close() {}
