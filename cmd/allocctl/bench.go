package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"golang.org/x/text/language"

	"github.com/joshuapare/allockit/pool"
	"github.com/joshuapare/allockit/pool/bench"
)

var (
	benchWorkers int
	benchRounds  int
	benchCount   int
	benchSize    uint64
	benchMixed   bool
	benchTargets []string
	benchArena   uint64
	benchLang    string
	benchPlain   bool
)

func init() {
	cmd := newBenchCmd()
	def := bench.DefaultConfig()
	cmd.Flags().IntVarP(&benchWorkers, "workers", "w", def.Workers, "Concurrent goroutines")
	cmd.Flags().IntVarP(&benchRounds, "rounds", "r", def.Rounds, "Alloc/free rounds per worker")
	cmd.Flags().IntVarP(&benchCount, "count", "n", def.Count, "Objects allocated per round")
	cmd.Flags().Uint64VarP(&benchSize, "size", "s", uint64(def.Size), "Request size in bytes")
	cmd.Flags().BoolVar(&benchMixed, "mixed", false, "Vary request sizes between 1 and 8192 bytes")
	cmd.Flags().StringSliceVarP(&benchTargets, "target", "t", nil,
		"Targets to run: pool, pool-local, runtime (default all)")
	cmd.Flags().Uint64Var(&benchArena, "arena", 0, "Arena reservation in bytes (default platform size)")
	cmd.Flags().StringVar(&benchLang, "lang", "en", "Locale used to format numbers")
	cmd.Flags().BoolVar(&benchPlain, "plain", false, "Print an unbordered text table for scripts")
	rootCmd.AddCommand(cmd)
}

func newBenchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Benchmark the allocator against the Go runtime",
		Long: `The bench command runs the same alloc/free workload against the
pool allocator (shared and goroutine-owned caches) and the Go runtime,
and reports per-operation cost.

Example:
  allocctl bench
  allocctl bench --workers 8 --count 100000 --size 64
  allocctl bench --mixed --target pool-local --target runtime
  allocctl bench --plain --lang de
  allocctl bench --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			return runBench(ctx)
		},
	}
	return cmd
}

// BenchReport is the JSON form of one target's result.
type BenchReport struct {
	Target     string      `json:"target"`
	Ops        int64       `json:"ops"`
	NsPerAlloc float64     `json:"ns_per_alloc"`
	NsPerFree  float64     `json:"ns_per_free"`
	OpsPerSec  float64     `json:"ops_per_sec"`
	WallMs     int64       `json:"wall_ms"`
	Stats      *pool.Stats `json:"stats,omitempty"`
}

func benchConfig() bench.Config {
	return bench.Config{
		Workers: benchWorkers,
		Rounds:  benchRounds,
		Count:   benchCount,
		Size:    uintptr(benchSize),
		Mixed:   benchMixed,
		Pool: pool.Options{
			ArenaSize: uintptr(benchArena),
			Logger:    allocLogger(),
		},
	}
}

func runBench(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	targets := bench.Targets
	if len(benchTargets) > 0 {
		targets = targets[:0:0]
		for _, name := range benchTargets {
			t, err := bench.ParseTarget(name)
			if err != nil {
				return err
			}
			targets = append(targets, t)
		}
	}

	lang, err := language.Parse(benchLang)
	if err != nil {
		return fmt.Errorf("invalid --lang %q: %w", benchLang, err)
	}

	cfg := benchConfig()
	results := make([]bench.Result, 0, len(targets))
	for _, t := range targets {
		printVerbose("Running %s: %d workers x %d rounds x %d objects\n",
			t, benchWorkers, benchRounds, benchCount)
		res, err := bench.Run(ctx, cfg, t)
		if err != nil {
			return fmt.Errorf("%s: %w", t, err)
		}
		results = append(results, res)
	}

	if jsonOut {
		out := make([]BenchReport, 0, len(results))
		for _, r := range results {
			out = append(out, BenchReport{
				Target:     string(r.Target),
				Ops:        r.Ops,
				NsPerAlloc: r.NsPerAlloc(),
				NsPerFree:  r.NsPerFree(),
				OpsPerSec:  r.OpsPerSec(),
				WallMs:     r.Wall.Milliseconds(),
				Stats:      r.Stats,
			})
		}
		return printJSON(out)
	}

	if benchPlain {
		if quiet {
			return nil
		}
		return bench.WriteReport(os.Stdout, lang, results)
	}

	rows := make([][]string, 0, len(results))
	for _, r := range bench.Rows(lang, results) {
		rows = append(rows, []string{r.Target, r.Ops, r.AllocNs, r.FreeNs, r.OpsSec, r.Relative})
	}
	sizeDesc := fmt.Sprintf("%d bytes", benchSize)
	if benchMixed {
		sizeDesc = "mixed 1-8192 bytes"
	}
	printInfo("%s\n", title(fmt.Sprintf("Workload: %d workers, %d rounds, %d objects, %s",
		benchWorkers, benchRounds, benchCount, sizeDesc)))
	printInfo("%s\n", renderTable(bench.Header, rows))
	return nil
}
