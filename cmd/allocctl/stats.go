package main

import (
	"fmt"
	"unsafe"

	"github.com/spf13/cobra"

	"github.com/joshuapare/allockit/pool"
)

var (
	statsCount int
	statsSize  uint64
	statsFree  bool
	statsTrim  bool
	statsArena uint64
)

func init() {
	cmd := newStatsCmd()
	cmd.Flags().IntVarP(&statsCount, "count", "n", 10000, "Objects to allocate")
	cmd.Flags().Uint64VarP(&statsSize, "size", "s", 64, "Object size in bytes")
	cmd.Flags().BoolVar(&statsFree, "free", false, "Free every object before reporting")
	cmd.Flags().BoolVar(&statsTrim, "trim", false, "Flush caches and release free pages before reporting (implies --free)")
	cmd.Flags().Uint64Var(&statsArena, "arena", 0, "Arena reservation in bytes (default platform size)")
	rootCmd.AddCommand(cmd)
}

func newStatsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show per-tier allocator statistics for a workload",
		Long: `The stats command allocates objects from a fresh allocator and
reports what each tier holds: thread caches, central spans and pages.

Example:
  allocctl stats
  allocctl stats --count 100000 --size 48 --free
  allocctl stats --size 1048576 --count 16 --trim --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStats()
		},
	}
	return cmd
}

// StatsReport is the JSON form of the stats command.
type StatsReport struct {
	Count    int        `json:"count"`
	Size     uint64     `json:"size"`
	Usable   uintptr    `json:"usable_size"`
	Freed    bool       `json:"freed"`
	Released uintptr    `json:"released_bytes"`
	Stats    pool.Stats `json:"stats"`
}

func runStats() error {
	if statsCount < 0 {
		return fmt.Errorf("--count must not be negative")
	}
	a, err := pool.New(pool.Options{
		ArenaSize: uintptr(statsArena),
		Logger:    allocLogger(),
	})
	if err != nil {
		return err
	}
	defer a.Close()

	report := StatsReport{Count: statsCount, Size: statsSize}
	held := make([]unsafe.Pointer, 0, statsCount)
	for range statsCount {
		p, err := a.Alloc(uintptr(statsSize))
		if err != nil {
			return fmt.Errorf("allocation %d: %w", len(held), err)
		}
		held = append(held, p)
	}
	if len(held) > 0 {
		report.Usable = a.UsableSize(held[0])
	}

	if statsFree || statsTrim {
		for _, p := range held {
			a.Dealloc(p)
		}
		report.Freed = true
	}
	if statsTrim {
		report.Released = a.Trim()
	}
	report.Stats = a.Stats()

	if jsonOut {
		return printJSON(report)
	}

	st := report.Stats
	printInfo("%s\n", title(fmt.Sprintf("Workload: %d x %d bytes (usable %d)",
		statsCount, statsSize, report.Usable)))
	printInfo("%s\n", renderTable([]string{"metric", "value"}, [][]string{
		{"live objects", fmt.Sprint(st.Live())},
		{"small allocs / frees", fmt.Sprintf("%d / %d", st.Allocs, st.Frees)},
		{"large allocs / frees", fmt.Sprintf("%d / %d", st.LargeAllocs, st.LargeFrees)},
		{"thread cache bytes", formatBytes(st.CachedBytes)},
		{"slots claimed", fmt.Sprintf("%d / %d", st.SlotsClaimed, st.Slots)},
		{"overflow calls", fmt.Sprint(st.Overflows)},
		{"cache shrinks / reclaims", fmt.Sprintf("%d / %d", st.CacheShrinks, st.Reclaims)},
		{"central spans", fmt.Sprint(st.Central.Spans)},
		{"central fetches / releases", fmt.Sprintf("%d / %d", st.Central.Fetches, st.Central.Releases)},
		{"committed", formatBytes(int64(st.Pages.CommittedBytes))},
		{"reserved", formatBytes(int64(st.Pages.ReservedBytes))},
		{"free", formatBytes(int64(st.Pages.FreeBytes))},
		{"scavenged", formatBytes(int64(st.Pages.ScavengedBytes))},
		{"spans in use / free", fmt.Sprintf("%d / %d", st.Pages.SpansInUse, st.Pages.FreeSpans)},
		{"grows / splits / coalesces", fmt.Sprintf("%d / %d / %d",
			st.Pages.Grows, st.Pages.Splits, st.Pages.Coalesces)},
	}))
	if statsTrim {
		printInfo("Released %s to the OS\n", formatBytes(int64(report.Released)))
	}
	return nil
}

func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
