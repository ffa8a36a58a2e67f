// Command benchmark_parser turns `go test -bench` output for the pool
// package into a markdown report comparing the allocator with the Go runtime.
//
//	go test -run '^$' -bench AllocFree ./pool | go run ./scripts/benchmark_parser.go
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// BenchmarkResult represents a parsed benchmark result.
type BenchmarkResult struct {
	Name        string
	Operation   string
	Size        string
	Impl        string // "pool", "pool-local" or "runtime"
	Iterations  int
	NsPerOp     float64
	BytesPerOp  int64
	AllocsPerOp int64
}

// ComparisonResult compares the pool implementations with the runtime.
type ComparisonResult struct {
	Operation    string
	Size         string
	PoolNs       float64
	LocalNs      float64
	RuntimeNs    float64
	Speedup      float64 // runtime / pool
	LocalSpeedup float64 // runtime / pool-local
	PoolAllocs   int64
	RuntimeBytes int64
	PoolOnly     bool
}

var (
	inputFile = flag.String(
		"input",
		"",
		"Input file with benchmark output (stdin if not specified)",
	)
	outputFile = flag.String("output", "", "Output markdown file (stdout if not specified)")
	quiet      = flag.Bool("quiet", false, "Suppress progress output")
)

func main() {
	flag.Parse()

	// Read benchmark output
	var scanner *bufio.Scanner
	var inputF *os.File
	if *inputFile != "" {
		f, err := os.Open(*inputFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening input file: %v\n", err)
			os.Exit(1)
		}
		inputF = f
		scanner = bufio.NewScanner(f)
	} else {
		scanner = bufio.NewScanner(os.Stdin)
	}

	// Parse benchmarks
	results := parseBenchmarks(scanner)

	if !*quiet {
		fmt.Fprintf(os.Stderr, "Parsed %d benchmark results\n", len(results))
	}

	// Generate comparisons
	comparisons := generateComparisons(results)

	if !*quiet {
		fmt.Fprintf(os.Stderr, "Generated %d comparisons\n", len(comparisons))
	}

	// Generate markdown report
	report := generateMarkdownReport(comparisons, results)

	// Write output
	if *outputFile != "" {
		err := os.WriteFile(*outputFile, []byte(report), 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error writing output file: %v\n", err)
			if inputF != nil {
				inputF.Close()
			}
			os.Exit(1)
		}
		if !*quiet {
			fmt.Fprintf(os.Stderr, "Report written to %s\n", *outputFile)
		}
	} else {
		fmt.Fprint(os.Stdout, report)
	}

	// Close input file if opened
	if inputF != nil {
		inputF.Close()
	}
}

func parseBenchmarks(scanner *bufio.Scanner) []BenchmarkResult {
	var results []BenchmarkResult

	// Regex to parse benchmark output lines
	// BenchmarkAllocFree/pool/16B-8    50000000    21.4 ns/op    0 B/op    0 allocs/op
	benchmarkRegex := regexp.MustCompile(
		`^(Benchmark\S+)\s+(\d+)\s+([\d.]+)\s+ns/op(?:\s+([\d.]+)\s+B/op)?(?:\s+([\d.]+)\s+allocs/op)?`,
	)

	for scanner.Scan() {
		line := scanner.Text()

		// Try to parse as JSON (from -json flag)
		var testEvent map[string]any
		if err := json.Unmarshal([]byte(line), &testEvent); err == nil {
			if output, ok := testEvent["Output"].(string); ok {
				line = output
			}
		}

		matches := benchmarkRegex.FindStringSubmatch(strings.TrimSpace(line))
		if matches == nil {
			continue
		}

		name := matches[1]
		iterations, _ := strconv.Atoi(matches[2])
		nsPerOp, _ := strconv.ParseFloat(matches[3], 64)

		var bytesPerOp, allocsPerOp int64
		if matches[4] != "" {
			bytesPerOp, _ = strconv.ParseInt(matches[4], 10, 64)
		}
		if matches[5] != "" {
			allocsPerOp, _ = strconv.ParseInt(matches[5], 10, 64)
		}

		// Format: Benchmark<Operation>/<impl>/<size>-<procs>
		// Benchmarks without an impl level (e.g. BenchmarkAllocParallel/16B-8)
		// are reported as pool-only.
		parts := strings.Split(name, "/")
		operation := strings.TrimPrefix(parts[0], "Benchmark")
		impl := "pool"
		if len(parts) >= 3 {
			impl = parts[1]
		}
		size := stripProcs(parts[len(parts)-1])
		if len(parts) == 1 {
			operation = stripProcs(operation)
			size = ""
		}

		results = append(results, BenchmarkResult{
			Name:        name,
			Operation:   operation,
			Size:        size,
			Impl:        impl,
			Iterations:  iterations,
			NsPerOp:     nsPerOp,
			BytesPerOp:  bytesPerOp,
			AllocsPerOp: allocsPerOp,
		})
	}

	return results
}

// stripProcs removes the -N GOMAXPROCS suffix from a benchmark name part.
func stripProcs(s string) string {
	if i := strings.LastIndex(s, "-"); i > 0 {
		if _, err := strconv.Atoi(s[i+1:]); err == nil {
			return s[:i]
		}
	}
	return s
}

func generateComparisons(results []BenchmarkResult) []ComparisonResult {
	type key struct {
		operation string
		size      string
	}

	grouped := make(map[key]map[string]BenchmarkResult)
	for _, result := range results {
		k := key{result.Operation, result.Size}
		if grouped[k] == nil {
			grouped[k] = make(map[string]BenchmarkResult)
		}
		grouped[k][result.Impl] = result
	}

	var comparisons []ComparisonResult
	for k, impls := range grouped {
		p, hasPool := impls["pool"]
		local, hasLocal := impls["pool-local"]
		rt, hasRuntime := impls["runtime"]
		if !hasPool && !hasLocal {
			continue
		}

		comp := ComparisonResult{
			Operation:  k.operation,
			Size:       k.size,
			PoolNs:     p.NsPerOp,
			LocalNs:    local.NsPerOp,
			PoolAllocs: p.AllocsPerOp,
			PoolOnly:   !hasRuntime,
		}
		if hasRuntime {
			comp.RuntimeNs = rt.NsPerOp
			comp.RuntimeBytes = rt.BytesPerOp
			if hasPool && p.NsPerOp > 0 {
				comp.Speedup = rt.NsPerOp / p.NsPerOp
			}
			if hasLocal && local.NsPerOp > 0 {
				comp.LocalSpeedup = rt.NsPerOp / local.NsPerOp
			}
		}
		comparisons = append(comparisons, comp)
	}

	// Sort by operation then size
	sort.Slice(comparisons, func(i, j int) bool {
		if comparisons[i].Operation != comparisons[j].Operation {
			return comparisons[i].Operation < comparisons[j].Operation
		}
		return sizeBytes(comparisons[i].Size) < sizeBytes(comparisons[j].Size)
	})

	return comparisons
}

// sizeBytes parses names like 16B, 4KB or 1MB for ordering.
func sizeBytes(s string) int64 {
	mult := int64(1)
	switch {
	case strings.HasSuffix(s, "MB"):
		mult, s = 1<<20, strings.TrimSuffix(s, "MB")
	case strings.HasSuffix(s, "KB"):
		mult, s = 1<<10, strings.TrimSuffix(s, "KB")
	default:
		s = strings.TrimSuffix(s, "B")
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return n * mult
}

func generateMarkdownReport(comparisons []ComparisonResult, _ []BenchmarkResult) string {
	var sb strings.Builder

	sb.WriteString("# Allocator Benchmark Report\n\n")
	sb.WriteString(fmt.Sprintf("Generated: %s\n\n", time.Now().Format("2006-01-02 15:04:05")))

	poolFaster, runtimeFaster, poolOnly := 0, 0, 0
	totalSpeedup := 0.0
	for _, comp := range comparisons {
		switch {
		case comp.PoolOnly:
			poolOnly++
		case comp.Speedup >= 1.0:
			poolFaster++
			totalSpeedup += comp.Speedup
		default:
			runtimeFaster++
			totalSpeedup += comp.Speedup
		}
	}

	compared := len(comparisons) - poolOnly
	avgSpeedup := 0.0
	if compared > 0 {
		avgSpeedup = totalSpeedup / float64(compared)
	}

	sb.WriteString("## Summary\n\n")
	sb.WriteString(fmt.Sprintf("- **Total benchmarks**: %d\n", len(comparisons)))
	sb.WriteString(fmt.Sprintf("- **Compared with runtime**: %d\n", compared))
	sb.WriteString(fmt.Sprintf("  - pool faster: %d\n", poolFaster))
	sb.WriteString(fmt.Sprintf("  - runtime faster: %d\n", runtimeFaster))
	sb.WriteString(fmt.Sprintf("  - Average speedup: **%.2fx**\n", avgSpeedup))
	sb.WriteString(fmt.Sprintf("- **pool-only benchmarks**: %d\n", poolOnly))
	sb.WriteString("\n")

	sb.WriteString("## Detailed Results\n\n")
	sb.WriteString(
		"| Operation | Size | pool (ns/op) | pool-local (ns/op) | runtime (ns/op) | Speedup | Local speedup | runtime B/op |\n",
	)
	sb.WriteString(
		"|-----------|------|--------------|--------------------|-----------------|---------|---------------|--------------|\n",
	)

	for _, comp := range comparisons {
		if comp.PoolOnly {
			sb.WriteString(fmt.Sprintf("| %s | %s | %s | %s | *N/A* | *pool only* | | |\n",
				comp.Operation,
				comp.Size,
				formatNumber(comp.PoolNs),
				formatNumber(comp.LocalNs),
			))
			continue
		}

		indicator := "✓"
		if comp.Speedup < 1.0 {
			indicator = "✗"
		}
		sb.WriteString(fmt.Sprintf("| %s | %s | %s | %s | %s | %.2fx %s | %.2fx | %s |\n",
			comp.Operation,
			comp.Size,
			formatNumber(comp.PoolNs),
			formatNumber(comp.LocalNs),
			formatNumber(comp.RuntimeNs),
			comp.Speedup,
			indicator,
			comp.LocalSpeedup,
			formatBytes(comp.RuntimeBytes),
		))
	}

	sb.WriteString("\n")
	sb.WriteString("## Notes\n\n")
	sb.WriteString("- **Speedup > 1.0**: the pool allocator is faster than make([]byte) ✓\n")
	sb.WriteString("- **Speedup < 1.0**: the runtime is faster ✗\n")
	sb.WriteString("- **pool-local** uses a goroutine-owned ThreadCache\n")
	sb.WriteString("- Runtime figures exclude the GC work the allocation eventually costs\n")

	return sb.String()
}

func formatNumber(n float64) string {
	if n >= 1000000 {
		return fmt.Sprintf("%.2fM", n/1000000)
	} else if n >= 1000 {
		return fmt.Sprintf("%.1fK", n/1000)
	}
	return fmt.Sprintf("%.0f", n)
}

func formatBytes(b int64) string {
	if b >= 1024*1024 {
		return fmt.Sprintf("%.2fMB", float64(b)/(1024*1024))
	} else if b >= 1024 {
		return fmt.Sprintf("%.1fKB", float64(b)/1024)
	}
	return fmt.Sprintf("%dB", b)
}
