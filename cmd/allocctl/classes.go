package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joshuapare/allockit/pool/sizeclass"
)

var (
	classesMax uint64
)

func init() {
	cmd := newClassesCmd()
	cmd.Flags().Uint64Var(&classesMax, "max", 0, "Only show classes up to this block size")
	rootCmd.AddCommand(cmd)
}

func newClassesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "classes",
		Short: "Show the size class table",
		Long: `The classes command prints every size class with its block size,
transfer batch size, span length and worst-case internal waste.

Example:
  allocctl classes
  allocctl classes --max 1024
  allocctl classes --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClasses()
		},
	}
	return cmd
}

// ClassInfo describes one size class.
type ClassInfo struct {
	Class         int     `json:"class"`
	Size          uintptr `json:"size"`
	Batch         int     `json:"batch"`
	ReleaseAt     int     `json:"release_threshold"`
	SpanPages     uintptr `json:"span_pages"`
	BlocksPerSpan int     `json:"blocks_per_span"`
	MaxWastePct   float64 `json:"max_waste_pct"`
}

func classTable(limit uintptr) []ClassInfo {
	var out []ClassInfo
	var prev uintptr
	for c := range sizeclass.NumClasses {
		size := sizeclass.BlockSize(c)
		if limit > 0 && size > limit {
			break
		}
		// The smallest request landing in c is prev+1.
		waste := float64(size-(prev+1)) * 100 / float64(prev+1)
		out = append(out, ClassInfo{
			Class:         c,
			Size:          size,
			Batch:         sizeclass.BatchSize(c),
			ReleaseAt:     sizeclass.ReleaseThreshold(c),
			SpanPages:     sizeclass.SpanPages(c),
			BlocksPerSpan: sizeclass.BlocksPerSpan(c),
			MaxWastePct:   waste,
		})
		prev = size
	}
	return out
}

func runClasses() error {
	classes := classTable(uintptr(classesMax))
	if jsonOut {
		return printJSON(classes)
	}

	rows := make([][]string, 0, len(classes))
	for _, ci := range classes {
		rows = append(rows, []string{
			fmt.Sprint(ci.Class),
			fmt.Sprint(ci.Size),
			fmt.Sprint(ci.Batch),
			fmt.Sprint(ci.ReleaseAt),
			fmt.Sprint(ci.SpanPages),
			fmt.Sprint(ci.BlocksPerSpan),
			fmt.Sprintf("%.1f%%", ci.MaxWastePct),
		})
	}

	printInfo("%s\n", title(fmt.Sprintf("Size classes (%d of %d, page %d bytes, max %d bytes)",
		len(classes), sizeclass.NumClasses, sizeclass.PageSize, sizeclass.MaxSize)))
	printInfo("%s\n", renderTable(
		[]string{"class", "size", "batch", "release", "pages", "blocks", "max waste"}, rows))
	return nil
}
