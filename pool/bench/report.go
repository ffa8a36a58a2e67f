package bench

import (
	"fmt"
	"io"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Row is one formatted report line.
type Row struct {
	Target   string
	Ops      string
	AllocNs  string
	FreeNs   string
	OpsSec   string
	Relative string // speed relative to the runtime target, when present
}

// Header is the column titles matching Row.
var Header = []string{"target", "ops", "ns/alloc", "ns/free", "ops/s", "vs runtime"}

// Rows formats results with the number conventions of lang.
func Rows(lang language.Tag, results []Result) []Row {
	p := message.NewPrinter(lang)

	var base float64
	for _, r := range results {
		if r.Target == TargetRuntime {
			base = r.NsPerAlloc() + r.NsPerFree()
		}
	}

	rows := make([]Row, 0, len(results))
	for _, r := range results {
		row := Row{
			Target:  string(r.Target),
			Ops:     p.Sprintf("%d", r.Ops),
			AllocNs: p.Sprintf("%.1f", r.NsPerAlloc()),
			FreeNs:  p.Sprintf("%.1f", r.NsPerFree()),
			OpsSec:  p.Sprintf("%.0f", r.OpsPerSec()),
		}
		if cost := r.NsPerAlloc() + r.NsPerFree(); base > 0 && cost > 0 {
			row.Relative = p.Sprintf("%.2fx", base/cost)
		}
		rows = append(rows, row)
	}
	return rows
}

// WriteReport writes results as an aligned plain-text table.
func WriteReport(w io.Writer, lang language.Tag, results []Result) error {
	rows := Rows(lang, results)

	widths := make([]int, len(Header))
	cells := func(r Row) []string {
		return []string{r.Target, r.Ops, r.AllocNs, r.FreeNs, r.OpsSec, r.Relative}
	}
	for i, h := range Header {
		widths[i] = len(h)
	}
	for _, r := range rows {
		for i, c := range cells(r) {
			widths[i] = max(widths[i], len(c))
		}
	}

	line := func(cols []string) error {
		for i, c := range cols {
			sep := "  "
			if i == len(cols)-1 {
				sep = "\n"
			}
			format := "%*s%s"
			if i == 0 {
				format = "%-*s%s"
			}
			if _, err := fmt.Fprintf(w, format, widths[i], c, sep); err != nil {
				return err
			}
		}
		return nil
	}

	if err := line(Header); err != nil {
		return err
	}
	for _, r := range rows {
		if err := line(cells(r)); err != nil {
			return err
		}
	}
	return nil
}
