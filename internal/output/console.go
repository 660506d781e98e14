// Package output renders end-of-run summaries to the console.
package output

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"

	"github.com/stridekit/stride/internal/stats"
)

// Console writes a colored run summary. Color is disabled explicitly
// or automatically when the destination is not a terminal.
type Console struct {
	Writer  io.Writer
	NoColor bool
}

// NewConsole creates a console writer for w. Passing os.Stdout enables
// terminal detection for color.
func NewConsole(w io.Writer, noColor bool) *Console {
	if f, ok := w.(*os.File); ok && !noColor {
		noColor = !isatty.IsTerminal(f.Fd()) && !isatty.IsCygwinTerminal(f.Fd())
	}
	return &Console{Writer: w, NoColor: noColor}
}

// Summary prints the aggregated run statistics.
func (c *Console) Summary(name string, snap *stats.Snapshot) {
	header := color.New(color.FgCyan, color.Bold)
	good := color.New(color.FgGreen)
	bad := color.New(color.FgRed, color.Bold)
	if c.NoColor {
		header.DisableColor()
		good.DisableColor()
		bad.DisableColor()
	}

	fmt.Fprintf(c.Writer, "\n%s\n", header.Sprintf("■ %s", name))
	fmt.Fprintf(c.Writer, "  duration: %s  samples: %d  bytes: %d\n",
		snap.Elapsed.Round(time.Millisecond), snap.Total, snap.Bytes)

	if snap.Failed == 0 {
		fmt.Fprintf(c.Writer, "  failures: %s\n", good.Sprint("0"))
	} else {
		fmt.Fprintf(c.Writer, "  failures: %s (%.2f%%)\n",
			bad.Sprintf("%d", snap.Failed), snap.ErrorRate*100)
	}

	if len(snap.Entries) > 0 {
		fmt.Fprintf(c.Writer, "\n  %-12s %-28s %8s %8s %10s %10s %10s %10s\n",
			"KIND", "NAME", "COUNT", "FAILED", "MEAN", "P90", "P95", "P99")
		for _, ent := range snap.Entries {
			failed := good.Sprintf("%8d", ent.Failed)
			if ent.Failed > 0 {
				failed = bad.Sprintf("%8d", ent.Failed)
			}
			fmt.Fprintf(c.Writer, "  %-12s %-28s %8d %s %10s %10s %10s %10s\n",
				ent.Kind, truncate(ent.Name, 28), ent.Count, failed,
				round(ent.Mean), round(ent.P90), round(ent.P95), round(ent.P99))
		}
	}

	for _, failure := range snap.RecentFailures {
		fmt.Fprintf(c.Writer, "\n  %s %s/%s: %v",
			bad.Sprint("✗"), failure.Kind, failure.Name, failure.Failure)
	}
	if len(snap.RecentFailures) > 0 {
		fmt.Fprintln(c.Writer)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}

func round(d time.Duration) string {
	switch {
	case d >= time.Second:
		return d.Round(10 * time.Millisecond).String()
	case d >= time.Millisecond:
		return d.Round(10 * time.Microsecond).String()
	default:
		return d.String()
	}
}
