package report

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/olekukonko/tablewriter"
	"golang.org/x/term"

	"github.com/memtriage/memtriage/internal/audit"
	"github.com/memtriage/memtriage/internal/types"
)

type PrintOptions struct {
	NoColor  bool
	Duration time.Duration
	Errors   int
}

var (
	detectedStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
	cleanStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	failedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	mutedStyle    = lipgloss.NewStyle().Faint(true)
)

// ColorEnabled reports whether f is a terminal and color was not disabled.
func ColorEnabled(f *os.File, noColor bool) bool {
	if noColor || os.Getenv("NO_COLOR") != "" {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}

func paint(s lipgloss.Style, text string, noColor bool) string {
	if noColor {
		return text
	}
	return s.Render(text)
}

// PrintTable renders a plugin table with borders.
func PrintTable(w io.Writer, t types.PluginTable) error {
	if len(t.Headers) == 0 {
		_, err := fmt.Fprintln(w, "(no columns)")
		return err
	}
	table := tablewriter.NewWriter(w)
	table.Header(t.Headers)
	for _, row := range padded(t) {
		if err := table.Append(row); err != nil {
			return err
		}
	}
	return table.Render()
}

// PrintScanSummary writes one line per scanned file and a totals footer.
func PrintScanSummary(w io.Writer, results []types.ScanResult, opts PrintOptions) {
	detected, clean := 0, 0
	for _, r := range results {
		if r.Detected() {
			detected++
			fmt.Fprintf(w, "%s %s\n", paint(detectedStyle, "DETECTED", opts.NoColor), r.Path)
			for _, m := range r.Matches {
				fmt.Fprintf(w, "    %s\n", m)
			}
			continue
		}
		clean++
		fmt.Fprintf(w, "%s    %s\n", paint(cleanStyle, "clean", opts.NoColor), r.Path)
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Scanned: %d (detected: %d, clean: %d, errors: %d)\n", len(results), detected, clean, opts.Errors)
	if opts.Duration > 0 {
		fmt.Fprintf(w, "Scan duration: %.2fs\n", opts.Duration.Seconds())
	}
}

// PrintPluginSummary writes the state of every plugin in a batch.
func PrintPluginSummary(w io.Writer, outDir string, outcomes []types.PluginOutcome, opts PrintOptions) {
	written := 0
	for _, o := range outcomes {
		switch o.State {
		case types.PluginWritten:
			written++
			fmt.Fprintf(w, "%-8s %-32s %d rows\n", paint(cleanStyle, "written", opts.NoColor), o.Plugin, o.Rows)
		case types.PluginEmpty:
			fmt.Fprintf(w, "%-8s %s\n", paint(mutedStyle, "empty", opts.NoColor), o.Plugin)
		default:
			fmt.Fprintf(w, "%-8s %-32s %v\n", paint(failedStyle, "failed", opts.NoColor), o.Plugin, o.Err)
		}
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Plugin outputs saved to folder: %s (%d of %d plugins)\n", filepath.Clean(outDir), written, len(outcomes))
	if opts.Duration > 0 {
		fmt.Fprintf(w, "Run duration: %.2fs\n", opts.Duration.Seconds())
	}
}

// PrintHistory writes recent scan log entries.
func PrintHistory(w io.Writer, entries []audit.Entry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "No scans recorded")
		return
	}
	for _, e := range entries {
		fmt.Fprintf(w, "[%s] %s\n%s\n\n", e.Timestamp.Format(audit.TimeLayout), e.Path, e.Text)
	}
}
