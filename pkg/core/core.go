package core

import (
	"context"
	"slices"

	"github.com/memtriage/memtriage/internal/audit"
	"github.com/memtriage/memtriage/internal/rules"
	"github.com/memtriage/memtriage/internal/scanner"
	"github.com/memtriage/memtriage/internal/types"
	"github.com/memtriage/memtriage/internal/volatility"
)

// Re-export selected internal types as a stable public API surface.
type ScanResult = types.ScanResult
type PluginTable = types.PluginTable
type PluginOutcome = types.PluginOutcome
type RuleSet = rules.RuleSet

// DefaultPlugins returns a copy of the plugin list run when none is given.
func DefaultPlugins() []string {
	return slices.Clone(volatility.DefaultPlugins)
}

// LoadRules compiles every valid rule file under dir. Files that fail to
// compile are skipped; see RuleSet.Skipped.
func LoadRules(dir string, excludes []string) (*RuleSet, error) {
	return rules.Load(dir, rules.Options{Excludes: excludes})
}

// ScanPath scans a file or directory tree and appends one entry per file to
// the scan log in logDir. Files that could not be read are left out of the
// results.
func ScanPath(ctx context.Context, rs *RuleSet, logDir, path string) ([]ScanResult, error) {
	eng := scanner.NewEngine(rs, audit.NewLog(logDir))
	sum, err := eng.ScanPath(ctx, path)
	return sum.Results, err
}

// RunPlugins runs each plugin against dump with the Volatility executable at
// binary and writes CSV and HTML tables to outDir.
func RunPlugins(ctx context.Context, binary, dump, outDir string, plugins []string) ([]PluginOutcome, error) {
	if len(plugins) == 0 {
		plugins = volatility.DefaultPlugins
	}
	r := volatility.NewRunner(volatility.Config{Binary: binary, OutputDir: outDir})
	return r.Run(ctx, dump, plugins)
}

// ParsePluginOutput parses the text renderer output of one plugin.
func ParsePluginOutput(out string) (PluginTable, error) {
	return volatility.ParseText(out)
}
