package memtriage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/memtriage/memtriage/internal/artifacts"
	"github.com/memtriage/memtriage/internal/audit"
	"github.com/memtriage/memtriage/internal/report"
	"github.com/memtriage/memtriage/internal/rules"
	"github.com/memtriage/memtriage/internal/scanner"
	"github.com/memtriage/memtriage/internal/types"
	"github.com/memtriage/memtriage/pkg/core"
)

var (
	flagScanExcludes []string
	flagYaraJSON     bool
	flagYaraSARIF    bool
	flagHistoryLimit int
)

func init() {
	yaraCmd := &cobra.Command{
		Use:   "yara",
		Short: "Scan files with YARA rules",
	}

	scanCmd := &cobra.Command{
		Use:   "scan <path>",
		Short: "Scan a file or directory tree and log every outcome",
		Args:  cobra.ExactArgs(1),
		RunE:  runYaraScan,
	}
	scanCmd.Flags().StringSliceVar(&flagScanExcludes, "exclude", nil, "doublestar globs to skip, relative to the scan root")
	scanCmd.Flags().BoolVar(&flagYaraJSON, "json", false, "emit results as JSON")
	scanCmd.Flags().BoolVar(&flagYaraSARIF, "sarif", false, "emit results as SARIF 2.1.0")

	rulesCmd := &cobra.Command{
		Use:   "rules",
		Short: "Validate rule files and show which would be loaded",
		Args:  cobra.NoArgs,
		RunE:  runYaraRules,
	}

	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent entries of the scan log",
		Args:  cobra.NoArgs,
		RunE:  runYaraHistory,
	}
	historyCmd.Flags().IntVarP(&flagHistoryLimit, "limit", "n", 20, "number of entries (0 = all)")

	yaraCmd.AddCommand(scanCmd, rulesCmd, historyCmd)
	rootCmd.AddCommand(yaraCmd)
}

func rulesDir() string {
	return pickString(flagRulesDir, nil, fileCfg.GetRulesDir())
}

func loadRules(cmd *cobra.Command) (*rules.RuleSet, error) {
	rs, err := rules.Load(rulesDir(), rules.Options{
		Excludes: fileCfg.RuleExcludes,
		Timeout:  fileCfg.GetScanTimeout(),
	})
	if err != nil {
		return nil, err
	}
	for _, s := range rs.Skipped() {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: skipping rule file %s: %v\n", s.Path, s.Reason)
	}
	return rs, nil
}

func runYaraScan(cmd *cobra.Command, args []string) error {
	target, err := filepath.Abs(args[0])
	if err != nil {
		return err
	}
	if _, err := os.Stat(target); err != nil {
		return fmt.Errorf("scan target: %w", err)
	}

	rs, err := loadRules(cmd)
	if err != nil {
		return err
	}
	defer rs.Close()

	store := newStore(rulesDir())
	log := audit.NewLog(store.Dir(artifacts.Yara))
	eng := scanner.NewEngine(rs, log, scanner.WithExcludes(pickStrings(flagScanExcludes, fileCfg.ScanExcludes, nil)))

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	start := time.Now()
	sum, err := eng.ScanPath(ctx, target)
	if err != nil {
		return err
	}
	for _, fe := range sum.Errors {
		fmt.Fprintf(cmd.ErrOrStderr(), "error: %v\n", fe.Err)
	}

	out := cmd.OutOrStdout()
	switch {
	case flagYaraSARIF:
		return report.WriteSARIF(out, version, sum.Results)
	case flagYaraJSON:
		return core.MarshalResults(out, sum.Results)
	}
	report.PrintScanSummary(out, sum.Results, report.PrintOptions{
		NoColor:  colorOff(),
		Duration: time.Since(start),
		Errors:   len(sum.Errors),
	})
	fmt.Fprintf(out, "Results logged to %s\n", log.Path())
	return nil
}

func runYaraRules(cmd *cobra.Command, _ []string) error {
	dir := rulesDir()
	candidates, err := rules.Discover(dir, fileCfg.RuleExcludes)
	if err != nil {
		return err
	}
	if len(candidates) == 0 {
		return fmt.Errorf("%w: no .yar or .yara files under %s", rules.ErrNoValidRules, dir)
	}

	rs, err := loadRules(cmd)
	if err != nil {
		return err
	}
	defer rs.Close()

	t := types.PluginTable{Headers: []string{"Rule file", "Namespace", "Status"}}
	for _, f := range rs.Files() {
		t.Rows = append(t.Rows, []string{f.Path, f.Name, "ok"})
	}
	for _, s := range rs.Skipped() {
		t.Rows = append(t.Rows, []string{s.Path, "", s.Reason.Error()})
	}
	out := cmd.OutOrStdout()
	if err := report.PrintTable(out, t); err != nil {
		return err
	}
	fmt.Fprintf(out, "\n%d of %d rule files loaded (fingerprint %s)\n", len(rs.Files()), len(candidates), rs.Fingerprint())
	return nil
}

func runYaraHistory(cmd *cobra.Command, _ []string) error {
	store := newStore(rulesDir())
	entries, err := audit.NewLog(store.Dir(artifacts.Yara)).LoadHistory(flagHistoryLimit)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	report.PrintHistory(cmd.OutOrStdout(), entries)
	return nil
}
