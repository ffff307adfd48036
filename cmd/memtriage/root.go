package memtriage

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/memtriage/memtriage/internal/config"
	"github.com/memtriage/memtriage/internal/logging"
	"github.com/memtriage/memtriage/internal/rules"
	"github.com/memtriage/memtriage/internal/volatility"
)

var (
	flagConfig        string
	flagOutput        string
	flagRulesDir      string
	flagVerbose       int
	flagNoColor       bool
	flagNoUpdateCheck bool

	version = "0.1.0"

	// fileCfg is the merged configuration, loaded before every command.
	fileCfg config.FileConfig
)

// rootCmd is the base Cobra command for the memtriage CLI.
var rootCmd = &cobra.Command{
	Use:   "memtriage",
	Short: "Triage memory dumps and files with Volatility3 and YARA",
	Long: "memtriage runs Volatility3 plugins against a memory dump and YARA rules against files, " +
		"writes the results as CSV/HTML reports and an append-only scan log, and serves them on a local dashboard.",
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
}

// Execute runs the memtriage CLI. It should be called by the main package.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(exitCode(err))
	}
}

// exitCode maps fatal errors to process exit codes.
func exitCode(err error) int {
	switch {
	case errors.Is(err, rules.ErrNoValidRules), errors.Is(err, volatility.ErrToolNotFound):
		return 3
	default:
		return 2
	}
}

func setup(cmd *cobra.Command, _ []string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return err
	}
	fc, err := config.Load(flagConfig, cwd)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	fileCfg = fc
	logging.SetupLogger(flagVerbose, noColor())
	logging.GetLogger("cli").Debug().Str("command", cmd.CommandPath()).Str("output", outputDir()).Msg("Configuration loaded")
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "config file (default: .memtriage.yml, then $XDG_CONFIG_HOME/memtriage/config.yml)")
	rootCmd.PersistentFlags().StringVarP(&flagOutput, "output", "o", "", "base output directory (default \"static\")")
	rootCmd.PersistentFlags().StringVar(&flagRulesDir, "rules", "", "YARA rules directory (default \"scripts/rules\")")
	rootCmd.PersistentFlags().CountVarP(&flagVerbose, "verbose", "v", "increase log verbosity (-v info, -vv debug, -vvv trace)")
	rootCmd.PersistentFlags().BoolVar(&flagNoColor, "no-color", false, "disable colorized output")
	rootCmd.PersistentFlags().BoolVar(&flagNoUpdateCheck, "no-update-check", false, "disable update check")
}
