package memtriage

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/memtriage/memtriage/internal/artifacts"
	"github.com/memtriage/memtriage/internal/logging"
	"github.com/memtriage/memtriage/internal/report"
	"github.com/memtriage/memtriage/internal/types"
	"github.com/memtriage/memtriage/internal/volatility"
)

var (
	flagDump       string
	flagPlugins    []string
	flagStructured bool
	flagVolBinary  string
)

func init() {
	volCmd := &cobra.Command{
		Use:   "vol",
		Short: "Run Volatility3 plugins and inspect their reports",
	}
	volCmd.PersistentFlags().StringVar(&flagVolBinary, "binary", "", "path to vol or vol.py (default: search $PATH)")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run each plugin against a memory dump and write CSV and HTML reports",
		Args:  cobra.NoArgs,
		RunE:  runVolRun,
	}
	runCmd.Flags().StringVarP(&flagDump, "file", "f", "", "memory dump to analyse")
	runCmd.Flags().StringSliceVar(&flagPlugins, "plugin", nil, "plugins to run, in order (default: built-in Windows list)")
	runCmd.Flags().BoolVar(&flagStructured, "structured", false, "ask Volatility for JSON output instead of parsing text columns")
	_ = runCmd.MarkFlagRequired("file")

	pluginsCmd := &cobra.Command{
		Use:   "plugins",
		Short: "List the plugins a run would execute and their report names",
		Args:  cobra.NoArgs,
		RunE:  runVolPlugins,
	}

	showCmd := &cobra.Command{
		Use:   "show <report.csv|plugin>",
		Short: "Print a written plugin report as a table",
		Args:  cobra.ExactArgs(1),
		RunE:  runVolShow,
	}

	installCmd := &cobra.Command{
		Use:   "install",
		Short: "Clone Volatility3 into the data directory and install its Python requirements",
		Args:  cobra.NoArgs,
		RunE:  runVolInstall,
	}

	volCmd.AddCommand(runCmd, pluginsCmd, showCmd, installCmd)
	rootCmd.AddCommand(volCmd)
}

func plugins() []string {
	return pickStrings(flagPlugins, fileCfg.GetVolatilityConfig().Plugins, volatility.DefaultPlugins)
}

func runVolRun(cmd *cobra.Command, _ []string) error {
	vc := fileCfg.GetVolatilityConfig()
	bm := volatility.NewBinaryManager(pickString(flagVolBinary, nil, vc.GetBinaryPath()))
	bin, err := bm.Find()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	logger := logging.GetLogger("cli")
	if minVer := vc.GetMinVersion(); minVer != "" {
		v, err := bm.Version(ctx, bin)
		switch {
		case err != nil:
			logger.Warn().Err(err).Msg("Could not determine Volatility version")
		case !volatility.AtLeast(v, minVer):
			fmt.Fprintf(cmd.ErrOrStderr(), "warning: Volatility %s is older than the configured minimum %s\n", v, minVer)
		default:
			logger.Info().Str("version", v).Msg("Volatility version ok")
		}
	}

	outDir := newStore("").Dir(artifacts.Volatility)
	runner := volatility.NewRunner(volatility.Config{
		Binary:     bin,
		OutputDir:  outDir,
		Structured: flagStructured || vc.IsStructured(),
	})

	start := time.Now()
	outcomes, err := runner.Run(ctx, flagDump, plugins())
	if err != nil {
		return err
	}
	report.PrintPluginSummary(cmd.OutOrStdout(), outDir, outcomes, report.PrintOptions{
		NoColor:  colorOff(),
		Duration: time.Since(start),
	})
	return nil
}

func runVolInstall(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	bm := volatility.NewBinaryManager("")
	fmt.Fprintf(cmd.ErrOrStderr(), "Installing Volatility3 into %s...\n", bm.InstallDir())
	bin, err := bm.Install(ctx, nil)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Volatility3 installed: %s\n", bin)
	return nil
}

func runVolPlugins(cmd *cobra.Command, _ []string) error {
	outDir := newStore("").Dir(artifacts.Volatility)
	t := types.PluginTable{Headers: []string{"#", "Plugin", "Report"}}
	for i, p := range plugins() {
		t.Rows = append(t.Rows, []string{fmt.Sprint(i + 1), p, filepath.Join(outDir, volatility.OutputBase(p)+".{csv,html}")})
	}
	return report.PrintTable(cmd.OutOrStdout(), t)
}

// reportPath resolves a show argument: an existing file, or a plugin name
// looked up in the output directory.
func reportPath(arg string) string {
	if _, err := os.Stat(arg); err == nil {
		return arg
	}
	return filepath.Join(newStore("").Dir(artifacts.Volatility), volatility.OutputBase(arg)+".csv")
}

func runVolShow(cmd *cobra.Command, args []string) error {
	t, err := report.ReadCSV(afero.NewOsFs(), reportPath(args[0]))
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if err := report.PrintTable(out, t); err != nil {
		return err
	}
	fmt.Fprintf(out, "%d rows\n", len(t.Rows))
	return nil
}
