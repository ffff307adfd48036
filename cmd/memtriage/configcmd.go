package memtriage

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/memtriage/memtriage/internal/config"
)

var (
	cfgPath       string
	cfgBinary     string
	cfgMinVersion string
	cfgStructured bool
	cfgForce      bool
)

func init() {
	cfgCmd := &cobra.Command{Use: "config", Short: "Configuration helpers"}
	rootCmd.AddCommand(cfgCmd)

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Generate a .memtriage.yml from the effective settings",
		Long: "Writes a config file holding the currently resolved output directory, rules directory, " +
			"plugin list and dashboard address, so --output, --rules and an existing config carry over.",
		Args: cobra.NoArgs,
		RunE: runConfigInit,
	}
	cfgCmd.AddCommand(initCmd)

	initCmd.Flags().StringVar(&cfgPath, "path", ".memtriage.yml", "output file path")
	initCmd.Flags().StringVar(&cfgBinary, "binary", "", "explicit path to vol or vol.py")
	initCmd.Flags().StringVar(&cfgMinVersion, "min-version", "", "warn when Volatility is older than this version")
	initCmd.Flags().BoolVar(&cfgStructured, "structured", false, "ask Volatility for JSON output by default")
	initCmd.Flags().BoolVar(&cfgForce, "force", false, "overwrite an existing file")
}

func runConfigInit(cmd *cobra.Command, _ []string) error {
	if _, err := os.Stat(cfgPath); err == nil && !cfgForce {
		return fmt.Errorf("%s already exists (use --force to overwrite)", cfgPath)
	}

	vc := fileCfg.GetVolatilityConfig()
	fc := config.FileConfig{
		OutputDir:    strPtr(outputDir()),
		RulesDir:     strPtr(rulesDir()),
		RuleExcludes: fileCfg.RuleExcludes,
		ScanExcludes: fileCfg.ScanExcludes,
		ScanTimeout:  strPtr(fileCfg.GetScanTimeout().String()),
		NoColor:      optBoolPtr(noColor()),
		Volatility: &config.VolatilityConfig{
			BinaryPath: optStrPtr(pickString(cfgBinary, nil, vc.GetBinaryPath())),
			Plugins:    plugins(),
			Structured: boolPtr(cfgStructured || vc.IsStructured()),
			MinVersion: optStrPtr(pickString(cfgMinVersion, nil, vc.GetMinVersion())),
		},
		Serve: &config.ServeConfig{Addr: strPtr(fileCfg.GetAddr())},
	}

	b, err := yaml.Marshal(&fc)
	if err != nil {
		return err
	}
	if err := os.WriteFile(cfgPath, b, 0644); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Wrote", cfgPath)
	return nil
}

func strPtr(s string) *string { return &s }
func optStrPtr(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
func boolPtr(v bool) *bool { return &v }
func optBoolPtr(v bool) *bool {
	if !v {
		return nil
	}
	return &v
}
