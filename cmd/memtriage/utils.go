package memtriage

import (
	"os"
	"runtime/debug"

	semver3 "github.com/blang/semver"
	semver "github.com/blang/semver/v4"
	"github.com/rhysd/go-github-selfupdate/selfupdate"

	"github.com/memtriage/memtriage/internal/artifacts"
	"github.com/memtriage/memtriage/internal/report"
	"github.com/memtriage/memtriage/internal/update"
)

func selfUpdate() (string, error) {
	v := version
	// Use build info if tag overridden at build-time
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, s := range info.Settings {
			if s.Key == "vcs.revision" && len(v) == 0 {
				v = s.Value
			}
		}
	}
	ver, err := semver.ParseTolerant(v)
	if err != nil {
		ver = semver.MustParse("0.0.0")
	}
	latest, err := selfupdate.UpdateSelf(semver3.MustParse(ver.String()), update.Repo)
	if err != nil {
		return "", err
	}
	return latest.Version.String(), nil
}

// pickString returns the first non-empty of the CLI value, the config value
// and the default.
func pickString(cli string, cfg *string, def string) string {
	if cli != "" {
		return cli
	}
	if cfg != nil && *cfg != "" {
		return *cfg
	}
	return def
}

func pickStrings(cli []string, cfg []string, def []string) []string {
	if len(cli) > 0 {
		return cli
	}
	if len(cfg) > 0 {
		return cfg
	}
	return def
}

func pickBool(cli bool, cfg *bool) bool {
	if cli {
		return true
	}
	if cfg != nil {
		return *cfg
	}
	return false
}

func outputDir() string {
	return pickString(flagOutput, nil, fileCfg.GetOutputDir())
}

func noColor() bool {
	return pickBool(flagNoColor, fileCfg.NoColor)
}

func colorOff() bool {
	return !report.ColorEnabled(os.Stdout, noColor())
}

func newStore(rulesDir string) *artifacts.Store {
	return artifacts.NewStore(nil, outputDir(), rulesDir)
}

// forwardedArgs rebuilds the global flags for a child memtriage process.
func forwardedArgs() []string {
	var args []string
	if flagConfig != "" {
		args = append(args, "--config", flagConfig)
	}
	if flagOutput != "" {
		args = append(args, "--output", flagOutput)
	}
	if flagRulesDir != "" {
		args = append(args, "--rules", flagRulesDir)
	}
	if flagNoColor {
		args = append(args, "--no-color")
	}
	args = append(args, "--no-update-check")
	return args
}
