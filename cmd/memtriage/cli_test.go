package memtriage

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memtriage/memtriage/internal/config"
	"github.com/memtriage/memtriage/internal/rules"
	"github.com/memtriage/memtriage/internal/volatility"
)

// resetFlags restores every flag to its default between in-process runs.
func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

// run executes the CLI in-process with an isolated config file.
func run(t *testing.T, cfg string, args ...string) (string, string, error) {
	t.Helper()
	resetFlags(rootCmd)
	fileCfg = config.FileConfig{}
	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs(append([]string{"--config", cfg, "--no-color", "--no-update-check"}, args...))
	err := rootCmd.Execute()
	return out.String(), errOut.String(), err
}

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	p := filepath.Join(dir, "memtriage.yml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestVersion(t *testing.T) {
	cfg := writeConfig(t, t.TempDir(), "{}\n")
	out, _, err := run(t, cfg, "version")
	require.NoError(t, err)
	assert.Equal(t, "memtriage "+version+"\n", out)
}

func TestVolPlugins_Default(t *testing.T) {
	dir := t.TempDir()
	cfg := writeConfig(t, dir, "output_dir: "+filepath.Join(dir, "static")+"\n")
	out, _, err := run(t, cfg, "vol", "plugins")
	require.NoError(t, err)
	for _, p := range volatility.DefaultPlugins {
		assert.Contains(t, out, p)
	}
	assert.Contains(t, out, "windows_pslist.{csv,html}")
}

func TestVolPlugins_FromConfig(t *testing.T) {
	dir := t.TempDir()
	cfg := writeConfig(t, dir, "volatility:\n  plugins: [windows.info]\n")
	out, _, err := run(t, cfg, "vol", "plugins")
	require.NoError(t, err)
	assert.Contains(t, out, "windows.info")
	assert.NotContains(t, out, "windows.pslist")
}

const fakeVol = `#!/bin/sh
for last; do :; done
case "$last" in
  windows.pslist) printf 'Volatility 3 Framework 2.5.0\n\nPID\tPPID\tImageFileName\n4\t0\tSystem\n100\t4\tsvchost.exe\n' ;;
  -h) echo "Volatility 3 Framework 2.5.0" ;;
  *) printf '\n' ;;
esac
`

func TestVolRunAndShow(t *testing.T) {
	dir := t.TempDir()
	bin := filepath.Join(dir, "vol")
	require.NoError(t, os.WriteFile(bin, []byte(fakeVol), 0o755))
	dump := filepath.Join(dir, "mem.raw")
	require.NoError(t, os.WriteFile(dump, []byte("x"), 0o644))
	out := filepath.Join(dir, "static")
	cfg := writeConfig(t, dir, "output_dir: "+out+"\nvolatility:\n  binary: "+bin+"\n  min_version: \"2.0.0\"\n")

	stdout, stderr, err := run(t, cfg, "vol", "run", "-f", dump, "--plugin", "windows.pslist,windows.callbacks")
	require.NoError(t, err)
	assert.Contains(t, stdout, "(1 of 2 plugins)")
	assert.NotContains(t, stderr, "older than")

	csv, err := os.ReadFile(filepath.Join(out, "volatility_output", "windows_pslist.csv"))
	require.NoError(t, err)
	assert.Equal(t, "PID,PPID,ImageFileName\n4,0,System\n100,4,svchost.exe\n", string(csv))
	assert.NoFileExists(t, filepath.Join(out, "volatility_output", "windows_callbacks.csv"))

	stdout, _, err = run(t, cfg, "vol", "show", "windows.pslist")
	require.NoError(t, err)
	assert.Contains(t, stdout, "svchost.exe")
	assert.Contains(t, stdout, "2 rows")
}

func TestVolRun_MissingBinary(t *testing.T) {
	dir := t.TempDir()
	cfg := writeConfig(t, dir, "volatility:\n  binary: "+filepath.Join(dir, "nope", "vol.py")+"\n")
	_, _, err := run(t, cfg, "vol", "run", "-f", filepath.Join(dir, "mem.raw"))
	require.Error(t, err)
	assert.ErrorIs(t, err, volatility.ErrToolNotFound)
	assert.Equal(t, 3, exitCode(err))
}

func TestYaraScanAndHistory(t *testing.T) {
	dir := t.TempDir()
	rulesDir := filepath.Join(dir, "rules")
	require.NoError(t, os.MkdirAll(rulesDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(rulesDir, "marker.yar"), []byte(`rule Marker { strings: $a = "EVIL-MARKER" condition: $a }`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(rulesDir, "broken.yar"), []byte(`rule Broken { condition: `), 0o644))

	target := filepath.Join(dir, "samples")
	require.NoError(t, os.MkdirAll(target, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(target, "bad.bin"), []byte("xx EVIL-MARKER xx"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(target, "good.txt"), []byte("hello"), 0o644))

	out := filepath.Join(dir, "static")
	cfg := writeConfig(t, dir, "output_dir: "+out+"\nrules_dir: "+rulesDir+"\n")

	stdout, stderr, err := run(t, cfg, "yara", "scan", target)
	require.NoError(t, err)
	assert.Contains(t, stderr, "broken.yar")
	assert.Contains(t, stdout, "Scanned: 2 (detected: 1, clean: 1, errors: 0)")

	logText, err := os.ReadFile(filepath.Join(out, "yara_output", "scan_results.txt"))
	require.NoError(t, err)
	assert.Contains(t, string(logText), "MALWARE DETECTED in bad.bin")
	assert.Contains(t, string(logText), "good.txt is clean. No YARA rule matched.")

	stdout, _, err = run(t, cfg, "yara", "history", "-n", "1")
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(stdout, "] "+target))

	stdout, _, err = run(t, cfg, "yara", "rules")
	require.NoError(t, err)
	assert.Contains(t, stdout, "1 of 2 rule files loaded")
}

func TestYaraScan_JSONAndSARIF(t *testing.T) {
	dir := t.TempDir()
	rulesDir := filepath.Join(dir, "rules")
	require.NoError(t, os.MkdirAll(rulesDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(rulesDir, "marker.yara"), []byte(`rule Marker { strings: $a = "EVIL-MARKER" condition: $a }`), 0o644))
	target := filepath.Join(dir, "bad.bin")
	require.NoError(t, os.WriteFile(target, []byte("EVIL-MARKER"), 0o644))
	cfg := writeConfig(t, dir, "output_dir: "+filepath.Join(dir, "static")+"\nrules_dir: "+rulesDir+"\n")

	stdout, _, err := run(t, cfg, "yara", "scan", "--json", target)
	require.NoError(t, err)
	assert.Contains(t, stdout, `"outcome": "detected"`)
	assert.Contains(t, stdout, `"Marker"`)

	stdout, _, err = run(t, cfg, "yara", "scan", "--sarif", target)
	require.NoError(t, err)
	assert.Contains(t, stdout, `"version": "2.1.0"`)
}

func TestYaraScan_NoValidRules(t *testing.T) {
	dir := t.TempDir()
	rulesDir := filepath.Join(dir, "rules")
	require.NoError(t, os.MkdirAll(rulesDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(rulesDir, "broken.yar"), []byte(`rule {`), 0o644))
	target := filepath.Join(dir, "x.bin")
	require.NoError(t, os.WriteFile(target, []byte("x"), 0o644))
	out := filepath.Join(dir, "static")
	cfg := writeConfig(t, dir, "output_dir: "+out+"\nrules_dir: "+rulesDir+"\n")

	_, _, err := run(t, cfg, "yara", "scan", target)
	require.Error(t, err)
	assert.ErrorIs(t, err, rules.ErrNoValidRules)
	assert.NoFileExists(t, filepath.Join(out, "yara_output", "scan_results.txt"))
}

func TestForwardedArgs(t *testing.T) {
	resetFlags(rootCmd)
	flagConfig, flagOutput, flagRulesDir = "/etc/m.yml", "/var/out", ""
	defer resetFlags(rootCmd)
	assert.Equal(t, []string{"--config", "/etc/m.yml", "--output", "/var/out", "--no-update-check"}, forwardedArgs())
}

func TestPickString(t *testing.T) {
	cfg := "from-config"
	empty := ""
	assert.Equal(t, "cli", pickString("cli", &cfg, "def"))
	assert.Equal(t, "from-config", pickString("", &cfg, "def"))
	assert.Equal(t, "def", pickString("", &empty, "def"))
	assert.Equal(t, "def", pickString("", nil, "def"))
}

const fakeStructuredVol = `#!/bin/sh
case "$*" in
  *"-r json"*) printf '[{"PID": 4, "Renderer": "json"}]\n' ;;
  *) printf 'PID\tRenderer\n4\ttext\n' ;;
esac
`

func TestVolRun_StructuredFromConfig(t *testing.T) {
	dir := t.TempDir()
	bin := filepath.Join(dir, "vol")
	require.NoError(t, os.WriteFile(bin, []byte(fakeStructuredVol), 0o755))
	dump := filepath.Join(dir, "mem.raw")
	require.NoError(t, os.WriteFile(dump, []byte("x"), 0o644))
	out := filepath.Join(dir, "static")

	tests := []struct {
		name string
		cfg  string
		want string
	}{
		{name: "text by default", cfg: "output_dir: " + out + "\nvolatility:\n  binary: " + bin + "\n", want: "4,text"},
		{name: "json from config", cfg: "output_dir: " + out + "\nvolatility:\n  binary: " + bin + "\n  structured: true\n", want: "json"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := writeConfig(t, t.TempDir(), tt.cfg)
			_, _, err := run(t, cfg, "vol", "run", "--file="+dump, "--plugin", "windows.pslist")
			require.NoError(t, err)
			csv, err := os.ReadFile(filepath.Join(out, "volatility_output", "windows_pslist.csv"))
			require.NoError(t, err)
			assert.Contains(t, string(csv), tt.want)
		})
	}
}

func TestConfigInit(t *testing.T) {
	dir := t.TempDir()
	bin := filepath.Join(dir, "vol.py")
	cfg := writeConfig(t, dir, "rules_dir: /srv/rules\nvolatility:\n  plugins: [windows.info]\n")
	dest := filepath.Join(dir, "generated.yml")

	stdout, _, err := run(t, cfg, "--output", "/cases/42", "config", "init", "--path", dest, "--binary", bin, "--structured")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Wrote "+dest)

	got, err := config.LoadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "/cases/42", got.GetOutputDir())
	assert.Equal(t, "/srv/rules", got.GetRulesDir())
	assert.Equal(t, config.DefaultScanTimeout, got.GetScanTimeout())
	assert.Equal(t, config.DefaultAddr, got.GetAddr())
	vc := got.GetVolatilityConfig()
	assert.Equal(t, bin, vc.GetBinaryPath())
	assert.True(t, vc.IsStructured())
	assert.Equal(t, []string{"windows.info"}, vc.Plugins)
	assert.Empty(t, vc.GetMinVersion())

	_, _, err = run(t, cfg, "config", "init", "--path", dest)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	_, _, err = run(t, cfg, "config", "init", "--path", dest, "--force")
	require.NoError(t, err)
	got, err = config.LoadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, config.DefaultOutputDir, got.GetOutputDir())
	assert.False(t, got.GetVolatilityConfig().IsStructured())
}

func TestCompletion(t *testing.T) {
	cfg := writeConfig(t, t.TempDir(), "{}\n")
	tests := []struct {
		shell string
		want  string
	}{
		{shell: "bash", want: "__start_memtriage"},
		{shell: "zsh", want: "#compdef memtriage"},
		{shell: "fish", want: "complete -c memtriage"},
		{shell: "powershell", want: "memtriage"},
	}
	for _, tt := range tests {
		t.Run(tt.shell, func(t *testing.T) {
			out, _, err := run(t, cfg, "completion", tt.shell)
			require.NoError(t, err)
			assert.Contains(t, out, tt.want)
		})
	}

	_, _, err := run(t, cfg, "completion", "tcsh")
	assert.Error(t, err)
}
