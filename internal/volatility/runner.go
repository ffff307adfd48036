package volatility

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/memtriage/memtriage/internal/logging"
	"github.com/memtriage/memtriage/internal/report"
	"github.com/memtriage/memtriage/internal/types"
)

// ErrPluginInvocation marks a plugin process that could not be started.
var ErrPluginInvocation = errors.New("plugin invocation error")

// CommandFunc runs a program to completion and returns its output streams.
// A non-nil error with captured stdout is not a failure: only stdout decides.
type CommandFunc func(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)

// ExecCommand is the CommandFunc backed by os/exec.
func ExecCommand(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

// Config controls a plugin batch.
type Config struct {
	Binary     string
	OutputDir  string
	Structured bool
	Fs         afero.Fs
	Exec       CommandFunc
}

// Runner invokes Volatility once per plugin, one at a time, and writes each
// non-empty result as CSV and HTML. Two runners writing the same output
// directory at once race on the fixed file names.
type Runner struct {
	binary     string
	outDir     string
	structured bool
	fs         afero.Fs
	exec       CommandFunc
	logger     zerolog.Logger
}

func NewRunner(cfg Config) *Runner {
	r := &Runner{
		binary:     cfg.Binary,
		outDir:     cfg.OutputDir,
		structured: cfg.Structured,
		fs:         cfg.Fs,
		exec:       cfg.Exec,
		logger:     logging.GetLogger("volatility"),
	}
	if r.fs == nil {
		r.fs = afero.NewOsFs()
	}
	if r.exec == nil {
		r.exec = ExecCommand
	}
	return r
}

// Run processes plugins in order against target. A single plugin failure
// is recorded in its outcome and never stops the batch. The returned error
// is non-nil only when the batch could not start or ctx was cancelled.
func (r *Runner) Run(ctx context.Context, target string, plugins []string) ([]types.PluginOutcome, error) {
	if st, err := os.Stat(target); err != nil {
		return nil, fmt.Errorf("memory dump file not found: %w", err)
	} else if st.IsDir() {
		return nil, fmt.Errorf("memory dump %s is a directory", target)
	}
	if r.binary == "" {
		return nil, ErrToolNotFound
	}
	if strings.HasSuffix(strings.ToLower(r.binary), ".py") && filepath.IsAbs(r.binary) {
		if _, err := os.Stat(r.binary); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrToolNotFound, err)
		}
	}
	if err := r.fs.MkdirAll(r.outDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	done := logging.LogOperationStart(r.logger, "plugin-batch")
	defer done()

	outcomes := make([]types.PluginOutcome, 0, len(plugins))
	for _, p := range plugins {
		if err := ctx.Err(); err != nil {
			return outcomes, err
		}
		r.logger.Info().Str("plugin", p).Msg("Running plugin")
		o := r.runPlugin(ctx, target, p)
		if missingExecutable(o.Err) {
			return outcomes, fmt.Errorf("%w: %v", ErrToolNotFound, o.Err)
		}
		if o.State == types.PluginFailed {
			r.logger.Error().Err(o.Err).Str("plugin", p).Msg("Failed to process plugin")
		}
		outcomes = append(outcomes, o)
	}
	return outcomes, nil
}

// missingExecutable reports whether err is an invocation failure caused by
// an executable that is gone, which would fail every remaining plugin too.
func missingExecutable(err error) bool {
	if !errors.Is(err, ErrPluginInvocation) {
		return false
	}
	return errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist)
}

// Args returns the Volatility arguments for one plugin run.
func (r *Runner) Args(target, plugin string) []string {
	args := []string{"-f", target}
	if r.structured {
		args = append(args, "-r", "json")
	}
	return append(args, plugin)
}

func (r *Runner) runPlugin(ctx context.Context, target, plugin string) types.PluginOutcome {
	o := types.PluginOutcome{Plugin: plugin}

	name, lead := Command(r.binary)
	stdout, stderr, err := r.exec(ctx, name, append(lead, r.Args(target, plugin)...)...)
	if len(stderr) > 0 {
		r.logger.Debug().Str("plugin", plugin).Str("stderr", strings.TrimSpace(string(stderr))).Msg("Plugin stderr")
	}
	// Only an ExitError means the process actually ran.
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		o.State = types.PluginFailed
		o.Err = fmt.Errorf("%w: %s: %w", ErrPluginInvocation, plugin, err)
		return o
	}
	if err != nil {
		// exit status is not inspected: output presence decides
		r.logger.Debug().Err(err).Str("plugin", plugin).Msg("Plugin exited with error")
	}

	out := string(stdout)
	if IsEmpty(out) {
		o.State = types.PluginEmpty
		return o
	}

	var table types.PluginTable
	if r.structured {
		table, err = ParseJSON(out)
	} else {
		table, err = ParseText(out)
	}
	if err != nil {
		o.State = types.PluginFailed
		o.Err = fmt.Errorf("%s: %w", plugin, err)
		return o
	}
	table.Plugin = plugin

	files, err := report.WriteTable(r.fs, r.outDir, OutputBase(plugin), table)
	if err != nil {
		o.State = types.PluginFailed
		o.Files = files
		o.Err = fmt.Errorf("%s: %w", plugin, err)
		return o
	}
	o.State = types.PluginWritten
	o.Rows = len(table.Rows)
	o.Files = files
	return o
}
