package scanner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/memtriage/memtriage/internal/logging"
	"github.com/memtriage/memtriage/internal/types"
)

// ErrScanIO marks a file that could not be scanned. No log entry is written
// for it.
var ErrScanIO = errors.New("scan error")

// Matcher applies a compiled rule set to one file.
// *rules.RuleSet is the production implementation.
type Matcher interface {
	Match(path string) ([]string, error)
}

// Recorder persists successful scan results.
type Recorder interface {
	Append(r types.ScanResult) error
}

// FileError pairs a target with the error that stopped its scan.
type FileError struct {
	Path string
	Err  error
}

// Summary aggregates one ScanPath call.
type Summary struct {
	Results  []types.ScanResult
	Errors   []FileError
	Detected int
	Clean    int
}

// Scanned returns the number of files with a successful match attempt.
func (s Summary) Scanned() int { return len(s.Results) }

// Engine scans files with a fixed rule set and records every outcome.
type Engine struct {
	matcher  Matcher
	recorder Recorder
	excludes []string
	now      func() time.Time
	logger   zerolog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithExcludes skips files whose path relative to the scan root matches any
// of the doublestar globs.
func WithExcludes(globs []string) Option {
	return func(e *Engine) { e.excludes = globs }
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func NewEngine(m Matcher, rec Recorder, opts ...Option) *Engine {
	e := &Engine{
		matcher:  m,
		recorder: rec,
		now:      time.Now,
		logger:   logging.GetLogger("scanner"),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// ScanFile matches a single file and appends the outcome to the log.
func (e *Engine) ScanFile(path string) (types.ScanResult, error) {
	names, err := e.matcher.Match(path)
	if err != nil {
		e.logger.Error().Err(err).Str("path", path).Msg("Failed to scan file")
		return types.ScanResult{}, fmt.Errorf("%w: %s: %v", ErrScanIO, path, err)
	}

	res := types.ScanResult{
		Path:      path,
		Matches:   names,
		Outcome:   types.OutcomeClean,
		Timestamp: e.now(),
	}
	if len(names) > 0 {
		res.Outcome = types.OutcomeDetected
		e.logger.Warn().Str("path", path).Strs("rules", names).Msg("Matches found")
	} else {
		e.logger.Debug().Str("path", path).Msg("Clean")
	}

	if e.recorder != nil {
		if err := e.recorder.Append(res); err != nil {
			return res, fmt.Errorf("failed to record scan result: %w", err)
		}
	}
	return res, nil
}

// ScanPath scans a file, or every regular file under a directory in path
// order. Per-file failures are collected and never stop the walk; only
// context cancellation or an unreadable root does.
func (e *Engine) ScanPath(ctx context.Context, path string) (Summary, error) {
	var sum Summary
	st, err := os.Stat(path)
	if err != nil {
		return sum, fmt.Errorf("%w: %v", ErrScanIO, err)
	}

	if !st.IsDir() {
		e.record(&sum, path)
		return sum, nil
	}

	err = Walk(ctx, path, e.excludes, func(p string) {
		e.record(&sum, p)
	}, func(p string, werr error) {
		sum.Errors = append(sum.Errors, FileError{Path: p, Err: fmt.Errorf("%w: %v", ErrScanIO, werr)})
	})
	return sum, err
}

func (e *Engine) record(sum *Summary, path string) {
	res, err := e.ScanFile(path)
	if err != nil {
		sum.Errors = append(sum.Errors, FileError{Path: path, Err: err})
		if !errors.Is(err, ErrScanIO) {
			// match succeeded but logging failed: the outcome still counts
			sum.Results = append(sum.Results, res)
			tally(sum, res)
		}
		return
	}
	sum.Results = append(sum.Results, res)
	tally(sum, res)
}

func tally(sum *Summary, res types.ScanResult) {
	if res.Detected() {
		sum.Detected++
	} else {
		sum.Clean++
	}
}
