// Package rules discovers YARA rule files, validates each one in isolation and
// compiles the valid subset into a single immutable RuleSet.
package rules

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	doublestar "github.com/bmatcuk/doublestar/v4"
	xxhash "github.com/cespare/xxhash/v2"
	"github.com/hillu/go-yara/v4"

	"github.com/memtriage/memtriage/internal/logging"
)

var (
	// ErrRuleCompile marks a rule file that failed its isolated compile.
	ErrRuleCompile = errors.New("rule compile error")
	// ErrNoValidRules is returned when no candidate file compiled.
	ErrNoValidRules = errors.New("no valid YARA rules could be compiled")
)

// Pattern matches the two recognised rule file suffixes at any depth.
const Pattern = "**/*.{yar,yara}"

// DefaultTimeout bounds a single file scan.
const DefaultTimeout = 60 * time.Second

// Options tunes discovery and matching.
type Options struct {
	// Excludes are doublestar globs matched against paths relative to root.
	Excludes []string
	// Timeout bounds a single Match call. Zero means DefaultTimeout.
	Timeout time.Duration
}

// RuleFile is one validated rule source.
type RuleFile struct {
	Path string
	Name string
}

// Rejected is a candidate file excluded from the set.
type Rejected struct {
	Path   string
	Reason error
}

// RuleSet is the aggregate of every rule file that compiled on its own.
// It is never built from zero files and is not modified after Load.
type RuleSet struct {
	rules       *yara.Rules
	files       []RuleFile
	skipped     []Rejected
	fingerprint string
	timeout     time.Duration
}

// Discover returns candidate rule files under root sorted by path.
func Discover(root string, excludes []string) ([]string, error) {
	matches, err := doublestar.Glob(os.DirFS(root), Pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to glob rules in %s: %w", root, err)
	}
	var out []string
	for _, rel := range matches {
		if excluded(rel, excludes) {
			continue
		}
		p := filepath.Join(root, filepath.FromSlash(rel))
		if st, err := os.Stat(p); err != nil || !st.Mode().IsRegular() {
			continue
		}
		out = append(out, p)
	}
	sort.Strings(out)
	return out, nil
}

func excluded(rel string, globs []string) bool {
	for _, g := range globs {
		g = strings.TrimSpace(g)
		if g == "" {
			continue
		}
		if ok, _ := doublestar.Match(g, rel); ok {
			return true
		}
	}
	return false
}

// Load validates every rule file under root and compiles the survivors.
func Load(root string, opts Options) (*RuleSet, error) {
	logger := logging.GetLogger("rules")
	done := logging.LogOperationStart(logger, "load-rules")
	defer done()

	candidates, err := Discover(root, opts.Excludes)
	if err != nil {
		return nil, err
	}

	rs := &RuleSet{timeout: opts.Timeout}
	if rs.timeout <= 0 {
		rs.timeout = DefaultTimeout
	}
	for _, p := range candidates {
		if err := compileOne(p); err != nil {
			logger.Warn().Err(err).Str("file", filepath.Base(p)).Msg("Skipping invalid rule")
			rs.skipped = append(rs.skipped, Rejected{Path: p, Reason: err})
			continue
		}
		rs.files = append(rs.files, RuleFile{Path: p, Name: fmt.Sprintf("rule_%d", len(rs.files))})
	}

	if len(rs.files) == 0 {
		return nil, fmt.Errorf("%w (searched %s, %d candidates)", ErrNoValidRules, root, len(candidates))
	}

	rules, fp, err := compileAll(rs.files)
	if err != nil {
		return nil, err
	}
	rs.rules = rules
	rs.fingerprint = fp

	logger.Info().
		Int("valid", len(rs.files)).
		Int("skipped", len(rs.skipped)).
		Str("fingerprint", fp).
		Msg("YARA rules loaded")
	return rs, nil
}

// compileOne runs an isolated compile of a single file.
func compileOne(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open rule file: %w", err)
	}
	defer f.Close()

	c, err := yara.NewCompiler()
	if err != nil {
		return fmt.Errorf("failed to create yara compiler: %w", err)
	}
	defer c.Destroy()

	if err := c.AddFile(f, "validate"); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrRuleCompile, filepath.Base(path), err)
	}
	return nil
}

// compileAll builds one rule set with a namespace per file and hashes the
// sources that went into it.
func compileAll(files []RuleFile) (*yara.Rules, string, error) {
	c, err := yara.NewCompiler()
	if err != nil {
		return nil, "", fmt.Errorf("failed to create yara compiler: %w", err)
	}
	defer c.Destroy()

	h := xxhash.New()
	for _, rf := range files {
		b, err := os.ReadFile(rf.Path)
		if err != nil {
			return nil, "", fmt.Errorf("failed to read rule file %s: %w", rf.Path, err)
		}
		_, _ = h.Write(b)

		f, err := os.Open(rf.Path)
		if err != nil {
			return nil, "", fmt.Errorf("failed to open rule file %s: %w", rf.Path, err)
		}
		err = c.AddFile(f, rf.Name)
		_ = f.Close()
		if err != nil {
			return nil, "", fmt.Errorf("%w: aggregate compile of %s: %v", ErrRuleCompile, rf.Path, err)
		}
	}

	rules, err := c.GetRules()
	if err != nil {
		return nil, "", fmt.Errorf("failed to build rule set: %w", err)
	}
	return rules, fmt.Sprintf("%016x", h.Sum64()), nil
}

// Match scans the file at path and returns matched rule names in the order
// YARA reported them. No matches is not an error.
func (rs *RuleSet) Match(path string) ([]string, error) {
	var m yara.MatchRules
	if err := rs.rules.ScanFile(path, 0, rs.timeout, &m); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(m))
	for _, r := range m {
		names = append(names, r.Rule)
	}
	return names, nil
}

// Files returns the rule files that made it into the set, in load order.
func (rs *RuleSet) Files() []RuleFile {
	out := make([]RuleFile, len(rs.files))
	copy(out, rs.files)
	return out
}

// Skipped returns the candidate files that failed validation.
func (rs *RuleSet) Skipped() []Rejected {
	out := make([]Rejected, len(rs.skipped))
	copy(out, rs.skipped)
	return out
}

// Fingerprint is a hash over the contents of the valid rule files.
func (rs *RuleSet) Fingerprint() string { return rs.fingerprint }

// Close releases the compiled rules.
func (rs *RuleSet) Close() {
	if rs.rules != nil {
		rs.rules.Destroy()
		rs.rules = nil
	}
}
