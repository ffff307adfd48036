// Package artifacts lists and serves the files written by the YARA scan
// engine and the Volatility plugin runner.
package artifacts

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/pkg/errors"
	"github.com/spf13/afero"

	"github.com/memtriage/memtriage/internal/rules"
)

// Tool names one output category.
type Tool string

const (
	Volatility Tool = "volatility"
	Yara       Tool = "yara"
)

// LastScanLayout formats Stats.LastScan.
const LastScanLayout = "2006-01-02 15:04"

var (
	ErrUnknownTool = errors.New("unknown tool")
	ErrInvalidName = errors.New("invalid file name")
	ErrNotFound    = errors.New("file not found")
)

// ParseTool maps a route or flag value to a Tool.
func ParseTool(s string) (Tool, error) {
	switch Tool(strings.ToLower(s)) {
	case Volatility:
		return Volatility, nil
	case Yara:
		return Yara, nil
	}
	return "", errors.Wrap(ErrUnknownTool, s)
}

// Subdir is the directory name under the output base for t.
func (t Tool) Subdir() string { return string(t) + "_output" }

// File describes one stored artifact.
type File struct {
	Name    string    `json:"name"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
}

// Stats summarises the store for the dashboard.
type Stats struct {
	VolFiles   int    `json:"vol_files"`
	YaraFiles  int    `json:"yara_files"`
	YaraRules  int    `json:"yara_rules"`
	LastScan   string `json:"last_scan"`
	TotalFiles int    `json:"total_files"`
}

// Store is a view over the output base directory.
type Store struct {
	fs       afero.Fs
	base     string
	rulesDir string
}

// NewStore creates a store. rulesDir is only used to count rule files.
func NewStore(fs afero.Fs, base, rulesDir string) *Store {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Store{fs: fs, base: base, rulesDir: rulesDir}
}

// Dir returns the output directory for t.
func (s *Store) Dir(t Tool) string {
	return filepath.Join(s.base, t.Subdir())
}

// Fs returns the underlying filesystem.
func (s *Store) Fs() afero.Fs { return s.fs }

// Ensure creates both output directories.
func (s *Store) Ensure() error {
	for _, t := range []Tool{Volatility, Yara} {
		if err := s.fs.MkdirAll(s.Dir(t), 0755); err != nil {
			return errors.Wrap(err, fmt.Sprintf("could not create %s", s.Dir(t)))
		}
	}
	return nil
}

// List returns the regular files directly under the tool directory, sorted
// by name. A missing directory lists as empty.
func (s *Store) List(t Tool) ([]File, error) {
	dir := s.Dir(t)
	exists, err := afero.DirExists(s.fs, dir)
	if err != nil {
		return nil, errors.Wrap(err, "could not stat output directory")
	}
	if !exists {
		return nil, nil
	}
	infos, err := afero.ReadDir(s.fs, dir)
	if err != nil {
		return nil, errors.Wrap(err, fmt.Sprintf("could not read %s", dir))
	}
	var files []File
	for _, fi := range infos {
		if !fi.Mode().IsRegular() {
			continue
		}
		files = append(files, File{Name: fi.Name(), Size: fi.Size(), ModTime: fi.ModTime()})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return files, nil
}

// Open opens one stored file. Names must be plain base names.
func (s *Store) Open(t Tool, name string) (afero.File, os.FileInfo, error) {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) || filepath.Base(name) != name {
		return nil, nil, errors.Wrap(ErrInvalidName, name)
	}
	p := filepath.Join(s.Dir(t), name)
	fi, err := s.fs.Stat(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, errors.Wrap(ErrNotFound, name)
		}
		return nil, nil, errors.Wrap(err, "could not stat file")
	}
	if !fi.Mode().IsRegular() {
		return nil, nil, errors.Wrap(ErrNotFound, name)
	}
	f, err := s.fs.Open(p)
	if err != nil {
		return nil, nil, errors.Wrap(err, "could not open file")
	}
	return f, fi, nil
}

// RuleCount counts .yar and .yara files under the rules directory.
func (s *Store) RuleCount() int {
	if s.rulesDir == "" {
		return 0
	}
	ok, _ := afero.DirExists(s.fs, s.rulesDir)
	if !ok {
		return 0
	}
	matches, err := doublestar.Glob(afero.NewIOFS(afero.NewBasePathFs(s.fs, s.rulesDir)), rules.Pattern)
	if err != nil {
		return 0
	}
	return len(matches)
}

// Stats counts stored files and reports the newest modification time,
// or "Never" when both directories are empty.
func (s *Store) Stats() (Stats, error) {
	vol, err := s.List(Volatility)
	if err != nil {
		return Stats{}, err
	}
	yr, err := s.List(Yara)
	if err != nil {
		return Stats{}, err
	}
	st := Stats{
		VolFiles:   len(vol),
		YaraFiles:  len(yr),
		YaraRules:  s.RuleCount(),
		LastScan:   "Never",
		TotalFiles: len(vol) + len(yr),
	}
	var latest time.Time
	for _, f := range append(vol, yr...) {
		if f.ModTime.After(latest) {
			latest = f.ModTime
		}
	}
	if !latest.IsZero() {
		st.LastScan = latest.Local().Format(LastScanLayout)
	}
	return st, nil
}
