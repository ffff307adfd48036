package scanner

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/memtriage/memtriage/internal/audit"
	"github.com/memtriage/memtriage/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeMatcher returns rule names keyed by file basename.
type fakeMatcher struct {
	hits  map[string][]string
	fail  map[string]bool
	calls []string
}

func (f *fakeMatcher) Match(path string) ([]string, error) {
	base := filepath.Base(path)
	f.calls = append(f.calls, base)
	if f.fail[base] {
		return nil, errors.New("permission denied")
	}
	return f.hits[base], nil
}

func writeFile(t *testing.T, path, body string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func fixedClock() time.Time { return time.Date(2024, 5, 6, 7, 8, 9, 0, time.Local) }

func TestScanFile_Clean(t *testing.T) {
	logDir := t.TempDir()
	log := audit.NewLog(logDir)
	target := writeFile(t, filepath.Join(t.TempDir(), "notes.txt"), "hi")
	e := NewEngine(&fakeMatcher{}, log, WithClock(fixedClock))

	res, err := e.ScanFile(target)
	require.NoError(t, err)
	assert.Equal(t, types.OutcomeClean, res.Outcome)
	assert.Empty(t, res.Matches)

	b, err := os.ReadFile(log.Path())
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(string(b), "] Scan: "))
	assert.Contains(t, string(b), "notes.txt is clean")
}

func TestScanFile_DetectedKeepsMatchOrder(t *testing.T) {
	log := audit.NewLog(t.TempDir())
	target := writeFile(t, filepath.Join(t.TempDir(), "dropper.exe"), "MZ")
	m := &fakeMatcher{hits: map[string][]string{"dropper.exe": {"Zeus", "Alpha", "Mimikatz"}}}
	e := NewEngine(m, log, WithClock(fixedClock))

	res, err := e.ScanFile(target)
	require.NoError(t, err)
	assert.True(t, res.Detected())
	assert.Equal(t, []string{"Zeus", "Alpha", "Mimikatz"}, res.Matches)

	b, err := os.ReadFile(log.Path())
	require.NoError(t, err)
	assert.Contains(t, string(b), "MALWARE DETECTED in dropper.exe\n\nMatched rules:\nZeus\nAlpha\nMimikatz\n")
}

func TestScanFile_ErrorWritesNoEntry(t *testing.T) {
	log := audit.NewLog(t.TempDir())
	m := &fakeMatcher{fail: map[string]bool{"locked.bin": true}}
	e := NewEngine(m, log)

	_, err := e.ScanFile("/nowhere/locked.bin")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrScanIO))
	_, statErr := os.Stat(log.Path())
	assert.True(t, os.IsNotExist(statErr), "log must not be created on scan error")
}

func TestScanPath_DirectoryContinuesPastErrors(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "b.bin"), "b")
	writeFile(t, filepath.Join(root, "a.bin"), "a")
	writeFile(t, filepath.Join(root, "sub", "c.bin"), "c")
	writeFile(t, filepath.Join(root, "sub", "d.bin"), "d")

	m := &fakeMatcher{
		hits: map[string][]string{"c.bin": {"R1"}},
		fail: map[string]bool{"b.bin": true},
	}
	log := audit.NewLog(t.TempDir())
	e := NewEngine(m, log)

	sum, err := e.ScanPath(context.Background(), root)
	require.NoError(t, err)

	assert.Equal(t, []string{"a.bin", "b.bin", "c.bin", "d.bin"}, m.calls)
	assert.Equal(t, 3, sum.Scanned())
	assert.Equal(t, 1, sum.Detected)
	assert.Equal(t, 2, sum.Clean)
	require.Len(t, sum.Errors, 1)
	assert.Equal(t, filepath.Join(root, "b.bin"), sum.Errors[0].Path)

	entries, err := log.LoadHistory(0)
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}

func TestScanPath_SingleFile(t *testing.T) {
	target := writeFile(t, filepath.Join(t.TempDir(), "one.bin"), "x")
	e := NewEngine(&fakeMatcher{}, nil)
	sum, err := e.ScanPath(context.Background(), target)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Scanned())
	assert.Equal(t, 1, sum.Clean)
}

func TestScanPath_Excludes(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "keep.bin"), "x")
	writeFile(t, filepath.Join(root, "skip.log"), "x")
	writeFile(t, filepath.Join(root, "cache", "blob.bin"), "x")

	m := &fakeMatcher{}
	e := NewEngine(m, nil, WithExcludes([]string{"*.log", "cache/**"}))
	_, err := e.ScanPath(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, []string{"keep.bin"}, m.calls)
}

func TestScanPath_MissingRoot(t *testing.T) {
	e := NewEngine(&fakeMatcher{}, nil)
	_, err := e.ScanPath(context.Background(), filepath.Join(t.TempDir(), "nope"))
	assert.True(t, errors.Is(err, ErrScanIO))
}

func TestScanPath_Cancelled(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.bin"), "x")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	m := &fakeMatcher{}
	_, err := NewEngine(m, nil).ScanPath(ctx, root)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, m.calls)
}
