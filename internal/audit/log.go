package audit

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/memtriage/memtriage/internal/types"
)

// FileName is the scan log inside the YARA output directory.
const FileName = "scan_results.txt"

// TimeLayout is the timestamp written in each entry header.
const TimeLayout = "2006-01-02 15:04:05.000000"

const headerPrefix = "["
const headerMarker = "] Scan: "

// Entry is one parsed block of the scan log.
type Entry struct {
	Timestamp time.Time
	Path      string
	Text      string
}

// Detected reports whether the entry records a rule match.
func (e Entry) Detected() bool { return strings.HasPrefix(e.Text, "MALWARE DETECTED") }

// Log is an append-only text log of scan outcomes. It is never rewritten or
// rotated and does no locking: two processes appending at once may interleave.
type Log struct {
	logPath string
}

func NewLog(dir string) *Log {
	return &Log{logPath: filepath.Join(dir, FileName)}
}

func (l *Log) Path() string { return l.logPath }

// OutcomeText renders the human readable outcome for a result.
func OutcomeText(r types.ScanResult) string {
	base := filepath.Base(r.Path)
	if r.Detected() {
		return fmt.Sprintf("MALWARE DETECTED in %s\n\nMatched rules:\n%s", base, strings.Join(r.Matches, "\n"))
	}
	return fmt.Sprintf("%s is clean. No YARA rule matched.", base)
}

// Append writes one entry, creating the file and its directory if needed.
func (l *Log) Append(r types.ScanResult) error {
	if err := os.MkdirAll(filepath.Dir(l.logPath), 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	f, err := os.OpenFile(l.logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open scan log: %w", err)
	}
	defer f.Close()

	entry := fmt.Sprintf("\n%s%s%s%s\n%s\n", headerPrefix, r.Timestamp.Format(TimeLayout), headerMarker, r.Path, OutcomeText(r))
	if _, err := f.WriteString(entry); err != nil {
		return fmt.Errorf("failed to write scan log entry: %w", err)
	}
	return nil
}

// LoadHistory parses the log back into entries, newest first. limit <= 0
// returns everything.
func (l *Log) LoadHistory(limit int) ([]Entry, error) {
	f, err := os.Open(l.logPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open scan log: %w", err)
	}
	defer f.Close()

	var (
		entries []Entry
		cur     *Entry
		body    []string
	)
	flush := func() {
		if cur == nil {
			return
		}
		cur.Text = strings.TrimRight(strings.Join(body, "\n"), "\n")
		entries = append(entries, *cur)
		cur, body = nil, nil
	}

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		if e, ok := parseHeader(line); ok {
			flush()
			cur = &e
			continue
		}
		if cur != nil {
			body = append(body, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read scan log: %w", err)
	}
	flush()

	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func parseHeader(line string) (Entry, bool) {
	if !strings.HasPrefix(line, headerPrefix) {
		return Entry{}, false
	}
	idx := strings.Index(line, headerMarker)
	if idx < 0 {
		return Entry{}, false
	}
	ts, err := time.ParseInLocation(TimeLayout, line[len(headerPrefix):idx], time.Local)
	if err != nil {
		return Entry{}, false
	}
	return Entry{Timestamp: ts, Path: line[idx+len(headerMarker):]}, true
}
