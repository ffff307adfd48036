package types

import "time"

// Outcome is the classification of a single scanned file.
type Outcome string

const (
	OutcomeClean    Outcome = "clean"
	OutcomeDetected Outcome = "detected"
)

// ScanResult describes one successful YARA match attempt against a file.
type ScanResult struct {
	Path      string    `json:"path"`
	Matches   []string  `json:"matches"`
	Outcome   Outcome   `json:"outcome"`
	Timestamp time.Time `json:"timestamp"`
}

// Detected reports whether at least one rule matched.
func (r ScanResult) Detected() bool { return r.Outcome == OutcomeDetected }

// PluginTable is the tabular output of one Volatility plugin run.
// Every row has at most len(Headers) fields.
type PluginTable struct {
	Plugin  string     `json:"plugin"`
	Headers []string   `json:"headers"`
	Rows    [][]string `json:"rows"`
}

// PluginState is the terminal state of one plugin invocation.
type PluginState string

const (
	PluginEmpty   PluginState = "empty"
	PluginWritten PluginState = "written"
	PluginFailed  PluginState = "failed"
)

// PluginOutcome records what happened to a single plugin in a batch.
type PluginOutcome struct {
	Plugin string      `json:"plugin"`
	State  PluginState `json:"state"`
	Rows   int         `json:"rows"`
	Files  []string    `json:"files,omitempty"`
	Err    error       `json:"-"`
}
