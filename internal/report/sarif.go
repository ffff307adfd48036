package report

import (
	"encoding/json"
	"io"
	"strings"

	"github.com/memtriage/memtriage/internal/types"
)

type sarif struct {
	Version string     `json:"version"`
	Schema  string     `json:"$schema"`
	Runs    []sarifRun `json:"runs"`
}

type sarifRun struct {
	Tool    sarifTool     `json:"tool"`
	Results []sarifResult `json:"results"`
}

type sarifTool struct {
	Driver sarifDriver `json:"driver"`
}

type sarifDriver struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type sarifResult struct {
	RuleID    string       `json:"ruleId"`
	Level     string       `json:"level"`
	Message   sarifMessage `json:"message"`
	Locations []sarifLoc   `json:"locations"`
}

type sarifMessage struct {
	Text string `json:"text"`
}

type sarifLoc struct {
	PhysicalLocation sarifPhys `json:"physicalLocation"`
}

type sarifPhys struct {
	ArtifactLocation sarifArt `json:"artifactLocation"`
}

type sarifArt struct {
	URI string `json:"uri"`
}

// WriteSARIF writes one SARIF result per matched rule. Clean files produce
// no results.
func WriteSARIF(w io.Writer, version string, results []types.ScanResult) error {
	run := sarifRun{
		Tool:    sarifTool{Driver: sarifDriver{Name: "memtriage-yara", Version: version}},
		Results: []sarifResult{},
	}
	for _, r := range results {
		for _, rule := range r.Matches {
			run.Results = append(run.Results, sarifResult{
				RuleID:  rule,
				Level:   "error",
				Message: sarifMessage{Text: "YARA rule " + rule + " matched"},
				Locations: []sarifLoc{{
					PhysicalLocation: sarifPhys{ArtifactLocation: sarifArt{URI: toURI(r.Path)}},
				}},
			})
		}
	}
	doc := sarif{
		Version: "2.1.0",
		Schema:  "https://json.schemastore.org/sarif-2.1.0.json",
		Runs:    []sarifRun{run},
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}

func toURI(p string) string {
	return strings.ReplaceAll(p, "\\", "/")
}
