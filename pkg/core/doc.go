// Package core provides a small, stable facade over memtriage's internal
// packages for programs that want YARA scanning or Volatility plugin runs
// without the CLI.
//
// Example:
//
//	rs, err := core.LoadRules("scripts/rules", nil)
//	if err != nil { /* handle */ }
//	defer rs.Close()
//	results, err := core.ScanPath(ctx, rs, "static/yara_output", "/srv/uploads")
//	if err != nil { /* handle */ }
//	_ = core.MarshalResults(os.Stdout, results)
package core
