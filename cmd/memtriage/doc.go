// Package memtriage provides the command-line interface for memtriage.
// It configures subcommands (serve, yara, vol, config, completion, update,
// version), parses flags, resolves configuration and executes the selected
// command.
//
// Typical usage from a main package:
//
//	package main
//	import "github.com/memtriage/memtriage/cmd/memtriage"
//	func main() { memtriage.Execute() }
package memtriage
