// Package config loads memtriage configuration from an explicit file or from
// local and global YAML files with precedence rules. CLI code maps flags and
// files into component configuration.
package config
