package config

import (
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
	"github.com/imdario/mergo"
	"gopkg.in/yaml.v3"
)

const (
	DefaultOutputDir   = "static"
	DefaultRulesDir    = "scripts/rules"
	DefaultAddr        = "127.0.0.1:5000"
	DefaultScanTimeout = 60 * time.Second
)

// FileConfig is the on-disk YAML configuration shape for memtriage.
type FileConfig struct {
	OutputDir    *string  `yaml:"output_dir,omitempty"`
	RulesDir     *string  `yaml:"rules_dir,omitempty"`
	RuleExcludes []string `yaml:"rule_excludes,omitempty"`
	ScanExcludes []string `yaml:"scan_excludes,omitempty"`
	ScanTimeout  *string  `yaml:"scan_timeout,omitempty"`
	NoColor      *bool    `yaml:"no_color,omitempty"`

	Volatility *VolatilityConfig `yaml:"volatility,omitempty"`
	Serve      *ServeConfig      `yaml:"serve,omitempty"`
}

// VolatilityConfig holds configuration for the Volatility3 integration.
type VolatilityConfig struct {
	// BinaryPath is an explicit path to vol / vol.py.
	// If empty, the binary is searched in $PATH.
	BinaryPath *string `yaml:"binary,omitempty"`

	// Plugins overrides the default plugin list, in run order.
	Plugins []string `yaml:"plugins,omitempty"`

	// Structured asks Volatility for JSON output (-r json) instead of
	// parsing the whitespace-aligned text renderer.
	Structured *bool `yaml:"structured,omitempty"`

	// MinVersion is the oldest framework version accepted without a warning.
	MinVersion *string `yaml:"min_version,omitempty"`
}

// ServeConfig holds dashboard settings.
type ServeConfig struct {
	Addr *string `yaml:"addr,omitempty"`
}

// LoadFile reads a YAML config file from the provided path.
func LoadFile(path string) (FileConfig, error) {
	var cfg FileConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadLocal searches for a config file in dir.
// It supports .memtriage.yml/.yaml and memtriage.yml/.yaml.
func LoadLocal(dir string) (FileConfig, error) {
	var cfg FileConfig
	for _, name := range []string{".memtriage.yml", ".memtriage.yaml", "memtriage.yml", "memtriage.yaml"} {
		p := filepath.Join(dir, name)
		if _, err := os.Stat(p); err == nil {
			return LoadFile(p)
		}
	}
	return cfg, errors.New("no local config")
}

// LoadGlobal loads $XDG_CONFIG_HOME/memtriage/config.yml.
func LoadGlobal() (FileConfig, error) {
	var cfg FileConfig
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		base = xdg.ConfigHome
	}
	if base == "" {
		return cfg, errors.New("no config dir")
	}
	p := filepath.Join(base, "memtriage", "config.yml")
	if _, err := os.Stat(p); err == nil {
		return LoadFile(p)
	}
	return cfg, errors.New("no global config")
}

// Load resolves the effective file configuration. An explicit path wins
// outright; otherwise the local file is merged over the global one.
func Load(explicit, dir string) (FileConfig, error) {
	if explicit != "" {
		return LoadFile(explicit)
	}
	var merged FileConfig
	if c, err := LoadLocal(dir); err == nil {
		merged = c
	}
	if g, err := LoadGlobal(); err == nil {
		if err := Merge(&merged, g); err != nil {
			return merged, err
		}
	}
	return merged, nil
}

// Merge fills unset fields of dst from src. Fields already set in dst win.
func Merge(dst *FileConfig, src FileConfig) error {
	return mergo.Merge(dst, src)
}

// GetOutputDir returns the base output directory.
func (fc FileConfig) GetOutputDir() string {
	if fc.OutputDir == nil || *fc.OutputDir == "" {
		return DefaultOutputDir
	}
	return *fc.OutputDir
}

// GetRulesDir returns the YARA rules directory.
func (fc FileConfig) GetRulesDir() string {
	if fc.RulesDir == nil || *fc.RulesDir == "" {
		return DefaultRulesDir
	}
	return *fc.RulesDir
}

// GetScanTimeout returns the per-file YARA scan timeout.
func (fc FileConfig) GetScanTimeout() time.Duration {
	if fc.ScanTimeout == nil {
		return DefaultScanTimeout
	}
	d, err := time.ParseDuration(*fc.ScanTimeout)
	if err != nil || d <= 0 {
		return DefaultScanTimeout
	}
	return d
}

// GetAddr returns the dashboard listen address.
func (fc FileConfig) GetAddr() string {
	if fc.Serve == nil || fc.Serve.Addr == nil || *fc.Serve.Addr == "" {
		return DefaultAddr
	}
	return *fc.Serve.Addr
}

// GetVolatilityConfig returns the Volatility configuration, never nil.
func (fc FileConfig) GetVolatilityConfig() VolatilityConfig {
	if fc.Volatility == nil {
		return VolatilityConfig{}
	}
	return *fc.Volatility
}

// GetBinaryPath returns the custom binary path or empty string.
func (vc VolatilityConfig) GetBinaryPath() string {
	if vc.BinaryPath == nil {
		return ""
	}
	return *vc.BinaryPath
}

// IsStructured reports whether JSON rendering is enabled (default: false).
func (vc VolatilityConfig) IsStructured() bool {
	if vc.Structured == nil {
		return false
	}
	return *vc.Structured
}

// GetMinVersion returns the minimum framework version or empty string.
func (vc VolatilityConfig) GetMinVersion() string {
	if vc.MinVersion == nil {
		return ""
	}
	return *vc.MinVersion
}
