package volatility

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"

	semver "github.com/blang/semver/v4"

	"github.com/adrg/xdg"
)

// ErrToolNotFound means no Volatility3 executable could be located.
var ErrToolNotFound = errors.New("volatility3 executable not found")

var bannerRe = regexp.MustCompile(`Volatility 3 Framework\s+v?(\d+(?:\.\d+){0,2})`)

// candidates are the executable names searched in $PATH, in order.
var candidates = []string{"vol", "vol3", "vol.py"}

// BinaryManager locates the Volatility3 entry point.
type BinaryManager struct {
	customPath string
	installDir string
	workDir    string
}

// Option customizes a BinaryManager.
type Option func(*BinaryManager)

// WithInstallDir overrides the directory managed by Install.
func WithInstallDir(dir string) Option {
	return func(bm *BinaryManager) { bm.installDir = dir }
}

// WithWorkDir overrides the directory searched for a local volatility3 checkout.
func WithWorkDir(dir string) Option {
	return func(bm *BinaryManager) { bm.workDir = dir }
}

// DefaultInstallDir is where Install places its checkout.
func DefaultInstallDir() string {
	return filepath.Join(xdg.DataHome, "memtriage", "volatility3")
}

// NewBinaryManager creates a manager. customPath is an optional explicit
// path to vol or vol.py.
func NewBinaryManager(customPath string, opts ...Option) *BinaryManager {
	bm := &BinaryManager{customPath: customPath, installDir: DefaultInstallDir(), workDir: "."}
	for _, o := range opts {
		o(bm)
	}
	return bm
}

// InstallDir returns the checkout directory used by Install.
func (bm *BinaryManager) InstallDir() string { return bm.installDir }

// Find locates the binary using this search order:
// 1. Custom path (if provided)
// 2. ./volatility3/vol.py in the working directory
// 3. vol.py in the install directory (see Install)
// 4. vol, vol3, vol.py in $PATH
func (bm *BinaryManager) Find() (string, error) {
	if bm.customPath != "" {
		if _, err := os.Stat(bm.customPath); err == nil {
			return bm.customPath, nil
		}
		return "", fmt.Errorf("%w: custom path %s does not exist", ErrToolNotFound, bm.customPath)
	}
	for _, p := range []string{
		filepath.Join(bm.workDir, "volatility3", "vol.py"),
		filepath.Join(bm.installDir, "vol.py"),
	} {
		if st, err := os.Stat(p); err == nil && !st.IsDir() {
			return p, nil
		}
	}
	for _, name := range candidates {
		if p, err := exec.LookPath(name); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w in PATH (looked for %s)\n\n"+
		"To fix this:\n"+
		"  1. Install Volatility3:\n"+
		"     memtriage vol install   (or: pip install volatility3)\n"+
		"  2. Or specify explicit path in config:\n"+
		"     volatility:\n"+
		"       binary: /path/to/volatility3/vol.py", ErrToolNotFound, strings.Join(candidates, ", "))
}

// Command returns the program and leading arguments needed to run bin.
// Python entry points are run through an interpreter.
func Command(bin string) (string, []string) {
	if !strings.HasSuffix(strings.ToLower(bin), ".py") {
		return bin, nil
	}
	return python(), []string{bin}
}

func python() string {
	for _, py := range []string{"python3", "python"} {
		if p, err := exec.LookPath(py); err == nil {
			return p
		}
	}
	return "python3"
}

// Version runs the help screen and extracts the framework banner version.
func (bm *BinaryManager) Version(ctx context.Context, bin string) (string, error) {
	name, args := Command(bin)
	cmd := exec.CommandContext(ctx, name, append(args, "-h")...)
	out, err := cmd.CombinedOutput()
	if v := ParseBanner(string(out)); v != "" {
		return v, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get volatility version: %w", err)
	}
	return "", errors.New("failed to get volatility version: no framework banner in output")
}

// ParseBanner extracts X.Y.Z from a "Volatility 3 Framework X.Y.Z" line.
func ParseBanner(out string) string {
	m := bannerRe.FindStringSubmatch(out)
	if m == nil {
		return ""
	}
	return m[1]
}

// AtLeast reports whether version >= min. Unparsable input compares as
// satisfied so a cosmetic banner change never blocks a run.
func AtLeast(version, min string) bool {
	if min == "" {
		return true
	}
	v, err := semver.ParseTolerant(version)
	if err != nil {
		return true
	}
	m, err := semver.ParseTolerant(min)
	if err != nil {
		return true
	}
	return v.GTE(m)
}
