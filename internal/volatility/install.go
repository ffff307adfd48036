package volatility

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/memtriage/memtriage/internal/logging"
)

// RepoURL is the upstream Volatility3 repository cloned by Install.
const RepoURL = "https://github.com/volatilityfoundation/volatility3.git"

// Install clones Volatility3 into the install directory when no checkout is
// present, then installs its Python requirements. It returns the path to the
// installed vol.py. A nil run uses ExecCommand.
func (bm *BinaryManager) Install(ctx context.Context, run CommandFunc) (string, error) {
	if run == nil {
		run = ExecCommand
	}
	logger := logging.GetLogger("volatility")
	entry := filepath.Join(bm.installDir, "vol.py")

	if _, err := os.Stat(entry); err != nil {
		if err := os.MkdirAll(filepath.Dir(bm.installDir), 0755); err != nil {
			return "", fmt.Errorf("failed to create install directory: %w", err)
		}
		// a half-finished clone blocks git from retrying
		_ = os.RemoveAll(bm.installDir)

		logger.Info().Str("repo", RepoURL).Str("dir", bm.installDir).Msg("Cloning volatility3")
		if _, stderr, err := run(ctx, "git", "clone", "--depth", "1", RepoURL, bm.installDir); err != nil {
			return "", fmt.Errorf("failed to clone volatility3: %w: %s", err, strings.TrimSpace(string(stderr)))
		}
		if _, err := os.Stat(entry); err != nil {
			return "", fmt.Errorf("%w: clone has no vol.py: %v", ErrToolNotFound, err)
		}
	} else {
		logger.Debug().Str("dir", bm.installDir).Msg("Using existing volatility3 checkout")
	}

	reqs := filepath.Join(bm.installDir, "requirements.txt")
	if _, err := os.Stat(reqs); err == nil {
		logger.Info().Str("requirements", reqs).Msg("Installing volatility3 requirements")
		if _, stderr, err := run(ctx, python(), "-m", "pip", "install", "-r", reqs); err != nil {
			return "", fmt.Errorf("failed to install volatility3 requirements: %w: %s", err, strings.TrimSpace(string(stderr)))
		}
	}
	return entry, nil
}
