package extract

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
)

// clearOutput empties the working directory without removing it, recreates
// it when missing and drops the previous merged artifact. Entries that cannot
// be removed are logged and left behind unless the failure is a permission
// error.
func (p *Pipeline) clearOutput(logger *slog.Logger) error {
	if err := clearDir(p.opts.WorkDir, logger); err != nil {
		return err
	}
	if err := os.MkdirAll(p.opts.WorkDir, 0o755); err != nil {
		return fmt.Errorf("create work dir: %w", err)
	}
	if err := os.Remove(p.opts.OutputPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		if errors.Is(err, fs.ErrPermission) {
			return fmt.Errorf("remove previous output: %w", err)
		}
		logger.Warn("failed to remove previous output", "path", p.opts.OutputPath, "err", err)
	}
	return nil
}

func clearDir(dir string, logger *slog.Logger) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		switch {
		case errors.Is(err, fs.ErrNotExist):
			return nil
		case errors.Is(err, fs.ErrPermission):
			return fmt.Errorf("read work dir: %w", err)
		}
		logger.Warn("failed to read work dir", "path", dir, "err", err)
		return nil
	}

	for _, entry := range entries {
		path := filepath.Join(dir, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			if errors.Is(err, fs.ErrPermission) {
				return fmt.Errorf("clear work dir: %w", err)
			}
			logger.Warn("failed to delete", "path", path, "err", err)
		}
	}
	return nil
}
