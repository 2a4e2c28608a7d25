package replace

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"gitlab.com/tozd/go/errors"

	"find-replace/config"
)

// backupPath picks where the original of path is copied before a rewrite
func backupPath(settings config.BackupSettings, path string, now time.Time) string {
	suffix := settings.Suffix
	if suffix == "" {
		suffix = config.DefaultBackupSuffix
	}
	if settings.Dir == "" {
		return path + suffix
	}
	stamp := now.UTC().Format("20060102T150405.000000000")
	return filepath.Join(settings.Dir, filepath.Base(path)+"."+stamp+suffix)
}

// writeBackup stores the original bytes with the original mode
func writeBackup(dst string, data []byte, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return errors.Errorf("creating backup dir: %w", err)
	}
	if err := writeAtomic(dst, data, mode, writeAll); err != nil {
		return errors.Errorf("writing backup %s: %w", dst, err)
	}
	return nil
}

// writeAll is the default temp file writer
func writeAll(f *os.File, data []byte) error {
	_, err := f.Write(data)
	return err
}

// writeAtomic writes data to a temp file next to path, syncs it and renames it over path.
// On failure the temp file is removed and path is left as it was.
func writeAtomic(path string, data []byte, mode os.FileMode, write func(*os.File, []byte) error) (err error) {
	dir, base := filepath.Split(path)
	if dir == "" {
		dir = "."
	}
	tmp, err := os.CreateTemp(dir, "."+base+".*.tmp")
	if err != nil {
		return writeError(path, StageWrite, err)
	}
	tmpPath := tmp.Name()
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	if err = write(tmp, data); err != nil {
		return writeError(path, StageWrite, err)
	}
	if err = tmp.Sync(); err != nil {
		return writeError(path, StageWrite, err)
	}
	if err = tmp.Chmod(mode); err != nil {
		return writeError(path, StageWrite, err)
	}
	if err = tmp.Close(); err != nil {
		return writeError(path, StageWrite, err)
	}
	if err = os.Rename(tmpPath, path); err != nil {
		return writeError(path, StageRename, err)
	}
	return nil
}

// LatestBackup finds the most recent backup of path written with settings
func LatestBackup(settings config.BackupSettings, path string) (string, error) {
	suffix := settings.Suffix
	if suffix == "" {
		suffix = config.DefaultBackupSuffix
	}
	if settings.Dir == "" {
		candidate := path + suffix
		if _, err := os.Stat(candidate); err != nil {
			return "", errors.Errorf("%s: %w", path, ErrNoBackup)
		}
		return candidate, nil
	}

	entries, err := os.ReadDir(settings.Dir)
	if err != nil {
		return "", errors.Errorf("reading backup dir: %w", err)
	}
	prefix := filepath.Base(path) + "."
	latest := ""
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, suffix) {
			continue
		}
		// entries are sorted and the stamp sorts chronologically
		latest = name
	}
	if latest == "" {
		return "", errors.Errorf("%s: %w", path, ErrNoBackup)
	}
	return filepath.Join(settings.Dir, latest), nil
}
