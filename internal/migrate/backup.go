package migrate

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// BackupName returns the backup file name for path at now:
// <dir>/<name>_backup_YYYYMMDD_HHMMSS.db.
func BackupName(path string, now time.Time) string {
	dir, base := filepath.Split(path)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(dir, name+"_backup_"+now.Format("20060102_150405")+".db")
}

// Backup copies the legacy file next to itself and returns the copy's path.
func Backup(path string, now time.Time) (string, error) {
	src, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("backup: %w", err)
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return "", fmt.Errorf("backup: %w", err)
	}

	dst := BackupName(path, now)
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, info.Mode().Perm())
	if err != nil {
		return "", fmt.Errorf("backup: %w", err)
	}
	if _, err := io.Copy(out, src); err != nil {
		_ = out.Close()
		_ = os.Remove(dst)
		return "", fmt.Errorf("backup: copy: %w", err)
	}
	if err := out.Sync(); err != nil {
		_ = out.Close()
		return "", fmt.Errorf("backup: sync: %w", err)
	}
	if err := out.Close(); err != nil {
		return "", fmt.Errorf("backup: %w", err)
	}
	_ = os.Chtimes(dst, info.ModTime(), info.ModTime())
	return dst, nil
}
