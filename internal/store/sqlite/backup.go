package sqlite

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// sidecarSuffixes are the WAL-mode files that travel with the main db file.
var sidecarSuffixes = []string{"-wal", "-shm"}

// backupName follows spec.md §6: "*-backup-<reason>-<ts>.db" plus matching
// -wal/-shm sidecars.
func backupName(dbPath, reason string, ts time.Time) string {
	return fmt.Sprintf("%s-backup-%s-%s.db", dbPath, reason, ts.UTC().Format("20060102T150405Z"))
}

// Backup makes a timestamped copy of dbPath (and its WAL/SHM sidecars, if
// present) tagged with reason, then prunes older backups beyond the last
// five, matching spec.md §6.
func Backup(dbPath, reason string) (string, error) {
	if _, err := os.Stat(dbPath); err != nil {
		if os.IsNotExist(err) {
			return "", nil // nothing to back up yet (first run)
		}
		return "", fmt.Errorf("stat %s: %w", dbPath, err)
	}

	dest := backupName(dbPath, reason, time.Now())
	if err := copyFile(dbPath, dest); err != nil {
		return "", fmt.Errorf("backing up %s: %w", dbPath, err)
	}
	for _, suffix := range sidecarSuffixes {
		src := dbPath + suffix
		if _, err := os.Stat(src); err == nil {
			_ = copyFile(src, dest+suffix) // best-effort, matches teacher's sidecar handling
		}
	}

	if err := pruneOldBackups(dbPath, 5); err != nil {
		return dest, fmt.Errorf("backup succeeded but pruning failed: %w", err)
	}
	return dest, nil
}

// BackupBeforeMigrate is a thin wrapper used by Open so the pre-migration
// backup is always named consistently.
func BackupBeforeMigrate(dbPath, reason string) error {
	_, err := Backup(dbPath, reason)
	return err
}

// RestoreLatestBackup atomically swaps dbPath (and sidecars) for the most
// recent backup, used when RunMigrations fails post-backup.
func RestoreLatestBackup(dbPath string) error {
	latest, err := latestBackup(dbPath)
	if err != nil {
		return err
	}
	if latest == "" {
		return fmt.Errorf("no backup available to restore for %s", dbPath)
	}
	return restoreFrom(dbPath, latest)
}

// Restore restores dbPath from an explicit backup file path (the `restore
// [file]` CLI command).
func Restore(dbPath, backupPath string) error {
	if _, err := os.Stat(backupPath); err != nil {
		return fmt.Errorf("backup file %s: %w", backupPath, err)
	}
	return restoreFrom(dbPath, backupPath)
}

// restoreFrom performs the atomic swap: write the backup to a staging file,
// then os.Rename it over dbPath (rename is atomic on the same filesystem),
// mirroring the teacher's move-then-verify recovery pattern.
func restoreFrom(dbPath, backupPath string) error {
	staging := dbPath + ".restoring"
	if err := copyFile(backupPath, staging); err != nil {
		return fmt.Errorf("staging restore copy: %w", err)
	}
	if err := os.Rename(staging, dbPath); err != nil {
		return fmt.Errorf("swapping restored db into place: %w", err)
	}
	for _, suffix := range sidecarSuffixes {
		src := backupPath + suffix
		if _, err := os.Stat(src); err == nil {
			_ = copyFile(src, dbPath+suffix)
		} else {
			_ = os.Remove(dbPath + suffix) // stale sidecar from the failed attempt
		}
	}
	return nil
}

func latestBackup(dbPath string) (string, error) {
	dir := filepath.Dir(dbPath)
	base := filepath.Base(dbPath)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("listing %s: %w", dir, err)
	}
	prefix := base + "-backup-"
	var candidates []string
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, prefix) && strings.HasSuffix(name, ".db") {
			candidates = append(candidates, filepath.Join(dir, name))
		}
	}
	if len(candidates) == 0 {
		return "", nil
	}
	sort.Strings(candidates) // timestamp suffix sorts lexicographically
	return candidates[len(candidates)-1], nil
}

func pruneOldBackups(dbPath string, keep int) error {
	dir := filepath.Dir(dbPath)
	base := filepath.Base(dbPath)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("listing %s: %w", dir, err)
	}
	prefix := base + "-backup-"
	var candidates []string
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, prefix) && strings.HasSuffix(name, ".db") {
			candidates = append(candidates, name)
		}
	}
	sort.Strings(candidates)
	if len(candidates) <= keep {
		return nil
	}
	for _, name := range candidates[:len(candidates)-keep] {
		full := filepath.Join(dir, name)
		_ = os.Remove(full)
		for _, suffix := range sidecarSuffixes {
			_ = os.Remove(full + suffix)
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.CreateTemp(filepath.Dir(dst), filepath.Base(dst)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := out.Name()
	defer func() {
		_ = out.Close()
		_ = os.Remove(tmpName) // no-op once renamed
	}()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	if err := out.Sync(); err != nil {
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, dst)
}
