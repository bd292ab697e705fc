package hosts

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
)

const backupTimeFormat = "20060102-150405.000"

// backupLocked snapshots the current hosts file bytes into a timestamped
// backup before any mutation, then prunes the oldest backups beyond the
// retention limit. Caller holds m.mu.
func (m *Manager) backupLocked(content []byte) error {
	if err := os.MkdirAll(m.backupDir, 0o755); err != nil {
		return fmt.Errorf("failed to create backup directory: %w", err)
	}

	name := fmt.Sprintf("hosts-%s.bak", time.Now().Format(backupTimeFormat))
	path := filepath.Join(m.backupDir, name)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		return fmt.Errorf("failed to write hosts backup: %w", err)
	}

	m.pruneBackupsLocked()
	return nil
}

// listBackupsLocked returns backup paths sorted oldest first. The
// timestamped names make lexical order chronological.
func (m *Manager) listBackupsLocked() []string {
	matches, err := filepath.Glob(filepath.Join(m.backupDir, "hosts-*.bak"))
	if err != nil {
		return nil
	}
	sort.Strings(matches)
	return matches
}

func (m *Manager) pruneBackupsLocked() {
	backups := m.listBackupsLocked()
	for len(backups) > m.maxBackups {
		oldest := backups[0]
		if err := os.Remove(oldest); err != nil {
			logrus.WithError(err).WithField("backup", oldest).Warn("Failed to prune hosts backup")
			return
		}
		backups = backups[1:]
	}
}

// restoreFromBackupLocked copies the most recent backup over the hosts
// file and returns the restored bytes. Used when the marker structure on
// disk is corrupt.
func (m *Manager) restoreFromBackupLocked() ([]byte, error) {
	backups := m.listBackupsLocked()
	if len(backups) == 0 {
		return nil, ErrCorruptRegion
	}

	newest := backups[len(backups)-1]
	content, err := os.ReadFile(newest)
	if err != nil {
		return nil, fmt.Errorf("failed to read hosts backup %s: %w", newest, err)
	}

	if err := m.writeAtomic(string(content)); err != nil {
		return nil, err
	}

	logrus.WithField("backup", newest).Info("Restored hosts file from backup")
	return content, nil
}

// LatestBackup returns the newest backup path, or empty when none exist.
func (m *Manager) LatestBackup() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	backups := m.listBackupsLocked()
	if len(backups) == 0 {
		return ""
	}
	return backups[len(backups)-1]
}
