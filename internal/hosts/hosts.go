// Package hosts manages the marker-delimited managed region of the
// system hosts file. Everything outside the region is preserved
// byte-for-byte; every mutation goes through a temp file and an atomic
// rename so no reader ever observes a partially written file.
package hosts

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// ErrVerifyMismatch is returned when a post-write re-read finds the
// managed region differing from what was just written. The apply is
// abandoned for this cycle and retried on the next tick.
var ErrVerifyMismatch = errors.New("hosts file verification mismatch after write")

// ErrCorruptRegion is returned when the marker structure is damaged and
// no backup exists to restore from.
var ErrCorruptRegion = errors.New("hosts file managed region is corrupt")

// Manager owns the managed region of one hosts file. All mutations are
// serialized; the hosts file is a single-writer resource.
type Manager struct {
	mu          sync.Mutex
	path        string
	backupDir   string
	sentinelIP  string
	beginMarker string
	endMarker   string
	maxBackups  int
	// rename commits a fully written temp file over the hosts file.
	// Swapped out in tests to simulate a crash before the commit point.
	rename func(oldpath, newpath string) error
}

// NewManager creates a hosts-file manager. backupDir is created on first
// use.
func NewManager(path, backupDir, sentinelIP, beginMarker, endMarker string, maxBackups int) *Manager {
	return &Manager{
		path:        path,
		backupDir:   backupDir,
		sentinelIP:  sentinelIP,
		beginMarker: beginMarker,
		endMarker:   endMarker,
		maxBackups:  maxBackups,
		rename:      os.Rename,
	}
}

// Path returns the managed hosts file path.
func (m *Manager) Path() string { return m.path }

// regionState classifies the marker structure found in a hosts file.
type regionState int

const (
	regionAbsent regionState = iota
	regionOK
	regionCorrupt
)

// splitRegion partitions the file's lines into the content before the
// managed region, the region body (marker lines excluded), and the
// content after it.
func (m *Manager) splitRegion(lines []string) (before, body, after []string, state regionState) {
	begin, end := -1, -1
	for i, line := range lines {
		switch strings.TrimRight(line, "\r") {
		case m.beginMarker:
			if begin != -1 {
				return lines, nil, nil, regionCorrupt
			}
			begin = i
		case m.endMarker:
			if end != -1 || begin == -1 {
				return lines, nil, nil, regionCorrupt
			}
			end = i
		}
	}

	switch {
	case begin == -1 && end == -1:
		return lines, nil, nil, regionAbsent
	case begin == -1 || end == -1 || end < begin:
		return lines, nil, nil, regionCorrupt
	}

	return lines[:begin], lines[begin+1 : end], lines[end+1:], regionOK
}

// renderBody renders the managed region body for the desired domain set.
func (m *Manager) renderBody(domains []string) []string {
	sorted := append([]string(nil), domains...)
	sort.Strings(sorted)

	body := make([]string, 0, len(sorted))
	for _, d := range sorted {
		body = append(body, m.sentinelIP+" "+d)
	}
	return body
}

// Apply replaces the managed region with one sentinel entry per desired
// domain. It is idempotent: when the on-disk region already matches, no
// write happens at all.
func (m *Manager) Apply(domains []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.applyLocked(domains)
}

func (m *Manager) applyLocked(domains []string) error {
	content, err := os.ReadFile(m.path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to read hosts file: %w", err)
	}

	lines := splitLines(string(content))
	trailing := hasTrailingNewline(content)
	before, body, after, state := m.splitRegion(lines)

	if state == regionCorrupt {
		logrus.Warn("Hosts file managed region is corrupt, restoring from backup")
		restored, rerr := m.restoreFromBackupLocked()
		if rerr != nil {
			return rerr
		}
		lines = splitLines(string(restored))
		trailing = hasTrailingNewline(restored)
		before, body, after, state = m.splitRegion(lines)
		if state == regionCorrupt {
			return ErrCorruptRegion
		}
	}

	desired := m.renderBody(domains)
	if state == regionOK && equalLines(body, desired) {
		return nil
	}
	if state == regionAbsent && len(desired) == 0 {
		return nil
	}

	var out []string
	switch state {
	case regionAbsent:
		out = append(out, before...)
		// Keep a blank line between existing content and our region.
		if n := len(out); n > 0 && strings.TrimSpace(out[n-1]) != "" {
			out = append(out, "")
		}
		out = append(out, m.beginMarker)
		out = append(out, desired...)
		out = append(out, m.endMarker)
	default:
		out = append(out, before...)
		out = append(out, m.beginMarker)
		out = append(out, desired...)
		out = append(out, m.endMarker)
		out = append(out, after...)
	}

	if len(content) > 0 {
		if err := m.backupLocked(content); err != nil {
			return err
		}
	}

	if err := m.writeAtomic(joinLines(out, trailing)); err != nil {
		return err
	}

	if err := m.verifyLocked(domains); err != nil {
		return err
	}

	logrus.WithField("domains", len(domains)).Info("Applied hosts file managed region")
	return nil
}

// Remove deletes the managed region entirely, leaving the rest of the
// file untouched. Used by uninstall and by protection-off.
func (m *Manager) Remove() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	content, err := os.ReadFile(m.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read hosts file: %w", err)
	}

	lines := splitLines(string(content))
	trailing := hasTrailingNewline(content)
	before, _, after, state := m.splitRegion(lines)
	if state == regionAbsent {
		return nil
	}
	if state == regionCorrupt {
		restored, rerr := m.restoreFromBackupLocked()
		if rerr != nil {
			return rerr
		}
		lines = splitLines(string(restored))
		trailing = hasTrailingNewline(restored)
		before, _, after, state = m.splitRegion(lines)
		if state == regionCorrupt {
			return ErrCorruptRegion
		}
		if state == regionAbsent {
			return nil
		}
	}

	if err := m.backupLocked(content); err != nil {
		return err
	}

	out := append([]string{}, before...)
	// Drop the blank separator Apply added, if it is still there.
	if n := len(out); n > 0 && strings.TrimSpace(out[n-1]) == "" && len(after) == 0 {
		out = out[:n-1]
	}
	out = append(out, after...)

	if err := m.writeAtomic(joinLines(out, trailing)); err != nil {
		return err
	}

	logrus.Info("Removed hosts file managed region")
	return nil
}

// Verify re-reads the hosts file and confirms the managed region matches
// the desired domain set exactly. It never mutates the file.
func (m *Manager) Verify(domains []string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.verifyLocked(domains); err != nil {
		if errors.Is(err, ErrVerifyMismatch) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (m *Manager) verifyLocked(domains []string) error {
	content, err := os.ReadFile(m.path)
	if err != nil {
		return fmt.Errorf("failed to re-read hosts file: %w", err)
	}

	_, body, _, state := m.splitRegion(splitLines(string(content)))
	desired := m.renderBody(domains)

	if state == regionAbsent {
		if len(desired) == 0 {
			return nil
		}
		return ErrVerifyMismatch
	}
	if state != regionOK || !equalLines(body, desired) {
		return ErrVerifyMismatch
	}
	return nil
}

// ManagedEntries reports how many entries the on-disk managed region
// holds and whether the region exists at all. Corrupt marker structure
// surfaces as ErrCorruptRegion.
func (m *Manager) ManagedEntries() (int, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	content, err := os.ReadFile(m.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, false, nil
		}
		return 0, false, err
	}

	_, body, _, state := m.splitRegion(splitLines(string(content)))
	switch state {
	case regionAbsent:
		return 0, false, nil
	case regionCorrupt:
		return 0, false, ErrCorruptRegion
	}
	return len(body), true, nil
}

// writeAtomic writes the full new content to a temp file in the hosts
// directory, fsyncs it, and renames it over the original. A crash at any
// point leaves either the old or the new file, never a mix.
func (m *Manager) writeAtomic(content string) error {
	dir := filepath.Dir(m.path)
	tmp, err := os.CreateTemp(dir, ".hosts-*")
	if err != nil {
		return fmt.Errorf("failed to create temp hosts file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp hosts file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync temp hosts file: %w", err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to chmod temp hosts file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp hosts file: %w", err)
	}

	if err := m.rename(tmp.Name(), m.path); err != nil {
		return fmt.Errorf("failed to replace hosts file: %w", err)
	}
	return nil
}

func splitLines(content string) []string {
	if content == "" {
		return nil
	}
	return strings.Split(strings.TrimSuffix(content, "\n"), "\n")
}

// joinLines reassembles the edited lines, keeping the file's original
// trailing-newline state so an apply/remove cycle is byte preserving.
func joinLines(lines []string, trailingNewline bool) string {
	if len(lines) == 0 {
		return ""
	}
	s := strings.Join(lines, "\n")
	if trailingNewline {
		s += "\n"
	}
	return s
}

func hasTrailingNewline(content []byte) bool {
	return len(content) == 0 || content[len(content)-1] == '\n'
}

func equalLines(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if strings.TrimRight(a[i], "\r") != strings.TrimRight(b[i], "\r") {
			return false
		}
	}
	return true
}
