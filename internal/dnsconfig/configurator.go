package dnsconfig

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// InterfaceBackup records the pre-hostguard DNS settings of one
// interface. Empty Servers with IsDHCP set means automatic DNS.
type InterfaceBackup struct {
	Name    string   `json:"name"`
	Servers []string `json:"servers"`
	IsDHCP  bool     `json:"is_dhcp"`
}

// OriginalConfig is the one-time snapshot of pre-install DNS settings.
// It is written on the first ever apply and never overwritten, so a full
// revert always lands on the true original state.
type OriginalConfig struct {
	CapturedAt time.Time                  `json:"captured_at"`
	CapturedBy string                     `json:"captured_by"`
	Interfaces map[string]InterfaceBackup `json:"interfaces"`
}

// Configurator applies desired DNS servers across active interfaces.
// The DNS configuration is a single-writer resource; all mutations are
// serialized.
type Configurator struct {
	mu         sync.Mutex
	platform   Platform
	backupPath string
	original   *OriginalConfig
	probe      func(server string) error
}

// NewConfigurator creates a configurator whose original-settings backup
// lives at backupPath. probeTimeout bounds the per-server reachability
// check; zero disables probing.
func NewConfigurator(platform Platform, backupPath string, probeTimeout time.Duration) *Configurator {
	c := &Configurator{
		platform:   platform,
		backupPath: backupPath,
	}
	if probeTimeout > 0 {
		c.probe = func(server string) error { return ProbeResolver(server, probeTimeout) }
	}
	c.loadOriginal()
	return c
}

// Apply sets the desired servers on every active interface. The original
// settings are captured before the first change. Per-interface failures
// do not roll back the interfaces that succeeded; they are aggregated
// into a PartialFailureError for the caller to log and retry.
func (c *Configurator) Apply(servers []string) error {
	if len(servers) == 0 {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	interfaces, err := c.platform.ListInterfaces()
	if err != nil {
		return fmt.Errorf("failed to enumerate interfaces: %w", err)
	}

	if err := c.captureOriginalLocked(interfaces); err != nil {
		return err
	}

	// Probe is best-effort: a server that fails the probe is logged but
	// still applied, since transient unreachability is common.
	if c.probe != nil {
		for _, server := range servers {
			if err := c.probe(server); err != nil {
				logrus.WithError(err).WithField("server", server).
					Warn("Desired DNS server failed reachability probe")
			}
		}
	}

	failed := make(map[string]error)
	for _, iface := range interfaces {
		if err := c.platform.SetDNS(iface, servers); err != nil {
			failed[iface] = err
			logrus.WithError(err).WithField("interface", iface).Error("Failed to set DNS")
			continue
		}
		logrus.WithFields(logrus.Fields{
			"interface": iface,
			"servers":   servers,
		}).Debug("Applied DNS servers")
	}

	if len(failed) > 0 {
		return &PartialFailureError{Failed: failed}
	}
	return nil
}

// Restore reverts every interface in the original backup to its
// pre-install settings.
func (c *Configurator) Restore() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.original == nil {
		return fmt.Errorf("no original DNS configuration captured")
	}

	failed := make(map[string]error)
	for name, backup := range c.original.Interfaces {
		var err error
		if backup.IsDHCP || len(backup.Servers) == 0 {
			err = c.platform.ResetDNS(name)
		} else {
			err = c.platform.SetDNS(name, backup.Servers)
		}
		if err != nil {
			failed[name] = err
			logrus.WithError(err).WithField("interface", name).Error("Failed to restore DNS")
			continue
		}
		logrus.WithField("interface", name).Info("Restored original DNS")
	}

	if len(failed) > 0 {
		return &PartialFailureError{Failed: failed}
	}
	return nil
}

// Verify reports whether every active interface currently has exactly
// the desired servers. Used by the tamper watchdog.
func (c *Configurator) Verify(servers []string) (bool, error) {
	if len(servers) == 0 {
		return true, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	interfaces, err := c.platform.ListInterfaces()
	if err != nil {
		return false, err
	}

	want := sortedCopy(servers)
	for _, iface := range interfaces {
		current, err := c.platform.GetDNS(iface)
		if err != nil {
			return false, err
		}
		if !equalStringSets(sortedCopy(current), want) {
			return false, nil
		}
	}
	return true, nil
}

// HasOriginal reports whether a pre-install backup exists.
func (c *Configurator) HasOriginal() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.original != nil
}

// captureOriginalLocked snapshots current per-interface settings once.
// Interfaces that appear later are added to the backup on their first
// apply; settings already backed up are never overwritten.
func (c *Configurator) captureOriginalLocked(interfaces []string) error {
	changed := false
	if c.original == nil {
		c.original = &OriginalConfig{
			CapturedAt: time.Now(),
			CapturedBy: "hostguard",
			Interfaces: make(map[string]InterfaceBackup),
		}
		changed = true
	}

	for _, iface := range interfaces {
		if _, ok := c.original.Interfaces[iface]; ok {
			continue
		}
		servers, err := c.platform.GetDNS(iface)
		if err != nil {
			logrus.WithError(err).WithField("interface", iface).
				Warn("Failed to read current DNS, skipping backup for interface")
			continue
		}
		c.original.Interfaces[iface] = InterfaceBackup{
			Name:    iface,
			Servers: servers,
			IsDHCP:  len(servers) == 0,
		}
		changed = true
	}

	if changed {
		return c.saveOriginalLocked()
	}
	return nil
}

func (c *Configurator) saveOriginalLocked() error {
	if err := os.MkdirAll(filepath.Dir(c.backupPath), 0o755); err != nil {
		return fmt.Errorf("failed to create DNS backup directory: %w", err)
	}
	data, err := json.MarshalIndent(c.original, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode DNS backup: %w", err)
	}
	if err := os.WriteFile(c.backupPath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write DNS backup: %w", err)
	}
	logrus.WithField("interfaces", len(c.original.Interfaces)).Info("Captured original DNS configuration")
	return nil
}

func (c *Configurator) loadOriginal() {
	data, err := os.ReadFile(c.backupPath)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			logrus.WithError(err).Warn("Failed to load DNS backup")
		}
		return
	}

	var original OriginalConfig
	if err := json.Unmarshal(data, &original); err != nil {
		logrus.WithError(err).Warn("DNS backup file is corrupt, ignoring")
		return
	}
	c.original = &original
}

func sortedCopy(s []string) []string {
	out := append([]string(nil), s...)
	sort.Strings(out)
	return out
}

func equalStringSets(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
