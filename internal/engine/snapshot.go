package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"hostguard/internal/schedule"
)

// Snapshot is the computed desired enforcement state at one instant: the
// effective blocked-domain set and the DNS servers that should be in
// force. It is a pure function of (policy, now) and is recomputed, never
// persisted.
type Snapshot struct {
	Enabled        bool
	Domains        []string
	DNSServers     []string
	ScheduleActive bool
	Hash           string
}

// computeSnapshot derives the desired state. Caller holds e.mu (read).
func (e *Engine) computeSnapshotLocked(now time.Time) *Snapshot {
	snap := &Snapshot{}

	if !e.pol.ProtectionEnabled {
		snap.Hash = hashSnapshot(false, nil, nil)
		return snap
	}

	snap.Enabled = true
	snap.Domains = e.matcher.BlockedDomains(now)
	snap.ScheduleActive = schedule.AnyActive(e.pol.Schedules, now)

	snap.DNSServers = e.cfg.DNS.Servers
	if snap.ScheduleActive && len(e.cfg.DNS.ScheduleBlockServers) > 0 {
		snap.DNSServers = e.cfg.DNS.ScheduleBlockServers
	}

	snap.Hash = hashSnapshot(true, snap.Domains, snap.DNSServers)
	return snap
}

// hashSnapshot fingerprints a desired state so unchanged states are
// detected without field-by-field comparison.
func hashSnapshot(enabled bool, domains, servers []string) string {
	h := sha256.New()
	if enabled {
		h.Write([]byte("on\x00"))
	} else {
		h.Write([]byte("off\x00"))
	}
	h.Write([]byte(strings.Join(domains, "\n")))
	h.Write([]byte{0})
	h.Write([]byte(strings.Join(servers, "\n")))
	return hex.EncodeToString(h.Sum(nil))
}
