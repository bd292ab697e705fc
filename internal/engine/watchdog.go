package engine

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// DriftState is the tamper watchdog's state machine state.
type DriftState string

const (
	// DriftOK means on-disk state matches the applied baseline.
	DriftOK DriftState = "ok"
	// DriftDetected means unauthorized drift was found and not yet
	// reverted.
	DriftDetected DriftState = "drifted"
	// DriftReverting means a revert is in progress.
	DriftReverting DriftState = "reverting"
)

// Watchdog periodically compares on-disk hosts and DNS state against the
// last applied enforcement baseline and reverts unauthorized drift.
// Edits outside the managed hosts region are invisible to it by
// construction and never reverted.
type Watchdog struct {
	hosts      HostsApplier
	dns        DNSApplier
	interval   time.Duration
	maxRetries int

	mu       sync.RWMutex
	baseline *Snapshot
	state    DriftState
	retries  int
	alert    bool
}

func newWatchdog(hosts HostsApplier, dns DNSApplier, interval time.Duration, maxRetries int) *Watchdog {
	return &Watchdog{
		hosts:      hosts,
		dns:        dns,
		interval:   interval,
		maxRetries: maxRetries,
		state:      DriftOK,
	}
}

// SetBaseline installs a freshly applied snapshot as the expected state.
func (w *Watchdog) SetBaseline(snap *Snapshot) {
	w.mu.Lock()
	w.baseline = snap
	w.retries = 0
	w.alert = false
	w.mu.Unlock()
}

// State returns the current drift state and whether a persistent-tamper
// alert is active.
func (w *Watchdog) State() (DriftState, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state, w.alert
}

// Run ticks until ctx is cancelled. Detection latency is bounded by the
// configured interval.
func (w *Watchdog) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	logrus.WithField("interval", w.interval).Info("Tamper watchdog started")
	for {
		select {
		case <-ctx.Done():
			logrus.Info("Tamper watchdog stopped")
			return
		case <-ticker.C:
			w.tick()
		}
	}
}

func (w *Watchdog) tick() {
	w.mu.RLock()
	baseline := w.baseline
	w.mu.RUnlock()
	if baseline == nil {
		return // nothing applied yet
	}

	hostsOK, err := w.hosts.Verify(baseline.Domains)
	if err != nil {
		logrus.WithError(err).Warn("Watchdog could not read hosts state")
		return
	}
	dnsOK, err := w.dns.Verify(baseline.DNSServers)
	if err != nil {
		logrus.WithError(err).Warn("Watchdog could not read DNS state")
		return
	}

	if hostsOK && dnsOK {
		w.mu.Lock()
		if w.state != DriftOK {
			logrus.Info("Enforcement state back in sync")
		}
		w.state = DriftOK
		w.retries = 0
		w.alert = false
		w.mu.Unlock()
		return
	}

	w.mu.Lock()
	w.state = DriftDetected
	w.mu.Unlock()
	logrus.WithFields(logrus.Fields{
		"hosts_ok": hostsOK,
		"dns_ok":   dnsOK,
	}).Warn("Tampering detected, reverting")

	w.mu.Lock()
	w.state = DriftReverting
	w.mu.Unlock()

	revertErr := w.revert(baseline, hostsOK, dnsOK)

	w.mu.Lock()
	defer w.mu.Unlock()
	if revertErr == nil {
		w.state = DriftOK
		w.retries = 0
		w.alert = false
		logrus.Info("Reverted unauthorized changes")
		return
	}

	w.state = DriftDetected
	w.retries++
	logrus.WithError(revertErr).WithField("retries", w.retries).Warn("Revert failed")
	if w.retries >= w.maxRetries && !w.alert {
		w.alert = true
		logrus.WithField("retries", w.retries).Error("Persistent tampering: reverts keep failing")
	}
}

func (w *Watchdog) revert(baseline *Snapshot, hostsOK, dnsOK bool) error {
	if !hostsOK {
		if err := w.hosts.Apply(baseline.Domains); err != nil {
			return err
		}
	}
	if !dnsOK {
		if err := w.dns.Apply(baseline.DNSServers); err != nil {
			return err
		}
	}
	return nil
}
