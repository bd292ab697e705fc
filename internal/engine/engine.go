// Package engine contains the policy enforcement engine: the
// reconciliation loop that turns the policy model into hosts-file and
// DNS mutations, the tamper watchdog that reverts unauthorized drift,
// and the blacklist ingestion loop.
package engine

import (
	"context"
	"errors"
	"io/fs"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"hostguard/internal/config"
	"hostguard/internal/policy"
	"hostguard/internal/schedule"
)

// HostsApplier is the resolver-mutator boundary. Implemented by
// hosts.Manager.
type HostsApplier interface {
	Apply(domains []string) error
	Remove() error
	Verify(domains []string) (bool, error)
}

// DNSApplier is the DNS-configurator boundary. Implemented by
// dnsconfig.Configurator.
type DNSApplier interface {
	Apply(servers []string) error
	Restore() error
	Verify(servers []string) (bool, error)
	// HasOriginal reports whether a pre-install settings backup exists,
	// meaning interfaces may still carry our servers.
	HasOriginal() bool
}

// Engine owns the live policy and drives enforcement. All OS-facing
// writes flow through the appliers; the engine itself never touches the
// filesystem beyond its own data directory.
type Engine struct {
	cfg      *config.Config
	store    policy.Store
	hosts    HostsApplier
	dns      DNSApplier
	matcher  *policy.Matcher
	watchdog *Watchdog
	usage    *usageTracker
	ingester Ingester

	events chan struct{}

	mu            sync.RWMutex
	pol           *policy.Policy
	lastHash      string
	lastReconcile time.Time
	lastError     string
	dnsApplied    bool
}

// Ingester fetches one blacklist source. Implemented by
// blacklist.Fetcher; faked in tests.
type Ingester interface {
	Fetch(ctx context.Context, src *config.SourceConfig) ([]string, error)
}

// New builds an engine around the given collaborators and loads the
// persisted policy. A missing store yields an empty policy; a corrupt
// store is a fatal startup error.
func New(cfg *config.Config, store policy.Store, hostsMgr HostsApplier, dns DNSApplier, ingester Ingester) (*Engine, error) {
	pol, err := store.Load()
	if err != nil {
		return nil, err
	}
	now := time.Now()
	pol.PruneExpiredExceptions(now)

	resetMinute, err := config.ParseClock(cfg.Usage.ResetTime)
	if err != nil {
		return nil, err
	}

	matcher := policy.NewMatcher()
	matcher.Rebuild(pol, now)

	e := &Engine{
		cfg:      cfg,
		store:    store,
		hosts:    hostsMgr,
		dns:      dns,
		matcher:  matcher,
		ingester: ingester,
		usage:    newUsageTracker(filepath.Join(cfg.Agent.DataDir, "usage.json"), resetMinute),
		events:   make(chan struct{}, 1),
		pol:      pol,
	}
	// A surviving settings backup means an earlier run changed DNS and
	// the process restarted with it still in force; without this a
	// later protection-off would skip the restore.
	e.dnsApplied = dns.HasOriginal()
	e.watchdog = newWatchdog(hostsMgr, dns, cfg.Watchdog.Interval, cfg.Watchdog.MaxRevertRetries)
	return e, nil
}

// Matcher exposes the domain matcher for read-only queries.
func (e *Engine) Matcher() *policy.Matcher { return e.matcher }

// Run starts the reconciliation loop, the tamper watchdog and the
// ingestion loop, and blocks until ctx is cancelled. An in-flight apply
// always runs to completion before the loop exits.
func (e *Engine) Run(ctx context.Context) error {
	logrus.Info("Policy enforcement engine starting")

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		e.watchdog.Run(ctx)
	}()

	if e.ingester != nil && len(e.cfg.Blacklist.Sources) > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.runIngestion(ctx)
		}()
	}

	e.reconcile(time.Now())

	for {
		timer := time.NewTimer(e.nextWake(time.Now()))

		select {
		case <-ctx.Done():
			timer.Stop()
			wg.Wait()
			logrus.Info("Policy enforcement engine stopped")
			return nil

		case <-e.events:
			timer.Stop()
			e.debounce(ctx)
			e.reconcile(time.Now())

		case <-timer.C:
			e.reconcile(time.Now())
		}
	}
}

// debounce absorbs a burst of policy-change events so rapid UI edits
// produce one apply instead of many.
func (e *Engine) debounce(ctx context.Context) {
	window := e.cfg.Agent.DebounceWindow
	if window <= 0 {
		return
	}
	quiet := time.NewTimer(window)
	defer quiet.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.events:
			if !quiet.Stop() {
				<-quiet.C
			}
			quiet.Reset(window)
		case <-quiet.C:
			return
		}
	}
}

// nextWake returns how long the loop may sleep: until the next schedule
// boundary or exception expiry, capped by the poll interval.
func (e *Engine) nextWake(now time.Time) time.Duration {
	e.mu.RLock()
	defer e.mu.RUnlock()

	wake := now.Add(e.cfg.Agent.MaxPollInterval)

	if next, ok := schedule.NextTransition(e.pol.Schedules, now); ok && next.Before(wake) {
		wake = next
	}
	for _, expiry := range e.pol.Exceptions {
		if expiry.After(now) && expiry.Before(wake) {
			wake = expiry
		}
	}

	d := wake.Sub(now)
	if d < time.Second {
		d = time.Second
	}
	return d
}

// reconcile computes the desired state and applies it when it differs
// from the last applied state. All apply errors are recorded and retried
// on the next tick; nothing here terminates the loop.
func (e *Engine) reconcile(now time.Time) {
	e.mu.Lock()
	e.pol.PruneExpiredExceptions(now)
	snap := e.computeSnapshotLocked(now)
	changed := snap.Hash != e.lastHash
	e.lastReconcile = now
	e.mu.Unlock()

	e.usage.tick(now, snap.ScheduleActive)

	if !changed {
		return
	}

	if err := e.apply(snap); err != nil {
		e.recordError(err)
		return
	}

	e.mu.Lock()
	e.lastHash = snap.Hash
	e.lastError = ""
	e.mu.Unlock()

	e.watchdog.SetBaseline(snap)

	logrus.WithFields(logrus.Fields{
		"domains":         len(snap.Domains),
		"dns_servers":     snap.DNSServers,
		"schedule_active": snap.ScheduleActive,
	}).Info("Applied enforcement state")
}

func (e *Engine) apply(snap *Snapshot) error {
	if !snap.Enabled {
		// Protection off: clear our region and hand DNS back.
		if err := e.hosts.Remove(); err != nil {
			return err
		}
		return e.restoreDNS()
	}

	if err := e.hosts.Apply(snap.Domains); err != nil {
		return err
	}

	if len(snap.DNSServers) > 0 {
		if err := e.dns.Apply(snap.DNSServers); err != nil {
			return err
		}
		e.mu.Lock()
		e.dnsApplied = true
		e.mu.Unlock()
		return nil
	}

	// No servers desired anymore (a schedule window ended and no
	// always-on servers are configured): hand DNS back to its
	// pre-install settings.
	return e.restoreDNS()
}

// restoreDNS reverts interfaces to their original settings if we ever
// changed them. The applied flag is cleared only after a successful
// restore so a failure is retried on the next tick.
func (e *Engine) restoreDNS() error {
	e.mu.Lock()
	dnsWasApplied := e.dnsApplied
	e.mu.Unlock()
	if !dnsWasApplied {
		return nil
	}
	if err := e.dns.Restore(); err != nil {
		return err
	}
	e.mu.Lock()
	e.dnsApplied = false
	e.mu.Unlock()
	return nil
}

func (e *Engine) recordError(err error) {
	if errors.Is(err, fs.ErrPermission) {
		logrus.WithError(err).Error("Permission denied mutating system state; has the process lost privilege?")
	} else {
		logrus.WithError(err).Warn("Enforcement apply failed, will retry next tick")
	}
	e.mu.Lock()
	e.lastError = err.Error()
	e.mu.Unlock()
}

// notify signals the loop that policy changed. Non-blocking: a pending
// signal already covers the change.
func (e *Engine) notify() {
	select {
	case e.events <- struct{}{}:
	default:
	}
}

// saveLocked persists the policy and rebuilds the matcher. Caller holds
// e.mu.
func (e *Engine) saveLocked(now time.Time) error {
	if err := e.store.Save(e.pol); err != nil {
		return err
	}
	e.matcher.Rebuild(e.pol, now)
	return nil
}
