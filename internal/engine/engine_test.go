package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"hostguard/internal/config"
	"hostguard/internal/policy"
	"hostguard/internal/schedule"
)

// fakeHosts is an in-memory HostsApplier.
type fakeHosts struct {
	mu         sync.Mutex
	applied    []string
	hasRegion  bool
	applyCalls int
	applyErr   error
	tampered   bool
}

func (f *fakeHosts) Apply(domains []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.applyErr != nil {
		return f.applyErr
	}
	f.applyCalls++
	f.applied = append([]string(nil), domains...)
	f.hasRegion = true
	f.tampered = false
	return nil
}

func (f *fakeHosts) Remove() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.applied = nil
	f.hasRegion = false
	return nil
}

func (f *fakeHosts) Verify(domains []string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.tampered {
		return false, nil
	}
	if len(domains) != len(f.applied) {
		return len(domains) == 0 && !f.hasRegion, nil
	}
	for i := range domains {
		if domains[i] != f.applied[i] {
			return false, nil
		}
	}
	return true, nil
}

// fakeDNS is an in-memory DNSApplier.
type fakeDNS struct {
	mu           sync.Mutex
	servers      []string
	applyCalls   int
	restoreCalls int
	applyErr     error
	tampered     bool
	original     bool
}

func (f *fakeDNS) Apply(servers []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.applyErr != nil {
		return f.applyErr
	}
	f.applyCalls++
	f.servers = append([]string(nil), servers...)
	f.tampered = false
	f.original = true
	return nil
}

func (f *fakeDNS) Restore() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.restoreCalls++
	f.servers = nil
	return nil
}

// The backup file survives a restore, so HasOriginal stays true once
// any apply has happened, matching the real configurator.
func (f *fakeDNS) HasOriginal() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.original
}

func (f *fakeDNS) Verify(servers []string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.tampered {
		return false, nil
	}
	if len(servers) == 0 {
		return true, nil
	}
	if len(servers) != len(f.servers) {
		return false, nil
	}
	for i := range servers {
		if servers[i] != f.servers[i] {
			return false, nil
		}
	}
	return true, nil
}

// fakeIngester serves canned domain lists per source URL.
type fakeIngester struct {
	lists map[string][]string
	errs  map[string]error
}

func (f *fakeIngester) Fetch(ctx context.Context, src *config.SourceConfig) ([]string, error) {
	if err := f.errs[src.URL]; err != nil {
		return nil, err
	}
	return f.lists[src.URL], nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Agent.DataDir = t.TempDir()
	cfg.DNS.Servers = []string{"1.1.1.3"}
	return cfg
}

func newTestEngine(t *testing.T, cfg *config.Config, ingester Ingester) (*Engine, *fakeHosts, *fakeDNS) {
	t.Helper()
	store, err := policy.NewFileStore(filepath.Join(cfg.Agent.DataDir, "policy.json"))
	if err != nil {
		t.Fatal(err)
	}
	hosts := &fakeHosts{}
	dns := &fakeDNS{}
	eng, err := New(cfg, store, hosts, dns, ingester)
	if err != nil {
		t.Fatal(err)
	}
	return eng, hosts, dns
}

func TestReconcileAppliesDesiredState(t *testing.T) {
	cfg := testConfig(t)
	eng, hosts, dns := newTestEngine(t, cfg, nil)

	if err := eng.UpsertDomain("example.com"); err != nil {
		t.Fatal(err)
	}
	eng.reconcile(time.Now())

	if len(hosts.applied) != 1 || hosts.applied[0] != "example.com" {
		t.Errorf("Hosts applied = %v", hosts.applied)
	}
	if len(dns.servers) != 1 || dns.servers[0] != "1.1.1.3" {
		t.Errorf("DNS servers = %v", dns.servers)
	}
}

func TestReconcileIsIdempotent(t *testing.T) {
	cfg := testConfig(t)
	eng, hosts, dns := newTestEngine(t, cfg, nil)
	eng.UpsertDomain("example.com")

	now := time.Now()
	eng.reconcile(now)
	eng.reconcile(now.Add(time.Second))
	eng.reconcile(now.Add(2 * time.Second))

	if hosts.applyCalls != 1 {
		t.Errorf("Expected 1 hosts apply for unchanged state, got %d", hosts.applyCalls)
	}
	if dns.applyCalls != 1 {
		t.Errorf("Expected 1 DNS apply for unchanged state, got %d", dns.applyCalls)
	}
}

func TestProtectionOffClearsEnforcement(t *testing.T) {
	cfg := testConfig(t)
	eng, hosts, dns := newTestEngine(t, cfg, nil)
	eng.UpsertDomain("example.com")
	eng.reconcile(time.Now())

	if err := eng.SetProtectionEnabled(false); err != nil {
		t.Fatal(err)
	}
	eng.reconcile(time.Now().Add(time.Second))

	if hosts.hasRegion {
		t.Error("Protection off should remove the managed region")
	}
	if dns.restoreCalls != 1 {
		t.Errorf("Protection off should restore DNS once, got %d restores", dns.restoreCalls)
	}

	// Turning protection back on re-applies everything.
	if err := eng.SetProtectionEnabled(true); err != nil {
		t.Fatal(err)
	}
	eng.reconcile(time.Now().Add(2 * time.Second))
	if !hosts.hasRegion {
		t.Error("Protection on should re-apply the managed region")
	}
}

func TestProtectionOffWithoutPriorDNSApply(t *testing.T) {
	cfg := testConfig(t)
	cfg.DNS.Servers = nil
	eng, _, dns := newTestEngine(t, cfg, nil)
	eng.UpsertDomain("example.com")
	eng.reconcile(time.Now())

	eng.SetProtectionEnabled(false)
	eng.reconcile(time.Now().Add(time.Second))

	if dns.restoreCalls != 0 {
		t.Error("DNS that was never applied must not be restored")
	}
}

func TestApplyErrorRetriedNextTick(t *testing.T) {
	cfg := testConfig(t)
	eng, hosts, _ := newTestEngine(t, cfg, nil)
	eng.UpsertDomain("example.com")

	hosts.applyErr = fmt.Errorf("disk full")
	eng.reconcile(time.Now())

	status := eng.GetStatus()
	if status.LastError == "" {
		t.Error("Apply failure should surface in status")
	}

	// The failure heals on the next tick once the error clears.
	hosts.applyErr = nil
	eng.reconcile(time.Now().Add(time.Second))
	if len(hosts.applied) != 1 {
		t.Error("State should be applied after the error clears")
	}
	if eng.GetStatus().LastError != "" {
		t.Error("LastError should clear after a successful apply")
	}
}

func TestScheduleSwitchesDNS(t *testing.T) {
	cfg := testConfig(t)
	eng, _, dns := newTestEngine(t, cfg, nil)

	// Active every day, all day but one minute.
	if _, err := eng.UpsertSchedule(schedule.Schedule{Days: 0x7f, Start: 0, End: 1439}); err != nil {
		t.Fatal(err)
	}

	inside := time.Date(2026, 5, 4, 12, 0, 0, 0, time.Local)
	eng.reconcile(inside)

	if len(dns.servers) != 1 || dns.servers[0] != "127.0.0.1" {
		t.Errorf("Active window should apply the block servers, got %v", dns.servers)
	}

	outside := time.Date(2026, 5, 4, 23, 59, 30, 0, time.Local)
	eng.reconcile(outside)
	if len(dns.servers) != 1 || dns.servers[0] != "1.1.1.3" {
		t.Errorf("Outside the window the normal servers apply, got %v", dns.servers)
	}
}

func TestScheduleEndRestoresDNSWithDefaultConfig(t *testing.T) {
	// The shipped defaults configure only the block servers; interfaces
	// keep their own DNS outside windows.
	cfg := config.Default()
	cfg.Agent.DataDir = t.TempDir()
	eng, _, dns := newTestEngine(t, cfg, nil)

	if _, err := eng.UpsertSchedule(schedule.Schedule{Days: 0x7f, Start: 0, End: 1439}); err != nil {
		t.Fatal(err)
	}

	inside := time.Date(2026, 5, 4, 12, 0, 0, 0, time.Local)
	eng.reconcile(inside)
	if len(dns.servers) != 1 || dns.servers[0] != "127.0.0.1" {
		t.Fatalf("Active window should apply the block servers, got %v", dns.servers)
	}

	outside := time.Date(2026, 5, 4, 23, 59, 30, 0, time.Local)
	eng.reconcile(outside)
	if dns.restoreCalls != 1 {
		t.Errorf("Window end with no always-on servers should restore DNS, got %d restores", dns.restoreCalls)
	}
	if len(dns.servers) != 0 {
		t.Errorf("Interfaces should be back on their original DNS, got %v", dns.servers)
	}

	// The next window applies and restores again.
	nextDay := time.Date(2026, 5, 5, 12, 0, 0, 0, time.Local)
	eng.reconcile(nextDay)
	if len(dns.servers) != 1 || dns.servers[0] != "127.0.0.1" {
		t.Errorf("Next window should re-apply the block servers, got %v", dns.servers)
	}
}

func TestDNSRestoredAfterRestart(t *testing.T) {
	cfg := testConfig(t)
	store, err := policy.NewFileStore(filepath.Join(cfg.Agent.DataDir, "policy.json"))
	if err != nil {
		t.Fatal(err)
	}
	hosts := &fakeHosts{}
	dns := &fakeDNS{}

	eng1, err := New(cfg, store, hosts, dns, nil)
	if err != nil {
		t.Fatal(err)
	}
	eng1.UpsertDomain("example.com")
	eng1.reconcile(time.Now())
	if len(dns.servers) == 0 {
		t.Fatal("First run should enforce DNS")
	}

	// The process restarts while DNS is still enforced. The settings
	// backup on disk tells the new engine a restore may be owed.
	eng2, err := New(cfg, store, hosts, dns, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := eng2.SetProtectionEnabled(false); err != nil {
		t.Fatal(err)
	}
	eng2.reconcile(time.Now().Add(time.Second))

	if dns.restoreCalls != 1 {
		t.Errorf("Protection off after restart should restore DNS, got %d restores", dns.restoreCalls)
	}
}

func TestTemporaryException(t *testing.T) {
	cfg := testConfig(t)
	eng, hosts, _ := newTestEngine(t, cfg, nil)
	eng.UpsertDomain("example.com")
	eng.UpsertDomain("other.org")
	eng.reconcile(time.Now())

	if err := eng.GrantTemporaryException("example.com", 30); err != nil {
		t.Fatal(err)
	}
	eng.reconcile(time.Now().Add(time.Second))

	if len(hosts.applied) != 1 || hosts.applied[0] != "other.org" {
		t.Errorf("Excepted domain should leave the applied set, got %v", hosts.applied)
	}
	if eng.IsBlocked("example.com") {
		t.Error("Excepted domain should not be blocked")
	}
	if !eng.IsBlocked("other.org") {
		t.Error("Other domains stay blocked")
	}
}

func TestInvalidDomainRejected(t *testing.T) {
	cfg := testConfig(t)
	eng, _, _ := newTestEngine(t, cfg, nil)
	if err := eng.UpsertDomain("not a domain"); err == nil {
		t.Error("Invalid domain should be rejected")
	}
	if err := eng.UpsertDomain("http://example.com"); err == nil {
		t.Error("URL should be rejected")
	}
}

func TestScheduleLifecycle(t *testing.T) {
	cfg := testConfig(t)
	eng, _, _ := newTestEngine(t, cfg, nil)

	id, err := eng.UpsertSchedule(schedule.Schedule{Days: 0x3e, Start: 480, End: 960})
	if err != nil {
		t.Fatal(err)
	}
	if id == "" {
		t.Fatal("UpsertSchedule should assign an ID")
	}

	// Replacing by ID keeps a single schedule.
	if _, err := eng.UpsertSchedule(schedule.Schedule{ID: id, Days: 0x3e, Start: 540, End: 960}); err != nil {
		t.Fatal(err)
	}
	eng.mu.RLock()
	n := len(eng.pol.Schedules)
	start := eng.pol.Schedules[0].Start
	eng.mu.RUnlock()
	if n != 1 || start != 540 {
		t.Errorf("Expected 1 schedule with start 540, got %d/%d", n, start)
	}

	if _, err := eng.UpsertSchedule(schedule.Schedule{Days: 0, Start: 0, End: 60}); err == nil {
		t.Error("Invalid schedule should be rejected")
	}

	if err := eng.RemoveSchedule(id); err != nil {
		t.Fatal(err)
	}
	eng.mu.RLock()
	n = len(eng.pol.Schedules)
	eng.mu.RUnlock()
	if n != 0 {
		t.Errorf("Expected 0 schedules after removal, got %d", n)
	}
}

func TestPolicySurvivesRestart(t *testing.T) {
	cfg := testConfig(t)
	eng1, _, _ := newTestEngine(t, cfg, nil)
	eng1.UpsertDomain("example.com")
	eng1.SetCategoryEnabled("ads", true)

	eng2, _, _ := newTestEngine(t, cfg, nil)
	if !eng2.IsBlocked("example.com") {
		t.Error("Manual domains should survive a restart")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	cfg := testConfig(t)
	cfg.Agent.DebounceWindow = time.Millisecond
	eng, hosts, _ := newTestEngine(t, cfg, nil)
	eng.UpsertDomain("example.com")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		eng.Run(ctx)
		close(done)
	}()

	// The initial reconcile happens before the loop waits.
	deadline := time.After(2 * time.Second)
	for {
		hosts.mu.Lock()
		applied := hosts.applyCalls > 0
		hosts.mu.Unlock()
		if applied {
			break
		}
		select {
		case <-deadline:
			t.Fatal("Initial reconcile never applied")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop on context cancellation")
	}
}
