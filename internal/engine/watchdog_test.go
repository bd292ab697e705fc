package engine

import (
	"fmt"
	"testing"
	"time"
)

func newTestWatchdog(maxRetries int) (*Watchdog, *fakeHosts, *fakeDNS) {
	hosts := &fakeHosts{}
	dns := &fakeDNS{}
	return newWatchdog(hosts, dns, time.Second, maxRetries), hosts, dns
}

func baselineSnapshot(domains, servers []string) *Snapshot {
	return &Snapshot{
		Enabled:    true,
		Domains:    domains,
		DNSServers: servers,
		Hash:       hashSnapshot(true, domains, servers),
	}
}

func TestWatchdogNoBaseline(t *testing.T) {
	w, hosts, _ := newTestWatchdog(3)
	w.tick()
	if hosts.applyCalls != 0 {
		t.Error("Without a baseline the watchdog must not touch anything")
	}
	if state, alert := w.State(); state != DriftOK || alert {
		t.Errorf("State = %v/%v", state, alert)
	}
}

func TestWatchdogRevertsHostsTampering(t *testing.T) {
	w, hosts, dns := newTestWatchdog(3)
	snap := baselineSnapshot([]string{"example.com"}, []string{"1.1.1.3"})

	hosts.Apply(snap.Domains)
	dns.Apply(snap.DNSServers)
	w.SetBaseline(snap)

	t.Run("InSync", func(t *testing.T) {
		w.tick()
		if state, _ := w.State(); state != DriftOK {
			t.Errorf("State = %v, want ok", state)
		}
		if hosts.applyCalls != 1 {
			t.Error("In-sync tick must not re-apply")
		}
	})

	t.Run("Tampered", func(t *testing.T) {
		hosts.tampered = true
		w.tick()
		if state, _ := w.State(); state != DriftOK {
			t.Errorf("State after successful revert = %v, want ok", state)
		}
		if hosts.applyCalls != 2 {
			t.Errorf("Expected a revert apply, got %d calls", hosts.applyCalls)
		}
		// The untouched side is left alone.
		if dns.applyCalls != 1 {
			t.Errorf("DNS was in sync and must not be re-applied, got %d calls", dns.applyCalls)
		}
	})
}

func TestWatchdogRevertsDNSTampering(t *testing.T) {
	w, hosts, dns := newTestWatchdog(3)
	snap := baselineSnapshot(nil, []string{"1.1.1.3"})
	dns.Apply(snap.DNSServers)
	w.SetBaseline(snap)

	dns.tampered = true
	w.tick()

	if dns.applyCalls != 2 {
		t.Errorf("Expected a DNS revert, got %d calls", dns.applyCalls)
	}
	if hosts.applyCalls != 0 {
		t.Error("Hosts were in sync and must not be touched")
	}
}

func TestWatchdogPersistentTamperAlert(t *testing.T) {
	w, hosts, _ := newTestWatchdog(3)
	snap := baselineSnapshot([]string{"example.com"}, nil)
	hosts.Apply(snap.Domains)
	w.SetBaseline(snap)

	hosts.tampered = true
	hosts.applyErr = fmt.Errorf("read-only filesystem")

	for i := 1; i <= 3; i++ {
		w.tick()
		state, alert := w.State()
		if state != DriftDetected {
			t.Fatalf("Tick %d: state = %v, want drifted", i, state)
		}
		if wantAlert := i >= 3; alert != wantAlert {
			t.Errorf("Tick %d: alert = %v, want %v", i, alert, wantAlert)
		}
	}

	// Once the revert succeeds the alert clears.
	hosts.applyErr = nil
	w.tick()
	if state, alert := w.State(); state != DriftOK || alert {
		t.Errorf("State after recovery = %v/%v, want ok/false", state, alert)
	}
}

func TestWatchdogBaselineResetClearsAlert(t *testing.T) {
	w, hosts, _ := newTestWatchdog(1)
	snap := baselineSnapshot([]string{"example.com"}, nil)
	hosts.Apply(snap.Domains)
	w.SetBaseline(snap)

	hosts.tampered = true
	hosts.applyErr = fmt.Errorf("busy")
	w.tick()
	if _, alert := w.State(); !alert {
		t.Fatal("Expected alert after exhausted retries")
	}

	// A fresh apply from the reconciler installs a new baseline.
	w.SetBaseline(snap)
	if _, alert := w.State(); alert {
		t.Error("New baseline should clear the alert")
	}
}
