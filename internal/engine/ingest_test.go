package engine

import (
	"context"
	"fmt"
	"testing"
	"time"

	"hostguard/internal/config"
)

func TestIngestOnce(t *testing.T) {
	cfg := testConfig(t)
	cfg.Blacklist.Sources = []config.SourceConfig{
		{URL: "https://lists.example.com/ads.txt", Category: "ads"},
		{URL: "https://lists.example.com/adult.txt", Category: "adult"},
	}
	ingester := &fakeIngester{
		lists: map[string][]string{
			"https://lists.example.com/ads.txt":   {"ads.example.net", "tracker.example.net"},
			"https://lists.example.com/adult.txt": {"adult.example.org"},
		},
		errs: map[string]error{},
	}
	eng, _, _ := newTestEngine(t, cfg, ingester)

	if err := eng.IngestOnce(context.Background()); err != nil {
		t.Fatalf("IngestOnce failed: %v", err)
	}

	now := time.Now()
	if !eng.Matcher().IsBlocked("ads.example.net", now) {
		t.Error("Fetched category domain should be blocked")
	}
	if !eng.Matcher().IsBlocked("sub.adult.example.org", now) {
		t.Error("Subdomain of fetched category domain should be blocked")
	}

	eng.mu.RLock()
	sources := len(eng.pol.Sources)
	eng.mu.RUnlock()
	if sources != 2 {
		t.Errorf("Expected 2 source records, got %d", sources)
	}
}

func TestIngestFailureKeepsPreviousContents(t *testing.T) {
	cfg := testConfig(t)
	url := "https://lists.example.com/ads.txt"
	cfg.Blacklist.Sources = []config.SourceConfig{{URL: url, Category: "ads"}}
	ingester := &fakeIngester{
		lists: map[string][]string{url: {"ads.example.net"}},
		errs:  map[string]error{},
	}
	eng, _, _ := newTestEngine(t, cfg, ingester)

	if err := eng.IngestOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !eng.IsBlocked("ads.example.net") {
		t.Fatal("First fetch should populate the category")
	}

	// Subsequent fetches fail; the category keeps its last good contents.
	ingester.errs[url] = fmt.Errorf("connection refused")
	if err := eng.IngestOnce(context.Background()); err == nil {
		t.Error("IngestOnce should report the fetch failure")
	}
	if !eng.IsBlocked("ads.example.net") {
		t.Error("Stale category contents must survive a failed fetch")
	}
}

func TestIngestDisabledCategoryStaysUpdated(t *testing.T) {
	cfg := testConfig(t)
	url := "https://lists.example.com/ads.txt"
	cfg.Blacklist.Sources = []config.SourceConfig{{URL: url, Category: "ads"}}
	ingester := &fakeIngester{
		lists: map[string][]string{url: {"ads.example.net"}},
		errs:  map[string]error{},
	}
	eng, _, _ := newTestEngine(t, cfg, ingester)

	if err := eng.IngestOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := eng.SetCategoryEnabled("ads", false); err != nil {
		t.Fatal(err)
	}
	if eng.IsBlocked("ads.example.net") {
		t.Fatal("Disabled category should not block")
	}

	// A refresh while disabled updates contents without enabling.
	ingester.lists[url] = []string{"ads.example.net", "new.example.net"}
	if err := eng.IngestOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	if eng.IsBlocked("new.example.net") {
		t.Error("Refreshing a disabled category must not re-enable it")
	}

	if err := eng.SetCategoryEnabled("ads", true); err != nil {
		t.Fatal(err)
	}
	if !eng.IsBlocked("new.example.net") {
		t.Error("Re-enabled category should expose the refreshed contents")
	}
}
