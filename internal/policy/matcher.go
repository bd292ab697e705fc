package policy

import (
	"sort"
	"strings"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"hostguard/internal/schedule"
)

// trieNode is a node in the reversed-label domain trie.
type trieNode struct {
	children map[string]*trieNode
	terminal bool
}

// domainTrie stores domains label-reversed so that membership of a domain
// or any of its parents is a single walk, independent of set size.
type domainTrie struct {
	root *trieNode
	size int
}

func newDomainTrie() *domainTrie {
	return &domainTrie{root: &trieNode{children: make(map[string]*trieNode)}}
}

func reverseLabels(domain string) []string {
	parts := strings.Split(domain, ".")
	for i := len(parts)/2 - 1; i >= 0; i-- {
		opp := len(parts) - 1 - i
		parts[i], parts[opp] = parts[opp], parts[i]
	}
	return parts
}

func (t *domainTrie) insert(domain string) {
	current := t.root
	for _, part := range reverseLabels(domain) {
		child, ok := current.children[part]
		if !ok {
			child = &trieNode{children: make(map[string]*trieNode)}
			current.children[part] = child
		}
		current = child
	}
	if !current.terminal {
		current.terminal = true
		t.size++
	}
}

// contains reports whether domain or any parent of domain is in the set.
func (t *domainTrie) contains(domain string) bool {
	current := t.root
	for _, part := range reverseLabels(domain) {
		child, ok := current.children[part]
		if !ok {
			return false
		}
		current = child
		if current.terminal {
			return true
		}
	}
	return false
}

// Matcher answers "is this domain blocked right now". It combines the
// blocked-domain trie, the temporary-exception cache and the blocking
// schedules. Safe for concurrent use.
type Matcher struct {
	mu         sync.RWMutex
	trie       *domainTrie
	entries    []string
	schedules  []schedule.Schedule
	exceptions *gocache.Cache
}

// NewMatcher creates an empty matcher.
func NewMatcher() *Matcher {
	return &Matcher{
		trie: newDomainTrie(),
		// Expired exceptions are evaluated lazily on read; the janitor
		// interval only bounds memory, not correctness.
		exceptions: gocache.New(gocache.NoExpiration, 10*time.Minute),
	}
}

// Rebuild replaces the matcher state from a policy snapshot: manual
// domains plus the domains of every enabled category, and the live
// exception set.
func (m *Matcher) Rebuild(p *Policy, now time.Time) {
	trie := newDomainTrie()
	seen := make(map[string]bool)
	var entries []string

	add := func(domain string) {
		if domain == "" || seen[domain] {
			return
		}
		seen[domain] = true
		trie.insert(domain)
		entries = append(entries, domain)
	}

	for _, d := range p.Domains {
		add(d)
	}
	for _, cat := range p.Categories {
		if !cat.Enabled {
			continue
		}
		for _, d := range cat.Domains {
			add(d)
		}
	}
	sort.Strings(entries)

	exceptions := gocache.New(gocache.NoExpiration, 10*time.Minute)
	for domain, expiry := range p.Exceptions {
		if ttl := expiry.Sub(now); ttl > 0 {
			exceptions.Set(domain, expiry, ttl)
		}
	}

	m.mu.Lock()
	m.trie = trie
	m.entries = entries
	m.schedules = append([]schedule.Schedule(nil), p.Schedules...)
	m.exceptions = exceptions
	m.mu.Unlock()
}

// IsBlocked reports whether the domain is blocked at the given instant.
// An unexpired temporary exception always wins; otherwise the domain is
// blocked when it or a parent is in the blocked set, or when any blocking
// schedule window is active.
func (m *Matcher) IsBlocked(domain string, now time.Time) bool {
	normalized, err := Normalize(domain)
	if err != nil {
		// Malformed input never reaches enforcement.
		return false
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.exceptedLocked(normalized, now) {
		return false
	}
	if m.trie.contains(normalized) {
		return true
	}
	return schedule.AnyActive(m.schedules, now)
}

// exceptedLocked checks the exception cache against an explicit clock so
// callers can evaluate past or future instants deterministically.
func (m *Matcher) exceptedLocked(domain string, now time.Time) bool {
	if v, ok := m.exceptions.Get(domain); ok {
		if expiry, ok := v.(time.Time); ok {
			return now.Before(expiry)
		}
	}
	return false
}

// GrantException lets the domain through until expiry, overriding any
// block for exactly that domain. A later expiry replaces an earlier
// one; an earlier expiry never shortens an existing exception, matching
// Policy.AddException.
func (m *Matcher) GrantException(domain string, expiry time.Time) error {
	normalized, err := Normalize(domain)
	if err != nil {
		return err
	}
	ttl := time.Until(expiry)
	if ttl <= 0 {
		return &ValidationError{Value: domain, Reason: "exception already expired"}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.exceptions.Get(normalized); ok {
		if current, ok := v.(time.Time); ok && current.After(expiry) {
			return nil
		}
	}
	m.exceptions.Set(normalized, expiry, ttl)
	return nil
}

// BlockedDomains returns the effective blocked set at now: every entry,
// minus domains with an unexpired exception. Sorted, suitable for the
// hosts-file managed region.
func (m *Matcher) BlockedDomains(now time.Time) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]string, 0, len(m.entries))
	for _, d := range m.entries {
		if m.exceptedLocked(d, now) {
			continue
		}
		out = append(out, d)
	}
	return out
}

// Size returns the number of entries in the blocked set, before
// exceptions.
func (m *Matcher) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.trie.size
}
