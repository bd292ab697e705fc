// Package policy holds the in-memory policy model for hostguard: manually
// blocked domains, blacklist-sourced categories, blocking schedules and
// temporary exceptions, together with the domain matcher that evaluates
// them.
package policy

import (
	"time"

	"hostguard/internal/schedule"
)

// Category is a named group of domains sourced from one or more
// blacklists. Categories are disabled rather than deleted.
type Category struct {
	Name        string    `json:"name"`
	Enabled     bool      `json:"enabled"`
	Domains     []string  `json:"domains"`
	UpdatedAt   time.Time `json:"updated_at"`
	DomainCount int       `json:"domain_count"`
}

// Source describes a blacklist source and its fetch bookkeeping. Stale
// sources are retried by the ingestion pipeline, never auto-deleted.
type Source struct {
	ID          string    `json:"id"`
	URL         string    `json:"url"`
	Category    string    `json:"category"`
	Format      string    `json:"format"`
	LastFetch   time.Time `json:"last_fetch,omitempty"`
	DomainCount int       `json:"domain_count"`
}

// Policy is the full declarative access policy. The store owns
// persistence; the engine holds the live copy.
type Policy struct {
	ProtectionEnabled bool                 `json:"protection_enabled"`
	Domains           []string             `json:"domains"`
	Categories        map[string]*Category `json:"categories"`
	Sources           []Source             `json:"sources"`
	Schedules         []schedule.Schedule  `json:"schedules"`
	// Exceptions maps a domain to its absolute expiry. Expired entries are
	// treated as absent on read and dropped on the next save.
	Exceptions map[string]time.Time `json:"exceptions"`
}

// NewPolicy returns an empty policy with protection enabled.
func NewPolicy() *Policy {
	return &Policy{
		ProtectionEnabled: true,
		Categories:        make(map[string]*Category),
		Exceptions:        make(map[string]time.Time),
	}
}

// AddDomain adds a manually blocked domain. Idempotent.
func (p *Policy) AddDomain(domain string) (string, error) {
	normalized, err := Normalize(domain)
	if err != nil {
		return "", err
	}
	for _, d := range p.Domains {
		if d == normalized {
			return normalized, nil
		}
	}
	p.Domains = append(p.Domains, normalized)
	return normalized, nil
}

// RemoveDomain removes a manually blocked domain. Removing a domain that
// is not present is not an error.
func (p *Policy) RemoveDomain(domain string) (string, error) {
	normalized, err := Normalize(domain)
	if err != nil {
		return "", err
	}
	for i, d := range p.Domains {
		if d == normalized {
			p.Domains = append(p.Domains[:i], p.Domains[i+1:]...)
			break
		}
	}
	return normalized, nil
}

// ReplaceCategory swaps a category's contents wholesale. Used by the
// ingestion pipeline after a successful fetch; a failed fetch never calls
// this, so stale contents survive network trouble.
func (p *Policy) ReplaceCategory(name string, domains []string) {
	cat, ok := p.Categories[name]
	if !ok {
		cat = &Category{Name: name, Enabled: true}
		p.Categories[name] = cat
	}
	cat.Domains = domains
	cat.DomainCount = len(domains)
	cat.UpdatedAt = time.Now()
}

// SetCategoryEnabled toggles a category. Unknown categories are created
// disabled-or-enabled as requested so a toggle can precede the first
// fetch.
func (p *Policy) SetCategoryEnabled(name string, enabled bool) {
	cat, ok := p.Categories[name]
	if !ok {
		cat = &Category{Name: name}
		p.Categories[name] = cat
	}
	cat.Enabled = enabled
}

// AddException records a temporary exception for a domain until expiry.
// A later expiry replaces an earlier one.
func (p *Policy) AddException(domain string, expiry time.Time) (string, error) {
	normalized, err := Normalize(domain)
	if err != nil {
		return "", err
	}
	if current, ok := p.Exceptions[normalized]; !ok || expiry.After(current) {
		p.Exceptions[normalized] = expiry
	}
	return normalized, nil
}

// PruneExpiredExceptions drops exceptions whose expiry has passed.
func (p *Policy) PruneExpiredExceptions(now time.Time) {
	for domain, expiry := range p.Exceptions {
		if !now.Before(expiry) {
			delete(p.Exceptions, domain)
		}
	}
}
