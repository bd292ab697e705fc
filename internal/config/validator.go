package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// Validate rejects configurations the engine cannot safely run with.
// Errors here are fatal at startup; everything else the engine tolerates
// and retries at runtime.
func Validate(cfg *Config) error {
	if cfg.Agent.DataDir == "" {
		return fmt.Errorf("agent.dataDir must not be empty")
	}
	if cfg.Agent.MaxPollInterval <= 0 {
		return fmt.Errorf("agent.maxPollInterval must be positive")
	}
	if cfg.Agent.DebounceWindow < 0 {
		return fmt.Errorf("agent.debounceWindow must not be negative")
	}

	if net.ParseIP(cfg.Hosts.SentinelIP) == nil {
		return fmt.Errorf("hosts.sentinelIP %q is not a valid IP address", cfg.Hosts.SentinelIP)
	}
	if err := validateMarkers(cfg.Hosts.BeginMarker, cfg.Hosts.EndMarker); err != nil {
		return err
	}
	if cfg.Hosts.MaxBackups < 1 {
		return fmt.Errorf("hosts.maxBackups must be at least 1")
	}

	for _, server := range cfg.DNS.Servers {
		if net.ParseIP(server) == nil {
			return fmt.Errorf("dns.servers entry %q is not a valid IP address", server)
		}
	}
	for _, server := range cfg.DNS.ScheduleBlockServers {
		if net.ParseIP(server) == nil {
			return fmt.Errorf("dns.scheduleBlockServers entry %q is not a valid IP address", server)
		}
	}

	if cfg.Watchdog.Interval <= 0 {
		return fmt.Errorf("watchdog.interval must be positive")
	}
	if cfg.Watchdog.MaxRevertRetries < 1 {
		return fmt.Errorf("watchdog.maxRevertRetries must be at least 1")
	}

	for i, src := range cfg.Blacklist.Sources {
		if err := validateSource(&src); err != nil {
			return fmt.Errorf("blacklist.sources[%d]: %w", i, err)
		}
	}

	if _, err := ParseClock(cfg.Usage.ResetTime); err != nil {
		return fmt.Errorf("usage.resetTime: %w", err)
	}

	return nil
}

func validateMarkers(begin, end string) error {
	if begin == "" || end == "" {
		return fmt.Errorf("hosts.beginMarker and hosts.endMarker must not be empty")
	}
	if begin == end {
		return fmt.Errorf("hosts markers must differ")
	}
	if !strings.HasPrefix(begin, "#") || !strings.HasPrefix(end, "#") {
		return fmt.Errorf("hosts markers must be comment lines (start with #)")
	}
	if strings.ContainsAny(begin, "\r\n") || strings.ContainsAny(end, "\r\n") {
		return fmt.Errorf("hosts markers must be single lines")
	}
	return nil
}

func validateSource(src *SourceConfig) error {
	if src.Category == "" {
		return fmt.Errorf("category must not be empty")
	}
	u, err := url.Parse(src.URL)
	if err != nil {
		return fmt.Errorf("invalid url: %v", err)
	}
	switch u.Scheme {
	case "http", "https":
		if u.Hostname() == "" {
			return fmt.Errorf("url must have a hostname")
		}
	case "s3":
		if u.Host == "" || strings.Trim(u.Path, "/") == "" {
			return fmt.Errorf("s3 url must name a bucket and key")
		}
	default:
		return fmt.Errorf("unsupported url scheme %q", u.Scheme)
	}
	switch src.Format {
	case "", "auto", "hosts", "plain":
	default:
		return fmt.Errorf("unknown format %q", src.Format)
	}
	return nil
}

// ParseClock parses an "HH:MM" local time-of-day into minutes since
// midnight.
func ParseClock(s string) (int, error) {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return 0, fmt.Errorf("%q is not in HH:MM form", s)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("%q is out of range", s)
	}
	return h*60 + m, nil
}
