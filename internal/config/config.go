// Package config defines configuration structures and loading logic for
// hostguard. It supports YAML configuration files with validation and
// sensible defaults. Configuration can be loaded from an explicit path or
// from the default search locations.
package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Agent     AgentConfig     `yaml:"agent"`
	Hosts     HostsConfig     `yaml:"hosts"`
	DNS       DNSConfig       `yaml:"dns"`
	Watchdog  WatchdogConfig  `yaml:"watchdog"`
	Blacklist BlacklistConfig `yaml:"blacklist"`
	S3        S3Config        `yaml:"s3"`
	Usage     UsageConfig     `yaml:"usage"`
}

type AgentConfig struct {
	// DataDir holds the policy store, DNS backups and hosts backups.
	DataDir  string `yaml:"dataDir"`
	LogLevel string `yaml:"logLevel"`
	// MaxPollInterval caps how long the reconciliation loop sleeps when no
	// schedule boundary is coming up.
	MaxPollInterval time.Duration `yaml:"maxPollInterval"`
	// DebounceWindow coalesces bursts of policy-change events.
	DebounceWindow time.Duration `yaml:"debounceWindow"`
}

type HostsConfig struct {
	// Path overrides the platform hosts file location (tests, containers).
	Path string `yaml:"path"`
	// SentinelIP is the address blocked domains resolve to. The default
	// 0.0.0.0 null-routes without needing a local listener; set 127.0.0.1
	// to serve a block page from a local web server instead.
	SentinelIP string `yaml:"sentinelIP"`
	// BeginMarker and EndMarker delimit the managed region. They must be
	// unique within the hosts file and must not collide with markers used
	// by other tools.
	BeginMarker string `yaml:"beginMarker"`
	EndMarker   string `yaml:"endMarker"`
	// MaxBackups bounds how many timestamped hosts backups are retained.
	MaxBackups int `yaml:"maxBackups"`
}

type DNSConfig struct {
	// Servers are applied to every active interface while protection is on.
	// Empty means interface DNS is left alone.
	Servers []string `yaml:"servers"`
	// ScheduleBlockServers replace Servers while a blocking schedule
	// window is active. Pointing resolution at a loopback address with no
	// listener blocks all name resolution for the duration of the window.
	ScheduleBlockServers []string `yaml:"scheduleBlockServers"`
	// ProbeTimeout bounds the best-effort reachability probe of a resolver.
	ProbeTimeout time.Duration `yaml:"probeTimeout"`
}

type WatchdogConfig struct {
	// Interval between tamper checks. Lower values react faster to
	// tampering at the cost of more disk reads.
	Interval time.Duration `yaml:"interval"`
	// MaxRevertRetries before a persistent-tamper alert is raised.
	MaxRevertRetries int `yaml:"maxRevertRetries"`
}

type BlacklistConfig struct {
	Sources []SourceConfig `yaml:"sources"`
	// UpdateInterval between ingestion runs.
	UpdateInterval time.Duration `yaml:"updateInterval"`
	FetchTimeout   time.Duration `yaml:"fetchTimeout"`
	MaxRetries     int           `yaml:"maxRetries"`
	// FetchesPerMinute rate-limits requests across all sources.
	FetchesPerMinute int `yaml:"fetchesPerMinute"`
}

// SourceConfig describes one blacklist source. URL may be http(s):// or
// s3://bucket/key. Format is "auto", "hosts" or "plain".
type SourceConfig struct {
	URL      string `yaml:"url"`
	Category string `yaml:"category"`
	Format   string `yaml:"format"`
	SHA256   string `yaml:"sha256,omitempty"`
}

type S3Config struct {
	Region      string `yaml:"region"`
	AccessKeyID string `yaml:"accessKeyId,omitempty"`
	SecretKey   string `yaml:"secretKey,omitempty"`
}

type UsageConfig struct {
	// ResetTime is the local time-of-day ("HH:MM") at which daily usage
	// counters roll over.
	ResetTime string `yaml:"resetTime"`
}

// Load loads configuration from a YAML file. An empty path tries the
// default locations and falls back to pure defaults when none exists.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		for _, p := range []string{"./config.yaml", "/etc/hostguard/config.yaml"} {
			if _, err := os.Stat(p); err == nil {
				path = p
				break
			}
		}
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// Default returns a configuration populated with defaults.
func Default() *Config {
	return &Config{
		Agent: AgentConfig{
			DataDir:         "/var/lib/hostguard",
			LogLevel:        "info",
			MaxPollInterval: 1 * time.Minute,
			DebounceWindow:  2 * time.Second,
		},
		Hosts: HostsConfig{
			SentinelIP:  "0.0.0.0",
			BeginMarker: "# >>> hostguard managed block - do not edit >>>",
			EndMarker:   "# <<< hostguard managed block <<<",
			MaxBackups:  5,
		},
		DNS: DNSConfig{
			ScheduleBlockServers: []string{"127.0.0.1"},
			ProbeTimeout:         2 * time.Second,
		},
		Watchdog: WatchdogConfig{
			Interval:         15 * time.Second,
			MaxRevertRetries: 5,
		},
		Blacklist: BlacklistConfig{
			UpdateInterval:   12 * time.Hour,
			FetchTimeout:     30 * time.Second,
			MaxRetries:       3,
			FetchesPerMinute: 30,
		},
		Usage: UsageConfig{
			ResetTime: "00:00",
		},
	}
}
