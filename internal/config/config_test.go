package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Default()

	if cfg.Hosts.SentinelIP != "0.0.0.0" {
		t.Errorf("Expected sentinel 0.0.0.0, got %q", cfg.Hosts.SentinelIP)
	}
	if cfg.Hosts.MaxBackups != 5 {
		t.Errorf("Expected 5 backups, got %d", cfg.Hosts.MaxBackups)
	}
	if len(cfg.DNS.ScheduleBlockServers) != 1 || cfg.DNS.ScheduleBlockServers[0] != "127.0.0.1" {
		t.Errorf("Unexpected schedule block servers: %v", cfg.DNS.ScheduleBlockServers)
	}
	if cfg.Agent.MaxPollInterval != time.Minute {
		t.Errorf("Expected 1m poll interval, got %v", cfg.Agent.MaxPollInterval)
	}
	if err := Validate(cfg); err != nil {
		t.Errorf("Default config should validate: %v", err)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
agent:
  dataDir: /tmp/hostguard-test
  logLevel: debug
hosts:
  sentinelIP: 127.0.0.1
dns:
  servers:
    - 1.1.1.3
    - 1.0.0.3
blacklist:
  sources:
    - url: https://lists.example.com/adult.txt
      category: adult
      format: hosts
usage:
  resetTime: "06:00"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Agent.DataDir != "/tmp/hostguard-test" {
		t.Errorf("DataDir = %q", cfg.Agent.DataDir)
	}
	if cfg.Hosts.SentinelIP != "127.0.0.1" {
		t.Errorf("SentinelIP = %q", cfg.Hosts.SentinelIP)
	}
	if len(cfg.DNS.Servers) != 2 {
		t.Errorf("Servers = %v", cfg.DNS.Servers)
	}
	// Unset keys keep their defaults
	if cfg.Hosts.MaxBackups != 5 {
		t.Errorf("MaxBackups default lost: %d", cfg.Hosts.MaxBackups)
	}
	if cfg.Watchdog.Interval != 15*time.Second {
		t.Errorf("Watchdog interval default lost: %v", cfg.Watchdog.Interval)
	}
	if cfg.Usage.ResetTime != "06:00" {
		t.Errorf("ResetTime = %q", cfg.Usage.ResetTime)
	}
	if err := Validate(cfg); err != nil {
		t.Errorf("Loaded config should validate: %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("Loading an explicit missing path should fail")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"EmptyDataDir", func(c *Config) { c.Agent.DataDir = "" }},
		{"BadSentinel", func(c *Config) { c.Hosts.SentinelIP = "not-an-ip" }},
		{"EmptyMarker", func(c *Config) { c.Hosts.BeginMarker = "" }},
		{"MarkerNotComment", func(c *Config) { c.Hosts.BeginMarker = "BEGIN hostguard" }},
		{"IdenticalMarkers", func(c *Config) {
			c.Hosts.BeginMarker = "# hostguard"
			c.Hosts.EndMarker = "# hostguard"
		}},
		{"BadDNSServer", func(c *Config) { c.DNS.Servers = []string{"256.0.0.1"} }},
		{"BadBlockServer", func(c *Config) { c.DNS.ScheduleBlockServers = []string{"localhost"} }},
		{"ZeroWatchdogInterval", func(c *Config) { c.Watchdog.Interval = 0 }},
		{"BadSourceScheme", func(c *Config) {
			c.Blacklist.Sources = []SourceConfig{{URL: "ftp://x/y", Category: "ads"}}
		}},
		{"SourceNoCategory", func(c *Config) {
			c.Blacklist.Sources = []SourceConfig{{URL: "https://x.example/list"}}
		}},
		{"BadSourceFormat", func(c *Config) {
			c.Blacklist.Sources = []SourceConfig{{URL: "https://x.example/list", Category: "ads", Format: "csv"}}
		}},
		{"S3MissingKey", func(c *Config) {
			c.Blacklist.Sources = []SourceConfig{{URL: "s3://bucket", Category: "ads"}}
		}},
		{"BadResetTime", func(c *Config) { c.Usage.ResetTime = "25:00" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := Validate(cfg); err == nil {
				t.Error("Expected validation error")
			}
		})
	}
}

func TestParseClock(t *testing.T) {
	tests := []struct {
		input   string
		want    int
		wantErr bool
	}{
		{"00:00", 0, false},
		{"06:30", 390, false},
		{"23:59", 1439, false},
		{"24:00", 0, true},
		{"12:60", 0, true},
		{"noon", 0, true},
		{"", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseClock(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseClock(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ParseClock(%q) = %d, want %d", tt.input, got, tt.want)
			}
		})
	}
}
