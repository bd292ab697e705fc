// Package cmd implements the command-line interface for hostguard. It
// provides subcommands for running the enforcement agent, inspecting
// status, configuring DNS, refreshing blocklists and uninstalling.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"hostguard/internal/blacklist"
	"hostguard/internal/config"
	"hostguard/internal/dnsconfig"
	"hostguard/internal/engine"
	"hostguard/internal/hosts"
	"hostguard/internal/policy"
)

// RunOptions contains options for the run command.
type RunOptions struct {
	ConfigFile string
}

// NewRunCmd creates the run command.
func NewRunCmd() *cobra.Command {
	opts := &RunOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the hostguard enforcement agent",
		Long:  `Start the reconciliation loop, tamper watchdog and blocklist ingestion.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAgent(opts)
		},
	}

	cmd.Flags().StringVarP(&opts.ConfigFile, "config", "c", "", "config file path")

	return cmd
}

func runAgent(opts *RunOptions) error {
	cfg, err := config.Load(opts.ConfigFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %v", err)
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %v", err)
	}

	setupLogging(cfg)
	logrus.Info("Starting hostguard")

	platform := dnsconfig.NewPlatform()
	if err := platform.CheckPrivilege(); err != nil {
		return err
	}

	if err := os.MkdirAll(cfg.Agent.DataDir, 0o755); err != nil {
		return fmt.Errorf("data directory is not writable: %v", err)
	}

	eng, err := buildEngine(cfg, platform)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return eng.Run(ctx)
}

// buildEngine wires the enforcement components from configuration.
func buildEngine(cfg *config.Config, platform dnsconfig.Platform) (*engine.Engine, error) {
	store, err := policy.NewFileStore(filepath.Join(cfg.Agent.DataDir, "policy.json"))
	if err != nil {
		return nil, err
	}

	hostsMgr := newHostsManager(cfg, platform)
	configurator := dnsconfig.NewConfigurator(
		platform,
		filepath.Join(cfg.Agent.DataDir, "dns-original.json"),
		cfg.DNS.ProbeTimeout,
	)
	fetcher := blacklist.NewFetcher(&cfg.Blacklist, &cfg.S3)

	return engine.New(cfg, store, hostsMgr, configurator, fetcher)
}

func newHostsManager(cfg *config.Config, platform dnsconfig.Platform) *hosts.Manager {
	path := cfg.Hosts.Path
	if path == "" {
		path = platform.HostsPath()
	}
	return hosts.NewManager(
		path,
		filepath.Join(cfg.Agent.DataDir, "hosts-backups"),
		cfg.Hosts.SentinelIP,
		cfg.Hosts.BeginMarker,
		cfg.Hosts.EndMarker,
		cfg.Hosts.MaxBackups,
	)
}

func setupLogging(cfg *config.Config) {
	logLevel := cfg.Agent.LogLevel
	if envLevel := os.Getenv("HOSTGUARD_LOG_LEVEL"); envLevel != "" {
		logLevel = envLevel
	}
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
}
