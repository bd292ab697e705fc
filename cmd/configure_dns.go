package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"hostguard/internal/config"
	"hostguard/internal/dnsconfig"
)

// ConfigureDNSOptions contains options for the configure-dns command.
type ConfigureDNSOptions struct {
	ConfigFile string
	Restore    bool
}

// NewConfigureDNSCmd creates the configure-dns command.
func NewConfigureDNSCmd() *cobra.Command {
	opts := &ConfigureDNSOptions{}

	cmd := &cobra.Command{
		Use:   "configure-dns",
		Short: "Apply the configured DNS servers to all active interfaces",
		Long: `Apply the configured DNS servers to every active network interface.
The pre-change settings are backed up on first use so --restore can
always return to the true original state.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return configureDNS(opts)
		},
	}

	cmd.Flags().StringVarP(&opts.ConfigFile, "config", "c", "", "config file path")
	cmd.Flags().BoolVarP(&opts.Restore, "restore", "r", false, "restore original DNS settings")

	return cmd
}

func configureDNS(opts *ConfigureDNSOptions) error {
	cfg, err := config.Load(opts.ConfigFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %v", err)
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %v", err)
	}

	platform := dnsconfig.NewPlatform()
	if err := platform.CheckPrivilege(); err != nil {
		return err
	}

	configurator := dnsconfig.NewConfigurator(
		platform,
		filepath.Join(cfg.Agent.DataDir, "dns-original.json"),
		cfg.DNS.ProbeTimeout,
	)

	if opts.Restore {
		if err := configurator.Restore(); err != nil {
			return err
		}
		fmt.Println("✅ Original DNS settings restored")
		return nil
	}

	if len(cfg.DNS.Servers) == 0 {
		return fmt.Errorf("dns.servers is empty; nothing to apply")
	}
	if err := configurator.Apply(cfg.DNS.Servers); err != nil {
		return err
	}
	fmt.Printf("✅ DNS servers %v applied to all active interfaces\n", cfg.DNS.Servers)
	return nil
}
