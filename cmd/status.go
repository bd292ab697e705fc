package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"hostguard/internal/config"
	"hostguard/internal/dnsconfig"
	"hostguard/internal/hosts"
)

// NewStatusCmd creates the status command.
func NewStatusCmd() *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Check hostguard enforcement status",
		Long:  `Inspect the hosts file managed region, DNS backup and privileges.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(configFile)
		},
	}

	cmd.Flags().StringVarP(&configFile, "config", "c", "", "config file path")
	return cmd
}

func runStatus(configFile string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %v", err)
	}

	fmt.Println("🔍 hostguard Status")
	fmt.Println("===================")

	platform := dnsconfig.NewPlatform()
	if platform.CheckPrivilege() == nil {
		fmt.Println("✅ Running with required privileges")
	} else {
		fmt.Println("⚠️  Not running as root (required for enforcement)")
	}

	fmt.Println("\n📄 Hosts file:")
	mgr := newHostsManager(cfg, platform)
	count, present, err := mgr.ManagedEntries()
	switch {
	case errors.Is(err, hosts.ErrCorruptRegion):
		fmt.Println("❌ Managed region markers are corrupt (will self-heal on next apply)")
	case err != nil:
		fmt.Printf("❌ Could not read hosts file: %v\n", err)
	case !present:
		fmt.Println("ℹ️  No managed region present (protection off or nothing blocked)")
	default:
		fmt.Printf("✅ Managed region present with %d blocked entries\n", count)
	}
	if backup := mgr.LatestBackup(); backup != "" {
		fmt.Printf("✅ Latest backup: %s\n", backup)
	}

	fmt.Println("\n🌐 DNS:")
	backupPath := filepath.Join(cfg.Agent.DataDir, "dns-original.json")
	if _, err := os.Stat(backupPath); err == nil {
		fmt.Printf("✅ Original DNS settings backed up: %s\n", backupPath)
	} else {
		fmt.Println("ℹ️  No DNS backup yet (no DNS apply has happened)")
	}

	for _, server := range cfg.DNS.Servers {
		if err := dnsconfig.ProbeResolver(server, cfg.DNS.ProbeTimeout); err == nil {
			fmt.Printf("✅ Resolver %s is reachable\n", server)
		} else {
			fmt.Printf("⚠️  Resolver %s did not answer\n", server)
		}
	}

	return nil
}
