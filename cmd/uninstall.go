package cmd

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"hostguard/internal/config"
	"hostguard/internal/dnsconfig"
)

// UninstallOptions contains options for the uninstall command.
type UninstallOptions struct {
	ConfigFile string
	Force      bool
	RemoveData bool
}

// NewUninstallCmd creates the uninstall command.
func NewUninstallCmd() *cobra.Command {
	opts := &UninstallOptions{}

	cmd := &cobra.Command{
		Use:   "uninstall",
		Short: "Remove all hostguard changes from the system",
		Long: `Remove the managed region from the hosts file and restore the
original DNS settings captured before the first apply. Everything
outside the managed region is left byte-for-byte untouched.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUninstall(opts)
		},
	}

	cmd.Flags().StringVarP(&opts.ConfigFile, "config", "c", "", "config file path")
	cmd.Flags().BoolVarP(&opts.Force, "force", "f", false, "skip confirmation prompt")
	cmd.Flags().BoolVar(&opts.RemoveData, "remove-data", false, "also delete the hostguard data directory")

	return cmd
}

func runUninstall(opts *UninstallOptions) error {
	cfg, err := config.Load(opts.ConfigFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %v", err)
	}

	platform := dnsconfig.NewPlatform()
	if err := platform.CheckPrivilege(); err != nil {
		return err
	}

	if !opts.Force && !confirm("Remove hostguard enforcement from this system?") {
		fmt.Println("Aborted")
		return nil
	}

	mgr := newHostsManager(cfg, platform)
	if err := mgr.Remove(); err != nil {
		logrus.WithError(err).Error("Failed to remove hosts managed region")
		return err
	}
	fmt.Println("✅ Hosts file managed region removed")

	backupPath := filepath.Join(cfg.Agent.DataDir, "dns-original.json")
	configurator := dnsconfig.NewConfigurator(platform, backupPath, cfg.DNS.ProbeTimeout)
	if configurator.HasOriginal() {
		if err := configurator.Restore(); err != nil {
			logrus.WithError(err).Error("Failed to restore original DNS settings")
			return err
		}
		fmt.Println("✅ Original DNS settings restored")
	} else {
		fmt.Println("ℹ️  No DNS backup found, DNS settings left unchanged")
	}

	if opts.RemoveData {
		if err := os.RemoveAll(cfg.Agent.DataDir); err != nil {
			return fmt.Errorf("failed to remove data directory: %v", err)
		}
		fmt.Printf("✅ Data directory %s removed\n", cfg.Agent.DataDir)
	}

	fmt.Println("\nhostguard is no longer enforcing any policy.")
	return nil
}

func confirm(prompt string) bool {
	fmt.Printf("%s [y/N]: ", prompt)
	reader := bufio.NewReader(os.Stdin)
	answer, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}
