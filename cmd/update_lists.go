package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"hostguard/internal/config"
	"hostguard/internal/dnsconfig"
)

// NewUpdateListsCmd creates the update-lists command.
func NewUpdateListsCmd() *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:   "update-lists",
		Short: "Fetch all configured blocklists once",
		Long: `Force a one-shot ingestion run over every configured blacklist
source. Failed sources keep their previous category contents.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return updateLists(cmd.Context(), configFile)
		},
	}

	cmd.Flags().StringVarP(&configFile, "config", "c", "", "config file path")
	return cmd
}

func updateLists(ctx context.Context, configFile string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %v", err)
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %v", err)
	}
	if len(cfg.Blacklist.Sources) == 0 {
		fmt.Println("No blacklist sources configured")
		return nil
	}

	setupLogging(cfg)

	eng, err := buildEngine(cfg, dnsconfig.NewPlatform())
	if err != nil {
		return err
	}

	if ctx == nil {
		ctx = context.Background()
	}
	if err := eng.IngestOnce(ctx); err != nil {
		return fmt.Errorf("ingestion finished with errors: %v", err)
	}

	fmt.Printf("✅ Refreshed %d blacklist source(s)\n", len(cfg.Blacklist.Sources))
	return nil
}
