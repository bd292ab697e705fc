package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"hostguard/cmd"
)

var version = "1.0.0"

func main() {
	var rootCmd = &cobra.Command{
		Use:   "hostguard",
		Short: "Local policy enforcement agent for parental controls",
		Long: `Hostguard enforces a local blocking policy by rewriting a managed
region of the hosts file and pointing network interfaces at the
configured DNS servers. It watches for tampering and reverts any
external change to the enforced state.`,
	}

	// Add subcommands
	rootCmd.AddCommand(
		cmd.NewRunCmd(),
		cmd.NewStatusCmd(),
		cmd.NewConfigureDNSCmd(),
		cmd.NewUpdateListsCmd(),
		cmd.NewUninstallCmd(),
		newVersionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("hostguard v%s\n", version)
		},
	}
}
