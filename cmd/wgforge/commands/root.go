// Package commands implements the wgforge CLI.
package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	dataDir     string
	verbose     bool
	jsonOutput  bool
	metricsAddr string
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "wgforge",
		Short: "wgforge - personal WireGuard VPN deployment",
		Long: `wgforge deploys a single-tenant WireGuard VPN server on your own cloud
account and manages its full lifecycle.

Features:
  - One-command deploy to AWS EC2 or DigitalOcean
  - Bring-your-own-server installs over SSH
  - Crash-safe, resumable provisioning
  - Auto-destroy timer to cap cloud spend
  - Local tunnel connect/disconnect via wg-quick`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "data directory (default ~/.wgforge)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")

	// Add subcommands
	rootCmd.AddCommand(newDeployCommand())
	rootCmd.AddCommand(newDestroyCommand())
	rootCmd.AddCommand(newStatusCommand())
	rootCmd.AddCommand(newResetCommand())
	rootCmd.AddCommand(newConnectCommand())
	rootCmd.AddCommand(newDisconnectCommand())
	rootCmd.AddCommand(newSettingsCommand())
	rootCmd.AddCommand(newCredentialsCommand())
	rootCmd.AddCommand(newExportConfigCommand())

	return rootCmd
}
