package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/wgforge/wgforge/pkg/state"
)

func newExportConfigCommand() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "export-config",
		Short: "Export the WireGuard client configuration",
		Long: `Write the client configuration for the deployed server to a file, for
import into any WireGuard client.`,
		Example: `  # Write wgforge-client.conf to the current directory
  wgforge export-config

  # Write to a specific path
  wgforge export-config --output ~/vpn.conf`,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			rec, err := app.orch.Get()
			if err != nil {
				return err
			}
			if rec.Status != state.StatusDeployed || rec.ClientConfig == "" {
				return fmt.Errorf("no VPN config found; deploy a server first")
			}

			if err := os.WriteFile(output, []byte(rec.ClientConfig), 0o600); err != nil {
				return fmt.Errorf("failed to write config: %w", err)
			}
			fmt.Printf("Client config written to %s\n", output)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "wgforge-client.conf", "output file path")

	return cmd
}
