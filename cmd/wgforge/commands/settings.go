package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/wgforge/wgforge/pkg/settings"
	"github.com/wgforge/wgforge/pkg/state"
)

func newSettingsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Manage deployment defaults",
	}

	cmd.AddCommand(newSettingsGetCommand())
	cmd.AddCommand(newSettingsSetCommand())
	cmd.AddCommand(newSettingsRegionsCommand())

	return cmd
}

func newSettingsGetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get",
		Short: "Show current settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			current := app.settings.Get()
			if jsonOutput {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(current)
			}

			fmt.Printf("Region:         %s\n", current.Region)
			fmt.Printf("Instance type:  %s\n", current.InstanceType)
			fmt.Printf("Droplet size:   %s\n", current.DropletSize)
			fmt.Printf("WireGuard port: %d\n", current.WireGuardPort)
			return nil
		},
	}
}

func newSettingsSetCommand() *cobra.Command {
	var (
		region        string
		instanceType  string
		dropletSize   string
		wireguardPort int
	)

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Update settings",
		Example: `  wgforge settings set --region eu-central-1
  wgforge settings set --wireguard-port 4500`,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			updated := app.settings.Get()
			if region != "" {
				updated.Region = region
			}
			if instanceType != "" {
				updated.InstanceType = instanceType
			}
			if dropletSize != "" {
				updated.DropletSize = dropletSize
			}
			if wireguardPort != 0 {
				updated.WireGuardPort = wireguardPort
			}

			if err := app.settings.Save(updated); err != nil {
				return err
			}
			fmt.Println("Settings saved.")
			return nil
		},
	}

	cmd.Flags().StringVar(&region, "region", "", "default cloud region")
	cmd.Flags().StringVar(&instanceType, "instance-type", "", "default AWS instance type")
	cmd.Flags().StringVar(&dropletSize, "droplet-size", "", "default DigitalOcean droplet size")
	cmd.Flags().IntVar(&wireguardPort, "wireguard-port", 0, "WireGuard listen port")

	return cmd
}

func newSettingsRegionsCommand() *cobra.Command {
	var providerName string

	cmd := &cobra.Command{
		Use:   "regions",
		Short: "List selectable regions for a provider",
		RunE: func(cmd *cobra.Command, args []string) error {
			regions := settings.Regions(state.Provider(providerName))
			if len(regions) == 0 {
				return fmt.Errorf("no regions for provider %q", providerName)
			}

			if jsonOutput {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(regions)
			}

			for _, r := range regions {
				fmt.Printf("%-16s %s\n", r.Code, r.Name)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&providerName, "provider", "p", "aws", "provider: aws or digitalocean")

	return cmd
}
