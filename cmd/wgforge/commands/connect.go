package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wgforge/wgforge/pkg/state"
	"github.com/wgforge/wgforge/pkg/tunnel"
)

func newConnectCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Bring the local WireGuard tunnel up",
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
				return fmt.Errorf("no deployed VPN server; run 'wgforge deploy' first")
			}

			ctrl, err := tunnel.NewController(tunnel.NewWGQuick(app.dataDir), app.logger)
			if err != nil {
				return err
			}
			if ctrl.Status() == tunnel.StatusConnected {
				fmt.Println("Tunnel is already connected.")
				return nil
			}

			if err := ctrl.Connect(cmd.Context(), rec.ClientConfig); err != nil {
				return err
			}
			app.tel.Metrics.SetTunnelConnected(true)
			fmt.Printf("Connected to %s.\n", rec.PublicIP)
			return nil
		},
	}

	return cmd
}

func newDisconnectCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "disconnect",
		Short: "Bring the local WireGuard tunnel down",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			ctrl, err := tunnel.NewController(tunnel.NewWGQuick(app.dataDir), app.logger)
			if err != nil {
				return err
			}
			if ctrl.Status() == tunnel.StatusDisconnected {
				fmt.Println("Tunnel is not connected.")
				return nil
			}

			if err := ctrl.Disconnect(cmd.Context()); err != nil {
				return err
			}
			app.tel.Metrics.SetTunnelConnected(false)
			fmt.Println("Disconnected.")
			return nil
		},
	}

	return cmd
}
