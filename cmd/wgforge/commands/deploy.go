package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/wgforge/wgforge/pkg/provider"
	"github.com/wgforge/wgforge/pkg/scheduler"
	"github.com/wgforge/wgforge/pkg/settings"
	"github.com/wgforge/wgforge/pkg/state"
)

func newDeployCommand() *cobra.Command {
	var (
		providerName     string
		region           string
		instanceType     string
		host             string
		sshUser          string
		sshPort          int
		sshKeyPath       string
		wireguardPort    int
		autoDestroyHours int
		wait             bool
	)

	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Deploy a WireGuard VPN server",
		Long: `Deploy a single-tenant WireGuard VPN server.

The pipeline provisions cloud resources step by step and saves its progress
after every step, so an interrupted deploy can be resumed by running deploy
again. On success the client configuration is written to the data directory.`,
		Example: `  # Deploy to AWS in the default region
  wgforge deploy --provider aws

  # Deploy a DigitalOcean droplet in Frankfurt, torn down after 8 hours
  wgforge deploy --provider digitalocean --region fra1 --auto-destroy-hours 8

  # Install on your own server
  wgforge deploy --provider byo --host 203.0.113.10 --ssh-user root --ssh-key ~/.ssh/id_ed25519`,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			defaults := app.settings.Get()
			if region == "" {
				region = defaults.Region
			}
			if wireguardPort == 0 {
				wireguardPort = defaults.WireGuardPort
			}

			req := provider.Request{
				Provider:         state.Provider(providerName),
				Region:           region,
				InstanceType:     instanceType,
				Host:             host,
				SSHUser:          sshUser,
				SSHPort:          sshPort,
				WireGuardPort:    wireguardPort,
				AutoDestroyHours: autoDestroyHours,
			}

			switch req.Provider {
			case state.ProviderAWS:
				if req.InstanceType == "" {
					req.InstanceType = defaults.InstanceType
				}
			case state.ProviderDigitalOcean:
				if req.InstanceType == "" {
					req.InstanceType = defaults.DropletSize
				}
			case state.ProviderBYO:
				req.Region = ""
				if sshKeyPath == "" {
					return fmt.Errorf("--ssh-key is required for provider byo")
				}
				key, err := os.ReadFile(sshKeyPath)
				if err != nil {
					return fmt.Errorf("failed to read SSH key: %w", err)
				}
				req.SSHPrivateKey = string(key)
			}

			stop := app.streamProgress()
			deployErr := app.orch.Deploy(cmd.Context(), req)
			stop()
			if deployErr != nil {
				return deployErr
			}

			rec, err := app.orch.Get()
			if err != nil {
				return err
			}

			configPath, err := state.SaveClientConfig(app.dataDir, rec.ClientConfig)
			if err != nil {
				return fmt.Errorf("failed to save client config: %w", err)
			}

			fmt.Printf("\nVPN server deployed at %s\n", rec.PublicIP)
			fmt.Printf("Client config written to %s\n", configPath)
			fmt.Println("Run 'wgforge connect' to bring the tunnel up.")
			if rec.AutoDestroyAt != nil {
				fmt.Printf("Auto-destroy scheduled for %s\n", rec.AutoDestroyAt.Local().Format(time.RFC1123))
			}

			if wait && rec.AutoDestroyAt != nil {
				return app.waitForAutoDestroy(cmd.Context())
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&providerName, "provider", "p", "", "provider: aws, digitalocean, or byo")
	cmd.Flags().StringVarP(&region, "region", "r", "", "cloud region (default from settings)")
	cmd.Flags().StringVar(&instanceType, "size", "", "instance type or droplet size (default from settings)")
	cmd.Flags().StringVar(&host, "host", "", "target host for provider byo")
	cmd.Flags().StringVar(&sshUser, "ssh-user", "", "SSH user for provider byo")
	cmd.Flags().IntVar(&sshPort, "ssh-port", 0, "SSH port for provider byo (default 22)")
	cmd.Flags().StringVar(&sshKeyPath, "ssh-key", "", "SSH private key file for provider byo")
	cmd.Flags().IntVar(&wireguardPort, "wireguard-port", 0, "WireGuard listen port (default from settings)")
	cmd.Flags().IntVar(&autoDestroyHours, "auto-destroy-hours", 0, "destroy the server automatically after this many hours")
	cmd.Flags().BoolVar(&wait, "wait", false, "keep running until the auto-destroy timer fires")
	_ = cmd.MarkFlagRequired("provider")

	return cmd
}

// waitForAutoDestroy runs the auto-destroy scheduler in the foreground
// until the deployment is gone or the context is cancelled.
func (a *app) waitForAutoDestroy(ctx context.Context) error {
	sched, err := scheduler.New(scheduler.Config{
		Orchestrator: a.orch,
		Logger:       a.logger,
		Metrics:      a.tel.Metrics,
	})
	if err != nil {
		return err
	}
	sched.Start(ctx)
	defer sched.Stop()

	// Long-lived path: pick up settings edits made while waiting.
	if err := a.settings.Watch(ctx, func(s settings.Settings) {
		a.logger.Info().
			Str("region", s.Region).
			Int("wireguard_port", s.WireGuardPort).
			Msg("settings reloaded")
	}); err != nil {
		a.logger.Warn().Err(err).Msg("failed to watch settings file")
	}

	fmt.Println("Waiting for auto-destroy; press Ctrl-C to stop waiting (the server keeps running).")

	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			rec, err := a.orch.Get()
			if err != nil {
				return err
			}
			if rec.Empty() {
				fmt.Println("Server destroyed.")
				return nil
			}
		}
	}
}
