package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/wgforge/wgforge/pkg/state"
)

// statusView is the printable subset of the deployment record. Key
// material never leaves the store through this command.
type statusView struct {
	Status        state.Status   `json:"status"`
	Provider      state.Provider `json:"provider,omitempty"`
	Region        string         `json:"region,omitempty"`
	PublicIP      string         `json:"public_ip,omitempty"`
	DeployedAt    *time.Time     `json:"deployed_at,omitempty"`
	AutoDestroyAt *time.Time     `json:"auto_destroy_at,omitempty"`
	ErrorMessage  string         `json:"error_message,omitempty"`
}

func newStatusCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the current deployment status",
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

			view := statusView{
				Status:        rec.Status,
				Provider:      rec.Provider,
				Region:        rec.Region,
				PublicIP:      rec.PublicIP,
				DeployedAt:    rec.DeployedAt,
				AutoDestroyAt: rec.AutoDestroyAt,
				ErrorMessage:  rec.ErrorMessage,
			}

			if jsonOutput {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(view)
			}

			fmt.Printf("Status:    %s\n", view.Status)
			if view.Provider != "" {
				fmt.Printf("Provider:  %s\n", view.Provider)
			}
			if view.Region != "" {
				fmt.Printf("Region:    %s\n", view.Region)
			}
			if view.PublicIP != "" {
				fmt.Printf("Public IP: %s\n", view.PublicIP)
			}
			if view.DeployedAt != nil {
				fmt.Printf("Deployed:  %s\n", view.DeployedAt.Local().Format(time.RFC1123))
			}
			if view.AutoDestroyAt != nil {
				fmt.Printf("Auto-destroy: %s\n", view.AutoDestroyAt.Local().Format(time.RFC1123))
			}
			if view.ErrorMessage != "" {
				fmt.Printf("Last error: %s\n", view.ErrorMessage)
			}
			return nil
		},
	}

	return cmd
}
