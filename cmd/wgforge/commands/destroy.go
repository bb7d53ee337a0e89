package commands

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

func newDestroyCommand() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "destroy",
		Short: "Destroy the deployed VPN server",
		Long: `Tear down all resources created for the VPN server, in reverse order of
creation. Resources that are already gone are skipped, so a partially
failed destroy can be retried safely.`,
		Example: `  # Destroy with a confirmation prompt
  wgforge destroy

  # Destroy without prompting
  wgforge destroy --yes`,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			if !yes {
				fmt.Print("This will permanently delete the VPN server and all its cloud resources. Continue? [y/N] ")
				reader := bufio.NewReader(os.Stdin)
				answer, _ := reader.ReadString('\n')
				if strings.ToLower(strings.TrimSpace(answer)) != "y" {
					fmt.Println("Aborted.")
					return nil
				}
			}

			stop := app.streamProgress()
			destroyErr := app.orch.Destroy(cmd.Context())
			stop()
			if destroyErr != nil {
				return destroyErr
			}

			fmt.Println("\nAll resources destroyed.")
			return nil
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip confirmation prompt")

	return cmd
}
