package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newResetCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Clear a failed deployment record",
		Long: `Clear the deployment record after a failure that left no cloud resources
behind. A failed record that still holds resource handles must be cleaned
up with 'wgforge destroy' instead, so nothing is leaked.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			if err := app.orch.Reset(); err != nil {
				return err
			}
			fmt.Println("Deployment record cleared.")
			return nil
		},
	}

	return cmd
}
