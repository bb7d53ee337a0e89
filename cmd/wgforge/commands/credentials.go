package commands

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/wgforge/wgforge/pkg/credentials"
)

func newCredentialsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credentials",
		Short: "Manage provider credentials",
		Long: `Store or remove cloud provider credentials. Secrets are kept in the
system keyring when one is available, with an encrypted file fallback
under the data directory.`,
	}

	cmd.AddCommand(newCredentialsSetCommand())
	cmd.AddCommand(newCredentialsDeleteCommand())

	return cmd
}

func newCredentialsSetCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:       "set {aws|digitalocean}",
		Short:     "Store credentials for a provider",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"aws", "digitalocean"},
		Example: `  # Prompts for the access key pair
  wgforge credentials set aws

  # Prompts for the API token
  wgforge credentials set digitalocean`,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			switch args[0] {
			case "aws":
				accessKey, err := promptLine("AWS access key ID: ")
				if err != nil {
					return err
				}
				secretKey, err := promptSecret("AWS secret access key: ")
				if err != nil {
					return err
				}
				if err := app.creds.SaveAWS(credentials.AWS{
					AccessKeyID:     accessKey,
					SecretAccessKey: secretKey,
				}); err != nil {
					return err
				}
			case "digitalocean":
				token, err := promptSecret("DigitalOcean API token: ")
				if err != nil {
					return err
				}
				if err := app.creds.SaveDigitalOcean(credentials.DigitalOcean{
					APIToken: token,
				}); err != nil {
					return err
				}
			default:
				return fmt.Errorf("unknown provider %q", args[0])
			}

			fmt.Println("Credentials stored.")
			return nil
		},
	}

	return cmd
}

func newCredentialsDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:       "delete {aws|digitalocean}",
		Short:     "Remove stored credentials for a provider",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"aws", "digitalocean"},
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			switch args[0] {
			case "aws":
				err = app.creds.DeleteAWS()
			case "digitalocean":
				err = app.creds.DeleteDigitalOcean()
			default:
				return fmt.Errorf("unknown provider %q", args[0])
			}
			if err != nil {
				return err
			}

			fmt.Println("Credentials removed.")
			return nil
		},
	}
}

func promptLine(prompt string) (string, error) {
	fmt.Print(prompt)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	return strings.TrimSpace(line), nil
}

// promptSecret reads without echo when stdin is a terminal.
func promptSecret(prompt string) (string, error) {
	fmt.Print(prompt)
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return promptLineNoPrefix()
	}
	secret, err := term.ReadPassword(fd)
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("failed to read secret: %w", err)
	}
	return strings.TrimSpace(string(secret)), nil
}

func promptLineNoPrefix() (string, error) {
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	return strings.TrimSpace(line), nil
}
