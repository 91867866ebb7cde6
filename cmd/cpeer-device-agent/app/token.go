package app

import (
	"fmt"
	"time"

	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"

	"github.com/autopeer-io/devicelink/cmd/cpeer-device-agent/app/options"
	"github.com/autopeer-io/devicelink/internal/deviceagent/credential"
)

func newTokenCommand(opts *options.AgentOptions) *cobra.Command {
	var verify bool

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a broker token with the device key and print it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.Config()
			if err != nil {
				return err
			}
			id, err := cfg.Identity()
			if err != nil {
				return err
			}
			raw, err := cfg.DeviceOptions.ReadKey()
			if err != nil {
				return err
			}
			key, err := credential.ParseSigningKey(raw)
			if err != nil {
				return err
			}

			token, err := credential.NewIssuer().IssueWithKey(id, key, cfg.DeviceOptions.TokenTTL)
			if err != nil {
				return err
			}

			if !verify {
				fmt.Fprintln(cmd.OutOrStdout(), token.String())
				return nil
			}

			claims, err := credential.Verify(token.String(), &key.PublicKey, time.Now())
			if err != nil {
				return fmt.Errorf("issued token does not verify: %w", err)
			}

			table := uitable.New()
			table.MaxColWidth = 100
			table.Wrap = true
			table.AddRow("CLIENT ID:", id.ClientID())
			table.AddRow("AUDIENCE:", claims.Audience)
			table.AddRow("ISSUED AT:", time.Unix(claims.IssuedAt, 0).UTC().Format(time.RFC3339))
			table.AddRow("EXPIRES AT:", time.Unix(claims.ExpiresAt, 0).UTC().Format(time.RFC3339))
			table.AddRow("TOKEN:", token.String())
			fmt.Fprintln(cmd.OutOrStdout(), table)
			return nil
		},
	}
	cmd.Flags().BoolVar(&verify, "verify", verify, "Verify the token against the public half of the key and print its claims.")

	return cmd
}
