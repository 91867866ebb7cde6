package app

import (
	"fmt"
	"time"

	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"

	"github.com/autopeer-io/devicelink/cmd/cpeer-device-agent/app/options"
)

// newFailuresCommand prints the persisted failure record. It reads the store
// directly and never writes it: the record belongs to the running agent and
// is cleared only by an acknowledged publish.
func newFailuresCommand(opts *options.AgentOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "failures",
		Short: "Show the persisted failure record",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.Config()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			store, closer, err := cfg.OpenFailureStore(ctx)
			if err != nil {
				return err
			}
			defer closer.Close()

			rec, err := store.Load(ctx)
			if err != nil {
				return fmt.Errorf("failed to load failure record: %w", err)
			}

			table := uitable.New()
			table.AddRow("STORE:", fmt.Sprintf("%s (%s)", cfg.FailureOptions.Store, cfg.FailureOptions.Path))
			table.AddRow("COUNT:", rec.Count)
			table.AddRow("MASK:", fmt.Sprintf("0x%02x", uint32(rec.Mask)))
			table.AddRow("ERRORS:", rec.Mask.String())
			if !rec.UpdatedAt.IsZero() {
				table.AddRow("UPDATED AT:", rec.UpdatedAt.UTC().Format(time.RFC3339))
			}
			fmt.Fprintln(cmd.OutOrStdout(), table)
			return nil
		},
	}
}
