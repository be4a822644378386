package cmd

import (
	"context"
	"io"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Work with the item catalog",
}

var catalogSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Provision scarce items declared in the catalog",
	Long: `Create a ledger row for every catalog entry that declares scarcity and
is not provisioned yet. Existing items are never modified.`,
	Args: cobra.NoArgs,
	RunE: withEngine(func(ctx context.Context, a *app, out io.Writer, args []string) error {
		created, err := a.engine.SyncCatalog(ctx, a.catalog.Entries())
		if err != nil {
			return err
		}
		log.Info().Int("created", len(created)).Int("scarce", len(a.catalog.Scarce())).Msg("Catalog synced")
		return printJSON(out, map[string]interface{}{"created": created})
	}),
}

func init() {
	catalogCmd.AddCommand(catalogSyncCmd)
	rootCmd.AddCommand(catalogCmd)
}
