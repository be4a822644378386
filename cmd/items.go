package cmd

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var (
	itemSupply      int
	itemWindowStart string
	itemWindowEnd   string
	itemVerify      bool
)

var itemsCmd = &cobra.Command{
	Use:   "items",
	Short: "Administer scarce items",
}

var itemsCreateCmd = &cobra.Command{
	Use:   "create <item-id>",
	Short: "Provision a scarce item with a fixed supply",
	Args:  cobra.ExactArgs(1),
	RunE: withEngine(func(ctx context.Context, a *app, out io.Writer, args []string) error {
		start := time.Now().UTC()
		if itemWindowStart != "" {
			parsed, err := time.Parse(time.RFC3339, itemWindowStart)
			if err != nil {
				return errors.Wrap(err, "invalid --window-start")
			}
			start = parsed
		}

		var end *time.Time
		if itemWindowEnd != "" {
			parsed, err := time.Parse(time.RFC3339, itemWindowEnd)
			if err != nil {
				return errors.Wrap(err, "invalid --window-end")
			}
			end = &parsed
		}

		item, err := a.engine.CreateScarceItem(ctx, args[0], itemSupply, start, end)
		if err != nil {
			return err
		}
		return printJSON(out, item)
	}),
}

var itemsDeactivateCmd = &cobra.Command{
	Use:   "deactivate <item-id>",
	Short: "Stop all further claims on an item",
	Args:  cobra.ExactArgs(1),
	RunE: withEngine(func(ctx context.Context, a *app, out io.Writer, args []string) error {
		return a.engine.DeactivateItem(ctx, args[0])
	}),
}

var itemsResetCmd = &cobra.Command{
	Use:   "reset <item-id>",
	Short: "Delete every claim of an item and zero its counter (non-production only)",
	Args:  cobra.ExactArgs(1),
	RunE: withEngine(func(ctx context.Context, a *app, out io.Writer, args []string) error {
		return a.engine.ResetItemForTesting(ctx, args[0])
	}),
}

var itemsStatusCmd = &cobra.Command{
	Use:   "status <item-id>",
	Short: "Show the availability of an item",
	Args:  cobra.ExactArgs(1),
	RunE: withEngine(func(ctx context.Context, a *app, out io.Writer, args []string) error {
		if itemVerify {
			v, err := a.engine.VerifyItem(ctx, args[0])
			if err != nil {
				return err
			}
			if err := printJSON(out, v); err != nil {
				return err
			}
			if !v.Consistent {
				return errors.Errorf("item %s ledger is inconsistent", args[0])
			}
			return nil
		}

		status, err := a.engine.GetStatus(ctx, args[0], time.Now().UTC())
		if err != nil {
			return err
		}
		return printJSON(out, status)
	}),
}

var itemsClaimsCmd = &cobra.Command{
	Use:   "claims <item-id>",
	Short: "List the claims of an item ordered by mint number",
	Args:  cobra.ExactArgs(1),
	RunE: withEngine(func(ctx context.Context, a *app, out io.Writer, args []string) error {
		claims, err := a.engine.ListClaims(ctx, args[0])
		if err != nil {
			return err
		}
		return printJSON(out, claims)
	}),
}

func init() {
	itemsCreateCmd.Flags().IntVar(&itemSupply, "supply", 0, "total supply of the item")
	itemsCreateCmd.Flags().StringVar(&itemWindowStart, "window-start", "", "start of the availability window (RFC3339, default now)")
	itemsCreateCmd.Flags().StringVar(&itemWindowEnd, "window-end", "", "end of the availability window (RFC3339, optional)")
	_ = itemsCreateCmd.MarkFlagRequired("supply")

	itemsStatusCmd.Flags().BoolVar(&itemVerify, "verify", false, "check that minted numbers are exactly 1..claimed_count")

	itemsCmd.AddCommand(itemsCreateCmd, itemsDeactivateCmd, itemsResetCmd, itemsStatusCmd, itemsClaimsCmd)
	rootCmd.AddCommand(itemsCmd)
}

// withEngine wraps an admin command with config loading and app setup
func withEngine(run func(ctx context.Context, a *app, out io.Writer, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		a, err := newApp(cfg, false)
		if err != nil {
			return err
		}
		defer a.Close()

		return run(cmd.Context(), a, cmd.OutOrStdout(), args)
	}
}

func printJSON(out io.Writer, v interface{}) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
