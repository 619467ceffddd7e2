package cli

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ovaphlow/pitchfork/service-examredi-go/internal/account/entity"
)

func newAccountsCmd(rt *state) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "accounts",
		Short: "Inspect accounts and change subscriptions",
	}

	cmd.AddCommand(
		newAccountsListCmd(rt),
		newAccountsShowCmd(rt),
		newAccountsSetSubscriptionCmd(rt),
	)
	return cmd
}

func newAccountsListCmd(rt *state) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List all accounts",
		Args:  cobra.NoArgs,
		RunE: rt.run(func(cmd *cobra.Command, _ []string) error {
			a, err := rt.App(cmd.Context())
			if err != nil {
				return err
			}
			accounts, err := a.Store.List(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, accounts)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(tw, "ID\tEMAIL\tNAME\tROLE\tSUBSCRIPTION\tCREDITS")
			for _, acc := range accounts {
				_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\n",
					acc.ID, acc.Email, acc.Name, acc.Role, acc.Subscription, acc.AICredits)
			}
			return tw.Flush()
		}),
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	return cmd
}

func newAccountsShowCmd(rt *state) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one account with its usage window rolled forward",
		Args:  cobra.ExactArgs(1),
		RunE: rt.run(func(cmd *cobra.Command, args []string) error {
			a, err := rt.App(cmd.Context())
			if err != nil {
				return err
			}
			acc, err := a.Ledger.Snapshot(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("account %s: %w", args[0], err)
			}
			return writeJSON(cmd, acc)
		}),
	}
}

func newAccountsSetSubscriptionCmd(rt *state) *cobra.Command {
	return &cobra.Command{
		Use:   "set-subscription <id> <free|pro>",
		Short: "Change an account's subscription tier",
		Args:  cobra.ExactArgs(2),
		RunE: rt.run(func(cmd *cobra.Command, args []string) error {
			target, err := entity.ParseSubscription(args[1])
			if err != nil {
				return err
			}
			a, err := rt.App(cmd.Context())
			if err != nil {
				return err
			}
			acc, err := a.Ledger.SetSubscription(cmd.Context(), args[0], target)
			if err != nil {
				return fmt.Errorf("account %s: %w", args[0], err)
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s is now %s with %d AI credits\n", acc.ID, acc.Subscription, acc.AICredits)
			return nil
		}),
	}
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
