package cli

import (
	"context"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"eventconsole/console/internal/console"
)

func newSessionsCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Manage the device sessions of the signed-in user",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List active device sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withApp(cmd, func(ctx context.Context, app *console.App) error {
				if err := requireLogin(app); err != nil {
					return err
				}
				devices, err := app.Session.ListDevices(ctx)
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				printf(w, "ID\tDEVICE\tIP\tLAST ACTIVITY\tCURRENT\n")
				for _, d := range devices {
					current := ""
					if d.IsCurrent {
						current = "*"
					}
					printf(w, "%s\t%s\t%s\t%s\t%s\n", d.ID, d.DisplayName, d.IPAddress, d.LastActivity.Format(time.DateTime), current)
				}
				return w.Flush()
			})
		},
	}

	revoke := &cobra.Command{
		Use:   "revoke ID",
		Short: "End one device session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, app *console.App) error {
				if err := requireLogin(app); err != nil {
					return err
				}
				if err := app.Session.RevokeDevice(ctx, args[0]); err != nil {
					return err
				}
				printf(cmd.OutOrStdout(), "revoked %s\n", args[0])
				return nil
			})
		},
	}

	others := &cobra.Command{
		Use:   "revoke-others",
		Short: "End every device session except this one",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withApp(cmd, func(ctx context.Context, app *console.App) error {
				if err := requireLogin(app); err != nil {
					return err
				}
				if err := app.Session.RevokeOtherDevices(ctx); err != nil {
					return err
				}
				printf(cmd.OutOrStdout(), "other sessions revoked\n")
				return nil
			})
		},
	}

	cmd.AddCommand(list, revoke, others)
	return cmd
}
