package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"eventconsole/console/internal/console"
	"eventconsole/console/internal/minutes"
	"eventconsole/console/internal/push"
)

func newMinutesCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "minutes",
		Aliases: []string{"notulen"},
		Short:   "List, inspect, follow and finalize meeting minutes",
	}
	cmd.AddCommand(
		newMinutesListCommand(opts),
		newMinutesCreateCommand(opts),
		newMinutesShowCommand(opts),
		newMinutesWatchCommand(opts),
		newMinutesTransitionCommand(opts, minutes.StatusFinalized),
		newMinutesTransitionCommand(opts, minutes.StatusArchived),
	)
	return cmd
}

func newMinutesListCommand(opts *rootOptions) *cobra.Command {
	var filters minutes.ListFilters
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List minutes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			filters.Status = minutes.Status(status)
			return opts.withApp(cmd, func(ctx context.Context, app *console.App) error {
				if err := requireLogin(app); err != nil {
					return err
				}
				resp, err := app.Minutes.List(ctx, filters)
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				printf(w, "ID\tTITLE\tDATE\tSTATUS\tVERSION\n")
				for _, doc := range resp.Documents {
					printf(w, "%s\t%s\t%s\t%s\t%d\n", doc.ID, doc.Title, doc.MeetingDate.Format(time.DateOnly), doc.Status, doc.Version)
				}
				if err := w.Flush(); err != nil {
					return err
				}
				printf(cmd.OutOrStdout(), "%d of %d\n", len(resp.Documents), resp.Total)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&filters.Query, "query", "", "search in title and notes")
	cmd.Flags().StringVar(&status, "status", "", "draft, finalized or archived")
	cmd.Flags().IntVar(&filters.Limit, "limit", 20, "page size")
	cmd.Flags().IntVar(&filters.Offset, "offset", 0, "page offset")
	return cmd
}

func newMinutesCreateCommand(opts *rootOptions) *cobra.Command {
	var req minutes.CreateRequest
	var date string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create draft minutes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			meeting, err := time.Parse(time.DateOnly, date)
			if err != nil {
				return fmt.Errorf("--date must be YYYY-MM-DD: %w", err)
			}
			req.MeetingDate = meeting
			return opts.withApp(cmd, func(ctx context.Context, app *console.App) error {
				if err := requireLogin(app); err != nil {
					return err
				}
				doc, err := app.Minutes.Create(ctx, req)
				if err != nil {
					return err
				}
				printf(cmd.OutOrStdout(), "created %s (version %d)\n", doc.ID, doc.Version)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&req.Title, "title", "", "meeting title")
	cmd.Flags().StringVar(&date, "date", time.Now().Format(time.DateOnly), "meeting date")
	cmd.Flags().StringVar(&req.Location, "location", "", "meeting location")
	cmd.Flags().StringVar(&req.Notes, "notes", "", "initial notes")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func newMinutesShowCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Print one document as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, app *console.App) error {
				if err := requireLogin(app); err != nil {
					return err
				}
				doc, err := app.Minutes.Get(ctx, args[0])
				if err != nil {
					return err
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(doc)
			})
		},
	}
}

func newMinutesWatchCommand(opts *rootOptions) *cobra.Command {
	var persist bool
	cmd := &cobra.Command{
		Use:   "watch ID",
		Short: "Follow one document until interrupted",
		Long: `Load the document and print a line every time it changes elsewhere.
The push channel reconnects with backoff and the command stops when it gives up,
unless --reconnect is set.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, app *console.App) error {
				if err := requireLogin(app); err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				editor := app.NewEditor(ctx, minutes.EditorOptions{
					OnChange: func(local *minutes.Document, dirty bool) { printDocument(out, local, dirty) },
					OnState:  func(s push.State) { printf(cmd.ErrOrStderr(), "push: %s\n", s) },
				})
				defer editor.Close()
				if err := editor.Open(ctx, args[0]); err != nil {
					return err
				}
				var reconnect func() *push.Channel
				if persist {
					reconnect = editor.Reconnect
				}
				return waitChannel(ctx, editor.Channel(), reconnect)
			})
		},
	}
	cmd.Flags().BoolVar(&persist, "reconnect", false, "start over instead of stopping when the channel gives up")
	return cmd
}

func newMinutesTransitionCommand(opts *rootOptions, to minutes.Status) *cobra.Command {
	var yes bool
	use, short := "finalize ID", "Finalize draft minutes"
	if to == minutes.StatusArchived {
		use, short = "archive ID", "Archive finalized minutes"
	}
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Long:  short + ". This cannot be undone, so --yes is required.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, app *console.App) error {
				if err := requireLogin(app); err != nil {
					return err
				}
				rec := minutes.NewReconciler(app.Minutes, minutes.ReconcilerOptions{Logger: app.Logger})
				if err := rec.Load(ctx, args[0]); err != nil {
					return err
				}
				confirm := func(minutes.Status, *minutes.Document) bool { return yes }
				var err error
				if to == minutes.StatusFinalized {
					err = rec.Finalize(ctx, confirm)
				} else {
					err = rec.Archive(ctx, confirm)
				}
				if err != nil {
					return err
				}
				printDocument(cmd.OutOrStdout(), rec.Local(), false)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm the transition")
	return cmd
}

func printDocument(w io.Writer, doc *minutes.Document, dirty bool) {
	state := "saved"
	if dirty {
		state = "unsaved"
	}
	printf(w, "%s\tv%d\t%s\t%s\t%s\n", doc.ID, doc.Version, doc.Status, state, doc.Title)
}

// waitChannel blocks until ctx is done or ch stops for good. A non-nil reconnect
// replaces a channel that gave up.
func waitChannel(ctx context.Context, ch *push.Channel, reconnect func() *push.Channel) error {
	for ch != nil {
		select {
		case <-ctx.Done():
			return nil
		case <-ch.Done():
		}
		if ch.State() != push.GivenUp {
			return nil
		}
		if reconnect == nil {
			return errors.New("push channel gave up reconnecting")
		}
		ch = reconnect()
	}
	return nil
}
