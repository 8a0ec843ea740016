package cli

import (
	"context"
	"strings"
	"sync"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"eventconsole/console/internal/chat"
	"eventconsole/console/internal/console"
	"eventconsole/console/internal/push"
)

func newChatCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Read and follow chat channels",
	}

	channels := &cobra.Command{
		Use:   "channels",
		Short: "List chat channels",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withApp(cmd, func(ctx context.Context, app *console.App) error {
				if err := requireLogin(app); err != nil {
					return err
				}
				list, err := app.Chat.Channels(ctx)
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				printf(w, "ID\tNAME\tTYPE\n")
				for _, ch := range list {
					printf(w, "%s\t%s\t%s\n", ch.ID, ch.Name, ch.Type)
				}
				return w.Flush()
			})
		},
	}

	send := &cobra.Command{
		Use:   "send CHANNEL MESSAGE...",
		Short: "Send a message",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, app *console.App) error {
				if err := requireLogin(app); err != nil {
					return err
				}
				msg, err := app.Chat.Send(ctx, args[0], strings.Join(args[1:], " "))
				if err != nil {
					return err
				}
				printf(cmd.OutOrStdout(), "sent %s\n", msg.ID)
				return nil
			})
		},
	}

	var persist bool
	watch := &cobra.Command{
		Use:   "watch CHANNEL",
		Short: "Print the channel history and follow new messages until interrupted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, app *console.App) error {
				if err := requireLogin(app); err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				var mu sync.Mutex
				seen := make(map[string]bool)
				room := app.NewRoom(ctx, chat.RoomOptions{
					OnChange: func(_ string, messages []chat.Message) {
						mu.Lock()
						defer mu.Unlock()
						for _, msg := range messages {
							if !seen[msg.ID] {
								seen[msg.ID] = true
								printf(out, "[%s] %s: %s\n", msg.CreatedAt.Format("15:04:05"), sender(msg), msg.Content)
							}
						}
					},
					OnState: func(s push.State) { printf(cmd.ErrOrStderr(), "push: %s\n", s) },
				})
				defer room.Close()
				if err := room.Select(ctx, args[0]); err != nil {
					return err
				}
				var reconnect func() *push.Channel
				if persist {
					reconnect = room.Reconnect
				}
				return waitChannel(ctx, room.Channel(), reconnect)
			})
		},
	}
	watch.Flags().BoolVar(&persist, "reconnect", false, "start over instead of stopping when the channel gives up")

	cmd.AddCommand(channels, send, watch)
	return cmd
}

func sender(msg chat.Message) string {
	if msg.UserName != "" {
		return msg.UserName
	}
	return msg.UserID
}
