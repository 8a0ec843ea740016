// Package cli implements the console command tree.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"eventconsole/console/internal/config"
	"eventconsole/console/internal/console"
	"eventconsole/console/internal/session"
)

type rootOptions struct {
	configPath string
	logLevel   string
	// appOptions is overridden by tests.
	appOptions console.Options
}

// NewRootCommand builds the console command tree.
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "console",
		Short: "Event console client",
		Long: `console talks to the event platform API: it logs in, keeps the session
alive across restarts, answers permission questions, and follows meeting
minutes and chat channels live.

Configuration comes from an optional YAML file (--config) overlaid by
CONSOLE_* environment variables.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", os.Getenv("CONSOLE_CONFIG"), "path to a YAML config file")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override the log level (debug, info, warn, error)")

	root.AddCommand(
		newLoginCommand(opts),
		newLogoutCommand(opts),
		newWhoamiCommand(opts),
		newCanCommand(opts),
		newSessionsCommand(opts),
		newMinutesCommand(opts),
		newChatCommand(opts),
		newDevserverCommand(opts),
	)
	return root
}

// ExecuteContext runs the command tree with ctx, which is cancelled on interrupt.
func ExecuteContext(ctx context.Context) error {
	return NewRootCommand().ExecuteContext(ctx)
}

func (o *rootOptions) loadConfig() (config.Config, error) {
	cfg, err := config.LoadFile(o.configPath)
	if err != nil {
		return config.Config{}, err
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}
	return cfg, nil
}

// withApp builds the app, recovers the persisted session and runs fn.
func (o *rootOptions) withApp(cmd *cobra.Command, fn func(ctx context.Context, app *console.App) error) error {
	cfg, err := o.loadConfig()
	if err != nil {
		return err
	}
	appOpts := o.appOptions
	if appOpts.Navigator == nil {
		stderr := cmd.ErrOrStderr()
		appOpts.Navigator = session.NavigatorFunc(func() {
			fmt.Fprintln(stderr, "session ended, run `console login` to sign in again")
		})
	}
	app, err := console.New(cfg, appOpts)
	if err != nil {
		return err
	}
	defer app.Close()

	ctx := cmd.Context()
	if err := app.Start(ctx); err != nil {
		return err
	}
	return fn(ctx, app)
}

func requireLogin(app *console.App) error {
	if !app.Session.IsAuthenticated() {
		return fmt.Errorf("%w: run `console login` first", session.ErrNotAuthenticated)
	}
	return nil
}

func printf(w io.Writer, format string, args ...any) {
	_, _ = fmt.Fprintf(w, format, args...)
}
