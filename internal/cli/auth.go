package cli

import (
	"context"
	"errors"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"eventconsole/console/internal/console"
	"eventconsole/console/internal/rbac"
	"eventconsole/console/internal/session"
)

func newLoginCommand(opts *rootOptions) *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and persist the session",
		Long: `Sign in with email and password. The refresh token is stored in the
configured token store so later commands start already signed in.

The password may also be given through CONSOLE_PASSWORD.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if password == "" {
				password = os.Getenv("CONSOLE_PASSWORD")
			}
			if email == "" || password == "" {
				return errors.New("--email and --password are required")
			}
			return opts.withApp(cmd, func(ctx context.Context, app *console.App) error {
				user, err := app.Session.Login(ctx, session.Credentials{Email: email, Password: password})
				if err != nil {
					return err
				}
				printf(cmd.OutOrStdout(), "logged in as %s <%s>\n", user.Name, user.Email)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&password, "password", "", "account password")
	return cmd
}

func newLogoutCommand(opts *rootOptions) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "logout",
		Short: "Sign out and forget the stored tokens",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withApp(cmd, func(ctx context.Context, app *console.App) error {
				app.Session.Logout(ctx, session.LogoutOptions{RevokeAllSessions: all})
				printf(cmd.OutOrStdout(), "logged out\n")
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "also end every other device session")
	return cmd
}

func newWhoamiCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in user, roles and permissions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withApp(cmd, func(ctx context.Context, app *console.App) error {
				if err := requireLogin(app); err != nil {
					return err
				}
				user := app.Session.CurrentUser()
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				printf(w, "id\t%s\n", user.ID)
				printf(w, "name\t%s\n", user.Name)
				printf(w, "email\t%s\n", user.Email)
				printf(w, "roles\t%s\n", strings.Join(roleNames(user), ", "))
				printf(w, "permissions\t%s\n", strings.Join(permissionNames(user), ", "))
				if expiry, err := app.Session.AccessExpiry(ctx); err == nil {
					printf(w, "access expires\t%s\n", expiry.Local().Format(time.DateTime))
				}
				return w.Flush()
			})
		},
	}
}

func newCanCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "can RESOURCE ACTION",
		Short: "Report whether the signed-in user may perform ACTION on RESOURCE",
		Example: `  console can notulen finalize
  console can users delete`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(_ context.Context, app *console.App) error {
				answer := "no"
				if app.Session.HasPermission(args[0], args[1]) {
					answer = "yes"
				}
				printf(cmd.OutOrStdout(), "%s\n", answer)
				return nil
			})
		},
	}
}

func roleNames(user *rbac.User) []string {
	names := make([]string, 0, len(user.Roles))
	for _, role := range user.Roles {
		names = append(names, role.Name)
	}
	return names
}

func permissionNames(user *rbac.User) []string {
	names := make([]string, 0, len(user.Permissions))
	for _, p := range user.Permissions {
		names = append(names, p.Resource+":"+p.Action)
	}
	return names
}
