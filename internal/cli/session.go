package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/layer-3/passport-sandbox/core"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Connect a wallet and sign in to the sandbox",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, closeApp, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer closeApp()

		ctx := cmd.Context()
		out := cmd.OutOrStdout()

		app.Session.RestoreSession(ctx)
		st := app.Session.State()
		if st.Authenticated && st.User != nil {
			if !st.NeedsWalletReconnect {
				fmt.Fprintf(out, "Already logged in as %s\n", st.User.Address)
				return nil
			}
			fmt.Fprintln(out, "Your session is still valid but the wallet needs to be reconnected.")
			return runDialog(ctx, app, newPrompter(cmd.InOrStdin(), out), out, true)
		}
		return runDialog(ctx, app, newPrompter(cmd.InOrStdin(), out), out, false)
	},
}

var reconnectCmd = &cobra.Command{
	Use:   "reconnect",
	Short: "Reconnect the wallet of a restored session",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, closeApp, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer closeApp()

		ctx := cmd.Context()
		out := cmd.OutOrStdout()
		if err := restore(ctx, app); err != nil {
			return err
		}
		if !app.Session.State().NeedsWalletReconnect {
			fmt.Fprintln(out, "Wallet already connected.")
			return nil
		}
		return runDialog(ctx, app, newPrompter(cmd.InOrStdin(), out), out, true)
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "End the session and forget the stored tokens",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, closeApp, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer closeApp()

		app.Session.Logout(cmd.Context())
		fmt.Fprintln(cmd.OutOrStdout(), "Logged out.")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the session, usage and recent requests",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, closeApp, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer closeApp()

		ctx := cmd.Context()
		out := cmd.OutOrStdout()

		app.Session.RestoreSession(ctx)
		st := app.Session.State()
		if !st.Authenticated || st.User == nil {
			fmt.Fprintln(out, "Not logged in.")
			if st.Error != "" {
				fmt.Fprintf(out, "! %s\n", st.Error)
			}
			return nil
		}

		var (
			stats *core.Stats
			logs  *core.LogPage
		)
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			var err error
			stats, err = app.Session.Stats(gctx)
			return err
		})
		g.Go(func() error {
			var err error
			logs, err = app.Session.Logs(gctx, core.LogFilter{Limit: 5})
			return err
		})
		if err := g.Wait(); err != nil {
			return fmt.Errorf("failed to load dashboard: %w", err)
		}

		u := st.User
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "Address\t%s\n", u.Address)
		fmt.Fprintf(w, "Tier\t%s\n", u.Tier)
		wallet := "connected"
		if st.NeedsWalletReconnect {
			wallet = "needs reconnect (run `sandbox reconnect`)"
		}
		fmt.Fprintf(w, "Wallet\t%s\n", wallet)
		fmt.Fprintf(w, "Hourly\t%d / %d\n", stats.Usage.Hourly, stats.RateLimits.Hourly)
		fmt.Fprintf(w, "Daily\t%d / %d\n", stats.Usage.Daily, stats.RateLimits.Daily)
		fmt.Fprintf(w, "Monthly\t%d / %d\n", stats.Usage.Monthly, stats.RateLimits.Monthly)
		fmt.Fprintf(w, "Requests\t%d (%.1f%% ok, %.0fms avg)\n", stats.TotalRequests, stats.SuccessRate, stats.AvgResponseTime)
		_ = w.Flush()

		if len(logs.Items) > 0 {
			fmt.Fprintln(out, "\nRecent requests:")
			printLogs(out, logs.Items)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(loginCmd, reconnectCmd, logoutCmd, statusCmd)
}
