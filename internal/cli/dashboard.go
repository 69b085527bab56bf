package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/layer-3/passport-sandbox/core"
	"github.com/spf13/cobra"
)

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage the sandbox API key",
}

var keysShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the cached API key",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, closeApp, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer closeApp()

		key := app.Session.APIKey(cmd.Context())
		if key == "" {
			return errNotLoggedIn
		}
		fmt.Fprintln(cmd.OutOrStdout(), key)
		return nil
	},
}

var keysRegenerateCmd = &cobra.Command{
	Use:   "regenerate",
	Short: "Sign a fresh challenge and issue a new API key",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, closeApp, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer closeApp()

		ctx := cmd.Context()
		if err := restore(ctx, app); err != nil {
			return err
		}
		if app.Session.State().NeedsWalletReconnect {
			return fmt.Errorf("%w: run `sandbox reconnect` first", core.ErrNoAccountSelected)
		}

		key, err := app.Session.RegenerateAPIKey(ctx)
		if err != nil {
			return fmt.Errorf("failed to regenerate api key: %w", err)
		}
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, "New API key, shown only once. The previous key stops working now:")
		fmt.Fprintf(out, "  %s\n", key)
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show usage statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, closeApp, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer closeApp()

		stats, err := app.Session.Stats(cmd.Context())
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "Total requests\t%d\n", stats.TotalRequests)
		fmt.Fprintf(w, "Success rate\t%.1f%%\n", stats.SuccessRate)
		fmt.Fprintf(w, "Avg response\t%.0fms\n", stats.AvgResponseTime)

		methods := make([]string, 0, len(stats.ByMethod))
		for m := range stats.ByMethod {
			methods = append(methods, m)
		}
		sort.Strings(methods)
		for _, m := range methods {
			fmt.Fprintf(w, "  %s\t%d\n", m, stats.ByMethod[m])
		}
		return w.Flush()
	},
}

var logsFlags struct {
	method string
	status string
	since  time.Duration
	page   int
	limit  int
	json   bool
}

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "List recorded API requests",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, closeApp, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer closeApp()

		filter := core.LogFilter{
			Method: logsFlags.method,
			Status: logsFlags.status,
			Page:   logsFlags.page,
			Limit:  logsFlags.limit,
		}
		if logsFlags.since > 0 {
			filter.From = time.Now().Add(-logsFlags.since)
		}

		page, err := app.Session.Logs(cmd.Context(), filter)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if logsFlags.json {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(page)
		}
		printLogs(out, page.Items)
		fmt.Fprintf(out, "page %d, %d of %d\n", page.Page, len(page.Items), page.Total)
		return nil
	},
}

func printLogs(out io.Writer, items []core.RequestLog) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tMETHOD\tSTATUS\tMS\tORIGIN")
	for _, l := range items {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\n", l.CreatedAt.Local().Format(time.DateTime), l.Method, l.StatusCode, l.ResponseTime, l.Origin)
	}
	_ = w.Flush()
}

var originsCmd = &cobra.Command{
	Use:   "origins",
	Short: "Manage the origins allowed to embed the widget",
}

var originsGetCmd = &cobra.Command{
	Use:   "get",
	Short: "List allowed origins",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, closeApp, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer closeApp()

		origins, err := app.Session.Origins(cmd.Context())
		if err != nil {
			return err
		}
		for _, o := range origins {
			fmt.Fprintln(cmd.OutOrStdout(), o)
		}
		return nil
	},
}

var originsSetCmd = &cobra.Command{
	Use:   "set [origin...]",
	Short: "Replace the allowed origins",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, closeApp, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer closeApp()

		origins, err := app.Session.UpdateOrigins(cmd.Context(), args)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d origin(s) allowed\n", len(origins))
		return nil
	},
}

func init() {
	logsCmd.Flags().StringVar(&logsFlags.method, "method", "", "only this SDK method")
	logsCmd.Flags().StringVar(&logsFlags.status, "status", "", "success, error or a status code")
	logsCmd.Flags().DurationVar(&logsFlags.since, "since", 0, "only requests newer than this")
	logsCmd.Flags().IntVar(&logsFlags.page, "page", 1, "page number")
	logsCmd.Flags().IntVar(&logsFlags.limit, "limit", 20, "page size")
	logsCmd.Flags().BoolVar(&logsFlags.json, "json", false, "print the raw page")

	keysCmd.AddCommand(keysShowCmd, keysRegenerateCmd)
	originsCmd.AddCommand(originsGetCmd, originsSetCmd)
	rootCmd.AddCommand(keysCmd, statsCmd, logsCmd, originsCmd)
}
