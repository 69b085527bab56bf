package cli

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/layer-3/passport-sandbox/adapters/dotpassport"
	"github.com/layer-3/passport-sandbox/service"
	"github.com/spf13/cobra"
)

var walletsCmd = &cobra.Command{
	Use:   "wallets",
	Short: "List supported wallet extensions",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, closeApp, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer closeApp()

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tINSTALLED")
		for _, opt := range app.Wallet.ListInstalledWallets() {
			fmt.Fprintf(w, "%s\t%s\t%t\n", opt.ID, opt.Name, opt.Installed)
		}
		return w.Flush()
	},
}

var addressesCmd = &cobra.Command{
	Use:   "addresses",
	Short: "Manage saved addresses for the playground",
}

var addressesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved addresses",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, closeApp, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer closeApp()

		ctx := cmd.Context()
		def := app.Addresses.Default(ctx)
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ADDRESS\tLABEL\tDEFAULT")
		for _, a := range app.Addresses.List(ctx) {
			mark := ""
			if a.Address == def {
				mark = "*"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\n", a.Address, a.Label, mark)
		}
		return w.Flush()
	},
}

var addressesAddCmd = &cobra.Command{
	Use:   "add <address> [label]",
	Short: "Save an address",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, closeApp, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer closeApp()

		label := ""
		if len(args) == 2 {
			label = args[1]
		}
		return app.Addresses.Add(cmd.Context(), args[0], label)
	},
}

var addressesRemoveCmd = &cobra.Command{
	Use:   "remove <address>",
	Short: "Forget a saved address",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, closeApp, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer closeApp()
		return app.Addresses.Remove(cmd.Context(), args[0])
	},
}

var addressesDefaultCmd = &cobra.Command{
	Use:   "default [address]",
	Short: "Set or clear the default address",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, closeApp, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer closeApp()

		address := ""
		if len(args) == 1 {
			address = args[0]
		}
		return app.Addresses.SetDefault(cmd.Context(), address)
	},
}

var playgroundParams []string

var playgroundCmd = &cobra.Command{
	Use:       "playground <method>",
	Short:     "Call a DotPassport API method with the sandbox key",
	Args:      cobra.ExactArgs(1),
	ValidArgs: dotpassport.MethodNames(),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, closeApp, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer closeApp()

		ctx := cmd.Context()
		params := make(map[string]string, len(playgroundParams))
		for _, kv := range playgroundParams {
			k, v, ok := strings.Cut(kv, "=")
			if !ok {
				return fmt.Errorf("param %q is not key=value", kv)
			}
			params[k] = v
		}
		if _, ok := params["address"]; !ok {
			if def := app.Addresses.Default(ctx); def != "" {
				params["address"] = def
			}
		}

		res, err := app.Playground.Run(ctx, args[0], params)
		out := cmd.OutOrStdout()
		if res != nil {
			fmt.Fprintf(out, "%s -> %d in %dms\n", res.Entry.Method, res.Entry.StatusCode, res.Entry.DurationMS)
			if len(res.Body) > 0 {
				var pretty any
				if json.Unmarshal(res.Body, &pretty) == nil {
					enc := json.NewEncoder(out)
					enc.SetIndent("", "  ")
					_ = enc.Encode(pretty)
				} else {
					fmt.Fprintln(out, string(res.Body))
				}
			}
		}
		return err
	},
}

var playgroundHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent playground calls",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, closeApp, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer closeApp()

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "AT\tMETHOD\tSTATUS\tMS\tERROR")
		for _, e := range app.Playground.History(cmd.Context()) {
			status := fmt.Sprint(e.StatusCode)
			if e.Cancelled {
				status = "cancelled"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", e.At.Local().Format("15:04:05"), e.Method, status, e.DurationMS, e.Error)
		}
		return w.Flush()
	},
}

var prefsFlags struct {
	sidebarCollapsed bool
	widgetType       string
	widgetTheme      string
}

var prefsCmd = &cobra.Command{
	Use:   "prefs",
	Short: "Show or change dashboard preferences",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, closeApp, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer closeApp()

		ctx := cmd.Context()
		if cmd.Flags().Changed("sidebar-collapsed") {
			if err := app.Preferences.SetSidebarCollapsed(ctx, prefsFlags.sidebarCollapsed); err != nil {
				return err
			}
		}
		if cmd.Flags().Changed("widget") || cmd.Flags().Changed("theme") {
			preview, _ := app.Preferences.WidgetPreview(ctx)
			if prefsFlags.widgetType != "" {
				preview.Type = prefsFlags.widgetType
			}
			if prefsFlags.widgetTheme != "" {
				preview.Theme = prefsFlags.widgetTheme
			}
			if preview.Address == "" {
				preview.Address = app.Addresses.Default(ctx)
			}
			if err := app.Preferences.SetWidgetPreview(ctx, preview); err != nil {
				return err
			}
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "sidebar collapsed: %t\n", app.Preferences.SidebarCollapsed(ctx))
		if preview, ok := app.Preferences.WidgetPreview(ctx); ok {
			printPreview(cmd, preview)
		}
		return nil
	},
}

func printPreview(cmd *cobra.Command, p service.WidgetPreview) {
	fmt.Fprintf(cmd.OutOrStdout(), "widget preview: %s for %s (theme %s)\n", p.Type, p.Address, p.Theme)
}

func init() {
	playgroundCmd.Flags().StringArrayVarP(&playgroundParams, "param", "p", nil, "method parameter as key=value, repeatable")
	playgroundCmd.AddCommand(playgroundHistoryCmd)

	prefsCmd.Flags().BoolVar(&prefsFlags.sidebarCollapsed, "sidebar-collapsed", false, "collapse the sidebar")
	prefsCmd.Flags().StringVar(&prefsFlags.widgetType, "widget", "", "widget type to preview")
	prefsCmd.Flags().StringVar(&prefsFlags.widgetTheme, "theme", "", "widget preview theme")

	addressesCmd.AddCommand(addressesListCmd, addressesAddCmd, addressesRemoveCmd, addressesDefaultCmd)
	rootCmd.AddCommand(walletsCmd, addressesCmd, playgroundCmd, prefsCmd)
}
