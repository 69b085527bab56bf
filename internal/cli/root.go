// Package cli is the sandbox terminal front end.
package cli

import (
	"context"
	"fmt"
	"os"

	sandbox "github.com/layer-3/passport-sandbox"
	"github.com/layer-3/passport-sandbox/config"
	"github.com/layer-3/passport-sandbox/ports"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	cfgPath string
	isDebug bool

	// appOptions are passed to every App the commands build
	appOptions []sandbox.Option
)

var rootCmd = &cobra.Command{
	Use:           "sandbox",
	Short:         "DotPassport sandbox client",
	Long:          `sandbox logs in to the DotPassport developer sandbox with a wallet, manages the API key and exercises the DotPassport API.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "config.yaml", "config file")
	rootCmd.PersistentFlags().BoolVar(&isDebug, "debug", false, "enable debug logging")
}

func newLogger(level string) (*zap.Logger, error) {
	if isDebug || level == "debug" {
		return zap.NewDevelopment()
	}

	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid logging.level %q: %w", level, err)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.Encoding = "console"
	return cfg.Build()
}

// openApp loads the configuration and wires the client. The returned func
// releases it.
func openApp(cmd *cobra.Command) (*sandbox.App, func(), error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, nil, err
	}

	logger, err := newLogger(cfg.Logging.Level)
	if err != nil {
		return nil, nil, err
	}

	app, err := sandbox.New(cfg, logger, appOptions...)
	if err != nil {
		_ = logger.Sync()
		return nil, nil, fmt.Errorf("failed to initialize client: %w", err)
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	errOut := cmd.ErrOrStderr()
	err = app.WatchSession(ctx, func(topic string, event ports.SessionEvent) {
		if topic == ports.TopicSessionExpired {
			fmt.Fprintln(errOut, "Your session expired. Run `sandbox login` to sign in again.")
		}
	})
	if err != nil {
		logger.Warn("session events unavailable", zap.Error(err))
	}

	return app, func() {
		cancel()
		if err := app.Close(); err != nil {
			logger.Warn("failed to close client", zap.Error(err))
		}
		_ = logger.Sync()
	}, nil
}

// restore resumes the persisted session and fails when there is none
func restore(ctx context.Context, app *sandbox.App) error {
	app.Session.RestoreSession(ctx)
	if !app.Session.IsAuthenticated() {
		return errNotLoggedIn
	}
	return nil
}
