// Package cmd defines the CLI commands of the xkcd-mirror executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/xkcd-mirror/internal/config"
	"github.com/JakeFAU/xkcd-mirror/internal/logging"
	"github.com/JakeFAU/xkcd-mirror/internal/server"
)

// appKeyType is the key for storing the App in the command context.
type appKeyType string

const appKey appKeyType = "app"

// App is the subset of *server.App the commands use. Tests swap in a fake.
type App interface {
	Run(ctx context.Context) error
	SyncOnce(ctx context.Context) error
	Close(ctx context.Context) error
}

type serverApp struct{ *server.App }

func (a serverApp) SyncOnce(ctx context.Context) error {
	_, err := a.App.SyncOnce(ctx)
	return err
}

// newApp is the application factory. It's a variable so tests can replace it.
var newApp = func(ctx context.Context, cfgFile string) (App, *zap.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)

	app, err := server.Build(ctx, &cfg, logger)
	if err != nil {
		return nil, logger, fmt.Errorf("build application: %w", err)
	}
	return serverApp{app}, logger, nil
}

func newRootCmd() *cobra.Command {
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "xkcd-mirror",
		Short: "Mirror the xkcd comic archive and serve it over HTTP.",
		Long: `xkcd-mirror downloads comic metadata and images from xkcd.com,
keeps them in a local (or cloud) store, and serves them through a small
REST API and browser viewer.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			app, logger, err := newApp(cmd.Context(), cfgFile)
			if err != nil {
				return err
			}
			ctx := context.WithValue(cmd.Context(), appKey, app)
			if logger != nil {
				ctx = context.WithValue(ctx, loggerKey{}, logger)
			}
			cmd.SetContext(ctx)
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if logger, ok := cmd.Context().Value(loggerKey{}).(*zap.Logger); ok {
				_ = logger.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML); XKCD_* env vars override it")
	cmd.AddCommand(newServeCmd(), newSyncCmd())
	return cmd
}

type loggerKey struct{}

func resolveApp(ctx context.Context) (App, error) {
	app, ok := ctx.Value(appKey).(App)
	if !ok || app == nil {
		return nil, errors.New("application services not initialized")
	}
	return app, nil
}

// Execute runs the root command until it finishes or the process receives
// SIGINT/SIGTERM.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}
