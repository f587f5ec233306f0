// Package cmd defines and implements the CLI commands for the numberwatch executable.
package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/numberwatch/internal/app"
	"github.com/JakeFAU/numberwatch/internal/config"
	"github.com/JakeFAU/numberwatch/internal/crawl"
	"github.com/JakeFAU/numberwatch/internal/logging"
	"github.com/JakeFAU/numberwatch/internal/parse"
	"github.com/JakeFAU/numberwatch/internal/reconcile"
	"github.com/JakeFAU/numberwatch/internal/storage/postgres/migrations"
	"github.com/JakeFAU/numberwatch/internal/watch"
)

var cfgFile string

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App is the application surface the commands use.
// Tests swap in a fake through newApp.
type App interface {
	Logger() *zap.Logger
	Crawl(ctx context.Context, opts crawl.Options) (crawl.Result, error)
	Parse(ctx context.Context, count int) ([]parse.Result, error)
	Reconcile(ctx context.Context, opts reconcile.Options) (reconcile.Summary, error)
	AddWatch(ctx context.Context, userID int64, raw, label string) (watch.UserNumber, error)
	ToggleWatch(ctx context.Context, userID, id int64) (watch.UserNumber, error)
	DeleteWatch(ctx context.Context, userID, id int64) error
	SetContact(ctx context.Context, userID int64, c app.Contact) (watch.NotificationSettings, error)
	StartVerification(ctx context.Context, userID int64, channel string) (watch.Verification, error)
	ConfirmVerification(ctx context.Context, userID int64, code int) (bool, error)
	Migrate(dir migrations.Direction) (bool, error)
	Serve(ctx context.Context) error
	Close(ctx context.Context)
}

// newApp is the application factory. It's a variable so tests can replace it.
var newApp = func(ctx context.Context, path string) (App, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(logger)
	return app.Build(ctx, cfg, logger)
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "numberwatch",
		Short: "Tracks published order numbers and notifies the users watching them.",
		Long: `numberwatch crawls the publication index for order PDFs, extracts the
file numbers they list, and reconciles those numbers against user watches,
notifying each user when their number appears.`,
		SilenceUsage: true,

		// Builds the app once config is known; withApp closes it after the subcommand.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := newApp(cmd.Context(), cfgFile)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (defaults and NUMBERWATCH_* env only when empty)")

	cmd.AddCommand(
		newCrawlCmd(),
		newParseCmd(),
		newReconcileCmd(),
		newWatchCmd(),
		newContactCmd(),
		newMigrateCmd(),
		newServeCmd(),
	)
	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		zap.L().Fatal("Command execution failed", zap.Error(err))
	}
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// withApp resolves the App for run and closes it afterwards, also on error.
func withApp(run func(cmd *cobra.Command, args []string, a App) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		appInstance, err := resolveApp(cmd.Context())
		if err != nil {
			return err
		}
		defer appInstance.Close(context.WithoutCancel(cmd.Context()))
		return run(cmd, args, appInstance)
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
