// Package cmd defines the CLI commands for the link auditor executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/metafield-link-auditor/internal/app"
	"github.com/JakeFAU/metafield-link-auditor/internal/config"
	"github.com/JakeFAU/metafield-link-auditor/internal/logging"
)

var cfgFile string

type appKeyType string

const appKey appKeyType = "app"

// newApp builds the application services. Tests swap it for a factory that
// injects fake catalogs.
var newApp = func(cfg config.Config) (*app.App, error) {
	logger, err := logging.New(cfg.Logger())
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(logger)
	return app.New(cfg, logger, app.Options{})
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "linkaudit",
		Short: "Audits product metafield links and hides products whose links are dead.",
		Long: `linkaudit reads one metafield from every product in scope, checks each URL
it finds, and optionally moves products with broken links out of the storefront.
Runs are resumable with the token printed at the end of each run.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			a, err := newApp(cfg)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, a))
			return nil
		},

		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return nil
			}
			ctx, cancel := context.WithTimeout(context.Background(), a.Config().Server.ShutdownTimeout)
			defer cancel()
			if err := a.Close(ctx); err != nil {
				a.Logger().Warn("application shutdown incomplete", zap.Error(err))
			}
			_ = a.Logger().Sync()
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML); env vars prefixed LINKAUDIT_ override it")

	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newServeCmd())
	return cmd
}

func resolveApp(ctx context.Context) (*app.App, error) {
	a, ok := ctx.Value(appKey).(*app.App)
	if !ok || a == nil {
		return nil, errors.New("application services not initialized")
	}
	return a, nil
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
