// Package cmd implements the storefront-intel command line.
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/storefront-intel/internal/config"
	"github.com/JakeFAU/storefront-intel/internal/logging"
	"github.com/JakeFAU/storefront-intel/internal/monitor"
	"github.com/JakeFAU/storefront-intel/internal/pipeline"
	"github.com/JakeFAU/storefront-intel/internal/server"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App is the surface commands use. Tests inject a fake.
type App interface {
	Watch(ctx context.Context) error
	Serve(ctx context.Context) error
	RunOnce(ctx context.Context, tmpl *monitor.RequestTemplate) (pipeline.Report, error)
	Rank(ctx context.Context, window time.Duration, n int) (pipeline.Report, error)
	Close(ctx context.Context) error
}

// appFactory builds the App once configuration and logging are ready.
type appFactory func(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error)

func buildApp(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error) {
	app, err := server.Build(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return app, nil
}

// newRootCmd creates and configures the root command.
func newRootCmd(newApp appFactory) *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "storefront-intel",
		Short: "Capture, replay and rank commerce analytics traffic.",
		Long: `storefront-intel watches an authenticated analytics session, decodes the
shop, product and video lists it observes, replays the product query for every
discovered shop and ranks the results by growth and composite score.`,
		SilenceUsage: true,

		// Build the application after flags are parsed and before RunE.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
			if err != nil {
				return fmt.Errorf("logger init failed: %w", err)
			}
			zap.ReplaceGlobals(logger)

			appInstance, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			if appInstance, ok := cmd.Context().Value(appKey).(App); ok && appInstance != nil {
				return appInstance.Close(context.WithoutCancel(cmd.Context()))
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML); INTEL_* environment variables override it")

	cmd.AddCommand(newWatchCmd(), newServeCmd(), newRunOnceCmd(), newRankCmd())
	return cmd
}

func appFrom(cmd *cobra.Command) (App, error) {
	appInstance, ok := cmd.Context().Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, fmt.Errorf("application not initialized")
	}
	return appInstance, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}

// Execute is the main entry point.
func Execute() {
	root := newRootCmd(buildApp)
	if err := root.ExecuteContext(context.Background()); err != nil {
		zap.L().Error("command execution failed", zap.Error(err))
		os.Exit(1)
	}
}
