package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"chat-core/internal/app"
	"chat-core/internal/config"
	"chat-core/internal/db"
	"chat-core/internal/services"
)

var rootCmd = &cobra.Command{
	Use:          "chat-core",
	Short:        "ERP chat: conversations, messages, presence and realtime delivery",
	RunE:         runServe,
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP, websocket and gRPC health servers",
	RunE:  runServe,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending migrations to every configured tenant database",
	RunE:  runMigrate,
}

var sweepCmd = &cobra.Command{
	Use:   "sweep-presence",
	Short: "Mark accounts not seen within the stale window offline",
	RunE:  runSweep,
}

var staleAfter time.Duration

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	sweepCmd.Flags().DurationVar(&staleAfter, "stale-after", 0, "override PRESENCE_STALE_AFTER")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(sweepCmd)
}

func runServe(*cobra.Command, []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	fxApp := fx.New(app.Module(cfg))
	if err := fxApp.Err(); err != nil {
		return err
	}
	fxApp.Run()
	return nil
}

// withCore starts the domain graph without any listener, runs fn and stops it.
func withCore(cmd *cobra.Command, fn func(ctx context.Context, cfg *config.Config, registry *db.Registry, presence *services.PresenceService, log *zap.Logger) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	var (
		registry *db.Registry
		presence *services.PresenceService
		log      *zap.Logger
	)
	fxApp := fx.New(app.Core(cfg), fx.Populate(&registry, &presence, &log))
	if err := fxApp.Err(); err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	startCtx, cancel := context.WithTimeout(ctx, fx.DefaultTimeout)
	defer cancel()
	if err := fxApp.Start(startCtx); err != nil {
		return err
	}
	runErr := fn(ctx, cfg, registry, presence, log)

	stopCtx, cancelStop := context.WithTimeout(context.Background(), fx.DefaultTimeout)
	defer cancelStop()
	if err := fxApp.Stop(stopCtx); err != nil && runErr == nil {
		return err
	}
	return runErr
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	return withCore(cmd, func(ctx context.Context, _ *config.Config, registry *db.Registry, _ *services.PresenceService, log *zap.Logger) error {
		// Opening a handle migrates it.
		return registry.Each(ctx, func(h db.Handle) error {
			log.Info("tenant database up to date", zap.String("tenant", h.Tenant))
			return nil
		})
	})
}

func runSweep(cmd *cobra.Command, _ []string) error {
	return withCore(cmd, func(ctx context.Context, cfg *config.Config, registry *db.Registry, presence *services.PresenceService, log *zap.Logger) error {
		window := cfg.PresenceStaleAfter
		if staleAfter > 0 {
			window = staleAfter
		}
		n, err := app.SweepAll(ctx, registry, presence, window)
		if err != nil {
			return fmt.Errorf("sweep presence: %w", err)
		}
		log.Info("presence sweep finished", zap.Int("offline", n), zap.Duration("stale_after", window))
		return nil
	})
}
