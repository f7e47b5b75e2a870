package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/Ogstra/ogs-tracker-stats/api"
	"github.com/Ogstra/ogs-tracker-stats/core"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the chart API with the background poller",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger, err := core.NewLogger(cfg.LogLevel, cfg.LogDevelopment)
		if err != nil {
			return err
		}
		defer logger.Sync()

		logger.Infof("Starting tracker stats...")
		logger.Infow("Config", "stats_url", cfg.StatsURL, "database_path", cfg.DatabasePath,
			"listen_addr", cfg.ListenAddr, "use_poller", cfg.UsePoller, "live_fetch", cfg.LiveFetch)

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := api.StartServer(ctx, cfg, logger); err != nil {
			logger.Errorf("Server error: %v", err)
			return err
		}
		logger.Infof("Shutting down...")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
