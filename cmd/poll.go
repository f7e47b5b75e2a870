package cmd

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/Ogstra/ogs-tracker-stats/core"
	"github.com/spf13/cobra"
)

var pollCmd = &cobra.Command{
	Use:   "poll",
	Short: "Run the snapshot poller only (no HTTP server)",
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

		logger.Infof("Poller-only mode: polling %s every %ds", cfg.StatsURL, cfg.PollIntervalSec)
		store, err := core.NewStore(cfg.DatabasePath)
		if err != nil {
			logger.Errorf("Failed to open store: %v", err)
			return err
		}
		defer store.Close()

		client := core.NewStatsClient(cfg.StatsURL, time.Duration(cfg.FetchTimeoutSec)*time.Second)
		poller := core.NewPoller(client, store, core.NewSnapshotHistory(0), cfg, logger)
		poller.Start()

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		<-ctx.Done()

		logger.Infof("Stopping poller...")
		poller.Stop()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(pollCmd)
}
