package cmd

import (
	"fmt"

	"github.com/Ogstra/ogs-tracker-stats/core"
	"github.com/spf13/cobra"
)

var (
	configPath string
	dbPath     string
	statsURL   string
)

var rootCmd = &cobra.Command{
	Use:   "tracker-stats",
	Short: "Tracker statistics dashboard backend",
	Long: `Fetches the BitTorrent tracker's historical statistics and serves
time-bucketed chart series for connected peers, completed downloads and
registered torrents.`,
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.json", "Path to config.json")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Path to stats.db (overrides database_path)")
	rootCmd.PersistentFlags().StringVar(&statsURL, "stats-url", "", "Tracker /stats/data URL (overrides stats_url)")
}

// loadConfig applies the command-line overrides on top of the file and
// environment configuration, then validates the result.
func loadConfig() (*core.Config, error) {
	cfg, err := core.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	if dbPath != "" {
		cfg.DatabasePath = dbPath
	}
	if statsURL != "" {
		cfg.StatsURL = statsURL
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
