package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/Ogstra/ogs-tracker-stats/core"
	"github.com/bytedance/sonic"
	"github.com/spf13/cobra"
)

var chartOpts struct {
	kind      string
	window    string
	groupedBy string
	torrent   string
	counting  string
	days      string
	file      string
}

var chartCmd = &cobra.Command{
	Use:   "chart",
	Short: "Print one chart series as JSON",
	Long: `Builds a chart (connected, torrents or completed) from the tracker's
current snapshot, or from a saved /stats/data payload given with --file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		raw, err := readPayload(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		snap, err := core.DecodeSnapshot(raw)
		if err != nil {
			return err
		}
		out, err := buildChart(snap, time.Now())
		if err != nil {
			return err
		}
		return writeChart(cmd.OutOrStdout(), out)
	},
}

func init() {
	f := chartCmd.Flags()
	f.StringVar(&chartOpts.kind, "chart", "connected", "Chart to build: connected, torrents or completed")
	f.StringVar(&chartOpts.window, "time", string(core.LastThreeDays), "Window: last_hour, last_five_hours, last_day, last_three_days")
	f.StringVar(&chartOpts.groupedBy, "grouped-by", string(core.Hours), "Granularity: hours or minutes")
	f.StringVar(&chartOpts.torrent, "torrent", "", "Info hash (hex) for the connected chart")
	f.StringVar(&chartOpts.counting, "counting", "cumulative", "Counting: cumulative or per_bucket")
	f.StringVar(&chartOpts.days, "days", "heuristic", "Day arithmetic: heuristic or calendar")
	f.StringVar(&chartOpts.file, "file", "", "Read the payload from a file instead of the tracker")
	rootCmd.AddCommand(chartCmd)
}

func readPayload(ctx context.Context, cfg *core.Config) ([]byte, error) {
	if chartOpts.file != "" {
		return os.ReadFile(chartOpts.file)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	client := core.NewStatsClient(cfg.StatsURL, time.Duration(cfg.FetchTimeoutSec)*time.Second)
	return client.FetchRaw(ctx)
}

func buildChart(snap *core.Snapshot, now time.Time) (interface{}, error) {
	window, err := core.ParseWindow(chartOpts.window)
	if err != nil {
		return nil, err
	}
	granularity, err := core.ParseGranularity(chartOpts.groupedBy)
	if err != nil {
		return nil, err
	}
	counting, err := core.ParseCountMode(chartOpts.counting)
	if err != nil {
		return nil, err
	}
	days, err := core.ParseDayMode(chartOpts.days)
	if err != nil {
		return nil, err
	}
	q := core.Query{Window: window, Granularity: granularity, Now: now, Days: days, Counting: counting}

	switch chartOpts.kind {
	case "connected":
		return core.BuildConnectedChart(snap, q, chartOpts.torrent)
	case "torrents":
		return core.BuildTorrentsChart(snap, q)
	case "completed":
		return core.BuildCompletedChart(snap, window, now)
	default:
		return nil, fmt.Errorf("chart %q: %w", chartOpts.kind, core.ErrUnrecognizedSelection)
	}
}

func writeChart(w io.Writer, v interface{}) error {
	enc := sonic.ConfigStd.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
