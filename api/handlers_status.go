package api

import (
	"net/http"
	"os"

	"github.com/Ogstra/ogs-tracker-stats/core"
)

func (s *Server) handleGetSystemStatus(w http.ResponseWriter, r *http.Request) {
	var snapshotsCount int64
	var dbSizeBytes int64
	var latestSnapshotAt int64
	var lastPoll *core.PollRun

	if cnt, err := s.store.CountSnapshots(); err == nil {
		snapshotsCount = cnt
	}
	if info, err := os.Stat(s.config.DatabasePath); err == nil {
		dbSizeBytes = info.Size()
	}
	if list, err := s.store.ListSnapshots(1); err == nil && len(list) > 0 {
		latestSnapshotAt = list[0].Timestamp
	}
	if runs, err := s.store.GetPollRuns(1); err == nil && len(runs) > 0 {
		lastPoll = &runs[0]
	}

	var latest *core.SnapshotPoint
	if p, ok := s.history.Latest(); ok {
		latest = &p
	}

	status := map[string]interface{}{
		"stats_url":          s.config.StatsURL,
		"live_fetch":         s.config.LiveFetch,
		"poller_enabled":     s.poller != nil,
		"poller_paused":      s.poller != nil && s.poller.IsPaused(),
		"last_poll":          lastPoll,
		"latest_totals":      latest,
		"snapshots_count":    snapshotsCount,
		"latest_snapshot_at": latestSnapshotAt,
		"db_size_bytes":      dbSizeBytes,
		"retention_enabled":  s.config.RetentionEnabled,
		"retention_days":     s.config.RetentionDays,
	}
	writeJSON(w, status)
}
