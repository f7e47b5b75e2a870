package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/Ogstra/ogs-tracker-stats/core"
)

func (s *Server) requirePoller(w http.ResponseWriter) bool {
	if s.poller == nil {
		http.Error(w, "Poller not running", http.StatusServiceUnavailable)
		return false
	}
	return true
}

func (s *Server) handleRunPoller(w http.ResponseWriter, r *http.Request) {
	if !s.requirePoller(w) {
		return
	}
	writeJSON(w, s.poller.TriggerOnce())
}

func (s *Server) handlePausePoller(w http.ResponseWriter, r *http.Request) {
	if !s.requirePoller(w) {
		return
	}
	s.poller.SetPaused(true)
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleResumePoller(w http.ResponseWriter, r *http.Request) {
	if !s.requirePoller(w) {
		return
	}
	s.poller.SetPaused(false)
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handlePollerHistory(w http.ResponseWriter, r *http.Request) {
	runs, err := s.store.GetPollRuns(queryLimit(r, 5))
	if err != nil {
		http.Error(w, "Failed to read poller history: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if runs == nil {
		runs = []core.PollRun{}
	}
	writeJSON(w, map[string]interface{}{
		"paused": s.poller != nil && s.poller.IsPaused(),
		"runs":   runs,
	})
}

func (s *Server) handleGetSnapshots(w http.ResponseWriter, r *http.Request) {
	snaps, err := s.store.ListSnapshots(queryLimit(r, 20))
	if err != nil {
		http.Error(w, "Failed to list snapshots: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if snaps == nil {
		snaps = []core.SnapshotRecord{}
	}
	writeJSON(w, snaps)
}

// handleGetStats returns the snapshot totals recorded by the poller within
// range (30m, 1h, 6h, 24h, 1w, all; default 24h).
func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	var duration time.Duration
	switch r.URL.Query().Get("range") {
	case "30m":
		duration = 30 * time.Minute
	case "1h":
		duration = 1 * time.Hour
	case "6h":
		duration = 6 * time.Hour
	case "1w":
		duration = 7 * 24 * time.Hour
	case "all":
		duration = 0
	default:
		duration = 24 * time.Hour
	}
	writeJSON(w, s.history.GetHistory(duration))
}

func (s *Server) handlePruneNow(w http.ResponseWriter, r *http.Request) {
	days := s.config.RetentionDays
	if days <= 0 {
		days = 30
	}
	var payload map[string]int
	if err := json.NewDecoder(r.Body).Decode(&payload); err == nil {
		if v, ok := payload["days"]; ok && v > 0 {
			days = v
		}
	}
	deleted, cutoff, err := s.store.PruneRetention(days)
	if err != nil {
		http.Error(w, "Prune failed: "+err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]interface{}{
		"deleted": deleted,
		"cutoff":  cutoff,
		"days":    days,
	})
}

func queryLimit(r *http.Request, def int) int {
	if l := r.URL.Query().Get("limit"); l != "" {
		if v, err := strconv.Atoi(l); err == nil && v > 0 {
			return v
		}
	}
	return def
}
