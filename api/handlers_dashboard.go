package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/Ogstra/ogs-tracker-stats/core"
	"github.com/samber/lo"
)

// ChartData is a chart.js-ready line or bar: category labels plus values.
type ChartData struct {
	Window     string   `json:"window"`
	GroupedBy  string   `json:"grouped_by,omitempty"`
	Counting   string   `json:"counting,omitempty"`
	Days       string   `json:"days,omitempty"`
	Labels     []string `json:"labels"`
	Data       []int    `json:"data"`
	Torrents   []string `json:"torrents,omitempty"`
	Selected   string   `json:"selected,omitempty"`
	SnapshotAt int64    `json:"snapshot_at"`
}

// parseQuery reads time, grouped_by, days and counting, falling back to the
// configured defaults for the first two.
func (s *Server) parseQuery(v url.Values) (core.Query, error) {
	windowStr := v.Get("time")
	if windowStr == "" {
		windowStr = s.config.DefaultWindow
	}
	window, err := core.ParseWindow(windowStr)
	if err != nil {
		return core.Query{}, err
	}

	groupedStr := v.Get("grouped_by")
	if groupedStr == "" {
		groupedStr = s.config.DefaultGranularity
	}
	granularity, err := core.ParseGranularity(groupedStr)
	if err != nil {
		return core.Query{}, err
	}

	days, err := core.ParseDayMode(v.Get("days"))
	if err != nil {
		return core.Query{}, err
	}
	counting, err := core.ParseCountMode(v.Get("counting"))
	if err != nil {
		return core.Query{}, err
	}

	return core.Query{
		Window:      window,
		Granularity: granularity,
		Now:         s.now(),
		Days:        days,
		Counting:    counting,
	}, nil
}

// chartCacheKey identifies a chart response by its parsed selection, so
// defaulted and explicit forms of the same query share an entry.
func chartCacheKey(chart string, q core.Query, torrent string) string {
	return fmt.Sprintf("%s|%s|%s|%s|%s|%s", chart, q.Window, q.Granularity, q.Days, q.Counting, torrent)
}

// loadSnapshot prefers a live fetch and falls back to the latest stored
// snapshot.
func (s *Server) loadSnapshot(ctx context.Context) (*core.Snapshot, error) {
	if s.config.LiveFetch && s.client != nil {
		snap, err := s.client.Fetch(ctx)
		if err == nil {
			return snap, nil
		}
		s.logger.Warnf("Live fetch failed, using stored snapshot: %v", err)
	}
	rec, err := s.store.LatestSnapshot()
	if err != nil {
		return nil, err
	}
	return core.DecodeSnapshot(rec.Payload)
}

// serveChart handles caching, snapshot loading and error mapping shared by
// the chart endpoints. build turns a snapshot into the response body.
func (s *Server) serveChart(w http.ResponseWriter, r *http.Request, chart string, build func(*core.Snapshot, core.Query) (interface{}, error)) {
	q, err := s.parseQuery(r.URL.Query())
	if err != nil {
		core.ChartRequests.WithLabelValues(chart, "bad_request").Inc()
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	cacheKey := chartCacheKey(chart, q, r.URL.Query().Get("torrent"))
	if s.cache != nil {
		if body, ok := s.cache.Get(cacheKey); ok {
			core.ChartRequests.WithLabelValues(chart, "cached").Inc()
			w.Header().Set("Content-Type", "application/json")
			w.Write(body)
			return
		}
	}

	snap, err := s.loadSnapshot(r.Context())
	if err != nil {
		core.ChartRequests.WithLabelValues(chart, "unavailable").Inc()
		if errors.Is(err, core.ErrNoSnapshot) {
			http.Error(w, "No stats available", http.StatusServiceUnavailable)
			return
		}
		http.Error(w, "Failed to load stats: "+err.Error(), http.StatusBadGateway)
		return
	}

	resp, err := build(snap, q)
	if err != nil {
		core.ChartRequests.WithLabelValues(chart, "error").Inc()
		if errors.Is(err, core.ErrUnrecognizedSelection) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	body, err := json.Marshal(resp)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if s.cache != nil {
		s.cache.Add(cacheKey, body)
	}
	core.ChartRequests.WithLabelValues(chart, "ok").Inc()
	w.Header().Set("Content-Type", "application/json")
	w.Write(body)
}

func (s *Server) handleConnectedChart(w http.ResponseWriter, r *http.Request) {
	selected := r.URL.Query().Get("torrent")
	s.serveChart(w, r, "connected", func(snap *core.Snapshot, q core.Query) (interface{}, error) {
		chart, err := core.BuildConnectedChart(snap, q, selected)
		if err != nil {
			return nil, err
		}
		return ChartData{
			Window:     q.Window.String(),
			GroupedBy:  q.Granularity.String(),
			Counting:   q.Counting.String(),
			Days:       q.Days.String(),
			Labels:     chart.Series.Labels(),
			Data:       chart.Series.Counts(),
			Torrents:   chart.Torrents,
			Selected:   chart.Selected,
			SnapshotAt: q.Now.Unix(),
		}, nil
	})
}

func (s *Server) handleCompletedChart(w http.ResponseWriter, r *http.Request) {
	s.serveChart(w, r, "completed", func(snap *core.Snapshot, q core.Query) (interface{}, error) {
		bars, err := core.BuildCompletedChart(snap, q.Window, q.Now)
		if err != nil {
			return nil, err
		}
		return ChartData{
			Window:     q.Window.String(),
			Labels:     lo.Map(bars, func(b core.CompletedBar, _ int) string { return b.Torrent }),
			Data:       lo.Map(bars, func(b core.CompletedBar, _ int) int { return b.Count }),
			SnapshotAt: q.Now.Unix(),
		}, nil
	})
}

func (s *Server) handleTorrentsChart(w http.ResponseWriter, r *http.Request) {
	s.serveChart(w, r, "torrents", func(snap *core.Snapshot, q core.Query) (interface{}, error) {
		series, err := core.BuildTorrentsChart(snap, q)
		if err != nil {
			return nil, err
		}
		return ChartData{
			Window:     q.Window.String(),
			GroupedBy:  q.Granularity.String(),
			Counting:   q.Counting.String(),
			Days:       q.Days.String(),
			Labels:     series.Labels(),
			Data:       series.Counts(),
			SnapshotAt: q.Now.Unix(),
		}, nil
	})
}

// handleGetTorrents lists the torrents active in the window, for the
// dashboard's torrent select box.
func (s *Server) handleGetTorrents(w http.ResponseWriter, r *http.Request) {
	s.serveChart(w, r, "torrents_list", func(snap *core.Snapshot, q core.Query) (interface{}, error) {
		return core.ActiveItems(snap.ItemEvents(), q.Window, q.Now)
	})
}
