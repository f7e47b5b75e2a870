package core

import (
	"sync"
	"time"
)

const defaultHistoryLimit = 5000

// SnapshotPoint is the totals of one fetched snapshot.
type SnapshotPoint struct {
	Timestamp int64 `json:"timestamp"`
	Torrents  int64 `json:"torrents"`
	Items     int64 `json:"items"`
	Connected int64 `json:"connected"`
	Completed int64 `json:"completed"`
}

type SnapshotHistory struct {
	points []SnapshotPoint
	limit  int
	mu     sync.RWMutex
}

func NewSnapshotHistory(limit int) *SnapshotHistory {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	return &SnapshotHistory{
		points: make([]SnapshotPoint, 0),
		limit:  limit,
	}
}

func (h *SnapshotHistory) AddPoint(p SnapshotPoint) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if p.Timestamp == 0 {
		p.Timestamp = time.Now().Unix()
	}
	h.points = append(h.points, p)

	if len(h.points) > h.limit {
		h.points = h.points[len(h.points)-h.limit:]
	}
}

// GetHistory returns the points recorded within duration, or all of them
// when duration is zero.
func (h *SnapshotHistory) GetHistory(duration time.Duration) []SnapshotPoint {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if duration == 0 {
		out := make([]SnapshotPoint, len(h.points))
		copy(out, h.points)
		return out
	}

	cutoff := time.Now().Add(-duration).Unix()
	result := []SnapshotPoint{}
	for _, p := range h.points {
		if p.Timestamp >= cutoff {
			result = append(result, p)
		}
	}
	return result
}

func (h *SnapshotHistory) Latest() (SnapshotPoint, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.points) == 0 {
		return SnapshotPoint{}, false
	}
	return h.points[len(h.points)-1], true
}
