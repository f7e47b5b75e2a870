package core

import (
	"time"

	"github.com/samber/lo"
)

// Series is a bucketed chart line.
type Series []Bucket

func (s Series) Labels() []string {
	return lo.Map(s, func(b Bucket, _ int) string { return b.Label })
}

func (s Series) Counts() []int {
	return lo.Map(s, func(b Bucket, _ int) int { return b.Count })
}

// ConnectedChart is the connected-peers line of one torrent, plus the
// torrents the select box offers for the window.
type ConnectedChart struct {
	Torrents []string `json:"torrents"`
	Selected string   `json:"selected"`
	Series   Series   `json:"series"`
}

// BuildConnectedChart picks selected when it is active in the window, or the
// first active torrent otherwise, and buckets its connected stamps. The
// stamps themselves are not window-filtered; the bucket layout bounds them.
func BuildConnectedChart(snap *Snapshot, q Query, selected string) (*ConnectedChart, error) {
	torrents, err := ActiveItems(snap.ItemEvents(), q.Window, q.Now)
	if err != nil {
		return nil, err
	}

	chosen := ""
	if len(torrents) > 0 {
		chosen = torrents[0]
		if selected != "" && lo.Contains(torrents, selected) {
			chosen = selected
		}
	}

	var stamps []int64
	if chosen != "" {
		stamps = snap.ConnectedTimestamps(chosen)
	}
	buckets, err := GroupBy(stamps, q)
	if err != nil {
		return nil, err
	}
	return &ConnectedChart{Torrents: torrents, Selected: chosen, Series: buckets}, nil
}

// CompletedBar is the completed-download count of one torrent.
type CompletedBar struct {
	Torrent string `json:"torrent"`
	Count   int    `json:"count"`
}

// BuildCompletedChart returns one bar per torrent active in the window.
func BuildCompletedChart(snap *Snapshot, w Window, now time.Time) ([]CompletedBar, error) {
	torrents, err := ActiveItems(snap.ItemEvents(), w, now)
	if err != nil {
		return nil, err
	}
	return lo.Map(torrents, func(t string, _ int) CompletedBar {
		return CompletedBar{Torrent: t, Count: snap.CompletedCount(t)}
	}), nil
}

// BuildTorrentsChart buckets the torrent registrations inside the window.
func BuildTorrentsChart(snap *Snapshot, q Query) (Series, error) {
	stamps, err := FilterByWindow(snap.TorrentTimestamps(), q.Window, q.Now)
	if err != nil {
		return nil, err
	}
	return GroupBy(stamps, q)
}
