package core

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bytedance/sonic"
)

// Event categories recorded by the tracker for each torrent.
const (
	CategoryConnected = "connected"
	CategoryCompleted = "completed"
	CategoryStopped   = "stopped"
)

var ErrMalformedSnapshot = errors.New("malformed stats snapshot")

// EventList is one named list of event timestamps of a torrent.
type EventList struct {
	Category   string
	Timestamps []int64
}

// TorrentHistory holds the event lists of one tracked torrent. InfoHash is the
// lowercase hex form of the torrent's info hash.
type TorrentHistory struct {
	InfoHash string
	Events   []EventList
}

// Timestamps returns the stamps of a category, or nil when absent.
func (h TorrentHistory) Timestamps(category string) []int64 {
	var out []int64
	for _, ev := range h.Events {
		if ev.Category == category {
			out = append(out, ev.Timestamps...)
		}
	}
	return out
}

// Snapshot is the tracker's historical statistics payload, as served on
// /stats/data. Peer histories keep their payload order.
type Snapshot struct {
	Torrents []int64
	Peers    []TorrentHistory
}

type rawSnapshot struct {
	HistoricalTorrents []int64             `json:"historical_torrents"`
	HistoricalPeers    [][]json.RawMessage `json:"historical_peers"`
}

// DecodeSnapshot parses a /stats/data payload. historical_peers is a list of
// [info_hash, [[category, [ts...]], ...]] pairs; info_hash may be a byte
// array or a hex string.
func DecodeSnapshot(data []byte) (*Snapshot, error) {
	var raw rawSnapshot
	if err := sonic.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedSnapshot, err)
	}

	snap := &Snapshot{
		Torrents: raw.HistoricalTorrents,
		Peers:    make([]TorrentHistory, 0, len(raw.HistoricalPeers)),
	}
	for i, entry := range raw.HistoricalPeers {
		if len(entry) != 2 {
			return nil, fmt.Errorf("%w: historical_peers[%d] has %d elements", ErrMalformedSnapshot, i, len(entry))
		}
		hash, err := decodeInfoHash(entry[0])
		if err != nil {
			return nil, fmt.Errorf("%w: historical_peers[%d]: %v", ErrMalformedSnapshot, i, err)
		}
		events, err := decodeEventLists(entry[1])
		if err != nil {
			return nil, fmt.Errorf("%w: historical_peers[%d]: %v", ErrMalformedSnapshot, i, err)
		}
		snap.Peers = append(snap.Peers, TorrentHistory{InfoHash: hash, Events: events})
	}
	return snap, nil
}

func decodeInfoHash(raw json.RawMessage) (string, error) {
	if len(raw) > 0 && raw[0] == '"' {
		var s string
		if err := sonic.Unmarshal(raw, &s); err != nil {
			return "", err
		}
		return strings.ToLower(s), nil
	}
	var bytes []int
	if err := sonic.Unmarshal(raw, &bytes); err != nil {
		return "", err
	}
	buf := make([]byte, len(bytes))
	for i, b := range bytes {
		if b < 0 || b > 255 {
			return "", fmt.Errorf("info hash byte %d out of range", b)
		}
		buf[i] = byte(b)
	}
	return hex.EncodeToString(buf), nil
}

func decodeEventLists(raw json.RawMessage) ([]EventList, error) {
	var pairs [][]json.RawMessage
	if err := sonic.Unmarshal(raw, &pairs); err != nil {
		return nil, err
	}
	events := make([]EventList, 0, len(pairs))
	for _, p := range pairs {
		if len(p) != 2 {
			return nil, fmt.Errorf("event list has %d elements", len(p))
		}
		var ev EventList
		if err := sonic.Unmarshal(p[0], &ev.Category); err != nil {
			return nil, err
		}
		if err := sonic.Unmarshal(p[1], &ev.Timestamps); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, nil
}

func (s *Snapshot) TorrentTimestamps() []int64 {
	return s.Torrents
}

// Timestamps collects the stamps of one category across every torrent.
func (s *Snapshot) Timestamps(category string) []int64 {
	var out []int64
	for _, p := range s.Peers {
		out = append(out, p.Timestamps(category)...)
	}
	return out
}

// ConnectedTimestamps returns every "connected" stamp recorded for item.
func (s *Snapshot) ConnectedTimestamps(item string) []int64 {
	var out []int64
	for _, p := range s.Peers {
		if p.InfoHash == item {
			out = append(out, p.Timestamps(CategoryConnected)...)
		}
	}
	return out
}

func (s *Snapshot) CompletedCount(item string) int {
	n := 0
	for _, p := range s.Peers {
		if p.InfoHash == item {
			n += len(p.Timestamps(CategoryCompleted))
		}
	}
	return n
}

// ItemEvent is one event of a tracked item, in snapshot order.
type ItemEvent struct {
	Item      string
	Timestamp int64
}

// ItemEvents flattens the snapshot by torrent, then category, then stamp.
func (s *Snapshot) ItemEvents() []ItemEvent {
	var out []ItemEvent
	for _, p := range s.Peers {
		for _, ev := range p.Events {
			for _, ts := range ev.Timestamps {
				out = append(out, ItemEvent{Item: p.InfoHash, Timestamp: ts})
			}
		}
	}
	return out
}

// Totals counts torrents, tracked items and the connected/completed events.
func (s *Snapshot) Totals() SnapshotPoint {
	return SnapshotPoint{
		Torrents:  int64(len(s.Torrents)),
		Items:     int64(len(s.Peers)),
		Connected: int64(len(s.Timestamps(CategoryConnected))),
		Completed: int64(len(s.Timestamps(CategoryCompleted))),
	}
}

// FilterByWindow keeps the timestamps whose age at now is within the window.
// Stamps later than now have a negative age and are kept.
func FilterByWindow(timestamps []int64, w Window, now time.Time) ([]int64, error) {
	limit, err := w.Millis()
	if err != nil {
		return nil, err
	}
	nowMs := now.UnixMilli()
	out := make([]int64, 0, len(timestamps))
	for _, t := range timestamps {
		if nowMs-t*1000 <= limit {
			out = append(out, t)
		}
	}
	return out, nil
}

// ActiveItems lists the items with an event inside the window. An item is
// skipped only when it equals the item emitted right before it, so an item
// can appear more than once if others separate its events.
func ActiveItems(events []ItemEvent, w Window, now time.Time) ([]string, error) {
	limit, err := w.Millis()
	if err != nil {
		return nil, err
	}
	nowMs := now.UnixMilli()
	out := []string{}
	for _, ev := range events {
		if len(out) > 0 && out[len(out)-1] == ev.Item {
			continue
		}
		if nowMs-ev.Timestamp*1000 <= limit {
			out = append(out, ev.Item)
		}
	}
	return out, nil
}
