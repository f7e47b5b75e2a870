package core

import (
	"database/sql"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/xxh3"
	_ "modernc.org/sqlite"
)

var ErrNoSnapshot = errors.New("no stored snapshot")

// SnapshotRecord is a stored /stats/data payload with its totals.
type SnapshotRecord struct {
	ID        string `json:"id"`
	Timestamp int64  `json:"timestamp"`
	Digest    string `json:"digest"`
	Torrents  int64  `json:"torrents"`
	Items     int64  `json:"items"`
	Payload   []byte `json:"-"`
}

type Store struct {
	db *sql.DB
}

func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	db.Exec("PRAGMA journal_mode=WAL;")
	db.Exec("PRAGMA synchronous=NORMAL;")
	db.Exec("PRAGMA busy_timeout=5000;")
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		return nil, err
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *Store) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS snapshots (
		id       TEXT PRIMARY KEY,
		ts       INTEGER NOT NULL,
		digest   TEXT NOT NULL,
		torrents INTEGER NOT NULL,
		items    INTEGER NOT NULL,
		payload  BLOB NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_snapshots_ts ON snapshots(ts);

	CREATE TABLE IF NOT EXISTS poll_runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		ts INTEGER NOT NULL,
		duration_ms INTEGER NOT NULL,
		bytes INTEGER NOT NULL,
		stored INTEGER NOT NULL,
		error TEXT
	);
	`
	_, err := s.db.Exec(query)
	return err
}

// PayloadDigest is the content digest used to skip unchanged snapshots.
func PayloadDigest(payload []byte) string {
	return strconv.FormatUint(xxh3.Hash(payload), 16)
}

// SaveSnapshot stores payload unless it matches the latest stored snapshot.
// It reports whether a row was written.
func (s *Store) SaveSnapshot(ts int64, payload []byte, totals SnapshotPoint) (bool, error) {
	digest := PayloadDigest(payload)

	var latest sql.NullString
	err := s.db.QueryRow("SELECT digest FROM snapshots ORDER BY ts DESC, rowid DESC LIMIT 1").Scan(&latest)
	if err != nil && err != sql.ErrNoRows {
		return false, err
	}
	if latest.Valid && latest.String == digest {
		return false, nil
	}

	_, err = s.db.Exec(
		"INSERT INTO snapshots (id, ts, digest, torrents, items, payload) VALUES (?, ?, ?, ?, ?, ?)",
		uuid.NewString(), ts, digest, totals.Torrents, totals.Items, payload,
	)
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) LatestSnapshot() (*SnapshotRecord, error) {
	row := s.db.QueryRow("SELECT id, ts, digest, torrents, items, payload FROM snapshots ORDER BY ts DESC, rowid DESC LIMIT 1")
	var r SnapshotRecord
	if err := row.Scan(&r.ID, &r.Timestamp, &r.Digest, &r.Torrents, &r.Items, &r.Payload); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNoSnapshot
		}
		return nil, err
	}
	return &r, nil
}

// ListSnapshots returns snapshot metadata, newest first, without payloads.
func (s *Store) ListSnapshots(limit int) ([]SnapshotRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query("SELECT id, ts, digest, torrents, items FROM snapshots ORDER BY ts DESC, rowid DESC LIMIT ?", limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []SnapshotRecord
	for rows.Next() {
		var r SnapshotRecord
		if err := rows.Scan(&r.ID, &r.Timestamp, &r.Digest, &r.Torrents, &r.Items); err != nil {
			return nil, err
		}
		res = append(res, r)
	}
	return res, rows.Err()
}

func (s *Store) CountSnapshots() (int64, error) {
	var count int64
	if err := s.db.QueryRow("SELECT COUNT(*) FROM snapshots").Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func (s *Store) PruneOlderThan(ts int64) (int64, error) {
	res, err := s.db.Exec("DELETE FROM snapshots WHERE ts < ?", ts)
	if err != nil {
		return 0, err
	}
	affected, _ := res.RowsAffected()
	return affected, nil
}

// PruneRetention drops snapshots older than days.
func (s *Store) PruneRetention(days int) (int64, int64, error) {
	cutoff := time.Now().Add(-time.Duration(days) * 24 * time.Hour).Unix()
	deleted, err := s.PruneOlderThan(cutoff)
	return deleted, cutoff, err
}

type PollRun struct {
	Timestamp  int64  `json:"timestamp"`
	DurationMs int64  `json:"duration_ms"`
	Bytes      int64  `json:"bytes"`
	Stored     bool   `json:"stored"`
	Error      string `json:"error"`
}

func (s *Store) LogPollRun(run PollRun) error {
	stored := 0
	if run.Stored {
		stored = 1
	}
	_, err := s.db.Exec("INSERT INTO poll_runs (ts, duration_ms, bytes, stored, error) VALUES (?, ?, ?, ?, ?)",
		run.Timestamp, run.DurationMs, run.Bytes, stored, run.Error)
	return err
}

func (s *Store) GetPollRuns(limit int) ([]PollRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query("SELECT ts, duration_ms, bytes, stored, COALESCE(error,'') FROM poll_runs ORDER BY ts DESC, id DESC LIMIT ?", limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []PollRun
	for rows.Next() {
		var r PollRun
		var stored int
		if err := rows.Scan(&r.Timestamp, &r.DurationMs, &r.Bytes, &stored, &r.Error); err != nil {
			return nil, err
		}
		r.Stored = stored != 0
		res = append(res, r)
	}
	return res, rows.Err()
}

func (s *Store) Close() error {
	return s.db.Close()
}
