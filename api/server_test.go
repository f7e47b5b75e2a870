package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Ogstra/ogs-tracker-stats/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

var testNow = time.Date(2024, 3, 15, 14, 30, 0, 0, time.UTC)

func testPayload() string {
	at := func(d time.Duration) int64 { return testNow.Add(-d).Unix() }
	return fmt.Sprintf(`{
		"historical_torrents": [%d, %d],
		"historical_peers": [
			["AA", [["connected", [%d, %d]], ["completed", [%d]]]],
			["BB", [["connected", [%d]]]]
		]
	}`,
		at(10*time.Minute), at(2*time.Hour),
		at(2*time.Hour), at(30*time.Minute), at(10*time.Minute),
		at(3*time.Hour),
	)
}

type testEnv struct {
	server  *Server
	store   *core.Store
	tracker *httptest.Server
	hits    *atomic.Int32
	status  *atomic.Int32
}

func newTestEnv(t *testing.T, mutate func(cfg *core.Config)) *testEnv {
	t.Helper()

	env := &testEnv{hits: &atomic.Int32{}, status: &atomic.Int32{}}
	env.status.Store(http.StatusOK)
	payload := testPayload()
	env.tracker = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		env.hits.Add(1)
		w.WriteHeader(int(env.status.Load()))
		w.Write([]byte(payload))
	}))
	t.Cleanup(env.tracker.Close)

	store, err := core.NewStore(filepath.Join(t.TempDir(), "stats.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	env.store = store

	cfg := &core.Config{
		StatsURL:           env.tracker.URL,
		LiveFetch:          true,
		DefaultWindow:      string(core.LastThreeDays),
		DefaultGranularity: string(core.Hours),
		CacheTTLSec:        15,
		AdminUser:          "admin",
		RetentionDays:      30,
	}
	if mutate != nil {
		mutate(cfg)
	}

	client := core.NewStatsClient(cfg.StatsURL, time.Second)
	env.server = NewServer(store, cfg, client, nil, zap.NewNop().Sugar())
	env.server.now = func() time.Time { return testNow }
	return env
}

func (e *testEnv) do(t *testing.T, method, target string, body string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeChart(t *testing.T, rec *httptest.ResponseRecorder) ChartData {
	t.Helper()
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var data ChartData
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &data))
	return data
}

func TestConnectedChart(t *testing.T) {
	env := newTestEnv(t, nil)

	data := decodeChart(t, env.do(t, http.MethodGet, "/api/charts/connected?time=last_five_hours&grouped_by=hours", "", nil))
	assert.Equal(t, "last_five_hours", data.Window)
	assert.Equal(t, "hours", data.GroupedBy)
	assert.Equal(t, "cumulative", data.Counting)
	assert.Equal(t, []string{"aa", "bb"}, data.Torrents)
	assert.Equal(t, "aa", data.Selected)
	assert.Equal(t, []string{"09:00", "10:00", "11:00", "12:00", "13:00", "14:00"}, data.Labels)
	assert.Equal(t, []int{0, 0, 0, 1, 1, 2}, data.Data)
	assert.Equal(t, testNow.Unix(), data.SnapshotAt)

	data = decodeChart(t, env.do(t, http.MethodGet, "/api/charts/connected?time=last_five_hours&torrent=bb&counting=per_bucket", "", nil))
	assert.Equal(t, "bb", data.Selected)
	assert.Equal(t, []int{0, 0, 1, 0, 0, 0}, data.Data)
}

func TestChartDefaultsFromConfig(t *testing.T) {
	env := newTestEnv(t, nil)

	data := decodeChart(t, env.do(t, http.MethodGet, "/api/charts/torrents", "", nil))
	assert.Equal(t, "last_three_days", data.Window)
	assert.Len(t, data.Labels, 75)
	assert.Equal(t, "15 / 14:00", data.Labels[74])
	assert.Equal(t, 2, data.Data[74])

	data = decodeChart(t, env.do(t, http.MethodGet, "/api/charts/torrents?time=last_hour&grouped_by=minutes", "", nil))
	assert.Len(t, data.Labels, 120)
}

func TestCompletedChartAndTorrentList(t *testing.T) {
	env := newTestEnv(t, nil)

	data := decodeChart(t, env.do(t, http.MethodGet, "/api/charts/completed?time=last_day", "", nil))
	assert.Equal(t, []string{"aa", "bb"}, data.Labels)
	assert.Equal(t, []int{1, 0}, data.Data)

	rec := env.do(t, http.MethodGet, "/api/torrents?time=last_hour", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var torrents []string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &torrents))
	assert.Equal(t, []string{"aa"}, torrents)
}

func TestChartRejectsUnknownSelection(t *testing.T) {
	env := newTestEnv(t, nil)

	for _, target := range []string{
		"/api/charts/connected?time=last_week",
		"/api/charts/torrents?grouped_by=seconds",
		"/api/charts/torrents?days=lunar",
		"/api/charts/completed?counting=sum",
	} {
		rec := env.do(t, http.MethodGet, target, "", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
	}
	assert.Zero(t, env.hits.Load())
}

func TestChartCache(t *testing.T) {
	env := newTestEnv(t, nil)

	target := "/api/charts/connected?time=last_day"
	first := env.do(t, http.MethodGet, target, "", nil)
	second := env.do(t, http.MethodGet, target, "", nil)
	require.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.Equal(t, int32(1), env.hits.Load())

	env.do(t, http.MethodGet, "/api/charts/connected?time=last_hour", "", nil)
	assert.Equal(t, int32(2), env.hits.Load())
}

func TestChartCacheNormalizesQuery(t *testing.T) {
	env := newTestEnv(t, nil)

	for _, target := range []string{
		"/api/charts/torrents",
		"/api/charts/torrents?time=last_three_days",
		"/api/charts/torrents?grouped_by=hours&time=last_three_days",
		"/api/charts/torrents?time=last_three_days&grouped_by=hours&counting=cumulative&days=heuristic",
	} {
		rec := env.do(t, http.MethodGet, target, "", nil)
		require.Equal(t, http.StatusOK, rec.Code, target)
	}
	assert.Equal(t, int32(1), env.hits.Load())

	env.do(t, http.MethodGet, "/api/charts/torrents?days=calendar", "", nil)
	assert.Equal(t, int32(2), env.hits.Load())

	env.do(t, http.MethodGet, "/api/charts/connected?torrent=bb", "", nil)
	env.do(t, http.MethodGet, "/api/charts/connected?torrent=aa", "", nil)
	assert.Equal(t, int32(4), env.hits.Load())
}

func TestChartFallsBackToStoredSnapshot(t *testing.T) {
	env := newTestEnv(t, func(cfg *core.Config) { cfg.CacheTTLSec = 0 })
	env.status.Store(http.StatusInternalServerError)

	rec := env.do(t, http.MethodGet, "/api/charts/connected", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	_, err := env.store.SaveSnapshot(testNow.Unix(), []byte(testPayload()), core.SnapshotPoint{})
	require.NoError(t, err)

	data := decodeChart(t, env.do(t, http.MethodGet, "/api/charts/connected?time=last_five_hours", "", nil))
	assert.Equal(t, "aa", data.Selected)
}

func TestChartWithoutLiveFetch(t *testing.T) {
	env := newTestEnv(t, func(cfg *core.Config) { cfg.LiveFetch = false })
	_, err := env.store.SaveSnapshot(testNow.Unix(), []byte(testPayload()), core.SnapshotPoint{})
	require.NoError(t, err)

	decodeChart(t, env.do(t, http.MethodGet, "/api/charts/completed", "", nil))
	assert.Zero(t, env.hits.Load())
}

func TestChartBadStoredPayload(t *testing.T) {
	env := newTestEnv(t, func(cfg *core.Config) { cfg.LiveFetch = false })
	_, err := env.store.SaveSnapshot(testNow.Unix(), []byte(`{"historical_peers":[[1]]}`), core.SnapshotPoint{})
	require.NoError(t, err)

	rec := env.do(t, http.MethodGet, "/api/charts/completed", "", nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestAPIKeyRequired(t *testing.T) {
	env := newTestEnv(t, func(cfg *core.Config) { cfg.APIKey = "k3y" })

	rec := env.do(t, http.MethodGet, "/api/charts/torrents", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/charts/torrents", "", map[string]string{"X-API-Key": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/charts/torrents", "", map[string]string{"X-API-Key": "k3"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/charts/torrents", "", map[string]string{"X-API-Key": "k3y0"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/charts/torrents", "", map[string]string{"X-API-Key": "k3y"})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestLoginIssuesUsableToken(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("hunter2"), bcrypt.MinCost)
	require.NoError(t, err)
	env := newTestEnv(t, func(cfg *core.Config) {
		cfg.JWTSecret = "signing-secret"
		cfg.AdminPasswordHash = string(hash)
	})

	rec := env.do(t, http.MethodPost, "/api/login", `{"username":"admin","password":"nope"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/login", `{"username":"admin","password":"hunter2"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp LoginResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Token)

	rec = env.do(t, http.MethodGet, "/api/snapshots", "", map[string]string{"Authorization": "Bearer " + resp.Token})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/snapshots", "", map[string]string{"Authorization": "Bearer garbage"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLoginDisabledWithoutSecret(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.do(t, http.MethodPost, "/api/login", `{"username":"admin","password":"x"}`, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRateLimit(t *testing.T) {
	env := newTestEnv(t, func(cfg *core.Config) {
		cfg.RateLimitRPS = 1
		cfg.RateLimitBurst = 1
	})

	rec := env.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestPollerEndpoints(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodPost, "/api/poller/run", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	poller := core.NewPoller(core.NewStatsClient(env.tracker.URL, time.Second), env.store, env.server.history, env.server.config, zap.NewNop().Sugar())
	env.server.SetPoller(poller)

	rec = env.do(t, http.MethodPost, "/api/poller/run", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var run core.PollRun
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))
	assert.True(t, run.Stored)

	rec = env.do(t, http.MethodPost, "/api/poller/pause", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, poller.IsPaused())

	rec = env.do(t, http.MethodGet, "/api/poller/history", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var history struct {
		Paused bool           `json:"paused"`
		Runs   []core.PollRun `json:"runs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &history))
	assert.True(t, history.Paused)
	assert.Len(t, history.Runs, 1)

	rec = env.do(t, http.MethodPost, "/api/poller/resume", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, poller.IsPaused())

	rec = env.do(t, http.MethodGet, "/api/stats?range=all", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var points []core.SnapshotPoint
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &points))
	require.Len(t, points, 1)
	assert.Equal(t, int64(2), points[0].Torrents)

	rec = env.do(t, http.MethodGet, "/api/snapshots", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var snaps []core.SnapshotRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snaps))
	assert.Len(t, snaps, 1)
}

func TestPruneNow(t *testing.T) {
	env := newTestEnv(t, nil)
	old := time.Now().Add(-10 * 24 * time.Hour).Unix()
	_, err := env.store.SaveSnapshot(old, []byte(`{"a":1}`), core.SnapshotPoint{})
	require.NoError(t, err)

	rec := env.do(t, http.MethodPost, "/api/retention/prune", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Deleted int64 `json:"deleted"`
		Days    int   `json:"days"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, int64(0), resp.Deleted)
	assert.Equal(t, 30, resp.Days)

	rec = env.do(t, http.MethodPost, "/api/retention/prune", `{"days":7}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, int64(1), resp.Deleted)
	assert.Equal(t, 7, resp.Days)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)
	env.do(t, http.MethodGet, "/api/charts/torrents", "", nil)

	rec := env.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "trackerstats_chart_requests_total")
}

func TestSystemStatus(t *testing.T) {
	env := newTestEnv(t, nil)
	_, err := env.store.SaveSnapshot(1234, []byte(testPayload()), core.SnapshotPoint{Torrents: 2})
	require.NoError(t, err)

	rec := env.do(t, http.MethodGet, "/api/status", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var status map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, float64(1), status["snapshots_count"])
	assert.Equal(t, float64(1234), status["latest_snapshot_at"])
	assert.Equal(t, false, status["poller_enabled"])
	assert.Nil(t, status["last_poll"])
	assert.Equal(t, env.tracker.URL, status["stats_url"])
}

func TestValidAPIKey(t *testing.T) {
	assert.True(t, validAPIKey("k3y", "k3y"))
	assert.False(t, validAPIKey("k3", "k3y"))
	assert.False(t, validAPIKey("", "k3y"))
	assert.False(t, validAPIKey("K3Y", "k3y"))
}
