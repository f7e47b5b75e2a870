package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/Ogstra/ogs-tracker-stats/core"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const chartCacheSize = 256

type Server struct {
	store   *core.Store
	config  *core.Config
	client  *core.StatsClient
	history *core.SnapshotHistory
	poller  *core.Poller
	logger  *zap.SugaredLogger
	cache   *expirable.LRU[string, []byte]
	limiter *RateLimiter
	now     func() time.Time
}

func NewServer(store *core.Store, config *core.Config, client *core.StatsClient, history *core.SnapshotHistory, logger *zap.SugaredLogger) *Server {
	ttl := time.Duration(config.CacheTTLSec) * time.Second
	var cache *expirable.LRU[string, []byte]
	if ttl > 0 {
		cache = expirable.NewLRU[string, []byte](chartCacheSize, nil, ttl)
	}
	var limiter *RateLimiter
	if config.RateLimitRPS > 0 {
		limiter = NewRateLimiter(rate.Limit(config.RateLimitRPS), config.RateLimitBurst)
	}
	if history == nil {
		history = core.NewSnapshotHistory(0)
	}
	return &Server{
		store:   store,
		config:  config,
		client:  client,
		history: history,
		logger:  logger,
		cache:   cache,
		limiter: limiter,
		now:     time.Now,
	}
}

// SetPoller attaches the background poller the control endpoints act on.
func (s *Server) SetPoller(p *core.Poller) {
	s.poller = p
}

func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/charts/connected", s.secure(s.handleConnectedChart))
	mux.HandleFunc("GET /api/charts/completed", s.secure(s.handleCompletedChart))
	mux.HandleFunc("GET /api/charts/torrents", s.secure(s.handleTorrentsChart))
	mux.HandleFunc("GET /api/torrents", s.secure(s.handleGetTorrents))

	mux.HandleFunc("GET /api/status", s.secure(s.handleGetSystemStatus))
	mux.HandleFunc("GET /api/stats", s.secure(s.handleGetStats))
	mux.HandleFunc("GET /api/snapshots", s.secure(s.handleGetSnapshots))

	mux.HandleFunc("POST /api/poller/run", s.secure(s.handleRunPoller))
	mux.HandleFunc("POST /api/poller/pause", s.secure(s.handlePausePoller))
	mux.HandleFunc("POST /api/poller/resume", s.secure(s.handleResumePoller))
	mux.HandleFunc("GET /api/poller/history", s.secure(s.handlePollerHistory))
	mux.HandleFunc("POST /api/retention/prune", s.secure(s.handlePruneNow))

	mux.HandleFunc("POST /api/login", s.handleLogin)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	return mux
}

// Handler is the full HTTP stack: routes behind the per-IP rate limiter.
func (s *Server) Handler() http.Handler {
	mux := s.Routes()
	if s.limiter == nil {
		return mux
	}
	return s.limiter.Middleware(mux)
}

// StartServer opens the store, starts the poller and retention loop, and
// serves until ctx is cancelled.
func StartServer(ctx context.Context, cfg *core.Config, logger *zap.SugaredLogger) error {
	store, err := core.NewStore(cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer store.Close()

	client := core.NewStatsClient(cfg.StatsURL, time.Duration(cfg.FetchTimeoutSec)*time.Second)
	history := core.NewSnapshotHistory(0)
	server := NewServer(store, cfg, client, history, logger)

	if cfg.UsePoller {
		poller := core.NewPoller(client, store, history, cfg, logger)
		poller.Start()
		defer poller.Stop()
		server.SetPoller(poller)
	} else {
		logger.Infof("Poller disabled via config; charts use live fetches only")
	}

	if cfg.RetentionEnabled && cfg.RetentionDays > 0 {
		go runRetention(ctx, store, cfg.RetentionDays, logger)
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("Listening on %s (stats source %s)", cfg.ListenAddr, cfg.StatsURL)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func runRetention(ctx context.Context, store *core.Store, days int, logger *zap.SugaredLogger) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		deleted, cutoff, err := store.PruneRetention(days)
		if err != nil {
			logger.Errorf("Retention prune error: %v", err)
		} else if deleted > 0 {
			logger.Infof("Retention prune: removed %d snapshots older than %d", deleted, cutoff)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
