package core

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Poller periodically copies the tracker's stats snapshot into the store.
type Poller struct {
	client   *StatsClient
	store    *Store
	history  *SnapshotHistory
	logger   *zap.SugaredLogger
	interval time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
	runMu    sync.Mutex // serializes polls
	paused   atomic.Bool
}

func NewPoller(client *StatsClient, store *Store, history *SnapshotHistory, cfg *Config, logger *zap.SugaredLogger) *Poller {
	interval := time.Duration(cfg.PollIntervalSec) * time.Second
	if interval <= 0 {
		interval = 60 * time.Second
	}
	return &Poller{
		client:   client,
		store:    store,
		history:  history,
		logger:   logger,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

func (p *Poller) Start() {
	go p.loop()
}

func (p *Poller) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
}

func (p *Poller) loop() {
	p.pollOnce()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.pollOnce()
		case <-p.stopCh:
			return
		}
	}
}

// TriggerOnce runs a poll immediately and returns its run record.
func (p *Poller) TriggerOnce() PollRun {
	return p.pollOnce()
}

func (p *Poller) SetPaused(paused bool) {
	p.paused.Store(paused)
}

func (p *Poller) IsPaused() bool {
	return p.paused.Load()
}

func (p *Poller) pollOnce() PollRun {
	p.runMu.Lock()
	defer p.runMu.Unlock()

	start := time.Now()
	run := PollRun{Timestamp: start.Unix()}
	if p.paused.Load() {
		run.Error = "paused"
		return run
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.client.timeout)
	defer cancel()

	raw, err := p.client.FetchRaw(ctx)
	if err != nil {
		p.logger.Warnf("Poller: fetch error: %v", err)
		return p.finish(run, start, err)
	}
	run.Bytes = int64(len(raw))

	snap, err := DecodeSnapshot(raw)
	if err != nil {
		p.logger.Warnf("Poller: decode error: %v", err)
		return p.finish(run, start, err)
	}

	totals := snap.Totals()
	totals.Timestamp = run.Timestamp
	if p.history != nil {
		p.history.AddPoint(totals)
	}
	SnapshotTorrents.Set(float64(totals.Torrents))
	SnapshotItems.Set(float64(totals.Items))

	stored, err := p.store.SaveSnapshot(run.Timestamp, raw, totals)
	if err != nil {
		p.logger.Errorf("Poller: store error: %v", err)
		return p.finish(run, start, err)
	}
	run.Stored = stored
	if stored {
		p.logger.Infof("Poller: stored snapshot (%d torrents, %d tracked)", totals.Torrents, totals.Items)
	}
	return p.finish(run, start, nil)
}

func (p *Poller) finish(run PollRun, start time.Time, err error) PollRun {
	run.DurationMs = time.Since(start).Milliseconds()
	if err != nil {
		run.Error = err.Error()
	}
	if err := p.store.LogPollRun(run); err != nil {
		p.logger.Warnf("Poller: failed to record run: %v", err)
	}
	return run
}
