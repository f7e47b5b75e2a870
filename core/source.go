package core

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/sync/singleflight"
)

// maxPayloadBytes bounds a /stats/data response.
const maxPayloadBytes = 64 << 20

// StatsClient fetches the tracker's /stats/data payload. Concurrent callers
// share a single in-flight request.
type StatsClient struct {
	url     string
	timeout time.Duration
	http    *http.Client
	group   singleflight.Group
}

func NewStatsClient(url string, timeout time.Duration) *StatsClient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &StatsClient{
		url:     url,
		timeout: timeout,
		http:    &http.Client{},
	}
}

func (c *StatsClient) URL() string {
	return c.url
}

// FetchRaw returns the raw payload bytes. The shared request runs detached
// from any single caller, bounded by the client timeout; ctx only decides how
// long this caller waits for it.
func (c *StatsClient) FetchRaw(ctx context.Context) ([]byte, error) {
	ch := c.group.DoChan(c.url, func() (interface{}, error) {
		return c.fetch(context.WithoutCancel(ctx))
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]byte), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *StatsClient) fetch(ctx context.Context) ([]byte, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := c.get(ctx)
	FetchDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		FetchTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	FetchTotal.WithLabelValues("ok").Inc()
	return body, nil
}

func (c *StatsClient) get(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", c.url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("fetch %s: unexpected status %d", c.url, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPayloadBytes))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", c.url, err)
	}
	return body, nil
}

// Fetch returns the decoded snapshot.
func (c *StatsClient) Fetch(ctx context.Context) (*Snapshot, error) {
	raw, err := c.FetchRaw(ctx)
	if err != nil {
		return nil, err
	}
	return DecodeSnapshot(raw)
}
