package httpclient

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"
)

// ClientConfig tunes the pool. Requests are never retried here; deadlines come
// from the caller's context.
type ClientConfig struct {
	MaxConcurrency int
	UserAgent      string
}

type ClientPool struct {
	config    ClientConfig
	semaphore chan struct{}
	client    *http.Client
	mu        sync.RWMutex
	stats     ClientStats
}

type ClientStats struct {
	TotalRequests   int64         `json:"total_requests"`
	SuccessRequests int64         `json:"success_requests"`
	FailedRequests  int64         `json:"failed_requests"`
	TimeoutRequests int64         `json:"timeout_requests"`
	TotalLatency    time.Duration `json:"total_latency"`
	AvgLatency      time.Duration `json:"avg_latency"`
}

func NewClientPool(config ClientConfig) *ClientPool {
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = 16
	}
	return &ClientPool{
		config:    config,
		semaphore: make(chan struct{}, config.MaxConcurrency),
		client:    &http.Client{},
	}
}

// NewClientPoolWithClient uses a caller-supplied http.Client
func NewClientPoolWithClient(config ClientConfig, client *http.Client) *ClientPool {
	cp := NewClientPool(config)
	if client != nil {
		cp.client = client
	}
	return cp
}

func (cp *ClientPool) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	select {
	case cp.semaphore <- struct{}{}:
		defer func() { <-cp.semaphore }()
	case <-ctx.Done():
		cp.record(0, ctx.Err())
		return nil, ctx.Err()
	}

	if cp.config.UserAgent != "" {
		req.Header.Set("User-Agent", cp.config.UserAgent)
	}

	start := time.Now()
	resp, err := cp.client.Do(req.WithContext(ctx))
	cp.record(time.Since(start), err)
	return resp, err
}

func (cp *ClientPool) GetStats() ClientStats {
	cp.mu.RLock()
	defer cp.mu.RUnlock()
	return cp.stats
}

func (cp *ClientPool) record(latency time.Duration, err error) {
	cp.mu.Lock()
	defer cp.mu.Unlock()

	cp.stats.TotalRequests++
	cp.stats.TotalLatency += latency
	cp.stats.AvgLatency = cp.stats.TotalLatency / time.Duration(cp.stats.TotalRequests)

	switch {
	case err == nil:
		cp.stats.SuccessRequests++
	case IsTimeout(err):
		cp.stats.TimeoutRequests++
		cp.stats.FailedRequests++
	default:
		cp.stats.FailedRequests++
	}
}

// IsTimeout reports deadline and network timeout errors
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
