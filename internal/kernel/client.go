package kernel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sawpanic/signalgate/infra/breakers"
	"github.com/sawpanic/signalgate/internal/infrastructure/httpclient"
)

// Kernel endpoints
const (
	PathStatus           = "/status"
	PathMetrics          = "/metrics"
	PathPositions        = "/positions"
	PathSignals          = "/signals"
	PathPanic            = "/panic"
	PathTelegramControl  = "/telegram/control"
	PathTelegramStatus   = "/telegram/control/status"
	PathTelegramChannels = "/telegram/channels"
	PathCommandSubmit    = "/commands/submit"
)

const maxResponseBytes = 1 << 20

// CallError describes a failed kernel call
type CallError struct {
	Method     string
	Path       string
	Timeout    time.Duration
	StatusCode int
	Body       string
	Err        error
}

func (e *CallError) Error() string {
	switch {
	case e.StatusCode != 0:
		return fmt.Sprintf("kernel %s %s returned HTTP %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
	case httpclient.IsTimeout(e.Err):
		return fmt.Sprintf("kernel %s %s timed out after %s", e.Method, e.Path, e.Timeout)
	default:
		return fmt.Sprintf("kernel %s %s failed: %v", e.Method, e.Path, e.Err)
	}
}

func (e *CallError) Unwrap() error { return e.Err }

// Message renders the error for CommandResult callers
func (e *CallError) Message() string {
	switch {
	case e.StatusCode != 0:
		return fmt.Sprintf("Kernel rejected request (HTTP %d): %s", e.StatusCode, e.Body)
	case httpclient.IsTimeout(e.Err):
		return fmt.Sprintf("Connectivity Error: kernel did not respond within %s", e.Timeout)
	case errors.Is(e.Err, breakers.ErrOpen):
		return "Network Error: kernel read circuit open"
	default:
		return fmt.Sprintf("Network Error: %v", e.Err)
	}
}

// Client talks to the kernel's HTTP API. Reads go through one circuit breaker
// per endpoint; writes are sent directly and never retried.
type Client struct {
	baseURL string
	pool    *httpclient.ClientPool

	// openFor is how long a tripped read breaker rejects before probing
	openFor time.Duration

	mu       sync.Mutex
	breakers map[string]*breakers.Breaker
}

// NewClient builds a client for cfg.BaseURL. A tripped read breaker half-opens
// after one poll interval so recovery shows on the next poll.
func NewClient(cfg Config) *Client {
	cfg = cfg.withDefaults()
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		pool: httpclient.NewClientPool(httpclient.ClientConfig{
			MaxConcurrency: cfg.MaxConcurrency,
			UserAgent:      cfg.Source,
		}),
		openFor:  cfg.PollInterval,
		breakers: make(map[string]*breakers.Breaker),
	}
}

// Stats exposes transport counters
func (c *Client) Stats() httpclient.ClientStats {
	return c.pool.GetStats()
}

// BreakerStates returns the state of every read breaker by path
func (c *Client) BreakerStates() map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]string, len(c.breakers))
	for path, b := range c.breakers {
		out[path] = b.State()
	}
	return out
}

func (c *Client) breakerFor(path string) *breakers.Breaker {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.breakers[path]
	if !ok {
		b = breakers.New("kernel"+path, breakers.Settings{Timeout: c.openFor})
		c.breakers[path] = b
	}
	return b
}

// Get performs a time-bounded read through the path's breaker
func (c *Client) Get(ctx context.Context, path string, timeout time.Duration) (json.RawMessage, error) {
	out, err := c.breakerFor(path).Execute(func() (any, error) {
		return c.do(ctx, http.MethodGet, path, nil, nil, timeout)
	})
	if err != nil {
		var callErr *CallError
		if errors.As(err, &callErr) {
			return nil, err
		}
		return nil, &CallError{Method: http.MethodGet, Path: path, Timeout: timeout, Err: err}
	}
	return out.(json.RawMessage), nil
}

// Post sends a command with its own timeout
func (c *Client) Post(ctx context.Context, path string, body interface{}, headers map[string]string, timeout time.Duration) (json.RawMessage, error) {
	return c.do(ctx, http.MethodPost, path, body, headers, timeout)
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}, headers map[string]string, timeout time.Duration) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	fail := func(err error) *CallError {
		return &CallError{Method: method, Path: path, Timeout: timeout, Err: err}
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fail(fmt.Errorf("failed to marshal request: %w", err))
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fail(err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.pool.Do(ctx, req)
	if err != nil {
		return nil, fail(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fail(fmt.Errorf("failed to read response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &CallError{
			Method:     method,
			Path:       path,
			Timeout:    timeout,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(data)),
		}
	}

	if len(bytes.TrimSpace(data)) == 0 || !json.Valid(data) {
		// non-JSON bodies are carried as a JSON string
		encoded, _ := json.Marshal(strings.TrimSpace(string(data)))
		return encoded, nil
	}
	return json.RawMessage(data), nil
}

// failureMessage renders any kernel error for a CommandResult
func failureMessage(err error) string {
	var callErr *CallError
	if errors.As(err, &callErr) {
		return callErr.Message()
	}
	return fmt.Sprintf("Network Error: %v", err)
}
