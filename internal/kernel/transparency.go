package kernel

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"
)

// Transparency channel keys, written by the kernel and only read here
const (
	KeyHeartbeat           = "heartbeat"
	KeyLastTradeDecision   = "last_trade_decision"
	KeyLastRejectionReason = "last_rejection_reason"
	KeySystemState         = "system_state"
	KeyConfidenceScore     = "confidence_score"
	KeyRiskUsed            = "risk_used"
)

var channelKeys = []string{
	KeyHeartbeat,
	KeyLastTradeDecision,
	KeyLastRejectionReason,
	KeySystemState,
	KeyConfidenceScore,
	KeyRiskUsed,
}

// ChannelValues are the raw values read in one pass; a missing or failed key is nil
type ChannelValues map[string]*string

// Channel reads the kernel's transparency keys
type Channel interface {
	Read(ctx context.Context) ChannelValues
}

// RedisChannel reads the transparency keys from redis in parallel
type RedisChannel struct {
	client  redis.UniversalClient
	prefix  string
	timeout time.Duration
}

// NewRedisClient connects to the transparency channel
func NewRedisClient(cfg RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// NewRedisChannel wraps a redis client; every GET is bounded by timeout
func NewRedisChannel(client redis.UniversalClient, prefix string, timeout time.Duration) *RedisChannel {
	return &RedisChannel{
		client:  client,
		prefix:  prefix,
		timeout: timeout,
	}
}

// Read issues all six GETs concurrently
func (c *RedisChannel) Read(ctx context.Context) ChannelValues {
	values := make(ChannelValues, len(channelKeys))
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)

	for _, key := range channelKeys {
		wg.Add(1)
		go func(key string) {
			defer wg.Done()

			callCtx, cancel := context.WithTimeout(ctx, c.timeout)
			defer cancel()

			val, err := c.client.Get(callCtx, c.prefix+key).Result()
			var out *string
			switch {
			case err == nil:
				out = &val
			case errors.Is(err, redis.Nil):
			default:
				log.Debug().Err(err).Str("key", key).Msg("Transparency key read failed")
			}

			mu.Lock()
			values[key] = out
			mu.Unlock()
		}(key)
	}
	wg.Wait()

	return values
}

// Ping checks channel connectivity
func (c *RedisChannel) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.client.Ping(ctx).Err()
}

// parseHeartbeat accepts epoch seconds, epoch milliseconds or RFC3339
func parseHeartbeat(raw *string) *time.Time {
	if raw == nil {
		return nil
	}
	s := strings.Trim(strings.TrimSpace(*raw), `"`)
	if s == "" {
		return nil
	}

	if f, err := strconv.ParseFloat(s, 64); err == nil {
		var t time.Time
		if f > 1e12 {
			t = time.UnixMilli(int64(f))
		} else {
			t = time.Unix(0, int64(f*float64(time.Second)))
		}
		t = t.UTC()
		return &t
	}

	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		t = t.UTC()
		return &t
	}
	return nil
}

func parseFloat(raw *string) *float64 {
	if raw == nil {
		return nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(*raw), 64)
	if err != nil {
		return nil
	}
	return &f
}

// asJSON keeps valid JSON as-is and quotes anything else
func asJSON(raw *string) json.RawMessage {
	if raw == nil {
		return nil
	}
	if json.Valid([]byte(*raw)) {
		return json.RawMessage(*raw)
	}
	encoded, _ := json.Marshal(*raw)
	return encoded
}

func trimmed(raw *string) *string {
	if raw == nil {
		return nil
	}
	s := strings.Trim(strings.TrimSpace(*raw), `"`)
	if s == "" {
		return nil
	}
	return &s
}
