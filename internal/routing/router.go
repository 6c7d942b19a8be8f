package routing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	kafka "github.com/segmentio/kafka-go"

	"github.com/sawpanic/signalgate/internal/signals"
)

// ErrQueueFull is returned when the in-memory queue has no room
var ErrQueueFull = errors.New("routing queue full")

// Config selects and tunes the router
type Config struct {
	Brokers      []string      `yaml:"brokers"`
	Topic        string        `yaml:"topic"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	QueueSize    int           `yaml:"queue_size"`
}

// DefaultConfig routes to an in-memory queue
func DefaultConfig() Config {
	return Config{
		Topic:        "signalgate.accepted-signals",
		WriteTimeout: 2 * time.Second,
		QueueSize:    256,
	}
}

// Router hands accepted signals downstream
type Router interface {
	Route(ctx context.Context, sig signals.Signal) error
	Close() error
}

// New builds a Kafka router when brokers are configured, otherwise a queue
func New(cfg Config) Router {
	if len(cfg.Brokers) > 0 {
		return NewKafkaRouter(cfg)
	}
	return NewQueueRouter(cfg.QueueSize)
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaRouter publishes accepted signals keyed by symbol
type KafkaRouter struct {
	writer  messageWriter
	topic   string
	timeout time.Duration
}

// NewKafkaRouter creates a router writing to cfg.Topic
func NewKafkaRouter(cfg Config) *KafkaRouter {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultConfig().WriteTimeout
	}
	log.Info().
		Strs("brokers", cfg.Brokers).
		Str("topic", cfg.Topic).
		Msg("Kafka signal router initialized")

	return &KafkaRouter{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.Topic,
			Balancer:     &kafka.LeastBytes{},
			RequiredAcks: kafka.RequireOne,
		},
		topic:   cfg.Topic,
		timeout: cfg.WriteTimeout,
	}
}

// Route publishes one signal and waits for the broker ack
func (r *KafkaRouter) Route(ctx context.Context, sig signals.Signal) error {
	msg, err := encode(sig)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if err := r.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish signal %s to %s: %w", sig.ID, r.topic, err)
	}
	return nil
}

// Close flushes and closes the writer
func (r *KafkaRouter) Close() error {
	return r.writer.Close()
}

func encode(sig signals.Signal) (kafka.Message, error) {
	data, err := json.Marshal(sig)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("failed to marshal signal: %w", err)
	}
	return kafka.Message{
		Key:   []byte(sig.Symbol),
		Value: data,
		Headers: []kafka.Header{
			{Key: "signal_id", Value: []byte(sig.ID)},
			{Key: "source", Value: []byte(sig.Source)},
		},
	}, nil
}

// QueueRouter buffers accepted signals in a bounded channel for an in-process consumer
type QueueRouter struct {
	ch chan signals.Signal
}

// NewQueueRouter creates a queue of the given capacity
func NewQueueRouter(size int) *QueueRouter {
	if size <= 0 {
		size = DefaultConfig().QueueSize
	}
	return &QueueRouter{ch: make(chan signals.Signal, size)}
}

// Route enqueues without blocking
func (q *QueueRouter) Route(_ context.Context, sig signals.Signal) error {
	select {
	case q.ch <- sig:
		return nil
	default:
		return ErrQueueFull
	}
}

// C returns the consumer side of the queue
func (q *QueueRouter) C() <-chan signals.Signal {
	return q.ch
}

// Len returns the number of queued signals
func (q *QueueRouter) Len() int {
	return len(q.ch)
}

// Close is a no-op; the channel stays open so late Route calls never panic
func (q *QueueRouter) Close() error {
	return nil
}

// Consume drains the queue into handle until ctx is done
func (q *QueueRouter) Consume(ctx context.Context, handle func(signals.Signal)) {
	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-q.ch:
			handle(sig)
		}
	}
}
