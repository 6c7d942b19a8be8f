package training

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sawpanic/signalgate/internal/persistence"
)

// Sink is one destination for training audit events
type Sink interface {
	Name() string
	WriteRecord(ctx context.Context, rec persistence.TrainingRecord) error
	WriteOutcome(ctx context.Context, signalID string, outcome persistence.Outcome) error
}

// PostgresSink writes to the signal_training_log table
type PostgresSink struct {
	repo persistence.TrainingRepo
}

// NewPostgresSink wraps a training repository
func NewPostgresSink(repo persistence.TrainingRepo) *PostgresSink {
	return &PostgresSink{repo: repo}
}

func (s *PostgresSink) Name() string { return "postgres" }

func (s *PostgresSink) WriteRecord(ctx context.Context, rec persistence.TrainingRecord) error {
	return s.repo.Upsert(ctx, rec)
}

func (s *PostgresSink) WriteOutcome(ctx context.Context, signalID string, outcome persistence.Outcome) error {
	return s.repo.AttachOutcome(ctx, signalID, outcome)
}

// Mirror event types
const (
	EventIngest        = "INGEST"
	EventOutcomeUpdate = "OUTCOME_UPDATE"
)

// MirrorEvent is one JSON line in the mirror log
type MirrorEvent struct {
	Event     string                      `json:"event"`
	SignalID  string                      `json:"signal_id"`
	Record    *persistence.TrainingRecord `json:"record,omitempty"`
	Outcome   *persistence.Outcome        `json:"outcome,omitempty"`
	Timestamp time.Time                   `json:"timestamp"`
}

// MirrorSink appends events to one JSON-lines file per UTC day
type MirrorSink struct {
	dir string
	now func() time.Time

	mu      sync.Mutex
	file    *os.File
	fileDay string
}

// NewMirrorSink creates the directory if needed
func NewMirrorSink(dir string) (*MirrorSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create mirror directory: %w", err)
	}
	return &MirrorSink{dir: dir, now: time.Now}, nil
}

// WithClock replaces the time source
func (s *MirrorSink) WithClock(now func() time.Time) *MirrorSink {
	s.now = now
	return s
}

func (s *MirrorSink) Name() string { return "mirror" }

// PathFor returns the file that receives events written at t
func (s *MirrorSink) PathFor(t time.Time) string {
	return filepath.Join(s.dir, fmt.Sprintf("training-%s.jsonl", t.UTC().Format("2006-01-02")))
}

func (s *MirrorSink) WriteRecord(_ context.Context, rec persistence.TrainingRecord) error {
	return s.append(MirrorEvent{
		Event:    EventIngest,
		SignalID: rec.SignalID,
		Record:   &rec,
	})
}

func (s *MirrorSink) WriteOutcome(_ context.Context, signalID string, outcome persistence.Outcome) error {
	return s.append(MirrorEvent{
		Event:    EventOutcomeUpdate,
		SignalID: signalID,
		Outcome:  &outcome,
	})
}

func (s *MirrorSink) append(ev MirrorEvent) error {
	now := s.now().UTC()
	ev.Timestamp = now

	line, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal mirror event: %w", err)
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	day := now.Format("2006-01-02")
	if s.file == nil || s.fileDay != day {
		if s.file != nil {
			_ = s.file.Close()
			s.file = nil
		}
		f, err := os.OpenFile(s.PathFor(now), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open mirror file: %w", err)
		}
		s.file = f
		s.fileDay = day
	}

	if _, err := s.file.Write(line); err != nil {
		return fmt.Errorf("failed to append mirror event: %w", err)
	}
	return nil
}

// Close releases the current day's file handle
func (s *MirrorSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}
