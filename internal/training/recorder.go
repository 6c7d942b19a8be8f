package training

import (
	"context"
	"errors"
	"io"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/signalgate/internal/metrics"
	"github.com/sawpanic/signalgate/internal/persistence"
)

// ErrMissingSignalID is returned when an event has no signal id
var ErrMissingSignalID = errors.New("signal_id is required")

const (
	opIngest  = "ingest"
	opOutcome = "outcome"
)

// Recorder fans training events out to independent sinks.
// A failing sink is logged and counted; it never blocks the others or the caller.
type Recorder struct {
	sinks   []Sink
	metrics *metrics.Registry
}

// NewRecorder creates a recorder over the given sinks; nil sinks are skipped
func NewRecorder(reg *metrics.Registry, sinks ...Sink) *Recorder {
	r := &Recorder{metrics: reg}
	for _, s := range sinks {
		if s != nil {
			r.sinks = append(r.sinks, s)
		}
	}
	return r
}

// Sinks returns the configured sink names
func (r *Recorder) Sinks() []string {
	names := make([]string, 0, len(r.sinks))
	for _, s := range r.sinks {
		names = append(names, s.Name())
	}
	return names
}

// LogIngest writes a decision record to every sink
func (r *Recorder) LogIngest(ctx context.Context, rec persistence.TrainingRecord) error {
	if rec.SignalID == "" {
		return ErrMissingSignalID
	}
	r.fanOut(opIngest, rec.SignalID, func(s Sink) error {
		return s.WriteRecord(ctx, rec)
	})
	return nil
}

// LogOutcome attaches an outcome in the durable store and appends an
// OUTCOME_UPDATE event to the mirror
func (r *Recorder) LogOutcome(ctx context.Context, signalID string, outcome persistence.Outcome) error {
	if signalID == "" {
		return ErrMissingSignalID
	}
	r.fanOut(opOutcome, signalID, func(s Sink) error {
		return s.WriteOutcome(ctx, signalID, outcome)
	})
	return nil
}

// Close closes any sink holding resources
func (r *Recorder) Close() error {
	var errs []error
	for _, s := range r.sinks {
		if c, ok := s.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func (r *Recorder) fanOut(op, signalID string, write func(Sink) error) {
	var failed []string
	for _, s := range r.sinks {
		err := write(s)
		r.metrics.RecordSinkWrite(s.Name(), op, err)
		if err != nil {
			failed = append(failed, s.Name())
			log.Error().
				Err(err).
				Str("sink", s.Name()).
				Str("op", op).
				Str("signal_id", signalID).
				Msg("Training sink write failed")
		}
	}
	if len(failed) > 0 && len(failed) < len(r.sinks) {
		r.metrics.RecordSinkDivergence(op, failed)
	}
}
