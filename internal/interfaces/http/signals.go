package http

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/signalgate/internal/persistence"
	"github.com/sawpanic/signalgate/internal/signals"
	"github.com/sawpanic/signalgate/internal/training"
)

// ReasonInvalidPayload is reported for bodies that are not a Signal
const ReasonInvalidPayload = "INVALID_PAYLOAD"

// IngestSignal handles POST /api/v1/signals
func (s *Server) IngestSignal(w http.ResponseWriter, r *http.Request) {
	var sig signals.Signal
	if err := decode(w, r, &sig); err != nil {
		s.writeJSON(w, http.StatusBadRequest, RejectResponse{Status: StatusRejected, Reason: ReasonInvalidPayload})
		return
	}

	key := strings.TrimSpace(sig.Source)
	if key == "" {
		key = clientIP(r)
	}
	if ok, retryAfter := s.deps.Limiter.Allow(key); !ok {
		s.deps.Metrics.RecordThrottle(key)
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(retryAfter.Seconds()))))
		s.writeError(w, r, http.StatusTooManyRequests, "rate_limited", "too many signals from "+key)
		return
	}

	accepted, err := s.deps.Validator.Ingest(r.Context(), sig)
	if err != nil {
		var rejection *signals.RejectionError
		if errors.As(err, &rejection) {
			s.writeJSON(w, http.StatusBadRequest, RejectResponse{Status: StatusRejected, Reason: string(rejection.Reason)})
			return
		}
		log.Error().Err(err).Str("source", sig.Source).Msg("Signal ingest failed")
		s.writeError(w, r, http.StatusInternalServerError, "ingest_failed", "signal could not be processed")
		return
	}

	resp := IngestResponse{
		Status:   StatusSuccess,
		SignalID: accepted.ID,
		Action:   ActionQueuedForRouting,
		Details:  accepted.ScoreBreakdown,
	}
	if accepted.ScoreBreakdown != nil {
		resp.Score = accepted.ScoreBreakdown.Total
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// RecentSignals handles GET /api/v1/signals
func (s *Server) RecentSignals(w http.ResponseWriter, r *http.Request) {
	recent := s.deps.Validator.Recent()
	s.writeJSON(w, http.StatusOK, RecentSignalsResponse{Count: len(recent), Signals: recent})
}

// RecordOutcome handles POST /api/v1/outcomes
func (s *Server) RecordOutcome(w http.ResponseWriter, r *http.Request) {
	var req OutcomeRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	req.SignalID = strings.TrimSpace(req.SignalID)

	outcome := persistence.Outcome{Execution: req.Execution, PnL: req.PnL, Status: req.Status}
	if err := s.deps.Recorder.LogOutcome(r.Context(), req.SignalID, outcome); err != nil {
		if errors.Is(err, training.ErrMissingSignalID) {
			s.writeError(w, r, http.StatusBadRequest, "missing_signal_id", "signal_id is required")
			return
		}
		s.writeError(w, r, http.StatusInternalServerError, "outcome_failed", err.Error())
		return
	}

	resp := OutcomeResponse{Status: StatusSuccess, SignalID: req.SignalID}

	// only a realized result moves the channel's history score
	if req.Status != "" || req.PnL != nil {
		if stats, ok := s.deps.Validator.RecordOutcome(r.Context(), req.SignalID, signals.OutcomeFromStatus(req.Status, req.PnL)); ok {
			resp.Channel = &stats
		}
	}

	s.writeJSON(w, http.StatusOK, resp)
}
