package http

import (
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/signalgate/internal/execution"
	"github.com/sawpanic/signalgate/internal/sandbox"
)

// PreFlight handles GET /api/v1/sandbox/preflight
func (s *Server) PreFlight(w http.ResponseWriter, r *http.Request) {
	sb := s.deps.Sandboxes.Get(userIDFrom(r.Context()))
	s.writeJSON(w, http.StatusOK, sb.ValidatePreFlight(r.Context()))
}

// SetPlan handles PUT /api/v1/sandbox/plan
func (s *Server) SetPlan(w http.ResponseWriter, r *http.Request) {
	var req PlanRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}

	plan, ok := s.deps.Sandboxes.Get(userIDFrom(r.Context())).SetPlanType(req.Plan)
	s.writeJSON(w, http.StatusOK, PlanResponse{Plan: plan, Coerced: !ok})
}

// SetRiskProfile handles PUT /api/v1/sandbox/risk-profile
func (s *Server) SetRiskProfile(w http.ResponseWriter, r *http.Request) {
	var req RiskProfileRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}

	profile, err := sandbox.ParseRiskProfile(req.Profile)
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, "invalid_risk_profile", err.Error())
		return
	}
	if err := s.deps.Sandboxes.Get(userIDFrom(r.Context())).SetRiskProfile(profile); err != nil {
		s.writeError(w, r, http.StatusBadRequest, "invalid_risk_profile", err.Error())
		return
	}

	s.writeJSON(w, http.StatusOK, RiskProfileResponse{Profile: profile, RiskCap: sandbox.RiskCapFor(profile)})
}

// RecordLoss handles POST /api/v1/sandbox/loss. Once today's losses reach
// the risk cap, Execute rejects with RISK_CAP_EXCEEDED until rollover.
func (s *Server) RecordLoss(w http.ResponseWriter, r *http.Request) {
	var req LossRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	if req.Amount <= 0 {
		s.writeError(w, r, http.StatusBadRequest, "invalid_amount", "amount must be positive")
		return
	}

	userID := userIDFrom(r.Context())
	daily := s.deps.Sandboxes.Get(userID).RecordLoss(req.Amount)
	log.Info().
		Str("user_id", userID).
		Float64("amount", req.Amount).
		Float64("loss_incurred", daily.LossIncurred).
		Float64("risk_cap", daily.RiskCap).
		Msg("Sandbox loss recorded")

	s.writeJSON(w, http.StatusOK, LossResponse{Status: StatusSuccess, Daily: daily})
}

// Execute handles POST /api/v1/sandbox/execute
func (s *Server) Execute(w http.ResponseWriter, r *http.Request) {
	var req execution.Request
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}

	userID := userIDFrom(r.Context())
	tier := s.deps.Tiers.TierOf(r.Context(), userID)

	result, err := s.deps.Gate.Execute(r.Context(), userID, tier, req)
	if err == nil {
		s.writeJSON(w, http.StatusOK, ExecuteResponse{Status: StatusSuccess, Tier: tier, Result: result})
		return
	}

	rejection := ExecuteRejection{Status: StatusRejected, Message: err.Error(), Tier: tier}
	status := http.StatusInternalServerError

	var execErr *sandbox.ExecutionError
	var quotaErr *execution.QuotaError
	var kernelErr *execution.KernelError
	switch {
	case errors.As(err, &execErr):
		status = http.StatusForbidden
		rejection.Code = execErr.Code
		rejection.Message = execErr.Message
		rejection.Report = execErr.Report
	case errors.As(err, &quotaErr):
		status = http.StatusTooManyRequests
		rejection.Code = execution.CodeQuotaExceeded
		rejection.Message = quotaErr.Decision.Reason
		rejection.Decision = &quotaErr.Decision
	case errors.As(err, &kernelErr):
		rejection.Code = kernelErr.Code
		rejection.Message = kernelErr.Result.Message
		switch kernelErr.Code {
		case execution.CodeInvalidRequest:
			status = http.StatusBadRequest
		case execution.CodeKernelRejected:
			status = http.StatusBadGateway
			res := kernelErr.Result
			rejection.Kernel = &res
		default:
			status = http.StatusForbidden
		}
	default:
		log.Error().Err(err).Str("user_id", userID).Msg("Execution failed")
	}

	s.writeJSON(w, status, rejection)
}
