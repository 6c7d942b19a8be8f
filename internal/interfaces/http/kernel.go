package http

import (
	"errors"
	"io"
	"net/http"

	"github.com/sawpanic/signalgate/internal/kernel"
	applog "github.com/sawpanic/signalgate/internal/log"
)

// KernelHealth handles GET /api/v1/kernel/health
func (s *Server) KernelHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.deps.Kernel.Snapshot())
}

// Panic handles POST /api/v1/kernel/panic
func (s *Server) Panic(w http.ResponseWriter, r *http.Request) {
	var req PanicRequest
	// an empty body is a valid panic
	if err := decode(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
		s.writeError(w, r, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	if req.Reason == "" {
		req.Reason = "manual emergency stop"
	}

	userID := userIDFrom(r.Context())
	applog.Audit("kernel_panic").
		Str("user", userID).
		Str("ip", clientIP(r)).
		Str("reason", req.Reason).
		Msg("Emergency stop requested")

	s.writeCommand(w, s.deps.Kernel.TriggerPanic(r.Context(), userID, req.Reason))
}

// ToggleTelegram handles POST /api/v1/kernel/telegram. The audit line is
// written before the kernel is contacted.
func (s *Server) ToggleTelegram(w http.ResponseWriter, r *http.Request) {
	var req TelegramToggleRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	if req.Enabled == nil {
		s.writeError(w, r, http.StatusBadRequest, "missing_enabled", "enabled is required")
		return
	}

	state := "disabled"
	if *req.Enabled {
		state = "enabled"
	}
	userID := userIDFrom(r.Context())
	applog.Audit("telegram_toggle").
		Str("state", state).
		Str("user", userID).
		Str("ip", clientIP(r)).
		Str("reason", req.Reason).
		Msg("Telegram toggle requested")

	s.writeCommand(w, s.deps.Kernel.ToggleTelegram(r.Context(), *req.Enabled, userID, req.Reason))
}

// TelegramStatus handles GET /api/v1/kernel/telegram/status
func (s *Server) TelegramStatus(w http.ResponseWriter, r *http.Request) {
	s.writeCommand(w, s.deps.Kernel.TelegramStatus(r.Context()))
}

// TelegramChannels handles GET /api/v1/kernel/telegram/channels
func (s *Server) TelegramChannels(w http.ResponseWriter, r *http.Request) {
	s.writeCommand(w, s.deps.Kernel.TelegramChannels(r.Context()))
}

// SubmitCommand handles POST /api/v1/kernel/commands
func (s *Server) SubmitCommand(w http.ResponseWriter, r *http.Request) {
	var req CommandRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	if req.Command == "" {
		s.writeError(w, r, http.StatusBadRequest, "missing_command", "command is required")
		return
	}
	if req.RequestID == "" {
		req.RequestID = r.Header.Get(HeaderRequestID)
	}

	s.writeCommand(w, s.deps.Kernel.SubmitCommand(r.Context(), req.Command, req.Payload, userIDFrom(r.Context()), req.RequestID))
}

// writeCommand maps a kernel result to 200 or 502
func (s *Server) writeCommand(w http.ResponseWriter, res kernel.CommandResult) {
	status := http.StatusOK
	if !res.Success {
		status = http.StatusBadGateway
	}
	s.writeJSON(w, status, res)
}
