package kernel

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// CommandResult is what every kernel write reports. Failures are never
// converted to success.
type CommandResult struct {
	Success   bool            `json:"success"`
	Message   string          `json:"message"`
	RequestID string          `json:"request_id,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Command names used in metrics
const (
	CommandPanic            = "panic"
	CommandTelegramToggle   = "telegram_toggle"
	CommandTelegramStatus   = "telegram_status"
	CommandTelegramChannels = "telegram_channels"
	CommandSubmit           = "submit"
)

// TriggerPanic sends an emergency stop. On success the published status
// switches to EMERGENCY_STOP immediately, ahead of the next poll.
func (m *Monitor) TriggerPanic(ctx context.Context, userID, reason string) CommandResult {
	body := map[string]interface{}{
		"user_id":   userID,
		"reason":    reason,
		"source":    m.cfg.Source,
		"timestamp": m.now().UTC().Format(time.RFC3339),
	}

	data, err := m.client.Post(ctx, PathPanic, body, nil, m.cfg.PanicTimeout)
	m.metrics.RecordCommand(CommandPanic, err == nil)
	if err != nil {
		log.Error().
			Err(err).
			Str("user_id", userID).
			Str("reason", reason).
			Msg("Emergency stop FAILED to reach kernel")
		return CommandResult{Success: false, Message: failureMessage(err)}
	}

	m.forceStatus(StatusEmergencyStop)
	log.Warn().
		Str("user_id", userID).
		Str("reason", reason).
		Msg("Emergency stop acknowledged by kernel")

	return CommandResult{
		Success: true,
		Message: messageOr(data, "Emergency stop acknowledged by kernel"),
		Data:    data,
	}
}

// ToggleTelegram enables or disables the kernel's telegram feed.
// Audit logging is the caller's job so it also covers requests that never get here.
func (m *Monitor) ToggleTelegram(ctx context.Context, enabled bool, userID, reason string) CommandResult {
	body := map[string]interface{}{
		"enabled": enabled,
		"user_id": userID,
		"reason":  reason,
		"source":  m.cfg.Source,
	}

	data, err := m.client.Post(ctx, PathTelegramControl, body, nil, m.cfg.TelegramTimeout)
	m.metrics.RecordCommand(CommandTelegramToggle, err == nil)
	if err != nil {
		return CommandResult{Success: false, Message: failureMessage(err)}
	}

	state := "disabled"
	if enabled {
		state = "enabled"
	}
	return CommandResult{
		Success: true,
		Message: messageOr(data, "Telegram "+state),
		Data:    data,
	}
}

// TelegramStatus reads the kernel's telegram control state
func (m *Monitor) TelegramStatus(ctx context.Context) CommandResult {
	return m.read(ctx, CommandTelegramStatus, PathTelegramStatus)
}

// TelegramChannels lists the kernel's telegram channels
func (m *Monitor) TelegramChannels(ctx context.Context) CommandResult {
	return m.read(ctx, CommandTelegramChannels, PathTelegramChannels)
}

// SubmitCommand relays a command tagged with a request id and source marker.
// An empty requestID gets a generated one.
func (m *Monitor) SubmitCommand(ctx context.Context, command string, payload json.RawMessage, userID, requestID string) CommandResult {
	if requestID == "" {
		requestID = uuid.NewString()
	}
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}

	body := map[string]interface{}{
		"command":    command,
		"payload":    payload,
		"user_id":    userID,
		"request_id": requestID,
		"source":     m.cfg.Source,
	}
	headers := map[string]string{
		"X-Request-ID": requestID,
		"X-Source":     m.cfg.Source,
	}

	data, err := m.client.Post(ctx, PathCommandSubmit, body, headers, m.cfg.CommandTimeout)
	m.metrics.RecordCommand(CommandSubmit, err == nil)
	if err != nil {
		log.Error().
			Err(err).
			Str("command", command).
			Str("request_id", requestID).
			Msg("Kernel command failed")
		return CommandResult{Success: false, Message: failureMessage(err), RequestID: requestID}
	}

	return CommandResult{
		Success:   true,
		Message:   messageOr(data, "Command accepted"),
		RequestID: requestID,
		Data:      data,
	}
}

func (m *Monitor) read(ctx context.Context, name, path string) CommandResult {
	data, err := m.client.Get(ctx, path, m.cfg.ReadTimeout)
	m.metrics.RecordCommand(name, err == nil)
	if err != nil {
		return CommandResult{Success: false, Message: failureMessage(err)}
	}
	return CommandResult{Success: true, Message: "ok", Data: data}
}

// messageOr returns the kernel's "message" field when present
func messageOr(data json.RawMessage, fallback string) string {
	var body struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &body); err == nil && body.Message != "" {
		return body.Message
	}
	return fallback
}
