package logging

import (
	"log/slog"
	"os"
	"strings"
)

// Init configures the global slog logger.
// In production (ENVIRONMENT=production) it uses JSON output for log aggregation.
// Otherwise it uses the human-readable text handler.
func Init() {
	env := strings.ToLower(os.Getenv("ENVIRONMENT"))

	var handler slog.Handler
	if env == "production" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})
	}

	slog.SetDefault(slog.New(handler))
}

// WithInbound returns a logger with inbound message fields attached.
// Use this for all logging while one message is being routed.
func WithInbound(channel, messageID, userID string) *slog.Logger {
	return slog.With(
		"channel", channel,
		"message_id", messageID,
		"user_id", userID,
	)
}

// WithSession returns a logger scoped to the session a message was routed to.
func WithSession(logger *slog.Logger, sessionID, role, status string) *slog.Logger {
	return logger.With(
		"session_id", sessionID,
		"role", role,
		"status", status,
	)
}
