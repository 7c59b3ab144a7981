package email

import (
	"context"
	"log/slog"
)

// LogSender logs emails instead of sending them, it's meant for local
// development. The log contains recipients and tokens, never use it in
// production.
type LogSender struct {
	logger *slog.Logger
}

func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{
		logger: logger.With("sender", "log"),
	}
}

func (s *LogSender) Send(ctx context.Context, from, recipient Address, subject, body string) error {
	s.logger.InfoContext(ctx, "send email",
		"from", from,
		"recipient", recipient,
		"subject", subject,
		"body", body,
	)
	return nil
}
