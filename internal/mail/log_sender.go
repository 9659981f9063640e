package mail

import (
	"context"
	"log/slog"
)

// LogSender writes messages to the log instead of delivering them. It is meant
// for local development, where reading the code from the server output is enough.
type LogSender struct {
	log *slog.Logger
}

func NewLogSender(log *slog.Logger) *LogSender {
	return &LogSender{log: log}
}

func (s *LogSender) Send(ctx context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	s.log.InfoContext(ctx, "outbound email",
		slog.String("to", msg.To),
		slog.String("subject", msg.Subject),
		slog.String("tag", msg.Tag),
		slog.String("text", msg.Text),
	)
	return nil
}
