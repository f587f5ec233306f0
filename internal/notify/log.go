package notify

import (
	"context"

	"go.uber.org/zap"
)

// LogSink writes messages to the log instead of delivering them.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink builds a LogSink.
func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger.Named("sink")}
}

// Send logs msg.
func (s *LogSink) Send(_ context.Context, msg Message) error {
	s.logger.Info("notification",
		zap.Int64("user_id", msg.UserID),
		zap.Bool("email", msg.SendEmail),
		zap.Bool("sms", msg.SendSMS),
		zap.String("subject", msg.Subject),
		zap.String("content", msg.Content),
	)
	return nil
}
