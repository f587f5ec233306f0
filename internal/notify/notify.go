// Package notify turns watch matches and verification codes into sink messages.
package notify

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/numberwatch/internal/metrics"
	"github.com/JakeFAU/numberwatch/internal/watch"
)

// Message is one outbound notification. The sink delivers it on every
// channel whose Send flag is set.
type Message struct {
	UserID    int64  `json:"user_id"`
	Email     string `json:"email,omitempty"`
	Phone     string `json:"phone,omitempty"`
	SendEmail bool   `json:"send_email"`
	SendSMS   bool   `json:"send_sms"`
	Subject   string `json:"subject"`
	Content   string `json:"content"`
	HTML      string `json:"html,omitempty"`
	FromEmail string `json:"from_email,omitempty"`
	FromName  string `json:"from_name,omitempty"`
}

// Sink delivers messages. Errors are transport failures.
type Sink interface {
	Send(ctx context.Context, msg Message) error
}

// Sender identifies the From address of outgoing email.
type Sender struct {
	Email string
	Name  string
}

// UserNotifier sends match notifications according to each user's settings.
type UserNotifier struct {
	settings watch.NotificationRepository
	sink     Sink
	from     Sender
	logger   *zap.Logger
}

// NewUserNotifier builds a UserNotifier.
func NewUserNotifier(settings watch.NotificationRepository, sink Sink, from Sender, logger *zap.Logger) *UserNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UserNotifier{settings: settings, sink: sink, from: from, logger: logger.Named("notify")}
}

// NotifyMatch sends one message covering every deliverable channel of the
// watch owner. Users without a verified, enabled channel get nothing.
func (n *UserNotifier) NotifyMatch(ctx context.Context, w watch.UserNumber, _ watch.InfoNumber) error {
	settings, err := n.settings.GetNotificationSettings(ctx, w.UserID)
	if errors.Is(err, watch.ErrNotFound) {
		n.logger.Info("no notification settings", zap.Int64("user_id", w.UserID))
		metrics.ObserveNotification("no_channel")
		return nil
	}
	if err != nil {
		return fmt.Errorf("load notification settings for user %d: %w", w.UserID, err)
	}

	msg := MatchMessage(settings, w.Identifier, n.from)
	if !msg.SendEmail && !msg.SendSMS {
		n.logger.Info("no deliverable channel", zap.Int64("user_id", w.UserID))
		metrics.ObserveNotification("no_channel")
		return nil
	}
	if err := n.sink.Send(ctx, msg); err != nil {
		metrics.ObserveNotification("failed")
		return fmt.Errorf("send match notification to user %d: %w", w.UserID, err)
	}
	metrics.ObserveNotification("sent")
	return nil
}

// MatchMessage builds the notification for a found number.
func MatchMessage(settings watch.NotificationSettings, id watch.Identifier, from Sender) Message {
	content := fmt.Sprintf("Your personal number %s found", id)
	msg := Message{
		UserID:    settings.UserID,
		Subject:   "Personal number found",
		Content:   content,
		HTML:      fmt.Sprintf("<p>%s</p>", content),
		FromEmail: from.Email,
		FromName:  from.Name,
	}
	if settings.EmailDeliverable() {
		msg.Email = settings.Email()
		msg.SendEmail = true
	}
	if settings.SMSDeliverable() {
		msg.Phone = settings.Phone()
		msg.SendSMS = true
	}
	return msg
}
