package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/JakeFAU/numberwatch/internal/watch"
)

// ErrNoVerification is returned when confirming a code that was never issued.
var ErrNoVerification = errors.New("no verification pending")

// ErrNoContact is returned when the channel being verified has no address.
var ErrNoContact = errors.New("no contact address for verification")

// Verifier issues and confirms contact verification codes.
type Verifier struct {
	settings watch.NotificationRepository
	sink     Sink
	from     Sender
}

// NewVerifier builds a Verifier.
func NewVerifier(settings watch.NotificationRepository, sink Sink, from Sender) *Verifier {
	return &Verifier{settings: settings, sink: sink, from: from}
}

// Start issues a fresh code for the channel named by rawType and sends it.
// Each user gets at most MaxVerificationAttempts codes per verification.
func (v *Verifier) Start(ctx context.Context, userID int64, rawType string) (watch.Verification, error) {
	vt, err := watch.ParseVerificationType(rawType)
	if err != nil {
		return watch.Verification{}, err
	}
	settings, err := v.settings.GetNotificationSettings(ctx, userID)
	if err != nil {
		return watch.Verification{}, fmt.Errorf("load notification settings for user %d: %w", userID, err)
	}

	msg := Message{UserID: userID, Subject: "Verification Code", FromEmail: v.from.Email, FromName: v.from.Name}
	switch vt {
	case watch.VerificationPhone:
		if settings.Phone() == "" {
			return watch.Verification{}, ErrNoContact
		}
		msg.Phone, msg.SendSMS = settings.Phone(), true
	case watch.VerificationEmail:
		if settings.Email() == "" {
			return watch.Verification{}, ErrNoContact
		}
		msg.Email, msg.SendEmail = settings.Email(), true
	}

	if settings.Verification == nil {
		settings.Verification = &watch.Verification{}
	}
	settings.Verification.Type = vt
	if err := settings.Verification.Regenerate(); err != nil {
		return watch.Verification{}, err
	}
	if err := v.settings.SaveNotificationSettings(ctx, settings); err != nil {
		return watch.Verification{}, fmt.Errorf("save verification for user %d: %w", userID, err)
	}

	code := settings.Verification.Code
	msg.Content = fmt.Sprintf("Verification Code: %d", code)
	msg.HTML = fmt.Sprintf("<p>Your Verification Code is: %d</p>", code)
	if err := v.sink.Send(ctx, msg); err != nil {
		return watch.Verification{}, fmt.Errorf("send verification to user %d: %w", userID, err)
	}
	return *settings.Verification, nil
}

// Confirm marks the pending channel verified when code matches.
func (v *Verifier) Confirm(ctx context.Context, userID int64, code int) (bool, error) {
	settings, err := v.settings.GetNotificationSettings(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("load notification settings for user %d: %w", userID, err)
	}
	if settings.Verification == nil {
		return false, ErrNoVerification
	}
	if settings.Verification.Code != code {
		return false, nil
	}
	settings.MarkVerified(settings.Verification.Type)
	settings.Verification = nil
	if err := v.settings.SaveNotificationSettings(ctx, settings); err != nil {
		return false, fmt.Errorf("save verified settings for user %d: %w", userID, err)
	}
	return true, nil
}
