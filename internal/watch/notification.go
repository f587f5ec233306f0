package watch

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

// ErrInvalidVerificationType is returned for a verification type outside the enumeration.
var ErrInvalidVerificationType = errors.New("invalid verification type")

// ErrVerificationAttempts is returned once a verification exceeds MaxVerificationAttempts.
var ErrVerificationAttempts = errors.New("reached limit of attempts for verification")

// MaxVerificationAttempts bounds how many codes may be issued for one verification.
const MaxVerificationAttempts = 3

const (
	verificationCodeMin = 100000
	verificationCodeMax = 900000
)

// VerificationType selects the contact channel being verified.
type VerificationType string

// Verification types.
const (
	VerificationPhone VerificationType = "PHONE"
	VerificationEmail VerificationType = "EMAIL"
)

// ParseVerificationType validates raw against the closed set of verification types.
func ParseVerificationType(raw string) (VerificationType, error) {
	switch t := VerificationType(strings.ToUpper(strings.TrimSpace(raw))); t {
	case VerificationPhone, VerificationEmail:
		return t, nil
	default:
		return "", fmt.Errorf("%w: %q (allowed %s, %s)", ErrInvalidVerificationType, raw, VerificationPhone, VerificationEmail)
	}
}

// Verification is a pending contact verification code.
type Verification struct {
	Type     VerificationType `json:"type"`
	Code     int              `json:"code"`
	Attempts int              `json:"attempts"`
}

// Regenerate issues a fresh code and counts the attempt.
func (v *Verification) Regenerate() error {
	v.Attempts++
	if v.Attempts > MaxVerificationAttempts {
		return ErrVerificationAttempts
	}
	n, err := rand.Int(rand.Reader, big.NewInt(verificationCodeMax-verificationCodeMin+1))
	if err != nil {
		return fmt.Errorf("generate verification code: %w", err)
	}
	v.Code = verificationCodeMin + int(n.Int64())
	return nil
}

// NotificationSettings holds a user's contact channels.
// Setters keep the invariant that changing a channel clears its verified flag.
type NotificationSettings struct {
	UserID        int64         `json:"user_id"`
	email         string
	phone         string
	EmailEnabled  bool          `json:"email_enabled"`
	PhoneEnabled  bool          `json:"phone_enabled"`
	EmailVerified bool          `json:"email_verified"`
	PhoneVerified bool          `json:"phone_verified"`
	Verification  *Verification `json:"verification,omitempty"`
}

// RestoreNotificationSettings rebuilds settings loaded from storage without
// touching the verified flags.
func RestoreNotificationSettings(userID int64, email, phone string) NotificationSettings {
	return NotificationSettings{UserID: userID, email: email, phone: phone}
}

// Email returns the configured email address.
func (n NotificationSettings) Email() string { return n.email }

// Phone returns the configured phone number.
func (n NotificationSettings) Phone() string { return n.phone }

// SetEmail changes the email address, clearing verification when it differs.
func (n *NotificationSettings) SetEmail(email string) {
	email = strings.TrimSpace(email)
	if email != n.email {
		n.EmailVerified = false
	}
	n.email = email
}

// SetPhone changes the phone number, clearing verification when it differs.
func (n *NotificationSettings) SetPhone(phone string) {
	phone = strings.TrimSpace(phone)
	if phone != n.phone {
		n.PhoneVerified = false
	}
	n.phone = phone
}

// EmailDeliverable reports whether match notifications may go to the email channel.
func (n NotificationSettings) EmailDeliverable() bool {
	return n.EmailEnabled && n.EmailVerified && n.email != ""
}

// SMSDeliverable reports whether match notifications may go to the phone channel.
func (n NotificationSettings) SMSDeliverable() bool {
	return n.PhoneEnabled && n.PhoneVerified && n.phone != ""
}

// MarkVerified flags the channel of the given type as verified.
func (n *NotificationSettings) MarkVerified(t VerificationType) {
	switch t {
	case VerificationPhone:
		n.PhoneVerified = true
	case VerificationEmail:
		n.EmailVerified = true
	}
}
