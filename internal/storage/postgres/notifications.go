package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/JakeFAU/numberwatch/internal/watch"
)

// GetNotificationSettings loads the user's contact settings.
func (s *Store) GetNotificationSettings(ctx context.Context, userID int64) (watch.NotificationSettings, error) {
	query := `
		SELECT email, email_enabled, email_verified, phone, phone_enabled, phone_verified,
			verification_type, verification_code, verification_attempts
		FROM notification_settings
		WHERE user_id = $1;
	`
	var (
		email, phone                string
		emailEnabled, emailVerified bool
		phoneEnabled, phoneVerified bool
		verificationType            pgtype.Text
		verificationCode            pgtype.Int4
		verificationAttempts        int
	)
	err := s.pool.QueryRow(ctx, query, userID).Scan(
		&email,
		&emailEnabled,
		&emailVerified,
		&phone,
		&phoneEnabled,
		&phoneVerified,
		&verificationType,
		&verificationCode,
		&verificationAttempts,
	)
	if err != nil {
		return watch.NotificationSettings{}, fmt.Errorf("load notification settings for user %d: %w", userID, notFound(err))
	}

	settings := watch.RestoreNotificationSettings(userID, email, phone)
	settings.EmailEnabled = emailEnabled
	settings.EmailVerified = emailVerified
	settings.PhoneEnabled = phoneEnabled
	settings.PhoneVerified = phoneVerified
	if verificationType.Valid {
		settings.Verification = &watch.Verification{
			Type:     watch.VerificationType(verificationType.String),
			Code:     int(verificationCode.Int32),
			Attempts: verificationAttempts,
		}
	}
	return settings, nil
}

// SaveNotificationSettings upserts the user's contact settings.
func (s *Store) SaveNotificationSettings(ctx context.Context, settings watch.NotificationSettings) error {
	query := `
		INSERT INTO notification_settings (
			user_id, email, email_enabled, email_verified, phone, phone_enabled, phone_verified,
			verification_type, verification_code, verification_attempts, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now())
		ON CONFLICT (user_id) DO UPDATE SET
			email = EXCLUDED.email,
			email_enabled = EXCLUDED.email_enabled,
			email_verified = EXCLUDED.email_verified,
			phone = EXCLUDED.phone,
			phone_enabled = EXCLUDED.phone_enabled,
			phone_verified = EXCLUDED.phone_verified,
			verification_type = EXCLUDED.verification_type,
			verification_code = EXCLUDED.verification_code,
			verification_attempts = EXCLUDED.verification_attempts,
			updated_at = EXCLUDED.updated_at;
	`
	var (
		vType     pgtype.Text
		vCode     pgtype.Int4
		vAttempts int
	)
	if v := settings.Verification; v != nil {
		vType = pgtype.Text{String: string(v.Type), Valid: true}
		vCode = pgtype.Int4{Int32: int32(v.Code), Valid: true} // #nosec G115 -- codes are six digits
		vAttempts = v.Attempts
	}
	_, err := s.pool.Exec(ctx, query,
		settings.UserID,
		settings.Email(),
		settings.EmailEnabled,
		settings.EmailVerified,
		settings.Phone(),
		settings.PhoneEnabled,
		settings.PhoneVerified,
		vType,
		vCode,
		vAttempts,
	)
	if err != nil {
		return fmt.Errorf("save notification settings for user %d: %w", settings.UserID, err)
	}
	return nil
}
