// Package watchlist registers user watches for personal numbers.
package watchlist

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/numberwatch/internal/watch"
)

var (
	// ErrDuplicateWatch is returned when the user already watches the same number.
	ErrDuplicateWatch = errors.New("number already registered")
	// ErrNotWatchOwner is returned when a user changes a watch registered by someone else.
	ErrNotWatchOwner = errors.New("watch belongs to another user")
)

// Service validates and persists new watches.
type Service struct {
	watches watch.WatchRepository
	logger  *zap.Logger
}

// New builds a Service.
func New(watches watch.WatchRepository, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{watches: watches, logger: logger.Named("watchlist")}
}

// Add parses raw as number/[CODE/]year and stores an enabled watch for userID.
func (s *Service) Add(ctx context.Context, userID int64, raw, label string) (watch.UserNumber, error) {
	id, err := watch.ParseIdentifier(raw)
	if err != nil {
		return watch.UserNumber{}, err
	}
	exists, err := s.watches.WatchExists(ctx, userID, id)
	if err != nil {
		return watch.UserNumber{}, fmt.Errorf("check existing watch: %w", err)
	}
	if exists {
		return watch.UserNumber{}, fmt.Errorf("%w: %s", ErrDuplicateWatch, id)
	}

	w := watch.UserNumber{
		Identifier: id,
		UserID:     userID,
		Enabled:    true,
		Label:      strings.TrimSpace(label),
	}
	if err := s.watches.CreateWatch(ctx, &w); err != nil {
		return watch.UserNumber{}, fmt.Errorf("create watch: %w", err)
	}
	s.logger.Info("watch registered",
		zap.Int64("user_id", userID),
		zap.String("number", id.String()),
		zap.Int64("watch_id", w.ID),
	)
	return w, nil
}

// Toggle flips the enabled flag of a watch owned by userID and returns the
// updated watch. Disabled watches are skipped by reconcile.
func (s *Service) Toggle(ctx context.Context, userID, id int64) (watch.UserNumber, error) {
	w, err := s.owned(ctx, userID, id)
	if err != nil {
		return watch.UserNumber{}, err
	}
	w.Enabled = !w.Enabled
	if err := s.watches.SetWatchEnabled(ctx, userID, id, w.Enabled); err != nil {
		return watch.UserNumber{}, fmt.Errorf("toggle watch %d: %w", id, err)
	}
	s.logger.Info("watch toggled",
		zap.Int64("user_id", userID),
		zap.Int64("watch_id", id),
		zap.Bool("enabled", w.Enabled),
	)
	return w, nil
}

// Delete removes a watch owned by userID.
func (s *Service) Delete(ctx context.Context, userID, id int64) error {
	w, err := s.owned(ctx, userID, id)
	if err != nil {
		return err
	}
	if err := s.watches.DeleteWatch(ctx, userID, id); err != nil {
		return fmt.Errorf("delete watch %d: %w", id, err)
	}
	s.logger.Info("watch deleted",
		zap.Int64("user_id", userID),
		zap.Int64("watch_id", id),
		zap.String("number", w.Identifier.String()),
	)
	return nil
}

func (s *Service) owned(ctx context.Context, userID, id int64) (watch.UserNumber, error) {
	w, err := s.watches.GetWatch(ctx, id)
	if err != nil {
		return watch.UserNumber{}, fmt.Errorf("get watch %d: %w", id, err)
	}
	if w.UserID != userID {
		return watch.UserNumber{}, fmt.Errorf("%w: watch %d", ErrNotWatchOwner, id)
	}
	return w, nil
}
