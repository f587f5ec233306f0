// Package reconcile matches pending watches against parsed numbers.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/JakeFAU/numberwatch/internal/clock/system"
	"github.com/JakeFAU/numberwatch/internal/metrics"
	"github.com/JakeFAU/numberwatch/internal/telemetry"
	"github.com/JakeFAU/numberwatch/internal/watch"
)

// LockKey is the lease key taken by a reconcile run.
const LockKey = "numberwatch:reconcile"

// DefaultLimit is the batch size used when none is configured.
const DefaultLimit = 1

// Options bound one run. A non-positive Limit uses the job default.
type Options struct {
	Limit int
}

// Summary counts what one run did.
type Summary struct {
	Processed    int `json:"processed"`
	Matched      int `json:"matched"`
	Skipped      int `json:"skipped"`
	NotifyFailed int `json:"notify_failed"`
	// Locked is set when another run holds the reconcile lease.
	Locked bool `json:"locked,omitempty"`
}

// Option customizes a Job.
type Option func(*Job)

// WithClock overrides the time source.
func WithClock(c watch.Clock) Option {
	return func(j *Job) { j.clock = c }
}

// WithLocker serializes runs through locker.
func WithLocker(locker watch.Locker) Option {
	return func(j *Job) { j.locker = locker }
}

// WithLogger sets the job logger.
func WithLogger(logger *zap.Logger) Option {
	return func(j *Job) { j.logger = logger }
}

// WithDefaultLimit sets the batch size used when a run passes none.
func WithDefaultLimit(limit int) Option {
	return func(j *Job) {
		if limit > 0 {
			j.limit = limit
		}
	}
}

// Job reconciles watches in staleness order.
type Job struct {
	watches  watch.WatchRepository
	numbers  watch.InfoNumberRepository
	notifier watch.Notifier
	clock    watch.Clock
	locker   watch.Locker
	logger   *zap.Logger
	limit    int
}

// NewJob builds a reconcile job.
func NewJob(
	watches watch.WatchRepository,
	numbers watch.InfoNumberRepository,
	notifier watch.Notifier,
	opts ...Option,
) (*Job, error) {
	if watches == nil || numbers == nil || notifier == nil {
		return nil, errors.New("reconcile: watch repository, number repository and notifier are required")
	}
	j := &Job{
		watches:  watches,
		numbers:  numbers,
		notifier: notifier,
		clock:    system.New(),
		logger:   zap.NewNop(),
		limit:    DefaultLimit,
	}
	for _, opt := range opts {
		opt(j)
	}
	j.logger = j.logger.Named("reconcile")
	return j, nil
}

// Run checks up to the limit of least recently searched watches. The match key
// is (number, year); the watch code is not compared. A failed notification is
// logged and counted, and the batch carries on.
func (j *Job) Run(ctx context.Context, opts Options) (summary Summary, err error) {
	ctx, span := telemetry.Tracer().Start(ctx, "reconcile.run")
	start := time.Now()
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.SetAttributes(
			attribute.Int("reconcile.processed", summary.Processed),
			attribute.Int("reconcile.matched", summary.Matched),
		)
		span.End()
		metrics.ObserveJob("reconcile", err, time.Since(start))
	}()

	if j.locker != nil {
		lease, ok, lockErr := j.locker.TryLock(ctx, LockKey)
		if lockErr != nil {
			return Summary{}, fmt.Errorf("acquire reconcile lease: %w", lockErr)
		}
		if !ok {
			j.logger.Info("reconcile already running elsewhere; skipping")
			return Summary{Locked: true}, nil
		}
		defer func() {
			if relErr := lease.Release(context.WithoutCancel(ctx)); relErr != nil {
				j.logger.Warn("release reconcile lease", zap.Error(relErr))
			}
		}()
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = j.limit
	}
	pending, err := j.watches.ListPendingWatches(ctx, limit)
	if err != nil {
		return Summary{}, fmt.Errorf("list pending watches: %w", err)
	}

	updated := make([]watch.UserNumber, 0, len(pending))
	for _, w := range pending {
		logger := j.logger.With(zap.Int64("watch_id", w.ID), zap.Stringer("number", w.Identifier))
		if !w.Enabled {
			logger.Info("skipped: disabled")
			metrics.ObserveWatch("skipped")
			summary.Skipped++
			continue
		}

		match, err := j.numbers.FindInfoNumber(ctx, w.Number, w.Year)
		switch {
		case err == nil:
			id := match.ID
			w.InfoNumberID = &id
			summary.Matched++
			metrics.ObserveWatch("matched")
			logger.Info("found", zap.Int64("info_number_id", match.ID))
			if notifyErr := j.notifier.NotifyMatch(ctx, w, match); notifyErr != nil {
				summary.NotifyFailed++
				logger.Error("notification failed", zap.Error(notifyErr))
			}
		case errors.Is(err, watch.ErrNotFound):
			metrics.ObserveWatch("pending")
			logger.Debug("not found")
		default:
			return summary, fmt.Errorf("find info number for watch %d: %w", w.ID, err)
		}

		now := j.clock.Now()
		w.SearchAt = &now
		updated = append(updated, w)
		summary.Processed++
	}

	if len(updated) > 0 {
		if err := j.watches.SaveWatchResults(ctx, updated); err != nil {
			return summary, fmt.Errorf("save watch results: %w", err)
		}
	}
	j.logger.Info("reconcile finished",
		zap.Int("processed", summary.Processed),
		zap.Int("matched", summary.Matched),
		zap.Int("notify_failed", summary.NotifyFailed),
	)
	return summary, nil
}
