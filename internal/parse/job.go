// Package parse extracts identifiers from downloaded documents.
package parse

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/JakeFAU/numberwatch/internal/clock/system"
	"github.com/JakeFAU/numberwatch/internal/metrics"
	"github.com/JakeFAU/numberwatch/internal/pdftext"
	"github.com/JakeFAU/numberwatch/internal/telemetry"
	"github.com/JakeFAU/numberwatch/internal/watch"
)

// LockKey is the lease key taken by a parse run.
const LockKey = "numberwatch:parse"

// TextExtractor returns the plain text of a document.
type TextExtractor func(doc pdftext.Document) (string, error)

// Config holds the parser settings.
type Config struct {
	NumberPattern string
}

// Result describes one parser invocation.
type Result struct {
	// SourceID is zero when no Source was pending.
	SourceID int64 `json:"source_id"`
	Numbers  int   `json:"numbers"`
	Invalid  bool  `json:"invalid,omitempty"`
	// Skipped is set when another run holds the parse lease.
	Skipped bool `json:"skipped,omitempty"`
}

// Option customizes a Job.
type Option func(*Job)

// WithClock overrides the time source.
func WithClock(c watch.Clock) Option {
	return func(j *Job) { j.clock = c }
}

// WithExtractor overrides the PDF text extractor.
func WithExtractor(fn TextExtractor) Option {
	return func(j *Job) { j.extract = fn }
}

// WithLocker serializes runs through locker.
func WithLocker(locker watch.Locker) Option {
	return func(j *Job) { j.locker = locker }
}

// WithLogger sets the job logger.
func WithLogger(logger *zap.Logger) Option {
	return func(j *Job) { j.logger = logger }
}

// Job parses one pending Source per Run.
type Job struct {
	sources watch.SourceRepository
	store   watch.ContentStore
	pattern *regexp.Regexp
	extract TextExtractor
	clock   watch.Clock
	locker  watch.Locker
	logger  *zap.Logger
}

// NewJob builds a parser job.
func NewJob(sources watch.SourceRepository, store watch.ContentStore, cfg Config, opts ...Option) (*Job, error) {
	if sources == nil || store == nil {
		return nil, errors.New("parse: source repository and content store are required")
	}
	if cfg.NumberPattern == "" {
		cfg.NumberPattern = DefaultNumberPattern
	}
	pattern, err := regexp.Compile(cfg.NumberPattern)
	if err != nil {
		return nil, fmt.Errorf("compile number pattern: %w", err)
	}
	j := &Job{
		sources: sources,
		store:   store,
		pattern: pattern,
		extract: pdftext.Extract,
		clock:   system.New(),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(j)
	}
	j.logger = j.logger.Named("parse")
	return j, nil
}

// Run processes the oldest pending Source. No pending Source is a successful no-op.
// A document that cannot be opened or read as PDF is marked INVALID_PDF and never retried.
func (j *Job) Run(ctx context.Context) (result Result, err error) {
	ctx, span := telemetry.Tracer().Start(ctx, "parse.run")
	start := time.Now()
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.SetAttributes(attribute.Int64("source.id", result.SourceID), attribute.Int("numbers", result.Numbers))
		span.End()
		metrics.ObserveJob("parse", err, time.Since(start))
	}()

	if j.locker != nil {
		lease, ok, lockErr := j.locker.TryLock(ctx, LockKey)
		if lockErr != nil {
			return Result{}, fmt.Errorf("acquire parse lease: %w", lockErr)
		}
		if !ok {
			j.logger.Info("parse already running elsewhere; skipping")
			return Result{Skipped: true}, nil
		}
		defer func() {
			if relErr := lease.Release(context.WithoutCancel(ctx)); relErr != nil {
				j.logger.Warn("release parse lease", zap.Error(relErr))
			}
		}()
	}

	source, err := j.sources.NextPendingSource(ctx)
	if errors.Is(err, watch.ErrNotFound) {
		j.logger.Debug("no pending source")
		return Result{}, nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("next pending source: %w", err)
	}
	result.SourceID = source.ID
	logger := j.logger.With(zap.Int64("source_id", source.ID), zap.String("file", source.FileName))

	f, err := j.store.Open(ctx, source.FileName)
	if err != nil && !errors.Is(err, watch.ErrNotFound) {
		return result, fmt.Errorf("open source %d: %w", source.ID, err)
	}
	var text string
	if err == nil {
		text, err = j.readText(f)
	}
	if err != nil {
		logger.Warn("invalid document", zap.Error(err))
		if markErr := j.sources.MarkSourceInvalid(ctx, source.ID, j.clock.Now()); markErr != nil {
			return result, fmt.Errorf("mark source %d invalid: %w", source.ID, markErr)
		}
		metrics.ObserveSource(string(watch.SourceStateInvalidPDF))
		result.Invalid = true
		return result, nil
	}

	ids := Extract(Normalize(text), j.pattern)
	numbers := make([]watch.InfoNumber, 0, len(ids))
	for _, id := range ids {
		numbers = append(numbers, watch.InfoNumber{Identifier: id, SourceID: source.ID})
	}
	if err := j.sources.SaveParsedNumbers(ctx, source.ID, numbers, j.clock.Now()); err != nil {
		return result, fmt.Errorf("save parsed numbers for source %d: %w", source.ID, err)
	}
	result.Numbers = len(numbers)
	metrics.ObserveNumbersExtracted(len(numbers))
	logger.Info("source parsed", zap.Int("numbers", len(numbers)))
	return result, nil
}

func (j *Job) readText(f watch.File) (string, error) {
	defer func() {
		if cerr := f.Close(); cerr != nil {
			j.logger.Debug("close document", zap.Error(cerr))
		}
	}()
	return j.extract(f)
}
