// Package crawl discovers new source documents and downloads them once.
package crawl

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/JakeFAU/numberwatch/internal/links"
	"github.com/JakeFAU/numberwatch/internal/metrics"
	"github.com/JakeFAU/numberwatch/internal/telemetry"
	"github.com/JakeFAU/numberwatch/internal/watch"
)

// DefaultPDFLinkPattern matches an absolute .pdf URL followed by its anchor text.
const DefaultPDFLinkPattern = `(http[^"]*\.pdf)">([a-zA-Z0-9]+)<`

// LockKey is the lease key taken by a crawl run.
const LockKey = "numberwatch:crawl"

var fileNamePattern = regexp.MustCompile(`/([^/]*\.pdf)$`)

// Config holds crawler settings.
type Config struct {
	ListingPaths       []string
	LinkSelector       string
	PDFLinkPattern     string
	Limit              int
	Proxy              string
	InsecureSkipVerify bool
}

// Options override Config for one run. A zero Limit keeps the configured
// limit; a negative Limit removes it.
type Options struct {
	Proxy string
	Limit int
}

// Result summarizes one crawl run.
type Result struct {
	Candidates int `json:"candidates"`
	Links      int `json:"links"`
	Created    int `json:"created"`
	BadSources int `json:"bad_sources"`
	// Skipped is set when another run holds the crawl lease.
	Skipped bool `json:"skipped,omitempty"`
}

// Option customizes a Job.
type Option func(*Job)

// WithLocker serializes runs through locker.
func WithLocker(locker watch.Locker) Option {
	return func(j *Job) { j.locker = locker }
}

// WithLogger sets the job logger.
func WithLogger(logger *zap.Logger) Option {
	return func(j *Job) { j.logger = logger }
}

// Job runs the listing, link and download phases.
type Job struct {
	cfg     Config
	pdfLink *regexp.Regexp
	fetcher watch.Fetcher
	sources watch.SourceRepository
	store   watch.ContentStore
	locker  watch.Locker
	logger  *zap.Logger
}

type pdfLink struct {
	url  string
	name string
}

// NewJob builds a crawl job.
func NewJob(
	cfg Config,
	fetcher watch.Fetcher,
	sources watch.SourceRepository,
	store watch.ContentStore,
	opts ...Option,
) (*Job, error) {
	if fetcher == nil || sources == nil || store == nil {
		return nil, errors.New("crawl: fetcher, source repository and content store are required")
	}
	if len(cfg.ListingPaths) == 0 {
		return nil, errors.New("crawl: at least one listing path is required")
	}
	if cfg.PDFLinkPattern == "" {
		cfg.PDFLinkPattern = DefaultPDFLinkPattern
	}
	pattern, err := regexp.Compile(cfg.PDFLinkPattern)
	if err != nil {
		return nil, fmt.Errorf("compile pdf link pattern: %w", err)
	}
	if pattern.NumSubexp() < 2 {
		return nil, errors.New("crawl: pdf link pattern needs url and name capture groups")
	}
	j := &Job{
		cfg:     cfg,
		pdfLink: pattern,
		fetcher: fetcher,
		sources: sources,
		store:   store,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(j)
	}
	j.logger = j.logger.Named("crawl")
	return j, nil
}

// Run discovers new documents and downloads at most the configured limit of them.
// Per-document network failures mark the Source BAD_SOURCE and never fail the run.
func (j *Job) Run(ctx context.Context, opts Options) (result Result, err error) {
	ctx, span := telemetry.Tracer().Start(ctx, "crawl.run")
	start := time.Now()
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.SetAttributes(
			attribute.Int("crawl.created", result.Created),
			attribute.Int("crawl.bad_sources", result.BadSources),
		)
		span.End()
		metrics.ObserveJob("crawl", err, time.Since(start))
	}()

	if j.locker != nil {
		lease, ok, lockErr := j.locker.TryLock(ctx, LockKey)
		if lockErr != nil {
			return Result{}, fmt.Errorf("acquire crawl lease: %w", lockErr)
		}
		if !ok {
			j.logger.Info("crawl already running elsewhere; skipping")
			return Result{Skipped: true}, nil
		}
		defer func() {
			if relErr := lease.Release(context.WithoutCancel(ctx)); relErr != nil {
				j.logger.Warn("release crawl lease", zap.Error(relErr))
			}
		}()
	}

	reqOpts := watch.FetchOptions{Proxy: j.cfg.Proxy, InsecureSkipVerify: j.cfg.InsecureSkipVerify}
	if opts.Proxy != "" {
		reqOpts.Proxy = opts.Proxy
	}
	limit := j.cfg.Limit
	if opts.Limit != 0 {
		limit = opts.Limit
	}

	j.fetcher.Reset()
	pages := j.collectPages(ctx, reqOpts)
	result.Candidates = len(pages)

	found := j.pdfLinks(pages)
	result.Links = len(found)

	created, err := j.queueDownloads(ctx, found, reqOpts, limit)
	result.Created = created
	if err != nil {
		return result, err
	}
	if created == 0 {
		j.logger.Info("no new documents", zap.Int("links", len(found)))
		return result, nil
	}

	results := j.fetcher.SendAll(ctx)
	result.BadSources, err = j.resolveOutcomes(ctx, results)
	if err != nil {
		return result, err
	}
	j.logger.Info("crawl finished",
		zap.Int("created", result.Created),
		zap.Int("bad_sources", result.BadSources),
		zap.Duration("duration", time.Since(start)),
	)
	return result, nil
}

// collectPages returns the bodies of the pages that carry PDF links. With a
// link selector those are the candidate pages linked from the listings,
// otherwise the listings themselves.
func (j *Job) collectPages(ctx context.Context, reqOpts watch.FetchOptions) [][]byte {
	for _, path := range j.cfg.ListingPaths {
		j.fetcher.Add(http.MethodGet, path, reqOpts)
	}
	listings := j.fetcher.SendAll(ctx)
	if j.cfg.LinkSelector == "" {
		return j.bodies(listings)
	}

	seen := make(map[string]struct{})
	var candidates []string
	for _, res := range listings {
		if !j.usable(res) {
			continue
		}
		for _, link := range links.Collect(res.Body, res.URL, j.cfg.LinkSelector) {
			if _, dup := seen[link]; dup {
				continue
			}
			seen[link] = struct{}{}
			candidates = append(candidates, link)
		}
	}
	if len(candidates) == 0 {
		return nil
	}
	j.logger.Debug("candidate pages", zap.Int("count", len(candidates)))

	for _, link := range candidates {
		j.fetcher.Add(http.MethodGet, link, reqOpts)
	}
	return j.bodies(j.fetcher.SendAll(ctx))
}

func (j *Job) bodies(results []watch.FetchResult) [][]byte {
	var out [][]byte
	for _, res := range results {
		if j.usable(res) {
			out = append(out, res.Body)
		}
	}
	return out
}

func (j *Job) usable(res watch.FetchResult) bool {
	if res.Failed() {
		j.logger.Warn("page fetch failed", zap.String("url", res.Request.URL), zap.Error(res.Err))
		return false
	}
	if res.StatusCode >= http.StatusBadRequest {
		j.logger.Warn("page returned error status", zap.String("url", res.Request.URL), zap.Int("status", res.StatusCode))
		return false
	}
	return true
}

func (j *Job) pdfLinks(pages [][]byte) []pdfLink {
	if len(pages) == 0 {
		return nil
	}
	var content strings.Builder
	for _, page := range pages {
		content.Write(page)
	}
	var out []pdfLink
	for _, m := range j.pdfLink.FindAllStringSubmatch(content.String(), -1) {
		out = append(out, pdfLink{url: m[1], name: m[2]})
	}
	return out
}

func (j *Job) queueDownloads(ctx context.Context, found []pdfLink, reqOpts watch.FetchOptions, limit int) (int, error) {
	seenURLs := make(map[string]struct{})
	seenFiles := make(map[string]struct{})
	created := 0
	for _, link := range found {
		if limit > 0 && created >= limit {
			break
		}
		if _, dup := seenURLs[link.url]; dup {
			continue
		}
		seenURLs[link.url] = struct{}{}

		_, err := j.sources.FindSourceByURL(ctx, link.url)
		if err == nil {
			continue
		}
		if !errors.Is(err, watch.ErrNotFound) {
			return created, fmt.Errorf("find source %s: %w", link.url, err)
		}

		fileName := FileName(link.url)
		if fileName == "" {
			j.logger.Warn("cannot derive file name", zap.String("url", link.url))
			continue
		}
		if _, dup := seenFiles[fileName]; dup {
			continue
		}
		seenFiles[fileName] = struct{}{}
		exists, err := j.store.Exists(ctx, fileName)
		if err != nil {
			return created, fmt.Errorf("check content store for %s: %w", fileName, err)
		}
		if exists {
			j.logger.Debug("file already stored", zap.String("file", fileName))
			continue
		}

		source := watch.Source{URL: link.url, Name: link.name, FileName: fileName, State: watch.SourceStateOK}
		if err := j.sources.CreateSource(ctx, &source); err != nil {
			if errors.Is(err, watch.ErrDuplicateSource) {
				continue
			}
			return created, fmt.Errorf("create source %s: %w", link.url, err)
		}
		opts := reqOpts
		opts.Sink = fileName
		j.fetcher.Add(http.MethodGet, link.url, opts)
		metrics.ObserveSource(string(watch.SourceStateOK))
		created++
	}
	return created, nil
}

func (j *Job) resolveOutcomes(ctx context.Context, results []watch.FetchResult) (int, error) {
	bad := 0
	for _, res := range results {
		if !res.Failed() && res.StatusCode < http.StatusBadRequest {
			continue
		}
		url := res.Request.URL
		logger := j.logger.With(zap.String("url", url), zap.Int("status", res.StatusCode), zap.Error(res.Err))
		source, err := j.sourceFor(ctx, url)
		if errors.Is(err, watch.ErrNotFound) {
			logger.Warn("failed download has no source")
			continue
		}
		if err != nil {
			return bad, fmt.Errorf("find source %s: %w", url, err)
		}
		if err := j.sources.UpdateSourceState(ctx, source.ID, watch.SourceStateBadSource); err != nil {
			return bad, fmt.Errorf("mark source %d bad: %w", source.ID, err)
		}
		metrics.ObserveSource(string(watch.SourceStateBadSource))
		logger.Warn("download failed; source marked bad", zap.Int64("source_id", source.ID))
		bad++
	}
	return bad, nil
}

// sourceFor finds the Source queued under url, falling back to its canonical form.
func (j *Job) sourceFor(ctx context.Context, url string) (watch.Source, error) {
	source, err := j.sources.FindSourceByURL(ctx, url)
	if !errors.Is(err, watch.ErrNotFound) {
		return source, err
	}
	canonical := watch.CanonicalURL(url)
	if canonical == url {
		return watch.Source{}, err
	}
	return j.sources.FindSourceByURL(ctx, canonical)
}

// FileName derives the stored file name from the last path segment of a .pdf URL.
func FileName(rawURL string) string {
	m := fileNamePattern.FindStringSubmatch(rawURL)
	if m == nil {
		return ""
	}
	return m[1]
}
