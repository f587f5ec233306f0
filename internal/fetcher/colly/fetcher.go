// Package collyfetcher implements the batched fetch client using gocolly.
package collyfetcher

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/numberwatch/internal/metrics"
	"github.com/JakeFAU/numberwatch/internal/watch"
)

// ErrBodyTooLarge marks a response cut off at Config.MaxBodyBytes.
var ErrBodyTooLarge = errors.New("response body reached the size limit")

// Config controls collector behavior.
type Config struct {
	// BaseURL resolves relative request paths.
	BaseURL      string
	UserAgent    string
	Timeout      time.Duration
	Headers      http.Header
	Concurrency  int
	MaxBodyBytes int
}

// Waiter throttles outbound requests.
type Waiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Option customizes a Client.
type Option func(*Client)

// WithLimiter throttles every request through w.
func WithLimiter(w Waiter) Option {
	return func(c *Client) { c.limiter = w }
}

// WithLogger sets the client logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// Client queues requests and executes them concurrently as one batch.
// Bodies of requests with a sink are written to the content store.
type Client struct {
	cfg     Config
	base    *url.URL
	store   watch.ContentStore
	limiter Waiter
	logger  *zap.Logger

	transportMu sync.Mutex
	transports  map[transportKey]*http.Transport

	mu      sync.Mutex
	queue   []watch.FetchRequest
	results []watch.FetchResult
}

type transportKey struct {
	proxy    string
	insecure bool
}

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

type visitOutcome struct {
	url        string
	statusCode int
	headers    http.Header
	body       []byte
	err        error
}

// New builds a Client. store may be nil when no request uses a sink.
func New(cfg Config, store watch.ContentStore, opts ...Option) (*Client, error) {
	c := &Client{
		cfg:        cfg,
		store:      store,
		logger:     zap.NewNop(),
		transports: make(map[transportKey]*http.Transport),
	}
	if cfg.BaseURL != "" {
		base, err := url.Parse(cfg.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("parse base url: %w", err)
		}
		c.base = base
	}
	if c.cfg.Concurrency <= 0 {
		c.cfg.Concurrency = 1
	}
	if c.cfg.Timeout <= 0 {
		c.cfg.Timeout = 15 * time.Second
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.Named("fetcher")
	return c, nil
}

// Add queues a request. Relative targets resolve against the configured base URL.
func (c *Client) Add(method, target string, opts watch.FetchOptions) {
	if method == "" {
		method = http.MethodGet
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queue = append(c.queue, watch.FetchRequest{
		Method:  strings.ToUpper(method),
		URL:     c.resolve(target),
		Options: opts,
	})
}

// SendAll runs every queued request and blocks until all of them complete.
// Results keep submission order; transport and sink failures are captured per result.
func (c *Client) SendAll(ctx context.Context) []watch.FetchResult {
	c.mu.Lock()
	queue := c.queue
	c.queue = nil
	c.mu.Unlock()

	results := make([]watch.FetchResult, len(queue))
	sem := make(chan struct{}, c.cfg.Concurrency)
	var wg sync.WaitGroup
	for i, req := range queue {
		wg.Add(1)
		go func(i int, req watch.FetchRequest) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results[i] = c.fetch(ctx, req)
		}(i, req)
	}
	wg.Wait()

	c.mu.Lock()
	c.results = append(c.results, results...)
	c.mu.Unlock()
	return results
}

// Reset clears queued requests and collected results.
func (c *Client) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queue = nil
	c.results = nil
}

// Results returns the raw results collected since the last Reset.
func (c *Client) Results() []watch.FetchResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]watch.FetchResult(nil), c.results...)
}

// Contents returns the body of every collected result; failed or sunk results yield nil.
func (c *Client) Contents() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.results))
	for i, r := range c.results {
		out[i] = r.Body
	}
	return out
}

func (c *Client) fetch(ctx context.Context, req watch.FetchRequest) (result watch.FetchResult) {
	start := time.Now()
	result = watch.FetchResult{Request: req, URL: req.URL}
	defer func() {
		result.Duration = time.Since(start)
		metrics.ObserveFetch(req.URL, result.Failed(), len(result.Body))
	}()

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, req.URL); err != nil {
			result.Err = err
			return result
		}
	}

	collector, err := c.buildCollector(req.Options)
	if err != nil {
		result.Err = err
		return result
	}

	out, err := c.runCollector(ctx, collector, req, start)
	if err != nil {
		result.Err = err
		c.logger.Debug("fetch failed", zap.String("url", req.URL), zap.Error(err))
		return result
	}
	result.URL = out.url
	result.StatusCode = out.statusCode
	result.Headers = out.headers
	result.Body = out.body

	if c.cfg.MaxBodyBytes > 0 && len(out.body) >= c.cfg.MaxBodyBytes {
		result.Err = fmt.Errorf("%w: %s reached %d bytes", ErrBodyTooLarge, req.URL, c.cfg.MaxBodyBytes)
		result.Body = nil
		return result
	}

	if req.Options.Sink != "" {
		// Error pages are not stored; the caller sees the status code.
		if out.statusCode < http.StatusBadRequest {
			if err := c.sink(ctx, req.Options.Sink, out.body); err != nil {
				result.Err = err
			}
		}
		result.Body = nil
	}
	return result
}

func (c *Client) sink(ctx context.Context, name string, body []byte) error {
	if c.store == nil {
		return fmt.Errorf("sink %s: no content store configured", name)
	}
	if err := c.store.Put(ctx, name, bytes.NewReader(body)); err != nil {
		return fmt.Errorf("sink %s: %w", name, err)
	}
	return nil
}

func (c *Client) buildCollector(opts watch.FetchOptions) (*colly.Collector, error) {
	transport, err := c.transport(opts.Proxy, opts.InsecureSkipVerify)
	if err != nil {
		return nil, err
	}
	collector := colly.NewCollector(
		colly.AllowURLRevisit(),
		colly.ParseHTTPErrorResponse(),
		colly.MaxBodySize(c.cfg.MaxBodyBytes),
	)
	if c.cfg.UserAgent != "" {
		collector.UserAgent = c.cfg.UserAgent
	}
	collector.SetRequestTimeout(c.cfg.Timeout)
	collector.WithTransport(transport)
	return collector, nil
}

func configureCollectorHooks(hooks collectorHooks, out *visitOutcome) {
	hooks.OnResponse(func(r *colly.Response) {
		out.url = r.Request.URL.String()
		out.statusCode = r.StatusCode
		if r.Headers != nil {
			out.headers = r.Headers.Clone()
		}
		out.body = append([]byte(nil), r.Body...)
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		out.err = err
	})
}

func (c *Client) runCollector(
	ctx context.Context,
	collector *colly.Collector,
	req watch.FetchRequest,
	start time.Time,
) (visitOutcome, error) {
	done := make(chan visitOutcome, 1)
	go func() {
		var out visitOutcome
		configureCollectorHooks(collector, &out)
		if err := collector.Request(req.Method, req.URL, nil, nil, c.headers(req.Options)); err != nil && out.err == nil {
			out.err = err
		}
		done <- out
	}()

	select {
	case <-ctx.Done():
		return visitOutcome{}, fmt.Errorf("colly fetch canceled after %s: %w", time.Since(start), ctx.Err())
	case out := <-done:
		if out.err != nil {
			return visitOutcome{}, fmt.Errorf("colly request failed: %w", out.err)
		}
		return out, nil
	}
}

// headers merges the configured defaults with per-request headers; request values win.
func (c *Client) headers(opts watch.FetchOptions) http.Header {
	hdr := http.Header{}
	for key, values := range c.cfg.Headers {
		for _, v := range values {
			hdr.Add(key, v)
		}
	}
	for key, values := range opts.Headers {
		hdr.Del(key)
		for _, v := range values {
			hdr.Add(key, v)
		}
	}
	return hdr
}

func (c *Client) resolve(target string) string {
	if c.base == nil {
		return target
	}
	ref, err := url.Parse(target)
	if err != nil || ref.IsAbs() {
		return target
	}
	return c.base.ResolveReference(ref).String()
}

func (c *Client) transport(proxy string, insecure bool) (*http.Transport, error) {
	key := transportKey{proxy: proxy, insecure: insecure}
	c.transportMu.Lock()
	defer c.transportMu.Unlock()
	if tr, ok := c.transports[key]; ok {
		return tr, nil
	}
	tr := newHTTPTransport()
	if proxy != "" {
		proxyURL, err := url.Parse(proxy)
		if err != nil || proxyURL.Host == "" {
			return nil, fmt.Errorf("invalid proxy %q", proxy)
		}
		tr.Proxy = http.ProxyURL(proxyURL)
	}
	if insecure {
		// #nosec G402 -- the upstream site serves an incomplete certificate chain.
		tr.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	c.transports[key] = tr
	return tr, nil
}

// HeaderFromMap canonicalizes configured header names.
func HeaderFromMap(m map[string]string) http.Header {
	hdr := http.Header{}
	for k, v := range m {
		hdr.Set(k, v)
	}
	return hdr
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
