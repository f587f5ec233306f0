// Package app builds the long-lived services behind every command.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/redis/go-redis/v9"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/numberwatch/internal/api"
	"github.com/JakeFAU/numberwatch/internal/config"
	"github.com/JakeFAU/numberwatch/internal/crawl"
	collyfetcher "github.com/JakeFAU/numberwatch/internal/fetcher/colly"
	redislock "github.com/JakeFAU/numberwatch/internal/lock/redis"
	"github.com/JakeFAU/numberwatch/internal/notify"
	notifymemory "github.com/JakeFAU/numberwatch/internal/notify/memory"
	notifypubsub "github.com/JakeFAU/numberwatch/internal/notify/pubsub"
	"github.com/JakeFAU/numberwatch/internal/parse"
	"github.com/JakeFAU/numberwatch/internal/policy/ratelimit"
	"github.com/JakeFAU/numberwatch/internal/reconcile"
	"github.com/JakeFAU/numberwatch/internal/schedule"
	"github.com/JakeFAU/numberwatch/internal/storage"
	"github.com/JakeFAU/numberwatch/internal/storage/memory"
	"github.com/JakeFAU/numberwatch/internal/storage/postgres"
	"github.com/JakeFAU/numberwatch/internal/storage/postgres/migrations"
	"github.com/JakeFAU/numberwatch/internal/telemetry"
	"github.com/JakeFAU/numberwatch/internal/watch"
	"github.com/JakeFAU/numberwatch/internal/watchlist"
)

const serviceName = "numberwatch"

// Repository is the full persistence surface used by the jobs.
type Repository interface {
	watch.SourceRepository
	watch.InfoNumberRepository
	watch.WatchRepository
	watch.NotificationRepository
}

// App contains the application's dependencies.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	repo    Repository
	pg      *postgres.Store
	content watch.ContentStore
	sink    notify.Sink
	redis   *redis.Client
	locker  watch.Locker
	tracer  *sdktrace.TracerProvider
	closers []namedCloser

	crawlMu    sync.Mutex
	crawler    *crawl.Job
	parseMu    sync.Mutex
	parser     *parse.Job
	reconciler *reconcile.Job
	watches    *watchlist.Service
	verifier   *notify.Verifier
}

type namedCloser struct {
	name string
	fn   func() error
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger}
	a.logger.Info("building application dependencies")

	ok := false
	defer func() {
		if !ok {
			a.Close(context.Background())
		}
	}()

	tp, err := telemetry.InitTracerProvider(ctx, serviceName)
	if err != nil {
		return nil, fmt.Errorf("tracer init failed: %w", err)
	}
	a.tracer = tp

	if err := a.setupRepository(ctx); err != nil {
		return nil, err
	}
	if err := a.setupContent(ctx); err != nil {
		return nil, err
	}
	if err := a.setupSink(ctx); err != nil {
		return nil, err
	}
	a.setupLocker()
	if err := a.setupJobs(); err != nil {
		return nil, err
	}

	ok = true
	return a, nil
}

func (a *App) setupRepository(ctx context.Context) error {
	if a.cfg.DB.DSN == "" {
		a.logger.Warn("no db.dsn configured, using in-memory repository")
		a.repo = memory.NewStore()
		return nil
	}
	pg, err := postgres.New(ctx, postgres.Config{
		DSN:             a.cfg.DB.DSN,
		MaxConns:        a.cfg.DB.MaxConns,
		MinConns:        a.cfg.DB.MinConns,
		MaxConnLifetime: time.Duration(a.cfg.DB.MaxConnLifetimeSeconds) * time.Second,
	})
	if err != nil {
		return fmt.Errorf("postgres store init failed: %w", err)
	}
	a.pg = pg
	a.repo = pg
	a.addCloser("postgres", func() error { pg.Close(); return nil })
	a.logger.Info("postgres store initialized")
	return nil
}

func (a *App) setupContent(ctx context.Context) error {
	content, closeFn, err := storage.Open(ctx, storage.Config{
		Backend:   a.cfg.Storage.Backend,
		LocalDir:  a.cfg.Storage.LocalDir,
		GCSBucket: a.cfg.Storage.GCSBucket,
		Prefix:    a.cfg.Storage.Prefix,
	})
	if err != nil {
		return fmt.Errorf("content store init failed: %w", err)
	}
	a.content = content
	a.addCloser("content store", closeFn)
	a.logger.Info("content store initialized", zap.String("backend", a.cfg.Storage.Backend))
	return nil
}

func (a *App) setupSink(ctx context.Context) error {
	switch a.cfg.Notify.Backend {
	case "pubsub":
		client, err := pubsub.NewClient(ctx, a.cfg.Notify.PubSubProject)
		if err != nil {
			return fmt.Errorf("pubsub client init failed: %w", err)
		}
		topic := client.Topic(a.cfg.Notify.PubSubTopic)
		a.addCloser("pubsub", func() error {
			topic.Stop()
			return client.Close()
		})
		a.sink = notifypubsub.New(topic)
		a.logger.Info("pubsub notification sink initialized",
			zap.String("project", a.cfg.Notify.PubSubProject),
			zap.String("topic", a.cfg.Notify.PubSubTopic),
		)
	case "memory":
		a.sink = notifymemory.New()
	default:
		a.sink = notify.NewLogSink(a.logger)
	}
	return nil
}

func (a *App) setupLocker() {
	if a.cfg.Lock.RedisAddr == "" {
		return
	}
	a.redis = redis.NewClient(&redis.Options{
		Addr:     a.cfg.Lock.RedisAddr,
		Password: a.cfg.Lock.RedisPassword,
		DB:       a.cfg.Lock.RedisDB,
	})
	a.addCloser("redis", a.redis.Close)
	a.locker = redislock.New(a.redis, a.cfg.LockTTL(), a.logger)
	a.logger.Info("redis run leases enabled", zap.String("addr", a.cfg.Lock.RedisAddr))
}

func (a *App) setupJobs() error {
	fetcher, err := collyfetcher.New(collyfetcher.Config{
		BaseURL:      a.cfg.Crawl.BaseURL,
		UserAgent:    a.cfg.HTTP.UserAgent,
		Timeout:      a.cfg.HTTPTimeout(),
		Headers:      collyfetcher.HeaderFromMap(a.cfg.HTTP.Headers),
		Concurrency:  a.cfg.HTTP.Concurrency,
		MaxBodyBytes: a.cfg.HTTP.MaxBodyBytes,
	}, a.content,
		collyfetcher.WithLimiter(ratelimit.New(ratelimit.Config{
			RPS:   a.cfg.HTTP.RequestsPerSecond,
			Burst: a.cfg.HTTP.Burst,
		})),
		collyfetcher.WithLogger(a.logger),
	)
	if err != nil {
		return fmt.Errorf("fetcher init failed: %w", err)
	}

	crawlOpts := []crawl.Option{crawl.WithLogger(a.logger)}
	parseOpts := []parse.Option{parse.WithLogger(a.logger)}
	reconcileOpts := []reconcile.Option{
		reconcile.WithLogger(a.logger),
		reconcile.WithDefaultLimit(a.cfg.Reconcile.Limit),
	}
	if a.locker != nil {
		crawlOpts = append(crawlOpts, crawl.WithLocker(a.locker))
		parseOpts = append(parseOpts, parse.WithLocker(a.locker))
		reconcileOpts = append(reconcileOpts, reconcile.WithLocker(a.locker))
	}

	a.crawler, err = crawl.NewJob(crawl.Config{
		ListingPaths:       a.cfg.Crawl.ListingPaths,
		LinkSelector:       a.cfg.Crawl.LinkSelector,
		PDFLinkPattern:     a.cfg.Crawl.PDFLinkPattern,
		Limit:              a.cfg.Crawl.Limit,
		Proxy:              a.cfg.HTTP.Proxy,
		InsecureSkipVerify: a.cfg.HTTP.InsecureSkipVerify,
	}, fetcher, a.repo, a.content, crawlOpts...)
	if err != nil {
		return fmt.Errorf("crawl job init failed: %w", err)
	}

	a.parser, err = parse.NewJob(a.repo, a.content,
		parse.Config{NumberPattern: a.cfg.Parse.NumberPattern},
		parseOpts...,
	)
	if err != nil {
		return fmt.Errorf("parse job init failed: %w", err)
	}

	from := notify.Sender{Email: a.cfg.Notify.FromEmail, Name: a.cfg.Notify.FromName}
	notifier := notify.NewUserNotifier(a.repo, a.sink, from, a.logger)
	a.reconciler, err = reconcile.NewJob(a.repo, a.repo, notifier, reconcileOpts...)
	if err != nil {
		return fmt.Errorf("reconcile job init failed: %w", err)
	}

	a.watches = watchlist.New(a.repo, a.logger)
	a.verifier = notify.NewVerifier(a.repo, a.sink, from)
	return nil
}

func (a *App) addCloser(name string, fn func() error) {
	a.closers = append(a.closers, namedCloser{name: name, fn: fn})
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Config returns the configuration the app was built from.
func (a *App) Config() config.Config {
	return a.cfg
}

// Crawl runs one crawl. Runs within this process are serialized because
// they share one fetch queue.
func (a *App) Crawl(ctx context.Context, opts crawl.Options) (crawl.Result, error) {
	a.crawlMu.Lock()
	defer a.crawlMu.Unlock()
	return a.crawler.Run(ctx, opts)
}

// Parse runs the parser up to count times, stopping early once nothing is
// pending or another process holds the parse lease.
func (a *App) Parse(ctx context.Context, count int) ([]parse.Result, error) {
	if count <= 0 {
		count = 1
	}
	a.parseMu.Lock()
	defer a.parseMu.Unlock()
	var out []parse.Result
	for range count {
		res, err := a.parser.Run(ctx)
		if err != nil {
			return out, err
		}
		if res.Skipped {
			out = append(out, res)
			break
		}
		if res.SourceID == 0 {
			break
		}
		out = append(out, res)
	}
	return out, nil
}

// Reconcile runs one reconcile batch.
func (a *App) Reconcile(ctx context.Context, opts reconcile.Options) (reconcile.Summary, error) {
	return a.reconciler.Run(ctx, opts)
}

// AddWatch registers a watch for userID.
func (a *App) AddWatch(ctx context.Context, userID int64, raw, label string) (watch.UserNumber, error) {
	return a.watches.Add(ctx, userID, raw, label)
}

// ToggleWatch flips the enabled flag of a watch owned by userID.
func (a *App) ToggleWatch(ctx context.Context, userID, id int64) (watch.UserNumber, error) {
	return a.watches.Toggle(ctx, userID, id)
}

// DeleteWatch removes a watch owned by userID.
func (a *App) DeleteWatch(ctx context.Context, userID, id int64) error {
	return a.watches.Delete(ctx, userID, id)
}

// Contact describes a contact settings change. Nil fields are left as they are.
type Contact struct {
	Email        *string
	Phone        *string
	EmailEnabled *bool
	PhoneEnabled *bool
}

// SetContact creates or updates the user's notification settings.
func (a *App) SetContact(ctx context.Context, userID int64, c Contact) (watch.NotificationSettings, error) {
	settings, err := a.repo.GetNotificationSettings(ctx, userID)
	switch {
	case errors.Is(err, watch.ErrNotFound):
		settings = watch.RestoreNotificationSettings(userID, "", "")
	case err != nil:
		return watch.NotificationSettings{}, err
	}
	if c.Email != nil {
		settings.SetEmail(*c.Email)
	}
	if c.Phone != nil {
		settings.SetPhone(*c.Phone)
	}
	if c.EmailEnabled != nil {
		settings.EmailEnabled = *c.EmailEnabled
	}
	if c.PhoneEnabled != nil {
		settings.PhoneEnabled = *c.PhoneEnabled
	}
	if err := a.repo.SaveNotificationSettings(ctx, settings); err != nil {
		return watch.NotificationSettings{}, err
	}
	return settings, nil
}

// StartVerification sends a fresh code for the given channel.
func (a *App) StartVerification(ctx context.Context, userID int64, channel string) (watch.Verification, error) {
	return a.verifier.Start(ctx, userID, channel)
}

// ConfirmVerification checks a code issued by StartVerification.
func (a *App) ConfirmVerification(ctx context.Context, userID int64, code int) (bool, error) {
	return a.verifier.Confirm(ctx, userID, code)
}

// Migrate applies the embedded schema migrations.
func (a *App) Migrate(dir migrations.Direction) (bool, error) {
	if a.cfg.DB.DSN == "" {
		return false, errors.New("db.dsn is required for migrations")
	}
	return migrations.Run(a.cfg.DB.DSN, dir)
}

// Handler builds the ops HTTP handler.
func (a *App) Handler() http.Handler {
	checks := map[string]api.Pinger{}
	if a.pg != nil {
		checks["postgres"] = a.pg
	}
	if a.redis != nil {
		checks["redis"] = redisPinger{a.redis}
	}
	return api.NewServer(api.Config{
		Checks:     checks,
		Jobs:       a.jobs(),
		APIKey:     a.cfg.Server.APIKey,
		JobTimeout: time.Duration(a.cfg.Server.JobTimeoutSeconds) * time.Second,
	}, a.logger).Handler()
}

func (a *App) jobs() map[string]api.JobFunc {
	return map[string]api.JobFunc{
		"crawl": func(ctx context.Context) (any, error) {
			return a.Crawl(ctx, crawl.Options{})
		},
		"parse": func(ctx context.Context) (any, error) {
			return a.Parse(ctx, 1)
		},
		"reconcile": func(ctx context.Context) (any, error) {
			return a.Reconcile(ctx, reconcile.Options{})
		},
	}
}

// Scheduler registers the pipeline jobs on their configured cron specs.
func (a *App) Scheduler() (*schedule.Scheduler, error) {
	sched := schedule.New(a.logger)
	jobs := a.jobs()
	for _, entry := range []struct{ name, spec string }{
		{"crawl", a.cfg.Schedule.Crawl},
		{"parse", a.cfg.Schedule.Parse},
		{"reconcile", a.cfg.Schedule.Reconcile},
	} {
		run := jobs[entry.name]
		if err := sched.Add(entry.name, entry.spec, func(ctx context.Context) error {
			_, err := run(ctx)
			return err
		}); err != nil {
			return nil, err
		}
	}
	return sched, nil
}

// Serve runs the scheduler and the ops HTTP server until ctx is canceled or
// the process is signaled.
func (a *App) Serve(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sched, err := a.Scheduler()
	if err != nil {
		return err
	}
	sched.Start()
	a.logger.Info("scheduler started", zap.Strings("jobs", sched.Jobs()))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	if err := sched.Stop(shutdownCtx); err != nil {
		a.logger.Warn("scheduler stop timed out", zap.Error(err))
	}
	return nil
}

// Close releases every backend client in reverse order of creation.
func (a *App) Close(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.fn(); err != nil {
			a.logger.Warn("close failed", zap.String("component", c.name), zap.Error(err))
		}
	}
	a.closers = nil
	if a.tracer != nil {
		if err := a.tracer.Shutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
		a.tracer = nil
	}
	_ = a.logger.Sync()
}

type redisPinger struct {
	client *redis.Client
}

func (p redisPinger) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}
