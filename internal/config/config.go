// Package config loads and validates numberwatch configuration via Viper.
package config

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"

	"github.com/JakeFAU/numberwatch/internal/logging"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Logging   logging.Config  `mapstructure:"logging"`
	DB        DBConfig        `mapstructure:"db"`
	Storage   StorageConfig   `mapstructure:"storage"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Crawl     CrawlConfig     `mapstructure:"crawl"`
	Parse     ParseConfig     `mapstructure:"parse"`
	Reconcile ReconcileConfig `mapstructure:"reconcile"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	Lock      LockConfig      `mapstructure:"lock"`
	Schedule  ScheduleConfig  `mapstructure:"schedule"`
}

// ServerConfig controls the ops HTTP server started by serve.
type ServerConfig struct {
	Port int `mapstructure:"port"`
	// APIKey protects the job trigger routes when set.
	APIKey string `mapstructure:"api_key"`
	// JobTimeoutSeconds bounds a job triggered over HTTP.
	JobTimeoutSeconds int `mapstructure:"job_timeout_seconds"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN                    string `mapstructure:"dsn"`
	MaxConns               int32  `mapstructure:"max_conns"`
	MinConns               int32  `mapstructure:"min_conns"`
	MaxConnLifetimeSeconds int    `mapstructure:"max_conn_lifetime_seconds"`
}

// StorageConfig selects the content store backend for downloaded documents.
type StorageConfig struct {
	Backend   string `mapstructure:"backend"`
	LocalDir  string `mapstructure:"local_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// HTTPConfig configures the outbound fetch client.
type HTTPConfig struct {
	TimeoutSeconds     int               `mapstructure:"timeout_seconds"`
	UserAgent          string            `mapstructure:"user_agent"`
	Proxy              string            `mapstructure:"proxy"`
	InsecureSkipVerify bool              `mapstructure:"insecure_skip_verify"`
	Headers            map[string]string `mapstructure:"headers"`
	Concurrency        int               `mapstructure:"concurrency"`
	MaxBodyBytes       int               `mapstructure:"max_body_bytes"`
	RequestsPerSecond  float64           `mapstructure:"requests_per_second"`
	Burst              int               `mapstructure:"burst"`
}

// CrawlConfig describes the publication index and link patterns.
type CrawlConfig struct {
	BaseURL        string   `mapstructure:"base_url"`
	ListingPaths   []string `mapstructure:"listing_paths"`
	LinkSelector   string   `mapstructure:"link_selector"`
	PDFLinkPattern string   `mapstructure:"pdf_link_pattern"`
	Limit          int      `mapstructure:"limit"`
}

// ParseConfig holds the number extraction pattern.
type ParseConfig struct {
	NumberPattern string `mapstructure:"number_pattern"`
}

// ReconcileConfig bounds the watch reconciliation batch.
type ReconcileConfig struct {
	Limit int `mapstructure:"limit"`
}

// NotifyConfig selects the notification sink.
type NotifyConfig struct {
	Backend       string `mapstructure:"backend"`
	PubSubProject string `mapstructure:"pubsub_project"`
	PubSubTopic   string `mapstructure:"pubsub_topic"`
	FromEmail     string `mapstructure:"from_email"`
	FromName      string `mapstructure:"from_name"`
}

// LockConfig enables Redis run leases when RedisAddr is set.
type LockConfig struct {
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
	TTLSeconds    int    `mapstructure:"ttl_seconds"`
}

// ScheduleConfig holds the cron specs used by serve. An empty spec disables that job.
type ScheduleConfig struct {
	Crawl     string `mapstructure:"crawl"`
	Parse     string `mapstructure:"parse"`
	Reconcile string `mapstructure:"reconcile"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("NUMBERWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.api_key", "")
	v.SetDefault("server.job_timeout_seconds", 600)
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "")
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("db.min_conns", 0)
	v.SetDefault("db.max_conn_lifetime_seconds", 1800)
	v.SetDefault("storage.backend", "local")
	v.SetDefault("storage.local_dir", "public/source")
	v.SetDefault("storage.gcs_bucket", "")
	v.SetDefault("storage.prefix", "source")
	v.SetDefault("http.timeout_seconds", 120)
	v.SetDefault("http.user_agent", "numberwatch/1.0")
	v.SetDefault("http.proxy", "")
	v.SetDefault("http.insecure_skip_verify", true)
	v.SetDefault("http.headers", map[string]string{"Host": "cetatenie.just.ro"})
	v.SetDefault("http.concurrency", 4)
	v.SetDefault("http.max_body_bytes", 64<<20)
	v.SetDefault("http.requests_per_second", 0)
	v.SetDefault("http.burst", 1)
	v.SetDefault("crawl.base_url", "https://cetatenie.just.ro/")
	v.SetDefault("crawl.listing_paths", []string{"category/ordine/", "category/ordine/page/2/"})
	v.SetDefault("crawl.link_selector", ".article_content .penci-link-post")
	v.SetDefault("crawl.pdf_link_pattern", `(http[^"]*\.pdf)">([a-zA-Z0-9]+)<`)
	v.SetDefault("crawl.limit", 10)
	v.SetDefault("parse.number_pattern", `\((\d{3,}/([a-zA-Z]{1,5})?/?\d+)\)`)
	v.SetDefault("reconcile.limit", 1)
	v.SetDefault("notify.backend", "log")
	v.SetDefault("notify.pubsub_project", "")
	v.SetDefault("notify.pubsub_topic", "")
	v.SetDefault("notify.from_email", "notify@aflaro.com")
	v.SetDefault("notify.from_name", "AfLaRo")
	v.SetDefault("lock.redis_addr", "")
	v.SetDefault("lock.redis_password", "")
	v.SetDefault("lock.redis_db", 0)
	v.SetDefault("lock.ttl_seconds", 900)
	v.SetDefault("schedule.crawl", "*/30 * * * *")
	v.SetDefault("schedule.parse", "* * * * *")
	v.SetDefault("schedule.reconcile", "*/5 * * * *")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.HTTP.Concurrency <= 0 {
		return fmt.Errorf("http.concurrency must be > 0")
	}
	if c.HTTP.Proxy != "" {
		if _, err := url.Parse(c.HTTP.Proxy); err != nil {
			return fmt.Errorf("http.proxy: %w", err)
		}
	}
	base, err := url.Parse(c.Crawl.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return fmt.Errorf("crawl.base_url must be an absolute URL")
	}
	if len(c.Crawl.ListingPaths) == 0 {
		return fmt.Errorf("crawl.listing_paths must not be empty")
	}
	re, err := regexp.Compile(c.Crawl.PDFLinkPattern)
	if err != nil {
		return fmt.Errorf("crawl.pdf_link_pattern: %w", err)
	}
	if re.NumSubexp() < 2 {
		return fmt.Errorf("crawl.pdf_link_pattern needs url and name capture groups")
	}
	if _, err := regexp.Compile(c.Parse.NumberPattern); err != nil {
		return fmt.Errorf("parse.number_pattern: %w", err)
	}
	if c.Reconcile.Limit <= 0 {
		return fmt.Errorf("reconcile.limit must be > 0")
	}
	switch c.Storage.Backend {
	case "local":
		if c.Storage.LocalDir == "" {
			return fmt.Errorf("storage.local_dir is required for the local backend")
		}
	case "gcs":
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket is required for the gcs backend")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown storage.backend %q", c.Storage.Backend)
	}
	switch c.Notify.Backend {
	case "log", "memory":
	case "pubsub":
		if c.Notify.PubSubProject == "" || c.Notify.PubSubTopic == "" {
			return fmt.Errorf("notify.pubsub_project and notify.pubsub_topic are required for pubsub")
		}
	default:
		return fmt.Errorf("unknown notify.backend %q", c.Notify.Backend)
	}
	for name, spec := range map[string]string{
		"schedule.crawl":     c.Schedule.Crawl,
		"schedule.parse":     c.Schedule.Parse,
		"schedule.reconcile": c.Schedule.Reconcile,
	} {
		if spec == "" {
			continue
		}
		if _, err := cron.ParseStandard(spec); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

// HTTPTimeout converts the configured timeout into a duration.
func (c Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// LockTTL converts the configured lease TTL into a duration.
func (c Config) LockTTL() time.Duration {
	return time.Duration(c.Lock.TTLSeconds) * time.Second
}
