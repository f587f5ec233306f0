package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Crawl.Limit != 10 {
		t.Fatalf("expected default crawl limit 10, got %d", cfg.Crawl.Limit)
	}
	if cfg.Reconcile.Limit != 1 {
		t.Fatalf("expected default reconcile limit 1, got %d", cfg.Reconcile.Limit)
	}
	if len(cfg.Crawl.ListingPaths) != 2 {
		t.Fatalf("expected two default listing paths, got %v", cfg.Crawl.ListingPaths)
	}
	if cfg.Storage.Backend != "local" || cfg.Notify.Backend != "log" {
		t.Fatalf("unexpected default backends: %+v %+v", cfg.Storage, cfg.Notify)
	}
	if got := cfg.HTTPTimeout(); got != 120*time.Second {
		t.Fatalf("expected http timeout 120s, got %v", got)
	}
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
logging:
  development: true
  level: debug
db:
  dsn: postgres://localhost/numbers
storage:
  backend: gcs
  gcs_bucket: pdfs
http:
  timeout_seconds: 30
  proxy: http://proxy.local:3128
  headers:
    User-Agent: PostmanRuntime/7.29.0
crawl:
  base_url: https://example.org/
  listing_paths: ["ordine-articolul-11/"]
  link_selector: ""
  limit: 3
reconcile:
  limit: 25
notify:
  backend: pubsub
  pubsub_project: proj
  pubsub_topic: matches
lock:
  redis_addr: localhost:6379
  ttl_seconds: 60
schedule:
  crawl: "0 * * * *"
  parse: ""
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 || !cfg.Logging.Development || cfg.Logging.Level != "debug" {
		t.Fatalf("expected server/logging overrides, got %+v %+v", cfg.Server, cfg.Logging)
	}
	if cfg.Storage.Backend != "gcs" || cfg.Storage.GCSBucket != "pdfs" {
		t.Fatalf("expected gcs storage, got %+v", cfg.Storage)
	}
	if cfg.HTTP.Proxy != "http://proxy.local:3128" {
		t.Fatalf("expected proxy override, got %q", cfg.HTTP.Proxy)
	}
	// Viper lowercases map keys; header canonicalization happens in the fetcher.
	if cfg.HTTP.Headers["user-agent"] != "PostmanRuntime/7.29.0" {
		t.Fatalf("expected header override, got %+v", cfg.HTTP.Headers)
	}
	if cfg.Crawl.LinkSelector != "" || cfg.Crawl.Limit != 3 || len(cfg.Crawl.ListingPaths) != 1 {
		t.Fatalf("expected crawl overrides, got %+v", cfg.Crawl)
	}
	if cfg.Reconcile.Limit != 25 {
		t.Fatalf("expected reconcile limit 25, got %d", cfg.Reconcile.Limit)
	}
	if cfg.Schedule.Crawl != "0 * * * *" || cfg.Schedule.Parse != "" {
		t.Fatalf("expected schedule overrides, got %+v", cfg.Schedule)
	}
	if got := cfg.LockTTL(); got != time.Minute {
		t.Fatalf("expected lock ttl 1m, got %v", got)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil || !strings.Contains(err.Error(), "read config") {
		t.Fatalf("expected read config error, got %v", err)
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{name: "invalid port", mutate: func(c *Config) { c.Server.Port = 0 }, want: "server.port"},
		{name: "invalid timeout", mutate: func(c *Config) { c.HTTP.TimeoutSeconds = 0 }, want: "http.timeout_seconds"},
		{name: "invalid concurrency", mutate: func(c *Config) { c.HTTP.Concurrency = 0 }, want: "http.concurrency"},
		{name: "relative base url", mutate: func(c *Config) { c.Crawl.BaseURL = "cetatenie.just.ro/" }, want: "crawl.base_url"},
		{name: "no listing paths", mutate: func(c *Config) { c.Crawl.ListingPaths = nil }, want: "crawl.listing_paths"},
		{name: "bad pdf pattern", mutate: func(c *Config) { c.Crawl.PDFLinkPattern = "(" }, want: "crawl.pdf_link_pattern"},
		{name: "pdf pattern groups", mutate: func(c *Config) { c.Crawl.PDFLinkPattern = `(http\S+\.pdf)` }, want: "capture groups"},
		{name: "bad number pattern", mutate: func(c *Config) { c.Parse.NumberPattern = "[" }, want: "parse.number_pattern"},
		{name: "reconcile limit", mutate: func(c *Config) { c.Reconcile.Limit = 0 }, want: "reconcile.limit"},
		{name: "gcs bucket", mutate: func(c *Config) { c.Storage.Backend = "gcs" }, want: "storage.gcs_bucket"},
		{name: "unknown storage", mutate: func(c *Config) { c.Storage.Backend = "s3" }, want: "storage.backend"},
		{name: "pubsub topic", mutate: func(c *Config) { c.Notify.Backend = "pubsub" }, want: "notify.pubsub_project"},
		{name: "unknown notify", mutate: func(c *Config) { c.Notify.Backend = "fax" }, want: "notify.backend"},
		{name: "bad cron", mutate: func(c *Config) { c.Schedule.Reconcile = "every minute" }, want: "schedule.reconcile"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := base
			c.Crawl.ListingPaths = append([]string(nil), base.Crawl.ListingPaths...)
			tt.mutate(&c)
			err := c.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
