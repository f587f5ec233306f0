// Package main hosts the numberwatch entrypoint.
//
// Architecture overview:
//   - Crawl: the colly fetcher walks the configured listing pages, goquery picks the article links, a regexp pulls
//     PDF links from each article, and new documents are written to the content store (local/GCS/memory) before a
//     Source row records the outcome (OK or BAD_SOURCE).
//   - Parse: the oldest pending Source is opened from the content store, its text extracted with ledongthuc/pdf,
//     normalized, and every file number found is saved as an InfoNumber. Unreadable files become INVALID_PDF.
//   - Reconcile: the least recently searched watches are matched on (number, year). Matches are stored and a
//     notification is handed to the configured sink (log, memory, or Pub/Sub) for the user's verified channels.
//   - Plumbing: Viper loads config from file and NUMBERWATCH_* env; zap logs; Prometheus metrics and OTel spans wrap
//     every job; Postgres (pgx) persists state with golang-migrate managing the schema; Redis leases keep crawl and
//     reconcile single-flight across replicas.
//
// Operational notes:
//   - serve runs all three jobs on cron specs and exposes /healthz, /readyz, /metrics and POST /v1/jobs/{name}/run.
//   - Without db.dsn the process falls back to in-memory repositories, useful for local runs only.
//   - Run locally: go run ./cmd/numberwatch serve --config config.yaml
package main
