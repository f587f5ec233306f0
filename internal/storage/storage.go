// Package storage selects the content store backend for downloaded documents.
package storage

import (
	"context"
	"fmt"

	gcsclient "cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/JakeFAU/numberwatch/internal/storage/gcs"
	"github.com/JakeFAU/numberwatch/internal/storage/local"
	"github.com/JakeFAU/numberwatch/internal/storage/memory"
	"github.com/JakeFAU/numberwatch/internal/watch"
)

// Backend names accepted by Open.
const (
	BackendLocal  = "local"
	BackendGCS    = "gcs"
	BackendMemory = "memory"
)

// Config selects and parameterizes a backend.
type Config struct {
	Backend   string
	LocalDir  string
	GCSBucket string
	Prefix    string
}

// Open builds the configured content store. The returned close func releases
// backend clients and is never nil.
func Open(ctx context.Context, cfg Config, opts ...option.ClientOption) (watch.ContentStore, func() error, error) {
	noop := func() error { return nil }
	switch cfg.Backend {
	case BackendLocal:
		store, err := local.New(local.Config{BaseDir: cfg.LocalDir})
		if err != nil {
			return nil, noop, fmt.Errorf("init local content store: %w", err)
		}
		return store, noop, nil
	case BackendGCS:
		client, err := gcsclient.NewClient(ctx, opts...)
		if err != nil {
			return nil, noop, fmt.Errorf("create gcs client: %w", err)
		}
		store, err := gcs.New(client, gcs.Config{Bucket: cfg.GCSBucket, Prefix: cfg.Prefix})
		if err != nil {
			_ = client.Close()
			return nil, noop, fmt.Errorf("init gcs content store: %w", err)
		}
		return store, client.Close, nil
	case BackendMemory:
		return memory.NewContentStore(), noop, nil
	default:
		return nil, noop, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
