package watch

import (
	"context"
	"io"
	"time"
)

// SourceRepository persists Source rows and their parsed numbers.
type SourceRepository interface {
	FindSourceByURL(ctx context.Context, url string) (Source, error)
	CreateSource(ctx context.Context, source *Source) error
	UpdateSourceState(ctx context.Context, id int64, state SourceState) error
	NextPendingSource(ctx context.Context) (Source, error)
	MarkSourceInvalid(ctx context.Context, id int64, processedAt time.Time) error
	SaveParsedNumbers(ctx context.Context, sourceID int64, numbers []InfoNumber, processedAt time.Time) error
}

// InfoNumberRepository looks up parsed numbers.
type InfoNumberRepository interface {
	FindInfoNumber(ctx context.Context, number int64, year int) (InfoNumber, error)
}

// WatchRepository persists UserNumber rows.
type WatchRepository interface {
	ListPendingWatches(ctx context.Context, limit int) ([]UserNumber, error)
	SaveWatchResults(ctx context.Context, watches []UserNumber) error
	WatchExists(ctx context.Context, userID int64, id Identifier) (bool, error)
	CreateWatch(ctx context.Context, watch *UserNumber) error
	GetWatch(ctx context.Context, id int64) (UserNumber, error)
	// SetWatchEnabled and DeleteWatch only touch a watch owned by userID and
	// return ErrNotFound otherwise.
	SetWatchEnabled(ctx context.Context, userID, id int64, enabled bool) error
	DeleteWatch(ctx context.Context, userID, id int64) error
}

// NotificationRepository persists per-user contact settings.
type NotificationRepository interface {
	GetNotificationSettings(ctx context.Context, userID int64) (NotificationSettings, error)
	SaveNotificationSettings(ctx context.Context, settings NotificationSettings) error
}

// File is an opened content store object.
type File interface {
	io.ReaderAt
	io.Closer
	Size() int64
}

// ContentStore holds downloaded documents addressed by file name.
type ContentStore interface {
	Exists(ctx context.Context, name string) (bool, error)
	Put(ctx context.Context, name string, r io.Reader) error
	Open(ctx context.Context, name string) (File, error)
}

// Fetcher queues requests and executes them as one batch.
type Fetcher interface {
	Add(method, url string, opts FetchOptions)
	SendAll(ctx context.Context) []FetchResult
	Reset()
}

// Notifier delivers a match notification for a resolved watch.
type Notifier interface {
	NotifyMatch(ctx context.Context, watch UserNumber, match InfoNumber) error
}

// Lease is a held run lock.
type Lease interface {
	Release(ctx context.Context) error
}

// Locker hands out exclusive run leases keyed by job name.
type Locker interface {
	TryLock(ctx context.Context, key string) (Lease, bool, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}
