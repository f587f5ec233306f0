// Package redislock provides run leases backed by Redis SET NX.
package redislock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JakeFAU/numberwatch/internal/watch"
)

// DefaultTTL bounds how long a crashed run can hold a lease.
const DefaultTTL = 15 * time.Minute

// ErrLeaseNotHeld is returned when releasing a lease that expired or was taken over.
var ErrLeaseNotHeld = errors.New("lease not held")

var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

// Locker hands out leases keyed by job name.
type Locker struct {
	client redis.UniversalClient
	ttl    time.Duration
	logger *zap.Logger
}

var _ watch.Locker = (*Locker)(nil)

// New builds a Locker. A non-positive ttl uses DefaultTTL.
func New(client redis.UniversalClient, ttl time.Duration, logger *zap.Logger) *Locker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Locker{client: client, ttl: ttl, logger: logger.Named("lock")}
}

// TryLock takes the lease for key without blocking. ok is false when another
// holder has it.
func (l *Locker) TryLock(ctx context.Context, key string) (watch.Lease, bool, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire lease %s: %w", key, err)
	}
	if !ok {
		l.logger.Debug("lease busy", zap.String("key", key))
		return nil, false, nil
	}
	return &Lease{client: l.client, key: key, token: token}, true, nil
}

// Lease is a held key. Release only deletes the key while the token still matches.
type Lease struct {
	client redis.UniversalClient
	key    string
	token  string
}

// Release gives the lease back.
func (l *Lease) Release(ctx context.Context) error {
	n, err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Int()
	if err != nil {
		return fmt.Errorf("release lease %s: %w", l.key, err)
	}
	if n == 0 {
		return fmt.Errorf("release lease %s: %w", l.key, ErrLeaseNotHeld)
	}
	return nil
}

// Key returns the leased key.
func (l *Lease) Key() string { return l.key }
