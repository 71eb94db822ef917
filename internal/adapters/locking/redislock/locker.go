package redislock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"patient-access/internal/platform/logger"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	DefaultTTL           = 10 * time.Second
	defaultRetryInterval = 25 * time.Millisecond
	releaseTimeout       = 2 * time.Second
)

// releaseScript deletes the key only while it still holds our token, so an
// expired lease re-acquired by another instance is never released by us.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker is a lease lock shared by every instance using the same Redis. The
// TTL bounds how long a crashed holder blocks the key.
type Locker struct {
	client        redis.UniversalClient
	ttl           time.Duration
	retryInterval time.Duration
	prefix        string
	log           logger.Logger
}

type Option func(*Locker)

func WithPrefix(p string) Option { return func(l *Locker) { l.prefix = p } }

func WithRetryInterval(d time.Duration) Option {
	return func(l *Locker) {
		if d > 0 {
			l.retryInterval = d
		}
	}
}

func WithLogger(log logger.Logger) Option { return func(l *Locker) { l.log = log } }

func New(client redis.UniversalClient, ttl time.Duration, opts ...Option) *Locker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	l := &Locker{
		client:        client,
		ttl:           ttl,
		retryInterval: defaultRetryInterval,
		prefix:        "patient-access:lock:",
		log:           logger.Nop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Lock polls SET NX PX until it wins or ctx ends.
func (l *Locker) Lock(ctx context.Context, key string) (func(), error) {
	k := l.prefix + key
	token := uuid.NewString()

	ticker := time.NewTicker(l.retryInterval)
	defer ticker.Stop()
	for {
		ok, err := l.client.SetNX(ctx, k, token, l.ttl).Result()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, fmt.Errorf("redis lock %q: %w", key, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() { l.release(k, token) })
	}, nil
}

func (l *Locker) release(k, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()

	n, err := releaseScript.Run(ctx, l.client, []string{k}, token).Int()
	switch {
	case err != nil && !errors.Is(err, redis.Nil):
		l.log.Error("redis lock release failed", map[string]any{"key": k, "err": err})
	case n == 0:
		l.log.Warn("redis lock lease expired before release", map[string]any{"key": k, "ttl": l.ttl.String()})
	}
}
