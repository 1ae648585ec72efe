package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only while it still carries the caller's token,
// so an expired lease re-acquired by another process is never released by mistake.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker hands out short leases backed by SET NX PX.
type Locker struct {
	client redis.UniversalClient
	prefix string
}

// NewLocker returns a Locker using client. Keys are prefixed with prefix.
func NewLocker(client redis.UniversalClient, prefix string) *Locker {
	if client == nil {
		panic("redis: locker client cannot be nil")
	}
	return &Locker{client: client, prefix: prefix}
}

// TryAcquire attempts to take the lease for key without waiting.
// When acquired is false the returned release func is nil.
func (l *Locker) TryAcquire(ctx context.Context, key string, ttl time.Duration) (release func(context.Context) error, acquired bool, err error) {
	token := uuid.NewString()
	fullKey := l.prefix + key

	ok, err := l.client.SetNX(ctx, fullKey, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire lock %q: %w", fullKey, err)
	}
	if !ok {
		return nil, false, nil
	}

	release = func(ctx context.Context) error {
		n, err := releaseScript.Run(ctx, l.client, []string{fullKey}, token).Int()
		if err != nil {
			return fmt.Errorf("release lock %q: %w", fullKey, err)
		}
		if n == 0 {
			return ErrLockNotHeld
		}
		return nil
	}
	return release, true, nil
}
