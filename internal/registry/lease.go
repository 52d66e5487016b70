package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Lease guards a campaign across processes. Acquire returns false when another owner holds it.
type Lease interface {
	Acquire(ctx context.Context, campaignID int) (bool, error)
	Extend(ctx context.Context, campaignID int) error
	Release(ctx context.Context, campaignID int) error
	Held(ctx context.Context, campaignID int) (bool, error)
}

// NoopLease is used when Redis is not configured; the in-process Registry is the only guard.
type NoopLease struct{}

func (NoopLease) Acquire(context.Context, int) (bool, error) { return true, nil }
func (NoopLease) Extend(context.Context, int) error          { return nil }
func (NoopLease) Release(context.Context, int) error         { return nil }
func (NoopLease) Held(context.Context, int) (bool, error)    { return false, nil }

var ErrLeaseLost = errors.New("campaign lease lost")

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

// RedisLease stores one key per campaign holding this owner's token, with a TTL.
type RedisLease struct {
	client *redis.Client
	prefix string
	ttl    time.Duration

	mu     sync.Mutex
	tokens map[int]string
}

func NewRedisLease(client *redis.Client, prefix string, ttl time.Duration) *RedisLease {
	return &RedisLease{
		client: client,
		prefix: prefix,
		ttl:    ttl,
		tokens: make(map[int]string),
	}
}

func (l *RedisLease) key(campaignID int) string {
	return fmt.Sprintf("%s:%d", l.prefix, campaignID)
}

func (l *RedisLease) Acquire(ctx context.Context, campaignID int) (bool, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key(campaignID), token, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lease for campaign %d: %w", campaignID, err)
	}
	if !ok {
		return false, nil
	}
	l.mu.Lock()
	l.tokens[campaignID] = token
	l.mu.Unlock()
	return true, nil
}

// Extend pushes the TTL forward. It returns ErrLeaseLost when the key expired or changed owner.
func (l *RedisLease) Extend(ctx context.Context, campaignID int) error {
	token, ok := l.token(campaignID)
	if !ok {
		return ErrLeaseLost
	}
	n, err := extendScript.Run(ctx, l.client, []string{l.key(campaignID)}, token, l.ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("extend lease for campaign %d: %w", campaignID, err)
	}
	if n == 0 {
		return ErrLeaseLost
	}
	return nil
}

// Release deletes the key only when this process still owns it.
func (l *RedisLease) Release(ctx context.Context, campaignID int) error {
	token, ok := l.token(campaignID)
	if !ok {
		return nil
	}
	l.mu.Lock()
	delete(l.tokens, campaignID)
	l.mu.Unlock()

	if err := releaseScript.Run(ctx, l.client, []string{l.key(campaignID)}, token).Err(); err != nil {
		return fmt.Errorf("release lease for campaign %d: %w", campaignID, err)
	}
	return nil
}

// Held reports whether any process currently holds the lease.
func (l *RedisLease) Held(ctx context.Context, campaignID int) (bool, error) {
	n, err := l.client.Exists(ctx, l.key(campaignID)).Result()
	if err != nil {
		return false, fmt.Errorf("check lease for campaign %d: %w", campaignID, err)
	}
	return n > 0, nil
}

func (l *RedisLease) token(campaignID int) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	t, ok := l.tokens[campaignID]
	return t, ok
}

var (
	_ Lease = NoopLease{}
	_ Lease = (*RedisLease)(nil)
)
