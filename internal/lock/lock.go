// Package lock is a Redis lease lock keyed by issue id.
//
// The lease is not renewed and carries no fencing token: a holder that
// outlives its TTL can overlap with the next holder. Processing is kept well
// under the TTL and the pending-status check makes a late duplicate a no-op.
package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

type Locker interface {
	Acquire(ctx context.Context, issueID int64, owner string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, issueID int64, owner string) (bool, error)
}

// releaseScript deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type RedisLock struct {
	client *redis.Client
	prefix string
}

func NewRedisLock(client *redis.Client, prefix string) *RedisLock {
	return &RedisLock{client: client, prefix: prefix}
}

func (l *RedisLock) Key(issueID int64) string {
	return fmt.Sprintf("%s:lock:issue:%d", l.prefix, issueID)
}

// NewOwnerToken returns a token unique to one processing attempt.
func NewOwnerToken(workerID string) string {
	return workerID + ":" + uuid.NewString()
}

// Acquire sets the lease with SET NX PX. false means another owner holds it.
func (l *RedisLock) Acquire(ctx context.Context, issueID int64, owner string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return false, fmt.Errorf("lock ttl must be positive, got %s", ttl)
	}
	ok, err := l.client.SetNX(ctx, l.Key(issueID), owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquiring lock for issue %d: %w", issueID, err)
	}
	return ok, nil
}

// Release reports false when the lease had expired or belongs to someone else.
func (l *RedisLock) Release(ctx context.Context, issueID int64, owner string) (bool, error) {
	n, err := releaseScript.Run(ctx, l.client, []string{l.Key(issueID)}, owner).Int64()
	if err != nil {
		return false, fmt.Errorf("releasing lock for issue %d: %w", issueID, err)
	}
	if n == 0 {
		slog.WarnContext(ctx, "lock release skipped, lease no longer ours",
			"issue_id", issueID)
	}
	return n == 1, nil
}

// Owner returns the current holder token, or "" when unlocked.
func (l *RedisLock) Owner(ctx context.Context, issueID int64) (string, error) {
	v, err := l.client.Get(ctx, l.Key(issueID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading lock for issue %d: %w", issueID, err)
	}
	return v, nil
}
