package recon

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// AccountRunLock keeps at most one bulk run per account alive across
// processes using a redis SET NX with TTL. Distinct accounts are independent
// partitions and may run concurrently.
type AccountRunLock struct {
	client *redis.Client
	ttl    time.Duration
}

// NewAccountRunLock builds the lock. ttl bounds how long a crashed run can
// keep an account blocked.
func NewAccountRunLock(client *redis.Client, ttl time.Duration) *AccountRunLock {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &AccountRunLock{client: client, ttl: ttl}
}

func bulkRunLockKey(accountID int64) string {
	return fmt.Sprintf("treasury:recon:account:%d:bulk", accountID)
}

// Acquire claims the account. A held lock surfaces as ErrBusy; redis
// failures surface as ErrDataUnavailable.
func (l *AccountRunLock) Acquire(ctx context.Context, accountID int64) (func(), error) {
	key := bulkRunLockKey(accountID)
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: acquire run lock: %v", ErrDataUnavailable, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: bulk run already active for account %d", ErrBusy, accountID)
	}
	release := func() {
		// Only delete our own token so an expired-and-reacquired lock is
		// never released by the previous holder.
		const script = `if redis.call("get", KEYS[1]) == ARGV[1] then return redis.call("del", KEYS[1]) else return 0 end`
		_ = l.client.Eval(context.Background(), script, []string{key}, token).Err()
	}
	return release, nil
}
