package queue

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/Vaayujeet/encore/pkg/log"
)

// releaseScript deletes the lock key only when the caller still holds
// it, so a lock that expired and was re-acquired by someone else is not
// stolen back.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// Locker hands out named distributed locks.
type Locker struct {
	rdb *redis.Client
}

// NewLocker builds a locker over an open client.
func NewLocker(rdb *redis.Client) *Locker {
	return &Locker{rdb: rdb}
}

// Lock is one held lock.
type Lock struct {
	rdb   *redis.Client
	key   string
	token string
}

// Acquire takes a named lock with a lease. The second return is false
// when another holder has it.
func (l *Locker) Acquire(ctx context.Context, name string, lease time.Duration) (*Lock, bool, error) {
	key := "encore:lock:" + name
	token := uuid.NewString()
	ok, err := l.rdb.SetNX(ctx, key, token, lease).Result()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	return &Lock{rdb: l.rdb, key: key, token: token}, true, nil
}

// Release frees the lock. A lock whose lease already expired is logged
// and otherwise ignored; the job it protected simply ran long.
func (lk *Lock) Release(ctx context.Context) error {
	deleted, err := releaseScript.Run(ctx, lk.rdb, []string{lk.key}, lk.token).Int()
	if err != nil {
		return err
	}
	if deleted == 0 {
		log.Logger.Warn().Str("lock", lk.key).Msg("lock lease expired before release")
	}
	return nil
}
