package redis

import (
	"context"
	"crypto/tls"
	"log"
	"strconv"
	"time"

	"github.com/dkrasov/fieldmark/cache"
	"github.com/dkrasov/fieldmark/models"
	"github.com/redis/go-redis/v9"
)

type RedisFieldmarkCache struct {
	client redis.UniversalClient
}

func NewRedisFieldmarkCache(ctx context.Context, devMode bool, redis_endpoint string) (*RedisFieldmarkCache, error) {
	var client redis.UniversalClient
	if devMode {
		client = redis.NewClient(&redis.Options{
			Addr: redis_endpoint,
		})
	} else {
		client = redis.NewClient(&redis.Options{
			Addr: redis_endpoint,
			// AWS elasticache endpoints require TLS
			TLSConfig: &tls.Config{},
		})
	}

	err := client.Ping(ctx).Err()
	if err != nil {
		return nil, err
	}

	return &RedisFieldmarkCache{client: client}, nil
}

func (redisCache *RedisFieldmarkCache) Publish(ctx context.Context, channel string, message []byte) error {
	if err := redisCache.client.Publish(ctx, channel, message).Err(); err != nil {
		return err
	}
	return nil
}

func (redisCache *RedisFieldmarkCache) Subscribe(ctx context.Context, channel string, handler func(message []byte)) error {
	pubsub := redisCache.client.Subscribe(ctx, channel)
	// Ensure subscription is established
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		log.Printf("Pubsub channel closed: %s", channel)
		return err
	}

	ch := pubsub.Channel()

	go func() {
		defer pubsub.Close()

		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				handler([]byte(msg.Payload))
			}
		}
	}()

	return nil
}

// Helper functions to generate Redis keys with hash tags for cluster compatibility
func buildLockKey(photoId string) string {
	return "lock:{" + photoId + "}"
}

// lockRegistryKey is a single ZSet of photoId scored by lock expiry (unix
// ms). The reaper sweeps it for entries whose lock key already lapsed, so
// a crashed holder still produces a lock_released broadcast.
const lockRegistryKey = "lock:registry"

// Design Choice: Lua for the lock state machine
// Acquire must be atomic across three cases: the lock is free, the lock
// is held by the caller (heartbeat refresh), or the lock is held by
// someone else (denial, reporting the holder). A GET-then-SET from Go
// would race two editors opening the same photo; the script runs the
// whole decision on the server. The script touches a single key so it
// stays valid under Redis Cluster; the registry ZSet is maintained from
// Go afterwards, because the reaper tolerates a stale entry but the lock
// itself may not be taken twice.
var acquireLockScript = redis.NewScript(`
local holder = redis.call('HGET', KEYS[1], 'holder_id')
if holder == false or holder == ARGV[1] then
  redis.call('HSET', KEYS[1], 'holder_id', ARGV[1], 'holder_name', ARGV[2])
  redis.call('PEXPIRE', KEYS[1], ARGV[3])
  return {1, ARGV[1], ARGV[2], tonumber(ARGV[3])}
end
local name = redis.call('HGET', KEYS[1], 'holder_name')
return {0, holder, name, redis.call('PTTL', KEYS[1])}
`)

var releaseLockScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'holder_id') == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

func (redisCache *RedisFieldmarkCache) AcquireLock(ctx context.Context, photoId, userId, userName string, ttl time.Duration) (cache.LockResult, error) {
	key := buildLockKey(photoId)
	raw, err := acquireLockScript.Run(ctx, redisCache.client, []string{key},
		userId, userName, ttl.Milliseconds()).Slice()
	if err != nil {
		return cache.LockResult{}, err
	}
	if len(raw) != 4 {
		return cache.LockResult{}, redis.Nil
	}

	granted := toInt64(raw[0]) == 1
	result := cache.LockResult{
		Granted:    granted,
		HolderId:   toString(raw[1]),
		HolderName: toString(raw[2]),
		ExpiresAt:  time.Now().Add(time.Duration(toInt64(raw[3])) * time.Millisecond),
	}

	if granted {
		// Registry entry for the reaper; score is the expiry deadline.
		err = redisCache.client.ZAdd(ctx, lockRegistryKey, redis.Z{
			Score:  float64(result.ExpiresAt.UnixMilli()),
			Member: photoId,
		}).Err()
		if err != nil {
			log.Printf("Lock registry update for photo %s failed: %v", photoId, err)
		}
	}
	return result, nil
}

func (redisCache *RedisFieldmarkCache) ReleaseLock(ctx context.Context, photoId, userId string) error {
	key := buildLockKey(photoId)
	removed, err := releaseLockScript.Run(ctx, redisCache.client, []string{key}, userId).Int64()
	if err != nil {
		return err
	}
	if removed > 0 {
		if err := redisCache.client.ZRem(ctx, lockRegistryKey, photoId).Err(); err != nil {
			log.Printf("Lock registry removal for photo %s failed: %v", photoId, err)
		}
	}
	return nil
}

func (redisCache *RedisFieldmarkCache) GetLock(ctx context.Context, photoId string) (*models.EditLock, error) {
	key := buildLockKey(photoId)

	pipe := redisCache.client.Pipeline()
	fieldsCmd := pipe.HGetAll(ctx, key)
	ttlCmd := pipe.PTTL(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}

	fields := fieldsCmd.Val()
	if len(fields) == 0 {
		return nil, nil // Not locked
	}
	return &models.EditLock{
		JobMediaId:   photoId,
		LockedBy:     fields["holder_id"],
		LockedByName: fields["holder_name"],
		ExpiresAt:    time.Now().Add(ttlCmd.Val()),
	}, nil
}

func (redisCache *RedisFieldmarkCache) ExpiredLocks(ctx context.Context, now time.Time) ([]string, error) {
	return redisCache.client.ZRangeByScore(ctx, lockRegistryKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
}

func (redisCache *RedisFieldmarkCache) RemoveLockEntry(ctx context.Context, photoId string) error {
	return redisCache.client.ZRem(ctx, lockRegistryKey, photoId).Err()
}

const cacheTTL = 10 * time.Minute

// User Save Count
func (redisCache *RedisFieldmarkCache) IncrementUserSaveCount(ctx context.Context, userId string) (int64, error) {
	key := "user:" + userId + ":save_count"
	count, err := redisCache.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	redisCache.client.Expire(ctx, key, cacheTTL)
	return count, nil
}

func (redisCache *RedisFieldmarkCache) SeedUserSaveCount(ctx context.Context, userId string, count int) error {
	key := "user:" + userId + ":save_count"
	return redisCache.client.SetNX(ctx, key, count, cacheTTL).Err()
}

func (redisCache *RedisFieldmarkCache) GetUserSaveCount(ctx context.Context, userId string) (int, error) {
	key := "user:" + userId + ":save_count"
	val, err := redisCache.client.Get(ctx, key).Int()
	if err != nil {
		if err == redis.Nil {
			return -1, nil // Not found
		}
		return 0, err
	}
	return val, nil
}

// Script replies arrive as []interface{} of int64/string depending on the
// Lua value; normalize both.
func toInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case string:
		out, _ := strconv.ParseInt(n, 10, 64)
		return out
	default:
		return 0
	}
}

func toString(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}
