package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/yzh317179958/fiido-customer-service/internal/models"
)

const (
	sessionKeyPrefix = "session:"
	statusKeyPrefix  = "status:"
	redisOpTimeout   = 5 * time.Second
)

// RedisStore is the durable session backend: one JSON record per session
// key with a TTL, plus one index set per status value for list_by_status.
//
// There is no cross-process lock here. Concurrent read-modify-write on the
// same key has a narrow race window between the read and the write; the
// takeover engine documents and accepts it (a per-process mutex closes the
// race only within one orchestrator).
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisStore connects and pings; a failed ping is returned to the caller
// so Open can degrade to the memory store.
func NewRedisStore(url string, ttl time.Duration) (*RedisStore, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	opt.DialTimeout = redisOpTimeout
	opt.ReadTimeout = redisOpTimeout
	opt.WriteTimeout = redisOpTimeout
	if opt.PoolSize == 0 {
		opt.PoolSize = 50
	}

	rdb := redis.NewClient(opt)
	ctx, cancel := opCtx()
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{rdb: rdb, ttl: ttl}, nil
}

func opCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), redisOpTimeout)
}

func sessionKey(name string) string {
	return sessionKeyPrefix + name
}

func statusKey(status models.Status) string {
	return statusKeyPrefix + string(status)
}

func (r *RedisStore) Get(name string) (*models.Session, error) {
	ctx, cancel := opCtx()
	defer cancel()

	data, err := r.rdb.Get(ctx, sessionKey(name)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", name, err)
	}

	var s models.Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", name, err)
	}
	return &s, nil
}

func (r *RedisStore) GetOrCreate(name, conversationID string) (*models.Session, error) {
	s, err := r.Get(name)
	if err == nil {
		if conversationID != "" && s.ConversationID != conversationID {
			s.ConversationID = conversationID
			if err := r.Save(s); err != nil {
				return nil, err
			}
		}
		return s, nil
	}
	if err != ErrNotFound {
		return nil, err
	}

	s = models.NewSession(name, conversationID)
	if err := r.Save(s); err != nil {
		return nil, err
	}
	return s, nil
}

// Save writes the record and maintains the status indexes in one
// transactional pipeline: the key joins exactly one status set and leaves
// all others atomically with the status write.
func (r *RedisStore) Save(s *models.Session) error {
	s.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", s.SessionName, err)
	}

	ctx, cancel := opCtx()
	defer cancel()

	pipe := r.rdb.TxPipeline()
	pipe.Set(ctx, sessionKey(s.SessionName), data, r.ttl)
	pipe.SAdd(ctx, statusKey(s.Status), s.SessionName)
	for _, status := range models.AllStatuses() {
		if status != s.Status {
			pipe.SRem(ctx, statusKey(status), s.SessionName)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis save %s: %w", s.SessionName, err)
	}
	return nil
}

func (r *RedisStore) Delete(name string) error {
	ctx, cancel := opCtx()
	defer cancel()

	pipe := r.rdb.TxPipeline()
	pipe.Del(ctx, sessionKey(name))
	for _, status := range models.AllStatuses() {
		pipe.SRem(ctx, statusKey(status), name)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis delete %s: %w", name, err)
	}
	return nil
}

func (r *RedisStore) ListByStatus(status models.Status, limit, offset int) ([]*models.Session, error) {
	ctx, cancel := opCtx()
	defer cancel()

	names, err := r.rdb.SMembers(ctx, statusKey(status)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis smembers %s: %w", status, err)
	}

	var out []*models.Session
	for _, name := range names {
		s, err := r.Get(name)
		if err == ErrNotFound {
			// TTL expired under the index entry; drop the stale member.
			rmCtx, rmCancel := opCtx()
			r.rdb.SRem(rmCtx, statusKey(status), name)
			rmCancel()
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	sortByUpdatedDesc(out)
	return page(out, limit, offset), nil
}

func (r *RedisStore) CountByStatus(status models.Status) (int, error) {
	ctx, cancel := opCtx()
	defer cancel()

	n, err := r.rdb.SCard(ctx, statusKey(status)).Result()
	if err != nil {
		return 0, fmt.Errorf("redis scard %s: %w", status, err)
	}
	return int(n), nil
}

func (r *RedisStore) ListAll(limit, offset int) ([]*models.Session, error) {
	names, err := r.scanSessionNames()
	if err != nil {
		return nil, err
	}

	var out []*models.Session
	for _, name := range names {
		s, err := r.Get(name)
		if err == ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	sortByUpdatedDesc(out)
	return page(out, limit, offset), nil
}

func (r *RedisStore) CountAll() (int, error) {
	names, err := r.scanSessionNames()
	if err != nil {
		return 0, err
	}
	return len(names), nil
}

func (r *RedisStore) ClearAll() (int, error) {
	names, err := r.scanSessionNames()
	if err != nil {
		return 0, err
	}

	ctx, cancel := opCtx()
	defer cancel()

	pipe := r.rdb.TxPipeline()
	for _, name := range names {
		pipe.Del(ctx, sessionKey(name))
	}
	for _, status := range models.AllStatuses() {
		pipe.Del(ctx, statusKey(status))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("redis clear: %w", err)
	}
	return len(names), nil
}

func (r *RedisStore) Stats() (map[models.Status]int, error) {
	stats := make(map[models.Status]int)
	for _, status := range models.AllStatuses() {
		n, err := r.CountByStatus(status)
		if err != nil {
			return nil, err
		}
		if n > 0 {
			stats[status] = n
		}
	}
	return stats, nil
}

// scanSessionNames walks session keys with SCAN to avoid blocking Redis.
func (r *RedisStore) scanSessionNames() ([]string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var names []string
	iter := r.rdb.Scan(ctx, 0, sessionKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		names = append(names, iter.Val()[len(sessionKeyPrefix):])
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan: %w", err)
	}
	return names, nil
}
