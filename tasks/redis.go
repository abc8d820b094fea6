package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	qerrors "github.com/vinayprograms/replyqueue/errors"
	"github.com/vinayprograms/replyqueue/logging"
)

// RedisStore keeps tasks in Redis with the same state machine as FileStore.
//
// Keys (prefix omitted):
//
//	task:<account>__<id>     pending record
//	taking:<account>__<id>   claimed record
//	pending:<account>        ZSET of pending base names scored by created_at
//	partitions               SET of accounts that ever had a task
//
// A Lua script plays the role of the filesystem rename: it moves the record
// only if the source exists and the destination does not, and updates the
// index in the same step. A missing source is how a losing claimant finds
// out.
type RedisStore struct {
	rdb      *redis.Client
	prefix   string
	selector Selector
	logger   *logging.Logger
	now      func() time.Time
}

// createScript stores a pending record only if neither state exists and
// indexes it in the same step.
var createScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[2]) == 1 then
  return 0
end
if redis.call("SETNX", KEYS[1], ARGV[1]) == 0 then
  return 0
end
redis.call("ZADD", KEYS[3], ARGV[2], ARGV[3])
redis.call("SADD", KEYS[4], ARGV[4])
return 1
`)

// claimScript moves a pending record to its claimed key and drops it from
// the index in the same step. A missing source is a lost race; its index
// entry, if any, is stale and goes too. An existing claimed twin is never
// overwritten.
var claimScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
  redis.call("ZREM", KEYS[3], ARGV[1])
  return 0
end
if redis.call("EXISTS", KEYS[2]) == 1 then
  return 0
end
redis.call("RENAME", KEYS[1], KEYS[2])
redis.call("ZREM", KEYS[3], ARGV[1])
return 1
`)

// requeueScript is the reverse of claimScript: -1 when the claimed record is
// gone, 0 when a pending twin is in the way, 1 when moved and indexed.
var requeueScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
  return -1
end
if redis.call("EXISTS", KEYS[2]) == 1 then
  return 0
end
redis.call("RENAME", KEYS[1], KEYS[2])
redis.call("ZADD", KEYS[3], ARGV[1], ARGV[2])
return 1
`)

// NewRedisStore returns a store over rdb after checking connectivity.
func NewRedisStore(ctx context.Context, rdb *redis.Client, opts ...Option) (*RedisStore, error) {
	if rdb == nil {
		return nil, qerrors.InvalidInput("redis client required")
	}
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, qerrors.Storage("ping redis", err)
	}
	o := applyOptions(opts)
	return &RedisStore{
		rdb:      rdb,
		prefix:   o.prefix,
		selector: NewSelector(o.window),
		logger:   o.logger,
		now:      o.now,
	}, nil
}

func (s *RedisStore) pendingKey(base string) string { return s.prefix + "task:" + base }
func (s *RedisStore) claimedKey(base string) string { return s.prefix + "taking:" + base }
func (s *RedisStore) indexKey(partition string) string { return s.prefix + "pending:" + partition }
func (s *RedisStore) partitionsKey() string { return s.prefix + "partitions" }

// Create stores the task if neither its pending nor claimed key exists.
func (s *RedisStore) Create(ctx context.Context, task Task, opts ...CreateOption) (*Task, error) {
	cfg := applyCreateOptions(opts)
	t, err := prepare(task, cfg, s.now())
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(t)
	if err != nil {
		return nil, qerrors.Internal("encode task", qerrors.WithCause(err))
	}

	base := baseName(t.Partition, t.ID)
	keys := []string{s.pendingKey(base), s.claimedKey(base), s.indexKey(t.Partition), s.partitionsKey()}
	created, err := createScript.Run(ctx, s.rdb, keys, data, t.CreatedAt.UnixNano(), base, t.Partition).Int()
	if err != nil {
		return nil, s.wrap(err, "create task")
	}
	if created == 0 {
		s.logger.TaskDuplicate(t.Partition, base)
		return nil, qerrors.AlreadyExists("task already exists", qerrors.WithTaskID(t.ID))
	}

	s.logger.TaskCreated(t.ID, t.Partition, base)
	return t, nil
}

// pending reads the index of one partition, or of all when partition is "".
func (s *RedisStore) pending(ctx context.Context, partition string) ([]Candidate, error) {
	partitions := []string{partition}
	if partition == "" {
		all, err := s.rdb.SMembers(ctx, s.partitionsKey()).Result()
		if err != nil {
			return nil, s.wrap(err, "list partitions")
		}
		sort.Strings(all)
		partitions = all
	}

	var out []Candidate
	for _, p := range partitions {
		members, err := s.rdb.ZRangeWithScores(ctx, s.indexKey(p), 0, -1).Result()
		if err != nil {
			return nil, s.wrap(err, "read pending index")
		}
		for _, m := range members {
			base, ok := m.Member.(string)
			if !ok {
				continue
			}
			out = append(out, Candidate{
				Key:       base,
				Partition: p,
				CreatedAt: time.Unix(0, int64(m.Score)).UTC(),
			})
		}
	}
	return out, nil
}

// Claim renames the first winnable candidate to its claimed key.
func (s *RedisStore) Claim(ctx context.Context, partition string) (*Claim, error) {
	if partition != "" {
		partition = SanitizePartition(partition)
	}
	pending, err := s.pending(ctx, partition)
	if err != nil {
		return nil, err
	}
	candidates := s.selector.Select(pending, partition)

	var lastErr error
	for _, c := range candidates {
		keys := []string{s.pendingKey(c.Key), s.claimedKey(c.Key), s.indexKey(c.Partition)}
		won, err := claimScript.Run(ctx, s.rdb, keys, c.Key).Int()
		if err != nil {
			lastErr = err
			continue
		}
		if won == 0 {
			s.logger.ClaimRace(c.Key, nil)
			continue
		}

		lock := c.Key + claimedSuffix
		task, err := s.read(ctx, s.claimedKey(c.Key), lock)
		if err != nil {
			s.logger.Error("claimed task unreadable", map[string]interface{}{
				"lock":  lock,
				"error": err,
			})
			continue
		}
		s.logger.TaskClaimed(lock, c.Partition, len(candidates))
		return &Claim{Task: task, Lock: lock}, nil
	}

	if lastErr != nil {
		return nil, s.wrap(lastErr, "claim task")
	}
	s.logger.NoTask(partition, len(candidates))
	return nil, qerrors.NoTask()
}

func (s *RedisStore) read(ctx context.Context, key, lock string) (*Task, error) {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, qerrors.NotFound("task not found", qerrors.WithLock(lock))
		}
		return nil, s.wrap(err, "read task", qerrors.WithLock(lock))
	}
	var t Task
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, qerrors.Corruption("decode task", err, qerrors.WithLock(lock))
	}
	return &t, nil
}

func lockBase(lock string) (string, string, error) {
	if _, err := ParseLock(lock); err != nil {
		return "", "", err
	}
	partition, _, _, _ := ParseKey(lock)
	return strings.TrimSuffix(lock, claimedSuffix), partition, nil
}

// Get reads the claimed task behind lock.
func (s *RedisStore) Get(ctx context.Context, lock string) (*Task, error) {
	base, _, err := lockBase(lock)
	if err != nil {
		return nil, err
	}
	return s.read(ctx, s.claimedKey(base), lock)
}

// Finalize deletes the claimed record. Missing records are not an error.
func (s *RedisStore) Finalize(ctx context.Context, lock string) error {
	base, partition, err := lockBase(lock)
	if err != nil {
		return err
	}
	pipe := s.rdb.TxPipeline()
	del := pipe.Del(ctx, s.claimedKey(base))
	// Drops an index entry left behind by a claim that died mid-way.
	pipe.ZRem(ctx, s.indexKey(partition), base)
	if _, err := pipe.Exec(ctx); err != nil {
		return s.wrap(err, "delete claimed task", qerrors.WithLock(lock))
	}
	s.logger.TaskFinalized(lock, del.Val() > 0)
	return nil
}

// Requeue moves the claimed record back and restores its index entry with
// the original created_at score.
func (s *RedisStore) Requeue(ctx context.Context, lock string) error {
	base, partition, err := lockBase(lock)
	if err != nil {
		return err
	}
	task, err := s.read(ctx, s.claimedKey(base), lock)
	if err != nil {
		if qerrors.Is(err, qerrors.ErrCodeNotFound) {
			s.logger.TaskRequeued(lock, false)
			return nil
		}
		return err
	}

	keys := []string{s.claimedKey(base), s.pendingKey(base), s.indexKey(partition)}
	moved, err := requeueScript.Run(ctx, s.rdb, keys, task.CreatedAt.UnixNano(), base).Int()
	if err != nil {
		return s.wrap(err, "requeue claimed task", qerrors.WithLock(lock))
	}
	switch moved {
	case -1:
		s.logger.TaskRequeued(lock, false)
		return nil
	case 0:
		return qerrors.Storage("requeue claimed task", errors.New("pending record already present"), qerrors.WithLock(lock))
	}
	s.logger.TaskRequeued(lock, true)
	return nil
}

// List reports pending tasks from the index and claimed tasks from a key
// scan. Keys are reported in file-name form so both backends list alike.
func (s *RedisStore) List(ctx context.Context) (*Listing, error) {
	pending, err := s.pending(ctx, "")
	if err != nil {
		return nil, err
	}

	var entries []Entry
	var names []string
	for _, c := range pending {
		partition, id, _, ok := ParseKey(c.Key + pendingSuffix)
		if !ok {
			continue
		}
		key := c.Key + pendingSuffix
		names = append(names, key)
		entries = append(entries, Entry{Key: key, Partition: partition, ID: id, State: StatePending, CreatedAt: c.CreatedAt})
	}

	claimedPrefix := s.claimedKey("")
	iter := s.rdb.Scan(ctx, 0, claimedPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		base := strings.TrimPrefix(iter.Val(), claimedPrefix)
		lock := base + claimedSuffix
		partition, id, _, ok := ParseKey(lock)
		if !ok {
			continue
		}
		e := Entry{Key: lock, Partition: partition, ID: id, State: StateClaimed}
		if t, err := s.read(ctx, iter.Val(), lock); err == nil {
			e.CreatedAt = t.CreatedAt
		}
		names = append(names, lock)
		entries = append(entries, e)
	}
	if err := iter.Err(); err != nil {
		return nil, s.wrap(err, "scan claimed tasks")
	}

	sort.Strings(names)
	return buildListing(entries, names), nil
}

// Close closes the Redis client.
func (s *RedisStore) Close() error {
	return s.rdb.Close()
}

func (s *RedisStore) wrap(err error, msg string, opts ...qerrors.Option) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return qerrors.Wrap(err, msg, opts...)
	}
	return qerrors.Storage(msg, err, opts...)
}

var _ Store = (*RedisStore)(nil)
