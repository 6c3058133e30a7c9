// Package redisbroker implements queue.Broker on Redis sorted sets.
//
// Keys, under a configurable prefix:
//
//	<p>:wait      ZSET  job id -> priority*1e12 + sequence
//	<p>:delayed   ZSET  job id -> unix ms when due
//	<p>:active    ZSET  job id -> unix ms when dequeued
//	<p>:score     HASH  job id -> wait score, kept for re-queueing
//	<p>:job:<id>  STRING envelope JSON
//	<p>:seq, <p>:completed, <p>:failed  counters
package redisbroker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"forgescan/scan-engine/internal/queue"
)

const priorityStride = 1e12

type Options struct {
	Addr     string
	Username string
	Password string
	DB       int
	Prefix   string
	// DialTimeout bounds connection attempts; the probe timeout is applied
	// by the caller.
	DialTimeout time.Duration
}

type Broker struct {
	rdb    *redis.Client
	prefix string
}

var _ queue.Broker = (*Broker)(nil)

func New(opts Options) *Broker {
	if opts.Prefix == "" {
		opts.Prefix = "forgescan"
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 3 * time.Second
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:        opts.Addr,
		Username:    opts.Username,
		Password:    opts.Password,
		DB:          opts.DB,
		DialTimeout: opts.DialTimeout,
		MaxRetries:  1,
	})
	return NewFromClient(rdb, opts.Prefix)
}

func NewFromClient(rdb *redis.Client, prefix string) *Broker {
	return &Broker{rdb: rdb, prefix: prefix + ":queue"}
}

func (b *Broker) key(parts ...string) string {
	return b.prefix + ":" + strings.Join(parts, ":")
}

func (b *Broker) jobKey(id string) string { return b.key("job", id) }

// wrap classifies err. Connection-level failures are wrapped in
// queue.ErrBackendUnavailable.
func wrap(op string, err error) error {
	if err == nil || errors.Is(err, redis.Nil) {
		return nil
	}
	if isConnErr(err) {
		return fmt.Errorf("redis %s: %w: %v", op, queue.ErrBackendUnavailable, err)
	}
	return fmt.Errorf("redis %s: %w", op, err)
}

func isConnErr(err error) bool {
	if errors.Is(err, redis.ErrClosed) || queue.IsConnectionError(err) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return strings.HasPrefix(err.Error(), "LOADING")
}

func (b *Broker) Ping(ctx context.Context) error {
	return wrap("ping", b.rdb.Ping(ctx).Err())
}

func (b *Broker) Enqueue(ctx context.Context, env queue.Envelope) (int64, error) {
	seq, err := b.rdb.Incr(ctx, b.key("seq")).Result()
	if err != nil {
		return 0, wrap("enqueue", err)
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return 0, err
	}
	score := float64(env.Priority)*priorityStride + float64(seq)

	_, err = b.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, b.jobKey(env.ID), raw, 0)
		p.HSet(ctx, b.key("score"), env.ID, strconv.FormatFloat(score, 'f', -1, 64))
		p.ZAdd(ctx, b.key("wait"), redis.Z{Score: score, Member: env.ID})
		return nil
	})
	if err != nil {
		return 0, wrap("enqueue", err)
	}
	pos, err := b.rdb.ZRank(ctx, b.key("wait"), env.ID).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			// already picked up
			return 0, nil
		}
		return 0, wrap("enqueue", err)
	}
	return pos, nil
}

// dequeueScript promotes due delayed jobs and moves the lowest-scored waiting
// job to the active set.
var dequeueScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[2], '-inf', ARGV[1])
for _, id in ipairs(due) do
  redis.call('ZREM', KEYS[2], id)
  local score = redis.call('HGET', KEYS[4], id)
  if score then
    redis.call('ZADD', KEYS[1], score, id)
  end
end
local popped = redis.call('ZRANGE', KEYS[1], 0, 0)
if #popped == 0 then
  return false
end
redis.call('ZREM', KEYS[1], popped[1])
redis.call('ZADD', KEYS[3], ARGV[1], popped[1])
return popped[1]
`)

func (b *Broker) Dequeue(ctx context.Context) (*queue.Envelope, error) {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	keys := []string{b.key("wait"), b.key("delayed"), b.key("active"), b.key("score")}

	id, err := dequeueScript.Run(ctx, b.rdb, keys, now).Text()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, wrap("dequeue", err)
	}
	env, err := b.load(ctx, id)
	if err != nil || env == nil {
		return nil, err
	}
	return env, nil
}

func (b *Broker) load(ctx context.Context, id string) (*queue.Envelope, error) {
	raw, err := b.rdb.Get(ctx, b.jobKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, wrap("load", err)
	}
	var env queue.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode job %s: %w", id, err)
	}
	return &env, nil
}

// retryScript moves an active job to the delayed set, unless it was removed
// in the meantime.
var retryScript = redis.NewScript(`
if redis.call('ZREM', KEYS[1], ARGV[1]) == 0 then
  return 0
end
redis.call('SET', KEYS[3], ARGV[3])
redis.call('ZADD', KEYS[2], ARGV[2], ARGV[1])
return 1
`)

func (b *Broker) Retry(ctx context.Context, env queue.Envelope, delay time.Duration) error {
	raw, err := json.Marshal(env)
	if err != nil {
		return err
	}
	due := strconv.FormatInt(time.Now().Add(delay).UnixMilli(), 10)
	keys := []string{b.key("active"), b.key("delayed"), b.jobKey(env.ID)}
	return wrap("retry", retryScript.Run(ctx, b.rdb, keys, env.ID, due, raw).Err())
}

// finishScript drops an active job and bumps a counter.
var finishScript = redis.NewScript(`
if redis.call('ZREM', KEYS[1], ARGV[1]) == 0 then
  return 0
end
redis.call('DEL', KEYS[2])
redis.call('HDEL', KEYS[3], ARGV[1])
redis.call('INCR', KEYS[4])
return 1
`)

func (b *Broker) finish(ctx context.Context, id, counter string) error {
	keys := []string{b.key("active"), b.jobKey(id), b.key("score"), b.key(counter)}
	return finishScript.Run(ctx, b.rdb, keys, id).Err()
}

func (b *Broker) Complete(ctx context.Context, id string) error {
	return wrap("complete", b.finish(ctx, id, "completed"))
}

func (b *Broker) Fail(ctx context.Context, env queue.Envelope) error {
	return wrap("fail", b.finish(ctx, env.ID, "failed"))
}

var removeScript = redis.NewScript(`
local n = redis.call('ZREM', KEYS[1], ARGV[1]) + redis.call('ZREM', KEYS[2], ARGV[1]) + redis.call('ZREM', KEYS[3], ARGV[1])
if n > 0 then
  redis.call('DEL', KEYS[4])
  redis.call('HDEL', KEYS[5], ARGV[1])
end
return n
`)

func (b *Broker) Remove(ctx context.Context, id string) (bool, error) {
	keys := []string{b.key("wait"), b.key("delayed"), b.key("active"), b.jobKey(id), b.key("score")}
	n, err := removeScript.Run(ctx, b.rdb, keys, id).Int64()
	if err != nil {
		return false, wrap("remove", err)
	}
	return n > 0, nil
}

func (b *Broker) List(ctx context.Context, state queue.JobState) ([]queue.Envelope, error) {
	var set string
	switch state {
	case queue.JobWaiting:
		set = "wait"
	case queue.JobDelayed:
		set = "delayed"
	case queue.JobActive:
		set = "active"
	default:
		return nil, fmt.Errorf("unknown job state %q", state)
	}

	ids, err := b.rdb.ZRange(ctx, b.key(set), 0, -1).Result()
	if err != nil {
		return nil, wrap("list", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = b.jobKey(id)
	}
	vals, err := b.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, wrap("list", err)
	}

	out := make([]queue.Envelope, 0, len(vals))
	for _, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var env queue.Envelope
		if err := json.Unmarshal([]byte(s), &env); err != nil {
			continue
		}
		out = append(out, env)
	}
	return out, nil
}

func (b *Broker) Counts(ctx context.Context) (queue.Counts, error) {
	var (
		wait, active, delayed *redis.IntCmd
		completed, failed     *redis.StringCmd
	)
	_, err := b.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		wait = p.ZCard(ctx, b.key("wait"))
		active = p.ZCard(ctx, b.key("active"))
		delayed = p.ZCard(ctx, b.key("delayed"))
		completed = p.Get(ctx, b.key("completed"))
		failed = p.Get(ctx, b.key("failed"))
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return queue.Counts{}, wrap("counts", err)
	}
	c := queue.Counts{
		Waiting: wait.Val(),
		Active:  active.Val(),
		Delayed: delayed.Val(),
	}
	c.Completed, _ = completed.Int64()
	c.Failed, _ = failed.Int64()
	return c, nil
}

func (b *Broker) Close() error {
	return b.rdb.Close()
}
