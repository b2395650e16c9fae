package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nimburion/queuevisor/pkg/observability/logger"
)

const (
	defaultRedisPrefix           = "queuevisor"
	defaultRedisOperationTimeout = 5 * time.Second
	defaultRedisLeaseTTL         = 60 * time.Second
	defaultRedisTransferBatch    = 100
)

var (
	// KEYS: delayed, ready, reserved, attempts. ARGV: now ms, batch, lease deadline ms, job key prefix.
	redisPopScript = redis.NewScript(`
local delayed = KEYS[1]
local ready = KEYS[2]
local reserved = KEYS[3]
local attempts = KEYS[4]
local nowMs = tonumber(ARGV[1])
local batch = tonumber(ARGV[2])
local deadline = tonumber(ARGV[3])
local jobPrefix = ARGV[4]

local due = redis.call("ZRANGEBYSCORE", delayed, "-inf", nowMs, "LIMIT", 0, batch)
for _, id in ipairs(due) do
  redis.call("ZREM", delayed, id)
  redis.call("RPUSH", ready, id)
end

local expired = redis.call("ZRANGEBYSCORE", reserved, "-inf", nowMs, "LIMIT", 0, batch)
for _, id in ipairs(expired) do
  redis.call("ZREM", reserved, id)
  redis.call("RPUSH", ready, id)
end

while true do
  local id = redis.call("LPOP", ready)
  if not id then
    return nil
  end
  local body = redis.call("GET", jobPrefix .. id)
  if body then
    redis.call("ZADD", reserved, deadline, id)
    local count = redis.call("HINCRBY", attempts, id, 1)
    return {id, body, count}
  end
  redis.call("HDEL", attempts, id)
end
`)

	// KEYS: reserved, target list. ARGV: id.
	redisMoveReservedScript = redis.NewScript(`
if redis.call("ZREM", KEYS[1], ARGV[1]) == 0 then
  return 0
end
redis.call("RPUSH", KEYS[2], ARGV[1])
return 1
`)
)

// RedisBackendConfig configures the Redis backend.
type RedisBackendConfig struct {
	URL              string
	Prefix           string
	OperationTimeout time.Duration
	// LeaseTTL bounds how long a popped job stays reserved before it becomes
	// available again.
	LeaseTTL      time.Duration
	TransferBatch int
}

func (c *RedisBackendConfig) normalize() {
	if strings.TrimSpace(c.Prefix) == "" {
		c.Prefix = defaultRedisPrefix
	}
	if c.OperationTimeout <= 0 {
		c.OperationTimeout = defaultRedisOperationTimeout
	}
	if c.LeaseTTL <= 0 {
		c.LeaseTTL = defaultRedisLeaseTTL
	}
	if c.TransferBatch <= 0 {
		c.TransferBatch = defaultRedisTransferBatch
	}
}

// RedisBackend keeps each tube as a ready list of job ids plus delayed,
// reserved and buried structures. Job bodies live under their own key.
type RedisBackend struct {
	client *redis.Client
	log    logger.Logger
	config RedisBackendConfig

	mu     sync.RWMutex
	closed bool
}

// NewRedisBackend connects to Redis and verifies the connection.
func NewRedisBackend(cfg RedisBackendConfig, log logger.Logger) (*RedisBackend, error) {
	if log == nil {
		return nil, errors.New("logger is required")
	}
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("redis url is required")
	}
	cfg.normalize()

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url failed: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.OperationTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis failed: %w", err)
	}

	return newRedisBackendWithClient(client, log, cfg), nil
}

func newRedisBackendWithClient(client *redis.Client, log logger.Logger, cfg RedisBackendConfig) *RedisBackend {
	cfg.normalize()
	return &RedisBackend{client: client, log: log, config: cfg}
}

func (b *RedisBackend) Push(ctx context.Context, tube, name string, payload []byte) (string, error) {
	return b.push(ctx, 0, tube, name, payload)
}

func (b *RedisBackend) PushDelayed(ctx context.Context, delay time.Duration, tube, name string, payload []byte) (string, error) {
	return b.push(ctx, delay, tube, name, payload)
}

func (b *RedisBackend) push(ctx context.Context, delay time.Duration, tube, name string, payload []byte) (string, error) {
	if err := b.ensureOpen(); err != nil {
		return "", err
	}
	env, err := newEnvelope(tube, name, payload)
	if err != nil {
		return "", err
	}
	encoded, err := encodeEnvelope(env)
	if err != nil {
		return "", err
	}

	opCtx, cancel := b.operationContext(ctx)
	defer cancel()
	_, err = b.client.TxPipelined(opCtx, func(pipe redis.Pipeliner) error {
		pipe.Set(opCtx, b.jobKey(env.ID), encoded, 0)
		if delay > 0 {
			pipe.ZAdd(opCtx, b.delayedKey(env.Tube), redis.Z{
				Score:  float64(time.Now().Add(delay).UnixMilli()),
				Member: env.ID,
			})
		} else {
			pipe.RPush(opCtx, b.readyKey(env.Tube), env.ID)
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("push job to redis failed: %w", err)
	}
	recordJobPushed("redis", env.Tube)
	return env.ID, nil
}

// Size counts ready, delayed and reserved jobs of tube.
func (b *RedisBackend) Size(ctx context.Context, tube string) (int64, error) {
	if err := b.ensureOpen(); err != nil {
		return 0, err
	}
	tube, err := validateTube(tube)
	if err != nil {
		return 0, err
	}
	opCtx, cancel := b.operationContext(ctx)
	defer cancel()

	var ready, delayed, reserved *redis.IntCmd
	_, err = b.client.Pipelined(opCtx, func(pipe redis.Pipeliner) error {
		ready = pipe.LLen(opCtx, b.readyKey(tube))
		delayed = pipe.ZCard(opCtx, b.delayedKey(tube))
		reserved = pipe.ZCard(opCtx, b.reservedKey(tube))
		return nil
	})
	if err != nil {
		return 0, err
	}
	return ready.Val() + delayed.Val() + reserved.Val(), nil
}

// Pop promotes due delayed jobs and expired reservations, then reserves the
// head of the ready list.
func (b *RedisBackend) Pop(ctx context.Context, tube string) (Job, error) {
	if err := b.ensureOpen(); err != nil {
		return nil, err
	}
	tube, err := validateTube(tube)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	opCtx, cancel := b.operationContext(ctx)
	result, err := redisPopScript.Run(
		opCtx,
		b.client,
		[]string{b.delayedKey(tube), b.readyKey(tube), b.reservedKey(tube), b.attemptsKey(tube)},
		now.UnixMilli(),
		b.config.TransferBatch,
		now.Add(b.config.LeaseTTL).UnixMilli(),
		b.jobKeyPrefix(),
	).Slice()
	cancel()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(result) != 3 {
		return nil, fmt.Errorf("unexpected pop result length %d", len(result))
	}

	id, _ := result[0].(string)
	body, _ := result[1].(string)
	attempts, _ := result[2].(int64)

	env, err := decodeEnvelope([]byte(body))
	if err != nil {
		b.log.Warn("discarding malformed queued job", "tube", tube, "job_id", id, "error", err)
		_ = b.remove(ctx, tube, id)
		return nil, nil
	}
	env.ID = id
	env.Tube = tube
	env.Attempts = int(attempts)

	return &buriableJob{
		reservedJob: &reservedJob{
			env:       env,
			deleteFn:  func(ctx context.Context) error { return b.remove(ctx, tube, id) },
			releaseFn: func(ctx context.Context) error { return b.moveReserved(ctx, tube, id, b.readyKey(tube)) },
		},
		buryFn: func(ctx context.Context) error { return b.moveReserved(ctx, tube, id, b.buriedKey(tube)) },
	}, nil
}

func (b *RedisBackend) AutoDeletes() bool { return false }

// Buried lists the ids parked on tube's buried list, oldest first.
func (b *RedisBackend) Buried(ctx context.Context, tube string) ([]string, error) {
	if err := b.ensureOpen(); err != nil {
		return nil, err
	}
	opCtx, cancel := b.operationContext(ctx)
	defer cancel()
	return b.client.LRange(opCtx, b.buriedKey(strings.TrimSpace(tube)), 0, -1).Result()
}

// HealthCheck verifies Redis connectivity.
func (b *RedisBackend) HealthCheck(ctx context.Context) error {
	if err := b.ensureOpen(); err != nil {
		return err
	}
	opCtx, cancel := b.operationContext(ctx)
	defer cancel()
	return b.client.Ping(opCtx).Err()
}

// Close closes Redis connections.
func (b *RedisBackend) Close() error {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()
	return b.client.Close()
}

func (b *RedisBackend) remove(ctx context.Context, tube, id string) error {
	opCtx, cancel := b.operationContext(ctx)
	defer cancel()
	_, err := b.client.TxPipelined(opCtx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(opCtx, b.reservedKey(tube), id)
		pipe.HDel(opCtx, b.attemptsKey(tube), id)
		pipe.Del(opCtx, b.jobKey(id))
		return nil
	})
	return err
}

func (b *RedisBackend) moveReserved(ctx context.Context, tube, id, target string) error {
	opCtx, cancel := b.operationContext(ctx)
	defer cancel()
	moved, err := redisMoveReservedScript.Run(opCtx, b.client, []string{b.reservedKey(tube), target}, id).Int()
	if err != nil {
		return err
	}
	if moved == 0 {
		return queueError(ErrNotFound, "job "+id+" is no longer reserved")
	}
	return nil
}

func (b *RedisBackend) ensureOpen() error {
	if b == nil || b.client == nil {
		return errors.New("redis backend is not initialized")
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return queueError(ErrClosed, "redis backend is closed")
	}
	return nil
}

func (b *RedisBackend) operationContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, b.config.OperationTimeout)
}

func (b *RedisBackend) readyKey(tube string) string    { return b.tubeKey(tube, "ready") }
func (b *RedisBackend) delayedKey(tube string) string  { return b.tubeKey(tube, "delayed") }
func (b *RedisBackend) reservedKey(tube string) string { return b.tubeKey(tube, "reserved") }
func (b *RedisBackend) buriedKey(tube string) string   { return b.tubeKey(tube, "buried") }
func (b *RedisBackend) attemptsKey(tube string) string { return b.tubeKey(tube, "attempts") }

func (b *RedisBackend) tubeKey(tube, suffix string) string {
	return b.prefix() + ":tube:" + strings.TrimSpace(tube) + ":" + suffix
}

func (b *RedisBackend) jobKey(id string) string {
	return b.jobKeyPrefix() + strings.TrimSpace(id)
}

func (b *RedisBackend) jobKeyPrefix() string {
	return b.prefix() + ":job:"
}

func (b *RedisBackend) prefix() string {
	return strings.TrimRight(strings.TrimSpace(b.config.Prefix), ":")
}
