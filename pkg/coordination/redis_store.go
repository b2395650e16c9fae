package coordination

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nimburion/queuevisor/pkg/observability/logger"
)

const defaultRedisOperationTimeout = 3 * time.Second

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	URL              string
	MaxConns         int
	OperationTimeout time.Duration
}

// RedisStore keeps control flags in Redis.
type RedisStore struct {
	client *redis.Client
	logger logger.Logger
	config RedisConfig

	mu     sync.RWMutex
	closed bool
}

// NewRedisStore connects to Redis and verifies the connection with a ping.
func NewRedisStore(cfg RedisConfig, log logger.Logger) (*RedisStore, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("redis URL is required")
	}
	if log == nil {
		return nil, errors.New("logger is required")
	}
	if cfg.OperationTimeout <= 0 {
		cfg.OperationTimeout = defaultRedisOperationTimeout
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	if cfg.MaxConns > 0 {
		opts.PoolSize = cfg.MaxConns
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = cfg.OperationTimeout
	opts.WriteTimeout = cfg.OperationTimeout

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	log.Debug("coordination store connected", "backend", "redis", "operation_timeout", cfg.OperationTimeout)

	return newRedisStoreWithClient(client, log, cfg), nil
}

func newRedisStoreWithClient(client *redis.Client, log logger.Logger, cfg RedisConfig) *RedisStore {
	if cfg.OperationTimeout <= 0 {
		cfg.OperationTimeout = defaultRedisOperationTimeout
	}
	return &RedisStore{client: client, logger: log, config: cfg}
}

// Client returns the underlying client, shared with the stats sink.
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

// Set stores value under key without expiration.
func (s *RedisStore) Set(ctx context.Context, key, value string) error {
	if err := s.ensureOpen(); err != nil {
		return writeError(key, err)
	}
	opCtx, cancel := s.operationContext(ctx)
	defer cancel()
	if err := s.client.Set(opCtx, key, value, 0).Err(); err != nil {
		return writeError(key, err)
	}
	return nil
}

// Exists reports whether key is present.
func (s *RedisStore) Exists(ctx context.Context, key string) (bool, error) {
	if err := s.ensureOpen(); err != nil {
		return false, readError(key, err)
	}
	opCtx, cancel := s.operationContext(ctx)
	defer cancel()
	n, err := s.client.Exists(opCtx, key).Result()
	if err != nil {
		return false, readError(key, err)
	}
	return n > 0, nil
}

// Delete removes key. Deleting a missing key is not an error.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.ensureOpen(); err != nil {
		return writeError(key, err)
	}
	opCtx, cancel := s.operationContext(ctx)
	defer cancel()
	if err := s.client.Del(opCtx, key).Err(); err != nil {
		return writeError(key, err)
	}
	return nil
}

// HealthCheck verifies the Redis connection is healthy with a timeout
func (s *RedisStore) HealthCheck(ctx context.Context) error {
	if err := s.ensureOpen(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := s.client.Ping(ctx).Err(); err != nil {
		s.logger.Error("Redis health check failed", "error", err)
		return fmt.Errorf("redis health check failed: %w", err)
	}
	return nil
}

// Close closes the Redis connection. Calling it twice is a no-op.
func (s *RedisStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	if err := s.client.Close(); err != nil {
		return fmt.Errorf("failed to close redis connection: %w", err)
	}
	return nil
}

func (s *RedisStore) ensureOpen() error {
	if s == nil || s.client == nil {
		return errors.New("redis store is not initialized")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

func (s *RedisStore) operationContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, s.config.OperationTimeout)
}
