package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shirou/gopsutil/v4/process"
)

// StatsSink stores memory samples of running workers.
type StatsSink interface {
	// Append prepends sample to the list under key and keeps only the
	// newest maxEntries entries.
	Append(ctx context.Context, key, sample string, maxEntries int) error
}

// Sample is one decoded memory sample.
type Sample struct {
	At    time.Time
	Bytes uint64
}

// FormatSample renders a sample as "<unix seconds>:<bytes>".
func FormatSample(at time.Time, bytes uint64) string {
	return strconv.FormatInt(at.Unix(), 10) + ":" + strconv.FormatUint(bytes, 10)
}

// ParseSample decodes a value written by FormatSample.
func ParseSample(raw string) (Sample, error) {
	unix, bytes, ok := strings.Cut(strings.TrimSpace(raw), ":")
	if !ok {
		return Sample{}, fmt.Errorf("malformed stats sample %q", raw)
	}
	seconds, err := strconv.ParseInt(unix, 10, 64)
	if err != nil {
		return Sample{}, fmt.Errorf("malformed stats timestamp %q: %w", unix, err)
	}
	size, err := strconv.ParseUint(bytes, 10, 64)
	if err != nil {
		return Sample{}, fmt.Errorf("malformed stats size %q: %w", bytes, err)
	}
	return Sample{At: time.Unix(seconds, 0), Bytes: size}, nil
}

// StatsKey returns the list key holding the samples of tube.
func StatsKey(prefix, tube string) string {
	if prefix == "" {
		prefix = DefaultStatsKeyPrefix
	}
	return prefix + tube
}

const defaultStatsOperationTimeout = 2 * time.Second

// RedisStatsSink writes samples to Redis lists.
type RedisStatsSink struct {
	client *redis.Client
	owned  bool

	mu     sync.RWMutex
	closed bool
}

// NewRedisStatsSink connects to the Redis instance at url.
func NewRedisStatsSink(url string) (*RedisStatsSink, error) {
	if strings.TrimSpace(url) == "" {
		return nil, errors.New("stats redis URL is required")
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse stats redis URL: %w", err)
	}
	opts.ReadTimeout = defaultStatsOperationTimeout
	opts.WriteTimeout = defaultStatsOperationTimeout

	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to stats redis: %w", err)
	}
	return &RedisStatsSink{client: client, owned: true}, nil
}

// NewRedisStatsSinkWithClient shares an existing client. Close leaves the
// client open.
func NewRedisStatsSinkWithClient(client *redis.Client) *RedisStatsSink {
	return &RedisStatsSink{client: client}
}

func (s *RedisStatsSink) Append(ctx context.Context, key, sample string, maxEntries int) error {
	if err := s.ensureOpen(); err != nil {
		return err
	}
	if maxEntries <= 0 {
		maxEntries = DefaultStatsMaxEntries
	}
	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, key, sample)
		pipe.LTrim(ctx, key, 0, int64(maxEntries-1))
		return nil
	})
	if err != nil {
		return fmt.Errorf("append stats sample to %s: %w", key, err)
	}
	return nil
}

// Recent returns up to limit samples under key, newest first. Entries that
// do not parse are skipped.
func (s *RedisStatsSink) Recent(ctx context.Context, key string, limit int) ([]Sample, error) {
	if err := s.ensureOpen(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultStatsMaxEntries
	}
	values, err := s.client.LRange(ctx, key, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("read stats samples from %s: %w", key, err)
	}
	samples := make([]Sample, 0, len(values))
	for _, value := range values {
		sample, err := ParseSample(value)
		if err != nil {
			continue
		}
		samples = append(samples, sample)
	}
	return samples, nil
}

func (s *RedisStatsSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if !s.owned {
		return nil
	}
	return s.client.Close()
}

func (s *RedisStatsSink) ensureOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errors.New("stats sink is closed")
	}
	return nil
}

// ProcessMemory returns the resident set size of the current process, or
// the bytes obtained from the Go runtime when the process table cannot be
// read.
func ProcessMemory() uint64 {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err == nil {
		if info, err := proc.MemoryInfo(); err == nil && info != nil {
			return info.RSS
		}
	}
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)
	return stats.Sys
}
