package worker

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nimburion/queuevisor/pkg/testutil"
)

func TestFormatAndParseSample(t *testing.T) {
	at := time.Unix(1700000000, 0)
	raw := FormatSample(at, 52428800)
	if raw != "1700000000:52428800" {
		t.Fatalf("FormatSample() = %q", raw)
	}
	sample, err := ParseSample(raw)
	if err != nil {
		t.Fatalf("ParseSample() error = %v", err)
	}
	if !sample.At.Equal(at) || sample.Bytes != 52428800 {
		t.Fatalf("ParseSample() = %+v", sample)
	}
}

func TestParseSample_Malformed(t *testing.T) {
	for _, raw := range []string{"", "1700000000", "abc:1", "1700000000:-5", "1:2:3"} {
		if _, err := ParseSample(raw); err == nil {
			t.Fatalf("expected error for %q", raw)
		}
	}
}

func TestStatsKey(t *testing.T) {
	if got := StatsKey("", "emails"); got != "queue:stats:emails" {
		t.Fatalf("StatsKey() = %q", got)
	}
	if got := StatsKey("app:stats:", "emails"); got != "app:stats:emails" {
		t.Fatalf("StatsKey() with prefix = %q", got)
	}
}

func TestProcessMemory(t *testing.T) {
	if ProcessMemory() == 0 {
		t.Fatal("expected a non-zero memory reading")
	}
}

func TestNewRedisStatsSink_Validation(t *testing.T) {
	if _, err := NewRedisStatsSink(""); err == nil {
		t.Fatal("expected error for empty URL")
	}
	if _, err := NewRedisStatsSink("://bad"); err == nil {
		t.Fatal("expected error for malformed URL")
	}
}

func TestRedisStatsSink_Integration(t *testing.T) {
	url := testutil.StartRedis(t)
	ctx := context.Background()

	sink, err := NewRedisStatsSink(url)
	if err != nil {
		t.Fatalf("NewRedisStatsSink() error = %v", err)
	}
	defer sink.Close()

	key := StatsKey("", "emails")
	for i := 0; i < 5; i++ {
		if err := sink.Append(ctx, key, FormatSample(time.Unix(int64(1700000000+i), 0), uint64(i)), 3); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}

	opts, _ := redis.ParseURL(url)
	client := redis.NewClient(opts)
	defer client.Close()
	length, err := client.LLen(ctx, key).Result()
	if err != nil || length != 3 {
		t.Fatalf("expected list trimmed to 3, got %d (%v)", length, err)
	}

	samples, err := sink.Recent(ctx, key, 10)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(samples) != 3 || samples[0].Bytes != 4 || samples[2].Bytes != 2 {
		t.Fatalf("expected newest first, got %s", fmt.Sprint(samples))
	}

	shared := NewRedisStatsSinkWithClient(client)
	if err := shared.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := client.Ping(ctx).Err(); err != nil {
		t.Fatalf("shared client must stay open, got %v", err)
	}
	if err := shared.Append(ctx, key, "1:1", 3); err == nil {
		t.Fatal("expected error on closed sink")
	}
}
