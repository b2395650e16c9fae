package queue

import (
	"context"
	"testing"
	"time"

	"github.com/nimburion/queuevisor/pkg/observability/logger"
	"github.com/nimburion/queuevisor/pkg/testutil"
)

func TestSQLBackend_PostgresIntegration(t *testing.T) {
	dsn := testutil.StartPostgres(t)
	ctx := context.Background()

	backend, err := NewSQLBackend(PostgresDialect, SQLBackendConfig{DSN: dsn, LeaseTTL: time.Second}, logger.Nop())
	if err != nil {
		t.Fatalf("NewSQLBackend() error = %v", err)
	}
	defer backend.Close()
	if err := backend.EnsureSchema(ctx); err != nil {
		t.Fatalf("EnsureSchema() error = %v", err)
	}

	id, err := backend.Push(ctx, "mail", "send", []byte(`{"to":"a@b"}`))
	if err != nil {
		t.Fatalf("Push() error = %v", err)
	}

	job, err := backend.Pop(ctx, "mail")
	if err != nil || job == nil {
		t.Fatalf("Pop() = %v, %v", job, err)
	}
	if job.ID() != id || job.Attempts() != 1 {
		t.Fatalf("unexpected job id=%s attempts=%d", job.ID(), job.Attempts())
	}
	if other, _ := backend.Pop(ctx, "mail"); other != nil {
		t.Fatal("reserved job must not be popped twice")
	}

	if err := job.Release(ctx); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	again, err := backend.Pop(ctx, "mail")
	if err != nil || again == nil || again.Attempts() != 2 {
		t.Fatalf("expected released job with 2 attempts, got %v, %v", again, err)
	}
	if err := again.(Burier).Bury(ctx); err != nil {
		t.Fatalf("Bury() error = %v", err)
	}
	if size, _ := backend.Size(ctx, "mail"); size != 0 {
		t.Fatalf("Size() = %d after bury, want 0", size)
	}

	if _, err := backend.PushDelayed(ctx, time.Hour, "mail", "send", nil); err != nil {
		t.Fatalf("PushDelayed() error = %v", err)
	}
	if job, _ := backend.Pop(ctx, "mail"); job != nil {
		t.Fatal("delayed job must not be available yet")
	}
}
