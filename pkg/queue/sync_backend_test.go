package queue

import (
	"context"
	"errors"
	"testing"
)

func TestSyncBackend_RunsHandlerOnPush(t *testing.T) {
	handlers := NewHandlers()
	var seen Job
	_ = handlers.Register("send", func(_ context.Context, job Job) error {
		seen = job
		return job.Delete(context.Background())
	})
	b := NewSyncBackend(handlers)

	id, err := b.Push(context.Background(), "mail", "send", []byte("x"))
	if err != nil {
		t.Fatalf("Push() error = %v", err)
	}
	if seen == nil || seen.ID() != id || seen.Attempts() != 1 {
		t.Fatalf("handler did not run with the pushed job: %v", seen)
	}
	if !b.AutoDeletes() {
		t.Fatal("sync backend must report auto deletion")
	}
	if job, err := b.Pop(context.Background(), "mail"); job != nil || err != nil {
		t.Fatalf("Pop() = %v, %v; want nil, nil", job, err)
	}
	if size, _ := b.Size(context.Background(), "mail"); size != 0 {
		t.Fatalf("Size() = %d", size)
	}
}

func TestSyncBackend_ReturnsHandlerError(t *testing.T) {
	handlers := NewHandlers()
	boom := errors.New("boom")
	_ = handlers.Register("send", func(context.Context, Job) error { return boom })
	b := NewSyncBackend(handlers)

	id, err := b.PushDelayed(context.Background(), 0, "mail", "send", nil)
	if !errors.Is(err, boom) {
		t.Fatalf("expected handler error, got %v", err)
	}
	if id == "" {
		t.Fatal("expected job id even when the handler fails")
	}
	if _, err := b.Push(context.Background(), "mail", "missing", nil); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown job, got %v", err)
	}
}
