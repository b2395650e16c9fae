package queue

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	env         Envelope
	availableAt time.Time
}

type memoryTube struct {
	pending  []memoryEntry
	reserved map[string]Envelope
	buried   []Envelope
}

// MemoryBackend keeps tubes in process memory. It cannot be shared between
// the supervisor and its workers and serves embedding and tests.
type MemoryBackend struct {
	mu     sync.Mutex
	tubes  map[string]*memoryTube
	now    func() time.Time
	closed bool
}

// NewMemoryBackend returns an empty MemoryBackend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{tubes: map[string]*memoryTube{}, now: time.Now}
}

func (b *MemoryBackend) Push(ctx context.Context, tube, name string, payload []byte) (string, error) {
	return b.PushDelayed(ctx, 0, tube, name, payload)
}

func (b *MemoryBackend) PushDelayed(_ context.Context, delay time.Duration, tube, name string, payload []byte) (string, error) {
	env, err := newEnvelope(tube, name, payload)
	if err != nil {
		return "", err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return "", queueError(ErrClosed, "memory backend is closed")
	}
	t := b.tubeLocked(env.Tube)
	t.pending = append(t.pending, memoryEntry{env: env, availableAt: b.now().Add(delay)})
	recordJobPushed("memory", env.Tube)
	return env.ID, nil
}

// Size counts pending and reserved jobs.
func (b *MemoryBackend) Size(_ context.Context, tube string) (int64, error) {
	tube, err := validateTube(tube)
	if err != nil {
		return 0, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	t := b.tubeLocked(tube)
	return int64(len(t.pending) + len(t.reserved)), nil
}

func (b *MemoryBackend) Pop(_ context.Context, tube string) (Job, error) {
	tube, err := validateTube(tube)
	if err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, queueError(ErrClosed, "memory backend is closed")
	}
	t := b.tubeLocked(tube)
	now := b.now()
	for i, entry := range t.pending {
		if entry.availableAt.After(now) {
			continue
		}
		t.pending = append(t.pending[:i], t.pending[i+1:]...)
		env := entry.env
		env.Attempts++
		t.reserved[env.ID] = env
		return b.reservedJob(tube, env), nil
	}
	return nil, nil
}

func (b *MemoryBackend) reservedJob(tube string, env Envelope) Job {
	id := env.ID
	return &buriableJob{
		reservedJob: &reservedJob{
			env: env,
			deleteFn: func(context.Context) error {
				b.mu.Lock()
				defer b.mu.Unlock()
				delete(b.tubeLocked(tube).reserved, id)
				return nil
			},
			releaseFn: func(context.Context) error {
				b.mu.Lock()
				defer b.mu.Unlock()
				t := b.tubeLocked(tube)
				current, ok := t.reserved[id]
				if !ok {
					return queueError(ErrNotFound, "job "+id+" is no longer reserved")
				}
				delete(t.reserved, id)
				t.pending = append(t.pending, memoryEntry{env: current, availableAt: b.now()})
				return nil
			},
		},
		buryFn: func(context.Context) error {
			b.mu.Lock()
			defer b.mu.Unlock()
			t := b.tubeLocked(tube)
			current, ok := t.reserved[id]
			if !ok {
				return queueError(ErrNotFound, "job "+id+" is no longer reserved")
			}
			delete(t.reserved, id)
			t.buried = append(t.buried, current)
			return nil
		},
	}
}

// Buried returns the ids of buried jobs on tube, oldest first.
func (b *MemoryBackend) Buried(tube string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	t := b.tubeLocked(tube)
	ids := make([]string, 0, len(t.buried))
	for _, env := range t.buried {
		ids = append(ids, env.ID)
	}
	return ids
}

func (b *MemoryBackend) AutoDeletes() bool { return false }

func (b *MemoryBackend) HealthCheck(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return queueError(ErrClosed, "memory backend is closed")
	}
	return nil
}

func (b *MemoryBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

func (b *MemoryBackend) tubeLocked(tube string) *memoryTube {
	t, ok := b.tubes[tube]
	if !ok {
		t = &memoryTube{reserved: map[string]Envelope{}}
		b.tubes[tube] = t
	}
	return t
}
