package coordination

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func newTestFlags(t *testing.T) (*Flags, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	flags, err := NewFlags(store, FlagKeys{Stop: "test:stop", Restart: "test:restart"})
	if err != nil {
		t.Fatalf("NewFlags() error = %v", err)
	}
	return flags, store
}

func TestNewFlags_RequiresStore(t *testing.T) {
	if _, err := NewFlags(nil, FlagKeys{}); err == nil {
		t.Fatal("expected error for nil store")
	}
}

func TestNewFlags_DefaultKeys(t *testing.T) {
	flags, err := NewFlags(NewMemoryStore(), FlagKeys{})
	if err != nil {
		t.Fatalf("NewFlags() error = %v", err)
	}
	if flags.Keys().Stop != DefaultStopKey || flags.Keys().Restart != DefaultRestartKey {
		t.Fatalf("unexpected default keys: %+v", flags.Keys())
	}
}

func TestFlags_StopStoresTimestamp(t *testing.T) {
	flags, store := newTestFlags(t)
	flags.now = func() time.Time { return time.Unix(1700000000, 0) }

	if err := flags.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	value, ok := store.Get("test:stop")
	if !ok || value != "1700000000" {
		t.Fatalf("expected unix timestamp value, got %q (present=%v)", value, ok)
	}
	stopped, err := flags.IsStopped(context.Background())
	if err != nil || !stopped {
		t.Fatalf("IsStopped() = %v, %v; want true", stopped, err)
	}
}

func TestFlags_RestoreClearsOnlyStop(t *testing.T) {
	flags, _ := newTestFlags(t)
	ctx := context.Background()

	if err := flags.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if err := flags.Restart(ctx); err != nil {
		t.Fatalf("Restart() error = %v", err)
	}
	if err := flags.Restore(ctx); err != nil {
		t.Fatalf("Restore() error = %v", err)
	}

	stopped, _ := flags.IsStopped(ctx)
	restart, _ := flags.ShouldRestart(ctx)
	if stopped {
		t.Fatal("expected stop flag cleared by restore")
	}
	if !restart {
		t.Fatal("expected restart flag untouched by restore")
	}
}

func TestFlags_Draining(t *testing.T) {
	tests := []struct {
		name    string
		stop    bool
		restart bool
		want    bool
	}{
		{name: "idle", want: false},
		{name: "stopped", stop: true, want: true},
		{name: "restart requested", restart: true, want: true},
		{name: "both", stop: true, restart: true, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flags, _ := newTestFlags(t)
			ctx := context.Background()
			if tt.stop {
				_ = flags.Stop(ctx)
			}
			if tt.restart {
				_ = flags.Restart(ctx)
			}
			got, err := flags.Draining(ctx)
			if err != nil {
				t.Fatalf("Draining() error = %v", err)
			}
			if got != tt.want {
				t.Fatalf("Draining() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFlags_ClearRestart(t *testing.T) {
	flags, _ := newTestFlags(t)
	ctx := context.Background()
	_ = flags.Restart(ctx)
	if err := flags.ClearRestart(ctx); err != nil {
		t.Fatalf("ClearRestart() error = %v", err)
	}
	if restart, _ := flags.ShouldRestart(ctx); restart {
		t.Fatal("expected restart flag cleared")
	}
	if err := flags.ClearRestart(ctx); err != nil {
		t.Fatalf("clearing an absent flag should succeed, got %v", err)
	}
}

func TestFlags_WriteFailureIsReported(t *testing.T) {
	flags, store := newTestFlags(t)
	store.FailWrites = errors.New("connection refused")

	err := flags.Stop(context.Background())
	if !errors.Is(err, ErrWrite) {
		t.Fatalf("expected ErrWrite, got %v", err)
	}
	if stopped, _ := flags.IsStopped(context.Background()); stopped {
		t.Fatal("failed write must not raise the flag")
	}
}

func TestProperty_StopRestoreRoundTrip(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("stop then restore leaves flag reads as before", prop.ForAll(
		func(restartRaised bool, stops int) bool {
			flags, err := NewFlags(NewMemoryStore(), FlagKeys{})
			if err != nil {
				return false
			}
			ctx := context.Background()
			if restartRaised {
				_ = flags.Restart(ctx)
			}
			beforeStopped, _ := flags.IsStopped(ctx)
			beforeRestart, _ := flags.ShouldRestart(ctx)

			for i := 0; i < stops; i++ {
				if err := flags.Stop(ctx); err != nil {
					return false
				}
			}
			if err := flags.Restore(ctx); err != nil {
				return false
			}

			afterStopped, _ := flags.IsStopped(ctx)
			afterRestart, _ := flags.ShouldRestart(ctx)
			return beforeStopped == afterStopped && beforeRestart == afterRestart
		},
		gen.Bool(),
		gen.IntRange(1, 5),
	))

	properties.TestingRun(t)
}
