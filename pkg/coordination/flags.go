package coordination

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultStopKey    = "queuevisor:stop"
	DefaultRestartKey = "queuevisor:restart"
)

// FlagKeys names the two control flags in the store.
type FlagKeys struct {
	Stop    string
	Restart string
}

func (k *FlagKeys) normalize() {
	if strings.TrimSpace(k.Stop) == "" {
		k.Stop = DefaultStopKey
	}
	if strings.TrimSpace(k.Restart) == "" {
		k.Restart = DefaultRestartKey
	}
}

// Flags implements the stop / restart / restore protocol on top of a Store.
//
// Only the presence of a flag matters; the stored value is the Unix time the
// flag was raised. Stop dominates restart: a stopped system stays stopped
// until Restore, whatever happens to the restart flag.
type Flags struct {
	store Store
	keys  FlagKeys
	now   func() time.Time
}

// NewFlags binds the protocol to store. Empty keys fall back to the defaults.
func NewFlags(store Store, keys FlagKeys) (*Flags, error) {
	if store == nil {
		return nil, errors.New("coordination store is required")
	}
	keys.normalize()
	return &Flags{store: store, keys: keys, now: time.Now}, nil
}

// Keys returns the flag keys in use.
func (f *Flags) Keys() FlagKeys {
	return f.keys
}

// Stop raises the stop flag.
func (f *Flags) Stop(ctx context.Context) error {
	return f.store.Set(ctx, f.keys.Stop, f.timestamp())
}

// Restart raises the restart flag.
func (f *Flags) Restart(ctx context.Context) error {
	return f.store.Set(ctx, f.keys.Restart, f.timestamp())
}

// Restore clears the stop flag only. The restart flag is left untouched.
func (f *Flags) Restore(ctx context.Context) error {
	return f.store.Delete(ctx, f.keys.Stop)
}

// ClearRestart removes the restart flag once every worker has drained.
func (f *Flags) ClearRestart(ctx context.Context) error {
	return f.store.Delete(ctx, f.keys.Restart)
}

// IsStopped reports whether the stop flag is present.
func (f *Flags) IsStopped(ctx context.Context) (bool, error) {
	return f.store.Exists(ctx, f.keys.Stop)
}

// ShouldRestart reports whether the restart flag is present.
func (f *Flags) ShouldRestart(ctx context.Context) (bool, error) {
	return f.store.Exists(ctx, f.keys.Restart)
}

// Draining reports whether workers should finish: stop or restart is raised.
func (f *Flags) Draining(ctx context.Context) (bool, error) {
	stopped, err := f.IsStopped(ctx)
	if err != nil || stopped {
		return stopped, err
	}
	return f.ShouldRestart(ctx)
}

func (f *Flags) timestamp() string {
	return strconv.FormatInt(f.now().Unix(), 10)
}
